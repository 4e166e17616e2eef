package main

// static int cgoCheck() {
//     return 2;
// }
import "C"
import (
	"fmt"
	"os"
	"unsafe"

	"github.com/turbolite/turbo/internal/cmd"
)

const turboVersion = "0.1.0"

func main() {
	// TODO(gsoltis): remove after verification
	cgoCheck := C.cgoCheck()
	fmt.Printf("CGO Check: %v\n", int(cgoCheck))
	os.Exit(cmd.RunWithArgs(os.Args[1:], turboVersion))
}

//export nativeRunWithArgs
func nativeRunWithArgs(argc C.int, argv **C.char) C.uint {
	arglen := int(argc)
	args := make([]string, arglen)
	for i, arg := range unsafe.Slice(argv, arglen) {
		args[i] = C.GoString(arg)
	}

	exitCode := cmd.RunWithArgs(args, turboVersion)
	return C.uint(exitCode)
}
