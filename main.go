package main

import (
	"os"

	"github.com/turbolite/turbo/internal/cmd"
)

const turboVersion = "0.1.0"

func main() {
	os.Exit(cmd.RunWithArgs(os.Args[1:], turboVersion))
}
