package fs

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/turbolite/turbo/internal/fs/hash"
	"github.com/turbolite/turbo/internal/turbopath"
)

func HashObject(i interface{}) (string, error) {
	hash := sha1.New()

	_, err := hash.Write([]byte(fmt.Sprintf("%v", i)))

	return hex.EncodeToString(hash.Sum(nil)), err
}

func HashFile(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hash := sha1.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}

	return hex.EncodeToString(hash.Sum(nil)), nil
}

// HashTask returns a stable digest for a task's hashable inputs.
func HashTask(task *hash.TaskHashable) (string, error) {
	return hash.HashTaskHashable(task)
}

// HashGlobal returns a stable digest for a run's global hashable inputs.
func HashGlobal(global *hash.GlobalHashable) (string, error) {
	return hash.HashGlobalHashable(global)
}

// HashFileHashes returns a stable digest for a map of repo-relative file
// paths to their content hashes.
func HashFileHashes(fileHashes map[turbopath.AnchoredUnixPath]string) (string, error) {
	return hash.HashFileHashes(fileHashes)
}

// GitLikeHashFile is a function that mimics how Git
// calculates the SHA1 for a file (or, in Git terms, a "blob") (without git)
func GitLikeHashFile(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return "", err
	}
	hash := sha1.New()
	hash.Write([]byte("blob"))
	hash.Write([]byte(" "))
	hash.Write([]byte(strconv.FormatInt(stat.Size(), 10)))
	hash.Write([]byte{0})

	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}

	return hex.EncodeToString(hash.Sum(nil)), nil
}
