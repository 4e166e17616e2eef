package turbopath

import (
	"io/ioutil"
	"os"
	"path/filepath"
)

// ToStringDuringMigration returns the string representation of this path.
// Named to flag call sites that should eventually be updated to pass
// the typed path instead of a raw string.
func (p AbsoluteSystemPath) ToStringDuringMigration() string {
	return p.ToString()
}

// UntypedJoin appends unchecked path segments to this AbsoluteSystemPath.
func (p AbsoluteSystemPath) UntypedJoin(segments ...string) AbsoluteSystemPath {
	return AbsoluteSystemPath(filepath.Join(append([]string{p.ToString()}, segments...)...))
}

// Dir implements filepath.Dir for an AbsoluteSystemPath.
func (p AbsoluteSystemPath) Dir() AbsoluteSystemPath {
	return AbsoluteSystemPath(filepath.Dir(p.ToString()))
}

// Base implements filepath.Base for an AbsoluteSystemPath.
func (p AbsoluteSystemPath) Base() string {
	return filepath.Base(p.ToString())
}

// Ext implements filepath.Ext for an AbsoluteSystemPath.
func (p AbsoluteSystemPath) Ext() string {
	return filepath.Ext(p.ToString())
}

// Lstat implements os.Lstat for an AbsoluteSystemPath.
func (p AbsoluteSystemPath) Lstat() (os.FileInfo, error) {
	return os.Lstat(p.ToString())
}

// FileExists returns true if the given path exists and is a file.
func (p AbsoluteSystemPath) FileExists() bool {
	info, err := p.Lstat()
	return err == nil && !info.IsDir()
}

// DirExists returns true if this path points to a directory.
func (p AbsoluteSystemPath) DirExists() bool {
	info, err := p.Lstat()
	return err == nil && info.IsDir()
}

// MkdirAll implements os.MkdirAll for an AbsoluteSystemPath.
func (p AbsoluteSystemPath) MkdirAll(mode os.FileMode) error {
	return os.MkdirAll(p.ToString(), mode)
}

// EnsureDir ensures that the directory containing this file has been created.
func (p AbsoluteSystemPath) EnsureDir() error {
	dir := p.Dir()
	err := os.MkdirAll(dir.ToString(), dirPermissions)
	if err != nil && fileExists(dir.ToString()) {
		if err2 := os.Remove(dir.ToString()); err2 == nil {
			err = os.MkdirAll(dir.ToString(), dirPermissions)
		} else {
			return err
		}
	}
	return err
}

// Open implements os.Open for an AbsoluteSystemPath.
func (p AbsoluteSystemPath) Open() (*os.File, error) {
	return os.Open(p.ToString())
}

// Create implements os.Create for an AbsoluteSystemPath.
func (p AbsoluteSystemPath) Create() (*os.File, error) {
	return os.Create(p.ToString())
}

// ReadFile reads the contents of the specified file.
func (p AbsoluteSystemPath) ReadFile() ([]byte, error) {
	return ioutil.ReadFile(p.ToString())
}

// WriteFile writes the contents of the specified file.
func (p AbsoluteSystemPath) WriteFile(contents []byte, mode os.FileMode) error {
	return ioutil.WriteFile(p.ToString(), contents, mode)
}

// Remove removes the file or (empty) directory at the given path.
func (p AbsoluteSystemPath) Remove() error {
	return os.Remove(p.ToString())
}

// RemoveAll implements os.RemoveAll for an AbsoluteSystemPath.
func (p AbsoluteSystemPath) RemoveAll() error {
	return os.RemoveAll(p.ToString())
}

// Symlink implements os.Symlink(target, p) for an AbsoluteSystemPath.
func (p AbsoluteSystemPath) Symlink(target string) error {
	return os.Symlink(target, p.ToString())
}

// Readlink implements os.Readlink for an AbsoluteSystemPath.
func (p AbsoluteSystemPath) Readlink() (string, error) {
	return os.Readlink(p.ToString())
}

// ContainsPath returns true if this absolute path is a parent of the argument.
func (p AbsoluteSystemPath) ContainsPath(other AbsoluteSystemPath) (bool, error) {
	return dirContainsPath(p.ToString(), other.ToString())
}

// EvalSymlinks resolves any symlinks in the path, returning the resolved path.
func (p AbsoluteSystemPath) EvalSymlinks() (AbsoluteSystemPath, error) {
	resolved, err := filepath.EvalSymlinks(p.ToString())
	if err != nil {
		return "", err
	}
	return AbsoluteSystemPath(resolved), nil
}

// Findup walks up from this directory looking for a file with the given name,
// returning the full path to the nearest match. It returns os.ErrNotExist if
// no parent directory contains the requested file.
func (p AbsoluteSystemPath) Findup(filename RelativeSystemPath) (AbsoluteSystemPath, error) {
	found, err := FindupFrom(filename.ToString(), p.ToString())
	if err != nil {
		return "", err
	}
	if found == "" {
		return "", os.ErrNotExist
	}
	return AbsoluteSystemPath(found), nil
}
