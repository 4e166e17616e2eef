package cacheitem

import (
	"archive/tar"
	"bufio"
	"io"
	"os"
	"strings"
	"time"

	"github.com/DataDog/zstd"

	"github.com/moby/sys/sequential"
	"github.com/turbolite/turbo/internal/tarpatch"
	"github.com/turbolite/turbo/internal/turbopath"
)

// epochTimestamp is stamped onto every tar header field so two caches built
// from identical inputs produce byte-identical archives.
var epochTimestamp = time.Unix(0, 0)

// writeChunkSize is how much archive data accumulates in memory before a
// flush to the underlying file.
const writeChunkSize = 2 << 20

// Create makes a new CacheItem at the specified path.
func Create(path turbopath.AbsoluteSystemPath) (*CacheItem, error) {
	handle, err := path.OpenFile(os.O_WRONLY|os.O_CREATE|os.O_TRUNC|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}

	cacheItem := &CacheItem{
		Path:       path,
		handle:     handle,
		compressed: strings.HasSuffix(path.ToString(), ".zst"),
	}
	cacheItem.wireWriters()
	return cacheItem, nil
}

// wireWriters chains tar.Writer -> [zstd.Writer ->] bufio.Writer -> file
// so every AddFile call streams straight through to disk.
func (ci *CacheItem) wireWriters() {
	buffered := bufio.NewWriterSize(ci.handle, writeChunkSize)

	dest := io.Writer(buffered)
	if ci.compressed {
		zw := zstd.NewWriter(buffered)
		ci.zw = zw
		dest = zw
	}

	ci.tw = tar.NewWriter(dest)
	ci.fileBuffer = buffered
}

// AddFile streams a single file, directory, or symlink into the archive,
// rooted at fsAnchor and addressed within the cache by filePath.
func (ci *CacheItem) AddFile(fsAnchor turbopath.AbsoluteSystemPath, filePath turbopath.AnchoredSystemPath) error {
	sourcePath := filePath.RestoreAnchor(fsAnchor)

	fileInfo, lstatErr := sourcePath.Lstat()
	if lstatErr != nil {
		return lstatErr
	}

	link, linkErr := symlinkTargetIfAny(sourcePath, fileInfo)
	if linkErr != nil {
		return linkErr
	}

	// tarpatch avoids the stdlib header constructor, which errors on types
	// (sockets, devices) we want to reject ourselves via errUnsupportedFileType.
	header, headerErr := tarpatch.FileInfoHeader(filePath.ToUnixPath(), fileInfo, link)
	if headerErr != nil {
		return headerErr
	}
	if !isSupportedArchiveEntry(header.Typeflag) {
		return errUnsupportedFileType
	}
	pinHeaderMetadata(header)

	if err := ci.tw.WriteHeader(header); err != nil {
		return err
	}
	if header.Typeflag == tar.TypeReg && header.Size > 0 {
		return ci.copyFileBody(sourcePath)
	}
	return nil
}

func symlinkTargetIfAny(sourcePath turbopath.AbsoluteSystemPath, fileInfo os.FileInfo) (string, error) {
	if fileInfo.Mode()&os.ModeSymlink == 0 {
		return "", nil
	}
	return sourcePath.Readlink()
}

func isSupportedArchiveEntry(typeflag byte) bool {
	return typeflag == tar.TypeReg || typeflag == tar.TypeDir || typeflag == tar.TypeSymlink
}

func pinHeaderMetadata(header *tar.Header) {
	header.Uid = 0
	header.Gid = 0
	header.AccessTime = epochTimestamp
	header.ModTime = epochTimestamp
	header.ChangeTime = epochTimestamp
}

func (ci *CacheItem) copyFileBody(sourcePath turbopath.AbsoluteSystemPath) error {
	// Windows has a distinct "sequential read" opening mode; this library
	// switches to it automatically there.
	sourceFile, sourceErr := sequential.OpenFile(sourcePath.ToString(), os.O_RDONLY, 0777)
	if sourceErr != nil {
		return sourceErr
	}
	if _, err := io.Copy(ci.tw, sourceFile); err != nil {
		return err
	}
	return sourceFile.Close()
}
