package filesystem

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

var (
	ErrFileNotFound = errors.New("filesystem: file not found")
	ErrInvalidPath  = errors.New("filesystem: invalid path")
)

// File is an open file ready for sequential reads. Size is known at open
// time, which lets callers commit a content-length before streaming.
type File interface {
	io.ReadCloser
	Size() int64
}

// Filesystem abstracts the blocking file operations the server needs. Every
// method may block; callers run them on worker goroutines, never on
// connection-serving ones.
type Filesystem interface {
	// Open resolves existence and readability up front: it fails with
	// ErrFileNotFound before a single payload byte is produced.
	Open(path string) (File, error)

	ReadFile(path string) ([]byte, error)
	WriteFile(path string, content []byte) error

	FileExists(path string) (bool, error)
	FileSize(path string) (int64, error)
}

type localFile struct {
	*os.File
	size int64
}

func (file *localFile) Size() int64 {
	return file.size
}

type localFileSystem struct {
}

func NewLocalFileSystem() Filesystem {
	return &localFileSystem{}
}

func (filesystem *localFileSystem) Open(path string) (File, error) {
	if path == "" {
		return nil, ErrInvalidPath
	}

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrFileNotFound
		}
		return nil, err
	}

	info, err := file.Stat()
	if err != nil {
		if closeErr := file.Close(); closeErr != nil {
			slog.Error("closing file after stat error", "error", closeErr)
		}
		return nil, err
	}
	if info.IsDir() {
		if closeErr := file.Close(); closeErr != nil {
			slog.Error("closing directory handle", "error", closeErr)
		}
		return nil, ErrFileNotFound
	}

	return &localFile{File: file, size: info.Size()}, nil
}

func (filesystem *localFileSystem) ReadFile(path string) ([]byte, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrFileNotFound
		}
		return nil, err
	}
	return content, nil
}

func (filesystem *localFileSystem) WriteFile(path string, content []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0770); err != nil {
		return err
	}

	if err := os.WriteFile(path, content, 0644); err != nil {
		return err
	}

	return nil
}

func (filesystem *localFileSystem) FileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}

		return false, err
	}

	return true, nil
}

func (filesystem *localFileSystem) FileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrFileNotFound
		}
		return 0, err
	}
	if info.IsDir() {
		return 0, fmt.Errorf("filesystem: %s is a directory", path)
	}
	return info.Size(), nil
}
