package store

import (
	"io/fs"
	"os"
	"path/filepath"
)

// FS is the file-system surface the store writes through. Tests swap it to
// inject failures.
type FS interface {
	ReadFile(name string) ([]byte, error)
	// WriteFile must replace name atomically.
	WriteFile(name string, data []byte) error
	Remove(name string) error
	ReadDir(name string) ([]fs.DirEntry, error)
	MkdirAll(name string) error
	Stat(name string) (fs.FileInfo, error)
}

// OSFS is the real file system.
type OSFS struct{}

func (OSFS) ReadFile(name string) ([]byte, error)       { return os.ReadFile(name) }
func (OSFS) Remove(name string) error                   { return os.Remove(name) }
func (OSFS) ReadDir(name string) ([]fs.DirEntry, error) { return os.ReadDir(name) }
func (OSFS) MkdirAll(name string) error                 { return os.MkdirAll(name, 0o755) }
func (OSFS) Stat(name string) (fs.FileInfo, error)      { return os.Stat(name) }

// WriteFile writes to name.tmp, fsyncs, then renames over name.
func (OSFS) WriteFile(name string, data []byte) error {
	tmp := name + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, name); err != nil {
		os.Remove(tmp)
		return err
	}
	if d, err := os.Open(filepath.Dir(name)); err == nil {
		d.Sync()
		d.Close()
	}
	return nil
}
