// Package fileio is the file-I/O collaborator spec §6 describes as external
// to the patching engine: "immutable memory view over old image, immutable
// memory view over patch, mutable pre-sized buffer for new image". It wraps
// edsrzf/mmap-go exactly as saferwall/pe's file.go does for its own input
// file, plus WriteNew and Remove for the output file; the new image itself
// is built in memory by the applicator.
package fileio

import (
	"os"

	mmap "github.com/edsrzf/mmap-go"
)

// ReadOnlyFile memory-maps a file for read-only, zero-copy access.
type ReadOnlyFile struct {
	f    *os.File
	data mmap.MMap
}

// OpenReadOnly maps name into memory read-only.
func OpenReadOnly(name string) (*ReadOnlyFile, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &ReadOnlyFile{f: f, data: data}, nil
}

// Bytes returns the mapped contents. The slice must not be modified.
func (r *ReadOnlyFile) Bytes() []byte { return r.data }

// Close unmaps and closes the underlying file.
func (r *ReadOnlyFile) Close() error {
	var err error
	if r.data != nil {
		err = r.data.Unmap()
	}
	if r.f != nil {
		if cerr := r.f.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// WriteNew creates (or truncates) name and writes data to it in one shot;
// the patch applicator builds the whole new image in memory first (spec §5:
// "the patch applicator writes into a single pre-sized output buffer"), so
// no partial-I/O handling is needed here.
func WriteNew(name string, data []byte) error {
	return os.WriteFile(name, data, 0o644)
}

// Remove deletes a file, ignoring a not-exist error; apply uses it to
// delete any file already at the output path when applying fails, unless
// -keep is given. A failed apply writes no new image.
func Remove(name string) error {
	err := os.Remove(name)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
