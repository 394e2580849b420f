// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// Write emits the full image buffer to path atomically: it writes to a
// temporary file in the same directory, fsyncs it, renames it over the
// destination, then fsyncs the directory so the rename itself survives a
// crash. This mirrors the write-temp-then-rename idiom used for signed
// build artifacts elsewhere in the ecosystem.
func (pe *File) Write(path string) error {
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, ".sbsign-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(pe.data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Rename(tmpName, path); err != nil {
		return err
	}

	d, err := os.Open(dir)
	if err != nil {
		// The rename already landed; a failure to fsync the directory entry
		// only weakens the durability guarantee on an unclean shutdown.
		return nil
	}
	defer d.Close()
	_ = unix.Fsync(int(d.Fd()))
	return nil
}

// WriteDetached emits the raw PKCS#7 payload of the index-th certificate
// table entry (without its 8-byte WIN_CERTIFICATE header) to path.
func (pe *File) WriteDetached(index int, path string) error {
	if index < 0 || index >= len(pe.Certificates) {
		return ErrCertIndexOutOfRange
	}
	return os.WriteFile(path, pe.Certificates[index].Content, 0o644)
}
