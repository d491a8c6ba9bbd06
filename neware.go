// Copyright 2025 The go-neware Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package neware

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/xerrors"

	"github.com/go-neware/neware/bts"
	"github.com/go-neware/neware/nda"
	"github.com/go-neware/neware/ndax"
)

// zipMagic is the local-file signature of a zip archive.
var zipMagic = []byte("PK\x03\x04")

// Read decodes the named nda or ndax file into a table. The container
// kind is identified from the file signature, falling back to the
// file extension; no layout is ever guessed from a partial match.
func Read(fname string, opts ...bts.Option) (*bts.Table, error) {
	lead, err := leadingBytes(fname, 6)
	if err != nil {
		return nil, xerrors.Errorf("neware: could not read %q: %w", fname, err)
	}

	switch {
	case strings.HasPrefix(string(lead), string(zipMagic)):
		return ndax.Read(fname, opts...)
	case strings.HasPrefix(string(lead), string(nda.Magic)):
		return nda.Read(fname, opts...)
	}

	switch strings.ToLower(filepath.Ext(fname)) {
	case ".ndax":
		return ndax.Read(fname, opts...)
	case ".nda":
		return nda.Read(fname, opts...)
	}
	return nil, &bts.UnsupportedVersionError{Container: "nda", Raw: lead}
}

func leadingBytes(fname string, n int) ([]byte, error) {
	f, err := os.Open(fname)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	// short or empty files are not read errors: the dispatcher turns
	// an unrecognizable signature into an UnsupportedVersionError.
	buf := make([]byte, n)
	m, err := io.ReadFull(f, buf)
	if err != nil && !xerrors.Is(err, io.ErrUnexpectedEOF) && !xerrors.Is(err, io.EOF) {
		return nil, err
	}
	return buf[:m], nil
}
