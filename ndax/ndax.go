// Copyright 2025 The go-neware Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ndax reads the zip-based containers (.ndax) produced by
// newer generations of Neware BTS control software.
package ndax // import "github.com/go-neware/neware/ndax"

import (
	"archive/zip"
	"bytes"
	"io"
	"regexp"
	"strconv"

	"go.uber.org/zap"
	"golang.org/x/xerrors"

	"github.com/go-neware/neware/bts"
)

// DataEntry is the archive entry holding the primary record stream.
const DataEntry = "data.ndc"

var (
	auxChlRe = regexp.MustCompile(`^data_AUX_([0-9]+)_[0-9]+_[0-9]+\.ndc$`)
	auxIDRe  = regexp.MustCompile(`^.*_([0-9]+)\.ndc$`)
)

// Read decodes the named ndax container.
func Read(fname string, opts ...bts.Option) (*bts.Table, error) {
	zr, err := zip.OpenReader(fname)
	if err != nil {
		return nil, xerrors.Errorf("ndax: could not open %q: %w", fname, err)
	}
	defer zr.Close()

	return Decode(&zr.Reader, opts...)
}

// Decode decodes an opened ndax archive.
func Decode(zr *zip.Reader, opts ...bts.Option) (*bts.Table, error) {
	cfg := bts.NewConfig(opts...)

	files := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		files[f.Name] = f
	}

	meta, auxIDs := readMetadata(files, cfg.Log)

	data, ok := files[DataEntry]
	if !ok {
		return nil, &bts.MissingDataError{Entry: DataEntry}
	}
	buf, err := readEntry(data)
	if err != nil {
		return nil, err
	}
	var (
		recs []bts.Record
		aux  []bts.AuxRecord
	)
	switch {
	case len(buf) > 2 && (buf[2] == 11 || buf[2] == 14):
		recs, err = decodeServer8(files, buf, meta, cfg.Log)
	default:
		recs, aux, err = decodeNDC(buf, cfg.Log)
	}
	if err != nil {
		return nil, err
	}

	aux, err = readAuxEntries(zr, auxIDs, aux, cfg.Log)
	if err != nil {
		return nil, err
	}

	numbering := cfg.Numbering
	if numbering == bts.NumberingDefault {
		numbering = bts.NumberingEmbedded
	}
	tbl := bts.Assemble(recs, aux, cfg, numbering)
	tbl.Meta = meta
	return tbl, nil
}

// readAuxEntries decodes the optional auxiliary channel entries.
// Channel numbers embedded in entry names are remapped through the
// TestInfo channel table when one was present.
func readAuxEntries(zr *zip.Reader, auxIDs map[int]int, aux []bts.AuxRecord, log *zap.Logger) ([]bts.AuxRecord, error) {
	found := false
	for _, f := range zr.File {
		id, ok := auxID(f.Name, auxIDs, log)
		if !ok {
			continue
		}
		found = true

		buf, err := readEntry(f)
		if err != nil {
			return nil, err
		}
		_, recs, err := decodeNDC(buf, log)
		if err != nil {
			return nil, err
		}
		for i := range recs {
			recs[i].Channel = id
		}
		aux = append(aux, recs...)
	}
	if !found && len(aux) == 0 {
		log.Info("no auxiliary channel entries, temperature columns omitted")
	}
	return aux, nil
}

func auxID(name string, auxIDs map[int]int, log *zap.Logger) (int, bool) {
	if m := auxChlRe.FindStringSubmatch(name); m != nil {
		ch, _ := strconv.Atoi(m[1])
		id, ok := auxIDs[ch]
		if !ok {
			log.Warn("auxiliary channel missing from TestInfo mapping",
				zap.String("entry", name),
				zap.Int("channel", ch),
			)
			return ch, true
		}
		return id, true
	}
	if m := auxIDRe.FindStringSubmatch(name); m != nil {
		id, _ := strconv.Atoi(m[1])
		return id, true
	}
	return 0, false
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, xerrors.Errorf("ndax: could not open entry %q: %w", f.Name, err)
	}
	defer rc.Close()

	buf, err := io.ReadAll(rc)
	if err != nil {
		return nil, xerrors.Errorf("ndax: could not read entry %q: %w", f.Name, err)
	}
	return buf, nil
}

// decodeNDC decodes one ndc blob. The layout is keyed by the filetype
// and version bytes of the blob header.
func decodeNDC(buf []byte, log *zap.Logger) ([]bts.Record, []bts.AuxRecord, error) {
	if len(buf) < 3 {
		return nil, nil, &bts.UnsupportedVersionError{Container: "ndc", Raw: buf}
	}
	var (
		filetype = buf[0]
		version  = buf[2]
	)
	log.Debug("ndc entry",
		zap.Uint8("version", version),
		zap.Uint8("filetype", filetype),
	)

	if version == 11 || version == 14 {
		if filetype != 5 {
			return nil, nil, &bts.UnsupportedVersionError{Container: "ndc", Raw: buf[:3]}
		}
		return nil, decodeServer8Aux(buf, version), nil
	}

	layout, err := bts.LayoutNDC(version, filetype)
	if err != nil {
		return nil, nil, err
	}

	switch version {
	case 2:
		return decodeNDCFlat(buf, layout, log)
	default:
		return decodeNDCPaged(buf, layout, log)
	}
}

// ndc v2 entries hold records located by the 8-byte identifier opening
// the record section at offset 517. Records need not be contiguous:
// each one is found by scanning forward for the identifier, so gaps
// between records do not desync the framing.
func decodeNDCFlat(buf []byte, layout bts.Layout, log *zap.Logger) ([]bts.Record, []bts.AuxRecord, error) {
	const (
		header = 517
		idLen  = 8
	)
	if len(buf) < header+idLen {
		return nil, nil, nil
	}
	identifier := buf[header : header+idLen]

	var (
		recs []bts.Record
		aux  []bts.AuxRecord
	)
	for loc := header; ; loc += layout.Stride {
		i := bytes.Index(buf[loc:], identifier)
		if i < 0 {
			break
		}
		loc += i
		if loc+layout.Stride > len(buf) {
			log.Warn("dropped truncated trailing record",
				zap.String("layout", layout.Name),
				zap.Int("got", len(buf)-loc),
				zap.Int("stride", layout.Stride),
			)
			break
		}
		var fr bts.Frame
		err := layout.Unmarshal(buf[loc:loc+layout.Stride], &fr)
		if err != nil {
			return nil, nil, xerrors.Errorf("ndax: could not decode %s record: %w", layout.Name, err)
		}
		switch fr.Kind {
		case bts.KindRecord:
			recs = append(recs, fr.Rec)
		case bts.KindAux:
			aux = append(aux, fr.Aux)
		}
	}
	return recs, aux, nil
}

// ndc v5 and later entries are paged: 4096-byte pages, each carrying
// record cells between a 125-byte page header and a 56-byte trailer.
func decodeNDCPaged(buf []byte, layout bts.Layout, log *zap.Logger) ([]bts.Record, []bts.AuxRecord, error) {
	const (
		pageSize    = 4096
		pageHeader  = 125
		pageTrailer = 56
	)
	var (
		recs []bts.Record
		aux  []bts.AuxRecord
		err  error
	)
	for off := pageSize; off < len(buf); off += pageSize {
		end := off + pageSize
		if end > len(buf) {
			end = len(buf)
		}
		lo := off + pageHeader
		hi := end - pageTrailer
		if hi <= lo {
			continue
		}
		dec := bts.NewDecoder(bytes.NewReader(buf[lo:hi]), layout, log)
		recs, aux, err = dec.DecodeAll(recs, aux)
		if err != nil {
			return nil, nil, err
		}
	}
	return recs, aux, nil
}
