// Copyright 2025 The go-neware Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package nda reads the legacy flat binary files (.nda) produced by
// Neware BTS control software.
package nda // import "github.com/go-neware/neware/nda"

import (
	"bytes"
	"encoding/binary"
	"math"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/xerrors"

	"github.com/go-neware/neware/bts"
	"github.com/go-neware/neware/internal/mmap"
)

// Magic is the signature opening every legacy nda file.
var Magic = []byte("NEWARE")

const (
	versionOffset = 14   // file version byte
	recordStart   = 1024 // start of the record section (v130)
)

// Read decodes the named nda file.
func Read(fname string, opts ...bts.Option) (*bts.Table, error) {
	h, err := mmap.Open(fname)
	if err != nil {
		return nil, xerrors.Errorf("nda: could not map %q: %w", fname, err)
	}
	defer h.Close()

	return Decode(h.Bytes(), opts...)
}

// Decode decodes a whole nda file held in memory.
func Decode(data []byte, opts ...bts.Option) (*bts.Table, error) {
	cfg := bts.NewConfig(opts...)

	if len(data) <= versionOffset || !bytes.HasPrefix(data, Magic) {
		raw := data
		if len(raw) > len(Magic) {
			raw = raw[:len(Magic)]
		}
		return nil, &bts.UnsupportedVersionError{Container: "nda", Raw: raw}
	}

	version := data[versionOffset]
	cfg.Log.Info("nda file", zap.Uint8("version", version))
	logBTSVersions(data, cfg.Log)

	var (
		recs []bts.Record
		aux  []bts.AuxRecord
		err  error
	)
	switch version {
	case 29:
		recs, aux, err = decode29(data, cfg)
	case 130:
		recs, aux, err = decode130(data, cfg)
	default:
		return nil, &bts.UnsupportedVersionError{Container: "nda", Raw: []byte{version}}
	}
	if err != nil {
		return nil, err
	}

	numbering := cfg.Numbering
	if numbering == bts.NumberingDefault {
		// legacy layouts carry no trustworthy embedded counter.
		numbering = bts.NumberingDerived
	}
	return bts.Assemble(recs, aux, cfg, numbering), nil
}

// logBTSVersions extracts the server and client version strings that
// follow the BTSServer marker, when present.
func logBTSVersions(data []byte, log *zap.Logger) {
	loc := bytes.Index(data, []byte("BTSServer"))
	if loc < 0 || loc+150 > len(data) {
		log.Info("BTS version not found")
		return
	}
	log.Info("BTS versions",
		zap.String("server", cstring(data[loc:loc+50])),
		zap.String("client", cstring(data[loc+100:loc+150])),
	)
}

func decode29(data []byte, cfg *bts.Config) ([]bts.Record, []bts.AuxRecord, error) {
	const stride = 86

	if len(data) >= 156 {
		mass := binary.LittleEndian.Uint32(data[152:156])
		cfg.Log.Info("active mass", zap.Float64("mg", float64(mass)/1000))
	}
	if len(data) >= 2417 {
		logRemarks(data[2317:2417], cfg.Log)
	}

	// The header length varies across builds of the control software:
	// the first record is found by scanning for its marker pattern and
	// validating that a second record follows one stride later.
	identifier := []byte{0x00, 0x00, 0x00, 0x00, 0x55, 0x00}
	header := bytes.Index(data, identifier)
	if header < 0 {
		return nil, nil, xerrors.New("nda: file contains no valid records")
	}
	for header >= 0 && header+4+stride < len(data) &&
		!(data[header+4+stride] == 0x55 && validRecord(data[header+4:header+4+stride])) {
		header = find(data, identifier, header+4)
	}
	if header < 0 {
		return nil, nil, xerrors.New("nda: file contains no valid records")
	}

	dec := bts.NewDecoder(bytes.NewReader(data[header+4:]), bts.LayoutNDA29(), cfg.Log)
	return dec.DecodeAll(nil, nil)
}

// validRecord reports whether p holds a plausible v29 record
// (a non-zero status byte).
func validRecord(p []byte) bool {
	return p[12] != 0
}

func decode130(data []byte, cfg *bts.Config) ([]bts.Record, []bts.AuxRecord, error) {
	if len(data) < recordStart+6 {
		return nil, nil, xerrors.New("nda: file contains no valid records")
	}

	var layout bts.Layout
	identifier := data[recordStart : recordStart+6]
	switch identifier[0] {
	case 0x55:
		// BTS 9.1: the stride is the distance between consecutive
		// record markers.
		next := bytes.Index(data[recordStart+2:], identifier[:2])
		if next < 0 {
			return nil, nil, xerrors.New("nda: file contains no valid records")
		}
		layout = bts.LayoutBTS91(next + 2)
	default:
		layout = bts.LayoutBTS9(identifier)
	}

	dec := bts.NewDecoder(bytes.NewReader(data[recordStart:]), layout, cfg.Log)
	recs, aux, err := dec.DecodeAll(nil, nil)
	if err != nil {
		return nil, nil, err
	}

	logFooter130(data, cfg.Log)
	return recs, aux, nil
}

// footerMark opens the v130 trailer block holding the active mass and
// the test remarks.
var footerMark = []byte{
	0x06, 0x00, 0xf0, 0x1d, 0x81, 0x00, 0x03, 0x00,
	0x61, 0x90, 0x71, 0x90, 0x02, 0x7f, 0xff, 0x00,
}

func logFooter130(data []byte, log *zap.Logger) {
	if len(data) <= recordStart {
		return
	}
	footer := bytes.LastIndex(data[recordStart:], footerMark)
	if footer < 0 {
		return
	}
	blk := data[recordStart+footer+len(footerMark):]
	if len(blk) < 499 {
		return
	}
	blk = blk[:499]

	mass := math.Float64frombits(binary.LittleEndian.Uint64(blk[491:499]))
	log.Info("active mass", zap.Float64("mg", mass))
	logRemarks(blk[363:491], log)
}

func logRemarks(p []byte, log *zap.Logger) {
	s := cstring(p)
	for _, r := range s {
		if r > 0x7f {
			log.Warn("could not decode remarks as ASCII")
			return
		}
	}
	log.Info("remarks", zap.String("text", s))
}

// cstring trims NUL bytes and surrounding blanks from a fixed-width
// field.
func cstring(p []byte) string {
	return strings.TrimSpace(strings.ReplaceAll(string(p), "\x00", ""))
}

func find(data, pat []byte, off int) int {
	if off < 0 || off >= len(data) {
		return -1
	}
	i := bytes.Index(data[off:], pat)
	if i < 0 {
		return -1
	}
	return off + i
}
