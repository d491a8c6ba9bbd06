// Copyright 2025 The go-neware Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bts

import (
	"io"

	"go.uber.org/zap"
	"golang.org/x/xerrors"
)

// Decoder reads fixed-stride BTS records from an underlying data
// source, one stride at a time, according to a byte Layout.
//
// A trailing partial stride is dropped with a logged warning; it never
// fails the decode. An unknown range or status code does.
type Decoder struct {
	r      io.Reader
	layout Layout

	buf []byte
	err error
	log *zap.Logger
}

// NewDecoder creates a decoder reading strides of layout from r.
func NewDecoder(r io.Reader, layout Layout, log *zap.Logger) *Decoder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Decoder{
		r:      r,
		layout: layout,
		buf:    make([]byte, layout.Stride),
		log:    log,
	}
}

// Decode reads strides until the next frame of interest (a data or
// auxiliary record, or the end-of-stream marker), skipping filler.
// It returns io.EOF once the source is exhausted.
func (dec *Decoder) Decode(fr *Frame) error {
	if dec.err != nil {
		return dec.err
	}
	for {
		n, err := io.ReadFull(dec.r, dec.buf)
		switch {
		case err == nil:
			// full stride in hand.
		case xerrors.Is(err, io.EOF):
			dec.err = io.EOF
			return dec.err
		case xerrors.Is(err, io.ErrUnexpectedEOF):
			dec.log.Warn("dropped truncated trailing record",
				zap.String("layout", dec.layout.Name),
				zap.Int("got", n),
				zap.Int("stride", dec.layout.Stride),
			)
			dec.err = io.EOF
			return dec.err
		default:
			dec.err = xerrors.Errorf("bts: could not read %s stride: %w", dec.layout.Name, err)
			return dec.err
		}

		err = dec.layout.Unmarshal(dec.buf, fr)
		if err != nil {
			dec.err = xerrors.Errorf("bts: could not decode %s record: %w", dec.layout.Name, err)
			return dec.err
		}
		switch fr.Kind {
		case KindSkip:
			continue
		case KindEOS:
			dec.err = io.EOF
			return dec.err
		}
		return nil
	}
}

// DecodeAll drains dec, splitting frames into data and auxiliary
// records.
func (dec *Decoder) DecodeAll(recs []Record, aux []AuxRecord) ([]Record, []AuxRecord, error) {
	for {
		var fr Frame
		err := dec.Decode(&fr)
		if err != nil {
			if xerrors.Is(err, io.EOF) {
				return recs, aux, nil
			}
			return nil, nil, err
		}
		switch fr.Kind {
		case KindRecord:
			recs = append(recs, fr.Rec)
		case KindAux:
			aux = append(aux, fr.Aux)
		case KindRecAux:
			recs = append(recs, fr.Rec)
			aux = append(aux, fr.Aux)
		}
	}
}
