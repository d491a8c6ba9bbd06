// Copyright 2025 The go-neware Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bts

import (
	"bytes"
	"encoding/binary"
	"math"
	"time"
)

// Record stream markers. These byte values discriminate the strides
// interleaved in a BTS record stream and were reverse-engineered from
// vendor files; they are stable across the supported layouts.
const (
	mkRecord  = 0x55 // primary data record
	mkAux     = 0x65 // auxiliary channel record
	mkAuxT    = 0x74 // auxiliary record with a second temperature field
	mkFooter  = 0x81 // end of record stream (nda v130)
	auxStride = 56   // BTS9.1 stride carrying an inline aux reading
)

// A Layout describes one fixed-stride byte layout of a hardware or
// software generation: the record stride and the routine decoding one
// stride into a Frame.
//
// Unmarshal is given exactly Stride bytes. It reports KindSkip for
// filler or foreign strides, and fails only on a range or status code
// missing from the hardware tables.
type Layout struct {
	Name      string
	Stride    int
	Unmarshal func(p []byte, fr *Frame) error
}

// LayoutNDA29 returns the layout of nda version 29 files
// (BTS 7 hardware): 86-byte strides holding 0x55 data records
// interleaved with 0x65 auxiliary records.
func LayoutNDA29() Layout {
	return Layout{
		Name:   "nda-v29",
		Stride: 86,
		Unmarshal: func(p []byte, fr *Frame) error {
			if !allZero(p[82:86]) {
				fr.Kind = KindSkip
				return nil
			}
			switch {
			case p[0] == mkRecord && p[1] == 0x00:
				return unmarshalNDA29(p, fr)
			case p[0] == mkAux:
				unmarshalAuxNDA29(p, fr)
				return nil
			}
			fr.Kind = KindSkip
			return nil
		},
	}
}

func unmarshalNDA29(p []byte, fr *Frame) error {
	var (
		index  = binary.LittleEndian.Uint32(p[2:6])
		cycle  = binary.LittleEndian.Uint32(p[6:10])
		status = p[12]
	)
	// strides with a zero index or status are padding, not records.
	if index == 0 || status == 0 {
		fr.Kind = KindSkip
		return nil
	}

	st, err := StatusOf(status)
	if err != nil {
		return err
	}
	mult, err := lookupRange(int32(binary.LittleEndian.Uint32(p[78:82])))
	if err != nil {
		return err
	}

	rec := &fr.Rec
	rec.Index = index
	rec.Cycle = int(cycle) + 1
	rec.Step = int(binary.LittleEndian.Uint16(p[10:12]))
	rec.Status = st
	rec.Jump = p[13]
	rec.Time = float64(binary.LittleEndian.Uint64(p[14:22])) / 1000
	rec.Voltage = float64(int32(binary.LittleEndian.Uint32(p[22:26]))) / 10000
	rec.Current = float64(int32(binary.LittleEndian.Uint32(p[26:30]))) * mult
	rec.ChargeCapacity = float64(int64(binary.LittleEndian.Uint64(p[38:46]))) * mult / 3600
	rec.DischargeCapacity = float64(int64(binary.LittleEndian.Uint64(p[46:54]))) * mult / 3600
	rec.ChargeEnergy = float64(int64(binary.LittleEndian.Uint64(p[54:62]))) * mult / 3600
	rec.DischargeEnergy = float64(int64(binary.LittleEndian.Uint64(p[62:70]))) * mult / 3600
	rec.Timestamp = dateAt(p[70:77])
	fr.Kind = KindRecord
	return nil
}

func unmarshalAuxNDA29(p []byte, fr *Frame) {
	fr.Aux = AuxRecord{
		Channel:      int(p[1]),
		Index:        binary.LittleEndian.Uint32(p[2:6]),
		Voltage:      float64(int32(binary.LittleEndian.Uint32(p[22:26]))) / 10000,
		Temperature:  float64(int16(binary.LittleEndian.Uint16(p[34:36]))) / 10,
		Temperature2: nan,
	}
	fr.Kind = KindAux
}

// LayoutBTS9 returns the layout of nda version 130 files written by
// BTS 9 hardware: 88-byte strides prefixed by the 6-byte identifier
// found at the head of the record section, terminated by a 0x81 stride.
func LayoutBTS9(identifier []byte) Layout {
	id := make([]byte, 6)
	copy(id, identifier)
	return Layout{
		Name:   "nda-v130",
		Stride: 88,
		Unmarshal: func(p []byte, fr *Frame) error {
			switch {
			case p[0] == mkFooter:
				fr.Kind = KindEOS
				return nil
			case bytes.Equal(p[:6], id):
				return unmarshalBTS9(p[4:], fr)
			case allZero(p[:4]) && p[4] == mkAux:
				unmarshalAuxNDA29(p[4:], fr)
				return nil
			}
			fr.Kind = KindSkip
			return nil
		},
	}
}

func unmarshalBTS9(p []byte, fr *Frame) error {
	st, err := StatusOf(p[6])
	if err != nil {
		return err
	}

	rec := &fr.Rec
	rec.Index = binary.LittleEndian.Uint32(p[12:16])
	rec.Cycle = 0 // no usable embedded counter in this generation
	rec.Step = int(p[5])
	rec.Status = st
	rec.Time = float64(binary.LittleEndian.Uint64(p[24:32])) / 1e6
	rec.Voltage = f32At(p[32:36])
	rec.Current = f32At(p[36:40])
	rec.ChargeCapacity = f32At(p[48:52]) / 3600
	rec.ChargeEnergy = f32At(p[52:56]) / 3600
	rec.DischargeCapacity = f32At(p[56:60]) / 3600
	rec.DischargeEnergy = f32At(p[60:64]) / 3600
	rec.Timestamp = time.Unix(0, int64(binary.LittleEndian.Uint64(p[64:72]))*1000)
	fr.Kind = KindRecord
	return nil
}

// LayoutBTS91 returns the layout of nda version 130 files written by
// BTS 9.1 software. The stride is not fixed across files; it is the
// distance between consecutive 0x55 record markers, measured at the
// head of the record section. A 56-byte stride additionally carries
// an inline auxiliary temperature. Like the BTS 9 layout, the stream
// ends at a 0x81 stride, ahead of the footer block.
func LayoutBTS91(stride int) Layout {
	return Layout{
		Name:   "nda-v130-bts91",
		Stride: stride,
		Unmarshal: func(p []byte, fr *Frame) error {
			switch {
			case p[0] == mkFooter:
				fr.Kind = KindEOS
				return nil
			case p[0] != mkRecord:
				fr.Kind = KindSkip
				return nil
			}
			st, err := StatusOf(p[3])
			if err != nil {
				return err
			}

			rec := &fr.Rec
			rec.Index = binary.LittleEndian.Uint32(p[8:12])
			rec.Cycle = 0
			rec.Step = int(p[2])
			rec.Status = st
			rec.Time = float64(binary.LittleEndian.Uint32(p[12:16])) +
				1e-9*float64(binary.LittleEndian.Uint32(p[16:20]))
			rec.Current = f32At(p[20:24])
			rec.Voltage = f32At(p[24:28])

			capacity := f32At(p[28:32])
			energy := f32At(p[32:36])
			if capacity >= 0 {
				rec.ChargeCapacity = capacity / 3600
			} else {
				rec.DischargeCapacity = -capacity / 3600
			}
			if energy >= 0 {
				rec.ChargeEnergy = energy / 3600
			} else {
				rec.DischargeEnergy = -energy / 3600
			}
			rec.Timestamp = time.Unix(
				int64(binary.LittleEndian.Uint32(p[44:48])),
				int64(binary.LittleEndian.Uint32(p[48:52])),
			)

			fr.Kind = KindRecord
			if stride == auxStride {
				fr.Aux = AuxRecord{
					Index:        rec.Index,
					Channel:      1,
					Voltage:      nan,
					Temperature:  f32At(p[52:56]),
					Temperature2: nan,
				}
				fr.Kind = KindRecAux
			}
			return nil
		},
	}
}

// LayoutNDC returns the layout of one ndc entry of an ndax container,
// keyed by the version and filetype bytes of the entry header.
func LayoutNDC(version, filetype byte) (Layout, error) {
	switch {
	case version == 2 && (filetype == 1 || filetype == 5):
		// records located by an 8-byte identifier; the stream marker
		// is the identifier's first byte.
		return Layout{
			Name:      "ndc-v2",
			Stride:    94,
			Unmarshal: func(p []byte, fr *Frame) error { return unmarshalNDC(p, p[0], fr) },
		}, nil
	case version == 5 && (filetype == 1 || filetype == 5):
		// page-structured entries; cells carry the marker at byte 7.
		return Layout{
			Name:      "ndc-v5",
			Stride:    87,
			Unmarshal: func(p []byte, fr *Frame) error { return unmarshalNDC(p, p[7], fr) },
		}, nil
	}
	return Layout{}, &UnsupportedVersionError{
		Container: "ndc",
		Raw:       []byte{version, filetype},
	}
}

func unmarshalNDC(p []byte, marker byte, fr *Frame) error {
	switch marker {
	case mkRecord:
		// primary data record
	case mkAux, mkAuxT:
		fr.Aux = AuxRecord{
			Channel:      int(p[3]),
			Index:        binary.LittleEndian.Uint32(p[8:12]),
			Voltage:      float64(int32(binary.LittleEndian.Uint32(p[31:35]))) / 10000,
			Temperature:  float64(int16(binary.LittleEndian.Uint16(p[41:43]))) / 10,
			Temperature2: nan,
		}
		if marker == mkAuxT {
			// dual-sensor channel: a second temperature at 43:45.
			fr.Aux.Temperature2 = float64(int16(binary.LittleEndian.Uint16(p[43:45]))) / 10
		}
		fr.Kind = KindAux
		return nil
	default:
		fr.Kind = KindSkip
		return nil
	}

	st, err := StatusOf(p[17])
	if err != nil {
		return err
	}
	mult, err := lookupRange(int32(binary.LittleEndian.Uint32(p[82:86])))
	if err != nil {
		return err
	}

	rec := &fr.Rec
	rec.Index = binary.LittleEndian.Uint32(p[8:12])
	rec.Cycle = int(binary.LittleEndian.Uint32(p[12:16])) + 1
	rec.Step = int(p[16])
	rec.Status = st
	rec.Time = float64(binary.LittleEndian.Uint64(p[23:31])) / 1000
	rec.Voltage = float64(int32(binary.LittleEndian.Uint32(p[31:35]))) / 10000
	rec.Current = float64(int32(binary.LittleEndian.Uint32(p[35:39]))) * mult
	rec.ChargeCapacity = float64(int64(binary.LittleEndian.Uint64(p[43:51]))) * mult / 3600
	rec.DischargeCapacity = float64(int64(binary.LittleEndian.Uint64(p[51:59]))) * mult / 3600
	rec.ChargeEnergy = float64(int64(binary.LittleEndian.Uint64(p[59:67]))) * mult / 3600
	rec.DischargeEnergy = float64(int64(binary.LittleEndian.Uint64(p[67:75]))) * mult / 3600
	rec.Timestamp = dateAt(p[75:82])
	fr.Kind = KindRecord
	return nil
}

func f32At(p []byte) float64 {
	return float64(math.Float32frombits(binary.LittleEndian.Uint32(p)))
}

// dateAt decodes the 7-byte calendar timestamp (year u16, then month,
// day, hour, minute, second) used by the nda v29 and ndc layouts.
func dateAt(p []byte) time.Time {
	return time.Date(
		int(binary.LittleEndian.Uint16(p[0:2])),
		time.Month(p[2]), int(p[3]),
		int(p[4]), int(p[5]), int(p[6]),
		0, time.Local,
	)
}

func allZero(p []byte) bool {
	for _, v := range p {
		if v != 0 {
			return false
		}
	}
	return true
}
