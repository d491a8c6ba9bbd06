// Copyright 2025 The go-neware Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ndax

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/go-neware/neware/bts"
)

// server8Blob assembles a BTS Server 8 ndc blob: a 4096-byte header
// page followed by one data page per cell group. All but the last page
// are padded to the full page size; the padding parses as zero cells,
// which every layout skips.
func server8Blob(filetype, version byte, trailer int, pages ...[][]byte) []byte {
	buf := make([]byte, 4096)
	buf[0] = filetype
	buf[2] = version
	for i, cells := range pages {
		page := make([]byte, 132, 4096)
		for _, c := range cells {
			page = append(page, c...)
		}
		if i < len(pages)-1 {
			page = append(page, make([]byte, 4096-len(page))...)
			buf = append(buf, page...)
			continue
		}
		page = append(page, make([]byte, trailer)...)
		buf = append(buf, page...)
	}
	return buf
}

// sampleCell builds one 8-byte voltage/current sample cell.
func sampleCell(volt, curr float32) []byte {
	p := make([]byte, 8)
	binary.LittleEndian.PutUint32(p[0:4], math.Float32bits(volt))
	binary.LittleEndian.PutUint32(p[4:8], math.Float32bits(curr))
	return p
}

// riCell builds one run-info cell of the given size (47 bytes for v11,
// 55 for v14). Energies mirror the capacities doubled.
func riCell(size int, index uint32, step int32, timeMS int32, chgCap, dchgCap float32, epoch int64) []byte {
	p := make([]byte, size)
	binary.LittleEndian.PutUint32(p[0:4], uint32(timeMS))
	binary.LittleEndian.PutUint32(p[5:9], math.Float32bits(chgCap))
	binary.LittleEndian.PutUint32(p[9:13], math.Float32bits(dchgCap))
	binary.LittleEndian.PutUint32(p[13:17], math.Float32bits(2*chgCap))
	binary.LittleEndian.PutUint32(p[17:21], math.Float32bits(2*dchgCap))
	binary.LittleEndian.PutUint32(p[33:37], uint32(epoch))
	binary.LittleEndian.PutUint32(p[37:41], uint32(step))
	binary.LittleEndian.PutUint32(p[41:45], index)
	return p
}

// stCell builds one 37-byte step table cell.
func stCell(cycle, stepIdx int32, status uint8) []byte {
	p := make([]byte, 37)
	binary.LittleEndian.PutUint32(p[0:4], uint32(cycle))
	binary.LittleEndian.PutUint32(p[4:8], uint32(stepIdx))
	p[24] = status
	return p
}

func TestDecodeServer8(t *testing.T) {
	base := time.Date(2024, 6, 15, 12, 30, 45, 0, time.UTC).Unix()

	aux65 := func(volt float32, temp int16) []byte {
		p := make([]byte, 7)
		p[0] = 0x65
		binary.LittleEndian.PutUint32(p[1:5], math.Float32bits(volt))
		binary.LittleEndian.PutUint16(p[5:7], uint16(temp))
		return p
	}

	zr := mkZip(t, map[string][]byte{
		versionEntry:  []byte(versionInfoFixture),
		testInfoEntry: []byte(testInfoFixture),
		// samples span two pages; the zero cell is filler, not a record.
		DataEntry: server8Blob(1, 11, 4,
			[][]byte{
				sampleCell(32000, 1.5),
				sampleCell(0, 0),
				sampleCell(33000, 1.5),
			},
			[][]byte{
				sampleCell(32500, -2.0),
			},
		),
		runInfoEntry: server8Blob(18, 11, 63, [][]byte{
			riCell(47, 0, 0, 0, 0, 0, 0), // filler
			riCell(47, 1, 5, 1000, 3600, 0, base),
			riCell(47, 2, 5, 2000, 7200, 0, base+1),
			riCell(47, 3, 7, 1000, 0, 3600, base+2),
		}),
		stepDataEntry: server8Blob(7, 11, 5, [][]byte{
			stCell(0, 0, 0), // filler
			stCell(0, 1, uint8(bts.CCChg)),
			stCell(0, 2, uint8(bts.CCDChg)),
		}),
		"data_AUX_1_2_3.ndc": server8Blob(5, 11, 2, [][]byte{
			aux65(31000, 251),
			aux65(31000, 252),
			aux65(31000, 252),
		}),
	})

	tbl, err := Decode(zr)
	if err != nil {
		t.Fatalf("could not decode: %+v", err)
	}
	if got, want := len(tbl.Rows), 3; got != want {
		t.Fatalf("invalid number of rows: got=%d, want=%d", got, want)
	}

	row := tbl.Rows[0]
	if got, want := row.Index, uint32(1); got != want {
		t.Errorf("invalid index: got=%d, want=%d", got, want)
	}
	if got, want := row.Voltage, 3.2; got != want {
		t.Errorf("invalid voltage: got=%v, want=%v", got, want)
	}
	if got, want := row.Current, 1.5; got != want {
		t.Errorf("invalid current: got=%v, want=%v", got, want)
	}
	if got, want := row.Time, 1.0; got != want {
		t.Errorf("invalid time: got=%v, want=%v", got, want)
	}
	if got, want := row.ChargeCapacity, 1.0; got != want {
		t.Errorf("invalid charge capacity: got=%v, want=%v", got, want)
	}
	if got, want := row.ChargeEnergy, 2.0; got != want {
		t.Errorf("invalid charge energy: got=%v, want=%v", got, want)
	}
	start := time.Date(2024, 6, 15, 12, 30, 45, 0, time.Local)
	if !row.Timestamp.Equal(start) {
		t.Errorf("invalid timestamp: got=%v, want=%v", row.Timestamp, start)
	}

	// the raw program steps (5, 5, 7) renumber into the step table,
	// which assigns the status and cycle.
	for i, want := range []int{1, 1, 2} {
		if got := tbl.Rows[i].Step; got != want {
			t.Errorf("row %d: invalid step: got=%d, want=%d", i, got, want)
		}
	}
	last := tbl.Rows[2]
	if got, want := last.Status, bts.CCDChg; got != want {
		t.Errorf("invalid status: got=%v, want=%v", got, want)
	}
	if got, want := last.Cycle, 1; got != want {
		t.Errorf("invalid cycle: got=%d, want=%d", got, want)
	}
	if got, want := last.DischargeCapacity, 1.0; got != want {
		t.Errorf("invalid discharge capacity: got=%v, want=%v", got, want)
	}

	// the auxiliary entry channel is remapped through TestInfo.xml.
	if got, want := len(tbl.Aux), 1; got != want {
		t.Fatalf("invalid number of aux channels: got=%d, want=%d", got, want)
	}
	ch := tbl.Aux[0]
	if got, want := ch.Channel, 7; got != want {
		t.Errorf("invalid aux channel: got=%d, want=%d", got, want)
	}
	for i, want := range []float64{25.1, 25.2, 25.2} {
		if got := ch.Temperature[i]; got != want {
			t.Errorf("row %d: invalid temperature: got=%v, want=%v", i, got, want)
		}
	}
	if got, want := ch.Voltage[0], 3.1; got != want {
		t.Errorf("invalid aux voltage: got=%v, want=%v", got, want)
	}
}

func TestDecodeServer8V14(t *testing.T) {
	tempCell := func(temp float32) []byte {
		p := make([]byte, 4)
		binary.LittleEndian.PutUint32(p, math.Float32bits(temp))
		return p
	}

	zr := mkZip(t, map[string][]byte{
		DataEntry: server8Blob(1, 14, 4, [][]byte{
			sampleCell(3.25, 0.5),
			sampleCell(3.5, 0.5),
		}),
		runInfoEntry: server8Blob(18, 14, 59, [][]byte{
			riCell(55, 1, 1, 1000, 0.5, 0, 0),
			riCell(55, 2, 1, 2000, 1.0, 0, 0),
		}),
		stepDataEntry: server8Blob(7, 14, 5, [][]byte{
			stCell(0, 1, uint8(bts.CCChg)),
		}),
		"data_AUX_2_0_1.ndc": server8Blob(5, 14, 4, [][]byte{
			tempCell(25.5),
			tempCell(26.5),
		}),
	})

	tbl, err := Decode(zr)
	if err != nil {
		t.Fatalf("could not decode: %+v", err)
	}
	if got, want := len(tbl.Rows), 2; got != want {
		t.Fatalf("invalid number of rows: got=%d, want=%d", got, want)
	}

	// v14 stores volts and amps directly, and capacities in Ah.
	row := tbl.Rows[0]
	if got, want := row.Voltage, 3.25; got != want {
		t.Errorf("invalid voltage: got=%v, want=%v", got, want)
	}
	if got, want := row.Current, 500.0; got != want {
		t.Errorf("invalid current: got=%v, want=%v", got, want)
	}
	if got, want := row.ChargeCapacity, 500.0; got != want {
		t.Errorf("invalid charge capacity: got=%v, want=%v", got, want)
	}

	// v14 auxiliary entries are a bare temperature stream.
	if got, want := len(tbl.Aux), 1; got != want {
		t.Fatalf("invalid number of aux channels: got=%d, want=%d", got, want)
	}
	for i, want := range []float64{25.5, 26.5} {
		if got := tbl.Aux[0].Temperature[i]; got != want {
			t.Errorf("row %d: invalid temperature: got=%v, want=%v", i, got, want)
		}
	}
}

func TestDecodeServer8MissingEntries(t *testing.T) {
	data := server8Blob(1, 11, 4, [][]byte{sampleCell(32000, 1.5)})
	runInfo := server8Blob(18, 11, 63, [][]byte{
		riCell(47, 1, 1, 1000, 0, 0, 0),
	})

	for _, tc := range []struct {
		name    string
		entries map[string][]byte
		missing string
	}{
		{
			name:    "no-run-info",
			entries: map[string][]byte{DataEntry: data},
			missing: runInfoEntry,
		},
		{
			name: "no-step-table",
			entries: map[string][]byte{
				DataEntry:    data,
				runInfoEntry: runInfo,
			},
			missing: stepDataEntry,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode(mkZip(t, tc.entries))
			var merr *bts.MissingDataError
			if !errors.As(err, &merr) {
				t.Fatalf("invalid error type: got=%+v", err)
			}
			if got, want := merr.Entry, tc.missing; got != want {
				t.Fatalf("invalid missing entry: got=%q, want=%q", got, want)
			}
		})
	}
}

func TestDecodeServer8Incomplete(t *testing.T) {
	for _, tc := range []struct {
		name    string
		entries map[string][]byte
		want    string
	}{
		{
			// the third sample has no run-info record.
			name: "missing-run-info-record",
			entries: map[string][]byte{
				DataEntry: server8Blob(1, 11, 4, [][]byte{
					sampleCell(32000, 1.5),
					sampleCell(33000, 1.5),
					sampleCell(33500, 1.5),
				}),
				runInfoEntry: server8Blob(18, 11, 63, [][]byte{
					riCell(47, 1, 1, 1000, 0, 0, 0),
					riCell(47, 2, 1, 2000, 0, 0, 0),
				}),
				stepDataEntry: server8Blob(7, 11, 5, [][]byte{
					stCell(0, 1, uint8(bts.CCChg)),
				}),
			},
			want: "ndax: sample 3 has no run-info record (incomplete dataset)",
		},
		{
			// the step table holds no usable row.
			name: "empty-step-table",
			entries: map[string][]byte{
				DataEntry: server8Blob(1, 11, 4, [][]byte{
					sampleCell(32000, 1.5),
				}),
				runInfoEntry: server8Blob(18, 11, 63, [][]byte{
					riCell(47, 1, 9, 1000, 0, 0, 0),
				}),
				stepDataEntry: server8Blob(7, 11, 5, [][]byte{
					stCell(0, 0, 0),
				}),
			},
			want: "ndax: step 1 missing from the step table (incomplete dataset)",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode(mkZip(t, tc.entries))
			if err == nil {
				t.Fatalf("expected an error")
			}
			if got := err.Error(); got != tc.want {
				t.Fatalf("invalid error:\ngot= %q\nwant=%q", got, tc.want)
			}
		})
	}
}

func TestDecodeServer8BadSidecar(t *testing.T) {
	runInfo := server8Blob(3, 11, 63, nil) // wrong filetype
	zr := mkZip(t, map[string][]byte{
		DataEntry:     server8Blob(1, 11, 4, [][]byte{sampleCell(32000, 1.5)}),
		runInfoEntry:  runInfo,
		stepDataEntry: server8Blob(7, 11, 5, nil),
	})

	_, err := Decode(zr)
	var verr *bts.UnsupportedVersionError
	if !errors.As(err, &verr) {
		t.Fatalf("invalid error type: got=%+v", err)
	}
	if got, want := verr.Container, "ndc"; got != want {
		t.Fatalf("invalid container: got=%q, want=%q", got, want)
	}
}

func TestServer8TimeDelta(t *testing.T) {
	utc := func(h, m, s int) time.Time {
		return time.Date(2024, 6, 15, h, m, s, 0, time.UTC)
	}
	local := func(h, m, s int) time.Time {
		return time.Date(2024, 6, 15, h, m, s, 0, time.Local)
	}

	for _, tc := range []struct {
		name  string
		first time.Time
		start time.Time
		want  time.Duration
	}{
		{
			name:  "no-start-time",
			first: utc(12, 30, 45),
			want:  0,
		},
		{
			name:  "same-clock",
			first: utc(12, 30, 45),
			start: local(12, 30, 45),
			want:  0,
		},
		{
			name:  "one-second-skew",
			first: utc(12, 30, 45),
			start: local(12, 30, 46),
			want:  0,
		},
		{
			name:  "east-of-utc",
			first: utc(12, 30, 45),
			start: local(20, 30, 46),
			want:  8 * time.Hour,
		},
		{
			name:  "half-hour-zone",
			first: utc(12, 30, 45),
			start: local(18, 0, 44),
			want:  5*time.Hour + 30*time.Minute,
		},
		{
			name:  "west-of-utc",
			first: utc(12, 30, 45),
			start: local(7, 0, 45),
			want:  -(5*time.Hour + 30*time.Minute),
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got := server8TimeDelta(tc.first, tc.start, zap.NewNop())
			if got != tc.want {
				t.Fatalf("invalid offset: got=%v, want=%v", got, tc.want)
			}
		})
	}
}
