// Copyright 2025 The go-neware Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ndax

import (
	"archive/zip"
	"encoding/binary"
	"math"
	"time"

	"go.uber.org/zap"
	"golang.org/x/xerrors"

	"github.com/go-neware/neware/bts"
)

// BTS Server 8 containers (ndc versions 11 and 14) spread one record
// stream across three entries: data.ndc holds the voltage/current
// samples, data_runInfo.ndc the per-record counters and timestamps,
// and data_step.ndc the per-step cycle and status table. The three are
// joined on the shared sequence index and step number.
const (
	runInfoEntry  = "data_runInfo.ndc"
	stepDataEntry = "data_step.ndc"
)

var nan = math.NaN()

func decodeServer8(files map[string]*zip.File, data []byte, meta bts.Metadata, log *zap.Logger) ([]bts.Record, error) {
	version := data[2]
	log.Info("BTS Server 8 container", zap.Uint8("version", version))

	riFile, ok := files[runInfoEntry]
	if !ok {
		return nil, &bts.MissingDataError{Entry: runInfoEntry}
	}
	stFile, ok := files[stepDataEntry]
	if !ok {
		return nil, &bts.MissingDataError{Entry: stepDataEntry}
	}
	riBuf, err := readEntry(riFile)
	if err != nil {
		return nil, err
	}
	if len(riBuf) < 3 || riBuf[0] != 18 {
		return nil, &bts.UnsupportedVersionError{Container: "ndc", Raw: head(riBuf)}
	}
	stBuf, err := readEntry(stFile)
	if err != nil {
		return nil, err
	}
	if len(stBuf) < 3 || stBuf[0] != 7 {
		return nil, &bts.UnsupportedVersionError{Container: "ndc", Raw: head(stBuf)}
	}

	recs := decodeServer8Samples(data, version)
	infos := decodeServer8RunInfo(riBuf, meta.StartTime, log)
	steps, err := decodeServer8Steps(stBuf)
	if err != nil {
		return nil, xerrors.Errorf("ndax: could not decode %s record: %w", "ndc-step", err)
	}
	return mergeServer8(recs, infos, steps)
}

func head(buf []byte) []byte {
	if len(buf) > 3 {
		buf = buf[:3]
	}
	return buf
}

// forEachServer8Page iterates the 4096-byte pages following the header
// page, yielding the cell region between the 132-byte page header and
// the given trailer.
func forEachServer8Page(buf []byte, trailer int, fn func(p []byte) error) error {
	const (
		pageSize = 4096
		header   = 132
	)
	for off := pageSize; off < len(buf); off += pageSize {
		end := off + pageSize
		if end > len(buf) {
			end = len(buf)
		}
		lo := off + header
		hi := end - trailer
		if hi <= lo {
			continue
		}
		err := fn(buf[lo:hi])
		if err != nil {
			return err
		}
	}
	return nil
}

// decodeServer8Samples reads the voltage/current sample stream of
// data.ndc. Samples carry no counters of their own; the sequence index
// is their position in the stream.
func decodeServer8Samples(buf []byte, version byte) []bts.Record {
	const cell = 8
	var recs []bts.Record
	forEachServer8Page(buf, 4, func(p []byte) error {
		for ; len(p) >= cell; p = p[cell:] {
			v := f32(p[0:4])
			if v == 0 {
				continue
			}
			rec := bts.Record{Index: uint32(len(recs) + 1)}
			switch version {
			case 11:
				rec.Voltage = 1e-4 * v
				rec.Current = f32(p[4:8])
			default: // 14 stores volts and amps directly
				rec.Voltage = v
				rec.Current = 1000 * f32(p[4:8])
			}
			recs = append(recs, rec)
		}
		return nil
	})
	return recs
}

type runInfoRec struct {
	index   uint32
	step    int
	time    float64
	chgCap  float64
	dchgCap float64
	chgEgy  float64
	dchgEgy float64
	stamp   time.Time
}

// decodeServer8RunInfo reads the per-record counters of
// data_runInfo.ndc. The raw step markers are renumbered into the
// file-global step counter indexing the step table.
func decodeServer8RunInfo(buf []byte, start time.Time, log *zap.Logger) []runInfoRec {
	var (
		cell    = 47
		trailer = 63
		conv    = func(x float64) float64 { return x / 3600 } // v11 stores mAs
	)
	if buf[2] == 14 {
		cell, trailer = 55, 59
		conv = func(x float64) float64 { return 1000 * x } // v14 stores Ah
	}

	var (
		infos []runInfoRec
		delta time.Duration
		first = true
	)
	forEachServer8Page(buf, trailer, func(p []byte) error {
		for ; len(p) >= cell; p = p[cell:] {
			index := binary.LittleEndian.Uint32(p[41:45])
			if index == 0 {
				continue
			}
			stamp := time.Unix(int64(int32(binary.LittleEndian.Uint32(p[33:37]))), 0).UTC()
			if first {
				delta = server8TimeDelta(stamp, start, log)
				first = false
			}
			infos = append(infos, runInfoRec{
				index:   index,
				step:    int(int32(binary.LittleEndian.Uint32(p[37:41]))),
				time:    float64(int32(binary.LittleEndian.Uint32(p[0:4]))) / 1000,
				chgCap:  conv(f32(p[5:9])),
				dchgCap: conv(f32(p[9:13])),
				chgEgy:  conv(f32(p[13:17])),
				dchgEgy: conv(f32(p[17:21])),
				stamp:   localize(stamp.Add(delta)),
			})
		}
		return nil
	})

	count, last := 0, 0
	for i := range infos {
		if i == 0 || infos[i].step != last {
			count++
		}
		last = infos[i].step
		infos[i].step = count
	}
	return infos
}

// server8TimeDelta infers the tester's timezone offset by comparing
// the first run-info timestamp (stored as UTC epoch seconds) with the
// test start time declared in TestInfo.xml, rounded to the half-hour
// steps real timezones use. The first record follows the start time
// within a second or so.
func server8TimeDelta(first, start time.Time, log *zap.Logger) time.Duration {
	if start.IsZero() {
		return 0
	}
	y, m, d := start.Date()
	h, mi, s := start.Clock()
	delta := time.Date(y, m, d, h, mi, s, 0, time.UTC).Sub(first)
	if delta > -2*time.Second && delta < 2*time.Second {
		return 0
	}
	const unit = 30 * time.Minute
	half := delta + unit/2
	mod := half % unit
	if mod < 0 {
		mod += unit
	}
	rounded := half - mod
	log.Info("adjusting run-info timestamps to tester local time",
		zap.Duration("offset", rounded),
	)
	return rounded
}

// localize rebuilds a UTC wall clock reading as a naive local time,
// so the output matches the clock of the tester that wrote the file.
func localize(ts time.Time) time.Time {
	y, m, d := ts.Date()
	h, mi, s := ts.Clock()
	return time.Date(y, m, d, h, mi, s, ts.Nanosecond(), time.Local)
}

type stepDef struct {
	cycle  int
	status bts.Status
}

// decodeServer8Steps reads the step table of data_step.ndc. The table
// position (1-based) is the step number.
func decodeServer8Steps(buf []byte) ([]stepDef, error) {
	const (
		cell    = 37
		trailer = 5
	)
	var steps []stepDef
	err := forEachServer8Page(buf, trailer, func(p []byte) error {
		for ; len(p) >= cell; p = p[cell:] {
			if binary.LittleEndian.Uint32(p[4:8]) == 0 {
				continue
			}
			st, err := bts.StatusOf(p[24])
			if err != nil {
				return err
			}
			steps = append(steps, stepDef{
				cycle:  int(int32(binary.LittleEndian.Uint32(p[0:4]))) + 1,
				status: st,
			})
		}
		return nil
	})
	return steps, err
}

// mergeServer8 joins the three streams into complete records. A sample
// without a run-info record, or a step number outside the step table,
// means the file stores an incomplete dataset whose gaps the vendor
// software fills with fabricated values; such files are refused rather
// than completed.
func mergeServer8(recs []bts.Record, infos []runInfoRec, steps []stepDef) ([]bts.Record, error) {
	byIndex := make(map[uint32]runInfoRec, len(infos))
	for _, ri := range infos {
		byIndex[ri.index] = ri
	}

	for i := range recs {
		rec := &recs[i]
		ri, ok := byIndex[rec.Index]
		if !ok {
			return nil, xerrors.Errorf("ndax: sample %d has no run-info record (incomplete dataset)", rec.Index)
		}
		if ri.step < 1 || ri.step > len(steps) {
			return nil, xerrors.Errorf("ndax: step %d missing from the step table (incomplete dataset)", ri.step)
		}
		def := steps[ri.step-1]
		rec.Cycle = def.cycle
		rec.Step = ri.step
		rec.Status = def.status
		rec.Time = ri.time
		rec.ChargeCapacity = ri.chgCap
		rec.DischargeCapacity = ri.dchgCap
		rec.ChargeEnergy = ri.chgEgy
		rec.DischargeEnergy = ri.dchgEgy
		rec.Timestamp = ri.stamp
	}
	return recs, nil
}

// decodeServer8Aux reads one auxiliary channel entry of a BTS Server 8
// container. Version 14 entries are a bare stream of temperature
// floats; version 11 entries carry marked cells in one of two layouts,
// keyed by the marker of the first cell.
func decodeServer8Aux(buf []byte, version byte) []bts.AuxRecord {
	var aux []bts.AuxRecord
	if version == 14 {
		forEachServer8Page(buf, 4, func(p []byte) error {
			for ; len(p) >= 4; p = p[4:] {
				aux = append(aux, bts.AuxRecord{
					Index:        uint32(len(aux) + 1),
					Voltage:      nan,
					Temperature:  f32(p[0:4]),
					Temperature2: nan,
				})
			}
			return nil
		})
		return aux
	}

	const firstCell = 4096 + 132
	if len(buf) <= firstCell {
		return nil
	}
	switch buf[firstCell] {
	case 0x65:
		forEachServer8Page(buf, 2, func(p []byte) error {
			for ; len(p) >= 7; p = p[7:] {
				if p[0] != 0x65 {
					continue
				}
				aux = append(aux, bts.AuxRecord{
					Index:        uint32(len(aux) + 1),
					Voltage:      f32(p[1:5]) / 10000,
					Temperature:  float64(int16(binary.LittleEndian.Uint16(p[5:7]))) / 10,
					Temperature2: nan,
				})
			}
			return nil
		})
	case 0x74:
		forEachServer8Page(buf, 4, func(p []byte) error {
			for ; len(p) >= 88; p = p[88:] {
				if p[0] != 0x74 {
					continue
				}
				aux = append(aux, bts.AuxRecord{
					Index:        binary.LittleEndian.Uint32(p[1:5]),
					Channel:      int(p[5]),
					Voltage:      nan,
					Temperature:  float64(int16(binary.LittleEndian.Uint16(p[35:37]))) / 10,
					Temperature2: nan,
				})
			}
			return nil
		})
	}
	return aux
}

func f32(p []byte) float64 {
	return float64(math.Float32frombits(binary.LittleEndian.Uint32(p)))
}
