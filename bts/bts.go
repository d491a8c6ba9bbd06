// Copyright 2025 The go-neware Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package bts holds the core types and algorithms to decode data
// produced by Neware BTS battery cycling testers.
package bts // import "github.com/go-neware/neware/bts"

import (
	"math"
	"time"

	"go.uber.org/zap"
)

// Record is one measurement row of a cycling test.
//
// Voltage is in V, Current in mA, capacities in mAh, energies in mWh
// and Time in seconds, matching the units displayed by BTSDA.
type Record struct {
	Index  uint32 // sequence index, as recorded by the tester
	Cycle  int
	Step   int
	Status Status
	Jump   uint8 // step-jump marker (nda v29 only)

	Time    float64
	Voltage float64
	Current float64

	ChargeCapacity    float64
	DischargeCapacity float64
	ChargeEnergy      float64
	DischargeEnergy   float64

	Timestamp time.Time
}

// AuxRecord is one reading from an auxiliary measurement channel.
type AuxRecord struct {
	Index        uint32
	Channel      int
	Voltage      float64 // NaN when the channel does not record voltage
	Temperature  float64
	Temperature2 float64 // NaN when the channel has a single sensor
}

// Kind discriminates the frames produced by a Decoder.
type Kind uint8

const (
	KindSkip    Kind = iota // filler or foreign stride, to be dropped
	KindRecord              // primary data record
	KindAux                 // auxiliary channel record
	KindRecAux              // primary record carrying an inline aux reading
	KindEOS                 // end-of-stream marker stride
)

// Frame is the result of decoding one stride.
type Frame struct {
	Kind Kind
	Rec  Record
	Aux  AuxRecord
}

// AuxSeries is one auxiliary channel aligned with Table.Rows.
// Entries are NaN until the channel's first sample.
type AuxSeries struct {
	Channel      int
	Temperature  []float64
	Temperature2 []float64 // nil when the channel has a single sensor
	Voltage      []float64 // nil when the channel records no voltage
}

// Metadata holds test parameters extracted from a container.
// Fields missing from the input are left at their zero value.
type Metadata struct {
	Barcode    string
	PartNumber string
	ActiveMass float64 // mg
	StartTime  time.Time
	Remarks    string

	ServerVersion      string
	ClientVersion      string
	ControlUnitVersion string
	TesterVersion      string
}

// Table is the decoded content of one input file.
// Rows keep the input record order; Aux is empty when the file
// carries no auxiliary channel data.
type Table struct {
	Rows []Record
	Aux  []AuxSeries
	Meta Metadata
}

// CycleMode selects which status transition increments the cycle number.
type CycleMode int

const (
	// Auto binds to ChargeFirst or DischargeFirst according to the
	// first non-rest status in the file.
	Auto CycleMode = iota
	// ChargeFirst starts a new cycle at a charge step following a discharge.
	ChargeFirst
	// DischargeFirst starts a new cycle at a discharge step following a charge.
	DischargeFirst
)

func (m CycleMode) String() string {
	switch m {
	case Auto:
		return "auto"
	case ChargeFirst:
		return "chg"
	case DischargeFirst:
		return "dchg"
	}
	return "cyclemode-invalid"
}

// Numbering selects where cycle numbers come from.
type Numbering int

const (
	// NumberingDefault lets the container reader choose: derived for
	// legacy nda files, embedded for ndax containers.
	NumberingDefault Numbering = iota
	// NumberingDerived regenerates cycle numbers with the step/cycle
	// state machine, matching BTSDA's circular statistic.
	NumberingDerived
	// NumberingEmbedded trusts the cycle counter stored in each record.
	NumberingEmbedded
)

// Config gathers the knobs shared by all container readers.
type Config struct {
	Mode      CycleMode
	Numbering Numbering
	Log       *zap.Logger
}

// NewConfig returns a Config with the given options applied.
func NewConfig(opts ...Option) *Config {
	cfg := &Config{
		Mode: Auto,
		Log:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// Option configures a decode operation.
type Option func(*Config)

// WithCycleMode selects the cycle increment direction.
func WithCycleMode(mode CycleMode) Option {
	return func(cfg *Config) { cfg.Mode = mode }
}

// WithNumbering selects derived or embedded cycle numbering.
func WithNumbering(n Numbering) Option {
	return func(cfg *Config) { cfg.Numbering = n }
}

// WithLogger sets the logger receiving metadata and anomaly events.
func WithLogger(log *zap.Logger) Option {
	return func(cfg *Config) { cfg.Log = log }
}

// Assemble builds the final table from decoded records: duplicate
// sequence indices are dropped (first occurrence wins), cycle/step
// fields are derived and auxiliary channels are merged in.
//
// numbering must be resolved by the caller (not NumberingDefault).
func Assemble(recs []Record, aux []AuxRecord, cfg *Config, numbering Numbering) *Table {
	recs = dedup(recs, cfg.Log)
	derive(recs, cfg.Mode, numbering, cfg.Log)

	return &Table{
		Rows: recs,
		Aux:  mergeAux(recs, aux),
	}
}

// dedup removes rows repeating an already-seen sequence index,
// preserving input order.
func dedup(recs []Record, log *zap.Logger) []Record {
	seen := make(map[uint32]struct{}, len(recs))
	out := recs[:0]
	var dropped int
	for _, rec := range recs {
		if _, dup := seen[rec.Index]; dup {
			dropped++
			continue
		}
		seen[rec.Index] = struct{}{}
		out = append(out, rec)
	}
	if dropped > 0 {
		log.Warn("dropped duplicated records",
			zap.Int("count", dropped),
		)
	}
	return out
}

var nan = math.NaN()
