// Copyright 2025 The go-neware Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bts

import (
	"go.uber.org/zap"
)

// deriver is the cycle/step state machine, threaded through a single
// forward pass over the decoded records.
//
// The machine reproduces the (undocumented) counting behaviour of the
// vendor software: steps open on a raw step-marker or status change or
// an explicit jump marker, cycles open on a direction reversal, and
// SIM records pass through without touching either counter. Any divergence from real
// instrument output is a regression, not a tuning opportunity.
type deriver struct {
	charge bool // cycle direction: true when a charge step opens a cycle

	cycle int
	step  int
	armed bool // a step in the opposite direction has been seen

	havePrev bool
	prev     Status // status of the last non-SIM record
	prevRaw  Status // status of the last record, SIM included
	prevStep int    // raw step marker of the last non-SIM record
	prevJump uint8

	// per-step accumulators and the last within-step raw magnitudes
	// used to compute per-record increments.
	accChgCap, accDchgCap float64
	accChgEgy, accDchgEgy float64
	lastCap, lastEgy      float64
}

// derive rewrites the Cycle, Step and capacity/energy fields of recs
// in place. numbering selects derived or embedded cycle numbers; the
// step rule and the per-step accounting apply in both modes.
func derive(recs []Record, mode CycleMode, numbering Numbering, log *zap.Logger) {
	if len(recs) == 0 {
		return
	}

	drv := deriver{
		charge: firstDirection(recs, mode, log),
		cycle:  1,
		step:   1,
	}
	for i := range recs {
		drv.next(&recs[i], numbering)
	}
}

// firstDirection resolves the cycle increment direction, scanning for
// the first non-rest status when mode is Auto.
func firstDirection(recs []Record, mode CycleMode, log *zap.Logger) bool {
	switch mode {
	case ChargeFirst:
		return true
	case DischargeFirst:
		return false
	}
	for _, rec := range recs {
		switch {
		case rec.Status == Rest:
			continue
		case rec.Status.IsCharge():
			return true
		case rec.Status.IsDischarge():
			return false
		default:
			log.Warn("first step is not a charge or discharge, defaulting cycle mode",
				zap.Stringer("status", rec.Status),
				zap.Stringer("mode", ChargeFirst),
			)
			return true
		}
	}
	// rest-only file: the direction is irrelevant.
	return true
}

func (drv *deriver) next(rec *Record, numbering Numbering) {
	st := rec.Status
	rawStep := rec.Step

	if st == SIM {
		// pass-through marker: no step or cycle change, zero
		// contribution. It does arm the cycle flag, as the vendor
		// software does.
		drv.armed = true
		drv.prevRaw = st
		drv.emit(rec, numbering)
		return
	}

	// a new step opens on any change of the raw step marker, the
	// status or the explicit jump byte. Consecutive program steps in
	// the same mode (say two CC charge stages) stay distinct through
	// their markers.
	boundary := drv.havePrev &&
		(st != drv.prev || rawStep != drv.prevStep || rec.Jump != drv.prevJump)
	if boundary {
		drv.step++
		drv.accChgCap, drv.accDchgCap = 0, 0
		drv.accChgEgy, drv.accDchgEgy = 0, 0
		drv.lastCap, drv.lastEgy = 0, 0
	}

	if numbering == NumberingDerived {
		entering := st.isCycleTrigger(drv.charge) &&
			(!drv.havePrev || !drv.prevRaw.isCycleTrigger(drv.charge))
		switch {
		case entering && drv.armed:
			drv.cycle++
			drv.armed = false
		case drv.charge && st.IsDischarge(),
			!drv.charge && st.IsCharge():
			drv.armed = true
		}
	}

	drv.accumulate(rec)

	drv.havePrev = true
	drv.prev = st
	drv.prevRaw = st
	drv.prevStep = rawStep
	drv.prevJump = rec.Jump
	drv.emit(rec, numbering)
}

// accumulate routes the record's incremental capacity/energy magnitude
// to the pair matching its status class. Rest and the non-cycling
// statuses (pause, pulse, OCV, ...) contribute nothing.
func (drv *deriver) accumulate(rec *Record) {
	var (
		charge    = rec.Status.IsCharge()
		discharge = rec.Status.IsDischarge()
	)
	if !charge && !discharge {
		return
	}

	capMag := rec.ChargeCapacity + rec.DischargeCapacity
	egyMag := rec.ChargeEnergy + rec.DischargeEnergy

	dCap := capMag - drv.lastCap
	if dCap < 0 {
		dCap = capMag
	}
	dEgy := egyMag - drv.lastEgy
	if dEgy < 0 {
		dEgy = egyMag
	}
	drv.lastCap, drv.lastEgy = capMag, egyMag

	if charge {
		drv.accChgCap += dCap
		drv.accChgEgy += dEgy
		return
	}
	drv.accDchgCap += dCap
	drv.accDchgEgy += dEgy
}

func (drv *deriver) emit(rec *Record, numbering Numbering) {
	if numbering == NumberingDerived {
		rec.Cycle = drv.cycle
	}
	rec.Step = drv.step
	rec.ChargeCapacity = drv.accChgCap
	rec.DischargeCapacity = drv.accDchgCap
	rec.ChargeEnergy = drv.accChgEgy
	rec.DischargeEnergy = drv.accDchgEgy
}
