// Copyright 2025 The go-neware Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bts

// Status is the operating mode of a record, encoded as the raw
// hardware status code.
type Status uint8

const (
	CCChg    Status = 1  // constant-current charge
	CCDChg   Status = 2  // constant-current discharge
	CVChg    Status = 3  // constant-voltage charge
	Rest     Status = 4  // rest
	Cycle    Status = 5  // cycle marker
	CCCVChg  Status = 7  // constant-current/constant-voltage charge
	CPDChg   Status = 8  // constant-power discharge
	CPChg    Status = 9  // constant-power charge
	CRDChg   Status = 10 // constant-resistance discharge
	Pause    Status = 13
	Pulse    Status = 16
	SIM      Status = 17 // simulation marker record
	CVDChg   Status = 19 // constant-voltage discharge
	CCCVDChg Status = 20
	Control  Status = 21
	OCV      Status = 22 // open-circuit voltage
	CPCVDChg Status = 26
	CPCVChg  Status = 27
)

// statusNames maps the raw status codes observed in BTS files to the
// names BTSDA displays. The table is total: any code outside of it is
// unknown hardware and must abort the decode.
var statusNames = map[Status]string{
	CCChg:    "CC_Chg",
	CCDChg:   "CC_DChg",
	CVChg:    "CV_Chg",
	Rest:     "Rest",
	Cycle:    "Cycle",
	CCCVChg:  "CCCV_Chg",
	CPDChg:   "CP_DChg",
	CPChg:    "CP_Chg",
	CRDChg:   "CR_DChg",
	Pause:    "Pause",
	Pulse:    "Pulse",
	SIM:      "SIM",
	CVDChg:   "CV_DChg",
	CCCVDChg: "CCCV_DChg",
	Control:  "Control",
	OCV:      "OCV",
	CPCVDChg: "CPCV_DChg",
	CPCVChg:  "CPCV_Chg",
}

func (st Status) String() string {
	if name, ok := statusNames[st]; ok {
		return name
	}
	return "Status(unknown)"
}

// IsCharge reports whether st belongs to the charge family.
func (st Status) IsCharge() bool {
	switch st {
	case CCChg, CVChg, CCCVChg, CPChg, CPCVChg:
		return true
	}
	return false
}

// IsDischarge reports whether st belongs to the discharge family.
func (st Status) IsDischarge() bool {
	switch st {
	case CCDChg, CPDChg, CRDChg, CVDChg, CCCVDChg, CPCVDChg:
		return true
	}
	return false
}

// isCycleTrigger reports whether st is one of the step kinds that may
// open a new cycle (the CC/CCCV/CP families, in the given direction).
// This mirrors the circular statistic of BTSDA, which ignores CV, CR
// and pulse steps when counting cycles.
func (st Status) isCycleTrigger(charge bool) bool {
	if charge {
		return st == CCChg || st == CCCVChg || st == CPChg
	}
	return st == CCDChg || st == CCCVDChg || st == CPDChg
}

// StatusOf resolves a raw status code against the hardware table.
func StatusOf(code uint8) (Status, error) {
	st := Status(code)
	if _, ok := statusNames[st]; !ok {
		return 0, &UnknownStatusError{Code: code}
	}
	return st, nil
}

// multipliers maps the raw hardware Range code of a record to the
// scale factor of its current, capacity and energy fields. Negative
// codes select the low-current ranges of the instrument.
var multipliers = map[int32]float64{
	-100000000: 10,
	-200000:    1e-2,
	-100000:    1e-2,
	-60000:     1e-2,
	-50000:     1e-2,
	-40000:     1e-2,
	-30000:     1e-2,
	-20000:     1e-2,
	-12000:     1e-2,
	-10000:     1e-2,
	-6000:      1e-2,
	-5000:      1e-2,
	-3000:      1e-2,
	-2000:      1e-2,
	-1000:      1e-2,
	-500:       1e-3,
	-100:       1e-3,
	-50:        1e-4,
	-25:        1e-4,
	-20:        1e-4,
	-10:        1e-4,
	-5:         1e-5,
	-2:         1e-5,
	-1:         1e-5,
	0:          0,
	1:          1e-4,
	2:          1e-4,
	5:          1e-4,
	10:         1e-3,
	20:         1e-3,
	50:         1e-3,
	100:        1e-2,
	200:        1e-2,
	250:        1e-2,
	500:        1e-2,
	1000:       1e-1,
	6000:       1e-1,
	10000:      1e-1,
	12000:      1e-1,
	20000:      1e-1,
	30000:      1e-1,
	40000:      1e-1,
	50000:      1e-1,
	60000:      1e-1,
	100000:     1e-1,
	200000:     1e-1,
}

// lookupRange resolves a raw range code against the hardware table.
func lookupRange(code int32) (float64, error) {
	mult, ok := multipliers[code]
	if !ok {
		return 0, &UnknownRangeError{Code: code}
	}
	return mult, nil
}
