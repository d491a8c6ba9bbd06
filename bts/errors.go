// Copyright 2025 The go-neware Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bts

import "fmt"

// UnsupportedVersionError is returned when the version bytes of an
// input file match no known byte layout. Raw carries the unmatched
// bytes verbatim; decoding never falls back to a closest guess.
type UnsupportedVersionError struct {
	Container string // "nda", "ndax" or "ndc"
	Raw       []byte
}

func (e *UnsupportedVersionError) Error() string {
	return fmt.Sprintf("bts: unsupported %s version (raw=%#x)", e.Container, e.Raw)
}

// UnknownRangeError is returned when a record carries a hardware range
// code absent from the multiplier table.
type UnknownRangeError struct {
	Code int32
}

func (e *UnknownRangeError) Error() string {
	return fmt.Sprintf("bts: unknown hardware range code %d", e.Code)
}

// UnknownStatusError is returned when a record carries a status code
// absent from the status table.
type UnknownStatusError struct {
	Code uint8
}

func (e *UnknownStatusError) Error() string {
	return fmt.Sprintf("bts: unknown status code %d", e.Code)
}

// MissingDataError is returned when a required entry is absent from an
// ndax container.
type MissingDataError struct {
	Entry string
}

func (e *MissingDataError) Error() string {
	return fmt.Sprintf("bts: container has no %q entry", e.Entry)
}
