// Copyright 2025 The go-neware Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bts

import (
	"math"
	"sort"
)

// mergeAux joins auxiliary channel readings onto the main rows as a
// last-known-value join on the shared sequence index: each row gets
// the most recent reading at or before its own index. Rows preceding
// a channel's first reading hold NaN. No auxiliary data yields no
// series at all.
func mergeAux(rows []Record, aux []AuxRecord) []AuxSeries {
	if len(aux) == 0 || len(rows) == 0 {
		return nil
	}

	byChan := make(map[int][]AuxRecord)
	for _, a := range aux {
		byChan[a.Channel] = append(byChan[a.Channel], a)
	}

	channels := make([]int, 0, len(byChan))
	for ch := range byChan {
		channels = append(channels, ch)
	}
	sort.Ints(channels)

	out := make([]AuxSeries, 0, len(channels))
	for _, ch := range channels {
		out = append(out, mergeChannel(rows, ch, byChan[ch]))
	}
	return out
}

func mergeChannel(rows []Record, ch int, samples []AuxRecord) AuxSeries {
	// native decode order is chronological; a stable sort only
	// repairs pathological inputs and keeps last-wins on duplicates.
	sort.SliceStable(samples, func(i, j int) bool {
		return samples[i].Index < samples[j].Index
	})

	series := AuxSeries{
		Channel:     ch,
		Temperature: make([]float64, len(rows)),
	}
	var hasVoltage, hasTemp2 bool
	for _, s := range samples {
		hasVoltage = hasVoltage || !math.IsNaN(s.Voltage)
		hasTemp2 = hasTemp2 || !math.IsNaN(s.Temperature2)
	}
	if hasVoltage {
		series.Voltage = make([]float64, len(rows))
	}
	if hasTemp2 {
		series.Temperature2 = make([]float64, len(rows))
	}

	var (
		i     int
		temp  = nan
		temp2 = nan
		volt  = nan
	)
	for n, row := range rows {
		for i < len(samples) && samples[i].Index <= row.Index {
			temp = samples[i].Temperature
			temp2 = samples[i].Temperature2
			volt = samples[i].Voltage
			i++
		}
		series.Temperature[n] = temp
		if hasTemp2 {
			series.Temperature2[n] = temp2
		}
		if hasVoltage {
			series.Voltage[n] = volt
		}
	}
	return series
}
