// Copyright 2025 The go-neware Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// nda2csv converts Neware BTS data files to CSV, one output file per
// input file. Input files are decoded concurrently.
//
// Usage: nda2csv [OPTIONS] FILE1 [FILE2 [FILE3 ...]]
//
// Example:
//
//	$> nda2csv -outdir ./csv ./runs/cell-042.ndax ./runs/cell-043.ndax
package main

import (
	"flag"
	"fmt"
	"log"
	"path/filepath"
	"strings"

	"go-hep.org/x/hep/csvutil"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/go-neware/neware"
	"github.com/go-neware/neware/bts"
)

func main() {
	log.SetPrefix("nda2csv: ")
	log.SetFlags(0)

	var (
		outdir = flag.String("outdir", "", "output directory (default: alongside each input)")
		mode   = flag.String("mode", "auto", "cycle mode (chg|dchg|auto)")
		derive = flag.Bool("derive", false, "force derived cycle numbering")
	)

	flag.Usage = func() {
		fmt.Printf(`nda2csv converts Neware BTS data files to CSV.

Usage: nda2csv [OPTIONS] FILE1 [FILE2 [FILE3 ...]]

options:
`)
		flag.PrintDefaults()
	}

	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		log.Fatalf("missing path to input nda/ndax file")
	}

	var cycleMode bts.CycleMode
	switch *mode {
	case "chg":
		cycleMode = bts.ChargeFirst
	case "dchg":
		cycleMode = bts.DischargeFirst
	case "auto":
		cycleMode = bts.Auto
	default:
		log.Fatalf("invalid cycle mode %q (want chg, dchg or auto)", *mode)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("could not create logger: %+v", err)
	}
	defer logger.Sync()

	opts := []bts.Option{
		bts.WithCycleMode(cycleMode),
		bts.WithLogger(logger),
	}
	if *derive {
		opts = append(opts, bts.WithNumbering(bts.NumberingDerived))
	}

	// decodes are independent across files.
	var grp errgroup.Group
	for _, fname := range flag.Args() {
		fname := fname
		grp.Go(func() error {
			oname := outputName(fname, *outdir)
			err := process(oname, fname, opts)
			if err != nil {
				return fmt.Errorf("could not convert %q: %w", fname, err)
			}
			return nil
		})
	}
	err = grp.Wait()
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

func outputName(fname, outdir string) string {
	base := strings.TrimSuffix(filepath.Base(fname), filepath.Ext(fname)) + ".csv"
	if outdir == "" {
		return filepath.Join(filepath.Dir(fname), base)
	}
	return filepath.Join(outdir, base)
}

func process(oname, fname string, opts []bts.Option) error {
	tbl, err := neware.Read(fname, opts...)
	if err != nil {
		return err
	}

	out, err := csvutil.Create(oname)
	if err != nil {
		return fmt.Errorf("could not create %q: %w", oname, err)
	}
	defer out.Close()
	out.Writer.Comma = ','

	hdr := "Index,Cycle,Step,Status,Time,Voltage,Current_mA," +
		"Charge_Capacity_mAh,Discharge_Capacity_mAh," +
		"Charge_Energy_mWh,Discharge_Energy_mWh,Timestamp"
	for _, aux := range tbl.Aux {
		hdr += fmt.Sprintf(",T%d", aux.Channel)
		if aux.Voltage != nil {
			hdr += fmt.Sprintf(",V%d", aux.Channel)
		}
	}
	err = out.WriteHeader(hdr + "\n")
	if err != nil {
		return fmt.Errorf("could not write CSV header: %w", err)
	}

	for i, row := range tbl.Rows {
		args := []interface{}{
			row.Index, row.Cycle, row.Step, row.Status.String(),
			row.Time, row.Voltage, row.Current,
			row.ChargeCapacity, row.DischargeCapacity,
			row.ChargeEnergy, row.DischargeEnergy,
			row.Timestamp.Format("2006-01-02 15:04:05"),
		}
		for _, aux := range tbl.Aux {
			args = append(args, aux.Temperature[i])
			if aux.Voltage != nil {
				args = append(args, aux.Voltage[i])
			}
		}
		err = out.WriteRow(args...)
		if err != nil {
			return fmt.Errorf("could not write CSV row %d: %w", i, err)
		}
	}

	err = out.Close()
	if err != nil {
		return fmt.Errorf("could not close %q: %w", oname, err)
	}
	return nil
}
