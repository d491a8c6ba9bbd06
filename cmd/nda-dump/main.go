// Copyright 2025 The go-neware Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// nda-dump decodes and displays Neware BTS data files.
//
// Usage: nda-dump [OPTIONS] FILE1 [FILE2 [FILE3 ...]]
//
// Example:
//
//	$> nda-dump ./testdata/cell-042.nda
//	=== cell-042.nda ===
//	rows:      12783
//	   idx cycle step    status        time  voltage  current
//	     1     1    1      Rest       1.000   3.2816    0.000
//	     2     1    1      Rest       2.000   3.2816    0.000
//	[...]
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/go-neware/neware"
	"github.com/go-neware/neware/bts"
)

func main() {
	log.SetPrefix("nda-dump: ")
	log.SetFlags(0)

	var (
		mode   = flag.String("mode", "auto", "cycle mode (chg|dchg|auto)")
		derive = flag.Bool("derive", false, "force derived cycle numbering")
		quiet  = flag.Bool("q", false, "suppress decode log events")
	)

	flag.Usage = func() {
		fmt.Printf(`nda-dump decodes and displays Neware BTS data files.

Usage: nda-dump [OPTIONS] FILE1 [FILE2 [FILE3 ...]]

options:
`)
		flag.PrintDefaults()
	}

	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		log.Fatalf("missing path to input nda/ndax file")
	}

	opts, err := options(*mode, *derive, *quiet)
	if err != nil {
		log.Fatalf("%+v", err)
	}

	for _, fname := range flag.Args() {
		err := process(os.Stdout, fname, opts)
		if err != nil {
			log.Fatalf("could not dump file %q: %+v", fname, err)
		}
	}
}

func options(mode string, derive, quiet bool) ([]bts.Option, error) {
	cycleMode, err := cycleModeOf(mode)
	if err != nil {
		return nil, err
	}

	opts := []bts.Option{bts.WithCycleMode(cycleMode)}
	if derive {
		opts = append(opts, bts.WithNumbering(bts.NumberingDerived))
	}
	if !quiet {
		logger, err := zap.NewDevelopment()
		if err != nil {
			return nil, fmt.Errorf("could not create logger: %w", err)
		}
		opts = append(opts, bts.WithLogger(logger))
	}
	return opts, nil
}

func cycleModeOf(mode string) (bts.CycleMode, error) {
	switch mode {
	case "chg":
		return bts.ChargeFirst, nil
	case "dchg":
		return bts.DischargeFirst, nil
	case "auto":
		return bts.Auto, nil
	}
	return 0, fmt.Errorf("invalid cycle mode %q (want chg, dchg or auto)", mode)
}

func process(w io.Writer, fname string, opts []bts.Option) error {
	wbuf := bufio.NewWriter(w)
	defer wbuf.Flush()

	tbl, err := neware.Read(fname, opts...)
	if err != nil {
		return err
	}

	fmt.Fprintf(wbuf, "=== %s ===\n", filepath.Base(fname))
	fmt.Fprintf(wbuf, "rows: % 10d\n", len(tbl.Rows))
	if len(tbl.Aux) > 0 {
		fmt.Fprintf(wbuf, "aux:  % 10d channel(s)\n", len(tbl.Aux))
	}

	fmt.Fprintf(wbuf, "% 6s % 5s % 4s % 9s % 11s % 8s % 8s\n",
		"idx", "cycle", "step", "status", "time", "voltage", "current",
	)
	for _, row := range tbl.Rows {
		fmt.Fprintf(wbuf, "% 6d % 5d % 4d % 9s % 11.3f % 8.4f % 8.3f\n",
			row.Index, row.Cycle, row.Step, row.Status,
			row.Time, row.Voltage, row.Current,
		)
	}
	return nil
}
