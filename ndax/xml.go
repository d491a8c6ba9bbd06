// Copyright 2025 The go-neware Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ndax

import (
	"archive/zip"
	"encoding/xml"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/xerrors"

	"github.com/go-neware/neware/bts"
)

// Metadata entries of an ndax container. All of them are optional:
// a missing entry degrades to empty defaults with a logged notice.
const (
	versionEntry  = "VersionInfo.xml"
	testInfoEntry = "TestInfo.xml"
	stepEntry     = "Step.xml"
)

type versionInfoXML struct {
	Config struct {
		ZwjVersion struct {
			SvrVer        string `xml:"SvrVer,attr"`
			CurrClientVer string `xml:"CurrClientVer,attr"`
			ZwjVersion    string `xml:"ZwjVersion,attr"`
			MainXwjVer    string `xml:"MainXwjVer,attr"`
		} `xml:"ZwjVersion"`
	} `xml:"config"`
}

type testInfoXML struct {
	Config struct {
		TestInfo struct {
			Barcode   string `xml:"Barcode,attr"`
			SN        string `xml:"SN,attr"`
			StartTime string `xml:"StartTime,attr"`
			AuxCount  int    `xml:"AuxCount,attr"`
			Aux       []struct {
				XMLName   xml.Name
				RealChlID int `xml:"RealChlID,attr"`
				AuxID     int `xml:"AuxID,attr"`
			} `xml:",any"`
		} `xml:"TestInfo"`
	} `xml:"config"`
}

type stepXML struct {
	Config struct {
		HeadInfo struct {
			SCQ struct {
				Value float64 `xml:"Value,attr"`
			} `xml:"SCQ"`
		} `xml:"Head_Info"`
	} `xml:"config"`
}

// readMetadata extracts test parameters and version strings from the
// container's XML entries. It also returns the auxiliary channel to
// channel-ID mapping declared in TestInfo.xml.
func readMetadata(files map[string]*zip.File, log *zap.Logger) (bts.Metadata, map[int]int) {
	var (
		meta   bts.Metadata
		auxIDs = make(map[int]int)
	)

	var vers versionInfoXML
	if decodeXMLEntry(files, versionEntry, &vers, log) {
		cfg := vers.Config.ZwjVersion
		meta.ServerVersion = cfg.SvrVer
		meta.ClientVersion = cfg.CurrClientVer
		meta.ControlUnitVersion = cfg.ZwjVersion
		meta.TesterVersion = cfg.MainXwjVer
		log.Info("version info",
			zap.String("server", meta.ServerVersion),
			zap.String("client", meta.ClientVersion),
			zap.String("control-unit", meta.ControlUnitVersion),
			zap.String("tester", meta.TesterVersion),
		)
	}

	var info testInfoXML
	if decodeXMLEntry(files, testInfoEntry, &info, log) {
		test := info.Config.TestInfo
		meta.Barcode = test.Barcode
		meta.PartNumber = test.SN
		if test.StartTime != "" {
			start, err := time.ParseInLocation("2006-01-02 15:04:05", test.StartTime, time.Local)
			if err != nil {
				log.Warn("could not parse test start time",
					zap.String("value", test.StartTime),
					zap.Error(err),
				)
			} else {
				meta.StartTime = start
			}
		}
		for _, aux := range test.Aux {
			if !strings.HasPrefix(aux.XMLName.Local, "Aux") {
				continue
			}
			auxIDs[aux.RealChlID] = aux.AuxID
		}
		log.Info("test info",
			zap.String("barcode", meta.Barcode),
			zap.String("part-number", meta.PartNumber),
			zap.Time("start-time", meta.StartTime),
			zap.Int("aux-channels", len(auxIDs)),
		)
	}

	var step stepXML
	if decodeXMLEntry(files, stepEntry, &step, log) {
		meta.ActiveMass = step.Config.HeadInfo.SCQ.Value / 1000
		log.Info("active mass", zap.Float64("mg", meta.ActiveMass))
	}

	return meta, auxIDs
}

// decodeXMLEntry parses one optional metadata entry into dst. A
// missing or undecodable entry is a recoverable condition: defaults
// apply and a notice is logged.
func decodeXMLEntry(files map[string]*zip.File, name string, dst interface{}, log *zap.Logger) bool {
	f, ok := files[name]
	if !ok {
		log.Info("metadata entry absent, using defaults", zap.String("entry", name))
		return false
	}

	rc, err := f.Open()
	if err != nil {
		log.Warn("could not open metadata entry",
			zap.String("entry", name),
			zap.Error(err),
		)
		return false
	}
	defer rc.Close()

	dec := xml.NewDecoder(rc)
	dec.CharsetReader = charsetReader
	err = dec.Decode(dst)
	if err != nil {
		log.Warn("could not decode metadata entry",
			zap.String("entry", name),
			zap.Error(err),
		)
		return false
	}
	return true
}

// charsetReader handles the GB2312 encoding the control software
// declares on its XML entries.
func charsetReader(charset string, r io.Reader) (io.Reader, error) {
	switch strings.ToLower(charset) {
	case "utf-8", "":
		return r, nil
	case "gb2312", "gbk", "gb18030":
		return simplifiedchinese.GB18030.NewDecoder().Reader(r), nil
	}
	return nil, xerrors.Errorf("ndax: unsupported xml charset %q", charset)
}
