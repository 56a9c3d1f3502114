package session

import (
	"context"

	"github.com/nasa-jpl/ramanlab/specrec"
)

// FITSArchive writes every calibration and sample to a FITS file through a
// recorder
type FITSArchive struct {
	Rec *specrec.Recorder

	// Calibrations also records calibration spectra when true
	Calibrations bool
}

// RecordCalibration satisfies Archive
func (a FITSArchive) RecordCalibration(ctx context.Context, c *Calibration) error {
	if !a.Calibrations {
		return nil
	}
	_, err := a.Rec.Record(c.ToSpectrum())
	return err
}

// RecordSample satisfies Archive
func (a FITSArchive) RecordSample(ctx context.Context, s *Sample) error {
	_, err := a.Rec.Record(s.ToSpectrum())
	return err
}
