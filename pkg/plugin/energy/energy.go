// Package energy provides a model-free probability source based on frame
// loudness. It is useful where ONNX Runtime is unavailable and as a
// baseline when tuning thresholds.
package energy

import (
	"fmt"
	"math"

	"github.com/chriscow/rtvad/pkg/audio"
	"github.com/chriscow/rtvad/pkg/plugin"
	"github.com/chriscow/rtvad/pkg/vad"
)

const (
	// DefaultFloorDB is the level (dBFS) that maps to probability 0.
	DefaultFloorDB = -60.0
	// DefaultCeilingDB is the level (dBFS) that maps to probability 1.
	DefaultCeilingDB = -20.0
)

// Source maps frame RMS level linearly from FloorDB..CeilingDB onto 0..1.
type Source struct {
	FloorDB   float64
	CeilingDB float64
}

// New returns a Source with the given range.
func New(floorDB, ceilingDB float64) (*Source, error) {
	if ceilingDB <= floorDB {
		return nil, fmt.Errorf("ceiling %.1f dBFS must be above floor %.1f dBFS", ceilingDB, floorDB)
	}
	return &Source{FloorDB: floorDB, CeilingDB: ceilingDB}, nil
}

// Score implements vad.ProbabilitySource.
func (s *Source) Score(frame []float32, rate vad.SampleRate, version vad.ModelVersion) (float64, error) {
	rms := audio.RMS(frame)
	if rms <= 0 {
		return 0, nil
	}
	db := 20 * math.Log10(rms)
	p := (db - s.FloorDB) / (s.CeilingDB - s.FloorDB)
	return min(max(p, 0), 1), nil
}

func factory(cfg map[string]any) (vad.ProbabilitySource, error) {
	floor, err := plugin.Float(cfg, "floor_db", DefaultFloorDB)
	if err != nil {
		return nil, err
	}
	ceiling, err := plugin.Float(cfg, "ceiling_db", DefaultCeilingDB)
	if err != nil {
		return nil, err
	}
	return New(floor, ceiling)
}

func init() {
	plugin.RegisterWithMetadata(&plugin.Plugin{
		Name:        "energy",
		Factory:     factory,
		Description: "RMS energy source, no model required",
		Version:     "1.0.0",
		Config: map[string]any{
			"floor_db":   DefaultFloorDB,
			"ceiling_db": DefaultCeilingDB,
		},
	})
}
