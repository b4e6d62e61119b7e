// Package fake registers the deterministic fake sources with the plugin
// registry so the CLI and server can run without a model.
package fake

import (
	"fmt"

	"github.com/chriscow/rtvad/pkg/plugin"
	"github.com/chriscow/rtvad/pkg/vad"
	vadfake "github.com/chriscow/rtvad/pkg/vad/fake"
)

// newRandom creates a seeded random source.
func newRandom(cfg map[string]any) (vad.ProbabilitySource, error) {
	prob, err := plugin.Float(cfg, "speech_probability", vadfake.DefaultSpeechProbability)
	if err != nil {
		return nil, err
	}
	seed, err := plugin.Int(cfg, "seed", vadfake.DefaultSeed)
	if err != nil {
		return nil, err
	}
	return vadfake.NewRandomWithSeed(prob, int64(seed)), nil
}

// newScripted creates a source that replays a fixed probability list.
func newScripted(cfg map[string]any) (vad.ProbabilitySource, error) {
	tail, err := plugin.Float(cfg, "tail", 0)
	if err != nil {
		return nil, err
	}

	var script []float64
	if raw, ok := cfg["script"].([]any); ok {
		for i, v := range raw {
			p, err := plugin.Float(map[string]any{"p": v}, "p", 0)
			if err != nil {
				return nil, fmt.Errorf("script[%d]: %w", i, err)
			}
			script = append(script, p)
		}
	}
	return vadfake.NewScripted(script, tail), nil
}

func init() {
	plugin.RegisterWithMetadata(&plugin.Plugin{
		Name:        "fake",
		Factory:     newRandom,
		Description: "Seeded random source for testing and development",
		Version:     "1.0.0",
		Config: map[string]any{
			"speech_probability": vadfake.DefaultSpeechProbability,
			"seed":               vadfake.DefaultSeed,
		},
	})

	plugin.RegisterWithMetadata(&plugin.Plugin{
		Name:        "scripted",
		Factory:     newScripted,
		Description: "Replays a fixed list of probabilities",
		Version:     "1.0.0",
		Config: map[string]any{
			"script": []float64{},
			"tail":   0.0,
		},
	})
}
