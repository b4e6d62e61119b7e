package silero

import (
	"github.com/chriscow/rtvad/pkg/plugin"
	"github.com/chriscow/rtvad/pkg/vad"
)

// Options configures a Source.
type Options struct {
	// ModelPath is used when the engine configuration carries no path.
	ModelPath string
	// Version is the model the source expects before Load is called.
	Version vad.ModelVersion
	// Threads is the ONNX Runtime intra-op thread count. Default: 1.
	Threads int
}

func optionsFromConfig(cfg map[string]any) (Options, error) {
	version, err := vad.ParseModelVersion(plugin.String(cfg, "version", ""))
	if err != nil {
		return Options{}, err
	}
	threads, err := plugin.Int(cfg, "threads", 1)
	if err != nil {
		return Options{}, err
	}
	return Options{
		ModelPath: plugin.String(cfg, "model_path", ""),
		Version:   version,
		Threads:   threads,
	}, nil
}

func factory(cfg map[string]any) (vad.ProbabilitySource, error) {
	opts, err := optionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	return newSource(opts)
}

func init() {
	description := "Silero VAD neural network via ONNX Runtime"
	if !Available {
		description += " (disabled - build with -tags=silero to enable)"
	}
	plugin.RegisterWithMetadata(&plugin.Plugin{
		Name:        "silero",
		Factory:     factory,
		Description: description,
		Version:     "1.0.0",
		Config: map[string]any{
			"model_path": "",
			"version":    "v5",
			"threads":    1,
		},
		Downloader: &Downloader{},
	})
}
