// Package silero scores frames with the Silero VAD neural network through
// ONNX Runtime. The runtime-backed source needs the silero build tag; without
// it the package still registers, downloads and stages models, but creating
// a source fails.
package silero

import (
	"os"
	"path/filepath"

	"github.com/chriscow/rtvad/pkg/vad"
)

const (
	// ModelFileV4 is the file name of the V4 model.
	ModelFileV4 = "silero_vad.onnx"
	// ModelFileV5 is the file name of the V5 model.
	ModelFileV5 = "silero_vad_v5.onnx"

	// ModelPathEnv overrides the model directory.
	ModelPathEnv = "RTVAD_MODEL_PATH"
)

// ModelURLs are the upstream release artifacts for each model version.
var ModelURLs = map[vad.ModelVersion]string{
	vad.ModelV4: "https://github.com/snakers4/silero-vad/raw/v4.0/files/silero_vad.onnx",
	vad.ModelV5: "https://github.com/snakers4/silero-vad/raw/v5.0/files/silero_vad.onnx",
}

// ModelFileName returns the on-disk name of the model for version.
func ModelFileName(version vad.ModelVersion) string {
	if version == vad.ModelV4 {
		return ModelFileV4
	}
	return ModelFileV5
}

// DefaultModelDir returns $RTVAD_MODEL_PATH or ~/.rtvad/models.
func DefaultModelDir() string {
	if dir := os.Getenv(ModelPathEnv); dir != "" {
		return dir
	}
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".rtvad", "models")
}

// ResolveModelPath returns path, or the default location for version when
// path is empty.
func ResolveModelPath(version vad.ModelVersion, path string) string {
	if path != "" {
		return path
	}
	return filepath.Join(DefaultModelDir(), ModelFileName(version))
}
