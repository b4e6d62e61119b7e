//go:build silero

package silero

import (
	"os"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var (
	ortOnce    sync.Once
	ortInitErr error
)

// ensureOrtEnv initializes the ONNX runtime environment exactly once per process.
// Sources for concurrent streams share it.
func ensureOrtEnv() error {
	ortOnce.Do(func() {
		if libPath := os.Getenv("ONNXRUNTIME_LIB"); libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		} else if runtime.GOOS == "darwin" {
			// Default to Homebrew path on macOS as fallback
			ort.SetSharedLibraryPath("/opt/homebrew/lib/libonnxruntime.dylib")
		}
		ortInitErr = ort.InitializeEnvironment()
	})
	return ortInitErr
}
