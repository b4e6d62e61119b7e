//go:build !silero

package silero

import (
	"fmt"

	"github.com/chriscow/rtvad/pkg/vad"
)

// Available reports whether this build can run the Silero model.
const Available = false

func newSource(Options) (vad.ProbabilitySource, error) {
	return nil, fmt.Errorf("silero source not available (build with -tags=silero)")
}
