//go:build !silero

package silero

import (
	"testing"

	"github.com/matryer/is"
)

func TestStubFactoryFails(t *testing.T) {
	is := is.New(t)

	_, err := factory(map[string]any{})
	is.True(err != nil)
	is.True(!Available)
}
