package plugin

import (
	"errors"
	"testing"

	"github.com/chriscow/rtvad/pkg/vad"
)

// constSource always scores the same probability.
type constSource struct {
	p float64
}

func (c constSource) Score([]float32, vad.SampleRate, vad.ModelVersion) (float64, error) {
	return c.p, nil
}

func newConstSource(cfg map[string]any) (vad.ProbabilitySource, error) {
	p, err := Float(cfg, "p", 0.5)
	if err != nil {
		return nil, err
	}
	return constSource{p: p}, nil
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()

	r.Register("const", newConstSource)

	if factory, ok := r.Get("const"); !ok {
		t.Error("Expected plugin to be registered")
	} else if factory == nil {
		t.Error("Expected factory to not be nil")
	}
}

func TestRegistry_Register_Duplicate(t *testing.T) {
	r := NewRegistry()
	r.Register("const", newConstSource)

	defer func() {
		if r := recover(); r == nil {
			t.Error("Expected panic for duplicate registration")
		}
	}()

	r.Register("const", newConstSource)
}

func TestRegistry_Register_EmptyName(t *testing.T) {
	r := NewRegistry()

	defer func() {
		if r := recover(); r == nil {
			t.Error("Expected panic for empty name")
		}
	}()

	r.Register("", newConstSource)
}

func TestRegistry_Register_NilFactory(t *testing.T) {
	r := NewRegistry()

	defer func() {
		if r := recover(); r == nil {
			t.Error("Expected panic for nil factory")
		}
	}()

	r.Register("const", nil)
}

func TestRegistry_NewSource(t *testing.T) {
	r := NewRegistry()
	r.Register("const", newConstSource)

	src, err := r.NewSource("const", map[string]any{"p": 0.25})
	if err != nil {
		t.Fatalf("NewSource failed: %v", err)
	}
	p, err := src.Score(nil, vad.SampleRate16k, vad.ModelV5)
	if err != nil || p != 0.25 {
		t.Errorf("Score() = %v, %v; want 0.25, nil", p, err)
	}

	if _, err := r.NewSource("missing", nil); !errors.Is(err, vad.ErrInvalidConfig) {
		t.Errorf("Expected ErrInvalidConfig for unknown source, got %v", err)
	}

	_, err = r.NewSource("const", map[string]any{"p": "loud"})
	if !errors.Is(err, vad.ErrResourceUnavailable) {
		t.Errorf("Expected ErrResourceUnavailable for factory failure, got %v", err)
	}
}

func TestRegistry_List(t *testing.T) {
	r := NewRegistry()

	r.RegisterWithMetadata(&Plugin{Name: "silero", Factory: newConstSource, Version: "2.0.0"})
	r.RegisterWithMetadata(&Plugin{Name: "energy", Factory: newConstSource, Version: "1.0.0"})
	r.RegisterWithMetadata(&Plugin{Name: "fake", Factory: newConstSource})

	plugins := r.List()
	if len(plugins) != 3 {
		t.Fatalf("Expected 3 plugins, got %d", len(plugins))
	}

	want := []string{"energy", "fake", "silero"}
	for i, p := range plugins {
		if p.Name != want[i] {
			t.Errorf("plugins[%d] = %s, want %s", i, p.Name, want[i])
		}
	}

	p, ok := r.Lookup("silero")
	if !ok || p.Version != "2.0.0" {
		t.Errorf("Lookup(silero) = %+v, %v", p, ok)
	}
}

func TestRegistry_Clear(t *testing.T) {
	r := NewRegistry()
	r.Register("const", newConstSource)

	r.Clear()

	if len(r.List()) != 0 {
		t.Error("Expected no plugins after Clear()")
	}
	if _, ok := r.Get("const"); ok {
		t.Error("Expected plugin to be gone after Clear()")
	}
}

func TestOptionHelpers(t *testing.T) {
	cfg := map[string]any{"name": "x", "n": 3, "f": 0.5, "bad": "y"}

	if got := String(cfg, "name", "d"); got != "x" {
		t.Errorf("String = %q", got)
	}
	if got := String(cfg, "missing", "d"); got != "d" {
		t.Errorf("String default = %q", got)
	}
	if got, err := Int(cfg, "n", 0); err != nil || got != 3 {
		t.Errorf("Int = %d, %v", got, err)
	}
	if _, err := Int(cfg, "f", 0); err == nil {
		t.Error("Expected error for fractional Int")
	}
	if got, err := Float(cfg, "f", 0); err != nil || got != 0.5 {
		t.Errorf("Float = %v, %v", got, err)
	}
	if _, err := Float(cfg, "bad", 0); err == nil {
		t.Error("Expected error for non-numeric Float")
	}
}
