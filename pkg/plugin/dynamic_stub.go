// Stub for dynamic source loading when not supported.
//go:build !plugindyn || !linux

package plugin

import "errors"

// ErrDynamicUnsupported is returned by LoadDynamicPlugins on builds without
// plugindyn support.
var ErrDynamicUnsupported = errors.New("dynamic plugin loading not supported on this platform or build configuration (use -tags=plugindyn on Linux)")

// LoadDynamicPlugins returns ErrDynamicUnsupported.
func LoadDynamicPlugins(pluginDir string) error {
	return ErrDynamicUnsupported
}
