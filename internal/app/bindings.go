package app

import (
	"github.com/ayusman/kinesis/internal/control"
	"github.com/ayusman/kinesis/internal/detector"
	"github.com/ayusman/kinesis/internal/store"
)

// DefaultBindings mirrors control.DefaultRoles as storable bindings. The
// volume role is backed by volumeSink.
func DefaultBindings(volumeSink string) []store.RoleBinding {
	return []store.RoleBinding{
		{
			Name:       control.RoleVolume,
			Handedness: string(detector.Right),
			Gated:      true,
			Sink:       volumeSink,
			OutLow:     0,
			OutHigh:    100,
		},
		{
			Name:       control.RoleSpeed,
			Handedness: string(detector.Left),
			Gated:      true,
			OutLow:     0.5,
			OutHigh:    2.0,
		},
	}
}
