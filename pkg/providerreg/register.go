// Package providerreg wires the concrete provider packages into a
// pkg/provider.Registry. Kept separate from pkg/provider itself so that
// package never has to import its own concrete implementations (which
// would import it back for the FitnessProvider interface).
package providerreg

import (
	"github.com/stacklok/fedmcp/pkg/provider"
	"github.com/stacklok/fedmcp/pkg/provider/fitbit"
	"github.com/stacklok/fedmcp/pkg/provider/garmin"
	"github.com/stacklok/fedmcp/pkg/provider/strava"
	"github.com/stacklok/fedmcp/pkg/provider/terra"
	"github.com/stacklok/fedmcp/pkg/provider/whoop"
)

// RegisterAll registers every known provider integration into reg.
// terraCache is shared across every Terra provider instance the
// registry constructs, since Terra's data arrives via webhook push
// rather than per-instance polling.
func RegisterAll(reg *provider.Registry, terraCache *terra.WebhookCache) {
	reg.Register(strava.Descriptor(), strava.DefaultConfig(), strava.New)
	reg.Register(garmin.Descriptor(), garmin.DefaultConfig(), garmin.New)
	reg.Register(fitbit.Descriptor(), fitbit.DefaultConfig(), fitbit.New)
	reg.Register(whoop.Descriptor(), whoop.DefaultConfig(), whoop.New)
	reg.Register(terra.Descriptor(), terra.DefaultConfig(), terra.New(terraCache))
}

// Names lists every provider integration's name without constructing a
// registry or any provider instance, so config loading can generate
// per-provider environment keys before a Registry exists.
func Names() []string {
	return []string{
		strava.Descriptor().Name,
		garmin.Descriptor().Name,
		fitbit.Descriptor().Name,
		whoop.Descriptor().Name,
		terra.Descriptor().Name,
	}
}
