package dispatch

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/stacklok/fedmcp/pkg/apperr"
	"github.com/stacklok/fedmcp/pkg/domain"
	"github.com/stacklok/fedmcp/pkg/provider"
)

var zeroTime time.Time

// includeDetailsFanoutLimit bounds the N+1 per-activity detail calls
// triggered by the include_details argument (spec.md §9 open question,
// resolved in favor of a bounded fan-out).
const includeDetailsFanoutLimit = 4

// ToolHandler is one dispatchable tool: its required capability (for
// auto-selection), a parameter parser, whether its reads are safe to
// wrap with the caching provider, and its invocation logic.
type ToolHandler struct {
	Name               string
	RequiredCapability domain.Capability
	Cacheable          bool
	Parse              func(args map[string]any) (any, error)
	// Invoke returns the response content, the data-completeness tag
	// (DataCompletenessFull for single-provider tools), and the list of
	// provider names actually consulted.
	Invoke func(ctx context.Context, d *Dispatcher, principal Principal, providerName string, fp provider.FitnessProvider, params any) (any, domain.DataCompleteness, []string, error)
}

func registerBuiltinHandlers(d *Dispatcher) {
	d.Register(&ToolHandler{
		Name:               "get_athlete",
		RequiredCapability: domain.CapabilityActivities,
		Cacheable:          true,
		Parse:              func(map[string]any) (any, error) { return nil, nil },
		Invoke: func(ctx context.Context, _ *Dispatcher, _ Principal, providerName string, fp provider.FitnessProvider, _ any) (any, domain.DataCompleteness, []string, error) {
			athlete, err := fp.GetAthlete(ctx)
			if err != nil {
				return nil, "", nil, wrapProviderErr(err)
			}
			return athlete, domain.DataCompletenessFull, []string{providerName}, nil
		},
	})

	d.Register(&ToolHandler{
		Name:               "get_activities",
		RequiredCapability: domain.CapabilityActivities,
		Cacheable:          true,
		Parse: func(args map[string]any) (any, error) {
			return activitiesParams{
				Limit:          argInt(args, "limit", 30),
				Offset:         argInt(args, "offset", 0),
				IncludeDetails: argBool(args, "include_details", false),
			}, nil
		},
		Invoke: invokeGetActivities,
	})

	d.Register(&ToolHandler{
		Name:               "get_activity",
		RequiredCapability: domain.CapabilityActivities,
		Cacheable:          true,
		Parse: func(args map[string]any) (any, error) {
			id, err := argRequiredString(args, "activity_id")
			if err != nil {
				return nil, err
			}
			return id, nil
		},
		Invoke: func(ctx context.Context, _ *Dispatcher, _ Principal, providerName string, fp provider.FitnessProvider, params any) (any, domain.DataCompleteness, []string, error) {
			activity, err := fp.GetActivity(ctx, params.(string))
			if err != nil {
				return nil, "", nil, wrapProviderErr(err)
			}
			return activity, domain.DataCompletenessFull, []string{providerName}, nil
		},
	})

	d.Register(&ToolHandler{
		Name:               "get_stats",
		RequiredCapability: domain.CapabilityActivities,
		Cacheable:          true,
		Parse:              func(map[string]any) (any, error) { return nil, nil },
		Invoke: func(ctx context.Context, _ *Dispatcher, _ Principal, providerName string, fp provider.FitnessProvider, _ any) (any, domain.DataCompleteness, []string, error) {
			stats, err := fp.GetStats(ctx)
			if err != nil {
				return nil, "", nil, wrapProviderErr(err)
			}
			return stats, domain.DataCompletenessFull, []string{providerName}, nil
		},
	})

	d.Register(&ToolHandler{
		Name:               "get_personal_records",
		RequiredCapability: domain.CapabilityActivities,
		Cacheable:          true,
		Parse:              func(map[string]any) (any, error) { return nil, nil },
		Invoke: func(ctx context.Context, _ *Dispatcher, _ Principal, providerName string, fp provider.FitnessProvider, _ any) (any, domain.DataCompleteness, []string, error) {
			records, err := fp.GetPersonalRecords(ctx)
			if err != nil {
				return nil, "", nil, wrapProviderErr(err)
			}
			return records, domain.DataCompletenessFull, []string{providerName}, nil
		},
	})

	d.Register(&ToolHandler{
		Name:               "get_sleep_sessions",
		RequiredCapability: domain.CapabilitySleep,
		Cacheable:          true,
		Parse: func(args map[string]any) (any, error) {
			return rangeParams{
				Start: argTime(args, "start", zeroTime),
				End:   argTime(args, "end", zeroTime),
			}, nil
		},
		Invoke: func(ctx context.Context, _ *Dispatcher, _ Principal, providerName string, fp provider.FitnessProvider, params any) (any, domain.DataCompleteness, []string, error) {
			r := params.(rangeParams)
			sessions, err := fp.GetSleepSessions(ctx, r.Start, r.End)
			if err != nil {
				return nil, "", nil, wrapProviderErr(err)
			}
			return sessions, domain.DataCompletenessFull, []string{providerName}, nil
		},
	})

	d.Register(&ToolHandler{
		Name:               "get_latest_sleep_session",
		RequiredCapability: domain.CapabilitySleep,
		Cacheable:          true,
		Parse:              func(map[string]any) (any, error) { return nil, nil },
		Invoke: func(ctx context.Context, _ *Dispatcher, _ Principal, providerName string, fp provider.FitnessProvider, _ any) (any, domain.DataCompleteness, []string, error) {
			session, err := fp.GetLatestSleepSession(ctx)
			if err != nil {
				return nil, "", nil, wrapProviderErr(err)
			}
			return session, domain.DataCompletenessFull, []string{providerName}, nil
		},
	})

	d.Register(&ToolHandler{
		Name:               "get_health_metrics",
		RequiredCapability: domain.CapabilityHealth,
		Cacheable:          true,
		Parse: func(args map[string]any) (any, error) {
			return rangeParams{
				Start: argTime(args, "start", zeroTime),
				End:   argTime(args, "end", zeroTime),
			}, nil
		},
		Invoke: func(ctx context.Context, _ *Dispatcher, _ Principal, providerName string, fp provider.FitnessProvider, params any) (any, domain.DataCompleteness, []string, error) {
			r := params.(rangeParams)
			metrics, err := fp.GetHealthMetrics(ctx, r.Start, r.End)
			if err != nil {
				return nil, "", nil, wrapProviderErr(err)
			}
			return metrics, domain.DataCompletenessFull, []string{providerName}, nil
		},
	})

	d.Register(&ToolHandler{
		Name: "calculate_recovery_score",
		// RequiredCapability selects the activity (training-load) leg;
		// invokeCalculateRecoveryScore auto-selects the sleep leg itself.
		RequiredCapability: domain.CapabilityActivities,
		Cacheable:          false,
		Parse: func(args map[string]any) (any, error) {
			return rangeParams{
				Start: argTime(args, "start", zeroTime),
				End:   argTime(args, "end", zeroTime),
			}, nil
		},
		Invoke: invokeCalculateRecoveryScore,
	})
}

type activitiesParams struct {
	Limit          int
	Offset         int
	IncludeDetails bool
}

type rangeParams struct {
	Start, End time.Time
}

func invokeGetActivities(ctx context.Context, _ *Dispatcher, _ Principal, providerName string, fp provider.FitnessProvider, params any) (any, domain.DataCompleteness, []string, error) {
	p := params.(activitiesParams)
	activities, err := fp.GetActivitiesWithParams(ctx, provider.ActivityQueryParams{Limit: p.Limit, Offset: p.Offset})
	if err != nil {
		return nil, "", nil, wrapProviderErr(err)
	}
	if !p.IncludeDetails || len(activities) == 0 {
		return activities, domain.DataCompletenessFull, []string{providerName}, nil
	}

	detailed := make([]domain.Activity, len(activities))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(includeDetailsFanoutLimit)
	for i, a := range activities {
		i, a := i, a
		g.Go(func() error {
			detail, err := fp.GetActivity(gctx, a.ID)
			if err != nil {
				// Detail fetch is best-effort: fall back to the summary
				// row already in hand rather than failing the whole call.
				detailed[i] = a
				return nil
			}
			detailed[i] = detail
			return nil
		})
	}
	_ = g.Wait() // every goroutine above already swallows its own error
	return detailed, domain.DataCompletenessFull, []string{providerName}, nil
}

func wrapProviderErr(err error) error {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return apperr.Wrap(apperr.KindProviderAPIError, "provider call failed", err)
}
