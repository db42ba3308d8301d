package dispatch

import (
	"context"
	"math"
	"time"

	"github.com/stacklok/fedmcp/pkg/domain"
	"github.com/stacklok/fedmcp/pkg/provider"
)

// Recovery-score composition weights, full mode (activity + sleep + HRV)
// vs. no-HRV mode (activity + sleep only). TSB-only mode uses the TSB
// component alone. Grounded on original_source's
// RecoveryAggregationAlgorithm::WeightedAverage shape; the exact
// numeric defaults live in a config subsystem outside this module's
// scope, so these are this port's own reasonable constants rather than
// a reproduction of the original's.
const (
	tsbWeightFull    = 0.4
	sleepWeightFull  = 0.4
	hrvWeightFull    = 0.2
	tsbWeightNoHRV   = 0.6
	sleepWeightNoHRV = 0.4
)

// invokeCalculateRecoveryScore implements spec.md §4.6 step 6: fetch
// training load from the activity-capable provider and sleep/HRV from
// the sleep-capable provider independently, degrading to a TSB-only
// score if the sleep leg is unavailable or errors.
func invokeCalculateRecoveryScore(ctx context.Context, d *Dispatcher, principal Principal, activityProviderName string, activityFP provider.FitnessProvider, params any) (any, domain.DataCompleteness, []string, error) {
	r := params.(rangeParams)
	start, end := r.Start, r.End
	if end.IsZero() {
		end = time.Now().UTC()
	}
	if start.IsZero() {
		start = end.AddDate(0, 0, -28)
	}

	activities, err := activityFP.GetActivitiesWithParams(ctx, provider.ActivityQueryParams{Limit: 200})
	if err != nil {
		return nil, "", nil, wrapProviderErr(err)
	}
	tsb := computeTSB(activities, end)

	providersUsed := []string{activityProviderName}

	sleepProviderName, selectErr := d.selectProvider(ctx, principal, "", domain.CapabilitySleep)
	if selectErr != nil {
		// No connected sleep provider at all: documented degradation,
		// not a failure (spec.md §4.6 step 6).
		return tsbOnlyResult(tsb), domain.DataCompletenessTSBOnly, providersUsed, nil
	}

	sleepFP, err := d.buildProvider(ctx, sleepProviderName, principal, false)
	if err != nil {
		return tsbOnlyResult(tsb), domain.DataCompletenessTSBOnly, providersUsed, nil
	}

	session, err := sleepFP.GetLatestSleepSession(ctx)
	if err != nil {
		// Sleep side errored: degrade rather than fail the whole call.
		return tsbOnlyResult(tsb), domain.DataCompletenessTSBOnly, providersUsed, nil
	}
	providersUsed = append(providersUsed, sleepProviderName)

	sleepScore := sleepQualityScore(session)
	result := domain.RecoveryScore{
		TSBWeight:         tsbWeightNoHRV,
		SleepWeight:       sleepWeightNoHRV,
		HRVWeight:         0,
		DataCompleteness:  domain.DataCompletenessFull,
		TrainingReadiness: trainingReadiness(tsb),
	}
	overall := tsbWeightNoHRV*tsb + sleepWeightNoHRV*float64(sleepScore)

	if session.HRV != nil {
		hrvScore := hrvScoreFrom(*session.HRV)
		result.TSBWeight = tsbWeightFull
		result.SleepWeight = sleepWeightFull
		result.HRVWeight = hrvWeightFull
		overall = tsbWeightFull*tsb + sleepWeightFull*float64(sleepScore) + hrvWeightFull*hrvScore
	}

	result.OverallScore = clampScore(overall)
	result.Category = recoveryCategory(result.OverallScore)
	return result, domain.DataCompletenessFull, providersUsed, nil
}

func tsbOnlyResult(tsb float64) domain.RecoveryScore {
	score := clampScore(tsb)
	return domain.RecoveryScore{
		OverallScore:      score,
		TSBWeight:         1,
		DataCompleteness:  domain.DataCompletenessTSBOnly,
		Category:          recoveryCategory(score),
		TrainingReadiness: trainingReadiness(tsb),
		Limitations:       []string{"no connected sleep provider; recovery score reflects training stress balance only"},
	}
}

// computeTSB approximates training stress balance as the gap between
// short-term (7-day) and long-term (28-day) training load, normalized
// into a 0-100 scale centered on 50 (balanced).
func computeTSB(activities []domain.Activity, asOf time.Time) float64 {
	var load7, load28 float64
	for _, a := range activities {
		days := asOf.Sub(a.StartTime).Hours() / 24
		if days < 0 || days > 28 {
			continue
		}
		impulse := trainingImpulse(a)
		load28 += impulse
		if days <= 7 {
			load7 += impulse
		}
	}

	acuteDaily := load7 / 7
	chronicDaily := load28 / 28
	if chronicDaily == 0 {
		return 50
	}
	ratio := acuteDaily / chronicDaily
	// ratio < 1 (under-loaded recently) reads as fresher/more recovered.
	return clampFloat(50+(1-ratio)*50, 0, 100)
}

func trainingImpulse(a domain.Activity) float64 {
	minutes := float64(a.DurationSecs) / 60
	if a.AvgHR != nil {
		return minutes * float64(*a.AvgHR) / 100
	}
	return minutes
}

func sleepQualityScore(s domain.SleepSession) int {
	if s.SleepScore != nil {
		return *s.SleepScore
	}
	return clampScore(s.EfficiencyPercent)
}

func hrvScoreFrom(hrv float64) float64 {
	// Without a personal baseline, map HRV onto a broad, clamped 0-100
	// band; a real deployment would compare against the user's own
	// rolling baseline (see original_source's analyze_hrv_trends).
	return clampFloat(hrv, 0, 100)
}

func trainingReadiness(tsb float64) string {
	switch {
	case tsb >= 60:
		return "high"
	case tsb >= 40:
		return "moderate"
	default:
		return "low"
	}
}

func recoveryCategory(score int) string {
	switch {
	case score >= 80:
		return "excellent"
	case score >= 60:
		return "good"
	case score >= 40:
		return "fair"
	default:
		return "poor"
	}
}

func clampScore(v float64) int {
	return int(math.Round(clampFloat(v, 0, 100)))
}

func clampFloat(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
