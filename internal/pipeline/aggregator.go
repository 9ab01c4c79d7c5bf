// Package pipeline turns a session's biomarker readings into its composite
// aggregate. Everything here is a pure computation over values already read
// from the store.
package pipeline

import (
	"math"
	"sort"

	"github.com/autisense/autisense/internal/model"
)

// Composite weights for the overall score.
const (
	WeightGaze  = 0.4
	WeightMotor = 0.3
	WeightVocal = 0.3
)

// DSM-5 domain flag thresholds.
const (
	SocialGazeThreshold      = 0.4
	SocialVocalThreshold     = 0.35
	RestrictedMotorThreshold = 0.35
	RestrictedLatencyMs      = 3000
)

// Aggregate computes the per-session summary for a set of readings.
// It returns nil for no readings. The input slice is not modified, and any
// ordering of the same readings produces an identical result.
func Aggregate(readings []model.Biomarker) *model.BiomarkerAggregate {
	if len(readings) == 0 {
		return nil
	}

	gaze := make([]float64, 0, len(readings))
	motor := make([]float64, 0, len(readings))
	vocal := make([]float64, 0, len(readings))
	var latencies []float64
	for _, r := range readings {
		gaze = append(gaze, r.GazeScore)
		motor = append(motor, r.MotorScore)
		vocal = append(vocal, r.VocalizationScore)
		if r.ResponseLatencyMs != nil {
			latencies = append(latencies, float64(*r.ResponseLatencyMs))
		}
	}

	avgGaze := mean(gaze)
	avgMotor := mean(motor)
	avgVocal := mean(vocal)

	agg := &model.BiomarkerAggregate{
		SessionID:            readings[0].SessionID,
		AvgGazeScore:         Round4(avgGaze),
		AvgMotorScore:        Round4(avgMotor),
		AvgVocalizationScore: Round4(avgVocal),
		SampleCount:          len(readings),
	}
	agg.OverallScore = OverallScore(agg.AvgGazeScore, agg.AvgMotorScore, agg.AvgVocalizationScore)

	var avgLatency float64
	hasLatency := len(latencies) > 0
	if hasLatency {
		avgLatency = mean(latencies)
		rounded := int64(math.Round(avgLatency))
		agg.AvgResponseLatencyMs = &rounded
	}

	// Flags compare the unrounded means.
	agg.Flags = model.DomainFlags{
		SocialCommunication: avgGaze < SocialGazeThreshold || avgVocal < SocialVocalThreshold,
		RestrictedBehavior:  avgMotor < RestrictedMotorThreshold || (hasLatency && avgLatency > RestrictedLatencyMs),
	}
	return agg
}

// OverallScore is the weighted composite of the three domain averages,
// scaled to an integer in [0, 100].
func OverallScore(gaze, motor, vocal float64) int {
	score := int(math.Round((gaze*WeightGaze + motor*WeightMotor + vocal*WeightVocal) * 100))
	return max(0, min(100, score))
}

// Round4 rounds to 4 decimal places, halves away from zero.
func Round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

// mean sorts vals in place before summing so the result does not depend on
// input order. Callers pass slices they own.
func mean(vals []float64) float64 {
	sort.Float64s(vals)

	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}
