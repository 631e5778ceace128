// Package awareness summarizes a sensor's reconstruction errors into
// interpretable metrics and points out sensors that stand apart from the rest.
package awareness

import (
	"github.com/hed1ad/sensorguard/pkg/stats"
)

// riskEpsilon keeps the risk ratio finite for a zero threshold.
const riskEpsilon = 1e-10

// Metrics is the situation summary of one sensor's test errors.
type Metrics struct {
	AnomalyRate float64 `json:"anomaly_rate"`
	ErrorMean   float64 `json:"error_mean"`
	ErrorStd    float64 `json:"error_std"`
	// RiskLevel is the mean overshoot of the errors above the threshold,
	// relative to the threshold. Errors below the threshold count as zero.
	RiskLevel float64 `json:"risk_level"`
	// Trend is the relative change of the mean error between the first and
	// the last tenth of the series.
	Trend float64 `json:"trend"`
	// Silhouette of the errors split by anomaly flag, -1 when the split is
	// degenerate.
	Silhouette float64 `json:"silhouette_score"`
}

// Compute derives the metrics for errors flagged against threshold.
// flags must be parallel to errors.
func Compute(errors []float64, flags []bool, threshold float64) Metrics {
	var m Metrics
	if len(errors) == 0 {
		m.Silhouette = stats.DegenerateSilhouette
		return m
	}

	var flagged int
	for _, f := range flags {
		if f {
			flagged++
		}
	}
	m.AnomalyRate = float64(flagged) / float64(len(errors))
	m.ErrorMean, m.ErrorStd = stats.MeanStd(errors)

	var overshoot float64
	for _, e := range errors {
		if e > threshold {
			overshoot += (e - threshold) / (threshold + riskEpsilon)
		}
	}
	m.RiskLevel = overshoot / float64(len(errors))

	m.Trend = stats.RelativeTrend(errors)
	m.Silhouette = stats.SilhouetteOrDegenerate(errors, flags)
	return m
}
