package awareness

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hed1ad/sensorguard/pkg/stats"
)

// Limits of the interpretation rule.
const (
	// DeviationFactor is how many cross-sensor standard deviations a risk or
	// trend must exceed the cross-sensor mean by.
	DeviationFactor = 2.0
	// MinSilhouette is the separation below which anomalies are considered
	// poorly separated from normal operation.
	MinSilhouette = 0.9
)

// Reason names why a sensor is notable.
type Reason string

const (
	ReasonRisk       Reason = "risk"
	ReasonTrend      Reason = "trend"
	ReasonSilhouette Reason = "silhouette"
)

// Finding is a descriptive note about a notable sensor.
type Finding struct {
	Sensor  string   `json:"sensor"`
	Reasons []Reason `json:"reasons"`
	Message string   `json:"message"`
}

// Assess returns findings for sensors whose risk or trend exceeds the
// cross-sensor mean by more than DeviationFactor standard deviations, or
// whose silhouette is below MinSilhouette. Findings are ordered by sensor.
func Assess(metrics map[string]Metrics) []Finding {
	names := make([]string, 0, len(metrics))
	for name := range metrics {
		names = append(names, name)
	}
	sort.Strings(names)

	risks := make([]float64, len(names))
	trends := make([]float64, len(names))
	for i, name := range names {
		risks[i] = metrics[name].RiskLevel
		trends[i] = metrics[name].Trend
	}
	riskMean, riskStd := stats.MeanStd(risks)
	trendMean, trendStd := stats.MeanStd(trends)

	var findings []Finding
	for i, name := range names {
		m := metrics[name]
		var reasons []Reason
		var parts []string

		if risks[i] > riskMean+DeviationFactor*riskStd {
			reasons = append(reasons, ReasonRisk)
			parts = append(parts, fmt.Sprintf("risk %.4f above cross-sensor mean %.4f", risks[i], riskMean))
		}
		if trends[i] > trendMean+DeviationFactor*trendStd {
			reasons = append(reasons, ReasonTrend)
			parts = append(parts, fmt.Sprintf("trend %+.2f%% above cross-sensor mean %+.2f%%", trends[i]*100, trendMean*100))
		}
		if m.Silhouette < MinSilhouette {
			reasons = append(reasons, ReasonSilhouette)
			parts = append(parts, fmt.Sprintf("silhouette %.3f below %.1f", m.Silhouette, MinSilhouette))
		}

		if len(reasons) == 0 {
			continue
		}
		findings = append(findings, Finding{
			Sensor:  name,
			Reasons: reasons,
			Message: strings.Join(parts, "; "),
		})
	}
	return findings
}
