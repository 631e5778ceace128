package report

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "sensorguard"

func sensorGauge(name, help string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		},
		[]string{"sensor"},
	)
}

// NewRegistry exposes the summary as gauges labelled by sensor.
func NewRegistry(s *Summary) (*prometheus.Registry, error) {
	var (
		anomalyRate = sensorGauge("anomaly_rate", "Fraction of test samples flagged as anomalous")
		anomalies   = sensorGauge("anomalies", "Number of test samples flagged as anomalous")
		threshold   = sensorGauge("threshold", "Reconstruction error threshold")
		errorMean   = sensorGauge("error_mean", "Mean reconstruction error on the test set")
		errorStd    = sensorGauge("error_std", "Standard deviation of the test reconstruction error")
		risk        = sensorGauge("risk_level", "Mean relative overshoot of the error above the threshold")
		trend       = sensorGauge("trend", "Relative change of the error from the first to the last tenth of the run")
		silhouette  = sensorGauge("silhouette", "Silhouette of the anomalous and normal error clusters")
		avgCorr     = sensorGauge("average_correlation", "Mean error correlation with the other sensors")
		malfunction = sensorGauge("malfunction", "1 for the sensor reported as malfunctioning")
		notable     = sensorGauge("notable", "1 for sensors with a situation finding")
	)

	reg := prometheus.NewRegistry()
	for _, c := range []prometheus.Collector{
		anomalyRate, anomalies, threshold, errorMean, errorStd, risk, trend,
		silhouette, avgCorr, malfunction, notable,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	flagged := make(map[string]bool, len(s.Findings))
	for _, f := range s.Findings {
		flagged[f.Sensor] = true
	}

	for i, sensor := range s.Sensors {
		m := sensor.Metrics
		anomalyRate.WithLabelValues(sensor.Name).Set(m.AnomalyRate)
		anomalies.WithLabelValues(sensor.Name).Set(float64(sensor.Anomalies))
		threshold.WithLabelValues(sensor.Name).Set(sensor.Threshold)
		errorMean.WithLabelValues(sensor.Name).Set(m.ErrorMean)
		errorStd.WithLabelValues(sensor.Name).Set(m.ErrorStd)
		risk.WithLabelValues(sensor.Name).Set(m.RiskLevel)
		trend.WithLabelValues(sensor.Name).Set(m.Trend)
		silhouette.WithLabelValues(sensor.Name).Set(m.Silhouette)

		if i < len(s.Averages) {
			avgCorr.WithLabelValues(sensor.Name).Set(s.Averages[i])
		}
		malfunction.WithLabelValues(sensor.Name).Set(boolValue(s.Malfunction != nil && s.Malfunction.Sensor == sensor.Name))
		notable.WithLabelValues(sensor.Name).Set(boolValue(flagged[sensor.Name]))
	}

	return reg, nil
}

// WritePrometheus writes the summary in the Prometheus text format, for
// example for the node exporter textfile collector.
func WritePrometheus(path string, s *Summary) error {
	reg, err := NewRegistry(s)
	if err != nil {
		return err
	}
	return prometheus.WriteToTextfile(path, reg)
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
