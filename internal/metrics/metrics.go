package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics tracks query attempts, query outcomes and document parsing.
type Metrics struct {
	QueryAttempts *prometheus.CounterVec
	QueryOutcomes *prometheus.CounterVec
	Parses        *prometheus.CounterVec
	OCRDuration   *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

// New registers all metrics with reg.
func New(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		QueryAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "idverify_query_attempts_total",
			Help: "Penalty query attempts by result",
		}, []string{"result"}),
		QueryOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "idverify_query_outcomes_total",
			Help: "Finished penalty queries by outcome",
		}, []string{"outcome"}),
		Parses: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "idverify_parse_total",
			Help: "Parsed documents by type and success",
		}, []string{"document", "success"}),
		OCRDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "idverify_ocr_duration_seconds",
			Help:    "Duration of OCR calls by engine",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"engine"}),
		gatherer: reg,
	}
}

// AttemptFinished records one query attempt.
func (m *Metrics) AttemptFinished(success bool) {
	result := "failed"
	if success {
		result = "success"
	}
	m.QueryAttempts.WithLabelValues(result).Inc()
}

// QueryFinished records the outcome of a whole query.
func (m *Metrics) QueryFinished(outcome string) {
	m.QueryOutcomes.WithLabelValues(outcome).Inc()
}

// DocumentParsed records one parse.
func (m *Metrics) DocumentParsed(documentType string, success bool) {
	m.Parses.WithLabelValues(documentType, strconv.FormatBool(success)).Inc()
}

// ObserveOCR records the duration of an OCR call.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveOCR(engine string, start time.Time) {
	m.OCRDuration.WithLabelValues(engine).Observe(time.Since(start).Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
