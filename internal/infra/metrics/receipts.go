package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(receiptValidationsTotal)
}

var receiptValidationsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "receipt_validations_total",
		Help: "Receipt validations by platform and outcome (ok/invalid).",
	},
	[]string{"platform", "outcome"},
)

func IncReceiptValidation(platform, outcome string) {
	receiptValidationsTotal.WithLabelValues(norm(platform), norm(outcome)).Inc()
}
