package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	voteRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mtt_vote_requests_total",
		Help: "Vote submissions received, labeled by outcome",
	}, []string{"status"})

	otpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mtt_otp_requests_total",
		Help: "OTP sends and checks against the verification provider",
	}, []string{"kind", "status"})

	smsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mtt_sms_sent_total",
		Help: "Confirmation SMS delivery attempts by the worker",
	}, []string{"status"})

	smsDeliveryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mtt_sms_delivery_duration_seconds",
		Help:    "Time to deliver one queued SMS",
		Buckets: prometheus.DefBuckets,
	})
)

func ObserveVoteRequest(status string) {
	voteRequestsTotal.WithLabelValues(status).Inc()
}

func ObserveOTPRequest(kind, status string) {
	otpRequestsTotal.WithLabelValues(kind, status).Inc()
}

func ObserveSMSSent(status string) {
	smsSentTotal.WithLabelValues(status).Inc()
}

func ObserveSMSDeliveryDuration(seconds float64) {
	smsDeliveryDuration.Observe(seconds)
}
