// Package metrics is the Prometheus-backed observability surface wired in
// at the relayer process boundary: it implements chainkit/metrics.ChainMetrics
// for the chain adapter and adds relayer-domain counters/gauges for the
// admission gate, queue, wallet pool, and lifecycle manager.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	chainmetrics "github.com/express402/relayer/chainkit/metrics"
	"github.com/express402/relayer/internal/models"
)

// Recorder is the relayer's single metrics sink, safe for concurrent use.
type Recorder struct {
	rpcCallDuration    *prometheus.HistogramVec
	txBuildDuration    *prometheus.HistogramVec
	txSignDuration     *prometheus.HistogramVec
	txBroadcastDuration *prometheus.HistogramVec

	admissionRejects  *prometheus.CounterVec
	jobsByOutcome     *prometheus.CounterVec
	queueDepth        *prometheus.GaugeVec
	walletPoolSize    *prometheus.GaugeVec
}

// NewRecorder registers every relayer metric against reg and returns the
// recorder. Pass prometheus.NewRegistry() in tests to avoid collisions with
// the default global registry.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		rpcCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "relayer",
			Subsystem: "chain",
			Name:      "rpc_call_duration_seconds",
			Help:      "Duration of chain adapter RPC calls.",
		}, []string{"method", "success"}),
		txBuildDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "relayer",
			Subsystem: "chain",
			Name:      "tx_build_duration_seconds",
			Help:      "Duration of transaction build calls.",
		}, []string{"chain_id", "success"}),
		txSignDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "relayer",
			Subsystem: "chain",
			Name:      "tx_sign_duration_seconds",
			Help:      "Duration of transaction sign calls.",
		}, []string{"chain_id", "success"}),
		txBroadcastDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "relayer",
			Subsystem: "chain",
			Name:      "tx_broadcast_duration_seconds",
			Help:      "Duration of transaction broadcast calls.",
		}, []string{"chain_id", "success"}),
		admissionRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relayer",
			Subsystem: "admission",
			Name:      "rejects_total",
			Help:      "Admission gate rejections by reason.",
		}, []string{"reason"}),
		jobsByOutcome: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relayer",
			Subsystem: "lifecycle",
			Name:      "jobs_total",
			Help:      "Jobs reaching each terminal or retry outcome.",
		}, []string{"outcome"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "relayer",
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Visible queue depth by priority class.",
		}, []string{"priority"}),
		walletPoolSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "relayer",
			Subsystem: "wallet_pool",
			Name:      "wallets",
			Help:      "Wallet pool size by state.",
		}, []string{"state"}),
	}

	reg.MustRegister(
		r.rpcCallDuration,
		r.txBuildDuration,
		r.txSignDuration,
		r.txBroadcastDuration,
		r.admissionRejects,
		r.jobsByOutcome,
		r.queueDepth,
		r.walletPoolSize,
	)
	return r
}

// RecordRPCCall implements chainkit/metrics.ChainMetrics.
func (r *Recorder) RecordRPCCall(method string, duration time.Duration, success bool) {
	r.rpcCallDuration.WithLabelValues(method, successLabel(success)).Observe(duration.Seconds())
}

// RecordTransactionBuild implements chainkit/metrics.ChainMetrics.
func (r *Recorder) RecordTransactionBuild(chainID string, duration time.Duration, success bool) {
	r.txBuildDuration.WithLabelValues(chainID, successLabel(success)).Observe(duration.Seconds())
}

// RecordTransactionSign implements chainkit/metrics.ChainMetrics.
func (r *Recorder) RecordTransactionSign(chainID string, duration time.Duration, success bool) {
	r.txSignDuration.WithLabelValues(chainID, successLabel(success)).Observe(duration.Seconds())
}

// RecordTransactionBroadcast implements chainkit/metrics.ChainMetrics.
func (r *Recorder) RecordTransactionBroadcast(chainID string, duration time.Duration, success bool) {
	r.txBroadcastDuration.WithLabelValues(chainID, successLabel(success)).Observe(duration.Seconds())
}

// RecordReject increments the admission-reject counter for reason.
func (r *Recorder) RecordReject(reason models.RejectReason) {
	r.admissionRejects.WithLabelValues(string(reason)).Inc()
}

// RecordJobOutcome increments the terminal/retry-outcome counter.
func (r *Recorder) RecordJobOutcome(outcome models.JobOutcome) {
	r.jobsByOutcome.WithLabelValues(string(outcome)).Inc()
}

// SetQueueDepth reports the current visible depth for one priority class.
func (r *Recorder) SetQueueDepth(priority models.Priority, depth int64) {
	r.queueDepth.WithLabelValues(string(priority)).Set(float64(depth))
}

// SetWalletPoolState reports the current wallet count in one state.
func (r *Recorder) SetWalletPoolState(state models.WalletState, count int) {
	r.walletPoolSize.WithLabelValues(string(state)).Set(float64(count))
}

func successLabel(success bool) string {
	if success {
		return "true"
	}
	return "false"
}

var _ chainmetrics.ChainMetrics = (*Recorder)(nil)
