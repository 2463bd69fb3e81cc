// Package metrics defines the observability surface chainkit RPC clients and
// adapters record against. Concrete implementations live outside this
// module: the relayer process wires a Prometheus-backed implementation
// (internal/metrics), tests use NoOpMetrics.
package metrics

import "time"

// ChainMetrics is the recording interface RPC clients and chain adapters call
// into. Implementations MUST be safe for concurrent use.
type ChainMetrics interface {
	RecordRPCCall(method string, duration time.Duration, success bool)
	RecordTransactionBuild(chainID string, duration time.Duration, success bool)
	RecordTransactionSign(chainID string, duration time.Duration, success bool)
	RecordTransactionBroadcast(chainID string, duration time.Duration, success bool)
}

// NoOpMetrics discards everything. Useful in tests and for chainkit
// consumers that don't wire a real recorder.
type NoOpMetrics struct{}

func (NoOpMetrics) RecordRPCCall(method string, duration time.Duration, success bool)              {}
func (NoOpMetrics) RecordTransactionBuild(chainID string, duration time.Duration, success bool)     {}
func (NoOpMetrics) RecordTransactionSign(chainID string, duration time.Duration, success bool)      {}
func (NoOpMetrics) RecordTransactionBroadcast(chainID string, duration time.Duration, success bool) {}

var _ ChainMetrics = NoOpMetrics{}
