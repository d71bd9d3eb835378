package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// State table and trust metrics.
//
// Table sizes are sampled by the engine after each event; evictions count
// capacity evictions only, not exits or closes.

var (
	// TableSize is the current number of entries per engine table.
	// Labels:
	//   - table: "process", "file_object", "suppression" or "signature"
	TableSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "vigil",
			Subsystem: "engine",
			Name:      "table_size",
			Help:      "Entries currently held by an engine table",
		},
		[]string{"table"},
	)

	// TableEvictions counts entries removed because a table reached capacity.
	TableEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vigil",
			Subsystem: "engine",
			Name:      "table_evictions_total",
			Help:      "Entries evicted because a table reached its capacity",
		},
		[]string{"table"},
	)

	// TrustVerdicts counts verdicts assigned by the trust evaluator.
	// Labels:
	//   - verdict: "trusted" or "untrusted"
	//   - source: "allowlist", "signature", "kernel" or "error"
	TrustVerdicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vigil",
			Subsystem: "trust",
			Name:      "verdicts_total",
			Help:      "Trust verdicts assigned to processes",
		},
		[]string{"verdict", "source"},
	)

	// SignatureCacheHits counts verdict lookups served from the memo.
	SignatureCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "vigil",
			Subsystem: "trust",
			Name:      "signature_cache_hits_total",
			Help:      "Signature verifications answered from the per-path memo",
		},
	)

	// SignatureVerifications counts calls into the signature verifier.
	SignatureVerifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vigil",
			Subsystem: "trust",
			Name:      "signature_verifications_total",
			Help:      "Calls made to the signature verifier",
		},
		[]string{"result"},
	)

	// SignatureVerifyDuration measures a single verifier call.
	SignatureVerifyDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "vigil",
			Subsystem: "trust",
			Name:      "signature_verify_duration_seconds",
			Help:      "Time spent in the signature verifier",
			Buckets:   prometheus.DefBuckets,
		},
	)
)
