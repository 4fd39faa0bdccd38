// Package metrics exposes Prometheus counters for the events an
// embedding service would want to alert on: locked-mode
// encodes, successful unlocks, share conflicts, and partial-verify
// false positives.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the counters registered against one Registry.
type Metrics struct {
	EncodesTotal          *prometheus.CounterVec
	VerifiesTotal         *prometheus.CounterVec
	ShareConflictsTotal   prometheus.Counter
	PartialFalsePositives prometheus.Counter
	PossibleBreakIns      prometheus.Counter
	Unlocks               prometheus.Counter
	SweptAccountsTotal    prometheus.Counter
}

// New creates the counters and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EncodesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pph",
			Name:      "encodes_total",
			Help:      "Number of passwords encoded, labeled by engine state at encode time.",
		}, []string{"state"}),
		VerifiesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pph",
			Name:      "verifies_total",
			Help:      "Number of verify attempts, labeled by result.",
		}, []string{"result"}),
		ShareConflictsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pph",
			Name:      "share_conflicts_total",
			Help:      "Number of times two different passwords recovered conflicting shares for the same share number.",
		}),
		PartialFalsePositives: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pph",
			Name:      "partial_false_positives_total",
			Help:      "Number of partial-verification matches that failed the full comparison (possible database leak).",
		}),
		PossibleBreakIns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pph",
			Name:      "possible_break_ins_total",
			Help:      "Number of partial-verify records that disagreed with their stored hash during the post-unlock audit.",
		}),
		Unlocks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pph",
			Name:      "unlocks_total",
			Help:      "Number of times the engine transitioned from locked to unlocked.",
		}),
		SweptAccountsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pph",
			Name:      "swept_accounts_total",
			Help:      "Number of locked account entries upgraded by the user sweeper after an unlock.",
		}),
	}

	reg.MustRegister(
		m.EncodesTotal,
		m.VerifiesTotal,
		m.ShareConflictsTotal,
		m.PartialFalsePositives,
		m.PossibleBreakIns,
		m.Unlocks,
		m.SweptAccountsTotal,
	)

	return m
}
