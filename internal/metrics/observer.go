package metrics

import "pph"

// Observer adapts Metrics into a pph.Observer, counting Encode/Verify/
// unlock/sweep lifecycle events for the EncodesTotal, VerifiesTotal,
// Unlocks, and SweptAccountsTotal counters declared in metrics.go.
type Observer struct {
	metrics *Metrics
}

// NewObserver wraps m as a pph.Observer.
func NewObserver(m *Metrics) *Observer {
	return &Observer{metrics: m}
}

// EncodeCompleted implements pph.Observer.
func (o *Observer) EncodeCompleted(locked bool) {
	state := "unlocked"
	if locked {
		state = "locked"
	}
	o.metrics.EncodesTotal.WithLabelValues(state).Inc()
}

// VerifyCompleted implements pph.Observer.
func (o *Observer) VerifyCompleted(result pph.Result) {
	o.metrics.VerifiesTotal.WithLabelValues(result.String()).Inc()
}

// Unlocked implements pph.Observer.
func (o *Observer) Unlocked() {
	o.metrics.Unlocks.Inc()
}

// AccountsSwept implements pph.Observer.
func (o *Observer) AccountsSwept(n int) {
	if n <= 0 {
		return
	}
	o.metrics.SweptAccountsTotal.Add(float64(n))
}
