package telemetry

// TokenStats is a set of token counts together with their cost.
type TokenStats struct {
	TokenCounts
	CostBreakdown
}

// Ledger keeps the most recent response's stats and the running session sum.
type Ledger struct {
	current TokenStats
	session TokenStats
}

// Apply prices delta at rates, replaces the current view with it and adds it
// to the session total. Deltas must be applied in arrival order.
func (l *Ledger) Apply(delta TokenCounts, rates PricingConfig) (current, session TokenStats) {
	costs := CalculateCosts(delta, rates)
	l.current = TokenStats{TokenCounts: delta, CostBreakdown: costs}
	l.session = TokenStats{
		TokenCounts:   l.session.TokenCounts.add(delta),
		CostBreakdown: l.session.CostBreakdown.add(costs),
	}
	return l.current, l.session
}

// Current returns the stats of the last applied response.
func (l *Ledger) Current() TokenStats { return l.current }

// Session returns the running totals since the last reset.
func (l *Ledger) Session() TokenStats { return l.session }

// Reset zeroes the session totals and leaves current untouched.
func (l *Ledger) Reset() { l.session = TokenStats{} }

// ClearCurrent zeroes the most recent response view.
func (l *Ledger) ClearCurrent() { l.current = TokenStats{} }

func (l *Ledger) restore(session TokenStats) {
	l.session = session
	l.current = TokenStats{}
}
