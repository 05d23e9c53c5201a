package invoicestatus

// Outcome is the decision of the transition function for one incoming target
// state.
type Outcome int

const (
	// OutcomeAdvanced means the target state is strictly later in the
	// canonical ordering and the transition is applied.
	OutcomeAdvanced Outcome = iota
	// OutcomeNoop means the target equals the current state. Re-applying the
	// same state is not an error; duplicate deliveries land here.
	OutcomeNoop
	// OutcomeConflict means the target would move the invoice backward (or
	// sideways out of a terminal state). The transition is not applied and
	// the attempt is recorded as an anomaly.
	OutcomeConflict
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAdvanced:
		return "advanced"
	case OutcomeNoop:
		return "noop"
	case OutcomeConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// Decide applies the monotonic-progression rule: a transition is accepted
// only when target is strictly later than current in the canonical ordering,
// or when it re-applies the current state. Everything else is a conflict,
// which under at-least-once, unordered delivery almost always means a late
// notification.
func Decide(current, target Status) Outcome {
	if current == target {
		return OutcomeNoop
	}
	if target.Rank() > current.Rank() {
		return OutcomeAdvanced
	}
	return OutcomeConflict
}
