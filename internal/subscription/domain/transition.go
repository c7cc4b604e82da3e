package domain

var allowedTransitions = map[SubscriptionStatus][]SubscriptionStatus{
	SubscriptionStatusTrialing: {SubscriptionStatusActive, SubscriptionStatusPastDue, SubscriptionStatusCanceled},
	SubscriptionStatusActive:   {SubscriptionStatusPastDue, SubscriptionStatusCanceled},
	SubscriptionStatusPastDue:  {SubscriptionStatusActive, SubscriptionStatusCanceled},
	SubscriptionStatusPaused:   {SubscriptionStatusActive, SubscriptionStatusCanceled},
}

// CanTransition reports whether a subscription may move from one status to
// another. CANCELED is terminal.
func CanTransition(from, to SubscriptionStatus) bool {
	for _, target := range allowedTransitions[from] {
		if target == to {
			return true
		}
	}
	return false
}
