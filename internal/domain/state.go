package domain

var intentTransitions = map[string]map[string]struct{}{
	IntentStatusRequiresPaymentMethod: {
		IntentStatusRequiresConfirmation: {},
		IntentStatusRequiresAction:       {},
		IntentStatusProcessing:           {},
		IntentStatusSucceeded:            {},
		IntentStatusFailed:               {},
		IntentStatusCanceled:             {},
	},
	IntentStatusRequiresConfirmation: {
		IntentStatusRequiresAction: {},
		IntentStatusProcessing:     {},
		IntentStatusSucceeded:      {},
		IntentStatusFailed:         {},
		IntentStatusCanceled:       {},
	},
	IntentStatusRequiresAction: {
		IntentStatusProcessing: {},
		IntentStatusSucceeded:  {},
		IntentStatusFailed:     {},
		IntentStatusCanceled:   {},
	},
	IntentStatusProcessing: {
		IntentStatusSucceeded: {},
		IntentStatusFailed:    {},
		IntentStatusCanceled:  {},
	},
	IntentStatusSucceeded: {},
	IntentStatusFailed:    {},
	IntentStatusCanceled:  {},
}

var escrowTransitions = map[string]map[string]struct{}{
	EscrowStatusPending: {
		EscrowStatusHeld: {},
	},
	EscrowStatusHeld: {
		EscrowStatusReleased: {},
		EscrowStatusDisputed: {},
	},
	EscrowStatusDisputed: {
		EscrowStatusReleased: {},
		EscrowStatusRefunded: {},
	},
	EscrowStatusReleased: {},
	EscrowStatusRefunded: {},
}

// IntentTerminal reports whether a payment intent status is final.
func IntentTerminal(status string) bool {
	switch status {
	case IntentStatusSucceeded, IntentStatusFailed, IntentStatusCanceled:
		return true
	}
	return false
}

// IntentCancelable reports whether a cancel request is legal from status.
func IntentCancelable(status string) bool {
	switch status {
	case IntentStatusRequiresPaymentMethod, IntentStatusRequiresConfirmation, IntentStatusRequiresAction:
		return true
	}
	return false
}

// CanTransitionIntent reports whether current -> next is a legal intent move.
func CanTransitionIntent(current, next string) bool {
	nexts, ok := intentTransitions[current]
	if !ok {
		return false
	}
	_, ok = nexts[next]
	return ok
}

// EscrowTerminal reports whether an escrow status is final.
func EscrowTerminal(status string) bool {
	return status == EscrowStatusReleased || status == EscrowStatusRefunded
}

// CanTransitionEscrow reports whether current -> next is a legal escrow move.
func CanTransitionEscrow(current, next string) bool {
	nexts, ok := escrowTransitions[current]
	if !ok {
		return false
	}
	_, ok = nexts[next]
	return ok
}
