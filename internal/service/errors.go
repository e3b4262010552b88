package service

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the settlement services. The API layer maps
// these onto problem responses; anything else is a 500.
var (
	ErrValidation                 = errors.New("validation failed")
	ErrNotFound                   = errors.New("not found")
	ErrFraudBlocked               = errors.New("payment blocked by fraud gate")
	ErrInvalidStateTransition     = errors.New("invalid state transition")
	ErrInsufficientEscrowBalance  = errors.New("insufficient escrow balance")
	ErrGatewayFailure             = errors.New("gateway request failed")
	ErrPaymentDeclined            = errors.New("payment declined")
	ErrPayoutDeclined             = errors.New("payout declined")
	ErrPayoutAccountNotEligible   = errors.New("payout account not eligible")
	ErrAmountBelowPayoutMinimum   = errors.New("amount below payout minimum")
	ErrEventRecordMissing         = errors.New("no local record for event")
	ErrInvalidSignature           = errors.New("invalid signature")
	ErrHoldNotExpired             = errors.New("escrow hold has not expired")
	ErrUnsupportedCurrency        = errors.New("unsupported currency")
	ErrEscrowNotDisputed          = errors.New("escrow is not disputed")
)

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrValidation}, args...)...)
}
