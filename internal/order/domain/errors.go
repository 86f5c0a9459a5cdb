package domain

import "errors"

type Kind string

const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
	KindExternal   Kind = "external"
	KindSecurity   Kind = "security"
)

// Error is the caller-visible failure. Code is stable and safe to expose;
// wrapped detail stays server-side.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

var (
	ErrMissingFields      = &Error{Kind: KindValidation, Code: "missing_fields", Message: "missing required fields"}
	ErrEmptyOrder         = &Error{Kind: KindValidation, Code: "empty_order", Message: "order must contain at least one item"}
	ErrInvalidQuantity    = &Error{Kind: KindValidation, Code: "invalid_quantity", Message: "quantity must be between 1 and 999"}
	ErrInvalidStatus      = &Error{Kind: KindValidation, Code: "invalid_status", Message: "unknown status"}
	ErrInvalidPaymentMode = &Error{Kind: KindValidation, Code: "invalid_payment_method", Message: "unknown payment method"}
	ErrInvalidEvidence    = &Error{Kind: KindValidation, Code: "invalid_evidence", Message: "payment slip must be a jpeg, png, webp or pdf file"}
	ErrInvalidInput       = &Error{Kind: KindValidation, Code: "invalid_input", Message: "malformed request"}

	ErrProductNotFound = &Error{Kind: KindNotFound, Code: "product_not_found", Message: "product not found"}
	ErrOrderNotFound   = &Error{Kind: KindNotFound, Code: "order_not_found", Message: "order not found"}
	ErrPaymentNotFound = &Error{Kind: KindNotFound, Code: "payment_not_found", Message: "payment not found"}
	ErrUserNotFound    = &Error{Kind: KindNotFound, Code: "user_not_found", Message: "user not found"}

	// ErrProductUnavailable is reported as a validation failure of the cart.
	ErrProductUnavailable    = &Error{Kind: KindValidation, Code: "product_unavailable", Message: "product is not available"}
	ErrInvalidTransition     = &Error{Kind: KindConflict, Code: "invalid_transition", Message: "status transition not allowed"}
	ErrPaymentMethodMismatch = &Error{Kind: KindConflict, Code: "payment_method_mismatch", Message: "operation does not match the order's payment method"}
	ErrDuplicate             = &Error{Kind: KindConflict, Code: "duplicate", Message: "resource already exists"}
	ErrIdempotencyKeyReused  = &Error{Kind: KindConflict, Code: "idempotency_key_reused", Message: "idempotency key was used for a different order"}

	ErrPaymentIntentCreationFailed = &Error{Kind: KindExternal, Code: "payment_intent_creation_failed", Message: "payment initiation failed"}
	ErrEvidenceUploadFailed        = &Error{Kind: KindExternal, Code: "evidence_upload_failed", Message: "evidence upload failed"}

	ErrInvalidSignature  = &Error{Kind: KindSecurity, Code: "invalid_signature", Message: "invalid signature"}
	ErrInvalidCredential = &Error{Kind: KindSecurity, Code: "invalid_credentials", Message: "invalid email or password"}
	ErrForbidden         = &Error{Kind: KindSecurity, Code: "forbidden", Message: "not allowed"}
)

// AsError unwraps err to its domain error, if any.
func AsError(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

func IsKind(err error, kind Kind) bool {
	de, ok := AsError(err)
	return ok && de.Kind == kind
}
