package errors

// ErrorCode represents a machine-readable error identifier for client error handling.
type ErrorCode string

// Request validation errors
const (
	ErrCodeInvalidRequest       ErrorCode = "invalid_request"
	ErrCodeInvalidAmount        ErrorCode = "invalid_amount"
	ErrCodeMissingRequiredField ErrorCode = "missing_required_field"
	ErrCodeInvalidFieldType     ErrorCode = "invalid_field_type"
	ErrCodeInvalidFieldValue    ErrorCode = "invalid_field_value"
	ErrCodeModelNotSupported    ErrorCode = "model_not_supported"
)

// Payment and authorization errors
const (
	ErrCodeInvalidPayment       ErrorCode = "invalid_payment"
	ErrCodePaymentAlreadyUsed   ErrorCode = "payment_already_used"
	ErrCodeMissingToken         ErrorCode = "missing_token"
	ErrCodeInvalidToken         ErrorCode = "invalid_token"
	ErrCodeInvalidAuthorization ErrorCode = "invalid_authorization"
	ErrCodeInvalidL402          ErrorCode = "invalid_l402"
	ErrCodeAccountRequired      ErrorCode = "account_required"
	ErrCodeForbidden            ErrorCode = "forbidden"
	ErrCodePaymentRequired      ErrorCode = "payment_required"
	ErrCodeInsufficientPayment  ErrorCode = "insufficient_payment"
	ErrCodeInsufficientBalance  ErrorCode = "insufficient_balance"
)

// Resource and state errors
const (
	ErrCodeNotFound        ErrorCode = "not_found"
	ErrCodeAPINotFound     ErrorCode = "api_not_found"
	ErrCodeInvalidState    ErrorCode = "invalid_state"
	ErrCodeRequestTooLarge ErrorCode = "request_too_large"
	ErrCodeDailyLimit      ErrorCode = "daily_limit_reached"
)

// Upstream and service errors
const (
	ErrCodeUpstreamError      ErrorCode = "upstream_error"
	ErrCodeServerError        ErrorCode = "server_error"
	ErrCodePhoenixUnavailable ErrorCode = "phoenix_unavailable"
	ErrCodeTopupUnavailable   ErrorCode = "topup_unavailable"
	ErrCodeHireUnavailable    ErrorCode = "hire_unavailable"
)

// HTTPStatus returns the HTTP status code for this error.
func (e ErrorCode) HTTPStatus() int {
	switch e {
	case ErrCodeInvalidRequest,
		ErrCodeInvalidAmount,
		ErrCodeMissingRequiredField,
		ErrCodeInvalidFieldType,
		ErrCodeInvalidFieldValue,
		ErrCodeModelNotSupported,
		ErrCodeInvalidPayment,
		ErrCodePaymentAlreadyUsed,
		ErrCodeMissingToken:
		return 400

	case ErrCodeInvalidToken,
		ErrCodeInvalidAuthorization,
		ErrCodeInvalidL402,
		ErrCodeAccountRequired:
		return 401

	case ErrCodePaymentRequired,
		ErrCodeInsufficientPayment,
		ErrCodeInsufficientBalance:
		return 402

	case ErrCodeForbidden:
		return 403

	case ErrCodeNotFound,
		ErrCodeAPINotFound:
		return 404

	case ErrCodeInvalidState:
		return 409

	case ErrCodeRequestTooLarge:
		return 413

	case ErrCodeDailyLimit:
		return 429

	case ErrCodeUpstreamError:
		return 502

	case ErrCodePhoenixUnavailable,
		ErrCodeTopupUnavailable,
		ErrCodeHireUnavailable:
		return 503

	default:
		return 500
	}
}
