package apperror

import (
	"fmt"
	"net/http"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // Wrapped internal error (not exposed to client)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// ---- Validation (VAL) ----
// Rejected before any mutation; safe to retry with corrected input.

// Validation returns a generic validation error with a caller message.
func Validation(message string) *AppError {
	return New("VAL_001", message, http.StatusBadRequest)
}

func ErrMissingCustomerWallet() *AppError {
	return New("VAL_002", "Invoice has no customer wallet", http.StatusUnprocessableEntity)
}

func ErrInvalidAmount() *AppError {
	return New("VAL_003", "Amount must be positive", http.StatusBadRequest)
}

func ErrInvalidWalletPairing() *AppError {
	return New("VAL_004", "Invalid from/to wallet pairing for direction source", http.StatusBadRequest)
}

func ErrRefundExceedsPaid() *AppError {
	return New("VAL_005", "Refund amount exceeds total paid on invoice", http.StatusBadRequest)
}

func ErrInvoiceNotPayable() *AppError {
	return New("VAL_006", "Invoice is not open for payment", http.StatusUnprocessableEntity)
}

// ---- Ledger Business Logic (PAY) ----

// ErrInsufficientFunds means the acting wallet cannot cover the debit. Fatal
// to the operation; nothing is applied.
func ErrInsufficientFunds() *AppError {
	return New("PAY_001", "Insufficient balance in wallet", http.StatusPaymentRequired)
}

func ErrNotFound(entity string) *AppError {
	return New("PAY_002", fmt.Sprintf("%s not found", entity), http.StatusNotFound)
}

// ErrNoAvailableAmount means practitioner-invoice aggregation found nothing
// left to invoice across the supplied billable events.
func ErrNoAvailableAmount() *AppError {
	return New("PAY_003", "No available amount to invoice", http.StatusUnprocessableEntity)
}

func ErrPayoutWithoutPayment() *AppError {
	return New("PAY_004", "Invoice has no completed payment to pay out", http.StatusUnprocessableEntity)
}

// ---- System & Infrastructure (SYS) ----

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap("SYS_001", "Internal server error", http.StatusInternalServerError, err)
}

func ErrDatabaseError(err error) *AppError {
	return Wrap("SYS_002", "Internal database error", http.StatusInternalServerError, err)
}

func ErrRateLimitExceeded() *AppError {
	return New("SYS_003", "Rate limit exceeded", http.StatusTooManyRequests)
}
