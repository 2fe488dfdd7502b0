package services

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewDomainError(t *testing.T) {
	baseErr := errors.New("base error")
	domainErr := NewDomainError(ErrorTypeNotFound, "resource not found", baseErr)

	assert.Equal(t, ErrorTypeNotFound, domainErr.Type)
	assert.Equal(t, "resource not found", domainErr.Message)
	assert.Equal(t, baseErr, domainErr.Err)
	assert.NotNil(t, domainErr.Details)
}

func TestDomainError_Error(t *testing.T) {
	tests := []struct {
		name    string
		err     *DomainError
		wantMsg string
	}{
		{
			name: "error with wrapped error",
			err: &DomainError{
				Type:    ErrorTypeNotFound,
				Message: "agent not found",
				Err:     errors.New("db error"),
			},
			wantMsg: "not_found: agent not found (db error)",
		},
		{
			name: "error without wrapped error",
			err: &DomainError{
				Type:    ErrorTypeValidation,
				Message: "invalid input",
				Err:     nil,
			},
			wantMsg: "validation: invalid input",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantMsg, tt.err.Error())
		})
	}
}

func TestDomainError_Unwrap(t *testing.T) {
	baseErr := errors.New("base error")
	domainErr := NewDomainError(ErrorTypeInternal, "internal error", baseErr)

	unwrapped := errors.Unwrap(domainErr)
	assert.Equal(t, baseErr, unwrapped)
}

func TestDomainError_Is(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
		want   bool
	}{
		{
			name:   "same error type",
			err:    NewDomainError(ErrorTypeNotFound, "not found", nil),
			target: ErrAgentNotFound,
			want:   true,
		},
		{
			name:   "different error type",
			err:    NewDomainError(ErrorTypeValidation, "validation", nil),
			target: ErrAgentNotFound,
			want:   false,
		},
		{
			name:   "not a domain error",
			err:    NewDomainError(ErrorTypeNotFound, "not found", nil),
			target: errors.New("regular error"),
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errors.Is(tt.err, tt.target))
		})
	}
}

func TestDomainError_WithDetail(t *testing.T) {
	t.Run("chained details accumulate", func(t *testing.T) {
		err := NewDomainError(ErrorTypeValidation, "validation error", nil).
			WithDetail("field", "amount_cents").
			WithDetail("value", -100)

		assert.Equal(t, "amount_cents", err.Details["field"])
		assert.Equal(t, -100, err.Details["value"])
	})

	t.Run("leaves the receiver untouched", func(t *testing.T) {
		detailed := ErrAgentNotFound.WithDetail("agent_id", "a-1")

		assert.NotSame(t, ErrAgentNotFound, detailed)
		assert.Empty(t, ErrAgentNotFound.Details, "sentinel must stay immutable")
		assert.Equal(t, "a-1", detailed.Details["agent_id"])
		assert.ErrorIs(t, detailed, ErrAgentNotFound)
	})

	t.Run("copies never share details", func(t *testing.T) {
		first := ErrLockTimeout.WithDetail("org_id", "org-a")
		second := ErrLockTimeout.WithDetail("org_id", "org-b")

		assert.Equal(t, "org-a", first.Details["org_id"])
		assert.Equal(t, "org-b", second.Details["org_id"])
	})
}

func TestErrorTypeCheckers(t *testing.T) {
	tests := []struct {
		name    string
		checker func(error) bool
		err     error
		want    bool
	}{
		{"not found", IsNotFoundError, ErrOrganizationNotFound, true},
		{"wrapped not found", IsNotFoundError, fmt.Errorf("wrapped: %w", ErrAgentNotFound), true},
		{"not found on validation", IsNotFoundError, ErrInvalidAmount, false},
		{"validation", IsValidationError, ErrMissingReason, true},
		{"unauthorized", IsUnauthorizedError, ErrInvalidToken, true},
		{"forbidden", IsForbiddenError, ErrOrgMismatch, true},
		{"insufficient funds", IsInsufficientFundsError, ErrInsufficientFunds, true},
		{"insufficient funds covers budget exhausted", IsInsufficientFundsError, ErrBudgetExhausted, true},
		{"velocity", IsVelocityError, ErrHardLimitBreached, true},
		{"frozen", IsFrozenError, ErrAgentFrozen, true},
		{"frozen is not velocity", IsVelocityError, ErrAgentFrozen, false},
		{"conflict", IsConflictError, ErrDuplicateSettlement, true},
		{"lock timeout", IsLockTimeoutError, ErrLockTimeout, true},
		{"internal", IsInternalError, ErrTransactionFailed, true},
		{"regular error", IsInternalError, errors.New("regular"), false},
		{"nil error", IsNotFoundError, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.checker(tt.err))
		})
	}
}

func TestGetErrorType(t *testing.T) {
	assert.Equal(t, ErrorTypeLockTimeout, GetErrorType(ErrLockTimeout))
	assert.Equal(t, ErrorTypeInsufficientFunds, GetErrorType(fmt.Errorf("wrapped: %w", ErrInsufficientFunds)))
	assert.Equal(t, ErrorType(""), GetErrorType(errors.New("regular")))
}

func TestGetErrorDetails(t *testing.T) {
	err := NewDomainError(ErrorTypeInsufficientFunds, "insufficient funds", nil).
		WithDetail("balance_cents", int64(500))

	details := GetErrorDetails(err)
	assert.Equal(t, int64(500), details["balance_cents"])

	assert.Nil(t, GetErrorDetails(errors.New("regular")))
}

func TestWrapInternal(t *testing.T) {
	baseErr := errors.New("connection refused")
	wrapped := WrapInternal("ledger mutation failed", baseErr)

	assert.True(t, IsInternalError(wrapped))
	assert.Equal(t, baseErr, errors.Unwrap(wrapped))
}
