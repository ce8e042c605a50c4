package models

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vbank/platform/shared/apperr"
)

// ValidateTransfer checks the invariants every transfer request must satisfy
// before any store or downstream call is made.
func ValidateTransfer(from, to uuid.UUID, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return apperr.New(apperr.KindInvalidAmount, "amount must be greater than zero")
	}
	if !amount.Equal(amount.Round(MoneyScale)) {
		return apperr.New(apperr.KindInvalidAmount, "amount must have at most %d decimal places", MoneyScale)
	}
	if from == to {
		return apperr.New(apperr.KindSameAccount, "cannot transfer to the same account")
	}
	return nil
}

// ValidateOpeningBalance checks an account-opening deposit.
func ValidateOpeningBalance(balance decimal.Decimal) error {
	if balance.IsNegative() {
		return apperr.New(apperr.KindInvalidAmount, "initial balance must be non-negative")
	}
	if !balance.Equal(balance.Round(MoneyScale)) {
		return apperr.New(apperr.KindInvalidAmount, "initial balance must have at most %d decimal places", MoneyScale)
	}
	return nil
}
