package engine

import "errors"

var (
	ErrNotFound           = errors.New("portfolio or position not found")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrInsufficientShares = errors.New("insufficient shares")
	ErrInvalidInput       = errors.New("invalid input")
	ErrConcurrencyConflict = errors.New("concurrent update conflict, retry the operation")
)
