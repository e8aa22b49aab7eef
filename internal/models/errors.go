package models

import "errors"

var ErrNotFound = errors.New("requested resource not found")
var ErrForbidden = errors.New("user does not have permission to access this resource")
var ErrConflict = errors.New("resource conflict, state changed underneath the request")
var ErrInvalidToken = errors.New("token not found or expired")

// ErrOrderNotCancellable indicates a cancel attempt on an order that has
// already been delivered or cancelled.
var ErrOrderNotCancellable = errors.New("order can no longer be cancelled")

// ErrInsufficientStock indicates a product could not cover the requested
// quantity at reservation time.
var ErrInsufficientStock = errors.New("insufficient stock for requested quantity")

// ErrAgentUnavailable indicates no delivery agent in the registry is free.
// Callers fall back to a synthesized agent rather than failing checkout.
var ErrAgentUnavailable = errors.New("no delivery agent available")

var ErrOrderNotPayable = errors.New("order is not awaiting payment")
