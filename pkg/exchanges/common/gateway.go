package common

import (
	"context"
	"errors"
	"fmt"
)

// Gateway abstracts a trading venue.
type Gateway interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	GetOrderStatus(ctx context.Context, symbol, orderID string) (OrderResult, error)
	GetBalance(ctx context.Context) (Balance, error)
	GetOpenPositions(ctx context.Context) ([]Holding, error)
	GetMarketPrice(ctx context.Context, symbol string) (float64, error)
}

// ErrGateway matches every GatewayError through errors.Is.
var ErrGateway = errors.New("gateway error")

// GatewayError carries the upstream message of a failed venue call.
type GatewayError struct {
	Op      string
	Message string
	Err     error
}

func (e *GatewayError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("gateway %s: %s", e.Op, e.Message)
	}
	return fmt.Sprintf("gateway %s: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

func (e *GatewayError) Is(target error) bool { return target == ErrGateway }

// WrapError builds a GatewayError for op from an upstream error.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	var ge *GatewayError
	if errors.As(err, &ge) {
		return err
	}
	return &GatewayError{Op: op, Message: err.Error(), Err: err}
}
