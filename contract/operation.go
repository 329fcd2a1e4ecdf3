package contract

import (
	"context"
	"net/http"

	"message-board/errors"
)

// Caller holds the transport handles of the client behind an operation.
// The core never looks inside.
type Caller struct {
	Request  *http.Request
	Response http.ResponseWriter
}

// Operation is the per-operation context built by the transport:
// a freshly forked UnitOfWork plus the caller's IO handles.
type Operation struct {
	UnitOfWork UnitOfWork
	Caller     Caller
}

type operationKey struct{}

// WithOperation attaches op to ctx so the GraphQL resolvers can hand it to the dispatcher.
func WithOperation(ctx context.Context, op Operation) context.Context {
	return context.WithValue(ctx, operationKey{}, op)
}

func OperationFrom(ctx context.Context) (Operation, error) {
	op, ok := ctx.Value(operationKey{}).(Operation)
	if !ok || op.UnitOfWork == nil {
		return Operation{}, errors.ErrMissingOperation
	}
	return op, nil
}
