// Package graphql binds the board's GraphQL schema to the message service.
package graphql

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"runtime/debug"

	gql "github.com/graph-gophers/graphql-go"
)

//go:embed schema.graphql
var schemaSDL string

// NewSchema parses the embedded SDL against resolver.
// Resolver panics are recovered by the executor and logged on log.
func NewSchema(resolver *Resolver, log *slog.Logger) (*gql.Schema, error) {
	schema, err := gql.ParseSchema(schemaSDL, resolver,
		gql.Logger(panicLogger{log: log}),
		gql.MaxDepth(10),
	)
	if err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	return schema, nil
}

type panicLogger struct {
	log *slog.Logger
}

func (l panicLogger) LogPanic(ctx context.Context, value interface{}) {
	l.log.ErrorContext(ctx, "Resolver panicked", "panic", value, "stack", string(debug.Stack()))
}
