package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStoreError_Matches_Its_Category(t *testing.T) {
	req := require.New(t)
	cause := fmt.Errorf("Key not found")

	err := fmt.Errorf("get message: %w", NewStoreError(NotFound, "get", cause))

	req.ErrorIs(err, ErrNotFound)
	req.ErrorIs(err, cause)
	req.NotErrorIs(err, ErrConflict)

	category, ok := CategoryOf(err)
	req.True(ok)
	req.Equal(NotFound, category)
}

func TestCategoryOf_Plain_Error(t *testing.T) {
	_, ok := CategoryOf(stderrors.New("boom"))
	require.False(t, ok)
}

func TestMapToGraphQLError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		code    string
		message string
	}{
		{
			name:    "validation keeps field details",
			err:     NewValidationError(FieldViolation{Field: "from", Rule: "required"}),
			code:    CodeValidation,
			message: "validation failed: from: required",
		},
		{
			name:    "not found hides the engine message",
			err:     NewStoreError(NotFound, "get", fmt.Errorf("Key not found: idx:msg:42")),
			code:    "NOT_FOUND",
			message: "message not found",
		},
		{
			name:    "conflict",
			err:     NewStoreError(Conflict, "commit", fmt.Errorf("Transaction Conflict. Please retry")),
			code:    "CONFLICT",
			message: "write conflict, retry the operation",
		},
		{
			name:    "unavailable",
			err:     fmt.Errorf("list: %w", NewStoreError(Unavailable, "list", fmt.Errorf("DB Closed"))),
			code:    "UNAVAILABLE",
			message: "store unavailable",
		},
		{
			name:    "anything else is internal",
			err:     fmt.Errorf("unexpected"),
			code:    CodeInternal,
			message: "internal error",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			var gqlErr *GraphQLError
			req.True(stderrors.As(MapToGraphQLError(tt.err), &gqlErr))
			req.Equal(tt.code, gqlErr.Code)
			req.Equal(tt.message, gqlErr.Error())
			req.Equal(tt.code, gqlErr.Extensions()["code"])
		})
	}
}

func TestMapToGraphQLError_Nil(t *testing.T) {
	require.NoError(t, MapToGraphQLError(nil))
}
