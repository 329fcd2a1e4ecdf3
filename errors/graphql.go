package errors

import (
	stderrors "errors"

	"github.com/samber/lo"
)

const (
	CodeValidation = "VALIDATION_ERROR"
	CodeInternal   = "INTERNAL"
)

// GraphQLError is the typed rejection handed back to a GraphQL client.
// graphql-go copies Extensions into the response "extensions" member.
type GraphQLError struct {
	Code    string
	Message string
	Fields  []FieldViolation
}

func (e *GraphQLError) Error() string { return e.Message }

func (e *GraphQLError) Extensions() map[string]interface{} {
	ext := map[string]interface{}{"code": e.Code}
	if len(e.Fields) > 0 {
		ext["fields"] = lo.Map(e.Fields, func(f FieldViolation, _ int) map[string]string {
			return map[string]string{"field": f.Field, "rule": f.Rule}
		})
	}
	return ext
}

// MapToGraphQLError converts a domain error into a client-facing rejection
// without leaking storage internals.
func MapToGraphQLError(err error) error {
	if err == nil {
		return nil
	}
	var validationErr *ValidationError
	var storeErr *StoreError
	switch {
	case stderrors.As(err, &validationErr):
		return &GraphQLError{Code: CodeValidation, Message: validationErr.Error(), Fields: validationErr.Violations}
	case stderrors.As(err, &storeErr):
		return &GraphQLError{Code: string(storeErr.Category), Message: publicMessage(storeErr.Category)}
	default:
		return &GraphQLError{Code: CodeInternal, Message: "internal error"}
	}
}

func publicMessage(c Category) string {
	switch c {
	case NotFound:
		return "message not found"
	case Conflict:
		return "write conflict, retry the operation"
	default:
		return "store unavailable"
	}
}
