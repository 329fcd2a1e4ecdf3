package domain

// CreateMessageCommand is the intent behind a createMessage mutation.
type CreateMessageCommand struct {
	From    string `json:"from" validate:"required"`
	Content string `json:"content" validate:"required"`
}

// UpdateMessageCommand replaces the content of an existing message.
// ID is the canonical hyphenated form; upper case is folded before validation.
type UpdateMessageCommand struct {
	ID      string `json:"id" validate:"required,uuid"`
	Content string `json:"content" validate:"required"`
}
