package main

import (
	"strings"

	"message-board/infrastructure/storage"

	"github.com/mama165/sdk-go/database"
)

// MessageMapper renders badger entries for the debug inspector.
func MessageMapper(key string, val []byte) database.InspectRow {
	row := database.DefaultMapper(key, val)
	if !strings.HasPrefix(key, storage.MessagePrefix) {
		row.Type = "INDEX"
		return row
	}

	message, err := storage.DecodeMessage(val)
	if err != nil {
		row.Detail = "Error: decode failed"
		return row
	}
	row.Type = "MESSAGE"
	row.Detail = message.From + ": " + message.Content
	return row
}
