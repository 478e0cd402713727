package entity

import "errors"

var (
	// Conversation errors
	ErrInvalidConversationID = errors.New("invalid conversation id")
	ErrEmptyUserID           = errors.New("empty user id")

	// Message errors
	ErrInvalidRole = errors.New("invalid message role")

	// File errors
	ErrUnsupportedFile = errors.New("unsupported file type")
	ErrEmptyFile       = errors.New("empty file")
)
