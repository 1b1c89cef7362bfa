package errors

import "fmt"

var (
	ErrWorkerPanic = fmt.Errorf("worker panic")

	// Connection lifecycle
	ErrUnauthorized = fmt.Errorf("missing or invalid authentication token")
	ErrUserNotFound = fmt.Errorf("user not found")

	// Request lifecycle
	ErrChatNotFound     = fmt.Errorf("chat not found")
	ErrNotParticipant   = fmt.Errorf("sender is not a participant of the chat")
	ErrMissingRecipient = fmt.Errorf("recipientId is required when chatId is not provided")
	ErrMessageNotFound  = fmt.Errorf("message not found")
	ErrEmptyContent     = fmt.Errorf("message content is empty")
	ErrContentTooLong   = fmt.Errorf("message content exceeds the maximum length")

	// Chat directory invariants
	ErrParticipantCount  = fmt.Errorf("invalid participant count for chat kind")
	ErrGroupNameRequired = fmt.Errorf("group chats require a name")

	// Queue / worker lifecycle
	ErrJobMalformed = fmt.Errorf("chat job is missing its participant list")

	// Moderation
	ErrEmptyWords = fmt.Errorf("no censored words have been found")
)
