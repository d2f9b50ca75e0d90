package conversation

import "errors"

var (
	ErrUnknownConversation = errors.New("unknown conversation")
	ErrUnknownMessage      = errors.New("unknown message")
	ErrNotAuthenticated    = errors.New("not authenticated")
	ErrNotRetryable        = errors.New("message is not in a failed state")
	ErrNoPendingApproval   = errors.New("message has no pending approval")
	ErrEmptyMessage        = errors.New("message is empty")
	ErrEmptyTitle          = errors.New("title is empty")
)
