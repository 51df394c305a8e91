package chat

import (
	"errors"
	"fmt"
)

// ErrorKind groups error codes by how a transport should present them.
type ErrorKind string

const (
	KindValidation    ErrorKind = "validation"
	KindAuthorization ErrorKind = "authorization"
	KindNotFound      ErrorKind = "not_found"
	KindModeration    ErrorKind = "moderation"
	KindStorage       ErrorKind = "storage"
)

type ErrorCode string

const (
	CodeNotLoggedIn         ErrorCode = "NOT_LOGGED_IN"
	CodeNoPermission        ErrorCode = "NO_PERMISSION"
	CodeNoHistoryPermission ErrorCode = "NO_HISTORY_PERMISSION"
	CodeBanned              ErrorCode = "BANNED"
	CodeInsufficientPosts   ErrorCode = "INSUFFICIENT_POSTS"
	CodeEmptyMessage        ErrorCode = "EMPTY_MESSAGE"
	CodeMessageTooLong      ErrorCode = "MESSAGE_TOO_LONG"
	CodeWhisperDisabled     ErrorCode = "WHISPER_DISABLED"
	CodeRecipientNotFound   ErrorCode = "RECIPIENT_NOT_FOUND"
	CodeWhisperSelf         ErrorCode = "WHISPER_SELF"
	CodeFloodDetected       ErrorCode = "FLOOD_DETECTED"
	CodeMessageNotFound     ErrorCode = "MESSAGE_NOT_FOUND"
	CodeMessageUnchanged    ErrorCode = "MESSAGE_UNCHANGED"
	CodeNoMessagesFound     ErrorCode = "NO_MESSAGES_FOUND"
	CodeNoNewMessages       ErrorCode = "NO_NEW_MESSAGES"
	CodeBanTimeTooShort     ErrorCode = "BAN_TIME_TOO_SHORT"
	CodeBanTimeTooLong      ErrorCode = "BAN_TIME_TOO_LONG"
	CodeUserNotFound        ErrorCode = "USER_NOT_FOUND"
	CodeCannotBanSelf       ErrorCode = "CANNOT_BAN_SELF"
	CodeAlreadyBanned       ErrorCode = "ALREADY_BANNED"
	CodeNotBanned           ErrorCode = "NOT_BANNED"
	CodeStorage             ErrorCode = "STORAGE_ERROR"
)

// Error is the single error type returned by the chat service. Message is
// safe to show to the caller; Err carries the underlying cause, if any.
type Error struct {
	Kind    ErrorKind
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("chat: %s (%s)", e.Code, e.Message)
	}
	return fmt.Sprintf("chat: %s (%s): %v", e.Code, e.Message, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches any *Error with the same code, so the exported sentinels work
// with errors.Is even after their message has been formatted.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// Sentinels for errors.Is. Messages containing verbs are formatted by the
// service before they are returned.
var (
	ErrNotLoggedIn         = &Error{Kind: KindAuthorization, Code: CodeNotLoggedIn, Message: "You are not logged in"}
	ErrNoPermission        = &Error{Kind: KindAuthorization, Code: CodeNoPermission, Message: "You do not have permission to use the chat"}
	ErrNoHistoryPermission = &Error{Kind: KindAuthorization, Code: CodeNoHistoryPermission, Message: "You do not have permission to view the chat history"}
	ErrBanned              = &Error{Kind: KindAuthorization, Code: CodeBanned, Message: "You are banned from the chat"}
	ErrInsufficientPosts   = &Error{Kind: KindAuthorization, Code: CodeInsufficientPosts, Message: "You need at least %d posts to write in the chat, you have %d"}
	ErrEmptyMessage        = &Error{Kind: KindValidation, Code: CodeEmptyMessage, Message: "Your message cannot be empty"}
	ErrMessageTooLong      = &Error{Kind: KindValidation, Code: CodeMessageTooLong, Message: "Your message is too long (%d characters), it can be at most %d characters"}
	ErrWhisperDisabled     = &Error{Kind: KindAuthorization, Code: CodeWhisperDisabled, Message: "You do not have permission to send whispers"}
	ErrRecipientNotFound   = &Error{Kind: KindValidation, Code: CodeRecipientNotFound, Message: "The user you are trying to whisper does not exist"}
	ErrWhisperSelf         = &Error{Kind: KindValidation, Code: CodeWhisperSelf, Message: "You cannot whisper yourself"}
	ErrFloodDetected       = &Error{Kind: KindValidation, Code: CodeFloodDetected, Message: "Please wait %d seconds between messages"}
	ErrMessageNotFound     = &Error{Kind: KindNotFound, Code: CodeMessageNotFound, Message: "The selected message was not found"}
	ErrMessageUnchanged    = &Error{Kind: KindValidation, Code: CodeMessageUnchanged, Message: "Your message must be different when editing"}
	ErrNoMessagesFound     = &Error{Kind: KindNotFound, Code: CodeNoMessagesFound, Message: "No messages found in the chat"}
	ErrNoNewMessages       = &Error{Kind: KindNotFound, Code: CodeNoNewMessages, Message: "No new messages found"}
	ErrBanTimeTooShort     = &Error{Kind: KindModeration, Code: CodeBanTimeTooShort, Message: "The ban time must be at least %d minutes"}
	ErrBanTimeTooLong      = &Error{Kind: KindModeration, Code: CodeBanTimeTooLong, Message: "The ban time can be at most %d minutes"}
	ErrUserNotFound        = &Error{Kind: KindModeration, Code: CodeUserNotFound, Message: "The user %q does not exist"}
	ErrCannotBanSelf       = &Error{Kind: KindModeration, Code: CodeCannotBanSelf, Message: "You cannot ban yourself"}
	ErrAlreadyBanned       = &Error{Kind: KindModeration, Code: CodeAlreadyBanned, Message: "The user %s is already banned"}
	ErrNotBanned           = &Error{Kind: KindModeration, Code: CodeNotBanned, Message: "The user %s is not banned"}
	ErrStorage             = &Error{Kind: KindStorage, Code: CodeStorage, Message: "The chat is temporarily unavailable, please try again later"}
)

// withArgs returns a copy of base with its message formatted.
func withArgs(base *Error, args ...any) *Error {
	e := *base
	e.Message = fmt.Sprintf(base.Message, args...)
	return &e
}

// storageError hides driver failures behind the generic storage error.
func storageError(op string, err error) *Error {
	e := *ErrStorage
	e.Err = fmt.Errorf("%s: %w", op, err)
	return &e
}

// AsError extracts the chat error from err. Errors of any other type are
// reported as storage failures.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var chatErr *Error
	if errors.As(err, &chatErr) {
		return chatErr
	}
	return storageError("unexpected", err)
}
