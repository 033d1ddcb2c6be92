package chatbot

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"VoiceChat/internal/backend"
	"VoiceChat/internal/session"
	"VoiceChat/internal/speech"
)

var (
	ErrEmptyMessage = errors.New("empty message")
	ErrEmptyName    = errors.New("empty display name")
)

// Failure is the only error type that leaves the conversation layer. Message
// is ready to show to the user.
type Failure struct {
	Message string
	Err     error
}

func (f *Failure) Error() string { return f.Message }

func (f *Failure) Unwrap() error { return f.Err }

// Describe turns err into a sentence for the user.
func Describe(err error) string {
	var (
		statusErr *backend.StatusError
		urlErr    *url.Error
		failure   *Failure
		engineErr *speech.EngineError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &failure):
		return failure.Message
	case errors.Is(err, speech.ErrUnavailable):
		return "Speech recognition is not available on this system."
	case errors.Is(err, speech.ErrNoSpeech):
		return "No speech was detected. Please try again."
	case errors.As(err, &engineErr):
		return fmt.Sprintf("Speech recognition error: %s", engineErr.Detail)
	case errors.Is(err, ErrEmptyName):
		return "Please enter a name to start a session."
	case errors.Is(err, session.ErrNoSession):
		return "Please log in before sending a message."
	case errors.Is(err, session.ErrSessionEnded):
		return "The session ended before the reply arrived."
	case errors.Is(err, backend.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "The inference server did not answer in time. Please try again."
	case errors.Is(err, context.Canceled):
		return "The request was cancelled."
	case errors.As(err, &statusErr):
		return fmt.Sprintf("The inference server returned an error (%s).", statusErr.Status)
	case errors.As(err, &urlErr):
		return "Unable to reach the inference server. Check that it is running."
	default:
		return fmt.Sprintf("Unexpected error: %v", err)
	}
}
