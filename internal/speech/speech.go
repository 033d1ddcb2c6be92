// Package speech adapts external speech recognition and synthesis engines.
//
// Capture is single-shot: one Listen call yields exactly one of a transcript,
// ErrNoSpeech or an error. Output plays at most one utterance at a time.
package speech

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrUnavailable means the engine is not installed or not configured.
	ErrUnavailable = errors.New("speech capability unavailable")
	// ErrNoSpeech means capture finished without recognizing anything.
	ErrNoSpeech = errors.New("no speech detected")
)

// EngineError reports a failure inside the recognition engine itself.
type EngineError struct {
	Detail string
	Err    error
}

func (e *EngineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("speech engine error: %s: %v", e.Detail, e.Err)
	}
	return "speech engine error: " + e.Detail
}

func (e *EngineError) Unwrap() error { return e.Err }

// Recognizer captures one utterance and returns its final transcript.
type Recognizer interface {
	Listen(ctx context.Context) (string, error)
}

// Synthesizer speaks text and returns when the utterance is finished or ctx
// is cancelled.
type Synthesizer interface {
	Speak(ctx context.Context, text string) error
}

// Voice is the output side used by the conversation: Say replaces whatever
// is currently playing, Cancel silences it.
type Voice interface {
	Say(text string)
	Cancel()
}

// Unavailable is a Recognizer for platforms without speech capture.
type Unavailable struct{}

func (Unavailable) Listen(context.Context) (string, error) { return "", ErrUnavailable }
