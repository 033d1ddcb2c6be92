package speech

import (
	"context"
	"log/slog"
	"sync"
)

// Output drives a Synthesizer so that at most one utterance plays at a time.
// A nil Synthesizer makes every call a no-op.
type Output struct {
	synth  Synthesizer
	logger *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewOutput(synth Synthesizer, logger *slog.Logger) *Output {
	if logger == nil {
		logger = slog.Default()
	}
	return &Output{synth: synth, logger: logger}
}

// Available reports whether an engine is attached.
func (o *Output) Available() bool {
	return o.synth != nil
}

// Say stops the current utterance, waits for it to wind down, then starts
// speaking text in the background.
func (o *Output) Say(text string) {
	if o.synth == nil {
		o.logger.Debug("speech output unavailable, skipping utterance")
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.stopLocked()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	o.cancel, o.done = cancel, done

	go func() {
		defer close(done)
		if err := o.synth.Speak(ctx, text); err != nil && ctx.Err() == nil {
			o.logger.Warn("speech output failed", "error", err)
		}
	}()
}

// Cancel silences the current utterance, if any.
func (o *Output) Cancel() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stopLocked()
}

// Wait blocks until the current utterance finishes.
func (o *Output) Wait() {
	o.mu.Lock()
	done := o.done
	o.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (o *Output) stopLocked() {
	if o.cancel == nil {
		return
	}
	o.cancel()
	<-o.done
	o.cancel, o.done = nil, nil
}
