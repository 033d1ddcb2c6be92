package chatbot

import (
	"context"
	"fmt"
	"strings"

	"VoiceChat/internal/backend"
	"VoiceChat/internal/cache"
	"VoiceChat/internal/health"
	"VoiceChat/internal/session"
	"VoiceChat/internal/speech"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// SendMessage records content as a user message, asks the inference server
// for a reply, appends it and speaks it.
//
// Blank content is ignored with ErrEmptyMessage. Otherwise the user message
// is kept even when the exchange fails, and the error is a *Failure.
// Concurrent calls are served one after the other.
func (cb *ChatBot) SendMessage(ctx context.Context, content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", ErrEmptyMessage
	}

	cb.sendMu.Lock()
	defer cb.sendMu.Unlock()

	ctx, span := cb.tracer.Start(ctx, "send_message")
	defer span.End()

	snap := cb.sessions.Snapshot()
	if !snap.Active {
		return "", cb.fail(session.ErrNoSession)
	}

	userMsg := session.NewMessage(session.RoleUser, content)
	if err := cb.sessions.Append(snap.ID, userMsg); err != nil {
		return "", cb.fail(err)
	}
	cb.notify(Event{Type: EventMessage, Message: &userMsg})
	cb.voice.Cancel()

	req := cb.buildRequest(snap.Username, snap.Messages, content)
	span.SetAttributes(
		attribute.String("session.id", snap.ID),
		attribute.Int("history.length", len(snap.Messages)),
	)

	ctx, cancel := context.WithTimeout(ctx, cb.config.RequestTimeout())
	defer cancel()

	reply, err := cb.complete(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if cb.failures != nil {
			cb.failures.Add(ctx, 1)
		}
		cb.logger.Error("failed to send message", "session_id", snap.ID, "error", err)
		return "", cb.fail(err)
	}

	assistantMsg := session.NewMessage(session.RoleAssistant, reply)
	if err := cb.sessions.Append(snap.ID, assistantMsg); err != nil {
		// Logged out or expired while waiting; the reply belongs to nobody.
		cb.logger.Warn("dropping reply for ended session", "session_id", snap.ID, "error", err)
		return "", &Failure{Message: Describe(err), Err: err}
	}
	cb.notify(Event{Type: EventMessage, Message: &assistantMsg})
	cb.voice.Say(reply)
	cb.sessions.ResetIdleTimer()
	cb.setLastError("")

	if cb.exchanges != nil {
		cb.exchanges.Add(ctx, 1)
	}
	cb.logger.Info("exchange completed",
		"session_id", snap.ID,
		"model", req.Model,
		"history_length", len(snap.Messages)+2)
	return reply, nil
}

// Listen captures one utterance and sends its transcript.
func (cb *ChatBot) Listen(ctx context.Context) (transcript, reply string, err error) {
	if !cb.sessions.Active() {
		return "", "", cb.fail(session.ErrNoSession)
	}
	cb.voice.Cancel()

	transcript, err = cb.recognizer.Listen(ctx)
	if err != nil {
		cb.logger.Warn("speech capture failed", "error", err)
		return "", "", cb.fail(err)
	}
	cb.logger.Debug("transcript captured", "length", len(transcript))

	reply, err = cb.SendMessage(ctx, transcript)
	return transcript, reply, err
}

// SpeechFailed records a capture failure reported by a remote recognizer.
// An empty detail or "no-speech" means nothing was heard.
func (cb *ChatBot) SpeechFailed(detail string) error {
	var err error
	switch detail {
	case "", "no-speech":
		err = speech.ErrNoSpeech
	case "not-allowed", "service-not-allowed", "unavailable":
		err = fmt.Errorf("%w: %s", speech.ErrUnavailable, detail)
	default:
		err = &speech.EngineError{Detail: detail}
	}
	cb.logger.Warn("speech capture failed", "error", err)
	return cb.fail(err)
}

// buildRequest lays out the system instruction, the prior history and the
// new user content, in that order.
func (cb *ChatBot) buildRequest(username string, history []session.Message, content string) backend.OllamaRequest {
	messages := make([]backend.ChatMessage, 0, len(history)+2)
	messages = append(messages, backend.ChatMessage{
		Role:    "system",
		Content: systemPrompt(cb.config.SystemPrompt, username),
	})
	for _, msg := range history {
		messages = append(messages, backend.ChatMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}
	messages = append(messages, backend.ChatMessage{
		Role:    session.RoleUser,
		Content: content,
	})

	return backend.OllamaRequest{
		Model:    cb.Model(),
		Messages: messages,
		Stream:   false,
		Options:  backend.DeterministicOptions(),
	}
}

func systemPrompt(template, username string) string {
	if strings.Contains(template, "%s") {
		return fmt.Sprintf(template, username)
	}
	return template
}

// complete returns a cached reply for req or asks the server. The cache is
// bypassed while the server is known to be offline so its failure surfaces.
// A blank reply is a success carrying the configured fallback sentence.
func (cb *ChatBot) complete(ctx context.Context, req backend.OllamaRequest) (string, error) {
	var cacheKey string
	if cb.cache != nil && cb.monitor.Status() != health.StatusOffline {
		cacheKey = cache.GenerateCacheKey(req)
		if cached, ok := cb.cache.Get(cacheKey); ok {
			cb.logger.Info("cache hit", "key", cacheKey[:16])
			if cb.cacheHits != nil {
				cb.cacheHits.Add(ctx, 1)
			}
			return cached, nil
		}
	}

	reply, err := cb.client.Chat(ctx, req)
	if err != nil {
		return "", err
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		cb.logger.Warn("inference server returned an empty reply", "model", req.Model)
		return cb.config.EmptyReply, nil
	}

	if cacheKey != "" {
		cb.cache.Put(cacheKey, reply)
	}
	return reply, nil
}
