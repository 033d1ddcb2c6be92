package chatbot

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"VoiceChat/internal/backend"
	"VoiceChat/internal/cache"
	"VoiceChat/internal/config"
	"VoiceChat/internal/health"
	"VoiceChat/internal/session"
	"VoiceChat/internal/speech"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// Archiver receives every session when it ends.
type Archiver interface {
	Save(ctx context.Context, sess session.Session, reason session.EndReason) error
}

// Options carries the collaborators of a ChatBot. Nil fields get harmless
// defaults: no-op telemetry, silent voice, unavailable recognizer.
type Options struct {
	Logger     *slog.Logger
	Tracer     trace.Tracer
	Meter      metric.Meter
	HTTPClient *http.Client

	Voice      speech.Voice
	Recognizer speech.Recognizer
	Archive    Archiver
	Observer   Observer
	Cache      *cache.Cache

	// Tick is the idle countdown resolution, one second unless set.
	Tick time.Duration
}

// ChatBot ties the session, the inference server and the speech adapters
// together.
type ChatBot struct {
	config     config.Config
	logger     *slog.Logger
	tracer     trace.Tracer
	client     *backend.Client
	sessions   *session.Manager
	monitor    *health.Monitor
	voice      speech.Voice
	recognizer speech.Recognizer
	archive    Archiver
	observer   Observer
	cache      *cache.Cache

	exchanges metric.Int64Counter
	failures  metric.Int64Counter
	cacheHits metric.Int64Counter

	// sendMu serializes exchanges so history always alternates user/assistant.
	sendMu sync.Mutex

	mu        sync.Mutex
	model     string
	lastError string
}

// NewChatBot creates a new ChatBot instance
func NewChatBot(cfg config.Config, opts Options) (*ChatBot, error) {
	if cfg.ServerURL == "" {
		return nil, fmt.Errorf("server url is required")
	}
	if cfg.EmptyReply == "" {
		cfg.EmptyReply = config.DefaultEmptyReply
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Tracer == nil {
		opts.Tracer = tracenoop.NewTracerProvider().Tracer("chatbot")
	}
	if opts.Meter == nil {
		opts.Meter = noop.NewMeterProvider().Meter("chatbot")
	}
	if opts.Voice == nil {
		opts.Voice = speech.NewOutput(nil, opts.Logger)
	}
	if opts.Recognizer == nil {
		opts.Recognizer = speech.Unavailable{}
	}

	cb := &ChatBot{
		config:     cfg,
		logger:     opts.Logger,
		tracer:     opts.Tracer,
		voice:      opts.Voice,
		recognizer: opts.Recognizer,
		archive:    opts.Archive,
		observer:   opts.Observer,
		cache:      opts.Cache,
		model:      cfg.Model,
	}

	cb.client = backend.NewClient(cfg.ServerURL, backend.ClientOptions{
		HTTPClient: opts.HTTPClient,
		Logger:     opts.Logger,
		Tracer:     opts.Tracer,
		Meter:      opts.Meter,
	})

	cb.sessions = session.NewManager(session.Options{
		IdleTimeout: cfg.IdleDuration(),
		Tick:        opts.Tick,
		Logger:      opts.Logger,
		OnTick: func(remaining time.Duration) {
			cb.notify(Event{Type: EventTick, RemainingMS: remaining.Milliseconds()})
		},
		OnEnd: cb.sessionEnded,
	})

	cb.monitor = health.NewMonitor(cb.client, health.Options{
		Interval: cfg.HealthEvery(),
		Timeout:  cfg.ProbeDuration(),
		Logger:   opts.Logger,
		Meter:    opts.Meter,
		OnChange: func(s health.Status) {
			cb.notify(Event{Type: EventStatus, Status: s})
		},
	})

	var err error
	if cb.exchanges, err = opts.Meter.Int64Counter("chat.exchanges",
		metric.WithDescription("Completed user/assistant exchanges")); err != nil {
		cb.logger.Warn("failed to create counter", "name", "chat.exchanges", "error", err)
	}
	if cb.failures, err = opts.Meter.Int64Counter("chat.failures",
		metric.WithDescription("Failed inference exchanges")); err != nil {
		cb.logger.Warn("failed to create counter", "name", "chat.failures", "error", err)
	}
	if cb.cacheHits, err = opts.Meter.Int64Counter("chat.cache_hits",
		metric.WithDescription("Replies served from the response cache")); err != nil {
		cb.logger.Warn("failed to create counter", "name", "chat.cache_hits", "error", err)
	}

	if cfg.Debug {
		cb.logger.Debug("debug mode enabled")
	}
	return cb, nil
}

// Start begins health polling.
func (cb *ChatBot) Start(ctx context.Context) {
	cb.monitor.Start(ctx)
}

// Close stops both timers and any speech in progress. The active session,
// if any, ends as a logout.
func (cb *ChatBot) Close() {
	cb.monitor.Stop()
	cb.Logout()
}

// Login opens a session for name.
func (cb *ChatBot) Login(name string) (session.Session, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return session.Session{}, cb.fail(ErrEmptyName)
	}
	s := cb.sessions.Start(name)
	cb.setLastError("")
	cb.notify(Event{
		Type:        EventSession,
		Username:    s.Username,
		Active:      true,
		RemainingMS: s.Remaining.Milliseconds(),
	})
	return s, nil
}

// Logout ends the session and silences speech output.
func (cb *ChatBot) Logout() {
	cb.voice.Cancel()
	cb.sessions.End()
}

// Session returns a copy of the current session.
func (cb *ChatBot) Session() session.Session {
	return cb.sessions.Snapshot()
}

// Status returns the last known inference server status.
func (cb *ChatBot) Status() health.Status {
	return cb.monitor.Status()
}

// CheckHealth probes the server right away.
func (cb *ChatBot) CheckHealth(ctx context.Context) health.Status {
	return cb.monitor.Check(ctx)
}

// LastError returns the user-facing message of the last failure.
func (cb *ChatBot) LastError() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.lastError
}

// Model returns the model used for new requests.
func (cb *ChatBot) Model() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.model
}

// SetModel switches the model used for new requests.
func (cb *ChatBot) SetModel(name string) {
	cb.mu.Lock()
	cb.model = name
	cb.mu.Unlock()
	cb.logger.Info("model changed", "model", name)
}

// Models lists the models available on the server.
func (cb *ChatBot) Models(ctx context.Context) ([]backend.OllamaModel, error) {
	ctx, cancel := context.WithTimeout(ctx, cb.config.RequestTimeout())
	defer cancel()
	models, err := cb.client.ListModels(ctx)
	if err != nil {
		return nil, cb.fail(err)
	}
	return models, nil
}

func (cb *ChatBot) sessionEnded(ended session.Session, reason session.EndReason) {
	cb.voice.Cancel()
	cb.notify(Event{Type: EventEnded, Username: ended.Username, Reason: reason})

	if cb.archive == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := cb.archive.Save(ctx, ended, reason); err != nil {
		cb.logger.Error("failed to archive session", "session_id", ended.ID, "error", err)
	}
}

func (cb *ChatBot) setLastError(msg string) {
	cb.mu.Lock()
	cb.lastError = msg
	cb.mu.Unlock()
}

// fail records err as the last user-visible error and wraps it in a Failure.
func (cb *ChatBot) fail(err error) *Failure {
	f := &Failure{Message: Describe(err), Err: err}
	cb.setLastError(f.Message)
	cb.notify(Event{Type: EventError, Error: f.Message})
	return f
}

func (cb *ChatBot) notify(e Event) {
	if cb.observer != nil {
		cb.observer.Notify(e)
	}
}
