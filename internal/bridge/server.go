package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"VoiceChat/internal/chatbot"

	"github.com/gorilla/websocket"
)

// Frame types accepted from the page.
const (
	FrameLogin       = "login"
	FrameLogout      = "logout"
	FrameMessage     = "message"
	FrameTranscript  = "transcript"
	FrameSpeechError = "speech_error"
	FrameNoSpeech    = "no_speech"
)

type inFrame struct {
	Type    string `json:"type"`
	Name    string `json:"name,omitempty"`
	Content string `json:"content,omitempty"`
	Text    string `json:"text,omitempty"`
	Error   string `json:"error,omitempty"`
}

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// Server exposes the chat bot to one browser page at a time.
type Server struct {
	bot    *chatbot.ChatBot
	hub    *Hub
	logger *slog.Logger
}

// NewServer returns a Server. The bot must have been created with hub as
// both its Observer and its Voice.
func NewServer(bot *chatbot.ChatBot, hub *Hub, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{bot: bot, hub: hub, logger: logger}
}

// Handler serves GET /ws and GET /healthz.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/ws", s.handleWS)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"ok":        true,
		"inference": s.bot.Status(),
		"connected": s.hub.Connected(),
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.hub.Connected() {
		http.Error(w, ErrBusy.Error(), http.StatusConflict)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	if err := s.hub.attach(conn); err != nil {
		// Lost the race with another page between the check and the upgrade.
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()))
		return
	}
	s.logger.Info("page connected", "remote", r.RemoteAddr)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
		s.hub.detach(conn)
		// A reload starts over, nothing survives the page.
		s.bot.Logout()
		s.logger.Info("page disconnected", "remote", r.RemoteAddr)
	}()

	s.greet()

	for {
		var f inFrame
		if err := conn.ReadJSON(&f); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket read ended", "error", err)
			}
			return
		}
		s.dispatch(ctx, &wg, f)
	}
}

// greet sends the current state to a freshly attached page.
func (s *Server) greet() {
	s.hub.Notify(chatbot.Event{Type: chatbot.EventStatus, Status: s.bot.Status()})
	sess := s.bot.Session()
	s.hub.Notify(chatbot.Event{
		Type:        chatbot.EventSession,
		Username:    sess.Username,
		Active:      sess.Active,
		RemainingMS: sess.Remaining.Milliseconds(),
	})
}

func (s *Server) dispatch(ctx context.Context, wg *sync.WaitGroup, f inFrame) {
	switch f.Type {
	case FrameLogin:
		// Failures reach the page as error events.
		_, _ = s.bot.Login(f.Name)
	case FrameLogout:
		s.bot.Logout()
	case FrameMessage, FrameTranscript:
		content := f.Content
		if f.Type == FrameTranscript {
			content = f.Text
		}
		// Sending runs beside the read loop so a logout can arrive while the
		// server is thinking.
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.bot.SendMessage(ctx, content); err != nil && !errors.Is(err, chatbot.ErrEmptyMessage) {
				s.logger.Debug("exchange failed", "error", err)
			}
		}()
	case FrameSpeechError:
		_ = s.bot.SpeechFailed(f.Error)
	case FrameNoSpeech:
		_ = s.bot.SpeechFailed("")
	default:
		s.logger.Warn("unknown frame type", "type", f.Type)
		s.hub.Notify(chatbot.Event{Type: chatbot.EventError, Error: "unknown frame type " + f.Type})
	}
}
