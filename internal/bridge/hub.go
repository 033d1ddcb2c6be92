// Package bridge drives a browser page over a WebSocket. The page supplies
// speech recognition and synthesis; this process owns the session and the
// conversation.
package bridge

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"VoiceChat/internal/chatbot"

	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// ErrBusy is returned by attach when a page is already connected.
var ErrBusy = errors.New("a client is already connected")

// Frame types sent to the page in addition to chatbot events.
const (
	FrameSpeak        = "speak"
	FrameCancelSpeech = "cancel_speech"
)

type speakFrame struct {
	Type string `json:"type"`
	Text string `json:"text"`
	Lang string `json:"lang"`
}

type cancelFrame struct {
	Type string `json:"type"`
}

// Hub forwards events and speech commands to the single attached page. It
// implements both chatbot.Observer and speech.Voice, and drops everything
// while no page is attached.
type Hub struct {
	lang   string
	logger *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewHub(lang string, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{lang: lang, logger: logger}
}

func (h *Hub) attach(conn *websocket.Conn) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conn != nil {
		return ErrBusy
	}
	h.conn = conn
	return nil
}

func (h *Hub) detach(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conn == conn {
		h.conn = nil
	}
}

// Connected reports whether a page is attached.
func (h *Hub) Connected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conn != nil
}

// Notify implements chatbot.Observer.
func (h *Hub) Notify(e chatbot.Event) {
	h.send(e)
}

// Say asks the page to speak text, replacing any utterance in progress.
func (h *Hub) Say(text string) {
	h.send(speakFrame{Type: FrameSpeak, Text: text, Lang: h.lang})
}

// Cancel asks the page to stop speaking.
func (h *Hub) Cancel() {
	h.send(cancelFrame{Type: FrameCancelSpeech})
}

// Close disconnects the attached page, if any.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conn == nil {
		return nil
	}
	_ = h.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = h.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
	err := h.conn.Close()
	h.conn = nil
	return err
}

// send writes one JSON frame. The hub mutex doubles as the write lock since
// a websocket connection supports a single concurrent writer.
func (h *Hub) send(v any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conn == nil {
		return
	}
	_ = h.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := h.conn.WriteJSON(v); err != nil {
		h.logger.Warn("failed to write frame", "error", err)
	}
}
