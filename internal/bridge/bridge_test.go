package bridge

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"VoiceChat/internal/chatbot"
	"VoiceChat/internal/config"

	"github.com/gorilla/websocket"
)

type frame struct {
	Type        string `json:"type"`
	Status      string `json:"status"`
	Username    string `json:"username"`
	Active      bool   `json:"active"`
	RemainingMS int64  `json:"remaining_ms"`
	Error       string `json:"error"`
	Reason      string `json:"reason"`
	Text        string `json:"text"`
	Lang        string `json:"lang"`
	Message     *struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
}

func newBridge(t *testing.T, ollamaURL string) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := config.Default()
	cfg.ServerURL = ollamaURL
	cfg.Timeout = 2000

	hub := NewHub(cfg.Locale, logger)
	bot, err := chatbot.NewChatBot(cfg, chatbot.Options{Logger: logger, Observer: hub, Voice: hub})
	if err != nil {
		t.Fatalf("NewChatBot: %v", err)
	}
	ts := httptest.NewServer(NewServer(bot, hub, logger).Handler())
	t.Cleanup(func() {
		hub.Close()
		ts.Close()
		bot.Close()
	})
	return ts
}

func ollama(t *testing.T) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/tags" {
			_, _ = w.Write([]byte(`{"models":[]}`))
			return
		}
		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"Bonjour"},"done":true}`))
	}))
	t.Cleanup(ts.Close)
	return ts
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// next skips frames until one of type typ arrives.
func next(t *testing.T, conn *websocket.Conn, typ string) frame {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			t.Fatalf("waiting for %s frame: %v", typ, err)
		}
		if f.Type == typ {
			return f
		}
	}
}

func TestHealthz(t *testing.T) {
	ts := newBridge(t, ollama(t).URL)

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["ok"] != true || body["connected"] != false {
		t.Errorf("body = %v", body)
	}
}

func TestGreetingDescribesState(t *testing.T) {
	ts := newBridge(t, ollama(t).URL)
	conn := dial(t, ts)

	if f := next(t, conn, "status"); f.Status != "checking" {
		t.Errorf("status = %q, want checking", f.Status)
	}
	if f := next(t, conn, "session"); f.Active || f.Username != "" {
		t.Errorf("session frame = %+v, want inactive", f)
	}
}

func TestConversationOverWebSocket(t *testing.T) {
	ts := newBridge(t, ollama(t).URL)
	conn := dial(t, ts)
	next(t, conn, "session")

	send(t, conn, map[string]string{"type": "login", "name": "alice"})
	if f := next(t, conn, "session"); f.Username != "alice" || !f.Active || f.RemainingMS <= 0 {
		t.Fatalf("session frame = %+v", f)
	}

	send(t, conn, map[string]string{"type": "transcript", "text": "Salut"})
	user := next(t, conn, "message")
	if user.Message == nil || user.Message.Role != "user" || user.Message.Content != "Salut" {
		t.Fatalf("user message frame = %+v", user)
	}
	next(t, conn, "cancel_speech")
	reply := next(t, conn, "message")
	if reply.Message == nil || reply.Message.Role != "assistant" || reply.Message.Content != "Bonjour" {
		t.Fatalf("reply frame = %+v", reply)
	}
	if f := next(t, conn, "speak"); f.Text != "Bonjour" || f.Lang != config.DefaultLocale {
		t.Errorf("speak frame = %+v", f)
	}

	send(t, conn, map[string]string{"type": "logout"})
	if f := next(t, conn, "ended"); f.Reason != "logout" || f.Username != "alice" {
		t.Errorf("ended frame = %+v", f)
	}
}

func TestMessageWithoutSessionIsAnError(t *testing.T) {
	ts := newBridge(t, ollama(t).URL)
	conn := dial(t, ts)

	send(t, conn, map[string]string{"type": "message", "content": "Salut"})
	if f := next(t, conn, "error"); !strings.Contains(f.Error, "log in") {
		t.Errorf("error frame = %+v", f)
	}
}

func TestSpeechErrorFrames(t *testing.T) {
	ts := newBridge(t, ollama(t).URL)
	conn := dial(t, ts)

	send(t, conn, map[string]string{"type": "no_speech"})
	if f := next(t, conn, "error"); !strings.Contains(f.Error, "No speech") {
		t.Errorf("no_speech error = %+v", f)
	}
	send(t, conn, map[string]string{"type": "speech_error", "error": "network"})
	if f := next(t, conn, "error"); !strings.Contains(f.Error, "network") {
		t.Errorf("speech_error error = %+v", f)
	}
}

func TestSecondPageIsRejected(t *testing.T) {
	ts := newBridge(t, ollama(t).URL)
	first := dial(t, ts)
	next(t, first, "session")

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		conn.Close()
		t.Fatal("second connection was accepted")
	}
	if resp == nil || resp.StatusCode != http.StatusConflict {
		t.Errorf("response = %+v, want 409", resp)
	}
}

func TestDisconnectEndsSession(t *testing.T) {
	ts := newBridge(t, ollama(t).URL)
	conn := dial(t, ts)
	next(t, conn, "session")
	send(t, conn, map[string]string{"type": "login", "name": "alice"})
	if f := next(t, conn, "session"); !f.Active {
		t.Fatalf("login failed: %+v", f)
	}
	conn.Close()

	// The slot frees up once the server notices.
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get(ts.URL + "/healthz")
		if err != nil {
			t.Fatal(err)
		}
		var body map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&body)
		resp.Body.Close()
		if body["connected"] == false {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("page never detached")
		}
		time.Sleep(10 * time.Millisecond)
	}

	again := dial(t, ts)
	if f := next(t, again, "session"); f.Active {
		t.Errorf("session survived the reload: %+v", f)
	}
}
