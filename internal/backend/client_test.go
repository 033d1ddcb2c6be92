package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestChatSendsPayloadAndParsesReply(t *testing.T) {
	var got OllamaRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/chat" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"gemma3:1b","message":{"role":"assistant","content":"Bonjour"},"done":true}`))
	}))
	defer ts.Close()

	c := NewClient(ts.URL+"/", ClientOptions{})
	reply, err := c.Chat(context.Background(), OllamaRequest{
		Model:    "gemma3:1b",
		Messages: []ChatMessage{{Role: "system", Content: "be brief"}, {Role: "user", Content: "Salut"}},
		Stream:   true, // always forced off
		Options:  DeterministicOptions(),
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if reply != "Bonjour" {
		t.Errorf("reply = %q, want Bonjour", reply)
	}
	if got.Stream {
		t.Error("stream should be false")
	}
	if got.Model != "gemma3:1b" || len(got.Messages) != 2 {
		t.Errorf("unexpected request body %+v", got)
	}
	if got.Options.Temperature != 0 || got.Options.TopK != 40 || len(got.Options.Stop) == 0 {
		t.Errorf("unexpected options %+v", got.Options)
	}
}

func TestChatNonSuccessStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `model "nope" not found`, http.StatusNotFound)
	}))
	defer ts.Close()

	_, err := NewClient(ts.URL, ClientOptions{}).Chat(context.Background(), OllamaRequest{Model: "nope"})
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if se.Code != http.StatusNotFound {
		t.Errorf("Code = %d, want 404", se.Code)
	}
}

func TestChatTimeout(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer ts.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := NewClient(ts.URL, ClientOptions{}).Chat(ctx, OllamaRequest{Model: "m"})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("timeout took %v", time.Since(start))
	}
}

func TestChatBadJSON(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer ts.Close()

	if _, err := NewClient(ts.URL, ClientOptions{}).Chat(context.Background(), OllamaRequest{}); err == nil {
		t.Fatal("expected unmarshal error")
	}
}

func TestPing(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr bool
	}{
		{"ok", http.StatusOK, false},
		{"no content", http.StatusNoContent, false},
		{"unavailable", http.StatusServiceUnavailable, true},
		{"server error", http.StatusInternalServerError, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/api/tags" {
					t.Errorf("probe hit %s", r.URL.Path)
				}
				w.WriteHeader(tt.status)
			}))
			defer ts.Close()

			err := NewClient(ts.URL, ClientOptions{}).Ping(context.Background())
			if (err != nil) != tt.wantErr {
				t.Errorf("Ping error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPingUnreachable(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	if err := NewClient(url, ClientOptions{}).Ping(context.Background()); err == nil {
		t.Fatal("expected error for closed server")
	}
}

func TestListModels(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"models":[{"name":"gemma3:1b","size":815319791},{"name":"llama3:latest","size":4661224676}]}`))
	}))
	defer ts.Close()

	models, err := NewClient(ts.URL, ClientOptions{}).ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if len(models) != 2 || models[0].Name != "gemma3:1b" {
		t.Errorf("models = %+v", models)
	}
}

// durationPoints collects the request duration histogram keyed by the
// error.type attribute ("" for successful requests).
func durationPoints(t *testing.T, reader *sdkmetric.ManualReader) map[string]uint64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	counts := map[string]uint64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "http.client.request.duration" {
				continue
			}
			hist, ok := m.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatalf("unexpected data type %T", m.Data)
			}
			for _, dp := range hist.DataPoints {
				v, _ := dp.Attributes.Value(attribute.Key("error.type"))
				counts[v.AsString()] += dp.Count
			}
		}
	}
	return counts
}

func TestRequestDurationRecordedForFailures(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		switch r.URL.Path {
		case "/api/tags":
			_, _ = w.Write([]byte(`{"models":[]}`))
		case "/api/chat":
			select {
			case <-release:
			case <-r.Context().Done():
			}
		default:
			http.Error(w, "boom", http.StatusInternalServerError)
		}
	}))
	defer ts.Close()
	defer close(release)

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	c := NewClient(ts.URL, ClientOptions{Meter: mp.Meter("test")})

	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := c.Chat(ctx, OllamaRequest{Model: "m"}); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if _, err := c.do(context.Background(), http.MethodGet, "/api/other", nil); err == nil {
		t.Fatal("expected status error")
	}

	unreachable := httptest.NewServer(http.NotFoundHandler())
	url := unreachable.URL
	unreachable.Close()
	down := NewClient(url, ClientOptions{Meter: mp.Meter("test")})
	if err := down.Ping(context.Background()); err == nil {
		t.Fatal("expected error for closed server")
	}

	counts := durationPoints(t, reader)
	for _, key := range []string{"", "timeout", "500", "network"} {
		if counts[key] != 1 {
			t.Errorf("error.type=%q recorded %d times, want 1 (all: %v)", key, counts[key], counts)
		}
	}
}
