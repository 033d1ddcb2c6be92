package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	c, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.ServerURL != DefaultServerURL {
		t.Errorf("ServerURL = %q, want %q", c.ServerURL, DefaultServerURL)
	}
	if c.RequestTimeout() != 30*time.Second {
		t.Errorf("RequestTimeout = %v, want 30s", c.RequestTimeout())
	}
	if c.HealthEvery() != 30*time.Second {
		t.Errorf("HealthEvery = %v, want 30s", c.HealthEvery())
	}
	if c.Cache {
		t.Error("cache should be opt-in")
	}
	if c.EmptyReply != DefaultEmptyReply {
		t.Errorf("EmptyReply = %q", c.EmptyReply)
	}
	want := []string{"espeak-ng", "-v", "{lang}"}
	if len(c.Speech.OutputCommand) != len(want) {
		t.Fatalf("OutputCommand = %v, want %v", c.Speech.OutputCommand, want)
	}
	for i := range want {
		if c.Speech.OutputCommand[i] != want[i] {
			t.Errorf("OutputCommand = %v, want %v", c.Speech.OutputCommand, want)
		}
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voicechat.yaml")
	data := []byte(`
server_url: http://gpu-box:11434
timeout: 1500
model: llama3:latest
speech:
  output_command: ["say"]
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.ServerURL != "http://gpu-box:11434" {
		t.Errorf("ServerURL = %q", c.ServerURL)
	}
	if c.RequestTimeout() != 1500*time.Millisecond {
		t.Errorf("RequestTimeout = %v", c.RequestTimeout())
	}
	if c.Model != "llama3:latest" {
		t.Errorf("Model = %q", c.Model)
	}
	if len(c.Speech.OutputCommand) != 1 || c.Speech.OutputCommand[0] != "say" {
		t.Errorf("OutputCommand = %v", c.Speech.OutputCommand)
	}
	// Unset keys keep their defaults.
	if c.Locale != DefaultLocale {
		t.Errorf("Locale = %q, want %q", c.Locale, DefaultLocale)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("VOICECHAT_SERVER_URL", "http://10.0.0.2:11434")
	t.Setenv("VOICECHAT_TIMEOUT", "250")

	c := Default()
	if err := c.LoadEnv(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("LoadEnv: %v", err)
	}
	if c.ServerURL != "http://10.0.0.2:11434" {
		t.Errorf("ServerURL = %q", c.ServerURL)
	}
	if c.RequestTimeout() != 250*time.Millisecond {
		t.Errorf("RequestTimeout = %v", c.RequestTimeout())
	}
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("VOICECHAT_MODEL=mistral:7b\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("VOICECHAT_MODEL") })

	c := Default()
	if err := c.LoadEnv(path); err != nil {
		t.Fatalf("LoadEnv: %v", err)
	}
	if c.Model != "mistral:7b" {
		t.Errorf("Model = %q, want mistral:7b", c.Model)
	}
}

func TestLoadEnvRejectsBadTimeout(t *testing.T) {
	t.Setenv("VOICECHAT_TIMEOUT", "soon")
	c := Default()
	if err := c.LoadEnv(filepath.Join(t.TempDir(), "missing.env")); err == nil {
		t.Fatal("expected error for non-numeric timeout")
	}
}
