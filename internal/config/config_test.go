package config

import (
	"os"
	"path/filepath"
	"testing"
)

// chdir switches to dir for the duration of the test so Load does not pick
// up a config.yaml from the package directory.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(prev) })
}

func TestLoad_Defaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.Port != "8000" {
		t.Errorf("expected port 8000, got %s", cfg.Server.Port)
	}
	if cfg.Queue.Backend != "memory" {
		t.Errorf("expected memory queue backend, got %s", cfg.Queue.Backend)
	}
	if cfg.Upload.MaxUploadBytes() != 100*1024*1024 {
		t.Errorf("expected 100MB upload cap, got %d", cfg.Upload.MaxUploadBytes())
	}
	want := []string{"mp4", "mov", "avi"}
	if len(cfg.Upload.AllowedExtensions) != len(want) {
		t.Fatalf("expected extensions %v, got %v", want, cfg.Upload.AllowedExtensions)
	}
	for i, ext := range want {
		if cfg.Upload.AllowedExtensions[i] != ext {
			t.Errorf("extension %d: expected %s, got %s", i, ext, cfg.Upload.AllowedExtensions[i])
		}
	}
	if cfg.Mix.AmbientGain != 1.2 || cfg.Mix.VoiceGain != 0.8 {
		t.Errorf("unexpected mix gains: %+v", cfg.Mix)
	}
	if cfg.Media.ExtractSampleRate != 16000 {
		t.Errorf("expected 16000 Hz extraction, got %d", cfg.Media.ExtractSampleRate)
	}
	if cfg.TTS.Voice != "tai_female_2" || cfg.TTS.Speed != 0.75 || cfg.TTS.Encoding != "LINEAR16" {
		t.Errorf("unexpected voice defaults: %+v", cfg.TTS)
	}
	if cfg.ASR.Language != "zh" {
		t.Errorf("expected zh transcription language, got %s", cfg.ASR.Language)
	}
	if cfg.Status.StatusRetention() != 0 {
		t.Errorf("expected no status retention by default")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("QUEUE_BACKEND", "redis")
	t.Setenv("WORKER_CONCURRENCY", "5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Server.Port)
	}
	if !cfg.UsesRedis() {
		t.Error("expected redis backend")
	}
	if cfg.Worker.Concurrency != 5 {
		t.Errorf("expected concurrency 5, got %d", cfg.Worker.Concurrency)
	}
}

func TestLoad_SecretFile(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	secretPath := filepath.Join(dir, "yating_key")
	if err := os.WriteFile(secretPath, []byte("  s3cret\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("YATING_API_KEY", "")
	t.Setenv("YATING_API_KEY_FILE", secretPath)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.TTS.Key != "s3cret" {
		t.Errorf("expected key from secret file, got %q", cfg.TTS.Key)
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	yaml := []byte(`
upload:
  max_size_mb: 10
  allowed_extensions: [".MP4", "mkv"]
mix:
  ambient_gain: 1.5
`)
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Upload.MaxSizeMB != 10 {
		t.Errorf("expected 10MB, got %d", cfg.Upload.MaxSizeMB)
	}
	if len(cfg.Upload.AllowedExtensions) != 2 || cfg.Upload.AllowedExtensions[0] != "mp4" {
		t.Errorf("expected normalized extensions, got %v", cfg.Upload.AllowedExtensions)
	}
	if cfg.Mix.AmbientGain != 1.5 {
		t.Errorf("expected ambient gain 1.5, got %v", cfg.Mix.AmbientGain)
	}
}

func TestValidate_RejectsBadGains(t *testing.T) {
	chdir(t, t.TempDir())
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	cfg.Mix.VoiceGain = 1.4
	if err := cfg.Validate(); err == nil {
		t.Error("expected voice gain >= 1 to be rejected")
	}

	cfg.Mix.VoiceGain = 0.8
	cfg.Mix.AmbientGain = 0.9
	if err := cfg.Validate(); err == nil {
		t.Error("expected ambient gain <= 1 to be rejected")
	}
}

func TestValidate_RejectsUnknownBackend(t *testing.T) {
	chdir(t, t.TempDir())
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	cfg.Queue.Backend = "kafka"
	if err := cfg.Validate(); err == nil {
		t.Error("expected unknown queue backend to be rejected")
	}
}
