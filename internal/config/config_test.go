package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	cleanup := setEnvs(t, map[string]string{
		"S3_BUCKET": "media-bucket",
	})
	defer cleanup()

	t.Run("defaults", func(t *testing.T) {
		cfg, err := Load(Overrides{EnvFile: "nonexistent.env"})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.HTTPAddr != ":8080" {
			t.Errorf("HTTPAddr = %q, want :8080", cfg.HTTPAddr)
		}
		if cfg.LogLevel != "info" {
			t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
		}
		if cfg.FileRoot != "./captions" {
			t.Errorf("FileRoot = %q, want ./captions", cfg.FileRoot)
		}
		if cfg.CaptionFormat != "vtt" {
			t.Errorf("CaptionFormat = %q, want vtt", cfg.CaptionFormat)
		}
		if cfg.PollInterval != 5*time.Second {
			t.Errorf("PollInterval = %s, want 5s", cfg.PollInterval)
		}
		if cfg.RunTimeout != 30*time.Minute {
			t.Errorf("RunTimeout = %s, want 30m", cfg.RunTimeout)
		}
		if cfg.AWS.Region != "us-east-1" {
			t.Errorf("AWS.Region = %q, want us-east-1", cfg.AWS.Region)
		}
		if cfg.RepositoryPathMarker != "fedora" {
			t.Errorf("RepositoryPathMarker = %q, want fedora", cfg.RepositoryPathMarker)
		}
		if cfg.AutoLanguage() {
			t.Error("AutoLanguage = true, want false for en-US")
		}
		if cfg.Redis.Enabled() || cfg.MQTT.Enabled() || cfg.ArtifactS3.Enabled() {
			t.Error("optional integrations should be disabled by default")
		}
	})

	t.Run("cli_overrides_take_priority", func(t *testing.T) {
		cfg, err := Load(Overrides{
			EnvFile:  "nonexistent.env",
			HTTPAddr: ":9090",
			LogLevel: "debug",
			FileRoot: "/tmp/captions",
		})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.HTTPAddr != ":9090" {
			t.Errorf("HTTPAddr = %q, want :9090", cfg.HTTPAddr)
		}
		if cfg.LogLevel != "debug" {
			t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
		}
		if cfg.FileRoot != "/tmp/captions" {
			t.Errorf("FileRoot = %q, want /tmp/captions", cfg.FileRoot)
		}
	})

	t.Run("env_vars_read", func(t *testing.T) {
		restore := setEnvs(t, map[string]string{
			"CAPTION_FORMAT":              "SRT",
			"TRANSCRIBE_LANGUAGE":         "auto",
			"TRANSCRIBE_LANGUAGE_OPTIONS": "en-US,es-US",
			"REDIS_ADDR":                  "localhost:6379",
		})
		defer restore()

		cfg, err := Load(Overrides{EnvFile: "nonexistent.env"})
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.S3Bucket != "media-bucket" {
			t.Errorf("S3Bucket = %q, want media-bucket", cfg.S3Bucket)
		}
		if cfg.CaptionFormat != "srt" {
			t.Errorf("CaptionFormat = %q, want srt", cfg.CaptionFormat)
		}
		if !cfg.AutoLanguage() {
			t.Error("AutoLanguage = false, want true")
		}
		if len(cfg.LanguageOptions) != 2 || cfg.LanguageOptions[1] != "es-US" {
			t.Errorf("LanguageOptions = %v, want [en-US es-US]", cfg.LanguageOptions)
		}
		if !cfg.Redis.Enabled() {
			t.Error("Redis.Enabled = false, want true")
		}
	})
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name string
		envs map[string]string
	}{
		{"bad_caption_format", map[string]string{"CAPTION_FORMAT": "ttml"}},
		{"options_without_auto", map[string]string{"TRANSCRIBE_LANGUAGE_OPTIONS": "en-US"}},
		{"zero_poll_interval", map[string]string{"POLL_INTERVAL": "0s"}},
		{"negative_max_polls", map[string]string{"MAX_POLLS": "-1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			envs := map[string]string{"S3_BUCKET": "media-bucket"}
			for k, v := range tt.envs {
				envs[k] = v
			}
			cleanup := setEnvs(t, envs)
			defer cleanup()

			if _, err := Load(Overrides{EnvFile: "nonexistent.env"}); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadMissingRequired(t *testing.T) {
	cleanup := setEnvs(t, map[string]string{
		"S3_BUCKET": "",
	})
	defer cleanup()
	os.Unsetenv("S3_BUCKET")

	_, err := Load(Overrides{EnvFile: "nonexistent.env"})
	if err == nil {
		t.Error("expected error when S3_BUCKET is missing")
	}
}

// setEnvs sets environment variables and returns a cleanup function.
func setEnvs(t *testing.T, envs map[string]string) func() {
	t.Helper()
	originals := make(map[string]string)
	unset := make([]string, 0)

	for k, v := range envs {
		if orig, ok := os.LookupEnv(k); ok {
			originals[k] = orig
		} else {
			unset = append(unset, k)
		}
		os.Setenv(k, v)
	}

	return func() {
		for k, v := range originals {
			os.Setenv(k, v)
		}
		for _, k := range unset {
			os.Unsetenv(k)
		}
	}
}
