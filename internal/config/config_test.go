package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Port)
	}
	if cfg.SlotTTL != 7*24*time.Hour {
		t.Errorf("expected default slot TTL of 7 days, got %s", cfg.SlotTTL)
	}
	if cfg.FocusCoalesceWindow != 2*time.Second {
		t.Errorf("expected default coalesce window 2s, got %s", cfg.FocusCoalesceWindow)
	}
	if cfg.AIProvider != "auto" {
		t.Errorf("expected default AI provider auto, got %s", cfg.AIProvider)
	}
	if cfg.EnrichmentJobStore != "postgres" {
		t.Errorf("expected default job store postgres, got %s", cfg.EnrichmentJobStore)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SLOT_TTL", "48h")
	t.Setenv("USE_MEMORY_SLOTS", "true")
	t.Setenv("AI_PROVIDER", " Gemini ")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://app.example.com, https://staging.example.com")

	cfg := Load()

	if cfg.SlotTTL != 48*time.Hour {
		t.Errorf("expected slot TTL 48h, got %s", cfg.SlotTTL)
	}
	if !cfg.UseMemorySlots {
		t.Error("expected UseMemorySlots true")
	}
	if cfg.AIProvider != "gemini" {
		t.Errorf("expected trimmed lowercase provider, got %q", cfg.AIProvider)
	}
	if len(cfg.CORSAllowedOrigins) != 2 {
		t.Fatalf("expected 2 CORS origins, got %d", len(cfg.CORSAllowedOrigins))
	}
	if cfg.CORSAllowedOrigins[1] != "https://staging.example.com" {
		t.Errorf("unexpected origin %q", cfg.CORSAllowedOrigins[1])
	}
}

func TestLoadInvalidValuesFallBack(t *testing.T) {
	t.Setenv("WORKER_COUNT", "not-a-number")
	t.Setenv("REDIS_TLS", "maybe")
	t.Setenv("FOCUS_COALESCE_WINDOW", "soon")

	cfg := Load()

	if cfg.WorkerCount != 2 {
		t.Errorf("expected fallback worker count 2, got %d", cfg.WorkerCount)
	}
	if cfg.RedisTLS {
		t.Error("expected fallback RedisTLS false")
	}
	if cfg.FocusCoalesceWindow != 2*time.Second {
		t.Errorf("expected fallback coalesce window, got %s", cfg.FocusCoalesceWindow)
	}
}
