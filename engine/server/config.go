// Package server hosts compiled ChatterLang graphs behind a session-scoped
// HTTP surface: JSON in, server-sent events out, with per-session history
// and lifecycle management.
package server

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/chatterflow/chatterflow/pkg/fn"
)

// SessionCookie is the cookie carrying the session identifier.
const SessionCookie = "talkpipe_session_id"

// Config holds the server's environment-driven knobs.
type Config struct {
	Port  int
	Title string

	// Script is the ChatterLang template compiled per session. Empty means
	// the default pass-through processor.
	Script string

	APIKey      string
	RequireAuth bool
	CORSOrigin  string

	SessionTTL      time.Duration
	CleanupInterval time.Duration
	OutputQueueCap  int
	HistoryCap      int

	// RatePerSecond throttles POST /process per session; 0 disables.
	RatePerSecond float64
	RateBurst     int

	// NATSUrl enables mirroring output events onto EventSubject.
	NATSUrl      string
	EventSubject string

	// Consts is seeded into every session's constant store so collaborator
	// nodes can pick up model names and backend addresses.
	Consts map[string]any

	Form   FormConfig
	Logger *slog.Logger
}

// FormField describes one input control on the rendered form.
type FormField struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Label       string   `json:"label"`
	Placeholder string   `json:"placeholder,omitempty"`
	Required    bool     `json:"required"`
	Options     []string `json:"options,omitempty"`
}

// FormConfig drives both GET /form-config and the rendered pages.
type FormConfig struct {
	Title    string      `json:"title"`
	Fields   []FormField `json:"fields"`
	Position string      `json:"position,omitempty"`
	Height   string      `json:"height,omitempty"`
	Theme    string      `json:"theme,omitempty"`
}

// DefaultForm is used when no form configuration is supplied.
func DefaultForm() FormConfig {
	return FormConfig{
		Title: "Data Input Form",
		Fields: []FormField{
			{Name: "prompt", Type: "text", Label: "Prompt", Placeholder: "Enter prompt", Required: true},
		},
		Position: "bottom",
		Height:   "300px",
		Theme:    "light",
	}
}

// FromEnv builds a Config from the environment.
func FromEnv() Config {
	cfg := Config{
		Port:            envInt("PORT", 8080),
		Title:           envOr("SERVER_TITLE", "ChatterFlow Server"),
		Script:          os.Getenv("SCRIPT"),
		APIKey:          os.Getenv("API_KEY"),
		RequireAuth:     envBool("REQUIRE_AUTH", false),
		CORSOrigin:      envOr("CORS_ORIGINS", "*"),
		SessionTTL:      envDuration("SESSION_TTL", 24*time.Hour),
		CleanupInterval: envDuration("CLEANUP_INTERVAL", 5*time.Minute),
		OutputQueueCap:  envInt("OUTPUT_QUEUE_CAP", 1000),
		HistoryCap:      envInt("HISTORY_CAP", 1000),
		RatePerSecond:   envFloat("RATE_PER_SECOND", 0),
		RateBurst:       envInt("RATE_BURST", 5),
		NATSUrl:         os.Getenv("NATS_URL"),
		EventSubject:    envOr("EVENT_SUBJECT", "chatterflow.events"),
		Form:            DefaultForm(),
	}

	// Collaborator knobs surfaced to every session's constant store.
	consts := map[string]any{}
	for env, name := range map[string]string{
		"DEFAULT_MODEL_NAME":   "MODEL_NAME",
		"DEFAULT_MODEL_SOURCE": "MODEL_SOURCE",
		"QDRANT_URL":           "QDRANT_URL",
		"NEO4J_URL":            "NEO4J_URL",
		"NEO4J_USER":           "NEO4J_USER",
		"NEO4J_PASS":           "NEO4J_PASS",
		"NATS_URL":             "NATS_URL",
	} {
		if v := os.Getenv(env); v != "" {
			consts[name] = v
		}
	}
	cfg.Consts = consts
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// AllowedOrigins splits and trims the CORS origin list.
func (c Config) AllowedOrigins() []string {
	return fn.Map(strings.Split(c.CORSOrigin, ","), strings.TrimSpace)
}
