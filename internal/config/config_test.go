package config

import (
	"strings"
	"testing"
	"time"
)

func TestEnvIntValid(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	v, err := envInt("TEST_INT", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 42 {
		t.Fatalf("expected 42, got %d", v)
	}
}

func TestEnvIntFallback(t *testing.T) {
	v, err := envInt("TEST_INT_MISSING", 99)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 99 {
		t.Fatalf("expected fallback 99, got %d", v)
	}
}

func TestEnvIntInvalid(t *testing.T) {
	t.Setenv("TEST_INT_BAD", "abc")
	_, err := envInt("TEST_INT_BAD", 0)
	if err == nil {
		t.Fatal("expected error for non-integer value, got nil")
	}
	if got := err.Error(); got != `TEST_INT_BAD="abc" is not a valid integer` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestEnvBoolValid(t *testing.T) {
	t.Setenv("TEST_BOOL", "true")
	v, err := envBool("TEST_BOOL", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !v {
		t.Fatal("expected true")
	}
}

func TestEnvBoolInvalid(t *testing.T) {
	t.Setenv("TEST_BOOL_BAD", "maybe")
	_, err := envBool("TEST_BOOL_BAD", false)
	if err == nil {
		t.Fatal("expected error for non-boolean value, got nil")
	}
	if got := err.Error(); got != `TEST_BOOL_BAD="maybe" is not a valid boolean` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestEnvDurationValid(t *testing.T) {
	t.Setenv("TEST_DUR", "5s")
	v, err := envDuration("TEST_DUR", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Seconds() != 5 {
		t.Fatalf("expected 5s, got %s", v)
	}
}

func TestEnvDurationInvalid(t *testing.T) {
	t.Setenv("TEST_DUR_BAD", "five-seconds")
	_, err := envDuration("TEST_DUR_BAD", 0)
	if err == nil {
		t.Fatal("expected error for invalid duration, got nil")
	}
	if got := err.Error(); got != `TEST_DUR_BAD="five-seconds" is not a valid duration` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestEnvStrSliceParsesAndTrims(t *testing.T) {
	t.Setenv("TEST_SLICE", "a, b ,c")
	got := envStrSlice("TEST_SLICE", nil)
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestEnvStrSliceFallback(t *testing.T) {
	got := envStrSlice("TEST_SLICE_MISSING", []string{"*"})
	if len(got) != 1 || got[0] != "*" {
		t.Fatalf("expected fallback [*], got %v", got)
	}
}

func TestLoadFailsOnInvalidPort(t *testing.T) {
	t.Setenv("ASSESSCORE_PORT", "abc")
	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to fail with invalid ASSESSCORE_PORT")
	}
	if got := err.Error(); !strings.Contains(got, "ASSESSCORE_PORT") || !strings.Contains(got, "abc") {
		t.Fatalf("error should mention ASSESSCORE_PORT and value 'abc', got: %s", got)
	}
}

func TestLoadFailsOnMultipleInvalid(t *testing.T) {
	t.Setenv("ASSESSCORE_PORT", "abc")
	t.Setenv("ASSESSCORE_ANON_START_LIMIT", "xyz")
	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to fail with multiple invalid vars")
	}
	got := err.Error()
	if !strings.Contains(got, "ASSESSCORE_PORT") {
		t.Fatalf("error should mention ASSESSCORE_PORT, got: %s", got)
	}
	if !strings.Contains(got, "ASSESSCORE_ANON_START_LIMIT") {
		t.Fatalf("error should mention ASSESSCORE_ANON_START_LIMIT, got: %s", got)
	}
}

func TestLoadSucceedsWithDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected Load() to succeed with defaults, got: %v", err)
	}
	if cfg.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Port)
	}
	if cfg.DefaultPassportMaxAgeDays != 180 {
		t.Fatalf("expected default passport max age 180, got %d", cfg.DefaultPassportMaxAgeDays)
	}
	if cfg.RedisURL != "" {
		t.Fatalf("expected empty RedisURL by default (noop rate limiting), got %q", cfg.RedisURL)
	}
}

func TestLoad_JWTKeyPathValidation(t *testing.T) {
	bogusPath := "/tmp/assesscore-test-nonexistent-key-file.pem"
	t.Setenv("ASSESSCORE_JWT_PRIVATE_KEY", bogusPath)
	t.Setenv("ASSESSCORE_JWT_PUBLIC_KEY", bogusPath)

	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to fail when ASSESSCORE_JWT_PRIVATE_KEY points to a nonexistent file")
	}
	got := err.Error()
	if !strings.Contains(got, bogusPath) {
		t.Fatalf("error should mention the path %q, got: %s", bogusPath, got)
	}
	if !strings.Contains(got, "ASSESSCORE_JWT_PRIVATE_KEY") {
		t.Fatalf("error should mention ASSESSCORE_JWT_PRIVATE_KEY, got: %s", got)
	}
}

func TestLoad_JWTKeysBothEmptySucceeds(t *testing.T) {
	t.Setenv("ASSESSCORE_JWT_PRIVATE_KEY", "")
	t.Setenv("ASSESSCORE_JWT_PUBLIC_KEY", "")

	_, err := Load()
	if err != nil {
		t.Fatalf("expected Load() to succeed with both keys empty (ephemeral mode), got: %v", err)
	}
}

func TestLoad_OTELEndpointParsing(t *testing.T) {
	endpoint := "https://otel.example.com:4317"
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", endpoint)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected Load() to succeed, got: %v", err)
	}
	if cfg.OTELEndpoint != endpoint {
		t.Fatalf("expected OTELEndpoint %q, got %q", endpoint, cfg.OTELEndpoint)
	}
}

func TestLoad_AllEnvVarsHonored(t *testing.T) {
	t.Setenv("ASSESSCORE_PORT", "9090")
	t.Setenv("DATABASE_URL", "postgres://test:test@db:5432/testdb")
	t.Setenv("REDIS_URL", "redis://cache:6379/0")
	t.Setenv("ASSESSCORE_JWT_EXPIRATION", "12h")
	t.Setenv("OTEL_SERVICE_NAME", "assesscore-test")
	t.Setenv("ASSESSCORE_LOG_LEVEL", "debug")
	t.Setenv("ASSESSCORE_CORS_ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")
	t.Setenv("ASSESSCORE_DEFAULT_PASSPORT_MAX_AGE_DAYS", "90")
	t.Setenv("ASSESSCORE_SESSION_IDLE_TIMEOUT", "15m")
	t.Setenv("ASSESSCORE_SESSION_SWEEP_INTERVAL", "1m")
	t.Setenv("ASSESSCORE_PSYCHOMETRIC_SCHEDULE", "0 * * * *")
	t.Setenv("ASSESSCORE_ANON_START_LIMIT", "3")
	t.Setenv("ASSESSCORE_ANON_START_WINDOW", "10m")
	t.Setenv("ASSESSCORE_SUBMIT_ANSWER_LIMIT", "30")
	t.Setenv("ASSESSCORE_SUBMIT_ANSWER_WINDOW", "30s")
	t.Setenv("ASSESSCORE_RATE_LIMIT_FAIL_CLOSED", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected Load() to succeed, got: %v", err)
	}

	if cfg.Port != 9090 {
		t.Fatalf("expected Port 9090, got %d", cfg.Port)
	}
	if cfg.DatabaseURL != "postgres://test:test@db:5432/testdb" {
		t.Fatalf("expected DatabaseURL %q, got %q", "postgres://test:test@db:5432/testdb", cfg.DatabaseURL)
	}
	if cfg.RedisURL != "redis://cache:6379/0" {
		t.Fatalf("expected RedisURL %q, got %q", "redis://cache:6379/0", cfg.RedisURL)
	}
	if cfg.JWTExpiration != 12*time.Hour {
		t.Fatalf("expected JWTExpiration 12h, got %s", cfg.JWTExpiration)
	}
	if cfg.ServiceName != "assesscore-test" {
		t.Fatalf("expected ServiceName %q, got %q", "assesscore-test", cfg.ServiceName)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected LogLevel %q, got %q", "debug", cfg.LogLevel)
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[0] != "https://a.example.com" {
		t.Fatalf("expected 2 CORS origins starting with https://a.example.com, got %v", cfg.CORSAllowedOrigins)
	}
	if cfg.DefaultPassportMaxAgeDays != 90 {
		t.Fatalf("expected DefaultPassportMaxAgeDays 90, got %d", cfg.DefaultPassportMaxAgeDays)
	}
	if cfg.SessionIdleTimeout != 15*time.Minute {
		t.Fatalf("expected SessionIdleTimeout 15m, got %s", cfg.SessionIdleTimeout)
	}
	if cfg.SessionSweepInterval != time.Minute {
		t.Fatalf("expected SessionSweepInterval 1m, got %s", cfg.SessionSweepInterval)
	}
	if cfg.PsychometricAnalysisSchedule != "0 * * * *" {
		t.Fatalf("expected PsychometricAnalysisSchedule %q, got %q", "0 * * * *", cfg.PsychometricAnalysisSchedule)
	}
	if cfg.AnonStartLimit != 3 || cfg.AnonStartWindow != 10*time.Minute {
		t.Fatalf("expected AnonStartLimit=3/Window=10m, got %d/%s", cfg.AnonStartLimit, cfg.AnonStartWindow)
	}
	if cfg.SubmitAnswerLimit != 30 || cfg.SubmitAnswerWindow != 30*time.Second {
		t.Fatalf("expected SubmitAnswerLimit=30/Window=30s, got %d/%s", cfg.SubmitAnswerLimit, cfg.SubmitAnswerWindow)
	}
	if !cfg.RateLimitFailClosed {
		t.Fatal("expected RateLimitFailClosed true")
	}
}

func TestValidateRejectsNonPositiveFields(t *testing.T) {
	cfg := Config{
		DatabaseURL:               "postgres://x",
		Port:                      8080,
		ReadTimeout:               time.Second,
		WriteTimeout:              time.Second,
		EventFlushTimeout:         time.Second,
		EventBufferSize:           1,
		MaxRequestBodyBytes:       1,
		DefaultPassportMaxAgeDays: 0, // invalid
		SessionIdleTimeout:        time.Second,
		SessionSweepInterval:      time.Second,
		AnonStartLimit:            1,
		AnonStartWindow:           time.Second,
		SubmitAnswerLimit:         1,
		SubmitAnswerWindow:        time.Second,
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected Validate() to reject a zero DefaultPassportMaxAgeDays")
	}
}
