package config

import (
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"APP_ENV", "APP_PORT", "DATABASE_URL", "CORS_ALLOWED_ORIGINS", "DEMO_SEED",
		"JWT_PRIVATE_PEM", "JWT_PUBLIC_PEM", "REDIS_ADDR", "REDIS_DB", "PRESENCE_TTL",
		"WS_SEND_BUFFER", "WS_MAX_MESSAGE_BYTES", "WS_WRITE_TIMEOUT", "WS_PONG_TIMEOUT",
		"LOG_LEVEL", "LOG_FILE",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	c := Load()

	if c.Env != "dev" || c.Port != 8000 {
		t.Fatalf("env/port = %q/%d", c.Env, c.Port)
	}
	if len(c.AllowedOrigins) != 1 || c.AllowedOrigins[0] != "http://localhost:5173" {
		t.Fatalf("origins = %v", c.AllowedOrigins)
	}
	if c.PresenceTTL != 2*time.Minute || c.WSPongTimeout != time.Minute || c.WSSendBuffer != 256 {
		t.Fatalf("tuning = %+v", c)
	}
	if c.RedisAddr != "" || c.DemoSeed {
		t.Fatalf("optional features enabled by default: %+v", c)
	}
	if err := c.Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_PORT", "9090")
	t.Setenv("CORS_ALLOWED_ORIGINS", "http://a.test, http://b.test")
	t.Setenv("PRESENCE_TTL", "30s")
	t.Setenv("WS_SEND_BUFFER", "not-a-number")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("DEMO_SEED", "1")

	c := Load()
	if c.Port != 9090 || c.PresenceTTL != 30*time.Second || c.RedisDB != 2 || !c.DemoSeed {
		t.Fatalf("config = %+v", c)
	}
	if c.WSSendBuffer != 256 {
		t.Fatalf("bad int did not fall back: %d", c.WSSendBuffer)
	}
	if len(c.AllowedOrigins) != 2 || c.AllowedOrigins[1] != "http://b.test" {
		t.Fatalf("origins = %q", c.AllowedOrigins)
	}
}

func TestValidate(t *testing.T) {
	if err := (Config{}).Validate(); err == nil {
		t.Fatal("empty DATABASE_URL accepted")
	}
	prod := Config{Env: "prod", DatabaseURL: "postgres://x"}
	if err := prod.Validate(); err == nil {
		t.Fatal("prod without JWT_PUBLIC_PEM accepted")
	}
	prod.JWTPublicPEM = "pem"
	if err := prod.Validate(); err != nil {
		t.Fatal(err)
	}
}
