package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_EXPIRY_HOURS", "")
	t.Setenv("AUTOSAVE_INTERVAL_SECONDS", "")

	cfg := Load()

	assert.Equal(t, 2*time.Hour, cfg.JWTExpiry)
	assert.Equal(t, 30*time.Second, cfg.AutosaveInterval)
	assert.Equal(t, time.Second, cfg.TickInterval)
	assert.Equal(t, 5*time.Second, cfg.GracePeriod)
	assert.Nil(t, cfg.AllowedOrigins)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("AUTOSAVE_INTERVAL_SECONDS", "10")
	t.Setenv("COUNTDOWN_TICK_MS", "250")
	t.Setenv("TIMEUP_GRACE_SECONDS", "not-a-number")
	t.Setenv("ALLOWED_ORIGINS", " https://a.example , ,https://b.example")

	cfg := Load()

	assert.Equal(t, 10*time.Second, cfg.AutosaveInterval)
	assert.Equal(t, 250*time.Millisecond, cfg.TickInterval)
	assert.Equal(t, 5*time.Second, cfg.GracePeriod)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
}
