package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("REMINDER_LEAD_MINUTES", "")
	t.Setenv("WHATSAPP_PROVIDER", "")

	cfg := Load()

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 2*time.Hour, cfg.Business.ReminderLead)
	assert.Equal(t, "noop", cfg.WhatsApp.Provider)
	assert.False(t, cfg.SMTP.Enabled())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("REMINDER_LEAD_MINUTES", "30")
	t.Setenv("WHATSAPP_PROVIDER", "Twilio")
	t.Setenv("REDIS_DB", "not-a-number")
	t.Setenv("SMTP_HOST", "smtp.example.com")
	t.Setenv("SMTP_FROM", "billing@example.com")

	cfg := Load()

	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 30*time.Minute, cfg.Business.ReminderLead)
	assert.Equal(t, "twilio", cfg.WhatsApp.Provider)
	assert.Equal(t, 0, cfg.Redis.DB)
	assert.True(t, cfg.SMTP.Enabled())
}
