package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CHAT_SWEEP_INTERVAL", "")
	t.Setenv("CHAT_MULTI_CONVERSATION", "")

	cfg := Load()

	assert.Equal(t, 60*time.Second, cfg.Chat.SweepInterval)
	assert.False(t, cfg.Chat.MultiConversation)
	assert.Equal(t, 256, cfg.Chat.SendBuffer)
	assert.Equal(t, "JSON", cfg.Logger.Format)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("CHAT_SWEEP_INTERVAL", "15s")
	t.Setenv("CHAT_MULTI_CONVERSATION", "true")
	t.Setenv("CHAT_SEND_BUFFER", "32")
	t.Setenv("SERVICE_NAME", "chat-test")

	cfg := Load()

	assert.Equal(t, 15*time.Second, cfg.Chat.SweepInterval)
	assert.True(t, cfg.Chat.MultiConversation)
	assert.Equal(t, 32, cfg.Chat.SendBuffer)
	assert.Equal(t, "chat-test", cfg.Service.Name)
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("CHAT_SWEEP_INTERVAL", "soon")
	t.Setenv("CHAT_SEND_BUFFER", "lots")
	t.Setenv("CHAT_MULTI_CONVERSATION", "maybe")

	cfg := Load()

	assert.Equal(t, 60*time.Second, cfg.Chat.SweepInterval)
	assert.Equal(t, 256, cfg.Chat.SendBuffer)
	assert.False(t, cfg.Chat.MultiConversation)
}
