package fated

import (
	"log/slog"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
)

func TestRuntimeConfigValueChanged(t *testing.T) {
	t.Parallel()

	// nil pointer means "leave unchanged"
	var nilStr *string
	assert.False(t, runtimeConfigValueChanged("old", nilStr))

	// non-pointer values never count as a change
	assert.False(t, runtimeConfigValueChanged("old", "new"))

	newVal := "new"
	assert.True(t, runtimeConfigValueChanged("old", &newVal))

	same := "old"
	assert.False(t, runtimeConfigValueChanged("old", &same))

	enabled := true
	assert.True(t, runtimeConfigValueChanged(false, &enabled))
}

func TestGetDiscordPresenceStatusUpdate(t *testing.T) {
	t.Parallel()

	cfg := DefaultRuntimeConfig()
	cfg.DiscordCustomStatus = "shattering thrones"

	update := getDiscordPresenceStatusUpdate(cfg)
	assert.Equal(t, "shattering thrones", update.Status)
	assert.False(t, update.AFK)

	cfg.Paused = true
	update = getDiscordPresenceStatusUpdate(cfg)
	assert.Equal(t, string(discordgo.StatusDoNotDisturb), update.Status)
	assert.True(t, update.AFK)
}

func TestSetLogLevels(t *testing.T) {
	t.Parallel()

	cfg := DefaultTestConfig(t)
	rc := DefaultRuntimeConfig()
	rc.LogLevel = DBLogLevelError
	rc.DiscordLogLevel = DBLogLevelDebug
	rc.BungieLogLevel = DBLogLevelWarn

	setLogLevels(cfg, rc)
	assert.Equal(t, slog.LevelError, cfg.LogLevel.Level())
	assert.Equal(t, slog.LevelDebug, cfg.Discord.LogLevel.Level())
	assert.Equal(t, slog.LevelWarn, cfg.Bungie.LogLevel.Level())
	assert.Equal(t, slog.LevelInfo, cfg.DatabaseLogLevel.Level())
}
