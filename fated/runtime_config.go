package fated

import (
	"reflect"

	"github.com/bwmarrin/discordgo"
)

var (
	columnRuntimeConfigAdminUsername = "admin_username"
	columnRuntimeConfigAdminPassword = "admin_password"
	columnRuntimeConfigPaused        = "paused"
)

// RuntimeConfig represents the runtime configuration of the bot. It
// stores settings that can be modified while running and persisted
// across restarts (e.g., being paused).
//
//nolint:lll // struct tags can't be split
type RuntimeConfig struct {
	ModelUintID
	ModelUnixTime

	// Paused indicates whether the bot is currently paused. While
	// paused, incoming interactions are acknowledged with the error
	// message and not handled.
	Paused bool `json:"paused" gorm:"not null;default:false"`

	// DiscordCustomStatus is the custom status message displayed for the bot on Discord.
	DiscordCustomStatus string `json:"discord_custom_status" gorm:"type:string"`

	// DiscordErrorMessage is the message shown to users when a command fails unexpectedly.
	DiscordErrorMessage string `json:"discord_error_message" gorm:"type:string" binding:"min=1,max=100"`

	// NotificationChannelID, if set, receives the startup message when
	// the bot connects to the gateway.
	NotificationChannelID string `json:"notification_channel_id" gorm:"column:notification_channel_id;type:string"`

	// RecoverPanic controls whether panics in command handlers are
	// recovered and reported, rather than crashing the bot.
	RecoverPanic bool `json:"recover_panic" gorm:"default:true"`

	// AdminUsername for the backend API
	AdminUsername string `json:"admin_username" gorm:"type:string" log:"[redacted]"`

	// AdminPassword stores the hashed password for the admin user
	AdminPassword string `json:"admin_password" gorm:"type:string" log:"[redacted]"`

	// LogLevel is the general logging level for the application.
	LogLevel DBLogLevel `gorm:"default:INFO;type:string;check:log_level in ('INFO', 'WARN', 'ERROR', 'DEBUG')" json:"log_level" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`

	// DiscordLogLevel is the logging level for Discord-related operations.
	DiscordLogLevel DBLogLevel `gorm:"default:INFO;type:string;check:discord_log_level in ('INFO', 'WARN', 'ERROR', 'DEBUG')" json:"discord_log_level" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`

	// DiscordGoLogLevel is the logging level for the DiscordGo library.
	DiscordGoLogLevel DBLogLevel `gorm:"default:INFO;column:discordgo_log_level;type:string;check:discordgo_log_level in ('INFO', 'WARN', 'ERROR', 'DEBUG')" json:"discordgo_log_level" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`

	// DatabaseLogLevel is the logging level for database operations.
	DatabaseLogLevel DBLogLevel `gorm:"default:INFO;type:string;check:database_log_level in ('INFO', 'WARN', 'ERROR', 'DEBUG')" json:"database_log_level" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`

	// BungieLogLevel is the logging level for Bungie API operations.
	BungieLogLevel DBLogLevel `gorm:"default:INFO;column:bungie_log_level;type:string;check:bungie_log_level in ('INFO', 'WARN', 'ERROR', 'DEBUG')" json:"bungie_log_level" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`

	// APILogLevel is the logging level for API operations.
	APILogLevel DBLogLevel `gorm:"default:INFO;type:string;check:api_log_level in ('INFO', 'WARN', 'ERROR', 'DEBUG')" json:"api_log_level" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`
}

func (RuntimeConfig) TableName() string {
	return "config"
}

func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		DiscordCustomStatus: DefaultDiscordCustomStatus,
		DiscordErrorMessage: DefaultDiscordErrorMessage,
		RecoverPanic:        true,
		LogLevel:            DBLogLevelInfo,
		DiscordLogLevel:     DBLogLevelInfo,
		DiscordGoLogLevel:   DBLogLevelInfo,
		DatabaseLogLevel:    DBLogLevelInfo,
		BungieLogLevel:      DBLogLevelInfo,
		APILogLevel:         DBLogLevelInfo,
	}
}

// runtimeConfigValueChanged accepts two interface{} values,
// where runtimeConfigVal should be the value of a field from RuntimeConfig,
// and runtimeConfigUpdateVal should be the value of a field from
// RuntimeConfigUpdate.
// A boolean is returned, where `true` indicates that runtimeConfigUpdateVal
// is non-nil, and its dereferenced value is different from runtimeConfigVal.
func runtimeConfigValueChanged(runtimeConfigVal, runtimeConfigUpdateVal any) bool {
	newValRef := reflect.ValueOf(runtimeConfigUpdateVal)
	if newValRef.Kind() != reflect.Ptr {
		return false
	}

	if newValRef.IsNil() {
		return false
	}

	updateValDereferenced := newValRef.Elem().Interface()

	return !reflect.DeepEqual(runtimeConfigVal, updateValDereferenced)
}

// RuntimeConfigUpdate is a partial-update payload for RuntimeConfig.
// Nil fields are left unchanged.
//
//nolint:lll // can't break tags
type RuntimeConfigUpdate struct {
	Paused       *bool `json:"paused,omitempty"`
	RecoverPanic *bool `json:"recover_panic,omitempty"`

	DiscordCustomStatus   *string `json:"discord_custom_status,omitempty"`
	DiscordErrorMessage   *string `json:"discord_error_message,omitempty" binding:"omitnil,min=1,max=100"`
	NotificationChannelID *string `json:"notification_channel_id,omitempty"`

	LogLevel          *DBLogLevel `json:"log_level,omitempty" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`
	DiscordLogLevel   *DBLogLevel `json:"discord_log_level,omitempty" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`
	DiscordGoLogLevel *DBLogLevel `json:"discordgo_log_level,omitempty" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`
	DatabaseLogLevel  *DBLogLevel `json:"database_log_level,omitempty" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`
	BungieLogLevel    *DBLogLevel `json:"bungie_log_level,omitempty" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`
	APILogLevel       *DBLogLevel `json:"api_log_level,omitempty" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`
}

func (b RuntimeConfigUpdate) validate() error {
	return structValidator.Struct(b)
}

func getDiscordPresenceStatusUpdate(config RuntimeConfig) discordgo.GatewayStatusUpdate {
	if config.Paused {
		return discordgo.GatewayStatusUpdate{
			AFK:    true,
			Status: string(discordgo.StatusDoNotDisturb),
		}
	}
	return discordgo.GatewayStatusUpdate{Status: config.DiscordCustomStatus}
}

func setLogLevels(config *Config, rc RuntimeConfig) {
	config.LogLevel.Set(rc.LogLevel.Level())
	config.Discord.LogLevel.Set(rc.DiscordLogLevel.Level())
	config.Discord.DiscordGoLogLevel.Set(rc.DiscordGoLogLevel.Level())
	config.DatabaseLogLevel.Set(rc.DatabaseLogLevel.Level())
	config.Bungie.LogLevel.Set(rc.BungieLogLevel.Level())
	config.API.LogLevel.Set(rc.APILogLevel.Level())
}
