package fated

import (
	"context"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// Top-level slash command names.
const (
	DiscordSlashCommandDestiny = "destiny"
	DiscordSlashCommandNote    = "note"
	DiscordSlashCommandMod     = "mod"
	DiscordSlashCommandPing    = "ping"
	DiscordSlashCommandPrefix  = "prefix"
	DiscordSlashCommandAvatar  = "avatar"
	DiscordSlashCommandAbout   = "about"
	DiscordSlashCommandSay     = "say"
)

// destiny subcommands
const (
	destinySubcommandSync      = "sync"
	destinySubcommandDesync    = "desync"
	destinySubcommandUser      = "user"
	destinySubcommandFriends   = "friends"
	destinySubcommandCharacter = "character"
	destinySubcommandSearch    = "search"
	destinySubcommandClan      = "clan"
)

// note subcommands
const (
	noteSubcommandCreate = "create"
	noteSubcommandGet    = "get"
	noteSubcommandAll    = "all"
	noteSubcommandUpdate = "update"
	noteSubcommandRemove = "remove"
)

// mod subcommands
const (
	modSubcommandMute     = "mute"
	modSubcommandUnmute   = "unmute"
	modSubcommandKick     = "kick"
	modSubcommandBan      = "ban"
	modSubcommandMuteRole = "mute-role"
)

// option names shared across commands
const (
	commandOptionName     = "name"
	commandOptionCode     = "code"
	commandOptionMember   = "member"
	commandOptionContent  = "content"
	commandOptionStrict   = "strict"
	commandOptionReason   = "reason"
	commandOptionDuration = "duration"
	commandOptionRole     = "role"
	commandOptionMessage  = "message"
	commandOptionPrefix   = "new"
	commandOptionURL      = "url"
	commandOptionAll      = "all"
)

// Bungie name codes are the digits after the '#', between 2 and 4
// digits long. 0 and 1 are reserved.
const (
	minBungieNameCode = float64(2)
	maxBungieNameCode = float64(9999)
)

func appCommandDestiny() *discordgo.ApplicationCommand {
	minNameLength := 1
	minCode := minBungieNameCode
	return &discordgo.ApplicationCommand{
		Name:        DiscordSlashCommandDestiny,
		Type:        discordgo.ChatApplicationCommand,
		Description: "Destiny 2 account linking and lookups",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        destinySubcommandSync,
				Description: "Link your Destiny 2 account to this bot",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        commandOptionName,
						Description: "Your bungie display name",
						MinLength:   &minNameLength,
						MaxLength:   32,
					},
					{
						Type:        discordgo.ApplicationCommandOptionInteger,
						Name:        commandOptionCode,
						Description: "Your bungie name code, the digits after the #",
						MinValue:    &minCode,
						MaxValue:    maxBungieNameCode,
					},
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        commandOptionURL,
						Description: "The URL you were redirected to after authorizing on Bungie.net",
						MinLength:   &minNameLength,
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        destinySubcommandDesync,
				Description: "Unlink your Destiny 2 account",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        destinySubcommandUser,
				Description: "Show a member's linked Destiny 2 account",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionUser,
						Name:        commandOptionMember,
						Description: "The member to look up, defaults to you",
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        destinySubcommandFriends,
				Description: "Show your Bungie friend list",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        destinySubcommandCharacter,
				Description: "Show your Destiny 2 characters",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        destinySubcommandSearch,
				Description: "Search players by bungie name",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        commandOptionName,
						Description: "Full bungie name, like Fate#1234",
						Required:    true,
						MinLength:   &minNameLength,
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        destinySubcommandClan,
				Description: "Show a member's Destiny 2 clan",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionUser,
						Name:        commandOptionMember,
						Description: "The member to look up, defaults to you",
					},
				},
			},
		},
	}
}

func appCommandNote() *discordgo.ApplicationCommand {
	minNameLength := 1
	return &discordgo.ApplicationCommand{
		Name:        DiscordSlashCommandNote,
		Type:        discordgo.ChatApplicationCommand,
		Description: "Create and manage named notes",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        noteSubcommandCreate,
				Description: "Create a new note",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        commandOptionName,
						Description: "The note name",
						Required:    true,
						MinLength:   &minNameLength,
						MaxLength:   100,
					},
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        commandOptionContent,
						Description: "The note content",
						Required:    true,
						MinLength:   &minNameLength,
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        noteSubcommandGet,
				Description: "Show a note",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        commandOptionName,
						Description: "The note name",
						Required:    true,
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        noteSubcommandAll,
				Description: "List your notes",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        noteSubcommandUpdate,
				Description: "Update a note you authored",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        commandOptionName,
						Description: "The note name",
						Required:    true,
					},
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        commandOptionContent,
						Description: "The new content",
						Required:    true,
						MinLength:   &minNameLength,
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        noteSubcommandRemove,
				Description: "Remove a note you authored",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        commandOptionName,
						Description: "The note name",
					},
					{
						Type:        discordgo.ApplicationCommandOptionBoolean,
						Name:        commandOptionStrict,
						Description: "Remove regardless of author (moderators only)",
					},
					{
						Type:        discordgo.ApplicationCommandOptionBoolean,
						Name:        commandOptionAll,
						Description: "Remove every note you authored",
					},
				},
			},
		},
	}
}

func appCommandMod() *discordgo.ApplicationCommand {
	dmPerm := false
	modPerms := int64(
		discordgo.PermissionModerateMembers |
			discordgo.PermissionKickMembers |
			discordgo.PermissionBanMembers,
	)
	return &discordgo.ApplicationCommand{
		Name:                     DiscordSlashCommandMod,
		Type:                     discordgo.ChatApplicationCommand,
		Description:              "Moderation utilities",
		DMPermission:             &dmPerm,
		DefaultMemberPermissions: &modPerms,
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        modSubcommandMute,
				Description: "Mute a member",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionUser,
						Name:        commandOptionMember,
						Description: "The member to mute",
						Required:    true,
					},
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        commandOptionReason,
						Description: "Why the member is being muted",
					},
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        commandOptionDuration,
						Description: "Mute duration, like 1h30m (omit for indefinite)",
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        modSubcommandUnmute,
				Description: "Unmute a member",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionUser,
						Name:        commandOptionMember,
						Description: "The member to unmute",
						Required:    true,
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        modSubcommandKick,
				Description: "Kick a member",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionUser,
						Name:        commandOptionMember,
						Description: "The member to kick",
						Required:    true,
					},
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        commandOptionReason,
						Description: "Why the member is being kicked",
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        modSubcommandBan,
				Description: "Ban a member",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionUser,
						Name:        commandOptionMember,
						Description: "The member to ban",
						Required:    true,
					},
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        commandOptionReason,
						Description: "Why the member is being banned",
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        modSubcommandMuteRole,
				Description: "Set the role assigned to muted members",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionRole,
						Name:        commandOptionRole,
						Description: "The mute role",
						Required:    true,
					},
				},
			},
		},
	}
}

func appCommandPing() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        DiscordSlashCommandPing,
		Type:        discordgo.ChatApplicationCommand,
		Description: "Show the bot's gateway latency",
	}
}

func appCommandPrefix() *discordgo.ApplicationCommand {
	dmPerm := false
	managePerms := int64(discordgo.PermissionManageServer)
	maxLength := maxPrefixLength
	return &discordgo.ApplicationCommand{
		Name:                     DiscordSlashCommandPrefix,
		Type:                     discordgo.ChatApplicationCommand,
		Description:              "Show or change this guild's command prefix",
		DMPermission:             &dmPerm,
		DefaultMemberPermissions: &managePerms,
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        commandOptionPrefix,
				Description: "The new prefix (omit to show the current one)",
				MaxLength:   maxLength,
			},
		},
	}
}

func appCommandAvatar() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        DiscordSlashCommandAvatar,
		Type:        discordgo.ChatApplicationCommand,
		Description: "Show a member's avatar",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionUser,
				Name:        commandOptionMember,
				Description: "The member, defaults to you",
			},
		},
	}
}

func appCommandAbout() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        DiscordSlashCommandAbout,
		Type:        discordgo.ChatApplicationCommand,
		Description: "Show information about this bot",
	}
}

func appCommandSay() *discordgo.ApplicationCommand {
	minLength := 1
	return &discordgo.ApplicationCommand{
		Name:        DiscordSlashCommandSay,
		Type:        discordgo.ChatApplicationCommand,
		Description: "Make the bot say something",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        commandOptionMessage,
				Description: "What to say",
				Required:    true,
				MinLength:   &minLength,
				MaxLength:   discordMaxMessageLength,
			},
		},
	}
}

// applicationCommands returns the full command set sent to the discord
// bulk overwrite endpoint.
func applicationCommands() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		appCommandDestiny(),
		appCommandNote(),
		appCommandMod(),
		appCommandPing(),
		appCommandPrefix(),
		appCommandAvatar(),
		appCommandAbout(),
		appCommandSay(),
	}
}

// resolvedUserOption returns the user referenced by a user-type command
// option, preferring the resolved user payload when discord sent one.
func resolvedUserOption(
	i *discordgo.InteractionCreate,
	opt *discordgo.ApplicationCommandInteractionDataOption,
) *discordgo.User {
	userID, _ := opt.Value.(string)
	if resolved := i.ApplicationCommandData().Resolved; resolved != nil {
		if u, ok := resolved.Users[userID]; ok {
			return u
		}
	}
	return &discordgo.User{ID: userID}
}

// InteractionHandler defines the interface for responding to Discord
// interactions. Implementations wrap the session so command handlers can
// be exercised against a mock.
type InteractionHandler interface {
	// Respond sends an initial response to a Discord interaction.
	Respond(ctx context.Context, i *discordgo.InteractionResponse) error

	// GetResponse retrieves the current response for an interaction.
	GetResponse(ctx context.Context) (*discordgo.Message, error)

	// Edit modifies an existing interaction response.
	Edit(
		ctx context.Context,
		e *discordgo.WebhookEdit,
		opts ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// Delete removes an interaction response.
	Delete(ctx context.Context, opts ...discordgo.RequestOption)

	// GetInteraction returns the original InteractionCreate event.
	GetInteraction() *discordgo.InteractionCreate

	// Logger returns the logger associated with this handler.
	Logger() *slog.Logger
}

// GatewayHandler implements [InteractionHandler] for interactions received
// via the discord websocket gateway.
type GatewayHandler struct {
	session     DiscordSessionHandler
	interaction *discordgo.InteractionCreate
	logger      *slog.Logger
	mu          *sync.RWMutex
}

func (w GatewayHandler) Respond(
	ctx context.Context,
	response *discordgo.InteractionResponse,
) error {
	err := w.session.InteractionRespond(w.interaction.Interaction, response)
	if err != nil {
		w.logger.ErrorContext(ctx, "error responding to interaction", tint.Err(err))
	}
	return err
}

func (w GatewayHandler) GetResponse(ctx context.Context) (
	*discordgo.Message,
	error,
) {
	msg, err := w.session.InteractionResponse(w.interaction.Interaction)
	if err != nil {
		w.logger.ErrorContext(ctx, "error getting interaction", tint.Err(err))
	}
	return msg, err
}

func (w GatewayHandler) GetInteraction() *discordgo.InteractionCreate {
	return w.interaction
}

func (w GatewayHandler) Edit(
	ctx context.Context,
	wh *discordgo.WebhookEdit,
	opts ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	msg, err := w.session.InteractionResponseEdit(
		w.interaction.Interaction,
		wh,
		opts...,
	)
	if err != nil {
		w.logger.ErrorContext(ctx, "error editing interaction response", tint.Err(err))
	}
	return msg, err
}

func (w GatewayHandler) Delete(ctx context.Context, opts ...discordgo.RequestOption) {
	err := w.session.InteractionResponseDelete(
		w.interaction.Interaction,
		opts...,
	)
	if err != nil {
		w.logger.ErrorContext(ctx, "error deleting interaction response", tint.Err(err))
	}
}

func (w GatewayHandler) Logger() *slog.Logger {
	return w.logger
}
