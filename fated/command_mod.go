package fated

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// commandMod dispatches the `/mod` subcommands. Discord enforces the
// command's default member permissions, so by the time an interaction
// lands here the caller is a moderator.
func (f *Fated) commandMod(
	ctx context.Context,
	handler InteractionHandler,
	i *discordgo.InteractionCreate,
) {
	if i.GuildID == "" {
		f.replyContent(ctx, handler, "Moderation commands only work in a guild.")
		return
	}
	options := i.ApplicationCommandData().Options
	if len(options) == 0 {
		f.replyContent(ctx, handler, "No subcommand given.")
		return
	}
	sub := options[0]

	switch sub.Name {
	case modSubcommandMute:
		f.modMute(ctx, handler, i, sub)
	case modSubcommandUnmute:
		f.modUnmute(ctx, handler, i, sub)
	case modSubcommandKick:
		f.modKick(ctx, handler, i, sub)
	case modSubcommandBan:
		f.modBan(ctx, handler, i, sub)
	case modSubcommandMuteRole:
		f.modMuteRole(ctx, handler, i, sub)
	default:
		f.replyContent(
			ctx,
			handler,
			fmt.Sprintf("Unknown subcommand: `%s`", sub.Name),
		)
	}
}

func (f *Fated) modMute(
	ctx context.Context,
	handler InteractionHandler,
	i *discordgo.InteractionCreate,
	sub *discordgo.ApplicationCommandInteractionDataOption,
) {
	logger := handler.Logger()
	author := getDiscordUser(i)
	opts := subcommandOptions(sub)
	target := resolvedUserOption(i, opts[commandOptionMember])

	var reason string
	if opt, ok := opts[commandOptionReason]; ok {
		reason = opt.StringValue()
	}

	var duration time.Duration
	if opt, ok := opts[commandOptionDuration]; ok {
		parsed, err := time.ParseDuration(opt.StringValue())
		if err != nil || parsed < 0 {
			f.replyContent(
				ctx,
				handler,
				fmt.Sprintf("Invalid duration: `%s`", opt.StringValue()),
			)
			return
		}
		duration = parsed
	}

	mute := Mute{
		MemberID: target.ID,
		GuildID:  i.GuildID,
		AuthorID: author.ID,
		Why:      NullableString(reason),
		Duration: Duration{Duration: duration},
	}
	if err := addMute(ctx, f.writeDB, mute); err != nil {
		logger.ErrorContext(
			ctx,
			"error adding mute",
			append([]any{tint.Err(err)}, muteLogAttrs(mute)...)...,
		)
		f.replyError(ctx, handler, err)
		return
	}

	if roleErr := f.applyMuteRole(i.GuildID, target.ID); roleErr != nil {
		logger.WarnContext(ctx, "error assigning mute role", tint.Err(roleErr))
	}

	logger.InfoContext(ctx, "muted member", muteLogAttrs(mute)...)
	msg := fmt.Sprintf("Muted **%s**", target.Username)
	if duration > 0 {
		msg = fmt.Sprintf("%s for %s", msg, duration)
	}
	if reason != "" {
		msg = fmt.Sprintf("%s: %s", msg, reason)
	}
	f.replyContent(ctx, handler, msg)
}

func (f *Fated) modUnmute(
	ctx context.Context,
	handler InteractionHandler,
	i *discordgo.InteractionCreate,
	sub *discordgo.ApplicationCommandInteractionDataOption,
) {
	logger := handler.Logger()
	opts := subcommandOptions(sub)
	target := resolvedUserOption(i, opts[commandOptionMember])

	err := removeMute(ctx, f.writeDB, target.ID)
	if errors.Is(err, ErrNotMuted) {
		f.replyContent(
			ctx,
			handler,
			fmt.Sprintf("**%s** is not muted.", target.Username),
		)
		return
	}
	if err != nil {
		logger.ErrorContext(ctx, "error removing mute", tint.Err(err))
		f.replyError(ctx, handler, err)
		return
	}

	if roleErr := f.liftMuteRole(i.GuildID, target.ID); roleErr != nil {
		logger.WarnContext(ctx, "error removing mute role", tint.Err(roleErr))
	}

	logger.InfoContext(ctx, "unmuted member", columnMuteMemberID, target.ID)
	f.replyContent(
		ctx,
		handler,
		fmt.Sprintf("Unmuted **%s**.", target.Username),
	)
}

func (f *Fated) modKick(
	ctx context.Context,
	handler InteractionHandler,
	i *discordgo.InteractionCreate,
	sub *discordgo.ApplicationCommandInteractionDataOption,
) {
	logger := handler.Logger()
	opts := subcommandOptions(sub)
	target := resolvedUserOption(i, opts[commandOptionMember])

	var reason string
	if opt, ok := opts[commandOptionReason]; ok {
		reason = opt.StringValue()
	}

	if err := f.discord.session.GuildMemberDeleteWithReason(
		i.GuildID,
		target.ID,
		reason,
	); err != nil {
		logger.ErrorContext(ctx, "error kicking member", tint.Err(err))
		f.replyError(ctx, handler, err)
		return
	}
	logger.InfoContext(ctx, "kicked member", "member_id", target.ID, "reason", reason)
	f.replyContent(
		ctx,
		handler,
		fmt.Sprintf("Kicked **%s**.", target.Username),
	)
}

func (f *Fated) modBan(
	ctx context.Context,
	handler InteractionHandler,
	i *discordgo.InteractionCreate,
	sub *discordgo.ApplicationCommandInteractionDataOption,
) {
	logger := handler.Logger()
	opts := subcommandOptions(sub)
	target := resolvedUserOption(i, opts[commandOptionMember])

	var reason string
	if opt, ok := opts[commandOptionReason]; ok {
		reason = opt.StringValue()
	}

	if err := f.discord.session.GuildBanCreateWithReason(
		i.GuildID,
		target.ID,
		reason,
		0,
	); err != nil {
		logger.ErrorContext(ctx, "error banning member", tint.Err(err))
		f.replyError(ctx, handler, err)
		return
	}
	logger.InfoContext(ctx, "banned member", "member_id", target.ID, "reason", reason)
	f.replyContent(
		ctx,
		handler,
		fmt.Sprintf("Banned **%s**.", target.Username),
	)
}

func (f *Fated) modMuteRole(
	ctx context.Context,
	handler InteractionHandler,
	i *discordgo.InteractionCreate,
	sub *discordgo.ApplicationCommandInteractionDataOption,
) {
	logger := handler.Logger()
	opts := subcommandOptions(sub)
	roleID, _ := opts[commandOptionRole].Value.(string)
	if roleID == "" {
		f.replyContent(ctx, handler, "No role given.")
		return
	}

	if err := f.kv.SetMuteRole(i.GuildID, roleID); err != nil {
		logger.ErrorContext(ctx, "error setting mute role", tint.Err(err))
		f.replyError(ctx, handler, err)
		return
	}
	logger.InfoContext(ctx, "set mute role", "role_id", roleID, "guild_id", i.GuildID)
	f.replyContent(
		ctx,
		handler,
		fmt.Sprintf("Mute role set to <@&%s>.", roleID),
	)
}

// applyMuteRole assigns the guild's configured mute role to the member,
// if one is configured.
func (f *Fated) applyMuteRole(guildID string, memberID string) error {
	roleID, err := f.kv.MuteRole(guildID)
	if errors.Is(err, ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return f.discord.session.GuildMemberRoleAdd(guildID, memberID, roleID)
}

// liftMuteRole removes the guild's configured mute role from the member,
// if one is configured.
func (f *Fated) liftMuteRole(guildID string, memberID string) error {
	roleID, err := f.kv.MuteRole(guildID)
	if errors.Is(err, ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return f.discord.session.GuildMemberRoleRemove(guildID, memberID, roleID)
}
