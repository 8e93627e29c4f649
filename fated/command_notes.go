package fated

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// commandNote dispatches the `/note` subcommands.
func (f *Fated) commandNote(
	ctx context.Context,
	handler InteractionHandler,
	i *discordgo.InteractionCreate,
) {
	options := i.ApplicationCommandData().Options
	if len(options) == 0 {
		f.replyContent(ctx, handler, "No subcommand given.")
		return
	}
	sub := options[0]
	user := getDiscordUser(i)

	switch sub.Name {
	case noteSubcommandCreate:
		f.noteCreate(ctx, handler, i, user, sub)
	case noteSubcommandGet:
		f.noteGet(ctx, handler, sub)
	case noteSubcommandAll:
		f.noteAll(ctx, handler, i, user)
	case noteSubcommandUpdate:
		f.noteUpdate(ctx, handler, user, sub)
	case noteSubcommandRemove:
		f.noteRemove(ctx, handler, i, user, sub)
	default:
		f.replyContent(
			ctx,
			handler,
			fmt.Sprintf("Unknown subcommand: `%s`", sub.Name),
		)
	}
}

func (f *Fated) noteCreate(
	ctx context.Context,
	handler InteractionHandler,
	i *discordgo.InteractionCreate,
	user *discordgo.User,
	sub *discordgo.ApplicationCommandInteractionDataOption,
) {
	opts := subcommandOptions(sub)
	note := Note{
		Name:     opts[commandOptionName].StringValue(),
		Content:  opts[commandOptionContent].StringValue(),
		AuthorID: user.ID,
		GuildID:  i.GuildID,
	}
	if err := createNote(ctx, f.writeDB, note); err != nil {
		f.replyError(ctx, handler, err)
		return
	}
	handler.Logger().InfoContext(ctx, "created note", "note", note)
	f.replyContent(
		ctx,
		handler,
		fmt.Sprintf("Created note **%s**.", note.Name),
	)
}

func (f *Fated) noteGet(
	ctx context.Context,
	handler InteractionHandler,
	sub *discordgo.ApplicationCommandInteractionDataOption,
) {
	opts := subcommandOptions(sub)
	name := opts[commandOptionName].StringValue()

	note, err := getNote(ctx, f.writeDB, name)
	if err != nil {
		f.replyError(ctx, handler, err)
		return
	}
	f.replyContent(
		ctx,
		handler,
		fmt.Sprintf("**%s**\n%s", note.Name, note.Content),
	)
}

func (f *Fated) noteAll(
	ctx context.Context,
	handler InteractionHandler,
	i *discordgo.InteractionCreate,
	user *discordgo.User,
) {
	notes, err := authorNotes(ctx, f.writeDB, user.ID, i.GuildID)
	if err != nil {
		handler.Logger().ErrorContext(ctx, "error listing notes", tint.Err(err))
		f.replyError(ctx, handler, err)
		return
	}
	if len(notes) == 0 {
		f.replyContent(ctx, handler, "You have no notes here.")
		return
	}
	lines := make([]string, 0, len(notes)+1)
	lines = append(lines, fmt.Sprintf("You have %d note(s):", len(notes)))
	for _, n := range notes {
		lines = append(
			lines,
			fmt.Sprintf("- **%s**: %s", n.Name, shortenString(n.Content, 80)),
		)
	}
	f.replyContent(ctx, handler, strings.Join(lines, "\n"))
}

func (f *Fated) noteUpdate(
	ctx context.Context,
	handler InteractionHandler,
	user *discordgo.User,
	sub *discordgo.ApplicationCommandInteractionDataOption,
) {
	opts := subcommandOptions(sub)
	name := opts[commandOptionName].StringValue()
	content := opts[commandOptionContent].StringValue()

	if err := updateNote(ctx, f.writeDB, name, content, user.ID); err != nil {
		f.replyError(ctx, handler, err)
		return
	}
	handler.Logger().InfoContext(ctx, "updated note", "name", name)
	f.replyContent(
		ctx,
		handler,
		fmt.Sprintf("Updated note **%s**.", name),
	)
}

func (f *Fated) noteRemove(
	ctx context.Context,
	handler InteractionHandler,
	i *discordgo.InteractionCreate,
	user *discordgo.User,
	sub *discordgo.ApplicationCommandInteractionDataOption,
) {
	opts := subcommandOptions(sub)

	var strict bool
	if opt, ok := opts[commandOptionStrict]; ok {
		strict = opt.BoolValue()
	}
	if strict && !memberHasPermission(i, discordgo.PermissionManageMessages) {
		f.replyContent(
			ctx,
			handler,
			"You need the Manage Messages permission to use `strict`.",
		)
		return
	}

	if opt, ok := opts[commandOptionAll]; ok && opt.BoolValue() {
		removed, err := clearNotes(ctx, f.writeDB, user.ID, i.GuildID)
		if err != nil {
			f.replyError(ctx, handler, err)
			return
		}
		handler.Logger().InfoContext(ctx, "cleared notes", "removed", removed)
		f.replyContent(
			ctx,
			handler,
			fmt.Sprintf("Removed %d of your notes.", removed),
		)
		return
	}

	nameOpt, ok := opts[commandOptionName]
	if !ok {
		f.replyContent(
			ctx,
			handler,
			"Give a note `name`, or set `all` to remove every note you authored.",
		)
		return
	}
	name := nameOpt.StringValue()

	if err := deleteNote(ctx, f.writeDB, name, user.ID, strict); err != nil {
		f.replyError(ctx, handler, err)
		return
	}
	handler.Logger().InfoContext(ctx, "removed note", "name", name, "strict", strict)
	f.replyContent(
		ctx,
		handler,
		fmt.Sprintf("Removed note **%s**.", name),
	)
}

// memberHasPermission reports whether the interaction's member holds the
// given permission in the channel the interaction came from.
func memberHasPermission(i *discordgo.InteractionCreate, perm int64) bool {
	if i.Member == nil {
		return false
	}
	return i.Member.Permissions&perm != 0 ||
		i.Member.Permissions&discordgo.PermissionAdministrator != 0
}
