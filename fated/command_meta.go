package fated

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"golang.org/x/sync/errgroup"
)

func (f *Fated) commandPing(
	ctx context.Context,
	handler InteractionHandler,
) {
	latency := f.discord.session.HeartbeatLatency()
	f.replyContent(
		ctx,
		handler,
		fmt.Sprintf("Pong! Gateway latency: %s", latency.Round(time.Millisecond)),
	)
}

func (f *Fated) commandPrefix(
	ctx context.Context,
	handler InteractionHandler,
	i *discordgo.InteractionCreate,
) {
	if i.GuildID == "" {
		f.replyContent(ctx, handler, "Prefixes only apply in a guild.")
		return
	}

	opts := discordInteractionOptions(i)
	opt, ok := opts[commandOptionPrefix]
	if !ok {
		current, err := f.kv.Prefix(i.GuildID)
		if errors.Is(err, ErrKeyNotFound) {
			f.replyContent(ctx, handler, "No custom prefix set for this guild.")
			return
		}
		if err != nil {
			handler.Logger().ErrorContext(ctx, "error getting prefix", tint.Err(err))
			f.replyError(ctx, handler, err)
			return
		}
		f.replyContent(
			ctx,
			handler,
			fmt.Sprintf("The current prefix is `%s`", current),
		)
		return
	}

	prefix := opt.StringValue()
	if err := f.kv.SetPrefix(i.GuildID, prefix); err != nil {
		f.replyError(ctx, handler, err)
		return
	}
	handler.Logger().InfoContext(
		ctx,
		"set guild prefix",
		"guild_id", i.GuildID,
		"prefix", prefix,
	)
	f.replyContent(
		ctx,
		handler,
		fmt.Sprintf("Prefix changed to `%s`", prefix),
	)
}

func (f *Fated) commandAvatar(
	ctx context.Context,
	handler InteractionHandler,
	i *discordgo.InteractionCreate,
) {
	target := getDiscordUser(i)
	opts := discordInteractionOptions(i)
	if opt, ok := opts[commandOptionMember]; ok {
		target = resolvedUserOption(i, opt)
	}

	embed := &discordgo.MessageEmbed{
		Title: target.Username,
		Image: &discordgo.MessageEmbedImage{
			URL: target.AvatarURL("1024"),
		},
	}
	f.replyEmbed(ctx, handler, embed)
}

func (f *Fated) commandAbout(
	ctx context.Context,
	handler InteractionHandler,
) {
	logger := handler.Logger()

	cpuCount, _ := cpu.Counts(true)
	cpuPercent, _ := cpu.Percent(0, false)
	vm, _ := mem.VirtualMemory()
	hostInfo, _ := host.Info()

	var cpuUsage string
	if len(cpuPercent) > 0 {
		cpuUsage = fmt.Sprintf("%.1f%%", cpuPercent[0])
	} else {
		cpuUsage = "n/a"
	}

	var memUsage string
	if vm != nil {
		memUsage = fmt.Sprintf(
			"%.1f%% (%d MB / %d MB)",
			vm.UsedPercent,
			vm.Used/1024/1024,
			vm.Total/1024/1024,
		)
	} else {
		memUsage = "n/a"
	}

	var platform string
	if hostInfo != nil {
		platform = fmt.Sprintf("%s %s", hostInfo.Platform, hostInfo.PlatformVersion)
	} else {
		platform = runtime.GOOS
	}

	var links []Destiny
	var mutes []Mute
	var notes []Note
	g, gctx := errgroup.WithContext(ctx)
	g.Go(
		func() error {
			var err error
			links, err = allDestiny(gctx, f.writeDB)
			return err
		},
	)
	g.Go(
		func() error {
			var err error
			mutes, err = allMutes(gctx, f.writeDB)
			return err
		},
	)
	g.Go(
		func() error {
			var err error
			notes, err = allNotes(gctx, f.writeDB)
			return err
		},
	)
	if err := g.Wait(); err != nil {
		logger.WarnContext(ctx, "error gathering stats", tint.Err(err))
	}

	embed := &discordgo.MessageEmbed{
		Title: "About Fated",
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Version", Value: Version, Inline: true},
			{Name: "Go", Value: runtime.Version(), Inline: true},
			{Name: "OS", Value: platform, Inline: true},
			{Name: "CPUs", Value: fmt.Sprintf("%d", cpuCount), Inline: true},
			{Name: "CPU usage", Value: cpuUsage, Inline: true},
			{Name: "Memory", Value: memUsage, Inline: true},
			{
				Name:   "Uptime",
				Value:  time.Since(f.startedAt).Round(time.Second).String(),
				Inline: true,
			},
			{
				Name:   "Latency",
				Value:  f.discord.session.HeartbeatLatency().Round(time.Millisecond).String(),
				Inline: true,
			},
			{
				Name:   "Goroutines",
				Value:  fmt.Sprintf("%d", runtime.NumGoroutine()),
				Inline: true,
			},
			{
				Name:   "Linked accounts",
				Value:  fmt.Sprintf("%d", len(links)),
				Inline: true,
			},
			{Name: "Active mutes", Value: fmt.Sprintf("%d", len(mutes)), Inline: true},
			{Name: "Notes", Value: fmt.Sprintf("%d", len(notes)), Inline: true},
		},
	}
	f.replyEmbed(ctx, handler, embed)
}

func (f *Fated) commandSay(
	ctx context.Context,
	handler InteractionHandler,
	i *discordgo.InteractionCreate,
) {
	opts := discordInteractionOptions(i)
	opt, ok := opts[commandOptionMessage]
	if !ok {
		f.replyContent(ctx, handler, "Nothing to say.")
		return
	}
	f.replyContent(ctx, handler, opt.StringValue())
}

// replyEmbed edits the deferred interaction response with the given embed.
func (f *Fated) replyEmbed(
	ctx context.Context,
	handler InteractionHandler,
	embed *discordgo.MessageEmbed,
) {
	embeds := []*discordgo.MessageEmbed{embed}
	if _, err := handler.Edit(
		ctx,
		&discordgo.WebhookEdit{Embeds: &embeds},
	); err != nil {
		handler.Logger().ErrorContext(
			ctx,
			"error editing interaction response",
			tint.Err(err),
		)
	}
}
