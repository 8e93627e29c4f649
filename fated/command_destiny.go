package fated

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// commandDestiny dispatches the `/destiny` subcommands.
func (f *Fated) commandDestiny(
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

	switch sub.Name {
	case destinySubcommandSync:
		f.destinySync(ctx, handler, i, sub)
	case destinySubcommandDesync:
		f.destinyDesync(ctx, handler, i)
	case destinySubcommandUser:
		f.destinyUser(ctx, handler, i, sub)
	case destinySubcommandFriends:
		f.destinyFriends(ctx, handler, i)
	case destinySubcommandCharacter:
		f.destinyCharacter(ctx, handler, i)
	case destinySubcommandSearch:
		f.destinySearch(ctx, handler, sub)
	case destinySubcommandClan:
		f.destinyClan(ctx, handler, i, sub)
	default:
		f.replyContent(
			ctx,
			handler,
			fmt.Sprintf("Unknown subcommand: `%s`", sub.Name),
		)
	}
}

func (f *Fated) destinySync(
	ctx context.Context,
	handler InteractionHandler,
	i *discordgo.InteractionCreate,
	sub *discordgo.ApplicationCommandInteractionDataOption,
) {
	logger := handler.Logger()
	user := getDiscordUser(i)
	opts := subcommandOptions(sub)

	if opt, ok := opts[commandOptionURL]; ok {
		f.destinyAuthorize(ctx, handler, user, opt.StringValue())
		return
	}

	nameOpt, nameOK := opts[commandOptionName]
	codeOpt, codeOK := opts[commandOptionCode]
	if !nameOK || !codeOK {
		f.replySyncInstructions(ctx, handler)
		return
	}

	name := nameOpt.StringValue()
	code := int16(codeOpt.IntValue())

	if code <= 1 {
		f.replyContent(ctx, handler, ErrInvalidCode.Error())
		return
	}

	memberships, err := f.bungie.SearchPlayers(ctx, name, code)
	if err != nil {
		logger.ErrorContext(ctx, "error searching players", tint.Err(err))
		f.replyError(ctx, handler, err)
		return
	}
	if len(memberships) == 0 {
		f.replyContent(
			ctx,
			handler,
			fmt.Sprintf("No Destiny 2 players found for `%s#%d`.", name, code),
		)
		return
	}

	m := memberships[0]
	link := Destiny{
		CtxID:          user.ID,
		MembershipID:   m.MembershipID,
		Name:           m.GlobalName,
		Code:           m.GlobalNameCode,
		MembershipType: m.MembershipType,
	}
	if link.Name == "" {
		link.Name = m.DisplayName
	}
	if link.Code == 0 {
		link.Code = code
	}

	logger = logger.With(destinyLogAttrs(link)...)
	if err := linkDestiny(ctx, f.writeDB, link); err != nil {
		logger.ErrorContext(ctx, "error linking account", tint.Err(err))
		f.replyError(ctx, handler, err)
		return
	}
	logger.InfoContext(ctx, "linked account")
	f.replyContent(
		ctx,
		handler,
		fmt.Sprintf("Synced your Destiny 2 account: **%s**", link.String()),
	)
}

// replySyncInstructions is the response to a bare `/destiny sync`: a
// short walkthrough of the OAuth2 authorization flow.
func (f *Fated) replySyncInstructions(
	ctx context.Context,
	handler InteractionHandler,
) {
	authorizeURL := f.bungie.AuthorizeURL()
	if authorizeURL == "" {
		f.replyContent(
			ctx,
			handler,
			"Account authorization isn't configured. "+
				"Provide your bungie `name` and `code` to link your account.",
		)
		return
	}
	f.replyContent(
		ctx,
		handler,
		fmt.Sprintf(
			"How to sync your account:\n"+
				"1) Visit %s\n"+
				"2) Login with your Bungie account and authorize.\n"+
				"3) Copy the URL you're redirected to and run "+
				"`/destiny sync` again with it as the `url` option.",
			authorizeURL,
		),
	)
}

// destinyAuthorize completes the OAuth2 flow: it parses the
// authorization code out of the pasted redirect URL, exchanges it for
// tokens, caches them, and links the account's first Destiny 2
// membership if none is linked yet.
func (f *Fated) destinyAuthorize(
	ctx context.Context,
	handler InteractionHandler,
	user *discordgo.User,
	rawURL string,
) {
	logger := handler.Logger()

	code, err := parseOAuth2Code(rawURL)
	if err != nil {
		f.replyContent(ctx, handler, err.Error())
		return
	}

	token, err := f.bungie.FetchToken(ctx, code)
	if err != nil {
		logger.ErrorContext(ctx, "error exchanging oauth2 code", tint.Err(err))
		f.replyError(ctx, handler, err)
		return
	}
	if err = f.kv.SetToken(
		user.ID, OAuth2Token{
			AccessToken:  token.AccessToken,
			RefreshToken: token.RefreshToken,
			ExpiresIn:    token.ExpiresIn,
		},
	); err != nil {
		logger.ErrorContext(ctx, "error caching token", tint.Err(err))
		f.replyError(ctx, handler, err)
		return
	}

	if _, err = getDestiny(ctx, f.writeDB, user.ID); err == nil {
		f.replyContent(ctx, handler, "Authorized your Bungie account. \U0001f44d")
		return
	}

	bungieUser, err := f.bungie.GetCurrentUser(ctx, token.AccessToken)
	if err != nil {
		logger.ErrorContext(ctx, "error getting authorized user", tint.Err(err))
		f.replyError(ctx, handler, err)
		return
	}
	if len(bungieUser.DestinyMemberships) == 0 {
		f.replyContent(
			ctx,
			handler,
			"Authorized your Bungie account, but it has no Destiny 2 memberships.",
		)
		return
	}

	m := bungieUser.DestinyMemberships[0]
	link := Destiny{
		CtxID:          user.ID,
		MembershipID:   m.MembershipID,
		Name:           m.GlobalName,
		Code:           m.GlobalNameCode,
		MembershipType: m.MembershipType,
	}
	if link.Name == "" {
		link.Name = m.DisplayName
	}
	logger = logger.With(destinyLogAttrs(link)...)
	if err = linkDestiny(ctx, f.writeDB, link); err != nil {
		logger.ErrorContext(ctx, "error linking account", tint.Err(err))
		f.replyError(ctx, handler, err)
		return
	}
	logger.InfoContext(ctx, "linked account")
	f.replyContent(
		ctx,
		handler,
		fmt.Sprintf("Synced your Destiny 2 account: **%s**", link.String()),
	)
}

// parseOAuth2Code extracts the authorization code from a pasted
// redirect URL. A bare code is accepted as-is.
func parseOAuth2Code(rawURL string) (string, error) {
	if !strings.Contains(rawURL, "code=") {
		if strings.ContainsAny(rawURL, ":/?&") {
			return "", fmt.Errorf(
				"no authorization code found in `%s`: paste the full URL "+
					"you were redirected to",
				rawURL,
			)
		}
		return rawURL, nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid redirect URL: %s", err.Error())
	}
	code := parsed.Query().Get("code")
	if code == "" {
		return "", fmt.Errorf(
			"no authorization code found in `%s`: paste the full URL "+
				"you were redirected to",
			rawURL,
		)
	}
	return code, nil
}

func (f *Fated) destinyDesync(
	ctx context.Context,
	handler InteractionHandler,
	i *discordgo.InteractionCreate,
) {
	user := getDiscordUser(i)
	if err := unlinkDestiny(ctx, f.writeDB, user.ID); err != nil {
		f.replyError(ctx, handler, err)
		return
	}
	if err := f.kv.RemoveToken(user.ID); err != nil {
		handler.Logger().WarnContext(ctx, "error removing cached token", tint.Err(err))
	}
	f.replyContent(ctx, handler, "Desynced your Destiny 2 account.")
}

func (f *Fated) destinyUser(
	ctx context.Context,
	handler InteractionHandler,
	i *discordgo.InteractionCreate,
	sub *discordgo.ApplicationCommandInteractionDataOption,
) {
	target := getDiscordUser(i)
	opts := subcommandOptions(sub)
	if opt, ok := opts[commandOptionMember]; ok {
		target = resolvedUserOption(i, opt)
	}

	link, err := getDestiny(ctx, f.writeDB, target.ID)
	if err != nil {
		f.replyError(ctx, handler, err)
		return
	}
	f.replyContent(
		ctx,
		handler,
		fmt.Sprintf(
			"**%s** is synced as **%s** (membership `%s`)",
			target.Username,
			link.String(),
			link.MembershipID,
		),
	)
}

func (f *Fated) destinyFriends(
	ctx context.Context,
	handler InteractionHandler,
	i *discordgo.InteractionCreate,
) {
	logger := handler.Logger()
	user := getDiscordUser(i)

	token, err := refreshUserToken(ctx, f.kv, f.bungie, user.ID)
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			f.replyContent(
				ctx,
				handler,
				"You're not authorized. Run `/destiny sync` to link your account.",
			)
			return
		}
		logger.ErrorContext(ctx, "error getting cached token", tint.Err(err))
		f.replyError(ctx, handler, err)
		return
	}

	friends, err := f.bungie.GetFriends(ctx, token.AccessToken)
	if err != nil {
		logger.ErrorContext(ctx, "error getting friend list", tint.Err(err))
		f.replyError(ctx, handler, err)
		return
	}
	if len(friends) == 0 {
		f.replyContent(ctx, handler, "Your friend list is empty.")
		return
	}

	lines := make([]string, 0, len(friends)+1)
	lines = append(lines, "Your Bungie friends:")
	for _, friend := range friends {
		status := "offline"
		if friend.Online() {
			status = "online"
		}
		lines = append(
			lines,
			fmt.Sprintf(
				"- **%s#%d** (%s)",
				friend.GlobalName,
				friend.GlobalNameCode,
				status,
			),
		)
	}
	f.replyContent(ctx, handler, strings.Join(lines, "\n"))
}

func (f *Fated) destinyCharacter(
	ctx context.Context,
	handler InteractionHandler,
	i *discordgo.InteractionCreate,
) {
	logger := handler.Logger()
	user := getDiscordUser(i)

	link, err := getDestiny(ctx, f.writeDB, user.ID)
	if err != nil {
		f.replyError(ctx, handler, err)
		return
	}

	profile, err := f.bungie.GetProfile(ctx, link.MembershipType, link.MembershipID)
	if err != nil {
		logger.ErrorContext(ctx, "error getting profile", tint.Err(err))
		f.replyError(ctx, handler, err)
		return
	}
	if len(profile.Characters) == 0 {
		f.replyContent(ctx, handler, "No characters found on your profile.")
		return
	}

	lines := make([]string, 0, len(profile.Characters)+1)
	lines = append(lines, fmt.Sprintf("Characters for **%s**:", link.String()))
	for _, c := range profile.Characters {
		lines = append(
			lines,
			fmt.Sprintf(
				"- **%s** | Light %d | last played %s",
				c.ClassName(),
				c.Light,
				c.DateLastPlayed.Format("2006-01-02"),
			),
		)
	}
	f.replyContent(ctx, handler, strings.Join(lines, "\n"))
}

func (f *Fated) destinySearch(
	ctx context.Context,
	handler InteractionHandler,
	sub *discordgo.ApplicationCommandInteractionDataOption,
) {
	logger := handler.Logger()
	opts := subcommandOptions(sub)
	fullName := opts[commandOptionName].StringValue()

	name, code, err := splitBungieName(fullName)
	if err != nil {
		f.replyContent(ctx, handler, err.Error())
		return
	}

	memberships, searchErr := f.bungie.SearchPlayers(ctx, name, code)
	if searchErr != nil {
		logger.ErrorContext(ctx, "error searching players", tint.Err(searchErr))
		f.replyError(ctx, handler, searchErr)
		return
	}
	if len(memberships) == 0 {
		f.replyContent(
			ctx,
			handler,
			fmt.Sprintf("No Destiny 2 players found for `%s`.", fullName),
		)
		return
	}

	lines := make([]string, 0, len(memberships))
	for _, m := range memberships {
		displayName := m.GlobalName
		if displayName == "" {
			displayName = m.DisplayName
		}
		lines = append(
			lines,
			fmt.Sprintf(
				"- **%s#%d** on %s (membership `%s`)",
				displayName,
				m.GlobalNameCode,
				m.MembershipType.String(),
				m.MembershipID,
			),
		)
	}
	f.replyContent(ctx, handler, strings.Join(lines, "\n"))
}

func (f *Fated) destinyClan(
	ctx context.Context,
	handler InteractionHandler,
	i *discordgo.InteractionCreate,
	sub *discordgo.ApplicationCommandInteractionDataOption,
) {
	logger := handler.Logger()
	target := getDiscordUser(i)
	opts := subcommandOptions(sub)
	if opt, ok := opts[commandOptionMember]; ok {
		target = resolvedUserOption(i, opt)
	}

	link, err := getDestiny(ctx, f.writeDB, target.ID)
	if err != nil {
		f.replyError(ctx, handler, err)
		return
	}

	clan, err := f.bungie.GetClanForMember(ctx, link.MembershipType, link.MembershipID)
	if err != nil {
		logger.ErrorContext(ctx, "error getting clan", tint.Err(err))
		f.replyError(ctx, handler, err)
		return
	}
	if clan == nil {
		f.replyContent(
			ctx,
			handler,
			fmt.Sprintf("**%s** is not in a clan.", link.String()),
		)
		return
	}

	msg := fmt.Sprintf(
		"**%s** — *%s*\nMembers: %d",
		clan.Name,
		clan.Motto,
		clan.MemberCount,
	)
	if clan.About != "" {
		msg = fmt.Sprintf("%s\n%s", msg, shortenString(clan.About, 500))
	}
	f.replyContent(ctx, handler, msg)
}

// splitBungieName parses a full bungie name like `Fate#1234` into its
// display name and code.
func splitBungieName(fullName string) (string, int16, error) {
	name, codeStr, found := strings.Cut(fullName, "#")
	if !found || name == "" {
		return "", 0, fmt.Errorf(
			"expected a full bungie name like `Fate#1234`, got `%s`",
			fullName,
		)
	}
	code, err := strconv.ParseInt(codeStr, 10, 16)
	if err != nil {
		return "", 0, fmt.Errorf("invalid bungie name code: `%s`", codeStr)
	}
	return name, int16(code), nil
}

// replyError edits the interaction response with a user-facing message
// for the given error. Domain errors and Bungie API errors are surfaced
// directly, anything else gets the configured generic error message.
func (f *Fated) replyError(
	ctx context.Context,
	handler InteractionHandler,
	err error,
) {
	var bungieErr *BungieError
	switch {
	case errors.As(err, &bungieErr):
		f.replyContent(
			ctx,
			handler,
			fmt.Sprintf("Bungie API error: %s", bungieErr.Message),
		)
	case errors.Is(err, ErrNotLinked),
		errors.Is(err, ErrInvalidCode),
		errors.Is(err, ErrMembershipLinked),
		errors.Is(err, ErrNotMuted),
		errors.Is(err, ErrNoteExists),
		errors.Is(err, ErrNoteNotFound),
		errors.Is(err, ErrNotNoteAuthor),
		errors.Is(err, ErrPrefixTooLong):
		f.replyContent(ctx, handler, err.Error())
	default:
		f.replyContent(ctx, handler, f.RuntimeConfig().DiscordErrorMessage)
	}
}

// replyContent edits the deferred interaction response with the given
// content, truncated to discord's message length cap.
func (f *Fated) replyContent(
	ctx context.Context,
	handler InteractionHandler,
	content string,
) {
	content = shortenString(content, discordMaxMessageLength)
	if _, err := handler.Edit(
		ctx,
		&discordgo.WebhookEdit{Content: &content},
	); err != nil {
		handler.Logger().ErrorContext(
			ctx,
			"error editing interaction response",
			tint.Err(err),
		)
	}
}
