// Package fated implements a Discord bot layering moderation utilities,
// note-taking and Destiny 2 account linking against the Bungie.net API,
// with an embedded admin HTTP API.
package fated

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"gorm.io/gorm"
)

// Set at build time via -ldflags.
var (
	Version   = "dev"
	CommitSHA = ""
	BuildTime = ""
)

var defaultLogWriter io.Writer = os.Stdout

// Fated is the main bot instance. Create one with [New] and start it
// with [Fated.Run].
type Fated struct {
	config *Config

	db      *gorm.DB
	writeDB DBI
	kv      *KV

	bungie  *BungieClient
	discord *Discord
	api     *API

	logger     *slog.Logger
	logHandler slog.Handler

	// prevents concurrent Run calls
	runMu sync.Mutex

	cfgMu         sync.RWMutex
	runtimeConfig *RuntimeConfig

	paused       atomic.Bool
	pendingSetup atomic.Bool

	startedAt time.Time

	signalStop    chan struct{}
	signalReady   chan struct{}
	eventShutdown chan struct{}

	triggerRuntimeConfigRefreshCh chan bool

	getInteractionHandlerFunc func(
		ctx context.Context,
		i *discordgo.InteractionCreate,
	) InteractionHandler
}

// New creates and initializes a new Fated instance with the provided
// configuration. Call [Fated.Run] on the returned instance to start
// the bot.
func New(config *Config) (*Fated, error) {
	var errs []error

	switch config.DatabaseType {
	case dbTypeSQLite, dbTypePostgres:
		//
	default:
		errs = append(
			errs,
			errors.New("invalid database type (must be 'sqlite' or 'postgres')"),
		)
	}

	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}

	f := &Fated{
		config:                        config,
		signalReady:                   make(chan struct{}, 1),
		eventShutdown:                 make(chan struct{}, 1),
		triggerRuntimeConfigRefreshCh: make(chan bool, 1),
	}

	f.logHandler = tint.NewHandler(
		defaultLogWriter, &tint.Options{
			Level:     f.config.LogLevel,
			AddSource: true,
		},
	)

	f.logger = slog.New(f.logHandler)
	slog.SetDefault(f.logger)

	f.bungie = newBungieClient(
		config.Bungie,
		config.HTTPClient,
		slog.New(tintHandler(config.Bungie.LogLevel, "bungie")),
	)

	f.config.Discord.httpClient = f.config.HTTPClient

	disc := newDiscord(f.config.Discord)

	discordgo.Logger = discordgoLoggerFunc(
		context.Background(),
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     f.config.Discord.DiscordGoLogLevel,
				AddSource: true,
			},
		).WithAttrs([]slog.Attr{slog.String(loggerNameKey, "discordgo")}),
	)

	disc.logger = slog.New(
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     f.config.Discord.LogLevel,
				AddSource: true,
			},
		),
	).With(loggerNameKey, "discord")

	f.discord = disc
	disc.f = f

	api, err := newAPI(f, config.API)
	errs = append(errs, err)
	f.api = api

	return f, errors.Join(errs...)
}

func (f *Fated) ValidateConfig() error {
	return structValidator.Struct(f.config)
}

// RegisterSlashCommands sends the bot's application commands to the
// discord bulk overwrite endpoint.
func (f *Fated) RegisterSlashCommands(options ...discordgo.RequestOption) (
	[]*discordgo.ApplicationCommand,
	error,
) {
	return f.discord.registerCommands(options...)
}

// RuntimeConfig returns a copy of the current runtime configuration.
func (f *Fated) RuntimeConfig() RuntimeConfig {
	f.cfgMu.RLock()
	defer f.cfgMu.RUnlock()
	if f.runtimeConfig == nil {
		return DefaultRuntimeConfig()
	}
	return *f.runtimeConfig
}

// Run starts the bot and blocks until the given context is canceled,
// an interrupt is received, or startup fails.
func (f *Fated) Run(ctx context.Context) error {
	f.runMu.Lock()
	defer f.runMu.Unlock()

	f.signalStop = make(chan struct{}, 1)
	f.startedAt = time.Now()
	logger := f.logger

	if err := f.ValidateConfig(); err != nil {
		logger.Error("invalid config", tint.Err(err))
		return err
	}

	ctx = WithLogger(ctx, logger)

	runtimeWG := &sync.WaitGroup{}

	logger.LogAttrs(ctx, slog.LevelInfo, "starting", slog.Any("config", f.config))
	if f.signalReady == nil {
		f.signalReady = make(chan struct{}, 1)
	}

	// the 'runtime' context - canceling it triggers a graceful shutdown
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-f.signalStop:
			f.logger.Warn("got stop signal, canceling")
			cancel()
		case <-ctx.Done():
			f.logger.Warn("context canceled, sending stop signal")
			f.signalStop <- struct{}{}
		}
	}()

	go func() {
		httpErr := f.api.Serve(ctx)
		if httpErr != nil && !errors.Is(httpErr, http.ErrServerClosed) {
			f.logger.ErrorContext(ctx, "error serving api HTTP", tint.Err(httpErr))
		}
	}()

	startCtx, startCancel := context.WithTimeout(ctx, f.config.StartupTimeout)
	defer startCancel()

	initErr := make(chan error, 1)
	go func() {
		logger.Debug("initializing run...")
		initErr <- f.initRun(startCtx)
	}()

	select {
	case <-startCtx.Done():
		return fmt.Errorf("startup cancelled or timed out")
	case err := <-initErr:
		if err != nil {
			logger.ErrorContext(ctx, "init error", tint.Err(err))
			if f.api != nil && f.api.listener != nil {
				go func() {
					if e := f.api.listener.Close(); e != nil {
						logger.ErrorContext(ctx, "error closing listener", tint.Err(e))
					}
				}()
			}
			return err
		}
		logger.InfoContext(ctx, "init complete")
	}

	if f.pendingSetup.Load() {
		logger.WarnContext(
			ctx,
			"admin credentials not set - run `fated init` to configure them",
		)
	}

	if discErr := f.initDiscordSession(ctx, runtimeWG); discErr != nil {
		f.logger.ErrorContext(ctx, "error creating discord session", tint.Err(discErr))
		return discErr
	}

	if err := f.discordInit(ctx, logger); err != nil {
		return err
	}

	if _, err := f.RegisterSlashCommands(); err != nil {
		logger.ErrorContext(ctx, "error registering commands", tint.Err(err))
		return err
	}

	f.startRuntimeConfigRefresher(ctx, runtimeWG, logger)
	f.startMuteSweeper(ctx, runtimeWG)

	f.signalReady <- struct{}{}
	f.logger.InfoContext(ctx, "sent ready signal")

	// block until something cancels the main runtime context - generally
	// an interrupt, or the `/api/quit` endpoint
	<-ctx.Done()

	return f.shutdown(ctx, runtimeWG)
}

func (f *Fated) initRun(startCtx context.Context) error {
	f.logger.Debug("initializing DB...")
	if err := f.initDB(startCtx); err != nil {
		return fmt.Errorf("error initializing database: %w", err)
	}
	f.logger.Debug("finished initializing DB")

	if f.kv == nil {
		kv, err := OpenKV(*f.config.KV, f.logger.With(loggerNameKey, "kv"))
		if err != nil {
			return fmt.Errorf("error opening kv store: %w", err)
		}
		f.kv = kv
	}

	// load or create the runtime config row - this tells the bot
	// whether it should start in a 'paused' state (so a crash and
	// restart doesn't silently resume a deliberately paused bot)
	var botState RuntimeConfig

	getStateErr := f.db.Last(&botState).Error
	if getStateErr != nil {
		if errors.Is(getStateErr, gorm.ErrRecordNotFound) {
			f.pendingSetup.Store(true)
			botState = DefaultRuntimeConfig()

			if _, err := f.writeDB.Create(startCtx, &botState); err != nil {
				return fmt.Errorf("error creating config: %w", err)
			}
		} else {
			return fmt.Errorf("error getting config: %w", getStateErr)
		}
	}
	if validationErr := structValidator.Struct(botState); validationErr != nil {
		return fmt.Errorf("invalid runtime config: %w", validationErr)
	}

	if botState.AdminUsername == "" || botState.AdminPassword == "" {
		f.pendingSetup.Store(true)
	}
	f.paused.Store(botState.Paused)
	setLogLevels(f.config, botState)
	f.runtimeConfig = &botState

	return nil
}

func (f *Fated) initDB(ctx context.Context) error {
	logger, ok := ContextLogger(ctx)
	if !ok || logger == nil {
		logger = f.logger
	}

	db, err := CreateDB(ctx, f.config.DatabaseType, f.config.Database)
	if err != nil {
		return fmt.Errorf("error opening database: %w", err)
	}

	handler := tint.NewHandler(
		defaultLogWriter, &tint.Options{
			Level:     f.config.DatabaseLogLevel,
			AddSource: true,
		},
	)
	gormLogger := newGORMLogger(handler, f.config.DatabaseSlowThreshold)
	db.Logger = gormLogger

	f.db = db
	f.writeDB = NewDatabase(
		db,
		logger.With(loggerNameKey, "database"),
		f.config.DatabaseType == dbTypePostgres,
	)
	return nil
}

func (f *Fated) initDiscordSession(ctx context.Context, runtimeWG *sync.WaitGroup) error {
	logger := f.logger.With(loggerNameKey, "discord_session")

	if f.discord.session == nil {
		disc, discErr := f.discord.newSession()
		if discErr != nil {
			return fmt.Errorf("error creating discord session: %w", discErr)
		}
		f.discord.session = disc
	}

	ctx = WithLogger(ctx, logger)

	if len(f.discord.discordgoRemoveHandlerFuncs) > 0 {
		for _, h := range f.discord.discordgoRemoveHandlerFuncs {
			h()
		}
	}

	identify := discordgo.Identify{
		Intents:  f.config.Discord.GatewayIntents,
		Presence: getDiscordPresenceStatusUpdate(f.RuntimeConfig()),
	}
	f.discord.session.SetIdentify(identify)

	f.discord.discordgoRemoveHandlerFuncs = []func(){
		f.discord.session.AddHandler(f.discord.handlerConnect()),
		f.discord.session.AddHandler(f.discord.handlerDisconnect()),
		f.discord.session.AddHandler(f.discord.handlerReady()),
		f.discord.session.AddHandler(
			func(
				_ *discordgo.Session,
				i *discordgo.InteractionCreate,
			) {
				handler := f.getInteractionHandlerFunc(ctx, i)
				runtimeWG.Add(1)
				go func() {
					defer runtimeWG.Done()
					f.handleInteraction(ctx, handler)
				}()
			},
		),
	}

	if f.getInteractionHandlerFunc == nil {
		f.getInteractionHandlerFunc = func(
			_ context.Context,
			i *discordgo.InteractionCreate,
		) InteractionHandler {
			return GatewayHandler{
				session:     f.discord.session,
				interaction: i,
				mu:          &sync.RWMutex{},
				logger: f.logger.With(
					slog.Group(
						"interaction",
						interactionLogAttrs(*i)...,
					),
				),
			}
		}
	}
	return nil
}

// discordInit opens the discord websocket connection.
func (f *Fated) discordInit(ctx context.Context, logger *slog.Logger) error {
	f.logger.InfoContext(ctx, "connecting to discord")
	if err := f.discord.session.Open(); err != nil {
		logger.ErrorContext(ctx, "error connecting to discord!", tint.Err(err))
		return fmt.Errorf("error connecting to discord: %w", err)
	}
	runtimeCfg := f.RuntimeConfig()
	if runtimeCfg.DiscordCustomStatus != "" && !f.paused.Load() {
		go func() {
			if statusErr := f.discord.updateCustomStatus(
				runtimeCfg.DiscordCustomStatus,
			); statusErr != nil {
				logger.Error("error updating discord status", tint.Err(statusErr))
			}
		}()
	}
	return nil
}

// startRuntimeConfigRefresher starts the goroutine that periodically
// reloads [RuntimeConfig] from the database.
func (f *Fated) startRuntimeConfigRefresher(
	ctx context.Context,
	runtimeWG *sync.WaitGroup,
	logger *slog.Logger,
) {
	runtimeConfigTTL := f.config.RuntimeConfigTTL

	if runtimeConfigTTL > 0 {
		runtimeWG.Add(1)
		go func() {
			defer runtimeWG.Done()
			ticker := time.NewTicker(runtimeConfigTTL)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					select {
					case f.triggerRuntimeConfigRefreshCh <- false:
					//
					case <-time.After(5 * time.Second):
						logger.Warn("timed out sending config refresh signal")
					}
				}
			}
		}()
	}

	runtimeWG.Add(1)
	go func() {
		defer runtimeWG.Done()

		for {
			select {
			case <-ctx.Done():
				return
			case forceRefresh := <-f.triggerRuntimeConfigRefreshCh:
				refreshCh := make(chan struct{}, 1)
				refreshCtx, refreshCancel := context.WithTimeout(ctx, 30*time.Second)
				go func() {
					f.refreshRuntimeConfig(refreshCtx, forceRefresh)
					refreshCh <- struct{}{}
				}()
				select {
				case <-refreshCh:
				//
				case <-refreshCtx.Done():
					f.logger.Warn("refresh runtime config timed out or interrupted")
				}
				refreshCancel()
			}
		}
	}()
}

func (f *Fated) refreshRuntimeConfig(ctx context.Context, force bool) {
	f.cfgMu.Lock()
	defer f.cfgMu.Unlock()

	runtimeConfigTTL := f.config.RuntimeConfigTTL
	rollbackConfig := f.runtimeConfig
	if rollbackConfig == nil {
		rollbackConfig = &RuntimeConfig{}
	}

	var refreshConfig RuntimeConfig
	if err := f.db.WithContext(ctx).Last(&refreshConfig).Error; err != nil {
		f.logger.Error("error getting runtime config", tint.Err(err))
		return
	}

	lastUpdated := time.Since(time.UnixMilli(refreshConfig.UpdatedAt))
	if !force && lastUpdated <= runtimeConfigTTL {
		f.logger.Debug("runtime config is up to date, skipping refresh")
		return
	}

	switch {
	case refreshConfig.Paused && !rollbackConfig.Paused:
		f.paused.Store(true)
		if discErr := f.discord.updateStatusComplex(
			discordgo.UpdateStatusData{
				AFK:    true,
				Status: string(discordgo.StatusDoNotDisturb),
			},
		); discErr != nil {
			f.logger.Error("error updating discord status", tint.Err(discErr))
		}
	case !refreshConfig.Paused && rollbackConfig.Paused:
		f.paused.Store(false)
		if discErr := f.discord.updateCustomStatus(
			refreshConfig.DiscordCustomStatus,
		); discErr != nil {
			f.logger.Error("error updating discord status", tint.Err(discErr))
		}
	case refreshConfig.DiscordCustomStatus != rollbackConfig.DiscordCustomStatus:
		if discErr := f.discord.updateCustomStatus(
			refreshConfig.DiscordCustomStatus,
		); discErr != nil {
			f.logger.Error("error updating discord status", tint.Err(discErr))
		}
	}

	f.runtimeConfig = &refreshConfig
	setLogLevels(f.config, refreshConfig)

	f.logger.Info("refreshed runtime config")
}

// startMuteSweeper starts the goroutine that removes expired mutes and
// lifts the configured mute role.
func (f *Fated) startMuteSweeper(ctx context.Context, runtimeWG *sync.WaitGroup) {
	interval := f.config.MuteSweepInterval
	if interval <= 0 {
		return
	}

	runtimeWG.Add(1)
	go func() {
		defer runtimeWG.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				f.sweepExpiredMutes(ctx)
			}
		}
	}()
}

func (f *Fated) sweepExpiredMutes(ctx context.Context) {
	expired, err := expiredMutes(ctx, f.writeDB, time.Now())
	if err != nil {
		f.logger.ErrorContext(ctx, "error finding expired mutes", tint.Err(err))
		return
	}

	for _, m := range expired {
		if err := removeMute(ctx, f.writeDB, m.MemberID); err != nil {
			f.logger.ErrorContext(
				ctx,
				"error removing expired mute",
				tint.Err(err),
				slog.Group("mute", muteLogAttrs(m)...),
			)
			continue
		}
		if roleErr := f.liftMuteRole(m.GuildID, m.MemberID); roleErr != nil {
			f.logger.WarnContext(
				ctx,
				"error lifting mute role",
				tint.Err(roleErr),
				slog.Group("mute", muteLogAttrs(m)...),
			)
		}
		f.logger.InfoContext(
			ctx,
			"mute expired",
			slog.Group("mute", muteLogAttrs(m)...),
		)
	}
}

// Pause 'pauses' the bot. While paused, incoming interactions are
// acknowledged with a notice and not handled. It returns a bool
// indicating whether the bot was running at the time it was called.
func (f *Fated) Pause(ctx context.Context) bool {
	prev := f.paused.Swap(true)
	if prev {
		return false
	}

	if err := f.discord.updateStatusComplex(
		discordgo.UpdateStatusData{
			AFK:    true,
			Status: string(discordgo.StatusDoNotDisturb),
		},
	); err != nil {
		f.logger.ErrorContext(ctx, "unable to update afk status", tint.Err(err))
	}

	f.cfgMu.Lock()
	defer f.cfgMu.Unlock()
	if f.runtimeConfig != nil && !f.runtimeConfig.Paused {
		if _, err := f.writeDB.Update(
			ctx,
			f.runtimeConfig,
			columnRuntimeConfigPaused,
			true,
		); err != nil {
			f.logger.ErrorContext(ctx, "unable to set paused in db", tint.Err(err))
		}
	}
	return true
}

// Resume resumes interaction handling. It returns a bool indicating
// whether the bot was paused at the time it was called.
func (f *Fated) Resume(ctx context.Context) bool {
	prev := f.paused.Swap(false)
	if !prev {
		f.logger.Warn("bot not paused")
		return false
	}
	f.logger.InfoContext(ctx, "bot resumed")

	f.cfgMu.Lock()
	defer f.cfgMu.Unlock()
	if f.runtimeConfig != nil {
		if err := f.discord.updateCustomStatus(
			f.runtimeConfig.DiscordCustomStatus,
		); err != nil {
			f.logger.ErrorContext(ctx, "unable to update online status", tint.Err(err))
		}
		if f.runtimeConfig.Paused {
			if _, err := f.writeDB.Update(
				ctx,
				f.runtimeConfig,
				columnRuntimeConfigPaused,
				false,
			); err != nil {
				f.logger.ErrorContext(ctx, "unable to set resumed in db", tint.Err(err))
			}
		}
	}

	return true
}

// handleInteraction processes an incoming Discord interaction: it logs
// and persists the interaction, acknowledges it, and dispatches slash
// commands to their handlers.
func (f *Fated) handleInteraction(
	ctx context.Context,
	handler InteractionHandler,
) {
	i := handler.GetInteraction()
	logger := handler.Logger()

	discordUser := getDiscordUser(i)
	if discordUser == nil {
		logger.ErrorContext(
			ctx,
			"no user found in interaction",
			"interaction", structToSlogValue(i),
		)
		return
	}

	ctx = WithLogger(ctx, logger)
	logger.InfoContext(ctx, "received new interaction", "user", structToSlogValue(discordUser))

	if f.RuntimeConfig().RecoverPanic {
		defer func() {
			if rc := recover(); rc != nil {
				f.handleRecover(ctx, rc)
			}
		}()
	}

	interactionLog, err := newInteractionLog(i, discordUser)
	if err != nil {
		logger.ErrorContext(ctx, "error marshaling interaction", tint.Err(err))
	}

	wg := &sync.WaitGroup{}
	defer wg.Wait()

	if interactionLog != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, createErr := f.writeDB.Create(ctx, interactionLog); createErr != nil {
				logger.ErrorContext(ctx, "error logging interaction", tint.Err(createErr))
			}
		}()
	}

	if discordUser.Bot {
		logger.WarnContext(ctx, "user is bot, ignoring", "user", discordUser)
		return
	}

	switch i.Type {
	case discordgo.InteractionPing:
		_ = handler.Respond(
			ctx, &discordgo.InteractionResponse{
				Type: discordgo.InteractionResponsePong,
			},
		)
	case discordgo.InteractionApplicationCommand:
		commandName := i.ApplicationCommandData().Name

		if f.paused.Load() {
			logger.WarnContext(ctx, "bot is paused, ignoring command")
			_ = handler.Respond(
				ctx, &discordgo.InteractionResponse{
					Type: discordgo.InteractionResponseChannelMessageWithSource,
					Data: &discordgo.InteractionResponseData{
						Content: "I'm currently paused, try again later.",
						Flags:   discordgo.MessageFlagsEphemeral,
					},
				},
			)
			return
		}

		if ackErr := handler.Respond(ctx, f.discord.ackResponse(commandName)); ackErr != nil {
			logger.ErrorContext(ctx, "error acknowledging interaction", tint.Err(ackErr))
			return
		}

		switch commandName {
		case DiscordSlashCommandDestiny:
			f.commandDestiny(ctx, handler, i)
		case DiscordSlashCommandNote:
			f.commandNote(ctx, handler, i)
		case DiscordSlashCommandMod:
			f.commandMod(ctx, handler, i)
		case DiscordSlashCommandPing:
			f.commandPing(ctx, handler)
		case DiscordSlashCommandPrefix:
			f.commandPrefix(ctx, handler, i)
		case DiscordSlashCommandAvatar:
			f.commandAvatar(ctx, handler, i)
		case DiscordSlashCommandAbout:
			f.commandAbout(ctx, handler)
		case DiscordSlashCommandSay:
			f.commandSay(ctx, handler, i)
		default:
			logger.WarnContext(ctx, "unknown command", "command", commandName)
			f.replyContent(
				ctx,
				handler,
				fmt.Sprintf("Unknown command: `%s`", commandName),
			)
		}
	}
}

func (*Fated) handleRecover(ctx context.Context, rc any) {
	logger, ok := ContextLogger(ctx)
	if logger == nil || !ok {
		logger = slog.Default()
	}
	stackTrace := string(debug.Stack())
	if nerr, isErr := rc.(error); isErr {
		logger.ErrorContext(
			ctx,
			"recovered from panic",
			tint.Err(nerr),
			"stack_trace", stackTrace,
		)
		return
	}
	if msg, isStr := rc.(string); isStr {
		logger.ErrorContext(
			ctx,
			"recovered from panic",
			tint.Err(errors.New(msg)),
			"stack_trace", stackTrace,
		)
		return
	}
	logger.ErrorContext(
		ctx,
		"recovered from panic",
		"panic_arg", rc,
		"stack_trace", stackTrace,
	)
}

// Stop signals a running bot to begin a graceful shutdown.
func (f *Fated) Stop() {
	if f.signalStop != nil {
		select {
		case f.signalStop <- struct{}{}:
		default:
		}
	}
}

func (f *Fated) shutdown(
	ctx context.Context,
	runtimeWG *sync.WaitGroup,
) error {
	f.logger.WarnContext(ctx, "shutting down")
	defer func() {
		if f.eventShutdown != nil {
			go func() {
				f.eventShutdown <- struct{}{}
			}()
		}
	}()
	shutdownStart := time.Now()
	shutdownTimeout := f.config.ShutdownTimeout
	if shutdownTimeout.Seconds() == 0 {
		f.logger.Warn("immediate shutdown")
		go func() {
			_ = f.api.httpServer.Close()
		}()
		return fmt.Errorf("shutdown did not complete in time")
	}
	shutdownDeadline := shutdownStart.Add(shutdownTimeout)

	announcementTicker := time.NewTicker(10 * time.Second)
	defer announcementTicker.Stop()

	f.logger.InfoContext(
		ctx,
		"exiting!",
		"shutdown_timeout", f.config.ShutdownTimeout,
		"shutdown_started", shutdownStart,
		"shutdown_deadline", shutdownDeadline,
	)

	closeCtx, closeCancel := context.WithDeadline(
		context.Background(),
		shutdownDeadline,
	)
	defer closeCancel()

	gracefulShutdownCh := make(chan struct{}, 1)
	go func() {
		runtimeWG.Wait() // wait for in-flight interaction handlers
		runtimeStopEnd := time.Now()
		f.logger.InfoContext(
			ctx,
			"finished handling in-flight requests",
			"shutdown_started", shutdownStart,
			"runtime_stopped", runtimeStopEnd,
			"runtime_stop_duration", runtimeStopEnd.Sub(shutdownStart),
		)
		stopWG := &sync.WaitGroup{}

		if f.api != nil && f.api.httpServer != nil {
			stopWG.Add(1)
			go func() {
				defer stopWG.Done()
				f.logger.InfoContext(ctx, "stopping http server")
				_ = f.api.httpServer.Shutdown(closeCtx)
				f.logger.InfoContext(ctx, "http server stopped")
			}()
		}

		if f.discord.session != nil {
			stopWG.Add(1)
			go func() {
				defer stopWG.Done()
				f.logger.InfoContext(ctx, "closing discord session")
				_ = f.discord.session.Close()
				f.logger.InfoContext(ctx, "discord session closed")
				for _, h := range f.discord.discordgoRemoveHandlerFuncs {
					h()
				}
			}()
		}

		if f.kv != nil {
			stopWG.Add(1)
			go func() {
				defer stopWG.Done()
				if closeErr := f.kv.Close(); closeErr != nil {
					f.logger.ErrorContext(ctx, "error closing kv store", tint.Err(closeErr))
				}
			}()
		}

		go func() {
			f.logger.InfoContext(ctx, "waiting graceful shutdown")
			stopWG.Wait()
			gracefulShutdownCh <- struct{}{}
		}()
	}()

	for {
		select {
		case <-gracefulShutdownCh:
			closeCancel()
			shutdownEnded := time.Now()
			f.logger.InfoContext(
				ctx,
				"shutdown complete",
				"shutdown_ended", shutdownEnded,
				"shutdown_duration", shutdownEnded.Sub(shutdownStart),
			)
			return nil
		case <-announcementTicker.C:
			remaining := time.Until(shutdownDeadline)
			f.logger.Warn(
				fmt.Sprintf(
					"time until hard shutdown: %s",
					remaining.String(),
				),
			)
		case <-closeCtx.Done():
			f.logger.Warn("shutdown did not complete in time, forcing close")
			go func() {
				_ = f.api.httpServer.Close()
			}()
			return fmt.Errorf("shutdown did not complete in time")
		}
	}
}
