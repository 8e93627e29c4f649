package fated

import (
	"context"
	cryprand "crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/gin-contrib/cors"
	ginPprof "github.com/gin-contrib/pprof"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/securecookie"
	gsessions "github.com/gorilla/sessions"
	"github.com/lmittmann/tint"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

const (
	pprofPrefix             = "/debug"
	apiPrefix               = "/api"
	apiPathLogin            = "/login"
	apiPathLogout           = "/logout"
	apiPathLoggedIn         = "/logged_in"
	apiHealthCheck          = "/healthz"
	apiPathSetup            = "/setup"
	apiPathSetupStatus      = "/setup/status"
	apiPathConfig           = "/config"
	apiPathPause            = "/pause"
	apiPathResume           = "/resume"
	apiPathQuit             = "/quit"
	apiPathMutes            = "/mutes"
	apiPathDeleteMute       = "/mutes/:member_id"
	apiPathNotes            = "/notes"
	apiPathDeleteNote       = "/notes/:name"
	apiPathDestiny          = "/destiny"
	apiPathRegisterCommands = "/discord/register_commands"
)

const (
	xRequestIDHeader = "X-Request-ID"
	sessionVarName   = "user"
	sessionVarField  = "username"
)

var structValidator = validator.New()

// API is the backend admin server. It encapsulates the HTTP server,
// gin routing engine, session store and request handlers used to
// inspect and administer the bot at runtime.
type API struct {
	config              *APIConfig
	httpServer          *http.Server
	listener            net.Listener
	engine              *gin.Engine
	store               CookieStore
	loginRequestLimiter *rate.Limiter
	requestMetrics      map[string]int
	requestMetricsMu    sync.Mutex
	logger              *slog.Logger

	handlers *APIHandlers
}

// newAPI initializes the admin API: logger, gin engine, session store,
// TLS config, middleware and routes.
func newAPI(f *Fated, config *APIConfig) (*API, error) {
	setupLogger := slog.New(
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     config.LogLevel,
				AddSource: true,
			},
		),
	)

	r := gin.New()

	api := &API{
		config:              config,
		engine:              r,
		requestMetrics:      map[string]int{},
		loginRequestLimiter: rate.NewLimiter(rate.Limit(1), 1),
	}
	apiHandlers := NewAPIHandlers(f)
	api.handlers = apiHandlers
	api.store = apiHandlers.store
	_ = r.Use(sessions.Sessions(sessionVarName, apiHandlers.store))

	if config.SSL != nil && config.SSL.CertFile != "" {
		tlsCfg, e := tlsConfig(
			config.SSL.CertFile,
			config.SSL.KeyFile,
			config.SSL.TLSMinVersion,
		)
		if e != nil {
			return nil, fmt.Errorf("error loading SSL certs: %w", e)
		}
		api.httpServer = &http.Server{TLSConfig: tlsCfg}
	} else {
		api.httpServer = &http.Server{}
	}

	api.httpServer.Addr = config.Listen
	api.httpServer.Handler = r
	api.httpServer.WriteTimeout = config.WriteTimeout
	api.httpServer.IdleTimeout = config.IdleTimeout
	api.httpServer.ReadTimeout = config.ReadTimeout
	api.httpServer.ReadHeaderTimeout = config.ReadHeaderTimeout
	api.logger = setupLogger.With(loggerNameKey, "api")

	corsConfig := config.CORS.GINConfig()
	if len(corsConfig.AllowOrigins) == 0 && f.config.Development {
		corsConfig.AllowOrigins = []string{"*"}
	}

	if !f.config.Development {
		r.Use(gin.Recovery())
	}
	r.Use(
		requestIDMiddleware(),
		ginLoggingMiddleware(),
		metricMiddleware(api),
		cors.New(corsConfig),
	)

	r.POST(apiPathLogin, apiHandlers.loginHandler)
	r.GET(apiHealthCheck, apiHandlers.healthCheck)
	r.POST(apiPathLogout, apiHandlers.logoutHandler)

	if f.config.Development {
		ginPprof.Register(r, pprofPrefix)
	}

	r.POST(apiPathSetup, apiHandlers.adminSetup)
	r.GET(apiPathSetupStatus, apiHandlers.setupStatus)

	protected := r.Group(apiPrefix)
	protected.Use(authMiddleware(f))

	protected.GET(apiPathLoggedIn, apiHandlers.loggedIn)
	protected.GET(apiPathConfig, apiHandlers.getConfig)
	protected.PATCH(apiPathConfig, apiHandlers.updateRuntimeConfig)
	protected.POST(apiPathPause, apiHandlers.botPause)
	protected.POST(apiPathResume, apiHandlers.botResume)
	protected.POST(apiPathQuit, apiHandlers.botQuit)
	protected.GET(apiPathMutes, apiHandlers.getMutes)
	protected.DELETE(apiPathDeleteMute, apiHandlers.deleteMute)
	protected.GET(apiPathNotes, apiHandlers.getNotes)
	protected.DELETE(apiPathDeleteNote, apiHandlers.deleteNote)
	protected.GET(apiPathDestiny, apiHandlers.getDestinyLinks)
	protected.POST(apiPathRegisterCommands, apiHandlers.discordRegisterCommands)

	return api, nil
}

func (a *API) Serve(ctx context.Context) error {
	if a.listener != nil {
		return a.httpServer.Serve(a.listener)
	}
	listenCfg := &net.ListenConfig{}
	ln, e := listenCfg.Listen(ctx, a.config.ListenNetwork, a.config.Listen)
	if e != nil {
		return e
	}
	if a.httpServer.TLSConfig != nil {
		ln = tls.NewListener(ln, a.httpServer.TLSConfig)
	}
	a.listener = ln
	return a.httpServer.Serve(a.listener)
}

func (a *API) getSessionUsername(c *gin.Context) (string, error) {
	store := a.store
	session, err := store.Get(c.Request, sessionVarName)
	if err != nil {
		return "", err
	}
	username, ok := session.Values[sessionVarField]
	if !ok {
		return "", errors.New("username not found in session")
	}
	s, e := username.(string)
	if !e {
		return "", errors.New("username not a string")
	}
	return s, nil
}

type CookieStore interface {
	sessions.Store
}

func NewCookieStore(keyPairs ...[]byte) CookieStore {
	return &cookieStore{gsessions.NewCookieStore(keyPairs...)}
}

type cookieStore struct {
	*gsessions.CookieStore
}

func (c *cookieStore) Options(options sessions.Options) {
	c.CookieStore.Options = options.ToGorillaOptions()
}

// APIHandlers contains the handlers for the various API endpoints.
type APIHandlers struct {
	f      *Fated
	logger *slog.Logger
	store  CookieStore
}

// NewAPIHandlers sets up the handler logger, derives a secret key for
// session management, and configures the session store.
func NewAPIHandlers(f *Fated) *APIHandlers {
	logger := f.logger.With(loggerNameKey, "api")

	var secretKey []byte
	switch sk := f.config.API.Secret; {
	case sk == "":
		logger.Warn(
			"api secret not set, generating random secret " +
				"(sessions will not persist across restarts)",
		)
		secretKey = securecookie.GenerateRandomKey(64)
	default:
		secretKey = derive64ByteKey(sk)
	}

	store := NewCookieStore(secretKey)
	sameSite := http.SameSiteStrictMode
	if f.config.Development {
		sameSite = http.SameSiteNoneMode
	}
	store.Options(
		sessions.Options{
			HttpOnly: true,
			Secure:   true,
			MaxAge:   int(f.config.API.SessionMaxAge.Seconds()),
			SameSite: sameSite,
		},
	)
	return &APIHandlers{f: f, logger: logger, store: store}
}

type httpReply struct {
	Message string `json:"message"`
}

type httpError struct {
	Error string `json:"error"`
}

type userLogin struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type loggedInResponse struct {
	Username string `json:"username"`
}

type setupResponse struct {
	Required bool `json:"required"`
}

type adminSetupPayload struct {
	Username string `json:"username" binding:"required,min=1,max=32"`
	Password string `json:"password" binding:"required,min=8,max=128"`
}

type healthCheckResponse struct {
	Paused                  bool `json:"paused"`
	DiscordGatewayConnected bool `json:"discord_gateway_connected"`
}

// setupStatus reports whether the initial admin setup is still pending.
func (h *APIHandlers) setupStatus(c *gin.Context) {
	c.JSON(http.StatusOK, setupResponse{Required: h.f.pendingSetup.Load()})
}

// adminSetup handles the initial admin credential setup. It only
// succeeds while setup is pending; once credentials exist they can
// only be changed via `fated init` or a config PATCH.
func (h *APIHandlers) adminSetup(c *gin.Context) {
	h.f.cfgMu.Lock()
	defer h.f.cfgMu.Unlock()

	if !h.f.pendingSetup.Load() {
		c.JSON(http.StatusForbidden, httpError{Error: "Forbidden"})
		return
	}

	logger := ginContextLogger(c)
	logger.Info("first time admin setup")
	var adminSetup adminSetupPayload

	if e := c.ShouldBindJSON(&adminSetup); e != nil {
		logger.Error("bad payload", tint.Err(e))
		c.JSON(http.StatusBadRequest, gin.H{"error": e.Error()})
		return
	}

	currentState := h.f.runtimeConfig

	username := adminSetup.Username

	password, err := hashPassword(adminSetup.Password)
	if err != nil {
		logger.Error("error hashing password", tint.Err(err))
		c.JSON(
			http.StatusInternalServerError,
			gin.H{"error": "error setting admin credentials"},
		)
		return
	}

	if _, err = h.f.writeDB.Updates(
		c.Request.Context(), currentState, map[string]any{
			columnRuntimeConfigAdminUsername: username,
			columnRuntimeConfigAdminPassword: password,
		},
	); err != nil {
		logger.Error("error updating admin credentials", tint.Err(err))
		c.JSON(
			http.StatusInternalServerError,
			gin.H{"error": "error updating admin credentials"},
		)
		return
	}
	h.f.runtimeConfig = currentState
	h.f.pendingSetup.Store(false)
	c.JSON(http.StatusCreated, gin.H{"message": "admin credentials set"})
}

// loginHandler checks the provided credentials against the stored
// admin credentials and creates a new session on success. Login
// attempts are rate limited.
func (h *APIHandlers) loginHandler(c *gin.Context) {
	logger := h.f.logger
	if logger == nil {
		logger = slog.Default()
	}
	if !h.f.api.loginRequestLimiter.Allow() {
		logger.Warn("login rate limited")
		c.AbortWithStatus(http.StatusTooManyRequests)
		return
	}

	var login userLogin
	if err := c.ShouldBindJSON(&login); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	runtimeConfig := h.f.RuntimeConfig()
	if runtimeConfig.AdminUsername == "" || runtimeConfig.AdminPassword == "" {
		logger.Warn("admin username and password not set")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}
	if login.Username != runtimeConfig.AdminUsername {
		logger.Warn("admin username incorrect")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}
	valid, err := verifyPassword(runtimeConfig.AdminPassword, login.Password)
	if err != nil {
		logger.Error("error verifying password", tint.Err(err))
		c.JSON(
			http.StatusInternalServerError,
			gin.H{"error": "Internal Server Error"},
		)
		return
	}
	if !valid {
		logger.Warn("invalid login attempt", "username", login.Username)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	session, err := h.f.api.store.New(c.Request, sessionVarName)
	if err != nil {
		logger.Error("error creating session", tint.Err(err))

		sess, _ := h.store.Get(c.Request, sessionVarName)
		if sess != nil {
			sess.Values[sessionVarField] = ""
			_ = sess.Save(c.Request, c.Writer)
		}
		ginReplyError(c, "internal server error")
		return
	}
	if session == nil {
		logger.Error("didn't get session!?")
		ginReplyError(c, "internal server error")
		return
	}
	sameSite := http.SameSiteStrictMode
	if h.f.config.Development {
		sameSite = http.SameSiteNoneMode
	}
	session.Options = &gsessions.Options{
		MaxAge:   int(h.f.api.config.SessionMaxAge.Seconds()),
		SameSite: sameSite,
		HttpOnly: true,
		Secure:   true,
	}
	session.Values[sessionVarField] = login.Username
	err = session.Save(c.Request, c.Writer)
	if err != nil {
		logger.Error("error saving session", tint.Err(err))
		ginReplyError(c, "internal server error")
		return
	}
	logger.Info("saved user session", "username", login.Username)
	c.JSON(http.StatusOK, loggedInResponse{Username: login.Username})
}

func (h *APIHandlers) healthCheck(c *gin.Context) {
	c.JSON(
		http.StatusOK, healthCheckResponse{
			Paused:                  h.f.paused.Load(),
			DiscordGatewayConnected: h.f.discord.connected.Load(),
		},
	)
}

// logoutHandler clears the username from the session.
func (h *APIHandlers) logoutHandler(c *gin.Context) {
	logger := ginContextLogger(c)
	session, err := h.store.Get(c.Request, sessionVarName)
	if err != nil {
		logger.Error("error getting session", tint.Err(err))
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	session.Values[sessionVarField] = ""
	err = session.Save(c.Request, c.Writer)
	if err != nil {
		logger.Error("error saving cookie", tint.Err(err))
	}
	ginReplyMessage(c, "logged out")
}

// loggedIn responds with the session's username if the user is
// authenticated, or 401 otherwise.
func (h *APIHandlers) loggedIn(c *gin.Context) {
	username, err := h.f.api.getSessionUsername(c)
	if err != nil {
		ginContextLogger(c).Warn(
			"error getting session username",
			tint.Err(err),
		)
		c.JSON(
			http.StatusUnauthorized,
			httpError{Error: "unauthorized"},
		)
		return
	}
	c.JSON(http.StatusOK, loggedInResponse{Username: username})
}

func (h *APIHandlers) getConfig(c *gin.Context) {
	botState := h.f.RuntimeConfig()
	c.JSON(http.StatusOK, botState)
}

// updateRuntimeConfig handles the HTTP PATCH request to update the
// bot's runtime configuration. Nil fields in the payload are left
// unchanged. The updated config is validated and persisted before
// log levels, paused state and discord presence are applied.
func (h *APIHandlers) updateRuntimeConfig(c *gin.Context) {
	f := h.f
	f.cfgMu.Lock()
	defer f.cfgMu.Unlock()

	var updateRequest RuntimeConfigUpdate
	logger := ginContextLogger(c)
	if err := c.ShouldBindJSON(&updateRequest); err != nil {
		logger.Error("bad payload", tint.Err(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := updateRequest.validate(); err != nil {
		logger.Error("invalid payload", tint.Err(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	existingConfig := f.runtimeConfig
	if existingConfig == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "no runtime config loaded"})
		return
	}
	rollbackConfig := *existingConfig

	updateData, err := json.Marshal(updateRequest)
	if err != nil {
		logger.ErrorContext(c, "Error marshaling update request", tint.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error marshaling update request"})
		return
	}

	var updates map[string]any
	err = json.Unmarshal(updateData, &updates)
	if err != nil {
		logger.ErrorContext(c, "Error unmarshalling update request", tint.Err(err))
		c.JSON(
			http.StatusInternalServerError,
			gin.H{"error": "Error unmarshalling update request"},
		)
		return
	}
	logger.InfoContext(c, "Applying updates", "updates", updates)

	var updateError error
	var statusCode int
	var ginResponse gin.H

	_ = f.writeDB.Transaction(
		c.Request.Context(),
		func(tx *gorm.DB) error {
			updateError = tx.Model(existingConfig).Updates(updates).Error
			if updateError != nil {
				statusCode = http.StatusInternalServerError
				ginResponse = gin.H{"error": "Error updating config"}
				return updateError
			}

			updateError = structValidator.Struct(existingConfig)
			if updateError != nil {
				statusCode = http.StatusBadRequest
				ginResponse = gin.H{"error": "Error validating config"}
				return updateError
			}
			return nil
		},
	)

	if updateError != nil {
		f.runtimeConfig = &rollbackConfig
		logger.ErrorContext(c, "Error updating config", tint.Err(updateError))
		c.JSON(statusCode, ginResponse)
		return
	}

	setLogLevels(f.config, *existingConfig)

	wasPaused := f.paused.Swap(existingConfig.Paused)
	switch {
	case wasPaused && !existingConfig.Paused:
		logger.Info("unpaused bot")
	case existingConfig.Paused && !wasPaused:
		logger.Warn("paused bot")
	}

	switch {
	case existingConfig.Paused && !rollbackConfig.Paused:
		if discErr := f.discord.updateStatusComplex(
			discordgo.UpdateStatusData{
				AFK:    true,
				Status: string(discordgo.StatusDoNotDisturb),
			},
		); discErr != nil {
			logger.Error("error updating discord status", tint.Err(discErr))
		}
	case runtimeConfigValueChanged(
		rollbackConfig.DiscordCustomStatus,
		updateRequest.DiscordCustomStatus,
	), rollbackConfig.Paused && !existingConfig.Paused:
		if discErr := f.discord.updateCustomStatus(
			existingConfig.DiscordCustomStatus,
		); discErr != nil {
			logger.Error("error updating discord status", tint.Err(discErr))
		}
	}

	c.JSON(http.StatusAccepted, existingConfig)
}

// botPause suspends interaction handling.
func (h *APIHandlers) botPause(c *gin.Context) {
	log := ginContextLogger(c)
	if !h.f.Pause(c.Request.Context()) {
		log.Warn("bot already paused")
		c.JSON(http.StatusConflict, httpError{Error: "already paused"})
		return
	}
	ginReplyMessage(c, "paused")
}

// botResume resumes interaction handling.
func (h *APIHandlers) botResume(c *gin.Context) {
	log := ginContextLogger(c)
	if !h.f.Resume(c.Request.Context()) {
		log.Warn("bot not paused")
		c.JSON(http.StatusConflict, httpError{Error: "not paused"})
		return
	}
	ginReplyMessage(c, "resumed")
}

// botQuit sends a stop signal to the bot, which initiates shutdown.
// It responds immediately, before shutdown completes.
func (h *APIHandlers) botQuit(c *gin.Context) {
	log := ginContextLogger(c)
	log.Warn("sending stop signal")
	h.f.Stop()
	ginReplyMessage(c, "quitting")
}

// getMutes lists all active mutes.
func (h *APIHandlers) getMutes(c *gin.Context) {
	mutes, err := allMutes(c.Request.Context(), h.f.writeDB)
	if err != nil {
		ginContextLogger(c).Error("error listing mutes", tint.Err(err))
		ginReplyError(c, "error listing mutes")
		return
	}
	c.JSON(http.StatusOK, mutes)
}

// deleteMute lifts the mute for the member in the path parameter.
func (h *APIHandlers) deleteMute(c *gin.Context) {
	memberID := c.Param("member_id")
	log := ginContextLogger(c)

	ctx := c.Request.Context()
	mute, err := getMute(ctx, h.f.writeDB, memberID)
	if err != nil {
		if errors.Is(err, ErrNotMuted) {
			c.JSON(http.StatusNotFound, httpError{Error: "not muted"})
			return
		}
		log.Error("error getting mute", tint.Err(err))
		ginReplyError(c, "error getting mute")
		return
	}

	if err = removeMute(ctx, h.f.writeDB, memberID); err != nil {
		log.Error("error removing mute", tint.Err(err))
		ginReplyError(c, "error removing mute")
		return
	}
	if roleErr := h.f.liftMuteRole(mute.GuildID, mute.MemberID); roleErr != nil {
		log.Warn(
			"error lifting mute role",
			tint.Err(roleErr),
			slog.Group("mute", muteLogAttrs(*mute)...),
		)
	}
	ginReplyMessage(c, "unmuted")
}

// getNotes lists all notes, newest first.
func (h *APIHandlers) getNotes(c *gin.Context) {
	notes, err := allNotes(c.Request.Context(), h.f.writeDB)
	if err != nil {
		ginContextLogger(c).Error("error listing notes", tint.Err(err))
		ginReplyError(c, "error listing notes")
		return
	}
	c.JSON(http.StatusOK, notes)
}

// deleteNote removes the note in the path parameter, regardless of
// its author.
func (h *APIHandlers) deleteNote(c *gin.Context) {
	name := c.Param("name")
	log := ginContextLogger(c)

	err := deleteNote(c.Request.Context(), h.f.writeDB, name, "", true)
	if err != nil {
		if errors.Is(err, ErrNoteNotFound) {
			c.JSON(http.StatusNotFound, httpError{Error: "note not found"})
			return
		}
		log.Error("error deleting note", tint.Err(err))
		ginReplyError(c, "error deleting note")
		return
	}
	ginReplyMessage(c, "deleted")
}

// getDestinyLinks lists all linked Destiny 2 accounts.
func (h *APIHandlers) getDestinyLinks(c *gin.Context) {
	links, err := allDestiny(c.Request.Context(), h.f.writeDB)
	if err != nil {
		ginContextLogger(c).Error("error listing linked accounts", tint.Err(err))
		ginReplyError(c, "error listing linked accounts")
		return
	}
	c.JSON(http.StatusOK, links)
}

// discordRegisterCommands re-registers the bot's slash commands with
// the discord bulk overwrite endpoint.
func (h *APIHandlers) discordRegisterCommands(c *gin.Context) {
	log := ginContextLogger(c)
	log.Info("registering commands")

	createdCommands, err := h.f.RegisterSlashCommands()
	if err != nil {
		log.Error("error registering commands", tint.Err(err))
		c.JSON(
			http.StatusInternalServerError,
			httpError{Error: "error registering commands"},
		)
		return
	}
	c.JSON(http.StatusCreated, createdCommands)
}

// authMiddleware retrieves the session from the request and checks if
// the user is authenticated, aborting with 401 if not. If the bot is
// pending setup (no admin credentials have been set), it also returns
// HTTP 401.
func authMiddleware(f *Fated) gin.HandlerFunc {
	return func(c *gin.Context) {
		store := f.api.store
		logger := f.logger
		if logger == nil {
			logger = slog.Default()
		}
		if f.pendingSetup.Load() {
			logger.Warn("admin username and password not set")
			c.AbortWithStatusJSON(
				http.StatusUnauthorized,
				httpError{Error: "unauthorized"},
			)
			return
		}

		session, err := store.Get(c.Request, sessionVarName)
		if err != nil {
			logger.Error("error getting session", tint.Err(err))
			c.AbortWithStatusJSON(
				http.StatusUnauthorized,
				httpError{Error: "unauthorized"},
			)
			return
		}

		if session == nil {
			logger.Error("session is nil")
			c.AbortWithStatusJSON(
				http.StatusUnauthorized,
				httpError{Error: "unauthorized"},
			)
			return
		}

		username, ok := session.Values[sessionVarField]
		if !ok || username == "" {
			logger.Warn(
				"username not found in session",
				"headers",
				c.Request.Header,
			)
			c.AbortWithStatusJSON(
				http.StatusUnauthorized,
				httpError{Error: "unauthorized"},
			)
			return
		}

		logger.Debug("got session", sessionVarField, username)

		c.Next()
	}
}

// requestIDMiddleware assigns a unique request ID to each incoming
// request, set both in the gin context and the response headers.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := generateRandomHexString(32)
		if err != nil {
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		c.Set(xRequestIDHeader, id)
		if requestID, exists := c.Get(xRequestIDHeader); exists {
			c.Header(xRequestIDHeader, requestID.(string))
		}
		c.Next()
	}
}

// ginContextLogger returns the slog.Logger from the given gin context,
// or, if it doesn't exist, creates a logger with request details
// included, and sets the logger in the context so the next call to
// ginContextLogger will return the new logger.
func ginContextLogger(c *gin.Context) *slog.Logger {
	var requestLogger *slog.Logger
	logger, ok := c.Get(string(loggerContextKey))
	if ok {
		requestLogger, ok = logger.(*slog.Logger)
		if ok {
			return requestLogger
		}
	}
	requestLogger = slog.Default()
	requestID, _ := c.Get(xRequestIDHeader)
	path := c.Request.URL.Path
	raw := c.Request.URL.RawQuery
	if raw != "" {
		path = path + "?" + raw
	}

	requestLogger = requestLogger.With(
		slog.Group(
			"request",
			"method", c.Request.Method,
			"path", path,
			"remote_addr", c.Request.RemoteAddr,
			"remote_ip", c.RemoteIP(),
			"user_agent", c.Request.UserAgent(),
			"referer", c.Request.Referer(),
		),
		slog.Any(xRequestIDHeader, requestID),
	)
	c.Set(string(loggerContextKey), requestLogger)
	return requestLogger
}

// ginLoggingMiddleware logs the request method, path, remote address,
// user agent, referer, and duration of each request.
func ginLoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestLogger := ginContextLogger(c)
		c.Next()
		latency := time.Since(start)

		var errs []error
		for _, e := range c.Errors.ByType(gin.ErrorTypePrivate) {
			errs = append(errs, *e)
		}
		if len(errs) > 0 {
			requestLogger.Error(
				fmt.Sprintf(
					"%s %s finished with errors",
					c.Request.Method,
					c.Request.URL,
				),
				"duration", latency,
				"errors", errs,
				slog.Group(
					"response",
					"status_code", c.Writer.Status(),
					"body_size", c.Writer.Size(),
				),
			)
		} else {
			requestLogger.Info(
				fmt.Sprintf("%s %s finished", c.Request.Method, c.Request.URL),
				"duration", latency,
				slog.Group(
					"response",
					"status_code", c.Writer.Status(),
					"body_size", c.Writer.Size(),
				),
			)
		}
	}
}

// metricMiddleware increments the request count for each unique
// combination of HTTP method and URL path. The metrics are stored in
// the API's requestMetrics map, protected by a mutex.
func metricMiddleware(a *API) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer c.Next()

		a.requestMetricsMu.Lock()
		defer a.requestMetricsMu.Unlock()

		key := fmt.Sprintf("%s %s", c.Request.Method, c.Request.URL.Path)
		_, ok := a.requestMetrics[key]
		if !ok {
			a.requestMetrics[key] = 1
			return
		}
		a.requestMetrics[key]++
	}
}

// ginReplyMessage sends a JSON response with a message,
// with HTTP status code 200, via the gin context.
func ginReplyMessage(c *gin.Context, message string) {
	c.JSON(http.StatusOK, httpReply{Message: message})
}

// ginReplyError sends a JSON response with an error message,
// with HTTP status code 500, via the gin context.
func ginReplyError(c *gin.Context, err string) {
	c.AbortWithStatusJSON(http.StatusInternalServerError, httpError{Error: err})
}

// generateRandomHexString creates a random hexadecimal string of the
// specified length.
func generateRandomHexString(length int) (string, error) {
	bytes := make([]byte, (length+1)/2)
	if _, err := cryprand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes)[:length], nil
}

// generateSelfSignedCert generates a self-signed TLS certificate and
// private key, valid from the current time for 1 year.
func generateSelfSignedCert(
	certFile string,
	keyFile string,
) (tls.Certificate, error) {
	priv, err := rsa.GenerateKey(cryprand.Reader, 2048)
	if err != nil {
		return tls.Certificate{}, err
	}

	certTemplate := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Organization: []string{"Fated"},
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}

	derBytes, err := x509.CreateCertificate(
		cryprand.Reader,
		&certTemplate,
		&certTemplate,
		&priv.PublicKey,
		priv,
	)
	if err != nil {
		return tls.Certificate{}, err
	}

	certOut, err := os.Create(certFile)
	if err != nil {
		return tls.Certificate{}, err
	}
	defer func() {
		_ = certOut.Close()
	}()

	if err = pem.Encode(
		certOut,
		&pem.Block{Type: "CERTIFICATE", Bytes: derBytes},
	); err != nil {
		return tls.Certificate{}, err
	}

	keyOut, err := os.Create(keyFile)
	if err != nil {
		return tls.Certificate{}, err
	}
	defer func() {
		_ = keyOut.Close()
	}()

	privBytes := x509.MarshalPKCS1PrivateKey(priv)
	if err = pem.Encode(
		keyOut,
		&pem.Block{Type: "RSA PRIVATE KEY", Bytes: privBytes},
	); err != nil {
		return tls.Certificate{}, err
	}

	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return tls.Certificate{}, err
	}

	return cert, nil
}

//nolint:gochecknoinits // gotta register the validators
func init() {
	structValidator.SetTagName("binding")
	structValidator.RegisterCustomTypeFunc(validateKVConfig, KVConfig{})
}
