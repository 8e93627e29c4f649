package fated

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

const testAdminPassword = "test-admin-password"

// newTestAPI stands up the admin API over a TLS test server, with admin
// credentials already configured. The returned client carries a cookie
// jar so sessions persist across requests.
func newTestAPI(t testing.TB) (*Fated, *httptest.Server, *http.Client) {
	t.Helper()
	f := newTestFated(t)

	api, err := newAPI(f, f.config.API)
	require.NoError(t, err)
	f.api = api

	// most tests log in more than once in quick succession
	api.loginRequestLimiter = rate.NewLimiter(rate.Inf, 100)

	hashed, err := hashPassword(testAdminPassword)
	require.NoError(t, err)
	f.runtimeConfig.AdminUsername = "admin"
	f.runtimeConfig.AdminPassword = hashed
	require.NoError(
		t,
		f.db.Model(f.runtimeConfig).Updates(
			map[string]any{
				columnRuntimeConfigAdminUsername: "admin",
				columnRuntimeConfigAdminPassword: hashed,
			},
		).Error,
	)

	srv := httptest.NewTLSServer(api.engine)
	t.Cleanup(srv.Close)
	api.httpServer = srv.Config

	client := srv.Client()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	client.Jar = jar

	return f, srv, client
}

func apiRequest(
	t testing.TB,
	client *http.Client,
	method string,
	url string,
	payload any,
) (*http.Response, []byte) {
	t.Helper()
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, body)
	require.NoError(t, err)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := client.Do(req)
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	return resp, data
}

func loginAdmin(t testing.TB, srv *httptest.Server, client *http.Client) {
	t.Helper()
	resp, body := apiRequest(
		t,
		client,
		http.MethodPost,
		srv.URL+apiPathLogin,
		userLogin{Username: "admin", Password: testAdminPassword},
	)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
}

func TestHealthCheck(t *testing.T) {
	t.Parallel()
	f, srv, client := newTestAPI(t)

	resp, body := apiRequest(t, client, http.MethodGet, srv.URL+apiHealthCheck, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health healthCheckResponse
	require.NoError(t, json.Unmarshal(body, &health))
	assert.False(t, health.Paused)
	assert.False(t, health.DiscordGatewayConnected)

	f.paused.Store(true)
	f.discord.connected.Store(true)

	_, body = apiRequest(t, client, http.MethodGet, srv.URL+apiHealthCheck, nil)
	require.NoError(t, json.Unmarshal(body, &health))
	assert.True(t, health.Paused)
	assert.True(t, health.DiscordGatewayConnected)
}

func TestLoginLogout(t *testing.T) {
	t.Parallel()
	_, srv, client := newTestAPI(t)

	// missing fields
	resp, _ := apiRequest(
		t,
		client,
		http.MethodPost,
		srv.URL+apiPathLogin,
		map[string]string{"username": "admin"},
	)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// wrong password
	resp, _ = apiRequest(
		t,
		client,
		http.MethodPost,
		srv.URL+apiPathLogin,
		userLogin{Username: "admin", Password: "wrong"},
	)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// wrong username
	resp, _ = apiRequest(
		t,
		client,
		http.MethodPost,
		srv.URL+apiPathLogin,
		userLogin{Username: "nobody", Password: testAdminPassword},
	)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body := apiRequest(
		t,
		client,
		http.MethodPost,
		srv.URL+apiPathLogin,
		userLogin{Username: "admin", Password: testAdminPassword},
	)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var logged loggedInResponse
	require.NoError(t, json.Unmarshal(body, &logged))
	assert.Equal(t, "admin", logged.Username)

	resp, body = apiRequest(
		t,
		client,
		http.MethodGet,
		srv.URL+apiPrefix+apiPathLoggedIn,
		nil,
	)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &logged))
	assert.Equal(t, "admin", logged.Username)

	resp, _ = apiRequest(t, client, http.MethodPost, srv.URL+apiPathLogout, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = apiRequest(
		t,
		client,
		http.MethodGet,
		srv.URL+apiPrefix+apiPathLoggedIn,
		nil,
	)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestLoginRateLimited(t *testing.T) {
	t.Parallel()
	f, srv, client := newTestAPI(t)
	f.api.loginRequestLimiter = rate.NewLimiter(rate.Limit(1), 1)

	resp, _ := apiRequest(
		t,
		client,
		http.MethodPost,
		srv.URL+apiPathLogin,
		userLogin{Username: "admin", Password: testAdminPassword},
	)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = apiRequest(
		t,
		client,
		http.MethodPost,
		srv.URL+apiPathLogin,
		userLogin{Username: "admin", Password: testAdminPassword},
	)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestAuthRequired(t *testing.T) {
	t.Parallel()
	_, srv, client := newTestAPI(t)

	for _, path := range []string{
		apiPathLoggedIn,
		apiPathConfig,
		apiPathMutes,
		apiPathNotes,
		apiPathDestiny,
	} {
		resp, _ := apiRequest(
			t,
			client,
			http.MethodGet,
			srv.URL+apiPrefix+path,
			nil,
		)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, path)
	}
}

func TestPendingSetupBlocksProtectedRoutes(t *testing.T) {
	t.Parallel()
	f, srv, client := newTestAPI(t)
	loginAdmin(t, srv, client)

	f.pendingSetup.Store(true)

	resp, _ := apiRequest(
		t,
		client,
		http.MethodGet,
		srv.URL+apiPrefix+apiPathNotes,
		nil,
	)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAdminSetup(t *testing.T) {
	t.Parallel()
	f, srv, client := newTestAPI(t)
	f.pendingSetup.Store(true)

	resp, body := apiRequest(
		t,
		client,
		http.MethodGet,
		srv.URL+apiPathSetupStatus,
		nil,
	)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var status setupResponse
	require.NoError(t, json.Unmarshal(body, &status))
	assert.True(t, status.Required)

	// too-short password
	resp, _ = apiRequest(
		t,
		client,
		http.MethodPost,
		srv.URL+apiPathSetup,
		adminSetupPayload{Username: "boss", Password: "short"},
	)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = apiRequest(
		t,
		client,
		http.MethodPost,
		srv.URL+apiPathSetup,
		adminSetupPayload{Username: "boss", Password: "a-new-password"},
	)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.False(t, f.pendingSetup.Load())

	_, body = apiRequest(t, client, http.MethodGet, srv.URL+apiPathSetupStatus, nil)
	require.NoError(t, json.Unmarshal(body, &status))
	assert.False(t, status.Required)

	// setup is one-shot
	resp, _ = apiRequest(
		t,
		client,
		http.MethodPost,
		srv.URL+apiPathSetup,
		adminSetupPayload{Username: "boss", Password: "another-password"},
	)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = apiRequest(
		t,
		client,
		http.MethodPost,
		srv.URL+apiPathLogin,
		userLogin{Username: "boss", Password: "a-new-password"},
	)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPIMutes(t *testing.T) {
	t.Parallel()
	f, srv, client := newTestAPI(t)
	loginAdmin(t, srv, client)
	ctx := context.Background()

	require.NoError(
		t,
		addMute(
			ctx, f.writeDB, Mute{
				MemberID: "member-1",
				GuildID:  "guild-1",
				AuthorID: "mod-1",
				Why:      "spam",
			},
		),
	)

	resp, body := apiRequest(
		t,
		client,
		http.MethodGet,
		srv.URL+apiPrefix+apiPathMutes,
		nil,
	)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var mutes []Mute
	require.NoError(t, json.Unmarshal(body, &mutes))
	require.Len(t, mutes, 1)
	assert.Equal(t, "member-1", mutes[0].MemberID)

	resp, body = apiRequest(
		t,
		client,
		http.MethodDelete,
		srv.URL+apiPrefix+apiPathMutes+"/member-1",
		nil,
	)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var reply httpReply
	require.NoError(t, json.Unmarshal(body, &reply))
	assert.Equal(t, "unmuted", reply.Message)

	resp, _ = apiRequest(
		t,
		client,
		http.MethodDelete,
		srv.URL+apiPrefix+apiPathMutes+"/member-1",
		nil,
	)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPINotes(t *testing.T) {
	t.Parallel()
	f, srv, client := newTestAPI(t)
	loginAdmin(t, srv, client)
	ctx := context.Background()

	require.NoError(
		t,
		createNote(
			ctx, f.writeDB, Note{
				Name:     "raid",
				Content:  "tuesday",
				AuthorID: "user-1",
				GuildID:  "guild-1",
			},
		),
	)
	require.NoError(
		t,
		createNote(
			ctx, f.writeDB, Note{
				Name:     "loot",
				Content:  "rules",
				AuthorID: "user-2",
				GuildID:  "guild-1",
			},
		),
	)

	resp, body := apiRequest(
		t,
		client,
		http.MethodGet,
		srv.URL+apiPrefix+apiPathNotes,
		nil,
	)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var notes []Note
	require.NoError(t, json.Unmarshal(body, &notes))
	assert.Len(t, notes, 2)

	resp, _ = apiRequest(
		t,
		client,
		http.MethodDelete,
		srv.URL+apiPrefix+apiPathNotes+"/raid",
		nil,
	)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, err := getNote(ctx, f.writeDB, "raid")
	assert.ErrorIs(t, err, ErrNoteNotFound)

	resp, _ = apiRequest(
		t,
		client,
		http.MethodDelete,
		srv.URL+apiPrefix+apiPathNotes+"/raid",
		nil,
	)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPIDestinyLinks(t *testing.T) {
	t.Parallel()
	f, srv, client := newTestAPI(t)
	loginAdmin(t, srv, client)

	require.NoError(
		t,
		linkDestiny(
			context.Background(), f.writeDB, Destiny{
				CtxID:          "user-1",
				MembershipID:   "4611686018467284386",
				Name:           "Fate",
				Code:           5678,
				MembershipType: MembershipTypeSteam,
			},
		),
	)

	resp, body := apiRequest(
		t,
		client,
		http.MethodGet,
		srv.URL+apiPrefix+apiPathDestiny,
		nil,
	)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var links []Destiny
	require.NoError(t, json.Unmarshal(body, &links))
	require.Len(t, links, 1)
	assert.Equal(t, "4611686018467284386", links[0].MembershipID)
}

func TestAPIConfig(t *testing.T) {
	t.Parallel()
	f, srv, client := newTestAPI(t)
	loginAdmin(t, srv, client)

	resp, body := apiRequest(
		t,
		client,
		http.MethodGet,
		srv.URL+apiPrefix+apiPathConfig,
		nil,
	)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var current RuntimeConfig
	require.NoError(t, json.Unmarshal(body, &current))
	assert.Equal(t, DefaultDiscordCustomStatus, current.DiscordCustomStatus)

	newStatus := "playing destiny"
	resp, _ = apiRequest(
		t,
		client,
		http.MethodPatch,
		srv.URL+apiPrefix+apiPathConfig,
		RuntimeConfigUpdate{DiscordCustomStatus: &newStatus},
	)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, newStatus, f.RuntimeConfig().DiscordCustomStatus)

	var stored RuntimeConfig
	require.NoError(t, f.db.Last(&stored).Error)
	assert.Equal(t, newStatus, stored.DiscordCustomStatus)

	// empty error message fails validation
	empty := ""
	resp, _ = apiRequest(
		t,
		client,
		http.MethodPatch,
		srv.URL+apiPrefix+apiPathConfig,
		RuntimeConfigUpdate{DiscordErrorMessage: &empty},
	)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	paused := true
	resp, _ = apiRequest(
		t,
		client,
		http.MethodPatch,
		srv.URL+apiPrefix+apiPathConfig,
		RuntimeConfigUpdate{Paused: &paused},
	)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.True(t, f.paused.Load())
}

func TestAPIPauseResume(t *testing.T) {
	t.Parallel()
	f, srv, client := newTestAPI(t)
	loginAdmin(t, srv, client)

	resp, body := apiRequest(
		t,
		client,
		http.MethodPost,
		srv.URL+apiPrefix+apiPathPause,
		nil,
	)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var reply httpReply
	require.NoError(t, json.Unmarshal(body, &reply))
	assert.Equal(t, "paused", reply.Message)
	assert.True(t, f.paused.Load())

	resp, _ = apiRequest(
		t,
		client,
		http.MethodPost,
		srv.URL+apiPrefix+apiPathPause,
		nil,
	)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body = apiRequest(
		t,
		client,
		http.MethodPost,
		srv.URL+apiPrefix+apiPathResume,
		nil,
	)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &reply))
	assert.Equal(t, "resumed", reply.Message)
	assert.False(t, f.paused.Load())

	resp, _ = apiRequest(
		t,
		client,
		http.MethodPost,
		srv.URL+apiPrefix+apiPathResume,
		nil,
	)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAPIRegisterCommands(t *testing.T) {
	t.Parallel()
	_, srv, client := newTestAPI(t)
	loginAdmin(t, srv, client)

	resp, body := apiRequest(
		t,
		client,
		http.MethodPost,
		srv.URL+apiPrefix+apiPathRegisterCommands,
		nil,
	)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var commands []*discordgo.ApplicationCommand
	require.NoError(t, json.Unmarshal(body, &commands))
	assert.Len(t, commands, 8)
}

func TestAPIQuit(t *testing.T) {
	t.Parallel()
	f, srv, client := newTestAPI(t)
	loginAdmin(t, srv, client)
	f.signalStop = make(chan struct{}, 1)

	resp, body := apiRequest(
		t,
		client,
		http.MethodPost,
		srv.URL+apiPrefix+apiPathQuit,
		nil,
	)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var reply httpReply
	require.NoError(t, json.Unmarshal(body, &reply))
	assert.Equal(t, "quitting", reply.Message)

	select {
	case <-f.signalStop:
		//
	case <-time.After(5 * time.Second):
		t.Fatal("expected a stop signal")
	}
}

func TestGenerateRandomHexString(t *testing.T) {
	t.Parallel()
	seen := map[string]bool{}
	for _, length := range []int{1, 16, 31, 32, 64} {
		s, err := generateRandomHexString(length)
		require.NoError(t, err)
		assert.Len(t, s, length)
		assert.False(t, seen[s])
		seen[s] = true
	}
}
