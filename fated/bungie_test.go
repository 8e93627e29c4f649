package fated

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBungieClient(t testing.TB, handler http.Handler) *BungieClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	lvl := &slog.LevelVar{}
	lvl.Set(slog.LevelWarn)
	cfg := &BungieConfig{
		APIKey:            "test-key",
		ClientID:          "client-id",
		ClientSecret:      "client-secret",
		BaseURL:           srv.URL,
		TokenURL:          srv.URL + "/token",
		AuthorizeURL:      srv.URL + "/authorize",
		RequestsPerSecond: 100,
		LogLevel:          lvl,
	}
	return newBungieClient(cfg, srv.Client(), slog.Default())
}

func bungieResponse(t testing.TB, w http.ResponseWriter, payload any) {
	t.Helper()
	response, err := json.Marshal(payload)
	require.NoError(t, err)
	envelope := map[string]any{
		"Response":    json.RawMessage(response),
		"ErrorCode":   1,
		"ErrorStatus": "Success",
		"Message":     "Ok",
	}
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(envelope))
}

func TestSearchPlayers(t *testing.T) {
	t.Parallel()
	client := newTestBungieClient(
		t, http.HandlerFunc(
			func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "test-key", r.Header.Get(bungieAPIKeyHeader))
				assert.Contains(
					t,
					r.URL.Path,
					"/Destiny2/SearchDestinyPlayerByBungieName/-1/",
				)

				var payload map[string]any
				require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
				assert.Equal(t, "Fate", payload["displayName"])

				bungieResponse(
					t, w, []DestinyMembership{
						{
							MembershipID:   "4611686018467284386",
							MembershipType: MembershipTypeSteam,
							DisplayName:    "Fate",
							GlobalName:     "Fate",
							GlobalNameCode: 5678,
						},
					},
				)
			},
		),
	)

	memberships, err := client.SearchPlayers(context.Background(), "Fate", 5678)
	require.NoError(t, err)
	require.Len(t, memberships, 1)
	assert.Equal(t, "4611686018467284386", memberships[0].MembershipID)
	assert.Equal(t, MembershipTypeSteam, memberships[0].MembershipType)
}

func TestSearchPlayersError(t *testing.T) {
	t.Parallel()
	client := newTestBungieClient(
		t, http.HandlerFunc(
			func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusServiceUnavailable)
				_ = json.NewEncoder(w).Encode(
					map[string]any{
						"ErrorCode":   5,
						"ErrorStatus": "SystemDisabled",
						"Message":     "This system is temporarily disabled for maintenance.",
					},
				)
			},
		),
	)

	_, err := client.SearchPlayers(context.Background(), "Fate", 5678)
	require.Error(t, err)

	var bungieErr *BungieError
	require.ErrorAs(t, err, &bungieErr)
	assert.Equal(t, 5, bungieErr.ErrorCode)
	assert.Equal(t, "SystemDisabled", bungieErr.ErrorStatus)
	assert.Equal(t, http.StatusServiceUnavailable, bungieErr.HTTPStatus)
}

func TestGetProfile(t *testing.T) {
	t.Parallel()
	client := newTestBungieClient(
		t, http.HandlerFunc(
			func(w http.ResponseWriter, r *http.Request) {
				assert.Contains(t, r.URL.Path, "/Destiny2/3/Profile/4611686018467284386/")
				assert.Equal(t, "100,200", r.URL.Query().Get("components"))

				bungieResponse(
					t, w, map[string]any{
						"profile": map[string]any{
							"data": map[string]any{
								"userInfo": DestinyMembership{
									MembershipID:   "4611686018467284386",
									MembershipType: MembershipTypeSteam,
									DisplayName:    "Fate",
								},
							},
						},
						"characters": map[string]any{
							"data": map[string]DestinyCharacter{
								"2305843009301040757": {
									CharacterID: "2305843009301040757",
									Light:       1810,
									ClassType:   2,
								},
							},
						},
					},
				)
			},
		),
	)

	profile, err := client.GetProfile(
		context.Background(),
		MembershipTypeSteam,
		"4611686018467284386",
	)
	require.NoError(t, err)
	assert.Equal(t, "Fate", profile.UserInfo.DisplayName)
	require.Len(t, profile.Characters, 1)
	assert.Equal(t, 1810, profile.Characters[0].Light)
	assert.Equal(t, "Warlock", profile.Characters[0].ClassName())
}

func TestGetClanForMember(t *testing.T) {
	t.Parallel()
	client := newTestBungieClient(
		t, http.HandlerFunc(
			func(w http.ResponseWriter, r *http.Request) {
				assert.Contains(t, r.URL.Path, "/GroupV2/User/3/4611686018467284386/0/1/")
				bungieResponse(
					t, w, map[string]any{
						"results": []map[string]any{
							{
								"group": ClanGroup{
									GroupID:     "1234",
									Name:        "Math Class",
									Motto:       "splish splash",
									MemberCount: 42,
								},
							},
						},
					},
				)
			},
		),
	)

	clan, err := client.GetClanForMember(
		context.Background(),
		MembershipTypeSteam,
		"4611686018467284386",
	)
	require.NoError(t, err)
	require.NotNil(t, clan)
	assert.Equal(t, "Math Class", clan.Name)
	assert.Equal(t, 42, clan.MemberCount)
}

func TestGetClanForMemberClanless(t *testing.T) {
	t.Parallel()
	client := newTestBungieClient(
		t, http.HandlerFunc(
			func(w http.ResponseWriter, _ *http.Request) {
				bungieResponse(t, w, map[string]any{"results": []any{}})
			},
		),
	)

	clan, err := client.GetClanForMember(
		context.Background(),
		MembershipTypeSteam,
		"4611686018467284386",
	)
	require.NoError(t, err)
	assert.Nil(t, clan)
}

func TestAuthorizeURL(t *testing.T) {
	t.Parallel()
	client := newTestBungieClient(t, http.NotFoundHandler())

	authorizeURL := client.AuthorizeURL()
	assert.Contains(t, authorizeURL, "/authorize?")
	assert.Contains(t, authorizeURL, "client_id=client-id")
	assert.Contains(t, authorizeURL, "response_type=code")

	client.config.ClientID = ""
	assert.Empty(t, client.AuthorizeURL())
}

func TestFetchToken(t *testing.T) {
	t.Parallel()
	client := newTestBungieClient(
		t, http.HandlerFunc(
			func(w http.ResponseWriter, r *http.Request) {
				require.NoError(t, r.ParseForm())
				assert.Equal(t, "/token", r.URL.Path)
				assert.Equal(t, "authorization_code", r.PostForm.Get("grant_type"))
				assert.Equal(t, "auth-code", r.PostForm.Get("code"))
				assert.Equal(t, "client-id", r.PostForm.Get("client_id"))
				assert.Equal(t, "client-secret", r.PostForm.Get("client_secret"))

				w.Header().Set("Content-Type", "application/json")
				_ = json.NewEncoder(w).Encode(
					TokenResponse{
						AccessToken:  "access",
						TokenType:    "Bearer",
						ExpiresIn:    3600,
						RefreshToken: "refresh",
					},
				)
			},
		),
	)

	token, err := client.FetchToken(context.Background(), "auth-code")
	require.NoError(t, err)
	assert.Equal(t, "access", token.AccessToken)
	assert.Equal(t, "refresh", token.RefreshToken)
}

func TestGetCurrentUser(t *testing.T) {
	t.Parallel()
	client := newTestBungieClient(
		t, http.HandlerFunc(
			func(w http.ResponseWriter, r *http.Request) {
				assert.Contains(t, r.URL.Path, "/User/GetMembershipsForCurrentUser/")
				assert.Equal(t, "Bearer user-access", r.Header.Get("Authorization"))

				bungieResponse(
					t, w, map[string]any{
						"bungieNetUser": BungieNetUser{
							MembershipID: "12345",
							UniqueName:   "Fate#5678",
						},
						"destinyMemberships": []DestinyMembership{
							{
								MembershipID:   "4611686018467284386",
								MembershipType: MembershipTypeSteam,
								GlobalName:     "Fate",
								GlobalNameCode: 5678,
							},
						},
					},
				)
			},
		),
	)

	user, err := client.GetCurrentUser(context.Background(), "user-access")
	require.NoError(t, err)
	assert.Equal(t, "Fate#5678", user.BungieNetUser.UniqueName)
	require.Len(t, user.DestinyMemberships, 1)
	assert.Equal(t, "4611686018467284386", user.DestinyMemberships[0].MembershipID)
}

func TestGetFriends(t *testing.T) {
	t.Parallel()
	client := newTestBungieClient(
		t, http.HandlerFunc(
			func(w http.ResponseWriter, r *http.Request) {
				assert.Contains(t, r.URL.Path, "/Social/Friends/")
				assert.Equal(t, "Bearer user-access", r.Header.Get("Authorization"))

				bungieResponse(
					t, w, map[string]any{
						"friends": []BungieFriend{
							{
								GlobalName:     "crosstar",
								GlobalNameCode: 1234,
								OnlineStatus:   1,
							},
							{
								GlobalName:     "nxtlo",
								GlobalNameCode: 9012,
								OnlineStatus:   0,
							},
						},
					},
				)
			},
		),
	)

	friends, err := client.GetFriends(context.Background(), "user-access")
	require.NoError(t, err)
	require.Len(t, friends, 2)
	assert.True(t, friends[0].Online())
	assert.False(t, friends[1].Online())
}

func TestRefreshToken(t *testing.T) {
	t.Parallel()
	client := newTestBungieClient(
		t, http.HandlerFunc(
			func(w http.ResponseWriter, r *http.Request) {
				require.NoError(t, r.ParseForm())
				assert.Equal(t, "/token", r.URL.Path)
				assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
				assert.Equal(t, "old-refresh", r.PostForm.Get("refresh_token"))
				assert.Equal(t, "client-id", r.PostForm.Get("client_id"))

				w.Header().Set("Content-Type", "application/json")
				_ = json.NewEncoder(w).Encode(
					TokenResponse{
						AccessToken:  "new-access",
						TokenType:    "Bearer",
						ExpiresIn:    3600,
						RefreshToken: "new-refresh",
					},
				)
			},
		),
	)

	token, err := client.RefreshToken(context.Background(), "old-refresh")
	require.NoError(t, err)
	assert.Equal(t, "new-access", token.AccessToken)
	assert.Equal(t, "new-refresh", token.RefreshToken)
	assert.Equal(t, int64(3600), token.ExpiresIn)
}

func TestRefreshUserToken(t *testing.T) {
	t.Parallel()
	client := newTestBungieClient(
		t, http.HandlerFunc(
			func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_ = json.NewEncoder(w).Encode(
					TokenResponse{
						AccessToken:  "refreshed-access",
						ExpiresIn:    3600,
						RefreshToken: "refreshed-refresh",
					},
				)
			},
		),
	)

	kv, err := OpenKV(
		KVConfig{Path: filepath.Join(t.TempDir(), "test.kv")},
		nil,
	)
	require.NoError(t, err)
	t.Cleanup(
		func() {
			_ = kv.Close()
		},
	)

	ctx := context.Background()

	// no cached token
	_, err = refreshUserToken(ctx, kv, client, "discord-user-1")
	require.ErrorIs(t, err, ErrKeyNotFound)

	// valid cached token is returned as-is
	require.NoError(
		t, kv.SetToken(
			"discord-user-1", OAuth2Token{
				AccessToken:  "cached-access",
				RefreshToken: "cached-refresh",
				ExpiresIn:    3600,
			},
		),
	)
	token, err := refreshUserToken(ctx, kv, client, "discord-user-1")
	require.NoError(t, err)
	assert.Equal(t, "cached-access", token.AccessToken)

	// expired cached token is refreshed and re-cached
	require.NoError(
		t, kv.SetToken(
			"discord-user-1", OAuth2Token{
				AccessToken:  "cached-access",
				RefreshToken: "cached-refresh",
				ExpiresIn:    60,
				AcquiredAt:   time.Now().Add(-time.Hour).UnixMilli(),
			},
		),
	)
	token, err = refreshUserToken(ctx, kv, client, "discord-user-1")
	require.NoError(t, err)
	assert.Equal(t, "refreshed-access", token.AccessToken)

	cached, err := kv.Token("discord-user-1")
	require.NoError(t, err)
	assert.Equal(t, "refreshed-access", cached.AccessToken)
}
