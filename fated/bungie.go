package fated

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/time/rate"
)

const bungieAPIKeyHeader = "X-API-Key"

// searchAllMemberships is the BungieMembershipType wildcard used when
// searching players across every platform.
const searchAllMemberships = -1

// BungieError is a non-success response from the Bungie.net API.
type BungieError struct {
	ErrorCode   int    `json:"ErrorCode"`
	ErrorStatus string `json:"ErrorStatus"`
	Message     string `json:"Message"`
	HTTPStatus  int    `json:"-"`
}

func (e *BungieError) Error() string {
	return fmt.Sprintf(
		"bungie api error: %s (%d): %s",
		e.ErrorStatus,
		e.ErrorCode,
		e.Message,
	)
}

// bungieEnvelope is the standard Bungie.net response wrapper.
type bungieEnvelope struct {
	Response    json.RawMessage `json:"Response"`
	ErrorCode   int             `json:"ErrorCode"`
	ErrorStatus string          `json:"ErrorStatus"`
	Message     string          `json:"Message"`
}

// DestinyMembership is a Destiny 2 platform membership as returned by
// player searches and profile lookups.
type DestinyMembership struct {
	MembershipID   string         `json:"membershipId"`
	MembershipType MembershipType `json:"membershipType"`
	DisplayName    string         `json:"displayName"`
	GlobalName     string         `json:"bungieGlobalDisplayName"`
	GlobalNameCode int16          `json:"bungieGlobalDisplayNameCode"`
	IconPath       string         `json:"iconPath"`
}

// DestinyCharacter is a single character on a Destiny 2 profile.
type DestinyCharacter struct {
	CharacterID        string    `json:"characterId"`
	Light              int       `json:"light"`
	ClassType          int       `json:"classType"`
	RaceType           int       `json:"raceType"`
	EmblemPath         string    `json:"emblemPath"`
	MinutesPlayedTotal string    `json:"minutesPlayedTotal"`
	DateLastPlayed     time.Time `json:"dateLastPlayed"`
}

// ClassName returns the character's class as shown in-game.
func (c DestinyCharacter) ClassName() string {
	switch c.ClassType {
	case 0:
		return "Titan"
	case 1:
		return "Hunter"
	case 2:
		return "Warlock"
	default:
		return "Unknown"
	}
}

// DestinyProfile is a Destiny 2 profile with its characters.
type DestinyProfile struct {
	UserInfo   DestinyMembership
	Characters []DestinyCharacter
}

// ClanGroup is a Destiny 2 clan summary.
type ClanGroup struct {
	GroupID      string `json:"groupId"`
	Name         string `json:"name"`
	About        string `json:"about"`
	Motto        string `json:"motto"`
	MemberCount  int    `json:"memberCount"`
	CreationDate string `json:"creationDate"`
}

// TokenResponse is the Bungie.net OAuth2 token endpoint response.
type TokenResponse struct {
	AccessToken  string `json:"access_token" log:"[redacted]"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token" log:"[redacted]"`
	MembershipID string `json:"membership_id"`
}

// BungieClient is a Bungie.net platform API client with client-side
// rate limiting.
type BungieClient struct {
	config     *BungieConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

func newBungieClient(
	cfg *BungieConfig,
	httpClient *http.Client,
	log *slog.Logger,
) *BungieClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if log == nil {
		log = slog.Default()
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = DefaultBungieRequestsPerSecond
	}
	return &BungieClient{
		config:     cfg,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(rps), rps),
		logger:     log.With(loggerNameKey, "bungie"),
	}
}

// do performs an HTTP request against the platform API, honoring the
// rate limiter and decoding the standard response envelope. A non-1
// ErrorCode is returned as a *BungieError.
func (c *BungieClient) do(
	ctx context.Context,
	req *http.Request,
	result any,
) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	req.Header.Set(bungieAPIKeyHeader, c.config.APIKey)

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	c.logger.DebugContext(
		ctx,
		"bungie api request",
		"method", req.Method,
		"url", req.URL.Redacted(),
		"status", resp.StatusCode,
		"elapsed", time.Since(started),
	)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("error reading response body: %w", err)
	}

	var envelope bungieEnvelope
	if err = json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf(
			"error decoding response (status %d): %w",
			resp.StatusCode,
			err,
		)
	}

	// ErrorCode 1 is 'Success'
	if envelope.ErrorCode != 1 {
		return &BungieError{
			ErrorCode:   envelope.ErrorCode,
			ErrorStatus: envelope.ErrorStatus,
			Message:     envelope.Message,
			HTTPStatus:  resp.StatusCode,
		}
	}

	if result == nil {
		return nil
	}
	if err = json.Unmarshal(envelope.Response, result); err != nil {
		return fmt.Errorf("error decoding response payload: %w", err)
	}
	return nil
}

func (c *BungieClient) get(ctx context.Context, endpoint string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	return c.do(ctx, req, result)
}

func (c *BungieClient) post(
	ctx context.Context,
	endpoint string,
	payload any,
	result any,
) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("error encoding request payload: %w", err)
	}
	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		endpoint,
		bytes.NewReader(body),
	)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(ctx, req, result)
}

// SearchPlayers searches every platform for memberships matching the
// given Bungie name and discriminator exactly.
func (c *BungieClient) SearchPlayers(
	ctx context.Context,
	name string,
	code int16,
) ([]DestinyMembership, error) {
	endpoint := fmt.Sprintf(
		"%s/Destiny2/SearchDestinyPlayerByBungieName/%d/",
		c.config.BaseURL,
		searchAllMemberships,
	)
	payload := map[string]any{
		"displayName":     name,
		"displayNameCode": code,
	}
	var memberships []DestinyMembership
	if err := c.post(ctx, endpoint, payload, &memberships); err != nil {
		return nil, fmt.Errorf("error searching players: %w", err)
	}
	return memberships, nil
}

// GetProfile retrieves a Destiny 2 profile with its characters.
func (c *BungieClient) GetProfile(
	ctx context.Context,
	membershipType MembershipType,
	membershipID string,
) (*DestinyProfile, error) {
	// Components 100 (profile) and 200 (characters)
	endpoint := fmt.Sprintf(
		"%s/Destiny2/%d/Profile/%s/?components=100,200",
		c.config.BaseURL,
		membershipType,
		url.PathEscape(membershipID),
	)

	var raw struct {
		Profile struct {
			Data struct {
				UserInfo DestinyMembership `json:"userInfo"`
			} `json:"data"`
		} `json:"profile"`
		Characters struct {
			Data map[string]DestinyCharacter `json:"data"`
		} `json:"characters"`
	}
	if err := c.get(ctx, endpoint, &raw); err != nil {
		return nil, fmt.Errorf("error getting profile: %w", err)
	}

	profile := &DestinyProfile{UserInfo: raw.Profile.Data.UserInfo}
	for _, character := range raw.Characters.Data {
		profile.Characters = append(profile.Characters, character)
	}
	return profile, nil
}

// GetClanForMember returns the clan the given membership belongs to,
// or nil when the player is clanless.
func (c *BungieClient) GetClanForMember(
	ctx context.Context,
	membershipType MembershipType,
	membershipID string,
) (*ClanGroup, error) {
	// Filter 0 (all), group type 1 (clan)
	endpoint := fmt.Sprintf(
		"%s/GroupV2/User/%d/%s/0/1/",
		c.config.BaseURL,
		membershipType,
		url.PathEscape(membershipID),
	)

	var raw struct {
		Results []struct {
			Group ClanGroup `json:"group"`
		} `json:"results"`
	}
	if err := c.get(ctx, endpoint, &raw); err != nil {
		return nil, fmt.Errorf("error getting clan: %w", err)
	}
	if len(raw.Results) == 0 {
		return nil, nil
	}
	return &raw.Results[0].Group, nil
}

func (c *BungieClient) getAuthed(
	ctx context.Context,
	endpoint string,
	accessToken string,
	result any,
) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	return c.do(ctx, req, result)
}

// BungieNetUser is a Bungie.net account as returned by authorized
// membership lookups.
type BungieNetUser struct {
	MembershipID        string `json:"membershipId"`
	UniqueName          string `json:"uniqueName"`
	DisplayName         string `json:"displayName"`
	About               string `json:"about"`
	ProfilePicturePath  string `json:"profilePicturePath"`
	SteamDisplayName    string `json:"steamDisplayName"`
	PSNDisplayName      string `json:"psnDisplayName"`
	BlizzardDisplayName string `json:"blizzardDisplayName"`
	StadiaDisplayName   string `json:"stadiaDisplayName"`
}

// BungieUser is the authorized user's Bungie.net account with its
// Destiny 2 platform memberships.
type BungieUser struct {
	BungieNetUser      BungieNetUser       `json:"bungieNetUser"`
	DestinyMemberships []DestinyMembership `json:"destinyMemberships"`
}

// GetCurrentUser returns the Bungie.net account and Destiny 2
// memberships for the user the access token belongs to.
func (c *BungieClient) GetCurrentUser(
	ctx context.Context,
	accessToken string,
) (*BungieUser, error) {
	endpoint := fmt.Sprintf(
		"%s/User/GetMembershipsForCurrentUser/",
		c.config.BaseURL,
	)
	var user BungieUser
	if err := c.getAuthed(ctx, endpoint, accessToken, &user); err != nil {
		return nil, fmt.Errorf("error getting current user: %w", err)
	}
	return &user, nil
}

// BungieFriend is a single entry on the authorized user's Bungie
// friend list.
type BungieFriend struct {
	LastSeenAsMembershipID string `json:"lastSeenAsMembershipId"`
	GlobalName             string `json:"bungieGlobalDisplayName"`
	GlobalNameCode         int16  `json:"bungieGlobalDisplayNameCode"`
	OnlineStatus           int    `json:"onlineStatus"`
}

// Online reports whether the friend is currently online.
func (f BungieFriend) Online() bool {
	return f.OnlineStatus == 1
}

// GetFriends returns the friend list for the user the access token
// belongs to.
func (c *BungieClient) GetFriends(
	ctx context.Context,
	accessToken string,
) ([]BungieFriend, error) {
	endpoint := fmt.Sprintf("%s/Social/Friends/", c.config.BaseURL)
	var raw struct {
		Friends []BungieFriend `json:"friends"`
	}
	if err := c.getAuthed(ctx, endpoint, accessToken, &raw); err != nil {
		return nil, fmt.Errorf("error getting friend list: %w", err)
	}
	return raw.Friends, nil
}

// AuthorizeURL returns the OAuth2 authorization URL users visit to
// link their Bungie account, or "" when no client ID is configured.
func (c *BungieClient) AuthorizeURL() string {
	if c.config.ClientID == "" || c.config.AuthorizeURL == "" {
		return ""
	}
	query := url.Values{}
	query.Set("client_id", c.config.ClientID)
	query.Set("response_type", "code")
	return fmt.Sprintf("%s?%s", c.config.AuthorizeURL, query.Encode())
}

// FetchToken exchanges an OAuth2 authorization code for an access and
// refresh token pair.
func (c *BungieClient) FetchToken(
	ctx context.Context,
	code string,
) (*TokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("client_id", c.config.ClientID)
	form.Set("client_secret", c.config.ClientSecret)
	return c.tokenRequest(ctx, form)
}

// RefreshToken exchanges a refresh token for a new OAuth2 access token
// using the configured client credentials.
func (c *BungieClient) RefreshToken(
	ctx context.Context,
	refreshToken string,
) (*TokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	form.Set("client_id", c.config.ClientID)
	form.Set("client_secret", c.config.ClientSecret)
	return c.tokenRequest(ctx, form)
}

func (c *BungieClient) tokenRequest(
	ctx context.Context,
	form url.Values,
) (*TokenResponse, error) {
	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.config.TokenURL,
		strings.NewReader(form.Encode()),
	)
	if err != nil {
		return nil, fmt.Errorf("error creating token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	if err = c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		c.logger.WarnContext(
			ctx,
			"oauth2 token request failed",
			"status", resp.StatusCode,
		)
		return nil, &BungieError{
			ErrorStatus: http.StatusText(resp.StatusCode),
			Message:     string(body),
			HTTPStatus:  resp.StatusCode,
		}
	}

	var token TokenResponse
	if err = json.Unmarshal(body, &token); err != nil {
		return nil, fmt.Errorf("error decoding token response: %w", err)
	}
	return &token, nil
}

// refreshUserToken returns a valid cached access token for the given
// Discord user, refreshing it through the OAuth2 endpoint when expired.
func refreshUserToken(
	ctx context.Context,
	kv *KV,
	client *BungieClient,
	ctxID string,
) (*OAuth2Token, error) {
	token, err := kv.Token(ctxID)
	if err != nil {
		return nil, err
	}
	if !token.Expired(time.Now()) {
		return token, nil
	}

	refreshed, err := client.RefreshToken(ctx, token.RefreshToken)
	if err != nil {
		client.logger.WarnContext(
			ctx,
			"error refreshing cached token",
			"ctx_id", ctxID,
			tint.Err(err),
		)
		return nil, err
	}
	newToken := OAuth2Token{
		AccessToken:  refreshed.AccessToken,
		RefreshToken: refreshed.RefreshToken,
		ExpiresIn:    refreshed.ExpiresIn,
		AcquiredAt:   time.Now().UTC().UnixMilli(),
	}
	if err = kv.SetToken(ctxID, newToken); err != nil {
		return nil, err
	}
	return &newToken, nil
}
