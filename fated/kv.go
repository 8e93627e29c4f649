package fated

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketPrefixes  = []byte("prefixes")
	bucketTokens    = []byte("tokens")
	bucketMuteRoles = []byte("mute_roles")
)

var (
	// ErrKeyNotFound indicates the requested key does not exist in the
	// KV store.
	ErrKeyNotFound = errors.New("key not found")

	// ErrPrefixTooLong indicates a guild prefix over the length cap.
	ErrPrefixTooLong = fmt.Errorf(
		"prefix too long: must be at most %d characters",
		maxPrefixLength,
	)
)

// tokenExpiryMargin is subtracted from a token's lifetime so tokens
// about to expire are refreshed rather than used.
const tokenExpiryMargin = 30 * time.Second

// KV is the local key-value store backing per-guild command prefixes,
// mute enforcement roles and cached OAuth2 tokens.
type KV struct {
	db     *bolt.DB
	logger *slog.Logger
}

// OpenKV opens (creating if needed) the bbolt file at cfg.Path and
// ensures all buckets exist.
func OpenKV(cfg KVConfig, log *slog.Logger) (*KV, error) {
	if log == nil {
		log = slog.Default()
	}
	db, err := bolt.Open(
		cfg.Path,
		0600,
		&bolt.Options{Timeout: cfg.Timeout},
	)
	if err != nil {
		return nil, fmt.Errorf("error opening kv store: %w", err)
	}
	err = db.Update(
		func(tx *bolt.Tx) error {
			for _, name := range [][]byte{
				bucketPrefixes,
				bucketTokens,
				bucketMuteRoles,
			} {
				if _, e := tx.CreateBucketIfNotExists(name); e != nil {
					return e
				}
			}
			return nil
		},
	)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("error creating kv buckets: %w", err)
	}
	return &KV{db: db, logger: log.With(loggerNameKey, "kv")}, nil
}

// Close closes the underlying bbolt database.
func (k *KV) Close() error {
	return k.db.Close()
}

func (k *KV) get(bucket []byte, key string) ([]byte, error) {
	var out []byte
	err := k.db.View(
		func(tx *bolt.Tx) error {
			v := tx.Bucket(bucket).Get([]byte(key))
			if v == nil {
				return ErrKeyNotFound
			}
			out = make([]byte, len(v))
			copy(out, v)
			return nil
		},
	)
	return out, err
}

func (k *KV) put(bucket []byte, key string, value []byte) error {
	return k.db.Update(
		func(tx *bolt.Tx) error {
			return tx.Bucket(bucket).Put([]byte(key), value)
		},
	)
}

func (k *KV) delete(bucket []byte, key string) error {
	return k.db.Update(
		func(tx *bolt.Tx) error {
			return tx.Bucket(bucket).Delete([]byte(key))
		},
	)
}

// Prefix returns the custom command prefix for a guild, or
// ErrKeyNotFound when the guild uses the default.
func (k *KV) Prefix(guildID string) (string, error) {
	v, err := k.get(bucketPrefixes, guildID)
	if err != nil {
		return "", err
	}
	return string(v), nil
}

// SetPrefix stores the custom command prefix for a guild. Prefixes
// longer than maxPrefixLength are rejected.
func (k *KV) SetPrefix(guildID string, prefix string) error {
	if len([]rune(prefix)) > maxPrefixLength {
		return ErrPrefixTooLong
	}
	return k.put(bucketPrefixes, guildID, []byte(prefix))
}

// RemovePrefix deletes a guild's custom prefix, reverting it to the
// default.
func (k *KV) RemovePrefix(guildID string) error {
	return k.delete(bucketPrefixes, guildID)
}

// MuteRole returns the role used to enforce mutes in a guild, or
// ErrKeyNotFound when none is configured.
func (k *KV) MuteRole(guildID string) (string, error) {
	v, err := k.get(bucketMuteRoles, guildID)
	if err != nil {
		return "", err
	}
	return string(v), nil
}

// SetMuteRole stores the role used to enforce mutes in a guild.
func (k *KV) SetMuteRole(guildID string, roleID string) error {
	return k.put(bucketMuteRoles, guildID, []byte(roleID))
}

// OAuth2Token is a cached Bungie.net OAuth2 token record for a single
// Discord user.
type OAuth2Token struct {
	// AccessToken is the bearer token for API requests
	AccessToken string `json:"access" log:"[redacted]"`

	// RefreshToken is exchanged for a new access token on expiry
	RefreshToken string `json:"refresh" log:"[redacted]"`

	// ExpiresIn is the access token lifetime in seconds
	ExpiresIn int64 `json:"expires_in"`

	// AcquiredAt is when the token was acquired, unix milliseconds
	AcquiredAt int64 `json:"date"`
}

// Expired reports whether the access token has expired (or is within
// the refresh margin of expiring) as of the given time.
func (t OAuth2Token) Expired(now time.Time) bool {
	lifetime := time.Duration(t.ExpiresIn) * time.Second
	if lifetime > tokenExpiryMargin {
		lifetime -= tokenExpiryMargin
	}
	expiry := time.UnixMilli(t.AcquiredAt).Add(lifetime)
	return now.After(expiry)
}

// Token returns the cached OAuth2 token for a Discord user, or
// ErrKeyNotFound.
func (k *KV) Token(ctxID string) (*OAuth2Token, error) {
	v, err := k.get(bucketTokens, ctxID)
	if err != nil {
		return nil, err
	}
	var token OAuth2Token
	if err = json.Unmarshal(v, &token); err != nil {
		return nil, fmt.Errorf("error decoding cached token: %w", err)
	}
	return &token, nil
}

// SetToken caches an OAuth2 token for a Discord user. AcquiredAt is
// set to now when unset.
func (k *KV) SetToken(ctxID string, token OAuth2Token) error {
	if token.AcquiredAt == 0 {
		token.AcquiredAt = time.Now().UTC().UnixMilli()
	}
	v, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("error encoding token: %w", err)
	}
	return k.put(bucketTokens, ctxID, v)
}

// RemoveToken drops a Discord user's cached OAuth2 token.
func (k *KV) RemoveToken(ctxID string) error {
	return k.delete(bucketTokens, ctxID)
}
