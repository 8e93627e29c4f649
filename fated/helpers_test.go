package fated

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShortenString(t *testing.T) {
	t.Parallel()

	short := "hello"
	assert.Equal(t, short, shortenString(short, 100))

	// double newlines are stripped before truncating
	squeezable := strings.Repeat("ab\n\n", 10)
	shortened := shortenString(squeezable, 35)
	assert.NotContains(t, shortened, "\n\n")
	assert.LessOrEqual(t, len(shortened), 35)

	long := strings.Repeat("x", 500)
	shortened = shortenString(long, 100)
	assert.LessOrEqual(t, len([]rune(shortened)), 100)
	assert.Contains(t, shortened, "output limit reached")
}

func TestTruncate(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab", truncate("abcde", 2))
	assert.Equal(t, "héll", truncate("héllo", 4))
}

func TestHashAndVerifyPassword(t *testing.T) {
	t.Parallel()

	hashed, err := HashPassword("hunter22")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hashed, "$argon2id$"))

	valid, err := verifyPassword(hashed, "hunter22")
	require.NoError(t, err)
	assert.True(t, valid)

	valid, err = verifyPassword(hashed, "hunter23")
	require.NoError(t, err)
	assert.False(t, valid)

	_, err = verifyPassword("not-a-hash", "hunter22")
	require.Error(t, err)

	// same password, different salt
	rehashed, err := HashPassword("hunter22")
	require.NoError(t, err)
	assert.NotEqual(t, hashed, rehashed)
}

func TestDerive64ByteKey(t *testing.T) {
	t.Parallel()
	key := derive64ByteKey("some secret")
	assert.Len(t, key, 64)
	assert.Equal(t, key, derive64ByteKey("some secret"))
	assert.NotEqual(t, key, derive64ByteKey("other secret"))
}

func TestChunkItems(t *testing.T) {
	t.Parallel()

	chunks := chunkItems(2, 1, 2, 3, 4, 5)
	require.Len(t, chunks, 3)
	assert.Equal(t, []int{1, 2}, chunks[0])
	assert.Equal(t, []int{3, 4}, chunks[1])
	assert.Equal(t, []int{5}, chunks[2])

	assert.Nil(t, chunkItems[int](3))
}

func TestContextLogger(t *testing.T) {
	t.Parallel()

	_, ok := ContextLogger(context.Background())
	assert.False(t, ok)

	logger := slog.Default().With("test", t.Name())
	ctx := WithLogger(context.Background(), logger)
	got, ok := ContextLogger(ctx)
	require.True(t, ok)
	assert.Equal(t, logger, got)

	// nil falls back to the default logger
	ctx = WithLogger(context.Background(), nil)
	got, ok = ContextLogger(ctx)
	require.True(t, ok)
	assert.NotNil(t, got)
}

func TestStructToSlogValue(t *testing.T) {
	t.Parallel()

	type sample struct {
		Name   string `json:"name"`
		Secret string `json:"secret" log:"[redacted]"`
		Empty  string `json:"empty"`
	}

	v := structToSlogValue(sample{Name: "fated", Secret: "hunter22"})
	attrs := v.Group()

	byKey := map[string]string{}
	for _, a := range attrs {
		byKey[a.Key] = a.Value.String()
	}
	assert.Equal(t, "fated", byKey["name"])
	assert.Equal(t, "[redacted]", byKey["secret"])
	_, ok := byKey["empty"]
	assert.False(t, ok)
}

func TestDestinyLogAttrs(t *testing.T) {
	t.Parallel()
	attrs := destinyLogAttrs(
		Destiny{
			CtxID:          "user-1",
			MembershipID:   "4611686018467284386",
			Name:           "Fate",
			MembershipType: MembershipTypeSteam,
		},
	)
	assert.Contains(t, attrs, "user-1")
	assert.Contains(t, attrs, "4611686018467284386")
	assert.Contains(t, attrs, "Steam")
}

func TestStringPointerValue(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "", stringPointerValue(nil))
	s := "value"
	assert.Equal(t, "value", stringPointerValue(&s))
}
