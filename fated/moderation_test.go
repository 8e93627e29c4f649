package fated

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddAndRemoveMute(t *testing.T) {
	t.Parallel()
	db := newTestDBI(t)
	ctx := context.Background()

	mute := Mute{
		MemberID: "member-1",
		GuildID:  "guild-1",
		AuthorID: "mod-1",
		Why:      "spamming",
	}
	require.NoError(t, addMute(ctx, db, mute))

	muted, err := isMuted(ctx, db, "member-1")
	require.NoError(t, err)
	assert.True(t, muted)

	got, err := getMute(ctx, db, "member-1")
	require.NoError(t, err)
	assert.Equal(t, "guild-1", got.GuildID)
	assert.Equal(t, "mod-1", got.AuthorID)
	assert.NotZero(t, got.MutedAt)

	require.NoError(t, removeMute(ctx, db, "member-1"))

	muted, err = isMuted(ctx, db, "member-1")
	require.NoError(t, err)
	assert.False(t, muted)
}

func TestRemoveMuteNotMuted(t *testing.T) {
	t.Parallel()
	db := newTestDBI(t)

	err := removeMute(context.Background(), db, "member-1")
	require.ErrorIs(t, err, ErrNotMuted)
}

func TestAddMuteReplacesExisting(t *testing.T) {
	t.Parallel()
	db := newTestDBI(t)
	ctx := context.Background()

	require.NoError(
		t, addMute(
			ctx, db, Mute{
				MemberID: "member-1",
				GuildID:  "guild-1",
				AuthorID: "mod-1",
				Why:      "first offense",
			},
		),
	)
	require.NoError(
		t, addMute(
			ctx, db, Mute{
				MemberID: "member-1",
				GuildID:  "guild-1",
				AuthorID: "mod-2",
				Why:      "second offense",
			},
		),
	)

	mutes, err := allMutes(ctx, db)
	require.NoError(t, err)
	require.Len(t, mutes, 1)
	assert.Equal(t, "mod-2", mutes[0].AuthorID)
	assert.Equal(t, NullableString("second offense"), mutes[0].Why)
}

func TestMuteRawInsertDuplicateMember(t *testing.T) {
	t.Parallel()
	db := newTestDBI(t)

	require.NoError(
		t, db.DB().Create(
			&Mute{MemberID: "member-1", GuildID: "guild-1"},
		).Error,
	)
	err := db.DB().Create(
		&Mute{MemberID: "member-1", GuildID: "guild-2"},
	).Error
	require.Error(t, err)
}

func TestGuildMutes(t *testing.T) {
	t.Parallel()
	db := newTestDBI(t)
	ctx := context.Background()

	require.NoError(t, addMute(ctx, db, Mute{MemberID: "member-1", GuildID: "guild-1"}))
	require.NoError(t, addMute(ctx, db, Mute{MemberID: "member-2", GuildID: "guild-1"}))
	require.NoError(t, addMute(ctx, db, Mute{MemberID: "member-3", GuildID: "guild-2"}))

	mutes, err := guildMutes(ctx, db, "guild-1")
	require.NoError(t, err)
	assert.Len(t, mutes, 2)

	mutes, err = guildMutes(ctx, db, "guild-2")
	require.NoError(t, err)
	assert.Len(t, mutes, 1)
}

func TestMuteExpired(t *testing.T) {
	t.Parallel()
	now := time.Now()

	indefinite := Mute{MemberID: "member-1", MutedAt: now.Add(-time.Hour).UnixMilli()}
	assert.False(t, indefinite.Expired(now))

	elapsed := Mute{
		MemberID: "member-2",
		MutedAt:  now.Add(-time.Hour).UnixMilli(),
		Duration: Duration{30 * time.Minute},
	}
	assert.True(t, elapsed.Expired(now))

	active := Mute{
		MemberID: "member-3",
		MutedAt:  now.Add(-time.Minute).UnixMilli(),
		Duration: Duration{30 * time.Minute},
	}
	assert.False(t, active.Expired(now))
}

func TestExpiredMutes(t *testing.T) {
	t.Parallel()
	db := newTestDBI(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(
		t, addMute(
			ctx, db, Mute{
				MemberID: "member-1",
				GuildID:  "guild-1",
				MutedAt:  now.Add(-time.Hour).UnixMilli(),
				Duration: Duration{10 * time.Minute},
			},
		),
	)
	require.NoError(
		t, addMute(
			ctx, db, Mute{
				MemberID: "member-2",
				GuildID:  "guild-1",
				MutedAt:  now.UnixMilli(),
				Duration: Duration{10 * time.Minute},
			},
		),
	)
	require.NoError(
		t, addMute(
			ctx, db, Mute{
				MemberID: "member-3",
				GuildID:  "guild-1",
				MutedAt:  now.Add(-time.Hour).UnixMilli(),
			},
		),
	)

	expired, err := expiredMutes(ctx, db, now)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "member-1", expired[0].MemberID)
}
