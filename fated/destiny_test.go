package fated

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinkDestiny(t *testing.T) {
	t.Parallel()
	db := newTestDBI(t)
	ctx := context.Background()

	link := Destiny{
		CtxID:          "discord-user-1",
		MembershipID:   "4611686018467284386",
		Name:           "Fate",
		Code:           5678,
		MembershipType: MembershipTypeSteam,
	}
	require.NoError(t, linkDestiny(ctx, db, link))

	got, err := getDestiny(ctx, db, "discord-user-1")
	require.NoError(t, err)
	assert.Equal(t, "4611686018467284386", got.MembershipID)
	assert.Equal(t, "Fate", got.Name)
	assert.Equal(t, int16(5678), got.Code)
	assert.Equal(t, MembershipTypeSteam, got.MembershipType)
}

func TestLinkDestinyInvalidCode(t *testing.T) {
	t.Parallel()
	db := newTestDBI(t)
	ctx := context.Background()

	for _, code := range []int16{-1, 0, 1} {
		err := linkDestiny(
			ctx, db, Destiny{
				CtxID:        "discord-user-1",
				MembershipID: "4611686018467284386",
				Name:         "Fate",
				Code:         code,
			},
		)
		require.ErrorIs(t, err, ErrInvalidCode)
	}

	_, err := getDestiny(ctx, db, "discord-user-1")
	require.ErrorIs(t, err, ErrNotLinked)
}

func TestLinkDestinyMembershipAlreadyLinked(t *testing.T) {
	t.Parallel()
	db := newTestDBI(t)
	ctx := context.Background()

	require.NoError(
		t, linkDestiny(
			ctx, db, Destiny{
				CtxID:        "discord-user-1",
				MembershipID: "4611686018467284386",
				Name:         "Fate",
				Code:         5678,
			},
		),
	)

	err := linkDestiny(
		ctx, db, Destiny{
			CtxID:        "discord-user-2",
			MembershipID: "4611686018467284386",
			Name:         "Fate",
			Code:         5678,
		},
	)
	require.ErrorIs(t, err, ErrMembershipLinked)
}

func TestLinkDestinyReplacesExisting(t *testing.T) {
	t.Parallel()
	db := newTestDBI(t)
	ctx := context.Background()

	require.NoError(
		t, linkDestiny(
			ctx, db, Destiny{
				CtxID:          "discord-user-1",
				MembershipID:   "4611686018467284386",
				Name:           "Fate",
				Code:           5678,
				MembershipType: MembershipTypeSteam,
			},
		),
	)

	// Re-linking the same user to a different membership replaces the row
	require.NoError(
		t, linkDestiny(
			ctx, db, Destiny{
				CtxID:          "discord-user-1",
				MembershipID:   "4611686018467299999",
				Name:           "Fate",
				Code:           4321,
				MembershipType: MembershipTypePsn,
			},
		),
	)

	got, err := getDestiny(ctx, db, "discord-user-1")
	require.NoError(t, err)
	assert.Equal(t, "4611686018467299999", got.MembershipID)
	assert.Equal(t, int16(4321), got.Code)
	assert.Equal(t, MembershipTypePsn, got.MembershipType)

	links, err := allDestiny(ctx, db)
	require.NoError(t, err)
	assert.Len(t, links, 1)
}

func TestUnlinkDestiny(t *testing.T) {
	t.Parallel()
	db := newTestDBI(t)
	ctx := context.Background()

	require.ErrorIs(t, unlinkDestiny(ctx, db, "discord-user-1"), ErrNotLinked)

	require.NoError(
		t, linkDestiny(
			ctx, db, Destiny{
				CtxID:        "discord-user-1",
				MembershipID: "4611686018467284386",
				Name:         "Fate",
				Code:         5678,
			},
		),
	)
	require.NoError(t, unlinkDestiny(ctx, db, "discord-user-1"))

	_, err := getDestiny(ctx, db, "discord-user-1")
	require.ErrorIs(t, err, ErrNotLinked)
}

func TestDestinyRawInsertConstraints(t *testing.T) {
	t.Parallel()
	db := newTestDBI(t)

	require.NoError(
		t, db.DB().Create(
			&Destiny{
				CtxID:        "discord-user-1",
				MembershipID: "4611686018467284386",
				Name:         "Fate",
				Code:         5678,
			},
		).Error,
	)

	// unique index on membership_id
	err := db.DB().Create(
		&Destiny{
			CtxID:        "discord-user-2",
			MembershipID: "4611686018467284386",
			Name:         "Other",
			Code:         4321,
		},
	).Error
	require.Error(t, err)

	// check constraint on code
	err = db.DB().Create(
		&Destiny{
			CtxID:        "discord-user-3",
			MembershipID: "4611686018467211111",
			Name:         "Low",
			Code:         1,
		},
	).Error
	require.Error(t, err)
}

func TestMembershipTypeString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "Steam", MembershipTypeSteam.String())
	assert.Equal(t, "Xbox", MembershipTypeXbox.String())
	assert.Equal(t, "Psn", MembershipTypePsn.String())
	assert.Equal(t, "Stadia", MembershipTypeStadia.String())
	assert.Equal(t, "None", MembershipTypeNone.String())
	assert.Equal(t, "None", MembershipType(99).String())
}
