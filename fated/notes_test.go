package fated

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndGetNote(t *testing.T) {
	t.Parallel()
	db := newTestDBI(t)
	ctx := context.Background()

	note := Note{
		Name:     "raid-times",
		Content:  "Tuesdays at 8pm UTC",
		AuthorID: "user-1",
		GuildID:  "guild-1",
	}
	require.NoError(t, createNote(ctx, db, note))

	got, err := getNote(ctx, db, "raid-times")
	require.NoError(t, err)
	assert.Equal(t, "Tuesdays at 8pm UTC", got.Content)
	assert.Equal(t, "user-1", got.AuthorID)
	assert.NotZero(t, got.CreatedAt)
}

func TestCreateNoteDuplicateName(t *testing.T) {
	t.Parallel()
	db := newTestDBI(t)
	ctx := context.Background()

	require.NoError(
		t,
		createNote(ctx, db, Note{Name: "raid-times", Content: "a", AuthorID: "user-1"}),
	)

	err := createNote(ctx, db, Note{Name: "raid-times", Content: "b", AuthorID: "user-2"})
	require.ErrorIs(t, err, ErrNoteExists)
}

func TestCreateNoteEmptyName(t *testing.T) {
	t.Parallel()
	db := newTestDBI(t)

	err := createNote(
		context.Background(),
		db,
		Note{Name: "   ", Content: "a", AuthorID: "user-1"},
	)
	require.Error(t, err)
}

func TestNoteRawInsertDuplicateName(t *testing.T) {
	t.Parallel()
	db := newTestDBI(t)

	require.NoError(
		t, db.DB().Create(
			&Note{Name: "raid-times", Content: "a", AuthorID: "user-1"},
		).Error,
	)
	err := db.DB().Create(
		&Note{Name: "raid-times", Content: "b", AuthorID: "user-2"},
	).Error
	require.Error(t, err)
}

func TestUpdateNote(t *testing.T) {
	t.Parallel()
	db := newTestDBI(t)
	ctx := context.Background()

	require.NoError(
		t,
		createNote(ctx, db, Note{Name: "raid-times", Content: "a", AuthorID: "user-1"}),
	)

	require.NoError(t, updateNote(ctx, db, "raid-times", "b", "user-1"))

	got, err := getNote(ctx, db, "raid-times")
	require.NoError(t, err)
	assert.Equal(t, "b", got.Content)

	err = updateNote(ctx, db, "raid-times", "c", "user-2")
	require.ErrorIs(t, err, ErrNotNoteAuthor)

	err = updateNote(ctx, db, "no-such-note", "c", "user-1")
	require.ErrorIs(t, err, ErrNoteNotFound)
}

func TestDeleteNote(t *testing.T) {
	t.Parallel()
	db := newTestDBI(t)
	ctx := context.Background()

	require.NoError(
		t,
		createNote(ctx, db, Note{Name: "raid-times", Content: "a", AuthorID: "user-1"}),
	)

	// non-author without strict is rejected
	err := deleteNote(ctx, db, "raid-times", "user-2", false)
	require.ErrorIs(t, err, ErrNotNoteAuthor)

	// non-author with strict may delete
	require.NoError(t, deleteNote(ctx, db, "raid-times", "user-2", true))

	_, err = getNote(ctx, db, "raid-times")
	require.ErrorIs(t, err, ErrNoteNotFound)

	err = deleteNote(ctx, db, "raid-times", "user-1", false)
	require.ErrorIs(t, err, ErrNoteNotFound)
}

func TestAuthorNotes(t *testing.T) {
	t.Parallel()
	db := newTestDBI(t)
	ctx := context.Background()

	require.NoError(
		t,
		createNote(ctx, db, Note{Name: "a", Content: "1", AuthorID: "user-1", GuildID: "guild-1"}),
	)
	require.NoError(
		t,
		createNote(ctx, db, Note{Name: "b", Content: "2", AuthorID: "user-1", GuildID: "guild-1"}),
	)
	require.NoError(
		t,
		createNote(ctx, db, Note{Name: "c", Content: "3", AuthorID: "user-2", GuildID: "guild-1"}),
	)
	require.NoError(
		t,
		createNote(ctx, db, Note{Name: "d", Content: "4", AuthorID: "user-1", GuildID: "guild-2"}),
	)

	notes, err := authorNotes(ctx, db, "user-1", "guild-1")
	require.NoError(t, err)
	assert.Len(t, notes, 2)

	all, err := allNotes(ctx, db)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestClearNotes(t *testing.T) {
	t.Parallel()
	db := newTestDBI(t)
	ctx := context.Background()

	require.NoError(
		t,
		createNote(ctx, db, Note{Name: "a", Content: "1", AuthorID: "user-1", GuildID: "guild-1"}),
	)
	require.NoError(
		t,
		createNote(ctx, db, Note{Name: "b", Content: "2", AuthorID: "user-1", GuildID: "guild-1"}),
	)
	require.NoError(
		t,
		createNote(ctx, db, Note{Name: "c", Content: "3", AuthorID: "user-2", GuildID: "guild-1"}),
	)

	removed, err := clearNotes(ctx, db, "user-1", "guild-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	all, err := allNotes(ctx, db)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
