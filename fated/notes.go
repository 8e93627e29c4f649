package fated

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"gorm.io/gorm"
)

var (
	columnNoteName     = "name"
	columnNoteContent  = "content"
	columnNoteAuthorID = "author_id"
	columnNoteGuildID  = "guild_id"
)

var (
	// ErrNoteExists indicates a note with the same name already exists.
	ErrNoteExists = errors.New("a note with that name already exists")

	// ErrNoteNotFound indicates no note matched the given name.
	ErrNoteNotFound = errors.New("note not found")

	// ErrNotNoteAuthor indicates the caller does not own the note.
	ErrNotNoteAuthor = errors.New("only the note author can do that")
)

// Note is a named note created by a guild member. Names are unique
// across the table.
//
//nolint:lll // struct tags can't be split
type Note struct {
	ModelUintID

	// Name identifies the note, unique across all guilds
	Name string `json:"name" gorm:"uniqueIndex;not null;type:string"`

	// Content is the note body
	Content string `json:"content" gorm:"not null;type:string"`

	// AuthorID is the Discord user who created the note
	AuthorID string `json:"author_id" gorm:"column:author_id;not null;type:string"`

	// GuildID is the guild the note was created in
	GuildID string `json:"guild_id" gorm:"column:guild_id;type:string"`

	CreatedAt int64 `json:"created_at" gorm:"autoCreateTime:milli"`
}

func (Note) TableName() string {
	return "notes"
}

func (n Note) LogValue() slog.Value {
	return structToSlogValue(n)
}

// createNote inserts a new note, failing with ErrNoteExists when the
// name is already taken.
func createNote(ctx context.Context, db DBI, n Note) error {
	n.Name = strings.TrimSpace(n.Name)
	if n.Name == "" {
		return errors.New("note name cannot be empty")
	}

	var count int64
	err := db.DB().WithContext(ctx).Model(&Note{}).Where(
		fmt.Sprintf("%s = ?", columnNoteName),
		n.Name,
	).Count(&count).Error
	if err != nil {
		return err
	}
	if count > 0 {
		return ErrNoteExists
	}

	_, err = db.Create(ctx, &n)
	return err
}

// getNote returns the note with the given name, or ErrNoteNotFound.
func getNote(ctx context.Context, db DBI, name string) (*Note, error) {
	var n Note
	err := db.DB().WithContext(ctx).Where(
		fmt.Sprintf("%s = ?", columnNoteName),
		strings.TrimSpace(name),
	).First(&n).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoteNotFound
		}
		return nil, err
	}
	return &n, nil
}

// updateNote replaces the content of an existing note. Only the note's
// author may update it.
func updateNote(
	ctx context.Context,
	db DBI,
	name string,
	content string,
	authorID string,
) error {
	n, err := getNote(ctx, db, name)
	if err != nil {
		return err
	}
	if n.AuthorID != authorID {
		return ErrNotNoteAuthor
	}
	_, err = db.Update(ctx, n, columnNoteContent, content)
	return err
}

// deleteNote removes the note with the given name. Unless strict is
// set, only the note's author may remove it; strict deletes regardless
// of author, for privileged callers.
func deleteNote(
	ctx context.Context,
	db DBI,
	name string,
	authorID string,
	strict bool,
) error {
	n, err := getNote(ctx, db, name)
	if err != nil {
		return err
	}
	if !strict && n.AuthorID != authorID {
		return ErrNotNoteAuthor
	}
	_, err = db.Delete(n)
	return err
}

// authorNotes returns the notes created by the given author in a guild,
// newest first.
func authorNotes(
	ctx context.Context,
	db DBI,
	authorID string,
	guildID string,
) ([]Note, error) {
	var notes []Note
	err := db.DB().WithContext(ctx).Where(
		fmt.Sprintf("%s = ? AND %s = ?", columnNoteAuthorID, columnNoteGuildID),
		authorID,
		guildID,
	).Order("created_at desc").Find(&notes).Error
	return notes, err
}

// allNotes returns every note, newest first.
func allNotes(ctx context.Context, db DBI) ([]Note, error) {
	var notes []Note
	err := db.DB().WithContext(ctx).Order("created_at desc").Find(&notes).Error
	return notes, err
}

// clearNotes removes all notes created by the given author in a guild,
// returning the number removed.
func clearNotes(
	ctx context.Context,
	db DBI,
	authorID string,
	guildID string,
) (int64, error) {
	notes, err := authorNotes(ctx, db, authorID, guildID)
	if err != nil {
		return 0, err
	}
	var removed int64
	for i := range notes {
		rows, delErr := db.Delete(&notes[i])
		if delErr != nil {
			return removed, delErr
		}
		removed += rows
	}
	return removed, nil
}
