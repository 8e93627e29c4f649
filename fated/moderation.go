package fated

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	columnMuteMemberID = "member_id"
	columnMuteGuildID  = "guild_id"
	columnMuteMutedAt  = "muted_at"
)

// ErrNotMuted indicates a member has no active mute to remove.
var ErrNotMuted = errors.New("member is not muted")

// Mute is a record of a currently muted guild member. The member ID is
// the primary key, so a member holds at most one active mute.
//
//nolint:lll // struct tags can't be split
type Mute struct {
	// MemberID is the Discord ID of the muted member
	MemberID string `json:"member_id" gorm:"column:member_id;primaryKey;type:string"`

	// GuildID is the guild the mute was issued in
	GuildID string `json:"guild_id" gorm:"column:guild_id;not null;type:string"`

	// AuthorID is the moderator who issued the mute
	AuthorID string `json:"author_id" gorm:"column:author_id;type:string"`

	// MutedAt is when the mute was issued
	MutedAt int64 `json:"muted_at" gorm:"column:muted_at;autoCreateTime:milli"`

	// Why is the mute reason, if one was given
	Why NullableString `json:"why"`

	// Duration of the mute. Zero means indefinite.
	Duration Duration `json:"duration"`
}

func (Mute) TableName() string {
	return "mutes"
}

func (m Mute) LogValue() slog.Value {
	return structToSlogValue(m)
}

// Expired reports whether the mute has a duration and it has elapsed
// as of the given time.
func (m Mute) Expired(now time.Time) bool {
	if m.Duration.Duration == 0 {
		return false
	}
	expiry := time.UnixMilli(m.MutedAt).Add(m.Duration.Duration)
	return now.After(expiry)
}

// addMute inserts a mute for the given member, replacing any existing
// record for them.
func addMute(ctx context.Context, db DBI, m Mute) error {
	if m.MutedAt == 0 {
		m.MutedAt = time.Now().UTC().UnixMilli()
	}
	return db.Transaction(ctx, func(tx *gorm.DB) error {
		return tx.Clauses(
			clause.OnConflict{
				Columns:   []clause.Column{{Name: columnMuteMemberID}},
				UpdateAll: true,
			},
		).Create(&m).Error
	})
}

// removeMute deletes the mute record for the given member, returning
// ErrNotMuted when no record exists.
func removeMute(ctx context.Context, db DBI, memberID string) error {
	var current Mute
	err := db.DB().WithContext(ctx).Where(
		fmt.Sprintf("%s = ?", columnMuteMemberID),
		memberID,
	).First(&current).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotMuted
		}
		return err
	}
	_, err = db.Delete(&current)
	return err
}

// isMuted reports whether the given member has an active mute record.
func isMuted(ctx context.Context, db DBI, memberID string) (bool, error) {
	var count int64
	err := db.DB().WithContext(ctx).Model(&Mute{}).Where(
		fmt.Sprintf("%s = ?", columnMuteMemberID),
		memberID,
	).Count(&count).Error
	return count > 0, err
}

// getMute returns the mute record for the given member, or ErrNotMuted.
func getMute(ctx context.Context, db DBI, memberID string) (*Mute, error) {
	var m Mute
	err := db.DB().WithContext(ctx).Where(
		fmt.Sprintf("%s = ?", columnMuteMemberID),
		memberID,
	).First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotMuted
		}
		return nil, err
	}
	return &m, nil
}

// allMutes returns every active mute, oldest first.
func allMutes(ctx context.Context, db DBI) ([]Mute, error) {
	var mutes []Mute
	err := db.DB().WithContext(ctx).Order(
		fmt.Sprintf("%s asc", columnMuteMutedAt),
	).Find(&mutes).Error
	return mutes, err
}

// guildMutes returns the active mutes for a single guild.
func guildMutes(ctx context.Context, db DBI, guildID string) ([]Mute, error) {
	var mutes []Mute
	err := db.DB().WithContext(ctx).Where(
		fmt.Sprintf("%s = ?", columnMuteGuildID),
		guildID,
	).Order(fmt.Sprintf("%s asc", columnMuteMutedAt)).Find(&mutes).Error
	return mutes, err
}

// expiredMutes returns mutes whose duration has elapsed as of now.
func expiredMutes(ctx context.Context, db DBI, now time.Time) ([]Mute, error) {
	mutes, err := allMutes(ctx, db)
	if err != nil {
		return nil, err
	}
	var expired []Mute
	for _, m := range mutes {
		if m.Expired(now) {
			expired = append(expired, m)
		}
	}
	return expired, nil
}
