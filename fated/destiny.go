package fated

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	columnDestinyCtxID          = "ctx_id"
	columnDestinyMembershipID   = "membership_id"
	columnDestinyName           = "name"
	columnDestinyCode           = "code"
	columnDestinyMembershipType = "membership_type"
)

var (
	// ErrNotLinked indicates the Discord user has no linked account.
	ErrNotLinked = errors.New("no Destiny account linked")

	// ErrInvalidCode indicates a platform discriminator at or below the
	// minimum allowed value.
	ErrInvalidCode = errors.New("invalid membership code: must be greater than 1")

	// ErrMembershipLinked indicates the membership is already linked to
	// a different Discord user.
	ErrMembershipLinked = errors.New("membership is already linked to another user")
)

// MembershipType identifies the game platform a Destiny membership
// belongs to. Values follow the Bungie.net BungieMembershipType enum.
type MembershipType int

const (
	MembershipTypeNone   MembershipType = 0
	MembershipTypeXbox   MembershipType = 1
	MembershipTypePsn    MembershipType = 2
	MembershipTypeSteam  MembershipType = 3
	MembershipTypeStadia MembershipType = 5
)

func (m MembershipType) String() string {
	switch m {
	case MembershipTypeXbox:
		return "Xbox"
	case MembershipTypePsn:
		return "Psn"
	case MembershipTypeSteam:
		return "Steam"
	case MembershipTypeStadia:
		return "Stadia"
	default:
		return "None"
	}
}

// Destiny is a record of a Discord user's linked Destiny 2 account.
// One row per Discord user; a membership can only be linked once.
//
//nolint:lll // struct tags can't be split
type Destiny struct {
	// CtxID is the Discord user ID the account is linked to
	CtxID string `json:"ctx_id" gorm:"column:ctx_id;primaryKey;type:string"`

	// MembershipID is the Bungie.net membership identifier
	MembershipID string `json:"membership_id" gorm:"column:membership_id;uniqueIndex;not null;type:string"`

	// Name is the platform display name
	Name string `json:"name" gorm:"not null;type:string"`

	// Code is the platform-assigned discriminator, shown as name#code.
	// Always greater than 1.
	Code int16 `json:"code" gorm:"not null;check:code > 1" binding:"gt=1"`

	// MembershipType is the platform the membership belongs to
	MembershipType MembershipType `json:"membership_type" gorm:"column:membership_type"`

	ModelUnixTime
}

func (Destiny) TableName() string {
	return "destiny"
}

func (d Destiny) String() string {
	return fmt.Sprintf("%s#%d [%s]", d.Name, d.Code, d.MembershipType)
}

func (d Destiny) LogValue() slog.Value {
	return structToSlogValue(d)
}

// linkDestiny inserts or replaces the Destiny account linked to
// d.CtxID. Fails with ErrInvalidCode when the discriminator is out of
// range, and ErrMembershipLinked when the membership already belongs
// to a different Discord user.
func linkDestiny(ctx context.Context, db DBI, d Destiny) error {
	if d.Code <= 1 {
		return ErrInvalidCode
	}

	var existing Destiny
	err := db.DB().WithContext(ctx).Where(
		fmt.Sprintf("%s = ?", columnDestinyMembershipID),
		d.MembershipID,
	).First(&existing).Error
	switch {
	case err == nil:
		if existing.CtxID != d.CtxID {
			return ErrMembershipLinked
		}
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return err
	}

	return db.Transaction(ctx, func(tx *gorm.DB) error {
		return tx.Clauses(
			clause.OnConflict{
				Columns: []clause.Column{{Name: columnDestinyCtxID}},
				DoUpdates: clause.AssignmentColumns(
					[]string{
						columnDestinyMembershipID,
						columnDestinyName,
						columnDestinyCode,
						columnDestinyMembershipType,
					},
				),
			},
		).Create(&d).Error
	})
}

// unlinkDestiny removes the account linked to the given Discord user.
// Returns ErrNotLinked when there is nothing to remove.
func unlinkDestiny(ctx context.Context, db DBI, ctxID string) error {
	var current Destiny
	err := db.DB().WithContext(ctx).Where(
		fmt.Sprintf("%s = ?", columnDestinyCtxID),
		ctxID,
	).First(&current).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotLinked
		}
		return err
	}
	_, err = db.Delete(&current)
	return err
}

// getDestiny returns the account linked to the given Discord user, or
// ErrNotLinked.
func getDestiny(ctx context.Context, db DBI, ctxID string) (*Destiny, error) {
	var d Destiny
	err := db.DB().WithContext(ctx).Where(
		fmt.Sprintf("%s = ?", columnDestinyCtxID),
		ctxID,
	).First(&d).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotLinked
		}
		return nil, err
	}
	return &d, nil
}

// allDestiny returns every linked account, most recently linked first.
func allDestiny(ctx context.Context, db DBI) ([]Destiny, error) {
	var links []Destiny
	err := db.DB().WithContext(ctx).Order("created_at desc").Find(&links).Error
	return links, err
}
