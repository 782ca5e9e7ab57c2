package domain

import (
	"time"
)

type (
	// RecordID is the internal primary key shared by every table (ULID).
	RecordID string

	// ProfileID is the public, shareable 8-char alphanumeric profile handle.
	ProfileID string

	// PropID is the public slug a proposition is addressed by.
	PropID string

	// TakeID is the public identifier of a single take.
	TakeID string
)

type PropStatus string

const (
	PropStatusOpen     PropStatus = "open"
	PropStatusClosed   PropStatus = "closed"
	PropStatusGradedA  PropStatus = "gradedA"
	PropStatusGradedB  PropStatus = "gradedB"
	PropStatusArchived PropStatus = "archived"
)

// GradedSide reports the winning side once a prop has been graded out of band.
func (s PropStatus) GradedSide() (Side, bool) {
	switch s {
	case PropStatusGradedA:
		return SideA, true
	case PropStatusGradedB:
		return SideB, true
	}
	return "", false
}

type Side string

const (
	SideA Side = "A"
	SideB Side = "B"
)

func (s Side) Valid() bool {
	return s == SideA || s == SideB
}

type TakeStatus string

const (
	TakeStatusLatest      TakeStatus = "latest"
	TakeStatusOverwritten TakeStatus = "overwritten"
)

// Profile maps a verified phone number to a stable public handle. Created
// lazily on the first verified interaction, never deleted.
type Profile struct {
	ID        RecordID  `gorm:"column:id;type:char(26);primaryKey"`
	ProfileID ProfileID `gorm:"column:profile_id;type:char(8);not null;uniqueIndex"`
	Mobile    string    `gorm:"column:mobile;type:text;not null;uniqueIndex"`
	Username  string    `gorm:"column:username;type:text"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// Prop is a binary proposition. Authoring and grading happen outside this
// application; only Status is read here, to gate voting.
type Prop struct {
	ID         RecordID   `gorm:"column:id;type:char(26);primaryKey"`
	PropID     PropID     `gorm:"column:prop_id;type:text;not null;uniqueIndex"`
	Title      string     `gorm:"column:title;type:text;not null"`
	Summary    string     `gorm:"column:summary;type:text"`
	LongText   string     `gorm:"column:long_text;type:text"`
	SideALabel string     `gorm:"column:side_a_label;type:text"`
	SideBLabel string     `gorm:"column:side_b_label;type:text"`
	Status     PropStatus `gorm:"column:status;type:text;not null;default:open"`
	SubjectID  string     `gorm:"column:subject_id;type:text;index"`
	CreatedAt  time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// Take records one vote. Immutable once written except for Status, which flips
// to overwritten when the same profile re-votes on the same prop. Exactly one
// take per (profile, prop) pair holds Status == latest at any time.
type Take struct {
	ID         RecordID   `gorm:"column:id;type:char(26);primaryKey"`
	TakeID     TakeID     `gorm:"column:take_id;type:char(26);not null;uniqueIndex"`
	ProfileID  RecordID   `gorm:"column:profile_id;type:char(26);not null;index"`
	Mobile     string     `gorm:"column:mobile;type:text;not null;index"`
	PropID     PropID     `gorm:"column:prop_id;type:text;not null;index:idx_takes_prop_status,priority:1"`
	Side       Side       `gorm:"column:side;type:char(1);not null"`
	Popularity int        `gorm:"column:popularity;not null"`
	Points     int64      `gorm:"column:points;not null;default:0"`
	Status     TakeStatus `gorm:"column:status;type:text;not null;default:latest;index:idx_takes_prop_status,priority:2"`
	CreatedAt  time.Time  `gorm:"column:created_at;autoCreateTime"`
}

// Subject groups props for display and leaderboard filtering.
type Subject struct {
	ID        RecordID  `gorm:"column:id;type:char(26);primaryKey"`
	SubjectID string    `gorm:"column:subject_id;type:text;not null;uniqueIndex"`
	Title     string    `gorm:"column:title;type:text"`
	LogoURL   string    `gorm:"column:logo_url;type:text"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// ContentItem is an editorial link attached to a prop.
type ContentItem struct {
	ID        RecordID  `gorm:"column:id;type:char(26);primaryKey"`
	PropID    PropID    `gorm:"column:prop_id;type:text;not null;index"`
	Title     string    `gorm:"column:title;type:text"`
	URL       string    `gorm:"column:url;type:text"`
	Source    string    `gorm:"column:source;type:text"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// LeaderboardEntry is derived, never stored: latest takes folded by phone.
type LeaderboardEntry struct {
	Mobile    string
	ProfileID ProfileID
	TakeCount int64
	Points    int64
}

// SMSMessage is a queued outbound text (confirmation links and the like).
type SMSMessage struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

func (Profile) TableName() string { return "profiles" }

func (Prop) TableName() string { return "props" }

func (Take) TableName() string { return "takes" }

func (Subject) TableName() string { return "subjects" }

func (ContentItem) TableName() string { return "content" }
