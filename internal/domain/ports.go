package domain

import (
	"context"
	"time"
)

type ProfileRepository interface {
	Create(ctx context.Context, p Profile) error
	FindByMobile(ctx context.Context, mobile string) (Profile, error)
	FindByProfileID(ctx context.Context, id ProfileID) (Profile, error)
}

type PropRepository interface {
	FindByPropID(ctx context.Context, id PropID) (Prop, error)
	// List returns every prop except archived ones, newest first.
	List(ctx context.Context) ([]Prop, error)
	PropsByIDs(ctx context.Context, ids []PropID) (map[PropID]Prop, error)
	ListSubjectIDs(ctx context.Context) ([]string, error)
	// FindRelated returns the newest open prop sharing subjectID, excluding exclude.
	FindRelated(ctx context.Context, subjectID string, exclude PropID) (Prop, error)
	SubjectsByIDs(ctx context.Context, subjectIDs []string) (map[string]Subject, error)
	ContentByPropIDs(ctx context.Context, propIDs []PropID) (map[PropID][]ContentItem, error)
}

type TakeRepository interface {
	Create(ctx context.Context, t Take) error
	FindByTakeID(ctx context.Context, id TakeID) (Take, error)
	// FindLatest returns the single latest take for the (profile, prop) pair.
	FindLatest(ctx context.Context, profileID RecordID, propID PropID) (Take, error)
	// Supersede flips the prior take to overwritten and inserts the
	// replacement in one transaction, so a failed insert never leaves the
	// (profile, prop) pair without a latest take.
	Supersede(ctx context.Context, prevID RecordID, t Take) error
	// CountSides tallies latest takes per side for one prop.
	CountSides(ctx context.Context, propID PropID) (sideA, sideB int64, err error)
	// ListByProfile returns the profile's latest takes, newest first.
	ListByProfile(ctx context.Context, profileID RecordID) ([]Take, error)
	// ListRecent returns the newest takes regardless of status.
	ListRecent(ctx context.Context, limit int) ([]Take, error)
	// Leaderboard folds latest takes by mobile, optionally restricted to props
	// under subjectID, ordered points desc, count desc, mobile asc.
	Leaderboard(ctx context.Context, subjectID string) ([]LeaderboardEntry, error)
}

type Counter interface {
	IncrBy(ctx context.Context, key string, delta int64) (int64, error)
	Get(ctx context.Context, key string) (int64, error)
	GetAll(ctx context.Context, keys []string) (map[string]int64, error)
}

// Outbox queues outbound SMS between the API and the delivery worker.
type Outbox interface {
	Publish(ctx context.Context, msg SMSMessage) error
	Consume(ctx context.Context, handler func(context.Context, SMSMessage) error) error
}

// CodeVerifier is the OTP provider: sends a one-time code and checks a
// submitted code. All replay/expiry protection lives on the provider side.
type CodeVerifier interface {
	SendCode(ctx context.Context, toE164 string) error
	CheckCode(ctx context.Context, toE164, code string) (bool, error)
}

// Messenger sends plain outbound SMS.
type Messenger interface {
	Send(ctx context.Context, msg SMSMessage) error
}

// Throttle gates an action key; implementations return ErrThrottled when the
// caller exceeded its window.
type Throttle interface {
	Allow(ctx context.Context, key string) error
}

type Clock interface {
	Now() time.Time
}
