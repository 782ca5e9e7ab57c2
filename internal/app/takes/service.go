// Package takes implements the take ledger: vote casting with the
// latest-take-wins supersede policy, tally math, and the read-side
// aggregation views (feed, leaderboard, profile history).
package takes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/chrismeisner/makethetake/internal/domain"
	"github.com/chrismeisner/makethetake/internal/platform/ids"
)

var (
	ErrPropNotFound    = errors.New("prop not found")
	ErrPropNotOpen     = errors.New("prop not open")
	ErrTakeNotFound    = errors.New("take not found")
	ErrProfileNotFound = errors.New("profile not found")
	ErrInvalidSide     = errors.New("invalid side")
)

const defaultFeedLimit = 20

// ProfileDirectory is the slice of the identity service the ledger needs.
type ProfileDirectory interface {
	EnsureProfile(ctx context.Context, phoneE164 string) (domain.Profile, error)
	ProfileByID(ctx context.Context, id domain.ProfileID) (domain.Profile, error)
}

// Service concentrates the voting rules and delegates record access to the
// injected repositories. Counter and outbox are optional; their failures are
// logged and never fail a vote.
type Service struct {
	props    domain.PropRepository
	takes    domain.TakeRepository
	profiles ProfileDirectory
	counter  domain.Counter
	outbox   domain.Outbox
	clock    domain.Clock
	ids      *ids.Generator
	appURL   string
	logger   *slog.Logger
	votes    *keyedMutex
}

func NewService(
	props domain.PropRepository,
	takeRepo domain.TakeRepository,
	profiles ProfileDirectory,
	counter domain.Counter,
	outbox domain.Outbox,
	clock domain.Clock,
	idsGen *ids.Generator,
	appURL string,
	logger *slog.Logger,
) *Service {
	if idsGen == nil {
		idsGen = ids.DefaultGenerator()
	}
	return &Service{
		props:    props,
		takes:    takeRepo,
		profiles: profiles,
		counter:  counter,
		outbox:   outbox,
		clock:    clock,
		ids:      idsGen,
		appURL:   appURL,
		logger:   logger,
		votes:    newKeyedMutex(),
	}
}

type PropTally struct {
	SideACount int64
	SideBCount int64
	SideAPct   int
	SideBPct   int
}

type PropDetail struct {
	Prop  domain.Prop
	Tally PropTally
}

type PropSummary struct {
	Prop           domain.Prop
	SubjectTitle   string
	SubjectLogoURL string
	Content        []domain.ContentItem
}

type VoteResult struct {
	Take       domain.Take
	SideACount int64
	SideBCount int64
}

type TakeDetail struct {
	Take    domain.Take
	Prop    domain.Prop
	HasProp bool
	Content []domain.ContentItem
	// WasCorrect is set once the prop has been graded.
	WasCorrect *bool
}

type ProfileTake struct {
	Take      domain.Take
	PropTitle string
	SideLabel string
}

type ProfileHistory struct {
	Profile    domain.Profile
	TotalTakes int
	Takes      []ProfileTake
}

type FeedItem struct {
	Take      domain.Take
	PropTitle string
}

// GetProp returns one prop with its live tally, computed from latest takes
// only.
func (s *Service) GetProp(ctx context.Context, propID domain.PropID) (PropDetail, error) {
	prop, err := s.props.FindByPropID(ctx, propID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return PropDetail{}, ErrPropNotFound
		}
		return PropDetail{}, err
	}

	tally, err := s.tally(ctx, propID)
	if err != nil {
		return PropDetail{}, err
	}

	return PropDetail{Prop: prop, Tally: tally}, nil
}

func (s *Service) tally(ctx context.Context, propID domain.PropID) (PropTally, error) {
	sideA, sideB, err := s.takes.CountSides(ctx, propID)
	if err != nil {
		return PropTally{}, err
	}
	pctA, pctB := ComputePct(sideA, sideB)
	return PropTally{
		SideACount: sideA,
		SideBCount: sideB,
		SideAPct:   pctA,
		SideBPct:   pctB,
	}, nil
}

// ListProps returns all non-archived props denormalized with subject and
// content metadata for presentation.
func (s *Service) ListProps(ctx context.Context) ([]PropSummary, error) {
	props, err := s.props.List(ctx)
	if err != nil {
		return nil, err
	}

	subjectIDs := make([]string, 0, len(props))
	seenSubjects := make(map[string]bool)
	propIDs := make([]domain.PropID, 0, len(props))
	for _, p := range props {
		if p.SubjectID != "" && !seenSubjects[p.SubjectID] {
			seenSubjects[p.SubjectID] = true
			subjectIDs = append(subjectIDs, p.SubjectID)
		}
		propIDs = append(propIDs, p.PropID)
	}

	subjects, err := s.props.SubjectsByIDs(ctx, subjectIDs)
	if err != nil {
		return nil, err
	}
	content, err := s.props.ContentByPropIDs(ctx, propIDs)
	if err != nil {
		return nil, err
	}

	summaries := make([]PropSummary, len(props))
	for i, p := range props {
		summary := PropSummary{Prop: p, Content: content[p.PropID]}
		if subject, ok := subjects[p.SubjectID]; ok {
			summary.SubjectTitle = subject.Title
			summary.SubjectLogoURL = subject.LogoURL
		}
		summaries[i] = summary
	}
	return summaries, nil
}

func (s *Service) SubjectIDs(ctx context.Context) ([]string, error) {
	return s.props.ListSubjectIDs(ctx)
}

// RelatedProp finds another open prop under the same subject. ok is false
// when the prop has no subject or no sibling exists.
func (s *Service) RelatedProp(ctx context.Context, propID domain.PropID) (domain.Prop, bool, error) {
	prop, err := s.props.FindByPropID(ctx, propID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Prop{}, false, ErrPropNotFound
		}
		return domain.Prop{}, false, err
	}

	related, err := s.props.FindRelated(ctx, prop.SubjectID, propID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Prop{}, false, nil
		}
		return domain.Prop{}, false, err
	}
	return related, true, nil
}

// CastVote records one vote for phoneE164 on propID. A prior take by the same
// profile on the same prop is flipped to overwritten, never deleted, so
// exactly one take per (profile, prop) pair stays latest. The stored
// popularity uses post-increment counts: it includes the vote being cast,
// which is what the voter sees right after voting.
func (s *Service) CastVote(ctx context.Context, phoneE164 string, propID domain.PropID, side domain.Side) (VoteResult, error) {
	if !side.Valid() {
		return VoteResult{}, fmt.Errorf("%w: %q", ErrInvalidSide, side)
	}

	prop, err := s.props.FindByPropID(ctx, propID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return VoteResult{}, ErrPropNotFound
		}
		return VoteResult{}, err
	}

	// Closed and graded props accept no new or updated takes, prior vote or
	// not.
	if prop.Status != domain.PropStatusOpen {
		return VoteResult{}, fmt.Errorf("%w: prop is %q", ErrPropNotOpen, prop.Status)
	}

	profile, err := s.profiles.EnsureProfile(ctx, phoneE164)
	if err != nil {
		return VoteResult{}, err
	}

	unlock := s.votes.lock(string(profile.ID) + "|" + string(propID))
	defer unlock()

	prev, err := s.takes.FindLatest(ctx, profile.ID, propID)
	hadPrev := err == nil
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return VoteResult{}, err
	}

	sideA, sideB, err := s.takes.CountSides(ctx, propID)
	if err != nil {
		return VoteResult{}, err
	}
	// The tally still carries the take being replaced; back it out before
	// adding the new vote.
	if hadPrev {
		if prev.Side == domain.SideA {
			sideA--
		} else {
			sideB--
		}
	}
	if side == domain.SideA {
		sideA++
	} else {
		sideB++
	}

	pctA, pctB := ComputePct(sideA, sideB)
	popularity := pctA
	if side == domain.SideB {
		popularity = pctB
	}

	take := domain.Take{
		ID:         domain.RecordID(s.ids.New()),
		TakeID:     domain.TakeID(s.ids.New()),
		ProfileID:  profile.ID,
		Mobile:     profile.Mobile,
		PropID:     propID,
		Side:       side,
		Popularity: popularity,
		Status:     domain.TakeStatusLatest,
		CreatedAt:  s.clock.Now(),
	}

	if hadPrev {
		err = s.takes.Supersede(ctx, prev.ID, take)
	} else {
		err = s.takes.Create(ctx, take)
	}
	if err != nil {
		return VoteResult{}, err
	}

	s.bumpCounters(ctx, propID, side, prev, hadPrev)
	s.enqueueConfirmation(ctx, profile.Mobile, take.TakeID)

	return VoteResult{Take: take, SideACount: sideA, SideBCount: sideB}, nil
}

// bumpCounters keeps the Redis fast tallies in step: the superseded side goes
// down, the chosen side goes up. Best effort only.
func (s *Service) bumpCounters(ctx context.Context, propID domain.PropID, side domain.Side, prev domain.Take, hadPrev bool) {
	if s.counter == nil {
		return
	}

	if hadPrev {
		if _, err := s.counter.IncrBy(ctx, CounterKeySide(propID, prev.Side), -1); err != nil {
			s.logger.Warn("tally counter decrement failed", "prop", propID, "side", prev.Side, "err", err)
		}
	} else {
		if _, err := s.counter.IncrBy(ctx, CounterKeyTotal(propID), 1); err != nil {
			s.logger.Warn("tally counter total failed", "prop", propID, "err", err)
		}
	}
	if _, err := s.counter.IncrBy(ctx, CounterKeySide(propID, side), 1); err != nil {
		s.logger.Warn("tally counter increment failed", "prop", propID, "side", side, "err", err)
	}
}

// enqueueConfirmation hands the "view your take" text to the outbox. A flaky
// SMS path must never turn a successful vote into an error, so failures are
// logged and swallowed.
func (s *Service) enqueueConfirmation(ctx context.Context, mobile string, takeID domain.TakeID) {
	if s.outbox == nil || s.appURL == "" {
		return
	}

	msg := domain.SMSMessage{
		To:   mobile,
		Body: fmt.Sprintf("Thanks for your take!\n\nView it here:\n%s/takes/%s", s.appURL, takeID),
	}
	if err := s.outbox.Publish(ctx, msg); err != nil {
		s.logger.Warn("confirmation sms enqueue failed", "take", takeID, "err", err)
	}
}

// GetTake returns one take joined with its prop and related content. Once the
// prop is graded, WasCorrect reports whether the take picked the graded side.
func (s *Service) GetTake(ctx context.Context, takeID domain.TakeID) (TakeDetail, error) {
	take, err := s.takes.FindByTakeID(ctx, takeID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return TakeDetail{}, ErrTakeNotFound
		}
		return TakeDetail{}, err
	}

	detail := TakeDetail{Take: take}

	prop, err := s.props.FindByPropID(ctx, take.PropID)
	if err == nil {
		detail.Prop = prop
		detail.HasProp = true
		if graded, ok := prop.Status.GradedSide(); ok {
			wasCorrect := take.Side == graded
			detail.WasCorrect = &wasCorrect
		}
	} else if !errors.Is(err, domain.ErrNotFound) {
		return TakeDetail{}, err
	}

	content, err := s.props.ContentByPropIDs(ctx, []domain.PropID{take.PropID})
	if err != nil {
		return TakeDetail{}, err
	}
	detail.Content = content[take.PropID]

	return detail, nil
}

// Leaderboard folds latest takes by phone: take count plus summed points,
// optionally restricted to props under one subject.
func (s *Service) Leaderboard(ctx context.Context, subjectID string) ([]domain.LeaderboardEntry, error) {
	return s.takes.Leaderboard(ctx, subjectID)
}

// ProfileTakes returns a profile's latest takes enriched with prop titles and
// side labels.
func (s *Service) ProfileTakes(ctx context.Context, profileID domain.ProfileID) (ProfileHistory, error) {
	profile, err := s.profiles.ProfileByID(ctx, profileID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return ProfileHistory{}, ErrProfileNotFound
		}
		return ProfileHistory{}, err
	}

	list, err := s.takes.ListByProfile(ctx, profile.ID)
	if err != nil {
		return ProfileHistory{}, err
	}

	props, err := s.propsForTakes(ctx, list)
	if err != nil {
		return ProfileHistory{}, err
	}

	history := ProfileHistory{
		Profile:    profile,
		TotalTakes: len(list),
		Takes:      make([]ProfileTake, len(list)),
	}
	for i, take := range list {
		entry := ProfileTake{Take: take}
		if prop, ok := props[take.PropID]; ok {
			entry.PropTitle = prop.Title
			if take.Side == domain.SideA {
				entry.SideLabel = prop.SideALabel
			} else {
				entry.SideLabel = prop.SideBLabel
			}
		}
		history.Takes[i] = entry
	}
	return history, nil
}

// Feed lists the newest takes. Overwritten takes are included on purpose:
// the feed shows voting activity, not current standings. Each item carries
// its status so callers can filter.
func (s *Service) Feed(ctx context.Context, limit int) ([]FeedItem, error) {
	if limit <= 0 {
		limit = defaultFeedLimit
	}

	list, err := s.takes.ListRecent(ctx, limit)
	if err != nil {
		return nil, err
	}

	props, err := s.propsForTakes(ctx, list)
	if err != nil {
		return nil, err
	}

	feed := make([]FeedItem, len(list))
	for i, take := range list {
		item := FeedItem{Take: take}
		if prop, ok := props[take.PropID]; ok {
			item.PropTitle = prop.Title
		}
		feed[i] = item
	}
	return feed, nil
}

func (s *Service) propsForTakes(ctx context.Context, list []domain.Take) (map[domain.PropID]domain.Prop, error) {
	seen := make(map[domain.PropID]bool)
	propIDs := make([]domain.PropID, 0, len(list))
	for _, take := range list {
		if !seen[take.PropID] {
			seen[take.PropID] = true
			propIDs = append(propIDs, take.PropID)
		}
	}
	return s.props.PropsByIDs(ctx, propIDs)
}
