package takes

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/chrismeisner/makethetake/internal/domain"
	"github.com/chrismeisner/makethetake/internal/platform/ids"
)

type serviceDeps struct {
	propRepo *memPropRepo
	takeRepo *memTakeRepo
	profiles *memProfiles
	counter  *memCounter
	outbox   *recordingOutbox
	clock    *staticClock
	baseTime time.Time
}

func newServiceDeps() *serviceDeps {
	base := time.Date(2026, 3, 10, 18, 0, 0, 0, time.UTC)
	return &serviceDeps{
		propRepo: newMemPropRepo(),
		takeRepo: &memTakeRepo{},
		profiles: newMemProfiles(),
		counter:  &memCounter{values: make(map[string]int64)},
		outbox:   &recordingOutbox{},
		clock:    &staticClock{now: base},
		baseTime: base,
	}
}

func newTestService(deps *serviceDeps) *Service {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	return NewService(
		deps.propRepo,
		deps.takeRepo,
		deps.profiles,
		deps.counter,
		deps.outbox,
		deps.clock,
		ids.NewGenerator(),
		"https://makethetake.test",
		logger,
	)
}

func openProp(deps *serviceDeps, propID string) domain.Prop {
	prop := domain.Prop{
		ID:         domain.RecordID(ids.NewULID()),
		PropID:     domain.PropID(propID),
		Title:      "Will it rain tomorrow?",
		SideALabel: "Yes",
		SideBLabel: "No",
		Status:     domain.PropStatusOpen,
		CreatedAt:  deps.baseTime,
	}
	deps.propRepo.props[prop.PropID] = prop
	return prop
}

func TestCastVote_FirstVote_RecordsTakeWithSmoothedPopularity(t *testing.T) {
	deps := newServiceDeps()
	service := newTestService(deps)
	openProp(deps, "rain-tomorrow")

	result, err := service.CastVote(context.Background(), "+15551230001", "rain-tomorrow", domain.SideA)
	if err != nil {
		t.Fatalf("CastVote returned unexpected error: %v", err)
	}

	if result.Take.TakeID == "" {
		t.Fatal("take ID must not be empty")
	}
	if result.SideACount != 1 || result.SideBCount != 0 {
		t.Fatalf("expected counts 1/0, got %d/%d", result.SideACount, result.SideBCount)
	}
	// One real vote against zero still reads 67/33 thanks to smoothing.
	if result.Take.Popularity != 67 {
		t.Fatalf("expected popularity 67, got %d", result.Take.Popularity)
	}
	if result.Take.Status != domain.TakeStatusLatest {
		t.Fatalf("new take should be latest, got %q", result.Take.Status)
	}
	if !result.Take.CreatedAt.Equal(deps.baseTime) {
		t.Fatalf("take should carry the service clock time, got %v", result.Take.CreatedAt)
	}
}

func TestCastVote_FirstVote_EnqueuesConfirmationSMS(t *testing.T) {
	deps := newServiceDeps()
	service := newTestService(deps)
	openProp(deps, "rain-tomorrow")

	result, err := service.CastVote(context.Background(), "+15551230001", "rain-tomorrow", domain.SideB)
	if err != nil {
		t.Fatalf("CastVote returned unexpected error: %v", err)
	}

	if len(deps.outbox.messages) != 1 {
		t.Fatalf("expected 1 queued sms, got %d", len(deps.outbox.messages))
	}
	msg := deps.outbox.messages[0]
	if msg.To != "+15551230001" {
		t.Fatalf("sms addressed to %q, expected the voter", msg.To)
	}
	wantLink := "https://makethetake.test/takes/" + string(result.Take.TakeID)
	if !bytes.Contains([]byte(msg.Body), []byte(wantLink)) {
		t.Fatalf("sms body %q should contain permalink %q", msg.Body, wantLink)
	}
}

func TestCastVote_Revote_SupersedesPriorTake(t *testing.T) {
	deps := newServiceDeps()
	service := newTestService(deps)
	openProp(deps, "rain-tomorrow")
	ctx := context.Background()

	first, err := service.CastVote(ctx, "+15551230001", "rain-tomorrow", domain.SideA)
	if err != nil {
		t.Fatalf("first vote failed: %v", err)
	}
	second, err := service.CastVote(ctx, "+15551230001", "rain-tomorrow", domain.SideB)
	if err != nil {
		t.Fatalf("second vote failed: %v", err)
	}

	// The flip must not inflate the tally: one voter, one counted take.
	if second.SideACount != 0 || second.SideBCount != 1 {
		t.Fatalf("expected counts 0/1 after flip, got %d/%d", second.SideACount, second.SideBCount)
	}

	var latest, overwritten int
	for _, take := range deps.takeRepo.list {
		switch take.Status {
		case domain.TakeStatusLatest:
			latest++
		case domain.TakeStatusOverwritten:
			overwritten++
			if take.TakeID != first.Take.TakeID {
				t.Fatalf("the overwritten take should be the first one, got %s", take.TakeID)
			}
		}
	}
	if latest != 1 || overwritten != 1 {
		t.Fatalf("expected exactly 1 latest and 1 overwritten, got %d/%d", latest, overwritten)
	}
}

func TestCastVote_Revote_WhenInsertFails_KeepsPriorTakeLatest(t *testing.T) {
	deps := newServiceDeps()
	service := newTestService(deps)
	openProp(deps, "rain-tomorrow")
	ctx := context.Background()

	first, err := service.CastVote(ctx, "+15551230001", "rain-tomorrow", domain.SideA)
	if err != nil {
		t.Fatalf("first vote failed: %v", err)
	}

	deps.takeRepo.insertErr = errors.New("insert failed")
	if _, err := service.CastVote(ctx, "+15551230001", "rain-tomorrow", domain.SideB); err == nil {
		t.Fatal("expected the failed revote to surface an error")
	}

	// The failed flip must not erase the voter's standing vote.
	latest, err := deps.takeRepo.FindLatest(ctx, first.Take.ProfileID, "rain-tomorrow")
	if err != nil {
		t.Fatalf("prior take lost after failed revote: %v", err)
	}
	if latest.TakeID != first.Take.TakeID || latest.Side != domain.SideA {
		t.Fatalf("expected the first take to stay latest, got %s side %s", latest.TakeID, latest.Side)
	}
}

func TestCastVote_WhenPropNotOpen_RejectsVote(t *testing.T) {
	deps := newServiceDeps()
	service := newTestService(deps)
	ctx := context.Background()

	for _, status := range []domain.PropStatus{
		domain.PropStatusClosed,
		domain.PropStatusGradedA,
		domain.PropStatusGradedB,
		domain.PropStatusArchived,
	} {
		prop := openProp(deps, "prop-"+string(status))
		prop.Status = status
		deps.propRepo.props[prop.PropID] = prop

		_, err := service.CastVote(ctx, "+15551230001", prop.PropID, domain.SideA)
		if !errors.Is(err, ErrPropNotOpen) {
			t.Fatalf("status %q: expected ErrPropNotOpen, got %v", status, err)
		}
	}

	if len(deps.takeRepo.list) != 0 {
		t.Fatalf("no take should be stored for a non-open prop, got %d", len(deps.takeRepo.list))
	}
}

func TestCastVote_Validation(t *testing.T) {
	deps := newServiceDeps()
	service := newTestService(deps)
	openProp(deps, "rain-tomorrow")
	ctx := context.Background()

	_, err := service.CastVote(ctx, "+15551230001", "missing-prop", domain.SideA)
	if !errors.Is(err, ErrPropNotFound) {
		t.Fatalf("expected ErrPropNotFound, got %v", err)
	}

	_, err = service.CastVote(ctx, "+15551230001", "rain-tomorrow", domain.Side("C"))
	if !errors.Is(err, ErrInvalidSide) {
		t.Fatalf("expected ErrInvalidSide, got %v", err)
	}
}

func TestGetProp_TallyExcludesOverwrittenTakes(t *testing.T) {
	deps := newServiceDeps()
	service := newTestService(deps)
	openProp(deps, "rain-tomorrow")
	ctx := context.Background()

	voters := []string{"+15551230001", "+15551230002", "+15551230003"}
	for _, phone := range voters {
		if _, err := service.CastVote(ctx, phone, "rain-tomorrow", domain.SideA); err != nil {
			t.Fatalf("vote for %s failed: %v", phone, err)
		}
	}
	// One voter flips; the total must stay at 3.
	if _, err := service.CastVote(ctx, voters[0], "rain-tomorrow", domain.SideB); err != nil {
		t.Fatalf("flip vote failed: %v", err)
	}

	detail, err := service.GetProp(ctx, "rain-tomorrow")
	if err != nil {
		t.Fatalf("GetProp failed: %v", err)
	}
	if detail.Tally.SideACount != 2 || detail.Tally.SideBCount != 1 {
		t.Fatalf("expected tally 2/1, got %d/%d", detail.Tally.SideACount, detail.Tally.SideBCount)
	}
	if detail.Tally.SideAPct != 60 || detail.Tally.SideBPct != 40 {
		t.Fatalf("expected 60/40, got %d/%d", detail.Tally.SideAPct, detail.Tally.SideBPct)
	}
}

func TestGetTake_AfterGrading_ReportsVerdict(t *testing.T) {
	deps := newServiceDeps()
	service := newTestService(deps)
	prop := openProp(deps, "rain-tomorrow")
	ctx := context.Background()

	result, err := service.CastVote(ctx, "+15551230001", "rain-tomorrow", domain.SideA)
	if err != nil {
		t.Fatalf("vote failed: %v", err)
	}

	detail, err := service.GetTake(ctx, result.Take.TakeID)
	if err != nil {
		t.Fatalf("GetTake failed: %v", err)
	}
	if detail.WasCorrect != nil {
		t.Fatal("verdict must be absent before grading")
	}

	prop.Status = domain.PropStatusGradedB
	deps.propRepo.props[prop.PropID] = prop

	detail, err = service.GetTake(ctx, result.Take.TakeID)
	if err != nil {
		t.Fatalf("GetTake after grading failed: %v", err)
	}
	if detail.WasCorrect == nil || *detail.WasCorrect {
		t.Fatalf("side A take on a gradedB prop must be wrong, got %v", detail.WasCorrect)
	}
}

func TestFeed_IncludesOverwrittenTakes(t *testing.T) {
	deps := newServiceDeps()
	service := newTestService(deps)
	openProp(deps, "rain-tomorrow")
	ctx := context.Background()

	if _, err := service.CastVote(ctx, "+15551230001", "rain-tomorrow", domain.SideA); err != nil {
		t.Fatalf("first vote failed: %v", err)
	}
	if _, err := service.CastVote(ctx, "+15551230001", "rain-tomorrow", domain.SideB); err != nil {
		t.Fatalf("flip vote failed: %v", err)
	}

	feed, err := service.Feed(ctx, 10)
	if err != nil {
		t.Fatalf("Feed failed: %v", err)
	}
	// The feed shows activity, so both the old and the new take appear.
	if len(feed) != 2 {
		t.Fatalf("expected 2 feed items, got %d", len(feed))
	}
	for _, item := range feed {
		if item.PropTitle != "Will it rain tomorrow?" {
			t.Fatalf("feed item missing prop title, got %q", item.PropTitle)
		}
	}
}

func TestProfileTakes_EnrichesTitlesAndLabels(t *testing.T) {
	deps := newServiceDeps()
	service := newTestService(deps)
	openProp(deps, "rain-tomorrow")
	ctx := context.Background()

	result, err := service.CastVote(ctx, "+15551230001", "rain-tomorrow", domain.SideA)
	if err != nil {
		t.Fatalf("vote failed: %v", err)
	}

	profile := deps.profiles.byMobile["+15551230001"]
	history, err := service.ProfileTakes(ctx, profile.ProfileID)
	if err != nil {
		t.Fatalf("ProfileTakes failed: %v", err)
	}

	if history.TotalTakes != 1 {
		t.Fatalf("expected 1 take, got %d", history.TotalTakes)
	}
	entry := history.Takes[0]
	if entry.Take.TakeID != result.Take.TakeID {
		t.Fatalf("history returned wrong take %s", entry.Take.TakeID)
	}
	if entry.PropTitle != "Will it rain tomorrow?" || entry.SideLabel != "Yes" {
		t.Fatalf("expected enriched title and label, got %q / %q", entry.PropTitle, entry.SideLabel)
	}
}

func TestProfileTakes_UnknownProfile(t *testing.T) {
	deps := newServiceDeps()
	service := newTestService(deps)

	_, err := service.ProfileTakes(context.Background(), "NOPE1234")
	if !errors.Is(err, ErrProfileNotFound) {
		t.Fatalf("expected ErrProfileNotFound, got %v", err)
	}
}

func TestRelatedProp_WithoutSubject_ReturnsNone(t *testing.T) {
	deps := newServiceDeps()
	service := newTestService(deps)
	openProp(deps, "rain-tomorrow")

	_, ok, err := service.RelatedProp(context.Background(), "rain-tomorrow")
	if err != nil {
		t.Fatalf("RelatedProp failed: %v", err)
	}
	if ok {
		t.Fatal("a prop without subject has no related prop")
	}
}

// --- in-memory fakes ---

func newMemPropRepo() *memPropRepo {
	return &memPropRepo{
		props:    make(map[domain.PropID]domain.Prop),
		subjects: make(map[string]domain.Subject),
		content:  make(map[domain.PropID][]domain.ContentItem),
	}
}

type memPropRepo struct {
	props    map[domain.PropID]domain.Prop
	subjects map[string]domain.Subject
	content  map[domain.PropID][]domain.ContentItem
}

func (m *memPropRepo) FindByPropID(_ context.Context, id domain.PropID) (domain.Prop, error) {
	prop, ok := m.props[id]
	if !ok {
		return domain.Prop{}, domain.ErrNotFound
	}
	return prop, nil
}

func (m *memPropRepo) List(context.Context) ([]domain.Prop, error) {
	var result []domain.Prop
	for _, prop := range m.props {
		if prop.Status != domain.PropStatusArchived {
			result = append(result, prop)
		}
	}
	return result, nil
}

func (m *memPropRepo) PropsByIDs(_ context.Context, ids []domain.PropID) (map[domain.PropID]domain.Prop, error) {
	result := make(map[domain.PropID]domain.Prop, len(ids))
	for _, id := range ids {
		if prop, ok := m.props[id]; ok {
			result[id] = prop
		}
	}
	return result, nil
}

func (m *memPropRepo) ListSubjectIDs(context.Context) ([]string, error) {
	seen := make(map[string]bool)
	var result []string
	for _, prop := range m.props {
		if prop.SubjectID != "" && !seen[prop.SubjectID] {
			seen[prop.SubjectID] = true
			result = append(result, prop.SubjectID)
		}
	}
	return result, nil
}

func (m *memPropRepo) FindRelated(_ context.Context, subjectID string, exclude domain.PropID) (domain.Prop, error) {
	if subjectID == "" {
		return domain.Prop{}, domain.ErrNotFound
	}
	for _, prop := range m.props {
		if prop.SubjectID == subjectID && prop.PropID != exclude && prop.Status == domain.PropStatusOpen {
			return prop, nil
		}
	}
	return domain.Prop{}, domain.ErrNotFound
}

func (m *memPropRepo) SubjectsByIDs(_ context.Context, subjectIDs []string) (map[string]domain.Subject, error) {
	result := make(map[string]domain.Subject, len(subjectIDs))
	for _, id := range subjectIDs {
		if subject, ok := m.subjects[id]; ok {
			result[id] = subject
		}
	}
	return result, nil
}

func (m *memPropRepo) ContentByPropIDs(_ context.Context, propIDs []domain.PropID) (map[domain.PropID][]domain.ContentItem, error) {
	result := make(map[domain.PropID][]domain.ContentItem, len(propIDs))
	for _, id := range propIDs {
		if items, ok := m.content[id]; ok {
			result[id] = items
		}
	}
	return result, nil
}

type memTakeRepo struct {
	list      []domain.Take
	insertErr error
}

func (m *memTakeRepo) Create(_ context.Context, t domain.Take) error {
	if m.insertErr != nil {
		return m.insertErr
	}
	m.list = append(m.list, t)
	return nil
}

func (m *memTakeRepo) FindByTakeID(_ context.Context, id domain.TakeID) (domain.Take, error) {
	for _, take := range m.list {
		if take.TakeID == id {
			return take, nil
		}
	}
	return domain.Take{}, domain.ErrNotFound
}

func (m *memTakeRepo) FindLatest(_ context.Context, profileID domain.RecordID, propID domain.PropID) (domain.Take, error) {
	for _, take := range m.list {
		if take.ProfileID == profileID && take.PropID == propID && take.Status == domain.TakeStatusLatest {
			return take, nil
		}
	}
	return domain.Take{}, domain.ErrNotFound
}

func (m *memTakeRepo) Supersede(_ context.Context, prevID domain.RecordID, t domain.Take) error {
	// Flip and insert together, like the transactional repository.
	if m.insertErr != nil {
		return m.insertErr
	}
	for i, take := range m.list {
		if take.ID == prevID {
			m.list[i].Status = domain.TakeStatusOverwritten
			m.list = append(m.list, t)
			return nil
		}
	}
	return domain.ErrNotFound
}

func (m *memTakeRepo) CountSides(_ context.Context, propID domain.PropID) (int64, int64, error) {
	var sideA, sideB int64
	for _, take := range m.list {
		if take.PropID != propID || take.Status == domain.TakeStatusOverwritten {
			continue
		}
		if take.Side == domain.SideA {
			sideA++
		} else {
			sideB++
		}
	}
	return sideA, sideB, nil
}

func (m *memTakeRepo) ListByProfile(_ context.Context, profileID domain.RecordID) ([]domain.Take, error) {
	var result []domain.Take
	for _, take := range m.list {
		if take.ProfileID == profileID && take.Status != domain.TakeStatusOverwritten {
			result = append(result, take)
		}
	}
	return result, nil
}

func (m *memTakeRepo) ListRecent(_ context.Context, limit int) ([]domain.Take, error) {
	result := make([]domain.Take, 0, limit)
	for i := len(m.list) - 1; i >= 0 && len(result) < limit; i-- {
		result = append(result, m.list[i])
	}
	return result, nil
}

func (m *memTakeRepo) Leaderboard(_ context.Context, _ string) ([]domain.LeaderboardEntry, error) {
	byMobile := make(map[string]*domain.LeaderboardEntry)
	var order []string
	for _, take := range m.list {
		if take.Status == domain.TakeStatusOverwritten {
			continue
		}
		entry, ok := byMobile[take.Mobile]
		if !ok {
			entry = &domain.LeaderboardEntry{Mobile: take.Mobile}
			byMobile[take.Mobile] = entry
			order = append(order, take.Mobile)
		}
		entry.TakeCount++
		entry.Points += take.Points
	}
	result := make([]domain.LeaderboardEntry, 0, len(order))
	for _, mobile := range order {
		result = append(result, *byMobile[mobile])
	}
	return result, nil
}

func newMemProfiles() *memProfiles {
	return &memProfiles{byMobile: make(map[string]domain.Profile)}
}

type memProfiles struct {
	byMobile map[string]domain.Profile
	seq      int
}

func (m *memProfiles) EnsureProfile(_ context.Context, phoneE164 string) (domain.Profile, error) {
	if profile, ok := m.byMobile[phoneE164]; ok {
		return profile, nil
	}
	m.seq++
	profile := domain.Profile{
		ID:        domain.RecordID(ids.NewULID()),
		ProfileID: domain.ProfileID(fmt.Sprintf("PROF%04d", m.seq)),
		Mobile:    phoneE164,
	}
	m.byMobile[phoneE164] = profile
	return profile, nil
}

func (m *memProfiles) ProfileByID(_ context.Context, id domain.ProfileID) (domain.Profile, error) {
	for _, profile := range m.byMobile {
		if profile.ProfileID == id {
			return profile, nil
		}
	}
	return domain.Profile{}, domain.ErrNotFound
}

type memCounter struct {
	values map[string]int64
}

func (m *memCounter) IncrBy(_ context.Context, key string, delta int64) (int64, error) {
	m.values[key] += delta
	return m.values[key], nil
}

func (m *memCounter) Get(_ context.Context, key string) (int64, error) {
	return m.values[key], nil
}

func (m *memCounter) GetAll(_ context.Context, keys []string) (map[string]int64, error) {
	result := make(map[string]int64, len(keys))
	for _, key := range keys {
		result[key] = m.values[key]
	}
	return result, nil
}

type recordingOutbox struct {
	messages []domain.SMSMessage
}

func (r *recordingOutbox) Publish(_ context.Context, msg domain.SMSMessage) error {
	r.messages = append(r.messages, msg)
	return nil
}

func (r *recordingOutbox) Consume(context.Context, func(context.Context, domain.SMSMessage) error) error {
	return nil
}

type staticClock struct {
	now time.Time
}

func (s *staticClock) Now() time.Time {
	return s.now
}
