// Package httpapi exposes the JSON REST handlers and translates HTTP
// requests into identity and take-ledger service calls.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/chrismeisner/makethetake/internal/app/identity"
	"github.com/chrismeisner/makethetake/internal/app/session"
	"github.com/chrismeisner/makethetake/internal/app/takes"
	"github.com/chrismeisner/makethetake/internal/domain"
	"github.com/chrismeisner/makethetake/internal/platform/metrics"
	"github.com/chrismeisner/makethetake/internal/platform/throttle"
)

// TakeService is the ledger surface the API consumes.
type TakeService interface {
	GetProp(ctx context.Context, id domain.PropID) (takes.PropDetail, error)
	ListProps(ctx context.Context) ([]takes.PropSummary, error)
	SubjectIDs(ctx context.Context) ([]string, error)
	RelatedProp(ctx context.Context, id domain.PropID) (domain.Prop, bool, error)
	CastVote(ctx context.Context, phoneE164 string, propID domain.PropID, side domain.Side) (takes.VoteResult, error)
	GetTake(ctx context.Context, id domain.TakeID) (takes.TakeDetail, error)
	Leaderboard(ctx context.Context, subjectID string) ([]domain.LeaderboardEntry, error)
	ProfileTakes(ctx context.Context, id domain.ProfileID) (takes.ProfileHistory, error)
	Feed(ctx context.Context, limit int) ([]takes.FeedItem, error)
}

// IdentityService is the verification/profile surface the API consumes.
type IdentityService interface {
	SendCode(ctx context.Context, phoneRaw, clientKey string) error
	VerifyCode(ctx context.Context, phoneRaw, code string) (domain.Profile, bool, error)
}

// API bundles the HTTP handlers with their services, session manager and
// logger.
type API struct {
	takes    TakeService
	identity IdentityService
	sessions *session.Manager
	logger   *slog.Logger
}

func New(takeSvc TakeService, identitySvc IdentityService, sessions *session.Manager, logger *slog.Logger) *API {
	return &API{takes: takeSvc, identity: identitySvc, sessions: sessions, logger: logger}
}

func (a *API) Register(mux *http.ServeMux) {
	// Routes stay centralized so tests and alternate servers can reuse them.
	mux.HandleFunc("GET /healthz", a.handleHealthz)
	mux.HandleFunc("POST /api/sendCode", a.sendCode)
	mux.HandleFunc("POST /api/verifyCode", a.verifyCode)
	mux.HandleFunc("GET /api/me", a.me)
	mux.HandleFunc("POST /api/logout", a.logout)
	mux.HandleFunc("GET /api/prop", a.getProp)
	mux.HandleFunc("POST /api/take", a.castTake)
	mux.HandleFunc("GET /api/takes/{takeID}", a.getTake)
	mux.HandleFunc("GET /api/leaderboard", a.leaderboard)
	mux.HandleFunc("GET /api/profile/{profileID}", a.profile)
	mux.HandleFunc("GET /api/props", a.listProps)
	mux.HandleFunc("GET /api/feed", a.feed)
	mux.HandleFunc("GET /api/subjectIDs", a.subjectIDs)
	mux.HandleFunc("GET /api/related-prop", a.relatedProp)
}

func (a *API) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type sendCodeRequest struct {
	Phone string `json:"phone"`
}

func (a *API) sendCode(w http.ResponseWriter, r *http.Request) {
	var req sendCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Phone == "" {
		metrics.ObserveOTPRequest("send", "invalid")
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: "Missing phone"})
		return
	}

	if err := a.identity.SendCode(r.Context(), req.Phone, clientIP(r)); err != nil {
		if errors.Is(err, throttle.ErrThrottled) {
			metrics.ObserveOTPRequest("send", "throttled")
			respondJSON(w, http.StatusTooManyRequests, errorResponse{Error: "Too many code requests, try again later"})
			return
		}
		metrics.ObserveOTPRequest("send", "error")
		a.logger.Error("send code failed", "err", err)
		respondJSON(w, http.StatusInternalServerError, errorResponse{Error: "Failed to send verification code"})
		return
	}

	metrics.ObserveOTPRequest("send", "ok")
	respondJSON(w, http.StatusOK, successResponse{Success: true})
}

type verifyCodeRequest struct {
	Phone string `json:"phone"`
	Code  string `json:"code"`
}

type verifyCodeResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func (a *API) verifyCode(w http.ResponseWriter, r *http.Request) {
	var req verifyCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Phone == "" || req.Code == "" {
		metrics.ObserveOTPRequest("check", "invalid")
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: "Missing phone or code"})
		return
	}

	profile, approved, err := a.identity.VerifyCode(r.Context(), req.Phone, req.Code)
	if err != nil {
		metrics.ObserveOTPRequest("check", "error")
		a.logger.Error("verify code failed", "err", err)
		respondJSON(w, http.StatusInternalServerError, errorResponse{Error: "Failed to verify code"})
		return
	}
	if !approved {
		metrics.ObserveOTPRequest("check", "rejected")
		respondJSON(w, http.StatusOK, verifyCodeResponse{Success: false, Error: "Invalid code"})
		return
	}

	if err := a.sessions.Issue(w, session.User{Phone: profile.Mobile, ProfileID: profile.ProfileID}); err != nil {
		a.logger.Error("session issue failed", "err", err)
		respondJSON(w, http.StatusInternalServerError, errorResponse{Error: "Could not establish session"})
		return
	}

	metrics.ObserveOTPRequest("check", "approved")
	respondJSON(w, http.StatusOK, verifyCodeResponse{Success: true})
}

type meResponse struct {
	LoggedIn bool          `json:"loggedIn"`
	User     *session.User `json:"user,omitempty"`
}

func (a *API) me(w http.ResponseWriter, r *http.Request) {
	if user, ok := a.sessions.Read(r); ok {
		respondJSON(w, http.StatusOK, meResponse{LoggedIn: true, User: &user})
		return
	}
	respondJSON(w, http.StatusOK, meResponse{LoggedIn: false})
}

func (a *API) logout(w http.ResponseWriter, r *http.Request) {
	a.sessions.Clear(w)
	respondJSON(w, http.StatusOK, successResponse{Success: true})
}

type propResponse struct {
	PropID       string `json:"propID"`
	PropTitle    string `json:"propTitle"`
	PropSummary  string `json:"propSummary"`
	PropLong     string `json:"propLong"`
	SideALabel   string `json:"sideALabel"`
	SideBLabel   string `json:"sideBLabel"`
	PropStatus   string `json:"propStatus"`
	SubjectID    string `json:"subjectID,omitempty"`
	SideACount   int64  `json:"sideACount"`
	SideBCount   int64  `json:"sideBCount"`
	PropSideAPct int    `json:"propSideAPct"`
	PropSideBPct int    `json:"propSideBPct"`
	CreatedAt    string `json:"createdAt"`
}

func makePropResponse(detail takes.PropDetail) propResponse {
	p := detail.Prop
	return propResponse{
		PropID:       string(p.PropID),
		PropTitle:    p.Title,
		PropSummary:  p.Summary,
		PropLong:     p.LongText,
		SideALabel:   p.SideALabel,
		SideBLabel:   p.SideBLabel,
		PropStatus:   string(p.Status),
		SubjectID:    p.SubjectID,
		SideACount:   detail.Tally.SideACount,
		SideBCount:   detail.Tally.SideBCount,
		PropSideAPct: detail.Tally.SideAPct,
		PropSideBPct: detail.Tally.SideBPct,
		CreatedAt:    p.CreatedAt.Format(time.RFC3339),
	}
}

func (a *API) getProp(w http.ResponseWriter, r *http.Request) {
	propID := r.URL.Query().Get("propID")
	if propID == "" {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: "Missing propID"})
		return
	}

	detail, err := a.takes.GetProp(r.Context(), domain.PropID(propID))
	if err != nil {
		a.respondError(w, err, "get prop", "prop", propID)
		return
	}

	respondJSON(w, http.StatusOK, makePropResponse(detail))
}

type takeRequest struct {
	TakeMobile string `json:"takeMobile"`
	PropID     string `json:"propID"`
	PropSide   string `json:"propSide"`
}

type takeResponse struct {
	Success    bool   `json:"success"`
	NewTakeID  string `json:"newTakeID"`
	SideACount int64  `json:"sideACount"`
	SideBCount int64  `json:"sideBCount"`
	Popularity int    `json:"takePopularity"`
}

func (a *API) castTake(w http.ResponseWriter, r *http.Request) {
	var req takeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		metrics.ObserveVoteRequest("invalid_payload")
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid payload"})
		return
	}

	// A verified session can stand in for an explicit takeMobile.
	if req.TakeMobile == "" {
		if user, ok := a.sessions.Read(r); ok {
			req.TakeMobile = user.Phone
		}
	}

	if req.TakeMobile == "" || req.PropID == "" || req.PropSide == "" {
		metrics.ObserveVoteRequest("invalid_payload")
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: "Missing required fields (takeMobile, propID, propSide)"})
		return
	}

	phone := identity.NormalizePhone(req.TakeMobile)

	result, err := a.takes.CastVote(r.Context(), phone, domain.PropID(req.PropID), domain.Side(req.PropSide))
	if err != nil {
		metrics.ObserveVoteRequest(voteStatusFromError(err))
		a.respondError(w, err, "cast take", "prop", req.PropID, "side", req.PropSide)
		return
	}

	metrics.ObserveVoteRequest("accepted")
	a.logger.Info("take recorded", "take", result.Take.TakeID, "prop", req.PropID, "side", req.PropSide)
	respondJSON(w, http.StatusOK, takeResponse{
		Success:    true,
		NewTakeID:  string(result.Take.TakeID),
		SideACount: result.SideACount,
		SideBCount: result.SideBCount,
		Popularity: result.Take.Popularity,
	})
}

type takeDTO struct {
	TakeID      string `json:"takeID"`
	PropID      string `json:"propID"`
	PropSide    string `json:"propSide"`
	TakeMobile  string `json:"takeMobile,omitempty"`
	Popularity  int    `json:"takePopularity"`
	TakeStatus  string `json:"takeStatus"`
	CreatedTime string `json:"createdTime"`
}

func makeTakeDTO(t domain.Take, includeMobile bool) takeDTO {
	dto := takeDTO{
		TakeID:      string(t.TakeID),
		PropID:      string(t.PropID),
		PropSide:    string(t.Side),
		Popularity:  t.Popularity,
		TakeStatus:  string(t.Status),
		CreatedTime: t.CreatedAt.Format(time.RFC3339),
	}
	if includeMobile {
		dto.TakeMobile = t.Mobile
	}
	return dto
}

type contentDTO struct {
	ContentTitle  string `json:"contentTitle"`
	ContentURL    string `json:"contentURL"`
	ContentSource string `json:"contentSource,omitempty"`
}

func makeContentDTOs(items []domain.ContentItem) []contentDTO {
	dtos := make([]contentDTO, len(items))
	for i, item := range items {
		dtos[i] = contentDTO{
			ContentTitle:  item.Title,
			ContentURL:    item.URL,
			ContentSource: item.Source,
		}
	}
	return dtos
}

type takeDetailResponse struct {
	Success    bool            `json:"success"`
	Take       takeDTO         `json:"take"`
	Prop       *propSummaryDTO `json:"prop"`
	Content    []contentDTO    `json:"content"`
	WasCorrect *bool           `json:"wasCorrect,omitempty"`
}

func (a *API) getTake(w http.ResponseWriter, r *http.Request) {
	takeID := r.PathValue("takeID")

	detail, err := a.takes.GetTake(r.Context(), domain.TakeID(takeID))
	if err != nil {
		a.respondError(w, err, "get take", "take", takeID)
		return
	}

	resp := takeDetailResponse{
		Success:    true,
		Take:       makeTakeDTO(detail.Take, true),
		Content:    makeContentDTOs(detail.Content),
		WasCorrect: detail.WasCorrect,
	}
	if detail.HasProp {
		dto := makePropSummaryDTO(takes.PropSummary{Prop: detail.Prop})
		resp.Prop = &dto
	}

	respondJSON(w, http.StatusOK, resp)
}

type leaderboardEntryDTO struct {
	Phone     string `json:"phone"`
	ProfileID string `json:"profileID,omitempty"`
	Count     int64  `json:"count"`
	Points    int64  `json:"points"`
}

type leaderboardResponse struct {
	Success     bool                  `json:"success"`
	Leaderboard []leaderboardEntryDTO `json:"leaderboard"`
}

func (a *API) leaderboard(w http.ResponseWriter, r *http.Request) {
	subjectID := r.URL.Query().Get("subjectID")

	entries, err := a.takes.Leaderboard(r.Context(), subjectID)
	if err != nil {
		a.respondError(w, err, "leaderboard", "subject", subjectID)
		return
	}

	dtos := make([]leaderboardEntryDTO, len(entries))
	for i, entry := range entries {
		dtos[i] = leaderboardEntryDTO{
			Phone:     entry.Mobile,
			ProfileID: string(entry.ProfileID),
			Count:     entry.TakeCount,
			Points:    entry.Points,
		}
	}
	respondJSON(w, http.StatusOK, leaderboardResponse{Success: true, Leaderboard: dtos})
}

type profileTakeDTO struct {
	takeDTO
	PropTitle string `json:"propTitle,omitempty"`
	SideLabel string `json:"sideLabel,omitempty"`
}

type profileResponse struct {
	Success    bool             `json:"success"`
	Profile    profileDTO       `json:"profile"`
	TotalTakes int              `json:"totalTakes"`
	UserTakes  []profileTakeDTO `json:"userTakes"`
}

type profileDTO struct {
	ProfileID     string `json:"profileID"`
	ProfileMobile string `json:"profileMobile"`
	Username      string `json:"profileUsername,omitempty"`
	CreatedTime   string `json:"createdTime"`
}

func (a *API) profile(w http.ResponseWriter, r *http.Request) {
	profileID := r.PathValue("profileID")

	history, err := a.takes.ProfileTakes(r.Context(), domain.ProfileID(profileID))
	if err != nil {
		a.respondError(w, err, "get profile", "profile", profileID)
		return
	}

	userTakes := make([]profileTakeDTO, len(history.Takes))
	for i, item := range history.Takes {
		userTakes[i] = profileTakeDTO{
			takeDTO:   makeTakeDTO(item.Take, false),
			PropTitle: item.PropTitle,
			SideLabel: item.SideLabel,
		}
	}

	respondJSON(w, http.StatusOK, profileResponse{
		Success: true,
		Profile: profileDTO{
			ProfileID:     string(history.Profile.ProfileID),
			ProfileMobile: history.Profile.Mobile,
			Username:      history.Profile.Username,
			CreatedTime:   history.Profile.CreatedAt.Format(time.RFC3339),
		},
		TotalTakes: history.TotalTakes,
		UserTakes:  userTakes,
	})
}

type propSummaryDTO struct {
	PropID         string       `json:"propID"`
	PropTitle      string       `json:"propTitle"`
	PropSummary    string       `json:"propSummary"`
	PropLong       string       `json:"propLong,omitempty"`
	PropStatus     string       `json:"propStatus"`
	SideALabel     string       `json:"sideALabel"`
	SideBLabel     string       `json:"sideBLabel"`
	CreatedAt      string       `json:"createdAt"`
	SubjectID      string       `json:"subjectID,omitempty"`
	SubjectTitle   string       `json:"subjectTitle,omitempty"`
	SubjectLogoURL string       `json:"subjectLogoUrl,omitempty"`
	Content        []contentDTO `json:"content"`
}

func makePropSummaryDTO(summary takes.PropSummary) propSummaryDTO {
	p := summary.Prop
	return propSummaryDTO{
		PropID:         string(p.PropID),
		PropTitle:      p.Title,
		PropSummary:    p.Summary,
		PropLong:       p.LongText,
		PropStatus:     string(p.Status),
		SideALabel:     p.SideALabel,
		SideBLabel:     p.SideBLabel,
		CreatedAt:      p.CreatedAt.Format(time.RFC3339),
		SubjectID:      p.SubjectID,
		SubjectTitle:   summary.SubjectTitle,
		SubjectLogoURL: summary.SubjectLogoURL,
		Content:        makeContentDTOs(summary.Content),
	}
}

type propsResponse struct {
	Success bool             `json:"success"`
	Props   []propSummaryDTO `json:"props"`
}

func (a *API) listProps(w http.ResponseWriter, r *http.Request) {
	summaries, err := a.takes.ListProps(r.Context())
	if err != nil {
		a.respondError(w, err, "list props")
		return
	}

	dtos := make([]propSummaryDTO, len(summaries))
	for i, summary := range summaries {
		dtos[i] = makePropSummaryDTO(summary)
	}
	respondJSON(w, http.StatusOK, propsResponse{Success: true, Props: dtos})
}

type feedItemDTO struct {
	takeDTO
	PropTitle string `json:"propTitle,omitempty"`
}

type feedResponse struct {
	Success bool          `json:"success"`
	Feed    []feedItemDTO `json:"feed"`
}

func (a *API) feed(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}

	items, err := a.takes.Feed(r.Context(), limit)
	if err != nil {
		a.respondError(w, err, "feed")
		return
	}

	dtos := make([]feedItemDTO, len(items))
	for i, item := range items {
		dtos[i] = feedItemDTO{
			takeDTO:   makeTakeDTO(item.Take, false),
			PropTitle: item.PropTitle,
		}
	}
	respondJSON(w, http.StatusOK, feedResponse{Success: true, Feed: dtos})
}

type subjectIDsResponse struct {
	Success    bool     `json:"success"`
	SubjectIDs []string `json:"subjectIDs"`
}

func (a *API) subjectIDs(w http.ResponseWriter, r *http.Request) {
	subjectIDs, err := a.takes.SubjectIDs(r.Context())
	if err != nil {
		a.respondError(w, err, "subject ids")
		return
	}
	respondJSON(w, http.StatusOK, subjectIDsResponse{Success: true, SubjectIDs: subjectIDs})
}

type relatedPropResponse struct {
	Success     bool            `json:"success"`
	RelatedProp *propSummaryDTO `json:"relatedProp"`
}

func (a *API) relatedProp(w http.ResponseWriter, r *http.Request) {
	propID := r.URL.Query().Get("propID")
	if propID == "" {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: "Missing propID"})
		return
	}

	related, ok, err := a.takes.RelatedProp(r.Context(), domain.PropID(propID))
	if err != nil {
		a.respondError(w, err, "related prop", "prop", propID)
		return
	}

	resp := relatedPropResponse{Success: true}
	if ok {
		dto := makePropSummaryDTO(takes.PropSummary{Prop: related})
		resp.RelatedProp = &dto
	}
	respondJSON(w, http.StatusOK, resp)
}

type successResponse struct {
	Success bool `json:"success"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// respondError maps service errors to the documented taxonomy: not-found
// 404, policy and validation 400, throttle 429, everything else a generic
// 500 with details logged server-side only.
func (a *API) respondError(w http.ResponseWriter, err error, op string, args ...any) {
	switch {
	case errors.Is(err, takes.ErrPropNotFound):
		respondJSON(w, http.StatusNotFound, errorResponse{Error: "Prop not found"})
	case errors.Is(err, takes.ErrTakeNotFound):
		respondJSON(w, http.StatusNotFound, errorResponse{Error: "Take not found"})
	case errors.Is(err, takes.ErrProfileNotFound):
		respondJSON(w, http.StatusNotFound, errorResponse{Error: "Profile not found"})
	case errors.Is(err, takes.ErrPropNotOpen):
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, takes.ErrInvalidSide):
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, throttle.ErrThrottled):
		respondJSON(w, http.StatusTooManyRequests, errorResponse{Error: "Too many requests"})
	default:
		a.logger.Error(op+" failed", append([]any{"err", err}, args...)...)
		respondJSON(w, http.StatusInternalServerError, errorResponse{Error: "Something went wrong"})
	}
}

func voteStatusFromError(err error) string {
	switch {
	case errors.Is(err, takes.ErrPropNotOpen):
		return "closed"
	case errors.Is(err, takes.ErrPropNotFound):
		return "not_found"
	case errors.Is(err, takes.ErrInvalidSide):
		return "invalid"
	default:
		return "error"
	}
}

func clientIP(r *http.Request) string {
	if xf := r.Header.Get("X-Forwarded-For"); xf != "" {
		parts := strings.Split(xf, ",")
		if len(parts) > 0 {
			return strings.TrimSpace(parts[0])
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}
