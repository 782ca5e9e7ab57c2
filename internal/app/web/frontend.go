// Package web is the server-rendered HTML layer: prop pages, phone login,
// take permalinks, leaderboard, profiles and the activity feed.
package web

import (
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/chrismeisner/makethetake/internal/app/identity"
	"github.com/chrismeisner/makethetake/internal/app/session"
	"github.com/chrismeisner/makethetake/internal/app/takes"
	"github.com/chrismeisner/makethetake/internal/domain"
	"github.com/chrismeisner/makethetake/internal/platform/throttle"
)

//go:embed templates/*.gohtml
var templateFS embed.FS

// Frontend renders the Go templates behind the voting, login and lookup
// screens.
type Frontend struct {
	templates *template.Template
	takes     *takes.Service
	identity  *identity.Service
	sessions  *session.Manager
}

// New loads the embedded templates and wires the services the pages call.
func New(takeSvc *takes.Service, identitySvc *identity.Service, sessions *session.Manager) (*Frontend, error) {
	if takeSvc == nil || identitySvc == nil || sessions == nil {
		return nil, fmt.Errorf("frontend: missing service dependencies")
	}
	tmpl, err := template.ParseFS(templateFS,
		"templates/layout.gohtml",
		"templates/home.gohtml",
		"templates/prop.gohtml",
		"templates/login.gohtml",
		"templates/take.gohtml",
		"templates/leaderboard.gohtml",
		"templates/profile.gohtml",
		"templates/feed.gohtml",
	)
	if err != nil {
		return nil, err
	}

	for _, name := range []string{"home_body", "prop_body", "login_body", "take_body", "leaderboard_body", "profile_body", "feed_body", "layout"} {
		if tmpl.Lookup(name) == nil {
			return nil, fmt.Errorf("frontend: template %s not found", name)
		}
	}

	return &Frontend{templates: tmpl, takes: takeSvc, identity: identitySvc, sessions: sessions}, nil
}

// Register mounts the HTML routes on the same mux as the API.
func (f *Frontend) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", f.handleHome)
	mux.HandleFunc("GET /props/{propID}", f.handleProp)
	mux.HandleFunc("POST /props/{propID}", f.handleProp)
	mux.HandleFunc("GET /login", f.handleLogin)
	mux.HandleFunc("POST /login", f.handleLogin)
	mux.HandleFunc("GET /logout", f.handleLogout)
	mux.HandleFunc("GET /takes/{takeID}", f.handleTake)
	mux.HandleFunc("GET /leaderboard", f.handleLeaderboard)
	mux.HandleFunc("GET /profile/{profileID}", f.handleProfile)
	mux.HandleFunc("GET /feed", f.handleFeed)
}

type sessionView struct {
	LoggedIn  bool
	Phone     string
	ProfileID string
}

func (f *Frontend) sessionView(r *http.Request) sessionView {
	user, ok := f.sessions.Read(r)
	if !ok {
		return sessionView{}
	}
	return sessionView{LoggedIn: true, Phone: user.Phone, ProfileID: string(user.ProfileID)}
}

type homePageData struct {
	Session sessionView
	Props   []propCardView
	Error   string
}

type propCardView struct {
	PropID       string
	Title        string
	Summary      string
	Status       string
	SideALabel   string
	SideBLabel   string
	SubjectTitle string
	Open         bool
}

func (f *Frontend) handleHome(w http.ResponseWriter, r *http.Request) {
	data := homePageData{Session: f.sessionView(r)}

	summaries, err := f.takes.ListProps(r.Context())
	if err != nil {
		data.Error = "Could not load props right now."
	} else {
		data.Props = makePropCards(summaries)
	}

	f.render(w, "home_body", data)
}

type propPageData struct {
	Session    sessionView
	Prop       propCardView
	LongText   string
	SideACount int64
	SideBCount int64
	SideAPct   int
	SideBPct   int
	Related    *propCardView
	Error      string
}

func (f *Frontend) handleProp(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	propID := domain.PropID(r.PathValue("propID"))
	data := propPageData{Session: f.sessionView(r)}

	if r.Method == http.MethodPost {
		if !data.Session.LoggedIn {
			http.Redirect(w, r, "/login?next="+url.QueryEscape("/props/"+string(propID)), http.StatusSeeOther)
			return
		}
		if err := r.ParseForm(); err != nil {
			data.Error = "Could not read the submitted form. Try again."
		} else {
			side := domain.Side(strings.TrimSpace(r.FormValue("side")))
			result, err := f.takes.CastVote(ctx, data.Session.Phone, propID, side)
			if err != nil {
				data.Error = translateVoteError(err)
			} else {
				http.Redirect(w, r, "/takes/"+string(result.Take.TakeID), http.StatusSeeOther)
				return
			}
		}
	}

	detail, err := f.takes.GetProp(ctx, propID)
	if err != nil {
		if errors.Is(err, takes.ErrPropNotFound) {
			http.NotFound(w, r)
			return
		}
		data.Error = "Could not load this prop."
		f.render(w, "prop_body", data)
		return
	}

	data.Prop = makePropCard(takes.PropSummary{Prop: detail.Prop})
	data.LongText = detail.Prop.LongText
	data.SideACount = detail.Tally.SideACount
	data.SideBCount = detail.Tally.SideBCount
	data.SideAPct = detail.Tally.SideAPct
	data.SideBPct = detail.Tally.SideBPct

	if related, ok, err := f.takes.RelatedProp(ctx, propID); err == nil && ok {
		card := makePropCard(takes.PropSummary{Prop: related})
		data.Related = &card
	}

	f.render(w, "prop_body", data)
}

type loginPageData struct {
	Session  sessionView
	Phone    string
	CodeSent bool
	Next     string
	Error    string
}

func (f *Frontend) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	next := sanitizeNext(r.URL.Query().Get("next"))
	data := loginPageData{Session: f.sessionView(r), Next: next}

	if data.Session.LoggedIn {
		http.Redirect(w, r, next, http.StatusSeeOther)
		return
	}

	if r.Method == http.MethodPost {
		if err := r.ParseForm(); err != nil {
			data.Error = "Could not read the submitted form. Try again."
			f.render(w, "login_body", data)
			return
		}

		data.Phone = strings.TrimSpace(r.PostFormValue("phone"))
		data.Next = sanitizeNext(r.PostFormValue("next"))
		code := strings.TrimSpace(r.PostFormValue("code"))

		switch {
		case data.Phone == "":
			data.Error = "Enter your phone number."
		case code == "":
			if err := f.identity.SendCode(ctx, data.Phone, clientIP(r)); err != nil {
				if errors.Is(err, throttle.ErrThrottled) {
					data.Error = "Too many code requests. Wait a bit and try again."
				} else {
					data.Error = "Could not send the verification code."
				}
			} else {
				data.CodeSent = true
			}
		default:
			profile, approved, err := f.identity.VerifyCode(ctx, data.Phone, code)
			if err != nil {
				data.Error = "Could not verify the code."
				data.CodeSent = true
			} else if !approved {
				data.Error = "That code did not match. Try again."
				data.CodeSent = true
			} else if err := f.sessions.Issue(w, session.User{Phone: profile.Mobile, ProfileID: profile.ProfileID}); err != nil {
				data.Error = "Could not establish your session."
			} else {
				http.Redirect(w, r, data.Next, http.StatusSeeOther)
				return
			}
		}
	}

	f.render(w, "login_body", data)
}

func (f *Frontend) handleLogout(w http.ResponseWriter, r *http.Request) {
	f.sessions.Clear(w)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

type takePageData struct {
	Session    sessionView
	TakeID     string
	SideLabel  string
	Popularity int
	Status     string
	CreatedAt  string
	Prop       *propCardView
	HasVerdict bool
	WasCorrect bool
	Error      string
}

func (f *Frontend) handleTake(w http.ResponseWriter, r *http.Request) {
	takeID := domain.TakeID(r.PathValue("takeID"))
	data := takePageData{Session: f.sessionView(r)}

	detail, err := f.takes.GetTake(r.Context(), takeID)
	if err != nil {
		if errors.Is(err, takes.ErrTakeNotFound) {
			http.NotFound(w, r)
			return
		}
		data.Error = "Could not load this take."
		f.render(w, "take_body", data)
		return
	}

	data.TakeID = string(detail.Take.TakeID)
	data.Popularity = detail.Take.Popularity
	data.Status = string(detail.Take.Status)
	data.CreatedAt = formatDateTime(detail.Take.CreatedAt)
	if detail.HasProp {
		card := makePropCard(takes.PropSummary{Prop: detail.Prop})
		data.Prop = &card
		data.SideLabel = sideLabel(detail.Prop, detail.Take.Side)
	} else {
		data.SideLabel = string(detail.Take.Side)
	}
	if detail.WasCorrect != nil {
		data.HasVerdict = true
		data.WasCorrect = *detail.WasCorrect
	}

	f.render(w, "take_body", data)
}

type leaderboardPageData struct {
	Session   sessionView
	SubjectID string
	Entries   []leaderboardRowView
	Error     string
}

type leaderboardRowView struct {
	Rank      int
	Phone     string
	ProfileID string
	Count     int64
	Points    int64
}

func (f *Frontend) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	subjectID := strings.TrimSpace(r.URL.Query().Get("subjectID"))
	data := leaderboardPageData{Session: f.sessionView(r), SubjectID: subjectID}

	entries, err := f.takes.Leaderboard(r.Context(), subjectID)
	if err != nil {
		data.Error = "Could not load the leaderboard."
		f.render(w, "leaderboard_body", data)
		return
	}

	for i, entry := range entries {
		data.Entries = append(data.Entries, leaderboardRowView{
			Rank:      i + 1,
			Phone:     maskPhone(entry.Mobile),
			ProfileID: string(entry.ProfileID),
			Count:     entry.TakeCount,
			Points:    entry.Points,
		})
	}

	f.render(w, "leaderboard_body", data)
}

type profilePageData struct {
	Session    sessionView
	ProfileID  string
	Phone      string
	MemberFor  string
	TotalTakes int
	Takes      []profileTakeView
	Error      string
}

type profileTakeView struct {
	TakeID     string
	PropTitle  string
	SideLabel  string
	Popularity int
	CreatedAt  string
}

func (f *Frontend) handleProfile(w http.ResponseWriter, r *http.Request) {
	profileID := domain.ProfileID(r.PathValue("profileID"))
	data := profilePageData{Session: f.sessionView(r)}

	history, err := f.takes.ProfileTakes(r.Context(), profileID)
	if err != nil {
		if errors.Is(err, takes.ErrProfileNotFound) {
			http.NotFound(w, r)
			return
		}
		data.Error = "Could not load this profile."
		f.render(w, "profile_body", data)
		return
	}

	data.ProfileID = string(history.Profile.ProfileID)
	data.Phone = maskPhone(history.Profile.Mobile)
	data.MemberFor = formatDateTime(history.Profile.CreatedAt)
	data.TotalTakes = history.TotalTakes
	for _, item := range history.Takes {
		data.Takes = append(data.Takes, profileTakeView{
			TakeID:     string(item.Take.TakeID),
			PropTitle:  item.PropTitle,
			SideLabel:  item.SideLabel,
			Popularity: item.Take.Popularity,
			CreatedAt:  formatDateTime(item.Take.CreatedAt),
		})
	}

	f.render(w, "profile_body", data)
}

type feedPageData struct {
	Session sessionView
	Items   []feedItemView
	Error   string
}

type feedItemView struct {
	TakeID      string
	PropTitle   string
	Side        string
	Status      string
	Overwritten bool
	CreatedAt   string
}

func (f *Frontend) handleFeed(w http.ResponseWriter, r *http.Request) {
	data := feedPageData{Session: f.sessionView(r)}

	items, err := f.takes.Feed(r.Context(), 0)
	if err != nil {
		data.Error = "Could not load the feed."
		f.render(w, "feed_body", data)
		return
	}

	for _, item := range items {
		data.Items = append(data.Items, feedItemView{
			TakeID:      string(item.Take.TakeID),
			PropTitle:   item.PropTitle,
			Side:        string(item.Take.Side),
			Status:      string(item.Take.Status),
			Overwritten: item.Take.Status == domain.TakeStatusOverwritten,
			CreatedAt:   formatDateTime(item.Take.CreatedAt),
		})
	}

	f.render(w, "feed_body", data)
}

func (f *Frontend) render(w http.ResponseWriter, tmpl string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	var content strings.Builder
	if err := f.templates.ExecuteTemplate(&content, tmpl, data); err != nil {
		http.Error(w, "failed to build the page", http.StatusInternalServerError)
		return
	}

	page := struct {
		Title   string
		Content template.HTML
	}{
		Title:   pageTitle(tmpl),
		Content: template.HTML(content.String()),
	}

	if err := f.templates.ExecuteTemplate(w, "layout", page); err != nil {
		http.Error(w, "failed to render the page", http.StatusInternalServerError)
	}
}

func pageTitle(body string) string {
	switch body {
	case "home_body":
		return "Make The Take"
	case "prop_body":
		return "Make your take"
	case "login_body":
		return "Sign in"
	case "take_body":
		return "Your take"
	case "leaderboard_body":
		return "Leaderboard"
	case "profile_body":
		return "Profile"
	case "feed_body":
		return "Recent takes"
	default:
		return "Make The Take"
	}
}

func makePropCards(summaries []takes.PropSummary) []propCardView {
	views := make([]propCardView, 0, len(summaries))
	for _, summary := range summaries {
		views = append(views, makePropCard(summary))
	}
	return views
}

func makePropCard(summary takes.PropSummary) propCardView {
	p := summary.Prop
	return propCardView{
		PropID:       string(p.PropID),
		Title:        p.Title,
		Summary:      p.Summary,
		Status:       string(p.Status),
		SideALabel:   p.SideALabel,
		SideBLabel:   p.SideBLabel,
		SubjectTitle: summary.SubjectTitle,
		Open:         p.Status == domain.PropStatusOpen,
	}
}

func sideLabel(prop domain.Prop, side domain.Side) string {
	if side == domain.SideA {
		if prop.SideALabel != "" {
			return prop.SideALabel
		}
	} else if prop.SideBLabel != "" {
		return prop.SideBLabel
	}
	return string(side)
}

func translateVoteError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, takes.ErrPropNotOpen):
		return "This prop is no longer taking votes."
	case errors.Is(err, takes.ErrInvalidSide):
		return "Pick one of the two sides."
	case errors.Is(err, takes.ErrPropNotFound):
		return "Prop not found."
	default:
		return "Could not record your take. Try again."
	}
}

// sanitizeNext only allows same-site paths as post-login targets.
func sanitizeNext(next string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") {
		return "/"
	}
	return next
}

// maskPhone hides the middle digits of an E.164 number for public pages.
// Numbers too short to have a middle (malformed records slip in via lenient
// normalization) come back unmasked rather than panicking.
func maskPhone(phone string) string {
	if len(phone) < 7 {
		return phone
	}
	return phone[:2] + strings.Repeat("*", len(phone)-6) + phone[len(phone)-4:]
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

func formatDateTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("Jan 2, 2006 3:04 PM")
}
