package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-contrib/sessions/memstore"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/okr-club/internal/auth"
	"github.com/yourusername/okr-club/internal/config"
	"github.com/yourusername/okr-club/internal/okr"
	"github.com/yourusername/okr-club/internal/storage"
	"github.com/yourusername/okr-club/internal/user"
)

type testServer struct {
	srv        *httptest.Server
	users      *user.BoltStore
	objectives *okr.Store
}

// newTestServer は extra でテスト専用のルートを追加できます。
func newTestServer(t *testing.T, extra ...func(*gin.Engine)) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	buckets := append(user.Buckets(), okr.Buckets()...)
	db, err := storage.Open(filepath.Join(t.TempDir(), "okrclub.db"), buckets...)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := &config.Config{
		GinMode:          gin.TestMode,
		SessionSecret:    "0123456789abcdef0123456789abcdef",
		SessionStore:     "memory",
		SessionMaxAge:    4 * time.Hour,
		CSRFCookieMaxAge: 180 * 24 * time.Hour,
		RotateOnLogin:    true,
		LoginMaxAttempts: 5,
		LoginWindow:      15 * time.Minute,
		LoginLock:        10 * time.Minute,
	}

	ts := &testServer{
		users:      user.NewBoltStore(db),
		objectives: okr.NewStore(db),
	}
	store := memstore.NewStore([]byte(cfg.SessionSecret))
	router, err := newRouter(appDeps{
		cfg:          cfg,
		logger:       slog.New(slog.DiscardHandler),
		users:        ts.users,
		objectives:   ts.objectives,
		sessionStore: store,
		throttle:     auth.NewMemoryThrottle(auth.DefaultThrottleLimits),
		registry:     prometheus.NewRegistry(),
		now: func() time.Time {
			return time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
		},
	})
	require.NoError(t, err)
	for _, add := range extra {
		add(router)
	}

	ts.srv = httptest.NewServer(router)
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *testServer) register(t *testing.T, email, password string) *user.User {
	t.Helper()
	u, err := ts.users.Register(context.Background(), email, password, "")
	require.NoError(t, err)
	return u
}

type result struct {
	status   int
	location string
	body     []byte
	cookies  []*http.Cookie
}

type page struct {
	Page       string              `json:"page"`
	Flash      map[string][]string `json:"flash"`
	CSRFToken  string              `json:"csrfToken"`
	Objectives []okr.Objective     `json:"objectives"`
	Suggested  []string            `json:"suggestedDueDates"`
	Counts     map[string]int      `json:"requirementCounts"`
	User       struct {
		ID    string `json:"id"`
		Email string `json:"email"`
		Name  string `json:"name"`
	} `json:"user"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type browser struct {
	t    *testing.T
	base string
	http *http.Client
}

func (ts *testServer) browser(t *testing.T) *browser {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &browser{
		t:    t,
		base: ts.srv.URL,
		http: &http.Client{
			Jar: jar,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (b *browser) do(method, path string, form url.Values) result {
	b.t.Helper()
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequest(method, b.base+path, body)
	require.NoError(b.t, err)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	res, err := b.http.Do(req)
	require.NoError(b.t, err)
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(b.t, err)
	return result{status: res.StatusCode, location: res.Header.Get("Location"), body: data, cookies: res.Cookies()}
}

func (b *browser) page(path string) page {
	b.t.Helper()
	res := b.do(http.MethodGet, path, nil)
	require.Equal(b.t, http.StatusOK, res.status, string(res.body))
	return decode(b.t, res.body)
}

// submit はクッキーの CSRF トークンを _csrf に入れてフォームを送ります。
func (b *browser) submit(path string, form url.Values) result {
	b.t.Helper()
	if form == nil {
		form = url.Values{}
	}
	form.Set(auth.DefaultCSRFField, b.token())
	return b.do(http.MethodPost, path, form)
}

// token はクッキーに保存された CSRF トークンを返します。無ければ /about を開いて発行させます。
func (b *browser) token() string {
	b.t.Helper()
	u, err := url.Parse(b.base)
	require.NoError(b.t, err)
	for i := 0; i < 2; i++ {
		for _, ck := range b.http.Jar.Cookies(u) {
			if ck.Name == auth.DefaultCSRFCookie {
				return ck.Value
			}
		}
		b.do(http.MethodGet, "/about", nil)
	}
	b.t.Fatal("csrf cookie was not issued")
	return ""
}

func (b *browser) login(email, password string) result {
	b.t.Helper()
	return b.submit(auth.LoginPath, url.Values{
		"user[email]":    {email},
		"user[password]": {password},
	})
}

func decode(t *testing.T, body []byte) page {
	t.Helper()
	var p page
	require.NoError(t, json.Unmarshal(body, &p), string(body))
	return p
}

func TestHealthAndMetricsDoNotStartSessions(t *testing.T) {
	ts := newTestServer(t)
	b := ts.browser(t)

	res := b.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, res.status)
	assert.Empty(t, res.cookies)

	b.login("nobody@example.com", "whatever-pw")

	res = b.do(http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, res.status)
	assert.Empty(t, res.cookies)
	assert.Contains(t, string(res.body), `okrclub_auth_login_attempts_total{result="failure"} 1`)
	assert.Contains(t, string(res.body), "okrclub_http_requests_total")
}

func TestSignupLoginAndManageObjectives(t *testing.T) {
	ts := newTestServer(t)
	b := ts.browser(t)

	res := b.submit(auth.SignupPath, url.Values{
		"user[email]":           {"alice@example.com"},
		"user[password]":        {"correct-horse"},
		"user[verify_password]": {"correct-horse"},
	})
	require.Equal(t, http.StatusFound, res.status)
	assert.Equal(t, "/", res.location)
	assert.Equal(t, []string{auth.SignedUpMessage}, b.page("/").Flash["success"])

	res = b.login("alice@example.com", "correct-horse")
	require.Equal(t, http.StatusFound, res.status)
	assert.Equal(t, "/home", res.location)

	home := b.page("/home")
	assert.Equal(t, "alice@example.com", home.User.Email)
	assert.Equal(t, "friend", home.User.Name)
	assert.Equal(t, []string{auth.LoggedInMessage}, home.Flash["info"])
	assert.Empty(t, home.Objectives)
	assert.Empty(t, home.Counts)
	assert.Equal(t, []string{
		"2026-10-17", "2026-10-18", "2026-11-01", "2026-12-31",
		"2027-03-31", "2027-06-30", "2027-09-30",
	}, home.Suggested)

	res = b.submit("/objectives", url.Values{"new_objective": {"Ship v1"}, "duedate": {"2026-12-31"}})
	require.Equal(t, http.StatusFound, res.status)
	assert.Equal(t, "/home", res.location)

	home = b.page("/home")
	require.Len(t, home.Objectives, 1)
	obj := home.Objectives[0]
	assert.Equal(t, "Ship v1", obj.Text)
	assert.Equal(t, map[string]int{obj.ID: 0}, home.Counts)

	res = b.submit("/requirements", url.Values{"objective_id": {obj.ID}, "new_requirement": {"Write docs"}})
	require.Equal(t, http.StatusFound, res.status)

	home = b.page("/home")
	require.Len(t, home.Objectives, 1)
	require.Len(t, home.Objectives[0].Requirements, 1)
	assert.Equal(t, "Write docs", home.Objectives[0].Requirements[0].Text)
	assert.Equal(t, map[string]int{obj.ID: 1}, home.Counts)

	// ログイン中は / から /home へ
	assert.Equal(t, "/home", b.do(http.MethodGet, "/", nil).location)
}

func TestObjectiveValidationErrors(t *testing.T) {
	ts := newTestServer(t)
	ts.register(t, "alice@example.com", "correct-horse")
	b := ts.browser(t)
	b.login("alice@example.com", "correct-horse")

	b.submit("/objectives", url.Values{"new_objective": {"Ship v1"}, "duedate": {"next tuesday"}})
	assert.Equal(t, []string{invalidDueDateMessage}, b.page("/home").Flash["error"])

	b.submit("/objectives", url.Values{"new_objective": {"  "}, "duedate": {"2026-12-31"}})
	home := b.page("/home")
	assert.Equal(t, []string{emptyTextMessage}, home.Flash["error"])
	assert.Empty(t, home.Objectives)
}

func TestProtectedPostRedirectsAndReturnsAfterLogin(t *testing.T) {
	ts := newTestServer(t)
	ts.register(t, "alice@example.com", "correct-horse")
	b := ts.browser(t)

	res := b.submit("/objectives", url.Values{"new_objective": {"Sneaky"}, "duedate": {"2026-12-31"}})
	require.Equal(t, http.StatusFound, res.status)
	assert.Equal(t, auth.LoginPath, res.location)

	login := b.page(auth.LoginPath)
	assert.Equal(t, "login", login.Page)
	assert.Equal(t, []string{auth.UnauthenticatedMessage}, login.Flash["error"])

	res = b.login("alice@example.com", "correct-horse")
	assert.Equal(t, "/objectives", res.location)

	objectives := b.page("/objectives")
	assert.Empty(t, objectives.Objectives, "the anonymous POST must not have been persisted")
}

func TestCrossUserRequirementIsForbidden(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.register(t, "alice@example.com", "correct-horse")
	ts.register(t, "bob@example.com", "battery-staple")

	obj, err := ts.objectives.CreateObjective(context.Background(), alice.ID, "Alice's goal", time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	b := ts.browser(t)
	require.Equal(t, "/home", b.login("bob@example.com", "battery-staple").location)
	b.page("/home")

	res := b.submit("/requirements", url.Values{"objective_id": {obj.ID}, "new_requirement": {"hijack"}})
	assert.Equal(t, http.StatusForbidden, res.status)
	p := decode(t, res.body)
	assert.Equal(t, auth.CrossUserMessage, p.Message)
	assert.Equal(t, "FORBIDDEN", p.Code)

	n, err := ts.objectives.CountRequirements(context.Background(), obj.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	// セッションには何も積まれていない
	assert.Empty(t, b.page("/home").Flash)
}

func TestUnknownObjectiveIsNotFound(t *testing.T) {
	ts := newTestServer(t)
	ts.register(t, "alice@example.com", "correct-horse")
	b := ts.browser(t)
	b.login("alice@example.com", "correct-horse")

	res := b.submit("/requirements", url.Values{"objective_id": {"missing"}, "new_requirement": {"x"}})
	assert.Equal(t, http.StatusNotFound, res.status)
	assert.Equal(t, "NOT_FOUND", decode(t, res.body).Code)
}

func TestCSRFRequiredOnEveryUnsafeRoute(t *testing.T) {
	ts := newTestServer(t)
	ts.register(t, "alice@example.com", "correct-horse")
	b := ts.browser(t)
	b.token()

	for _, path := range []string{auth.LoginPath, "/auth/logout", auth.SignupPath, "/objectives", "/requirements"} {
		res := b.do(http.MethodPost, path, url.Values{"_csrf": {"forged"}})
		assert.Equal(t, http.StatusForbidden, res.status, path)
		assert.Equal(t, auth.CSRFFailedMessage, decode(t, res.body).Message, path)
	}
}

func TestLogoutKeepsCSRFToken(t *testing.T) {
	ts := newTestServer(t)
	ts.register(t, "alice@example.com", "correct-horse")
	b := ts.browser(t)
	b.login("alice@example.com", "correct-horse")
	before := b.token()

	res := b.submit("/auth/logout", nil)
	require.Equal(t, http.StatusFound, res.status)
	assert.Equal(t, "/", res.location)
	assert.Equal(t, before, b.token())

	index := b.page("/")
	assert.Equal(t, "index", index.Page)
	assert.Equal(t, before, index.CSRFToken)
	assert.Equal(t, []string{auth.LoggedOutMessage}, index.Flash["success"])

	assert.Equal(t, auth.LoginPath, b.do(http.MethodGet, "/home", nil).location)
}

func TestErrorView(t *testing.T) {
	ts := newTestServer(t)
	b := ts.browser(t)

	res := b.do(http.MethodGet, "/nope", nil)
	assert.Equal(t, http.StatusNotFound, res.status)
	p := decode(t, res.body)
	assert.Equal(t, "NOT_FOUND", p.Code)
	assert.Equal(t, "Not Found", p.Message)

	res = b.do(http.MethodGet, "/requirements", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, res.status)
	assert.Equal(t, "METHOD_NOT_ALLOWED", decode(t, res.body).Code)
}

func TestAboutIsPublic(t *testing.T) {
	ts := newTestServer(t)
	p := ts.browser(t).page("/about")
	assert.Equal(t, "about", p.Page)
	assert.NotEmpty(t, p.CSRFToken)
}

func TestPanicRendersErrorView(t *testing.T) {
	ts := newTestServer(t, func(r *gin.Engine) {
		r.GET("/boom", func(*gin.Context) { panic("boom") })
	})

	res := ts.browser(t).do(http.MethodGet, "/boom", nil)
	assert.Equal(t, http.StatusInternalServerError, res.status)
	p := decode(t, res.body)
	assert.Equal(t, "INTERNAL_SERVER_ERROR", p.Code)
	assert.Equal(t, "Internal Server Error", p.Message)
}
