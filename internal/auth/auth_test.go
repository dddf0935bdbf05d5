package auth

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/memstore"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/okr-club/internal/user"
	"github.com/yourusername/okr-club/internal/view"
)

const (
	aliceEmail    = "alice@example.com"
	alicePassword = "correct-horse"
)

// fakeUsers はメモリ上の user.Store です。err を設定するとストア障害を再現します。
type fakeUsers struct {
	mu      sync.Mutex
	byID    map[string]*user.User
	byEmail map[string]string
	err     error
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{byID: map[string]*user.User{}, byEmail: map[string]string{}}
}

func (f *fakeUsers) FindByEmail(_ context.Context, email string) (*user.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	id, ok := f.byEmail[user.NormalizeEmail(email)]
	if !ok {
		return nil, user.ErrNotFound
	}
	return f.byID[id], nil
}

func (f *fakeUsers) FindByID(_ context.Context, id string) (*user.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	u, ok := f.byID[id]
	if !ok {
		return nil, user.ErrNotFound
	}
	return u, nil
}

func (f *fakeUsers) Register(_ context.Context, email, password, name string) (*user.User, error) {
	key := user.NormalizeEmail(email)
	if !strings.Contains(key, "@") {
		return nil, user.ErrInvalidEmail
	}
	hash, err := user.HashPassword(password)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if _, taken := f.byEmail[key]; taken {
		return nil, user.ErrEmailTaken
	}
	u := &user.User{ID: uuid.NewString(), Email: key, Name: name, PasswordHash: hash, CreatedAt: time.Now()}
	f.byID[u.ID] = u
	f.byEmail[key] = u.ID
	return u, nil
}

func (f *fakeUsers) remove(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.byID[id]; ok {
		delete(f.byEmail, u.Email)
		delete(f.byID, id)
	}
}

func (f *fakeUsers) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func mustRegister(t *testing.T, users *fakeUsers, email, password string) *user.User {
	t.Helper()
	u, err := users.Register(context.Background(), email, password, "")
	require.NoError(t, err)
	return u
}

type testEnv struct {
	srv       *httptest.Server
	users     *fakeUsers
	alice     *user.User
	manager   *Manager
	mutations atomic.Int32
}

type envOption func(*Options)

func withPolicy(p SessionPolicy) envOption {
	return func(o *Options) { o.Policy = p }
}

func withThrottle(t Throttle) envOption {
	return func(o *Options) { o.Throttle = t }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	env := &testEnv{users: newFakeUsers()}
	env.alice = mustRegister(t, env.users, aliceEmail, alicePassword)

	flash := NewFlash(nil)
	render := view.New(flash, CSRFToken)
	returnTo := NewReturnTo("")
	guard := NewGuard(GuardOptions{}, flash, render, nil, nil)

	options := Options{
		Strategies: []Strategy{NewPasswordStrategy(env.users)},
		Binder:     NewBinder(env.users, nil, nil),
		Guard:      guard,
		ReturnTo:   returnTo,
		Flash:      flash,
		Failure:    NewRedirectFailureHandler("", returnTo, flash, render, nil),
		Renderer:   render,
		Policy:     DefaultSessionPolicy,
	}
	for _, opt := range opts {
		opt(&options)
	}
	m, err := NewManager(options)
	require.NoError(t, err)
	env.manager = m

	r := gin.New()
	r.Use(sessions.Sessions("okr_session", memstore.NewStore([]byte("test-secret"))))
	r.Use(guard.Middleware())
	NewHandler(m, env.users, flash, render, nil).RegisterRoutes(r)

	r.GET("/", func(c *gin.Context) { render.Page(c, http.StatusOK, "index", nil) })
	r.POST("/echo", func(c *gin.Context) {
		env.mutations.Add(1)
		c.Status(http.StatusNoContent)
	})
	r.GET("/home", m.RequireIdentity(), func(c *gin.Context) {
		render.Page(c, http.StatusOK, "home", gin.H{"email": IdentityFrom(c).Email})
	})
	r.GET("/secret", m.RequireIdentity(), func(c *gin.Context) {
		render.Page(c, http.StatusOK, "secret", nil)
	})
	r.POST("/objectives", m.RequireIdentity(), func(c *gin.Context) {
		env.mutations.Add(1)
		c.Status(http.StatusCreated)
	})
	r.GET("/debug/session", func(c *gin.Context) {
		sess := sessions.Default(c)
		userID, _ := options.Binder.BoundID(sess)
		current, err := m.CurrentIdentity(c)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		currentID := ""
		if current != nil {
			currentID = current.ID
		}
		c.JSON(http.StatusOK, gin.H{
			"userId":    userID,
			"currentId": currentID,
			"returnTo":  returnTo.Peek(sess),
			"csrf":      sess.Get(sessionKeyCSRF),
		})
	})

	env.srv = httptest.NewServer(r)
	t.Cleanup(env.srv.Close)
	return env
}

type response struct {
	status   int
	location string
	header   http.Header
	cookies  []*http.Cookie
	body     []byte
}

type pageBody struct {
	Page      string              `json:"page"`
	Flash     map[string][]string `json:"flash"`
	CSRFToken string              `json:"csrfToken"`
	Message   string              `json:"message"`
}

type debugSession struct {
	UserID    string `json:"userId"`
	CurrentID string `json:"currentId"`
	ReturnTo  string `json:"returnTo"`
	CSRF      string `json:"csrf"`
}

// client は Cookie を保持し、リダイレクトを追わない HTTP クライアントです。
type client struct {
	t    *testing.T
	base *url.URL
	jar  *cookiejar.Jar
	http *http.Client
}

func (env *testEnv) newClient(t *testing.T) *client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	base, err := url.Parse(env.srv.URL)
	require.NoError(t, err)
	return &client{
		t:    t,
		base: base,
		jar:  jar,
		http: &http.Client{
			Jar: jar,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (cl *client) do(req *http.Request) response {
	cl.t.Helper()
	res, err := cl.http.Do(req)
	require.NoError(cl.t, err)
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	require.NoError(cl.t, err)
	return response{
		status:   res.StatusCode,
		location: res.Header.Get("Location"),
		header:   res.Header,
		cookies:  res.Cookies(),
		body:     body,
	}
}

func (cl *client) get(path string) response {
	cl.t.Helper()
	req, err := http.NewRequest(http.MethodGet, cl.base.String()+path, nil)
	require.NoError(cl.t, err)
	return cl.do(req)
}

// post はフォームをそのまま送ります。_csrf は付けません。
func (cl *client) post(path string, form url.Values) response {
	cl.t.Helper()
	req, err := http.NewRequest(http.MethodPost, cl.base.String()+path, strings.NewReader(form.Encode()))
	require.NoError(cl.t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return cl.do(req)
}

// submit は現在の CSRF トークンを付けてフォームを送ります。
func (cl *client) submit(path string, form url.Values) response {
	cl.t.Helper()
	if form == nil {
		form = url.Values{}
	}
	form.Set(DefaultCSRFField, cl.session().CSRF)
	return cl.post(path, form)
}

func (cl *client) login(email, password string) response {
	cl.t.Helper()
	return cl.submit(LoginPath, url.Values{
		"user[email]":    {email},
		"user[password]": {password},
	})
}

func (cl *client) session() debugSession {
	cl.t.Helper()
	res := cl.get("/debug/session")
	require.Equal(cl.t, http.StatusOK, res.status)
	var s debugSession
	require.NoError(cl.t, json.Unmarshal(res.body, &s))
	return s
}

func (cl *client) page(path string) pageBody {
	cl.t.Helper()
	res := cl.get(path)
	require.Equal(cl.t, http.StatusOK, res.status, string(res.body))
	var p pageBody
	require.NoError(cl.t, json.Unmarshal(res.body, &p))
	return p
}

func (cl *client) cookie(name string) string {
	for _, ck := range cl.jar.Cookies(cl.base) {
		if ck.Name == name {
			return ck.Value
		}
	}
	return ""
}

func (cl *client) setCookie(name, value string) {
	cl.jar.SetCookies(cl.base, []*http.Cookie{{Name: name, Value: value, Path: "/"}})
}

func decodePage(t *testing.T, body []byte) pageBody {
	t.Helper()
	var p pageBody
	require.NoError(t, json.Unmarshal(body, &p))
	return p
}
