package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"nriva-archiver/lib/captcha"
	"nriva-archiver/lib/fetch"
	"nriva-archiver/lib/restyutil"
	"nriva-archiver/lib/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("scrapers/nriva/core")

var (
	ErrBadCredentials = errors.New("the site rejected the supplied credentials")
	ErrNoCaptcha      = errors.New("no captcha challenge found on the login page")
	ErrSessionExpired = errors.New("session expired and could not be restored")
	ErrNotLoggedIn    = errors.New("request requires an authenticated session")
)

// Endpoints are the site's URL vocabulary. The markup and routing of the
// remote service change without notice, so none of these are hard-coded
// into the pipeline.
type Endpoints struct {
	LoginPath      string `json:"login_path"`
	SearchPagePath string `json:"search_page_path"`
	SearchApiPath  string `json:"search_api_path"`
	// candidate profile-page patterns, each containing one %s for the id,
	// tried in order until one resolves
	ProfilePatterns []string `json:"profile_patterns"`
}

func (e *Endpoints) applyDefaults() {
	if e.LoginPath == "" {
		e.LoginPath = "/login"
	}
	if e.SearchPagePath == "" {
		e.SearchPagePath = "/eedu-jodu/search-profiles"
	}
	if e.SearchApiPath == "" {
		e.SearchApiPath = "/eedu-jodu/search-eedujodu-profiles"
	}
	if len(e.ProfilePatterns) == 0 {
		e.ProfilePatterns = []string{
			"/eedu-jodu/profile/%s",
			"/eedu-jodu/view-profile/%s",
			"/eedu-jodu/profile-details/%s",
			"/account/profile/%s",
		}
	}
}

// Session is a read-only snapshot of the authenticated state. Cookie and
// token storage never leave this package.
type Session struct {
	Authenticated bool
	LastRefresh   time.Time
}

type ClientOptions struct {
	BaseUrl   string
	Endpoints Endpoints
	// optional; without credentials profile access degrades to whatever
	// the site shows anonymously
	Username string
	Password string
	// perform the login through a headless browser instead of plain HTTP
	UseHeadlessBrowser bool
	Timeout            time.Duration
	// when set, every HTTP exchange is dumped (credentials redacted)
	// into this directory for markup debugging
	DebugTranscriptDir string
}

// Client owns the cookie jar and CSRF token for one remote session. It is
// the only component that reads or writes them; everything downstream
// works through Request.
type Client struct {
	BaseUrl   *url.URL
	Http      *resty.Client
	Endpoints Endpoints

	username   string
	password   string
	useBrowser bool

	mu            sync.Mutex
	csrfToken     string
	authenticated bool
	lastRefresh   time.Time
}

func NewClient(ctx context.Context, opts ClientOptions) (*Client, error) {
	baseUrl, err := url.Parse(opts.BaseUrl)
	if err != nil {
		return nil, err
	}
	opts.Endpoints.applyDefaults()

	client := resty.New()
	client.SetBaseURL(opts.BaseUrl)
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	client.SetCookieJar(jar)
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)

	client.SetHeader("user-agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36")
	client.SetHeader("accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	client.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(baseUrl.Hostname()))
	if opts.Timeout <= 0 {
		opts.Timeout = time.Second * 30
	}
	client.SetTimeout(opts.Timeout)

	telemetry.InstrumentResty(client, "scrapers/nriva/http")
	if opts.DebugTranscriptDir != "" {
		out, err := restyutil.NewTranscriptDir(opts.DebugTranscriptDir)
		if err != nil {
			return nil, fmt.Errorf("create transcript dir: %w", err)
		}
		restyutil.RecordTranscripts(client, out)
	}

	return &Client{
		BaseUrl:    baseUrl,
		Http:       client,
		Endpoints:  opts.Endpoints,
		username:   opts.Username,
		password:   opts.Password,
		useBrowser: opts.UseHeadlessBrowser,
	}, nil
}

func (c *Client) Session() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Session{Authenticated: c.authenticated, LastRefresh: c.lastRefresh}
}

func (c *Client) HasCredentials() bool {
	return c.username != "" && c.password != ""
}

// Login performs one full login sequence: fetch the login page, extract
// the CSRF token and captcha challenge, solve it, submit the form and
// verify the authenticated-state marker. Each invocation refetches the
// page, so a regenerated challenge or rotated token is picked up on retry.
func (c *Client) Login(ctx context.Context) fetch.Outcome[Session] {
	ctx, span := tracer.Start(ctx, "client:Login")
	defer span.End()

	if !c.HasCredentials() {
		return fetch.Fatal[Session](ErrBadCredentials)
	}
	if c.useBrowser {
		return c.loginHeadless(ctx)
	}

	res, err := c.Http.R().
		SetContext(ctx).
		Get(c.Endpoints.LoginPath)
	if err != nil {
		return fetch.Retryable[Session](err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		return fetch.Retryable[Session](err)
	}

	token := extractCsrfToken(doc)
	if token == "" {
		// the page came back without its form, likely a partial response
		return fetch.Retryable[Session](fmt.Errorf("login page missing csrf token"))
	}

	challenge := captcha.Find(doc.Text())
	if challenge == "" {
		span.SetStatus(codes.Error, ErrNoCaptcha.Error())
		return fetch.Fatal[Session](ErrNoCaptcha)
	}
	answer, err := captcha.Solve(challenge)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "unparseable captcha")
		return fetch.Fatal[Session](err)
	}
	slog.DebugContext(ctx, "solved login captcha", "challenge", challenge, "answer", answer)

	res, err = c.Http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"_token":   token,
			"email":    c.username,
			"password": c.password,
			"captcha":  fmt.Sprint(answer),
		}).
		Post(c.Endpoints.LoginPath)
	if err != nil {
		return fetch.Retryable[Session](err)
	}
	if isStaleToken(res) {
		return fetch.Retryable[Session](fmt.Errorf("csrf token rejected (status %d)", res.StatusCode()))
	}

	doc, err = goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		return fetch.Retryable[Session](err)
	}
	if !isLoggedIn(doc) {
		span.SetStatus(codes.Error, ErrBadCredentials.Error())
		return fetch.Fatal[Session](ErrBadCredentials)
	}

	c.mu.Lock()
	c.csrfToken = token
	if fresh := extractCsrfToken(doc); fresh != "" {
		c.csrfToken = fresh
	}
	c.authenticated = true
	c.lastRefresh = time.Now()
	session := Session{Authenticated: true, LastRefresh: c.lastRefresh}
	c.mu.Unlock()

	slog.InfoContext(ctx, "logged in", "user", c.username)
	return fetch.Success(session)
}

// Request issues an authenticated request carrying the current cookies
// and CSRF token. When the response signals session expiry it re-invokes
// the login sequence once and replays the request; a second expiry is
// surfaced as ErrSessionExpired.
func (c *Client) Request(ctx context.Context, method, path string, form url.Values) (*resty.Response, error) {
	ctx, span := tracer.Start(ctx, "client:Request")
	defer span.End()

	res, err := c.do(ctx, method, path, form)
	if err != nil {
		return nil, err
	}
	if !c.sessionExpired(res) {
		c.refreshToken(res)
		return res, nil
	}

	if !c.HasCredentials() {
		span.SetStatus(codes.Error, "anonymous session rejected")
		return nil, ErrNotLoggedIn
	}

	slog.WarnContext(ctx, "session expired, logging in again", "path", path)
	c.mu.Lock()
	c.authenticated = false
	c.mu.Unlock()

	out := c.Login(ctx)
	if out.Class != fetch.ClassSuccess {
		// keep the login error in the chain: callers classify a revoked
		// credential differently from a transient login failure
		return nil, fmt.Errorf("%w: %w", ErrSessionExpired, out.Err)
	}

	res, err = c.do(ctx, method, path, form)
	if err != nil {
		return nil, err
	}
	if c.sessionExpired(res) {
		span.SetStatus(codes.Error, ErrSessionExpired.Error())
		return nil, ErrSessionExpired
	}
	c.refreshToken(res)
	return res, nil
}

func (c *Client) do(ctx context.Context, method, path string, form url.Values) (*resty.Response, error) {
	c.mu.Lock()
	token := c.csrfToken
	c.mu.Unlock()

	req := c.Http.R().SetContext(ctx)
	if form != nil {
		if token != "" {
			form = cloneValues(form)
			form.Set("_token", token)
		}
		req.SetFormDataFromValues(form)
	}
	if token != "" {
		req.SetHeader("x-csrf-token", token)
	}
	return req.Execute(method, path)
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
}

// the site signals an expired session by bouncing to the login page or
// re-rendering the login form; 401/419 show up on the API endpoints
func (c *Client) sessionExpired(res *resty.Response) bool {
	if res.StatusCode() == 401 || res.StatusCode() == 419 {
		return true
	}
	// requests aimed at the login page itself are never an expiry signal
	if strings.HasSuffix(res.Request.URL, c.Endpoints.LoginPath) {
		return false
	}
	if raw := res.RawResponse; raw != nil && raw.Request != nil &&
		raw.Request.URL.Path == c.Endpoints.LoginPath {
		// redirected back to the login page
		return true
	}
	if !strings.Contains(res.Header().Get("content-type"), "text/html") {
		return false
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		return false
	}
	return hasLoginForm(doc)
}

// any HTML response may carry a rotated token in its meta tags; keeping
// the stored token current is what keeps form posts from 419ing
func (c *Client) refreshToken(res *resty.Response) {
	if !strings.Contains(res.Header().Get("content-type"), "text/html") {
		return
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		return
	}
	fresh := extractCsrfToken(doc)
	if fresh == "" {
		return
	}
	c.mu.Lock()
	if fresh != c.csrfToken {
		c.csrfToken = fresh
		c.lastRefresh = time.Now()
	}
	c.mu.Unlock()
}

func extractCsrfToken(doc *goquery.Document) string {
	if content, ok := doc.Find(`meta[name="csrf-token"]`).Attr("content"); ok {
		return content
	}
	return doc.Find(`input[name="_token"]`).AttrOr("value", "")
}

func hasLoginForm(doc *goquery.Document) bool {
	return doc.Find(`input[type="password"], input[name="password"]`).Length() > 0
}

func isLoggedIn(doc *goquery.Document) bool {
	if doc.Find(`a[href*="logout"]`).Length() > 0 {
		return true
	}
	return !hasLoginForm(doc)
}

func isStaleToken(res *resty.Response) bool {
	return res.StatusCode() == 419
}
