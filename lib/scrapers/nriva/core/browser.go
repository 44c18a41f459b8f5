package core

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"nriva-archiver/lib/captcha"
	"nriva-archiver/lib/fetch"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// loginHeadless drives the login form through a real browser, then hands
// the resulting cookies to the plain HTTP client. The site occasionally
// fronts the login page with script-heavy checks that a bare client
// cannot pass; everything after login stays on plain HTTP either way.
func (c *Client) loginHeadless(ctx context.Context) fetch.Outcome[Session] {
	loginUrl := c.BaseUrl.JoinPath(c.Endpoints.LoginPath).String()

	controlUrl, err := launcher.New().
		Headless(true).
		NoSandbox(true).
		Set("disable-gpu").
		Set("disable-dev-shm-usage").
		Launch()
	if err != nil {
		return fetch.Retryable[Session](fmt.Errorf("launch browser: %w", err))
	}

	browser := rod.New().ControlURL(controlUrl).Context(ctx)
	if err := browser.Connect(); err != nil {
		return fetch.Retryable[Session](fmt.Errorf("connect browser: %w", err))
	}
	defer browser.Close()

	page, err := stealth.Page(browser)
	if err != nil {
		return fetch.Retryable[Session](err)
	}
	page = page.Context(ctx)

	if err := page.Navigate(loginUrl); err != nil {
		return fetch.Retryable[Session](err)
	}
	if err := page.WaitLoad(); err != nil {
		return fetch.Retryable[Session](err)
	}

	pageHtml, err := page.HTML()
	if err != nil {
		return fetch.Retryable[Session](err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewBufferString(pageHtml))
	if err != nil {
		return fetch.Retryable[Session](err)
	}
	challenge := captcha.Find(doc.Text())
	if challenge == "" {
		return fetch.Fatal[Session](ErrNoCaptcha)
	}
	answer, err := captcha.Solve(challenge)
	if err != nil {
		return fetch.Fatal[Session](err)
	}
	slog.DebugContext(ctx, "solved login captcha in browser", "challenge", challenge, "answer", answer)

	fields := []struct {
		selector string
		value    string
	}{
		{`input[name="email"]`, c.username},
		{`input[name="password"]`, c.password},
		{`input[name="captcha"]`, fmt.Sprint(answer)},
	}
	for _, f := range fields {
		el, err := page.Element(f.selector)
		if err != nil {
			return fetch.Retryable[Session](fmt.Errorf("find %s: %w", f.selector, err))
		}
		if err := el.Input(f.value); err != nil {
			return fetch.Retryable[Session](err)
		}
	}

	submit, err := page.Element(`button[type="submit"], input[type="submit"]`)
	if err != nil {
		return fetch.Retryable[Session](err)
	}
	wait := page.WaitNavigation(proto.PageLifecycleEventNameLoad)
	if err := submit.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fetch.Retryable[Session](err)
	}
	wait()

	cookies, err := page.Cookies(nil)
	if err != nil {
		return fetch.Retryable[Session](err)
	}
	c.adoptBrowserCookies(cookies)

	// verify over plain HTTP with the adopted cookies: the rest of the
	// pipeline runs without the browser
	res, err := c.Http.R().
		SetContext(ctx).
		Get(c.Endpoints.SearchPagePath)
	if err != nil {
		return fetch.Retryable[Session](err)
	}
	doc, err = goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		return fetch.Retryable[Session](err)
	}
	if hasLoginForm(doc) {
		return fetch.Fatal[Session](ErrBadCredentials)
	}

	c.mu.Lock()
	if fresh := extractCsrfToken(doc); fresh != "" {
		c.csrfToken = fresh
	}
	c.authenticated = true
	c.lastRefresh = time.Now()
	session := Session{Authenticated: true, LastRefresh: c.lastRefresh}
	c.mu.Unlock()

	slog.InfoContext(ctx, "logged in via headless browser", "user", c.username)
	return fetch.Success(session)
}

func (c *Client) adoptBrowserCookies(cookies []*proto.NetworkCookie) {
	jar := c.Http.GetClient().Jar
	if jar == nil {
		return
	}
	converted := make([]*http.Cookie, 0, len(cookies))
	for _, ck := range cookies {
		converted = append(converted, &http.Cookie{
			Name:     ck.Name,
			Value:    ck.Value,
			Domain:   ck.Domain,
			Path:     ck.Path,
			Secure:   ck.Secure,
			HttpOnly: ck.HTTPOnly,
		})
	}
	jar.SetCookies(c.BaseUrl, converted)
}
