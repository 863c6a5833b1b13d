package kartra

import (
	"bytes"
	"context"
	"coursemigrate/internal/components/assert"
	"coursemigrate/internal/components/chrono"
	"coursemigrate/internal/components/telemetry"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/PuerkitoBio/goquery"
	"github.com/dgraph-io/badger/v4"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"
)

var tracer = otel.Tracer("coursemigrate/kartra")

const (
	report_session_prime    = "session.prime"
	report_session_navigate = "session.navigate"
	report_session_cache    = "session.cache"
)

// ErrBadCookies is returned by Prime when the stored cookies do not yield an
// authenticated session and no login was possible.
var ErrBadCookies = errors.New("kartra: bad cookies, session is not authenticated")

// LoginFunc performs an interactive login and returns the harvested cookies.
type LoginFunc func(ctx context.Context) ([]Cookie, error)

type SessionOptions struct {
	// BaseUrl is the membership portal, ex. https://school.kartra.com.
	BaseUrl string
	// AppUrl is where authentication is verified, an authenticated session
	// lands on <AppUrl>/dashboard. Defaults to BaseUrl.
	AppUrl      string
	CookiesFile string
	// CloudflareBypass wraps the transport with browser-like tls and headers.
	CloudflareBypass bool
	// RequestsPerSecond defaults to 2.
	RequestsPerSecond float64
	Timeout           time.Duration
	// Cache is optional, pages are not cached without it.
	Cache         *badger.DB
	CacheLifetime time.Duration
	Clock         chrono.API
}

type page struct {
	url      *url.URL
	contents []byte
}

// Session is one authenticated browsing context against the portal. Only one
// navigation is in flight at any time.
type Session struct {
	baseUrl     *url.URL
	appUrl      *url.URL
	cookiesFile string
	http        *resty.Client
	jar         http.CookieJar
	cache       *pageCache
	tel         telemetry.API

	mutex   sync.Mutex
	cookies []Cookie
	closed  bool
}

func NewSession(opts SessionOptions, tel telemetry.API) (*Session, error) {
	assert.NotNil(tel)
	assert.NotEmptyStr(opts.BaseUrl)

	tel = telemetry.NewScopedAPI("kartra", tel)

	baseUrl, err := url.Parse(opts.BaseUrl)
	if err != nil {
		return nil, err
	}
	appUrl := baseUrl
	if opts.AppUrl != "" {
		appUrl, err = url.Parse(opts.AppUrl)
		if err != nil {
			return nil, err
		}
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 2
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = chrono.NewStandardImpl()
	}
	if opts.CacheLifetime <= 0 {
		opts.CacheLifetime = 24 * time.Hour
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}

	client := resty.New()
	client.SetBaseURL(baseUrl.String())
	client.SetCookieJar(jar)
	if opts.CloudflareBypass {
		client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	}
	client.SetHeader("user-agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36")
	client.SetRedirectPolicy(resty.FlexibleRedirectPolicy(10))
	client.SetTimeout(opts.Timeout)

	// burst >= 1 so no request is ever dropped, only delayed
	burst := int(opts.RequestsPerSecond)
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		return limiter.Wait(req.Context())
	})
	telemetry.InstrumentResty(client, tel, "coursemigrate/kartra")

	s := &Session{
		baseUrl:     baseUrl,
		appUrl:      appUrl,
		cookiesFile: opts.CookiesFile,
		http:        client,
		jar:         jar,
		tel:         tel,
	}
	if opts.Cache != nil {
		s.cache = &pageCache{
			db:       opts.Cache,
			baseUrl:  baseUrl,
			lifetime: opts.CacheLifetime,
			clock:    opts.Clock,
		}
	}
	return s, nil
}

// applyCookies puts the stored cookies back into the jar, a session reset on
// the server side would otherwise log us out mid crawl.
func (s *Session) applyCookies() {
	byHost := map[string][]*http.Cookie{}
	for _, c := range s.cookies {
		cookie := c.http()
		hosts := []string{strings.TrimPrefix(c.Domain, ".")}
		if !strings.HasPrefix(c.Domain, ".") {
			// host-only, the jar rejects domain attributes on ips and ports
			cookie.Domain = ""
		}
		if c.Domain == "" {
			// meant for both the portal and the app
			hosts = []string{s.baseUrl.Hostname(), s.appUrl.Hostname()}
		}
		for _, host := range hosts {
			byHost[host] = append(byHost[host], cookie)
		}
	}
	for host, cookies := range byHost {
		s.jar.SetCookies(&url.URL{Scheme: s.baseUrl.Scheme, Host: host, Path: "/"}, cookies)
	}
}

func (s *Session) harvest() []Cookie {
	var out []Cookie
	seen := map[string]bool{}
	for _, u := range []*url.URL{s.baseUrl, s.appUrl} {
		for _, c := range s.jar.Cookies(u) {
			key := u.Host + "|" + c.Name
			if seen[key] {
				continue
			}
			seen[key] = true
			cookie := fromHttpCookie(c)
			cookie.Domain = u.Hostname()
			out = append(out, cookie)
		}
	}
	return out
}

// Authenticated checks that the app lands on the dashboard instead of the
// login page.
func (s *Session) Authenticated(ctx context.Context) (bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.authenticated(ctx)
}

func (s *Session) authenticated(ctx context.Context) (bool, error) {
	s.applyCookies()
	target := s.appUrl.ResolveReference(&url.URL{Path: "/"})
	res, err := s.http.R().SetContext(ctx).Get(target.String())
	if err != nil {
		return false, err
	}
	final := res.RawResponse.Request.URL
	return strings.HasPrefix(final.Path, "/dashboard"), nil
}

// Prime loads stored cookies, falls back to login when there are none (or they
// no longer authenticate) and persists whatever the login harvested. A nil
// login turns missing or stale cookies into ErrBadCookies.
func (s *Session) Prime(ctx context.Context, login LoginFunc) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.cookiesFile != "" {
		cookies, err := LoadCookies(s.cookiesFile)
		if err != nil {
			s.tel.ReportBroken(report_session_prime, err, s.cookiesFile)
			return err
		}
		s.cookies = cookies
	}

	if len(s.cookies) > 0 {
		ok, err := s.authenticated(ctx)
		if err != nil {
			s.tel.ReportBroken(report_session_prime, fmt.Errorf("verify stored cookies: %w", err))
			return err
		}
		if ok {
			return nil
		}
		s.tel.ReportWarning(report_session_prime, "stored cookies are stale", s.cookiesFile)
	}

	if login == nil {
		return ErrBadCookies
	}
	harvested, err := login(ctx)
	if err != nil {
		return fmt.Errorf("kartra: login: %w", err)
	}
	s.cookies = harvested

	ok, err := s.authenticated(ctx)
	if err != nil {
		s.tel.ReportBroken(report_session_prime, fmt.Errorf("verify login: %w", err))
		return err
	}
	if !ok {
		return ErrBadCookies
	}

	s.cookies = append(s.cookies, s.harvest()...)
	s.cookies = dedupCookies(s.cookies)
	if s.cookiesFile != "" {
		err = SaveCookies(s.cookiesFile, s.cookies)
		if err != nil {
			s.tel.ReportBroken(report_session_prime, fmt.Errorf("save cookies: %w", err), s.cookiesFile)
			return err
		}
	}
	return nil
}

// later entries win, ex. refreshed values harvested from the jar.
func dedupCookies(cookies []Cookie) []Cookie {
	index := map[string]int{}
	var out []Cookie
	for _, c := range cookies {
		key := strings.TrimPrefix(c.Domain, ".") + "|" + c.Name
		if i, ok := index[key]; ok {
			out[i] = c
			continue
		}
		// a host-less cookie and its harvested copy are the same cookie
		if c.Domain != "" {
			if i, ok := index["|"+c.Name]; ok {
				out[i] = c
				index[key] = i
				continue
			}
		}
		index[key] = len(out)
		out = append(out, c)
	}
	return out
}

// Cookies returns the cookies the session currently holds.
func (s *Session) Cookies() []Cookie {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	out := make([]Cookie, len(s.cookies))
	copy(out, s.cookies)
	return out
}

var notFoundMarkers = []string{
	"page not found",
	"404 not found",
	"this page doesn't exist",
	"this page does not exist",
}

func looksNotFound(status int, contents []byte) bool {
	if status == http.StatusNotFound {
		return true
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(contents))
	if err != nil {
		return false
	}
	title := strings.ToLower(doc.Find("title").First().Text())
	if strings.Contains(title, "404") {
		return true
	}
	for _, marker := range notFoundMarkers {
		if strings.Contains(title, marker) {
			return true
		}
	}
	return doc.Find(".error-404, #error_404, .error_404").Length() > 0
}

// navigate fetches a portal page. Pages the portal reports as missing come
// back with found=false and no error.
func (s *Session) navigate(ctx context.Context, course, endpoint string) (page, bool, error) {
	ctx, span := tracer.Start(ctx, "navigate")
	defer span.End()

	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.closed {
		return page{}, false, errors.New("kartra: session is closed")
	}

	target, err := s.baseUrl.Parse(endpoint)
	if err != nil {
		return page{}, false, err
	}

	if s.cache != nil {
		cached, err := s.cache.get(ctx, course, endpoint)
		if err == nil {
			parsed, _ := url.Parse(cached.Url)
			if parsed == nil {
				parsed = target
			}
			return page{url: parsed, contents: cached.Contents}, true, nil
		}
		if !errors.Is(err, errPageNotCached) {
			s.tel.ReportWarning(report_session_cache, err, endpoint)
		}
	}

	s.applyCookies()
	s.tel.ReportDebug(report_session_navigate, target.String())
	res, err := s.http.R().SetContext(ctx).Get(target.String())
	if err != nil {
		s.tel.ReportBroken(report_session_navigate, fmt.Errorf("fetch: %w", err), target.String())
		return page{}, false, err
	}
	if looksNotFound(res.StatusCode(), res.Body()) {
		return page{}, false, nil
	}
	if !res.IsSuccess() {
		err := fmt.Errorf("kartra: GET %s: %s", target, res.Status())
		s.tel.ReportBroken(report_session_navigate, err)
		return page{}, false, err
	}

	final := target
	if res.RawResponse != nil && res.RawResponse.Request != nil {
		final = res.RawResponse.Request.URL
	}
	if strings.Contains(final.Path, "/login") {
		s.tel.ReportWarning(report_session_navigate, "redirected to login", target.String())
		return page{}, false, ErrBadCookies
	}

	p := page{url: final, contents: res.Body()}
	if s.cache != nil {
		err = s.cache.set(ctx, course, endpoint, cachedPage{Url: final.String(), Contents: p.contents})
		if err != nil {
			s.tel.ReportWarning(report_session_cache, err, endpoint)
		}
	}
	return p, true, nil
}

// Invalidate drops the cached pages of a course.
func (s *Session) Invalidate(course string) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.invalidate(course)
}

// ClearCache drops every cached page.
func (s *Session) ClearCache() error {
	if s.cache == nil {
		return nil
	}
	return s.cache.clear()
}

// Close releases idle connections, the session cannot navigate afterwards.
func (s *Session) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.closed = true
	s.http.GetClient().CloseIdleConnections()
	return nil
}
