// Package browser owns browsing session lifecycles on top of chromedp.
// A Session is one isolated tab scoped to a single link's preservation run;
// it is never shared across runs.
package browser

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/linkhaven/preserver/internal/config"
	"github.com/linkhaven/preserver/internal/domain"
	"github.com/linkhaven/preserver/internal/logger"
)

// Identity overrides session parameters with material obtained from a
// challenge solver.
type Identity struct {
	UserAgent string
	Cookies   []domain.Cookie
}

// Launcher creates browsing sessions from a shared browser allocator. One
// Launcher is shared by all concurrent link runs; sessions are not.
type Launcher struct {
	cfg         config.BrowserConfig
	log         logger.Logger
	allocCtx    context.Context
	allocCancel context.CancelFunc
}

// NewLauncher prepares the browser allocator. With RemoteURL set it attaches
// to a remote DevTools endpoint, otherwise it launches a local browser on
// first session use.
func NewLauncher(cfg config.BrowserConfig, log logger.Logger) *Launcher {
	var allocCtx context.Context
	var cancel context.CancelFunc

	if cfg.RemoteURL != "" {
		allocCtx, cancel = chromedp.NewRemoteAllocator(context.Background(), cfg.RemoteURL)
	} else {
		allocCtx, cancel = chromedp.NewExecAllocator(context.Background(), BuildAllocatorOptions(cfg)...)
	}

	return &Launcher{cfg: cfg, log: log, allocCtx: allocCtx, allocCancel: cancel}
}

// Close shuts the allocator down. Sessions must be closed first.
func (l *Launcher) Close() {
	l.allocCancel()
}

// NewSession opens a fresh tab bound to runCtx: cancelling the run cancels
// the session. identity may be nil for the default device profile.
func (l *Launcher) NewSession(runCtx context.Context, identity *Identity) (*Session, error) {
	tabCtx, cancel := chromedp.NewContext(l.allocCtx)
	stop := context.AfterFunc(runCtx, cancel)

	userAgent := l.cfg.UserAgent
	if identity != nil && identity.UserAgent != "" {
		userAgent = identity.UserAgent
	}

	actions := []chromedp.Action{
		chromedp.EmulateViewport(int64(l.cfg.WindowWidth), int64(l.cfg.WindowHeight)),
		emulation.SetUserAgentOverride(userAgent),
	}
	if err := chromedp.Run(tabCtx, actions...); err != nil {
		stop()
		cancel()
		return nil, fmt.Errorf("open session: %w", err)
	}

	sess := &Session{
		ctx:       tabCtx,
		cancel:    cancel,
		stop:      stop,
		userAgent: userAgent,
		client:    newFetchClient(l.cfg),
	}

	if identity != nil && len(identity.Cookies) > 0 {
		if err := sess.SetCookies(identity.Cookies); err != nil {
			sess.Close()
			return nil, err
		}
	}

	return sess, nil
}

// Session is one isolated browsing tab.
type Session struct {
	ctx       context.Context
	cancel    context.CancelFunc
	stop      func() bool
	userAgent string
	client    *http.Client
	closed    bool
}

// Navigate loads a URL and waits for the document to be ready.
func (s *Session) Navigate(targetURL string) error {
	if err := chromedp.Run(s.ctx, chromedp.Navigate(targetURL)); err != nil {
		return fmt.Errorf("navigate %s: %w", targetURL, err)
	}
	return nil
}

// Title returns the current document title.
func (s *Session) Title() (string, error) {
	var title string
	if err := chromedp.Run(s.ctx, chromedp.Title(&title)); err != nil {
		return "", fmt.Errorf("read title: %w", err)
	}
	return title, nil
}

// SetContent replaces the live document with html. A base element pointing
// at baseURL is injected so relative resources resolve against the original
// origin.
func (s *Session) SetContent(html, baseURL string) error {
	if baseURL != "" {
		html = injectBase(html, baseURL)
	}

	action := chromedp.ActionFunc(func(ctx context.Context) error {
		tree, err := page.GetFrameTree().Do(ctx)
		if err != nil {
			return err
		}
		return page.SetDocumentContent(tree.Frame.ID, html).Do(ctx)
	})
	if err := chromedp.Run(s.ctx, action); err != nil {
		return fmt.Errorf("set content: %w", err)
	}
	return nil
}

// HTML captures the fully rendered document markup.
func (s *Session) HTML() (string, error) {
	var html string
	if err := chromedp.Run(s.ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("capture html: %w", err)
	}
	return html, nil
}

// Location returns the current page URL.
func (s *Session) Location() (string, error) {
	var loc string
	if err := chromedp.Run(s.ctx, chromedp.Location(&loc)); err != nil {
		return "", fmt.Errorf("read location: %w", err)
	}
	return loc, nil
}

// ScreenshotOptions control Screenshot output.
type ScreenshotOptions struct {
	FullPage bool
	// Quality selects JPEG output with the given quality; zero means PNG.
	Quality int
}

// Screenshot captures the page as an image.
func (s *Session) Screenshot(opts ScreenshotOptions) ([]byte, error) {
	var buf []byte
	action := chromedp.ActionFunc(func(ctx context.Context) error {
		params := page.CaptureScreenshot().
			WithCaptureBeyondViewport(opts.FullPage)
		if opts.Quality > 0 {
			params = params.
				WithFormat(page.CaptureScreenshotFormatJpeg).
				WithQuality(int64(opts.Quality))
		} else {
			params = params.WithFormat(page.CaptureScreenshotFormatPng)
		}

		var err error
		buf, err = params.Do(ctx)
		return err
	})
	if err := chromedp.Run(s.ctx, action); err != nil {
		return nil, fmt.Errorf("screenshot: %w", err)
	}
	return buf, nil
}

// PDF exports the page as a PDF document.
func (s *Session) PDF() ([]byte, error) {
	var buf []byte
	action := chromedp.ActionFunc(func(ctx context.Context) error {
		data, _, err := page.PrintToPDF().WithPrintBackground(true).Do(ctx)
		if err != nil {
			return err
		}
		buf = data
		return nil
	})
	if err := chromedp.Run(s.ctx, action); err != nil {
		return nil, fmt.Errorf("print pdf: %w", err)
	}
	return buf, nil
}

// SetCookies injects solver-provided cookies into the session.
func (s *Session) SetCookies(cookies []domain.Cookie) error {
	action := chromedp.ActionFunc(func(ctx context.Context) error {
		for _, c := range cookies {
			params := network.SetCookie(c.Name, c.Value).
				WithDomain(c.Domain).
				WithPath(c.Path).
				WithSecure(c.Secure).
				WithHTTPOnly(c.HTTPOnly)
			if c.Expires > 0 {
				expires := cdp.TimeSinceEpoch(time.Unix(int64(c.Expires), 0))
				params = params.WithExpires(&expires)
			}
			if err := params.Do(ctx); err != nil {
				return fmt.Errorf("set cookie %s: %w", c.Name, err)
			}
		}
		return nil
	})
	if err := chromedp.Run(s.ctx, action); err != nil {
		return fmt.Errorf("inject cookies: %w", err)
	}
	return nil
}

// FetchResult is the outcome of an in-context resource fetch.
type FetchResult struct {
	Status      int
	ContentType string
	Body        []byte
}

// Fetch retrieves a resource carrying the session's identity: its cookies,
// user agent and the current page as referrer.
func (s *Session) Fetch(ctx context.Context, fetchURL, referrer string) (*FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fetchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build fetch request: %w", err)
	}
	req.Header.Set("User-Agent", s.userAgent)
	if referrer != "" {
		req.Header.Set("Referer", referrer)
	}
	if cookies := s.cookieHeader(fetchURL); cookies != "" {
		req.Header.Set("Cookie", cookies)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", fetchURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read fetch body: %w", err)
	}

	return &FetchResult{
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}

// cookieHeader renders the browser cookies applicable to fetchURL.
func (s *Session) cookieHeader(fetchURL string) string {
	var cookies []*network.Cookie
	action := chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = network.GetCookies().WithURLs([]string{fetchURL}).Do(ctx)
		return err
	})
	if err := chromedp.Run(s.ctx, action); err != nil {
		return ""
	}

	pairs := make([]string, 0, len(cookies))
	for _, c := range cookies {
		pairs = append(pairs, c.Name+"="+c.Value)
	}
	return strings.Join(pairs, "; ")
}

// Close releases the tab. Safe to call more than once; close errors are
// swallowed since the run is already settling.
func (s *Session) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.stop()
	s.cancel()
}

// newFetchClient builds the HTTP client used for in-context fetches,
// honoring the session's proxy and TLS tolerance settings.
func newFetchClient(cfg config.BrowserConfig) *http.Client {
	transport := &http.Transport{}

	if cfg.Proxy.Server != "" {
		if proxyURL, err := url.Parse(cfg.Proxy.Server); err == nil {
			if cfg.Proxy.Username != "" {
				proxyURL.User = url.UserPassword(cfg.Proxy.Username, cfg.Proxy.Password)
			}
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}
	if cfg.IgnoreHTTPSErrors {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // mirrors the browser's TLS tolerance setting
	}

	return &http.Client{
		Transport: transport,
		Timeout:   30 * time.Second,
	}
}

// injectBase inserts a base element after the opening head tag, or wraps the
// document when no head is present.
func injectBase(html, baseURL string) string {
	base := `<base href="` + baseURL + `">`
	lower := strings.ToLower(html)
	if idx := strings.Index(lower, "<head>"); idx >= 0 {
		insert := idx + len("<head>")
		return html[:insert] + base + html[insert:]
	}
	return base + html
}
