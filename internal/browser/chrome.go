package browser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"github.com/go-rod/stealth"
	"github.com/sirupsen/logrus"

	"github.com/progprogect/steamids-parser/internal/pkg/logging"
)

// ChromeLauncher starts Chrome through chromedp.
type ChromeLauncher struct {
	Log logrus.FieldLogger
}

func (l ChromeLauncher) Launch(ctx context.Context, opts Options) (Engine, error) {
	opts = opts.withDefaults()
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("lang", opts.Locale),
		chromedp.WindowSize(opts.Width, opts.Height),
	)
	if opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(opts.UserAgent))
	}
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}

	// the browser outlives ctx, which only bounds the launch
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	launched := make(chan error, 1)
	go func() { launched <- chromedp.Run(browserCtx) }()
	select {
	case err := <-launched:
		if err != nil {
			browserCancel()
			allocCancel()
			return nil, err
		}
	case <-ctx.Done():
		browserCancel()
		allocCancel()
		return nil, ctx.Err()
	}

	return &chromeEngine{
		ctx:         browserCtx,
		cancel:      browserCancel,
		allocCancel: allocCancel,
		opts:        opts,
		log:         logging.OrStandard(l.Log).WithField("component", "chrome"),
	}, nil
}

type chromeEngine struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	opts        Options
	log         logrus.FieldLogger
}

// NewSession opens an incognito browser context so each session keeps its own
// cookie store.
func (e *chromeEngine) NewSession(ctx context.Context, id int) (Session, error) {
	sctx, cancel := chromedp.NewContext(e.ctx, chromedp.WithNewBrowserContext())
	if err := chromedp.Run(sctx); err != nil {
		cancel()
		return nil, fmt.Errorf("open session %d: %w", id, err)
	}
	return &chromeSession{
		id:     id,
		ctx:    sctx,
		cancel: cancel,
		opts:   e.opts,
		log:    e.log.WithField("session", id),
	}, nil
}

func (e *chromeEngine) Close() error {
	e.cancel()
	e.allocCancel()
	return nil
}

type chromeSession struct {
	id     int
	ctx    context.Context
	cancel context.CancelFunc
	opts   Options
	log    logrus.FieldLogger
}

func (s *chromeSession) ID() int { return s.id }

func (s *chromeSession) executor(ctx context.Context) (context.Context, cdp.BrowserContextID, error) {
	c := chromedp.FromContext(s.ctx)
	if c == nil || c.Browser == nil {
		return nil, "", errors.New("session not attached to a browser")
	}
	return cdp.WithExecutor(ctx, c.Browser), c.BrowserContextID, nil
}

func (s *chromeSession) Cookies(ctx context.Context) ([]Cookie, error) {
	ectx, bcid, err := s.executor(ctx)
	if err != nil {
		return nil, err
	}
	raw, err := storage.GetCookies().WithBrowserContextID(bcid).Do(ectx)
	if err != nil {
		return nil, err
	}
	out := make([]Cookie, 0, len(raw))
	for _, c := range raw {
		out = append(out, Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: string(c.SameSite),
		})
	}
	return out, nil
}

func (s *chromeSession) SetCookies(ctx context.Context, cookies []Cookie) error {
	if len(cookies) == 0 {
		return nil
	}
	ectx, bcid, err := s.executor(ctx)
	if err != nil {
		return err
	}
	params := make([]*network.CookieParam, 0, len(cookies))
	for _, c := range cookies {
		p := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
		}
		if c.SameSite != "" {
			p.SameSite = network.CookieSameSite(c.SameSite)
		}
		if c.Expires > 0 {
			exp := cdp.TimeSinceEpoch(time.Unix(int64(c.Expires), 0))
			p.Expires = &exp
		}
		params = append(params, p)
	}
	return storage.SetCookies(params).WithBrowserContextID(bcid).Do(ectx)
}

// NewPage opens a tab with the fingerprint shaping and resource filtering
// applied before anything loads.
func (s *chromeSession) NewPage(ctx context.Context) (Page, error) {
	pctx, cancel := chromedp.NewContext(s.ctx)
	p := &chromePage{
		ctx:      pctx,
		cancel:   cancel,
		session:  s,
		inflight: make(map[network.RequestID]struct{}),
		pending:  make(map[network.RequestID]Response),
		handlers: make(map[int]responseHandler),
		client:   &http.Client{Timeout: 60 * time.Second},
		log:      s.log,
	}
	chromedp.ListenTarget(pctx, p.onEvent)

	headers := network.Headers{"Accept-Language": s.opts.Locale + ",en;q=0.9"}
	actions := []chromedp.Action{
		network.Enable(),
		network.SetExtraHTTPHeaders(headers),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(stealth.JS).Do(ctx)
			return err
		}),
		emulation.SetDeviceMetricsOverride(int64(s.opts.Width), int64(s.opts.Height), 1, false),
		emulation.SetLocaleOverride().WithLocale(s.opts.Locale),
		emulation.SetTimezoneOverride(s.opts.Timezone),
	}
	if patterns := blockPatterns(s.opts); len(patterns) > 0 {
		actions = append(actions, fetch.Enable().WithPatterns(patterns))
	}

	if err := p.run(ctx, actions...); err != nil {
		cancel()
		return nil, fmt.Errorf("prepare page: %w", err)
	}
	return p, nil
}

func (s *chromeSession) Close() error {
	s.cancel()
	return nil
}

func blockPatterns(opts Options) []*fetch.RequestPattern {
	var types []network.ResourceType
	if opts.BlockImages {
		types = append(types, network.ResourceTypeImage, network.ResourceTypeMedia)
	}
	if opts.BlockCSS {
		types = append(types, network.ResourceTypeStylesheet)
	}
	if opts.BlockFonts {
		types = append(types, network.ResourceTypeFont)
	}
	out := make([]*fetch.RequestPattern, 0, len(types))
	for _, t := range types {
		out = append(out, &fetch.RequestPattern{URLPattern: "*", ResourceType: t, RequestStage: fetch.RequestStageRequest})
	}
	return out
}

type responseHandler struct {
	match func(string) bool
	fn    func(Response)
}

type chromePage struct {
	ctx     context.Context
	cancel  context.CancelFunc
	session *chromeSession
	client  *http.Client
	log     logrus.FieldLogger

	mu           sync.Mutex
	inflight     map[network.RequestID]struct{}
	lastActivity time.Time
	pending      map[network.RequestID]Response
	handlers     map[int]responseHandler
	nextHandler  int
}

// run executes actions on the tab, stopping early if ctx ends. Cancelling a
// derived context leaves the tab open.
func (p *chromePage) run(ctx context.Context, actions ...chromedp.Action) error {
	rctx, cancel := context.WithCancel(p.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	err := chromedp.Run(rctx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// onEvent runs on the chromedp event loop and must not block.
func (p *chromePage) onEvent(ev any) {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		p.mu.Lock()
		p.inflight[e.RequestID] = struct{}{}
		p.lastActivity = time.Now()
		p.mu.Unlock()
	case *network.EventResponseReceived:
		if e.Response == nil {
			return
		}
		p.mu.Lock()
		if p.wantedLocked(e.Response.URL) {
			p.pending[e.RequestID] = Response{URL: e.Response.URL, Status: int(e.Response.Status)}
		}
		p.mu.Unlock()
	case *network.EventLoadingFinished:
		p.mu.Lock()
		delete(p.inflight, e.RequestID)
		p.lastActivity = time.Now()
		resp, ok := p.pending[e.RequestID]
		delete(p.pending, e.RequestID)
		p.mu.Unlock()
		if ok {
			go p.deliver(e.RequestID, resp)
		}
	case *network.EventLoadingFailed:
		p.mu.Lock()
		delete(p.inflight, e.RequestID)
		delete(p.pending, e.RequestID)
		p.lastActivity = time.Now()
		p.mu.Unlock()
	case *fetch.EventRequestPaused:
		go func() {
			_ = chromedp.Run(p.ctx, fetch.FailRequest(e.RequestID, network.ErrorReasonBlockedByClient))
		}()
	}
}

func (p *chromePage) wantedLocked(u string) bool {
	for _, h := range p.handlers {
		if h.match(u) {
			return true
		}
	}
	return false
}

func (p *chromePage) deliver(id network.RequestID, resp Response) {
	c := chromedp.FromContext(p.ctx)
	if c == nil || c.Target == nil {
		return
	}
	body, err := network.GetResponseBody(id).Do(cdp.WithExecutor(p.ctx, c.Target))
	if err != nil {
		p.log.WithFields(logrus.Fields{"url": resp.URL, "error": err}).Debug("read intercepted body failed")
		return
	}
	resp.Body = body

	p.mu.Lock()
	var fns []func(Response)
	for _, h := range p.handlers {
		if h.match(resp.URL) {
			fns = append(fns, h.fn)
		}
	}
	p.mu.Unlock()
	for _, fn := range fns {
		fn(resp)
	}
}

func (p *chromePage) addHandler(match func(string) bool, fn func(Response)) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextHandler++
	p.handlers[p.nextHandler] = responseHandler{match: match, fn: fn}
	return p.nextHandler
}

func (p *chromePage) removeHandler(id int) {
	p.mu.Lock()
	delete(p.handlers, id)
	p.mu.Unlock()
}

func (p *chromePage) OnResponse(match func(string) bool, fn func(Response)) {
	p.addHandler(match, fn)
}

func (p *chromePage) Navigate(ctx context.Context, u string) error {
	return p.run(ctx, chromedp.Navigate(u))
}

func (p *chromePage) WaitNetworkIdle(ctx context.Context, quiet, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		p.mu.Lock()
		idle := len(p.inflight) == 0 && time.Since(p.lastActivity) >= quiet
		p.mu.Unlock()
		if idle {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("network not idle after %s", timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
		}
	}
}

func (p *chromePage) WaitResponse(ctx context.Context, match func(string) bool, timeout time.Duration) (Response, error) {
	ch := make(chan Response, 1)
	id := p.addHandler(match, func(r Response) {
		select {
		case ch <- r:
		default:
		}
	})
	defer p.removeHandler(id)

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case r := <-ch:
		return r, nil
	case <-timer.C:
		return Response{}, ErrResponseTimeout
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

// Request reuses the session's cookies and user agent outside the tab.
func (p *chromePage) Request(ctx context.Context, rawURL string) (Response, error) {
	target, err := url.Parse(rawURL)
	if err != nil {
		return Response{}, err
	}
	cookies, err := p.session.Cookies(ctx)
	if err != nil {
		return Response{}, fmt.Errorf("read session cookies: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Response{}, err
	}
	if ua := p.session.opts.UserAgent; ua != "" {
		req.Header.Set("User-Agent", ua)
	}
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Accept-Language", p.session.opts.Locale+",en;q=0.9")
	for _, c := range cookies {
		if cookieMatches(c, target.Hostname()) {
			req.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
		}
	}

	res, err := p.client.Do(req)
	if err != nil {
		return Response{}, err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 32<<20))
	if err != nil {
		return Response{}, err
	}
	return Response{URL: rawURL, Status: res.StatusCode, Body: body}, nil
}

func cookieMatches(c Cookie, host string) bool {
	d := strings.TrimPrefix(strings.ToLower(c.Domain), ".")
	host = strings.ToLower(host)
	return d == "" || host == d || strings.HasSuffix(host, "."+d)
}

func (p *chromePage) EvalFetch(ctx context.Context, rawURL string) (Response, error) {
	script := fmt.Sprintf(`fetch(%q, {credentials: "include"}).then(r => r.text().then(t => ({status: r.status, body: t})))`, rawURL)
	var out struct {
		Status int    `json:"status"`
		Body   string `json:"body"`
	}
	err := p.run(ctx, chromedp.Evaluate(script, &out, func(ep *runtime.EvaluateParams) *runtime.EvaluateParams {
		return ep.WithAwaitPromise(true)
	}))
	if err != nil {
		return Response{}, err
	}
	return Response{URL: rawURL, Status: out.Status, Body: []byte(out.Body)}, nil
}

func (p *chromePage) Close() error {
	p.cancel()
	return nil
}
