package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/progprogect/steamids-parser/internal/pkg/logging"
)

var ErrPoolClosed = errors.New("session pool closed")

type Options struct {
	ExecPath    string
	Headless    bool
	UserAgent   string
	PoolSize    int
	BlockImages bool
	BlockCSS    bool
	BlockFonts  bool
	Width       int
	Height      int
	Locale      string
	Timezone    string
}

func (o Options) withDefaults() Options {
	if o.PoolSize <= 0 {
		o.PoolSize = 1
	}
	if o.Width <= 0 || o.Height <= 0 {
		o.Width, o.Height = 1920, 1080
	}
	if o.Locale == "" {
		o.Locale = "en-US"
	}
	if o.Timezone == "" {
		o.Timezone = "America/New_York"
	}
	return o
}

// Launcher starts a browser engine.
type Launcher interface {
	Launch(ctx context.Context, opts Options) (Engine, error)
}

// Engine is a running browser able to host isolated sessions.
type Engine interface {
	NewSession(ctx context.Context, id int) (Session, error)
	Close() error
}

// Session is one isolated browsing identity with its own cookie store.
type Session interface {
	ID() int
	Cookies(ctx context.Context) ([]Cookie, error)
	SetCookies(ctx context.Context, cookies []Cookie) error
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// Pool hands out a bounded set of sessions. The free channel is the
// semaphore: Acquire blocks on it and Release wakes one waiter.
type Pool struct {
	launcher Launcher
	opts     Options
	jar      *CookieJar
	log      logrus.FieldLogger

	mu       sync.Mutex
	engine   Engine
	sessions []Session
	free     chan Session
	done     chan struct{}
	closed   bool
}

func NewPool(launcher Launcher, opts Options, jar *CookieJar, log logrus.FieldLogger) *Pool {
	opts = opts.withDefaults()
	return &Pool{
		launcher: launcher,
		opts:     opts,
		jar:      jar,
		log:      logging.OrStandard(log).WithField("component", "session_pool"),
		free:     make(chan Session, opts.PoolSize),
		done:     make(chan struct{}),
	}
}

// Initialize launches the engine, falling back to the default executable if
// the configured one fails, and opens PoolSize sessions preloaded with the
// persisted cookie jar.
func (p *Pool) Initialize(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPoolClosed
	}
	if p.engine != nil {
		return nil
	}

	engine, err := p.launcher.Launch(ctx, p.opts)
	if err != nil && p.opts.ExecPath != "" {
		p.log.WithFields(logrus.Fields{"exec_path": p.opts.ExecPath, "error": err}).Warn("configured browser failed to launch, falling back to default")
		fallback := p.opts
		fallback.ExecPath = ""
		engine, err = p.launcher.Launch(ctx, fallback)
	}
	if err != nil {
		return fmt.Errorf("launch browser: %w", err)
	}
	p.engine = engine

	cookies, err := p.jar.Load()
	if err != nil {
		p.log.WithError(err).Warn("cookie jar unreadable, starting without cookies")
	}

	for i := 0; i < p.opts.PoolSize; i++ {
		s, err := engine.NewSession(ctx, i)
		if err != nil {
			p.log.WithFields(logrus.Fields{"session": i, "error": err}).Warn("session create failed")
			continue
		}
		if len(cookies) > 0 {
			if err := s.SetCookies(ctx, cookies); err != nil {
				p.log.WithFields(logrus.Fields{"session": i, "error": err}).Warn("cookie preload failed")
			}
		}
		p.sessions = append(p.sessions, s)
		p.free <- s
	}
	if len(p.sessions) == 0 {
		_ = engine.Close()
		p.engine = nil
		return errors.New("no browser session could be created")
	}

	p.log.WithFields(logrus.Fields{"sessions": len(p.sessions), "cookies": len(cookies)}).Info("session pool ready")
	return nil
}

func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

// Acquire blocks until a session is free, then refreshes it with the latest
// persisted cookies.
func (p *Pool) Acquire(ctx context.Context) (Session, error) {
	select {
	case <-p.done:
		return nil, ErrPoolClosed
	default:
	}
	select {
	case <-p.done:
		return nil, ErrPoolClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	case s := <-p.free:
		if p.isClosed() {
			return nil, ErrPoolClosed
		}
		cookies, err := p.jar.Load()
		if err != nil {
			p.log.WithFields(logrus.Fields{"session": s.ID(), "error": err}).Warn("cookie reload failed")
		} else if len(cookies) > 0 {
			if err := s.SetCookies(ctx, cookies); err != nil {
				p.log.WithFields(logrus.Fields{"session": s.ID(), "error": err}).Warn("cookie apply failed")
			}
		}
		return s, nil
	}
}

// Release persists the session's cookies and returns it to the pool.
func (p *Pool) Release(s Session) {
	if s == nil {
		return
	}
	p.persist(s)
	if p.isClosed() {
		return
	}
	p.free <- s
}

func (p *Pool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Do leases a session for the duration of fn. The session is released on
// every exit path.
func (p *Pool) Do(ctx context.Context, fn func(ctx context.Context, s Session) error) error {
	s, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer p.Release(s)
	return fn(ctx, s)
}

func (p *Pool) persist(s Session) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	cookies, err := s.Cookies(ctx)
	if err != nil {
		p.log.WithFields(logrus.Fields{"session": s.ID(), "error": err}).Warn("read session cookies failed")
		return
	}
	if err := p.jar.Save(cookies); err != nil {
		p.log.WithFields(logrus.Fields{"session": s.ID(), "error": err}).Warn("save cookies failed")
	}
}

// Shutdown saves cookies from the first live session and tears everything
// down. Teardown errors are logged, never returned.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.done)
	sessions := p.sessions
	engine := p.engine
	p.sessions = nil
	p.engine = nil
	p.mu.Unlock()

	for _, s := range sessions {
		cookies, err := s.Cookies(ctx)
		if err != nil {
			continue
		}
		if err := p.jar.Save(cookies); err != nil {
			p.log.WithError(err).Warn("save cookies on shutdown failed")
		}
		break
	}

	for _, s := range sessions {
		if err := s.Close(); err != nil {
			p.log.WithFields(logrus.Fields{"session": s.ID(), "error": err}).Warn("session close failed")
		}
	}
	if engine != nil {
		if err := engine.Close(); err != nil {
			p.log.WithError(err).Warn("browser close failed")
		}
	}
	p.log.Info("session pool closed")
	return nil
}
