package browser

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
)

type fakeSession struct {
	id       int
	mu       sync.Mutex
	cookies  map[string]Cookie
	closeErr error
	closed   bool
}

func newFakeSession(id int) *fakeSession {
	return &fakeSession{id: id, cookies: map[string]Cookie{}}
}

func (s *fakeSession) ID() int { return s.id }

func (s *fakeSession) Cookies(ctx context.Context) ([]Cookie, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Cookie, 0, len(s.cookies))
	for _, c := range s.cookies {
		out = append(out, c)
	}
	return out, nil
}

func (s *fakeSession) SetCookies(ctx context.Context, cookies []Cookie) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range cookies {
		s.cookies[c.key()] = c
	}
	return nil
}

func (s *fakeSession) has(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.cookies {
		if c.Name == name {
			return true
		}
	}
	return false
}

func (s *fakeSession) NewPage(ctx context.Context) (Page, error) { return nil, errors.New("no pages") }

func (s *fakeSession) Close() error {
	s.closed = true
	return s.closeErr
}

type fakeEngine struct {
	sessions []*fakeSession
	closeErr error
	closed   bool
}

func (e *fakeEngine) NewSession(ctx context.Context, id int) (Session, error) {
	s := newFakeSession(id)
	e.sessions = append(e.sessions, s)
	return s, nil
}

func (e *fakeEngine) Close() error {
	e.closed = true
	return e.closeErr
}

type fakeLauncher struct {
	failExecPath bool
	launches     []Options
	engine       *fakeEngine
}

func (l *fakeLauncher) Launch(ctx context.Context, opts Options) (Engine, error) {
	l.launches = append(l.launches, opts)
	if l.failExecPath && opts.ExecPath != "" {
		return nil, errors.New("exec: not found")
	}
	if l.engine == nil {
		l.engine = &fakeEngine{}
	}
	return l.engine, nil
}

func newTestPool(t *testing.T, size int, launcher *fakeLauncher) (*Pool, *CookieJar) {
	t.Helper()
	log, _ := test.NewNullLogger()
	jar := NewCookieJar(filepath.Join(t.TempDir(), "cookies.json"))
	p := NewPool(launcher, Options{PoolSize: size}, jar, log)
	if err := p.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return p, jar
}

func TestPool_AcquireBlocksUntilRelease(t *testing.T) {
	p, _ := newTestPool(t, 2, &fakeLauncher{})
	ctx := context.Background()

	s1, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire 1: %v", err)
	}
	s2, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire 2: %v", err)
	}

	got := make(chan Session, 1)
	go func() {
		s, err := p.Acquire(ctx)
		if err != nil {
			t.Errorf("acquire 3: %v", err)
		}
		got <- s
	}()

	select {
	case <-got:
		t.Fatalf("third acquire must block while every session is leased")
	case <-time.After(100 * time.Millisecond):
	}

	if err := s1.SetCookies(ctx, []Cookie{{Name: "cf_clearance", Value: "solved", Domain: ".steamdb.info", Path: "/"}}); err != nil {
		t.Fatalf("set cookie: %v", err)
	}
	p.Release(s1)

	var s3 Session
	select {
	case s3 = <-got:
	case <-time.After(time.Second):
		t.Fatalf("third acquire did not wake after release")
	}
	if s3.ID() != s1.ID() {
		t.Fatalf("expected the released session, got %d", s3.ID())
	}

	p.Release(s2)
	again, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	if again.ID() != s2.ID() {
		t.Fatalf("expected session %d, got %d", s2.ID(), again.ID())
	}
	if !again.(*fakeSession).has("cf_clearance") {
		t.Fatalf("cookies captured by a released session must reach the next lease")
	}
}

func TestPool_AcquireRespectsContext(t *testing.T) {
	p, _ := newTestPool(t, 1, &fakeLauncher{})
	if _, err := p.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := p.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestPool_DoReleasesOnError(t *testing.T) {
	p, jar := newTestPool(t, 1, &fakeLauncher{})
	boom := errors.New("boom")

	err := p.Do(context.Background(), func(ctx context.Context, s Session) error {
		_ = s.SetCookies(ctx, []Cookie{{Name: "sid", Value: "1", Domain: "steamdb.info", Path: "/"}})
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := p.Acquire(ctx); err != nil {
		t.Fatalf("session was not returned after a failed fetch: %v", err)
	}
	cookies, err := jar.Load()
	if err != nil || len(cookies) != 1 || cookies[0].Name != "sid" {
		t.Fatalf("expected persisted sid cookie, got %v (%v)", cookies, err)
	}
}

func TestPool_InitializeFallsBackToDefaultEngine(t *testing.T) {
	launcher := &fakeLauncher{failExecPath: true}
	log, _ := test.NewNullLogger()
	p := NewPool(launcher, Options{ExecPath: "/opt/missing/chrome", PoolSize: 2}, nil, log)
	if err := p.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if len(launcher.launches) != 2 || launcher.launches[1].ExecPath != "" {
		t.Fatalf("expected a second launch without exec path, got %+v", launcher.launches)
	}
	if p.Size() != 2 {
		t.Fatalf("expected 2 sessions, got %d", p.Size())
	}
}

func TestPool_InitializeLoadsPersistedCookies(t *testing.T) {
	dir := t.TempDir()
	jar := NewCookieJar(filepath.Join(dir, "cookies.json"))
	if err := jar.Save([]Cookie{{Name: "cf_clearance", Value: "x", Domain: ".steamdb.info", Path: "/"}}); err != nil {
		t.Fatalf("seed jar: %v", err)
	}
	launcher := &fakeLauncher{}
	log, _ := test.NewNullLogger()
	p := NewPool(launcher, Options{PoolSize: 3}, jar, log)
	if err := p.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	for _, s := range launcher.engine.sessions {
		if !s.has("cf_clearance") {
			t.Fatalf("session %d missing persisted cookie", s.id)
		}
	}
}

func TestPool_ShutdownSwallowsTeardownErrors(t *testing.T) {
	launcher := &fakeLauncher{engine: &fakeEngine{closeErr: errors.New("browser gone")}}
	p, jar := newTestPool(t, 2, launcher)
	for _, s := range launcher.engine.sessions {
		s.closeErr = errors.New("target closed")
	}
	_ = launcher.engine.sessions[0].SetCookies(context.Background(), []Cookie{{Name: "last", Value: "v", Domain: "steamdb.info", Path: "/"}})

	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown must not propagate teardown errors, got %v", err)
	}
	if !launcher.engine.closed {
		t.Fatalf("engine not closed")
	}
	for _, s := range launcher.engine.sessions {
		if !s.closed {
			t.Fatalf("session %d not closed", s.id)
		}
	}
	cookies, _ := jar.Load()
	if len(cookies) != 1 || cookies[0].Name != "last" {
		t.Fatalf("expected cookies saved on shutdown, got %v", cookies)
	}
	if _, err := p.Acquire(context.Background()); !errors.Is(err, ErrPoolClosed) {
		t.Fatalf("expected ErrPoolClosed after shutdown, got %v", err)
	}
}

func TestCookieJar_MergesByKey(t *testing.T) {
	jar := NewCookieJar(filepath.Join(t.TempDir(), "nested", "cookies.json"))
	if err := jar.Save([]Cookie{{Name: "a", Value: "1", Domain: "x", Path: "/"}, {Name: "b", Value: "1", Domain: "x", Path: "/"}}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := jar.Save([]Cookie{{Name: "a", Value: "2", Domain: "x", Path: "/"}}); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := jar.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 2 || got[0].Value != "2" || got[1].Name != "b" {
		t.Fatalf("unexpected merge result %+v", got)
	}
}
