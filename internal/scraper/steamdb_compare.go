package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/progprogect/steamids-parser/internal/browser"
	"github.com/progprogect/steamids-parser/internal/domain/item"
	"github.com/progprogect/steamids-parser/internal/pkg/logging"
)

const (
	DefaultCompareURL  = "https://steamdb.info/charts/?compare="
	DefaultGraphMaxURL = "https://steamdb.info/api/GetGraphMax/"
)

// SessionLeaser hands out a browser session for the duration of fn.
type SessionLeaser interface {
	Do(ctx context.Context, fn func(ctx context.Context, s browser.Session) error) error
}

type SteamDBCompareConfig struct {
	CompareURL    string
	GraphURL      string
	ChallengeWait time.Duration
	IdleQuiet     time.Duration
	IdleTimeout   time.Duration
	ResponseWait  time.Duration
}

// SteamDBCompareFetcher loads the multi-app compare chart in a pooled browser
// session and reads each app's GetGraphMax response. Responses missed by the
// interceptor are recovered by waiting for an in-flight response, then a
// direct request with the session cookies, then a fetch() inside the page.
type SteamDBCompareFetcher struct {
	pool SessionLeaser
	cfg  SteamDBCompareConfig
	log  logrus.FieldLogger
}

func NewSteamDBCompareFetcher(pool SessionLeaser, cfg SteamDBCompareConfig, log logrus.FieldLogger) *SteamDBCompareFetcher {
	if cfg.CompareURL == "" {
		cfg.CompareURL = DefaultCompareURL
	}
	if cfg.GraphURL == "" {
		cfg.GraphURL = DefaultGraphMaxURL
	}
	if cfg.ChallengeWait < 0 {
		cfg.ChallengeWait = 0
	}
	if cfg.IdleQuiet <= 0 {
		cfg.IdleQuiet = 500 * time.Millisecond
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 30 * time.Second
	}
	if cfg.ResponseWait <= 0 {
		cfg.ResponseWait = 30 * time.Second
	}
	return &SteamDBCompareFetcher{
		pool: pool,
		cfg:  cfg,
		log:  logging.OrStandard(log).WithField("fetcher", "steamdb_compare"),
	}
}

func (f *SteamDBCompareFetcher) compareURL(ids []int64) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, strconv.FormatInt(id, 10))
	}
	return f.cfg.CompareURL + strings.Join(parts, ",")
}

func (f *SteamDBCompareFetcher) graphURL(id int64) string {
	return f.cfg.GraphURL + "?appid=" + strconv.FormatInt(id, 10)
}

// graphAppID extracts the appid of a GetGraphMax URL, or 0.
func graphAppID(raw string) int64 {
	if !strings.Contains(raw, "GetGraphMax") {
		return 0
	}
	u, err := url.Parse(raw)
	if err != nil {
		return 0
	}
	id, err := strconv.ParseInt(u.Query().Get("appid"), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// Fetch processes the whole batch on one page. A failure to lease a session
// or load the compare page fails the batch; items left unhandled because ctx
// ended are absent from the map.
func (f *SteamDBCompareFetcher) Fetch(ctx context.Context, ids []int64) (map[int64]item.Result, error) {
	out := make(map[int64]item.Result, len(ids))
	err := f.pool.Do(ctx, func(ctx context.Context, s browser.Session) error {
		pg, err := s.NewPage(ctx)
		if err != nil {
			return fmt.Errorf("open page: %w", err)
		}
		defer func() {
			if cerr := pg.Close(); cerr != nil {
				f.log.WithError(cerr).Debug("page close failed")
			}
		}()

		var (
			mu       sync.Mutex
			captured = make(map[int64]browser.Response, len(ids))
		)
		pg.OnResponse(func(u string) bool { return graphAppID(u) > 0 }, func(r browser.Response) {
			if r.Status != http.StatusOK {
				return
			}
			mu.Lock()
			captured[graphAppID(r.URL)] = r
			mu.Unlock()
		})

		target := f.compareURL(ids)
		f.log.WithFields(logrus.Fields{"session": s.ID(), "items": len(ids)}).Debug("opening compare page")
		if err := pg.Navigate(ctx, target); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("load compare page: %w", err)
		}
		if err := sleepCtx(ctx, f.cfg.ChallengeWait); err != nil {
			return nil
		}
		if err := pg.WaitNetworkIdle(ctx, f.cfg.IdleQuiet, f.cfg.IdleTimeout); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			f.log.WithError(err).Debug("network idle wait ended, continuing")
		}

		for _, id := range ids {
			if ctx.Err() != nil {
				return nil
			}
			mu.Lock()
			r, ok := captured[id]
			mu.Unlock()
			if ok {
				f.log.WithFields(logrus.Fields{"item_id": id, "via": "intercept", "confidence": "high"}).Debug("graph data captured")
			} else {
				r, ok = f.recover(ctx, pg, id)
			}
			if ctx.Err() != nil {
				return nil
			}
			out[id] = f.result(id, r, ok)
		}
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return out, nil
		}
		return nil, fmt.Errorf("steamdb compare: %w", err)
	}
	return out, nil
}

// recover walks the fallbacks in order of decreasing confidence.
func (f *SteamDBCompareFetcher) recover(ctx context.Context, pg browser.Page, id int64) (browser.Response, bool) {
	entry := f.log.WithField("item_id", id)
	match := func(u string) bool { return graphAppID(u) == id }

	if r, err := pg.WaitResponse(ctx, match, f.cfg.ResponseWait); err == nil && r.Status == http.StatusOK {
		entry.WithFields(logrus.Fields{"via": "wait_response", "confidence": "medium"}).Info("graph data recovered")
		return r, true
	} else if err != nil {
		entry.WithError(err).Debug("no in-flight graph response")
	}
	if ctx.Err() != nil {
		return browser.Response{}, false
	}

	api := f.graphURL(id)
	var last browser.Response
	r, err := pg.Request(ctx, api)
	switch {
	case err != nil:
		entry.WithError(err).Debug("direct graph request failed")
	case r.Status == http.StatusOK:
		entry.WithFields(logrus.Fields{"via": "direct_request", "confidence": "low"}).Warn("graph data recovered")
		return r, true
	default:
		last = r
		entry.WithField("status", r.Status).Warn("direct graph request rejected")
	}
	if ctx.Err() != nil {
		return browser.Response{}, false
	}

	r, err = pg.EvalFetch(ctx, api)
	switch {
	case err != nil:
		entry.WithError(err).Debug("in-page graph fetch failed")
	case r.Status == http.StatusOK:
		entry.WithFields(logrus.Fields{"via": "page_fetch", "confidence": "lowest"}).Warn("graph data recovered")
		return r, true
	default:
		last = r
	}
	entry.Warn("all graph fallbacks failed")
	return last, false
}

func (f *SteamDBCompareFetcher) result(id int64, r browser.Response, ok bool) item.Result {
	u := f.graphURL(id)
	if !ok {
		if r.Status == http.StatusNotFound {
			return item.NotFound("no data (404)", u)
		}
		if r.Status != 0 {
			return item.Failed(fmt.Sprintf("graph request failed with status %d", r.Status), u)
		}
		return item.Failed("no graph response captured", u)
	}
	points, err := parseGraph(id, r.Body)
	if err != nil {
		return item.Failed(err.Error(), u)
	}
	return item.CCUValue(points, u)
}

var errGraphShape = errors.New("unrecognised graph payload")

// parseGraph accepts a list of {time|timestamp|x, players|y|value} objects or
// [timestamp, players] pairs, optionally wrapped in {"data": ...}.
func parseGraph(id int64, body []byte) ([]item.CCUPoint, error) {
	var raw any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("invalid graph json: %w", err)
	}
	if m, ok := raw.(map[string]any); ok {
		raw = m["data"]
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, errGraphShape
	}

	out := make([]item.CCUPoint, 0, len(list))
	for _, el := range list {
		var ts, players any
		switch v := el.(type) {
		case map[string]any:
			ts = firstKey(v, "time", "timestamp", "x")
			players = firstKey(v, "players", "y", "value")
		case []any:
			if len(v) < 2 {
				continue
			}
			ts, players = v[0], v[1]
		default:
			continue
		}
		n, ok := players.(float64)
		if !ok || ts == nil {
			continue
		}
		recorded, err := normalizeAny(ts)
		if err != nil {
			continue
		}
		out = append(out, item.CCUPoint{ItemID: id, RecordedAt: recorded, Players: int(n), ValueType: item.ValueTypeAvg})
	}
	return out, nil
}

func firstKey(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	return nil
}
