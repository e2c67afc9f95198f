package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/sirupsen/logrus"

	"github.com/progprogect/steamids-parser/internal/domain/item"
	"github.com/progprogect/steamids-parser/internal/pkg/logging"
)

const (
	DefaultSteamChartsAPIURL  = "https://steamcharts.com/app/%d/chart-data.json"
	DefaultSteamChartsPageURL = "https://steamcharts.com/app/%d"
)

type SteamChartsConfig struct {
	APIURL       string
	PageURL      string
	RPS          float64
	Retries      int
	RetryDelay   time.Duration
	Workers      int
	Timeout      time.Duration
	UserAgent    string
	PeakFallback bool
}

// SteamChartsFetcher reads the average-player series from chart-data.json.
// When that series is empty it can fall back to the monthly peak table on
// the app page.
type SteamChartsFetcher struct {
	cfg     SteamChartsConfig
	client  *http.Client
	limiter *RateLimiter
	log     logrus.FieldLogger
}

func NewSteamChartsFetcher(cfg SteamChartsConfig, log logrus.FieldLogger) *SteamChartsFetcher {
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultSteamChartsAPIURL
	}
	if cfg.PageURL == "" {
		cfg.PageURL = DefaultSteamChartsPageURL
	}
	if cfg.Retries <= 0 {
		cfg.Retries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 10
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &SteamChartsFetcher{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: NewRateLimiter(cfg.RPS),
		log:     logging.OrStandard(log).WithField("fetcher", "steamcharts"),
	}
}

func (f *SteamChartsFetcher) Fetch(ctx context.Context, ids []int64) (map[int64]item.Result, error) {
	var (
		mu  sync.Mutex
		out = make(map[int64]item.Result, len(ids))
	)
	tasks := make([]Task, 0, len(ids))
	for _, id := range ids {
		tasks = append(tasks, func(ctx context.Context) error {
			res, done := f.fetchItem(ctx, id)
			if !done {
				return nil
			}
			mu.Lock()
			out[id] = res
			mu.Unlock()
			return nil
		})
	}
	NewWorkerPool(f.cfg.Workers, f.cfg.Workers).RunAll(ctx, tasks)
	return out, nil
}

func (f *SteamChartsFetcher) fetchItem(ctx context.Context, id int64) (item.Result, bool) {
	u := fmt.Sprintf(f.cfg.APIURL, id)
	body, err := doWithRetry(ctx, f.client, requestSpec{
		URL:     u,
		Headers: map[string]string{"User-Agent": f.cfg.UserAgent, "Accept": "application/json"},
	}, retryPolicy{
		Attempts:  f.cfg.Retries,
		Limiter:   f.limiter,
		Backoff:   exponentialBackoff(f.cfg.RetryDelay),
		Retryable: retryThrottledAndServerErrors,
	}, f.log)
	if ctx.Err() != nil {
		return item.Result{}, false
	}
	if errors.Is(err, ErrNotFound) {
		f.log.WithField("item_id", id).Info("no steamcharts data (404)")
		return item.NotFound("no data (404)", u), true
	}
	if err != nil {
		return item.Failed(err.Error(), u), true
	}

	points, err := parseChartData(id, body)
	if err != nil {
		return item.Failed(err.Error(), u), true
	}
	if len(points) == 0 && f.cfg.PeakFallback {
		page := fmt.Sprintf(f.cfg.PageURL, id)
		peaks, perr := f.peakTable(ctx, page, id)
		if perr != nil {
			f.log.WithFields(logrus.Fields{"item_id": id, "error": perr}).Warn("peak table fallback failed")
		}
		if len(peaks) > 0 {
			return item.CCUValue(peaks, page), true
		}
	}
	return item.CCUValue(points, u), true
}

// parseChartData reads [[unix_ms, players], ...].
func parseChartData(id int64, body []byte) ([]item.CCUPoint, error) {
	var raw [][]float64
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("invalid chart data: %w", err)
	}
	out := make([]item.CCUPoint, 0, len(raw))
	for _, pair := range raw {
		if len(pair) < 2 {
			continue
		}
		ts, err := NormalizeUnix(pair[0])
		if err != nil {
			continue
		}
		out = append(out, item.CCUPoint{ItemID: id, RecordedAt: ts, Players: int(pair[1]), ValueType: item.ValueTypeAvg})
	}
	return out, nil
}

var monthLayouts = []string{"January 2006", "Jan 2006", "2006-01", "2006-01-02"}

// peakTable scrapes the "Peak Players" column of the monthly table. Each
// month is stored on its first day.
func (f *SteamChartsFetcher) peakTable(ctx context.Context, pageURL string, id int64) ([]item.CCUPoint, error) {
	if err := f.limiter.Acquire(ctx); err != nil {
		return nil, err
	}

	c := colly.NewCollector(colly.AllowURLRevisit())
	c.SetRequestTimeout(f.cfg.Timeout)

	var (
		out    []item.CCUPoint
		parsed bool
		reqErr error
	)

	c.OnRequest(func(r *colly.Request) {
		if f.cfg.UserAgent != "" {
			r.Headers.Set("User-Agent", f.cfg.UserAgent)
		}
	})

	c.OnHTML("table", func(e *colly.HTMLElement) {
		if parsed {
			return
		}
		if !e.DOM.HasClass("common-table") && !containsFold(e.ChildTexts("th"), "peak") {
			return
		}
		parsed = true
		e.ForEach("tr", func(_ int, row *colly.HTMLElement) {
			cells := row.ChildTexts("td")
			if len(cells) < 5 {
				return
			}
			month := strings.TrimSpace(cells[0])
			lower := strings.ToLower(month)
			if strings.Contains(lower, "last") || strings.Contains(lower, "days") {
				return
			}
			peak, err := strconv.Atoi(strings.ReplaceAll(strings.TrimSpace(cells[4]), ",", ""))
			if err != nil {
				return
			}
			for _, layout := range monthLayouts {
				t, err := time.Parse(layout, month)
				if err != nil {
					continue
				}
				first := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
				out = append(out, item.CCUPoint{
					ItemID:     id,
					RecordedAt: first.Format(TimestampLayout),
					Players:    peak,
					ValueType:  item.ValueTypePeak,
				})
				return
			}
		})
	})

	c.OnError(func(r *colly.Response, err error) {
		reqErr = err
	})

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err := c.Visit(pageURL); err != nil {
		return nil, err
	}
	c.Wait()
	if reqErr != nil {
		return nil, reqErr
	}
	return out, nil
}

func containsFold(list []string, needle string) bool {
	for _, s := range list {
		if strings.Contains(strings.ToLower(s), needle) {
			return true
		}
	}
	return false
}
