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

	"github.com/progprogect/steamids-parser/internal/domain/item"
	"github.com/progprogect/steamids-parser/internal/pkg/logging"
)

const DefaultSteamStoreURL = "https://store.steampowered.com/api/appdetails"

var errFreeItem = errors.New("free item")

type SteamStoreConfig struct {
	BaseURL    string
	RPS        float64
	Workers    int
	Timeout    time.Duration
	Retries    int
	RetryDelay time.Duration
	UserAgent  string
	Currencies []Currency
}

// SteamStoreFetcher reads current prices from the store appdetails endpoint,
// one call per (item, currency). Free items produce no price records.
type SteamStoreFetcher struct {
	baseURL    string
	userAgent  string
	client     *http.Client
	limiter    *RateLimiter
	retries    int
	retryDelay time.Duration
	workers    int
	currencies []Currency
	now        func() time.Time
	log        logrus.FieldLogger
}

func NewSteamStoreFetcher(cfg SteamStoreConfig, log logrus.FieldLogger) *SteamStoreFetcher {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultSteamStoreURL
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 20
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Retries <= 0 {
		cfg.Retries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
	}
	if len(cfg.Currencies) == 0 {
		cfg.Currencies = Currencies()
	}
	return &SteamStoreFetcher{
		baseURL:    cfg.BaseURL,
		userAgent:  cfg.UserAgent,
		client:     &http.Client{Timeout: cfg.Timeout},
		limiter:    NewRateLimiter(cfg.RPS),
		retries:    cfg.Retries,
		retryDelay: cfg.RetryDelay,
		workers:    cfg.Workers,
		currencies: cfg.Currencies,
		now:        func() time.Time { return time.Now().UTC() },
		log:        logging.OrStandard(log).WithField("fetcher", "steamstore"),
	}
}

type StorePrice struct {
	Currency string
	Final    float64
	Initial  float64
	Discount int
	Free     bool
}

type appDetails struct {
	Success bool `json:"success"`
	Data    struct {
		IsFree        bool `json:"is_free"`
		PriceOverview *struct {
			Currency        string `json:"currency"`
			Initial         int64  `json:"initial"`
			Final           int64  `json:"final"`
			DiscountPercent int    `json:"discount_percent"`
		} `json:"price_overview"`
	} `json:"data"`
}

func (f *SteamStoreFetcher) priceURL(appID int64, country string) string {
	q := url.Values{}
	q.Set("appids", strconv.FormatInt(appID, 10))
	q.Set("cc", country)
	q.Set("l", "en")
	return f.baseURL + "?" + q.Encode()
}

// Price returns ErrNotFound when the store has no price for the country.
func (f *SteamStoreFetcher) Price(ctx context.Context, appID int64, country string) (StorePrice, error) {
	u := f.priceURL(appID, country)
	body, err := doWithRetry(ctx, f.client, requestSpec{
		URL:     u,
		Headers: map[string]string{"User-Agent": f.userAgent},
	}, retryPolicy{
		Attempts:  f.retries,
		Limiter:   f.limiter,
		Backoff:   exponentialBackoff(f.retryDelay),
		Retryable: retryThrottledAndServerErrors,
	}, f.log)
	if err != nil {
		return StorePrice{}, err
	}

	var payload map[string]appDetails
	if err := json.Unmarshal(body, &payload); err != nil {
		return StorePrice{}, fmt.Errorf("decode appdetails: %w", err)
	}
	d, ok := payload[strconv.FormatInt(appID, 10)]
	if !ok || !d.Success {
		return StorePrice{}, ErrNotFound
	}
	if d.Data.IsFree {
		return StorePrice{Free: true}, nil
	}
	po := d.Data.PriceOverview
	if po == nil {
		return StorePrice{}, ErrNotFound
	}
	return StorePrice{
		Currency: strings.ToUpper(po.Currency),
		Final:    float64(po.Final) / 100,
		Initial:  float64(po.Initial) / 100,
		Discount: po.DiscountPercent,
	}, nil
}

// Fetch stamps every record of the batch with the same capture time.
func (f *SteamStoreFetcher) Fetch(ctx context.Context, ids []int64) (map[int64]item.Result, error) {
	recordedAt := f.now().Format(TimestampLayout)

	var (
		mu  sync.Mutex
		out = make(map[int64]item.Result, len(ids))
	)
	tasks := make([]Task, 0, len(ids))
	for _, id := range ids {
		tasks = append(tasks, func(ctx context.Context) error {
			res, done := f.fetchItem(ctx, id, recordedAt)
			if !done {
				return nil
			}
			mu.Lock()
			out[id] = res
			mu.Unlock()
			return nil
		})
	}

	pool := NewWorkerPool(f.workers, f.workers)
	pool.RunAll(ctx, tasks)
	return out, nil
}

// fetchItem reports done=false when ctx ended before every currency was
// tried, so the item stays eligible for the next run.
func (f *SteamStoreFetcher) fetchItem(ctx context.Context, id int64, recordedAt string) (item.Result, bool) {
	var (
		points  []item.PricePoint
		codes   []string
		lastErr error
	)
	for _, cur := range f.currencies {
		if ctx.Err() != nil {
			return item.Result{}, false
		}
		p, err := f.Price(ctx, id, cur.Country)
		if err != nil {
			if ctx.Err() != nil {
				return item.Result{}, false
			}
			if !errors.Is(err, ErrNotFound) {
				lastErr = err
				f.log.WithFields(logrus.Fields{"item_id": id, "currency": cur.Code, "error": err}).Debug("store price failed")
			}
			continue
		}
		if p.Free {
			lastErr = errFreeItem
			break
		}
		if p.Currency != cur.Code {
			continue
		}
		points = append(points, item.PricePoint{
			ItemID:         id,
			RecordedAt:     recordedAt,
			Price:          p.Final,
			CurrencyCode:   cur.Code,
			CurrencySymbol: cur.Symbol,
			CurrencyName:   cur.Name,
		})
		codes = append(codes, cur.Code)
	}

	u := f.priceURL(id, "")
	switch {
	case len(points) > 0:
		return item.PriceValue(points, codes, u), true
	case errors.Is(lastErr, errFreeItem):
		return item.Failed("free item, no price records", u), true
	case lastErr != nil:
		return item.Failed(lastErr.Error(), u), true
	default:
		return item.NotFound("no store price in any currency", u), true
	}
}
