package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/progprogect/steamids-parser/internal/pkg/logging"
)

const (
	DefaultITADBaseURL = "https://api.isthereanydeal.com"
	steamShopID        = 61
)

type ITADClientConfig struct {
	BaseURL           string
	APIKey            string
	RPS               float64
	MaxRetries        int
	DefaultRetryAfter time.Duration
	Timeout           time.Duration
	UserAgent         string
}

// ITADClient talks to the IsThereAnyDeal v2 API. Every request passes through
// one shared limiter; 429 answers wait Retry-After times the attempt number.
type ITADClient struct {
	baseURL    string
	apiKey     string
	userAgent  string
	client     *http.Client
	limiter    *RateLimiter
	retries    int
	retryAfter time.Duration
	log        logrus.FieldLogger
}

func NewITADClient(cfg ITADClientConfig, log logrus.FieldLogger) *ITADClient {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = DefaultITADBaseURL
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.DefaultRetryAfter <= 0 {
		cfg.DefaultRetryAfter = 60 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "SteamParser/1.0"
	}
	return &ITADClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		userAgent:  cfg.UserAgent,
		client:     &http.Client{Timeout: cfg.Timeout},
		limiter:    NewRateLimiter(cfg.RPS),
		retries:    cfg.MaxRetries,
		retryAfter: cfg.DefaultRetryAfter,
		log:        logging.OrStandard(log).WithField("client", "itad"),
	}
}

type ITADPrice struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

type ITADStoreLow struct {
	ID   string `json:"id"`
	Lows []struct {
		Price ITADPrice `json:"price"`
	} `json:"lows"`
}

type ITADHistoryEntry struct {
	Timestamp json.RawMessage `json:"timestamp"`
	Deal      *struct {
		Price *ITADPrice `json:"price"`
	} `json:"deal"`
}

func (c *ITADClient) endpoint(path string, q url.Values) string {
	if q == nil {
		q = url.Values{}
	}
	if c.apiKey != "" {
		q.Set("key", c.apiKey)
	}
	u := c.baseURL + path
	if enc := q.Encode(); enc != "" {
		u += "?" + enc
	}
	return u
}

// redact drops the api key so URLs can be logged and stored.
func (c *ITADClient) redact(u string) string {
	if c.apiKey == "" {
		return u
	}
	return strings.ReplaceAll(u, "key="+url.QueryEscape(c.apiKey), "key=REDACTED")
}

func (c *ITADClient) policy() retryPolicy {
	return retryPolicy{
		Attempts: c.retries,
		Limiter:  c.limiter,
		Retryable: func(status int) bool {
			return status == http.StatusTooManyRequests
		},
		Backoff: func(attempt int, status int, retryAfter time.Duration) time.Duration {
			if status == 0 {
				return time.Duration(attempt+1) * time.Second
			}
			if retryAfter <= 0 {
				retryAfter = c.retryAfter
			}
			return retryAfter * time.Duration(attempt+1)
		},
	}
}

func (c *ITADClient) do(ctx context.Context, method, u string, body any, out any) error {
	spec := requestSpec{
		Method:  method,
		URL:     u,
		Headers: map[string]string{"User-Agent": c.userAgent, "Accept": "application/json"},
	}
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		spec.Body = b
		spec.Headers["Content-Type"] = "application/json"
	}
	raw, err := doWithRetry(ctx, c.client, spec, c.policy(), c.log)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, c.redact(u), err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s: %w", c.redact(u), err)
	}
	return nil
}

// Lookup maps Steam app ids to ITAD game UUIDs. Unknown apps are absent from
// the result.
func (c *ITADClient) Lookup(ctx context.Context, appIDs []int64) (map[int64]string, error) {
	body := make([]string, 0, len(appIDs))
	for _, id := range appIDs {
		body = append(body, "app/"+strconv.FormatInt(id, 10))
	}

	var raw map[string]json.RawMessage
	u := c.endpoint(fmt.Sprintf("/lookup/id/shop/%d/v1", steamShopID), nil)
	if err := c.do(ctx, http.MethodPost, u, body, &raw); err != nil {
		return nil, err
	}

	out := make(map[int64]string, len(raw))
	for key, v := range raw {
		id, err := strconv.ParseInt(key[strings.LastIndex(key, "/")+1:], 10, 64)
		if err != nil {
			continue
		}
		if uuid := decodeLookupValue(v); uuid != "" {
			out[id] = uuid
		}
	}
	return out, nil
}

// decodeLookupValue accepts "uuid", {"id": "uuid"} or null.
func decodeLookupValue(v json.RawMessage) string {
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(v, &obj); err == nil {
		return strings.TrimSpace(obj.ID)
	}
	return ""
}

// StoreLow returns the lowest recorded Steam price per game for one country.
func (c *ITADClient) StoreLow(ctx context.Context, country string, uuids []string) ([]ITADStoreLow, error) {
	q := url.Values{}
	q.Set("country", country)
	q.Set("shops", strconv.Itoa(steamShopID))

	var out []ITADStoreLow
	if err := c.do(ctx, http.MethodPost, c.endpoint("/games/storelow/v2", q), uuids, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// History returns every Steam price change for one game and country since
// the given RFC 3339 instant.
func (c *ITADClient) History(ctx context.Context, uuid, country, since string) ([]ITADHistoryEntry, error) {
	var out []ITADHistoryEntry
	if err := c.do(ctx, http.MethodGet, c.HistoryURL(uuid, country, since), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ITADClient) HistoryURL(uuid, country, since string) string {
	q := url.Values{}
	q.Set("id", uuid)
	q.Set("country", country)
	q.Set("shops", strconv.Itoa(steamShopID))
	if since != "" {
		q.Set("since", since)
	}
	return c.endpoint("/games/history/v2", q)
}
