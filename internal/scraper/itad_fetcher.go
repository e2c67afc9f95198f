package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/progprogect/steamids-parser/internal/domain/item"
	"github.com/progprogect/steamids-parser/internal/pkg/logging"
)

const (
	reasonNoUUID       = "UUID not found in lookup"
	reasonNoCurrencies = "No currencies found in ITAD"
	reasonNoHistory    = "No history records found"
)

// KnownCurrencies returns currencies an earlier probe already confirmed for
// an item, or nil when the item still needs probing.
type KnownCurrencies func(ctx context.Context, itemID int64) []string

// ConfirmedCurrencies records the Stage 1 outcome for an item before Stage 2
// starts, so an interrupted item resumes without probing again.
type ConfirmedCurrencies func(ctx context.Context, itemID int64, codes []string) error

// ITADFetcher collects price history in two stages. Stage 1 probes storelow
// once per currency for the whole batch; Stage 2 fetches full history only
// for the currencies Stage 1 confirmed, per item, with bounded parallelism.
type ITADFetcher struct {
	client     *ITADClient
	currencies []Currency
	workers    int
	since      string
	known      KnownCurrencies
	confirmed  ConfirmedCurrencies
	log        logrus.FieldLogger
}

type ITADFetcherConfig struct {
	Currencies []Currency
	Workers    int
	Since      string
	Known      KnownCurrencies
	Confirmed  ConfirmedCurrencies
}

func NewITADFetcher(client *ITADClient, cfg ITADFetcherConfig, log logrus.FieldLogger) *ITADFetcher {
	if len(cfg.Currencies) == 0 {
		cfg.Currencies = Currencies()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 10
	}
	if cfg.Since == "" {
		cfg.Since = "2012-01-01T00:00:00Z"
	}
	return &ITADFetcher{
		client:     client,
		currencies: cfg.Currencies,
		workers:    cfg.Workers,
		since:      cfg.Since,
		known:      cfg.Known,
		confirmed:  cfg.Confirmed,
		log:        logging.OrStandard(log).WithField("fetcher", "itad"),
	}
}

// Fetch returns one result per handled id. A lookup failure fails the whole
// batch. Items skipped or cut short because ctx was cancelled are absent from
// the map.
func (f *ITADFetcher) Fetch(ctx context.Context, ids []int64) (map[int64]item.Result, error) {
	uuids, err := f.client.Lookup(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("itad lookup: %w", err)
	}

	out := make(map[int64]item.Result, len(ids))
	confirmed := make(map[int64]map[string]bool, len(ids))
	probe := make([]int64, 0, len(ids))
	for _, id := range ids {
		if uuids[id] == "" {
			out[id] = item.Failed(reasonNoUUID, "")
			continue
		}
		confirmed[id] = map[string]bool{}
		if f.known != nil {
			if codes := f.known(ctx, id); len(codes) > 0 {
				for _, c := range codes {
					confirmed[id][strings.ToUpper(c)] = true
				}
				continue
			}
		}
		probe = append(probe, id)
	}

	if len(probe) > 0 {
		if err := f.probe(ctx, probe, uuids, confirmed); err != nil {
			// cancelled mid-probe: Stage 2 must not run on a partial set
			return out, nil
		}
		f.recordConfirmed(ctx, probe, confirmed)
	}

	for _, id := range ids {
		if _, done := out[id]; done {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		codes := sortedKeys(confirmed[id])
		if len(codes) == 0 {
			out[id] = item.Failed(reasonNoCurrencies, "")
			continue
		}
		records := f.history(ctx, id, uuids[id], codes)
		if ctx.Err() != nil {
			// some history calls were aborted; the item goes back to pending
			break
		}
		if len(records) == 0 {
			out[id] = item.Result{
				Outcome:    item.OutcomeError,
				Reason:     reasonNoHistory,
				Currencies: codes,
				URL:        f.client.redact(f.client.HistoryURL(uuids[id], "", f.since)),
			}
			continue
		}
		out[id] = item.PriceValue(records, codes, f.client.redact(f.client.HistoryURL(uuids[id], "", f.since)))
	}
	return out, nil
}

func (f *ITADFetcher) recordConfirmed(ctx context.Context, ids []int64, confirmed map[int64]map[string]bool) {
	if f.confirmed == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, id := range ids {
		codes := sortedKeys(confirmed[id])
		if len(codes) == 0 {
			continue
		}
		if err := f.confirmed(ctx, id, codes); err != nil {
			f.log.WithFields(logrus.Fields{"item_id": id, "error": err}).Warn("confirmed currencies not recorded")
		}
	}
}

// probe is Stage 1. A failed currency is logged and skipped; it only costs
// that currency's confirmation.
func (f *ITADFetcher) probe(ctx context.Context, ids []int64, uuids map[int64]string, confirmed map[int64]map[string]bool) error {
	byUUID := make(map[string]int64, len(ids))
	list := make([]string, 0, len(ids))
	for _, id := range ids {
		byUUID[uuids[id]] = id
		list = append(list, uuids[id])
	}

	for _, cur := range f.currencies {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lows, err := f.client.StoreLow(ctx, cur.Country, list)
		if err != nil {
			f.log.WithFields(logrus.Fields{"currency": cur.Code, "country": cur.Country, "error": err}).Warn("storelow probe failed")
			continue
		}
		matched := 0
		for _, game := range lows {
			id, ok := byUUID[game.ID]
			if !ok {
				continue
			}
			for _, low := range game.Lows {
				if strings.EqualFold(low.Price.Currency, cur.Code) {
					confirmed[id][cur.Code] = true
					matched++
					break
				}
			}
		}
		f.log.WithFields(logrus.Fields{"currency": cur.Code, "games": len(lows), "matched": matched}).Debug("storelow probe")
	}
	return nil
}

// history is Stage 2 for one item.
func (f *ITADFetcher) history(ctx context.Context, itemID int64, uuid string, codes []string) []item.PricePoint {
	var (
		mu      sync.Mutex
		records []item.PricePoint
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.workers)

	for _, code := range codes {
		cur, ok := LookupCurrency(code)
		if !ok {
			continue
		}
		g.Go(func() error {
			entries, err := f.client.History(gctx, uuid, cur.Country, f.since)
			if err != nil {
				f.log.WithFields(logrus.Fields{"item_id": itemID, "currency": cur.Code, "error": err}).Warn("history fetch failed")
				return nil
			}
			points := parseHistory(itemID, cur, entries)
			mu.Lock()
			records = append(records, points...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(records, func(i, j int) bool {
		if records[i].CurrencyCode != records[j].CurrencyCode {
			return records[i].CurrencyCode < records[j].CurrencyCode
		}
		return records[i].RecordedAt < records[j].RecordedAt
	})
	return records
}

// parseHistory keeps entries whose price is in cur. Entries in another
// currency are dropped without error.
func parseHistory(itemID int64, cur Currency, entries []ITADHistoryEntry) []item.PricePoint {
	out := make([]item.PricePoint, 0, len(entries))
	for _, e := range entries {
		if e.Deal == nil || e.Deal.Price == nil || len(e.Timestamp) == 0 {
			continue
		}
		if c := strings.TrimSpace(e.Deal.Price.Currency); c != "" && !strings.EqualFold(c, cur.Code) {
			continue
		}
		var ts any
		if err := json.Unmarshal(e.Timestamp, &ts); err != nil {
			continue
		}
		recorded, err := normalizeAny(ts)
		if err != nil {
			continue
		}
		out = append(out, item.PricePoint{
			ItemID:         itemID,
			RecordedAt:     recorded,
			Price:          e.Deal.Price.Amount,
			CurrencyCode:   cur.Code,
			CurrencySymbol: cur.Symbol,
			CurrencyName:   cur.Name,
		})
	}
	return out
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
