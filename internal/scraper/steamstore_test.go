package scraper

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"github.com/progprogect/steamids-parser/internal/domain/item"
)

func TestSteamStoreFetcher_Fetch(t *testing.T) {
	var (
		mu    sync.Mutex
		calls = map[string]int{}
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		app, cc := r.URL.Query().Get("appids"), r.URL.Query().Get("cc")
		mu.Lock()
		calls[app]++
		mu.Unlock()
		switch {
		case app == "10" && cc == "US":
			fmt.Fprint(w, `{"10":{"success":true,"data":{"is_free":false,"price_overview":{"currency":"USD","initial":2999,"final":1999,"discount_percent":33}}}}`)
		case app == "10":
			// storefront answers in a different currency than requested
			fmt.Fprint(w, `{"10":{"success":true,"data":{"is_free":false,"price_overview":{"currency":"USD","initial":2999,"final":1999,"discount_percent":0}}}}`)
		case app == "20":
			fmt.Fprint(w, `{"20":{"success":true,"data":{"is_free":true}}}`)
		case app == "30":
			fmt.Fprint(w, `{"30":{"success":false}}`)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	log, _ := test.NewNullLogger()
	usd, _ := LookupCurrency("USD")
	eur, _ := LookupCurrency("EUR")
	gbp, _ := LookupCurrency("GBP")
	f := NewSteamStoreFetcher(SteamStoreConfig{
		BaseURL:    srv.URL,
		Workers:    3,
		RetryDelay: time.Millisecond,
		Currencies: []Currency{usd, eur, gbp},
	}, log)
	f.now = func() time.Time { return time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC) }

	got, err := f.Fetch(context.Background(), []int64{10, 20, 30, 40})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	r := got[10]
	if !r.OK() || len(r.Prices) != 1 {
		t.Fatalf("item 10: expected only the USD record, got %+v", r)
	}
	if p := r.Prices[0]; p.Price != 19.99 || p.CurrencyCode != "USD" || p.RecordedAt != "2025-05-01 12:00:00" {
		t.Fatalf("item 10: unexpected record %+v", p)
	}

	if got[20].OK() || got[20].FailureReason() != "free item, no price records" {
		t.Fatalf("item 20: expected free item failure, got %+v", got[20])
	}
	if calls["20"] != 1 {
		t.Fatalf("free item should stop after the first currency, got %d calls", calls["20"])
	}

	if got[30].Outcome != item.OutcomeNotFound {
		t.Fatalf("item 30: expected not found, got %+v", got[30])
	}
	if got[40].Outcome != item.OutcomeError {
		t.Fatalf("item 40: expected error, got %+v", got[40])
	}
}

func TestSteamStoreFetcher_RetriesThrottledAnswer(t *testing.T) {
	var (
		mu    sync.Mutex
		calls int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"10":{"success":true,"data":{"is_free":false,"price_overview":{"currency":"USD","initial":999,"final":999,"discount_percent":0}}}}`)
	}))
	defer srv.Close()

	log, _ := test.NewNullLogger()
	usd, _ := LookupCurrency("USD")
	f := NewSteamStoreFetcher(SteamStoreConfig{
		BaseURL:    srv.URL,
		Retries:    3,
		RetryDelay: time.Millisecond,
		Currencies: []Currency{usd},
	}, log)

	got, err := f.Fetch(context.Background(), []int64{10})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	r := got[10]
	if !r.OK() || len(r.Prices) != 1 || r.Prices[0].Price != 9.99 {
		t.Fatalf("expected the price after one retry, got %+v", r)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}
