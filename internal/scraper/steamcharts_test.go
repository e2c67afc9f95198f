package scraper

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"github.com/progprogect/steamids-parser/internal/domain/item"
)

const peakTableHTML = `<html><body>
<table class="common-table">
<thead><tr><th>Month</th><th>Avg. Players</th><th>Gain</th><th>% Gain</th><th>Peak Players</th></tr></thead>
<tbody>
<tr><td>Last 30 Days</td><td>10.2</td><td>1</td><td>1%</td><td>50</td></tr>
<tr><td>January 2024</td><td>12.5</td><td>-</td><td>-</td><td>1,234</td></tr>
<tr><td>December 2023</td><td>11.0</td><td>-</td><td>-</td><td>900</td></tr>
</tbody>
</table>
</body></html>`

func newSteamChartsServer(t *testing.T) (*httptest.Server, *int32) {
	t.Helper()
	var throttled int32
	mux := http.NewServeMux()
	mux.HandleFunc("/app/1/chart-data.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[[1600000000000, 100], [1600000060000, 120.0]]`)
	})
	mux.HandleFunc("/app/2/chart-data.json", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	mux.HandleFunc("/app/3/chart-data.json", func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&throttled, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `[[1600000000, 7]]`)
	})
	mux.HandleFunc("/app/4/chart-data.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[]`)
	})
	mux.HandleFunc("/app/4", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, peakTableHTML)
	})
	mux.HandleFunc("/app/5/chart-data.json", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error":true}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &throttled
}

func TestSteamChartsFetcher_Fetch(t *testing.T) {
	srv, throttled := newSteamChartsServer(t)
	log, _ := test.NewNullLogger()

	f := NewSteamChartsFetcher(SteamChartsConfig{
		APIURL:       srv.URL + "/app/%d/chart-data.json",
		PageURL:      srv.URL + "/app/%d",
		Retries:      3,
		RetryDelay:   10 * time.Millisecond,
		Workers:      2,
		Timeout:      5 * time.Second,
		PeakFallback: true,
	}, log)

	got, err := f.Fetch(context.Background(), []int64{1, 2, 3, 4, 5})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("expected 5 results, got %d", len(got))
	}

	r1 := got[1]
	if !r1.OK() || len(r1.CCU) != 2 {
		t.Fatalf("item 1: expected 2 points, got %+v", r1)
	}
	if r1.CCU[0].RecordedAt != "2020-09-13 12:26:40" || r1.CCU[0].Players != 100 || r1.CCU[0].ValueType != item.ValueTypeAvg {
		t.Fatalf("item 1: unexpected first point %+v", r1.CCU[0])
	}

	if got[2].Outcome != item.OutcomeNotFound {
		t.Fatalf("item 2: expected not found, got %s", got[2].Outcome)
	}
	if got[2].FailureReason() != "not found: no data (404)" {
		t.Fatalf("item 2: unexpected reason %q", got[2].FailureReason())
	}

	if !got[3].OK() || *throttled != 2 {
		t.Fatalf("item 3: expected success after one 429 retry, got %+v (calls=%d)", got[3], *throttled)
	}

	r4 := got[4]
	if !r4.OK() || len(r4.CCU) != 2 {
		t.Fatalf("item 4: expected 2 peak points from the table, got %+v", r4)
	}
	if r4.CCU[0].RecordedAt != "2024-01-01 00:00:00" || r4.CCU[0].Players != 1234 || r4.CCU[0].ValueType != item.ValueTypePeak {
		t.Fatalf("item 4: unexpected peak point %+v", r4.CCU[0])
	}
	if r4.URL != srv.URL+"/app/4" {
		t.Fatalf("item 4: expected page url, got %q", r4.URL)
	}

	if got[5].Outcome != item.OutcomeError {
		t.Fatalf("item 5: expected error for malformed payload, got %s", got[5].Outcome)
	}
}

func TestSteamChartsFetcher_EmptyWithoutFallbackIsNotOK(t *testing.T) {
	srv, _ := newSteamChartsServer(t)
	log, _ := test.NewNullLogger()

	f := NewSteamChartsFetcher(SteamChartsConfig{
		APIURL:  srv.URL + "/app/%d/chart-data.json",
		PageURL: srv.URL + "/app/%d",
	}, log)
	got, err := f.Fetch(context.Background(), []int64{4})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if got[4].OK() {
		t.Fatalf("empty series must not count as success")
	}
	if got[4].FailureReason() != "no records returned" {
		t.Fatalf("unexpected reason %q", got[4].FailureReason())
	}
}

func TestSteamChartsFetcher_CancelledItemsAreAbsent(t *testing.T) {
	srv, _ := newSteamChartsServer(t)
	log, _ := test.NewNullLogger()

	f := NewSteamChartsFetcher(SteamChartsConfig{APIURL: srv.URL + "/app/%d/chart-data.json"}, log)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	got, err := f.Fetch(ctx, []int64{1, 2})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no results after cancellation, got %d", len(got))
	}
}
