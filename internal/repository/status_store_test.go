package repository

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/progprogect/steamids-parser/internal/database"
	"github.com/progprogect/steamids-parser/internal/database/migration"
	"github.com/progprogect/steamids-parser/internal/database/sqlite"
	"github.com/progprogect/steamids-parser/internal/domain/item"
)

func newTestStore(t *testing.T) (*SQLStatusStore, database.DB) {
	t.Helper()
	ctx := context.Background()
	db, err := sqlite.OpenMemory(ctx)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := (migration.Runner{Dialect: database.DialectSQLite}).Run(ctx, db.SQLDB()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	s, err := NewStatusStore(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s, db
}

func mustState(t *testing.T, s *SQLStatusStore, src item.Source, id int64) item.State {
	t.Helper()
	st, err := s.Get(context.Background(), src, id)
	if err != nil {
		t.Fatalf("get %d: %v", id, err)
	}
	return st.State
}

func TestInitPending_NeverOverwritesExistingState(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	n, err := s.InitPending(ctx, item.SourceITAD, []int64{1, 2, 3})
	if err != nil || n != 3 {
		t.Fatalf("init: n=%d err=%v", n, err)
	}
	if err := s.MarkCompleted(ctx, item.SourceITAD, 2, 5); err != nil {
		t.Fatal(err)
	}

	n, err = s.InitPending(ctx, item.SourceITAD, []int64{2, 3, 4})
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected only id 4 to be inserted, got %d", n)
	}
	if got := mustState(t, s, item.SourceITAD, 2); got != item.StateCompleted {
		t.Fatalf("state of 2 overwritten: %s", got)
	}

	// other sources keep their own rows
	if _, err := s.Get(ctx, item.SourceCCU, 2); !errors.Is(err, item.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestResetStuck_ProcessingBackToPending(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	_, _ = s.InitPending(ctx, item.SourceITAD, []int64{10, 11, 12})
	if err := s.MarkProcessing(ctx, item.SourceITAD, []int64{10, 11}); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkCompleted(ctx, item.SourceITAD, 11, 1); err != nil {
		t.Fatal(err)
	}

	n, err := s.ResetStuck(ctx, item.SourceITAD)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 reset row, got %d", n)
	}
	ids, err := s.PendingIDs(ctx, item.SourceITAD)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 || ids[0] != 10 || ids[1] != 12 {
		t.Fatalf("unexpected pending ids %v", ids)
	}
}

func TestMarkProcessing_OnlyFromPending(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	_, _ = s.InitPending(ctx, item.SourceSteamPrice, []int64{1})
	_ = s.MarkError(ctx, item.SourceSteamPrice, 1, "boom", "")
	if err := s.MarkProcessing(ctx, item.SourceSteamPrice, []int64{1}); err != nil {
		t.Fatal(err)
	}
	if got := mustState(t, s, item.SourceSteamPrice, 1); got != item.StateError {
		t.Fatalf("error row must not move to processing, got %s", got)
	}
}

func TestInsertHistory_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	s, db := newTestStore(t)

	points := []item.CCUPoint{
		{ItemID: 730, RecordedAt: "2024-01-01 00:00:00", Players: 100},
		{ItemID: 730, RecordedAt: "2024-01-02 00:00:00", Players: 120},
	}
	n, err := s.InsertCCU(ctx, points)
	if err != nil || n != 2 {
		t.Fatalf("first insert n=%d err=%v", n, err)
	}
	n, err = s.InsertCCU(ctx, points[:1])
	if err != nil || n != 0 {
		t.Fatalf("duplicate insert n=%d err=%v", n, err)
	}

	// same timestamp with a different discriminator is a separate record
	n, err = s.InsertCCU(ctx, []item.CCUPoint{{ItemID: 730, RecordedAt: "2024-01-01 00:00:00", Players: 300, ValueType: item.ValueTypePeak}})
	if err != nil || n != 1 {
		t.Fatalf("peak insert n=%d err=%v", n, err)
	}

	price := item.PricePoint{ItemID: 730, RecordedAt: "2024-01-01 00:00:00", Price: 9.99, CurrencyCode: "USD", CurrencySymbol: "$", CurrencyName: "US Dollar"}
	if _, err := s.InsertPrices(ctx, []item.PricePoint{price, price}); err != nil {
		t.Fatal(err)
	}

	var ccuRows, priceRows int
	_ = db.QueryRow(ctx, `SELECT COUNT(1) FROM ccu_history WHERE item_id = 730`).Scan(&ccuRows)
	_ = db.QueryRow(ctx, `SELECT COUNT(1) FROM price_history WHERE item_id = 730`).Scan(&priceRows)
	if ccuRows != 3 || priceRows != 1 {
		t.Fatalf("unexpected counts ccu=%d price=%d", ccuRows, priceRows)
	}
}

func TestDualTransitions(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	_, _ = s.InitPending(ctx, item.SourceCCU, []int64{1, 2, 3, 4, 5})

	cases := []struct {
		id      int64
		ccuErr  string
		priceOK bool
		want    item.State
	}{
		{1, "", true, item.StateCompleted},
		{2, "", false, item.StatePriceError},
		{3, "ccu failed", true, item.StatePriceDone},
		{4, "ccu failed", false, item.StateBothError},
	}
	for _, c := range cases {
		st, err := s.ApplyCCU(ctx, item.SourceCCU, c.id, 1, c.ccuErr, "", true)
		if err != nil {
			t.Fatal(err)
		}
		if c.ccuErr == "" && st != item.StateCCUDone {
			t.Fatalf("id %d: expected ccu_done, got %s", c.id, st)
		}
		priceErr := ""
		if !c.priceOK {
			priceErr = "price failed"
		}
		got, err := s.ApplyPrice(ctx, item.SourceCCU, c.id, 1, priceErr, "")
		if err != nil {
			t.Fatal(err)
		}
		if got != c.want || mustState(t, s, item.SourceCCU, c.id) != c.want {
			t.Fatalf("id %d: expected %s, got %s", c.id, c.want, got)
		}
	}

	st, err := s.ApplyCCU(ctx, item.SourceCCU, 5, 10, "", "", false)
	if err != nil || st != item.StateCompleted {
		t.Fatalf("ccu-only success should complete: %s %v", st, err)
	}
}

func TestRetryErrors_ResetsOnlyErrorRowsAndKeepsHistory(t *testing.T) {
	ctx := context.Background()
	s, db := newTestStore(t)
	_, _ = s.InitPending(ctx, item.SourceCCU, []int64{1, 2, 3})

	_, _ = s.ApplyCCU(ctx, item.SourceCCU, 1, 2, "", "", true)
	_, _ = s.ApplyPrice(ctx, item.SourceCCU, 1, 0, "price failed", "https://store/1")
	_, _ = s.ApplyCCU(ctx, item.SourceCCU, 2, 2, "", "", true)
	_, _ = s.ApplyPrice(ctx, item.SourceCCU, 2, 3, "", "")
	_ = s.SetCurrencies(ctx, item.SourceCCU, 1, []string{"USD", "EUR"})
	_, _ = s.InsertCCU(ctx, []item.CCUPoint{{ItemID: 1, RecordedAt: "2024-01-01 00:00:00", Players: 5}})

	ids, err := s.RetryErrors(ctx, item.SourceCCU)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != 1 {
		t.Fatalf("expected only id 1 reset, got %v", ids)
	}

	st, err := s.Get(ctx, item.SourceCCU, 1)
	if err != nil {
		t.Fatal(err)
	}
	if st.State != item.StatePending || st.PriceError != nil || st.PriceURL != nil {
		t.Fatalf("row not cleared: %+v", st)
	}
	if strings.Join(st.Currencies, ",") != "USD,EUR" {
		t.Fatalf("confirmed currencies should survive a retry, got %v", st.Currencies)
	}
	if got := mustState(t, s, item.SourceCCU, 2); got != item.StateCompleted {
		t.Fatalf("completed row touched: %s", got)
	}
	if got := mustState(t, s, item.SourceCCU, 3); got != item.StatePending {
		t.Fatalf("pending row changed: %s", got)
	}

	var history int
	_ = db.QueryRow(ctx, `SELECT COUNT(1) FROM ccu_history WHERE item_id = 1`).Scan(&history)
	if history != 1 {
		t.Fatalf("history rows touched: %d", history)
	}

	ids, err = s.RetryErrors(ctx, item.SourceCCU)
	if err != nil || len(ids) != 0 {
		t.Fatalf("second retry should find nothing: %v %v", ids, err)
	}
}

func TestErrorLogAndStats(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	_, _ = s.InitPending(ctx, item.SourceITAD, []int64{1, 2, 3})
	_ = s.MarkCompleted(ctx, item.SourceITAD, 1, 7)
	_ = s.MarkError(ctx, item.SourceITAD, 2, "UUID not found in lookup", "")

	err := s.LogError(ctx, item.ErrorEntry{Source: item.SourceITAD, ItemID: 2, Type: item.ErrorTypeITAD, Message: "UUID not found in lookup"})
	if err != nil {
		t.Fatal(err)
	}
	entries, err := s.RecentErrors(ctx, item.SourceITAD, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].ItemID != 2 || entries[0].Type != item.ErrorTypeITAD {
		t.Fatalf("unexpected entries %+v", entries)
	}

	stats, err := s.Stats(ctx, item.SourceITAD)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Total != 3 || stats.Completed != 1 || stats.Errors != 1 || stats.Pending != 1 || stats.PriceRecords != 7 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	st, err := s.Get(ctx, item.SourceITAD, 2)
	if err != nil {
		t.Fatal(err)
	}
	if st.PriceError == nil || *st.PriceError != "UUID not found in lookup" {
		t.Fatalf("error message not stored: %+v", st)
	}
}
