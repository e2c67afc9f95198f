package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/progprogect/steamids-parser/internal/database"
	"github.com/progprogect/steamids-parser/internal/domain/item"
)

// StatusStore is the durable per-item state machine plus the time-series and
// error-log tables it guards.
type StatusStore interface {
	InitPending(ctx context.Context, src item.Source, ids []int64) (int64, error)
	ResetStuck(ctx context.Context, src item.Source, states ...item.State) (int64, error)
	PendingIDs(ctx context.Context, src item.Source) ([]int64, error)
	MarkProcessing(ctx context.Context, src item.Source, ids []int64) error

	MarkCompleted(ctx context.Context, src item.Source, itemID int64, records int) error
	MarkError(ctx context.Context, src item.Source, itemID int64, msg, url string) error
	ApplyCCU(ctx context.Context, src item.Source, itemID int64, records int, errMsg, url string, withPrice bool) (item.State, error)
	ApplyPrice(ctx context.Context, src item.Source, itemID int64, records int, errMsg, url string) (item.State, error)
	SetCurrencies(ctx context.Context, src item.Source, itemID int64, currencies []string) error
	RetryErrors(ctx context.Context, src item.Source) ([]int64, error)

	InsertCCU(ctx context.Context, points []item.CCUPoint) (int64, error)
	InsertPrices(ctx context.Context, points []item.PricePoint) (int64, error)

	LogError(ctx context.Context, e item.ErrorEntry) error
	RecentErrors(ctx context.Context, src item.Source, limit int) ([]item.ErrorEntry, error)

	Stats(ctx context.Context, src item.Source) (item.Stats, error)
	Get(ctx context.Context, src item.Source, itemID int64) (item.Status, error)
}

// statusQueries is one dialect's rendition of every StatusStore statement.
// Upsert and insert-or-ignore differ per engine; callers only see the named
// operation.
type statusQueries struct {
	initPending    string
	resetStuck     string
	pendingIDs     string
	markProcessing string
	markCompleted  string
	markError      string
	selectState    string
	upsertCCU      string
	upsertPrice    string
	setCurrencies  string
	selectErrored  string
	resetErrored   string
	insertCCU      string
	insertPrice    string
	insertErrorLog string
	recentErrors   string
	stats          string
	get            string
}

type SQLStatusStore struct {
	db  database.DB
	q   statusQueries
	now func() time.Time
}

func NewStatusStore(db database.DB) (*SQLStatusStore, error) {
	if db == nil {
		return nil, errors.New("nil db")
	}
	var q statusQueries
	switch db.Dialect() {
	case database.DialectPostgres:
		q = postgresQueries
	case database.DialectSQLite:
		q = sqliteQueries
	default:
		return nil, fmt.Errorf("unsupported dialect %q", db.Dialect())
	}
	return &SQLStatusStore{db: db, q: q, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *SQLStatusStore) InitPending(ctx context.Context, src item.Source, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	now := s.now()
	args := make([][]any, 0, len(ids))
	for _, id := range ids {
		args = append(args, []any{string(src), id, now})
	}
	n, err := database.ExecBatch(ctx, s.db, s.q.initPending, args)
	if err != nil {
		return 0, fmt.Errorf("init pending: %w", err)
	}
	return n, nil
}

func (s *SQLStatusStore) ResetStuck(ctx context.Context, src item.Source, states ...item.State) (int64, error) {
	if len(states) == 0 {
		states = []item.State{item.StateProcessing}
	}
	var total int64
	for _, st := range states {
		n, err := s.db.Exec(ctx, s.q.resetStuck, s.now(), string(src), string(st))
		if err != nil {
			return total, fmt.Errorf("reset %s: %w", st, err)
		}
		total += n
	}
	return total, nil
}

func (s *SQLStatusStore) PendingIDs(ctx context.Context, src item.Source) ([]int64, error) {
	rows, err := s.db.Query(ctx, s.q.pendingIDs, string(src))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQLStatusStore) MarkProcessing(ctx context.Context, src item.Source, ids []int64) error {
	now := s.now()
	args := make([][]any, 0, len(ids))
	for _, id := range ids {
		args = append(args, []any{now, string(src), id})
	}
	_, err := database.ExecBatch(ctx, s.db, s.q.markProcessing, args)
	return err
}

func (s *SQLStatusStore) MarkCompleted(ctx context.Context, src item.Source, itemID int64, records int) error {
	_, err := s.db.Exec(ctx, s.q.markCompleted, string(src), itemID, records, s.now())
	return err
}

func (s *SQLStatusStore) MarkError(ctx context.Context, src item.Source, itemID int64, msg, url string) error {
	_, err := s.db.Exec(ctx, s.q.markError, string(src), itemID, msg, nullString(url), s.now())
	return err
}

func (s *SQLStatusStore) ApplyCCU(ctx context.Context, src item.Source, itemID int64, records int, errMsg, url string, withPrice bool) (item.State, error) {
	next := item.AfterCCU(errMsg == "", withPrice)
	_, err := s.db.Exec(ctx, s.q.upsertCCU,
		string(src), itemID, string(next), records, nullString(errMsg), nullString(url), s.now(),
	)
	if err != nil {
		return "", err
	}
	return next, nil
}

// ApplyPrice reads the CCU outcome and writes the combined state in one
// transaction.
func (s *SQLStatusStore) ApplyPrice(ctx context.Context, src item.Source, itemID int64, records int, errMsg, url string) (item.State, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var current string
	if err := tx.QueryRow(ctx, s.q.selectState, string(src), itemID).Scan(&current); err != nil {
		if !isNoRows(err) {
			return "", err
		}
		current = string(item.StateCCUError)
	}

	next := item.AfterPrice(item.State(current), errMsg == "")
	if _, err := tx.Exec(ctx, s.q.upsertPrice,
		string(src), itemID, string(next), records, nullString(errMsg), nullString(url), s.now(),
	); err != nil {
		return "", err
	}
	if err := tx.Commit(ctx); err != nil {
		return "", err
	}
	return next, nil
}

func (s *SQLStatusStore) SetCurrencies(ctx context.Context, src item.Source, itemID int64, currencies []string) error {
	_, err := s.db.Exec(ctx, s.q.setCurrencies, nullString(strings.Join(currencies, ",")), s.now(), string(src), itemID)
	return err
}

// RetryErrors moves every error-state row back to pending and clears its
// error fields. Confirmed currencies and history rows are left alone.
func (s *SQLStatusStore) RetryErrors(ctx context.Context, src item.Source) ([]int64, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	rows, err := tx.Query(ctx, s.q.selectErrored, string(src))
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return ids, nil
	}

	if _, err := tx.Exec(ctx, s.q.resetErrored, s.now(), string(src)); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *SQLStatusStore) InsertCCU(ctx context.Context, points []item.CCUPoint) (int64, error) {
	args := make([][]any, 0, len(points))
	for _, p := range points {
		vt := p.ValueType
		if vt == "" {
			vt = item.ValueTypeAvg
		}
		args = append(args, []any{p.ItemID, p.RecordedAt, p.Players, vt})
	}
	return database.ExecBatch(ctx, s.db, s.q.insertCCU, args)
}

func (s *SQLStatusStore) InsertPrices(ctx context.Context, points []item.PricePoint) (int64, error) {
	args := make([][]any, 0, len(points))
	for _, p := range points {
		args = append(args, []any{p.ItemID, p.RecordedAt, p.Price, p.CurrencyCode, p.CurrencySymbol, p.CurrencyName})
	}
	return database.ExecBatch(ctx, s.db, s.q.insertPrice, args)
}

func (s *SQLStatusStore) LogError(ctx context.Context, e item.ErrorEntry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	_, err := s.db.Exec(ctx, s.q.insertErrorLog,
		e.ID, string(e.Source), e.ItemID, string(e.Type), e.Message, nullString(e.URL), e.CreatedAt,
	)
	return err
}

func (s *SQLStatusStore) RecentErrors(ctx context.Context, src item.Source, limit int) ([]item.ErrorEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	rows, err := s.db.Query(ctx, s.q.recentErrors, string(src), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]item.ErrorEntry, 0)
	for rows.Next() {
		var (
			e       item.ErrorEntry
			srcName string
			typ     string
			url     sql.NullString
		)
		if err := rows.Scan(&e.ID, &srcName, &e.ItemID, &typ, &e.Message, &url, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Source = item.Source(srcName)
		e.Type = item.ErrorType(typ)
		if url.Valid {
			e.URL = url.String
		}
		e.CreatedAt = e.CreatedAt.UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQLStatusStore) Stats(ctx context.Context, src item.Source) (item.Stats, error) {
	rows, err := s.db.Query(ctx, s.q.stats, string(src))
	if err != nil {
		return item.Stats{}, err
	}
	defer rows.Close()

	out := item.Stats{Counts: map[item.State]int{}}
	for rows.Next() {
		var (
			state       string
			n           int
			ccu, prices int64
		)
		if err := rows.Scan(&state, &n, &ccu, &prices); err != nil {
			return item.Stats{}, err
		}
		out.Add(item.State(state), n, ccu, prices)
	}
	if err := rows.Err(); err != nil {
		return item.Stats{}, err
	}
	return out, nil
}

func (s *SQLStatusStore) Get(ctx context.Context, src item.Source, itemID int64) (item.Status, error) {
	var (
		st                                    item.Status
		srcName, state                        string
		ccuErr, priceErr, ccuURL, priceURL, c sql.NullString
	)
	err := s.db.QueryRow(ctx, s.q.get, string(src), itemID).Scan(
		&srcName, &st.ItemID, &state, &st.CCUCount, &st.PriceCount,
		&ccuErr, &priceErr, &ccuURL, &priceURL, &c, &st.LastUpdated,
	)
	if err != nil {
		if isNoRows(err) {
			return item.Status{}, item.ErrNotFound
		}
		return item.Status{}, err
	}
	st.Source = item.Source(srcName)
	st.State = item.State(state)
	st.CCUError = stringPtr(ccuErr)
	st.PriceError = stringPtr(priceErr)
	st.CCUURL = stringPtr(ccuURL)
	st.PriceURL = stringPtr(priceURL)
	if c.Valid && c.String != "" {
		st.Currencies = strings.Split(c.String, ",")
	}
	st.LastUpdated = st.LastUpdated.UTC()
	return st, nil
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows) || errors.Is(err, pgx.ErrNoRows)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}
