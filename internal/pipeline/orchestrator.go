package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/progprogect/steamids-parser/internal/domain/item"
	"github.com/progprogect/steamids-parser/internal/pkg/logging"
	"github.com/progprogect/steamids-parser/internal/repository"
)

// Fetcher returns one result per handled id. Items it did not get to because
// ctx ended are absent. A returned error is a batch-level failure.
type Fetcher interface {
	Fetch(ctx context.Context, ids []int64) (map[int64]item.Result, error)
}

// Plan describes one run. Price is only used by dual sources; leaving it nil
// sends CCU successes straight to completed.
type Plan struct {
	Source    item.Source
	Primary   Fetcher
	Price     Fetcher
	BatchSize int
	RunID     string
}

type RunSummary struct {
	RunID     string        `json:"run_id"`
	Source    item.Source   `json:"source"`
	Loaded    int           `json:"loaded"`
	Inserted  int64         `json:"inserted"`
	Recovered int64         `json:"recovered"`
	Eligible  int           `json:"eligible"`
	Batches   int           `json:"batches"`
	Processed int           `json:"processed_batches"`
	Failed    int           `json:"failed_batches"`
	Cancelled bool          `json:"cancelled"`
	Duration  time.Duration `json:"duration_ns"`
}

type Orchestrator struct {
	store       repository.StatusStore
	checkpoints *CheckpointWriter
	sink        ProgressSink
	log         logrus.FieldLogger
	now         func() time.Time
}

func NewOrchestrator(store repository.StatusStore, checkpoints *CheckpointWriter, sink ProgressSink, log logrus.FieldLogger) *Orchestrator {
	return &Orchestrator{
		store:       store,
		checkpoints: checkpoints,
		sink:        sink,
		log:         logging.OrStandard(log).WithField("component", "orchestrator"),
		now:         time.Now,
	}
}

// Run drives one source over ids until every eligible batch is processed or
// ctx is cancelled. Only store failures abort the run; a failing batch marks
// its items as errors and the run moves on.
func (o *Orchestrator) Run(ctx context.Context, plan Plan, ids []int64) (RunSummary, error) {
	start := o.now()
	if plan.RunID == "" {
		plan.RunID = uuid.NewString()
	}
	summary := RunSummary{RunID: plan.RunID, Source: plan.Source, Loaded: len(ids)}
	if len(ids) == 0 {
		return summary, ErrNoIDs
	}
	if plan.Primary == nil {
		return summary, fmt.Errorf("no fetcher configured for %s", plan.Source)
	}
	withPrice := plan.Source.Dual() && plan.Price != nil
	log := o.log.WithFields(logrus.Fields{"source": plan.Source, "run_id": plan.RunID})

	// persistence keeps going after cancellation so in-flight work lands
	store := context.WithoutCancel(ctx)

	inserted, err := o.store.InitPending(store, plan.Source, ids)
	if err != nil {
		return summary, fmt.Errorf("init pending: %w", err)
	}
	summary.Inserted = inserted

	recovered, err := o.store.ResetStuck(store, plan.Source, item.Interrupted(plan.Source)...)
	if err != nil {
		return summary, fmt.Errorf("reset stuck: %w", err)
	}
	summary.Recovered = recovered
	if recovered > 0 {
		log.WithField("items", recovered).Info("interrupted items reset to pending")
	}

	pending, err := o.store.PendingIDs(store, plan.Source)
	if err != nil {
		return summary, fmt.Errorf("pending ids: %w", err)
	}
	eligible := intersect(ids, pending)
	summary.Eligible = len(eligible)

	planner := NewBatchPlanner(eligible, plan.BatchSize)
	summary.Batches = planner.Len()

	reporter, err := NewProgressReporter(store, o.store, plan.Source, o.now)
	if err != nil {
		return summary, err
	}

	log.WithFields(logrus.Fields{
		"loaded":     len(ids),
		"new":        inserted,
		"eligible":   len(eligible),
		"batches":    planner.Len(),
		"with_price": withPrice,
	}).Info("run started")

	for {
		if ctx.Err() != nil {
			summary.Cancelled = true
			break
		}
		b, ok := planner.Next()
		if !ok {
			break
		}

		blog := log.WithField("batch", fmt.Sprintf("%d/%d", b.Index+1, planner.Len()))
		failed, err := o.runBatch(ctx, store, plan, withPrice, b, blog)
		if err != nil {
			return summary, err
		}
		planner.MarkProcessed(b)
		summary.Processed++
		if failed {
			summary.Failed++
		}
		o.report(store, reporter, planner, plan.RunID, blog)
	}

	// final flush, also after cancellation
	o.report(store, reporter, planner, plan.RunID, log)
	summary.Duration = o.now().Sub(start)

	log.WithFields(logrus.Fields{
		"processed": summary.Processed,
		"failed":    summary.Failed,
		"cancelled": summary.Cancelled,
		"duration":  summary.Duration.Round(time.Millisecond),
	}).Info("run finished")
	return summary, nil
}

// runBatch reports failed=true when the fetcher raised a batch-level error.
func (o *Orchestrator) runBatch(ctx, store context.Context, plan Plan, withPrice bool, b Batch, log logrus.FieldLogger) (bool, error) {
	src := plan.Source
	if err := o.store.MarkProcessing(store, src, b.IDs); err != nil {
		return false, fmt.Errorf("mark processing: %w", err)
	}

	started := o.now()
	results, ferr := plan.Primary.Fetch(ctx, b.IDs)
	failed := false

	switch {
	case ferr != nil && ctx.Err() != nil:
		log.WithError(ferr).Info("batch interrupted")
	case ferr != nil:
		failed = true
		log.WithError(ferr).Error("batch failed")
		if err := o.failBatch(store, src, b.IDs, ferr, withPrice); err != nil {
			return failed, err
		}
	case src.Dual():
		handled, err := o.applyCCU(store, src, b.IDs, results, withPrice, log)
		if err != nil {
			return failed, err
		}
		if withPrice && len(handled) > 0 && ctx.Err() == nil {
			if err := o.pricePhase(ctx, store, plan, handled, log); err != nil {
				return failed, err
			}
		}
	default:
		if err := o.applySingle(store, src, b.IDs, results, log); err != nil {
			return failed, err
		}
	}

	// anything the fetchers never reached goes back to pending
	if n, err := o.store.ResetStuck(store, src, item.Interrupted(src)...); err != nil {
		return failed, fmt.Errorf("reset unhandled: %w", err)
	} else if n > 0 {
		log.WithField("items", n).Info("unhandled items returned to pending")
	}

	log.WithFields(logrus.Fields{"items": len(b.IDs), "duration": o.now().Sub(started).Round(time.Millisecond)}).Info("batch done")
	return failed, nil
}

func (o *Orchestrator) failBatch(ctx context.Context, src item.Source, ids []int64, cause error, withPrice bool) error {
	msg := "batch error: " + cause.Error()
	for _, id := range ids {
		if src.Dual() {
			if _, err := o.store.ApplyCCU(ctx, src, id, 0, msg, "", withPrice); err != nil {
				return fmt.Errorf("apply batch error: %w", err)
			}
		} else if err := o.store.MarkError(ctx, src, id, msg, ""); err != nil {
			return fmt.Errorf("apply batch error: %w", err)
		}
		o.logError(ctx, src, id, item.ErrorTypeBatch, msg, "")
	}
	return nil
}

// applyCCU returns the ids that got a CCU outcome.
func (o *Orchestrator) applyCCU(ctx context.Context, src item.Source, ids []int64, results map[int64]item.Result, withPrice bool, log logrus.FieldLogger) ([]int64, error) {
	handled := make([]int64, 0, len(ids))
	for _, id := range ids {
		res, ok := results[id]
		if !ok {
			continue
		}
		handled = append(handled, id)

		errMsg := ""
		if res.OK() {
			if _, err := o.store.InsertCCU(ctx, res.CCU); err != nil {
				return nil, fmt.Errorf("insert ccu for %d: %w", id, err)
			}
		} else {
			errMsg = res.FailureReason()
		}
		state, err := o.store.ApplyCCU(ctx, src, id, res.Records(), errMsg, res.URL, withPrice)
		if err != nil {
			return nil, fmt.Errorf("apply ccu for %d: %w", id, err)
		}
		o.itemLogged(ctx, log, src, id, item.ErrorTypeCCU, res, state)
	}
	return handled, nil
}

func (o *Orchestrator) pricePhase(ctx, store context.Context, plan Plan, ids []int64, log logrus.FieldLogger) error {
	src := plan.Source
	results, ferr := plan.Price.Fetch(ctx, ids)
	if ferr != nil {
		if ctx.Err() != nil {
			log.WithError(ferr).Info("price stage interrupted")
			return nil
		}
		msg := "batch error: " + ferr.Error()
		log.WithError(ferr).Error("price stage failed")
		for _, id := range ids {
			if _, err := o.store.ApplyPrice(store, src, id, 0, msg, ""); err != nil {
				return fmt.Errorf("apply price batch error: %w", err)
			}
			o.logError(store, src, id, item.ErrorTypeBatch, msg, "")
		}
		return nil
	}

	for _, id := range ids {
		res, ok := results[id]
		if !ok {
			continue
		}
		errMsg := ""
		if res.OK() {
			if _, err := o.store.InsertPrices(store, res.Prices); err != nil {
				return fmt.Errorf("insert prices for %d: %w", id, err)
			}
		} else {
			errMsg = res.FailureReason()
		}
		state, err := o.store.ApplyPrice(store, src, id, res.Records(), errMsg, res.URL)
		if err != nil {
			return fmt.Errorf("apply price for %d: %w", id, err)
		}
		o.itemLogged(store, log, src, id, item.ErrorTypePrice, res, state)
	}
	return nil
}

func (o *Orchestrator) applySingle(ctx context.Context, src item.Source, ids []int64, results map[int64]item.Result, log logrus.FieldLogger) error {
	errType := errorTypeFor(src)
	for _, id := range ids {
		res, ok := results[id]
		if !ok {
			continue
		}
		if len(res.Currencies) > 0 {
			if err := o.store.SetCurrencies(ctx, src, id, res.Currencies); err != nil {
				return fmt.Errorf("set currencies for %d: %w", id, err)
			}
		}

		state := item.StateCompleted
		if res.OK() {
			if len(res.CCU) > 0 {
				if _, err := o.store.InsertCCU(ctx, res.CCU); err != nil {
					return fmt.Errorf("insert ccu for %d: %w", id, err)
				}
			}
			if len(res.Prices) > 0 {
				if _, err := o.store.InsertPrices(ctx, res.Prices); err != nil {
					return fmt.Errorf("insert prices for %d: %w", id, err)
				}
			}
			if err := o.store.MarkCompleted(ctx, src, id, res.Records()); err != nil {
				return fmt.Errorf("mark completed %d: %w", id, err)
			}
		} else {
			state = item.StateError
			if err := o.store.MarkError(ctx, src, id, res.FailureReason(), res.URL); err != nil {
				return fmt.Errorf("mark error %d: %w", id, err)
			}
		}
		o.itemLogged(ctx, log, src, id, errType, res, state)
	}
	return nil
}

// itemLogged writes the audit entry for a failed item. Expected absence is
// logged at info, everything else at warn.
func (o *Orchestrator) itemLogged(ctx context.Context, log logrus.FieldLogger, src item.Source, id int64, t item.ErrorType, res item.Result, state item.State) {
	entry := log.WithFields(logrus.Fields{"item_id": id, "stage": t, "status": res.Outcome.String(), "state": state})
	if res.OK() {
		entry.WithField("records", res.Records()).Debug("item stored")
		return
	}
	reason := res.FailureReason()
	if res.Outcome == item.OutcomeNotFound {
		entry.WithField("reason", reason).Info("item has no data")
	} else {
		entry.WithField("reason", reason).Warn("item failed")
	}
	o.logError(ctx, src, id, t, reason, res.URL)
}

func (o *Orchestrator) logError(ctx context.Context, src item.Source, id int64, t item.ErrorType, msg, url string) {
	err := o.store.LogError(ctx, item.ErrorEntry{Source: src, ItemID: id, Type: t, Message: msg, URL: url})
	if err != nil {
		o.log.WithFields(logrus.Fields{"source": src, "item_id": id, "error": err}).Warn("error log write failed")
	}
}

func (o *Orchestrator) report(ctx context.Context, reporter *ProgressReporter, planner *BatchPlanner, runID string, log logrus.FieldLogger) {
	snap, err := reporter.Snapshot(ctx)
	if err != nil {
		log.WithError(err).Warn("progress snapshot failed")
		return
	}
	snap.RunID = runID
	snap.Batch = planner.Progress()

	if err := o.checkpoints.Write(snap); err != nil {
		log.WithError(err).Warn("checkpoint write failed")
	}
	if o.sink != nil {
		o.sink.Publish(snap)
	}
	log.WithFields(logrus.Fields{
		"completed": snap.Completed,
		"errors":    snap.Errors,
		"pending":   snap.Pending,
		"percent":   fmt.Sprintf("%.1f", snap.Percent),
		"eta":       snap.ETA.Round(time.Second),
	}).Info("progress")
}

func errorTypeFor(src item.Source) item.ErrorType {
	switch src {
	case item.SourceITAD:
		return item.ErrorTypeITAD
	case item.SourceSteamPrice:
		return item.ErrorTypeSteamPrice
	default:
		return item.ErrorTypeCCU
	}
}

// intersect keeps the ids of want that are in have, in want's order.
func intersect(want, have []int64) []int64 {
	set := make(map[int64]struct{}, len(have))
	for _, id := range have {
		set[id] = struct{}{}
	}
	out := make([]int64, 0, len(want))
	for _, id := range want {
		if _, ok := set[id]; ok {
			out = append(out, id)
		}
	}
	return out
}
