package item

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound      = errors.New("item status not found")
	ErrUnknownSource = errors.New("unknown source")
)

// Source selects the pipeline shape and the fetchers used for a run.
type Source string

const (
	SourceCCU        Source = "ccu"
	SourceITAD       Source = "itad"
	SourceSteamPrice Source = "steamprice"
)

func Sources() []Source {
	return []Source{SourceCCU, SourceITAD, SourceSteamPrice}
}

func ParseSource(s string) (Source, error) {
	src := Source(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Sources() {
		if src == known {
			return src, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownSource, s)
}

// Dual reports whether the source runs the two-stage CCU/price state set.
func (s Source) Dual() bool {
	return s == SourceCCU
}

type State string

const (
	StatePending    State = "pending"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateError      State = "error"

	StateCCUDone    State = "ccu_done"
	StateCCUError   State = "ccu_error"
	StatePriceDone  State = "price_done"
	StatePriceError State = "price_error"
	StateBothError  State = "both_error"
)

func (s State) IsError() bool {
	return strings.HasSuffix(string(s), "error")
}

// States lists every state a source's rows may hold.
func States(src Source) []State {
	if src.Dual() {
		return []State{
			StatePending, StateProcessing,
			StateCCUDone, StateCCUError,
			StatePriceDone, StatePriceError, StateBothError,
			StateCompleted,
		}
	}
	return []State{StatePending, StateProcessing, StateCompleted, StateError}
}

// Interrupted lists the states a crashed run can leave behind that must go
// back to pending on the next start. ccu_done is only ever an intermediate
// state, whatever the price setting of the next run.
func Interrupted(src Source) []State {
	if src.Dual() {
		return []State{StateProcessing, StateCCUDone}
	}
	return []State{StateProcessing}
}

// AfterCCU is the dual-source state once the CCU stage has an outcome.
func AfterCCU(ok, withPrice bool) State {
	switch {
	case ok && withPrice:
		return StateCCUDone
	case ok:
		return StateCompleted
	default:
		return StateCCUError
	}
}

// AfterPrice is the dual-source state once the price stage has an outcome,
// given the state the CCU stage left behind.
func AfterPrice(current State, ok bool) State {
	ccuOK := current != StateCCUError && current != StateBothError
	switch {
	case ok && ccuOK:
		return StateCompleted
	case ok:
		return StatePriceDone
	case ccuOK:
		return StatePriceError
	default:
		return StateBothError
	}
}

type ErrorType string

const (
	ErrorTypeCCU        ErrorType = "ccu"
	ErrorTypePrice      ErrorType = "price"
	ErrorTypeITAD       ErrorType = "itad"
	ErrorTypeSteamPrice ErrorType = "steamprice"
	ErrorTypeBatch      ErrorType = "batch"
)

type Status struct {
	Source      Source
	ItemID      int64
	State       State
	CCUCount    int
	PriceCount  int
	CCUError    *string
	PriceError  *string
	CCUURL      *string
	PriceURL    *string
	Currencies  []string
	LastUpdated time.Time
}

// CCUPoint is one concurrent-player sample. RecordedAt is already normalized
// to "YYYY-MM-DD HH:MM:SS".
type CCUPoint struct {
	ItemID     int64
	RecordedAt string
	Players    int
	ValueType  string
}

const (
	ValueTypeAvg  = "avg"
	ValueTypePeak = "peak"
)

type PricePoint struct {
	ItemID         int64
	RecordedAt     string
	Price          float64
	CurrencyCode   string
	CurrencySymbol string
	CurrencyName   string
}

type ErrorEntry struct {
	ID        uuid.UUID `json:"id"`
	Source    Source    `json:"source"`
	ItemID    int64     `json:"item_id"`
	Type      ErrorType `json:"error_type"`
	Message   string    `json:"message"`
	URL       string    `json:"url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type Stats struct {
	Counts       map[State]int `json:"counts"`
	Total        int           `json:"total"`
	Completed    int           `json:"completed"`
	Pending      int           `json:"pending"`
	Processing   int           `json:"processing"`
	Errors       int           `json:"errors"`
	CCURecords   int64         `json:"ccu_records"`
	PriceRecords int64         `json:"price_records"`
}

// Add folds one GROUP BY state row into the totals.
func (s *Stats) Add(state State, n int, ccuRecords, priceRecords int64) {
	if s.Counts == nil {
		s.Counts = map[State]int{}
	}
	s.Counts[state] += n
	s.Total += n
	s.CCURecords += ccuRecords
	s.PriceRecords += priceRecords
	switch {
	case state == StateCompleted, state == StatePriceDone:
		// price_done is terminal: only the CCU stage failed and it is not retried
		s.Completed += n
	case state == StatePending:
		s.Pending += n
	case state == StateProcessing:
		s.Processing += n
	case state.IsError():
		s.Errors += n
	}
}
