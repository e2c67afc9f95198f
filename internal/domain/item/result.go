package item

type Outcome int

const (
	OutcomeValue Outcome = iota
	OutcomeNotFound
	OutcomeError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeValue:
		return "ok"
	case OutcomeNotFound:
		return "not_found"
	default:
		return "error"
	}
}

// Result is what a fetcher reports for one item. Ordinary per-item failures
// live here instead of in a returned error.
type Result struct {
	Outcome    Outcome
	CCU        []CCUPoint
	Prices     []PricePoint
	Currencies []string
	Reason     string
	URL        string
}

func CCUValue(points []CCUPoint, url string) Result {
	return Result{Outcome: OutcomeValue, CCU: points, URL: url}
}

func PriceValue(points []PricePoint, currencies []string, url string) Result {
	return Result{Outcome: OutcomeValue, Prices: points, Currencies: currencies, URL: url}
}

func NotFound(reason, url string) Result {
	return Result{Outcome: OutcomeNotFound, Reason: reason, URL: url}
}

func Failed(reason, url string) Result {
	return Result{Outcome: OutcomeError, Reason: reason, URL: url}
}

func (r Result) Records() int {
	return len(r.CCU) + len(r.Prices)
}

// OK is true only for a value carrying at least one record. An empty value
// counts as a failure.
func (r Result) OK() bool {
	return r.Outcome == OutcomeValue && r.Records() > 0
}

// FailureReason is the message stored for a result that is not OK.
func (r Result) FailureReason() string {
	switch {
	case r.Outcome == OutcomeNotFound && r.Reason != "":
		return "not found: " + r.Reason
	case r.Outcome == OutcomeNotFound:
		return "not found"
	case r.Outcome == OutcomeValue && r.Records() == 0:
		if r.Reason != "" {
			return r.Reason
		}
		return "no records returned"
	case r.Reason != "":
		return r.Reason
	default:
		return "unknown error"
	}
}
