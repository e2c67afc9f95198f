package item

import (
	"errors"
	"testing"
)

func TestAfterPrice(t *testing.T) {
	cases := []struct {
		current State
		ok      bool
		want    State
	}{
		{StateCCUDone, true, StateCompleted},
		{StateCCUDone, false, StatePriceError},
		{StateCCUError, true, StatePriceDone},
		{StateCCUError, false, StateBothError},
	}
	for _, c := range cases {
		if got := AfterPrice(c.current, c.ok); got != c.want {
			t.Fatalf("AfterPrice(%s, %v) = %s, want %s", c.current, c.ok, got, c.want)
		}
	}
}

func TestAfterCCU(t *testing.T) {
	if got := AfterCCU(true, false); got != StateCompleted {
		t.Fatalf("ccu only success: got %s", got)
	}
	if got := AfterCCU(true, true); got != StateCCUDone {
		t.Fatalf("ccu with price success: got %s", got)
	}
	if got := AfterCCU(false, true); got != StateCCUError {
		t.Fatalf("ccu failure: got %s", got)
	}
}

func TestParseSource(t *testing.T) {
	src, err := ParseSource(" ITAD ")
	if err != nil || src != SourceITAD {
		t.Fatalf("unexpected: %v %v", src, err)
	}
	if _, err := ParseSource("gog"); !errors.Is(err, ErrUnknownSource) {
		t.Fatalf("expected ErrUnknownSource, got %v", err)
	}
}

func TestResult_EmptyValueIsNotOK(t *testing.T) {
	r := CCUValue(nil, "u")
	if r.OK() {
		t.Fatal("empty value must not be OK")
	}
	if r.FailureReason() != "no records returned" {
		t.Fatalf("unexpected reason %q", r.FailureReason())
	}
	if NotFound("404", "").FailureReason() != "not found: 404" {
		t.Fatal("unexpected not-found reason")
	}
}

func TestStats_Add(t *testing.T) {
	var s Stats
	s.Add(StateCompleted, 3, 30, 0)
	s.Add(StatePriceError, 1, 5, 0)
	s.Add(StateBothError, 2, 0, 0)
	s.Add(StatePending, 4, 0, 0)
	if s.Total != 10 || s.Completed != 3 || s.Errors != 3 || s.Pending != 4 || s.CCURecords != 35 {
		t.Fatalf("unexpected stats %+v", s)
	}
}

func TestStats_PriceDoneIsFinished(t *testing.T) {
	var s Stats
	s.Add(StateCompleted, 2, 0, 0)
	s.Add(StatePriceDone, 1, 0, 3)
	s.Add(StateBothError, 1, 0, 0)
	if s.Completed != 3 || s.Errors != 1 || s.Completed+s.Errors != s.Total {
		t.Fatalf("every terminal row must count toward progress, got %+v", s)
	}
	if s.Counts[StatePriceDone] != 1 {
		t.Fatalf("per-state count lost: %v", s.Counts)
	}
}

func TestInterrupted(t *testing.T) {
	got := Interrupted(SourceCCU)
	if len(got) != 2 || got[0] != StateProcessing || got[1] != StateCCUDone {
		t.Fatalf("dual source must reset processing and ccu_done, got %v", got)
	}
	if got := Interrupted(SourceITAD); len(got) != 1 || got[0] != StateProcessing {
		t.Fatalf("single source resets processing only, got %v", got)
	}
}
