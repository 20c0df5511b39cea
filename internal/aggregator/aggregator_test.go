package aggregator

import (
	"reflect"
	"testing"

	"github.com/jthatch/proxy-verify/internal/candidate"
	"github.com/jthatch/proxy-verify/internal/events"
	"github.com/jthatch/proxy-verify/internal/probe"
)

func success(addr string, latencyMs int64) probe.Outcome {
	return probe.Outcome{
		Candidate: candidate.Candidate{Host: addr, Port: 8080},
		Succeeded: true,
		LatencyMs: latencyMs,
	}
}

func failure(addr string, kind probe.FailureKind, latencyMs int64) probe.Outcome {
	return probe.Outcome{
		Candidate: candidate.Candidate{Host: addr, Port: 8080},
		Kind:      kind,
		LatencyMs: latencyMs,
	}
}

func TestRecordInvariantsHoldAfterEveryOutcome(t *testing.T) {
	outcomes := []probe.Outcome{
		success("1.1.1.1", 120),
		failure("2.2.2.2", probe.KindTimeout, 5000),
		success("3.3.3.3", 80),
		failure("4.4.4.4", probe.KindConnectionError, 30),
		failure("5.5.5.5", probe.KindConnectionError, 12),
	}

	agg := New(len(outcomes), nil, nil)
	prevCompleted := 0

	for i, out := range outcomes {
		agg.Record(out)
		snap := agg.Snapshot()

		if snap.Success+snap.Failure != snap.Completed {
			t.Fatalf("after outcome %d: success %d + failure %d != completed %d",
				i, snap.Success, snap.Failure, snap.Completed)
		}
		if snap.Completed > snap.Total {
			t.Fatalf("after outcome %d: completed %d exceeds total %d", i, snap.Completed, snap.Total)
		}
		if snap.Completed < prevCompleted {
			t.Fatalf("after outcome %d: completed went backwards (%d -> %d)", i, prevCompleted, snap.Completed)
		}
		prevCompleted = snap.Completed
	}

	if prevCompleted != len(outcomes) {
		t.Errorf("completed = %d, want %d", prevCompleted, len(outcomes))
	}
}

func TestVerifiedListKeepsCompletionOrder(t *testing.T) {
	agg := New(3, nil, nil)

	// Completion order differs from any input order on purpose
	agg.Record(success("9.9.9.9", 10))
	agg.Record(failure("8.8.8.8", probe.KindTimeout, 200))
	agg.Record(success("1.1.1.1", 20))

	res := agg.Finalize()
	want := []string{"9.9.9.9:8080", "1.1.1.1:8080"}
	if !reflect.DeepEqual(res.Verified, want) {
		t.Errorf("Verified = %v, want %v", res.Verified, want)
	}
}

func TestMeanLatencyOverSuccessesOnly(t *testing.T) {
	agg := New(3, nil, nil)
	agg.Record(success("1.1.1.1", 100))
	agg.Record(success("2.2.2.2", 200))
	agg.Record(failure("3.3.3.3", probe.KindTimeout, 9000))

	res := agg.Finalize()
	if res.MeanLatencyMs != 150 {
		t.Errorf("MeanLatencyMs = %d, want 150 (failures excluded)", res.MeanLatencyMs)
	}
}

func TestFinalizeNoSuccess(t *testing.T) {
	agg := New(2, nil, nil)
	agg.Record(failure("1.1.1.1", probe.KindConnectionError, 10))
	agg.Record(failure("2.2.2.2", probe.KindTimeout, 500))

	res := agg.Finalize()
	if !res.NoSuccess {
		t.Error("NoSuccess = false, want true")
	}
	if len(res.Verified) != 0 {
		t.Errorf("Verified = %v, want empty", res.Verified)
	}
	if res.MeanLatencyMs != 0 {
		t.Errorf("MeanLatencyMs = %d, want 0", res.MeanLatencyMs)
	}
}

func TestBodyMatchCounterDoesNotAffectClassification(t *testing.T) {
	agg := New(2, nil, nil)

	matched := success("1.1.1.1", 50)
	matched.BodyMatched = true
	agg.Record(matched)
	agg.Record(success("2.2.2.2", 60))

	res := agg.Finalize()
	if res.BodyMatches != 1 {
		t.Errorf("BodyMatches = %d, want 1", res.BodyMatches)
	}
	if res.Success != 2 {
		t.Errorf("Success = %d, want 2 (body match is a separate counter)", res.Success)
	}
}

func TestRecordDropsOutcomesBeyondTotal(t *testing.T) {
	agg := New(1, nil, nil)
	agg.Record(success("1.1.1.1", 10))
	agg.Record(success("1.1.1.1", 10)) // duplicate resolution must not double-count

	snap := agg.Snapshot()
	if snap.Completed != 1 {
		t.Errorf("completed = %d, want 1", snap.Completed)
	}
	if snap.Success != 1 {
		t.Errorf("success = %d, want 1", snap.Success)
	}
}

func TestEventsPublishedPerOutcomeAndOnCompletion(t *testing.T) {
	bus := events.NewBus()
	sub := bus.Subscribe(16)
	agg := New(2, nil, bus)

	agg.Record(success("1.1.1.1", 40))
	agg.Record(failure("2.2.2.2", probe.KindTimeout, 300))
	agg.Finalize()
	bus.Close()

	var resolved int
	var summary *events.Summary
	for ev := range sub {
		switch ev.Type {
		case events.ProbeResolved:
			resolved++
			if ev.Completed > ev.Total {
				t.Errorf("event progress %d/%d out of range", ev.Completed, ev.Total)
			}
		case events.RunCompleted:
			summary = ev.Summary
		}
	}

	if resolved != 2 {
		t.Errorf("probeResolved events = %d, want 2", resolved)
	}
	if summary == nil {
		t.Fatal("runCompleted event missing")
	}
	if summary.Success != 1 || summary.Failure != 1 {
		t.Errorf("summary = %+v, want 1 success / 1 failure", summary)
	}
	if !reflect.DeepEqual(summary.Verified, []string{"1.1.1.1:8080"}) {
		t.Errorf("summary verified = %v", summary.Verified)
	}
}
