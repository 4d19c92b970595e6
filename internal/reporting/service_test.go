package reporting

import (
	"context"
	"errors"
	"testing"
	"time"

	"voice-bridge/internal/events"
)

func at(id string, ts time.Time) events.Header {
	return events.Header{ConversationID: id, OccurredAt: ts}
}

func feed(t *testing.T, svc *Service, evs ...events.Event) {
	t.Helper()
	for _, e := range evs {
		if err := svc.Handle(context.Background(), e); err != nil {
			t.Fatalf("handle %s: %v", e.Type(), err)
		}
	}
}

func TestReporting_FoldsLifecycleIntoRecords(t *testing.T) {
	repo := NewMemoryRepo(0)
	svc := NewService(repo)
	now := time.Unix(1700000000, 0).UTC()

	feed(t, svc,
		events.CallConnected{Header: at("in_1", now), Direction: "inbound", FromPhone: "+1", ToPhone: "+2", StreamSID: "MZ1"},
		events.CustomAction{Header: at("in_1", now), Action: "dtmf"},
		events.CustomAction{Header: at("in_1", now), Action: "dtmf"},
		events.CallEnded{Header: at("in_1", now.Add(2*time.Minute)), ConversationMinutes: 2},
		events.RecordingAvailable{Header: at("in_1", now.Add(3*time.Minute)), RecordingURL: "https://r/1"},
	)

	rec, ok, err := repo.Get(context.Background(), "in_1")
	if err != nil || !ok {
		t.Fatalf("expected record, ok=%v err=%v", ok, err)
	}
	if rec.Status != CallStatusCompleted || rec.Minutes != 2 || rec.RecordingURL != "https://r/1" {
		t.Fatalf("unexpected record %+v", rec)
	}
	if rec.Actions["dtmf"] != 2 || !rec.CreatedAt.Equal(now) {
		t.Fatalf("unexpected actions/created: %+v", rec)
	}
}

func TestReporting_CallsSummary(t *testing.T) {
	repo := NewMemoryRepo(0)
	svc := NewService(repo)
	now := time.Unix(1700000000, 0).UTC()

	feed(t, svc,
		events.CallConnected{Header: at("in_1", now), Direction: "inbound"},
		events.CallEnded{Header: at("in_1", now), ConversationMinutes: 3},
		events.CallConnected{Header: at("out_1", now), Direction: "outbound"},
		events.CallEnded{Header: at("out_1", now), ConversationMinutes: 1},
		events.CallDidNotConnect{Header: at("in_2", now), TelephonyStatus: "no_start_frame"},
		events.CallEnded{Header: at("in_2", now)},
		events.CallEnded{Header: at("in_3", now)},
		events.CallConnected{Header: at("in_4", now), Direction: "inbound"},
		events.CallConnected{Header: at("old", now.Add(-48*time.Hour)), Direction: "inbound"},
	)

	rng := TimeRange{From: now.Add(-time.Hour), To: now.Add(time.Hour)}
	out, err := svc.CallsSummary(context.Background(), CallsSummaryRequest{Range: rng})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out.TotalCalls != 5 || out.CompletedCalls != 2 || out.DidNotConnectCalls != 2 || out.InProgressCalls != 1 {
		t.Fatalf("unexpected counts: %+v", out)
	}
	if out.NotConnectedByStatus["no_start_frame"] != 1 || out.NotConnectedByStatus["ended_before_start"] != 1 {
		t.Fatalf("unexpected breakdown: %v", out.NotConnectedByStatus)
	}
	if out.TotalMinutes != 4 || out.AverageMinutes != 1 || out.ConnectionRate != 0.5 {
		t.Fatalf("unexpected minutes/rate: %+v", out)
	}

	in, err := svc.CallsSummary(context.Background(), CallsSummaryRequest{Range: rng, Direction: "outbound"})
	if err != nil || in.TotalCalls != 1 || in.TotalMinutes != 1 {
		t.Fatalf("unexpected outbound summary %+v err=%v", in, err)
	}
}

func TestReporting_ValidatesRequest(t *testing.T) {
	svc := NewService(NewMemoryRepo(0))
	now := time.Now()
	bad := []CallsSummaryRequest{
		{},
		{Range: TimeRange{From: now, To: now}},
		{Range: TimeRange{From: now, To: now.Add(time.Hour)}, Direction: "sideways"},
	}
	for _, req := range bad {
		if _, err := svc.CallsSummary(context.Background(), req); !errors.Is(err, ErrInvalidRequest) {
			t.Fatalf("expected ErrInvalidRequest for %+v, got %v", req, err)
		}
	}
}

func TestMemoryRepo_EvictsFinishedFirst(t *testing.T) {
	repo := NewMemoryRepo(2)
	svc := NewService(repo)
	now := time.Unix(1700000000, 0).UTC()

	feed(t, svc,
		events.CallConnected{Header: at("live", now), Direction: "inbound"},
		events.CallConnected{Header: at("done", now.Add(time.Second)), Direction: "inbound"},
		events.CallEnded{Header: at("done", now.Add(time.Second))},
		events.CallConnected{Header: at("new", now.Add(2*time.Second)), Direction: "inbound"},
	)

	if _, ok, _ := repo.Get(context.Background(), "done"); ok {
		t.Fatalf("finished record should be evicted first")
	}
	if _, ok, _ := repo.Get(context.Background(), "live"); !ok {
		t.Fatalf("in-progress record must be kept")
	}
}
