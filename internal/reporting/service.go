package reporting

import (
	"context"
	"errors"
	"time"

	"voice-bridge/internal/events"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository abstracts data access for reporting.
type Repository interface {
	Update(ctx context.Context, id string, createdAt time.Time, fn func(*CallRecord)) error
	ListCalls(ctx context.Context, from, to time.Time, direction string) ([]CallRecord, error)
}

// Service folds lifecycle events into call records and aggregates them.
// It is attached to the event bus as a subscriber.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

// Handle implements events.Subscriber.
func (s *Service) Handle(ctx context.Context, ev events.Event) error {
	if s.repo == nil {
		return errors.New("reporting: repository not configured")
	}
	at := occurredAt(ev)
	return s.repo.Update(ctx, ev.Conversation(), at, func(r *CallRecord) {
		switch e := ev.(type) {
		case events.CallConnected:
			r.Direction = e.Direction
			r.FromPhone = e.FromPhone
			r.ToPhone = e.ToPhone
		case events.CallDidNotConnect:
			r.Status = CallStatusDidNotConnect
			r.TelephonyStatus = e.TelephonyStatus
		case events.CallEnded:
			if r.Status == CallStatusInProgress {
				r.Status = CallStatusCompleted
				if r.Direction == "" {
					// Ended without ever connecting.
					r.Status = CallStatusDidNotConnect
					r.TelephonyStatus = "ended_before_start"
				}
			}
			r.Minutes = e.ConversationMinutes
			r.EndedAt = at
		case events.RecordingAvailable:
			r.RecordingURL = e.RecordingURL
		case events.CustomAction:
			if r.Actions == nil {
				r.Actions = map[string]int{}
			}
			r.Actions[e.Action]++
		}
	})
}

func occurredAt(ev events.Event) time.Time {
	type stamped interface{ Occurred() time.Time }
	if s, ok := ev.(stamped); ok {
		return s.Occurred()
	}
	return time.Now().UTC()
}

func (s *Service) CallsSummary(ctx context.Context, req CallsSummaryRequest) (CallsSummary, error) {
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return CallsSummary{}, ErrInvalidRequest
	}
	if req.Direction != "" && req.Direction != "inbound" && req.Direction != "outbound" {
		return CallsSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return CallsSummary{}, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.ListCalls(ctx, req.Range.From, req.Range.To, req.Direction)
	if err != nil {
		return CallsSummary{}, err
	}

	out := CallsSummary{Direction: req.Direction}
	for _, c := range rows {
		out.TotalCalls++
		out.TotalMinutes += c.Minutes
		if c.RecordingURL != "" {
			out.RecordedCalls++
		}
		switch c.Status {
		case CallStatusCompleted:
			out.CompletedCalls++
		case CallStatusDidNotConnect:
			out.DidNotConnectCalls++
			if out.NotConnectedByStatus == nil {
				out.NotConnectedByStatus = map[string]int{}
			}
			out.NotConnectedByStatus[c.TelephonyStatus]++
		case CallStatusInProgress:
			out.InProgressCalls++
		}
		for action, n := range c.Actions {
			if out.Actions == nil {
				out.Actions = map[string]int{}
			}
			out.Actions[action] += n
		}
	}
	if finished := out.CompletedCalls + out.DidNotConnectCalls; finished > 0 {
		out.ConnectionRate = float64(out.CompletedCalls) / float64(finished)
		out.AverageMinutes = out.TotalMinutes / float64(finished)
	}
	return out, nil
}
