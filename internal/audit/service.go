package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"voice-bridge/internal/events"
)

// Repository is the persistence contract for journal records.
//
// It MUST be append-only.
// No Update/Delete methods are provided by design.
type Repository interface {
	Append(ctx context.Context, e Event) error
	ListByConversation(ctx context.Context, conversationID string) ([]Event, error)
}

// Service journals call lifecycle events and operator actions.
//
// It is attached to the event bus as a subscriber; callers should treat
// journaling as best-effort.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.ConversationID == "" {
		return ErrInvalidEvent
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}

	now := s.clock().UTC()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	return s.repo.Append(ctx, e)
}

func (s *Service) List(ctx context.Context, conversationID string) ([]Event, error) {
	if s.repo == nil {
		return nil, errors.New("audit: repository not configured")
	}
	return s.repo.ListByConversation(ctx, conversationID)
}

// Handle implements events.Subscriber.
func (s *Service) Handle(ctx context.Context, ev events.Event) error {
	metadata, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("audit: encode event: %w", err)
	}
	return s.Append(ctx, Event{
		ConversationID: ev.Conversation(),
		Type:           EventType(ev.Type()),
		Message:        describe(ev),
		Metadata:       string(metadata),
	})
}

func describe(ev events.Event) string {
	switch e := ev.(type) {
	case events.CallConnected:
		return fmt.Sprintf("%s call connected %s -> %s", e.Direction, e.FromPhone, e.ToPhone)
	case events.CallEnded:
		return fmt.Sprintf("call ended after %.2f minutes", e.ConversationMinutes)
	case events.CallDidNotConnect:
		return "call did not connect: " + e.TelephonyStatus
	case events.RecordingAvailable:
		return "recording available"
	case events.CustomAction:
		return "custom action: " + e.Action
	default:
		return string(ev.Type())
	}
}

// LogOperatorAction records an action taken through the operator API.
func (s *Service) LogOperatorAction(ctx context.Context, conversationID, operatorID, role, ip, message, metadata string) error {
	return s.Append(ctx, Event{
		ConversationID:  conversationID,
		Type:            EventTypeOperatorAction,
		ActorOperatorID: operatorID,
		ActorRole:       role,
		IPAddress:       ip,
		Message:         message,
		Metadata:        metadata,
	})
}
