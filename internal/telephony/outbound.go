package telephony

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"voice-bridge/internal/calls"
	"voice-bridge/internal/conversation"
)

// Dialer originates and ends calls on behalf of the operator API.
type Dialer struct {
	Control   CallControl
	Store     calls.Store
	Streaming calls.StreamingProviderConfig
	Record    bool

	// Limiter and Registry are optional.
	Limiter  CallLimiter
	Registry *conversation.Registry

	Logger *slog.Logger
}

type OutboundRequest struct {
	ConversationID  string            `json:"conversation_id,omitempty"`
	To              string            `json:"to" binding:"required"`
	From            string            `json:"from" binding:"required"`
	Digits          string            `json:"digits,omitempty"`
	TelephonyParams map[string]string `json:"telephony_params,omitempty"`
}

type OutboundResult struct {
	ConversationID string `json:"conversation_id"`
	CarrierCallID  string `json:"carrier_call_id"`
}

func (d *Dialer) log() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// Call creates the carrier call first and persists the config only once the
// carrier has accepted it, so a rejected call leaves nothing behind.
func (d *Dialer) Call(ctx context.Context, req OutboundRequest) (OutboundResult, error) {
	req.To = strings.TrimSpace(req.To)
	req.From = strings.TrimSpace(req.From)
	if req.To == "" || req.From == "" {
		return OutboundResult{}, fmt.Errorf("%w: to and from are required", ErrInputRejected)
	}
	id := strings.TrimSpace(req.ConversationID)
	if id == "" {
		id = calls.NewConversationID(calls.DirectionOutbound)
	}
	log := d.log().With("conversation_id", id)
	account := d.Control.Credentials().AccountID

	if d.Limiter != nil {
		ok, err := d.Limiter.Acquire(ctx, account)
		if err != nil {
			return OutboundResult{}, fmt.Errorf("telephony: call cap: %w", err)
		}
		if !ok {
			return OutboundResult{}, ErrCapacity
		}
	}
	release := func() {
		if d.Limiter == nil {
			return
		}
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
		defer cancel()
		if err := d.Limiter.Release(rctx, account); err != nil {
			log.Warn("call cap release failed", "err", err)
		}
	}

	sid, err := d.Control.CreateCall(ctx, CreateCallRequest{
		ConversationID: id,
		To:             req.To,
		From:           req.From,
		Record:         d.Record,
		Digits:         req.Digits,
		Params:         req.TelephonyParams,
	})
	if err != nil {
		release()
		log.Warn("outbound call rejected", "err", err)
		return OutboundResult{}, err
	}

	cfg := &calls.TwilioCallConfig{
		Common: calls.Common{
			ConversationID:    id,
			Direction:         calls.DirectionOutbound,
			FromPhone:         req.From,
			ToPhone:           req.To,
			CarrierCallID:     sid,
			StreamingProvider: d.Streaming,
			TelephonyParams:   req.TelephonyParams,
			Record:            d.Record,
		},
		Credentials: d.Control.Credentials(),
	}
	if err := d.Store.Save(ctx, id, cfg); err != nil {
		// Without a config the media connect would be refused; hang up instead.
		ectx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
		defer cancel()
		if endErr := d.Control.EndCall(ectx, sid); endErr != nil {
			log.Error("hangup after failed save failed", "call_sid", sid, "err", endErr)
		}
		release()
		return OutboundResult{}, fmt.Errorf("telephony: save call config: %w", err)
	}

	log.Info("outbound call created", "call_sid", sid)
	return OutboundResult{ConversationID: id, CarrierCallID: sid}, nil
}

// End hangs up the carrier call for conversationID and terminates the local
// conversation when it runs in this process.
func (d *Dialer) End(ctx context.Context, conversationID string) error {
	cfg, ok, err := d.Store.Get(ctx, conversationID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrCallNotFound
	}
	tw, isTwilio := cfg.(*calls.TwilioCallConfig)
	if !isTwilio {
		return fmt.Errorf("%w: %s", conversation.ErrUnsupportedCarrier, cfg.Type())
	}

	control := d.Control.ForCredentials(tw.Credentials)
	endErr := control.EndCall(ctx, tw.CarrierCallID)

	if d.Registry != nil {
		if conv, ok := d.Registry.Get(conversationID); ok {
			conv.Terminate()
		}
	}
	if errors.Is(endErr, ErrNotCompleted) {
		d.log().Warn("end call did not complete", "conversation_id", conversationID, "err", endErr)
	}
	return endErr
}
