package telephony

import (
	"errors"
	"net/http"
	"strings"

	"voice-bridge/internal/calls"
)

// TwilioInboundForm captures the subset of voice webhook fields we care about.
// Twilio sends application/x-www-form-urlencoded by default.
// Ref: https://www.twilio.com/docs/voice/twiml
type TwilioInboundForm struct {
	CallSid    string
	AccountSid string
	From       string
	To         string
	Direction  string
	CallStatus string
}

var ErrMissingField = errors.New("telephony: webhook missing required field")

func ParseTwilioInboundCall(r *http.Request) (TwilioInboundForm, error) {
	if err := r.ParseForm(); err != nil {
		return TwilioInboundForm{}, err
	}
	f := TwilioInboundForm{
		CallSid:    strings.TrimSpace(r.PostFormValue("CallSid")),
		AccountSid: strings.TrimSpace(r.PostFormValue("AccountSid")),
		From:       normalizePhone(r.PostFormValue("From")),
		To:         normalizePhone(r.PostFormValue("To")),
		Direction:  r.PostFormValue("Direction"),
		CallStatus: r.PostFormValue("CallStatus"),
	}
	if f.CallSid == "" || f.From == "" || f.To == "" {
		return f, ErrMissingField
	}
	return f, nil
}

func normalizePhone(s string) string {
	s = strings.TrimSpace(s)
	// Twilio sometimes sends "anonymous"; keep as-is.
	return s
}

// ToCallConfig builds the inbound record persisted before answering the webhook.
// The carrier call id is set here, exactly once.
func (f TwilioInboundForm) ToCallConfig(conversationID string, creds calls.Credentials, provider calls.StreamingProviderConfig, record bool) *calls.TwilioCallConfig {
	return &calls.TwilioCallConfig{
		Common: calls.Common{
			ConversationID:    conversationID,
			Direction:         calls.DirectionInbound,
			FromPhone:         f.From,
			ToPhone:           f.To,
			CarrierCallID:     f.CallSid,
			StreamingProvider: provider,
			Record:            record,
		},
		Credentials: creds,
	}
}
