package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"voice-bridge/internal/calls"
	"voice-bridge/internal/metrics"
)

const defaultTwilioAPIBase = "https://api.twilio.com/2010-04-01"

type TwilioClientConfig struct {
	Credentials calls.Credentials

	// BaseURL is this bridge's public host, used for the media stream URL.
	BaseURL string

	// APIBaseURL overrides the Twilio REST endpoint (tests).
	APIBaseURL string

	Timeout    time.Duration
	HTTPClient *http.Client
	Metrics    *metrics.Metrics
}

// TwilioClient implements CallControl against the Twilio REST API.
type TwilioClient struct {
	creds      calls.Credentials
	baseURL    string
	apiBaseURL string
	httpClient *http.Client
	metrics    *metrics.Metrics
}

func NewTwilioClient(cfg TwilioClientConfig) (*TwilioClient, error) {
	if cfg.Credentials.AccountID == "" || cfg.Credentials.Secret == "" {
		return nil, errors.New("telephony: twilio credentials are required")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("telephony: base url is required")
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaultTwilioAPIBase
	}
	if cfg.HTTPClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		cfg.HTTPClient = &http.Client{Timeout: timeout}
	}
	return &TwilioClient{
		creds:      cfg.Credentials,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiBaseURL: strings.TrimRight(cfg.APIBaseURL, "/"),
		httpClient: cfg.HTTPClient,
		metrics:    cfg.Metrics,
	}, nil
}

// ForCredentials returns a client for another account sharing transport settings.
func (c *TwilioClient) ForCredentials(creds calls.Credentials) CallControl {
	cp := *c
	cp.creds = creds
	return &cp
}

func (c *TwilioClient) Name() string { return "twilio" }

func (c *TwilioClient) Credentials() calls.Credentials { return c.creds }

// ConnectURL is the media WebSocket endpoint for a conversation.
func (c *TwilioClient) ConnectURL(conversationID string) string {
	return "wss://" + c.baseURL + "/connect_call/" + url.PathEscape(conversationID)
}

func (c *TwilioClient) ConnectInstructions(conversationID string) (string, error) {
	return RenderConnectTwiML(c.ConnectURL(conversationID))
}

// reservedCallParams decide where the call goes and what it runs; the
// stored config must describe them, so extra params cannot override them.
var reservedCallParams = map[string]bool{
	"To":             true,
	"From":           true,
	"Twiml":          true,
	"Url":            true,
	"ApplicationSid": true,
}

type twilioCall struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

func (c *TwilioClient) CreateCall(ctx context.Context, req CreateCallRequest) (string, error) {
	if req.ConversationID == "" || req.To == "" || req.From == "" {
		return "", fmt.Errorf("%w: conversation_id, to and from are required", ErrInputRejected)
	}
	twiml, err := c.ConnectInstructions(req.ConversationID)
	if err != nil {
		return "", err
	}

	data := url.Values{}
	for k, v := range req.Params {
		if reservedCallParams[k] {
			continue
		}
		data.Set(k, v)
	}
	data.Set("Twiml", twiml)
	data.Set("To", e164(req.To))
	data.Set("From", e164(req.From))
	if req.Record {
		data.Set("Record", "true")
	}
	if req.Digits != "" {
		data.Set("SendDigits", req.Digits)
	}

	endpoint := fmt.Sprintf("%s/Accounts/%s/Calls.json", c.apiBaseURL, url.PathEscape(c.creds.AccountID))
	var call twilioCall
	if err := c.post(ctx, endpoint, data, &call); err != nil {
		c.metrics.CallControl("create_call", outcomeOf(err))
		return "", err
	}
	if call.SID == "" {
		c.metrics.CallControl("create_call", "carrier_failure")
		return "", fmt.Errorf("%w: response without call sid", ErrCarrierFailure)
	}
	c.metrics.CallControl("create_call", "ok")
	return call.SID, nil
}

func (c *TwilioClient) EndCall(ctx context.Context, carrierCallID string) error {
	if carrierCallID == "" {
		return fmt.Errorf("%w: carrier call id is required", ErrInputRejected)
	}
	endpoint := fmt.Sprintf("%s/Accounts/%s/Calls/%s.json",
		c.apiBaseURL, url.PathEscape(c.creds.AccountID), url.PathEscape(carrierCallID))

	data := url.Values{}
	data.Set("Status", "completed")

	var call twilioCall
	if err := c.post(ctx, endpoint, data, &call); err != nil {
		c.metrics.CallControl("end_call", outcomeOf(err))
		return err
	}
	if call.Status != "completed" {
		c.metrics.CallControl("end_call", "not_completed")
		return fmt.Errorf("%w: status %q", ErrNotCompleted, call.Status)
	}
	c.metrics.CallControl("end_call", "ok")
	return nil
}

// APIError is a non-2xx response from the carrier.
type APIError struct {
	Status   int    `json:"status"`
	Code     int    `json:"code"`
	Message  string `json:"message"`
	MoreInfo string `json:"more_info"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("twilio error %d (http %d): %s", e.Code, e.Status, e.Message)
}

// Unwrap classifies the error: 4xx is input rejection, anything else a carrier failure.
func (e *APIError) Unwrap() error {
	if e.Status >= 400 && e.Status < 500 {
		return ErrInputRejected
	}
	return ErrCarrierFailure
}

func (c *TwilioClient) post(ctx context.Context, endpoint string, data url.Values, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(c.creds.AccountID, c.creds.Secret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCarrierFailure, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrCarrierFailure, err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{}
		if err := json.Unmarshal(body, apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(body))
		}
		apiErr.Status = resp.StatusCode
		return apiErr
	}

	if result != nil {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("%w: parse response: %v", ErrCarrierFailure, err)
		}
	}
	return nil
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, ErrInputRejected):
		return "input_rejected"
	case errors.Is(err, ErrCarrierFailure):
		return "carrier_failure"
	default:
		return "error"
	}
}

func e164(n string) string {
	n = strings.TrimSpace(n)
	if n == "" || strings.HasPrefix(n, "+") {
		return n
	}
	return "+" + n
}
