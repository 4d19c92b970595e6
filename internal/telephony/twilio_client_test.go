package telephony

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"voice-bridge/internal/calls"
)

type capturedRequest struct {
	Path   string
	Form   url.Values
	User   string
	Pass   string
	Accept string
}

func newTestClient(t *testing.T, status int, body string) (*TwilioClient, *[]capturedRequest) {
	t.Helper()
	var mu sync.Mutex
	var got []capturedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		user, pass, _ := r.BasicAuth()
		mu.Lock()
		got = append(got, capturedRequest{Path: r.URL.Path, Form: r.PostForm, User: user, Pass: pass, Accept: r.Header.Get("Accept")})
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	c, err := NewTwilioClient(TwilioClientConfig{
		Credentials: calls.Credentials{AccountID: "AC1", Secret: "tok"},
		BaseURL:     "bridge.example.com",
		APIBaseURL:  srv.URL,
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c, &got
}

func TestNewTwilioClientRequiresCredentials(t *testing.T) {
	if _, err := NewTwilioClient(TwilioClientConfig{BaseURL: "x"}); err == nil {
		t.Fatalf("expected error without credentials")
	}
	if _, err := NewTwilioClient(TwilioClientConfig{Credentials: calls.Credentials{AccountID: "a", Secret: "b"}}); err == nil {
		t.Fatalf("expected error without base url")
	}
}

func TestCreateCallPostsConnectTwiML(t *testing.T) {
	c, got := newTestClient(t, http.StatusCreated, `{"sid":"CA999","status":"queued"}`)

	sid, err := c.CreateCall(context.Background(), CreateCallRequest{
		ConversationID: "outbound_1",
		To:             "15557654321",
		From:           "+15551234567",
		Record:         true,
		Params:         map[string]string{"MachineDetection": "Enable"},
	})
	if err != nil {
		t.Fatalf("create call: %v", err)
	}
	if sid != "CA999" {
		t.Fatalf("unexpected sid %q", sid)
	}
	if len(*got) != 1 {
		t.Fatalf("expected one request, got %d", len(*got))
	}
	req := (*got)[0]
	if req.Path != "/Accounts/AC1/Calls.json" {
		t.Fatalf("unexpected path %q", req.Path)
	}
	if req.User != "AC1" || req.Pass != "tok" || req.Accept != "application/json" {
		t.Fatalf("unexpected auth/accept: %+v", req)
	}
	if req.Form.Get("To") != "+15557654321" || req.Form.Get("From") != "+15551234567" {
		t.Fatalf("unexpected numbers: %v", req.Form)
	}
	if req.Form.Get("Record") != "true" || req.Form.Get("MachineDetection") != "Enable" {
		t.Fatalf("expected record and passthrough params: %v", req.Form)
	}
	if !strings.Contains(req.Form.Get("Twiml"), `url="wss://bridge.example.com/connect_call/outbound_1"`) {
		t.Fatalf("twiml does not point at media endpoint: %s", req.Form.Get("Twiml"))
	}
}

func TestCreateCallParamsCannotRedirectCall(t *testing.T) {
	c, got := newTestClient(t, http.StatusCreated, `{"sid":"CA1"}`)

	_, err := c.CreateCall(context.Background(), CreateCallRequest{
		ConversationID: "outbound_2",
		To:             "+15557654321",
		From:           "+15551234567",
		Digits:         "1234",
		Params: map[string]string{
			"To":             "+19990000000",
			"From":           "+19990000001",
			"Twiml":          "<Response><Hangup/></Response>",
			"Url":            "https://evil.example.com/twiml",
			"ApplicationSid": "AP1",
			"SendDigits":     "9",
			"Timeout":        "20",
		},
	})
	if err != nil {
		t.Fatalf("create call: %v", err)
	}
	form := (*got)[0].Form
	if form.Get("To") != "+15557654321" || form.Get("From") != "+15551234567" {
		t.Fatalf("numbers must come from the request: %v", form)
	}
	if !strings.Contains(form.Get("Twiml"), "/connect_call/outbound_2") {
		t.Fatalf("stream twiml was overridden: %s", form.Get("Twiml"))
	}
	if _, ok := form["Url"]; ok {
		t.Fatalf("Url must not be forwarded")
	}
	if _, ok := form["ApplicationSid"]; ok {
		t.Fatalf("ApplicationSid must not be forwarded")
	}
	if form.Get("SendDigits") != "1234" || form.Get("Timeout") != "20" {
		t.Fatalf("expected explicit digits and passthrough timeout: %v", form)
	}
}

func TestCreateCallClassifiesClientErrors(t *testing.T) {
	c, _ := newTestClient(t, http.StatusBadRequest, `{"code":21211,"message":"Invalid 'To' Phone Number","status":400}`)

	_, err := c.CreateCall(context.Background(), CreateCallRequest{ConversationID: "o", To: "1", From: "2"})
	if !errors.Is(err, ErrInputRejected) {
		t.Fatalf("expected ErrInputRejected, got %v", err)
	}
	if errors.Is(err, ErrCarrierFailure) {
		t.Fatalf("4xx must not be a carrier failure")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != 21211 || apiErr.Status != http.StatusBadRequest {
		t.Fatalf("expected APIError with code, got %#v", err)
	}
}

func TestCreateCallClassifiesServerErrors(t *testing.T) {
	c, _ := newTestClient(t, http.StatusServiceUnavailable, `upstream down`)

	_, err := c.CreateCall(context.Background(), CreateCallRequest{ConversationID: "o", To: "1", From: "2"})
	if !errors.Is(err, ErrCarrierFailure) {
		t.Fatalf("expected ErrCarrierFailure, got %v", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "upstream down" {
		t.Fatalf("expected raw body as message, got %#v", err)
	}
}

func TestCreateCallTransportErrorIsCarrierFailure(t *testing.T) {
	c, err := NewTwilioClient(TwilioClientConfig{
		Credentials: calls.Credentials{AccountID: "AC1", Secret: "tok"},
		BaseURL:     "bridge.example.com",
		APIBaseURL:  "http://127.0.0.1:1",
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = c.CreateCall(context.Background(), CreateCallRequest{ConversationID: "o", To: "1", From: "2"})
	if !errors.Is(err, ErrCarrierFailure) {
		t.Fatalf("expected ErrCarrierFailure, got %v", err)
	}
}

func TestCreateCallValidatesInput(t *testing.T) {
	c, got := newTestClient(t, http.StatusCreated, `{"sid":"CA1"}`)
	_, err := c.CreateCall(context.Background(), CreateCallRequest{ConversationID: "o", To: "1"})
	if !errors.Is(err, ErrInputRejected) {
		t.Fatalf("expected ErrInputRejected, got %v", err)
	}
	if len(*got) != 0 {
		t.Fatalf("no request expected for invalid input")
	}
}

func TestEndCallRequiresCompletedStatus(t *testing.T) {
	c, got := newTestClient(t, http.StatusOK, `{"sid":"CA1","status":"completed"}`)
	if err := c.EndCall(context.Background(), "CA1"); err != nil {
		t.Fatalf("end call: %v", err)
	}
	req := (*got)[0]
	if req.Path != "/Accounts/AC1/Calls/CA1.json" || req.Form.Get("Status") != "completed" {
		t.Fatalf("unexpected request: %+v", req)
	}

	c2, _ := newTestClient(t, http.StatusOK, `{"sid":"CA1","status":"in-progress"}`)
	if err := c2.EndCall(context.Background(), "CA1"); !errors.Is(err, ErrNotCompleted) {
		t.Fatalf("expected ErrNotCompleted, got %v", err)
	}
}

func TestForCredentialsSwitchesAccount(t *testing.T) {
	c, got := newTestClient(t, http.StatusOK, `{"sid":"CA1","status":"completed"}`)
	other := c.ForCredentials(calls.Credentials{AccountID: "AC2", Secret: "tok2"})
	if err := other.EndCall(context.Background(), "CA1"); err != nil {
		t.Fatalf("end call: %v", err)
	}
	req := (*got)[0]
	if req.Path != "/Accounts/AC2/Calls/CA1.json" || req.User != "AC2" || req.Pass != "tok2" {
		t.Fatalf("expected other account, got %+v", req)
	}
	if c.Credentials().AccountID != "AC1" {
		t.Fatalf("base client must keep its credentials")
	}
}
