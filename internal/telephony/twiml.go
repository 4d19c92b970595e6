package telephony

import (
	"bytes"
	"encoding/xml"
	"errors"
	"strings"
)

// TwiML is a minimal Twilio Markup Language response builder.
// Only the verbs the bridge answers with are modelled.

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type twimlConnect struct {
	XMLName xml.Name    `xml:"Connect"`
	Stream  twimlStream `xml:"Stream"`
}

type twimlStream struct {
	URL string `xml:"url,attr"`
}

type twimlHangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

// RenderConnectTwiML tells the carrier to stream the call's media to streamURL.
func RenderConnectTwiML(streamURL string) (string, error) {
	if !strings.HasPrefix(streamURL, "wss://") && !strings.HasPrefix(streamURL, "ws://") {
		return "", errors.New("telephony: stream url must be a websocket url")
	}
	return renderTwiML(twimlResponse{Verbs: []any{twimlConnect{Stream: twimlStream{URL: streamURL}}}})
}

// RenderHangupTwiML ends the call immediately; used when a webhook cannot be served.
func RenderHangupTwiML() (string, error) {
	return renderTwiML(twimlResponse{Verbs: []any{twimlHangup{}}})
}

func renderTwiML(r twimlResponse) (string, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(r); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
