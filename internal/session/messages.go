// Package session implements the two session flavours of the gateway: the
// push-to-talk conversation session and the continuous broadcast session.
package session

import (
	"encoding/json"
	"fmt"
)

// Client control message types.
const (
	MsgStop   = "stop"
	MsgPing   = "ping"
	MsgVolume = "volume"
)

// ClientMessage is a control message received from a browser.
type ClientMessage struct {
	Type  string  `json:"type"`
	Value float64 `json:"value,omitempty"`
}

// ParseClientMessage decodes a text frame from the client. Unknown types
// decode fine; callers ignore what they do not handle.
func ParseClientMessage(data []byte) (ClientMessage, error) {
	var m ClientMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return ClientMessage{}, fmt.Errorf("session: parse client message: %w", err)
	}
	if m.Type == "" {
		return ClientMessage{}, fmt.Errorf("session: client message missing type")
	}
	return m, nil
}

// serverMessage covers every text frame the gateway sends to a browser.
type serverMessage struct {
	Type        string   `json:"type"`
	Text        string   `json:"text,omitempty"`
	Original    string   `json:"original,omitempty"`
	Translation string   `json:"translation,omitempty"`
	Message     string   `json:"message,omitempty"`
	Format      string   `json:"format,omitempty"`
	Value       *float64 `json:"value,omitempty"`
}

func mustJSON(m serverMessage) []byte {
	data, err := json.Marshal(m)
	if err != nil {
		// serverMessage contains only marshalable fields.
		panic(err)
	}
	return data
}

// transcriptionUpdate carries the growing interim transcript.
func transcriptionUpdate(text string) []byte {
	return mustJSON(serverMessage{Type: "transcription_update", Text: text})
}

// translationMessage carries the original and translated text. format tags
// the container of the binary audio that follows.
func translationMessage(original, translation, format string) []byte {
	return mustJSON(serverMessage{
		Type:        "translation",
		Original:    original,
		Translation: translation,
		Format:      format,
	})
}

// errorMessage carries a short user-visible failure name.
func errorMessage(message string) []byte {
	return mustJSON(serverMessage{Type: "error", Message: message})
}

// statusMessage carries informational text for display.
func statusMessage(message string) []byte {
	return mustJSON(serverMessage{Type: "status", Message: message})
}

// PongMessage answers a client ping.
func PongMessage() []byte {
	return mustJSON(serverMessage{Type: "pong"})
}

// VolumeMessage re-broadcasts a subscriber's volume change so the host
// bridge can apply it.
func VolumeMessage(value float64) []byte {
	return mustJSON(serverMessage{Type: "volume", Value: &value})
}
