package session

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestParseClientMessage(t *testing.T) {
	m, err := ParseClientMessage([]byte(`{"type":"volume","value":0.5}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if m.Type != "volume" || m.Value != 0.5 {
		t.Errorf("message = %+v", m)
	}

	if _, err := ParseClientMessage([]byte(`not json`)); err == nil {
		t.Error("expected error for malformed message")
	}
	if _, err := ParseClientMessage([]byte(`{"value":1}`)); err == nil {
		t.Error("expected error for missing type")
	}
}

func TestServerMessages(t *testing.T) {
	cases := []struct {
		name string
		data []byte
		want map[string]any
	}{
		{
			"translation",
			translationMessage("你好", "Hello", "audio/mpeg"),
			map[string]any{"type": "translation", "original": "你好", "translation": "Hello", "format": "audio/mpeg"},
		},
		{
			"transcription_update",
			transcriptionUpdate("partial text"),
			map[string]any{"type": "transcription_update", "text": "partial text"},
		},
		{
			"error",
			errorMessage("ClientSlow"),
			map[string]any{"type": "error", "message": "ClientSlow"},
		},
		{
			"pong",
			PongMessage(),
			map[string]any{"type": "pong"},
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			var got map[string]any
			if err := json.Unmarshal(c.data, &got); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			for k, v := range c.want {
				if got[k] != v {
					t.Errorf("%s = %v, want %v", k, got[k], v)
				}
			}
			if len(got) != len(c.want) {
				t.Errorf("extra fields in %s", c.data)
			}
		})
	}
}

func TestVolumeMessage_ZeroIsExplicit(t *testing.T) {
	data := VolumeMessage(0)
	if !strings.Contains(string(data), `"value":0`) {
		t.Errorf("zero volume must survive marshalling: %s", data)
	}
}

func TestTranslationMessage_OmitsEmptyFormat(t *testing.T) {
	data := translationMessage("a", "b", "")
	if strings.Contains(string(data), "format") {
		t.Errorf("empty format must be omitted: %s", data)
	}
}
