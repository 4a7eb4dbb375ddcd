package proto

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestDecodeValidEnvelope(t *testing.T) {
	raw := []byte(`{"type":"rfq_update","payload":{"status":"awarded"},"targetRoom":"rfq-42","senderId":"u1"}`)

	env, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Type != TypeRFQUpdate || env.TargetRoom != "rfq-42" || env.SenderID != "u1" {
		t.Fatalf("unexpected envelope: %+v", env)
	}

	var body struct {
		Status string `json:"status"`
	}
	if err := env.DecodePayload(&body); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if body.Status != "awarded" {
		t.Fatalf("unexpected payload: %+v", body)
	}
}

func TestDecodeMalformedInputIsParseError(t *testing.T) {
	cases := [][]byte{
		[]byte(`{not json`),
		[]byte(`[1,2,3]`),
		[]byte(`{"payload":{}}`), // no type discriminator
	}
	for _, raw := range cases {
		if _, err := Decode(raw); !errors.Is(err, ErrParse) {
			t.Fatalf("input %q: expected ErrParse, got %v", raw, err)
		}
	}
}

func TestDecodeUnknownTypeSurvives(t *testing.T) {
	env, err := Decode([]byte(`{"type":"shiny_new_thing","payload":{"x":1}}`))
	if err != nil {
		t.Fatalf("unknown type must decode: %v", err)
	}
	if env.Type != "shiny_new_thing" {
		t.Fatalf("type mangled: %q", env.Type)
	}
}

func TestNewStampsTimestampAndMessageID(t *testing.T) {
	env, err := New(TypeCollaboration, map[string]string{"text": "hi"}, "rfq-7")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if env.Timestamp.IsZero() {
		t.Fatal("timestamp not set")
	}
	if !strings.HasPrefix(env.MessageID, TypeCollaboration+"-") {
		t.Fatalf("unexpected message id: %q", env.MessageID)
	}
	if env.SenderID != "" {
		t.Fatal("sender must be stamped by the relay, not the producer")
	}

	other, _ := New(TypeCollaboration, nil, "rfq-7")
	if other.MessageID == env.MessageID {
		t.Fatal("message ids collided")
	}
}

func TestErrorEnvelopeRoundTrip(t *testing.T) {
	env := ErrorEnvelope("bad_request", "room is required")

	data, err := Encode(env)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	var body ErrorPayload
	if err := decoded.DecodePayload(&body); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if body.Code != "bad_request" || body.Message != "room is required" {
		t.Fatalf("unexpected error payload: %+v", body)
	}
}

func TestEnvelopeOmitsEmptyOptionalFields(t *testing.T) {
	env, _ := New(TypeHeartbeat, nil, "")
	data, _ := json.Marshal(env)
	for _, field := range []string{"senderId", "targetRoom", "payload"} {
		if strings.Contains(string(data), field) {
			t.Fatalf("field %s should be omitted when empty: %s", field, data)
		}
	}
}
