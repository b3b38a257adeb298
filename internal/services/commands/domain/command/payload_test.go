package command

import (
	"encoding/json"
	"testing"
)

func TestPayloadInt64(t *testing.T) {
	p := Payload{
		"float":    float64(3),
		"fraction": 3.5,
		"number":   json.Number("7"),
		"text":     " 9 ",
		"bad":      "nine",
		"int":      4,
	}
	cases := map[string]struct {
		want int64
		ok   bool
	}{
		"float":    {3, true},
		"fraction": {0, false},
		"number":   {7, true},
		"text":     {9, true},
		"bad":      {0, false},
		"int":      {4, true},
		"missing":  {0, false},
	}
	for key, tc := range cases {
		got, ok := p.Int64(key)
		if ok != tc.ok || got != tc.want {
			t.Fatalf("Int64(%q) = %d, %v; want %d, %v", key, got, ok, tc.want, tc.ok)
		}
	}
}

func TestPayloadWithoutAndHas(t *testing.T) {
	p := Payload{"id": "x", "title": "t", "empty": nil}
	out := p.Without("id")
	if out.Has("id") {
		t.Fatal("expected id removed")
	}
	if !p.Has("id") {
		t.Fatal("expected original untouched")
	}
	if p.Has("empty") {
		t.Fatal("expected nil value to report absent")
	}
	var nilPayload Payload
	if nilPayload.String("x") != "" || nilPayload.Has("x") {
		t.Fatal("expected nil payload to be empty")
	}
	if got := nilPayload.Without("x"); got == nil {
		t.Fatal("expected non-nil payload from Without")
	}
}
