package event

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func mustParse(t *testing.T, s string) Message {
	t.Helper()
	msg, err := ParseMessage([]byte(s))
	if err != nil {
		t.Fatalf("ParseMessage(%s) error = %v", s, err)
	}
	return msg
}

func TestValidate_PointKeepsFieldsAndOverridesSTime(t *testing.T) {
	received := time.Now()
	msg := mustParse(t, `{"t":"point","c":"layer0","x":1,"y":2,"color":"#ff0000","width":3,"ctime":100.5,"stime":1}`)

	ev, err := Validate(msg, received)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	p, ok := ev.(Point)
	if !ok {
		t.Fatalf("expected Point, got %T", ev)
	}
	if p.C != "layer0" || p.X != 1 || p.Y != 2 || p.Width != 3 || p.CTime != 100.5 {
		t.Fatalf("fields changed: %+v", p)
	}
	if p.Color == nil || *p.Color != "#ff0000" {
		t.Fatalf("color = %v, want #ff0000", p.Color)
	}
	if p.STime == 1 || p.STime < Timestamp(received) {
		t.Fatalf("stime = %f, want server time >= %f", p.STime, Timestamp(received))
	}
}

func TestValidate_LineRoundTrip(t *testing.T) {
	msg := mustParse(t, `{"t":"line","c":"layer1","fx":0,"fy":-4,"tx":10,"ty":20,"width":10,"ctime":1700000000000}`)
	ev, err := Validate(msg, time.Now())
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	b, err := Encode(ev)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	back, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if back != ev {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", back, ev)
	}
	l := back.(Line)
	if l.FY != -4 || l.TX != 10 || l.TY != 20 || l.CTime != 1700000000000 || l.Color != nil {
		t.Fatalf("unexpected line: %+v", l)
	}
}

func TestValidate_Errors(t *testing.T) {
	long := strings.Repeat("a", 513)
	cases := []struct {
		name string
		in   string
		want error
	}{
		{"no type", `{"c":"layer0","x":1}`, ErrMissingType},
		{"unknown type", `{"t":"circle"}`, ErrUnknownType},
		{"type not a string", `{"t":5}`, ErrUnknownType},
		{"null type", `{"t":null}`, ErrUnknownType},
		{"color without hash", `{"t":"point","c":"l","x":1,"y":2,"color":"ff0000","width":3,"ctime":1}`, ErrInvalidPayload},
		{"color too long", `{"t":"line","c":"l","fx":1,"fy":2,"tx":3,"ty":4,"color":"#0123456789","width":3,"ctime":1}`, ErrInvalidPayload},
		{"empty color", `{"t":"point","c":"l","x":1,"y":2,"color":"","width":3,"ctime":1}`, ErrInvalidPayload},
		{"width zero", `{"t":"point","c":"l","x":1,"y":2,"width":0,"ctime":1}`, ErrInvalidPayload},
		{"width eleven", `{"t":"line","c":"l","fx":1,"fy":2,"tx":3,"ty":4,"width":11,"ctime":1}`, ErrInvalidPayload},
		{"width missing", `{"t":"point","c":"l","x":1,"y":2,"ctime":1}`, ErrInvalidPayload},
		{"x not int", `{"t":"point","c":"l","x":1.5,"y":2,"width":3,"ctime":1}`, ErrInvalidPayload},
		{"x string", `{"t":"point","c":"l","x":"1","y":2,"width":3,"ctime":1}`, ErrInvalidPayload},
		{"line ctime float", `{"t":"line","c":"l","fx":1,"fy":2,"tx":3,"ty":4,"width":3,"ctime":1.25}`, ErrInvalidPayload},
		{"clear without ctime", `{"t":"clear"}`, ErrInvalidPayload},
		{"chat too long", `{"t":"chat","m":"` + long + `"}`, ErrInvalidPayload},
		{"chat missing body", `{"t":"chat"}`, ErrInvalidPayload},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Validate(mustParse(t, tc.in), time.Now())
			if !errors.Is(err, tc.want) {
				t.Fatalf("Validate() error = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestValidate_WidthBounds(t *testing.T) {
	for w := -2; w <= 13; w++ {
		b, _ := json.Marshal(map[string]any{"t": "point", "c": "l", "x": 0, "y": 0, "width": w, "ctime": 1})
		_, err := Validate(mustParse(t, string(b)), time.Now())
		inRange := w >= 1 && w <= 10
		if inRange && err != nil {
			t.Fatalf("width %d: unexpected error %v", w, err)
		}
		if !inRange && !errors.Is(err, ErrInvalidPayload) {
			t.Fatalf("width %d: error = %v, want ErrInvalidPayload", w, err)
		}
	}
}

func TestValidate_ColorNineCharsAccepted(t *testing.T) {
	msg := mustParse(t, `{"t":"point","c":"l","x":1,"y":2,"color":"#01234567","width":3,"ctime":1}`)
	if _, err := Validate(msg, time.Now()); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestValidate_ChatAndClear(t *testing.T) {
	ev, err := Validate(mustParse(t, `{"t":"chat","m":"`+strings.Repeat("z", 512)+`","c":"ignored"}`), time.Now())
	if err != nil {
		t.Fatalf("chat of 512 chars: %v", err)
	}
	if ev.Type() != TypeChat {
		t.Fatalf("type = %s", ev.Type())
	}

	ev, err = Validate(mustParse(t, `{"t":"clear","ctime":7}`), time.Now())
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	c := ev.(Clear)
	if c.C != nil || c.CTime != 7 {
		t.Fatalf("unexpected clear: %+v", c)
	}
}

func TestParseMessage_RejectsNonObjects(t *testing.T) {
	for _, in := range []string{`null`, `[1,2]`, `"point"`, `{bad json`} {
		if _, err := ParseMessage([]byte(in)); !errors.Is(err, ErrInvalidPayload) {
			t.Fatalf("ParseMessage(%s) error = %v, want ErrInvalidPayload", in, err)
		}
	}
}

func TestEncode_PointWireShape(t *testing.T) {
	ev, err := Validate(mustParse(t, `{"t":"point","c":"layer0","x":1,"y":2,"width":3,"ctime":100.0}`), time.Now())
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	b, err := Encode(ev)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, k := range []string{"t", "c", "x", "y", "color", "width", "stime", "ctime"} {
		if _, ok := got[k]; !ok {
			t.Fatalf("missing key %q in %s", k, b)
		}
	}
	if got["color"] != nil {
		t.Fatalf("color = %v, want null", got["color"])
	}
	if !strings.HasPrefix(string(b), `{"t":"point","c":"layer0","x":1,"y":2,"color":null,"width":3,`) {
		t.Fatalf("unexpected field order: %s", b)
	}
}
