package katcp

import (
	"errors"
	"testing"
)

func TestParseMessage(t *testing.T) {
	msg, err := ParseMessage([]byte("!wordread ok 0x0000abcd\n"))
	if err != nil {
		t.Fatalf("ParseMessage returned error: %v", err)
	}
	if msg.Type != Reply || msg.Name != "wordread" {
		t.Fatalf("unexpected header: %+v", msg)
	}
	if !msg.OK() {
		t.Fatalf("expected ok reply, status = %q", msg.Status())
	}
	if len(msg.Args) != 2 || msg.Args[1] != "0x0000abcd" {
		t.Fatalf("args = %q, want [ok 0x0000abcd]", msg.Args)
	}
}

func TestParseMessageWithID(t *testing.T) {
	msg, err := ParseMessage([]byte("?progremote[12] 3000"))
	if err != nil {
		t.Fatalf("ParseMessage returned error: %v", err)
	}
	if msg.ID != 12 || msg.Name != "progremote" {
		t.Fatalf("id/name = %d/%q, want 12/progremote", msg.ID, msg.Name)
	}
	if got := msg.String(); got != "?progremote[12] 3000" {
		t.Fatalf("String() = %q", got)
	}
}

func TestParseMessageTabsAndCR(t *testing.T) {
	msg, err := ParseMessage([]byte("#log\twarn\t12345  katcp\\_server  msg\r\n"))
	if err != nil {
		t.Fatalf("ParseMessage returned error: %v", err)
	}
	want := []string{"warn", "12345", "katcp server", "msg"}
	if len(msg.Args) != len(want) {
		t.Fatalf("args = %q, want %q", msg.Args, want)
	}
	for i := range want {
		if msg.Args[i] != want[i] {
			t.Fatalf("arg %d = %q, want %q", i, msg.Args[i], want[i])
		}
	}
}

func TestParseMessageRejectsGarbage(t *testing.T) {
	cases := []string{
		"",
		"?",
		"wordread ok",
		"?1bad",
		"?name[x] a",
		"?name[0] a",
		"!name ok trailing\\",
		"!name ok \\q",
	}
	for _, line := range cases {
		if _, err := ParseMessage([]byte(line)); !errors.Is(err, ErrMalformed) {
			t.Errorf("ParseMessage(%q) error = %v, want ErrMalformed", line, err)
		}
	}
}

func TestEscapeRoundTrip(t *testing.T) {
	cases := []string{
		"",
		"plain",
		"with space",
		"back\\slash",
		"tab\tnew\nline\rcr",
		"nul\x00esc\x1b",
	}
	for _, in := range cases {
		esc := Escape(in)
		for i := 0; i < len(esc); i++ {
			if esc[i] == ' ' || esc[i] == '\n' || esc[i] == '\t' {
				t.Fatalf("Escape(%q) = %q still contains whitespace", in, esc)
			}
		}
		out, err := Unescape(esc)
		if err != nil {
			t.Fatalf("Unescape(%q) returned error: %v", esc, err)
		}
		if out != in {
			t.Fatalf("round trip of %q gave %q", in, out)
		}
	}
}

func TestMarshalEmptyArg(t *testing.T) {
	got := string(NewRequest("meta", "", "x y").Marshal())
	if got != "?meta \\@ x\\_y\n" {
		t.Fatalf("Marshal = %q", got)
	}
}
