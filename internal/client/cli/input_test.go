package cli

import (
	"bufio"
	"bytes"
	"errors"
	"strings"
	"testing"
)

func rdr(s string) *bufio.Reader {
	return bufio.NewReader(strings.NewReader(s))
}

func TestGetSimpleText(t *testing.T) {
	var out bytes.Buffer
	got, err := GetSimpleText(rdr("hello world\n"), "Name?", &out)
	if err != nil || got != "hello world" {
		t.Fatalf("got %q, err=%v", got, err)
	}
	if !strings.Contains(out.String(), "Name?") {
		t.Fatalf("prompt not written: %q", out.String())
	}
}

func TestGetSimpleTextEOF(t *testing.T) {
	var out bytes.Buffer
	got, err := GetSimpleText(rdr("lastline"), "Name?", &out)
	if err != nil || got != "lastline" {
		t.Fatalf("got %q, err=%v", got, err)
	}

	if _, err := GetSimpleText(rdr(""), "Name?", &out); err == nil {
		t.Fatal("expected EOF error on empty input")
	}
}

func TestGetAPIKey(t *testing.T) {
	old := readPassword
	defer func() { readPassword = old }()

	tests := []struct {
		name    string
		input   []byte
		err     error
		want    string
		wantErr bool
	}{
		{name: "ok", input: []byte(" secret \n"), want: "secret"},
		{name: "empty", input: []byte("  "), wantErr: true},
		{name: "terminal error", err: errors.New("boom"), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			readPassword = func(int) ([]byte, error) { return tt.input, tt.err }
			var out bytes.Buffer
			got, err := GetAPIKey(&out)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil || got != tt.want {
				t.Fatalf("got %q, err=%v", got, err)
			}
		})
	}
}

func TestConfirm(t *testing.T) {
	var out bytes.Buffer
	for input, want := range map[string]bool{
		"y\n":   true,
		"YES\n": true,
		"n\n":   false,
		"\n":    false,
		"":      false,
	} {
		if got := Confirm(rdr(input), "Sure?", &out); got != want {
			t.Errorf("Confirm(%q) = %v, want %v", input, got, want)
		}
	}
}
