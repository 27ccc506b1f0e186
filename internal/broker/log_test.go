package broker

import (
	"errors"
	"fmt"
	"testing"
)

func TestMessageLogKeepsMostRecent(t *testing.T) {
	log := NewMessageLog(3)

	for i := 1; i <= 4; i++ {
		log.Add(Entry{Topic: fmt.Sprintf("t/%d", i)})
	}

	got := log.Entries()
	want := []string{"t/4", "t/3", "t/2"}
	if len(got) != len(want) {
		t.Fatalf("Entries() len = %d, want %d", len(got), len(want))
	}
	for i, w := range want {
		if got[i].Topic != w {
			t.Errorf("Entries()[%d] = %q, want %q", i, got[i].Topic, w)
		}
	}
}

func TestMessageLogPartiallyFilled(t *testing.T) {
	log := NewMessageLog(5)
	log.Add(Entry{Topic: "a"})
	log.Add(Entry{Topic: "b"})

	got := log.Entries()
	if len(got) != 2 || got[0].Topic != "b" || got[1].Topic != "a" {
		t.Errorf("Entries() = %+v", got)
	}
	if log.Len() != 2 || log.Cap() != 5 {
		t.Errorf("Len/Cap = %d/%d", log.Len(), log.Cap())
	}
}

func TestMessageLogDefaultsAndClear(t *testing.T) {
	log := NewMessageLog(0)
	if log.Cap() != DefaultLogCapacity {
		t.Errorf("Cap() = %d, want %d", log.Cap(), DefaultLogCapacity)
	}

	log.Add(Entry{Topic: "a"})
	log.Clear()
	if log.Len() != 0 || len(log.Entries()) != 0 {
		t.Error("Clear() left entries behind")
	}

	log.Add(Entry{Topic: "b"})
	if got := log.Entries(); len(got) != 1 || got[0].Topic != "b" {
		t.Errorf("Entries() after Clear = %+v", got)
	}
}

func TestFormatPayload(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
	}{
		{"object", `{"a":1,"b":[1,2]}`, "{\n  \"a\": 1,\n  \"b\": [\n    1,\n    2\n  ]\n}"},
		{"number", `42`, "42"},
		{"plain text", `hello`, "hello"},
		{"broken json", `{"a":`, `{"a":`},
		{"empty", ``, ``},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatPayload(tt.payload); got != tt.want {
				t.Errorf("FormatPayload(%q) = %q, want %q", tt.payload, got, tt.want)
			}
		})
	}
}

func TestDecodePayloadError(t *testing.T) {
	if _, err := DecodePayload("not json"); !errors.Is(err, ErrDecode) {
		t.Errorf("DecodePayload() error = %v, want ErrDecode", err)
	}
}
