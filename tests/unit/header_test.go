package unit

import (
	"regexp"
	"testing"

	"github.com/swordli/mitmproxy/pkg/header"
)

func TestHeaderCaseInsensitiveLookup(t *testing.T) {
	h := header.New()
	h.Add("Content-Type", "text/html")

	if _, ok := h.GetFirst("content-type"); !ok {
		t.Fatal("expected lowercase lookup to find Content-Type")
	}
	if _, ok := h.GetFirst("CONTENT-TYPE"); !ok {
		t.Fatal("expected uppercase lookup to find Content-Type")
	}
}

func TestHeaderSetReplacesAllValuesAtFirstPosition(t *testing.T) {
	h := header.New()
	h.Add("X-A", "1")
	h.Add("X-B", "b")
	h.Add("X-A", "2")

	h.Set("X-A", "final")

	if got := h.Get("X-A"); len(got) != 1 || got[0] != "final" {
		t.Fatalf("expected single final value, got %v", got)
	}
	names := h.Names()
	if names[0] != "X-A" || names[1] != "X-B" {
		t.Fatalf("expected X-A to keep its original position, got %v", names)
	}
}

func TestHeaderDelete(t *testing.T) {
	h := header.New()
	h.Add("X-Drop", "1")
	h.Add("X-Keep", "2")
	h.Delete("x-drop")

	if _, ok := h.GetFirst("X-Drop"); ok {
		t.Fatal("expected X-Drop to be removed")
	}
	if _, ok := h.GetFirst("X-Keep"); !ok {
		t.Fatal("expected X-Keep to survive")
	}
}

func TestHeaderInAny(t *testing.T) {
	h := header.New()
	h.Add("Connection", "Keep-Alive")

	if !h.InAny("Connection", "keep-alive", true) {
		t.Fatal("expected case-insensitive substring match")
	}
	if h.InAny("Connection", "close", true) {
		t.Fatal("did not expect a match for close")
	}
}

func TestHeaderReplaceCountsSubstitutions(t *testing.T) {
	h := header.New()
	h.Add("X-Token", "secret-123")
	h.Add("X-Other", "secret-456")

	n := h.Replace(regexp.MustCompile(`secret`), "redacted")
	if n != 2 {
		t.Fatalf("expected 2 substitutions, got %d", n)
	}
	if v, _ := h.GetFirst("X-Token"); v != "redacted-123" {
		t.Fatalf("unexpected value after replace: %q", v)
	}
}

func TestHeaderCloneIsIndependent(t *testing.T) {
	h := header.New()
	h.Add("X-A", "1")

	clone := h.Clone()
	clone.Add("X-A", "2")

	if len(h.Get("X-A")) != 1 {
		t.Fatalf("expected original map unaffected by clone mutation, got %v", h.Get("X-A"))
	}
}
