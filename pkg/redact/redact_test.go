package redact

import (
	"strings"
	"testing"
)

func TestRedactDisabled(t *testing.T) {
	SetEnabled(false)
	in := "email a@b.com and phone +62 812 3456 7890"
	if got := Text(in); got != in {
		t.Fatalf("expected no redaction, got %q", got)
	}
}

func TestRedactEnabled(t *testing.T) {
	SetEnabled(true)
	defer SetEnabled(false)
	in := "email a@b.com and phone +62 812 3456 7890"
	got := Text(in)
	if got == in {
		t.Fatalf("expected redaction")
	}
	if want := "[REDACTED_EMAIL]"; !strings.Contains(got, want) {
		t.Fatalf("expected %q in output", want)
	}
	if !strings.Contains(got, "[REDACTED_") || strings.Contains(got, "3456") {
		t.Fatalf("expected phone digits masked, got %q", got)
	}
}

func TestRedactCardNumber(t *testing.T) {
	SetEnabled(true)
	defer SetEnabled(false)
	got := Text("my card is 4111 1111 1111 1111 thanks")
	if strings.Contains(got, "4111") {
		t.Fatalf("expected card masked, got %q", got)
	}
}

func TestSnippetTruncates(t *testing.T) {
	SetEnabled(false)
	if got := Snippet("hello world", 5); got != "hello…" {
		t.Fatalf("expected truncated snippet, got %q", got)
	}
	if got := Snippet("hi", 5); got != "hi" {
		t.Fatalf("expected untouched snippet, got %q", got)
	}
	if got := Snippet("hello world", 0); got != "hello world" {
		t.Fatalf("expected no truncation, got %q", got)
	}
}
