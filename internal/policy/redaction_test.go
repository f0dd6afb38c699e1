package policy

import (
	"strings"
	"testing"
)

func TestRedactPII(t *testing.T) {
	input := "Email me at sam@example.com or +1 (555) 123-9876 and use 4242 4242 4242 4242."
	out, changed := RedactPII(input)
	if !changed {
		t.Fatalf("changed = false, want true")
	}
	for _, marker := range []string{"[REDACTED_EMAIL]", "[REDACTED_PHONE]", "[REDACTED_CARD]"} {
		if !strings.Contains(out, marker) {
			t.Fatalf("output missing marker %q: %q", marker, out)
		}
	}
	if strings.Contains(out, "4242") {
		t.Fatalf("card digits leaked: %q", out)
	}
}

func TestRedactPIILeavesPlainQuestionsAlone(t *testing.T) {
	out, changed := RedactPII("Explain quantum entanglement")
	if changed || out != "Explain quantum entanglement" {
		t.Fatalf("RedactPII() = %q, %v; want unchanged", out, changed)
	}
}

func TestLogSafeTruncates(t *testing.T) {
	got := LogSafe("  what is calculus about  ", 7)
	if got != "what is…" {
		t.Fatalf("LogSafe() = %q, want %q", got, "what is…")
	}
	if got := LogSafe("mail sam@example.com", 0); got != "mail [REDACTED_EMAIL]" {
		t.Fatalf("LogSafe() = %q", got)
	}
}
