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
}

func TestRedactPIIGovernmentID(t *testing.T) {
	out, changed := RedactPII("my id is 1234 5678 9012 please keep it safe")
	if !changed {
		t.Fatalf("changed = false, want true")
	}
	if !strings.Contains(out, "[REDACTED_ID]") {
		t.Fatalf("output missing id marker: %q", out)
	}
	if strings.Contains(out, "1234 5678 9012") {
		t.Fatalf("output still contains raw id: %q", out)
	}
}

func TestRedactPIILeavesPlainTextAlone(t *testing.T) {
	input := "I moved to Pune in 2021 and I like filter coffee."
	out, changed := RedactPII(input)
	if changed {
		t.Fatalf("changed = true, want false")
	}
	if out != input {
		t.Fatalf("output = %q, want unchanged input", out)
	}
}
