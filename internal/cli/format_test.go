package cli

import (
	"testing"
	"time"

	"github.com/jberon/kiln/internal/models"
)

func TestTruncateText(t *testing.T) {
	if got := truncateText("short", 10); got != "short" {
		t.Fatalf("truncateText(short) = %q", got)
	}
	if got := truncateText("a long description that keeps going", 10); got != "a long ..." {
		t.Fatalf("truncateText = %q", got)
	}
	if got := truncateText("exactlyten", 10); got != "exactlyten" {
		t.Fatalf("truncateText at limit = %q", got)
	}
}

func TestShortID(t *testing.T) {
	if got := shortID("0123456789abcdef"); got != "01234567" {
		t.Fatalf("shortID = %q", got)
	}
	if got := shortID("abc"); got != "abc" {
		t.Fatalf("shortID(short) = %q", got)
	}
}

func TestFormatLatency(t *testing.T) {
	if got := formatLatency(0); got != "-" {
		t.Fatalf("formatLatency(0) = %q", got)
	}
	if got := formatLatency(1234567 * time.Microsecond); got != "1.235s" {
		t.Fatalf("formatLatency = %q", got)
	}
}

func TestFormatTriState(t *testing.T) {
	if got := formatTriState(nil); got != "unknown" {
		t.Fatalf("formatTriState(nil) = %q", got)
	}
	yes := true
	if got := formatTriState(&yes); got != "yes" {
		t.Fatalf("formatTriState(true) = %q", got)
	}
	no := false
	if got := formatTriState(&no); got != "no" {
		t.Fatalf("formatTriState(false) = %q", got)
	}
}

func TestParseTaskType(t *testing.T) {
	got, err := parseTaskType("Generate")
	if err != nil {
		t.Fatalf("parseTaskType failed: %v", err)
	}
	if got != models.TaskGenerate {
		t.Fatalf("parseTaskType = %s", got)
	}

	if got, err := parseTaskType(""); err != nil || got != "" {
		t.Fatalf("empty task type should pass through, got %q, %v", got, err)
	}

	if _, err := parseTaskType("sorcery"); err == nil {
		t.Fatal("expected error for unknown task type")
	}
}
