package usage

import (
	"strings"
	"testing"
	"time"
)

var seoul = time.FixedZone("KST", 9*60*60)

func reportLines(s string) []string {
	// Skip header (title, timestamp, blank separator).
	parts := strings.Split(s, "\n\n")
	if len(parts) < 2 {
		return nil
	}
	return strings.Split(parts[1], "\n")
}

func TestBuildReportLineOrderAndOmission(t *testing.T) {
	cur := snap("5%", "40%", "12%")
	tr := Tracking{Session: true, WeeklyAll: true, WeeklySonnet: true}

	out := BuildReport(TitleChange, cur, nil, tr, seoul, time.Now())
	lines := reportLines(out)
	if len(lines) != 3 {
		t.Fatalf("expected exactly 3 field lines, got %d: %q", len(lines), out)
	}
	for i, prefix := range []string{"session:", "weekly-all:", "weekly-sonnet:"} {
		if !strings.HasPrefix(lines[i], prefix) {
			t.Fatalf("line %d: expected prefix %q, got %q", i, prefix, lines[i])
		}
	}

	out = BuildReport(TitleChange, cur, nil, Tracking{WeeklyAll: true}, seoul, time.Now())
	lines = reportLines(out)
	if len(lines) != 1 || !strings.HasPrefix(lines[0], "weekly-all:") {
		t.Fatalf("disabled fields must be omitted, got %q", out)
	}
}

func TestBuildReportDeltaSigns(t *testing.T) {
	prev := snap("", "10%", "")
	cur := snap("", "15%", "")
	tr := Tracking{WeeklyAll: true}

	up := BuildReport(TitleChange, cur, prev, tr, seoul, time.Now())
	if !strings.Contains(up, "(+5)") {
		t.Fatalf("expected (+5) in %q", up)
	}

	down := BuildReport(TitleChange, prev, cur, tr, seoul, time.Now())
	if !strings.Contains(down, "(-5)") {
		t.Fatalf("expected (-5) in %q", down)
	}
}

func TestBuildReportChangeScenario(t *testing.T) {
	prev := snap("5%", "40%", "")
	cur := snap("5%", "55%", "")
	tr := Tracking{Session: true, WeeklyAll: true}

	if !HasChanged(prev, cur, tr) {
		t.Fatal("weekly-all changed; HasChanged must be true")
	}

	out := BuildReport(TitleChange, cur, prev, tr, seoul, time.Now())
	if !strings.Contains(out, "weekly-all: 40% -> <b>55%</b> (+15)") {
		t.Fatalf("missing delta line in %q", out)
	}
	for _, line := range reportLines(out) {
		if strings.HasPrefix(line, "session:") {
			if strings.Contains(line, "->") {
				t.Fatalf("unchanged session line must have no arrow: %q", line)
			}
			if !strings.Contains(line, "5%") {
				t.Fatalf("session line must carry the current value: %q", line)
			}
		}
	}
}

func TestBuildReportNonNumericDeltaOmitted(t *testing.T) {
	prev := snap("", "n/a", "")
	cur := snap("", "41%", "")
	out := BuildReport(TitleChange, cur, prev, Tracking{WeeklyAll: true}, seoul, time.Now())
	if !strings.Contains(out, "n/a -> <b>41%</b>") {
		t.Fatalf("expected arrow line without delta in %q", out)
	}
	if strings.Contains(out, "(") {
		t.Fatalf("non-numeric previous must omit the delta: %q", out)
	}
}

func TestBuildReportCurrencyDelta(t *testing.T) {
	prev := snap("", "", "")
	cur := snap("", "", "")
	prev.AddOnUsed = strptr("$3.25")
	cur.AddOnUsed = strptr("$5.50")
	out := BuildReport(TitleChange, cur, prev, Tracking{AddOn: true}, seoul, time.Now())
	if !strings.Contains(out, "(+2.25)") {
		t.Fatalf("currency values must be stripped before the delta: %q", out)
	}
}

func TestBuildReportHeader(t *testing.T) {
	cur := snap("5%", "", "")
	tr := Tracking{Session: true, ReporterName: "ops <1>"}
	now := time.Date(2026, 2, 3, 12, 30, 0, 0, time.UTC)

	out := BuildReport(TitleStatus, cur, nil, tr, seoul, now)
	if !strings.Contains(out, "<b>Claude AI Usage "+TitleStatus+"</b>") {
		t.Fatalf("missing bold title in %q", out)
	}
	if !strings.Contains(out, "2026-02-03 21:30:00") {
		t.Fatalf("timestamp must be rendered in the configured zone: %q", out)
	}
	if !strings.Contains(out, "ops &lt;1&gt;") {
		t.Fatalf("reporter name must be HTML-escaped: %q", out)
	}
}

func TestBuildStatusDefaults(t *testing.T) {
	cur := snap("", "40%", "")
	out := BuildStatus(cur, Tracking{}, seoul, time.Now())
	lines := reportLines(out)
	if len(lines) != 3 {
		t.Fatalf("status must always carry the three core fields, got %q", out)
	}
	if !strings.Contains(lines[0], "0%") || !strings.Contains(lines[2], "0%") {
		t.Fatalf("absent fields must default to 0%%: %q", out)
	}
	if !strings.Contains(lines[1], "40%") {
		t.Fatalf("present field must keep its value: %q", out)
	}
}
