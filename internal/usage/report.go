package usage

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"usagewatch/pkg/tghtml"
)

// Report titles follow the page's locale, same as the label sets.
const (
	TitleChange = "변동" // change detected
	TitleStatus = "현황" // current status on demand
)

const reportTimeFormat = "2006-01-02 15:04:05"

var nonNumericRe = regexp.MustCompile(`[^0-9.\-]`)

// BuildReport renders a snapshot-delta pair as Telegram HTML: a bold title
// header with a localized timestamp, then one line per tracked field in
// fixed order. Unchanged fields render as `label: value`; changed numeric
// fields get a sign-prefixed delta.
func BuildReport(title string, cur, prev *Snapshot, t Tracking, loc *time.Location, now time.Time) string {
	var b strings.Builder
	writeHeader(&b, title, t.ReporterName, loc, now)

	for _, k := range t.enabledKeys() {
		var prevVal *string
		if prev != nil {
			prevVal = prev.Field(k)
		}
		b.WriteString(formatLine(string(k), cur.Field(k), prevVal))
	}
	return strings.TrimRight(b.String(), "\n")
}

// BuildStatus renders the force-notify short status: always the three core
// fields, with a literal zero-percent default when a field is absent.
func BuildStatus(cur *Snapshot, t Tracking, loc *time.Location, now time.Time) string {
	var b strings.Builder
	writeHeader(&b, TitleStatus, t.ReporterName, loc, now)

	for _, k := range coreKeys {
		b.WriteString(string(k))
		b.WriteString(": ")
		b.WriteString(tghtml.B(orZero(cur.Field(k))).String())
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func writeHeader(b *strings.Builder, title, reporter string, loc *time.Location, now time.Time) {
	if loc == nil {
		loc = time.Local
	}
	b.WriteString("📊 ")
	b.WriteString(tghtml.B("Claude AI Usage " + title).String())
	b.WriteString("\n")
	b.WriteString(now.In(loc).Format(reportTimeFormat))
	if r := strings.TrimSpace(reporter); r != "" {
		b.WriteString(" · ")
		b.WriteString(tghtml.Esc(r).String())
	}
	b.WriteString("\n\n")
}

// formatLine renders one tracked field:
//
//	label: cur                       (no previous value, or unchanged)
//	label: prev -> cur (+d)          (both present, differ, numeric)
//	label: prev -> cur               (both present, differ, non-numeric)
func formatLine(label string, current, previous *string) string {
	cur := orZero(current)
	if previous != nil && !eqField(previous, current) {
		prev := *previous
		line := label + ": " + tghtml.Esc(prev).String() + " -> " + tghtml.B(cur).String()
		if d, ok := delta(cur, prev); ok {
			line += " (" + d + ")"
		}
		return line + "\n"
	}
	return label + ": " + tghtml.B(cur).String() + "\n"
}

// delta computes current-minus-previous after stripping non-numeric
// characters, so currency amounts participate too. A value that still does
// not parse simply yields no delta; that is tolerated, not an error.
func delta(cur, prev string) (string, bool) {
	c, ok1 := parseNumeric(cur)
	p, ok2 := parseNumeric(prev)
	if !ok1 || !ok2 {
		return "", false
	}
	d := c - p
	s := strconv.FormatFloat(d, 'f', -1, 64)
	if d > 0 {
		s = "+" + s
	}
	return s, true
}

func parseNumeric(s string) (float64, bool) {
	stripped := nonNumericRe.ReplaceAllString(s, "")
	if stripped == "" || stripped == "-" || stripped == "." {
		return 0, false
	}
	f, err := strconv.ParseFloat(stripped, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func orZero(v *string) string {
	if v == nil || *v == "" {
		return "0%"
	}
	return *v
}
