package usage

import (
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/net/html"
)

// Label sets are bilingual because the page renders in the account's locale.
var (
	percentRe      = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*%`)
	percentExactRe = regexp.MustCompile(`^\d+(?:\.\d+)?\s*%$`)

	sessionLabelRe = regexp.MustCompile(`(?i)current\s*session|현재\s*세션`)
	allLabelRe     = regexp.MustCompile(`(?i)all\s*models|모든\s*모델`)
	sonnetLabelRe  = regexp.MustCompile(`(?i)sonnet`)
	allWordRe      = regexp.MustCompile(`(?i)all`)

	addOnLabelRe   = regexp.MustCompile(`(?i)(?:additional|extra)\s*usage|추가\s*사용`)
	currencyRe     = regexp.MustCompile(`[$€£₩]\s*\d[\d,]*(?:\.\d+)?`)
	usedLabelRe    = regexp.MustCompile(`(?i)used|spent|사용`)
	balanceLabelRe = regexp.MustCompile(`(?i)balance|remaining|left|잔액`)
)

// Page is the parsed input to extraction: the rendered text plus the DOM it
// was derived from.
type Page struct {
	Text string
	Doc  *html.Node
}

// ParsePage parses raw page content. Plain-text dumps survive the HTML
// parser unchanged (they become body text), so one path serves both.
func ParsePage(content string) (*Page, error) {
	doc, err := html.Parse(strings.NewReader(content))
	if err != nil {
		return nil, err
	}
	return &Page{Text: renderedText(doc), Doc: doc}, nil
}

// Extract produces a snapshot from page content. Best effort: ordered
// strategies each yield a partial result, and a later strategy only fills
// fields an earlier one left unset. Never fails; a reading with no usage
// fields at all is flagged ParseFailed.
func Extract(p *Page, now time.Time) *Snapshot {
	snap := &Snapshot{
		Timestamp: now,
		RawText:   capText(p.Text, rawTextCap),
	}

	part := partial{}
	for _, s := range strategies {
		part.merge(s(p, part))
	}
	snap.Session = part.session
	snap.WeeklyAll = part.weeklyAll
	snap.WeeklySonnet = part.weeklySonnet
	snap.AddOnUsed = part.addOnUsed
	snap.AddOnPercent = part.addOnPercent
	snap.AddOnBalance = part.addOnBalance

	if snap.Empty() {
		snap.ParseFailed = true
	}
	return snap
}

// Unavailable builds the snapshot recorded when the page could not be
// fetched at all.
func Unavailable(now time.Time, detail string) *Snapshot {
	return &Snapshot{
		Timestamp:       now,
		RawText:         capText(detail, rawTextCap),
		PageUnavailable: true,
	}
}

// partial carries the fields a single strategy managed to find.
type partial struct {
	session      *string
	weeklyAll    *string
	weeklySonnet *string
	addOnUsed    *string
	addOnPercent *string
	addOnBalance *string
}

// merge fills only fields still unset; earlier strategies win.
func (p *partial) merge(o partial) {
	if p.session == nil {
		p.session = o.session
	}
	if p.weeklyAll == nil {
		p.weeklyAll = o.weeklyAll
	}
	if p.weeklySonnet == nil {
		p.weeklySonnet = o.weeklySonnet
	}
	if p.addOnUsed == nil {
		p.addOnUsed = o.addOnUsed
	}
	if p.addOnPercent == nil {
		p.addOnPercent = o.addOnPercent
	}
	if p.addOnBalance == nil {
		p.addOnBalance = o.addOnBalance
	}
}

// A strategy sees what earlier strategies already found (so a fallback can
// decide not to guess) and returns its own partial; only unset fields are
// taken from it.
type strategy func(p *Page, sofar partial) partial

var strategies = []strategy{
	labeledLines,
	labeledDOM,
	positional,
	addOnSection,
}

// labeledLines scans line by line for label keywords and takes the percent
// token on the matched line or the next two lines.
func labeledLines(p *Page, _ partial) partial {
	var out partial
	lines := nonEmptyLines(p.Text)
	for i, line := range lines {
		pct := findPercent(lines, i)
		if pct == "" {
			continue
		}
		if sessionLabelRe.MatchString(line) {
			out.session = strptr(pct)
		}
		if allLabelRe.MatchString(line) {
			out.weeklyAll = strptr(pct)
		}
		if sonnetLabelRe.MatchString(line) && !allWordRe.MatchString(line) {
			out.weeklySonnet = strptr(pct)
		}
	}
	return out
}

// labeledDOM falls back to elements whose own text is exactly a percent
// token, using nearby DOM context (ancestors and previous siblings) to
// decide which metric the token belongs to.
func labeledDOM(p *Page, _ partial) partial {
	var out partial
	if p.Doc == nil {
		return out
	}
	walkElements(p.Doc, func(n *html.Node) {
		text := strings.TrimSpace(nodeText(n))
		if len(text) > 10 || !percentExactRe.MatchString(text) {
			return
		}
		pct := percentRe.FindString(text)
		if pct == "" {
			return
		}
		ctx := strings.ToLower(nodeContext(n))
		switch {
		case sessionLabelRe.MatchString(ctx) && out.session == nil:
			out.session = strptr(pct)
		case allLabelRe.MatchString(ctx) && out.weeklyAll == nil:
			out.weeklyAll = strptr(pct)
		case sonnetLabelRe.MatchString(ctx) && !allWordRe.MatchString(ctx) && out.weeklySonnet == nil:
			out.weeklySonnet = strptr(pct)
		}
	})
	return out
}

// positional is the last resort: assign percent tokens in reading order
// according to the known page layout (session, all-models, sonnet). It only
// guesses when the labeled strategies found neither session nor all-models.
func positional(p *Page, sofar partial) partial {
	var out partial
	if sofar.session != nil || sofar.weeklyAll != nil {
		return out
	}
	pcts := percentRe.FindAllString(p.Text, -1)
	switch {
	case len(pcts) >= 3:
		out.session = strptr(pcts[0])
		out.weeklyAll = strptr(pcts[1])
		out.weeklySonnet = strptr(pcts[2])
	case len(pcts) == 2:
		out.weeklyAll = strptr(pcts[0])
		out.weeklySonnet = strptr(pcts[1])
	case len(pcts) == 1:
		out.weeklyAll = strptr(pcts[0])
	}
	return out
}

// addOnSection locates the supplemental-usage section by label and extracts
// the currency-used, percent-used and balance amounts from the lines that
// follow, tolerating reordering within a small window.
func addOnSection(p *Page, _ partial) partial {
	var out partial
	lines := nonEmptyLines(p.Text)
	start := -1
	for i, line := range lines {
		if addOnLabelRe.MatchString(line) {
			start = i
			break
		}
	}
	if start == -1 {
		return out
	}

	end := start + 9
	if end > len(lines) {
		end = len(lines)
	}
	window := lines[start:end]
	for i, line := range window {
		// A label and its amount may share a line or sit on adjacent lines.
		scope := line
		if i+1 < len(window) {
			scope += "\n" + window[i+1]
		}
		if amount := currencyRe.FindString(scope); amount != "" {
			switch {
			case balanceLabelRe.MatchString(line) && out.addOnBalance == nil:
				out.addOnBalance = strptr(amount)
			case usedLabelRe.MatchString(line) && out.addOnUsed == nil:
				out.addOnUsed = strptr(amount)
			}
		}
		if out.addOnPercent == nil && i > 0 {
			if pct := percentRe.FindString(line); pct != "" {
				out.addOnPercent = strptr(pct)
			}
		}
	}
	return out
}

// findPercent looks for a percent token on the given line or the next two.
func findPercent(lines []string, idx int) string {
	for j := idx; j < idx+3 && j < len(lines); j++ {
		if m := percentRe.FindString(lines[j]); m != "" {
			return m
		}
	}
	return ""
}

func nonEmptyLines(text string) []string {
	raw := strings.Split(text, "\n")
	lines := make([]string, 0, len(raw))
	for _, l := range raw {
		if t := strings.TrimSpace(l); t != "" {
			lines = append(lines, t)
		}
	}
	return lines
}

func strptr(s string) *string { return &s }

// capText truncates to at most n bytes, backing off to a rune boundary so
// the capture stays valid UTF-8.
func capText(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// ---- DOM helpers ----

var skipTags = map[string]bool{"script": true, "style": true, "noscript": true}

var blockTags = map[string]bool{
	"div": true, "p": true, "li": true, "ul": true, "ol": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"tr": true, "td": true, "th": true, "table": true,
	"section": true, "article": true, "header": true, "footer": true,
	"br": true, "main": true, "nav": true,
}

// renderedText approximates the browser's innerText: text nodes in document
// order, with newlines around block-level elements.
func renderedText(doc *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && skipTags[n.Data] {
			return
		}
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				b.WriteString(t)
				b.WriteString(" ")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && blockTags[n.Data] {
			b.WriteString("\n")
		}
	}
	walk(doc)
	return b.String()
}

func walkElements(doc *html.Node, fn func(n *html.Node)) {
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if skipTags[n.Data] {
				return
			}
			fn(n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
}

// nodeText concatenates all descendant text of n.
func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

// nodeContext gathers label context around an element: for up to five
// ancestor levels, the ancestor's direct text nodes plus the text of the
// ancestor's previous element sibling.
func nodeContext(n *html.Node) string {
	var parts []string
	node := n
	for depth := 0; depth < 5 && node != nil; depth++ {
		node = node.Parent
		if node == nil {
			break
		}
		var direct []string
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.TextNode {
				if t := strings.TrimSpace(c.Data); t != "" {
					direct = append(direct, t)
				}
			}
		}
		if len(direct) > 0 {
			parts = append(parts, strings.Join(direct, " "))
		}
		if prev := prevElement(node); prev != nil {
			if t := strings.TrimSpace(nodeText(prev)); t != "" {
				parts = append(parts, t)
			}
		}
	}
	return strings.Join(parts, " ")
}

func prevElement(n *html.Node) *html.Node {
	for p := n.PrevSibling; p != nil; p = p.PrevSibling {
		if p.Type == html.ElementNode {
			return p
		}
	}
	return nil
}
