// Package usage models one scraped reading of the usage page and the pure
// logic around it: extraction from rendered page content, change detection
// between two readings, and report formatting. No I/O happens here.
package usage

import (
	"strings"
	"time"
)

// rawTextCap bounds the diagnostic capture kept on a snapshot.
const rawTextCap = 5000

// Snapshot is one reading of the usage page at a point in time. Fields that
// extraction could not find stay nil and marshal as JSON null, so downstream
// comparisons are total. A snapshot is never mutated after extraction.
type Snapshot struct {
	Timestamp time.Time `json:"timestamp"`

	Session      *string `json:"session"`
	WeeklyAll    *string `json:"weeklyAll"`
	WeeklySonnet *string `json:"weeklySonnet"`

	// Models is an alternate schema some page revisions expose: a per-model
	// usage map instead of the three flat fields.
	Models map[string]ModelUsage `json:"models,omitempty"`

	// Supplemental metered usage ("extra usage" section): currency spent,
	// percent of the add-on budget, and remaining balance.
	AddOnUsed    *string `json:"addOnUsed"`
	AddOnPercent *string `json:"addOnPercent"`
	AddOnBalance *string `json:"addOnBalance"`

	// RawText is a bounded capture of the page text, kept for diagnostics
	// only; it never participates in comparisons.
	RawText string `json:"rawText,omitempty"`

	ParseFailed     bool `json:"parseFailed,omitempty"`
	PageUnavailable bool `json:"pageUnavailable,omitempty"`
}

type ModelUsage struct {
	Usage string `json:"usage"`
}

// Key names one tracked metric on a snapshot.
type Key string

const (
	KeySession      Key = "session"
	KeyWeeklyAll    Key = "weekly-all"
	KeyWeeklySonnet Key = "weekly-sonnet"
	KeyAddOnUsed    Key = "addon-used"
	KeyAddOnPercent Key = "addon-percent"
	KeyAddOnBalance Key = "addon-balance"
)

// coreKeys is the fixed report order for the three primary metrics.
var coreKeys = []Key{KeySession, KeyWeeklyAll, KeyWeeklySonnet}

// addOnKeys is the fixed report order for the supplemental metrics.
var addOnKeys = []Key{KeyAddOnUsed, KeyAddOnPercent, KeyAddOnBalance}

// keyword returns the model-map match word for keys that can also appear in
// the alternate per-model schema.
func (k Key) keyword() string {
	switch k {
	case KeySession:
		return "session"
	case KeyWeeklyAll:
		return "all"
	case KeyWeeklySonnet:
		return "sonnet"
	default:
		return ""
	}
}

// Field resolves a metric from either the flat fields or the per-model map,
// whichever the page revision populated. Returns nil when absent.
func (s *Snapshot) Field(k Key) *string {
	if s == nil {
		return nil
	}
	if kw := k.keyword(); kw != "" && len(s.Models) > 0 {
		for name, mu := range s.Models {
			if strings.Contains(strings.ToLower(name), kw) {
				u := mu.Usage
				return &u
			}
		}
	}
	switch k {
	case KeySession:
		return s.Session
	case KeyWeeklyAll:
		return s.WeeklyAll
	case KeyWeeklySonnet:
		return s.WeeklySonnet
	case KeyAddOnUsed:
		return s.AddOnUsed
	case KeyAddOnPercent:
		return s.AddOnPercent
	case KeyAddOnBalance:
		return s.AddOnBalance
	}
	return nil
}

// Empty reports whether extraction found no usage fields at all.
func (s *Snapshot) Empty() bool {
	if s == nil {
		return true
	}
	return s.Session == nil && s.WeeklyAll == nil && s.WeeklySonnet == nil &&
		len(s.Models) == 0 &&
		s.AddOnUsed == nil && s.AddOnPercent == nil && s.AddOnBalance == nil
}

// Tracking selects which snapshot fields are eligible to trigger a
// notification, plus the free-text reporter label injected into reports.
type Tracking struct {
	Session      bool
	WeeklyAll    bool
	WeeklySonnet bool
	AddOn        bool

	ReporterName string
}

// enabledKeys returns the tracked keys in fixed report order.
func (t Tracking) enabledKeys() []Key {
	keys := make([]Key, 0, 6)
	if t.Session {
		keys = append(keys, KeySession)
	}
	if t.WeeklyAll {
		keys = append(keys, KeyWeeklyAll)
	}
	if t.WeeklySonnet {
		keys = append(keys, KeyWeeklySonnet)
	}
	if t.AddOn {
		keys = append(keys, addOnKeys...)
	}
	return keys
}
