package history

import (
	"context"
	"errors"
	"time"

	"usagewatch/internal/usage"
)

var ErrDisabled = errors.New("history storage disabled")

// Retention bounds the history log. Entries older than this relative to the
// entry being appended are pruned.
const Retention = 7 * 24 * time.Hour

// Entry is one trimmed history record. Only the tracked metric values are
// kept; diagnostic captures stay out of the log.
type Entry struct {
	At           time.Time `json:"at"`
	Session      *string   `json:"session,omitempty"`
	WeeklyAll    *string   `json:"weeklyAll,omitempty"`
	WeeklySonnet *string   `json:"weeklySonnet,omitempty"`
	AddOnUsed    *string   `json:"addOnUsed,omitempty"`
	AddOnPercent *string   `json:"addOnPercent,omitempty"`
	AddOnBalance *string   `json:"addOnBalance,omitempty"`
}

// EntryFromSnapshot trims a snapshot down to its loggable fields. Metric
// resolution goes through Field so the per-model schema is captured too.
func EntryFromSnapshot(s *usage.Snapshot) Entry {
	return Entry{
		At:           s.Timestamp,
		Session:      s.Field(usage.KeySession),
		WeeklyAll:    s.Field(usage.KeyWeeklyAll),
		WeeklySonnet: s.Field(usage.KeyWeeklySonnet),
		AddOnUsed:    s.Field(usage.KeyAddOnUsed),
		AddOnPercent: s.Field(usage.KeyAddOnPercent),
		AddOnBalance: s.Field(usage.KeyAddOnBalance),
	}
}

// State is the runtime state that survives restarts: the last two snapshots
// for change detection, bookkeeping timestamps, and whether the very first
// successful reading has already been announced.
type State struct {
	Previous       *usage.Snapshot `json:"previousSnapshot,omitempty"`
	BeforePrevious *usage.Snapshot `json:"snapshotBeforeThat,omitempty"`

	LastCheck time.Time `json:"lastCheckTime,omitzero"`
	LastAlert time.Time `json:"lastAlertTime,omitzero"`

	FirstSuccessAcknowledged bool `json:"firstSuccessAcknowledged,omitempty"`
}

// Store is the persistence API used by the monitor.
type Store interface {
	// Append records one entry and prunes anything older than Retention
	// relative to the entry's timestamp.
	Append(ctx context.Context, e Entry) error
	// Range returns entries at or after since, oldest first.
	Range(ctx context.Context, since time.Time) ([]Entry, error)

	LoadState(ctx context.Context) (State, error)
	SaveState(ctx context.Context, st State) error

	Close() error
}
