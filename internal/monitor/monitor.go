// Package monitor drives the check cycle: fetch the usage page on a cron
// schedule or on demand, extract a snapshot, rotate persisted state, and
// send a report when a tracked field changed.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"usagewatch/internal/config"
	"usagewatch/internal/history"
	"usagewatch/internal/page"
	kit "usagewatch/internal/transport"
	"usagewatch/internal/usage"
	logx "usagewatch/pkg/logx"
)

var (
	// ErrBusy means a cycle is already in flight.
	ErrBusy = errors.New("check already in progress")
	// ErrNoSnapshot means no reading has been taken yet.
	ErrNoSnapshot = errors.New("no usage snapshot yet; run a check first")
	// ErrNotConfigured means the recipient chat is not set up.
	ErrNotConfigured = errors.New("telegram chat_id is not configured")
)

// Sender is the outbound slice of the transport adapter.
type Sender interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
}

// Result is the reply shape for operator-triggered operations.
type Result struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

func okResult() Result { return Result{OK: true} }

func errResult(err error) Result {
	if err == nil {
		return okResult()
	}
	return Result{OK: false, Error: err.Error()}
}

// Status is the operator-visible runtime summary.
type Status struct {
	Configured      bool
	IntervalMinutes int
	ForceNotify     bool
	Tracking        usage.Tracking

	LastCheck time.Time
	LastAlert time.Time

	Snapshot *usage.Snapshot // most recent reading, nil before the first check

	// EntriesLastDay counts history entries recorded in the last 24h.
	EntriesLastDay int

	FirstSuccessAcknowledged bool
}

// Deps are the monitor's collaborators. Store may be nil (persistence
// disabled); state then lives in memory only. NewSource defaults to
// page.FromConfig.
type Deps struct {
	Log    logx.Logger
	Store  history.Store
	Sender Sender

	NewSource func(config.PageConfig) (page.Source, error)

	// Now is the clock, overridable in tests.
	Now func() time.Time
}

type Service struct {
	log    logx.Logger
	store  history.Store
	sender Sender

	newSource func(config.PageConfig) (page.Source, error)
	now       func() time.Time

	mu       sync.Mutex
	cfg      config.Config
	src      page.Source
	policy   page.WaitPolicy
	loc      *time.Location
	tracking usage.Tracking
	chatID   int64
	state    history.State

	inFlight atomic.Bool

	cronMu   sync.Mutex
	cron     *cron.Cron
	cronSpec string
	cronTZ   string
	started  bool
}

func New(cfg config.Config, d Deps) (*Service, error) {
	if d.Sender == nil {
		return nil, errors.New("monitor: sender is required")
	}
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.NewSource == nil {
		d.NewSource = page.FromConfig
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	s := &Service{
		log:       d.Log,
		store:     d.Store,
		sender:    d.Sender,
		newSource: d.NewSource,
		now:       d.Now,
	}
	if err := s.applyLocked(cfg); err != nil {
		return nil, err
	}
	return s, nil
}

// applyLocked rebuilds the config-derived collaborators. Callers hold no
// lock during New; Apply takes s.mu itself.
func (s *Service) applyLocked(cfg config.Config) error {
	src, err := s.newSource(cfg.Page)
	if err != nil {
		return err
	}
	policy, err := page.PolicyFromConfig(cfg.Page)
	if err != nil {
		return err
	}
	tz := cfg.Monitor.Timezone
	if tz == "" {
		tz = config.DefaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return fmt.Errorf("monitor.timezone: %w", err)
	}
	chatID, err := cfg.Telegram.ParsedChatID()
	if err != nil {
		return err
	}
	session, weeklyAll, weeklySonnet, addOn := cfg.Monitor.Tracking()

	s.cfg = cfg
	s.src = src
	s.policy = policy
	s.loc = loc
	s.chatID = chatID
	s.tracking = usage.Tracking{
		Session:      session,
		WeeklyAll:    weeklyAll,
		WeeklySonnet: weeklySonnet,
		AddOn:        addOn,
		ReporterName: cfg.Monitor.ReporterName,
	}
	return nil
}

// Restore loads persisted runtime state. Used by Start and by one-shot
// commands that need the previous snapshot without a schedule.
func (s *Service) Restore(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	st, err := s.store.LoadState(ctx)
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	return nil
}

// Start loads persisted state and begins the cron schedule.
func (s *Service) Start(ctx context.Context) error {
	if err := s.Restore(ctx); err != nil {
		return err
	}

	s.cronMu.Lock()
	defer s.cronMu.Unlock()
	s.started = true
	return s.rescheduleLocked()
}

// rescheduleLocked (re)creates the cron runner for the current interval and
// timezone. Caller holds cronMu.
func (s *Service) rescheduleLocked() error {
	s.mu.Lock()
	interval := s.cfg.Monitor.IntervalMinutes()
	loc := s.loc
	s.mu.Unlock()

	spec := fmt.Sprintf("@every %dm", interval)
	if s.cron != nil && spec == s.cronSpec && loc.String() == s.cronTZ {
		return nil
	}
	if s.cron != nil {
		<-s.cron.Stop().Done()
		s.cron = nil
	}

	c := cron.New(cron.WithLocation(loc))
	if _, err := c.AddFunc(spec, s.scheduledCheck); err != nil {
		return fmt.Errorf("schedule %q: %w", spec, err)
	}
	c.Start()
	s.cron = c
	s.cronSpec = spec
	s.cronTZ = loc.String()
	s.log.Info("check schedule active", logx.String("spec", spec), logx.String("tz", loc.String()))
	return nil
}

func (s *Service) Stop(ctx context.Context) error {
	s.cronMu.Lock()
	c := s.cron
	s.cron = nil
	s.started = false
	s.cronMu.Unlock()

	if c == nil {
		return nil
	}
	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Apply swaps in a reloaded config: tracking flags take effect on the next
// cycle, the schedule is rebuilt when interval or timezone changed.
func (s *Service) Apply(cfg config.Config) error {
	s.mu.Lock()
	err := s.applyLocked(cfg)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.cronMu.Lock()
	defer s.cronMu.Unlock()
	if !s.started {
		return nil
	}
	return s.rescheduleLocked()
}

// scheduledCheck is the cron entry point. A cycle still in flight means
// this tick is skipped, not queued.
func (s *Service) scheduledCheck() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	if err := s.check(ctx); err != nil {
		switch {
		case errors.Is(err, ErrBusy):
			s.log.Warn("previous check still running; tick skipped")
		case errors.Is(err, ErrNotConfigured):
			s.log.Debug("check skipped", logx.Err(err))
		default:
			s.log.Error("scheduled check failed", logx.Err(err))
		}
	}
}

// CheckNow runs one cycle on demand.
func (s *Service) CheckNow(ctx context.Context) Result {
	return errResult(s.check(ctx))
}

func (s *Service) check(ctx context.Context) error {
	if !s.inFlight.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer s.inFlight.Store(false)

	s.mu.Lock()
	src := s.src
	policy := s.policy
	tracking := s.tracking
	loc := s.loc
	chatID := s.chatID
	force := s.cfg.Monitor.ForceNotify
	s.mu.Unlock()

	if chatID == 0 {
		return ErrNotConfigured
	}

	now := s.now()
	snap := s.read(ctx, src, policy, now)

	s.mu.Lock()
	prev := s.state.Previous
	s.state.BeforePrevious = prev
	s.state.Previous = snap
	s.state.LastCheck = now
	st := s.state
	s.mu.Unlock()
	s.persistState(ctx, st)

	// An outage rotates in (so recovery shows up on the next good reading)
	// but never alerts: all-nil fields would render as phantom numeric
	// changes. The outage stays visible via /status.
	if snap.PageUnavailable {
		s.log.Warn("page unavailable; no alert", logx.Time("at", now))
		return nil
	}

	if s.store != nil {
		if err := s.store.Append(ctx, history.EntryFromSnapshot(snap)); err != nil {
			s.log.Warn("history append failed", logx.Err(err))
		}
	}

	changed := usage.HasChanged(prev, snap, tracking)
	if !changed && !force {
		s.log.Debug("no tracked change", logx.Time("at", now))
		return nil
	}

	var text string
	if changed {
		text = usage.BuildReport(usage.TitleChange, snap, prev, tracking, loc, now)
	} else {
		text = usage.BuildStatus(snap, tracking, loc, now)
	}
	if err := s.send(ctx, chatID, text); err != nil {
		return fmt.Errorf("send report: %w", err)
	}

	s.mu.Lock()
	s.state.LastAlert = now
	s.state.FirstSuccessAcknowledged = true
	st = s.state
	s.mu.Unlock()
	s.persistState(ctx, st)
	return nil
}

// read fetches and extracts one snapshot. Fetch or parse failure yields an
// unavailable snapshot rather than an error: the cycle still rotates state,
// so the outage shows up in /status and the next good reading diffs against
// it.
func (s *Service) read(ctx context.Context, src page.Source, policy page.WaitPolicy, now time.Time) *usage.Snapshot {
	content, err := page.AwaitRender(ctx, src, policy)
	if err != nil {
		s.log.Warn("page fetch failed", logx.Err(err))
		return usage.Unavailable(now, err.Error())
	}
	p, err := usage.ParsePage(content)
	if err != nil {
		s.log.Warn("page parse failed", logx.Err(err))
		return usage.Unavailable(now, err.Error())
	}
	snap := usage.Extract(p, now)
	if snap.ParseFailed {
		s.log.Warn("no usage fields found on page")
	}
	return snap
}

// SendReport sends a status report of the latest snapshot on demand.
func (s *Service) SendReport(ctx context.Context) Result {
	s.mu.Lock()
	prev := s.state.Previous
	before := s.state.BeforePrevious
	tracking := s.tracking
	loc := s.loc
	chatID := s.chatID
	s.mu.Unlock()

	if chatID == 0 {
		return errResult(ErrNotConfigured)
	}
	if prev == nil {
		return errResult(ErrNoSnapshot)
	}

	text := usage.BuildReport(usage.TitleStatus, prev, before, tracking, loc, s.now())
	if err := s.send(ctx, chatID, text); err != nil {
		return errResult(fmt.Errorf("send report: %w", err))
	}

	s.mu.Lock()
	s.state.FirstSuccessAcknowledged = true
	st := s.state
	s.mu.Unlock()
	s.persistState(ctx, st)
	return okResult()
}

// Status reports the runtime summary for the /status command.
func (s *Service) Status(ctx context.Context) (Status, error) {
	s.mu.Lock()
	st := Status{
		Configured:               s.chatID != 0,
		IntervalMinutes:          s.cfg.Monitor.IntervalMinutes(),
		ForceNotify:              s.cfg.Monitor.ForceNotify,
		Tracking:                 s.tracking,
		LastCheck:                s.state.LastCheck,
		LastAlert:                s.state.LastAlert,
		Snapshot:                 s.state.Previous,
		FirstSuccessAcknowledged: s.state.FirstSuccessAcknowledged,
	}
	s.mu.Unlock()

	if s.store != nil {
		entries, err := s.store.Range(ctx, s.now().Add(-24*time.Hour))
		if err != nil {
			return st, fmt.Errorf("history range: %w", err)
		}
		st.EntriesLastDay = len(entries)
	}
	return st, nil
}

func (s *Service) send(ctx context.Context, chatID int64, text string) error {
	_, err := s.sender.SendText(ctx, kit.ChatTarget{ChatID: chatID}, text, &kit.SendOptions{
		ParseMode:      "HTML",
		DisablePreview: true,
	})
	return err
}

func (s *Service) persistState(ctx context.Context, st history.State) {
	if s.store == nil {
		return
	}
	if err := s.store.SaveState(ctx, st); err != nil {
		s.log.Warn("state save failed", logx.Err(err))
	}
}
