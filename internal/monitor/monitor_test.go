package monitor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"usagewatch/internal/config"
	"usagewatch/internal/history"
	"usagewatch/internal/page"
	kit "usagewatch/internal/transport"
	logx "usagewatch/pkg/logx"
)

type fakeSource struct {
	content string
	err     error
	fetches int
}

func (f *fakeSource) Fetch(ctx context.Context) (string, error) {
	f.fetches++
	if f.err != nil {
		return "", f.err
	}
	return f.content, nil
}

type fakeSender struct {
	sent []string
	err  error
	opts []*kit.SendOptions
}

func (f *fakeSender) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if f.err != nil {
		return kit.MessageRef{}, f.err
	}
	f.sent = append(f.sent, text)
	f.opts = append(f.opts, opt)
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.sent)}, nil
}

type memStore struct {
	entries []history.Entry
	state   history.State
	saves   int
	saveErr error
}

func (m *memStore) Append(ctx context.Context, e history.Entry) error {
	m.entries = append(m.entries, e)
	return nil
}

func (m *memStore) Range(ctx context.Context, since time.Time) ([]history.Entry, error) {
	var out []history.Entry
	for _, e := range m.entries {
		if !e.At.Before(since) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memStore) LoadState(ctx context.Context) (history.State, error) { return m.state, nil }

func (m *memStore) SaveState(ctx context.Context, st history.State) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.state = st
	m.saves++
	return nil
}

func (m *memStore) Close() error { return nil }

func testConfig() config.Config {
	return config.Config{
		Telegram: config.TelegramConfig{Token: "t", ChatID: "100"},
		Monitor:  config.MonitorConfig{Timezone: "UTC"},
		Page: config.PageConfig{
			Source:       "file",
			Path:         "unused",
			WaitAttempts: 1,
			WaitInterval: "1ms",
			SettleDelay:  "1ms",
		},
	}
}

func newTestService(t *testing.T, cfg config.Config, src page.Source, sender Sender, store history.Store) *Service {
	t.Helper()
	s, err := New(cfg, Deps{
		Log:       logx.Nop(),
		Store:     store,
		Sender:    sender,
		NewSource: func(config.PageConfig) (page.Source, error) { return src, nil },
		Now:       func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestCheckNowFirstReadingNotifies(t *testing.T) {
	src := &fakeSource{content: "Current session\n5%\nAll models\n40%"}
	sender := &fakeSender{}
	store := &memStore{}
	s := newTestService(t, testConfig(), src, sender, store)

	res := s.CheckNow(context.Background())
	if !res.OK {
		t.Fatalf("CheckNow: %+v", res)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected one report, got %d", len(sender.sent))
	}
	if !strings.Contains(sender.sent[0], "weekly-all: <b>40%</b>") {
		t.Fatalf("report missing field line: %q", sender.sent[0])
	}
	if sender.opts[0].ParseMode != "HTML" || !sender.opts[0].DisablePreview {
		t.Fatalf("send options = %+v", sender.opts[0])
	}
	if store.state.Previous == nil || store.state.LastAlert.IsZero() {
		t.Fatalf("state not persisted: %+v", store.state)
	}
	if !store.state.FirstSuccessAcknowledged {
		t.Fatal("first successful send must be acknowledged")
	}
	if len(store.entries) != 1 {
		t.Fatalf("expected one history entry, got %d", len(store.entries))
	}
}

func TestCheckNowNoChangeStaysQuiet(t *testing.T) {
	src := &fakeSource{content: "All models\n40%"}
	sender := &fakeSender{}
	s := newTestService(t, testConfig(), src, sender, &memStore{})

	ctx := context.Background()
	if res := s.CheckNow(ctx); !res.OK {
		t.Fatalf("first check: %+v", res)
	}
	if res := s.CheckNow(ctx); !res.OK {
		t.Fatalf("second check: %+v", res)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("identical reading must not re-notify, got %d sends", len(sender.sent))
	}
}

func TestCheckNowForceNotifySendsStatus(t *testing.T) {
	cfg := testConfig()
	cfg.Monitor.ForceNotify = true
	src := &fakeSource{content: "All models\n40%"}
	sender := &fakeSender{}
	s := newTestService(t, cfg, src, sender, &memStore{})

	ctx := context.Background()
	s.CheckNow(ctx)
	s.CheckNow(ctx)
	if len(sender.sent) != 2 {
		t.Fatalf("force_notify must report every cycle, got %d sends", len(sender.sent))
	}
}

func TestCheckNowTransportFailureKeepsSnapshot(t *testing.T) {
	src := &fakeSource{content: "All models\n40%"}
	sender := &fakeSender{err: errors.New("telegram: 502")}
	store := &memStore{}
	s := newTestService(t, testConfig(), src, sender, store)

	res := s.CheckNow(context.Background())
	if res.OK {
		t.Fatal("transport failure must surface to the caller")
	}
	if !strings.Contains(res.Error, "502") {
		t.Fatalf("error not propagated: %q", res.Error)
	}
	if store.state.Previous == nil {
		t.Fatal("snapshot rotation must not be rolled back")
	}
	if !store.state.LastAlert.IsZero() {
		t.Fatal("lastAlertTime must stay unset on a failed send")
	}
}

func TestCheckNowBusy(t *testing.T) {
	src := &fakeSource{content: "All models\n40%"}
	s := newTestService(t, testConfig(), src, &fakeSender{}, &memStore{})

	s.inFlight.Store(true)
	res := s.CheckNow(context.Background())
	if res.OK || !strings.Contains(res.Error, "in progress") {
		t.Fatalf("expected busy error, got %+v", res)
	}
	if src.fetches != 0 {
		t.Fatal("busy guard must reject before any fetch")
	}
}

func TestCheckNowUnconfiguredSkipsFetch(t *testing.T) {
	cfg := testConfig()
	cfg.Telegram.ChatID = ""
	src := &fakeSource{content: "All models\n40%"}
	s := newTestService(t, cfg, src, &fakeSender{}, &memStore{})

	res := s.CheckNow(context.Background())
	if res.OK {
		t.Fatal("missing chat id must fail the check")
	}
	if src.fetches != 0 {
		t.Fatal("credential check must run before page I/O")
	}
}

func TestCheckNowFetchFailureRotatesState(t *testing.T) {
	src := &fakeSource{err: errors.New("connect: refused")}
	sender := &fakeSender{}
	store := &memStore{}
	s := newTestService(t, testConfig(), src, sender, store)

	res := s.CheckNow(context.Background())
	if !res.OK {
		t.Fatalf("an unavailable page is a valid reading: %+v", res)
	}
	if store.state.Previous == nil || !store.state.Previous.PageUnavailable {
		t.Fatalf("unavailable snapshot must be rotated in: %+v", store.state.Previous)
	}
	if len(store.entries) != 0 {
		t.Fatal("unavailable readings must not enter the history log")
	}
	if len(sender.sent) != 0 {
		t.Fatalf("an unavailable page must not alert, got %d sends", len(sender.sent))
	}
}

func TestCheckNowOutageNeverAlertsPhantomChange(t *testing.T) {
	src := &fakeSource{content: "All models\n40%"}
	sender := &fakeSender{}
	store := &memStore{}
	s := newTestService(t, testConfig(), src, sender, store)

	ctx := context.Background()
	if res := s.CheckNow(ctx); !res.OK {
		t.Fatalf("first check: %+v", res)
	}

	// The page going away must not be reported as "40% -> 0%".
	src.err = errors.New("connect: refused")
	if res := s.CheckNow(ctx); !res.OK {
		t.Fatalf("outage check: %+v", res)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("outage must stay quiet, got %d sends", len(sender.sent))
	}
	if store.state.Previous == nil || !store.state.Previous.PageUnavailable {
		t.Fatalf("outage reading must still rotate in: %+v", store.state.Previous)
	}

	// Recovery diffs against the outage reading and alerts again.
	src.err = nil
	if res := s.CheckNow(ctx); !res.OK {
		t.Fatalf("recovery check: %+v", res)
	}
	if len(sender.sent) != 2 {
		t.Fatalf("recovery must alert, got %d sends", len(sender.sent))
	}
	if !strings.Contains(sender.sent[1], "weekly-all: <b>40%</b>") {
		t.Fatalf("recovery report = %q", sender.sent[1])
	}
}

func TestSendReportWithoutSnapshot(t *testing.T) {
	sender := &fakeSender{}
	s := newTestService(t, testConfig(), &fakeSource{content: "x"}, sender, &memStore{})

	res := s.SendReport(context.Background())
	if res.OK {
		t.Fatal("report without a snapshot must fail")
	}
	if len(sender.sent) != 0 {
		t.Fatal("no network call may happen without a snapshot")
	}
}

func TestSendReportUsesLatestSnapshot(t *testing.T) {
	src := &fakeSource{content: "All models\n40%"}
	sender := &fakeSender{}
	s := newTestService(t, testConfig(), src, sender, &memStore{})

	ctx := context.Background()
	s.CheckNow(ctx)
	res := s.SendReport(ctx)
	if !res.OK {
		t.Fatalf("SendReport: %+v", res)
	}
	last := sender.sent[len(sender.sent)-1]
	if !strings.Contains(last, "40%") {
		t.Fatalf("report must carry the latest reading: %q", last)
	}
}

func TestStatusSummary(t *testing.T) {
	src := &fakeSource{content: "All models\n40%"}
	store := &memStore{}
	s := newTestService(t, testConfig(), src, &fakeSender{}, store)

	ctx := context.Background()
	s.CheckNow(ctx)
	st, err := s.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !st.Configured || st.Snapshot == nil {
		t.Fatalf("status = %+v", st)
	}
	if st.LastCheck.IsZero() || st.LastAlert.IsZero() {
		t.Fatalf("timestamps missing: %+v", st)
	}
	if st.IntervalMinutes != config.DefaultIntervalMinutes {
		t.Fatalf("interval = %d", st.IntervalMinutes)
	}
	if st.EntriesLastDay != 1 {
		t.Fatalf("entries last day = %d", st.EntriesLastDay)
	}
	if !st.Tracking.WeeklyAll || st.Tracking.Session {
		t.Fatalf("tracking defaults wrong: %+v", st.Tracking)
	}
}

func TestApplyReschedulesTracking(t *testing.T) {
	src := &fakeSource{content: "Current session\n5%\nAll models\n40%"}
	sender := &fakeSender{}
	s := newTestService(t, testConfig(), src, sender, &memStore{})

	ctx := context.Background()
	s.CheckNow(ctx)

	// Enable session tracking; the session value changing must now notify.
	on := true
	cfg := testConfig()
	cfg.Monitor.TrackSession = &on
	if err := s.Apply(cfg); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	src.content = "Current session\n6%\nAll models\n40%"
	if res := s.CheckNow(ctx); !res.OK {
		t.Fatalf("CheckNow: %+v", res)
	}
	last := sender.sent[len(sender.sent)-1]
	if !strings.Contains(last, "session: 5% -> <b>6%</b> (+1)") {
		t.Fatalf("expected session delta line, got %q", last)
	}
}
