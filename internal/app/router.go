package app

import (
	"context"
	"strconv"
	"strings"
	"time"

	"usagewatch/internal/config"
	"usagewatch/internal/monitor"
	kit "usagewatch/internal/transport"
	"usagewatch/internal/usage"
	logx "usagewatch/pkg/logx"
	"usagewatch/pkg/tghtml"
)

const commandTimeout = 3 * time.Minute

// handleUpdate routes one inbound message. Only slash commands from owners
// are acted on; everything else is dropped (with a debug trace) so the bot
// stays quiet in group chats.
func (a *App) handleUpdate(ctx context.Context, up kit.Update) {
	m := up.Message
	if m == nil {
		return
	}
	cmd := parseCommand(m.Text)
	if cmd == "" {
		return
	}
	if !a.isOwner(m.FromID) {
		a.log.Debug("command from non-owner ignored",
			logx.Int64("from", m.FromID), logx.String("cmd", cmd))
		return
	}

	cctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	var reply string
	switch cmd {
	case "check":
		reply = formatResult(a.mon.CheckNow(cctx), "check completed")
	case "report":
		reply = formatResult(a.mon.SendReport(cctx), "report sent")
	case "status":
		st, err := a.mon.Status(cctx)
		if err != nil {
			reply = errorLine(err.Error())
		} else {
			reply = a.formatStatus(st)
		}
	default:
		reply = errorLine("unknown command /" + cmd + "; try /check, /report or /status")
	}

	if _, err := a.adapter.SendText(cctx, kit.ChatTarget{ChatID: m.ChatID}, reply, &kit.SendOptions{
		ParseMode:      "HTML",
		DisablePreview: true,
	}); err != nil {
		a.log.Warn("command reply failed", logx.String("cmd", cmd), logx.Err(err))
	}
}

// parseCommand extracts the bare command name from "/check" or
// "/check@botname args". Non-commands return "".
func parseCommand(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return ""
	}
	text = text[1:]
	if i := strings.IndexAny(text, " \t"); i >= 0 {
		text = text[:i]
	}
	if i := strings.IndexByte(text, '@'); i >= 0 {
		text = text[:i]
	}
	return strings.ToLower(text)
}

func formatResult(res monitor.Result, okText string) string {
	if res.OK {
		return "✅ " + tghtml.Esc(okText).String()
	}
	return errorLine(res.Error)
}

func errorLine(msg string) string {
	return "⚠️ " + tghtml.Esc(msg).String()
}

func (a *App) formatStatus(st monitor.Status) string {
	loc := a.statusLocation()

	var b strings.Builder
	b.WriteString(tghtml.B("Usage Monitor").String())
	b.WriteString("\n")
	if st.Configured {
		b.WriteString("chat: configured\n")
	} else {
		b.WriteString("chat: not configured\n")
	}
	b.WriteString("interval: every " + strconv.Itoa(st.IntervalMinutes) + "m\n")
	b.WriteString("tracking: " + tghtml.Esc(trackingSummary(st)).String() + "\n")
	b.WriteString("last check: " + statusTime(st.LastCheck, loc) + "\n")
	b.WriteString("last alert: " + statusTime(st.LastAlert, loc) + "\n")
	b.WriteString("readings (24h): " + strconv.Itoa(st.EntriesLastDay))

	if snap := st.Snapshot; snap != nil {
		b.WriteString("\n\n")
		switch {
		case snap.PageUnavailable:
			b.WriteString("latest reading: page unavailable")
		case snap.ParseFailed:
			b.WriteString("latest reading: extraction failed")
		default:
			b.WriteString("latest reading:")
			for _, k := range []usage.Key{
				usage.KeySession, usage.KeyWeeklyAll, usage.KeyWeeklySonnet,
				usage.KeyAddOnUsed, usage.KeyAddOnPercent, usage.KeyAddOnBalance,
			} {
				if v := snap.Field(k); v != nil {
					b.WriteString("\n" + string(k) + ": " + tghtml.Esc(*v).String())
				}
			}
		}
	}
	return b.String()
}

func trackingSummary(st monitor.Status) string {
	var parts []string
	if st.Tracking.Session {
		parts = append(parts, "session")
	}
	if st.Tracking.WeeklyAll {
		parts = append(parts, "weekly-all")
	}
	if st.Tracking.WeeklySonnet {
		parts = append(parts, "weekly-sonnet")
	}
	if st.Tracking.AddOn {
		parts = append(parts, "add-on")
	}
	if st.ForceNotify {
		parts = append(parts, "force-notify")
	}
	if len(parts) == 0 {
		return "nothing"
	}
	return strings.Join(parts, ", ")
}

func statusTime(t time.Time, loc *time.Location) string {
	if t.IsZero() {
		return "never"
	}
	return t.In(loc).Format("2006-01-02 15:04:05")
}

func (a *App) statusLocation() *time.Location {
	tz := config.DefaultTimezone
	if cfg := a.mgr.Get(); cfg != nil && cfg.Monitor.Timezone != "" {
		tz = cfg.Monitor.Timezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}
