package usage

import (
	"testing"
	"time"
)

func snap(session, weeklyAll, weeklySonnet string) *Snapshot {
	s := &Snapshot{Timestamp: time.Now()}
	if session != "" {
		s.Session = strptr(session)
	}
	if weeklyAll != "" {
		s.WeeklyAll = strptr(weeklyAll)
	}
	if weeklySonnet != "" {
		s.WeeklySonnet = strptr(weeklySonnet)
	}
	return s
}

func TestHasChangedFirstReading(t *testing.T) {
	s := snap("5%", "40%", "12%")
	for _, tr := range []Tracking{
		{},
		{WeeklyAll: true},
		{Session: true, WeeklyAll: true, WeeklySonnet: true, AddOn: true},
	} {
		if !HasChanged(nil, s, tr) {
			t.Fatalf("nil previous must always count as changed (tracking %+v)", tr)
		}
	}
}

func TestHasChangedIdenticalCopy(t *testing.T) {
	a := snap("5%", "40%", "12%")
	b := snap("5%", "40%", "12%")
	tr := Tracking{Session: true, WeeklyAll: true, WeeklySonnet: true}
	if HasChanged(a, b, tr) {
		t.Fatal("identical snapshots must not count as changed")
	}
}

func TestHasChangedOpaqueStringComparison(t *testing.T) {
	a := snap("", "5%", "")
	b := snap("", "5.0%", "")
	if !HasChanged(a, b, Tracking{WeeklyAll: true}) {
		t.Fatal("5% vs 5.0% differ as text and must count as changed")
	}
}

func TestHasChangedIgnoresUntrackedFields(t *testing.T) {
	a := snap("5%", "40%", "12%")
	b := snap("5%", "40%", "99%")
	if HasChanged(a, b, Tracking{WeeklyAll: true}) {
		t.Fatal("sonnet changed but is not tracked")
	}
	if !HasChanged(a, b, Tracking{WeeklySonnet: true}) {
		t.Fatal("sonnet changed and is tracked")
	}
}

func TestHasChangedFieldAppearing(t *testing.T) {
	a := snap("", "40%", "")
	b := snap("5%", "40%", "")
	if !HasChanged(a, b, Tracking{Session: true}) {
		t.Fatal("field going from absent to present is a change")
	}
}

func TestHasChangedAddOnOwnFlag(t *testing.T) {
	a := snap("5%", "40%", "")
	b := snap("5%", "40%", "")
	a.AddOnUsed = strptr("$3.20")
	b.AddOnUsed = strptr("$4.10")

	if HasChanged(a, b, Tracking{Session: true, WeeklyAll: true}) {
		t.Fatal("add-on fields must not participate without their flag")
	}
	if !HasChanged(a, b, Tracking{AddOn: true}) {
		t.Fatal("add-on change must be detected when the flag is on")
	}
}

func TestHasChangedModelMapVariant(t *testing.T) {
	a := &Snapshot{
		Timestamp: time.Now(),
		Models: map[string]ModelUsage{
			"All models": {Usage: "40%"},
		},
	}
	b := snap("", "55%", "")
	if !HasChanged(a, b, Tracking{WeeklyAll: true}) {
		t.Fatal("model-map reading vs flat reading with different values must be a change")
	}

	c := snap("", "40%", "")
	if HasChanged(a, c, Tracking{WeeklyAll: true}) {
		t.Fatal("model-map reading vs equal flat reading must not be a change")
	}
}
