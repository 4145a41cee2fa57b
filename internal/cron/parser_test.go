package cron

import (
	"testing"
	"time"
)

func TestParser_ValidExpressions(t *testing.T) {
	tests := []struct {
		name string
		expr string
	}{
		{"every hour", "0 * * * *"},
		{"off-peak twice a day", "0 6,18 * * *"},
		{"weekday mornings", "30 7 * * 1-5"},
		{"first of month", "0 3 1 * *"},
		{"every 20 minutes", "*/20 * * * *"},
	}

	p := NewParser()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sched, err := p.Parse(tt.expr, "")
			if err != nil {
				t.Errorf("Parse(%q) returned error: %v", tt.expr, err)
			}
			if sched == nil {
				t.Errorf("Parse(%q) returned nil schedule", tt.expr)
			}
		})
	}
}

func TestParser_InvalidExpressions(t *testing.T) {
	tests := []struct {
		name string
		expr string
	}{
		{"four fields", "* * * *"},
		{"six fields", "0 * * * * *"},
		{"invalid hour 24", "0 24 * * *"},
		{"descriptor", "@daily"},
		{"empty", ""},
	}

	p := NewParser()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := p.Parse(tt.expr, ""); err == nil {
				t.Errorf("Parse(%q) should return error", tt.expr)
			}
		})
	}
}

func TestParser_InvalidTimezone(t *testing.T) {
	if _, err := NewParser().Parse("0 * * * *", "Invalid/Zone"); err == nil {
		t.Error("Parse with unknown timezone should return error")
	}
}

func TestParser_NextCalculation(t *testing.T) {
	sched, err := NewParser().Parse("0 6,18 * * *", "")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	after := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	want := time.Date(2024, 1, 15, 18, 0, 0, 0, time.UTC)
	if next := sched.Next(after); !next.Equal(want) {
		t.Errorf("Next(%v) = %v, want %v", after, next, want)
	}

	after = time.Date(2024, 1, 15, 19, 0, 0, 0, time.UTC)
	want = time.Date(2024, 1, 16, 6, 0, 0, 0, time.UTC)
	if next := sched.Next(after); !next.Equal(want) {
		t.Errorf("Next(%v) = %v, want %v", after, next, want)
	}
}

func TestEvery_AlignedToInterval(t *testing.T) {
	sched := Every(160 * time.Minute)

	from := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	got := Upcoming(sched, from, 3)
	if len(got) != 3 {
		t.Fatalf("Upcoming returned %d times, want 3", len(got))
	}
	for i := 1; i < len(got); i++ {
		if d := got[i].Sub(got[i-1]); d != 160*time.Minute {
			t.Errorf("gap %d = %v, want 160m", i, d)
		}
	}
	if !got[0].After(from) {
		t.Errorf("first firing %v should be after %v", got[0], from)
	}
}

func TestEvery_ZeroInterval(t *testing.T) {
	if got := Upcoming(Every(0), time.Now(), 3); len(got) != 0 {
		t.Errorf("Upcoming(Every(0)) = %v, want none", got)
	}
}

func TestToEventBridge(t *testing.T) {
	tests := []struct {
		expr string
		want string
	}{
		{"0 6,18 * * *", "cron(0 6,18 * * ? *)"},
		{"30 7 * * 1-5", "cron(30 7 ? * 2-6 *)"},
		{"0 9 * * 0", "cron(0 9 ? * 1 *)"},
		{"0 9 * * SAT,SUN", "cron(0 9 ? * SAT,SUN *)"},
		{"0 3 1 * *", "cron(0 3 1 * ? *)"},
		{"*/20 * * * *", "cron(*/20 * * * ? *)"},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := ToEventBridge(tt.expr)
			if err != nil {
				t.Fatalf("ToEventBridge(%q) error: %v", tt.expr, err)
			}
			if got != tt.want {
				t.Errorf("ToEventBridge(%q) = %q, want %q", tt.expr, got, tt.want)
			}
		})
	}
}

func TestToEventBridge_Rejects(t *testing.T) {
	for _, expr := range []string{
		"0 3 1 * 1",
		"not a cron",
		"",
		"CRON_TZ=Europe/Budapest 0 6 * * *",
		"TZ=UTC 0 6 * * *",
		"0 6 * * * 2026",
		"0 6 * *",
	} {
		if _, err := ToEventBridge(expr); err == nil {
			t.Errorf("ToEventBridge(%q) should return error", expr)
		}
	}
}

func TestParser_RejectsZonePrefix(t *testing.T) {
	p := NewParser()
	for _, expr := range []string{"CRON_TZ=Europe/Budapest 0 6 * * *", "TZ=UTC 0 6 * * *"} {
		if _, err := p.Parse(expr, ""); err == nil {
			t.Errorf("Parse(%q) should reject a zone prefix", expr)
		}
	}
}

func TestEvery_AlignsToUnixEpoch(t *testing.T) {
	// 7 minutes does not divide a day, so alignment depends on the origin.
	s := Every(7 * time.Minute)
	after := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	next := s.Next(after)
	if next.Unix()%(7*60) != 0 {
		t.Errorf("Next(%v) = %v, not a multiple of 7m since the Unix epoch", after, next)
	}
	if !next.After(after) || next.Sub(after) > 7*time.Minute {
		t.Errorf("Next(%v) = %v, want within one interval", after, next)
	}
	if again := s.Next(next); again.Sub(next) != 7*time.Minute {
		t.Errorf("Next(%v) = %v, want one interval later", next, again)
	}
}
