package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/hochfrequenz/boardwatch/internal/bridge"
	"github.com/hochfrequenz/boardwatch/internal/domain"
)

func TestParseCron(t *testing.T) {
	tests := []struct {
		expr    string
		wantErr bool
	}{
		{"*/5 * * * *", false}, // every 5 minutes
		{"0 9 * * 1-5", false}, // 9 AM weekdays
		{"@every 30s", false},  // descriptor
		{"@hourly", false},
		{"invalid", true},
		{"* * * * * *", true}, // seconds field not enabled
	}

	for _, tt := range tests {
		_, err := ParseCron(tt.expr)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseCron(%q) error = %v, wantErr %v", tt.expr, err, tt.wantErr)
		}
	}
}

func TestNewRescanner_Validates(t *testing.T) {
	_, background := bridge.NewPipe(4)

	if _, err := NewRescanner("", background, zerolog.Nop()); err == nil {
		t.Error("Empty expression should error")
	}
	if _, err := NewRescanner("nope", background, zerolog.Nop()); err == nil {
		t.Error("Invalid expression should error")
	}

	r, err := NewRescanner("*/5 * * * *", background, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if !r.NextRun().After(time.Now()) {
		t.Error("NextRun should be in the future")
	}
	if !r.LastRun().IsZero() {
		t.Error("LastRun should be zero before the first fire")
	}
}

func TestRescanner_TriggerSendsColumnChecks(t *testing.T) {
	page, background := bridge.NewPipe(4)
	r, err := NewRescanner("@hourly", background, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	r.Trigger(context.Background())

	want := []bridge.Action{bridge.ActionCheckQAColumn, bridge.ActionCheckInProgressColumn}
	for _, action := range want {
		select {
		case msg := <-page.Receive():
			if msg.Action != action {
				t.Errorf("Action = %q, want %q", msg.Action, action)
			}
		case <-time.After(time.Second):
			t.Fatalf("no %s message", action)
		}
	}
	if r.LastRun().IsZero() {
		t.Error("LastRun should be set after Trigger")
	}
}

func TestRescanner_RunFiresOnSchedule(t *testing.T) {
	page, background := bridge.NewPipe(8)
	r, err := NewRescanner("@every 1s", background, zerolog.Nop(), domain.ColumnQA)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	select {
	case msg := <-page.Receive():
		if msg.Action != bridge.ActionCheckQAColumn {
			t.Errorf("Action = %q", msg.Action)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("schedule did not fire")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}
