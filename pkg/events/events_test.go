package events

import (
	"context"
	"errors"
	"testing"
)

func TestDispatcherOrdering(t *testing.T) {
	d := NewDispatcher()
	var calls []string

	record := func(tag string) Listener {
		return func(ctx context.Context, event *Event) error {
			calls = append(calls, tag)
			return nil
		}
	}

	d.AddListener("run", record("low"), 0)
	d.AddListener("run", record("high"), 42)
	d.AddListener("run", record("low-2"), 0)
	d.AddListener("other", record("other"), 100)

	if err := d.Emit(context.Background(), "run", nil, nil); err != nil {
		t.Fatalf("Failed to dispatch: %v", err)
	}

	expected := []string{"high", "low", "low-2"}
	if len(calls) != len(expected) {
		t.Fatalf("Expected %d calls, got %v", len(expected), calls)
	}
	for i := range expected {
		if calls[i] != expected[i] {
			t.Errorf("Call %d: expected %s, got %s", i, expected[i], calls[i])
		}
	}
}

func TestDispatcherStopsOnError(t *testing.T) {
	d := NewDispatcher()
	boom := errors.New("boom")
	reached := false

	d.AddListener("run", func(ctx context.Context, event *Event) error { return boom }, 10)
	d.AddListener("run", func(ctx context.Context, event *Event) error {
		reached = true
		return nil
	}, 0)

	err := d.Emit(context.Background(), "run", nil, nil)
	if !errors.Is(err, boom) {
		t.Fatalf("Expected wrapped boom error, got %v", err)
	}
	if reached {
		t.Error("Expected lower priority listener to be skipped after an error")
	}
}

func TestDispatcherStopPropagation(t *testing.T) {
	d := NewDispatcher()
	reached := false

	d.AddListener("run", func(ctx context.Context, event *Event) error {
		event.StopPropagation()
		return nil
	}, 1)
	d.AddListener("run", func(ctx context.Context, event *Event) error {
		reached = true
		return nil
	}, 0)

	if err := d.Emit(context.Background(), "run", nil, nil); err != nil {
		t.Fatalf("Failed to dispatch: %v", err)
	}
	if reached {
		t.Error("Expected propagation to stop")
	}
}

func TestDispatcherFilter(t *testing.T) {
	d := NewDispatcher()
	var got []interface{}

	d.AddFilteredListener("pkg", func(ctx context.Context, event *Event) error {
		got = append(got, event.Payload)
		return nil
	}, FilterByPayload(func(p interface{}) bool { return p == "keep" }), 0)

	_ = d.Emit(context.Background(), "pkg", "drop", nil)
	_ = d.Emit(context.Background(), "pkg", "keep", nil)

	if len(got) != 1 || got[0] != "keep" {
		t.Errorf("Expected only the kept payload, got %v", got)
	}
}

func TestNewEvent(t *testing.T) {
	e := NewEvent("x", 1, map[string]interface{}{"a": 1})
	if e.ID == "" {
		t.Error("Expected event ID to be set")
	}
	if e.Timestamp.IsZero() {
		t.Error("Expected timestamp to be set")
	}
	if e.Name != "x" {
		t.Errorf("Expected name x, got %s", e.Name)
	}
}

func TestDispatchNilEvent(t *testing.T) {
	if err := NewDispatcher().Dispatch(context.Background(), nil); err == nil {
		t.Error("Expected error for nil event")
	}
}
