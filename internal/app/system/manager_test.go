package system

import (
	"context"
	"errors"
	"testing"
)

type recordedService struct {
	name     string
	startErr error
	events   *[]string
}

func (s *recordedService) Name() string { return s.name }

func (s *recordedService) Start(context.Context) error {
	*s.events = append(*s.events, "start:"+s.name)
	return s.startErr
}

func (s *recordedService) Stop(context.Context) error {
	*s.events = append(*s.events, "stop:"+s.name)
	return nil
}

func TestManagerStartsInOrderStopsInReverse(t *testing.T) {
	var events []string
	manager := NewManager()
	for _, name := range []string{"a", "b", "c"} {
		if err := manager.Register(&recordedService{name: name, events: &events}); err != nil {
			t.Fatalf("Register(%s): %v", name, err)
		}
	}

	if err := manager.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := manager.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	want := []string{"start:a", "start:b", "start:c", "stop:c", "stop:b", "stop:a"}
	if len(events) != len(want) {
		t.Fatalf("events = %v", events)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("events[%d] = %s, want %s", i, events[i], want[i])
		}
	}
}

func TestManagerRollsBackFailedStart(t *testing.T) {
	var events []string
	manager := NewManager()
	boom := errors.New("boom")
	_ = manager.Register(&recordedService{name: "a", events: &events})
	_ = manager.Register(&recordedService{name: "b", startErr: boom, events: &events})
	_ = manager.Register(&recordedService{name: "c", events: &events})

	if err := manager.Start(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected start failure, got %v", err)
	}

	want := []string{"start:a", "start:b", "stop:a"}
	if len(events) != len(want) {
		t.Fatalf("events = %v", events)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("events[%d] = %s, want %s", i, events[i], want[i])
		}
	}
}

func TestManagerRejectsDuplicateNames(t *testing.T) {
	var events []string
	manager := NewManager()
	if err := manager.Register(&recordedService{name: "a", events: &events}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := manager.Register(&recordedService{name: "a", events: &events}); err == nil {
		t.Fatalf("expected duplicate name rejection")
	}
	if err := manager.Register(NoopService{}); err == nil {
		t.Fatalf("expected empty name rejection")
	}
}
