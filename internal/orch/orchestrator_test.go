// ABOUTME: Tests for the start/stop orchestration pipeline
// ABOUTME: Verifies rollback compensation, defaults ordering, and truthful stop reporting
package orch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/alphalpha/live-input-to-airplay/internal/defaults"
	"github.com/alphalpha/live-input-to-airplay/pkg/model"
)

// scriptedServices activates units on Start according to the script
// and records every verb issued.
type scriptedServices struct {
	mu       sync.Mutex
	activate map[string]bool // unit -> becomes active once started
	active   map[string]bool
	calls    []string
}

func newScriptedServices(activate map[string]bool) *scriptedServices {
	return &scriptedServices{activate: activate, active: map[string]bool{}}
}

func (s *scriptedServices) Start(ctx context.Context, unit string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "start "+unit)
	if s.activate[unit] {
		s.active[unit] = true
	}
	return nil
}

func (s *scriptedServices) Stop(ctx context.Context, unit string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "stop "+unit)
	s.active[unit] = false
	return nil
}

func (s *scriptedServices) IsActive(ctx context.Context, unit string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active[unit]
}

func (s *scriptedServices) calledWith(call string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.calls {
		if c == call {
			return true
		}
	}
	return false
}

// recordingClient records SetVolume/SetSelected order per output.
// notReadyPolls makes the first N ListOutputs calls fail, simulating
// outputs that take a few polls to appear.
type recordingClient struct {
	outs          []model.Output
	listErr       error
	setErr        error
	notReadyPolls int
	calls         []string
}

func (c *recordingClient) ListOutputs(ctx context.Context) ([]model.Output, error) {
	if c.notReadyPolls > 0 {
		c.notReadyPolls--
		return nil, errors.New("not ready")
	}
	return c.outs, c.listErr
}

func (c *recordingClient) SetVolume(ctx context.Context, id, volume int) error {
	c.calls = append(c.calls, fmt.Sprintf("volume %d=%d", id, volume))
	return c.setErr
}

func (c *recordingClient) SetSelected(ctx context.Context, id int, selected bool) error {
	c.calls = append(c.calls, fmt.Sprintf("selected %d=%v", id, selected))
	return c.setErr
}

type recordingHub struct {
	mu     sync.Mutex
	events []any
}

func (r *recordingHub) Broadcast(msg any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, msg)
}

func (r *recordingHub) lastStatus() (model.StatusEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if se, ok := r.events[i].(model.StatusEvent); ok {
			return se, true
		}
	}
	return model.StatusEvent{}, false
}

func (r *recordingHub) lastOutputs() (model.OutputsEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if oe, ok := r.events[i].(model.OutputsEvent); ok {
			return oe, true
		}
	}
	return model.OutputsEvent{}, false
}

func testConfig() Config {
	return Config{
		CoreUnit:          "core.service",
		PipeUnit:          "pipe.service",
		ActivationTimeout: 50 * time.Millisecond,
		OutputsTimeout:    50 * time.Millisecond,
		PollGranularity:   time.Millisecond,
		StopSettleDelay:   time.Millisecond,
	}
}

func testStore(t *testing.T, m defaults.Map) *defaults.Store {
	t.Helper()
	s, err := defaults.NewStore(t.TempDir(), zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	if m != nil {
		if err := s.Write(m); err != nil {
			t.Fatal(err)
		}
	}
	return s
}

func TestStartSuccessAppliesDefaultsVolumeBeforeSelect(t *testing.T) {
	svc := newScriptedServices(map[string]bool{"core.service": true, "pipe.service": true})
	client := &recordingClient{outs: []model.Output{
		{ID: 1, Name: "Living Room"},
		{ID: 2, Name: "Kitchen"},
	}}
	hub := &recordingHub{}
	o := New(testConfig(), svc, client, testStore(t, defaults.Map{"2": 35}), hub, zaptest.NewLogger(t))

	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	want := []string{"volume 2=35", "selected 2=true"}
	if len(client.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", client.calls, want)
	}
	for i := range want {
		if client.calls[i] != want[i] {
			t.Errorf("call %d = %q, want %q", i, client.calls[i], want[i])
		}
	}

	se, ok := hub.lastStatus()
	if !ok || !se.BothActive {
		t.Errorf("final status event = %+v, want both active", se)
	}
	oe, ok := hub.lastOutputs()
	if !ok {
		t.Fatal("no outputs event broadcast")
	}
	for _, out := range oe.Outputs {
		if out.ID == 2 && (!out.Default || out.DefaultVolume == nil || *out.DefaultVolume != 35) {
			t.Errorf("output 2 missing default annotation: %+v", out)
		}
	}
}

func TestStartCoreTimeoutNoRollbackNeeded(t *testing.T) {
	svc := newScriptedServices(map[string]bool{}) // nothing ever activates
	hub := &recordingHub{}
	o := New(testConfig(), svc, &recordingClient{}, testStore(t, nil), hub, zaptest.NewLogger(t))

	err := o.Start(context.Background())
	if !errors.Is(err, ErrServiceControlTimeout) {
		t.Fatalf("expected ErrServiceControlTimeout, got %v", err)
	}
	if svc.calledWith("stop core.service") {
		t.Error("core stop issued although nothing started successfully")
	}
	se, ok := hub.lastStatus()
	if !ok || se.BothActive || se.CoreActive || se.PipeActive {
		t.Errorf("expected all-false status broadcast, got %+v", se)
	}
}

func TestStartPipeTimeoutRollsBackCore(t *testing.T) {
	svc := newScriptedServices(map[string]bool{"core.service": true})
	hub := &recordingHub{}
	o := New(testConfig(), svc, &recordingClient{}, testStore(t, nil), hub, zaptest.NewLogger(t))

	err := o.Start(context.Background())
	if !errors.Is(err, ErrServiceControlTimeout) {
		t.Fatalf("expected ErrServiceControlTimeout, got %v", err)
	}
	if !svc.calledWith("stop core.service") {
		t.Error("core service not stopped as compensation")
	}
	se, ok := hub.lastStatus()
	if !ok || se.BothActive {
		t.Errorf("last status = %+v, want both_active=false", se)
	}
}

func TestStartNoOutputsRollsBack(t *testing.T) {
	svc := newScriptedServices(map[string]bool{"core.service": true, "pipe.service": true})
	hub := &recordingHub{}
	o := New(testConfig(), svc, &recordingClient{outs: nil}, testStore(t, nil), hub, zaptest.NewLogger(t))

	err := o.Start(context.Background())
	if !errors.Is(err, ErrNoOutputsDiscovered) {
		t.Fatalf("expected ErrNoOutputsDiscovered, got %v", err)
	}
	if !svc.calledWith("stop core.service") {
		t.Error("core service not stopped as compensation")
	}
}

func TestStartDefaultsFailureRollsBackWithCause(t *testing.T) {
	svc := newScriptedServices(map[string]bool{"core.service": true, "pipe.service": true})
	cause := errors.New("upstream rejected")
	client := &recordingClient{
		outs:   []model.Output{{ID: 1, Name: "Den"}},
		setErr: cause,
	}
	hub := &recordingHub{}
	o := New(testConfig(), svc, client, testStore(t, defaults.Map{"1": 50}), hub, zaptest.NewLogger(t))

	err := o.Start(context.Background())
	if !errors.Is(err, cause) {
		t.Fatalf("error does not carry the cause: %v", err)
	}
	if !svc.calledWith("stop core.service") {
		t.Error("core service not stopped as compensation")
	}
}

func TestStartOutputsEventuallyAppear(t *testing.T) {
	svc := newScriptedServices(map[string]bool{"core.service": true, "pipe.service": true})
	client := &recordingClient{
		outs:          []model.Output{{ID: 1, Name: "Den"}},
		notReadyPolls: 3,
	}
	hub := &recordingHub{}
	o := New(testConfig(), svc, client, testStore(t, nil), hub, zaptest.NewLogger(t))

	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
}

func TestStopReportsObservedTruth(t *testing.T) {
	// Pipe unit stays active even after core is stopped.
	svc := newScriptedServices(map[string]bool{})
	svc.active["core.service"] = true
	svc.active["pipe.service"] = true
	// Make Stop only stop the unit it names.
	hub := &recordingHub{}
	o := New(testConfig(), svc, &recordingClient{}, testStore(t, nil), hub, zaptest.NewLogger(t))

	status := o.Stop(context.Background())

	if status.CoreActive {
		t.Error("core reported active after stop")
	}
	if !status.PipeActive {
		t.Error("pipe status not truthfully reported")
	}
	if status.BothActive {
		t.Error("both_active true after stop")
	}

	oe, ok := hub.lastOutputs()
	if !ok {
		t.Fatal("no empty outputs broadcast after stop")
	}
	if len(oe.Outputs) != 0 {
		t.Errorf("expected empty outputs, got %d", len(oe.Outputs))
	}
}

func TestStopAlreadyStoppedIsIdempotent(t *testing.T) {
	svc := newScriptedServices(map[string]bool{})
	hub := &recordingHub{}
	o := New(testConfig(), svc, &recordingClient{}, testStore(t, nil), hub, zaptest.NewLogger(t))

	status := o.Stop(context.Background())
	if status.CoreActive || status.PipeActive || status.BothActive {
		t.Errorf("expected all-false status, got %+v", status)
	}
}
