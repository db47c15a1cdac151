package controller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/newtron-network/newtflow/pkg/audit"
	"github.com/newtron-network/newtflow/pkg/fabric"
	"github.com/newtron-network/newtflow/pkg/openflow"
)

func lastFlow(t *testing.T, rec *openflow.Recorder) *openflow.FlowMod {
	t.Helper()
	flows := rec.Flows()
	if len(flows) == 0 {
		t.Fatal("no rules recorded")
	}
	return flows[len(flows)-1]
}

func TestPathSwitchEvenTicksRestore(t *testing.T) {
	f := newTestFabric(t, nil)
	f.connect(t, 1)
	f.connect(t, 2)

	ps := f.ctrl.PathSwitch()
	start := ps.State().NextPort
	ps.Tick(context.Background())
	ps.Tick(context.Background())

	if got := ps.State().NextPort; got != start {
		t.Errorf("NextPort after 2 ticks = %d, want %d", got, start)
	}
	if !ps.State().ActiveA {
		t.Error("ActiveA should be restored after an even number of ticks")
	}
}

func TestPathSwitchAlternates(t *testing.T) {
	f := newTestFabric(t, nil)
	r1 := f.connect(t, 1)
	r2 := f.connect(t, 2)
	ps := f.ctrl.PathSwitch()

	for i, want := range []uint32{3, 2, 3, 2} {
		port, ok := ps.Tick(context.Background())
		if !ok || port != want {
			t.Fatalf("tick %d = %d, %v; want %d", i, port, ok, want)
		}
		for _, rec := range []*openflow.Recorder{r1, r2} {
			fm := lastFlow(t, rec)
			if fm.Priority != DefaultPriority || fm.Match.String() != "in_port=1" {
				t.Errorf("tick %d device %d rule = priority %d %s", i, rec.ID(), fm.Priority, fm.Match)
			}
			if got := openflow.ActionsString(fm.Actions); got != openflow.Output(want).String() {
				t.Errorf("tick %d device %d actions = %s, want output:%d", i, rec.ID(), got, want)
			}
		}
	}

	// The latest swap overwrites the default in_port=1 entry.
	rule, ok := f.ctrl.Flows().Lookup(1, DefaultPriority, openflow.Match{InPort: 1})
	if !ok || rule.Kind != KindPathSwitch || rule.Actions != "output:2" {
		t.Errorf("shadow in_port=1 = %+v, %v", rule, ok)
	}
	if st := ps.State(); st.Ticks != 4 || st.LastPort != 2 {
		t.Errorf("state = %+v", st)
	}
	if got := len(f.audit.ops(audit.OpPathSwap)); got != 8 {
		t.Errorf("path swap audit events = %d, want 8", got)
	}
}

func TestPathSwitchStartWithB(t *testing.T) {
	cfg := fabric.Default()
	cfg.PathSwitch.StartWith = "b"
	f := newTestFabric(t, cfg)
	f.connect(t, 1)
	f.connect(t, 2)

	if port, _ := f.ctrl.PathSwitch().Tick(context.Background()); port != 2 {
		t.Errorf("first tick = %d, want 2", port)
	}
}

func TestPathSwitchNeedsTwoBundledDevices(t *testing.T) {
	f := newTestFabric(t, nil)
	r1 := f.connect(t, 1)
	f.connect(t, 3)
	f.connect(t, 4)
	r1.Reset()

	ps := f.ctrl.PathSwitch()
	if _, ok := ps.Tick(context.Background()); ok {
		t.Fatal("tick with one bundled device should be a no-op")
	}
	if st := ps.State(); st.Ticks != 0 || !st.ActiveA {
		t.Errorf("state changed on no-op tick: %+v", st)
	}
	if got := len(r1.Ops()); got != 0 {
		t.Errorf("no-op tick issued %d operations", got)
	}
}

func TestPathSwitchUsesFirstTwoInConnectOrder(t *testing.T) {
	cfg := fabric.Default()
	cfg.Devices = append(cfg.Devices, fabric.DeviceSpec{DPID: 5, Name: "s5", Role: fabric.RoleBundledIngress})
	f := newTestFabric(t, cfg)
	r5 := f.connect(t, 5)
	r2 := f.connect(t, 2)
	r1 := f.connect(t, 1)
	r1.Reset()
	r2.Reset()
	r5.Reset()

	f.ctrl.PathSwitch().Tick(context.Background())

	if r5.Count(openflow.OpInstallRule) != 1 || r2.Count(openflow.OpInstallRule) != 1 {
		t.Error("first two connected bundled devices should get the rule")
	}
	if got := r1.Count(openflow.OpInstallRule); got != 0 {
		t.Errorf("third bundled device got %d rules", got)
	}
}

func TestPathSwitchFailureStillToggles(t *testing.T) {
	f := newTestFabric(t, nil)
	r1 := f.connect(t, 1)
	r2 := f.connect(t, 2)
	r1.FailWith(openflow.OpInstallRule, errors.New("session closed"))
	r2.Reset()

	port, ok := f.ctrl.PathSwitch().Tick(context.Background())
	if !ok || port != 3 {
		t.Fatalf("tick = %d, %v", port, ok)
	}
	if got := r2.Count(openflow.OpInstallRule); got != 1 {
		t.Errorf("healthy device got %d rules, want 1", got)
	}
	if f.ctrl.PathSwitch().State().ActiveA {
		t.Error("state should toggle even when an install fails")
	}
	if got := counterValue(t, f.ctrl, "newtflow_operation_failures_total", string(openflow.OpInstallRule)); got != 1 {
		t.Errorf("install failures = %v, want 1", got)
	}
	failed := 0
	for _, e := range f.audit.ops(audit.OpPathSwap) {
		if !e.Success {
			failed++
		}
	}
	if failed != 1 {
		t.Errorf("failed path swap audit events = %d, want 1", failed)
	}
}

func TestPathSwitchRunStopsOnCancel(t *testing.T) {
	cfg := fabric.Default()
	cfg.PathSwitch.Interval = 10 * time.Millisecond
	f := newTestFabric(t, cfg)
	f.connect(t, 1)
	f.connect(t, 2)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.ctrl.RunScheduler(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for f.ctrl.PathSwitch().State().Ticks < 2 {
		if time.Now().After(deadline) {
			t.Fatal("scheduler did not tick")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("RunScheduler = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestSchedulerIdleInFailoverMode(t *testing.T) {
	cfg := fabric.Default()
	cfg.HA.Mode = fabric.ModeFastFailover
	cfg.PathSwitch.Interval = time.Millisecond
	f := newTestFabric(t, cfg)
	f.connect(t, 1)
	f.connect(t, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := f.ctrl.RunScheduler(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("RunScheduler = %v", err)
	}
	if got := f.ctrl.PathSwitch().State().Ticks; got != 0 {
		t.Errorf("scheduler ticked %d times in fast-failover mode", got)
	}
}

// droppingDatapath disconnects its device from inside the next rule install
// once armed, the way a session drop interleaves with a tick.
type droppingDatapath struct {
	*openflow.Recorder
	ctrl  *Controller
	armed bool
	once  sync.Once
}

func (d *droppingDatapath) InstallRule(ctx context.Context, fm *openflow.FlowMod) error {
	if d.armed {
		d.once.Do(func() {
			d.ctrl.Handle(ctx, &openflow.DisconnectEvent{DPID: d.ID()})
		})
	}
	return d.Recorder.InstallRule(ctx, fm)
}

func TestPathSwitchDisconnectDuringTick(t *testing.T) {
	f := newTestFabric(t, nil)
	dp := &droppingDatapath{Recorder: openflow.NewRecorder(1), ctrl: f.ctrl}
	if err := f.handle(t, &openflow.ConnectEvent{Datapath: dp, Features: openflow.Features{DPID: 1}}); err != nil {
		t.Fatalf("connect 1: %v", err)
	}
	f.connect(t, 2)
	dp.armed = true

	if _, ok := f.ctrl.PathSwitch().Tick(context.Background()); !ok {
		t.Fatal("tick skipped")
	}

	if _, ok := f.ctrl.Devices().Get(1); ok {
		t.Fatal("device 1 still registered")
	}
	if got := f.ctrl.Flows().Count(1); got != 0 {
		t.Errorf("departed device has %d shadow rules, want 0", got)
	}
	if got := f.ctrl.Flows().Count(2); got == 0 {
		t.Error("remaining device lost its shadow rules")
	}
}
