package controller

import (
	"errors"
	"testing"

	"github.com/newtron-network/newtflow/pkg/audit"
	"github.com/newtron-network/newtflow/pkg/fabric"
	"github.com/newtron-network/newtflow/pkg/openflow"
)

func failoverConfig() *fabric.Config {
	cfg := fabric.Default()
	cfg.HA.Mode = fabric.ModeFastFailover
	return cfg
}

func TestFailoverConnectBundled(t *testing.T) {
	f := newTestFabric(t, failoverConfig())
	rec := f.connect(t, 1)

	if got := rec.Count(openflow.OpQueryPorts); got != 1 {
		t.Errorf("port description requests = %d, want 1", got)
	}

	groups := rec.Groups()
	if len(groups) != 1 {
		t.Fatalf("groups = %d, want 1", len(groups))
	}
	g := groups[0]
	if g.GroupID != 100 || g.Type != openflow.GroupTypeFastFailover {
		t.Errorf("group = %d type %s", g.GroupID, g.Type)
	}
	wantBuckets := []struct{ watch, out uint32 }{{2, 2}, {3, 3}}
	if len(g.Buckets) != len(wantBuckets) {
		t.Fatalf("buckets = %d, want %d", len(g.Buckets), len(wantBuckets))
	}
	for i, w := range wantBuckets {
		b := g.Buckets[i]
		if b.WatchPort != w.watch || b.WatchGroup != openflow.GroupAny {
			t.Errorf("bucket[%d] watch port %d group %d", i, b.WatchPort, b.WatchGroup)
		}
		if got := openflow.ActionsString(b.Actions); got != openflow.Output(w.out).String() {
			t.Errorf("bucket[%d] actions = %s", i, got)
		}
	}

	tests := []struct {
		match   string
		actions string
	}{
		{"in_port=1", "group:100"},
		{"in_port=2", "output:1"},
		{"in_port=3", "output:1"},
	}
	flows := rec.Flows()
	if len(flows) != len(tests) {
		t.Fatalf("rules = %d, want %d", len(flows), len(tests))
	}
	for i, tt := range tests {
		if flows[i].Match.String() != tt.match || openflow.ActionsString(flows[i].Actions) != tt.actions {
			t.Errorf("rule[%d] = %s -> %s, want %s -> %s", i, flows[i].Match, openflow.ActionsString(flows[i].Actions), tt.match, tt.actions)
		}
		if flows[i].Priority != 10 {
			t.Errorf("rule[%d] priority = %d", i, flows[i].Priority)
		}
	}

	if !f.ctrl.Failover().Installed(1) {
		t.Error("Installed(1) = false")
	}
	if got := len(f.audit.ops(audit.OpFailoverInstall)); got != 1 {
		t.Errorf("failover audit events = %d, want 1", got)
	}
}

func TestFailoverGroupOncePerConnect(t *testing.T) {
	f := newTestFabric(t, failoverConfig())
	rec := f.connect(t, 1)

	for i := 0; i < 5; i++ {
		f.handle(t, packetIn(t, 1, 1, macAA, macBB))
		f.handle(t, packetIn(t, 1, 2, macBB, macAA))
	}
	if got := rec.Count(openflow.OpInstallGroup); got != 1 {
		t.Errorf("group installs = %d, want 1", got)
	}

	f.connect(t, 1)
	if got := f.ctrl.Failover().Installs(1); got != 1 {
		t.Errorf("Installs after reconnect = %d, want 1", got)
	}
}

func TestFailoverModeCoreGetsDefaults(t *testing.T) {
	f := newTestFabric(t, failoverConfig())
	rec := f.connect(t, 4)

	if got := rec.Count(openflow.OpInstallGroup); got != 0 {
		t.Errorf("core device got %d groups", got)
	}
	if got := rec.Count(openflow.OpInstallRule); got != 2 {
		t.Errorf("core device rules = %d, want 2", got)
	}
}

func TestFailoverGroupRejected(t *testing.T) {
	f := newTestFabric(t, failoverConfig())
	rec := openflow.NewRecorder(1)
	rec.FailWith(openflow.OpInstallGroup, errors.New("group table full"))

	err := f.handle(t, &openflow.ConnectEvent{Datapath: rec})
	if err == nil {
		t.Fatal("expected error from rejected group")
	}

	flows := rec.Flows()
	if len(flows) != 2 {
		t.Fatalf("rules = %d, want only the 2 return rules", len(flows))
	}
	for _, fm := range flows {
		if fm.Match.InPort == 1 {
			t.Error("steering rule must not be installed without the group")
		}
	}
	if f.ctrl.Failover().Installed(1) {
		t.Error("Installed(1) should be false")
	}
	events := f.audit.ops(audit.OpFailoverInstall)
	if len(events) != 1 || events[0].Success {
		t.Errorf("failover audit = %+v", events)
	}
}
