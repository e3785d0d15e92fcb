package telemetry

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mlange-42/ark/ecs"

	"github.com/pthm-cable/ratswarm/components"
)

func TestClassifyTransition(t *testing.T) {
	tests := []struct {
		from, to components.Behavior
		want     EventType
		ok       bool
	}{
		{components.BehaviorFree, components.BehaviorTrailFollower, EventJoin, true},
		{components.BehaviorTrailFollower, components.BehaviorFree, EventRelease, true},
		{components.BehaviorDeployed, components.BehaviorFree, EventRelease, true},
		{components.BehaviorFree, components.BehaviorDeployed, EventDeploy, true},
		{components.BehaviorTrailFollower, components.BehaviorProjectile, EventLaunch, true},
		{components.BehaviorProjectile, components.BehaviorTrailFollower, EventLand, true},
		{components.BehaviorProjectile, components.BehaviorFree, EventLand, true},
		{components.BehaviorFree, components.BehaviorDistracted, EventDistract, true},
		{components.BehaviorDistracted, components.BehaviorFree, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			got, ok := classifyTransition(tt.from, tt.to)
			if ok != tt.ok || (ok && got != tt.want) {
				t.Errorf("classifyTransition = %v, %v; want %v, %v", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestCollectorWindow(t *testing.T) {
	w := ecs.NewWorld()
	e := ecs.NewMap1[components.Rat](w).NewEntity(&components.Rat{})

	c := NewCollector(1.0, 0.1)
	c.RecordEvents(true)
	if c.WindowDurationTicks() != 10 {
		t.Fatalf("ticks per window = %d, want 10", c.WindowDurationTicks())
	}

	c.BeginTick(3)
	c.RatSpawned(e)
	c.BehaviorChanged(e, components.BehaviorFree, components.BehaviorTrailFollower)
	c.FollowerCountChanged(1)
	c.JumpMarkerCreated(1)
	c.BehaviorChanged(e, components.BehaviorTrailFollower, components.BehaviorProjectile)
	c.FollowerCountChanged(0)
	c.JumpMarkerResolved()
	c.BeginTick(6)
	c.BehaviorChanged(e, components.BehaviorProjectile, components.BehaviorFree)

	if c.ShouldFlush(9) {
		t.Error("window flushed early")
	}
	if !c.ShouldFlush(10) {
		t.Error("window not flushed on time")
	}

	stats := c.Flush(10, Sample{
		Free:           1,
		TrailLength:    4,
		Crush:          []float64{1, 2, 3},
		TrailDistances: nil,
	})
	if stats.Spawns != 1 || stats.Joins != 1 || stats.Launches != 1 || stats.Landings != 1 {
		t.Errorf("event counts = %+v", stats)
	}
	if stats.MarkersCreated != 1 || stats.MarkersResolved != 1 || stats.PeakFollowers != 1 {
		t.Errorf("marker counts = %d/%d, peak %d", stats.MarkersCreated, stats.MarkersResolved, stats.PeakFollowers)
	}
	if stats.CrushMean != 2 || stats.CrushMax != 3 {
		t.Errorf("crush mean/max = %v/%v, want 2/3", stats.CrushMean, stats.CrushMax)
	}
	if stats.SimTimeSec != 1.0 {
		t.Errorf("sim time = %v, want 1", stats.SimTimeSec)
	}

	events := c.DrainEvents()
	if len(events) != 6 {
		t.Fatalf("logged %d events, want 6", len(events))
	}
	if events[5].Type != EventLand || events[5].Tick != 6 {
		t.Errorf("last event = %+v", events[5])
	}
	if len(c.DrainEvents()) != 0 {
		t.Error("events not cleared by drain")
	}

	next := c.Flush(20, Sample{})
	if next.Joins != 0 || next.WindowStartTick != 10 {
		t.Errorf("counters not reset: %+v", next)
	}
}

func TestOutputManagerWritesCSV(t *testing.T) {
	dir := t.TempDir()
	om, err := NewOutputManager(dir)
	if err != nil {
		t.Fatal(err)
	}

	for i := int32(1); i <= 2; i++ {
		if err := om.WriteTelemetry(WindowStats{WindowEndTick: i * 10, Followers: int(i)}); err != nil {
			t.Fatal(err)
		}
	}
	if err := om.WriteEvents([]Event{NewSpawnEvent(1, 7), NewMarkerCreatedEvent(2, 5)}); err != nil {
		t.Fatal(err)
	}
	if err := om.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "telemetry.csv"))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("telemetry.csv has %d lines, want header + 2", len(lines))
	}
	if !strings.HasPrefix(lines[0], "window_end,sim_time,free,followers") {
		t.Errorf("header = %q", lines[0])
	}

	data, err = os.ReadFile(filepath.Join(dir, "events.csv"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "marker_created") || !strings.Contains(string(data), "spawn") {
		t.Errorf("events.csv = %q", data)
	}
}

func TestNilOutputManager(t *testing.T) {
	om, err := NewOutputManager("")
	if err != nil || om != nil {
		t.Fatalf("NewOutputManager(\"\") = %v, %v", om, err)
	}
	if err := om.WriteTelemetry(WindowStats{}); err != nil {
		t.Error(err)
	}
	if err := om.Close(); err != nil {
		t.Error(err)
	}
}
