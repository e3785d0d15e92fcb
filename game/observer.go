package game

import (
	"github.com/mlange-42/ark/ecs"

	"github.com/pthm-cable/ratswarm/components"
)

// Observer receives swarm notifications. Calls are synchronous and happen
// at the point of the state change, on the simulation goroutine.
type Observer interface {
	FollowerCountChanged(count int)
	BehaviorChanged(e ecs.Entity, from, to components.Behavior)
	JumpMarkerCreated(tokens int)
	JumpMarkerResolved()
	RatSpawned(e ecs.Entity)
	RatDespawned(e ecs.Entity)
}

// AddObserver registers o for all future notifications.
func (g *Game) AddObserver(o Observer) {
	g.observers = append(g.observers, o)
}

func (g *Game) notifyFollowerCount() {
	n := g.followers.Len()
	for _, o := range g.observers {
		o.FollowerCountChanged(n)
	}
}

func (g *Game) notifyBehavior(e ecs.Entity, from, to components.Behavior) {
	if from == to {
		return
	}
	for _, o := range g.observers {
		o.BehaviorChanged(e, from, to)
	}
}

func (g *Game) notifyMarkerCreated(_, tokens int) {
	for _, o := range g.observers {
		o.JumpMarkerCreated(tokens)
	}
}

func (g *Game) notifyMarkerResolved() {
	for _, o := range g.observers {
		o.JumpMarkerResolved()
	}
}

func (g *Game) notifySpawned(e ecs.Entity) {
	for _, o := range g.observers {
		o.RatSpawned(e)
	}
}

func (g *Game) notifyDespawned(e ecs.Entity) {
	for _, o := range g.observers {
		o.RatDespawned(e)
	}
}
