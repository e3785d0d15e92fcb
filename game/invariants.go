package game

import (
	"errors"
	"fmt"

	"github.com/mlange-42/ark/ecs"

	"github.com/pthm-cable/ratswarm/components"
)

// CheckInvariants verifies the trail bookkeeping and that every rat sits
// in exactly the collection its behavior calls for.
func (g *Game) CheckInvariants() error {
	var errs []error
	if err := g.trail.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("trail: %w", err))
	}

	count, offTrail := 0, 0
	query := g.ratFilter.Query()
	for query.Next() {
		e := query.Entity()
		_, _, rat, _, _ := query.Get()
		count++
		if err := g.checkMembership(e, rat); err != nil {
			errs = append(errs, err)
		}
		if rat.OffTrail {
			offTrail++
			if !rat.IsProjectile() {
				errs = append(errs, fmt.Errorf("rat %d is %s but holds a trail share", rat.ID, rat.Behavior))
			}
		}
	}
	if offTrail != g.offTrail {
		errs = append(errs, fmt.Errorf("%d rats hold a trail share, counter says %d", offTrail, g.offTrail))
	}

	if members := g.RatCount(); members != count {
		errs = append(errs, fmt.Errorf("collections hold %d rats, world has %d", members, count))
	}
	return errors.Join(errs...)
}

func (g *Game) checkMembership(e ecs.Entity, rat *components.Rat) error {
	inFree, inFollowers, inDeployed := g.free.Contains(e), g.followers.Contains(e), g.deployed.Contains(e)

	n := 0
	for _, in := range []bool{inFree, inFollowers, inDeployed} {
		if in {
			n++
		}
	}
	if n != 1 {
		return fmt.Errorf("rat %d (%s) is in %d collections", rat.ID, rat.Behavior, n)
	}

	var ok bool
	switch rat.Behavior {
	case components.BehaviorTrailFollower:
		ok = inFollowers
	case components.BehaviorDeployed:
		ok = inDeployed
	default:
		ok = inFree
	}
	if !ok {
		return fmt.Errorf("rat %d is %s but in the wrong collection", rat.ID, rat.Behavior)
	}
	return nil
}
