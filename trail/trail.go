// Package trail maintains the leader trail: a polyline of recent leader
// positions ordered from the leader (index 0) back to the tail.
package trail

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/ratswarm/config"
)

var (
	// ErrNoFollowers is returned when a jump marker is requested with nobody to owe it to.
	ErrNoFollowers = errors.New("trail: jump marker requires at least one follower")
	// ErrIndexOutOfRange is returned for point indices outside the trail.
	ErrIndexOutOfRange = errors.New("trail: point index out of range")
	// ErrFadeInProgress is returned when a fade is started while another is running.
	ErrFadeInProgress = errors.New("trail: fade already in progress")
)

// Point is a single trail vertex.
type Point struct {
	Pos            r2.Vec
	SegLength      float64 // Distance to the next older point, 0 on the tail
	JumpTokens     int     // Followers still owed a jump at this point
	LeaderVelocity r3.Vec  // Leader velocity at creation, or the jump velocity on a marker
}

// IsJumpMarker reports whether followers still owe a jump at this point.
func (p Point) IsJumpMarker() bool {
	return p.JumpTokens > 0
}

type fadeState struct {
	active   bool
	elapsed  float64
	duration float64
}

// Trail is the leader trail. It is not safe for concurrent use.
type Trail struct {
	cfg     config.TrailConfig
	kinkCos float64
	logger  *slog.Logger

	points  []Point
	total   float64
	markers int
	fade    fadeState

	// Notification hooks, fired synchronously.
	OnMarkerCreated  func(index, tokens int)
	OnMarkerResolved func()
}

// New creates an empty trail. A nil logger uses slog.Default().
func New(cfg config.TrailConfig, logger *slog.Logger) *Trail {
	if logger == nil {
		logger = slog.Default()
	}
	return &Trail{
		cfg:     cfg,
		kinkCos: cfg.KinkCosLimit(),
		logger:  logger,
		points:  make([]Point, 0, 64),
	}
}

// Reset discards all points and seeds the trail with a single head.
func (t *Trail) Reset(pos r2.Vec) {
	t.points = append(t.points[:0], Point{Pos: pos})
	t.total = 0
	t.markers = 0
	t.fade = fadeState{}
}

// Len returns the number of points.
func (t *Trail) Len() int {
	return len(t.points)
}

// TotalLength returns the cached sum of all segment lengths.
func (t *Trail) TotalLength() float64 {
	return t.total
}

// MarkerCount returns the number of points currently holding jump tokens.
func (t *Trail) MarkerCount() int {
	return t.markers
}

// Point returns a copy of point i.
func (t *Trail) Point(i int) (Point, error) {
	if i < 0 || i >= len(t.points) {
		return Point{}, fmt.Errorf("point %d of %d: %w", i, len(t.points), ErrIndexOutOfRange)
	}
	return t.points[i], nil
}

// Points returns a copy of all points, newest first.
func (t *Trail) Points() []Point {
	return append([]Point(nil), t.points...)
}

// PushNewHead inserts the leader's current position as the new head, then
// fuses a short second segment and removes kinks behind the head.
func (t *Trail) PushNewHead(pos r2.Vec, leaderVel r3.Vec) {
	if len(t.points) == 0 {
		t.points = append(t.points, Point{Pos: pos, LeaderVelocity: leaderVel})
		return
	}

	seg := r2.Norm(r2.Sub(t.points[0].Pos, pos))
	t.points = append(t.points, Point{})
	copy(t.points[1:], t.points[:len(t.points)-1])
	t.points[0] = Point{Pos: pos, SegLength: seg, LeaderVelocity: leaderVel}
	t.total += seg

	t.fuseShortSegment()
	t.removeKinks()
}

// fuseShortSegment merges points 1 and 2 when the segment between them is too short.
// A marker at point 1 is never removed: the older point 2 is folded into it instead.
func (t *Trail) fuseShortSegment() {
	if len(t.points) < 3 || t.points[1].SegLength >= t.cfg.MinSegLength {
		return
	}
	switch {
	case !t.points[1].IsJumpMarker():
		t.removeInterior(1)
	case len(t.points) > 3 && !t.points[2].IsJumpMarker():
		t.removeInterior(2)
	}
}

// removeKinks drops point 1 while the trail turns back on itself there.
func (t *Trail) removeKinks() {
	for len(t.points) > 2 {
		if t.points[1].IsJumpMarker() {
			return
		}
		a := r2.Sub(t.points[0].Pos, t.points[1].Pos)
		b := r2.Sub(t.points[2].Pos, t.points[1].Pos)
		na, nb := r2.Norm(a), r2.Norm(b)
		if na < 1e-9 || nb < 1e-9 {
			return
		}
		// Straight trail is 180°, so a larger cosine means a sharper angle.
		if r2.Dot(a, b)/(na*nb) <= t.kinkCos {
			return
		}
		t.removeInterior(1)
	}
}

// removeInterior deletes interior point i, handing its tokens to the older neighbour.
func (t *Trail) removeInterior(i int) {
	if i <= 0 || i >= len(t.points)-1 {
		return
	}
	t.transfer(i, i+1)

	prev := &t.points[i-1]
	t.total -= prev.SegLength + t.points[i].SegLength
	prev.SegLength = r2.Norm(r2.Sub(t.points[i+1].Pos, prev.Pos))
	t.total += prev.SegLength
	if t.total < 0 {
		t.total = 0
	}

	t.points = append(t.points[:i], t.points[i+1:]...)
}

// TransferJumpTokens moves all tokens and the jump velocity from one point to another.
// The source stops being a marker; the marker count drops when two markers merge.
func (t *Trail) TransferJumpTokens(from, to int) error {
	n := len(t.points)
	if from < 0 || from >= n || to < 0 || to >= n {
		return fmt.Errorf("transfer %d -> %d of %d: %w", from, to, n, ErrIndexOutOfRange)
	}
	t.transfer(from, to)
	return nil
}

func (t *Trail) transfer(from, to int) {
	src := &t.points[from]
	if from == to || src.JumpTokens == 0 {
		return
	}
	dst := &t.points[to]
	if dst.IsJumpMarker() {
		t.markers--
		t.resolved()
	} else {
		dst.LeaderVelocity = src.LeaderVelocity
	}
	dst.JumpTokens += src.JumpTokens
	src.JumpTokens = 0
}

// TargetLength is the trail length the current swarm should occupy.
func (t *Trail) TargetLength(followerCount int, leaderSpeed float64) float64 {
	target := (1 / t.cfg.Density) * (float64(followerCount) + t.cfg.Epsilon) * t.cfg.SpeedCurve.Eval(leaderSpeed)
	if t.fade.active && t.fade.duration > 0 {
		target *= math.Max(0, 1-t.fade.elapsed/t.fade.duration)
	}
	return target
}

// TrimToLength shortens the tail until the trail fits the target length.
// A marker on the tail stalls trimming until the trail is too far over target.
func (t *Trail) TrimToLength(followerCount int, leaderSpeed float64) {
	target := t.TargetLength(followerCount, leaderSpeed)

	for t.total > target && len(t.points) > 1 {
		n := len(t.points)
		tail := t.points[n-1]
		if tail.IsJumpMarker() && t.total <= t.cfg.MarkerStallFactor*target {
			return
		}

		prev := &t.points[n-2]
		excess := t.total - target
		if excess >= prev.SegLength {
			t.total -= prev.SegLength
			prev.SegLength = 0
			t.points = t.points[:n-1]
			if len(t.points) == 1 {
				t.total = 0
			}
			if tail.IsJumpMarker() {
				t.markers--
				t.resolved()
			}
			continue
		}

		// Shorten the last segment; its length comes from the moved positions
		// so repeated partial trims do not accumulate drift.
		keep := prev.SegLength - excess
		dir := unit(r2.Sub(tail.Pos, prev.Pos))
		t.points[n-1].Pos = r2.Add(prev.Pos, r2.Scale(keep, dir))
		seg := r2.Norm(r2.Sub(t.points[n-1].Pos, prev.Pos))
		t.total += seg - prev.SegLength
		prev.SegLength = seg
		return
	}
}

// MakeJumpMarker turns point index into a jump marker owed to every current follower.
func (t *Trail) MakeJumpMarker(index int, jumpVel r3.Vec, followerCount int) error {
	if followerCount < 1 {
		return ErrNoFollowers
	}
	if index < 0 || index >= len(t.points) {
		return fmt.Errorf("marker at %d of %d: %w", index, len(t.points), ErrIndexOutOfRange)
	}
	p := &t.points[index]
	if !p.IsJumpMarker() {
		t.markers++
	}
	p.JumpTokens = followerCount
	p.LeaderVelocity = jumpVel
	if t.OnMarkerCreated != nil {
		t.OnMarkerCreated(index, followerCount)
	}
	return nil
}

// AddTokensAhead owes one more jump on every marker between the leader and
// trail value v. Returns the number of markers touched.
func (t *Trail) AddTokensAhead(v float64) int {
	touched := 0
	t.walkAhead(v, func(p *Point) {
		if p.IsJumpMarker() {
			p.JumpTokens++
			touched++
		}
	})
	return touched
}

// ExpendTokensAhead pays one jump on every marker between the leader and
// trail value v. Markers that reach zero are resolved. Returns the number of markers touched.
func (t *Trail) ExpendTokensAhead(v float64) int {
	touched := 0
	t.walkAhead(v, func(p *Point) {
		if !p.IsJumpMarker() {
			return
		}
		p.JumpTokens--
		touched++
		if p.JumpTokens == 0 {
			t.markers--
			t.resolved()
		}
	})
	return touched
}

// walkAhead visits points from the head up to and including trail value v.
func (t *Trail) walkAhead(v float64, fn func(p *Point)) {
	if t.markers == 0 || len(t.points) == 0 {
		return
	}
	limit := clamp01(v)*t.total + t.tolerance()
	acc := 0.0
	for i := range t.points {
		if acc > limit {
			return
		}
		fn(&t.points[i])
		acc += t.points[i].SegLength
	}
}

// MarkerAhead finds the nearest marker ahead of trail value v that lies
// within window trail distance of it.
func (t *Trail) MarkerAhead(v, window float64) (int, Point, bool) {
	if t.markers == 0 || len(t.points) == 0 {
		return -1, Point{}, false
	}
	at := clamp01(v) * t.total
	found := -1
	acc := 0.0
	for i := range t.points {
		if acc > at+t.tolerance() {
			break
		}
		if t.points[i].IsJumpMarker() && at-acc <= window {
			found = i
		}
		acc += t.points[i].SegLength
	}
	if found < 0 {
		return -1, Point{}, false
	}
	return found, t.points[found], true
}

// BeginFade shrinks the trail to nothing over duration seconds
// (the configured fade duration when duration <= 0). Overlapping fades are rejected.
func (t *Trail) BeginFade(duration float64) error {
	if t.fade.active {
		t.logger.Error("trail fade rejected", "error", ErrFadeInProgress, "elapsed", t.fade.elapsed)
		return ErrFadeInProgress
	}
	if duration <= 0 {
		duration = t.cfg.FadeDuration
	}
	t.fade = fadeState{active: true, duration: duration}
	return nil
}

// Fading reports whether a fade is running.
func (t *Trail) Fading() bool {
	return t.fade.active
}

// Advance moves time-based trail state forward by dt seconds.
// A fade ends once its time is up and the trail has collapsed to the head.
func (t *Trail) Advance(dt float64) {
	if !t.fade.active {
		return
	}
	t.fade.elapsed += dt
	if t.fade.elapsed >= t.fade.duration && len(t.points) <= 1 {
		t.fade = fadeState{}
	}
}

// Validate checks the length, segment and marker bookkeeping against the points.
func (t *Trail) Validate() error {
	n := len(t.points)
	if n == 0 {
		if t.total != 0 || t.markers != 0 {
			return fmt.Errorf("empty trail has total %v and %d markers", t.total, t.markers)
		}
		return nil
	}

	segs := make([]float64, n)
	markers := 0
	for i, p := range t.points {
		segs[i] = p.SegLength
		if p.JumpTokens < 0 {
			return fmt.Errorf("point %d has negative tokens %d", i, p.JumpTokens)
		}
		if p.IsJumpMarker() {
			markers++
		}
		if i < n-1 {
			d := r2.Norm(r2.Sub(t.points[i+1].Pos, p.Pos))
			if math.Abs(d-p.SegLength) > 1e-6*math.Max(1, d) {
				return fmt.Errorf("point %d segment %v does not match distance %v", i, p.SegLength, d)
			}
		}
	}
	if segs[n-1] != 0 {
		return fmt.Errorf("tail segment is %v, want 0", segs[n-1])
	}
	if sum := floats.Sum(segs); math.Abs(sum-t.total) > 1e-6*math.Max(1, sum) {
		return fmt.Errorf("total length %v does not match segment sum %v", t.total, sum)
	}
	if markers != t.markers {
		return fmt.Errorf("marker count %d does not match %d marked points", t.markers, markers)
	}
	return nil
}

func (t *Trail) resolved() {
	if t.OnMarkerResolved != nil {
		t.OnMarkerResolved()
	}
}

func (t *Trail) tolerance() float64 {
	return 1e-9 * math.Max(1, t.total)
}

func unit(v r2.Vec) r2.Vec {
	n := r2.Norm(v)
	if n < 1e-12 {
		return r2.Vec{}
	}
	return r2.Scale(1/n, v)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
