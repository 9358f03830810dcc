// Package activity implements the per-agent state machines from spec.md
// §4.2–§4.4: walking, mining, and crafting. Each is a tick-driven record,
// not a goroutine — a state machine suspends by returning from its start
// method with a record installed, and is resumed on the next call to its
// Process method (spec.md §5 "Suspension points").
package activity

import (
	"context"
	"fmt"
	"math"

	agcore "github.com/hrshtt/factorio-agent-runtime/internal/core"
	"github.com/hrshtt/factorio-agent-runtime/internal/notify"
	"github.com/hrshtt/factorio-agent-runtime/internal/worldmodel"
)

// Direction is one of the 8 cardinal/diagonal walking directions asserted
// on character.walking_state (spec.md §4.2 step 4).
type Direction int

const (
	DirNorth Direction = iota
	DirNorthEast
	DirEast
	DirSouthEast
	DirSouth
	DirSouthWest
	DirWest
	DirNorthWest
)

// bearingToDirection maps an atan2 bearing (radians) to one of the 8
// directions, matching the angle convention used by RequestPath callers:
// bearing = atan2(w.y - p.y, -(w.x - p.x)).
func bearingToDirection(bearing float64) Direction {
	const segment = math.Pi / 4
	// Normalize to [0, 2pi), offset by half a segment so each octant is
	// centered on its cardinal/diagonal angle.
	norm := math.Mod(bearing+2*math.Pi, 2*math.Pi)
	idx := int(math.Floor((norm+segment/2)/segment)) % 8
	switch idx {
	case 0:
		return DirEast
	case 1:
		return DirNorthEast
	case 2:
		return DirNorth
	case 3:
		return DirNorthWest
	case 4:
		return DirWest
	case 5:
		return DirSouthWest
	case 6:
		return DirSouth
	default:
		return DirSouthEast
	}
}

// WalkParams are the validated parameters of a walk_to request.
type WalkParams struct {
	Target       worldmodel.Position
	GoalEntity   *worldmodel.Position // nil if walking to a bare point
	TargetRadius float64
	StrictGoal   bool
}

// Walking is one agent's in-flight walking activity record (spec.md §4.2).
type Walking struct {
	actionID  string
	agentID   int64
	startTick int64

	character worldmodel.Character

	originalGoal worldmodel.Position
	goalEntity   *worldmodel.Position
	reachDist    float64

	pathReq  worldmodel.PathRequest
	path     []worldmodel.Position
	progress int
	pathSet  bool

	lastDistance    float64
	haveLastDist    bool
	cancelled       bool
}

// StartWalking installs a new walking record and issues the pathfinder
// request. If entities occupy the goal, the perimeter goal adjustment
// (spec.md §4.2 "Perimeter goal adjustment") replaces the pathfinding goal
// while the original goal and goal entity are retained for completion
// judging.
func StartWalking(ctx context.Context, actionID string, agentID, tick int64, character worldmodel.Character, p WalkParams) (*Walking, error) {
	from, err := character.Position(ctx)
	if err != nil {
		return nil, fmt.Errorf("activity: walking start position: %w", err)
	}

	pathGoal := p.Target
	if p.GoalEntity != nil && p.TargetRadius > 0 {
		if p.StrictGoal {
			return nil, agcore.NewRuntimeError("walk_to", "EntityAtGoal", agcore.ErrEntityAtGoal)
		}
		dx, dy := p.Target.X-from.X, p.Target.Y-from.Y
		dist := math.Sqrt(dx*dx + dy*dy)
		if dist < 1e-9 {
			dist = 1e-9
		}
		ux, uy := dx/dist, dy/dist
		offset := p.TargetRadius + character.HalfSize() + 0.5
		pathGoal = worldmodel.Position{X: p.Target.X + ux*offset, Y: p.Target.Y + uy*offset}
	}

	req, err := character.RequestPath(ctx, from, pathGoal)
	if err != nil {
		return nil, fmt.Errorf("activity: request path: %w", err)
	}

	w := &Walking{
		actionID:     actionID,
		agentID:      agentID,
		startTick:    tick,
		character:    character,
		originalGoal: p.Target,
		goalEntity:   p.GoalEntity,
		reachDist:    character.ReachDistance(),
		pathReq:      req,
	}
	return w, nil
}

// Outcome describes how a state machine run terminated this tick, if at
// all. Done=false means the record is still in progress.
type Outcome struct {
	Done    bool
	Status  notify.Status
	Success bool
	Result  map[string]any
}

// Process advances the walking record by one tick (spec.md §4.2
// "Following"). It is invoked from Runtime.Tick in agent_id order, before
// process_mining and process_crafting for the same agent.
func (w *Walking) Process(ctx context.Context, tick int64) (Outcome, error) {
	if w.cancelled {
		return Outcome{}, nil
	}

	if !w.pathSet {
		waypoints, ready, err := w.character.PollPath(ctx, w.pathReq)
		if err != nil {
			return Outcome{}, fmt.Errorf("activity: poll path: %w", err)
		}
		if !ready {
			return Outcome{}, nil
		}
		w.pathSet = true
		w.path = waypoints
		if len(waypoints) == 0 {
			return w.finish(ctx, false, "PathUnreachable", map[string]any{"reason": "PathUnreachable"})
		}
	}

	p, err := w.character.Position(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("activity: walking position: %w", err)
	}

	if w.progress < len(w.path) {
		wp := w.path[w.progress]
		dx, dy := wp.X-p.X, wp.Y-p.Y
		if dx*dx+dy*dy < 0.0625 {
			w.progress++
		}
	}

	if w.progress >= len(w.path) {
		return w.testCompletion(ctx, p, tick)
	}

	wp := w.path[w.progress]
	bearing := math.Atan2(wp.Y-p.Y, -(wp.X - p.X))
	dir := bearingToDirection(bearing)
	if err := w.character.SetWalkingState(ctx, true, int(dir)); err != nil {
		return Outcome{}, fmt.Errorf("activity: set walking state: %w", err)
	}
	if err := w.character.ChartView(ctx); err != nil {
		return Outcome{}, fmt.Errorf("activity: chart view: %w", err)
	}
	return Outcome{}, nil
}

// testCompletion implements spec.md §4.2 "Completion test".
func (w *Walking) testCompletion(ctx context.Context, p worldmodel.Position, tick int64) (Outcome, error) {
	if w.goalEntity == nil {
		return w.finish(ctx, true, "", map[string]any{"final_position": p, "goal": w.originalGoal})
	}

	ge := *w.goalEntity
	dx, dy := ge.X-p.X, ge.Y-p.Y
	d := math.Sqrt(dx*dx + dy*dy)

	if d <= w.reachDist {
		return w.finish(ctx, true, "", map[string]any{"final_position": p, "goal": w.originalGoal})
	}

	if w.haveLastDist && d >= w.lastDistance && d <= 2*w.reachDist {
		// Anti-stuck safety: not decreasing, but close enough.
		return w.finish(ctx, true, "", map[string]any{"final_position": p, "goal": w.originalGoal})
	}

	if !w.haveLastDist || d < w.lastDistance {
		w.lastDistance = d
		w.haveLastDist = true
		if w.progress > 0 {
			w.progress--
		}
		return Outcome{}, nil
	}

	// Neither decreasing nor within anti-stuck range: force-complete to
	// avoid an infinite loop (spec.md §4.2).
	return w.finish(ctx, true, "", map[string]any{"final_position": p, "goal": w.originalGoal, "reason": "PathStuck"})
}

func (w *Walking) finish(ctx context.Context, success bool, errKind string, result map[string]any) (Outcome, error) {
	_ = w.character.SetWalkingState(ctx, false, 0)
	status := notify.StatusCompleted
	if !success {
		status = notify.StatusFailed
		if result == nil {
			result = map[string]any{}
		}
		result["error"] = errKind
	}
	return Outcome{Done: true, Status: status, Success: success, Result: result}, nil
}

// Stop implements stop_walking (spec.md §4.2 "Cancellation"): the record is
// cleared and the completion message suppressed, since cancellation yields
// a synchronous result rather than an async completion.
func (w *Walking) Stop(ctx context.Context) error {
	if w.cancelled {
		return nil
	}
	w.cancelled = true
	return w.character.SetWalkingState(ctx, false, 0)
}

// ActionID returns the identifier this record was started with.
func (w *Walking) ActionID() string { return w.actionID }
