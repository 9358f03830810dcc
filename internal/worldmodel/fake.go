package worldmodel

import (
	"context"
	"sync"
)

// FakeCharacter is an in-memory Character used by unit tests across the
// activity and agentrt packages. It is intentionally simple: callers poke
// its exported fields directly between ticks to script simulation
// behavior (mirroring how the teacher's mock_discovery.go drives tests).
type FakeCharacter struct {
	mu sync.Mutex

	Pos        Position
	IsValid    bool
	Reach      float64
	ResReach   float64
	Half       float64
	TeamName   string

	WalkingOn  bool
	Direction  int
	ChartCalls int

	paths      map[PathRequest][]Position
	pathReady  map[PathRequest]bool
	nextPathID int

	Inventory map[string]int

	MiningProgressValue float64
	MiningOn            bool
	MiningPos           *Position
	SelectedOK          bool

	CraftQueueSize     int
	CraftQueueProgress float64
	MiningSpeed        float64
	CraftSpeed         float64
}

// NewFakeCharacter builds a ready-to-use fake at the given position.
func NewFakeCharacter(pos Position) *FakeCharacter {
	return &FakeCharacter{
		Pos:        pos,
		IsValid:    true,
		Reach:      3.0,
		ResReach:   2.7,
		Half:       0.5,
		TeamName:   "player",
		paths:      make(map[PathRequest][]Position),
		pathReady:  make(map[PathRequest]bool),
		Inventory:  make(map[string]int),
		SelectedOK: true,
		MiningSpeed: 1.0,
		CraftSpeed:  1.0,
	}
}

func (f *FakeCharacter) Position(ctx context.Context) (Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Pos, nil
}

func (f *FakeCharacter) Valid(ctx context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.IsValid, nil
}

func (f *FakeCharacter) ReachDistance() float64         { return f.Reach }
func (f *FakeCharacter) ResourceReachDistance() float64 { return f.ResReach }
func (f *FakeCharacter) HalfSize() float64              { return f.Half }
func (f *FakeCharacter) Team() string                   { return f.TeamName }

func (f *FakeCharacter) SetWalkingState(ctx context.Context, walking bool, direction int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.WalkingOn = walking
	f.Direction = direction
	return nil
}

func (f *FakeCharacter) ChartView(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ChartCalls++
	return nil
}

func (f *FakeCharacter) RequestPath(ctx context.Context, from, to Position) (PathRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextPathID++
	id := PathRequest("path-" + itoa(f.nextPathID))
	f.pathReady[id] = false
	return id, nil
}

// ResolvePath is a test hook: script the waypoints a pending request
// resolves to, marking it ready for the next PollPath call.
func (f *FakeCharacter) ResolvePath(req PathRequest, waypoints []Position) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths[req] = waypoints
	f.pathReady[req] = true
}

func (f *FakeCharacter) PollPath(ctx context.Context, req PathRequest) ([]Position, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.pathReady[req] {
		return nil, false, nil
	}
	return f.paths[req], true, nil
}

func (f *FakeCharacter) InventoryCount(ctx context.Context, item string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Inventory[item], nil
}

func (f *FakeCharacter) InventorySnapshot(ctx context.Context, items []string) (map[string]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]int, len(items))
	for _, it := range items {
		out[it] = f.Inventory[it]
	}
	return out, nil
}

func (f *FakeCharacter) AddInventory(ctx context.Context, item string, count int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Inventory[item] += count
	return nil
}

func (f *FakeCharacter) RemoveInventory(ctx context.Context, item string, count int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	have := f.Inventory[item]
	if have < count {
		count = have
	}
	f.Inventory[item] -= count
	return count, nil
}

func (f *FakeCharacter) MiningProgress(ctx context.Context) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.MiningProgressValue, nil
}

func (f *FakeCharacter) SetMiningState(ctx context.Context, mining bool, pos *Position) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.MiningOn = mining
	f.MiningPos = pos
	return nil
}

func (f *FakeCharacter) UpdateSelectedEntity(ctx context.Context, pos *Position) error {
	return nil
}

func (f *FakeCharacter) SelectedValid(ctx context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.SelectedOK, nil
}

func (f *FakeCharacter) CraftingQueueSize(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.CraftQueueSize, nil
}

func (f *FakeCharacter) CraftingQueueProgress(ctx context.Context) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.CraftQueueProgress, nil
}

func (f *FakeCharacter) CraftBegin(ctx context.Context, recipe string, count int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CraftQueueSize += count
	return count, nil
}

func (f *FakeCharacter) CraftCancel(ctx context.Context, recipe string, count int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if count > f.CraftQueueSize {
		count = f.CraftQueueSize
	}
	f.CraftQueueSize -= count
	return count, nil
}

func (f *FakeCharacter) EffectiveMiningSpeed(ctx context.Context) (float64, error) {
	return f.MiningSpeed, nil
}

func (f *FakeCharacter) CraftingSpeed(ctx context.Context) (float64, error) {
	return f.CraftSpeed, nil
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
