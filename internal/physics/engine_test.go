package physics

import (
	"math"
	"testing"
	"time"

	"github.com/coinmerge/coinmerge/internal/coins"
)

func stepFor(e *Engine, seconds float64) (merges []MergeEvent, gameOvers int) {
	steps := int(math.Ceil(seconds / StepDT))
	for i := 0; i < steps; i++ {
		r := e.Step()
		merges = append(merges, r.Merges...)
		if r.GameOver {
			gameOvers++
		}
	}
	return merges, gameOvers
}

func TestAddCoinClampsX(t *testing.T) {
	e := New(Config{Width: 400, Height: 600, DangerLine: 100})
	e.AddCoin(-50, 1)
	e.AddCoin(1000, 3)
	e.AddCoin(math.NaN(), 2)

	bodies := e.Bodies()
	if len(bodies) != 3 {
		t.Fatalf("expected 3 bodies, got %d", len(bodies))
	}
	if bodies[0].X != coins.Radius(1) {
		t.Errorf("left clamp: got %.1f", bodies[0].X)
	}
	if bodies[1].X != 400-coins.Radius(3) {
		t.Errorf("right clamp: got %.1f", bodies[1].X)
	}
	if bodies[2].X != 200 {
		t.Errorf("NaN should centre, got %.1f", bodies[2].X)
	}
	for _, b := range bodies {
		if b.Y != b.Radius {
			t.Errorf("body %d should enter at the top, y=%.1f", b.ID, b.Y)
		}
	}
}

func TestAddCoinIgnoresUnknownLevel(t *testing.T) {
	e := New(Config{})
	e.AddCoin(100, 0)
	e.AddCoin(100, coins.MaxLevel+1)
	if n := len(e.Bodies()); n != 0 {
		t.Errorf("expected no bodies, got %d", n)
	}
}

func TestEqualLevelCollisionMergesOnce(t *testing.T) {
	e := New(Config{Width: 400, Height: 600, DangerLine: 100})
	a := e.spawn(100, 500, 2)
	b := e.spawn(100+2*coins.Radius(2)-6, 500, 2)

	r := e.Step()
	if len(r.Merges) != 1 {
		t.Fatalf("expected exactly one merge, got %d", len(r.Merges))
	}
	m := r.Merges[0]
	if m.FromLevel != 2 || m.ToLevel != 3 {
		t.Errorf("unexpected transition %d -> %d", m.FromLevel, m.ToLevel)
	}
	if m.Removed != [2]int{a.ID, b.ID} {
		t.Errorf("unexpected removed ids %v", m.Removed)
	}

	bodies := e.Bodies()
	if len(bodies) != 1 {
		t.Fatalf("expected one body after merge, got %d", len(bodies))
	}
	if bodies[0].Level != 3 || bodies[0].ID != m.Created {
		t.Errorf("unexpected merged body %+v", bodies[0])
	}
	if bodies[0].Radius != coins.Radius(3) {
		t.Errorf("radius must follow level, got %.1f", bodies[0].Radius)
	}
	if math.Abs(m.X-(a.X+b.X)/2) > 1 {
		t.Errorf("merge should happen near the midpoint, got x=%.1f", m.X)
	}
}

func TestDifferentLevelsDoNotMerge(t *testing.T) {
	e := New(Config{})
	e.spawn(100, 500, 1)
	e.spawn(120, 500, 2)

	merges, _ := stepFor(e, 1)
	if len(merges) != 0 {
		t.Errorf("expected no merges, got %d", len(merges))
	}
	if len(e.Bodies()) != 2 {
		t.Errorf("bodies should survive")
	}
}

func TestChainedMergesResolveOnePerStep(t *testing.T) {
	e := New(Config{})
	// Two overlapping level-1 coins in mid-air with a level-2 coin just below
	// their midpoint. The first merge creates a level-2 body overlapping it.
	e.spawn(100, 300, 1)
	e.spawn(126, 300, 1)
	e.spawn(113, 338, 2)

	r := e.Step()
	if len(r.Merges) != 1 || r.Merges[0].ToLevel != 2 {
		t.Fatalf("first step: expected one 1->2 merge, got %+v", r.Merges)
	}
	if n := len(e.Bodies()); n != 2 {
		t.Fatalf("expected 2 bodies after first merge, got %d", n)
	}

	r = e.Step()
	if len(r.Merges) != 1 || r.Merges[0].ToLevel != 3 {
		t.Fatalf("second step: expected one 2->3 merge, got %+v", r.Merges)
	}
	bodies := e.Bodies()
	if len(bodies) != 1 || bodies[0].Level != 3 {
		t.Errorf("expected a single level-3 body, got %+v", bodies)
	}
}

func TestWallContactNeverMerges(t *testing.T) {
	e := New(Config{Width: 400, Height: 600, DangerLine: 100})
	// Tag the walls with a coin level; the Kind tag must still exclude them.
	for _, w := range e.walls {
		w.Level = 1
	}
	e.spawn(coins.Radius(1)-2, 600-coins.Radius(1)+2, 1)

	merges, _ := stepFor(e, 2)
	if len(merges) != 0 {
		t.Fatalf("wall contact produced %d merges", len(merges))
	}
	b := e.Bodies()[0]
	if b.Y > 600-b.Radius+0.5 || b.X < b.Radius-0.5 {
		t.Errorf("body escaped walls: %+v", b)
	}
}

func TestTopLevelCoinsDoNotMerge(t *testing.T) {
	e := New(Config{})
	r := coins.Radius(coins.MaxLevel)
	e.spawn(r, 600-r, coins.MaxLevel)
	e.spawn(3*r-10, 600-r, coins.MaxLevel)
	merges, _ := stepFor(e, 0.5)
	if len(merges) != 0 {
		t.Errorf("top level merged %d times", len(merges))
	}
}

func TestGameOverFiresOnce(t *testing.T) {
	// Danger line below the resting height of a single coin.
	e := New(Config{Width: 200, Height: 200, DangerLine: 190})
	e.AddCoin(100, 1)

	_, overs := stepFor(e, 5)
	if overs != 1 {
		t.Fatalf("expected game over exactly once, got %d", overs)
	}
	if !e.GameOver() {
		t.Fatal("engine should report game over")
	}

	before := e.Bodies()
	e.AddCoin(50, 1)
	if len(e.Bodies()) != len(before) {
		t.Error("AddCoin after game over must be ignored")
	}
	if r := e.Step(); r.GameOver || len(r.Merges) != 0 {
		t.Error("Step after game over must be a no-op")
	}
	if r := e.Update(time.Second); r.GameOver {
		t.Error("Update after game over must be a no-op")
	}
}

func TestNoGameOverWhileSettling(t *testing.T) {
	e := New(Config{Width: 400, Height: 600, DangerLine: 100})
	e.AddCoin(200, 1)
	if _, overs := stepFor(e, SettleTime/2); overs != 0 {
		t.Error("a freshly dropped coin must not end the game")
	}
	if _, overs := stepFor(e, 5); overs != 0 {
		t.Error("a coin resting on the floor is below the danger line")
	}
}

func TestUpdateUsesFixedSteps(t *testing.T) {
	e := New(Config{})
	e.Update(StepDuration / 2)
	if e.Now() != 0 {
		t.Errorf("half a step should not advance, now=%f", e.Now())
	}
	e.Update(StepDuration / 2)
	if math.Abs(e.Now()-StepDT) > 1e-9 {
		t.Errorf("expected one step, now=%f", e.Now())
	}
	e.Update(time.Second)
	if got := e.Now(); got > StepDT*(1+MaxSubsteps)+1e-9 {
		t.Errorf("update should cap substeps, now=%f", got)
	}
}

func TestDestroyIsIdempotent(t *testing.T) {
	e := New(Config{})
	e.AddCoin(100, 1)
	e.Destroy()
	e.Destroy()

	if !e.Destroyed() {
		t.Fatal("expected destroyed")
	}
	if len(e.Bodies()) != 0 {
		t.Error("bodies should be released")
	}
	e.AddCoin(100, 1)
	if r := e.Step(); len(r.Merges) != 0 || r.GameOver || len(e.Bodies()) != 0 {
		t.Error("engine must stay inert after Destroy")
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	a := New(Config{})
	b := New(Config{})
	a.spawn(100, 500, 1)
	a.spawn(120, 500, 1)
	b.spawn(100, 500, 1)
	b.spawn(120, 500, 1)

	a.Destroy()
	r := b.Step()
	if len(r.Merges) != 1 {
		t.Errorf("second engine affected by first: %d merges", len(r.Merges))
	}
	if len(b.Bodies()) != 1 {
		t.Errorf("second engine lost bodies")
	}
}

func TestDeterministicReplay(t *testing.T) {
	run := func() []Body {
		e := New(Config{})
		drops := []struct {
			x     float64
			level int
		}{{120, 1}, {130, 1}, {260, 2}, {250, 2}, {200, 3}}
		for _, d := range drops {
			e.AddCoin(d.x, d.level)
			stepFor(e, 0.5)
		}
		return e.Bodies()
	}
	first, second := run(), run()
	if len(first) != len(second) {
		t.Fatalf("body count differs: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("body %d differs: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestStackedCoinsComeToRest(t *testing.T) {
	e := New(Config{})
	// A vertical 1/3/1/3 column, each coin touching the one below.
	y := float64(DefaultHeight)
	for _, level := range []int{1, 3, 1, 3} {
		r := coins.Radius(level)
		y -= r
		e.spawn(200, y, level)
		y -= r
	}

	merges, overs := stepFor(e, 5)
	if len(merges) != 0 || overs != 0 {
		t.Fatalf("column should stand still: merges=%d overs=%d", len(merges), overs)
	}
	for _, b := range e.Bodies() {
		if !b.Resting() {
			t.Errorf("level %d coin at y=%.1f not resting (speed %.1f)", b.Level, b.Y, b.Speed())
		}
	}
}

func TestSettledStackAboveDangerLineEndsGame(t *testing.T) {
	e := New(Config{})
	// Four crowns stacked from the floor; the top one sits above the danger line.
	r := coins.Radius(coins.MaxLevel)
	for i := 0; i < 4; i++ {
		e.spawn(200, DefaultHeight-r-float64(i)*2*r, coins.MaxLevel)
	}

	if _, overs := stepFor(e, SettleTime*0.9); overs != 0 {
		t.Fatal("game over before the coins settled")
	}
	_, overs := stepFor(e, 5)
	if overs != 1 || !e.GameOver() {
		t.Fatalf("expected game over exactly once, got %d", overs)
	}
}

func TestDroppedPileReachesDangerLine(t *testing.T) {
	e := New(Config{})
	overs, drops := 0, 0
	// Crowns never merge; two columns against the walls grow until one reaches the line.
	for drops < 20 && !e.GameOver() {
		x := 0.0
		if drops%2 == 1 {
			x = DefaultWidth
		}
		e.AddCoin(x, coins.MaxLevel)
		drops++
		_, n := stepFor(e, 1.5)
		overs += n
	}
	if !e.GameOver() || overs != 1 {
		t.Fatalf("expected one game over, got %d after %d drops", overs, drops)
	}
	if drops < 5 {
		t.Errorf("game ended after only %d drops", drops)
	}
	above := false
	for _, b := range e.Bodies() {
		if b.Y < DefaultDangerLine && e.Now()-b.CreatedAt >= SettleTime {
			above = true
		}
	}
	if !above {
		t.Error("no settled coin above the danger line at game over")
	}
	_, n := stepFor(e, 2)
	if n != 0 {
		t.Error("game over fired again")
	}
}

func TestCoinAtApexIsNotResting(t *testing.T) {
	e := New(Config{})
	b := e.spawn(200, 300, 1)
	// Thrown upward so it stops for an instant mid-air.
	b.VY = -Gravity * 0.5
	for i := 0; i < 60; i++ {
		e.Step()
		if e.Bodies()[0].Resting() {
			t.Fatalf("airborne coin reported resting at step %d", i)
		}
	}
}
