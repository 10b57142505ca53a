package physics

import "math"

// contact is one overlapping pair found by detect. For wall contacts b is the wall.
type contact struct {
	a, b  *Body
	nx    float64 // normal from a towards b (for walls: into the field)
	ny    float64
	depth float64
}

// mergeable is true only for two coins of the same level below the top of the ladder.
// Walls carry KindWall and never qualify, whatever their Level field holds.
func (c *contact) mergeable() bool {
	if c.a.Kind != KindCoin || c.b.Kind != KindCoin {
		return false
	}
	return c.a.Level == c.b.Level && c.a.Level < maxMergeLevel
}

func (e *Engine) detect() []contact {
	var out []contact
	for i, a := range e.bodies {
		for _, w := range e.walls {
			d := w.nx*a.X + w.ny*a.Y + w.c
			if pen := a.Radius - d; pen > 0 {
				out = append(out, contact{a: a, b: w, nx: w.nx, ny: w.ny, depth: pen})
			}
		}
		for _, b := range e.bodies[i+1:] {
			dx := b.X - a.X
			dy := b.Y - a.Y
			rs := a.Radius + b.Radius
			d2 := dx*dx + dy*dy
			if d2 >= rs*rs {
				continue
			}
			d := math.Sqrt(d2)
			nx, ny := 0.0, 1.0
			if d > 1e-9 {
				nx, ny = dx/d, dy/d
			}
			out = append(out, contact{a: a, b: b, nx: nx, ny: ny, depth: rs - d})
		}
	}
	return out
}

func (c *contact) resolve() {
	if c.b.Kind == KindWall {
		c.resolveWall()
		return
	}
	a, b := c.a, c.b
	ia := 1 / mass(a)
	ib := 1 / mass(b)
	sum := ia + ib

	// Positional correction, split by inverse mass.
	corr := c.depth / sum
	a.X -= c.nx * corr * ia
	a.Y -= c.ny * corr * ia
	b.X += c.nx * corr * ib
	b.Y += c.ny * corr * ib
	c.depth = 0

	vn := (b.VX-a.VX)*c.nx + (b.VY-a.VY)*c.ny
	if vn >= 0 {
		return
	}
	e := Restitution
	if -vn < BounceThreshold {
		e = 0
	}
	j := -(1 + e) * vn / sum
	a.VX -= j * ia * c.nx
	a.VY -= j * ia * c.ny
	b.VX += j * ib * c.nx
	b.VY += j * ib * c.ny
}

func (c *contact) resolveWall() {
	a := c.a
	a.X += c.nx * c.depth
	a.Y += c.ny * c.depth
	c.depth = 0

	vn := a.VX*c.nx + a.VY*c.ny
	if vn >= 0 {
		return
	}
	e := Restitution
	if -vn < BounceThreshold {
		e = 0
	}
	a.VX -= (1 + e) * vn * c.nx
	a.VY -= (1 + e) * vn * c.ny

	// Tangential friction.
	tx, ty := -c.ny, c.nx
	vt := a.VX*tx + a.VY*ty
	a.VX -= vt * WallFriction * tx
	a.VY -= vt * WallFriction * ty
}

func mass(b *Body) float64 {
	return b.Radius * b.Radius
}
