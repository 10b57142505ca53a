package gameloop

import (
	"math"
	"strings"

	"github.com/coinmerge/coinmerge/internal/coins"
	"github.com/coinmerge/coinmerge/internal/physics"
)

// Renderer draws one frame. Implementations receive value copies and cannot
// reach back into the simulation.
type Renderer interface {
	Clear()
	DrawField(field physics.Config)
	DrawGuide(x float64, next coins.Coin)
	DrawBody(b physics.Body, coin coins.Coin)
}

// NopRenderer discards every frame.
type NopRenderer struct{}

func (NopRenderer) Clear()                            {}
func (NopRenderer) DrawField(physics.Config)          {}
func (NopRenderer) DrawGuide(float64, coins.Coin)     {}
func (NopRenderer) DrawBody(physics.Body, coins.Coin) {}

// TextRenderer rasterizes frames into a character grid for terminals and logs.
// Bodies are drawn with the first letter of their coin name, or the level
// digit when the name is missing.
type TextRenderer struct {
	Cols, Rows int

	field physics.Config
	grid  [][]byte
}

// NewTextRenderer creates a renderer with a cols×rows grid.
func NewTextRenderer(cols, rows int) *TextRenderer {
	if cols <= 0 {
		cols = 40
	}
	if rows <= 0 {
		rows = 30
	}
	return &TextRenderer{Cols: cols, Rows: rows}
}

func (t *TextRenderer) Clear() {
	t.grid = make([][]byte, t.Rows)
	for i := range t.grid {
		t.grid[i] = []byte(strings.Repeat(" ", t.Cols))
	}
}

func (t *TextRenderer) DrawField(field physics.Config) {
	t.field = field
	row := t.row(field.DangerLine)
	if row < 0 {
		return
	}
	for c := range t.grid[row] {
		t.grid[row][c] = '-'
	}
}

func (t *TextRenderer) DrawGuide(x float64, next coins.Coin) {
	if col := t.col(x); col >= 0 && len(t.grid) > 0 {
		t.grid[0][col] = 'v'
	}
}

func (t *TextRenderer) DrawBody(b physics.Body, coin coins.Coin) {
	row, col := t.row(b.Y), t.col(b.X)
	if row < 0 || col < 0 {
		return
	}
	glyph := byte('0' + b.Level%10)
	if coin.Name != "" {
		glyph = coin.Name[0]
	}
	t.grid[row][col] = glyph
}

func (t *TextRenderer) row(y float64) int {
	if t.field.Height <= 0 || len(t.grid) == 0 {
		return -1
	}
	r := int(math.Floor(y / t.field.Height * float64(t.Rows)))
	if r < 0 || r >= t.Rows {
		return -1
	}
	return r
}

func (t *TextRenderer) col(x float64) int {
	if t.field.Width <= 0 || len(t.grid) == 0 {
		return -1
	}
	c := int(math.Floor(x / t.field.Width * float64(t.Cols)))
	if c < 0 || c >= t.Cols {
		return -1
	}
	return c
}

// String returns the last drawn frame framed by side walls and the floor.
func (t *TextRenderer) String() string {
	var sb strings.Builder
	for _, line := range t.grid {
		sb.WriteByte('|')
		sb.Write(line)
		sb.WriteString("|\n")
	}
	sb.WriteByte('+')
	sb.WriteString(strings.Repeat("=", t.Cols))
	sb.WriteString("+\n")
	return sb.String()
}
