package gameloop

import (
	"fmt"
	"math/rand/v2"
)

// DefaultWeights is the drop distribution for levels 1, 2 and 3.
var DefaultWeights = []float64{0.6, 0.3, 0.1}

// Roller picks the level of the next coin to drop. Index i of the weight
// table is the relative chance of level i+1.
type Roller struct {
	weights []float64
	total   float64
	float   func() float64
}

// NewRoller builds a roller over weights using float as its uniform [0,1)
// source. A nil source uses the global generator.
func NewRoller(weights []float64, float func() float64) (*Roller, error) {
	if len(weights) == 0 {
		weights = DefaultWeights
	}
	var total float64
	for i, w := range weights {
		if w < 0 {
			return nil, fmt.Errorf("gameloop: negative weight %v for level %d", w, i+1)
		}
		total += w
	}
	if total <= 0 {
		return nil, fmt.Errorf("gameloop: drop weights sum to zero")
	}
	if float == nil {
		float = rand.Float64
	}
	ws := make([]float64, len(weights))
	copy(ws, weights)
	return &Roller{weights: ws, total: total, float: float}, nil
}

// Seeded returns a deterministic roller over the default weights.
func Seeded(seed uint64) *Roller {
	src := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	r, _ := NewRoller(DefaultWeights, src.Float64)
	return r
}

// Next returns a level in 1..len(weights).
func (r *Roller) Next() int {
	u := r.float() * r.total
	var acc float64
	for i, w := range r.weights {
		acc += w
		if u < acc {
			return i + 1
		}
	}
	return len(r.weights)
}

// MaxLevel is the highest level the roller can return.
func (r *Roller) MaxLevel() int { return len(r.weights) }
