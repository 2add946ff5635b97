package clientdata

const (
	lcgMultiplier = 1664525
	lcgIncrement  = 1013904223
)

// LCG is the 32-bit linear congruential generator
// seed = (1664525*seed + 1013904223) mod 2^32.
type LCG struct {
	state uint32
}

func NewLCG(seed uint32) *LCG {
	return &LCG{state: seed}
}

// Next advances the generator and returns the new state.
func (g *LCG) Next() uint32 {
	g.state = lcgMultiplier*g.state + lcgIncrement
	return g.state
}
