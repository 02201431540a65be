package numeric

import "fmt"

// Leverage is a validated, finite leverage multiplier in [LeverageMin, LeverageMax].
type Leverage struct {
	v float64
}

const (
	LeverageMin = 1.0
	LeverageMax = 100.0
)

// NewLeverage validates v as finite and in [1, 100].
func NewLeverage(v float64) (Leverage, error) {
	if !isFiniteFloat(v) {
		return Leverage{}, fmt.Errorf("leverage %v: not finite", v)
	}
	if v < LeverageMin || v > LeverageMax {
		return Leverage{}, fmt.Errorf("leverage %v: out of [%v, %v]", v, LeverageMin, LeverageMax)
	}
	return Leverage{v: v}, nil
}

// BoundedLeverage clamps v into [1, 100], treating non-finite input as LeverageMin.
func BoundedLeverage(v float64) Leverage {
	if !isFiniteFloat(v) {
		return Leverage{v: LeverageMin}
	}
	if v < LeverageMin {
		v = LeverageMin
	}
	if v > LeverageMax {
		v = LeverageMax
	}
	return Leverage{v: v}
}

func (l Leverage) Float64() float64 { return l.v }
func (l Leverage) String() string   { return fmt.Sprintf("%.2fx", l.v) }
