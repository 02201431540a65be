package numeric

import "fmt"

// Percentage is a finite, non-negative percentage value with no upper bound
// (used for take-profit/stop-loss distances, which may legitimately exceed
// 100%).
type Percentage struct {
	v float64
}

// NewPercentage validates v as finite and >= 0.
func NewPercentage(v float64) (Percentage, error) {
	if !isFiniteFloat(v) {
		return Percentage{}, fmt.Errorf("percentage %v: not finite", v)
	}
	if v < 0 {
		return Percentage{}, fmt.Errorf("percentage %v: negative", v)
	}
	return Percentage{v: v}, nil
}

// Float64 returns the underlying value.
func (p Percentage) Float64() float64 { return p.v }

func (p Percentage) String() string { return fmt.Sprintf("%.4f%%", p.v) }

// PercentageCapped is a Percentage additionally bounded to [0, 100].
type PercentageCapped struct {
	v float64
}

const (
	PercentageCappedMin = 0.0
	PercentageCappedMax = 100.0
)

// NewPercentageCapped validates v as finite and in [0, 100].
func NewPercentageCapped(v float64) (PercentageCapped, error) {
	if !isFiniteFloat(v) {
		return PercentageCapped{}, fmt.Errorf("percentage %v: not finite", v)
	}
	if v < PercentageCappedMin || v > PercentageCappedMax {
		return PercentageCapped{}, fmt.Errorf("percentage %v: out of [%v, %v]", v, PercentageCappedMin, PercentageCappedMax)
	}
	return PercentageCapped{v: v}, nil
}

// BoundedPercentageCapped clamps v into [0, 100], treating NaN as 0.
func BoundedPercentageCapped(v float64) PercentageCapped {
	if !isFiniteFloat(v) {
		return PercentageCapped{v: 0}
	}
	if v < PercentageCappedMin {
		v = PercentageCappedMin
	}
	if v > PercentageCappedMax {
		v = PercentageCappedMax
	}
	return PercentageCapped{v: v}
}

func (p PercentageCapped) Value() float64 { return p.v }
func (p PercentageCapped) String() string { return fmt.Sprintf("%.2f%%", p.v) }
