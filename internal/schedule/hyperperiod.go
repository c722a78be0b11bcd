package schedule

import "github.com/periperidip/rtsched/pkg/types"

// Hyperperiod returns the least common multiple of the periods.
func Hyperperiod(periods ...types.Ticks) (types.Ticks, error) {
	if len(periods) == 0 {
		return 0, ErrZeroHyperperiod
	}
	h := types.Ticks(1)
	for i, p := range periods {
		if p == 0 {
			return 0, &PeriodZeroError{I: i}
		}
		h = h / gcd(h, p) * p
	}
	return h, nil
}

func gcd(a, b types.Ticks) types.Ticks {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
