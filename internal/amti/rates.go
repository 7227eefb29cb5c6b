package amti

import "fmt"

// SamplingRates lists every acquisition rate (Hz) the platform supports.
var SamplingRates = []int{
	2000, 1800, 1500, 1200, 1000, 900, 800, 600, 500, 450, 400, 360, 300,
	250, 240, 225, 200, 180, 150, 125, 120, 100, 90, 80, 75, 60, 50, 45,
	40, 30, 25, 20, 15, 10,
}

// driftCautionRate is the rate above which the SDK documentation warns
// of considerable drift without an external trigger (genlock).
const driftCautionRate = 1000

// ValidRate reports whether hz is a supported acquisition rate.
func ValidRate(hz int) bool {
	for _, r := range SamplingRates {
		if r == hz {
			return true
		}
	}
	return false
}

// CheckRate returns ErrUnsupportedRate for rates outside SamplingRates
// and reports whether a supported rate deserves a drift caution.
func CheckRate(hz int) (caution bool, err error) {
	if !ValidRate(hz) {
		return false, fmt.Errorf("%w: %d Hz", ErrUnsupportedRate, hz)
	}
	return hz > driftCautionRate, nil
}
