// Package dewpoint computes dew points with the Magnus-Tetens approximation.
package dewpoint

import (
	"errors"
	"math"
)

// Magnus-Tetens coefficients, valid for roughly -45°C to 60°C.
const (
	A = 17.27
	B = 237.7
)

// ErrDomain is returned when the inputs fall outside the formula's domain
var ErrDomain = errors.New("dew point undefined for input")

func alpha(tempC, humidity float64) float64 {
	return (A*tempC)/(B+tempC) + math.Log(humidity/100)
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// DewPoint returns the dew point in °C for a temperature in °C and a
// relative humidity in percent.
func DewPoint(tempC, humidity float64) (float64, error) {
	if !finite(tempC, humidity) || humidity <= 0 {
		return 0, ErrDomain
	}
	a := alpha(tempC, humidity)
	dp := (B * a) / (A - a)
	if !finite(dp) {
		return 0, ErrDomain
	}
	// saturated air rounds to a hair above T
	return math.Min(dp, tempC), nil
}

// HumidityFromDewPoint returns the relative humidity at which air of the
// given temperature has the given dew point.
func HumidityFromDewPoint(tempC, dewPointC float64) (float64, error) {
	if !finite(tempC, dewPointC) || tempC == -B || dewPointC == -B {
		return 0, ErrDomain
	}
	rh := 100 * math.Exp((A*dewPointC)/(B+dewPointC)-(A*tempC)/(B+tempC))
	if !finite(rh) {
		return 0, ErrDomain
	}
	return rh, nil
}
