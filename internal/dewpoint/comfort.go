package dewpoint

import (
	"math"

	"github.com/cdzombak/libwx"
)

// Comfort holds derived humidity figures for display. They never feed the
// control decision.
type Comfort struct {
	AbsoluteHumidity       float64 // g/m³
	RecommendedMaxHumidity float64 // %, for the outdoor temperature
}

// NewComfort derives comfort figures from indoor conditions and the
// outdoor temperature.
func NewComfort(indoorTempC, indoorHumidity, outdoorTempC float64) Comfort {
	rh := libwx.ClampedRelHumidity(int(math.Round(indoorHumidity)))
	return Comfort{
		AbsoluteHumidity:       float64(libwx.AbsHumidityFromRelC(libwx.TempC(indoorTempC), rh).Unwrap()),
		RecommendedMaxHumidity: float64(libwx.IndoorHumidityRecommendationC(libwx.TempC(outdoorTempC)).Unwrap()),
	}
}
