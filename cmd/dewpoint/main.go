package main

import (
	"flag"
	"fmt"
	"math"
	"os"

	"github.com/viking76/homeassistant-generic-wmc/internal/dewpoint"
)

func main() {
	temp := flag.Float64("t", math.NaN(), "air temperature in °C")
	humidity := flag.Float64("rh", math.NaN(), "relative humidity in %")
	offset := flag.Float64("offset", 3, "target offset below the dew point in °C")
	outdoor := flag.Float64("outdoor", math.NaN(), "outdoor temperature in °C (optional)")
	flag.Parse()

	if math.IsNaN(*temp) || math.IsNaN(*humidity) {
		fmt.Fprintln(os.Stderr, "usage: dewpoint -t <°C> -rh <%> [-offset <°C>] [-outdoor <°C>]")
		os.Exit(2)
	}

	dp, err := dewpoint.DewPoint(*temp, *humidity)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dewpoint: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("dew point:         %.2f °C\n", dp)

	target := dp - *offset
	if rh, err := dewpoint.HumidityFromDewPoint(*temp, target); err == nil {
		fmt.Printf("target:            %.2f °C (%.1f %% at %.1f °C)\n", target, rh, *temp)
	}

	outdoorTemp := *outdoor
	if math.IsNaN(outdoorTemp) {
		outdoorTemp = *temp
	}
	c := dewpoint.NewComfort(*temp, *humidity, outdoorTemp)
	fmt.Printf("absolute humidity: %.2f g/m³\n", c.AbsoluteHumidity)
	if !math.IsNaN(*outdoor) {
		fmt.Printf("recommended max:   %.0f %% for %.1f °C outside\n", c.RecommendedMaxHumidity, outdoorTemp)
	}
}
