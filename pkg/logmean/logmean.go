// Package logmean converts raw light-intensity measurements into
// optical-density perturbation signals under the Rytov approximation:
// each channel is divided by its temporal mean and negative-log
// transformed. The output is what a linear reconstruction multiplies the
// A-matrix against.
package logmean

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/sriharshakondapalli/NeuroDOT-Beta/internal/models"
)

// Transform converts intensity time series to optical density. data is
// channel-major: sample t of channel c is data[c*samples+t]. The result has
// the same layout, with y = -ln(phi / mean(phi)) per channel.
//
// Channels whose mean is not positive (dark or saturated-off channels)
// produce NaN for every sample, as do non-positive individual samples; the
// caller decides whether to prune such channels. A constant-intensity
// channel transforms to exactly zero.
func Transform(data []float64, channels, samples int) ([]float64, error) {
	if channels <= 0 || samples <= 0 || len(data) != channels*samples {
		return nil, fmt.Errorf("%w: %d values for %d channels x %d samples", models.ErrDimension, len(data), channels, samples)
	}
	out := make([]float64, len(data))
	for c := 0; c < channels; c++ {
		row := data[c*samples : (c+1)*samples]
		dst := out[c*samples : (c+1)*samples]
		mean := stat.Mean(row, nil)
		if !(mean > 0) {
			for t := range dst {
				dst[t] = math.NaN()
			}
			continue
		}
		for t, phi := range row {
			if phi > 0 {
				dst[t] = -math.Log(phi / mean)
			} else {
				dst[t] = math.NaN()
			}
		}
	}
	return out, nil
}
