package sample

import "math"

// metricCount is the number of scalar fields carried by a MetricSample.
const metricCount = 12

// GeometricMean combines a batch of samples into one sample whose every
// field is the geometric mean of that field across the batch. Fields are
// aggregated independently. The second return is false when the batch is
// empty, in which case no aggregate exists and the caller must skip it.
func GeometricMean(samples []MetricSample) (MetricSample, bool) {
	if len(samples) == 0 {
		return MetricSample{}, false
	}

	var sums [metricCount]float64
	zero := [metricCount]bool{}
	for _, s := range samples {
		v := s.vector()
		for i, x := range v {
			if x <= 0 {
				// ln is undefined at zero; a single zero measurement
				// pins the geometric mean of that field to zero.
				zero[i] = true
				continue
			}
			sums[i] += math.Log(x)
		}
	}

	n := float64(len(samples))
	var out [metricCount]float64
	for i := range out {
		if zero[i] {
			continue
		}
		out[i] = math.Exp(sums[i] / n)
	}
	return fromVector(out), true
}

func (s MetricSample) vector() [metricCount]float64 {
	return [metricCount]float64{
		s.Performance,
		s.FirstContentfulPaint.Seconds, s.FirstContentfulPaint.Score,
		s.FirstMeaningfulPaint.Seconds, s.FirstMeaningfulPaint.Score,
		s.SpeedIndex.Seconds, s.SpeedIndex.Score,
		s.Interactive.Seconds, s.Interactive.Score,
		s.FirstCPUIdle.Seconds, s.FirstCPUIdle.Score,
		s.TotalByteWeight,
	}
}

func fromVector(v [metricCount]float64) MetricSample {
	return MetricSample{
		Performance:          v[0],
		FirstContentfulPaint: Timed{Seconds: v[1], Score: v[2]},
		FirstMeaningfulPaint: Timed{Seconds: v[3], Score: v[4]},
		SpeedIndex:           Timed{Seconds: v[5], Score: v[6]},
		Interactive:          Timed{Seconds: v[7], Score: v[8]},
		FirstCPUIdle:         Timed{Seconds: v[9], Score: v[10]},
		TotalByteWeight:      v[11],
	}
}
