// Package features computes daily per-ticker indicators from the fact
// table and upserts them into the feature table keyed on (date, ticker).
//
// Three indicators are produced: a 14-day Wilder RSI, a 10-day price
// momentum, and a 21-day rolling volatility of one-day returns. Values
// are NaN until their window fills and are stored as SQL NULLs.
package features

import "math"

// Default indicator windows.
const (
	RSIPeriod      = 14
	MomentumWindow = 10
	VolWindow      = 21
)

// RSIWilder computes the Wilder RSI over closes. The seed average is a
// simple mean of the first period gains and losses, after which each
// average is smoothed with weight 1/period. Entries before index period
// are NaN. When the average loss is zero the RSI saturates at 100.
func RSIWilder(closes []float64, period int) []float64 {
	out := nanSlice(len(closes))
	if period <= 0 || len(closes) <= period {
		return out
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			avgGain += delta
		} else {
			avgLoss -= delta
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	out[period] = rsiValue(avgGain, avgLoss)

	alpha := 1.0 / float64(period)
	for i := period + 1; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if delta > 0 {
			gain = delta
		} else {
			loss = -delta
		}
		avgGain = avgGain*(1-alpha) + gain*alpha
		avgLoss = avgLoss*(1-alpha) + loss*alpha
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// Momentum computes close[i]/close[i-window] - 1 per entry. Entries
// before index window are NaN.
func Momentum(closes []float64, window int) []float64 {
	out := nanSlice(len(closes))
	if window <= 0 {
		return out
	}
	for i := window; i < len(closes); i++ {
		if closes[i-window] == 0 {
			continue
		}
		out[i] = closes[i]/closes[i-window] - 1
	}
	return out
}

// RollingStd computes the sample standard deviation over a trailing
// window of values. A window containing any NaN yields NaN, so the
// first valid entry trails the first valid input by window-1 rows.
func RollingStd(values []float64, window int) []float64 {
	out := nanSlice(len(values))
	if window <= 1 {
		return out
	}
	for i := window - 1; i < len(values); i++ {
		if v, ok := sampleStd(values[i-window+1 : i+1]); ok {
			out[i] = v
		}
	}
	return out
}

func sampleStd(window []float64) (float64, bool) {
	var sum float64
	for _, v := range window {
		if math.IsNaN(v) {
			return 0, false
		}
		sum += v
	}
	mean := sum / float64(len(window))

	var ss float64
	for _, v := range window {
		d := v - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(window)-1)), true
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
