// Package indicators computes trend indicators over a commodity's daily
// mandi prices.
package indicators

import (
	"math"
	"sort"
	"time"

	"agri-price/internal/models"
)

// Day is one calendar day of observations across mandis.
type Day struct {
	Date  time.Time `json:"date"`
	Close float64   `json:"close"` // mean of the day's observations
	High  float64   `json:"high"`
	Low   float64   `json:"low"`
	Count int       `json:"count"`
}

// Point is a day with whatever indicators its history supports.
type Point struct {
	Day
	MA7        *float64 `json:"ma7,omitempty"`
	MA30       *float64 `json:"ma30,omitempty"`
	EMA12      *float64 `json:"ema12,omitempty"`
	EMA26      *float64 `json:"ema26,omitempty"`
	MACD       *float64 `json:"macd,omitempty"`
	MACDSig    *float64 `json:"macd_signal,omitempty"`
	RSI14      *float64 `json:"rsi14,omitempty"`
	BBUpper    *float64 `json:"bb_upper,omitempty"`
	BBMiddle   *float64 `json:"bb_middle,omitempty"`
	BBLower    *float64 `json:"bb_lower,omitempty"`
	ATR14      *float64 `json:"atr14,omitempty"`
	Volatility *float64 `json:"volatility,omitempty"`
}

// Daily folds observations into calendar days, oldest first.
func Daily(points []models.PricePoint) []Day {
	byDay := make(map[time.Time]*Day)
	sums := make(map[time.Time]float64)
	for _, p := range points {
		at := p.RecordedAt.UTC()
		k := time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, time.UTC)
		d, ok := byDay[k]
		if !ok {
			d = &Day{Date: k, High: p.Price, Low: p.Price}
			byDay[k] = d
		}
		d.High = math.Max(d.High, p.Price)
		d.Low = math.Min(d.Low, p.Price)
		d.Count++
		sums[k] += p.Price
	}

	out := make([]Day, 0, len(byDay))
	for k, d := range byDay {
		d.Close = sums[k] / float64(d.Count)
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// Compute returns one Point per day.
func Compute(days []Day) []Point {
	n := len(days)
	closes := make([]float64, n)
	highs := make([]float64, n)
	lows := make([]float64, n)
	for i, d := range days {
		closes[i], highs[i], lows[i] = d.Close, d.High, d.Low
	}

	ma7 := MA(closes, 7)
	ma30 := MA(closes, 30)
	ema12 := EMA(closes, 12)
	ema26 := EMA(closes, 26)
	macd, signal := MACD(closes)
	rsi := RSI(closes, 14)
	upper, middle, lower := Bollinger(closes, 20, 2)
	atr := ATR(highs, lows, closes, 14)
	vol := Volatility(closes, 7)

	out := make([]Point, n)
	for i := range days {
		out[i] = Point{
			Day:        days[i],
			MA7:        val(ma7[i]),
			MA30:       val(ma30[i]),
			EMA12:      val(ema12[i]),
			EMA26:      val(ema26[i]),
			MACD:       val(macd[i]),
			MACDSig:    val(signal[i]),
			RSI14:      val(rsi[i]),
			BBUpper:    val(upper[i]),
			BBMiddle:   val(middle[i]),
			BBLower:    val(lower[i]),
			ATR14:      val(atr[i]),
			Volatility: val(vol[i]),
		}
	}
	return out
}

func val(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func nans(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

// MA is the simple moving average; NaN until period values exist.
func MA(prices []float64, period int) []float64 {
	out := nans(len(prices))
	if period <= 0 || len(prices) < period {
		return out
	}
	sum := 0.0
	for i, p := range prices {
		sum += p
		if i >= period {
			sum -= prices[i-period]
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// EMA is seeded with the SMA of the first period values. NaN inputs before
// the first valid value are skipped.
func EMA(prices []float64, period int) []float64 {
	out := nans(len(prices))
	if period <= 0 {
		return out
	}
	start := 0
	for start < len(prices) && math.IsNaN(prices[start]) {
		start++
	}
	if len(prices)-start < period {
		return out
	}

	k := 2.0 / (float64(period) + 1)
	sum := 0.0
	for i := start; i < start+period; i++ {
		sum += prices[i]
	}
	seed := start + period - 1
	out[seed] = sum / float64(period)
	for i := seed + 1; i < len(prices); i++ {
		out[i] = prices[i]*k + out[i-1]*(1-k)
	}
	return out
}

// MACD returns the 12/26 EMA spread and its 9-period signal line.
func MACD(prices []float64) (macd, signal []float64) {
	ema12 := EMA(prices, 12)
	ema26 := EMA(prices, 26)
	macd = nans(len(prices))
	for i := range prices {
		if !math.IsNaN(ema12[i]) && !math.IsNaN(ema26[i]) {
			macd[i] = ema12[i] - ema26[i]
		}
	}
	return macd, EMA(macd, 9)
}

// RSI uses Wilder smoothing.
func RSI(prices []float64, period int) []float64 {
	out := nans(len(prices))
	if period <= 0 || len(prices) <= period {
		return out
	}

	var gain, loss float64
	for i := 1; i <= period; i++ {
		ch := prices[i] - prices[i-1]
		if ch > 0 {
			gain += ch
		} else {
			loss -= ch
		}
	}
	gain /= float64(period)
	loss /= float64(period)
	out[period] = rsiValue(gain, loss)

	for i := period + 1; i < len(prices); i++ {
		ch := prices[i] - prices[i-1]
		g, l := 0.0, 0.0
		if ch > 0 {
			g = ch
		} else {
			l = -ch
		}
		gain = (gain*float64(period-1) + g) / float64(period)
		loss = (loss*float64(period-1) + l) / float64(period)
		out[i] = rsiValue(gain, loss)
	}
	return out
}

func rsiValue(gain, loss float64) float64 {
	if loss == 0 {
		if gain == 0 {
			return 50
		}
		return 100
	}
	return 100 - 100/(1+gain/loss)
}

// Bollinger returns bands k population standard deviations around the
// period SMA.
func Bollinger(prices []float64, period int, k float64) (upper, middle, lower []float64) {
	middle = MA(prices, period)
	upper = nans(len(prices))
	lower = nans(len(prices))
	for i := range prices {
		if math.IsNaN(middle[i]) {
			continue
		}
		sd := stddev(prices[i-period+1:i+1], middle[i])
		upper[i] = middle[i] + k*sd
		lower[i] = middle[i] - k*sd
	}
	return upper, middle, lower
}

// ATR is the Wilder-smoothed true range, here the spread between mandis.
func ATR(highs, lows, closes []float64, period int) []float64 {
	n := len(closes)
	out := nans(n)
	if period <= 0 || n < period || len(highs) != n || len(lows) != n {
		return out
	}
	tr := make([]float64, n)
	for i := range closes {
		tr[i] = highs[i] - lows[i]
		if i > 0 {
			tr[i] = math.Max(tr[i], math.Max(math.Abs(highs[i]-closes[i-1]), math.Abs(lows[i]-closes[i-1])))
		}
	}
	sum := 0.0
	for i := 0; i < period; i++ {
		sum += tr[i]
	}
	out[period-1] = sum / float64(period)
	for i := period; i < n; i++ {
		out[i] = (out[i-1]*float64(period-1) + tr[i]) / float64(period)
	}
	return out
}

// Volatility is the rolling standard deviation of day-over-day returns in
// percent.
func Volatility(prices []float64, period int) []float64 {
	out := nans(len(prices))
	if period <= 1 || len(prices) <= period {
		return out
	}
	returns := make([]float64, len(prices))
	for i := 1; i < len(prices); i++ {
		if prices[i-1] != 0 {
			returns[i] = (prices[i] - prices[i-1]) / prices[i-1] * 100
		}
	}
	for i := period; i < len(prices); i++ {
		window := returns[i-period+1 : i+1]
		mean := 0.0
		for _, r := range window {
			mean += r
		}
		mean /= float64(period)
		out[i] = stddev(window, mean)
	}
	return out
}

func stddev(xs []float64, mean float64) float64 {
	sq := 0.0
	for _, x := range xs {
		d := x - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(xs)))
}
