package prediction

import (
	"errors"
	"sort"
	"time"

	"agri-price/internal/models"
)

// SequenceLength is the model's sliding window in days.
const SequenceLength = 30

// Cropping seasons used as the third feature.
const (
	SeasonKharif = 1 // June to October
	SeasonRabi   = 2 // November to March
	SeasonZaid   = 3 // April and May
)

var ErrNoHistory = errors.New("no price history")

func Season(t time.Time) float64 {
	switch m := t.Month(); {
	case m >= time.June && m <= time.October:
		return SeasonKharif
	case m == time.April || m == time.May:
		return SeasonZaid
	default:
		return SeasonRabi
	}
}

// BuildSequence turns raw observations into SequenceLength daily rows of
// [price, demand, season] ending at the newest observation's day. Price is
// the day's mean across mandis, demand the number of observations that
// day. Days without data carry the previous price forward with zero
// demand; a short history is padded at the front with its first row.
func BuildSequence(points []models.PricePoint) ([][]float64, error) {
	if len(points) == 0 {
		return nil, ErrNoHistory
	}

	type day struct {
		sum   float64
		count int
	}
	days := make(map[string]*day)
	var last time.Time
	for _, p := range points {
		at := p.RecordedAt.UTC()
		k := at.Format("2006-01-02")
		d, ok := days[k]
		if !ok {
			d = &day{}
			days[k] = d
		}
		d.sum += p.Price
		d.count++
		if at.After(last) {
			last = at
		}
	}

	end := time.Date(last.Year(), last.Month(), last.Day(), 0, 0, 0, 0, time.UTC)
	start := end.AddDate(0, 0, -(SequenceLength - 1))

	keys := make([]string, 0, len(days))
	for k := range days {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	// seed the carried price with the newest day before the window
	carry := -1.0
	for _, k := range keys {
		if k >= start.Format("2006-01-02") {
			break
		}
		carry = days[k].sum / float64(days[k].count)
	}

	rows := make([][]float64, 0, SequenceLength)
	for i := 0; i < SequenceLength; i++ {
		at := start.AddDate(0, 0, i)
		d, ok := days[at.Format("2006-01-02")]
		switch {
		case ok:
			carry = d.sum / float64(d.count)
			rows = append(rows, []float64{carry, float64(d.count), Season(at)})
		case carry >= 0:
			rows = append(rows, []float64{carry, 0, Season(at)})
		}
	}

	for len(rows) < SequenceLength {
		first := rows[0]
		rows = append([][]float64{{first[0], first[1], first[2]}}, rows...)
	}
	return rows, nil
}
