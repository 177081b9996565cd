// Package csvload imports bar history from CSV. The contract is a header
// row `time,open,high,low,close,Volume` — "Volume" capitalized, `time` in
// integer Unix seconds. Additional columns are ignored. Validation runs
// before any bar is constructed; a malformed row fails the whole import.
package csvload

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"

	"solswing/internal/candlestore"
	"solswing/internal/model"
)

// DefaultMaxRows bounds an import.
const DefaultMaxRows = 200000

var required = []string{"time", "open", "high", "low", "close", "Volume"}

// Summary reports an accepted import.
type Summary struct {
	Rows    int      `json:"rows"`
	Columns []string `json:"columns"`
}

// Parse reads bars from r, oldest-first. maxRows <= 0 selects the default.
// Errors are E_BadInput (malformed header, row, or value) or E_Oversize.
func Parse(r io.Reader, maxRows int) ([]model.Bar, Summary, error) {
	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, Summary{}, model.Wrap(model.EBadInput, err, "csv header")
	}
	cols, err := mapColumns(header)
	if err != nil {
		return nil, Summary{}, err
	}

	var bars []model.Bar
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, Summary{}, model.Wrap(model.EBadInput, err, "csv row %d", line)
		}
		if len(bars) >= maxRows {
			return nil, Summary{}, model.Errf(model.EOversize,
				"csv exceeds row limit %d", maxRows)
		}
		bar, err := parseRow(rec, cols, line)
		if err != nil {
			return nil, Summary{}, err
		}
		bars = append(bars, bar)
	}
	return bars, Summary{Rows: len(bars), Columns: header}, nil
}

// Load parses r and bulk-appends the bars into store on tf.
func Load(r io.Reader, store *candlestore.Store, tf model.Timeframe, maxRows int) (Summary, error) {
	bars, sum, err := Parse(r, maxRows)
	if err != nil {
		return Summary{}, err
	}
	for _, b := range bars {
		if err := store.Append(tf, b); err != nil {
			return Summary{}, err
		}
	}
	return sum, nil
}

// mapColumns resolves the required column indices. The "Volume" header is
// matched case-sensitively; everything else is case-insensitive and extra
// columns are ignored.
func mapColumns(header []string) (map[string]int, error) {
	cols := make(map[string]int, len(required))
	for i, h := range header {
		h = strings.TrimSpace(h)
		for _, want := range required {
			if want == "Volume" {
				if h == "Volume" {
					cols[want] = i
				}
			} else if strings.EqualFold(h, want) {
				cols[want] = i
			}
		}
	}
	for _, want := range required {
		if _, ok := cols[want]; !ok {
			return nil, model.Errf(model.EBadInput, "csv missing required column %q", want)
		}
	}
	return cols, nil
}

func parseRow(rec []string, cols map[string]int, line int) (model.Bar, error) {
	field := func(name string) (string, bool) {
		i := cols[name]
		if i >= len(rec) {
			return "", false
		}
		return strings.TrimSpace(rec[i]), true
	}

	ts, ok := field("time")
	if !ok {
		return model.Bar{}, model.Errf(model.EBadInput, "csv row %d: short record", line)
	}
	epoch, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return model.Bar{}, model.Errf(model.EBadInput, "csv row %d: time %q", line, ts)
	}

	var vals [5]float64
	for i, name := range []string{"open", "high", "low", "close", "Volume"} {
		s, ok := field(name)
		if !ok {
			return model.Bar{}, model.Errf(model.EBadInput, "csv row %d: short record", line)
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return model.Bar{}, model.Errf(model.EBadInput, "csv row %d: %s %q", line, name, s)
		}
		vals[i] = v
	}

	bar := model.Bar{
		Epoch: epoch, Open: vals[0], High: vals[1], Low: vals[2],
		Close: vals[3], Volume: vals[4],
	}
	if !bar.Valid() {
		return model.Bar{}, model.Errf(model.EBadInput,
			"csv row %d: OHLCV invariant violated", line)
	}
	return bar, nil
}
