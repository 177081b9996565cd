package csvload

import (
	"strings"
	"testing"

	"solswing/internal/candlestore"
	"solswing/internal/model"
)

const goodCSV = `time,open,high,low,close,Volume
1600000500,100,101,99,100.5,12
1600000800,100.5,102,100,101.5,15
1600001100,101.5,101.8,100.2,100.4,9
`

func TestParse_Happy(t *testing.T) {
	bars, sum, err := Parse(strings.NewReader(goodCSV), 0)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(bars) != 3 || sum.Rows != 3 {
		t.Fatalf("rows = %d/%d, want 3", len(bars), sum.Rows)
	}
	b := bars[0]
	if b.Epoch != 1600000500 || b.Open != 100 || b.High != 101 || b.Low != 99 || b.Close != 100.5 || b.Volume != 12 {
		t.Errorf("bar 0 = %+v", b)
	}
	if len(sum.Columns) != 6 {
		t.Errorf("columns = %v", sum.Columns)
	}
}

func TestParse_VolumeHeaderIsCaseSensitive(t *testing.T) {
	csv := strings.Replace(goodCSV, "Volume", "volume", 1)
	_, _, err := Parse(strings.NewReader(csv), 0)
	if !model.IsKind(err, model.EBadInput) {
		t.Errorf("error = %v, want E_BadInput for lowercase volume header", err)
	}
}

func TestParse_OtherHeadersCaseInsensitive(t *testing.T) {
	csv := "TIME,Open,HIGH,low,Close,Volume\n1600000500,100,101,99,100.5,12\n"
	bars, _, err := Parse(strings.NewReader(csv), 0)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(bars) != 1 {
		t.Errorf("rows = %d, want 1", len(bars))
	}
}

func TestParse_ExtraColumnsIgnored(t *testing.T) {
	csv := "time,open,high,low,close,Volume,vwap\n1600000500,100,101,99,100.5,12,100.2\n"
	bars, sum, err := Parse(strings.NewReader(csv), 0)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(bars) != 1 {
		t.Errorf("rows = %d, want 1", len(bars))
	}
	if len(sum.Columns) != 7 {
		t.Errorf("columns = %v", sum.Columns)
	}
}

func TestParse_RowLimit(t *testing.T) {
	_, _, err := Parse(strings.NewReader(goodCSV), 2)
	if !model.IsKind(err, model.EOversize) {
		t.Errorf("error = %v, want E_Oversize", err)
	}
}

func TestParse_BadRows(t *testing.T) {
	cases := []struct {
		name string
		csv  string
	}{
		{"missing column", "time,open,high,low,close\n1600000500,100,101,99,100.5\n"},
		{"bad time", "time,open,high,low,close,Volume\nnot-a-ts,100,101,99,100.5,12\n"},
		{"bad float", "time,open,high,low,close,Volume\n1600000500,100,101,99,oops,12\n"},
		{"short record", "time,open,high,low,close,Volume\n1600000500,100\n"},
		{"high below low", "time,open,high,low,close,Volume\n1600000500,100,99,101,100,12\n"},
		{"negative volume", "time,open,high,low,close,Volume\n1600000500,100,101,99,100,-1\n"},
	}
	for _, tc := range cases {
		_, _, err := Parse(strings.NewReader(tc.csv), 0)
		if err == nil {
			t.Errorf("%s: expected error", tc.name)
		} else if !model.IsKind(err, model.EBadInput) {
			t.Errorf("%s: kind = %s, want E_BadInput", tc.name, model.KindOf(err))
		}
	}
}

func TestLoad_AppendsToStore(t *testing.T) {
	store := candlestore.New(0)
	sum, err := Load(strings.NewReader(goodCSV), store, model.TF5m, 0)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if sum.Rows != 3 {
		t.Errorf("rows = %d, want 3", sum.Rows)
	}
	if got := store.Size(model.TF5m); got != 3 {
		t.Errorf("store holds %d bars, want 3", got)
	}
	last, ok := store.Last(model.TF5m)
	if !ok || last.Epoch != 1600001100 {
		t.Errorf("last = %+v %v", last, ok)
	}
}

func TestLoad_StoreRejectionPropagates(t *testing.T) {
	// Second row repeats the first epoch; the store refuses it.
	csv := "time,open,high,low,close,Volume\n1600000500,100,101,99,100.5,12\n1600000500,100,101,99,100.5,12\n"
	store := candlestore.New(0)
	if _, err := Load(strings.NewReader(csv), store, model.TF5m, 0); !model.IsKind(err, model.EBadInput) {
		t.Errorf("error = %v, want E_BadInput from the store", err)
	}
}
