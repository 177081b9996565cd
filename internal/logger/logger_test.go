package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"solswing/internal/model"
)

func TestInitTo_ServiceAttrAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logg := InitTo(&buf, "signald", slog.LevelInfo)

	logg.Debug("hidden")
	logg.Info("bar closed", slog.Int64("epoch", 1_600_000_500))

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not one JSON record: %v (%q)", err, buf.String())
	}
	if rec["service"] != "signald" {
		t.Errorf("service = %v", rec["service"])
	}
	if rec["msg"] != "bar closed" || rec["epoch"] != float64(1_600_000_500) {
		t.Errorf("record = %v", rec)
	}
}

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{" error ", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tc := range cases {
		if got := ParseLevel(tc.in); got != tc.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestSignalTrace(t *testing.T) {
	sig := model.Signal{Side: model.SideLong, ConfirmEpoch: 1_600_019_100}
	got := SignalTrace("SOLUSD", sig)
	if got != "SOLUSD-long-1600019100" {
		t.Errorf("trace = %q", got)
	}
	// Same signal, same id.
	if SignalTrace("SOLUSD", sig) != got {
		t.Error("trace id must be deterministic")
	}
}

func TestTraceID_RoundTrip(t *testing.T) {
	ctx := context.Background()
	if tid := TraceID(ctx); tid != "" {
		t.Errorf("empty context trace = %q", tid)
	}
	ctx = WithTraceID(ctx, "SOLUSD-long-1600019100")
	if tid := TraceID(ctx); tid != "SOLUSD-long-1600019100" {
		t.Errorf("trace = %q", tid)
	}
}

func TestTraceAttrs(t *testing.T) {
	if attrs := TraceAttrs(context.Background()); attrs != nil {
		t.Errorf("attrs without trace = %v", attrs)
	}
	ctx := WithTraceID(context.Background(), "abc-123")
	attrs := TraceAttrs(ctx)
	if len(attrs) != 1 {
		t.Fatalf("attrs = %v", attrs)
	}
	if a, ok := attrs[0].(slog.Attr); !ok || a.Key != "trace_id" || a.Value.String() != "abc-123" {
		t.Errorf("attr = %v", attrs[0])
	}
}
