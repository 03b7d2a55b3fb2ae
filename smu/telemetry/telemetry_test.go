package telemetry

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"testing"
	"time"

	"smudbg/smu/smuio"
)

func floatTable(values ...float32) []byte {
	buf := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func simTable(values ...float32) (*smuio.SimGateway, *Sampler) {
	gw := smuio.NewSimGateway(smuio.DriverInfo{})
	gw.SetTable(floatTable(values...))
	sp, err := New(gw, len(values)*4)
	if err != nil {
		panic(err)
	}
	return gw, sp
}

func TestNewRejectsMissingTable(t *testing.T) {
	gw := smuio.NewSimGateway(smuio.DriverInfo{})
	if _, err := New(gw, 0); !errors.Is(err, ErrNoTable) {
		t.Fatalf("err = %v, want ErrNoTable", err)
	}
	if _, err := New(gw, 3); !errors.Is(err, ErrNoTable) {
		t.Fatalf("err = %v, want ErrNoTable", err)
	}
}

func TestNewTruncatesToWholeSlots(t *testing.T) {
	gw := smuio.NewSimGateway(smuio.DriverInfo{})
	gw.SetTable(make([]byte, 12))
	sp, err := New(gw, 10)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if sp.Slots() != 2 {
		t.Fatalf("slots = %d, want 2", sp.Slots())
	}
}

// The first sample seeds the maxima so a slot that starts negative never
// reports a phantom zero peak.
func TestMaximaSeededFromFirstSample(t *testing.T) {
	_, sp := simTable(1.5, -3.0, 0)
	if err := sp.Sample(); err != nil {
		t.Fatalf("sample: %v", err)
	}

	rows := sp.Rows(0, 10)
	want := []float32{1.5, -3.0, 0}
	for i, row := range rows {
		if row.Value != want[i] || row.Max != want[i] {
			t.Fatalf("slot %d: value %v max %v, want both %v", i, row.Value, row.Max, want[i])
		}
	}
}

func TestMaximaOnlyRise(t *testing.T) {
	gw, sp := simTable(1.5, -3.0, 0)
	if err := sp.Sample(); err != nil {
		t.Fatalf("sample: %v", err)
	}

	gw.SetTable(floatTable(0.5, -5.0, -1.0))
	if err := sp.Sample(); err != nil {
		t.Fatalf("sample: %v", err)
	}
	for i, row := range sp.Rows(0, 10) {
		want := []float32{1.5, -3.0, 0}[i]
		if row.Max != want {
			t.Fatalf("slot %d: max dropped to %v, want %v", i, row.Max, want)
		}
	}

	gw.SetTable(floatTable(2.0, -1.0, 4.0))
	if err := sp.Sample(); err != nil {
		t.Fatalf("sample: %v", err)
	}
	for i, row := range sp.Rows(0, 10) {
		want := []float32{2.0, -1.0, 4.0}[i]
		if row.Max != want {
			t.Fatalf("slot %d: max %v, want %v", i, row.Max, want)
		}
	}
}

func TestResetMax(t *testing.T) {
	gw, sp := simTable(5.0, 2.0)
	if err := sp.Sample(); err != nil {
		t.Fatalf("sample: %v", err)
	}
	gw.SetTable(floatTable(1.0, 0.5))
	if err := sp.Sample(); err != nil {
		t.Fatalf("sample: %v", err)
	}

	sp.ResetMax()
	for i, row := range sp.Rows(0, 10) {
		if row.Max != row.Value {
			t.Fatalf("slot %d: max %v != current %v after reset", i, row.Max, row.Value)
		}
	}
}

func TestResetMaxBeforeFirstSample(t *testing.T) {
	_, sp := simTable(1.0)
	sp.ResetMax() // must not panic or invent state
	if sp.Samples() != 0 {
		t.Fatalf("samples = %d, want 0", sp.Samples())
	}
}

func TestFailedSampleKeepsState(t *testing.T) {
	gw, sp := simTable(7.0)
	if err := sp.Sample(); err != nil {
		t.Fatalf("sample: %v", err)
	}

	gw.FailTable(true)
	if err := sp.Sample(); err == nil {
		t.Fatalf("expected failure with telemetry fault active")
	}
	if sp.Samples() != 1 {
		t.Fatalf("samples = %d, want the failed tick uncounted", sp.Samples())
	}
	if rows := sp.Rows(0, 1); rows[0].Value != 7.0 {
		t.Fatalf("value = %v, want the last good snapshot", rows[0].Value)
	}
}

func TestPaging(t *testing.T) {
	values := make([]float32, 10)
	_, sp := simTable(values...)

	if got := sp.Pages(4); got != 3 {
		t.Fatalf("pages = %d, want 3", got)
	}
	if rows := sp.Rows(2, 4); len(rows) != 2 || rows[0].Index != 8 || rows[1].Offset != 9*4 {
		t.Fatalf("last page wrong: %+v", rows)
	}
	if rows := sp.Rows(3, 4); rows != nil {
		t.Fatalf("out-of-range page returned %+v", rows)
	}
	if rows := sp.Rows(0, 0); rows != nil {
		t.Fatalf("zero page size returned %+v", rows)
	}
}

func TestMonitorStopsOnCancel(t *testing.T) {
	_, sp := simTable(1.0)

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := sp.Monitor(ctx, time.Millisecond, func(*Sampler) {
		calls++
		cancel()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Fatalf("callback ran %d times, want 1", calls)
	}
	if sp.Samples() != 1 {
		t.Fatalf("samples = %d, want 1", sp.Samples())
	}
}
