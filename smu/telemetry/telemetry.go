// Package telemetry snapshots the firmware's float metric table and tracks
// per-slot running maxima across a monitoring session.
package telemetry

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"sync"
	"time"

	"smudbg/log"
	"smudbg/smu/smuio"
)

// ErrNoTable means the platform exposes no telemetry table.
var ErrNoTable = errors.New("telemetry table not available")

// Row is one table slot with its session maximum.
type Row struct {
	Index  int
	Value  float32
	Max    float32
	Offset uint32
}

// Sampler reads telemetry snapshots. All methods are safe for concurrent
// use; a snapshot and its maxima always belong to the same read.
type Sampler struct {
	gw    smuio.Gateway
	bytes int

	mu      sync.Mutex
	values  []float32
	maxima  []float32
	primed  bool
	samples uint64
	buf     []byte
}

// New builds a sampler over a table of the given byte size. Sizes that are
// not float-aligned are truncated to whole slots.
func New(gw smuio.Gateway, tableBytes int) (*Sampler, error) {
	if tableBytes < 4 {
		return nil, ErrNoTable
	}
	slots := tableBytes / 4
	return &Sampler{
		gw:     gw,
		bytes:  slots * 4,
		values: make([]float32, slots),
		maxima: make([]float32, slots),
		buf:    make([]byte, slots*4),
	}, nil
}

// Slots returns the number of float entries in the table.
func (sp *Sampler) Slots() int {
	return len(sp.values)
}

// Samples returns how many snapshots have been taken so far.
func (sp *Sampler) Samples() uint64 {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return sp.samples
}

// Sample takes one snapshot. The first successful snapshot seeds the maxima
// so that untouched slots never report a phantom 0 peak; later snapshots
// only raise them. A failed read leaves the previous state intact.
func (sp *Sampler) Sample() error {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	if err := sp.gw.ReadTelemetryTable(sp.buf); err != nil {
		return err
	}

	for i := range sp.values {
		bits := binary.LittleEndian.Uint32(sp.buf[i*4:])
		sp.values[i] = math.Float32frombits(bits)
	}

	if !sp.primed {
		copy(sp.maxima, sp.values)
		sp.primed = true
	} else {
		for i, v := range sp.values {
			if v > sp.maxima[i] {
				sp.maxima[i] = v
			}
		}
	}
	sp.samples++
	return nil
}

// ResetMax collapses every maximum to its slot's current value, so peaks
// accumulate from now rather than from the session start. Before the first
// sample it is a no-op.
func (sp *Sampler) ResetMax() {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	if !sp.primed {
		return
	}
	copy(sp.maxima, sp.values)
}

// Rows returns one page of the latest snapshot. page is zero-based; an
// out-of-range page returns an empty slice.
func (sp *Sampler) Rows(page, pageSize int) []Row {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	if pageSize <= 0 || page < 0 {
		return nil
	}
	lo := page * pageSize
	if lo >= len(sp.values) {
		return nil
	}
	hi := lo + pageSize
	if hi > len(sp.values) {
		hi = len(sp.values)
	}

	rows := make([]Row, 0, hi-lo)
	for i := lo; i < hi; i++ {
		rows = append(rows, Row{
			Index:  i,
			Value:  sp.values[i],
			Max:    sp.maxima[i],
			Offset: uint32(i * 4),
		})
	}
	return rows
}

// Pages returns the page count for the given page size.
func (sp *Sampler) Pages(pageSize int) int {
	if pageSize <= 0 {
		return 0
	}
	return (len(sp.values) + pageSize - 1) / pageSize
}

// Monitor samples on the given interval until ctx is done, calling fn after
// each successful snapshot. Read failures are logged and the tick skipped;
// the sampler keeps its last good state.
func (sp *Sampler) Monitor(ctx context.Context, interval time.Duration, fn func(*Sampler)) error {
	tick := time.NewTicker(interval)
	defer tick.Stop()

	for {
		if err := sp.Sample(); err != nil {
			log.Warnf("telemetry: sample failed: %v", err)
		} else if fn != nil {
			fn(sp)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
		}
	}
}
