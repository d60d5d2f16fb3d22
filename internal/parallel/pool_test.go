package parallel

import (
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
)

func TestNewWorkers(t *testing.T) {
	tests := []struct {
		in   int
		want int
	}{
		{4, 4},
		{0, runtime.GOMAXPROCS(0)},
		{-3, runtime.GOMAXPROCS(0)},
	}
	for _, tt := range tests {
		p := New(tt.in)
		if p.Workers() != tt.want {
			t.Errorf("New(%d).Workers() = %d, want %d", tt.in, p.Workers(), tt.want)
		}
		p.Close()
	}
}

func TestExecuteAll(t *testing.T) {
	p := New(4)
	defer p.Close()

	var n atomic.Int64
	work := make([]func(), 100)
	for i := range work {
		work[i] = func() { n.Add(1) }
	}
	p.ExecuteAll(work)
	if n.Load() != 100 {
		t.Errorf("ran %d items, want 100", n.Load())
	}
	p.ExecuteAll(nil)
}

func TestRowsCoversEveryRowOnce(t *testing.T) {
	p := New(3)
	defer p.Close()

	tests := []struct {
		name    string
		n, band uint32
	}{
		{"auto band", 97, 0},
		{"single rows", 10, 1},
		{"uneven", 10, 4},
		{"band larger than n", 5, 64},
		{"empty", 0, 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hits := make([]int32, tt.n)
			p.Rows(tt.n, tt.band, func(lo, hi uint32) {
				if lo >= hi || hi > tt.n {
					t.Errorf("band [%d, %d) outside [0, %d)", lo, hi, tt.n)
					return
				}
				for y := lo; y < hi; y++ {
					atomic.AddInt32(&hits[y], 1)
				}
			})
			for y, h := range hits {
				if h != 1 {
					t.Errorf("row %d visited %d times", y, h)
				}
			}
		})
	}
}

func TestConcurrentExecuteAll(t *testing.T) {
	p := New(2)
	defer p.Close()

	var n atomic.Int64
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Rows(64, 4, func(lo, hi uint32) { n.Add(int64(hi - lo)) })
		}()
	}
	wg.Wait()
	if n.Load() != 8*64 {
		t.Errorf("covered %d rows, want %d", n.Load(), 8*64)
	}
}

func TestClosedPoolRunsInline(t *testing.T) {
	p := New(2)
	p.Close()
	p.Close()

	ran := 0
	p.ExecuteAll([]func(){func() { ran++ }, func() { ran++ }})
	if ran != 2 {
		t.Errorf("closed pool ran %d items, want 2", ran)
	}
}
