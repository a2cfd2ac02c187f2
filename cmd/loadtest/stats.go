package main

import (
	"fmt"
	"io"
	"math"
	"slices"
	"sync"
	"time"
)

// Stats accumulates request outcomes from all workers.
type Stats struct {
	mu        sync.Mutex
	total     int64
	success   int64
	errors    int64
	latencies []time.Duration
	codes     map[int]int64
}

func NewStats() *Stats {
	return &Stats{
		latencies: make([]time.Duration, 0, 100000),
		codes:     make(map[int]int64),
	}
}

// Record counts one request. Transport errors carry no latency sample.
func (s *Stats) Record(d time.Duration, status int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total++
	if err != nil {
		s.errors++
		return
	}
	if status >= 200 && status < 300 {
		s.success++
	} else {
		s.errors++
	}
	s.latencies = append(s.latencies, d)
	s.codes[status]++
}

// Report is a snapshot of Stats for printing.
type Report struct {
	Total, Success, Errors int64
	RPS                    float64
	Min, Avg, Max, StdDev  time.Duration
	P50, P90, P95, P99     time.Duration
	Codes                  map[int]int64
	samples                int
}

func (s *Stats) Report(elapsed time.Duration) Report {
	s.mu.Lock()
	lat := slices.Clone(s.latencies)
	r := Report{
		Total:   s.total,
		Success: s.success,
		Errors:  s.errors,
		Codes:   make(map[int]int64, len(s.codes)),
		samples: len(lat),
	}
	for c, n := range s.codes {
		r.Codes[c] = n
	}
	s.mu.Unlock()

	if elapsed > 0 {
		r.RPS = float64(r.Total) / elapsed.Seconds()
	}
	if len(lat) == 0 {
		return r
	}
	slices.Sort(lat)

	var sum time.Duration
	for _, l := range lat {
		sum += l
	}
	r.Avg = sum / time.Duration(len(lat))
	r.Min, r.Max = lat[0], lat[len(lat)-1]
	r.P50 = percentile(lat, 50)
	r.P90 = percentile(lat, 90)
	r.P95 = percentile(lat, 95)
	r.P99 = percentile(lat, 99)

	var sq float64
	for _, l := range lat {
		diff := float64(l - r.Avg)
		sq += diff * diff
	}
	r.StdDev = time.Duration(math.Sqrt(sq / float64(len(lat))))
	return r
}

func (r Report) Print(w io.Writer) {
	fmt.Fprintln(w, "=== Results ===")
	fmt.Fprintf(w, "Total Requests:  %d\n", r.Total)
	fmt.Fprintf(w, "Successful:      %d\n", r.Success)
	fmt.Fprintf(w, "Errors:          %d\n", r.Errors)
	if r.Total > 0 {
		fmt.Fprintf(w, "Error Rate:      %.2f%%\n", float64(r.Errors)/float64(r.Total)*100)
		fmt.Fprintf(w, "Requests/sec:    %.2f\n", r.RPS)
	}

	if r.samples > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "=== Latency ===")
		fmt.Fprintf(w, "Min:    %s\n", r.Min)
		fmt.Fprintf(w, "Avg:    %s\n", r.Avg)
		fmt.Fprintf(w, "P50:    %s\n", r.P50)
		fmt.Fprintf(w, "P90:    %s\n", r.P90)
		fmt.Fprintf(w, "P95:    %s\n", r.P95)
		fmt.Fprintf(w, "P99:    %s\n", r.P99)
		fmt.Fprintf(w, "Max:    %s\n", r.Max)
		fmt.Fprintf(w, "StdDev: %s\n", r.StdDev)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "=== Status Codes ===")
	codes := make([]int, 0, len(r.Codes))
	for c := range r.Codes {
		codes = append(codes, c)
	}
	slices.Sort(codes)
	for _, c := range codes {
		fmt.Fprintf(w, "  %d: %d\n", c, r.Codes[c])
	}
}

// percentile uses the nearest-rank method on an ascending slice.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	return sorted[max(0, min(idx, len(sorted)-1))]
}
