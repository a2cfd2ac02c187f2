package main

import (
	"bytes"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPercentile(t *testing.T) {
	lat := make([]time.Duration, 100)
	for i := range lat {
		lat[i] = time.Duration(i+1) * time.Millisecond
	}
	assert.Equal(t, 50*time.Millisecond, percentile(lat, 50))
	assert.Equal(t, 99*time.Millisecond, percentile(lat, 99))
	assert.Equal(t, 100*time.Millisecond, percentile(lat, 100))
	assert.Equal(t, time.Millisecond, percentile(lat, 0))
	assert.Zero(t, percentile(nil, 50))
}

func TestStatsReport(t *testing.T) {
	s := NewStats()
	s.Record(10*time.Millisecond, 200, nil)
	s.Record(30*time.Millisecond, 200, nil)
	s.Record(20*time.Millisecond, 503, nil)
	s.Record(time.Second, 0, errors.New("connection refused"))

	r := s.Report(2 * time.Second)
	assert.Equal(t, int64(4), r.Total)
	assert.Equal(t, int64(2), r.Success)
	assert.Equal(t, int64(2), r.Errors)
	assert.InDelta(t, 2.0, r.RPS, 1e-9)
	assert.Equal(t, 10*time.Millisecond, r.Min)
	assert.Equal(t, 30*time.Millisecond, r.Max)
	assert.Equal(t, 20*time.Millisecond, r.Avg)
	assert.Equal(t, map[int]int64{200: 2, 503: 1}, r.Codes)

	var buf bytes.Buffer
	r.Print(&buf)
	assert.Contains(t, buf.String(), "503: 1")
	assert.Contains(t, buf.String(), "Error Rate:      50.00%")
}

func TestRetrieveURL(t *testing.T) {
	raw := retrieveURL("http://localhost:8080", "two bed & garage", 5)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "/retrieve/", u.Path)
	assert.Equal(t, "two bed & garage", u.Query().Get("term"))
	assert.Equal(t, "5", u.Query().Get("k"))
}
