// Package statistics aggregates probe outcomes into session totals. An
// Aggregator is safe for concurrent use; every method holds its lock only
// for the duration of the call.
package statistics

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/thetooth/echoprobe/check"
	"github.com/thetooth/echoprobe/config"
)

// Aggregator keeps running totals over the probes of one session.
type Aggregator struct {
	mu sync.Mutex

	count       int
	transmitted int
	received    int
	lost        int

	rttSum time.Duration
	minRtt time.Duration
	timed  bool

	start    time.Time
	duration time.Duration
	finished bool

	now func() time.Time
}

// NewAggregator starts the session clock.
func NewAggregator() *Aggregator {
	return newAggregator(time.Now)
}

func newAggregator(now func() time.Time) *Aggregator {
	return &Aggregator{start: now(), now: now}
}

// Push adds one probe outcome. Outcomes pushed after Finish are dropped.
func (a *Aggregator) Push(o check.Outcome) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.finished {
		return
	}

	a.count++
	a.transmitted += o.Transmitted
	a.received += o.Received

	if o.Timed {
		a.rttSum += o.Rtt
		if !a.timed || o.Rtt < a.minRtt {
			a.minRtt = o.Rtt
		}
		a.timed = true
	}

	if o.Lost() {
		a.lost++
	}
}

// Finish records the session duration. Only the first call has an effect;
// later calls return the duration recorded by it.
func (a *Aggregator) Finish() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.finished {
		a.duration = a.now().Sub(a.start)
		a.finished = true
	}
	return a.duration
}

// Finished reports whether Finish has been called.
func (a *Aggregator) Finished() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.finished
}

// Snapshot returns the current totals. Before Finish the duration is the time
// elapsed so far.
func (a *Aggregator) Snapshot() Summary {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := Summary{
		Count:       a.count,
		PacketsSent: a.transmitted,
		PacketsRecv: a.received,
		PacketsLost: a.lost,
		PacketLoss:  percent(a.lost, a.count),
		Success:     percent(a.received, a.count),
		TotalRtt:    config.Interval{Duration: a.rttSum},
		MinRtt:      config.Interval{Duration: a.minRtt},
		Duration:    config.Interval{Duration: a.duration},
		Finished:    a.finished,
	}
	if a.count > 0 {
		// Probes without a reply count toward the average
		s.AvgRtt = config.Interval{Duration: a.rttSum / time.Duration(a.count)}
	}
	if !a.finished {
		s.Duration = config.Interval{Duration: a.now().Sub(a.start)}
	}

	return s
}

// Report formats the current totals for host.
func (a *Aggregator) Report(host string) string {
	return a.Snapshot().Report(host)
}

// Summary is a point in time copy of the aggregated statistics.
type Summary struct {
	Session string `json:"session,omitempty"`
	Host    string `json:"host,omitempty"`

	Count       int `json:"count"`
	PacketsSent int `json:"packets_sent"`
	PacketsRecv int `json:"packets_recv"`
	PacketsLost int `json:"packets_lost"`

	// PacketLoss and Success are percentages of Count
	PacketLoss float64 `json:"packet_loss"`
	Success    float64 `json:"success"`

	TotalRtt config.Interval `json:"total_rtt"`
	AvgRtt   config.Interval `json:"avg_rtt"`
	MinRtt   config.Interval `json:"min_rtt"`
	Duration config.Interval `json:"duration"`
	Finished bool            `json:"finished"`
}

// Report renders the summary the way ping prints its closing statistics.
func (s Summary) Report(host string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "--- %s ping statistics ---\n", host)
	fmt.Fprintf(&b, "%d packets transmitted, %d received, %.2f%% packet loss, time %dms\n",
		s.PacketsSent, s.PacketsRecv, s.PacketLoss, s.Duration.Milliseconds())
	fmt.Fprintf(&b, "avg: %.3fms / min: %.3fms / success: %.2f%%\n",
		milliseconds(s.AvgRtt.Duration), milliseconds(s.MinRtt.Duration), s.Success)

	return b.String()
}

func percent(part, total int) float64 {
	p := float64(part) / float64(total) * 100
	// Check ratio is not NaN
	if math.IsNaN(p) {
		return 0
	}
	return p
}

func milliseconds(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
