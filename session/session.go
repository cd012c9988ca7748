// Package session drives a sequence of probes against one host and prints the
// closing statistics exactly once, whether the loop runs out or an interrupt
// arrives first.
package session

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/thetooth/echoprobe/check"
	"github.com/thetooth/echoprobe/statistics"
	"golang.org/x/sync/errgroup"
)

// MaxSequence is the last sequence number a session will use. Sequence
// numbers never wrap.
const MaxSequence = math.MaxInt16

type Session struct {
	ID   uuid.UUID
	Host string

	// Count stops the session after that many probes, 0 means no limit.
	Count int

	// Interval is the pause after each probe, 0 skips it.
	Interval time.Duration

	// Out receives the interrupt notice and the final report.
	Out io.Writer

	// OnFinish is called once with the sealed statistics.
	OnFinish func(statistics.Summary)

	prober  check.Prober
	stats   *statistics.Aggregator
	running atomic.Bool
	once    sync.Once

	firstSeq int
	exit     func(code int)
}

func New(host string, prober check.Prober) *Session {
	s := &Session{
		ID:   uuid.New(),
		Host: host,
		Out:  os.Stdout,

		prober:   prober,
		stats:    statistics.NewAggregator(),
		firstSeq: 1,
		exit:     os.Exit,
	}
	s.running.Store(true)
	return s
}

// Statistics returns the aggregator shared by the probe loop and the
// interrupt handler.
func (s *Session) Statistics() *statistics.Aggregator {
	return s.stats
}

// Running is false once the session has been interrupted.
func (s *Session) Running() bool {
	return s.running.Load()
}

// Run probes until Count is reached, the sequence space is exhausted or ctx
// ends, then reports. A value on interrupt reports immediately and terminates
// the process without waiting for the probe in flight.
func (s *Session) Run(ctx context.Context, interrupt <-chan os.Signal) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		s.loop(ctx)
		s.Finalize()
		return nil
	})

	g.Go(func() error {
		select {
		case <-ctx.Done():
		case sig := <-interrupt:
			logrus.WithField("session", s.ID).Info("[ INTERRUPT ] signal: ", sig)
			s.Interrupt()
			s.exit(0)
		}
		return nil
	})

	return g.Wait()
}

func (s *Session) loop(ctx context.Context) {
	log := logrus.WithFields(logrus.Fields{"session": s.ID, "host": s.Host})
	log.Debug("[ SESSION_START ] count: ", s.Count, " interval: ", s.Interval)

	for seq := s.firstSeq; s.Count == 0 || seq <= s.Count; seq++ {
		if !s.running.Load() || ctx.Err() != nil {
			return
		}

		outcome := s.prober.Probe(ctx, int16(seq))
		s.stats.Push(outcome)
		log.WithField("seq", seq).Trace("Probe outcome: ", outcome)

		if seq >= MaxSequence && (s.Count == 0 || seq < s.Count) {
			log.Warn("[ SEQUENCE_EXHAUSTED ] seq: ", seq)
			fmt.Fprintln(s.Out, "max ping limit reached")
			return
		}

		if !s.sleep(ctx) {
			return
		}
	}
}

func (s *Session) sleep(ctx context.Context) bool {
	if s.Interval <= 0 {
		return true
	}

	t := time.NewTimer(s.Interval)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Interrupt stops the loop and reports, unless the report was already made.
func (s *Session) Interrupt() {
	s.running.Store(false)
	s.once.Do(func() {
		fmt.Fprintln(s.Out, "\nreceived interrupt")
		s.finish()
	})
}

// Finalize seals the statistics and prints the report. Only the first call
// to Finalize or Interrupt does anything.
func (s *Session) Finalize() {
	s.once.Do(s.finish)
}

func (s *Session) finish() {
	s.stats.Finish()

	summary := s.stats.Snapshot()
	summary.Session = s.ID.String()
	summary.Host = s.Host

	fmt.Fprint(s.Out, summary.Report(s.Host))

	logrus.WithFields(logrus.Fields{"session": s.ID, "host": s.Host}).Debug(
		"[ SESSION_FINISH ] sent: ", summary.PacketsSent, " recv: ", summary.PacketsRecv)

	if handler := s.OnFinish; handler != nil {
		handler(summary)
	}
}
