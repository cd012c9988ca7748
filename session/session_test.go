package session

import (
	"bytes"
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/thetooth/echoprobe/check"
	"github.com/thetooth/echoprobe/statistics"
)

// syncBuffer is written by the probe loop and the interrupt handler.
type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (w *syncBuffer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.b.Write(p)
}

func (w *syncBuffer) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.b.String()
}

// fakeProber records sequence numbers and answers with outcome.
type fakeProber struct {
	mu      sync.Mutex
	seqs    []int16
	outcome func(seq int16) check.Outcome
}

func (p *fakeProber) Probe(ctx context.Context, seq int16) check.Outcome {
	p.mu.Lock()
	p.seqs = append(p.seqs, seq)
	p.mu.Unlock()
	if p.outcome != nil {
		return p.outcome(seq)
	}
	return check.Outcome{Transmitted: 1, Received: 1, Rtt: time.Millisecond, Timed: true}
}

func (p *fakeProber) sequences() []int16 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int16(nil), p.seqs...)
}

func newTestSession(prober check.Prober) (*Session, *syncBuffer, *[]statistics.Summary) {
	out := &syncBuffer{}
	finished := &[]statistics.Summary{}

	s := New("example.com", prober)
	s.Out = out
	s.OnFinish = func(sum statistics.Summary) { *finished = append(*finished, sum) }
	s.exit = func(int) {}
	return s, out, finished
}

func TestRunCount(t *testing.T) {
	prober := &fakeProber{outcome: func(seq int16) check.Outcome {
		if seq == 2 {
			return check.Outcome{Transmitted: 1, Rtt: 5 * time.Millisecond, Timed: true}
		}
		return check.Outcome{Transmitted: 1, Received: 1, Rtt: time.Duration(seq) * time.Millisecond, Timed: true}
	}}
	s, out, finished := newTestSession(prober)
	s.Count = 3

	if err := s.Run(context.Background(), nil); err != nil {
		t.Fatal(err)
	}

	seqs := prober.sequences()
	if len(seqs) != 3 || seqs[0] != 1 || seqs[1] != 2 || seqs[2] != 3 {
		t.Errorf("probed sequences %v, want [1 2 3]", seqs)
	}

	if len(*finished) != 1 {
		t.Fatalf("OnFinish called %d times", len(*finished))
	}
	sum := (*finished)[0]
	if sum.Count != 3 || sum.PacketsSent != 3 || sum.PacketsRecv != 2 || !sum.Finished {
		t.Errorf("unexpected summary %+v", sum)
	}
	if sum.Session != s.ID.String() || sum.Host != "example.com" {
		t.Errorf("summary not labelled: %+v", sum)
	}

	report := out.String()
	if strings.Count(report, "--- example.com ping statistics ---") != 1 {
		t.Errorf("report printed other than once:\n%s", report)
	}
	if !strings.Contains(report, "3 packets transmitted, 2 received, 33.33% packet loss") {
		t.Errorf("unexpected report:\n%s", report)
	}
	if strings.Contains(report, "max ping limit") || strings.Contains(report, "interrupt") {
		t.Errorf("unexpected notice in report:\n%s", report)
	}
}

func TestRunSequenceExhausted(t *testing.T) {
	prober := &fakeProber{}
	s, out, finished := newTestSession(prober)
	s.firstSeq = MaxSequence - 2

	done := make(chan error)
	go func() { done <- s.Run(context.Background(), nil) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("unbounded session did not stop at the last sequence number")
	}

	seqs := prober.sequences()
	expected := []int16{MaxSequence - 2, MaxSequence - 1, MaxSequence}
	if len(seqs) != len(expected) {
		t.Fatalf("probed sequences %v, want %v", seqs, expected)
	}
	for i := range expected {
		if seqs[i] != expected[i] {
			t.Errorf("probed sequences %v, want %v", seqs, expected)
		}
	}

	if len(*finished) != 1 || (*finished)[0].Count != 3 {
		t.Errorf("finished summaries %+v", *finished)
	}
	report := out.String()
	if !strings.Contains(report, "max ping limit reached\n--- example.com ping statistics ---") {
		t.Errorf("unexpected output:\n%s", report)
	}
	if strings.Count(report, "ping statistics") != 1 {
		t.Errorf("report printed other than once:\n%s", report)
	}
}

func TestRunWholeSequenceSpace(t *testing.T) {
	prober := &fakeProber{outcome: func(int16) check.Outcome { return check.Outcome{} }}
	s, _, finished := newTestSession(prober)

	if err := s.Run(context.Background(), nil); err != nil {
		t.Fatal(err)
	}

	seqs := prober.sequences()
	if len(seqs) != MaxSequence {
		t.Fatalf("%d probes, want %d", len(seqs), MaxSequence)
	}
	for i, seq := range seqs {
		if int(seq) != i+1 {
			t.Fatalf("probe %d used sequence %d", i, seq)
		}
	}
	if len(*finished) != 1 || (*finished)[0].Count != MaxSequence {
		t.Errorf("unexpected summaries %+v", *finished)
	}
}

func TestRunCountAtSequenceLimit(t *testing.T) {
	prober := &fakeProber{}
	s, out, _ := newTestSession(prober)
	s.firstSeq = MaxSequence - 1
	s.Count = MaxSequence

	if err := s.Run(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	if len(prober.sequences()) != 2 {
		t.Errorf("probed %v", prober.sequences())
	}
	if strings.Contains(out.String(), "max ping limit") {
		t.Errorf("count completion reported as exhaustion:\n%s", out.String())
	}
}

func TestRunInterrupt(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	prober := &fakeProber{outcome: func(seq int16) check.Outcome {
		if seq == 2 {
			close(entered)
			<-release
		}
		return check.Outcome{Transmitted: 1, Received: 1, Rtt: 2 * time.Millisecond, Timed: true}
	}}
	s, out, finished := newTestSession(prober)

	exited := make(chan int, 1)
	s.exit = func(code int) { exited <- code }

	interrupt := make(chan os.Signal, 1)
	done := make(chan error)
	go func() { done <- s.Run(context.Background(), interrupt) }()

	<-entered
	interrupt <- os.Interrupt

	// The report must not wait for the blocked probe
	select {
	case code := <-exited:
		if code != 0 {
			t.Errorf("exit code %d", code)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("interrupt did not terminate")
	}

	report := out.String()
	if !strings.Contains(report, "\nreceived interrupt\n--- example.com ping statistics ---") {
		t.Errorf("unexpected output:\n%s", report)
	}
	if !strings.Contains(report, "1 packets transmitted, 1 received") {
		t.Errorf("report does not reflect the completed probe:\n%s", report)
	}
	if s.Running() {
		t.Error("session still running after interrupt")
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatal(err)
	}

	if n := len(prober.sequences()); n != 2 {
		t.Errorf("%d probes issued, loop continued after interrupt", n)
	}
	if strings.Count(out.String(), "ping statistics") != 1 || len(*finished) != 1 {
		t.Errorf("report printed other than once:\n%s", out.String())
	}
	if !s.Statistics().Finished() {
		t.Error("statistics not sealed")
	}
}

func TestRunContextCancelDuringSleep(t *testing.T) {
	prober := &fakeProber{}
	s, out, _ := newTestSession(prober)
	s.Count = 5
	s.Interval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	done := make(chan error)
	go func() { done <- s.Run(ctx, nil) }()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("sleep ignored cancellation")
	}
	if len(prober.sequences()) != 1 {
		t.Errorf("probed %v", prober.sequences())
	}
	if strings.Count(out.String(), "ping statistics") != 1 {
		t.Errorf("unexpected output:\n%s", out.String())
	}
}

func TestInterval(t *testing.T) {
	prober := &fakeProber{}
	s, _, _ := newTestSession(prober)
	s.Count = 3
	s.Interval = 10 * time.Millisecond

	start := time.Now()
	if err := s.Run(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed < 3*s.Interval {
		t.Errorf("three probes finished in %v with a %v interval", elapsed, s.Interval)
	}
}

func TestFinalizeOnce(t *testing.T) {
	s, out, finished := newTestSession(&fakeProber{})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.Finalize()
		}()
		go func() {
			defer wg.Done()
			s.Interrupt()
		}()
	}
	wg.Wait()

	if strings.Count(out.String(), "ping statistics") != 1 || len(*finished) != 1 {
		t.Errorf("report printed other than once:\n%s", out.String())
	}
}
