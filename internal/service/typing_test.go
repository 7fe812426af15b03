package service

import (
	"sync"
	"testing"
	"time"
)

type frameLog struct {
	mu     sync.Mutex
	frames []bool
}

func (l *frameLog) record(active bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.frames = append(l.frames, active)
}

func (l *frameLog) snapshot() []bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]bool(nil), l.frames...)
}

func TestTypingFlushEndsBurstImmediately(t *testing.T) {
	log := &frameLog{}
	n := NewTypingNotifier(time.Hour, log.record)
	defer n.Close()

	n.Ping()
	n.Ping()
	n.Flush()

	got := log.snapshot()
	if len(got) != 2 || !got[0] || got[1] {
		t.Fatalf("frames = %v, want [true false]", got)
	}
}

func TestTypingNewBurstAfterStop(t *testing.T) {
	log := &frameLog{}
	n := NewTypingNotifier(10*time.Millisecond, log.record)
	defer n.Close()

	n.Ping()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(log.snapshot()) == 2 {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}

	n.Ping()
	n.Flush()

	got := log.snapshot()
	want := []bool{true, false, true, false}
	if len(got) != len(want) {
		t.Fatalf("frames = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("frames = %v, want %v", got, want)
		}
	}
}

func TestTypingCloseSuppressesStop(t *testing.T) {
	log := &frameLog{}
	n := NewTypingNotifier(5*time.Millisecond, log.record)

	n.Ping()
	n.Close()
	time.Sleep(20 * time.Millisecond)

	got := log.snapshot()
	if len(got) != 1 || !got[0] {
		t.Fatalf("frames = %v, want just the start", got)
	}
}
