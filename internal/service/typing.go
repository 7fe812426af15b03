package service

import (
	"sync"
	"time"
)

// TypingNotifier collapses a burst of keystrokes into one start frame and
// one stop frame. Ping during an active burst only pushes the stop out;
// the stop fires after the idle window passes with no further pings.
type TypingNotifier struct {
	idle time.Duration
	send func(active bool)

	mu     sync.Mutex
	active bool
	timer  *time.Timer
	closed bool
}

// NewTypingNotifier creates a notifier that reports through send. send is
// called outside the notifier's lock.
func NewTypingNotifier(idle time.Duration, send func(active bool)) *TypingNotifier {
	if idle <= 0 {
		idle = time.Second
	}
	return &TypingNotifier{idle: idle, send: send}
}

// Ping records one keystroke.
func (n *TypingNotifier) Ping() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	starting := !n.active
	n.active = true
	if n.timer != nil {
		n.timer.Stop()
	}
	n.timer = time.AfterFunc(n.idle, n.expire)
	n.mu.Unlock()

	if starting {
		n.send(true)
	}
}

func (n *TypingNotifier) expire() {
	n.mu.Lock()
	if n.closed || !n.active {
		n.mu.Unlock()
		return
	}
	n.active = false
	n.timer = nil
	n.mu.Unlock()

	n.send(false)
}

// Flush ends the current burst immediately, used when a message is sent so
// the peer's indicator clears with the message rather than a second later.
func (n *TypingNotifier) Flush() {
	n.mu.Lock()
	if n.closed || !n.active {
		n.mu.Unlock()
		return
	}
	n.active = false
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
	n.mu.Unlock()

	n.send(false)
}

// Close stops the notifier without emitting a stop frame.
func (n *TypingNotifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
	n.active = false
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
}
