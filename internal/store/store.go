// Package store holds the in-memory source of truth for task records and
// their chat messages. It supports the optimistic-mutation / server-reconcile
// cycle: patches apply immediately, server payloads replace wholesale, and a
// failed action restores a prior snapshot.
package store

import (
	"log/slog"
	"sync"

	"github.com/scholarline/taskdesk/internal/domain/task"
)

// ChangeKind labels what a mutation touched, for subscribers.
type ChangeKind string

const (
	ChangeTaskUpserted    ChangeKind = "task_upserted"
	ChangeTaskPatched     ChangeKind = "task_patched"
	ChangeTaskRolledBack  ChangeKind = "task_rolled_back"
	ChangeMessageAppended ChangeKind = "message_appended"
)

// Change describes one store mutation.
type Change struct {
	Kind   ChangeKind
	TaskID int64
}

// Patch is a shallow partial update for an optimistic local mutation. Nil
// fields are left untouched.
type Patch struct {
	Status            *task.Status
	NegotiationStatus *task.NegotiationStatus
	Budget            *float64
	ProposedBudget    *float64
	CounterBudget     *float64
	Progress          *int
	UnreadCount       *int
	WithdrawalReason  *string
}

// Store is the single shared mutable resource of the sync client. All
// mutations are synchronous; none may panic. Unknown-id patches are logged
// and ignored.
type Store struct {
	mu       sync.Mutex
	tasks    map[int64]*task.Task
	order    []int64
	messages map[int64][]task.ChatMessage
	subs     map[int]func(Change)
	nextSub  int
	log      *slog.Logger
}

// New creates an empty store.
func New(log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		tasks:    make(map[int64]*task.Task),
		messages: make(map[int64][]task.ChatMessage),
		subs:     make(map[int]func(Change)),
		log:      log,
	}
}

// Subscribe registers fn to run after every mutation. The returned function
// removes the subscription.
func (s *Store) Subscribe(fn func(Change)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// subscribersLocked snapshots the subscriber set; must hold s.mu. Callers
// fan out after releasing the lock so a subscriber may re-enter the store.
func (s *Store) subscribersLocked() []func(Change) {
	fns := make([]func(Change), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	return fns
}

func (s *Store) fanOut(c Change, fns []func(Change)) {
	for _, fn := range fns {
		fn(c)
	}
}

// UpsertTask inserts or fully replaces the task with matching ID. Server
// payloads always pass through here, so no field-level merge happens: the
// payload wins wholesale. New tasks are prepended (most recent first).
func (s *Store) UpsertTask(t task.Task) {
	s.mu.Lock()
	if _, ok := s.tasks[t.ID]; !ok {
		s.order = append([]int64{t.ID}, s.order...)
	}
	cp := t.Clone()
	s.tasks[t.ID] = &cp
	c := Change{Kind: ChangeTaskUpserted, TaskID: t.ID}
	fns := s.subscribersLocked()
	s.mu.Unlock()

	s.fanOut(c, fns)
}

// Has reports whether a task with the given ID exists.
func (s *Store) Has(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[id]
	return ok
}

// PatchTask shallow-merges a partial update into an existing task. A patch
// against an unknown ID is a warning, not an error.
func (s *Store) PatchTask(id int64, p Patch) {
	s.mu.Lock()
	t, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		s.log.Warn("patch for unknown task", "task_id", id)
		return
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.NegotiationStatus != nil {
		t.NegotiationStatus = *p.NegotiationStatus
	}
	if p.Budget != nil {
		v := *p.Budget
		t.Budget = &v
	}
	if p.ProposedBudget != nil {
		t.ProposedBudget = *p.ProposedBudget
	}
	if p.CounterBudget != nil {
		v := *p.CounterBudget
		t.CounterBudget = &v
	}
	if p.Progress != nil {
		t.Progress = *p.Progress
	}
	if p.UnreadCount != nil {
		t.UnreadCount = *p.UnreadCount
	}
	if p.WithdrawalReason != nil {
		t.WithdrawalReason = *p.WithdrawalReason
	}
	c := Change{Kind: ChangeTaskPatched, TaskID: id}
	fns := s.subscribersLocked()
	s.mu.Unlock()

	s.fanOut(c, fns)
}

// RollbackTask restores a prior full snapshot after a failed optimistic
// mutation. Rolling back an unknown ID is a warning, not an error.
func (s *Store) RollbackTask(id int64, snapshot task.Task) {
	s.mu.Lock()
	if _, ok := s.tasks[id]; !ok {
		s.mu.Unlock()
		s.log.Warn("rollback for unknown task", "task_id", id)
		return
	}
	cp := snapshot.Clone()
	s.tasks[id] = &cp
	c := Change{Kind: ChangeTaskRolledBack, TaskID: id}
	fns := s.subscribersLocked()
	s.mu.Unlock()

	s.fanOut(c, fns)
}

// Snapshot returns a deep copy of the task, suitable for a later rollback.
func (s *Store) Snapshot(id int64) (task.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return task.Task{}, false
	}
	return t.Clone(), true
}

// Task returns a copy of the task with the given ID.
func (s *Store) Task(id int64) (task.Task, bool) {
	return s.Snapshot(id)
}

// List returns all tasks, most recently announced first.
func (s *Store) List() []task.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]task.Task, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.tasks[id].Clone())
	}
	return out
}

// AppendMessage appends a chat message to a task's history. A server message
// replaces an optimistic placeholder with matching sender and body, in place,
// so ordering survives the swap. Duplicate server IDs are dropped.
func (s *Store) AppendMessage(taskID int64, msg task.ChatMessage) {
	s.mu.Lock()
	msgs := s.messages[taskID]

	if !msg.Temp() {
		for i := range msgs {
			if msgs[i].ID == msg.ID {
				s.mu.Unlock()
				return
			}
		}
		for i := range msgs {
			if msgs[i].Temp() && msgs[i].Sender == msg.Sender && msgs[i].Body == msg.Body {
				msgs[i] = msg
				s.messages[taskID] = msgs
				c := Change{Kind: ChangeMessageAppended, TaskID: taskID}
				fns := s.subscribersLocked()
				s.mu.Unlock()
				s.fanOut(c, fns)
				return
			}
		}
	}

	s.messages[taskID] = append(msgs, msg)
	c := Change{Kind: ChangeMessageAppended, TaskID: taskID}
	fns := s.subscribersLocked()
	s.mu.Unlock()

	s.fanOut(c, fns)
}

// SetMessages replaces a task's chat history, used when history loads from
// the server. Optimistic placeholders already present are kept at the tail.
func (s *Store) SetMessages(taskID int64, msgs []task.ChatMessage) {
	s.mu.Lock()
	var pending []task.ChatMessage
	for _, m := range s.messages[taskID] {
		if m.Temp() {
			pending = append(pending, m)
		}
	}
	s.messages[taskID] = append(append([]task.ChatMessage{}, msgs...), pending...)
	c := Change{Kind: ChangeMessageAppended, TaskID: taskID}
	fns := s.subscribersLocked()
	s.mu.Unlock()

	s.fanOut(c, fns)
}

// DropMessage removes one message by ID, used to take back an optimistic
// placeholder whose send failed. Unknown IDs are ignored.
func (s *Store) DropMessage(taskID, msgID int64) {
	s.mu.Lock()
	msgs := s.messages[taskID]
	for i := range msgs {
		if msgs[i].ID == msgID {
			s.messages[taskID] = append(msgs[:i], msgs[i+1:]...)
			c := Change{Kind: ChangeMessageAppended, TaskID: taskID}
			fns := s.subscribersLocked()
			s.mu.Unlock()
			s.fanOut(c, fns)
			return
		}
	}
	s.mu.Unlock()
}

// Messages returns a copy of a task's chat history in order.
func (s *Store) Messages(taskID int64) []task.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]task.ChatMessage(nil), s.messages[taskID]...)
}
