// Package devserver implements an in-memory stand-in for the production
// backend, complete enough to exercise the sync client end to end: JWT-less
// bearer auth, the task workflow endpoints, chat history and the WebSocket
// fan-out. Nothing survives a restart.
package devserver

import (
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/scholarline/taskdesk/internal/domain"
	"github.com/scholarline/taskdesk/internal/domain/task"
	"github.com/scholarline/taskdesk/internal/domain/user"
)

type account struct {
	user user.User
	hash []byte
}

// State holds every record the development server serves. All methods are
// safe for concurrent use.
type State struct {
	mu       sync.Mutex
	accounts map[string]*account // by username
	byID     map[int64]*account
	access   map[string]int64 // token -> user id
	refresh  map[string]int64
	tasks    map[int64]*task.Task
	messages map[int64][]task.ChatMessage
	unread   map[int64]map[int64]int // task id -> user id -> count

	nextUser int64
	nextTask int64
	nextMsg  int64
}

// NewState returns an empty State.
func NewState() *State {
	return &State{
		accounts: make(map[string]*account),
		byID:     make(map[int64]*account),
		access:   make(map[string]int64),
		refresh:  make(map[string]int64),
		tasks:    make(map[int64]*task.Task),
		messages: make(map[int64][]task.ChatMessage),
		unread:   make(map[int64]map[int64]int),
	}
}

// Register creates an account. Usernames are unique.
func (s *State) Register(username, email, password string, role user.Role) (user.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return user.User{}, fmt.Errorf("hash password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.accounts[username]; exists {
		return user.User{}, fmt.Errorf("username %q is taken", username)
	}
	s.nextUser++
	a := &account{
		user: user.User{ID: s.nextUser, Username: username, Email: email, Role: role},
		hash: hash,
	}
	s.accounts[username] = a
	s.byID[a.user.ID] = a
	return a.user, nil
}

// Login verifies credentials and mints an access/refresh token pair.
func (s *State) Login(username, password string) (access, refresh string, u user.User, err error) {
	s.mu.Lock()
	a, ok := s.accounts[username]
	s.mu.Unlock()
	if !ok {
		return "", "", user.User{}, domain.ErrUnauthorized
	}
	if bcrypt.CompareHashAndPassword(a.hash, []byte(password)) != nil {
		return "", "", user.User{}, domain.ErrUnauthorized
	}

	access = uuid.NewString()
	refresh = uuid.NewString()
	s.mu.Lock()
	s.access[access] = a.user.ID
	s.refresh[refresh] = a.user.ID
	s.mu.Unlock()
	return access, refresh, a.user, nil
}

// Refresh trades a refresh token for a fresh access token.
func (s *State) Refresh(token string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.refresh[token]
	if !ok {
		return "", domain.ErrUnauthorized
	}
	access := uuid.NewString()
	s.access[access] = id
	return access, nil
}

// UserForToken satisfies middleware.TokenValidator.
func (s *State) UserForToken(token string) (*user.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.access[token]
	if !ok {
		return nil, false
	}
	a, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	u := a.user
	return &u, true
}

// RevokeToken drops one access token, for testing expiry handling.
func (s *State) RevokeToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.access, token)
}

// CreateTask files a new task owned by the given client.
func (s *State) CreateTask(owner user.User, fields map[string]string) task.Task {
	now := time.Now()
	proposed, _ := strconv.ParseFloat(fields["proposed_budget"], 64)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextTask++
	t := &task.Task{
		ID:                s.nextTask,
		ClientID:          owner.ID,
		Title:             fields["title"],
		Description:       fields["description"],
		Subject:           fields["subject"],
		EducationLevel:    fields["education_level"],
		Status:            task.StatusSubmitted,
		NegotiationStatus: task.NegotiationPendingAdminReview,
		ProposedBudget:    proposed,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	s.tasks[t.ID] = t
	return t.Clone()
}

// TasksFor lists tasks visible to u: admins see everything, clients their own.
// Newest first, with the viewer's unread count attached.
func (s *State) TasksFor(u *user.User) []task.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []task.Task
	for _, t := range s.tasks {
		if u.Role != user.RoleAdmin && t.ClientID != u.ID {
			continue
		}
		c := t.Clone()
		c.UnreadCount = s.unread[t.ID][u.ID]
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

// Task returns one task by id.
func (s *State) Task(id int64) (task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return task.Task{}, domain.ErrNotFound
	}
	return t.Clone(), nil
}

// mutateTask applies fn to a task under the lock and returns the new copy.
func (s *State) mutateTask(id int64, fn func(*task.Task) error) (task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return task.Task{}, domain.ErrNotFound
	}
	if err := fn(t); err != nil {
		return task.Task{}, err
	}
	t.UpdatedAt = time.Now()
	return t.Clone(), nil
}

// AppendMessage stores a chat message and bumps unread counts for everyone
// except the sender.
func (s *State) AppendMessage(taskID int64, senderID int64, senderRole user.Role, senderName, body, fileName string) (task.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return task.ChatMessage{}, domain.ErrNotFound
	}

	s.nextMsg++
	msg := task.ChatMessage{
		ID:         s.nextMsg,
		TaskID:     taskID,
		Body:       body,
		Sender:     senderRole,
		SenderName: senderName,
		FileName:   fileName,
		CreatedAt:  time.Now(),
	}
	s.messages[taskID] = append(s.messages[taskID], msg)

	if s.unread[taskID] == nil {
		s.unread[taskID] = make(map[int64]int)
	}
	for _, a := range s.byID {
		if a.user.ID == senderID {
			continue
		}
		if a.user.Role == user.RoleAdmin || a.user.ID == t.ClientID {
			s.unread[taskID][a.user.ID]++
		}
	}
	return msg, nil
}

// Messages returns a task's chat history in order.
func (s *State) Messages(taskID int64) []task.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]task.ChatMessage(nil), s.messages[taskID]...)
}

// MarkRead zeroes the viewer's unread count for a task.
func (s *State) MarkRead(taskID, userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m := s.unread[taskID]; m != nil {
		m[userID] = 0
	}
}

// Stats aggregates the dashboard counters over all tasks.
func (s *State) Stats() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := map[task.Status]int{}
	var earnings float64
	for _, t := range s.tasks {
		counts[t.Status]++
		if t.Status == task.StatusCompleted && t.Budget != nil {
			earnings += *t.Budget
		}
	}
	return map[string]any{
		"total_tasks":        len(s.tasks),
		"submitted":          counts[task.StatusSubmitted],
		"budget_negotiation": counts[task.StatusBudgetNegotiation],
		"in_progress":        counts[task.StatusInProgress],
		"awaiting_review":    counts[task.StatusAwaitingReview],
		"completed":          counts[task.StatusCompleted],
		"total_earnings":     earnings,
	}
}
