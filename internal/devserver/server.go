package devserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/scholarline/taskdesk/internal/adapter/otel"
	"github.com/scholarline/taskdesk/internal/domain"
	"github.com/scholarline/taskdesk/internal/domain/task"
	"github.com/scholarline/taskdesk/internal/domain/user"
	"github.com/scholarline/taskdesk/internal/middleware"
)

// Server is the development backend: REST API plus WebSocket fan-out over
// a single in-memory State.
type Server struct {
	state  *State
	hub    *Hub
	log    *slog.Logger
	router chi.Router
}

// New assembles the server and its routes.
func New(log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{state: NewState(), log: log}
	s.hub = NewHub(s.state, log)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(otel.Middleware("taskdesk-devserver"))
	r.Use(middleware.Auth(s.state))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Auth
	r.Post("/api/token/", s.login)
	r.Post("/api/token/refresh/", s.refresh)
	r.Post("/api/register/", s.register)
	r.Get("/api/auth/user/", s.currentUser)
	r.Post("/api/auth/password-reset/", s.passwordResetStub)
	r.Post("/api/auth/password-reset-confirm/", s.passwordResetStub)
	r.Post("/api/auth/password-reset-complete/", s.passwordResetStub)

	// Tasks, shared surface
	r.Get("/api/tasks/", s.listTasks)
	r.Post("/api/tasks/", s.createTask)
	r.Get("/api/tasks/{id}/chat/", s.chatHistory)
	r.Post("/api/tasks/{id}/chat/", s.postChat)
	r.Post("/api/tasks/{id}/mark-read/", s.markRead)

	// Client actions
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireRole(user.RoleClient))
		r.Post("/api/tasks/{id}/accept-budget/", s.action(func(id int64, u *user.User, _ actionBody) (task.Task, error) {
			return s.state.AcceptBudget(id, u)
		}, "Budget accepted"))
		r.Post("/api/tasks/{id}/counter-budget/", s.action(func(id int64, _ *user.User, b actionBody) (task.Task, error) {
			return s.state.CounterBudget(id, b.Amount, b.Reason)
		}, "Counter offer sent"))
		r.Post("/api/tasks/{id}/reject-budget/", s.action(func(id int64, _ *user.User, _ actionBody) (task.Task, error) {
			return s.state.RejectBudget(id)
		}, "Budget rejected"))
		r.Post("/api/tasks/{id}/withdraw/", s.action(func(id int64, _ *user.User, b actionBody) (task.Task, error) {
			return s.state.Withdraw(id, b.Reason)
		}, "Task withdrawn"))
		r.Post("/api/tasks/{id}/approve/", s.action(func(id int64, _ *user.User, _ actionBody) (task.Task, error) {
			return s.state.Approve(id)
		}, "Work approved"))
		r.Post("/api/tasks/{id}/request-revision/", s.action(func(id int64, _ *user.User, b actionBody) (task.Task, error) {
			return s.state.RequestRevision(id, b.Feedback)
		}, "Revision requested"))
	})

	// Admin actions
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireRole(user.RoleAdmin))
		r.Get("/api/admin/tasks/", s.listTasks)
		r.Get("/api/admin/stats/", s.stats)
		r.Post("/api/admin/tasks/{id}/accept/", s.action(func(id int64, u *user.User, _ actionBody) (task.Task, error) {
			return s.state.Accept(id, u)
		}, "Task accepted"))
		r.Post("/api/admin/tasks/{id}/accept-budget/", s.action(func(id int64, u *user.User, _ actionBody) (task.Task, error) {
			return s.state.AcceptBudget(id, u)
		}, "Budget accepted"))
		r.Post("/api/admin/tasks/{id}/reject/", s.action(func(id int64, _ *user.User, b actionBody) (task.Task, error) {
			return s.state.RejectTask(id, b.Reason)
		}, "Task rejected"))
		r.Post("/api/admin/tasks/{id}/propose-budget/", s.action(func(id int64, u *user.User, b actionBody) (task.Task, error) {
			return s.state.ProposeBudget(id, u, b.Amount, b.Reason)
		}, "Budget proposed"))
		r.Post("/api/admin/tasks/{id}/update-progress/", s.action(func(id int64, _ *user.User, b actionBody) (task.Task, error) {
			return s.state.UpdateProgress(id, b.Progress)
		}, "Progress updated"))
		r.Post("/api/admin/tasks/{id}/submit-review/", s.action(func(id int64, _ *user.User, _ actionBody) (task.Task, error) {
			return s.state.SubmitReview(id)
		}, "Submitted for review"))
		r.Post("/api/admin/tasks/{id}/mark-complete/", s.action(func(id int64, _ *user.User, _ actionBody) (task.Task, error) {
			return s.state.MarkComplete(id)
		}, "Task completed"))
		r.Post("/api/admin/tasks/{id}/upload-solution/", s.uploadSolution)
	})

	// WebSocket endpoints
	r.Get("/ws/admin/", s.hub.HandleMailbox)
	r.Get("/ws/client/", s.hub.HandleMailbox)
	r.Get("/ws/task/{id}/", s.wsTask)

	s.router = r
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// State exposes the backing store, for seeding and tests.
func (s *Server) State() *State { return s.state }

// Seed creates the demo accounts used by the CLI walkthrough.
func (s *Server) Seed() error {
	if _, err := s.state.Register("admin", "admin@localhost", "admin", user.RoleAdmin); err != nil {
		return err
	}
	_, err := s.state.Register("client", "client@localhost", "client", user.RoleClient)
	return err
}

func userFrom(r *http.Request) *user.User {
	return middleware.UserFromContext(r.Context())
}

func taskID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

// actionBody is the union of every action payload.
type actionBody struct {
	Amount   float64 `json:"amount"`
	Reason   string  `json:"reason"`
	Feedback string  `json:"feedback"`
	Progress int     `json:"progress"`
}

// action wraps one workflow transition: decode, apply, broadcast, respond.
func (s *Server) action(fn func(id int64, u *user.User, b actionBody) (task.Task, error), message string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := taskID(r)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid task id")
			return
		}
		var body actionBody
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&body) // empty bodies are fine
		}

		t, err := fn(id, userFrom(r), body)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				writeError(w, http.StatusNotFound, "task not found")
				return
			}
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		s.hub.BroadcastTask(r.Context(), "task_updated", t)
		writeJSON(w, http.StatusOK, map[string]any{"task": t, "message": message})
	}
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	access, refresh, _, err := s.state.Login(req.Username, req.Password)
	if err != nil {
		s.log.Debug("login failed", "username", req.Username)
		writeError(w, http.StatusUnauthorized, "no active account found with the given credentials")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"access": access, "refresh": refresh})
}

func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Refresh string `json:"refresh"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	access, err := s.state.Refresh(req.Refresh)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"access": access})
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string    `json:"username"`
		Email    string    `json:"email"`
		Password string    `json:"password"`
		Role     user.Role `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}
	if !req.Role.Valid() {
		req.Role = user.RoleClient
	}

	u, err := s.state.Register(req.Username, req.Email, req.Password, req.Role)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

func (s *Server) currentUser(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, userFrom(r))
}

func (s *Server) passwordResetStub(w http.ResponseWriter, _ *http.Request) {
	// The dev server has no mail pipeline; accept and move on.
	writeJSON(w, http.StatusOK, map[string]string{"detail": "ok"})
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.state.TasksFor(userFrom(r)))
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "expected multipart form data")
		return
	}
	if r.FormValue("title") == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}

	fields := map[string]string{}
	for _, k := range []string{"title", "description", "subject", "education_level", "deadline", "timezone_str", "proposed_budget"} {
		fields[k] = r.FormValue(k)
	}
	t := s.state.CreateTask(*userFrom(r), fields)

	s.hub.BroadcastTask(r.Context(), "task_created", t)
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) chatHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}
	if _, err := s.state.Task(id); err != nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	msgs := s.state.Messages(id)
	if msgs == nil {
		msgs = []task.ChatMessage{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) postChat(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}
	u := userFrom(r)

	body, fileName := "", ""
	if err := r.ParseMultipartForm(32 << 20); err == nil {
		body = r.FormValue("message")
		if f, hdr, ferr := r.FormFile("file"); ferr == nil {
			fileName = hdr.Filename
			_ = f.Close()
		}
	} else {
		var req struct {
			Message string `json:"message"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		body = req.Message
	}
	if body == "" && fileName == "" {
		writeError(w, http.StatusBadRequest, "message or file is required")
		return
	}

	msg, err := s.state.AppendMessage(id, u.ID, u.Role, u.Username, body, fileName)
	if err != nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}

	s.hub.BroadcastChat(r.Context(), msg)
	writeJSON(w, http.StatusCreated, msg)
}

func (s *Server) markRead(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}
	s.state.MarkRead(id, userFrom(r).ID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) stats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.state.Stats())
}

func (s *Server) uploadSolution(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}
	if err := r.ParseMultipartForm(64 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "expected multipart form data")
		return
	}
	f, hdr, err := r.FormFile("solution")
	if err != nil {
		writeError(w, http.StatusBadRequest, "solution file is required")
		return
	}
	_ = f.Close()

	t, err := s.state.AttachSolution(id, hdr.Filename, hdr.Size)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.hub.BroadcastTask(r.Context(), "task_updated", t)
	writeJSON(w, http.StatusOK, map[string]any{"task": t, "message": "Solution uploaded"})
}

func (s *Server) wsTask(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}
	s.hub.HandleTask(id)(w, r)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
