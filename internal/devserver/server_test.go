package devserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/scholarline/taskdesk/internal/domain/task"
	"github.com/scholarline/taskdesk/internal/domain/user"
)

type testEnv struct {
	t      *testing.T
	srv    *httptest.Server
	server *Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	s := New(nil)
	if err := s.Seed(); err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &testEnv{t: t, srv: srv, server: s}
}

// login returns the access token for one of the seeded accounts.
func (e *testEnv) login(username, password string) string {
	e.t.Helper()
	body, status := e.do("POST", "/api/token/", "", map[string]string{
		"username": username, "password": password,
	})
	if status != http.StatusOK {
		e.t.Fatalf("login %s: status %d: %s", username, status, body)
	}
	var tok struct {
		Access string `json:"access"`
	}
	if err := json.Unmarshal(body, &tok); err != nil {
		e.t.Fatal(err)
	}
	return tok.Access
}

func (e *testEnv) do(method, path, token string, payload any) ([]byte, int) {
	e.t.Helper()
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			e.t.Fatal(err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, body)
	if err != nil {
		e.t.Fatal(err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		e.t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		e.t.Fatal(err)
	}
	return data, resp.StatusCode
}

func (e *testEnv) createTask(token, title, budget string) task.Task {
	e.t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("title", title)
	_ = mw.WriteField("proposed_budget", budget)
	_ = mw.Close()

	req, err := http.NewRequest("POST", e.srv.URL+"/api/tasks/", &buf)
	if err != nil {
		e.t.Fatal(err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		e.t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusCreated {
		e.t.Fatalf("create task: status %d", resp.StatusCode)
	}
	var created task.Task
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		e.t.Fatal(err)
	}
	return created
}

func actionTask(t *testing.T, body []byte) task.Task {
	t.Helper()
	var res struct {
		Task task.Task `json:"task"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		t.Fatalf("decode action result: %v: %s", err, body)
	}
	return res.Task
}

func TestLoginRejectsBadPassword(t *testing.T) {
	e := newTestEnv(t)
	_, status := e.do("POST", "/api/token/", "", map[string]string{
		"username": "client", "password": "wrong",
	})
	if status != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", status)
	}
}

func TestNegotiationWorkflowToCompletion(t *testing.T) {
	e := newTestEnv(t)
	client := e.login("client", "client")
	admin := e.login("admin", "admin")

	created := e.createTask(client, "Essay on Go", "50")
	if created.Status != task.StatusSubmitted {
		t.Fatalf("created status = %s", created.Status)
	}
	base := fmt.Sprintf("/api/admin/tasks/%d", created.ID)
	clientBase := fmt.Sprintf("/api/tasks/%d", created.ID)

	// Admin counters with 80, client counters back with 65, admin accepts.
	body, status := e.do("POST", base+"/propose-budget/", admin, map[string]any{"amount": 80})
	if status != http.StatusOK {
		t.Fatalf("propose: %d: %s", status, body)
	}
	if got := actionTask(t, body); got.NegotiationStatus != task.NegotiationPendingStudentResponse {
		t.Fatalf("after propose: %+v", got)
	}

	body, status = e.do("POST", clientBase+"/counter-budget/", client, map[string]any{"amount": 65})
	if status != http.StatusOK {
		t.Fatalf("counter: %d: %s", status, body)
	}

	body, status = e.do("POST", base+"/accept-budget/", admin, nil)
	if status != http.StatusOK {
		t.Fatalf("accept-budget: %d: %s", status, body)
	}
	inProgress := actionTask(t, body)
	if inProgress.Status != task.StatusInProgress || inProgress.Budget == nil || *inProgress.Budget != 65 {
		t.Fatalf("after accept: %+v", inProgress)
	}

	// Delivery and review.
	if _, status = e.do("POST", base+"/update-progress/", admin, map[string]any{"progress": 60}); status != http.StatusOK {
		t.Fatalf("update-progress: %d", status)
	}
	if _, status = e.do("POST", base+"/submit-review/", admin, nil); status != http.StatusOK {
		t.Fatalf("submit-review: %d", status)
	}
	body, status = e.do("POST", clientBase+"/approve/", client, nil)
	if status != http.StatusOK {
		t.Fatalf("approve: %d: %s", status, body)
	}
	if got := actionTask(t, body); got.Status != task.StatusCompleted {
		t.Fatalf("final status = %s", got.Status)
	}

	// Completed earnings show in the stats.
	body, status = e.do("GET", "/api/admin/stats/", admin, nil)
	if status != http.StatusOK {
		t.Fatalf("stats: %d", status)
	}
	var stats struct {
		Completed     int     `json:"completed"`
		TotalEarnings float64 `json:"total_earnings"`
	}
	if err := json.Unmarshal(body, &stats); err != nil {
		t.Fatal(err)
	}
	if stats.Completed != 1 || stats.TotalEarnings != 65 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestInvalidTransitionRejected(t *testing.T) {
	e := newTestEnv(t)
	client := e.login("client", "client")
	created := e.createTask(client, "essay", "40")

	// Nothing has been delivered, so approve must fail.
	_, status := e.do("POST", fmt.Sprintf("/api/tasks/%d/approve/", created.ID), client, nil)
	if status != http.StatusBadRequest {
		t.Errorf("approve on submitted task: status = %d, want 400", status)
	}
}

func TestRoleSeparation(t *testing.T) {
	e := newTestEnv(t)
	client := e.login("client", "client")
	admin := e.login("admin", "admin")
	created := e.createTask(client, "essay", "40")

	if _, status := e.do("GET", "/api/admin/stats/", client, nil); status != http.StatusForbidden {
		t.Errorf("client reading admin stats: %d, want 403", status)
	}
	path := fmt.Sprintf("/api/tasks/%d/withdraw/", created.ID)
	if _, status := e.do("POST", path, admin, map[string]any{"reason": "nope"}); status != http.StatusForbidden {
		t.Errorf("admin withdrawing a client task: %d, want 403", status)
	}
	if _, status := e.do("GET", "/api/tasks/", "", nil); status != http.StatusUnauthorized {
		t.Errorf("unauthenticated list: %d, want 401", status)
	}
}

func TestClientSeesOnlyOwnTasks(t *testing.T) {
	e := newTestEnv(t)
	if _, status := e.do("POST", "/api/register/", "", map[string]any{
		"username": "other", "password": "pw",
	}); status != http.StatusCreated {
		t.Fatalf("register: %d", status)
	}

	client := e.login("client", "client")
	other := e.login("other", "pw")
	admin := e.login("admin", "admin")
	e.createTask(client, "mine", "10")
	e.createTask(other, "theirs", "20")

	var mine []task.Task
	body, _ := e.do("GET", "/api/tasks/", client, nil)
	if err := json.Unmarshal(body, &mine); err != nil {
		t.Fatal(err)
	}
	if len(mine) != 1 || mine[0].Title != "mine" {
		t.Errorf("client list = %+v", mine)
	}

	var all []task.Task
	body, _ = e.do("GET", "/api/tasks/", admin, nil)
	if err := json.Unmarshal(body, &all); err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Errorf("admin sees %d tasks, want 2", len(all))
	}
}

func TestChatHistoryAndUnread(t *testing.T) {
	e := newTestEnv(t)
	client := e.login("client", "client")
	admin := e.login("admin", "admin")
	created := e.createTask(client, "essay", "30")

	chat := fmt.Sprintf("/api/tasks/%d/chat/", created.ID)
	if _, status := e.do("POST", chat, admin, map[string]string{"message": "any questions?"}); status != http.StatusCreated {
		t.Fatalf("post chat: %d", status)
	}

	var msgs []task.ChatMessage
	body, _ := e.do("GET", chat, client, nil)
	if err := json.Unmarshal(body, &msgs); err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Body != "any questions?" || msgs[0].Sender != user.RoleAdmin {
		t.Fatalf("history = %+v", msgs)
	}

	var listed []task.Task
	body, _ = e.do("GET", "/api/tasks/", client, nil)
	if err := json.Unmarshal(body, &listed); err != nil {
		t.Fatal(err)
	}
	if listed[0].UnreadCount != 1 {
		t.Errorf("unread = %d, want 1", listed[0].UnreadCount)
	}

	if _, status := e.do("POST", fmt.Sprintf("/api/tasks/%d/mark-read/", created.ID), client, nil); status != http.StatusOK {
		t.Fatal("mark-read failed")
	}
	body, _ = e.do("GET", "/api/tasks/", client, nil)
	if err := json.Unmarshal(body, &listed); err != nil {
		t.Fatal(err)
	}
	if listed[0].UnreadCount != 0 {
		t.Errorf("unread after mark-read = %d", listed[0].UnreadCount)
	}
}

func wsURL(httpURL, path, token string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http") + path + "?token=" + token
}

// waitConns blocks until the hub has registered n connections; the upgrade
// response races the hub bookkeeping by a few microseconds.
func (e *testEnv) waitConns(n int) {
	e.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if e.server.hub.ConnectionCount() >= n {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	e.t.Fatalf("hub never reached %d connections", n)
}

func readFrame(t *testing.T, ctx context.Context, c *websocket.Conn) frame {
	t.Helper()
	var f frame
	_, data, err := c.Read(ctx)
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	return f
}

func TestMailboxReceivesTaskUpdates(t *testing.T) {
	e := newTestEnv(t)
	client := e.login("client", "client")
	admin := e.login("admin", "admin")
	created := e.createTask(client, "essay", "30")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, _, err := websocket.Dial(ctx, wsURL(e.srv.URL, "/ws/client/", client), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = c.Close(websocket.StatusNormalClosure, "") }()
	e.waitConns(1)

	path := fmt.Sprintf("/api/admin/tasks/%d/propose-budget/", created.ID)
	if _, status := e.do("POST", path, admin, map[string]any{"amount": 99}); status != http.StatusOK {
		t.Fatalf("propose: %d", status)
	}

	f := readFrame(t, ctx, c)
	if f.Type != "task_updated" || f.Task == nil || f.Task.ProposedBudget != 99 {
		t.Fatalf("frame = %+v", f)
	}
}

func TestTaskSocketChatRoundTrip(t *testing.T) {
	e := newTestEnv(t)
	client := e.login("client", "client")
	admin := e.login("admin", "admin")
	created := e.createTask(client, "essay", "30")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	path := fmt.Sprintf("/ws/task/%d/", created.ID)
	clientConn, _, err := websocket.Dial(ctx, wsURL(e.srv.URL, path, client), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = clientConn.Close(websocket.StatusNormalClosure, "") }()
	adminConn, _, err := websocket.Dial(ctx, wsURL(e.srv.URL, path, admin), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = adminConn.Close(websocket.StatusNormalClosure, "") }()
	e.waitConns(2)

	out, _ := json.Marshal(map[string]any{"type": "chat_message", "message": "hello there"})
	if err := clientConn.Write(ctx, websocket.MessageText, out); err != nil {
		t.Fatal(err)
	}

	// Both sides get the persisted echo with a server-assigned id.
	for _, conn := range []*websocket.Conn{clientConn, adminConn} {
		f := readFrame(t, ctx, conn)
		if f.Type != "chat_message" || f.Message == nil || f.Message.Body != "hello there" || f.Message.ID == 0 {
			t.Fatalf("frame = %+v", f)
		}
	}

	if msgs := e.server.State().Messages(created.ID); len(msgs) != 1 {
		t.Fatalf("persisted messages = %+v", msgs)
	}
}

func TestTypingRelaySkipsSender(t *testing.T) {
	e := newTestEnv(t)
	client := e.login("client", "client")
	admin := e.login("admin", "admin")
	created := e.createTask(client, "essay", "30")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	path := fmt.Sprintf("/ws/task/%d/", created.ID)
	clientConn, _, err := websocket.Dial(ctx, wsURL(e.srv.URL, path, client), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = clientConn.Close(websocket.StatusNormalClosure, "") }()
	adminConn, _, err := websocket.Dial(ctx, wsURL(e.srv.URL, path, admin), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = adminConn.Close(websocket.StatusNormalClosure, "") }()
	e.waitConns(2)

	out, _ := json.Marshal(map[string]any{"type": "typing", "is_typing": true})
	if err := clientConn.Write(ctx, websocket.MessageText, out); err != nil {
		t.Fatal(err)
	}

	f := readFrame(t, ctx, adminConn)
	if f.Type != "user_typing" || !f.IsTyping || f.Username != "client" {
		t.Fatalf("frame = %+v", f)
	}
}
