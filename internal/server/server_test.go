package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"

	"teamline/internal/db"
	"teamline/internal/domain"
	"teamline/internal/engine"
	"teamline/internal/migrate"
)

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn)
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v1",
		Auth: AuthConfig{
			JWTSecret:              "test-secret",
			AllowLegacyActorHeader: true,
		},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(testSrv.Close)
	return testSrv
}

func (s *testServer) user(t *testing.T, username string) domain.User {
	t.Helper()
	u, err := s.Engine.CreateUser(context.Background(), username, domain.AppRoleMember)
	if err != nil {
		t.Fatalf("create user %s: %v", username, err)
	}
	return u
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func asActor(u domain.User) map[string]string {
	return map[string]string{"X-Actor-Id": u.ID}
}

func TestAuthRequired(t *testing.T) {
	srv := newTestServer(t)
	res, _ := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/projects", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.StatusCode)
	}
	// health stays open
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d", res.StatusCode)
	}
}

func TestDevLoginAndBearer(t *testing.T) {
	srv := newTestServer(t)
	alice := srv.user(t, "alice")

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/auth/dev/login", map[string]any{"username": "alice"}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login status %d: %s", res.StatusCode, string(data))
	}
	var token TokenResponse
	if err := json.Unmarshal(data, &token); err != nil || token.Token == "" {
		t.Fatalf("token response: %v %s", err, string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/me", nil, map[string]string{
		"Authorization": "Bearer " + token.Token,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me status %d: %s", res.StatusCode, string(data))
	}
	var me UserResponse
	if err := json.Unmarshal(data, &me); err != nil {
		t.Fatalf("unmarshal me: %v", err)
	}
	if me.ID != alice.ID || me.Username != "alice" {
		t.Fatalf("unexpected principal: %+v", me)
	}
}

func TestProjectMembershipFlow(t *testing.T) {
	srv := newTestServer(t)
	alice := srv.user(t, "alice")
	bob := srv.user(t, "bob")
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/projects", map[string]any{"name": "demo"}, asActor(alice))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create project status %d: %s", res.StatusCode, string(data))
	}
	var p ProjectResponse
	if err := json.Unmarshal(data, &p); err != nil {
		t.Fatalf("unmarshal project: %v", err)
	}
	if len(p.Members) != 1 || p.Members[0].Role != "owner" {
		t.Fatalf("owner entry missing: %+v", p.Members)
	}

	// bob cannot see the project yet
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v1/projects/"+p.ID, nil, asActor(bob))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("non-member get status %d", res.StatusCode)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/projects/"+p.ID+"/members", map[string]any{
		"username": "bob",
		"role":     "member",
	}, asActor(alice))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("add member status %d: %s", res.StatusCode, string(data))
	}

	// duplicate add conflicts
	res, _ = doJSON(t, client, http.MethodPost, srv.URL+"/v1/projects/"+p.ID+"/members", map[string]any{
		"username": "bob",
		"role":     "member",
	}, asActor(alice))
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate add status %d", res.StatusCode)
	}

	// the owner entry cannot be removed
	res, _ = doJSON(t, client, http.MethodDelete, srv.URL+"/v1/projects/"+p.ID+"/members/alice", nil, asActor(alice))
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("remove owner status %d", res.StatusCode)
	}

	// transfer then the old owner loses owner-only operations
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/projects/"+p.ID+"/transfer", map[string]any{"username": "bob"}, asActor(alice))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("transfer status %d: %s", res.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, &p); err != nil {
		t.Fatalf("unmarshal project: %v", err)
	}
	if p.CreatedBy != bob.ID {
		t.Fatalf("created_by after transfer: %s", p.CreatedBy)
	}
	res, _ = doJSON(t, client, http.MethodDelete, srv.URL+"/v1/projects/"+p.ID, nil, asActor(alice))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("old owner delete status %d", res.StatusCode)
	}
	res, _ = doJSON(t, client, http.MethodDelete, srv.URL+"/v1/projects/"+p.ID, nil, asActor(bob))
	if res.StatusCode != http.StatusNoContent && res.StatusCode != http.StatusOK {
		t.Fatalf("new owner delete status %d", res.StatusCode)
	}
}

func TestTaskStatusHistoryEndpoint(t *testing.T) {
	srv := newTestServer(t)
	alice := srv.user(t, "alice")
	client := srv.Client()

	_, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/projects", map[string]any{"name": "demo"}, asActor(alice))
	var p ProjectResponse
	if err := json.Unmarshal(data, &p); err != nil {
		t.Fatalf("unmarshal project: %v", err)
	}

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/projects/"+p.ID+"/tasks", map[string]any{"title": "Ship it"}, asActor(alice))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create task status %d: %s", res.StatusCode, string(data))
	}
	var task TaskResponse
	if err := json.Unmarshal(data, &task); err != nil {
		t.Fatalf("unmarshal task: %v", err)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/tasks/"+task.ID+"/status", map[string]any{"status": "in_progress"}, asActor(alice))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("set status %d: %s", res.StatusCode, string(data))
	}
	// same status again is a no-op but still succeeds
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/tasks/"+task.ID+"/status", map[string]any{"status": "in_progress"}, asActor(alice))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("noop status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/tasks/"+task.ID+"/history", nil, asActor(alice))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("history status %d: %s", res.StatusCode, string(data))
	}
	var history []StatusChangeResponse
	if err := json.Unmarshal(data, &history); err != nil {
		t.Fatalf("unmarshal history: %v", err)
	}
	if len(history) != 1 || history[0].From != "todo" || history[0].To != "in_progress" {
		t.Fatalf("unexpected history: %+v", history)
	}
}
