// Package fakeremote is an in-process stand-in for the remote assistant
// service. It keeps its state in memory, emits timestamps the way the real
// service does (ISO-8601 without offset) and lets tests inject failures,
// replace handlers and hold requests in flight.
package fakeremote

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Route keys, "METHOD pattern", used by Fail, Handle and Hold.
const (
	RouteLogin              = "POST /auth/login"
	RouteSignup             = "POST /auth/signup"
	RouteUpdateUser         = "PUT /auth/user/{id}"
	RouteChat               = "POST /api/chat"
	RouteApprove            = "POST /api/chat/approve/{id}"
	RouteReject             = "POST /api/chat/reject/{id}"
	RouteListConversations  = "GET /api/conversations/{id}"
	RouteCreateConversation = "POST /api/conversations"
	RouteUpdateConversation = "PUT /api/conversations/{id}"
	RouteDeleteConversation = "DELETE /api/conversations/{id}"
	RouteListMessages       = "GET /api/conversations/{id}/messages"
	RouteActivityLog        = "GET /api/activity-log"
	RouteIntegrations       = "GET /api/integrations/status"
	RouteHealth             = "GET /health"
	RouteTasks              = "GET /api/tasks"
	RouteTaskSummary        = "GET /api/tasks/summary"
	RouteCalendar           = "GET /api/calendar"
	RouteCalendarToday      = "GET /api/calendar/today"
	RouteProjects           = "GET /api/projects"
	RouteProject            = "GET /api/projects/{id}"
	RouteUpdates            = "GET /api/updates"
	RoutePriorities         = "GET /api/priorities"
	RouteMetrics            = "GET /api/metrics"
	RouteChatHistory        = "GET /api/chat/history/{id}"
)

const pythonISO = "2006-01-02T15:04:05.000000"

type User struct {
	ID        int64
	Email     string
	Password  string
	Name      string
	Token     string
	CreatedAt time.Time
}

type Conversation struct {
	ID        int64
	Title     string
	OwnerID   int64
	CreatedAt time.Time
	UpdatedAt *time.Time
}

type Message struct {
	ID             int64
	ConversationID int64
	Role           string
	Content        string
	CreatedAt      time.Time
}

type ActivityEntry struct {
	ID        string
	Timestamp time.Time
	Action    string
	Source    string
	Mode      string
	Project   string
	Details   string
}

// Reply is what the fake assistant answers to a chat message.
type Reply struct {
	Text             string
	RequiresApproval bool
	ProposedAction   map[string]interface{}
	Sources          []string
}

// Request is a recorded incoming call.
type Request struct {
	Route         string
	Method        string
	Path          string
	Query         url.Values
	Authorization string
	Body          []byte
}

type failure struct {
	status int
	detail string
	code   string
	once   bool
}

// Gate holds one request of a route until released.
type Gate struct {
	arrived  chan struct{}
	released chan struct{}
	once     sync.Once
}

// Arrived is closed once the held request reached the server.
func (g *Gate) Arrived() <-chan struct{} { return g.arrived }

// Release lets the held request proceed.
func (g *Gate) Release() { g.once.Do(func() { close(g.released) }) }

type Server struct {
	*httptest.Server

	mu            sync.Mutex
	users         map[int64]*User
	conversations map[int64]*Conversation
	messages      map[int64][]Message
	activity      []ActivityEntry
	connected     map[string]time.Time
	nextUserID    int64
	nextConvID    int64
	nextMsgID     int64
	clock         time.Time

	requireAuth bool
	reply       func(message, mode string) Reply

	failures  map[string]*failure
	overrides map[string]http.HandlerFunc
	gates     map[string][]*Gate
	requests  []Request
}

// New starts a fake service. Callers own Close.
func New() *Server {
	s := &Server{
		users:         map[int64]*User{},
		conversations: map[int64]*Conversation{},
		messages:      map[int64][]Message{},
		connected:     map[string]time.Time{},
		nextUserID:    1,
		nextConvID:    1,
		nextMsgID:     1,
		clock:         time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC),
		failures:      map[string]*failure{},
		overrides:     map[string]http.HandlerFunc{},
		gates:         map[string][]*Gate{},
		reply: func(message, mode string) Reply {
			return Reply{Text: fmt.Sprintf("[%s] %s", mode, message)}
		},
	}

	mux := http.NewServeMux()
	routes := map[string]http.HandlerFunc{
		RouteLogin:              s.handleLogin,
		RouteSignup:             s.handleSignup,
		RouteUpdateUser:         s.handleUpdateUser,
		RouteChat:               s.handleChat,
		RouteApprove:            s.handleAction("approved"),
		RouteReject:             s.handleAction("rejected"),
		RouteListConversations:  s.handleListConversations,
		RouteCreateConversation: s.handleCreateConversation,
		RouteUpdateConversation: s.handleUpdateConversation,
		RouteDeleteConversation: s.handleDeleteConversation,
		RouteListMessages:       s.handleListMessages,
		RouteActivityLog:        s.handleActivityLog,
		RouteIntegrations:       s.handleIntegrations,
		RouteHealth:             s.handleHealth,
		RouteTasks:              s.handleTasks,
		RouteTaskSummary:        s.handleTaskSummary,
		RouteCalendar:           s.handleCalendar,
		RouteCalendarToday:      s.handleCalendarToday,
		RouteProjects:           s.handleProjects,
		RouteProject:            s.handleProject,
		RouteUpdates:            s.handleUpdates,
		RoutePriorities:         s.handlePriorities,
		RouteMetrics:            s.handleMetrics,
		RouteChatHistory:        s.handleChatHistory,
	}
	for route, h := range routes {
		mux.HandleFunc(route, s.wrap(route, h))
	}
	s.Server = httptest.NewServer(mux)
	return s
}

// RequireAuth makes every non-auth route answer 401 without a valid bearer token.
func (s *Server) RequireAuth(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requireAuth = v
}

// SetReply replaces the assistant.
func (s *Server) SetReply(f func(message, mode string) Reply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reply = f
}

// Fail makes route answer status with {detail, error_code} until ClearFailures.
func (s *Server) Fail(route string, status int, detail string, code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[route] = &failure{status: status, detail: detail, code: code}
}

// FailOnce is like Fail for the next call only.
func (s *Server) FailOnce(route string, status int, detail string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[route] = &failure{status: status, detail: detail, once: true}
}

func (s *Server) ClearFailures() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = map[string]*failure{}
}

// Handle replaces the built-in handler of route.
func (s *Server) Handle(route string, h http.HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides[route] = h
}

// Hold parks the next request of route before it is handled.
func (s *Server) Hold(route string) *Gate {
	g := &Gate{arrived: make(chan struct{}), released: make(chan struct{})}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gates[route] = append(s.gates[route], g)
	return g
}

// Requests returns the calls received so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	ret := make([]Request, len(s.requests))
	copy(ret, s.requests)
	return ret
}

// RequestsTo filters Requests by route.
func (s *Server) RequestsTo(route string) []Request {
	ret := []Request{}
	for _, r := range s.Requests() {
		if r.Route == route {
			ret = append(ret, r)
		}
	}
	return ret
}

func (s *Server) SeedUser(email, password, name string) User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.addUser(email, password, name)
}

func (s *Server) SeedConversation(ownerID int64, title string) Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.addConversation(ownerID, title)
}

func (s *Server) SeedMessage(conversationID int64, role, content string) Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addMessage(conversationID, role, content)
}

func (s *Server) AddActivity(e ActivityEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == "" {
		e.ID = fmt.Sprintf("act-%d", len(s.activity)+1)
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = s.tick()
	}
	s.activity = append([]ActivityEntry{e}, s.activity...)
}

func (s *Server) MarkConnected(service string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected[service] = s.tick()
}

func (s *Server) Conversation(id int64) (Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return Conversation{}, false
	}
	return *c, true
}

func (s *Server) Messages(conversationID int64) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	ret := make([]Message, len(s.messages[conversationID]))
	copy(ret, s.messages[conversationID])
	return ret
}

func (s *Server) wrap(route string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = r.Body.Close()
		r.Body = io.NopCloser(strings.NewReader(string(body)))

		s.mu.Lock()
		s.requests = append(s.requests, Request{
			Route:         route,
			Method:        r.Method,
			Path:          r.URL.Path,
			Query:         r.URL.Query(),
			Authorization: r.Header.Get("Authorization"),
			Body:          body,
		})
		var gate *Gate
		if gs := s.gates[route]; len(gs) > 0 {
			gate = gs[0]
			s.gates[route] = gs[1:]
		}
		s.mu.Unlock()

		if gate != nil {
			close(gate.arrived)
			select {
			case <-gate.released:
			case <-r.Context().Done():
				return
			}
		}

		s.mu.Lock()
		f := s.failures[route]
		if f != nil && f.once {
			delete(s.failures, route)
		}
		override := s.overrides[route]
		requireAuth := s.requireAuth
		s.mu.Unlock()

		if f != nil {
			writeError(w, f.status, f.detail, f.code)
			return
		}
		if override != nil {
			override(w, r)
			return
		}
		if requireAuth && !strings.HasPrefix(r.URL.Path, "/auth/login") &&
			!strings.HasPrefix(r.URL.Path, "/auth/signup") && r.URL.Path != "/health" {
			if _, ok := s.userFromRequest(r); !ok {
				writeError(w, http.StatusUnauthorized, "Not authenticated", "")
				return
			}
		}
		h(w, r)
	}
}

// tick advances the fake clock by one second; callers hold mu.
func (s *Server) tick() time.Time {
	s.clock = s.clock.Add(time.Second)
	return s.clock
}

func (s *Server) addUser(email, password, name string) *User {
	if name == "" {
		name = strings.SplitN(email, "@", 2)[0]
	}
	u := &User{
		ID:        s.nextUserID,
		Email:     email,
		Password:  password,
		Name:      name,
		Token:     uuid.NewString(),
		CreatedAt: s.tick(),
	}
	s.nextUserID++
	s.users[u.ID] = u
	return u
}

func (s *Server) addConversation(ownerID int64, title string) *Conversation {
	if title == "" {
		title = "New Chat"
	}
	c := &Conversation{
		ID:        s.nextConvID,
		Title:     title,
		OwnerID:   ownerID,
		CreatedAt: s.tick(),
	}
	s.nextConvID++
	s.conversations[c.ID] = c
	s.messages[c.ID] = []Message{}
	return c
}

func (s *Server) addMessage(conversationID int64, role, content string) Message {
	m := Message{
		ID:             s.nextMsgID,
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      s.tick(),
	}
	s.nextMsgID++
	s.messages[conversationID] = append(s.messages[conversationID], m)
	return m
}

func (s *Server) userFromRequest(r *http.Request) (*User, bool) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if token == "" {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Token == token {
			return u, true
		}
	}
	return nil, false
}

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	return id, err == nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string, code string) {
	body := map[string]interface{}{"detail": detail}
	if code != "" {
		body["error_code"] = code
	}
	writeJSON(w, status, body)
}

func isoOrNil(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Format(pythonISO)
}

func userJSON(u *User) map[string]interface{} {
	return map[string]interface{}{
		"id":         u.ID,
		"email":      u.Email,
		"name":       u.Name,
		"token":      u.Token,
		"created_at": u.CreatedAt.Format(pythonISO),
	}
}

func conversationJSON(c *Conversation) map[string]interface{} {
	return map[string]interface{}{
		"id":         c.ID,
		"title":      c.Title,
		"owner_id":   c.OwnerID,
		"created_at": c.CreatedAt.Format(pythonISO),
		"updated_at": isoOrNil(c.UpdatedAt),
	}
}

func messageJSON(m Message) map[string]interface{} {
	return map[string]interface{}{
		"id":              m.ID,
		"conversation_id": m.ConversationID,
		"role":            m.Role,
		"content":         m.Content,
		"created_at":      m.CreatedAt.Format(pythonISO),
	}
}

func decodeBody(r *http.Request, v interface{}) error {
	return json.NewDecoder(r.Body).Decode(v)
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Name     string `json:"name"`
	}
	if err := decodeBody(r, &req); err != nil || req.Email == "" || req.Password == "" {
		writeError(w, http.StatusUnprocessableEntity, "email and password are required", "")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == req.Email {
			writeError(w, http.StatusBadRequest, "Email already registered", "")
			return
		}
	}
	writeJSON(w, http.StatusOK, userJSON(s.addUser(req.Email, req.Password, req.Name)))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email      string `json:"email"`
		Password   string `json:"password"`
		RememberMe bool   `json:"remember_me"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid body", "")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == req.Email && u.Password == req.Password {
			writeJSON(w, http.StatusOK, userJSON(u))
			return
		}
	}
	writeError(w, http.StatusUnauthorized, "Invalid email or password", "")
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusUnprocessableEntity, "invalid user id", "")
		return
	}
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Name     string `json:"name"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid body", "")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		writeError(w, http.StatusNotFound, "User not found", "")
		return
	}
	if req.Email != "" {
		u.Email = req.Email
	}
	if req.Password != "" {
		u.Password = req.Password
	}
	if req.Name != "" {
		u.Name = req.Name
	}
	writeJSON(w, http.StatusOK, userJSON(u))
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message        string `json:"message"`
		Mode           string `json:"mode"`
		ConversationID *int64 `json:"conversation_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid body", "")
		return
	}
	if req.Mode == "" {
		req.Mode = "personal"
	}
	owner := int64(0)
	if u, ok := s.userFromRequest(r); ok {
		owner = u.ID
	}

	s.mu.Lock()
	var conv *Conversation
	if req.ConversationID != nil {
		conv = s.conversations[*req.ConversationID]
		if conv == nil {
			s.mu.Unlock()
			writeError(w, http.StatusNotFound, "Conversation not found", "")
			return
		}
	} else {
		conv = s.addConversation(owner, "")
	}
	s.addMessage(conv.ID, "user", req.Message)
	reply := s.reply(req.Message, req.Mode)
	s.addMessage(conv.ID, "assistant", reply.Text)
	now := s.tick()
	conv.UpdatedAt = &now
	cid := conv.ID
	s.mu.Unlock()

	sources := reply.Sources
	if sources == nil {
		sources = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"response":          reply.Text,
		"conversation_id":   cid,
		"requires_approval": reply.RequiresApproval,
		"proposed_action":   reply.ProposedAction,
		"sources":           sources,
	})
}

func (s *Server) handleAction(status string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(r)
		if !ok {
			writeError(w, http.StatusUnprocessableEntity, "invalid conversation id", "")
			return
		}
		msg := "Action rejected. No changes were made."
		if status == "approved" {
			msg = "Action approved! Changes have been applied."
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":          status,
			"conversation_id": id,
			"message":         msg,
		})
	}
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusUnprocessableEntity, "invalid user id", "")
		return
	}
	s.mu.Lock()
	owned := []*Conversation{}
	for _, c := range s.conversations {
		if c.OwnerID == userID {
			owned = append(owned, c)
		}
	}
	sort.Slice(owned, func(i, j int) bool {
		if owned[i].CreatedAt.Equal(owned[j].CreatedAt) {
			return owned[i].ID > owned[j].ID
		}
		return owned[i].CreatedAt.After(owned[j].CreatedAt)
	})
	list := make([]map[string]interface{}, 0, len(owned))
	for _, c := range owned {
		list = append(list, conversationJSON(c))
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"conversations": list,
		"total":         len(list),
	})
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID int64  `json:"user_id"`
		Title  string `json:"title"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid body", "")
		return
	}
	s.mu.Lock()
	c := s.addConversation(req.UserID, req.Title)
	body := conversationJSON(c)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleUpdateConversation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusUnprocessableEntity, "invalid conversation id", "")
		return
	}
	var req struct {
		Title string `json:"title"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid body", "")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		writeError(w, http.StatusNotFound, "Conversation not found", "")
		return
	}
	c.Title = req.Title
	now := s.tick()
	c.UpdatedAt = &now
	writeJSON(w, http.StatusOK, conversationJSON(c))
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusUnprocessableEntity, "invalid conversation id", "")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[id]; !ok {
		writeError(w, http.StatusNotFound, "Conversation not found", "")
		return
	}
	delete(s.conversations, id)
	delete(s.messages, id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusUnprocessableEntity, "invalid conversation id", "")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[id]; !ok {
		writeError(w, http.StatusNotFound, "Conversation not found", "")
		return
	}
	ret := make([]map[string]interface{}, 0, len(s.messages[id]))
	for _, m := range s.messages[id] {
		ret = append(ret, messageJSON(m))
	}
	writeJSON(w, http.StatusOK, ret)
}

func (s *Server) handleActivityLog(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("mode")
	s.mu.Lock()
	defer s.mu.Unlock()
	ret := []map[string]interface{}{}
	for _, e := range s.activity {
		if mode != "" && e.Mode != mode {
			continue
		}
		entry := map[string]interface{}{
			"id":        e.ID,
			"timestamp": e.Timestamp.Format(pythonISO) + "Z",
			"action":    e.Action,
			"source":    e.Source,
			"mode":      e.Mode,
			"project":   nil,
			"details":   nil,
		}
		if e.Project != "" {
			entry["project"] = e.Project
		}
		if e.Details != "" {
			entry["details"] = e.Details
		}
		ret = append(ret, entry)
	}
	writeJSON(w, http.StatusOK, ret)
}

func (s *Server) handleIntegrations(w http.ResponseWriter, r *http.Request) {
	services := []string{"gmail", "calendar", "slack", "notion", "github", "jira"}
	s.mu.Lock()
	defer s.mu.Unlock()
	ret := make([]map[string]interface{}, 0, len(services))
	for _, svc := range services {
		entry := map[string]interface{}{
			"service":     svc,
			"connected":   false,
			"last_synced": nil,
			"scopes":      []string{},
		}
		if t, ok := s.connected[svc]; ok {
			entry["connected"] = true
			entry["last_synced"] = t.Format(pythonISO)
		}
		ret = append(ret, entry)
	}
	writeJSON(w, http.StatusOK, ret)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "fake assistant",
	})
}
