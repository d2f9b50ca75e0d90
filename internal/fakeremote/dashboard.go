package fakeremote

import (
	"net/http"
	"strconv"
)

var fakeTasks = []map[string]interface{}{
	{
		"id": "t1", "title": "Review lecture notes", "description": "Chapter 4, before the quiz.",
		"priority": "critical", "category": "academic", "due_date": "2025-01-02",
		"estimated_hours": 1.5, "completed": false, "source": "ai_generated",
	},
	{
		"id": "t2", "title": "Ship onboarding fix", "description": "Token refresh fails on mobile.",
		"priority": "high", "category": "startup", "due_date": nil,
		"estimated_hours": 2.0, "completed": false, "source": nil,
	},
	{
		"id": "t3", "title": "Call the bank", "description": "Ask about the card limit.",
		"priority": "low", "category": "personal", "due_date": "2025-01-05",
		"estimated_hours": 0.5, "completed": true, "source": "manual",
	},
}

var fakeCalendar = []map[string]interface{}{
	{
		"id": "c1", "title": "Morning review", "start": "2025-01-01T08:00:00", "end": "2025-01-01T08:30:00",
		"category": "study", "color": "#6366f1", "description": nil, "grade_impact": nil,
	},
	{
		"id": "c2", "title": "Algebra exam prep", "start": "2025-01-01T10:00:00", "end": "2025-01-01T12:00:00",
		"category": "study", "color": "#f59e0b", "description": "Practice problems", "grade_impact": "high",
	},
	{
		"id": "c3", "title": "Sprint work", "start": "2025-01-01T14:00:00", "end": "2025-01-01T16:00:00",
		"category": "coding", "color": "#10b981", "description": "Auth module", "grade_impact": nil,
	},
}

var fakeProjects = []map[string]interface{}{
	{
		"id": "p1", "name": "Onboarding", "status": "active", "progress": 80,
		"description": "Sign-up flow and first-run wizard.", "team_members": []string{"Ada", "Lin"},
		"last_updated": "2 hours ago", "tech_stack": []string{"Go", "Postgres"},
	},
	{
		"id": "p2", "name": "Payments", "status": "paused", "progress": 35,
		"description": "Subscriptions and invoicing.", "team_members": []string{"Lin"},
		"last_updated": "1 day ago", "tech_stack": []string{},
	},
}

var fakeUpdates = []map[string]interface{}{
	{"id": "u1", "message": "Onboarding PR merged", "source": "github", "timestamp": "30 min ago", "project": "Onboarding", "verified": true},
	{"id": "u2", "message": "Webhook retries failing", "source": "slack", "timestamp": "1 hour ago", "project": "Payments", "verified": false},
	{"id": "u3", "message": "Competitor launched a free tier", "source": "notion", "timestamp": "3 hours ago", "project": nil, "verified": true},
}

var fakePriorities = []map[string]interface{}{
	{"id": "pr1", "title": "Fix webhook retries", "urgency": "critical", "project": "Payments", "assigned_to": "Lin", "ai_reasoning": "Blocks revenue."},
	{"id": "pr2", "title": "Finish wizard step 3", "urgency": "medium", "project": "Onboarding", "assigned_to": nil, "ai_reasoning": nil},
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, fakeTasks)
}

func (s *Server) handleTaskSummary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"date":         "2025-01-01",
		"greeting":     "Good morning, 3 tasks today",
		"tasks":        fakeTasks[:2],
		"study_hours":  3.5,
		"coding_hours": 2.0,
		"insights":     []string{"Exam prep comes first today."},
	})
}

func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, fakeCalendar)
}

func (s *Server) handleCalendarToday(w http.ResponseWriter, r *http.Request) {
	exams := []map[string]interface{}{}
	for _, b := range fakeCalendar {
		if b["grade_impact"] == "high" {
			exams = append(exams, b)
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"date":              "2025-01-01",
		"total_blocks":      len(fakeCalendar),
		"study_hours":       4.0,
		"coding_hours":      2.0,
		"blocks":            fakeCalendar,
		"high_impact_exams": exams,
	})
}

func (s *Server) handleProjects(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, fakeProjects)
}

func (s *Server) handleProject(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	for _, p := range fakeProjects {
		if p["id"] != id {
			continue
		}
		activities := []map[string]interface{}{}
		for _, u := range fakeUpdates {
			if u["project"] == p["name"] {
				activities = append(activities, u)
			}
		}
		priorities := []map[string]interface{}{}
		for _, pr := range fakePriorities {
			if pr["project"] == p["name"] {
				priorities = append(priorities, pr)
			}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"project":    p,
			"activities": activities,
			"priorities": priorities,
		})
		return
	}
	writeError(w, http.StatusNotFound, "Project not found", "")
}

func (s *Server) handleUpdates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, fakeUpdates)
}

func (s *Server) handlePriorities(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, fakePriorities)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"hours_saved":             42.5,
		"hours_saved_trend":       8.1,
		"market_alerts":           5,
		"market_alerts_new":       2,
		"active_leads":            12,
		"active_leads_conversion": 16.4,
		"sprint_velocity":         77.0,
		"team_mood":               "good",
	})
}

// handleChatHistory answers with the stored messages of the conversation; the
// id is echoed back as a string like the real service does.
func (s *Server) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	raw := r.PathValue("id")
	msgs := []map[string]string{}
	if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
		s.mu.Lock()
		for _, m := range s.messages[id] {
			msgs = append(msgs, map[string]string{"role": m.Role, "content": m.Content})
		}
		s.mu.Unlock()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"conversation_id": raw,
		"messages":        msgs,
	})
}
