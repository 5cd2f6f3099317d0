package api

import (
	"net/http"

	"github.com/dennisdiepolder/monti/handoff/internal/auth"
	"github.com/go-chi/chi/v5"
)

// Routes groups the handlers mounted by Register
type Routes struct {
	Visitor     *VisitorHandler
	Agent       *AgentActionsHandler
	Admin       *AdminHandler
	SessionWS   http.Handler
	AgentWS     http.Handler
	DashboardWS http.Handler
}

// Register mounts the public visitor routes and the token-protected agent
// and admin routes on r.
func (rt Routes) Register(r chi.Router, authn *auth.Authenticator) {
	// Visitor routes (the chat token is the credential)
	r.Route("/api/handoff", func(r chi.Router) {
		r.Post("/", rt.Visitor.RequestHandoff)
		r.Get("/status", rt.Visitor.Status)
		r.Post("/check", rt.Visitor.Check)
	})
	r.Route("/api/sessions/{id}", func(r chi.Router) {
		r.Get("/messages", rt.Visitor.Messages)
		r.Post("/messages", rt.Visitor.Send)
		r.Post("/end", rt.Visitor.End)
	})
	if rt.SessionWS != nil {
		r.Get("/ws/session", rt.SessionWS.ServeHTTP)
	}

	r.Group(func(r chi.Router) {
		r.Use(authn.Middleware)

		r.Route("/api/agent", func(r chi.Router) {
			r.Get("/status", rt.Agent.GetStatus)
			r.Post("/status", rt.Agent.SetStatus)
			r.Post("/heartbeat", rt.Agent.Heartbeat)
			r.Get("/sessions", rt.Agent.Sessions)
			r.Get("/sessions/{id}/messages", rt.Agent.Messages)
			r.Post("/sessions/{id}/messages", rt.Agent.Send)
			r.Post("/sessions/{id}/end", rt.Agent.End)
		})

		r.Route("/api/admin", func(r chi.Router) {
			r.Use(authn.RequireAdmin)
			r.Get("/queue", rt.Admin.Queue)
			r.Get("/agents", rt.Admin.Agents)
			r.Get("/roster", rt.Admin.Roster)
			r.Post("/sessions/{id}/end", rt.Admin.EndSession)
			r.Get("/history", rt.Admin.History)
			r.Get("/agents/{agentId}/sessions", rt.Admin.AgentSessions)
			r.Get("/agents/{agentId}/stats", rt.Admin.AgentStats)
			r.Delete("/archive", rt.Admin.WipeArchive)
		})

		if rt.AgentWS != nil {
			r.Get("/ws/agent", rt.AgentWS.ServeHTTP)
		}
		if rt.DashboardWS != nil {
			r.Get("/ws/dashboard", rt.DashboardWS.ServeHTTP)
		}
	})
}
