package api

import (
	"errors"
	"net/http"

	"github.com/dennisdiepolder/monti/handoff/internal/auth"
	"github.com/dennisdiepolder/monti/handoff/internal/handoff"
	"github.com/dennisdiepolder/monti/handoff/internal/websocket"
)

// AgentTopics lets an authorized agent listen on its own topic and the pool
func AgentTopics(authn *auth.Authenticator) websocket.TopicResolver {
	return func(r *http.Request) ([]string, error) {
		id := authn.IdentityFromRequest(r)
		if !id.Authorized {
			return nil, websocket.ErrForbidden
		}
		return []string{websocket.AgentTopic(id.AgentID), websocket.PoolTopic}, nil
	}
}

// SessionTopics lets a visitor widget listen on its chat once a session exists
func SessionTopics(mgr *handoff.Manager) websocket.TopicResolver {
	return func(r *http.Request) ([]string, error) {
		token := r.URL.Query().Get("chatToken")
		if token == "" {
			return nil, errors.New("chatToken is required")
		}
		sess, err := mgr.LatestSession(r.Context(), token)
		if err != nil {
			return nil, err
		}
		if sess == nil {
			return nil, websocket.ErrForbidden
		}
		return []string{websocket.SessionTopic(token)}, nil
	}
}

// DashboardTopics admits supervisors to the overview stream
func DashboardTopics(authn *auth.Authenticator) websocket.TopicResolver {
	return func(r *http.Request) ([]string, error) {
		claims, _ := auth.GetUserFromContext(r.Context())
		if !authn.IsAdmin(claims) {
			return nil, websocket.ErrForbidden
		}
		return []string{websocket.DashboardTopic}, nil
	}
}
