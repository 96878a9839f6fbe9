package proxy

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/cors"

	"github.com/mcpmux/mcpmux/pkg/backends"
	"github.com/mcpmux/mcpmux/pkg/config"
)

// buildHTTPHandler assembles the HTTP surface: the streamable MCP
// endpoint mounted at opts.Path plus the admin routes, wrapped in the
// bearer guard and CORS.
func (p *Proxy) buildHTTPHandler() http.Handler {
	streamable := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return p.server
	}, &p.opts.Streamable)

	r := chi.NewRouter()
	r.Use(p.bearerGuard)

	path := p.opts.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	r.Handle(path, streamable)
	r.Handle(path+"/*", streamable)

	r.Get("/health", p.handleHealth)
	r.Get("/mcp_servers", p.handleListServers)
	r.Post("/mcp_servers", p.handleAddServers)
	r.Delete("/mcp_servers/{name}", p.handleRemoveServer)
	r.Get("/mcp_tools", p.handleListTools)

	c := cors.New(cors.Options{
		AllowedOrigins: p.opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"Authorization", "Content-Type", "Mcp-Session-Id", "Mcp-Protocol-Version"},
	})
	return c.Handler(r)
}

// bearerGuard enforces the static API token when one is configured.
func (p *Proxy) bearerGuard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p.opts.APIToken == "" {
			next.ServeHTTP(w, r)
			return
		}
		header := r.Header.Get("Authorization")
		if header == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "Unauthorized: missing Authorization header"})
			return
		}
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "Unauthorized: expected 'Bearer <token>'"})
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(p.opts.APIToken)) != 1 {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "Unauthorized: invalid token"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (p *Proxy) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":            "healthy",
		"connected_servers": len(p.manager.LiveNames()),
		"pending_servers":   len(p.manager.PendingNames()),
	})
}

func (p *Proxy) handleListServers(w http.ResponseWriter, _ *http.Request) {
	active := p.manager.LiveNames()
	pending := p.manager.PendingNames()
	sort.Strings(active)
	sort.Strings(pending)
	writeJSON(w, http.StatusOK, map[string]any{
		"active_servers":  active,
		"pending_servers": pending,
	})
}

func (p *Proxy) handleAddServers(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "unreadable body"})
		return
	}
	if !json.Valid(body) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid JSON in request body"})
		return
	}
	servers, names, err := config.ExtractServers(body)
	if err != nil || len(servers) == 0 {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": "missing required 'mcpServers' field"})
		return
	}

	var connected, pending []string
	for _, name := range names {
		ok, err := p.RegisterBackend(r.Context(), name, servers[name])
		if err != nil {
			p.logger.Warn("rejected backend registration", "backend", name, "error", err)
			status := http.StatusBadRequest
			if errors.Is(err, backends.ErrCommandNotAllowed) || errors.Is(err, backends.ErrSSRFBlocked) {
				status = http.StatusForbidden
			}
			writeJSON(w, status, map[string]any{"error": err.Error()})
			return
		}
		if ok {
			connected = append(connected, name)
		} else {
			pending = append(pending, name)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"added":   connected,
		"pending": pending,
	})
}

func (p *Proxy) handleRemoveServer(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	purge := r.URL.Query().Get("purge") == "true"
	if err := p.UnregisterBackend(r.Context(), name, purge); err != nil {
		if errors.Is(err, backends.ErrUnknownBackend) {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (p *Proxy) handleListTools(w http.ResponseWriter, _ *http.Request) {
	byBackend := p.index.ToolsByBackend()
	tools := make(map[string][]string, len(byBackend))
	for backend, names := range byBackend {
		sorted := append([]string(nil), names...)
		sort.Strings(sorted)
		tools[backend] = sorted
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": tools})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
