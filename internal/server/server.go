package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-logr/logr"

	"kexplorer/internal/cluster"
	"kexplorer/internal/edit"
	"kexplorer/internal/kube"
	"kexplorer/internal/stream"
	"kexplorer/internal/tree"
)

// Tree is the explorer side of the API.
type Tree interface {
	GetRootNodes() []tree.Node
	GetChildren(ctx context.Context, n *tree.Node) []tree.Node
	Lookup(id string) (tree.Node, bool)
	Refresh()
	RefreshScoped(n tree.Node)
	Select(ctx context.Context, n tree.Node) (tree.Selection, error)
	Current() (tree.Selection, bool)
}

// Editors is the YAML editor side of the API.
type Editors interface {
	Open(ctx context.Context, id edit.ResourceID) (edit.OpenResult, error)
	Close(key string) bool
	Save(ctx context.Context, key, content string) (edit.Session, error)
	UpdateContent(key, content string) (edit.Session, error)
	SetFocused(key string, focused bool) (edit.Session, error)
	Resolve(ctx context.Context, key string, r edit.Resolution) (edit.ResolveResult, error)
	Session(key string) (edit.Session, bool)
	Sessions() []edit.Session
}

type Contexts interface {
	Contexts() []cluster.ClusterContext
}

type Server struct {
	tree     Tree
	editors  Editors
	contexts Contexts
	events   stream.Subscriber
	token    string
	log      logr.Logger

	// requestTimeout bounds handlers that reach the cluster.
	requestTimeout time.Duration
}

func New(t Tree, e Editors, c Contexts, bus stream.Subscriber, token string, log logr.Logger) *Server {
	return &Server{
		tree:           t,
		editors:        e,
		contexts:       c,
		events:         bus,
		token:          token,
		log:            log.WithName("http"),
		requestTimeout: 30 * time.Second,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "http://127.0.0.1:*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Protected API
	r.Route("/api", func(api chi.Router) {
		api.Use(s.authMiddleware)

		api.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		})

		api.Get("/contexts", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"contexts": s.contexts.Contexts()})
		})

		api.Get("/tree/roots", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"items": s.tree.GetRootNodes()})
		})

		api.Get("/tree/children", func(w http.ResponseWriter, r *http.Request) {
			id := r.URL.Query().Get("id")
			if id == "" {
				writeJSON(w, http.StatusOK, map[string]any{"items": s.tree.GetRootNodes()})
				return
			}
			n, ok := s.tree.Lookup(id)
			if !ok {
				writeJSON(w, http.StatusNotFound, map[string]any{"error": "unknown node"})
				return
			}

			ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout)
			defer cancel()
			writeJSON(w, http.StatusOK, map[string]any{"parent": n.ID, "items": s.tree.GetChildren(ctx, &n)})
		})

		api.Post("/tree/refresh", func(w http.ResponseWriter, r *http.Request) {
			id := r.URL.Query().Get("id")
			if id == "" {
				s.tree.Refresh()
				writeJSON(w, http.StatusOK, map[string]any{"scope": ""})
				return
			}
			n, ok := s.tree.Lookup(id)
			if !ok {
				writeJSON(w, http.StatusNotFound, map[string]any{"error": "unknown node"})
				return
			}
			s.tree.RefreshScoped(n)
			writeJSON(w, http.StatusOK, map[string]any{"scope": n.ID})
		})

		api.Get("/tree/select", func(w http.ResponseWriter, r *http.Request) {
			n, ok := s.tree.Lookup(r.URL.Query().Get("id"))
			if !ok {
				writeJSON(w, http.StatusNotFound, map[string]any{"error": "unknown node"})
				return
			}

			ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout)
			defer cancel()
			sel, err := s.tree.Select(ctx, n)
			if errors.Is(err, tree.ErrStaleSelection) {
				writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error(), "stale": true})
				return
			}
			if err != nil {
				s.writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"item": sel})
		})

		api.Get("/tree/selection", func(w http.ResponseWriter, _ *http.Request) {
			sel, ok := s.tree.Current()
			if !ok {
				writeJSON(w, http.StatusNotFound, map[string]any{"error": "nothing selected"})
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"item": sel})
		})

		api.Route("/editors", func(er chi.Router) {
			er.Get("/", func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusOK, map[string]any{"items": s.editors.Sessions()})
			})
			er.Post("/", s.openEditor)

			er.Route("/{key}", func(kr chi.Router) {
				kr.Get("/", func(w http.ResponseWriter, r *http.Request) {
					sess, ok := s.editors.Session(editorKey(r))
					if !ok {
						s.writeError(w, edit.ErrNoSession)
						return
					}
					writeJSON(w, http.StatusOK, map[string]any{"item": sess})
				})

				kr.Delete("/", func(w http.ResponseWriter, r *http.Request) {
					if !s.editors.Close(editorKey(r)) {
						s.writeError(w, edit.ErrNoSession)
						return
					}
					w.WriteHeader(http.StatusNoContent)
				})

				kr.Put("/", s.saveEditor)

				kr.Post("/content", func(w http.ResponseWriter, r *http.Request) {
					var body struct {
						Content string `json:"content"`
					}
					if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
						writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid body"})
						return
					}
					sess, err := s.editors.UpdateContent(editorKey(r), body.Content)
					if err != nil {
						s.writeError(w, err)
						return
					}
					writeJSON(w, http.StatusOK, map[string]any{"item": sess})
				})

				kr.Post("/focus", func(w http.ResponseWriter, r *http.Request) {
					var body struct {
						Focused bool `json:"focused"`
					}
					if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
						writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid body"})
						return
					}
					sess, err := s.editors.SetFocused(editorKey(r), body.Focused)
					if err != nil {
						s.writeError(w, err)
						return
					}
					writeJSON(w, http.StatusOK, map[string]any{"item": sess})
				})

				kr.Post("/resolve", func(w http.ResponseWriter, r *http.Request) {
					var body struct {
						Action edit.Resolution `json:"action"`
					}
					if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Action == "" {
						writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid body"})
						return
					}

					ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout)
					defer cancel()
					res, err := s.editors.Resolve(ctx, editorKey(r), body.Action)
					if err != nil {
						s.writeError(w, err)
						return
					}
					writeJSON(w, http.StatusOK, map[string]any{"item": res.Session, "diff": res.Diff})
				})
			})
		})

		api.Handle("/events", &stream.EventsWS{Bus: s.events, Log: s.log})
	})

	return r
}

// openEditor accepts either a tree node id or an explicit resource.
func (s *Server) openEditor(w http.ResponseWriter, r *http.Request) {
	var body struct {
		NodeID string `json:"nodeId"`
		edit.ResourceID
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid body"})
		return
	}

	id := body.ResourceID
	if body.NodeID != "" {
		n, ok := s.tree.Lookup(body.NodeID)
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "unknown node"})
			return
		}
		if !n.Editable() {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "node is not editable"})
			return
		}
		id = edit.ResourceID{Cluster: n.Context, Namespace: n.Namespace, Kind: n.Kind, Name: n.Name, APIVersion: n.APIVersion}
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout)
	defer cancel()
	res, err := s.editors.Open(ctx, id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	status := http.StatusCreated
	if res.Revealed {
		status = http.StatusOK
	}
	writeJSON(w, status, map[string]any{"item": res.Session, "revealed": res.Revealed, "warning": res.Warning})
}

func (s *Server) saveEditor(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid body"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout)
	defer cancel()
	sess, err := s.editors.Save(ctx, editorKey(r), body.Content)

	var serr *edit.SaveError
	if errors.As(err, &serr) {
		status := saveStatus(serr)
		writeJSON(w, status, map[string]any{
			"error": sanitizeErrorMessage(status),
			"save":  serr,
			"item":  sess,
		})
		return
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"item": sess})
}

func saveStatus(serr *edit.SaveError) int {
	switch serr.Stage {
	case edit.StageReadOnly:
		return http.StatusForbidden
	case edit.StageValidate, edit.StageIdentity:
		return http.StatusUnprocessableEntity
	}
	if st := errorStatus(serr.Type); st != http.StatusInternalServerError {
		return st
	}
	return http.StatusUnprocessableEntity
}

func editorKey(r *http.Request) string {
	raw := chi.URLParam(r, "key")
	if k, err := url.PathUnescape(raw); err == nil {
		return k
	}
	return raw
}

func errorStatus(t kube.ErrType) int {
	switch t {
	case kube.ErrPermissionDenied:
		return http.StatusForbidden
	case kube.ErrNotFound:
		return http.StatusNotFound
	case kube.ErrConflict:
		return http.StatusConflict
	case kube.ErrValidationFailed:
		return http.StatusBadRequest
	case kube.ErrTimeout:
		return http.StatusGatewayTimeout
	case kube.ErrConnectionFailed:
		return http.StatusBadGateway
	case kube.ErrClientUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError responds with the sanitized status text plus the classified
// user facing message. Raw detail only goes to the log.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	kerr := kube.Classify(err).(*kube.Error)
	status := errorStatus(kerr.Type)
	if status >= http.StatusInternalServerError {
		s.log.Error(err, "request failed", "type", kerr.Type.String(), "detail", kerr.Detail)
	}
	writeJSON(w, status, map[string]any{
		"error":   kerr.Message,
		"type":    kerr.Type.String(),
		"message": kerr.Message,
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("Authorization")
		if strings.HasPrefix(token, "Bearer ") {
			token = strings.TrimPrefix(token, "Bearer ")
		} else {
			token = r.URL.Query().Get("token")
		}

		if token != s.token {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	if status >= http.StatusBadRequest {
		if payload, ok := v.(map[string]any); ok {
			if msg, ok := payload["error"].(string); ok && strings.TrimSpace(msg) != "" {
				payload["error"] = sanitizeErrorMessage(status)
				v = payload
			}
		}
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func sanitizeErrorMessage(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "unprocessable entity"
	case http.StatusTooManyRequests:
		return "too many requests"
	case http.StatusBadGateway:
		return "cluster unreachable"
	case http.StatusServiceUnavailable:
		return "cluster client unavailable"
	case http.StatusGatewayTimeout:
		return "timed out"
	default:
		return "request failed"
	}
}
