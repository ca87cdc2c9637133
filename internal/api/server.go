package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Jonatan852/querygrid/internal/history"
	"github.com/Jonatan852/querygrid/internal/planner"
	"github.com/Jonatan852/querygrid/internal/registry"
	"github.com/Jonatan852/querygrid/internal/service"
)

// Server é a superfície HTTP do coordinator: gestão de workers e submissão
// de queries.
type Server struct {
	registry *registry.Registry
	service  *service.Service
	router   chi.Router
}

func NewServer(reg *registry.Registry, svc *service.Service) *Server {
	s := &Server{registry: reg, service: svc}
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/cluster/stats", s.handleClusterStats)

	r.Route("/workers", func(r chi.Router) {
		r.Post("/register", s.handleWorkerRegister)
		r.Get("/", s.handleWorkerList)
		r.Post("/{workerID}/heartbeat", s.handleWorkerHeartbeat)
		r.Post("/{workerID}/drain", s.handleWorkerDrain)
		r.Delete("/{workerID}", s.handleWorkerDeregister)
	})

	r.Post("/query", s.handleQuerySubmit)
	r.Get("/query/plan", s.handleQueryPlan)
	r.Get("/query/{queryID}", s.handleQueryStatus)
	r.Get("/query/{queryID}/plan", s.handleQueryPlanByID)
	r.Delete("/query/{queryID}", s.handleQueryCancel)
	r.Get("/queries/recent", s.handleQueriesRecent)
	r.Get("/queries/running", s.handleQueriesRunning)

	s.router = r
	return s
}

// Router devolve o handler HTTP do coordinator.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleClusterStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.ClusterStats())
}

type registerRequest struct {
	RequestedID string             `json:"requestedId"`
	Endpoint    string             `json:"endpoint"`
	Resources   registry.Resources `json:"resources"`
	Metadata    map[string]string  `json:"metadata,omitempty"`
}

func (s *Server) handleWorkerRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "payload inválido")
		return
	}
	if strings.TrimSpace(req.Endpoint) == "" {
		writeError(w, http.StatusBadRequest, "endpoint é obrigatório")
		return
	}
	assigned := s.registry.Register(req.RequestedID, req.Endpoint, req.Resources, req.Metadata)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"registered":       true,
		"assignedWorkerId": assigned,
	})
}

type heartbeatRequest struct {
	Resources registry.Resources `json:"resources"`
	Metadata  map[string]string  `json:"metadata,omitempty"`
}

func (s *Server) handleWorkerHeartbeat(w http.ResponseWriter, r *http.Request) {
	workerID := chi.URLParam(r, "workerID")
	var req heartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "payload inválido")
		return
	}
	acknowledged := s.registry.Heartbeat(workerID, req.Resources, req.Metadata)
	expected := ""
	if acknowledged {
		for _, info := range s.registry.ListWorkers("") {
			if info.WorkerID == workerID {
				expected = string(info.Status)
				break
			}
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"acknowledged":   acknowledged,
		"expectedStatus": expected,
	})
}

func (s *Server) handleWorkerDrain(w http.ResponseWriter, r *http.Request) {
	workerID := chi.URLParam(r, "workerID")
	if !s.registry.Drain(workerID) {
		writeError(w, http.StatusNotFound, "worker desconhecido")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"draining": true})
}

func (s *Server) handleWorkerDeregister(w http.ResponseWriter, r *http.Request) {
	workerID := chi.URLParam(r, "workerID")
	reason := r.URL.Query().Get("reason")
	if reason == "" {
		reason = "solicitado via API"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"deregistered": s.registry.Deregister(workerID, reason),
	})
}

func (s *Server) handleWorkerList(w http.ResponseWriter, r *http.Request) {
	filter := registry.WorkerStatus(r.URL.Query().Get("status"))
	workers := s.registry.ListWorkers(filter)
	if limit := queryInt(r, "limit", 0); limit > 0 && limit < len(workers) {
		workers = workers[:limit]
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"workers": workers})
}

type submitRequest struct {
	SQL string `json:"sql"`
}

// handleQuerySubmit submete o SQL e aguarda a resposta dentro do contexto
// da requisição. O resultado é sempre um JSON com status terminal; erros de
// execução não viram códigos 5xx.
func (s *Server) handleQuerySubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "payload inválido")
		return
	}
	if strings.TrimSpace(req.SQL) == "" {
		writeError(w, http.StatusBadRequest, "sql é obrigatório")
		return
	}

	query := s.service.Submit(r.Context(), req.SQL)
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()
	resp, err := query.Wait(ctx)
	if err != nil {
		writeJSON(w, http.StatusAccepted, map[string]interface{}{
			"queryId": query.QueryID,
			"status":  "RUNNING",
		})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleQueryStatus(w http.ResponseWriter, r *http.Request) {
	queryID := chi.URLParam(r, "queryID")
	rec, err := s.service.GetStatus(r.Context(), queryID)
	if err != nil {
		if errors.Is(err, history.ErrNotFound) {
			writeError(w, http.StatusNotFound, "query desconhecida")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleQueryPlan monta e devolve o plano de uma query sem executá-la.
// format=dot devolve o grafo em Graphviz; o default é JSON.
func (s *Server) handleQueryPlan(w http.ResponseWriter, r *http.Request) {
	sql := r.URL.Query().Get("sql")
	if strings.TrimSpace(sql) == "" {
		writeError(w, http.StatusBadRequest, "sql é obrigatório")
		return
	}
	executionPlan, err := s.service.ExplainPlan(sql)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if r.URL.Query().Get("format") == "dot" {
		dot, err := planner.PlanToDOT(executionPlan)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.Header().Set("Content-Type", "text/vnd.graphviz")
		_, _ = w.Write([]byte(dot))
		return
	}
	out, err := planner.PlanToJSON(executionPlan)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(out)
}

// handleQueryPlanByID remonta o plano a partir do SQL registrado no
// histórico da query.
func (s *Server) handleQueryPlanByID(w http.ResponseWriter, r *http.Request) {
	queryID := chi.URLParam(r, "queryID")
	rec, err := s.service.GetStatus(r.Context(), queryID)
	if err != nil {
		if errors.Is(err, history.ErrNotFound) {
			writeError(w, http.StatusNotFound, "query desconhecida")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	executionPlan, err := s.service.ExplainPlan(rec.SQL)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := planner.PlanToJSON(executionPlan)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(out)
}

func (s *Server) handleQueryCancel(w http.ResponseWriter, r *http.Request) {
	queryID := chi.URLParam(r, "queryID")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"cancelled": s.service.Cancel(queryID),
	})
}

func (s *Server) handleQueriesRecent(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 20)
	records, err := s.service.ListRecent(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"queries": records})
}

func (s *Server) handleQueriesRunning(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"running": s.service.ListRunning()})
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
