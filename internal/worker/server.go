package worker

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Jonatan852/querygrid/internal/operator"
	"github.com/Jonatan852/querygrid/internal/protocol"
	"github.com/Jonatan852/querygrid/internal/storage"
	"github.com/Jonatan852/querygrid/pkg/columnar"
	"github.com/Jonatan852/querygrid/pkg/qglog"
)

// Server expõe o plano de dados de um worker: execução de estágios e carga
// de partições locais.
type Server struct {
	workerID string
	store    *storage.Store
	router   chi.Router
}

func NewServer(workerID string, store *storage.Store) *Server {
	s := &Server{workerID: workerID, store: store}
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/health", s.handleHealth)
	r.Get("/tables", s.handleTables)
	r.Post("/execute", s.handleExecute)
	r.Post("/data/load", s.handleDataLoad)
	s.router = r
	return s
}

// Router devolve o handler HTTP do worker.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "workerId": s.workerID})
}

func (s *Server) handleTables(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"tables": s.store.Tables()})
}

// handleExecute roda um estágio sobre o batch recebido (ou sobre o storage
// local, no caso de scan). Erros do operador viajam no corpo da resposta;
// o transporte só falha para payloads inválidos.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req protocol.StageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "payload inválido")
		return
	}

	op, err := operator.Build(req.Stage, s.store)
	if err != nil {
		writeJSON(w, http.StatusOK, protocol.StageResponse{WorkerID: s.workerID, Error: err.Error()})
		return
	}
	out, stats, err := op.Execute(req.Input)
	if err != nil {
		qglog.Zero.Warn().
			Str("query", req.QueryID).
			Int("stage", req.StageID).
			Err(err).
			Msg("execução de estágio falhou")
		writeJSON(w, http.StatusOK, protocol.StageResponse{WorkerID: s.workerID, Error: err.Error()})
		return
	}

	qglog.Zero.Debug().
		Str("query", req.QueryID).
		Int("stage", req.StageID).
		Int("attempt", req.Attempt).
		Int("rows", stats.OutputRows).
		Msg("estágio executado")
	writeJSON(w, http.StatusOK, protocol.StageResponse{WorkerID: s.workerID, Batch: out, Stats: stats})
}

type loadRequest struct {
	Table  string                   `json:"table"`
	Schema *tableSchemaPayload      `json:"schema"`
	Rows   []map[string]interface{} `json:"rows"`
}

type tableSchemaPayload struct {
	Columns []columnSchemaPayload `json:"columns"`
}

type columnSchemaPayload struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

func (s *Server) handleDataLoad(w http.ResponseWriter, r *http.Request) {
	var req loadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "payload inválido")
		return
	}
	loaded, err := s.applyLoadRequest(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"table":      req.Table,
		"rowsLoaded": loaded,
	})
}

func (s *Server) applyLoadRequest(req loadRequest) (int, error) {
	if strings.TrimSpace(req.Table) == "" {
		return 0, fmt.Errorf("campo table é obrigatório")
	}
	if len(req.Rows) == 0 {
		return 0, fmt.Errorf("rows não pode ser vazio")
	}

	schema, err := s.ensureTableSchema(req.Table, req.Schema)
	if err != nil {
		return 0, err
	}

	rows := make([]storage.Row, 0, len(req.Rows))
	for i, raw := range req.Rows {
		row := storage.Row{}
		for _, cs := range schema {
			data, present := raw[cs.Name]
			if !present || data == nil {
				row[cs.Name] = columnar.NewNullValue(cs.Type)
				continue
			}
			value, err := coerceValue(cs.Type, data)
			if err != nil {
				return 0, fmt.Errorf("linha %d, coluna %s: %w", i, cs.Name, err)
			}
			row[cs.Name] = value
		}
		rows = append(rows, row)
	}
	return s.store.Ingest(req.Table, rows)
}

func (s *Server) ensureTableSchema(table string, payload *tableSchemaPayload) (columnar.Schema, error) {
	for _, name := range s.store.Tables() {
		if name == table {
			return s.store.Schema(table)
		}
	}
	if payload == nil || len(payload.Columns) == 0 {
		return nil, fmt.Errorf("schema deve ser informado para tabelas novas")
	}
	schema := make(columnar.Schema, 0, len(payload.Columns))
	for _, col := range payload.Columns {
		dt, err := columnar.ParseDataType(col.Type)
		if err != nil {
			return nil, err
		}
		schema = append(schema, columnar.ColumnSchema{Name: col.Name, Type: dt})
	}
	if err := s.store.RegisterTable(table, schema); err != nil {
		return nil, err
	}
	return schema, nil
}

// coerceValue converte valores decodificados de JSON para o tipo declarado
// da coluna. Números JSON chegam sempre como float64.
func coerceValue(dt columnar.DataType, data interface{}) (columnar.Value, error) {
	switch dt {
	case columnar.TypeInt:
		f, ok := data.(float64)
		if !ok {
			return columnar.Value{}, fmt.Errorf("esperava número, recebeu %T", data)
		}
		return columnar.NewIntValue(int64(f)), nil
	case columnar.TypeFloat:
		f, ok := data.(float64)
		if !ok {
			return columnar.Value{}, fmt.Errorf("esperava número, recebeu %T", data)
		}
		return columnar.NewFloatValue(f), nil
	case columnar.TypeString:
		s, ok := data.(string)
		if !ok {
			return columnar.Value{}, fmt.Errorf("esperava string, recebeu %T", data)
		}
		return columnar.NewStringValue(s), nil
	case columnar.TypeBool:
		b, ok := data.(bool)
		if !ok {
			return columnar.Value{}, fmt.Errorf("esperava bool, recebeu %T", data)
		}
		return columnar.NewBoolValue(b), nil
	}
	return columnar.Value{}, fmt.Errorf("tipo não suportado: %s", dt)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
