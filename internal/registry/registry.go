package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Jonatan852/querygrid/pkg/qglog"
)

// WorkerStatus representa o estado de saúde de um worker.
type WorkerStatus string

const (
	StatusHealthy   WorkerStatus = "HEALTHY"
	StatusUnhealthy WorkerStatus = "UNHEALTHY"
	StatusDraining  WorkerStatus = "DRAINING"
)

// SweepInterval é o período do sweep de workers sem heartbeat.
// HeartbeatTimeout precisa ser no mínimo o dobro de SweepInterval para que
// um worker nunca seja marcado UNHEALTHY por uma única janela perdida.
const (
	SweepInterval    = 60 * time.Second
	HeartbeatTimeout = 120 * time.Second
)

// Resources é o snapshot de recursos declarado pelo worker.
type Resources struct {
	CPUMillis   int64 `json:"cpuMillis"`
	MemoryBytes int64 `json:"memoryBytes"`
}

// WorkerInfo é a visão imutável de um worker devolvida pelas consultas.
type WorkerInfo struct {
	WorkerID      string            `json:"workerId"`
	Endpoint      string            `json:"endpoint"`
	Resources     Resources         `json:"resources"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	Status        WorkerStatus      `json:"status"`
	RegisteredAt  time.Time         `json:"registeredAt"`
	LastHeartbeat time.Time         `json:"lastHeartbeat"`
}

// ClusterStats agrupa contadores por status, calculados sob demanda.
type ClusterStats struct {
	Total     int `json:"total"`
	Healthy   int `json:"healthy"`
	Unhealthy int `json:"unhealthy"`
	Draining  int `json:"draining"`
}

// record é o estado mutável de um worker. Cada record tem seu próprio mutex
// para que heartbeats e o sweep nunca bloqueiem workers não relacionados.
type record struct {
	mu            sync.Mutex
	workerID      string
	endpoint      string
	resources     Resources
	metadata      map[string]string
	status        WorkerStatus
	registeredAt  time.Time
	lastHeartbeat time.Time
}

func (r *record) snapshot() WorkerInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	meta := make(map[string]string, len(r.metadata))
	for k, v := range r.metadata {
		meta[k] = v
	}
	return WorkerInfo{
		WorkerID:      r.workerID,
		Endpoint:      r.endpoint,
		Resources:     r.resources,
		Metadata:      meta,
		Status:        r.status,
		RegisteredAt:  r.registeredAt,
		LastHeartbeat: r.lastHeartbeat,
	}
}

// Registry mantém o estado de todos os workers conhecidos.
// O mapa é concorrente por chave: registros, heartbeats e o sweep competem
// apenas pelo record do worker em questão.
type Registry struct {
	workers sync.Map // workerID -> *record
	now     func() time.Time
	stop    chan struct{}
	stopped sync.Once
}

// Option configura o registry na construção.
type Option func(*Registry)

// WithClock injeta um relógio alternativo (usado em testes).
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// New cria o registry e inicia o loop periódico do sweep.
// Close precisa ser chamado no shutdown para encerrar o loop.
func New(opts ...Option) *Registry {
	r := &Registry{
		now:  time.Now,
		stop: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	go r.sweepLoop()
	return r
}

func (r *Registry) sweepLoop() {
	ticker := time.NewTicker(SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.SweepUnhealthy()
		case <-r.stop:
			return
		}
	}
}

// Close encerra o loop do sweep. Idempotente.
func (r *Registry) Close() {
	r.stopped.Do(func() { close(r.stop) })
}

// Register insere um novo worker com status HEALTHY. Nunca falha: se o ID
// pedido está ausente ou em uso, gera um único anexando -1, -2, … à base.
func (r *Registry) Register(requestedID, endpoint string, resources Resources, metadata map[string]string) string {
	base := requestedID
	if base == "" {
		base = "worker"
	}
	now := r.now()
	for attempt := 0; ; attempt++ {
		candidate := base
		if attempt > 0 {
			candidate = fmt.Sprintf("%s-%d", base, attempt)
		}
		rec := &record{
			workerID:      candidate,
			endpoint:      endpoint,
			resources:     resources,
			metadata:      metadata,
			status:        StatusHealthy,
			registeredAt:  now,
			lastHeartbeat: now,
		}
		if _, loaded := r.workers.LoadOrStore(candidate, rec); !loaded {
			qglog.Zero.Info().
				Str("worker", candidate).
				Str("endpoint", endpoint).
				Msg("worker registrado")
			return candidate
		}
	}
}

// Deregister remove o record do worker. Devolve false se o ID era desconhecido.
// Estágios em voo naquele worker são problema do scheduler, não do registry.
func (r *Registry) Deregister(workerID, reason string) bool {
	if _, ok := r.workers.LoadAndDelete(workerID); !ok {
		return false
	}
	qglog.Zero.Info().
		Str("worker", workerID).
		Str("reason", reason).
		Msg("worker removido do registry")
	return true
}

// Heartbeat atualiza recursos e renova lastHeartbeat. Um worker UNHEALTHY
// volta a HEALTHY: o próprio heartbeat é a evidência de recuperação.
// Devolve false (não reconhecido) para worker desconhecido.
func (r *Registry) Heartbeat(workerID string, resources Resources, statusMetadata map[string]string) bool {
	v, ok := r.workers.Load(workerID)
	if !ok {
		qglog.Zero.Warn().Str("worker", workerID).Msg("heartbeat de worker desconhecido")
		return false
	}
	rec := v.(*record)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.resources = resources
	rec.lastHeartbeat = r.now()
	for k, val := range statusMetadata {
		if rec.metadata == nil {
			rec.metadata = map[string]string{}
		}
		rec.metadata[k] = val
	}
	if rec.status == StatusUnhealthy {
		rec.status = StatusHealthy
		qglog.Zero.Info().Str("worker", workerID).Msg("worker recuperado via heartbeat")
	}
	return true
}

// Drain coloca o worker em DRAINING. O estado é iniciado pelo operador e
// nunca é revertido automaticamente.
func (r *Registry) Drain(workerID string) bool {
	v, ok := r.workers.Load(workerID)
	if !ok {
		return false
	}
	rec := v.(*record)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.status = StatusDraining
	return true
}

// ListWorkers devolve os workers conhecidos, opcionalmente filtrados por status.
func (r *Registry) ListWorkers(statusFilter WorkerStatus) []WorkerInfo {
	var result []WorkerInfo
	r.workers.Range(func(_, v interface{}) bool {
		info := v.(*record).snapshot()
		if statusFilter == "" || info.Status == statusFilter {
			result = append(result, info)
		}
		return true
	})
	sort.Slice(result, func(i, j int) bool { return result[i].WorkerID < result[j].WorkerID })
	return result
}

// GetHealthyWorkers devolve apenas os workers HEALTHY.
func (r *Registry) GetHealthyWorkers() []WorkerInfo {
	return r.ListWorkers(StatusHealthy)
}

// IsHealthy indica se o worker existe e está HEALTHY.
func (r *Registry) IsHealthy(workerID string) bool {
	v, ok := r.workers.Load(workerID)
	if !ok {
		return false
	}
	rec := v.(*record)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.status == StatusHealthy
}

// SweepUnhealthy marca como UNHEALTHY todo worker HEALTHY cujo último
// heartbeat é mais antigo que HeartbeatTimeout. Este é o único ponto onde a
// transição HEALTHY→UNHEALTHY acontece automaticamente.
func (r *Registry) SweepUnhealthy() {
	cutoff := r.now().Add(-HeartbeatTimeout)
	r.workers.Range(func(_, v interface{}) bool {
		rec := v.(*record)
		rec.mu.Lock()
		if rec.status == StatusHealthy && rec.lastHeartbeat.Before(cutoff) {
			rec.status = StatusUnhealthy
			qglog.Zero.Warn().
				Str("worker", rec.workerID).
				Time("lastHeartbeat", rec.lastHeartbeat).
				Msg("worker marcado UNHEALTHY pelo sweep")
		}
		rec.mu.Unlock()
		return true
	})
}

// ClusterStats conta workers por status.
func (r *Registry) ClusterStats() ClusterStats {
	var stats ClusterStats
	r.workers.Range(func(_, v interface{}) bool {
		info := v.(*record).snapshot()
		stats.Total++
		switch info.Status {
		case StatusHealthy:
			stats.Healthy++
		case StatusUnhealthy:
			stats.Unhealthy++
		case StatusDraining:
			stats.Draining++
		}
		return true
	})
	return stats
}
