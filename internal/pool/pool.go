package pool

// pool.go — pool de workers acotado para ejecutar estrategias fuera del
// camino de servicio de peticiones.
//
// Modelo: N workers fijos consumen de una cola acotada. Cola llena →
// ERR_QUEUE_FULL inmediato (fail-fast, nunca bloquear al caller). Cada
// tarea corre en exactamente un worker con su propio context (deadline +
// cancelación cooperativa). El broadcast de progreso pasa por un callback
// inyectado, protegido con recover para que un subscriber roto no tumbe
// un worker.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alejandrodnm/opticut/internal/domain"
	"github.com/alejandrodnm/opticut/internal/ports"
	"github.com/google/uuid"
)

// Config controla el dimensionado y la retención del pool.
type Config struct {
	MinWorkers int
	MaxWorkers int
	MaxQueue   int
	// DefaultTimeout se aplica a tareas sin deadline propio.
	DefaultTimeout time.Duration
	// RetainGrace es cuánto se conserva el registro de una tarea terminal
	// antes de evictarla.
	RetainGrace time.Duration
	// OnProgress recibe cada transición de estado. Puede ser nil.
	OnProgress func(Progress)
	// Metrics puede ser nil; se sustituye por el sink nulo.
	Metrics ports.Metrics
}

// DefaultConfig devuelve la configuración de serie del pool.
func DefaultConfig() Config {
	return Config{
		MinWorkers:     4,
		MaxWorkers:     12,
		MaxQueue:       256,
		DefaultTimeout: 60 * time.Second,
		RetainGrace:    time.Minute,
	}
}

// Pool ejecuta tareas con concurrencia acotada.
type Pool struct {
	cfg     Config
	workers int

	queue chan *taskState
	// drain se cierra en Shutdown; la cola nunca se cierra para que un
	// Submit concurrente no pueda enviar sobre un canal cerrado.
	drain chan struct{}

	mu    sync.Mutex
	tasks map[string]*taskState

	// subMu serializa la comprobación de drain con el envío a la cola
	// frente a Shutdown.
	subMu sync.RWMutex

	active    atomic.Int64
	completed atomic.Int64
	draining  atomic.Bool
	hardStop  atomic.Bool

	metrics ports.Metrics

	wg        sync.WaitGroup
	stopSweep chan struct{}
}

// New arranca el pool: el número de workers se deriva de la CPU (menos dos
// cores reservados al resto del proceso) acotado a [MinWorkers, MaxWorkers].
func New(cfg Config) *Pool {
	if cfg.MinWorkers <= 0 {
		cfg.MinWorkers = 4
	}
	if cfg.MaxWorkers < cfg.MinWorkers {
		cfg.MaxWorkers = cfg.MinWorkers
	}
	if cfg.MaxQueue <= 0 {
		cfg.MaxQueue = 256
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 60 * time.Second
	}
	if cfg.RetainGrace <= 0 {
		cfg.RetainGrace = time.Minute
	}
	if cfg.Metrics == nil {
		cfg.Metrics = ports.NopMetrics{}
	}

	workers := runtime.NumCPU() - 2
	if workers < cfg.MinWorkers {
		workers = cfg.MinWorkers
	}
	if workers > cfg.MaxWorkers {
		workers = cfg.MaxWorkers
	}

	p := &Pool{
		cfg:       cfg,
		workers:   workers,
		queue:     make(chan *taskState, cfg.MaxQueue),
		drain:     make(chan struct{}),
		tasks:     make(map[string]*taskState),
		metrics:   cfg.Metrics,
		stopSweep: make(chan struct{}),
	}

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	go p.sweeper()

	slog.Info("worker pool started",
		"workers", workers,
		"max_queue", cfg.MaxQueue,
	)
	return p
}

// Submit encola una tarea. Devuelve el handle con cancelación o falla
// inmediatamente con ERR_QUEUE_FULL / ERR_POOL_NOT_READY.
func (p *Pool) Submit(task Task) (*Handle, error) {
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if task.Timeout <= 0 {
		task.Timeout = p.cfg.DefaultTimeout
	}

	st := &taskState{
		task:        task,
		submittedAt: time.Now(),
		phase:       PhaseQueued,
		notify:      p.notify,
		done:        make(chan struct{}),
	}

	// Comprobación de drain y envío bajo el mismo candado de lectura:
	// Shutdown toma el de escritura antes de señalar el drain, así que
	// ningún envío queda a medias cuando los workers empiezan a salir.
	p.subMu.RLock()
	if p.draining.Load() {
		p.subMu.RUnlock()
		return nil, fmt.Errorf("pool.Submit: %w", domain.ErrPoolNotReady)
	}

	p.mu.Lock()
	p.tasks[task.ID] = st
	p.mu.Unlock()

	select {
	case p.queue <- st:
		p.subMu.RUnlock()
	default:
		p.subMu.RUnlock()
		p.mu.Lock()
		delete(p.tasks, task.ID)
		p.mu.Unlock()
		p.metrics.Counter("optimization_tasks_total",
			map[string]string{"type": string(task.Type), "status": "rejected"}, 1)
		return nil, fmt.Errorf("pool.Submit: %w", domain.ErrQueueFull)
	}

	p.publish(st, PhaseQueued, 0, "")
	p.metrics.Gauge("pool_queue_size", nil, float64(len(p.queue)))
	return &Handle{TaskID: task.ID, st: st}, nil
}

// Cancel solicita la cancelación de una tarea por id. No-op si no existe o
// ya es terminal.
func (p *Pool) Cancel(taskID string) {
	p.mu.Lock()
	st, ok := p.tasks[taskID]
	p.mu.Unlock()
	if ok {
		(&Handle{TaskID: taskID, st: st}).Cancel()
	}
}

// Progress devuelve la instantánea actual de una tarea.
func (p *Pool) Progress(taskID string) (Progress, bool) {
	p.mu.Lock()
	st, ok := p.tasks[taskID]
	p.mu.Unlock()
	if !ok {
		return Progress{}, false
	}
	return st.snapshot(), true
}

// Health es el estado observable del pool.
type Health struct {
	Initialized bool    `json:"initialized"`
	Completed   int64   `json:"completed"`
	Utilization float64 `json:"utilization"`
	QueueSize   int     `json:"queueSize"`
	MinThreads  int     `json:"minThreads"`
	MaxThreads  int     `json:"maxThreads"`
}

// Health devuelve las métricas instantáneas: utilization = active/maxThreads.
func (p *Pool) Health() Health {
	return Health{
		Initialized: !p.draining.Load(),
		Completed:   p.completed.Load(),
		Utilization: float64(p.active.Load()) / float64(p.cfg.MaxWorkers),
		QueueSize:   len(p.queue),
		MinThreads:  p.cfg.MinWorkers,
		MaxThreads:  p.cfg.MaxWorkers,
	}
}

// Shutdown entra en modo drain: rechaza envíos nuevos y espera las tareas
// en vuelo. Si ctx expira antes, cancela en duro lo que quede corriendo.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.subMu.Lock()
	already := p.draining.Swap(true)
	p.subMu.Unlock()
	if already {
		return nil
	}
	close(p.drain)
	close(p.stopSweep)

	finished := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		slog.Info("worker pool drained", "completed", p.completed.Load())
		return nil
	case <-ctx.Done():
		// Hard stop: cancelar todo lo que siga corriendo y vaciar la cola
		// sin ejecutar lo pendiente.
		p.hardStop.Store(true)
		p.mu.Lock()
		for _, st := range p.tasks {
			st.mu.Lock()
			cancel := st.cancel
			st.mu.Unlock()
			if cancel != nil {
				cancel()
			}
		}
		p.mu.Unlock()
		<-finished
		slog.Warn("worker pool hard-stopped", "err", ctx.Err())
		return ctx.Err()
	}
}

// worker consume tareas de la cola hasta la señal de drain; entonces apura
// lo que quede encolado y sale.
func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case st := <-p.queue:
			p.runTask(st)
		case <-p.drain:
			for {
				select {
				case st := <-p.queue:
					p.runTask(st)
				default:
					return
				}
			}
		}
	}
}

// runTask ejecuta una tarea: queued(0) → running(10) → terminal.
func (p *Pool) runTask(st *taskState) {
	st.mu.Lock()
	if st.phase.Terminal() {
		// Cancelada mientras esperaba en cola.
		st.mu.Unlock()
		return
	}
	if p.hardStop.Load() {
		now := time.Now()
		st.phase = PhaseCancelled
		st.completedAt = &now
		st.message = "pool hard-stopped"
		st.err = domain.ErrCancelled
		st.mu.Unlock()
		close(st.done)
		p.notify(st.snapshot())
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), st.task.Timeout)
	st.cancel = cancel
	now := time.Now()
	st.startedAt = &now
	st.mu.Unlock()
	defer cancel()

	p.active.Add(1)
	defer p.active.Add(-1)
	p.metrics.Gauge("pool_utilization", nil, float64(p.active.Load())/float64(p.cfg.MaxWorkers))

	p.publish(st, PhaseRunning, 10, "")

	report := func(pct int, msg string) {
		if pct < 0 || pct > 100 {
			return
		}
		st.mu.Lock()
		if st.phase != PhaseRunning {
			st.mu.Unlock()
			return
		}
		st.progress = pct
		st.message = msg
		st.mu.Unlock()
		p.notify(st.snapshot())
	}

	result, err := p.safeRun(ctx, st, report)

	st.mu.Lock()
	st.result = result
	st.err = err
	userCancel := st.userCancel
	st.mu.Unlock()

	status := "completed"
	switch {
	case err == nil:
		p.completed.Add(1)
		p.metrics.Gauge("pool_completed_total", nil, float64(p.completed.Load()))
		p.publish(st, PhaseCompleted, 100, "")
	case userCancel:
		status = "cancelled"
		p.setError(st, domain.ErrCancelled, err)
		p.publish(st, PhaseCancelled, -1, "cancelled by caller")
	case errors.Is(err, context.DeadlineExceeded):
		status = "timeout"
		p.setError(st, domain.ErrTimeout, err)
		p.publish(st, PhaseTimeout, -1, "deadline exceeded")
	default:
		status = "failed"
		p.publish(st, PhaseFailed, -1, err.Error())
	}

	p.metrics.Counter("optimization_tasks_total",
		map[string]string{"type": string(st.task.Type), "status": status}, 1)
	if st.startedAt != nil {
		p.metrics.Observe("optimization_duration_seconds",
			map[string]string{"type": string(st.task.Type), "algorithm": st.task.Algorithm},
			time.Since(*st.startedAt).Seconds())
	}

	close(st.done)
}

// safeRun aísla panics de la estrategia: un invariante roto termina la
// tarea como failed, nunca tumba el worker.
func (p *Pool) safeRun(ctx context.Context, st *taskState, report ReportFunc) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("strategy panicked", "task_id", st.task.ID, "panic", r)
			result = nil
			err = domain.NewError(domain.CodeStrategyFailed,
				fmt.Sprintf("strategy panic: %v", r), nil)
		}
	}()
	return st.task.Run(ctx, report)
}

// setError sustituye el error crudo de contexto por el error de dominio
// equivalente, conservando el original como causa.
func (p *Pool) setError(st *taskState, kind *domain.Error, cause error) {
	st.mu.Lock()
	st.err = fmt.Errorf("%w: %w", kind, cause)
	st.mu.Unlock()
}

// publish registra la transición y la difunde. progress -1 conserva el
// último valor conocido.
func (p *Pool) publish(st *taskState, phase Phase, progress int, msg string) {
	st.mu.Lock()
	// Las fases terminales son finales; y un worker rápido puede haber
	// avanzado la tarea antes de que Submit difunda queued. Nunca se
	// retrocede.
	if st.phase.Terminal() || (phase == PhaseQueued && st.phase != PhaseQueued) {
		st.mu.Unlock()
		return
	}
	st.phase = phase
	if progress >= 0 {
		st.progress = progress
	}
	if msg != "" {
		st.message = msg
	}
	if phase.Terminal() {
		now := time.Now()
		st.completedAt = &now
		if phase == PhaseCompleted {
			st.progress = 100
		}
	}
	st.mu.Unlock()
	p.notify(st.snapshot())
}

// notify invoca el callback de progreso protegido contra panics.
func (p *Pool) notify(prog Progress) {
	if p.cfg.OnProgress == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("progress callback panicked", "task_id", prog.TaskID, "panic", r)
		}
	}()
	p.cfg.OnProgress(prog)
}

// sweeper evicta registros terminales pasado el periodo de gracia.
func (p *Pool) sweeper() {
	interval := p.cfg.RetainGrace / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopSweep:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-p.cfg.RetainGrace)
			p.mu.Lock()
			for id, st := range p.tasks {
				st.mu.Lock()
				evict := st.phase.Terminal() && st.completedAt != nil && st.completedAt.Before(cutoff)
				st.mu.Unlock()
				if evict {
					delete(p.tasks, id)
				}
			}
			p.mu.Unlock()
		}
	}
}
