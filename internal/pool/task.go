package pool

import (
	"context"
	"sync"
	"time"

	"github.com/alejandrodnm/opticut/internal/domain"
)

// Phase es la fase del ciclo de vida de una tarea. Las fases terminales
// (completed, cancelled, failed, timeout) son finales: no hay transiciones
// posteriores.
type Phase string

const (
	PhaseQueued    Phase = "queued"
	PhaseRunning   Phase = "running"
	PhaseCompleted Phase = "completed"
	PhaseCancelled Phase = "cancelled"
	PhaseFailed    Phase = "failed"
	PhaseTimeout   Phase = "timeout"
)

// Terminal indica si la fase es final.
func (p Phase) Terminal() bool {
	switch p {
	case PhaseCompleted, PhaseCancelled, PhaseFailed, PhaseTimeout:
		return true
	}
	return false
}

// Progress es la instantánea publicada en cada transición de estado.
type Progress struct {
	TaskID      string     `json:"taskId"`
	Phase       Phase      `json:"phase"`
	Progress    int        `json:"progress"`
	Message     string     `json:"message,omitempty"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// ReportFunc permite a una estrategia publicar progreso intermedio. La
// corrección nunca depende de estos valores intermedios.
type ReportFunc func(pct int, msg string)

// Task es la unidad de trabajo que se envía al pool.
type Task struct {
	ID      string
	Type    domain.ProblemType
	Timeout time.Duration
	// Algorithm etiqueta la métrica de duración con la estrategia ejecutada.
	Algorithm string
	// Run ejecuta la estrategia. Debe observar ctx en sus checkpoints
	// cooperativos y retornar pronto tras la cancelación.
	Run func(ctx context.Context, report ReportFunc) (any, error)
}

// taskState es el registro canónico de una tarea dentro del pool.
type taskState struct {
	task        Task
	submittedAt time.Time

	mu          sync.Mutex
	phase       Phase
	progress    int
	message     string
	startedAt   *time.Time
	completedAt *time.Time
	result      any
	err         error

	// userCancel distingue cancelación explícita de timeout: ambos llegan
	// como context cancelado pero terminan en fases distintas.
	userCancel bool
	cancel     context.CancelFunc

	// notify difunde transiciones; lo inyecta el pool en Submit.
	notify func(Progress)

	done chan struct{}
}

func (ts *taskState) snapshot() Progress {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return Progress{
		TaskID:      ts.task.ID,
		Phase:       ts.phase,
		Progress:    ts.progress,
		Message:     ts.message,
		StartedAt:   ts.startedAt,
		CompletedAt: ts.completedAt,
	}
}

// Handle es lo que recibe el caller al encolar: id, cancelación y espera.
type Handle struct {
	TaskID string

	st *taskState
}

// Cancel solicita la cancelación cooperativa. Tras una fase terminal es un
// no-op. Una tarea aún en cola pasa directamente a cancelled sin ejecutarse.
func (h *Handle) Cancel() {
	h.st.mu.Lock()
	if h.st.phase.Terminal() {
		h.st.mu.Unlock()
		return
	}
	h.st.userCancel = true
	// cancel != nil significa que un worker ya reclamó la tarea aunque la
	// fase running no se haya difundido todavía: esa tarea termina por su
	// propio contexto, nunca por esta rama.
	if h.st.phase == PhaseQueued && h.st.cancel == nil {
		now := time.Now()
		h.st.phase = PhaseCancelled
		h.st.completedAt = &now
		h.st.message = "cancelled before execution"
		h.st.err = domain.ErrCancelled
		notify := h.st.notify
		h.st.mu.Unlock()
		close(h.st.done)
		if notify != nil {
			notify(h.st.snapshot())
		}
		return
	}
	cancel := h.st.cancel
	h.st.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Wait bloquea hasta la fase terminal de la tarea o hasta que ctx expire.
func (h *Handle) Wait(ctx context.Context) (any, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.st.done:
	}
	h.st.mu.Lock()
	defer h.st.mu.Unlock()
	return h.st.result, h.st.err
}

// Done se cierra cuando la tarea alcanza una fase terminal.
func (h *Handle) Done() <-chan struct{} { return h.st.done }
