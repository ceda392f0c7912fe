// Package research orchestrates pipeline runs: it owns the tool-server
// sessions, executes the three stages against them, and keeps pipeline
// status in the store current.
package research

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/jeffrobot494/smart-insurance-sub002/internal/metrics"
	"github.com/jeffrobot494/smart-insurance-sub002/internal/pipeline"
	"github.com/jeffrobot494/smart-insurance-sub002/internal/report"
	"github.com/jeffrobot494/smart-insurance-sub002/internal/store"
)

var (
	ErrPipelineNotFound = errors.New("pipeline not found")
	ErrStageInProgress  = errors.New("a stage is already running for this pipeline")
	ErrPipelineDone     = errors.New("pipeline already ran to completion")
)

// InvalidTransitionError reports a stage start that the pipeline's current
// status does not allow.
type InvalidTransitionError struct {
	Stage  string
	Status pipeline.Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot start %s stage from status %s", e.Stage, e.Status)
}

// Config wires the manager to its tool servers.
type Config struct {
	// ResearchServer names the pool session serving the research and
	// legal resolution tools.
	ResearchServer string
	// DataServer names the pool session serving the Form 5500 and
	// Schedule A query tools.
	DataServer string
	// Concurrency caps per-company parallelism inside a stage.
	Concurrency int
}

// Manager runs pipeline stages. One stage at most runs per pipeline;
// different pipelines run independently.
type Manager struct {
	db       *store.Store
	invokers map[string]Invoker
	gen      *report.Generator
	log      *slog.Logger
	cfg      Config

	mu      sync.Mutex
	running map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// NewManager builds a manager over the given tool-server invokers, keyed by
// server name. In the daemon these are pool sessions.
func NewManager(db *store.Store, invokers map[string]Invoker, log *slog.Logger, cfg Config) *Manager {
	if log == nil {
		log = slog.Default()
	}
	if cfg.ResearchServer == "" {
		cfg.ResearchServer = "research"
	}
	if cfg.DataServer == "" {
		cfg.DataServer = "data"
	}
	return &Manager{
		db:       db,
		invokers: invokers,
		gen:      report.NewGenerator(db),
		log:      log,
		cfg:      cfg,
		running:  make(map[string]context.CancelFunc),
	}
}

// RecoverOrphans fails every pipeline left at a running status by an
// unclean shutdown. In-flight work does not survive a restart, so a row
// still marked running belongs to a stage that will never finish; moving it
// to the stage's failed status lets the operator resume it. Call once at
// startup, before any new stage can begin.
func (m *Manager) RecoverOrphans() error {
	for _, st := range []pipeline.Status{
		pipeline.StatusResearchRunning,
		pipeline.StatusLegalResolutionRunning,
		pipeline.StatusDataExtractionRunning,
	} {
		orphans, err := m.db.ListPipelines(st)
		if err != nil {
			return fmt.Errorf("list %s pipelines: %w", st, err)
		}
		for _, p := range orphans {
			failed := stageStatus(st.Stage(), "failed")
			if err := m.db.FailPipeline(p.ID, failed, "interrupted by daemon restart"); err != nil {
				return fmt.Errorf("recover pipeline %s: %w", p.ID, err)
			}
			metrics.PipelineTransitions.WithLabelValues(string(failed)).Inc()
			m.log.Warn("recovered orphaned pipeline", "pipeline", p.ID, "from", st, "to", failed)
		}
	}
	return nil
}

// CreatePipeline registers a new pending pipeline for a firm.
func (m *Manager) CreatePipeline(firmName string) (*store.Pipeline, error) {
	p := &store.Pipeline{
		ID:       uuid.NewString(),
		FirmName: firmName,
		Status:   pipeline.StatusPending,
	}
	if err := m.db.CreatePipeline(p); err != nil {
		return nil, err
	}
	m.log.Info("pipeline created", "pipeline", p.ID, "firm", firmName)
	return p, nil
}

// allowedFrom lists the statuses each stage may start from: its own
// failed/cancelled status for a retry, or the previous stage's resting
// point.
var allowedFrom = map[string][]pipeline.Status{
	StageResearch: {
		pipeline.StatusPending,
		pipeline.StatusResearchFailed,
		pipeline.StatusResearchCancelled,
	},
	StageLegalResolution: {
		pipeline.StatusResearchComplete,
		pipeline.StatusLegalResolutionFailed,
		pipeline.StatusLegalResolutionCancelled,
	},
	StageDataExtraction: {
		pipeline.StatusLegalResolutionComplete,
		pipeline.StatusDataExtractionFailed,
		pipeline.StatusDataExtractionCancelled,
	},
}

// StartStage begins one stage for a pipeline and returns once it is
// running. The stage itself proceeds in the background; progress lands in
// the store.
func (m *Manager) StartStage(id, stage string) error {
	allowed, ok := allowedFrom[stage]
	if !ok {
		return fmt.Errorf("unknown stage %q", stage)
	}

	p, err := m.db.GetPipeline(id)
	if err != nil {
		return err
	}
	if p == nil {
		return ErrPipelineNotFound
	}

	permitted := false
	for _, st := range allowed {
		if p.Status == st {
			permitted = true
			break
		}
	}
	if !permitted {
		return &InvalidTransitionError{Stage: stage, Status: p.Status}
	}

	m.mu.Lock()
	if _, busy := m.running[id]; busy {
		m.mu.Unlock()
		return ErrStageInProgress
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.running[id] = cancel
	m.mu.Unlock()

	if err := m.setStatus(id, stageStatus(stage, "running")); err != nil {
		m.finish(id)
		return err
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer m.finish(id)
		m.runStage(ctx, p, stage)
	}()
	return nil
}

// Resume starts whichever stage the pipeline's status calls for next: the
// next stage from a resting point, or the same stage again after a failure
// or cancellation.
func (m *Manager) Resume(id string) error {
	p, err := m.db.GetPipeline(id)
	if err != nil {
		return err
	}
	if p == nil {
		return ErrPipelineNotFound
	}

	var stage string
	switch p.Status {
	case pipeline.StatusPending, pipeline.StatusResearchFailed, pipeline.StatusResearchCancelled:
		stage = StageResearch
	case pipeline.StatusResearchComplete, pipeline.StatusLegalResolutionFailed, pipeline.StatusLegalResolutionCancelled:
		stage = StageLegalResolution
	case pipeline.StatusLegalResolutionComplete, pipeline.StatusDataExtractionFailed, pipeline.StatusDataExtractionCancelled:
		stage = StageDataExtraction
	case pipeline.StatusDataExtractionComplete:
		return ErrPipelineDone
	default:
		return ErrStageInProgress
	}
	return m.StartStage(id, stage)
}

// Cancel interrupts the running stage for a pipeline, if any.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	cancel, ok := m.running[id]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("pipeline %s has no running stage", id)
	}
	cancel()
	return nil
}

// Running reports whether a stage is currently executing for id.
func (m *Manager) Running(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.running[id]
	return ok
}

// Shutdown cancels every running stage and waits for them to wind down.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	for _, cancel := range m.running {
		cancel()
	}
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *Manager) finish(id string) {
	m.mu.Lock()
	if cancel, ok := m.running[id]; ok {
		cancel()
		delete(m.running, id)
	}
	m.mu.Unlock()
}

func (m *Manager) runStage(ctx context.Context, p *store.Pipeline, stage string) {
	log := m.log.With("pipeline", p.ID, "stage", stage)
	log.Info("stage started", "firm", p.FirmName)

	err := m.execute(ctx, p, stage)
	switch {
	case err == nil:
		if stage == StageDataExtraction {
			if repErr := m.generateReport(p); repErr != nil {
				log.Error("report generation failed", "error", repErr)
				m.failStatus(p.ID, stageStatus(stage, "failed"), repErr)
				return
			}
		}
		if err := m.setStatus(p.ID, stageStatus(stage, "complete")); err != nil {
			log.Error("recording completion failed", "error", err)
		}
		log.Info("stage complete")
	case ctx.Err() != nil:
		if err := m.setStatus(p.ID, stageStatus(stage, "cancelled")); err != nil {
			log.Error("recording cancellation failed", "error", err)
		}
		log.Info("stage cancelled")
	default:
		m.failStatus(p.ID, stageStatus(stage, "failed"), err)
		log.Error("stage failed", "error", err)
	}
}

func (m *Manager) execute(ctx context.Context, p *store.Pipeline, stage string) error {
	switch stage {
	case StageResearch:
		inv, err := m.invoker(m.cfg.ResearchServer)
		if err != nil {
			return err
		}
		return runResearch(ctx, inv, m.db, m.log, p.ID, p.FirmName)
	case StageLegalResolution:
		inv, err := m.invoker(m.cfg.ResearchServer)
		if err != nil {
			return err
		}
		return runLegalResolution(ctx, inv, m.db, m.log, p.ID, m.cfg.Concurrency)
	case StageDataExtraction:
		inv, err := m.invoker(m.cfg.DataServer)
		if err != nil {
			return err
		}
		return runDataExtraction(ctx, inv, m.db, m.log, p.ID, m.cfg.Concurrency)
	}
	return fmt.Errorf("unknown stage %q", stage)
}

func (m *Manager) invoker(name string) (Invoker, error) {
	inv, ok := m.invokers[name]
	if !ok {
		return nil, fmt.Errorf("no tool server named %q", name)
	}
	return inv, nil
}

func (m *Manager) generateReport(p *store.Pipeline) error {
	rep, err := m.gen.Generate(p.FirmName, p.ID)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return m.db.SaveReport(&store.Report{
		PipelineID: p.ID,
		FirmName:   p.FirmName,
		Payload:    payload,
	})
}

func (m *Manager) setStatus(id string, status pipeline.Status) error {
	if err := m.db.UpdatePipelineStatus(id, status); err != nil {
		return err
	}
	metrics.PipelineTransitions.WithLabelValues(string(status)).Inc()
	return nil
}

func (m *Manager) failStatus(id string, status pipeline.Status, cause error) {
	if err := m.db.FailPipeline(id, status, cause.Error()); err != nil {
		m.log.Error("recording failure", "pipeline", id, "error", err)
		return
	}
	metrics.PipelineTransitions.WithLabelValues(string(status)).Inc()
}

// stageStatus maps a stage and outcome to the pipeline status value.
func stageStatus(stage, outcome string) pipeline.Status {
	return pipeline.Status(stage + "_" + outcome)
}
