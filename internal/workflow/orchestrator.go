package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Rogers-F/handoff-engine/internal/capability"
	"github.com/Rogers-F/handoff-engine/internal/config"
	"github.com/Rogers-F/handoff-engine/internal/domain"
	"github.com/Rogers-F/handoff-engine/internal/guard"
	"github.com/Rogers-F/handoff-engine/internal/logging"
	"github.com/Rogers-F/handoff-engine/internal/review"
)

const tracerName = "github.com/Rogers-F/handoff-engine/internal/workflow"

// StateStore persists workflow state between phases and across pauses.
type StateStore interface {
	capability.Persistence
	guard.Auditor
	CreateWorkflow(ctx context.Context, rec *domain.WorkflowRecord, p *domain.HandoffPacket) error
	SaveWorkflow(ctx context.Context, rec *domain.WorkflowRecord, p *domain.HandoffPacket) error
	LoadWorkflow(ctx context.Context, traceID string) (*domain.WorkflowRecord, *domain.HandoffPacket, error)
	SaveReviews(ctx context.Context, traceID string, reviews domain.SMEReviews) (int, error)
}

// StartRequest describes a new workflow.
type StartRequest struct {
	Task string
	// Hints are appended to constraints before Strategy runs.
	Hints []string
	// Config replaces the orchestrator's default configuration when set.
	Config *config.WorkflowConfig
}

// Result is the state of a workflow after Start or Resume returns. A paused
// workflow is not an error; failed and aborted workflows come with one.
type Result struct {
	TraceID     string
	Status      domain.WorkflowStatus
	PauseReason domain.PauseReason
	LoopBacks   int
	Packet      *domain.HandoffPacket
	Gate        *review.Decision
}

// PhaseLogEntry is the payload written to the phase log for each phase run.
type PhaseLogEntry struct {
	Phase      domain.Phase `json:"phase"`
	Outcome    string       `json:"outcome"`
	LoopBack   int          `json:"loopBack"`
	DurationMs int64        `json:"durationMs"`
	Model      string       `json:"model,omitempty"`
	Detail     string       `json:"detail,omitempty"`
}

// Orchestrator drives workflows through the phase sequence.
type Orchestrator struct {
	Store   StateStore
	Exec    capability.ModelExecutor
	Files   capability.FileMutator
	Config  config.WorkflowConfig
	Gates   *PhaseGateRegistry
	Metrics *Metrics
	Logger  *zap.Logger

	executors  map[domain.Phase]PhaseExecutor
	quality    *review.QualityGate
	tracer     trace.Tracer
	newBackOff func() backoff.BackOff
	now        func() time.Time
	newID      func() string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) { o.Logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) { o.Metrics = m }
}

// WithBackOff sets the retry schedule for model calls and file operations.
func WithBackOff(f func() backoff.BackOff) Option {
	return func(o *Orchestrator) { o.newBackOff = f }
}

// WithExecutor replaces the executor for e.Phase().
func WithExecutor(e PhaseExecutor) Option {
	return func(o *Orchestrator) { o.executors[e.Phase()] = e }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithIDGenerator sets the trace id generator.
func WithIDGenerator(f func() string) Option {
	return func(o *Orchestrator) { o.newID = f }
}

// NewOrchestrator wires an orchestrator with the default executors and gates.
// files may be nil when no phase is expected to write files.
func NewOrchestrator(st StateStore, exec capability.ModelExecutor, files capability.FileMutator, cfg config.WorkflowConfig, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		Store:     st,
		Exec:      exec,
		Files:     files,
		Config:    cfg,
		Gates:     NewPhaseGateRegistry(),
		executors: make(map[domain.Phase]PhaseExecutor),
		quality:   &review.QualityGate{},
		tracer:    otel.Tracer(tracerName),
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, e := range DefaultExecutors() {
		o.executors[e.Phase()] = e
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Metrics == nil {
		o.Metrics = NewMetrics(nil)
	}
	return o
}

// run is the state of one workflow while the orchestrator drives it.
type run struct {
	rec *domain.WorkflowRecord
	p   *domain.HandoffPacket
	cfg config.WorkflowConfig
	env *Env
	log *zap.Logger
}

func (o *Orchestrator) newRun(ctx context.Context, rec *domain.WorkflowRecord, p *domain.HandoffPacket, cfg config.WorkflowConfig) *run {
	env := &Env{
		TraceID:    rec.TraceID,
		Config:     cfg,
		Exec:       o.Exec,
		NewBackOff: o.newBackOff,
	}
	if o.Files != nil {
		files := o.Files
		if s, ok := files.(capability.Sessioner); ok {
			files = s.Session()
		}
		var extra []string
		if cfg.SafetyHooks {
			extra = cfg.ProtectedPaths
		}
		env.Files = guard.NewPathGuard(files, o.Store, rec.TraceID, extra...)
	}
	log := logging.For(ctx, o.Logger)
	env.Logger = log
	return &run{rec: rec, p: p, cfg: cfg, env: env, log: log}
}

// Start creates a workflow for req.Task and drives it until it completes,
// pauses or fails.
func (o *Orchestrator) Start(ctx context.Context, req StartRequest) (*Result, error) {
	cfg := o.Config
	if req.Config != nil {
		cfg = *req.Config
	}
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return nil, domain.ErrConfigInvalid.Wrap(err, "encode workflow config")
	}

	traceID := o.newID()
	ctx = logging.WithTraceID(ctx, traceID)

	p := domain.NewPacket(traceID, req.Task, o.now())
	for _, h := range req.Hints {
		if h = strings.TrimSpace(h); h != "" {
			p.Constraints = append(p.Constraints, "hint: "+h)
		}
	}

	rec := &domain.WorkflowRecord{
		TraceID:      traceID,
		Status:       domain.StatusRunning,
		CurrentPhase: domain.PhaseStrategy,
		ConfigJSON:   string(cfgJSON),
	}
	if err := o.Store.CreateWorkflow(ctx, rec, p); err != nil {
		return nil, err
	}

	r := o.newRun(ctx, rec, p, cfg)
	r.log.Info("workflow started", zap.Int("hints", len(req.Hints)))
	o.audit(ctx, r, "workflow", "system", "started", map[string]any{"task": req.Task, "hints": req.Hints}, nil, "info")
	return o.drive(ctx, r)
}

// Resume applies an external decision to a paused workflow. fix loops back
// to Verify, proceed continues past the pause and abort ends the workflow.
func (o *Orchestrator) Resume(ctx context.Context, traceID string, choice domain.Choice) (*Result, error) {
	ctx = logging.WithTraceID(ctx, traceID)
	rec, p, err := o.Store.LoadWorkflow(ctx, traceID)
	if err != nil {
		return nil, err
	}
	if rec.Status.Terminal() {
		return nil, domain.ErrWorkflowDone.Withf("workflow %s is %s", traceID, rec.Status).WithTrace(traceID, p.LastCompleted())
	}
	if rec.Status != domain.StatusPaused {
		return nil, domain.ErrWorkflowNotPaused.Withf("workflow %s is %s", traceID, rec.Status).WithTrace(traceID, p.LastCompleted())
	}
	cfg, err := o.decodeConfig(rec.ConfigJSON)
	if err != nil {
		return nil, err
	}
	r := o.newRun(ctx, rec, p, cfg)

	if choice == domain.ChoiceProceed && rec.PauseReason == domain.PauseQualityGate && cfg.BlockOnCritical {
		if crit := o.quality.Decide(p.SMEReviews.Findings()).Critical(); len(crit) > 0 {
			return nil, domain.ErrInvalidChoice.Withf("%d critical finding(s) block proceed; choose fix or abort", len(crit)).WithTrace(traceID, p.LastCompleted())
		}
	}

	r.log.Info("resume decision", zap.String("choice", string(choice)), zap.String("pause_reason", string(rec.PauseReason)))
	o.audit(ctx, r, "decision", "user", string(choice),
		map[string]any{"phase": p.Phase.Current, "pauseReason": rec.PauseReason}, nil, "info")

	switch choice {
	case domain.ChoiceAbort:
		if rec.PauseReason == domain.PauseQualityGate {
			o.Metrics.GateDecisions.WithLabelValues(string(review.VerdictAbort)).Inc()
		}
		return o.stop(ctx, r, domain.ErrGateAbort.Withf("aborted by user at %s", p.Phase.Current))

	case domain.ChoiceProceed:
		if rec.PauseReason == domain.PauseVerification && p.Context.Verification != nil {
			p.Context.Verification.Approved = true
		}
		rec.Status = domain.StatusRunning
		rec.PauseReason = ""
		if err := o.advance(ctx, r); err != nil {
			return o.stop(ctx, r, err)
		}

	case domain.ChoiceFix:
		if err := (guard.LoopGuard{Max: cfg.MaxLoopBacks}).CheckLoopBack(p.Metadata.LoopBacks); err != nil {
			return o.stop(ctx, r, err)
		}
		p.Metadata.LoopBacks++
		rec.LoopBacks = p.Metadata.LoopBacks
		rec.Status = domain.StatusRunning
		rec.PauseReason = ""
		if err := transition(p, domain.PhaseVerify); err != nil {
			return o.stop(ctx, r, err)
		}
		rec.CurrentPhase = domain.PhaseVerify
		if err := o.Store.SaveWorkflow(ctx, rec, p); err != nil {
			return nil, err
		}
		o.Metrics.LoopBacks.Inc()

	default:
		return nil, domain.ErrInvalidChoice.Withf("unknown choice %q", choice)
	}

	return o.drive(ctx, r)
}

// Get returns the persisted state of a workflow.
func (o *Orchestrator) Get(ctx context.Context, traceID string) (*Result, error) {
	rec, p, err := o.Store.LoadWorkflow(ctx, traceID)
	if err != nil {
		return nil, err
	}
	res := &Result{
		TraceID:     rec.TraceID,
		Status:      rec.Status,
		PauseReason: rec.PauseReason,
		LoopBacks:   rec.LoopBacks,
		Packet:      p,
	}
	if rec.PauseReason == domain.PauseQualityGate {
		d := o.quality.Decide(p.SMEReviews.Findings())
		res.Gate = &d
	}
	return res, nil
}

// drive runs phases until the workflow pauses, completes or fails.
// Cancellation is observed at every phase boundary.
func (o *Orchestrator) drive(ctx context.Context, r *run) (*Result, error) {
	for {
		if err := ctx.Err(); err != nil {
			return o.stop(ctx, r, err)
		}

		phase := r.p.Phase.Current
		exec, ok := o.executors[phase]
		if !ok {
			return o.stop(ctx, r, domain.ErrExecutorMissing.Withf("no executor for phase %s", phase))
		}

		out, err := o.runPhase(ctx, r, exec)
		if err != nil {
			if !isNonFatal(exec) || ctx.Err() != nil {
				return o.stop(ctx, r, err)
			}
			r.p.AddWarning("%s failed: %v", phase, err)
		}

		if out.Gate != nil {
			o.recordGate(ctx, r, *out.Gate)
		}
		if out.Rollback {
			return o.rollback(ctx, r, out)
		}
		if out.Pause != "" {
			return o.pause(ctx, r, out)
		}
		if r.p.Phase.Next == "" {
			return o.complete(ctx, r)
		}
		if err := ctx.Err(); err != nil {
			return o.stop(ctx, r, err)
		}
		if err := o.advance(ctx, r); err != nil {
			return o.stop(ctx, r, err)
		}
	}
}

// runPhase runs exec on a clone of the packet and commits the clone only if
// the phase succeeded and wrote nothing it does not own.
func (o *Orchestrator) runPhase(ctx context.Context, r *run, exec PhaseExecutor) (Outcome, error) {
	phase := exec.Phase()
	ctx, span := o.tracer.Start(ctx, "phase."+string(phase), trace.WithAttributes(
		attribute.String("handoff.trace_id", r.rec.TraceID),
		attribute.String("handoff.phase", string(phase)),
		attribute.Int("handoff.loop_back", r.p.Metadata.LoopBacks),
	))
	defer span.End()

	log := r.log.With(zap.String("phase", string(phase)))
	log.Info("phase started")
	started := o.now()

	work, err := r.p.Clone()
	if err != nil {
		return Outcome{}, err
	}
	out, err := exec.Run(ctx, r.env, work)
	if err == nil {
		err = domain.CheckWrites(r.p, work, phase)
	}
	if err == nil {
		err = work.CheckPhaseInvariant()
	}
	elapsed := o.now().Sub(started)
	o.Metrics.PhaseDuration.WithLabelValues(string(phase)).Observe(elapsed.Seconds())

	if err != nil {
		outcome := "failed"
		if isNonFatal(exec) {
			outcome = "warning"
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Warn("phase failed", zap.Duration("duration", elapsed), zap.Error(err))
		o.Metrics.PhaseRuns.WithLabelValues(string(phase), outcome).Inc()
		r.p.Metadata.PhaseDurations[phase] = elapsed.Milliseconds()
		o.appendLog(ctx, r, PhaseLogEntry{Phase: phase, Outcome: outcome, DurationMs: elapsed.Milliseconds(), Detail: err.Error()})
		return Outcome{}, err
	}

	*r.p = *work
	r.p.Metadata.PhaseDurations[phase] = elapsed.Milliseconds()
	if out.Model != "" {
		r.p.Metadata.ModelsUsed[phase] = out.Model
	}

	outcome := "completed"
	switch {
	case out.Rollback:
		outcome = "partial_failure"
	case out.Pause != "":
		outcome = "paused"
	}
	log.Info("phase finished", zap.String("outcome", outcome), zap.Duration("duration", elapsed), zap.String("model", out.Model))
	o.Metrics.PhaseRuns.WithLabelValues(string(phase), outcome).Inc()
	o.appendLog(ctx, r, PhaseLogEntry{Phase: phase, Outcome: outcome, DurationMs: elapsed.Milliseconds(), Model: out.Model})
	return out, nil
}

// advance moves to the next phase, consulting its entry gate. A refused
// SmeGate is skipped.
func (o *Orchestrator) advance(ctx context.Context, r *run) error {
	next := r.p.Phase.Next
	gate, err := o.Gates.Get(next)
	if err != nil {
		return err
	}
	dec, err := gate.Evaluate(ctx, r.cfg, r.p)
	if err != nil {
		return domain.ErrPhaseFailed.Wrap(err, "evaluate "+gate.Name()+" gate")
	}

	to := next
	if !dec.Enter {
		to, err = ResolveNext(r.p.Phase.Current, ActionSkip)
		if err != nil {
			return domain.ErrInvalidTransition.Withf("gate %s refused %s, which cannot be skipped", gate.Name(), next)
		}
		r.log.Info("phase skipped", zap.String("phase", string(next)), zap.Strings("reasons", dec.Reasons))
		o.Metrics.PhaseRuns.WithLabelValues(string(next), "skipped").Inc()
		o.appendLog(ctx, r, PhaseLogEntry{Phase: next, Outcome: "skipped", Detail: strings.Join(dec.Reasons, "; ")})
	}

	if err := transition(r.p, to); err != nil {
		return err
	}
	r.rec.CurrentPhase = to
	return o.Store.SaveWorkflow(ctx, r.rec, r.p)
}

func (o *Orchestrator) pause(ctx context.Context, r *run, out Outcome) (*Result, error) {
	r.rec.Status = domain.StatusPaused
	r.rec.PauseReason = out.Pause
	if err := o.Store.SaveWorkflow(ctx, r.rec, r.p); err != nil {
		return nil, err
	}
	if out.Pause == domain.PauseVerification && r.p.Context.Verification != nil {
		o.audit(ctx, r, "verification", "system", string(r.p.Context.Verification.Decision), nil, r.p.Context.Verification, "warning")
	}
	o.Metrics.Workflows.WithLabelValues(string(domain.StatusPaused)).Inc()
	r.log.Info("workflow paused", zap.String("phase", string(r.p.Phase.Current)), zap.String("reason", string(out.Pause)))
	return o.result(r, out.Gate), nil
}

func (o *Orchestrator) complete(ctx context.Context, r *run) (*Result, error) {
	r.rec.Status = domain.StatusCompleted
	r.rec.PauseReason = ""
	if err := o.Store.SaveWorkflow(ctx, r.rec, r.p); err != nil {
		return nil, err
	}
	o.Metrics.Workflows.WithLabelValues(string(domain.StatusCompleted)).Inc()
	r.log.Info("workflow completed", zap.Int("warnings", len(r.p.Metadata.Warnings)), zap.Int("loop_backs", r.p.Metadata.LoopBacks))
	return o.result(r, nil), nil
}

// rollback records the rollback intent, hands the applied operations to the
// file mutator's Rollbacker and fails the workflow.
func (o *Orchestrator) rollback(ctx context.Context, r *run, out Outcome) (*Result, error) {
	impl := r.p.Context.Implementation
	var failed []string
	for _, f := range impl.Files {
		if !f.OK {
			failed = append(failed, f.Path)
		}
	}
	o.audit(ctx, r, "implement", "system", "rollback_requested",
		map[string]any{"applied": out.Applied}, map[string]any{"failed": failed}, "error")

	status := "not supported"
	if rb, ok := r.env.Files.(capability.Rollbacker); ok {
		if err := rb.Rollback(ctx, r.rec.TraceID, out.Applied); err != nil {
			status = "failed: " + err.Error()
			r.log.Error("rollback failed", zap.Error(err))
		} else {
			status = "completed"
		}
	}
	return o.stop(ctx, r, domain.ErrFileOp.Withf("%d of %d file operations failed after retries (%s); rollback %s",
		impl.Failed, len(impl.Files), strings.Join(failed, ", "), status))
}

// stop ends the workflow as failed, or aborted for a GateAbort. Capability
// failures are escalated to PhaseError with the original as cause.
func (o *Orchestrator) stop(ctx context.Context, r *run, err error) (*Result, error) {
	engErr := domain.AsEngineError(err)
	switch engErr.Kind {
	case domain.KindCapabilityUnavailable, domain.KindTimeout:
		engErr = domain.ErrPhaseFailed.Wrap(engErr, fmt.Sprintf("%s failed", r.p.Phase.Current))
	}
	engErr = engErr.WithTrace(r.rec.TraceID, r.p.LastCompleted())

	status := domain.StatusFailed
	if engErr.Kind == domain.KindGateAbort {
		status = domain.StatusAborted
	}
	r.rec.Status = status
	r.rec.PauseReason = ""
	r.rec.LastError = engErr.Error()

	// Persist the final state even when ctx was cancelled. If that fails the
	// workflow was not stopped, so the caller gets the save failure with the
	// original error as its cause and no result.
	saveCtx := context.WithoutCancel(ctx)
	if saveErr := o.Store.SaveWorkflow(saveCtx, r.rec, r.p); saveErr != nil {
		r.log.Error("persist final state", zap.String("status", string(status)), zap.Error(saveErr))
		return nil, domain.AsEngineError(saveErr).
			Wrap(engErr, fmt.Sprintf("workflow not marked %s: %v", status, saveErr)).
			WithTrace(r.rec.TraceID, engErr.LastPhase)
	}
	o.Metrics.Workflows.WithLabelValues(string(status)).Inc()
	r.log.Warn("workflow stopped",
		zap.String("status", string(status)),
		zap.String("kind", string(engErr.Kind)),
		zap.String("last_phase", string(engErr.LastPhase)),
		zap.Error(engErr))
	return o.result(r, nil), engErr
}

func (o *Orchestrator) result(r *run, gate *review.Decision) *Result {
	return &Result{
		TraceID:     r.rec.TraceID,
		Status:      r.rec.Status,
		PauseReason: r.rec.PauseReason,
		LoopBacks:   r.rec.LoopBacks,
		Packet:      r.p,
		Gate:        gate,
	}
}

func (o *Orchestrator) recordGate(ctx context.Context, r *run, d review.Decision) {
	o.Metrics.GateDecisions.WithLabelValues(string(d.Verdict)).Inc()
	if _, err := o.Store.SaveReviews(ctx, r.rec.TraceID, r.p.SMEReviews); err != nil {
		r.log.Warn("persist sme reviews", zap.Error(err))
	}
	severity := "info"
	if d.Verdict == review.VerdictPause {
		severity = "warning"
	}
	o.audit(ctx, r, "gate", "system", string(d.Verdict), nil, d, severity)
}

// appendLog writes one phase log entry. The sequence number is the loop-back
// round, so replaying a phase in the same round is ignored by the store.
func (o *Orchestrator) appendLog(ctx context.Context, r *run, e PhaseLogEntry) {
	e.LoopBack = r.p.Metadata.LoopBacks
	payload, err := json.Marshal(e)
	if err != nil {
		r.log.Warn("encode phase log", zap.Error(err))
		return
	}
	seq := int64(e.LoopBack) + 1
	if err := o.Store.AppendLog(context.WithoutCancel(ctx), r.rec.TraceID, e.Phase, seq, payload); err != nil {
		r.log.Warn("append phase log", zap.Error(err))
	}
}

func (o *Orchestrator) audit(ctx context.Context, r *run, category, actor, action string, request, decision any, severity string) {
	rec := domain.AuditRecord{
		ID:        uuid.NewString(),
		TraceID:   r.rec.TraceID,
		Category:  category,
		Actor:     actor,
		Action:    action,
		Severity:  severity,
		CreatedAt: o.now().Unix(),
	}
	if request != nil {
		if data, err := json.Marshal(request); err == nil {
			rec.RequestJSON = string(data)
		}
	}
	if decision != nil {
		if data, err := json.Marshal(decision); err == nil {
			rec.DecisionJSON = string(data)
		}
	}
	if err := o.Store.Record(context.WithoutCancel(ctx), rec); err != nil {
		r.log.Warn("record audit", zap.String("action", action), zap.Error(err))
	}
}

func (o *Orchestrator) decodeConfig(raw string) (config.WorkflowConfig, error) {
	if raw == "" || raw == "{}" {
		return o.Config, nil
	}
	var cfg config.WorkflowConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return config.WorkflowConfig{}, domain.ErrConfigParse.Wrap(err, "decode stored workflow config")
	}
	return cfg, nil
}
