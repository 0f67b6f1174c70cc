package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"testing"

	"github.com/spf13/afero"
	"go.uber.org/zap/zaptest"

	"github.com/Rogers-F/handoff-engine/internal/capability"
	"github.com/Rogers-F/handoff-engine/internal/config"
	"github.com/Rogers-F/handoff-engine/internal/domain"
	"github.com/Rogers-F/handoff-engine/internal/review"
	"github.com/Rogers-F/handoff-engine/internal/store"
)

const authTask = "Add JWT authentication to the login endpoint"

type harness struct {
	orch  *Orchestrator
	store *store.Store
	model *fakeModel
	fs    afero.Fs
}

func newHarness(t *testing.T, cfg config.WorkflowConfig, opts ...Option) *harness {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "handoff.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	model := newFakeModel()
	fs := afero.NewMemMapFs()
	n := 0
	base := []Option{
		WithBackOff(zeroBackOff),
		WithLogger(zaptest.NewLogger(t)),
		WithIDGenerator(func() string {
			n++
			return fmt.Sprintf("trace-%d", n)
		}),
	}
	orch := NewOrchestrator(st, model, capability.NewFsMutator(fs), cfg, append(base, opts...)...)
	return &harness{orch: orch, store: st, model: model, fs: fs}
}

func (h *harness) logPhases(t *testing.T, traceID string) []string {
	t.Helper()
	raw, err := h.store.ReadLog(context.Background(), traceID)
	if err != nil {
		t.Fatalf("ReadLog: %v", err)
	}
	var out []string
	for _, r := range raw {
		var e PhaseLogEntry
		if err := json.Unmarshal(r, &e); err != nil {
			t.Fatalf("decode log entry: %v", err)
		}
		out = append(out, fmt.Sprintf("%s:%s", e.Phase, e.Outcome))
	}
	return out
}

func (h *harness) auditActions(t *testing.T, traceID string) []string {
	t.Helper()
	recs, err := h.store.AuditTrail(context.Background(), traceID)
	if err != nil {
		t.Fatalf("AuditTrail: %v", err)
	}
	var out []string
	for _, r := range recs {
		out = append(out, r.Action)
	}
	return out
}

func (h *harness) exists(t *testing.T, path string) bool {
	t.Helper()
	ok, err := afero.Exists(h.fs, path)
	if err != nil {
		t.Fatalf("Exists(%s): %v", path, err)
	}
	return ok
}

func (h *harness) pauseAtSmeGate(t *testing.T) *Result {
	t.Helper()
	h.model.setSME(domain.SMESecurity, criticalSME("tokens are never expired"))
	res, err := h.orch.Start(context.Background(), StartRequest{Task: authTask})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if res.Status != domain.StatusPaused || res.PauseReason != domain.PauseQualityGate {
		t.Fatalf("Status = %s/%s, want paused/quality_gate", res.Status, res.PauseReason)
	}
	return res
}

func TestOrchestrator_CompletesAndSkipsSmeGate(t *testing.T) {
	h := newHarness(t, config.DefaultWorkflowConfig())

	res, err := h.orch.Start(context.Background(), StartRequest{
		Task:  "Add a health endpoint to the API server",
		Hints: []string{"reuse the existing router", "  "},
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if res.Status != domain.StatusCompleted {
		t.Fatalf("Status = %s, want completed", res.Status)
	}

	p := res.Packet
	if p.Phase.Current != domain.PhaseDocument || p.Phase.Next != "" || len(p.Phase.Remaining) != 0 {
		t.Errorf("Phase = %+v, want document with nothing remaining", p.Phase)
	}
	if !slices.Equal(p.Metadata.SkippedPhases, []domain.Phase{domain.PhaseSmeGate}) {
		t.Errorf("SkippedPhases = %v, want [sme_gate]", p.Metadata.SkippedPhases)
	}
	if p.Constraints[0] != "hint: reuse the existing router" || slices.Contains(p.Constraints, "hint: ") {
		t.Errorf("Constraints = %v", p.Constraints)
	}
	if p.Context.Documentation == nil || p.Context.Implementation.Succeeded != 1 {
		t.Errorf("Context = %+v", p.Context)
	}
	for _, phase := range []domain.Phase{domain.PhaseStrategy, domain.PhaseResearch, domain.PhaseVerify, domain.PhaseImplement, domain.PhaseDocument} {
		if p.Metadata.ModelsUsed[phase] != "model-"+string(phase) {
			t.Errorf("ModelsUsed[%s] = %q", phase, p.Metadata.ModelsUsed[phase])
		}
		if _, ok := p.Metadata.PhaseDurations[phase]; !ok {
			t.Errorf("PhaseDurations missing %s", phase)
		}
	}
	if !h.exists(t, "src/feature.go") || !h.exists(t, "docs/feature.md") {
		t.Error("expected implementation and documentation files to be written")
	}

	want := []string{
		"strategy:completed", "research:completed", "verify:completed",
		"sme_gate:skipped", "implement:completed", "document:completed",
	}
	if got := h.logPhases(t, res.TraceID); !slices.Equal(got, want) {
		t.Errorf("phase log = %v, want %v", got, want)
	}

	rec, stored, err := h.store.LoadWorkflow(context.Background(), res.TraceID)
	if err != nil {
		t.Fatalf("LoadWorkflow: %v", err)
	}
	if rec.Status != domain.StatusCompleted || stored.Context.Documentation == nil {
		t.Errorf("stored = %s, documentation %v", rec.Status, stored.Context.Documentation)
	}
}

func TestOrchestrator_CriticalFindingPausesAtSmeGate(t *testing.T) {
	h := newHarness(t, smeConfig(domain.SMESecurity))
	res := h.pauseAtSmeGate(t)

	p := res.Packet
	if p.Phase.Current != domain.PhaseSmeGate {
		t.Errorf("Current = %s, want sme_gate", p.Phase.Current)
	}
	if !slices.Equal(p.Phase.Remaining, []domain.Phase{domain.PhaseImplement, domain.PhaseDocument}) {
		t.Errorf("Remaining = %v", p.Phase.Remaining)
	}
	if res.Gate == nil || res.Gate.Verdict != review.VerdictPause {
		t.Fatalf("Gate = %+v, want pause", res.Gate)
	}
	if len(res.Gate.Blocking) != 1 || res.Gate.Blocking[0].SME != domain.SMESecurity {
		t.Errorf("Blocking = %+v", res.Gate.Blocking)
	}
	if n := h.model.count(domain.PhaseImplement); n != 0 {
		t.Errorf("implement called %d times while paused", n)
	}

	reviews, err := h.store.Reviews(context.Background(), res.TraceID)
	if err != nil {
		t.Fatalf("Reviews: %v", err)
	}
	if len(reviews) != 1 || reviews[0].SME != domain.SMESecurity || reviews[0].Round != 1 {
		t.Errorf("reviews = %+v", reviews)
	}

	got, err := h.orch.Get(context.Background(), res.TraceID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Gate == nil || len(got.Gate.Critical()) != 1 {
		t.Errorf("Get gate = %+v, want recomputed critical finding", got.Gate)
	}
}

func TestOrchestrator_ResumeProceed(t *testing.T) {
	h := newHarness(t, smeConfig(domain.SMESecurity))
	paused := h.pauseAtSmeGate(t)

	res, err := h.orch.Resume(context.Background(), paused.TraceID, domain.ChoiceProceed)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if res.Status != domain.StatusCompleted {
		t.Fatalf("Status = %s, want completed", res.Status)
	}
	if res.Packet.Context.Implementation == nil {
		t.Error("implementation missing after proceed")
	}
	if !slices.Contains(h.auditActions(t, paused.TraceID), "proceed") {
		t.Error("proceed decision not audited")
	}
	req := h.model.lastRequest(domain.PhaseImplement)
	var in capability.ImplementRequest
	if err := json.Unmarshal(req.Payload, &in); err != nil {
		t.Fatalf("decode implement request: %v", err)
	}
	if len(in.SMEFindings[domain.SMESecurity]) != 1 {
		t.Errorf("implement request findings = %v, want the security finding", in.SMEFindings)
	}
}

func TestOrchestrator_ResumeProceedBlockedByCritical(t *testing.T) {
	cfg := smeConfig(domain.SMESecurity)
	cfg.BlockOnCritical = true
	h := newHarness(t, cfg)
	paused := h.pauseAtSmeGate(t)

	_, err := h.orch.Resume(context.Background(), paused.TraceID, domain.ChoiceProceed)
	if !errors.Is(err, domain.ErrInvalidChoice) {
		t.Fatalf("Resume error = %v, want ErrInvalidChoice", err)
	}
	got, err := h.orch.Get(context.Background(), paused.TraceID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != domain.StatusPaused {
		t.Errorf("Status = %s, want still paused", got.Status)
	}
}

func TestOrchestrator_ResumeAbort(t *testing.T) {
	h := newHarness(t, smeConfig(domain.SMESecurity))
	paused := h.pauseAtSmeGate(t)

	res, err := h.orch.Resume(context.Background(), paused.TraceID, domain.ChoiceAbort)
	if !errors.Is(err, domain.ErrGateAbort) {
		t.Fatalf("Resume error = %v, want ErrGateAbort", err)
	}
	var engErr *domain.EngineError
	if !errors.As(err, &engErr) {
		t.Fatalf("error %T is not an EngineError", err)
	}
	if engErr.TraceID != paused.TraceID || engErr.LastPhase != domain.PhaseVerify {
		t.Errorf("TraceID=%q LastPhase=%q, want %q and verify", engErr.TraceID, engErr.LastPhase, paused.TraceID)
	}
	if res.Status != domain.StatusAborted {
		t.Errorf("Status = %s, want aborted", res.Status)
	}

	_, err = h.orch.Resume(context.Background(), paused.TraceID, domain.ChoiceProceed)
	if !errors.Is(err, domain.ErrWorkflowDone) {
		t.Errorf("second Resume error = %v, want ErrWorkflowDone", err)
	}
}

func TestOrchestrator_ResumeFixLoopsBackToVerify(t *testing.T) {
	h := newHarness(t, smeConfig(domain.SMESecurity))
	paused := h.pauseAtSmeGate(t)

	h.model.setSME(domain.SMESecurity, capability.SMEResponse{
		OverallRisk:    domain.RiskLow,
		Findings:       []domain.Finding{},
		Recommendation: domain.RecommendProceed,
	})
	res, err := h.orch.Resume(context.Background(), paused.TraceID, domain.ChoiceFix)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if res.Status != domain.StatusCompleted {
		t.Fatalf("Status = %s, want completed", res.Status)
	}
	if res.Packet.Metadata.LoopBacks != 1 || res.LoopBacks != 1 {
		t.Errorf("LoopBacks = %d/%d, want 1", res.Packet.Metadata.LoopBacks, res.LoopBacks)
	}
	if n := h.model.count(domain.PhaseVerify); n != 2 {
		t.Errorf("verify calls = %d, want 2", n)
	}

	want := []string{
		"strategy:completed", "research:completed", "verify:completed", "sme_gate:paused",
		"verify:completed", "sme_gate:completed", "implement:completed", "document:completed",
	}
	if got := h.logPhases(t, paused.TraceID); !slices.Equal(got, want) {
		t.Errorf("phase log = %v, want %v", got, want)
	}

	reviews, err := h.store.Reviews(context.Background(), paused.TraceID)
	if err != nil {
		t.Fatalf("Reviews: %v", err)
	}
	if len(reviews) != 2 || reviews[1].Round != 2 {
		t.Errorf("reviews = %+v, want two rounds", reviews)
	}
}

func TestOrchestrator_LoopBackBound(t *testing.T) {
	cfg := smeConfig(domain.SMESecurity)
	cfg.MaxLoopBacks = 1
	h := newHarness(t, cfg)
	paused := h.pauseAtSmeGate(t)
	ctx := context.Background()

	res, err := h.orch.Resume(ctx, paused.TraceID, domain.ChoiceFix)
	if err != nil {
		t.Fatalf("first fix: %v", err)
	}
	if res.Status != domain.StatusPaused || res.LoopBacks != 1 {
		t.Fatalf("after first fix: %s with %d loop-backs", res.Status, res.LoopBacks)
	}

	res, err = h.orch.Resume(ctx, paused.TraceID, domain.ChoiceFix)
	if !errors.Is(err, domain.ErrMaxRetriesExceeded) {
		t.Fatalf("second fix error = %v, want ErrMaxRetriesExceeded", err)
	}
	if res.Status != domain.StatusFailed {
		t.Errorf("Status = %s, want failed", res.Status)
	}
}

func TestOrchestrator_VerificationPause(t *testing.T) {
	h := newHarness(t, config.DefaultWorkflowConfig())
	h.model.set(domain.PhaseResearch, capability.ResearchResponse{
		Confidence: domain.ConfidenceMedium,
		RiskLevel:  domain.RiskLow,
	})

	res, err := h.orch.Start(context.Background(), StartRequest{Task: "Add a health endpoint to the API server"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if res.Status != domain.StatusPaused || res.PauseReason != domain.PauseVerification {
		t.Fatalf("Status = %s/%s, want paused/verification", res.Status, res.PauseReason)
	}
	if res.Packet.Context.Verification.Decision != domain.VerifyFullReview {
		t.Errorf("Decision = %s, want full_review", res.Packet.Context.Verification.Decision)
	}

	res, err = h.orch.Resume(context.Background(), res.TraceID, domain.ChoiceProceed)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if res.Status != domain.StatusCompleted {
		t.Fatalf("Status = %s, want completed", res.Status)
	}
	if !res.Packet.Context.Verification.Approved {
		t.Error("verification should be approved after proceed")
	}
}

func TestOrchestrator_ResumeNotPaused(t *testing.T) {
	h := newHarness(t, config.DefaultWorkflowConfig())
	res, err := h.orch.Start(context.Background(), StartRequest{Task: "Add a health endpoint to the API server"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	_, err = h.orch.Resume(context.Background(), res.TraceID, domain.ChoiceFix)
	if !errors.Is(err, domain.ErrWorkflowDone) {
		t.Errorf("Resume completed error = %v, want ErrWorkflowDone", err)
	}
	_, err = h.orch.Resume(context.Background(), "missing", domain.ChoiceFix)
	if !errors.Is(err, domain.ErrWorkflowNotFound) {
		t.Errorf("Resume missing error = %v, want ErrWorkflowNotFound", err)
	}
}

func TestOrchestrator_PartialImplementRollsBack(t *testing.T) {
	h := newHarness(t, config.DefaultWorkflowConfig())
	h.model.set(domain.PhaseImplement, capability.ImplementResponse{Operations: []capability.FileOperation{
		{Kind: capability.FileCreate, Path: "src/a.go", Content: "package src\n"},
		{Kind: capability.FileCreate, Path: ".env", Content: "SECRET=1\n"},
	}})

	res, err := h.orch.Start(context.Background(), StartRequest{Task: "Add a health endpoint to the API server"})
	if !errors.Is(err, domain.ErrFileOp) {
		t.Fatalf("Start error = %v, want ErrFileOp", err)
	}
	if res.Status != domain.StatusFailed {
		t.Errorf("Status = %s, want failed", res.Status)
	}
	if h.exists(t, "src/a.go") || h.exists(t, ".env") {
		t.Error("applied operations were not rolled back")
	}
	impl := res.Packet.Context.Implementation
	if impl == nil || !impl.Rollback || impl.Files[1].Attempts != 1 {
		t.Errorf("Implementation = %+v, want rollback and a single attempt on the denied path", impl)
	}
	if n := h.model.count(domain.PhaseDocument); n != 0 {
		t.Errorf("document called %d times after failed implement", n)
	}

	actions := h.auditActions(t, res.TraceID)
	for _, want := range []string{"permission_denied", "rollback_requested"} {
		if !slices.Contains(actions, want) {
			t.Errorf("audit actions %v missing %s", actions, want)
		}
	}
}

func TestOrchestrator_RollbackKeepsEarlierWorkflowChanges(t *testing.T) {
	h := newHarness(t, config.DefaultWorkflowConfig())
	if err := afero.WriteFile(h.fs, "src/app.go", []byte("v0"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	ctx := context.Background()
	task := "Add a health endpoint to the API server"

	h.model.set(domain.PhaseImplement, capability.ImplementResponse{Operations: []capability.FileOperation{
		{Kind: capability.FileEdit, Path: "src/app.go", Content: "v1"},
	}})
	first, err := h.orch.Start(ctx, StartRequest{Task: task})
	if err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if first.Status != domain.StatusCompleted {
		t.Fatalf("first Status = %s, want completed", first.Status)
	}

	h.model.set(domain.PhaseImplement, capability.ImplementResponse{Operations: []capability.FileOperation{
		{Kind: capability.FileEdit, Path: "src/app.go", Content: "v2"},
		{Kind: capability.FileEdit, Path: "src/missing.go", Content: "x"},
	}})
	second, err := h.orch.Start(ctx, StartRequest{Task: task})
	if !errors.Is(err, domain.ErrFileOp) {
		t.Fatalf("second Start error = %v, want ErrFileOp", err)
	}
	if second.Status != domain.StatusFailed {
		t.Fatalf("second Status = %s, want failed", second.Status)
	}

	got, err := afero.ReadFile(h.fs, "src/app.go")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "v1" {
		t.Errorf("src/app.go = %q after rollback, want %q from the completed workflow", got, "v1")
	}
}

// staleStore rejects saves that end a workflow, as a concurrent writer
// would through the optimistic lock.
type staleStore struct {
	StateStore
}

func (s *staleStore) SaveWorkflow(ctx context.Context, rec *domain.WorkflowRecord, p *domain.HandoffPacket) error {
	if rec.Status.Terminal() {
		return domain.ErrOptimisticLock
	}
	return s.StateStore.SaveWorkflow(ctx, rec, p)
}

func TestOrchestrator_StopReportsSaveFailure(t *testing.T) {
	h := newHarness(t, config.DefaultWorkflowConfig())
	h.orch.Store = &staleStore{StateStore: h.store}
	h.model.failWith(domain.PhaseStrategy, domain.ErrInvalidInput.Withf("bad strategy request"), 0)

	res, err := h.orch.Start(context.Background(), StartRequest{Task: "Add a health endpoint to the API server"})
	if res != nil {
		t.Errorf("Result = %+v, want nil when the final state was not saved", res)
	}
	if !errors.Is(err, domain.ErrOptimisticLock) {
		t.Fatalf("Start error = %v, want ErrOptimisticLock", err)
	}
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("Start error = %v, want the phase failure kept as cause", err)
	}
	engErr := domain.AsEngineError(err)
	if engErr.TraceID != "trace-1" {
		t.Errorf("TraceID = %q, want trace-1", engErr.TraceID)
	}

	rec, _, err := h.store.LoadWorkflow(context.Background(), "trace-1")
	if err != nil {
		t.Fatalf("LoadWorkflow: %v", err)
	}
	if rec.Status != domain.StatusRunning {
		t.Errorf("stored Status = %s, want running", rec.Status)
	}
}

func TestOrchestrator_DocumentFailureIsWarning(t *testing.T) {
	h := newHarness(t, config.DefaultWorkflowConfig())
	h.model.failWith(domain.PhaseDocument, domain.ErrCapabilityUnavailable.Withf("docs model offline"), 0)

	res, err := h.orch.Start(context.Background(), StartRequest{Task: "Add a health endpoint to the API server"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if res.Status != domain.StatusCompleted {
		t.Fatalf("Status = %s, want completed", res.Status)
	}
	if len(res.Packet.Metadata.Warnings) != 1 {
		t.Errorf("Warnings = %v, want one", res.Packet.Metadata.Warnings)
	}
	if res.Packet.Context.Documentation != nil {
		t.Error("documentation should not be set after a failed document phase")
	}
	log := h.logPhases(t, res.TraceID)
	if log[len(log)-1] != "document:warning" {
		t.Errorf("last log entry = %s, want document:warning", log[len(log)-1])
	}
}

func TestOrchestrator_CapabilityFailureEscalates(t *testing.T) {
	cfg := config.DefaultWorkflowConfig()
	cfg.ModelRetries = 2
	h := newHarness(t, cfg)
	h.model.failWith(domain.PhaseResearch, domain.ErrCapabilityUnavailable.Withf("backend down"), 0)

	res, err := h.orch.Start(context.Background(), StartRequest{Task: "Add a health endpoint to the API server"})
	if domain.KindOf(err) != domain.KindPhaseError {
		t.Fatalf("error kind = %s, want phase_error (%v)", domain.KindOf(err), err)
	}
	if !errors.Is(err, domain.ErrCapabilityUnavailable) {
		t.Errorf("error %v should wrap ErrCapabilityUnavailable", err)
	}
	var engErr *domain.EngineError
	if errors.As(err, &engErr) && engErr.LastPhase != domain.PhaseStrategy {
		t.Errorf("LastPhase = %q, want strategy", engErr.LastPhase)
	}
	if n := h.model.count(domain.PhaseResearch); n != 3 {
		t.Errorf("research calls = %d, want 3", n)
	}
	if res.Status != domain.StatusFailed {
		t.Errorf("Status = %s, want failed", res.Status)
	}

	rec, _, err := h.store.LoadWorkflow(context.Background(), res.TraceID)
	if err != nil {
		t.Fatalf("LoadWorkflow: %v", err)
	}
	if rec.LastError == "" {
		t.Error("LastError not persisted")
	}
}

func TestOrchestrator_CancelAtPhaseBoundary(t *testing.T) {
	h := newHarness(t, config.DefaultWorkflowConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.model.onInvoke = func(req capability.Request) {
		if req.Role == domain.PhaseResearch {
			cancel()
		}
	}

	res, err := h.orch.Start(ctx, StartRequest{Task: "Add a health endpoint to the API server"})
	if !errors.Is(err, domain.ErrGateAbort) {
		t.Fatalf("Start error = %v, want ErrGateAbort", err)
	}
	if res.Status != domain.StatusAborted {
		t.Errorf("Status = %s, want aborted", res.Status)
	}
	if n := h.model.count(domain.PhaseVerify); n != 0 {
		t.Errorf("verify called %d times after cancellation", n)
	}

	rec, _, err := h.store.LoadWorkflow(context.Background(), res.TraceID)
	if err != nil {
		t.Fatalf("LoadWorkflow: %v", err)
	}
	if rec.Status != domain.StatusAborted {
		t.Errorf("stored Status = %s, want aborted", rec.Status)
	}
}

// overreach writes the Research output while running as Strategy.
type overreach struct{ StrategyPhase }

func (o *overreach) Run(ctx context.Context, env *Env, p *domain.HandoffPacket) (Outcome, error) {
	out, err := o.StrategyPhase.Run(ctx, env, p)
	p.Context.Findings = &domain.ResearchOutput{Confidence: domain.ConfidenceHigh}
	return out, err
}

func TestOrchestrator_RejectsForeignWrites(t *testing.T) {
	h := newHarness(t, config.DefaultWorkflowConfig(), WithExecutor(&overreach{}))

	res, err := h.orch.Start(context.Background(), StartRequest{Task: "Add a health endpoint to the API server"})
	if !errors.Is(err, domain.ErrFieldOverwrite) {
		t.Fatalf("Start error = %v, want ErrFieldOverwrite", err)
	}
	if res.Packet.Context.Findings != nil || res.Packet.Context.Strategy != nil {
		t.Error("rejected phase output leaked into the packet")
	}
}

func TestOrchestrator_ConfigPersistedForResume(t *testing.T) {
	h := newHarness(t, config.DefaultWorkflowConfig())
	cfg := smeConfig(domain.SMESecurity)
	cfg.BlockOnCritical = true
	h.model.setSME(domain.SMESecurity, criticalSME("tokens are never expired"))

	res, err := h.orch.Start(context.Background(), StartRequest{Task: authTask, Config: &cfg})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if res.Status != domain.StatusPaused {
		t.Fatalf("Status = %s, want paused", res.Status)
	}

	_, err = h.orch.Resume(context.Background(), res.TraceID, domain.ChoiceProceed)
	if !errors.Is(err, domain.ErrInvalidChoice) {
		t.Errorf("Resume error = %v, want ErrInvalidChoice from the stored config", err)
	}
}
