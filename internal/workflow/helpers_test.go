package workflow

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/cenkalti/backoff/v5"

	"github.com/Rogers-F/handoff-engine/internal/capability"
	"github.com/Rogers-F/handoff-engine/internal/domain"
)

// fakeModel answers each role with a canned response. Failures can be
// scripted per role, either permanently or for the first n calls.
type fakeModel struct {
	mu        sync.Mutex
	responses map[domain.Phase]any
	sme       map[domain.SMEKind]capability.SMEResponse
	fail      map[domain.Phase]error
	failFirst map[domain.Phase]int
	calls     map[domain.Phase]int
	requests  map[domain.Phase][]capability.Request
	onInvoke  func(req capability.Request)
}

func newFakeModel() *fakeModel {
	return &fakeModel{
		responses: map[domain.Phase]any{
			domain.PhaseStrategy: capability.StrategyResponse{
				ParsedIntent:       "planned change",
				PrimaryQuestions:   []string{"which files?"},
				AcceptanceCriteria: []string{"tests pass"},
				SafetyInvariants:   []string{"public API unchanged"},
			},
			domain.PhaseResearch: capability.ResearchResponse{
				Findings:   []string{"handler lives in src/"},
				Sources:    []string{"src/handler.go"},
				Confidence: domain.ConfidenceHigh,
				RiskLevel:  domain.RiskLow,
			},
			domain.PhaseVerify: capability.VerifyResponse{Issues: []string{}},
			domain.PhaseImplement: capability.ImplementResponse{
				Summary: "added feature",
				Operations: []capability.FileOperation{
					{Kind: capability.FileCreate, Path: "src/feature.go", Content: "package src\n"},
				},
			},
			domain.PhaseDocument: capability.DocumentResponse{
				Summary: "documented feature",
				Operations: []capability.FileOperation{
					{Kind: capability.FileCreate, Path: "docs/feature.md", Content: "# Feature\n"},
				},
			},
		},
		sme:       map[domain.SMEKind]capability.SMEResponse{},
		fail:      map[domain.Phase]error{},
		failFirst: map[domain.Phase]int{},
		calls:     map[domain.Phase]int{},
		requests:  map[domain.Phase][]capability.Request{},
	}
}

func (f *fakeModel) Invoke(ctx context.Context, req capability.Request) (capability.Response, error) {
	f.mu.Lock()
	f.calls[req.Role]++
	f.requests[req.Role] = append(f.requests[req.Role], req)
	n := f.calls[req.Role]
	err := f.fail[req.Role]
	limit, limited := f.failFirst[req.Role]
	resp := f.responses[req.Role]
	if req.Role == domain.PhaseSmeGate {
		r, ok := f.sme[req.SME]
		if !ok {
			r = capability.SMEResponse{
				OverallRisk:    domain.RiskLow,
				Findings:       []domain.Finding{},
				Recommendation: domain.RecommendProceed,
			}
		}
		resp = r
	}
	hook := f.onInvoke
	f.mu.Unlock()

	if hook != nil {
		hook(req)
	}
	if err != nil && (!limited || n <= limit) {
		return capability.Response{}, err
	}
	data, mErr := json.Marshal(resp)
	if mErr != nil {
		return capability.Response{}, mErr
	}
	return capability.Response{Model: "model-" + string(req.Role), Payload: data}, nil
}

func (f *fakeModel) set(phase domain.Phase, resp any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[phase] = resp
}

func (f *fakeModel) setSME(kind domain.SMEKind, resp capability.SMEResponse) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sme[kind] = resp
}

// failWith makes phase fail with err. times > 0 limits the failure to the
// first times calls.
func (f *fakeModel) failWith(phase domain.Phase, err error, times int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[phase] = err
	if times > 0 {
		f.failFirst[phase] = times
	} else {
		delete(f.failFirst, phase)
	}
}

func (f *fakeModel) count(phase domain.Phase) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[phase]
}

func (f *fakeModel) lastRequest(phase domain.Phase) capability.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	reqs := f.requests[phase]
	if len(reqs) == 0 {
		return capability.Request{}
	}
	return reqs[len(reqs)-1]
}

func criticalSME(desc string) capability.SMEResponse {
	return capability.SMEResponse{
		OverallRisk: domain.RiskCritical,
		Findings: []domain.Finding{
			{Severity: domain.SeverityCritical, Category: "auth", Description: desc, Location: "src/login.go"},
		},
		Recommendation: domain.RecommendBlock,
	}
}

func zeroBackOff() backoff.BackOff { return &backoff.ZeroBackOff{} }
