package guard

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Rogers-F/handoff-engine/internal/capability"
	"github.com/Rogers-F/handoff-engine/internal/domain"
)

func TestLoopGuard_CheckLoopBack(t *testing.T) {
	g := LoopGuard{Max: 3}
	for n := 0; n < 3; n++ {
		if err := g.CheckLoopBack(n); err != nil {
			t.Fatalf("CheckLoopBack(%d): %v", n, err)
		}
	}
	err := g.CheckLoopBack(3)
	if !errors.Is(err, domain.ErrMaxRetriesExceeded) {
		t.Fatalf("CheckLoopBack(3) = %v, want ErrMaxRetriesExceeded", err)
	}
	if domain.KindOf(err) != domain.KindMaxRetriesExceeded {
		t.Errorf("KindOf = %q", domain.KindOf(err))
	}
}

func TestLoopGuard_ZeroForbidsLoopBacks(t *testing.T) {
	if err := (LoopGuard{Max: 0}).CheckLoopBack(0); err == nil {
		t.Fatal("expected error with Max 0")
	}
}

func okExecutor(calls *int, mu *sync.Mutex) capability.ModelExecutor {
	return capability.ExecutorFunc(func(context.Context, capability.Request) (capability.Response, error) {
		mu.Lock()
		*calls++
		mu.Unlock()
		return capability.Response{Payload: []byte(`{}`)}, nil
	})
}

func TestLimited_AllowsBurst(t *testing.T) {
	var calls int
	var mu sync.Mutex
	l := NewLimited(okExecutor(&calls, &mu), 1, 3)

	for i := 0; i < 3; i++ {
		if _, err := l.Invoke(context.Background(), capability.Request{Role: domain.PhaseResearch}); err != nil {
			t.Fatalf("Invoke %d: %v", i, err)
		}
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestLimited_WaitExceedsDeadline(t *testing.T) {
	var calls int
	var mu sync.Mutex
	l := NewLimited(okExecutor(&calls, &mu), 0.1, 1)

	if _, err := l.Invoke(context.Background(), capability.Request{Role: domain.PhaseResearch}); err != nil {
		t.Fatalf("first Invoke: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := l.Invoke(ctx, capability.Request{Role: domain.PhaseResearch})
	if !errors.Is(err, domain.ErrRateLimitExceeded) {
		t.Fatalf("error = %v, want ErrRateLimitExceeded", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestLimited_ZeroRateIsUnlimited(t *testing.T) {
	var calls int
	var mu sync.Mutex
	l := NewLimited(okExecutor(&calls, &mu), 0, 0)
	for i := 0; i < 50; i++ {
		if _, err := l.Invoke(context.Background(), capability.Request{}); err != nil {
			t.Fatalf("Invoke %d: %v", i, err)
		}
	}
}

type recordingMutator struct {
	applied []capability.FileOperation
}

func (m *recordingMutator) Apply(_ context.Context, op capability.FileOperation) error {
	m.applied = append(m.applied, op)
	return nil
}

type memAuditor struct {
	records []domain.AuditRecord
}

func (a *memAuditor) Record(_ context.Context, rec domain.AuditRecord) error {
	a.records = append(a.records, rec)
	return nil
}

func TestPathGuard_DeniesProtectedPaths(t *testing.T) {
	tests := []struct {
		path    string
		allowed bool
	}{
		{"src/main.go", true},
		{".env", false},
		{"config/.env", false},
		{"certs/server.key", false},
		{".git/config", false},
		{"migrations/001.sql", false},
		{"docs/README.md", true},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			next := &recordingMutator{}
			aud := &memAuditor{}
			g := NewPathGuard(next, aud, "trace-1", "migrations/*")

			err := g.Apply(context.Background(), capability.FileOperation{Kind: capability.FileEdit, Path: tt.path})
			if tt.allowed {
				if err != nil {
					t.Fatalf("Apply: %v", err)
				}
				if len(next.applied) != 1 {
					t.Errorf("operation not forwarded")
				}
				return
			}
			if !errors.Is(err, domain.ErrPermissionDenied) {
				t.Fatalf("error = %v, want ErrPermissionDenied", err)
			}
			if len(next.applied) != 0 {
				t.Error("denied operation was forwarded")
			}
			if len(aud.records) != 1 || aud.records[0].Action != "permission_denied" || aud.records[0].TraceID != "trace-1" {
				t.Errorf("audit records = %+v", aud.records)
			}
		})
	}
}
