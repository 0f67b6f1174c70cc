package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Rogers-F/handoff-engine/internal/capability"
	"github.com/Rogers-F/handoff-engine/internal/domain"
)

// maxLineBytes bounds one response line.
const maxLineBytes = 16 << 20

// stderrTail is how much of a failed command's stderr is kept in the error.
const stderrTail = 2048

// reply is one response line written by a provider command.
type reply struct {
	Model   string          `json:"model"`
	Payload json.RawMessage `json:"payload"`
	Error   string          `json:"error"`
}

// Executor is a capability.ModelExecutor that starts the provider command
// for every invocation.
type Executor struct {
	Registry *Registry
	// Timeout bounds one invocation. Zero leaves only the caller's deadline.
	Timeout time.Duration
	Logger  *zap.Logger
}

// NewExecutor returns an executor over reg.
func NewExecutor(reg *Registry, timeout time.Duration, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{Registry: reg, Timeout: timeout, Logger: logger}
}

// Invoke writes req as one JSON line to the command's stdin and decodes the
// first JSON object line of its stdout. Lines that are not JSON objects are
// skipped so commands may print banners.
func (e *Executor) Invoke(ctx context.Context, req capability.Request) (capability.Response, error) {
	spec, err := e.Registry.Resolve(string(req.Role))
	if err != nil {
		return capability.Response{}, err
	}
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	input, err := json.Marshal(req)
	if err != nil {
		return capability.Response{}, domain.ErrInvalidInput.Wrap(err, "encode provider request")
	}

	start := time.Now()
	cmd := exec.CommandContext(ctx, spec.Command, spec.Args...)
	cmd.Env = os.Environ()
	for k, v := range spec.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.Stdin = bytes.NewReader(append(input, '\n'))
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return capability.Response{}, domain.ErrCapabilityUnavailable.Wrap(err, "stdout pipe for "+spec.Command)
	}
	if err := cmd.Start(); err != nil {
		return capability.Response{}, domain.ErrCapabilityUnavailable.Wrap(err, "start "+spec.Command)
	}

	line, readErr := firstObjectLine(stdout)
	// Drain so the command never blocks on a full pipe before Wait.
	_, _ = io.Copy(io.Discard, stdout)
	waitErr := cmd.Wait()

	log := e.Logger.With(
		zap.String("trace_id", req.TraceID),
		zap.String("role", string(req.Role)),
		zap.String("sme", string(req.SME)),
		zap.String("command", spec.Command),
		zap.Duration("duration", time.Since(start)),
	)

	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		log.Warn("provider timed out")
		return capability.Response{}, domain.ErrTimeout.Wrap(ctx.Err(), fmt.Sprintf("%s for role %s", spec.Command, req.Role))
	case ctx.Err() != nil:
		return capability.Response{}, ctx.Err()
	case waitErr != nil:
		log.Warn("provider failed", zap.Error(waitErr), zap.String("stderr", tail(stderr.String())))
		return capability.Response{}, domain.ErrCapabilityUnavailable.Wrap(waitErr,
			fmt.Sprintf("%s exited: %s", spec.Command, tail(stderr.String())))
	case readErr != nil:
		return capability.Response{}, domain.ErrInvalidResponse.Wrap(readErr, "read "+spec.Command+" output")
	case line == nil:
		return capability.Response{}, domain.ErrInvalidResponse.Withf("%s wrote no JSON response", spec.Command)
	}

	var r reply
	if err := json.Unmarshal(line, &r); err != nil {
		return capability.Response{}, domain.ErrInvalidResponse.Wrap(err, "decode "+spec.Command+" response")
	}
	if r.Error != "" {
		log.Warn("provider reported an error", zap.String("error", r.Error))
		return capability.Response{}, domain.ErrCapabilityUnavailable.Withf("%s: %s", spec.Command, r.Error)
	}
	if r.Model == "" {
		r.Model = spec.Model
	}
	log.Debug("provider responded", zap.String("model", r.Model), zap.Int("bytes", len(r.Payload)))
	return capability.Response{Model: r.Model, Payload: r.Payload}, nil
}

// firstObjectLine returns the first line of r that is a JSON object, or nil
// at EOF.
func firstObjectLine(r io.Reader) ([]byte, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 || line[0] != '{' || !json.Valid(line) {
			continue
		}
		return append([]byte(nil), line...), nil
	}
	return nil, sc.Err()
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > stderrTail {
		return "..." + s[len(s)-stderrTail:]
	}
	return s
}
