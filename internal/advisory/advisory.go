// Package advisory asks an external text model for operator guidance. Its results are
// never authoritative and a failure only ever degrades to an unavailable result.
package advisory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/singleflight"

	"otdops/internal/domain"
	"otdops/internal/telemetry"
)

const (
	DefaultTimeout = 30 * time.Second
	MinTimeout     = 3 * time.Second
)

// Provider completes a prompt with free text.
type Provider interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

type Kind string

const (
	KindSOPChecklist Kind = "sop_checklist"
	KindBottleneck   Kind = "bottleneck"
)

type MetricContext struct {
	Name  string `json:"name"`
	Value string `json:"value"`
	Unit  string `json:"unit,omitempty"`
}

type Request struct {
	Kind    Kind            `json:"kind"`
	Subject string          `json:"subject"`
	Metrics []MetricContext `json:"metrics"`
}

type Result struct {
	Text      string `json:"text"`
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"`
	Model     string `json:"model,omitempty"`
}

// Err returns nil for an available result and an ErrAdvisoryUnavailable otherwise.
func (r Result) Err() error {
	if r.Available {
		return nil
	}
	return fmt.Errorf("%w: %s", domain.ErrAdvisoryUnavailable, r.Reason)
}

func unavailable(reason string) Result {
	return Result{Available: false, Reason: reason}
}

// Service guards a Provider with a timeout and collapses identical in-flight requests.
type Service struct {
	provider Provider
	model    string
	timeout  time.Duration
	disabled string
	group    singleflight.Group
	log      hclog.Logger
}

// NewService wraps p. A nil provider yields a service that always answers unavailable.
func NewService(p Provider, model string, timeout time.Duration, logger hclog.Logger) *Service {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	s := &Service{provider: p, model: model, timeout: timeout, log: logger.Named("advisory")}
	if p == nil {
		s.disabled = "advisory provider not configured"
	}
	return s
}

// Disabled returns a service that reports reason for every request.
func Disabled(reason string, logger hclog.Logger) *Service {
	s := NewService(nil, "", 0, logger)
	s.disabled = reason
	return s
}

// Advise runs req and never returns an error; failures come back as unavailable results.
// Callers asking the same question share one provider call. A caller whose ctx ends
// stops waiting without cancelling that call for the others.
func (s *Service) Advise(ctx context.Context, req Request) Result {
	if s.provider == nil {
		telemetry.AdvisoryResults.WithLabelValues("disabled").Inc()
		return unavailable(s.disabled)
	}
	prompt, err := BuildPrompt(req)
	if err != nil {
		telemetry.AdvisoryResults.WithLabelValues("invalid").Inc()
		return unavailable(err.Error())
	}
	// The shared call outlives any single caller; only the service timeout bounds it.
	ch := s.group.DoChan(prompt, func() (any, error) {
		return s.complete(context.WithoutCancel(ctx), prompt), nil
	})
	select {
	case res := <-ch:
		return res.Val.(Result)
	case <-ctx.Done():
		telemetry.AdvisoryResults.WithLabelValues("abandoned").Inc()
		return unavailable(ctx.Err().Error())
	}
}

func (s *Service) complete(ctx context.Context, prompt string) Result {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	start := time.Now()
	text, err := s.provider.Complete(cctx, prompt)
	telemetry.AdvisoryDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		telemetry.AdvisoryResults.WithLabelValues("error").Inc()
		s.log.Warn("advisory request failed", "error", err)
		return Result{Reason: err.Error(), Model: s.model}
	}
	text = strings.TrimSpace(text)
	if text == "" {
		telemetry.AdvisoryResults.WithLabelValues("empty").Inc()
		return Result{Reason: "empty response", Model: s.model}
	}
	telemetry.AdvisoryResults.WithLabelValues("ok").Inc()
	return Result{Text: text, Available: true, Model: s.model}
}

// Go runs Advise in the background. The channel receives exactly one result and is then
// closed; callers that stop caring may simply drop it.
func (s *Service) Go(ctx context.Context, req Request) <-chan Result {
	ch := make(chan Result, 1)
	go func() {
		defer close(ch)
		ch <- s.Advise(ctx, req)
	}()
	return ch
}
