package advisory

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"otdops/internal/config"
	"otdops/internal/domain"
)

type fakeProvider struct {
	text   string
	err    error
	block  bool
	prompt string
}

func (f *fakeProvider) Complete(ctx context.Context, prompt string) (string, error) {
	f.prompt = prompt
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return f.text, f.err
}

// gatedProvider answers only once release is closed.
type gatedProvider struct {
	calls   atomic.Int32
	entered chan struct{}
	release chan struct{}
}

func (g *gatedProvider) Complete(ctx context.Context, prompt string) (string, error) {
	if g.calls.Add(1) == 1 {
		close(g.entered)
	}
	select {
	case <-g.release:
		return "- Recount stock", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func sampleRequest() Request {
	v := 30.0
	return Request{
		Kind:    KindSOPChecklist,
		Subject: "Create high-priority shortage chase task",
		Metrics: MetricsFrom([]domain.Metric{{Name: "Backlog Orders", Value: &v, Unit: " orders"}, {Name: "Shift Note", Text: "short"}}),
	}
}

func TestAdviseReturnsProviderText(t *testing.T) {
	p := &fakeProvider{text: "  - Check inventory\n- Call supplier  "}
	s := NewService(p, "test-model", time.Second, nil)
	res := s.Advise(context.Background(), sampleRequest())
	require.True(t, res.Available)
	assert.NoError(t, res.Err())
	assert.Equal(t, "- Check inventory\n- Call supplier", res.Text)
	assert.Equal(t, "test-model", res.Model)
	assert.Contains(t, p.prompt, "Backlog Orders: 30 orders")
	assert.Contains(t, p.prompt, "Shift Note: short")
	assert.Contains(t, p.prompt, "3-5 actionable bullet points")
}

func TestAdviseDegradesToUnavailable(t *testing.T) {
	cases := map[string]*fakeProvider{
		"provider error": {err: errors.New("quota exceeded")},
		"empty response": {text: "   "},
		"timeout":        {block: true},
	}
	for name, p := range cases {
		t.Run(name, func(t *testing.T) {
			s := NewService(p, "m", 20*time.Millisecond, nil)
			res := s.Advise(context.Background(), sampleRequest())
			assert.False(t, res.Available)
			assert.Empty(t, res.Text)
			assert.NotEmpty(t, res.Reason)
			assert.True(t, errors.Is(res.Err(), domain.ErrAdvisoryUnavailable))
		})
	}
}

func TestDisabledService(t *testing.T) {
	res := FromConfig(config.Advisory{Provider: "none"}, nil).Advise(context.Background(), sampleRequest())
	assert.False(t, res.Available)
	assert.Equal(t, "advisory provider not configured", res.Reason)

	t.Setenv("OTDOPS_TEST_MISSING_KEY", "")
	res = FromConfig(config.Advisory{Provider: "openai", APIKeyEnv: "OTDOPS_TEST_MISSING_KEY"}, nil).Advise(context.Background(), sampleRequest())
	assert.False(t, res.Available)
	assert.Contains(t, res.Reason, "OTDOPS_TEST_MISSING_KEY")
}

func TestCancelledCallerDoesNotSpoilSharedRequest(t *testing.T) {
	p := &gatedProvider{entered: make(chan struct{}), release: make(chan struct{})}
	s := NewService(p, "m", 5*time.Second, nil)

	ctxA, cancelA := context.WithCancel(context.Background())
	resA := s.Go(ctxA, sampleRequest())
	<-p.entered
	resB := s.Go(context.Background(), sampleRequest())
	time.Sleep(50 * time.Millisecond)

	cancelA()
	a := <-resA
	assert.False(t, a.Available)
	assert.Contains(t, a.Reason, "context canceled")

	close(p.release)
	b := <-resB
	require.True(t, b.Available, b.Reason)
	assert.Equal(t, "- Recount stock", b.Text)
}

func TestGoDeliversOneResult(t *testing.T) {
	s := NewService(&fakeProvider{text: "ok"}, "m", time.Second, nil)
	ch := s.Go(context.Background(), Request{Kind: KindBottleneck, Subject: "Scheduling"})
	res, ok := <-ch
	require.True(t, ok)
	assert.True(t, res.Available)
	_, ok = <-ch
	assert.False(t, ok)
}

func TestBuildPrompt(t *testing.T) {
	p, err := BuildPrompt(Request{Kind: KindBottleneck, Subject: "Scheduling"})
	require.NoError(t, err)
	assert.Contains(t, p, `"Scheduling"`)
	assert.Contains(t, p, "2-sentence executive summary")
	assert.Contains(t, p, "none reported")

	_, err = BuildPrompt(Request{Kind: "poem", Subject: "x"})
	assert.Error(t, err)
	_, err = BuildPrompt(Request{Subject: " "})
	assert.Error(t, err)
}

func TestOpenAIProviderAgainstCompatibleEndpoint(t *testing.T) {
	var gotAuth, gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		var body struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotModel = body.Model
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") || len(body.Messages) != 2 {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion","model":"gemini-2.5-flash","choices":[{"index":0,"message":{"role":"assistant","content":"- Expedite chips"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	t.Setenv("OTDOPS_TEST_KEY", "secret")
	s := FromConfig(config.Advisory{Provider: "openai", Model: "gemini-2.5-flash", BaseURL: srv.URL + "/v1", APIKeyEnv: "OTDOPS_TEST_KEY", Timeout: 5 * time.Second}, nil)
	res := s.Advise(context.Background(), sampleRequest())
	require.True(t, res.Available, res.Reason)
	assert.Equal(t, "- Expedite chips", res.Text)
	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, "gemini-2.5-flash", gotModel)
}

func TestOpenAIProviderServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"boom"}}`, http.StatusInternalServerError)
	}))
	defer srv.Close()
	s := NewService(NewOpenAI("k", srv.URL, "m"), "m", 5*time.Second, nil)
	res := s.Advise(context.Background(), sampleRequest())
	assert.False(t, res.Available)
	assert.True(t, errors.Is(res.Err(), domain.ErrAdvisoryUnavailable))
}
