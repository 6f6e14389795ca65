package provider

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
)

type stubProvider struct {
	id    string
	reply string
	err   error
	calls int
}

func (s *stubProvider) ID() string   { return s.id }
func (s *stubProvider) Name() string { return s.id }
func (s *stubProvider) Chat(_ context.Context, _ *ChatRequest) (*ChatResponse, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &ChatResponse{Content: s.reply}, nil
}
func (s *stubProvider) HealthCheck(context.Context) error { return s.err }

func TestRouteUsesBinding(t *testing.T) {
	r := NewRouter(zap.NewNop())
	a := &stubProvider{id: "a", reply: "from a"}
	b := &stubProvider{id: "b", reply: "from b"}
	r.Register(a)
	r.Register(b)
	r.Bind("doctor", "b")

	resp, err := r.Route(context.Background(), "doctor", &ChatRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "from b" {
		t.Errorf("got %q, want bound provider reply", resp.Content)
	}

	resp, err = r.Route(context.Background(), "coach", &ChatRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "from a" {
		t.Errorf("got %q, want default provider reply", resp.Content)
	}
}

func TestRouteFallsBack(t *testing.T) {
	r := NewRouter(zap.NewNop())
	primary := &stubProvider{id: "primary", err: errors.New("boom")}
	backup := &stubProvider{id: "backup", reply: "ok"}
	r.Register(primary)
	r.Register(backup)
	r.SetFallbacks("triage", []string{"missing", "backup"})

	resp, err := r.Route(context.Background(), "triage", &ChatRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "ok" {
		t.Errorf("got %q, want ok", resp.Content)
	}
	if primary.calls != 1 || backup.calls != 1 {
		t.Errorf("calls primary=%d backup=%d, want 1/1", primary.calls, backup.calls)
	}
}

func TestRouteNoProvider(t *testing.T) {
	r := NewRouter(zap.NewNop())
	_, err := r.Route(context.Background(), "triage", &ChatRequest{})
	if !errors.Is(err, ErrNoProvider) {
		t.Fatalf("got %v, want ErrNoProvider", err)
	}
}

func TestRouteAllFail(t *testing.T) {
	r := NewRouter(zap.NewNop())
	r.Register(&stubProvider{id: "a", err: errors.New("down")})
	r.Register(&stubProvider{id: "b", err: errors.New("also down")})
	r.SetFallbacks("liaison", []string{"b"})

	if _, err := r.Route(context.Background(), "liaison", &ChatRequest{}); err == nil {
		t.Fatal("expected error when every provider fails")
	}
}
