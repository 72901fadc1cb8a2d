package jobs

import (
	"context"
	"testing"

	"jobmill/internal/eventbus"
	logx "jobmill/pkg/logx"
)

type reportPayload struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestPayloadAsDirect(t *testing.T) {
	t.Parallel()

	in := reportPayload{Name: "weekly", Count: 3}
	got, err := payloadAs[reportPayload](in)
	if err != nil {
		t.Fatalf("payloadAs: %v", err)
	}
	if got != in {
		t.Fatalf("payloadAs = %+v, want %+v", got, in)
	}
}

func TestPayloadAsMapCoercion(t *testing.T) {
	t.Parallel()

	in := map[string]any{"name": "weekly", "count": 3}
	got, err := payloadAs[reportPayload](in)
	if err != nil {
		t.Fatalf("payloadAs: %v", err)
	}
	if got.Name != "weekly" || got.Count != 3 {
		t.Fatalf("payloadAs = %+v, want name=weekly count=3", got)
	}
}

func TestPayloadAsMismatch(t *testing.T) {
	t.Parallel()

	if _, err := payloadAs[int]("not a number"); err == nil {
		t.Fatal("expected error for string payload into int")
	}
}

func TestPayloadAsNil(t *testing.T) {
	t.Parallel()

	got, err := payloadAs[*reportPayload](nil)
	if err != nil {
		t.Fatalf("payloadAs(nil): %v", err)
	}
	if got != nil {
		t.Fatalf("payloadAs(nil) = %+v, want nil", got)
	}
}

func TestHandleReplaces(t *testing.T) {
	t.Parallel()

	s := New(Config{}, logx.Nop(), eventbus.New())
	s.Handle("report", func(ctx context.Context, job Job, progress ProgressFunc) (any, error) {
		return "first", nil
	})
	s.Handle("report", func(ctx context.Context, job Job, progress ProgressFunc) (any, error) {
		return "second", nil
	})

	fn := s.processorFor("report")
	if fn == nil {
		t.Fatal("processor not registered")
	}
	res, err := fn(context.Background(), Job{}, func(int) {})
	if err != nil {
		t.Fatalf("processor: %v", err)
	}
	if res != "second" {
		t.Fatalf("processor result = %v, want the replacement", res)
	}

	types := s.Types()
	if len(types) != 1 || types[0] != "report" {
		t.Fatalf("Types() = %v, want [report]", types)
	}
}

func TestHandleIgnoresEmpty(t *testing.T) {
	t.Parallel()

	s := New(Config{}, logx.Nop(), eventbus.New())
	s.Handle("", func(ctx context.Context, job Job, progress ProgressFunc) (any, error) { return nil, nil })
	s.Handle("x", nil)
	if got := len(s.Types()); got != 0 {
		t.Fatalf("registered %d types, want 0", got)
	}
}

func TestUnregister(t *testing.T) {
	t.Parallel()

	s := New(Config{}, logx.Nop(), eventbus.New())
	s.Handle("report", func(ctx context.Context, job Job, progress ProgressFunc) (any, error) {
		return nil, nil
	})
	s.Unregister("report")
	if fn := s.processorFor("report"); fn != nil {
		t.Fatal("processor still registered after Unregister")
	}
	s.Unregister("never-registered")
	if got := len(s.Types()); got != 0 {
		t.Fatalf("Types() = %d entries, want 0", got)
	}
}
