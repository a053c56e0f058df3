package observer

import (
	"context"
	"errors"
	"reflect"
	"testing"

	cortex "github.com/nevindra/cortex"
)

type mockEngine struct {
	name        string
	completion  cortex.CompletionResult
	chat        cortex.ChatResult
	err         error
	healthErr   error
	completions int
}

func (m *mockEngine) Name() string { return m.name }
func (m *mockEngine) Complete(_ context.Context, _ cortex.CompletionRequest) (cortex.CompletionResult, error) {
	m.completions++
	return m.completion, m.err
}
func (m *mockEngine) Chat(_ context.Context, _ cortex.ChatRequest) (cortex.ChatResult, error) {
	return m.chat, m.err
}
func (m *mockEngine) Health(_ context.Context) error { return m.healthErr }

type mockEmbedding struct {
	name string
	dims int
	vecs [][]float32
	err  error
}

func (m *mockEmbedding) Name() string    { return m.name }
func (m *mockEmbedding) Dimensions() int { return m.dims }
func (m *mockEmbedding) Embed(_ context.Context, _ []string) ([][]float32, error) {
	return m.vecs, m.err
}

func mockTool(result string, err error) cortex.Tool {
	return cortex.Tool{
		Name:        "mock",
		Description: "mock tool",
		Invoke: func(_ context.Context, _ string) (string, error) {
			return result, err
		},
	}
}

// testInstruments creates Instruments on the global OTEL providers, which
// are no-ops by default. Safe for testing delegation without a backend.
func testInstruments(t *testing.T) *Instruments {
	t.Helper()
	inst, err := newInstruments()
	if err != nil {
		t.Fatalf("newInstruments: %v", err)
	}
	return inst
}

func TestObservedEngineDelegates(t *testing.T) {
	inner := &mockEngine{
		name:       "vorpal",
		completion: cortex.CompletionResult{Text: "done", Backend: "vorpal"},
		chat:       cortex.ChatResult{Content: "hi"},
	}
	oe := WrapEngine(inner, testInstruments(t))

	if oe.Name() != "vorpal" {
		t.Errorf("Name() = %q", oe.Name())
	}
	res, err := oe.Complete(context.Background(), cortex.CompletionRequest{Prompt: "p"})
	if err != nil || res.Text != "done" {
		t.Errorf("Complete = %+v, %v", res, err)
	}
	chat, err := oe.Chat(context.Background(), cortex.ChatRequest{})
	if err != nil || chat.Content != "hi" {
		t.Errorf("Chat = %+v, %v", chat, err)
	}
	if inner.completions != 1 {
		t.Errorf("inner completions = %d", inner.completions)
	}
}

func TestObservedEnginePropagatesErrors(t *testing.T) {
	wantErr := errors.New("backend unavailable")
	oe := WrapEngine(&mockEngine{name: "p", err: wantErr}, testInstruments(t))

	if _, err := oe.Complete(context.Background(), cortex.CompletionRequest{}); !errors.Is(err, wantErr) {
		t.Errorf("Complete error = %v", err)
	}
	if _, err := oe.Chat(context.Background(), cortex.ChatRequest{}); !errors.Is(err, wantErr) {
		t.Errorf("Chat error = %v", err)
	}

	healthErr := errors.New("not ready")
	oe = WrapEngine(&mockEngine{name: "p", healthErr: healthErr}, testInstruments(t))
	if err := oe.Health(context.Background()); !errors.Is(err, healthErr) {
		t.Errorf("Health error = %v", err)
	}
}

func TestObservedEmbeddingDelegates(t *testing.T) {
	inner := &mockEmbedding{name: "embed", dims: 4, vecs: [][]float32{{1, 2, 3, 4}}}
	oe := WrapEmbedding(inner, testInstruments(t))

	if oe.Name() != "embed" || oe.Dimensions() != 4 {
		t.Errorf("identity = %q/%d", oe.Name(), oe.Dimensions())
	}
	vecs, err := oe.Embed(context.Background(), []string{"a"})
	if err != nil || len(vecs) != 1 || vecs[0][3] != 4 {
		t.Errorf("Embed = %v, %v", vecs, err)
	}
}

func TestObservedToolDelegates(t *testing.T) {
	ot := WrapTool(mockTool("42", nil), testInstruments(t))
	if ot.Name() != "mock" || ot.Description() != "mock tool" {
		t.Errorf("identity = %q/%q", ot.Name(), ot.Description())
	}
	out, err := ot.Invoke(context.Background(), "6*7")
	if err != nil || out != "42" {
		t.Errorf("Invoke = %q, %v", out, err)
	}

	wantErr := errors.New("boom")
	ot = WrapTool(mockTool("", wantErr), testInstruments(t))
	if _, err := ot.Invoke(context.Background(), ""); !errors.Is(err, wantErr) {
		t.Errorf("Invoke error = %v", err)
	}
}

func TestWrapRegistry(t *testing.T) {
	reg := cortex.NewToolRegistry()
	reg.MustRegister(mockTool("ok", nil))

	wrapped, err := WrapRegistry(reg, testInstruments(t))
	if err != nil {
		t.Fatal(err)
	}
	if wrapped.Len() != 1 {
		t.Fatalf("len = %d", wrapped.Len())
	}
	tool, ok := wrapped.Get("mock")
	if !ok {
		t.Fatal("mock tool missing")
	}
	wrappedInvoke := reflect.ValueOf(WrapTool(cortex.Tool{}, nil).Invoke).Pointer()
	if reflect.ValueOf(tool.Invoke).Pointer() != wrappedInvoke {
		t.Errorf("tool not wrapped")
	}
}
