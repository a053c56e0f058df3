package cortex

import (
	"context"
	"strings"
	"testing"
)

func echoTool(name string) Tool {
	return Tool{
		Name:        name,
		Description: "echoes its input",
		Invoke: func(_ context.Context, input string) (string, error) {
			return input, nil
		},
	}
}

func TestToolRegistry_Register(t *testing.T) {
	r := NewToolRegistry()
	if err := r.Register(echoTool("Echo")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
	got, ok := r.Get("Echo")
	if !ok {
		t.Fatal("Get(Echo) not found")
	}
	out, err := got.Invoke(context.Background(), "hi")
	if err != nil || out != "hi" {
		t.Errorf("Invoke = %q, %v", out, err)
	}
}

func TestToolRegistry_RejectsDuplicates(t *testing.T) {
	r := NewToolRegistry()
	if err := r.Register(echoTool("Echo")); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(echoTool("Echo")); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
}

func TestToolRegistry_RejectsInvalid(t *testing.T) {
	r := NewToolRegistry()
	if err := r.Register(Tool{Name: "", Invoke: echoTool("x").Invoke}); err == nil {
		t.Error("expected empty name to fail")
	}
	if err := r.Register(Tool{Name: "NoFunc"}); err == nil {
		t.Error("expected nil Invoke to fail")
	}
}

func TestToolRegistry_Describe(t *testing.T) {
	r := NewToolRegistry()
	if got := r.Describe(); got != "No tools available." {
		t.Errorf("empty Describe() = %q", got)
	}
	r.MustRegister(echoTool("First"))
	r.MustRegister(echoTool("Second"))
	desc := r.Describe()
	if !strings.Contains(desc, "- First: echoes its input") {
		t.Errorf("Describe() missing First: %q", desc)
	}
	first := strings.Index(desc, "First")
	second := strings.Index(desc, "Second")
	if first > second {
		t.Error("Describe() does not preserve registration order")
	}
}
