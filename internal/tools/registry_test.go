package tools

import (
	"errors"
	"testing"
)

func TestRegistryRegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(echoTool("alpha"))
	r.MustRegister(echoTool("beta"))

	if !r.Has("alpha") || !r.Has("beta") {
		t.Fatal("registered tools missing")
	}
	if r.Get("gamma") != nil {
		t.Fatal("unknown tool lookup should return nil")
	}
	if got := r.Names(); len(got) != 2 || got[0] != "alpha" || got[1] != "beta" {
		t.Fatalf("unexpected names: %v", got)
	}
	if r.Count() != 2 {
		t.Fatalf("count = %d, want 2", r.Count())
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(echoTool("alpha"))

	err := r.Register(echoTool("alpha"))
	if !errors.Is(err, ErrToolAlreadyRegistered) {
		t.Fatalf("expected ErrToolAlreadyRegistered, got %v", err)
	}
}

func TestRegistryRejectsInvalidTool(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&Tool{Name: ""}); err == nil {
		t.Fatal("expected error for unnamed tool")
	}
	if err := r.Register(&Tool{Name: "noop"}); err == nil {
		t.Fatal("expected error for tool without execute func")
	}
}
