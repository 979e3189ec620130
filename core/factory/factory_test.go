package factory

import (
	"strings"
	"testing"
)

type widget struct {
	Size int
}

func TestRegistryCreate(t *testing.T) {
	reg := NewRegistry[*widget]()
	err := reg.Register("widget", func(conf map[string]any) (*widget, error) {
		var c struct {
			Size int `json:"size"`
		}
		if err := Decode(conf, &c); err != nil {
			return nil, err
		}
		return &widget{Size: c.Size}, nil
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	w, err := reg.Create(ModuleConfig{Type: "widget", Conf: map[string]any{"size": 3}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if w.Size != 3 {
		t.Fatalf("expected size 3 got %d", w.Size)
	}
}

func TestRegistryUnknownType(t *testing.T) {
	reg := NewRegistry[*widget]()
	_ = reg.Register("widget", func(map[string]any) (*widget, error) { return &widget{}, nil })
	_, err := reg.Create(ModuleConfig{Type: "gizmo"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "widget") {
		t.Fatalf("error should list known types: %v", err)
	}
}

func TestRegistryDoubleRegister(t *testing.T) {
	reg := NewRegistry[*widget]()
	f := func(map[string]any) (*widget, error) { return &widget{}, nil }
	if err := reg.Register("widget", f); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Register("widget", f); err == nil {
		t.Fatal("expected error on double registration")
	}
	if err := reg.Register("nil", nil); err == nil {
		t.Fatal("expected error on nil factory")
	}
}
