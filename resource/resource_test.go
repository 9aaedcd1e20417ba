package resource

import (
	"testing"

	"github.com/ilyalabun/btm/uid"
)

type stubResource struct{ name string }

func (s *stubResource) UniqueName() string                             { return s.name }
func (s *stubResource) Recover(RecoveryFlags) ([]uid.Xid, error)       { return nil, nil }
func (s *stubResource) Commit(xid uid.Xid, onePhase bool) error       { return nil }
func (s *stubResource) Rollback(xid uid.Xid) error                     { return nil }

func TestRegisterAndLookup(t *testing.T) {
	reg := NewRegistry()
	r := &stubResource{name: "mysql"}
	if err := reg.Register(r); err != nil {
		t.Fatal(err)
	}
	got, ok := reg.Lookup("mysql")
	if !ok {
		t.Fatal("Lookup(\"mysql\") = false, want true")
	}
	if got != r {
		t.Error("Lookup returned a different Resource than registered")
	}
}

func TestRegisterRejectsNameCollisionWithDifferentResource(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(&stubResource{name: "mysql"}); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(&stubResource{name: "mysql"}); err == nil {
		t.Error("Register with a colliding name = nil error, want error")
	}
}

func TestRegisterIsIdempotentForSameResource(t *testing.T) {
	reg := NewRegistry()
	r := &stubResource{name: "mysql"}
	if err := reg.Register(r); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(r); err != nil {
		t.Errorf("re-registering the same Resource instance should be a no-op, got error: %v", err)
	}
}

func TestUnregisterRemovesResource(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&stubResource{name: "mysql"})
	reg.Unregister("mysql")
	if _, ok := reg.Lookup("mysql"); ok {
		t.Error("Lookup after Unregister = true, want false")
	}
}

func TestAllReturnsEverythingRegistered(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&stubResource{name: "mysql"})
	reg.Register(&stubResource{name: "kafka"})
	all := reg.All()
	if len(all) != 2 {
		t.Fatalf("All() = %d resources, want 2", len(all))
	}
}
