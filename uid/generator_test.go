package uid

import (
	"testing"
	"time"
)

func TestGeneratorMonotonicWithinSameMillisecond(t *testing.T) {
	fixed := time.UnixMilli(1700000000000)
	g, err := NewGenerator(GeneratorOptions{ServerID: "node1", Now: func() time.Time { return fixed }})
	if err != nil {
		t.Fatal(err)
	}

	u1, err := g.Next()
	if err != nil {
		t.Fatal(err)
	}
	u2, err := g.Next()
	if err != nil {
		t.Fatal(err)
	}
	if u1.Compare(u2) >= 0 {
		t.Errorf("u1.Compare(u2) = %d, want < 0 (sequence must advance within same ms)", u1.Compare(u2))
	}
}

func TestGeneratorDefaultsServerIDFromHost(t *testing.T) {
	g, err := NewGenerator(GeneratorOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if g.ServerID() == "" {
		t.Error("ServerID() is empty, want a default host-derived id")
	}
}
