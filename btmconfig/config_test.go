package btmconfig

import (
	"testing"
	"time"
)

func TestBuilderAppliesDocumentedDefaults(t *testing.T) {
	cfg, err := NewBuilder("node1").
		WithPrimary(DiskConfig{Part1Path: "a", Part2Path: "b"}).
		Build()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.JournalKind != JournalDisk {
		t.Errorf("JournalKind = %v, want JournalDisk", cfg.JournalKind)
	}
	if cfg.BackgroundRecoveryInterval != 60*time.Second {
		t.Errorf("BackgroundRecoveryInterval = %v, want 60s", cfg.BackgroundRecoveryInterval)
	}
	if cfg.Primary.MaxLogSizeInMb != 2 {
		t.Errorf("Primary.MaxLogSizeInMb = %d, want 2", cfg.Primary.MaxLogSizeInMb)
	}
	if cfg.Primary.ParentName() != "node1" {
		t.Errorf("Primary.ParentName() = %q, want %q", cfg.Primary.ParentName(), "node1")
	}
}

func TestBuilderRequiresInstanceName(t *testing.T) {
	_, err := NewBuilder("").
		WithPrimary(DiskConfig{Part1Path: "a", Part2Path: "b"}).
		Build()
	if err == nil {
		t.Error("Build with empty instance name = nil error, want error")
	}
}

func TestBuilderRequiresPrimaryPaths(t *testing.T) {
	_, err := NewBuilder("node1").Build()
	if err == nil {
		t.Error("Build without primary fragment paths = nil error, want error")
	}
}

func TestBuilderRequiresSecondaryWhenMultiplexed(t *testing.T) {
	_, err := NewBuilder("node1").
		WithPrimary(DiskConfig{Part1Path: "a", Part2Path: "b"}).
		WithJournalKind(JournalMultiplexed).
		Build()
	if err == nil {
		t.Error("Build multiplexed without secondary = nil error, want error")
	}

	cfg, err := NewBuilder("node1").
		WithPrimary(DiskConfig{Part1Path: "a", Part2Path: "b"}).
		WithSecondary(DiskConfig{Part1Path: "c", Part2Path: "d"}).
		WithJournalKind(JournalMultiplexed).
		Build()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Secondary.ParentName() != "node1" {
		t.Errorf("Secondary.ParentName() = %q, want %q", cfg.Secondary.ParentName(), "node1")
	}
}

func TestBuilderRejectsNegativeRecoveryInterval(t *testing.T) {
	_, err := NewBuilder("node1").
		WithPrimary(DiskConfig{Part1Path: "a", Part2Path: "b"}).
		WithBackgroundRecoveryInterval(-time.Second).
		Build()
	if err == nil {
		t.Error("Build with negative recovery interval = nil error, want error")
	}
}
