// Package btmconfig holds the immutable configuration snapshot for a
// btm instance (spec §6). A Config is built once, validated, and frozen
// (passed by value thereafter); nothing mutates it in place.
package btmconfig

import (
	"fmt"
	"time"

	"github.com/andreyvit/sealer"
)

// JournalKind selects which Journal implementation Config's owner
// should construct (spec §9's resolution: a fixed enum of the concrete
// Go types supersedes the original "journal by class name" factory).
type JournalKind int

const (
	JournalNull JournalKind = iota
	JournalDisk
	JournalMultiplexed
)

// DiskConfig configures one DiskJournal leg.
type DiskConfig struct {
	// parent identifies, but does not reference, the Config this
	// DiskConfig was built from (DESIGN.md's cyclic-reference
	// resolution: Config is frozen once built, so a sub-config can't
	// hold a live back-pointer to a value it is itself embedded in).
	parent string

	Part1Path          string
	Part2Path          string
	MaxLogSizeInMb     int
	ForcedWriteEnabled bool
	ForceBatchingEnabled bool
	FilterLogStatus    bool
	SkipCorruptedLogs  bool
}

// ParentName returns the instance name of the Config this DiskConfig
// belongs to.
func (d DiskConfig) ParentName() string { return d.parent }

// ArchiveConfig configures the optional cold-storage archival of
// vacated, fully-migrated fragments (spec SPEC_FULL.md §4.2 addition).
type ArchiveConfig struct {
	Enabled bool
	Dir     string
	Key     *sealer.Key
}

// Config is the full, validated, immutable configuration for one btm
// instance (spec §6's configuration table).
type Config struct {
	ServerID    string
	InstanceName string
	JournalKind JournalKind

	// FormatID is this manager's fixed Xid format id (spec §3), used by
	// the recoverer to filter in-doubt Xids down to its own branches.
	FormatID int32

	Primary   DiskConfig
	Secondary DiskConfig // only meaningful when JournalKind == JournalMultiplexed

	FailOnRecordCorruption bool
	CurrentNodeOnlyRecovery bool

	BackgroundRecoveryInterval time.Duration
	DefaultTransactionTimeout  time.Duration
	GracefulShutdownInterval   time.Duration

	Archive ArchiveConfig
}

// Builder accumulates options before Build freezes them into a Config.
// Grounded on andreyvit-journal's Options-struct-with-defaulting
// constructors (logfile.Options, SetOptions); Builder exists in
// addition because Config here has interdependent fields (Secondary
// only meaningful for a multiplexed journal kind) that a bare struct
// literal can't validate at construction time the way a teacher
// NewXxx(Options) function does for a single flat option set.
type Builder struct {
	cfg Config
}

// NewBuilder returns a Builder seeded with the documented defaults
// (spec §6's default column).
func NewBuilder(instanceName string) *Builder {
	return &Builder{cfg: Config{
		InstanceName:               instanceName,
		JournalKind:                JournalDisk,
		FormatID:                   1,
		BackgroundRecoveryInterval: 60 * time.Second,
		DefaultTransactionTimeout:  60 * time.Second,
		GracefulShutdownInterval:   30 * time.Second,
		Primary: DiskConfig{
			MaxLogSizeInMb:     2,
			ForcedWriteEnabled: true,
		},
	}}
}

func (b *Builder) WithServerID(id string) *Builder { b.cfg.ServerID = id; return b }

func (b *Builder) WithJournalKind(k JournalKind) *Builder { b.cfg.JournalKind = k; return b }

func (b *Builder) WithFormatID(id int32) *Builder { b.cfg.FormatID = id; return b }

func (b *Builder) WithPrimary(d DiskConfig) *Builder {
	d.parent = b.cfg.InstanceName
	if d.MaxLogSizeInMb == 0 {
		d.MaxLogSizeInMb = b.cfg.Primary.MaxLogSizeInMb
	}
	b.cfg.Primary = d
	return b
}

func (b *Builder) WithSecondary(d DiskConfig) *Builder {
	d.parent = b.cfg.InstanceName
	b.cfg.Secondary = d
	return b
}

func (b *Builder) WithFailOnRecordCorruption(v bool) *Builder {
	b.cfg.FailOnRecordCorruption = v
	return b
}

func (b *Builder) WithCurrentNodeOnlyRecovery(v bool) *Builder {
	b.cfg.CurrentNodeOnlyRecovery = v
	return b
}

func (b *Builder) WithBackgroundRecoveryInterval(d time.Duration) *Builder {
	b.cfg.BackgroundRecoveryInterval = d
	return b
}

func (b *Builder) WithArchive(a ArchiveConfig) *Builder { b.cfg.Archive = a; return b }

// Build validates and freezes the configuration.
func (b *Builder) Build() (Config, error) {
	cfg := b.cfg
	if cfg.InstanceName == "" {
		return Config{}, fmt.Errorf("btmconfig: instance name is required")
	}
	if cfg.Primary.Part1Path == "" || cfg.Primary.Part2Path == "" {
		return Config{}, fmt.Errorf("btmconfig: primary disk config needs both fragment paths")
	}
	if cfg.JournalKind == JournalMultiplexed {
		if cfg.Secondary.Part1Path == "" || cfg.Secondary.Part2Path == "" {
			return Config{}, fmt.Errorf("btmconfig: multiplexed journal needs a secondary disk config")
		}
	}
	if cfg.BackgroundRecoveryInterval < 0 {
		return Config{}, fmt.Errorf("btmconfig: background recovery interval must not be negative")
	}
	return cfg, nil
}
