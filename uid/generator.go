package uid

import (
	"net"
	"sync"
	"time"
)

// Generator produces Uids for one process: a fixed server-id prefix, the
// injected clock's current millisecond time (never earlier than the last
// one used), and a monotonically increasing per-process sequence number. Grounded on the teacher's
// Options.Now func() time.Time injection idiom (andreyvit-journal's
// Journal.now), generalized with a sequence counter.
type Generator struct {
	serverID string
	now      func() time.Time

	mu      sync.Mutex
	lastMs  int64
	lastSeq int32
}

// GeneratorOptions configures a Generator. If ServerID is empty, the
// local IP address is used instead (and the caller should warn, per
// spec.md's "serverId" configuration note).
type GeneratorOptions struct {
	ServerID string
	Now      func() time.Time
}

// NewGenerator builds a Generator, resolving a local-IP server id when
// none was supplied.
func NewGenerator(o GeneratorOptions) (*Generator, error) {
	if o.Now == nil {
		o.Now = time.Now
	}
	serverID := o.ServerID
	if serverID == "" {
		serverID = localIPServerID()
	}
	if len(serverID) > MaxServerIDLen {
		serverID = serverID[:MaxServerIDLen]
	}
	return &Generator{serverID: serverID, now: o.Now}, nil
}

// ServerID returns the prefix this generator embeds in every Uid.
func (g *Generator) ServerID() string { return g.serverID }

// Next returns a fresh, strictly-increasing-within-process Uid.
func (g *Generator) Next() (Uid, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := g.now().UnixMilli()
	if ms < g.lastMs {
		ms = g.lastMs
	}
	if ms <= 0 {
		ms = 1
	}
	g.lastMs = ms
	g.lastSeq++
	if g.lastSeq <= 0 {
		g.lastSeq = 1
	}
	return New(g.serverID, ms, g.lastSeq)
}

func localIPServerID() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "unknown-host"
	}
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipnet.IP.To4(); ip4 != nil {
			return ip4.String()
		}
	}
	return "unknown-host"
}
