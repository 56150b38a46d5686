package consistency

import (
	"context"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"paperpos/backend/internal/store"
)

type TopologySource interface {
	Topology(ctx context.Context) store.Topology
}

// Strategy decides per batch whether writes run inside a database transaction.
type Strategy struct {
	enabled bool
	source  TopologySource
}

func New(enabled bool, source TopologySource) *Strategy {
	return &Strategy{enabled: enabled, source: source}
}

func (s *Strategy) Enabled() bool {
	return s != nil && s.enabled
}

// UseTransaction reports whether the next batch should be transactional.
func (s *Strategy) UseTransaction(ctx context.Context) bool {
	if !s.Enabled() || s.source == nil {
		return false
	}
	topology := s.source.Topology(ctx)
	supported := SupportsTransactions(topology)
	if !supported {
		zap.L().Debug("transactions requested but topology does not support them",
			zap.String("kind", string(topology.Kind)),
			zap.String("replica_set", topology.ReplicaSetName))
	}
	return supported
}

// SupportsTransactions checks, in order: the live topology kind, the
// configured replica-set name, then a replicaSet marker in the connection
// string. Anything else is treated as unsupported.
func SupportsTransactions(t store.Topology) bool {
	switch t.Kind {
	case store.TopologyReplicaSet, store.TopologySharded, store.TopologyRelational, store.TopologyInMemory:
		return true
	case store.TopologyStandalone:
		return false
	}
	if strings.TrimSpace(t.ReplicaSetName) != "" {
		return true
	}
	return uriHasReplicaSet(t.URI)
}

func uriHasReplicaSet(raw string) bool {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false
	}
	if u, err := url.Parse(raw); err == nil {
		for key, values := range u.Query() {
			if strings.EqualFold(key, "replicaSet") {
				for _, v := range values {
					if strings.TrimSpace(v) != "" {
						return true
					}
				}
			}
		}
		return false
	}
	// Multi-host mongodb URIs do not always survive url.Parse.
	return strings.Contains(strings.ToLower(raw), "replicaset=")
}
