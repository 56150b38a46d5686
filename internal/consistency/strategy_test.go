package consistency

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"paperpos/backend/internal/store"
)

type fixedTopology store.Topology

func (f fixedTopology) Topology(context.Context) store.Topology {
	return store.Topology(f)
}

func TestSupportsTransactions(t *testing.T) {
	tests := []struct {
		name     string
		topology store.Topology
		want     bool
	}{
		{name: "live replica set", topology: store.Topology{Kind: store.TopologyReplicaSet}, want: true},
		{name: "live sharded", topology: store.Topology{Kind: store.TopologySharded}, want: true},
		{name: "relational", topology: store.Topology{Kind: store.TopologyRelational}, want: true},
		{name: "live standalone wins over uri", topology: store.Topology{Kind: store.TopologyStandalone, URI: "mongodb://db:27017/?replicaSet=rs0"}, want: false},
		{name: "configured replica set name", topology: store.Topology{ReplicaSetName: "rs0"}, want: true},
		{name: "uri marker", topology: store.Topology{URI: "mongodb://a:27017,b:27017/shop?replicaSet=rs0"}, want: true},
		{name: "uri marker any case", topology: store.Topology{URI: "mongodb://a:27017/shop?replicaset=rs0"}, want: true},
		{name: "empty marker", topology: store.Topology{URI: "mongodb://a:27017/shop?replicaSet="}, want: false},
		{name: "plain uri", topology: store.Topology{URI: "mongodb://localhost:27017/shop"}, want: false},
		{name: "nothing known", topology: store.Topology{}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SupportsTransactions(tt.topology))
		})
	}
}

func TestStrategyRequiresExplicitEnablement(t *testing.T) {
	source := fixedTopology{Kind: store.TopologyReplicaSet}

	assert.False(t, New(false, source).UseTransaction(context.Background()))
	assert.True(t, New(true, source).UseTransaction(context.Background()))
	assert.False(t, New(true, fixedTopology{Kind: store.TopologyStandalone}).UseTransaction(context.Background()))

	var nilStrategy *Strategy
	assert.False(t, nilStrategy.UseTransaction(context.Background()))
}
