package repository

import (
	"context"

	"github.com/grindlemire/graft"
	"go.trai.ch/apkforge/internal/adapters/logger"
	"go.trai.ch/apkforge/internal/core/ports"
)

// NodeID is the unique identifier for the dependency resolver Graft node.
const NodeID graft.ID = "adapter.dependency_resolver"

func init() {
	graft.Register(graft.Node[ports.DependencyResolver]{
		ID:        NodeID,
		Cacheable: true,
		DependsOn: []graft.ID{logger.NodeID},
		Run: func(ctx context.Context) (ports.DependencyResolver, error) {
			log, err := graft.Dep[ports.Logger](ctx)
			if err != nil {
				return nil, err
			}
			return NewResolver(log), nil
		},
	})
}
