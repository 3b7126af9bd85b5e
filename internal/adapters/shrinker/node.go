package shrinker

import (
	"context"

	"github.com/grindlemire/graft"
	"go.trai.ch/apkforge/internal/adapters/classfile"
	"go.trai.ch/apkforge/internal/adapters/logger"
	"go.trai.ch/apkforge/internal/core/ports"
)

// NodeID is the unique identifier for the shrinker Graft node.
const NodeID graft.ID = "adapter.shrinker"

func init() {
	graft.Register(graft.Node[ports.Shrinker]{
		ID:        NodeID,
		Cacheable: true,
		DependsOn: []graft.ID{classfile.NodeID, logger.NodeID},
		Run: func(ctx context.Context) (ports.Shrinker, error) {
			parser, err := graft.Dep[ports.ClassParser](ctx)
			if err != nil {
				return nil, err
			}
			log, err := graft.Dep[ports.Logger](ctx)
			if err != nil {
				return nil, err
			}
			return New(parser, log), nil
		},
	})
}
