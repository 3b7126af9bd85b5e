package manifest

import (
	"context"

	"github.com/grindlemire/graft"
	"go.trai.ch/apkforge/internal/adapters/logger"
	"go.trai.ch/apkforge/internal/core/ports"
)

// NodeID is the unique identifier for the manifest processor Graft node.
const NodeID graft.ID = "adapter.manifest"

func init() {
	graft.Register(graft.Node[ports.ManifestProcessor]{
		ID:        NodeID,
		Cacheable: true,
		DependsOn: []graft.ID{logger.NodeID},
		Run: func(ctx context.Context) (ports.ManifestProcessor, error) {
			log, err := graft.Dep[ports.Logger](ctx)
			if err != nil {
				return nil, err
			}
			return NewProcessor(log), nil
		},
	})
}
