package packager

import (
	"context"

	"github.com/grindlemire/graft"
	"go.trai.ch/apkforge/internal/core/ports"
)

// NodeID is the unique identifier for the packager Graft node.
const NodeID graft.ID = "adapter.packager"

func init() {
	graft.Register(graft.Node[ports.Packager]{
		ID:        NodeID,
		Cacheable: true,
		Run: func(_ context.Context) (ports.Packager, error) {
			return New(), nil
		},
	})
}
