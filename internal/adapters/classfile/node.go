package classfile

import (
	"context"

	"github.com/grindlemire/graft"
	"go.trai.ch/apkforge/internal/core/ports"
)

// NodeID is the unique identifier for the class parser Graft node.
const NodeID graft.ID = "adapter.class_parser"

func init() {
	graft.Register(graft.Node[ports.ClassParser]{
		ID:        NodeID,
		Cacheable: true,
		Run: func(_ context.Context) (ports.ClassParser, error) {
			return NewParser(), nil
		},
	})
}
