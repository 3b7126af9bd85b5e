package pipeline

import (
	"context"

	"github.com/grindlemire/graft"
	"go.trai.ch/apkforge/internal/adapters/classfile"
	"go.trai.ch/apkforge/internal/adapters/manifest"
	"go.trai.ch/apkforge/internal/adapters/packager"
	"go.trai.ch/apkforge/internal/adapters/repository"
	"go.trai.ch/apkforge/internal/adapters/shell"
	"go.trai.ch/apkforge/internal/adapters/shrinker"
	"go.trai.ch/apkforge/internal/adapters/signing"
	"go.trai.ch/apkforge/internal/core/ports"
)

// NodeID is the unique identifier for the pipeline Graft node.
const NodeID graft.ID = "engine.pipeline"

func init() {
	graft.Register(graft.Node[*Pipeline]{
		ID:        NodeID,
		Cacheable: true,
		DependsOn: []graft.ID{
			repository.NodeID,
			manifest.NodeID,
			shell.NodeID,
			classfile.NodeID,
			shrinker.NodeID,
			packager.NodeID,
			signing.NodeID,
		},
		Run: func(ctx context.Context) (*Pipeline, error) {
			resolver, err := graft.Dep[ports.DependencyResolver](ctx)
			if err != nil {
				return nil, err
			}
			manifests, err := graft.Dep[ports.ManifestProcessor](ctx)
			if err != nil {
				return nil, err
			}
			executor, err := graft.Dep[ports.Executor](ctx)
			if err != nil {
				return nil, err
			}
			classes, err := graft.Dep[ports.ClassParser](ctx)
			if err != nil {
				return nil, err
			}
			shrink, err := graft.Dep[ports.Shrinker](ctx)
			if err != nil {
				return nil, err
			}
			pack, err := graft.Dep[ports.Packager](ctx)
			if err != nil {
				return nil, err
			}
			signer, err := graft.Dep[ports.Signer](ctx)
			if err != nil {
				return nil, err
			}
			return New(resolver, manifests, executor, classes, shrink, pack, signer), nil
		},
	})
}
