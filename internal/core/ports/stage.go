package ports

import (
	"context"

	"go.trai.ch/apkforge/internal/core/domain"
)

// StageRunner performs the work of one stage task.
//
//go:generate go run go.uber.org/mock/mockgen -source=stage.go -destination=mocks/mock_stage.go -package=mocks
type StageRunner interface {
	// Run executes the task. Progress and tool output go to vertex.
	Run(ctx context.Context, task *domain.Task, vertex Vertex) error
}
