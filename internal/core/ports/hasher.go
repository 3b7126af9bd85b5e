package ports

import "go.trai.ch/apkforge/internal/core/domain"

// Hasher defines the interface for computing hashes.
//
//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_hasher.go -package=mocks -source=hasher.go
type Hasher interface {
	// ComputeInputHash computes the input hash of a task from its definition
	// and the resolved input paths.
	ComputeInputHash(task *domain.Task, inputs []string) (string, error)

	// ComputeOutputHash computes the hash of root-relative output files and directories.
	ComputeOutputHash(outputs []string, root string) (string, error)
}
