package ports

import "go.trai.ch/apkforge/internal/core/domain"

// ClassParser reads compiled class files.
//
//go:generate go run go.uber.org/mock/mockgen -source=classfile.go -destination=mocks/mock_classfile.go -package=mocks
type ClassParser interface {
	// Parse decodes a class file. Malformed input is an error.
	Parse(data []byte) (*domain.ClassInfo, error)
}
