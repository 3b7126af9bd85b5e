// Package wiring registers all Graft nodes for the application.
package wiring

import (
	// Register adapter nodes.
	_ "go.trai.ch/apkforge/internal/adapters/cas"
	_ "go.trai.ch/apkforge/internal/adapters/classfile"
	_ "go.trai.ch/apkforge/internal/adapters/config"
	_ "go.trai.ch/apkforge/internal/adapters/fs"
	_ "go.trai.ch/apkforge/internal/adapters/logger"
	_ "go.trai.ch/apkforge/internal/adapters/manifest"
	_ "go.trai.ch/apkforge/internal/adapters/packager"
	_ "go.trai.ch/apkforge/internal/adapters/repository"
	_ "go.trai.ch/apkforge/internal/adapters/shell"
	_ "go.trai.ch/apkforge/internal/adapters/shrinker"
	_ "go.trai.ch/apkforge/internal/adapters/signing"
	_ "go.trai.ch/apkforge/internal/adapters/telemetry/progrock"
	// Register app and engine nodes.
	_ "go.trai.ch/apkforge/internal/app"
	_ "go.trai.ch/apkforge/internal/engine/pipeline"
	_ "go.trai.ch/apkforge/internal/engine/scheduler"
)
