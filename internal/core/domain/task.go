package domain

import "strings"

// Stage identifies the pipeline step a task performs.
type Stage string

const (
	// StageResolve locates every declared dependency on disk.
	StageResolve Stage = "resolve"
	// StageManifest renders the application manifest.
	StageManifest Stage = "manifest"
	// StageCompile produces and checks application classes.
	StageCompile Stage = "compile"
	// StageMerge stages classes, resources and native code from all sources.
	StageMerge Stage = "merge"
	// StageShrink removes unreachable classes and resources.
	StageShrink Stage = "shrink"
	// StagePackage writes one package for a scope.
	StagePackage Stage = "package"
	// StageSign signs one package.
	StageSign Stage = "sign"
	// StageMetadata writes the output listing of a variant.
	StageMetadata Stage = "metadata"
)

// Task represents a unit of work in the build graph.
// It uses InternedString for fields that are frequently repeated to save memory.
type Task struct {
	Name         InternedString
	Stage        Stage
	Scope        string
	Inputs       []InternedString
	Outputs      []InternedString
	Dependencies []InternedString
	// Params holds descriptor values that affect the task's result but are
	// not files. They are part of the input hash.
	Params    map[string]string
	Cacheable bool
}

// TaskName returns the graph name of a stage task, e.g. "package:arm64-v8a".
func TaskName(stage Stage, scope string) string {
	if scope == "" {
		return string(stage)
	}
	return string(stage) + ":" + scope
}

// ParseTaskName splits a task name into its stage and scope.
func ParseTaskName(name string) (Stage, string) {
	stage, scope, _ := strings.Cut(name, ":")
	return Stage(stage), scope
}
