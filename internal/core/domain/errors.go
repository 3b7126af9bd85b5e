package domain

import (
	"errors"

	"go.trai.ch/zerr"
)

// Failure taxonomy. Every build failure carries exactly one of these kinds,
// checkable with errors.Is.
var (
	// ErrUnresolvedDependency is returned when a module or local archive cannot be found.
	ErrUnresolvedDependency = zerr.New("unresolved dependency")

	// ErrCompilation is returned when sources are incompatible with the declared language level.
	ErrCompilation = zerr.New("compilation failed")

	// ErrShrinking is returned when code or resource shrinking fails.
	ErrShrinking = zerr.New("shrinking failed")

	// ErrPackaging is returned when packages cannot be planned or written.
	ErrPackaging = zerr.New("packaging failed")

	// ErrConfiguration is returned for malformed or self-contradictory descriptor values.
	ErrConfiguration = zerr.New("invalid configuration")
)

var (
	// ErrTaskAlreadyExists is returned when attempting to add a task with a name that already exists.
	ErrTaskAlreadyExists = zerr.New("task already exists")

	// ErrMissingDependency is returned when a task references a dependency that doesn't exist in the graph.
	ErrMissingDependency = zerr.New("missing dependency")

	// ErrCycleDetected is returned when a cycle is detected in the task dependency graph.
	ErrCycleDetected = zerr.New("cycle detected")

	// ErrTaskNotFound is returned when a requested task is not found in the graph.
	ErrTaskNotFound = zerr.New("task not found")

	// ErrUnknownVariant is returned when a build variant is not declared and not built in.
	ErrUnknownVariant = zerr.New("unknown build variant")

	// ErrUnknownStage is returned when a task names a stage the pipeline does not implement.
	ErrUnknownStage = zerr.New("unknown stage")

	// ErrOutputPathOutsideRoot is returned when an output path is outside the project root.
	ErrOutputPathOutsideRoot = zerr.New("output path is outside project root")

	// ErrInputNotFound is returned when a declared input file or directory is not found.
	ErrInputNotFound = zerr.New("input not found")

	// ErrStoreCreateFailed is returned when the build info store directory cannot be created.
	ErrStoreCreateFailed = zerr.New("failed to create build info store directory")

	// ErrStoreReadFailed is returned when the build info cannot be read.
	ErrStoreReadFailed = zerr.New("failed to read build info")

	// ErrStoreUnmarshalFailed is returned when the build info cannot be unmarshaled.
	ErrStoreUnmarshalFailed = zerr.New("failed to unmarshal build info")

	// ErrStoreMarshalFailed is returned when the build info cannot be marshaled.
	ErrStoreMarshalFailed = zerr.New("failed to marshal build info")

	// ErrStoreWriteFailed is returned when the build info cannot be written.
	ErrStoreWriteFailed = zerr.New("failed to write build info")

	// ErrConfigReadFailed is returned when the descriptor cannot be read.
	ErrConfigReadFailed = zerr.New("failed to read descriptor")

	// ErrConfigParseFailed is returned when the descriptor cannot be parsed.
	ErrConfigParseFailed = zerr.New("failed to parse descriptor")

	// ErrConfigNotFound is returned when no descriptor is found walking up from the working directory.
	ErrConfigNotFound = zerr.New("could not find " + DescriptorFileName)

	// ErrTaskExecutionFailed is returned when a task execution fails.
	ErrTaskExecutionFailed = zerr.New("task execution failed")

	// ErrInputResolutionFailed is returned when input resolution fails.
	ErrInputResolutionFailed = zerr.New("failed to resolve inputs")

	// ErrInputHashComputationFailed is returned when input hash computation fails.
	ErrInputHashComputationFailed = zerr.New("failed to compute input hash")

	// ErrFailedToGetRoot is returned when the project root path cannot be determined.
	ErrFailedToGetRoot = zerr.New("failed to get absolute path of project root")

	// ErrFailedToCleanOutput is returned when cleaning an output file fails.
	ErrFailedToCleanOutput = zerr.New("failed to clean output file")

	// ErrSigningKeyInvalid is returned when a signing key cannot be loaded or unlocked.
	ErrSigningKeyInvalid = zerr.New("invalid signing key")
)

// KindError attaches a failure kind from the taxonomy to an error chain.
type KindError struct {
	Kind error
	Err  error
}

// Classify tags err with kind. It returns err unchanged when it already
// carries kind, and nil when err is nil.
func Classify(kind, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, kind) {
		return err
	}
	return &KindError{Kind: kind, Err: err}
}

// Error implements the error interface.
func (e *KindError) Error() string {
	return e.Kind.Error() + ": " + e.Err.Error()
}

// Message returns the kind without the cause chain.
func (e *KindError) Message() string {
	return e.Kind.Error()
}

// Unwrap returns the classified error.
func (e *KindError) Unwrap() error {
	return e.Err
}

// Is reports whether target is the attached kind.
func (e *KindError) Is(target error) bool {
	return target == e.Kind
}

// KindOf returns the taxonomy kind carried by err, or nil.
func KindOf(err error) error {
	for _, kind := range []error{
		ErrConfiguration,
		ErrUnresolvedDependency,
		ErrCompilation,
		ErrShrinking,
		ErrPackaging,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
