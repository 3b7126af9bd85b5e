package domain

import (
	"strings"

	"go.trai.ch/zerr"
)

// Dependency configurations.
const (
	ConfigImplementation        = "implementation"
	ConfigCoreLibraryDesugaring = "coreLibraryDesugaring"
)

// Archive kinds a dependency may resolve to.
const (
	ArchiveAAR = "aar"
	ArchiveJAR = "jar"
)

// Coordinate identifies a module in a repository.
type Coordinate struct {
	Group    string
	Artifact string
	Version  string
	// Type optionally pins the archive kind ("aar" or "jar").
	Type string
}

// ParseCoordinate parses "group:artifact:version[@type]".
func ParseCoordinate(s string) (Coordinate, error) {
	notation, typ, _ := strings.Cut(strings.TrimSpace(s), "@")
	parts := strings.Split(notation, ":")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || strings.TrimSpace(parts[2]) == "" {
		return Coordinate{}, zerr.With(
			zerr.Wrap(ErrConfiguration, "dependency must be group:artifact:version, got "+s),
			"dependency", s,
		)
	}
	if typ != "" && typ != ArchiveAAR && typ != ArchiveJAR {
		return Coordinate{}, zerr.With(
			zerr.Wrap(ErrConfiguration, "unsupported archive type @"+typ+" in "+s),
			"dependency", s,
		)
	}
	return Coordinate{
		Group:    parts[0],
		Artifact: parts[1],
		Version:  strings.TrimSpace(parts[2]),
		Type:     typ,
	}, nil
}

// Module returns "group:artifact".
func (c Coordinate) Module() string {
	return c.Group + ":" + c.Artifact
}

// String returns "group:artifact:version".
func (c Coordinate) String() string {
	return c.Module() + ":" + c.Version
}

// Dependency is a declared dependency: a module coordinate or local archive files.
type Dependency struct {
	Configuration string
	Module        *Coordinate
	Files         []string
}

// String names the dependency the way it is declared.
func (d Dependency) String() string {
	if d.Module != nil {
		return d.Module.String()
	}
	return "files(" + strings.Join(d.Files, ", ") + ")"
}

// ResolvedArtifact is a dependency located on disk.
type ResolvedArtifact struct {
	Configuration string `json:"configuration"`
	// Coordinate is "group:artifact" for modules and empty for local files.
	Coordinate string `json:"coordinate,omitzero"`
	Version    string `json:"version,omitzero"`
	Path       string `json:"path"`
	Kind       string `json:"kind"`
	SHA256     string `json:"sha256"`
}

// Name identifies the artifact in logs and merged rule files.
func (a ResolvedArtifact) Name() string {
	if a.Coordinate != "" {
		return a.Coordinate + ":" + a.Version
	}
	return a.Path
}

// ArchiveKind returns the archive kind implied by a file name, or "".
func ArchiveKind(path string) string {
	switch {
	case strings.HasSuffix(path, ".aar"):
		return ArchiveAAR
	case strings.HasSuffix(path, ".jar"):
		return ArchiveJAR
	default:
		return ""
	}
}
