package domain

import (
	"go.trai.ch/zerr"
)

// OutputKind tags a package in the output listing.
type OutputKind string

// Output kinds.
const (
	OutputOneOfMany OutputKind = "ONE_OF_MANY"
	OutputUniversal OutputKind = "UNIVERSAL"
	OutputSingle    OutputKind = "SINGLE"
)

// Scope names.
const (
	ScopeUniversal = "universal"
	ScopeMain      = "main"
)

// Scope is the architecture scope of one produced package.
type Scope struct {
	Name string
	Kind OutputKind
	// Filter is the ABI of a split package; empty for universal and main.
	Filter ABI
	// ABIs admitted into the package; empty admits every ABI present.
	ABIs ABISet
}

// Scopes returns the package scopes of the descriptor in output order:
// one per included ABI followed by the universal scope when splits are
// enabled, or a single main scope otherwise.
func (d *Descriptor) Scopes() ([]Scope, error) {
	split := d.Splits.ABI
	if !split.Enable {
		return []Scope{{Name: ScopeMain, Kind: OutputSingle, ABIs: ABISet(d.ABIFilters)}}, nil
	}

	include := NormalizeABIs(split.Include)
	if len(include) == 0 {
		return nil, zerr.With(
			zerr.Wrap(ErrPackaging, "abi split is enabled but the requested architecture set is empty"),
			"option", "splits.abi.include",
		)
	}

	scopes := make([]Scope, 0, len(include)+1)
	for _, abi := range include {
		if !abi.Supported() {
			return nil, zerr.With(zerr.With(
				zerr.Wrap(ErrPackaging, "architecture "+abi.String()+" is not supported by the toolchain"),
				"option", "splits.abi.include"),
				"abi", abi.String(),
			)
		}
		scopes = append(scopes, Scope{
			Name:   abi.String(),
			Kind:   OutputOneOfMany,
			Filter: abi,
			ABIs:   ABISet{abi},
		})
	}
	if split.Universal {
		scopes = append(scopes, Scope{Name: ScopeUniversal, Kind: OutputUniversal, ABIs: ABISet(include)})
	}
	return scopes, nil
}

// PackageFileName returns the file name of a scope's package, e.g.
// "app-arm64-v8a-release.apk" or "app-release-unsigned.apk".
func (d *Descriptor) PackageFileName(variant string, scope Scope, signed bool) string {
	name := d.Name
	if scope.Name != ScopeMain {
		name += "-" + scope.Name
	}
	name += "-" + variant
	if !signed {
		name += "-unsigned"
	}
	return name + ".apk"
}
