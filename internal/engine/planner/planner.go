// Package planner turns a build descriptor into the stage task graph of a variant.
package planner

import (
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"go.trai.ch/apkforge/internal/core/domain"
	"go.trai.ch/zerr"
)

// Plan returns the validated task graph that builds variant:
//
//	resolve -> manifest -> compile -> merge -> shrink -> package:<scope>... -> sign:<scope>... -> metadata
//
// Source locations that do not exist are left out of the task inputs. Split
// problems are reported as ErrPackaging before any stage runs.
func Plan(desc *domain.Descriptor, variant string) (*domain.Graph, error) {
	bt, ok := desc.BuildType(variant)
	if !ok {
		return nil, zerr.With(
			zerr.Wrap(domain.Classify(domain.ErrConfiguration, domain.ErrUnknownVariant), variant),
			"variant", variant,
		)
	}

	scopes, err := desc.Scopes()
	if err != nil {
		return nil, zerr.With(err, "variant", variant)
	}

	p := &plan{
		desc:    desc,
		bt:      bt,
		variant: variant,
		layout:  domain.NewVariantLayout(variant),
		graph:   domain.NewGraph(),
	}
	p.graph.SetRoot(desc.Root)

	steps := []func() error{
		p.addResolve,
		p.addManifest,
		p.addCompile,
		p.addMerge,
		p.addShrink,
		func() error { return p.addPackages(scopes) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return nil, err
		}
	}

	if err := p.graph.Validate(); err != nil {
		return nil, err
	}
	return p.graph, nil
}

type plan struct {
	desc    *domain.Descriptor
	bt      domain.BuildType
	variant string
	layout  domain.VariantLayout
	graph   *domain.Graph
}

func (p *plan) add(stage domain.Stage, scope string, spec taskSpec) error {
	params := map[string]string{"variant": p.variant}
	for k, v := range spec.params {
		params[k] = v
	}
	return p.graph.AddTask(&domain.Task{
		Name:         domain.NewInternedString(domain.TaskName(stage, scope)),
		Stage:        stage,
		Scope:        scope,
		Inputs:       intern(spec.inputs),
		Outputs:      intern(spec.outputs),
		Dependencies: intern(spec.deps),
		Params:       params,
		Cacheable:    !spec.uncached,
	})
}

type taskSpec struct {
	inputs   []string
	outputs  []string
	deps     []string
	params   map[string]string
	uncached bool
}

// addResolve plans dependency resolution. It always runs so that removed
// local archives and new remote versions are noticed.
func (p *plan) addResolve() error {
	return p.add(domain.StageResolve, "", taskSpec{
		outputs:  []string{p.layout.ResolvedFile()},
		uncached: true,
	})
}

func (p *plan) addManifest() error {
	placeholders := make([]string, 0, len(p.desc.ManifestPlaceholders))
	for k, v := range p.desc.ManifestPlaceholders {
		placeholders = append(placeholders, k+"="+v)
	}
	slices.Sort(placeholders)

	return p.add(domain.StageManifest, "", taskSpec{
		inputs:  p.existing(p.desc.Sources.Manifest),
		outputs: []string{p.layout.ManifestFile()},
		deps:    []string{string(domain.StageResolve)},
		params: map[string]string{
			"applicationId": p.desc.ApplicationID,
			"namespace":     p.desc.Namespace,
			"versionCode":   strconv.Itoa(p.desc.VersionCode),
			"versionName":   p.desc.VersionName,
			"minSdk":        strconv.Itoa(p.desc.SDK.MinSDK),
			"targetSdk":     strconv.Itoa(p.desc.SDK.TargetSDK),
			"debuggable":    strconv.FormatBool(p.bt.Debuggable),
			"placeholders":  strings.Join(placeholders, ","),
		},
	})
}

func (p *plan) addCompile() error {
	opts := p.desc.CompileOptions
	inputs := []string{p.layout.ResolvedFile()}
	inputs = append(inputs, p.existing(p.desc.Sources.Java, p.desc.Sources.Classes)...)

	return p.add(domain.StageCompile, "", taskSpec{
		inputs:  inputs,
		outputs: []string{p.layout.ClassesDir()},
		deps:    []string{string(domain.StageManifest)},
		params: map[string]string{
			"sourceCompatibility": opts.SourceCompatibility.String(),
			"targetCompatibility": opts.TargetCompatibility.String(),
			"compileSdk":          strconv.Itoa(p.desc.SDK.CompileSDK),
			"command":             strings.Join(opts.Command, "\x1f"),
		},
	})
}

func (p *plan) addMerge() error {
	inputs := []string{p.layout.ResolvedFile(), p.layout.ClassesDir()}
	inputs = append(inputs, p.existing(p.desc.Sources.Resources, p.desc.Sources.JNILibs)...)

	return p.add(domain.StageMerge, "", taskSpec{
		inputs:  inputs,
		outputs: []string{p.layout.MergedDir()},
		deps:    []string{string(domain.StageCompile)},
		params:  map[string]string{"abiFilters": joinABIs(p.desc.ABIFilters)},
	})
}

func (p *plan) addShrink() error {
	inputs := []string{p.layout.MergedDir(), p.layout.ManifestFile()}
	outputs := []string{p.layout.ShrunkDir()}
	if p.bt.Minify {
		for _, f := range p.bt.ProguardFiles {
			if f != domain.DefaultRules && f != domain.DefaultRulesOptimize {
				inputs = append(inputs, f)
			}
		}
		outputs = append(outputs, p.layout.UsageFile())
	}

	return p.add(domain.StageShrink, "", taskSpec{
		inputs:  inputs,
		outputs: outputs,
		deps:    []string{string(domain.StageMerge)},
		params: map[string]string{
			"minify":          strconv.FormatBool(p.bt.Minify),
			"shrinkResources": strconv.FormatBool(p.bt.ShrinkResources),
			"proguardFiles":   strings.Join(p.bt.ProguardFiles, ","),
		},
	})
}

func (p *plan) addPackages(scopes []domain.Scope) error {
	signing, signed := p.desc.SigningConfigFor(p.bt)

	var listed []string
	finals := make([]string, 0, len(scopes))
	for _, scope := range scopes {
		apk := filepath.Join(p.layout.OutputDir(), p.desc.PackageFileName(p.variant, scope, signed))
		pkgName := domain.TaskName(domain.StagePackage, scope.Name)

		err := p.add(domain.StagePackage, scope.Name, taskSpec{
			inputs:  []string{p.layout.ShrunkDir(), p.layout.ManifestFile()},
			outputs: []string{apk},
			deps:    []string{string(domain.StageShrink)},
			params: map[string]string{
				"kind":   string(scope.Kind),
				"filter": scope.Filter.String(),
				"abis":   joinABIs(scope.ABIs),
			},
		})
		if err != nil {
			return err
		}
		listed = append(listed, apk)

		if !signed {
			finals = append(finals, pkgName)
			continue
		}
		sig := apk + domain.SignatureSuffix
		err = p.add(domain.StageSign, scope.Name, taskSpec{
			inputs:  append([]string{apk}, p.existing(signing.KeyPath())...),
			outputs: []string{sig},
			deps:    []string{pkgName},
			params: map[string]string{
				"signingConfig": signing.Name,
				"keyFile":       signing.KeyFile,
			},
		})
		if err != nil {
			return err
		}
		listed = append(listed, sig)
		finals = append(finals, domain.TaskName(domain.StageSign, scope.Name))
	}

	return p.add(domain.StageMetadata, "", taskSpec{
		inputs:  listed,
		outputs: []string{p.layout.OutputMetadataFile()},
		deps:    finals,
		params: map[string]string{
			"applicationId": p.desc.ApplicationID,
			"versionCode":   strconv.Itoa(p.desc.VersionCode),
			"versionName":   p.desc.VersionName,
		},
	})
}

// existing returns the non-empty paths that are present on disk. Relative
// paths are taken from the project root.
func (p *plan) existing(paths ...string) []string {
	var out []string
	for _, path := range paths {
		if path == "" {
			continue
		}
		full := path
		if !filepath.IsAbs(full) {
			full = filepath.Join(p.desc.Root, path)
		}
		if _, err := os.Stat(full); err == nil {
			out = append(out, path)
		}
	}
	return out
}

func intern(values []string) []domain.InternedString {
	out := make([]domain.InternedString, len(values))
	for i, v := range values {
		out[i] = domain.NewInternedString(v)
	}
	return out
}

func joinABIs(abis []domain.ABI) string {
	parts := make([]string, len(abis))
	for i, a := range abis {
		parts[i] = a.String()
	}
	return strings.Join(parts, ",")
}
