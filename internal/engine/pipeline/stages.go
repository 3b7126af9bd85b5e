package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.trai.ch/apkforge/internal/core/domain"
	"go.trai.ch/apkforge/internal/core/ports"
	"go.trai.ch/zerr"
)

func (r *Runner) resolve(ctx context.Context, vertex ports.Vertex) error {
	artifacts, err := r.p.resolver.Resolve(ctx, r.desc, ports.ResolveOptions{Offline: r.opts.Offline})
	if err != nil {
		return err
	}
	for _, a := range artifacts {
		vertex.Log(domain.LogLevelInfo, fmt.Sprintf("%s %s -> %s", a.Configuration, a.Name(), a.Path))
	}
	if artifacts == nil {
		artifacts = []domain.ResolvedArtifact{}
	}

	data, err := json.MarshalIndent(artifacts, "", "  ")
	if err != nil {
		return zerr.Wrap(err, "failed to encode resolved dependencies")
	}
	return writeFile(r.path(r.layout.ResolvedFile()), append(data, '\n'))
}

// resolved reads the artifacts recorded by the resolve stage.
func (r *Runner) resolved() ([]domain.ResolvedArtifact, error) {
	path := r.path(r.layout.ResolvedFile())
	data, err := os.ReadFile(path) //nolint:gosec // path is below the project root
	if err != nil {
		return nil, zerr.With(zerr.Wrap(err, "failed to read resolved dependencies"), "file", path)
	}
	var artifacts []domain.ResolvedArtifact
	if err := json.Unmarshal(data, &artifacts); err != nil {
		return nil, zerr.With(zerr.Wrap(err, "failed to decode resolved dependencies"), "file", path)
	}
	return artifacts, nil
}

func (r *Runner) renderManifest(vertex ports.Vertex) error {
	content, err := r.p.manifests.Render(r.desc, r.bt)
	if err != nil {
		return err
	}
	vertex.Log(domain.LogLevelInfo, "rendered manifest for "+r.desc.ApplicationID)
	return writeFile(r.path(r.layout.ManifestFile()), content)
}

func (r *Runner) compile(ctx context.Context, vertex ports.Vertex) error {
	classesDir := r.path(r.layout.ClassesDir())
	if err := os.MkdirAll(classesDir, domain.DirPerm); err != nil {
		return zerr.With(zerr.Wrap(err, "failed to create classes directory"), "dir", classesDir)
	}

	// Precompiled classes are checked where they live so failures name the source file.
	checked := r.path(r.desc.Sources.Classes)
	if len(r.desc.CompileOptions.Command) > 0 {
		if err := r.runCompiler(ctx, classesDir, vertex); err != nil {
			return err
		}
		checked = classesDir
	}

	count, err := r.verifyClasses(checked)
	if err != nil {
		return err
	}
	if checked != classesDir {
		isClass := func(rel string) bool { return strings.HasSuffix(rel, ".class") }
		if err := copyTree(checked, classesDir, isClass, true); err != nil {
			return err
		}
	}
	vertex.Log(domain.LogLevelInfo, fmt.Sprintf("%d classes compatible with Java %s", count,
		r.desc.CompileOptions.TargetCompatibility))
	return nil
}

func (r *Runner) runCompiler(ctx context.Context, classesDir string, vertex ports.Vertex) error {
	artifacts, err := r.resolved()
	if err != nil {
		return err
	}
	classpath, err := r.compileClasspath(artifacts)
	if err != nil {
		return err
	}

	opts := r.desc.CompileOptions
	cmd := &domain.Command{
		Args: opts.Command,
		Dir:  r.desc.Root,
		Env: map[string]string{
			"APKFORGE_SOURCES":              r.path(r.desc.Sources.Java),
			"APKFORGE_CLASSPATH":            strings.Join(classpath, string(os.PathListSeparator)),
			"APKFORGE_CLASSES_DIR":          classesDir,
			"APKFORGE_SOURCE_COMPATIBILITY": opts.SourceCompatibility.String(),
			"APKFORGE_TARGET_COMPATIBILITY": opts.TargetCompatibility.String(),
			"APKFORGE_COMPILE_SDK":          fmt.Sprint(r.desc.SDK.CompileSDK),
		},
	}
	if err := r.p.executor.Execute(ctx, cmd, vertex.Stdout(), vertex.Stderr()); err != nil {
		return zerr.With(zerr.Wrap(domain.Classify(domain.ErrCompilation, err), "compiler command failed"),
			"command", strings.Join(opts.Command, " "))
	}
	return nil
}

// verifyClasses checks every class file against the target language level
// and returns the number of classes.
func (r *Runner) verifyClasses(dir string) (int, error) {
	target := r.desc.CompileOptions.TargetCompatibility
	count := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == dir {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".class") {
			return nil
		}
		rel, _ := filepath.Rel(r.desc.Root, path)

		data, err := os.ReadFile(path) //nolint:gosec // path comes from walking the classes directory
		if err != nil {
			return zerr.With(zerr.Wrap(err, "failed to read class file"), "file", rel)
		}
		info, err := r.p.classes.Parse(data)
		if err != nil {
			return zerr.With(zerr.Wrap(domain.Classify(domain.ErrCompilation, err), rel+" is not a valid class file"),
				"file", rel)
		}
		if info.Major > target.ClassMajor() {
			return zerr.With(zerr.With(zerr.Wrap(domain.ErrCompilation, fmt.Sprintf(
				"%s was compiled for Java %d, newer than targetCompatibility %s",
				rel, domain.JavaLevelForMajor(info.Major), target)),
				"file", rel),
				"class_version", info.Major,
			)
		}
		count++
		return nil
	})
	return count, err
}

func (r *Runner) shrink(ctx context.Context, vertex ports.Vertex) error {
	merged := r.path(r.layout.MergedDir())
	shrunk := r.path(r.layout.ShrunkDir())

	if !r.bt.Minify {
		vertex.Log(domain.LogLevelInfo, "minification disabled, keeping all classes and resources")
		return copyTree(merged, shrunk, nil, true)
	}

	manifestFile := r.path(r.layout.ManifestFile())
	content, err := os.ReadFile(manifestFile) //nolint:gosec // path is below the project root
	if err != nil {
		return zerr.With(zerr.Wrap(err, "failed to read rendered manifest"), "file", manifestFile)
	}
	info, err := r.p.manifests.Inspect(content, r.desc.Namespace)
	if err != nil {
		return err
	}

	res, err := r.p.shrinker.Shrink(ctx, domain.ShrinkRequest{
		Root:            r.desc.Root,
		InputDir:        merged,
		OutputDir:       shrunk,
		UsageFile:       r.path(r.layout.UsageFile()),
		RuleFiles:       r.bt.ProguardFiles,
		Manifest:        *info,
		ShrinkResources: r.bt.ShrinkResources,
	})
	if err != nil {
		return err
	}
	vertex.Log(domain.LogLevelInfo, fmt.Sprintf("kept %d classes, removed %d classes and %d resources",
		res.KeptClasses, len(res.RemovedClasses), len(res.RemovedResources)))
	return nil
}

func (r *Runner) pack(ctx context.Context, scopeName string, vertex ports.Vertex) error {
	scope, err := r.scope(scopeName)
	if err != nil {
		return err
	}
	out := r.packagePath(scope)
	if err := os.MkdirAll(filepath.Dir(out), domain.DirPerm); err != nil {
		return zerr.With(zerr.Wrap(err, "failed to create output directory"), "dir", filepath.Dir(out))
	}

	res, err := r.p.packager.Package(ctx, domain.PackageRequest{
		ContentDir:   r.path(r.layout.ShrunkDir()),
		ManifestFile: r.path(r.layout.ManifestFile()),
		Scope:        scope,
		Output:       out,
	})
	if err != nil {
		return err
	}
	vertex.Log(domain.LogLevelInfo, fmt.Sprintf("wrote %s with %d entries", filepath.Base(res.Path), len(res.Entries)))
	return nil
}

func (r *Runner) sign(ctx context.Context, scopeName string, vertex ports.Vertex) error {
	cfg, ok := r.desc.SigningConfigFor(r.bt)
	if !ok {
		return zerr.With(zerr.Wrap(domain.ErrPackaging, "variant has no signing config"), "variant", r.variant)
	}
	scope, err := r.scope(scopeName)
	if err != nil {
		return err
	}

	sig, err := r.p.signer.Sign(ctx, cfg, r.desc.Root, r.packagePath(scope))
	if err != nil {
		return err
	}
	vertex.Log(domain.LogLevelInfo, "signed with "+cfg.Name+": "+filepath.Base(sig))
	return nil
}

func (r *Runner) writeMetadata(vertex ports.Vertex) error {
	scopes, err := r.desc.Scopes()
	if err != nil {
		return err
	}
	_, signed := r.desc.SigningConfigFor(r.bt)

	meta := domain.NewOutputMetadata(r.desc, r.variant)
	for _, scope := range scopes {
		path := r.packagePath(scope)
		sum, err := fileSHA256(path)
		if err != nil {
			return err
		}
		el := domain.NewOutputElement(r.desc, scope, filepath.Base(path), sum)
		if signed {
			el.Signature = filepath.Base(path) + domain.SignatureSuffix
		}
		meta.Elements = append(meta.Elements, el)
	}

	if err := r.p.packager.WriteMetadata(r.path(r.layout.OutputMetadataFile()), meta); err != nil {
		return err
	}
	vertex.Log(domain.LogLevelInfo, fmt.Sprintf("listed %d packages", len(meta.Elements)))
	return nil
}
