// Package shrinker removes classes and resources that nothing reachable
// from the keep rules and the manifest uses.
package shrinker

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"go.trai.ch/apkforge/internal/core/domain"
	"go.trai.ch/apkforge/internal/core/ports"
	"go.trai.ch/zerr"
)

var _ ports.Shrinker = (*Shrinker)(nil)

// Shrinker implements ports.Shrinker.
type Shrinker struct {
	parser ports.ClassParser
	logger ports.Logger
}

// New creates a new Shrinker.
func New(parser ports.ClassParser, logger ports.Logger) *Shrinker {
	return &Shrinker{parser: parser, logger: logger}
}

// Shrink implements ports.Shrinker.
func (s *Shrinker) Shrink(ctx context.Context, req domain.ShrinkRequest) (*domain.ShrinkResult, error) {
	rules, err := s.loadRules(req)
	if err != nil {
		return nil, err
	}

	classes, err := loadClasses(filepath.Join(req.InputDir, domain.StagedClassesDir), s.parser)
	if err != nil {
		return nil, err
	}
	keptClasses := classes.reachable(classes.roots(rules, req.Manifest.Components))

	for _, component := range req.Manifest.Components {
		if !keptClasses[component] && !isPlatformClass(component) {
			return nil, zerr.With(
				zerr.Wrap(domain.ErrShrinking, "class "+component+" declared in the manifest is missing after shrinking"),
				"class", component,
			)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := &domain.ShrinkResult{KeptClasses: len(keptClasses)}
	for _, name := range classes.names() {
		if !keptClasses[name] {
			result.RemovedClasses = append(result.RemovedClasses, name)
		}
	}

	resDir := filepath.Join(req.InputDir, domain.StagedResourcesDir)
	resources, err := loadResources(resDir)
	if err != nil {
		return nil, err
	}
	keptResources := make(map[string]bool)
	for _, key := range resources.keys() {
		keptResources[key] = true
	}
	if req.ShrinkResources {
		keptResources, err = s.shrinkResources(resources, resDir, classes, keptClasses, req.Manifest)
		if err != nil {
			return nil, err
		}
	}
	for _, key := range resources.keys() {
		if !keptResources[key] {
			for _, rel := range resources.files[key] {
				result.RemovedResources = append(result.RemovedResources, "res/"+rel)
			}
		}
	}
	slices.Sort(result.RemovedResources)

	if err := s.write(req, classes, keptClasses, resources, keptResources); err != nil {
		return nil, err
	}
	if err := writeUsage(req.UsageFile, result); err != nil {
		return nil, err
	}
	s.logger.Info(fmt.Sprintf("kept %d classes, removed %d classes and %d resources",
		result.KeptClasses, len(result.RemovedClasses), len(result.RemovedResources)))
	return result, nil
}

func (s *Shrinker) loadRules(req domain.ShrinkRequest) ([]rule, error) {
	parser := newRuleParser(req.Root)
	for _, f := range req.RuleFiles {
		if err := parser.addFile(f); err != nil {
			return nil, err
		}
	}
	files, names, err := consumerRules(req.InputDir)
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		if err := parser.addContent(name, files[name]); err != nil {
			return nil, err
		}
	}
	return parser.rules, nil
}

func (s *Shrinker) shrinkResources(
	resources *resourceSet,
	resDir string,
	classes *classSet,
	keptClasses map[string]bool,
	manifest domain.ManifestInfo,
) (map[string]bool, error) {
	keep, err := readKeepRules(resDir)
	if err != nil {
		return nil, err
	}
	var strs []string
	for name := range keptClasses {
		strs = append(strs, classes.classes[name].Strings...)
	}
	return resources.reachable(manifest.ResourceRefs, strs, keep)
}

func (s *Shrinker) write(
	req domain.ShrinkRequest,
	classes *classSet,
	keptClasses map[string]bool,
	resources *resourceSet,
	keptResources map[string]bool,
) error {
	if err := os.RemoveAll(req.OutputDir); err != nil {
		return zerr.With(zerr.Wrap(domain.ErrShrinking, "failed to clean shrink output"), "path", req.OutputDir)
	}

	var copies []string
	for _, name := range classes.names() {
		if keptClasses[name] {
			rel := filepath.Join(domain.StagedClassesDir, filepath.FromSlash(classes.files[name]))
			copies = append(copies, rel)
		}
	}
	for _, key := range resources.keys() {
		if keptResources[key] {
			for _, file := range resources.files[key] {
				rel := filepath.Join(domain.StagedResourcesDir, filepath.FromSlash(file))
				copies = append(copies, rel)
			}
		}
	}
	native, err := listFiles(filepath.Join(req.InputDir, domain.StagedNativeDir))
	if err != nil {
		return zerr.With(zerr.Wrap(domain.ErrShrinking, "failed to list native libraries"), "path", req.InputDir)
	}
	for _, rel := range native {
		rel = filepath.Join(domain.StagedNativeDir, rel)
		copies = append(copies, rel)
	}

	for _, rel := range copies {
		if err := copyFile(filepath.Join(req.InputDir, rel), filepath.Join(req.OutputDir, rel)); err != nil {
			return zerr.With(zerr.Wrap(domain.ErrShrinking, "failed to write shrunk content"), "path", rel)
		}
	}
	return nil
}

func writeUsage(path string, result *domain.ShrinkResult) error {
	var b strings.Builder
	for _, c := range result.RemovedClasses {
		b.WriteString(c + "\n")
	}
	for _, r := range result.RemovedResources {
		b.WriteString(r + "\n")
	}
	if err := os.MkdirAll(filepath.Dir(path), domain.DirPerm); err != nil {
		return zerr.With(zerr.Wrap(domain.ErrShrinking, "failed to create mapping directory"), "path", path)
	}
	if err := os.WriteFile(path, []byte(b.String()), domain.FilePerm); err != nil {
		return zerr.With(zerr.Wrap(domain.ErrShrinking, "failed to write usage listing"), "path", path)
	}
	return nil
}

// listFiles returns the files below dir relative to it; a missing dir has none.
func listFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == dir {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		files = append(files, rel)
		return nil
	})
	return files, err
}

func copyFile(src, dst string) error {
	in, err := os.Open(src) //nolint:gosec // Staged content
	if err != nil {
		return err
	}
	defer in.Close() //nolint:errcheck // Read only

	if err := os.MkdirAll(filepath.Dir(dst), domain.DirPerm); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, domain.FilePerm) //nolint:gosec // Stage output
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
