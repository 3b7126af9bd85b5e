package shrinker

import (
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"go.trai.ch/apkforge/internal/core/domain"
	"go.trai.ch/apkforge/internal/core/ports"
	"go.trai.ch/zerr"
)

// platformPackages are provided by the device and never packaged.
var platformPackages = []string{"android.", "java.", "javax.", "dalvik.", "org.json.", "org.w3c.", "org.xml."}

// classSet is the staged program: every class by name, with its file.
type classSet struct {
	classes map[string]*domain.ClassInfo
	files   map[string]string
}

func loadClasses(dir string, parser ports.ClassParser) (*classSet, error) {
	set := &classSet{
		classes: make(map[string]*domain.ClassInfo),
		files:   make(map[string]string),
	}
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == dir {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".class") {
			return nil
		}
		data, err := os.ReadFile(path) //nolint:gosec // Walking the staged classes
		if err != nil {
			return err
		}
		info, err := parser.Parse(data)
		if err != nil {
			rel, _ := filepath.Rel(dir, path)
			return zerr.With(zerr.Wrap(domain.Classify(domain.ErrShrinking, err), "cannot read class "+rel), "path", rel)
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		set.classes[info.Name] = info
		set.files[info.Name] = filepath.ToSlash(rel)
		return nil
	})
	if err != nil {
		return nil, domain.Classify(domain.ErrShrinking, err)
	}
	return set, nil
}

// names returns all class names in order.
func (s *classSet) names() []string {
	names := make([]string, 0, len(s.classes))
	for name := range s.classes {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// ancestors returns the super classes and interfaces of c, following the
// hierarchy through every class present in the set.
func (s *classSet) ancestors(c *domain.ClassInfo) []string {
	var out []string
	seen := make(map[string]bool)
	queue := []*domain.ClassInfo{c}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		parents := append([]string{cur.Super}, cur.Interfaces...)
		for _, p := range parents {
			if p == "" || seen[p] {
				continue
			}
			seen[p] = true
			out = append(out, p)
			if next, ok := s.classes[p]; ok {
				queue = append(queue, next)
			}
		}
	}
	return out
}

// reachable returns the classes reachable from roots through super classes,
// interfaces, annotations and constant pool references.
func (s *classSet) reachable(roots []string) map[string]bool {
	kept := make(map[string]bool, len(roots))
	queue := make([]string, 0, len(roots))
	for _, r := range roots {
		if _, ok := s.classes[r]; ok && !kept[r] {
			kept[r] = true
			queue = append(queue, r)
		}
	}
	for len(queue) > 0 {
		c := s.classes[queue[0]]
		queue = queue[1:]

		edges := make([]string, 0, 1+len(c.Interfaces)+len(c.Annotations)+len(c.References))
		edges = append(edges, c.Super)
		edges = append(edges, c.Interfaces...)
		edges = append(edges, c.Annotations...)
		edges = append(edges, c.References...)
		for _, e := range edges {
			if _, ok := s.classes[e]; ok && !kept[e] {
				kept[e] = true
				queue = append(queue, e)
			}
		}
	}
	return kept
}

// roots returns the classes selected by root rules plus the manifest
// components, in order.
func (s *classSet) roots(rules []rule, components []string) []string {
	var roots []string
	for _, name := range s.names() {
		c := s.classes[name]
		ancestors := s.ancestors(c)
		for i := range rules {
			if rules[i].root() && rules[i].matches(c, ancestors) {
				roots = append(roots, name)
				break
			}
		}
	}
	return append(roots, components...)
}

func isPlatformClass(name string) bool {
	for _, p := range platformPackages {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}
