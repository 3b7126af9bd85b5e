package shrinker

import (
	"bytes"
	"encoding/xml"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"go.trai.ch/apkforge/internal/core/domain"
	"go.trai.ch/zerr"
)

const toolsNamespace = "http://schemas.android.com/tools"

// keepFile is the resource that lists resources to keep or discard.
const keepFile = "raw/keep.xml"

var xmlResourceRef = regexp.MustCompile(`@\+?([a-z]+)/([A-Za-z0-9_.]+)`)

// resourceSet indexes the staged resource files by "type/name".
type resourceSet struct {
	dir   string
	files map[string][]string
}

func loadResources(dir string) (*resourceSet, error) {
	set := &resourceSet{dir: dir, files: make(map[string][]string)}
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
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
		rel = filepath.ToSlash(rel)
		if rel == keepFile {
			return nil
		}
		key := resourceKey(rel)
		set.files[key] = append(set.files[key], rel)
		return nil
	})
	if err != nil {
		return nil, zerr.With(zerr.Wrap(domain.Classify(domain.ErrShrinking, err), "failed to list resources"), "path", dir)
	}
	return set, nil
}

// resourceKey turns "drawable-hdpi/launch_background.9.png" into
// "drawable/launch_background". Files under values directories share the
// key "values/".
func resourceKey(rel string) string {
	dir, file, _ := strings.Cut(rel, "/")
	typ, _, _ := strings.Cut(dir, "-")
	if typ == "values" {
		return "values/"
	}
	name, _, _ := strings.Cut(file, ".")
	return typ + "/" + name
}

// keepRules holds the tools:keep and tools:discard patterns of keep.xml.
type keepRules struct {
	keep    []string
	discard []string
}

func readKeepRules(dir string) (keepRules, error) {
	var rules keepRules
	path := filepath.Join(dir, filepath.FromSlash(keepFile))
	data, err := os.ReadFile(path) //nolint:gosec // Staged by the merge stage
	if errors.Is(err, fs.ErrNotExist) {
		return rules, nil
	}
	if err != nil {
		return rules, zerr.With(zerr.Wrap(domain.ErrShrinking, "failed to read keep.xml"), "path", path)
	}

	dec := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return rules, nil
		}
		if err != nil {
			return rules, zerr.With(zerr.Wrap(domain.ErrShrinking, "res/"+keepFile+" is not well-formed XML"), "path", path)
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		for _, a := range start.Attr {
			if a.Name.Space != toolsNamespace {
				continue
			}
			switch a.Name.Local {
			case "keep":
				rules.keep = append(rules.keep, splitRefs(a.Value)...)
			case "discard":
				rules.discard = append(rules.discard, splitRefs(a.Value)...)
			}
		}
	}
}

// splitRefs turns "@layout/a*,@drawable/b" into "layout/a*", "drawable/b".
func splitRefs(s string) []string {
	var out []string
	for part := range strings.SplitSeq(s, ",") {
		part = strings.TrimPrefix(strings.TrimSpace(part), "@")
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func matchesAny(patterns []string, key string) bool {
	return slices.ContainsFunc(patterns, func(p string) bool { return matchWildcard(p, key) })
}

// reachable returns the resource keys to keep. Roots are the values
// resources, manifest references, keep.xml entries and resource names
// occurring as string constants of kept classes. Kept XML files add their
// own references.
func (s *resourceSet) reachable(manifestRefs, classStrings []string, rules keepRules) (map[string]bool, error) {
	kept := make(map[string]bool)
	var queue []string
	add := func(key string) {
		if _, ok := s.files[key]; !ok || kept[key] || matchesAny(rules.discard, key) {
			return
		}
		kept[key] = true
		queue = append(queue, key)
	}

	add("values/")
	for _, ref := range manifestRefs {
		add(ref)
	}
	names := make(map[string]bool, len(classStrings))
	for _, str := range classStrings {
		names[str] = true
	}
	for _, key := range s.keys() {
		_, name, _ := strings.Cut(key, "/")
		if names[name] || matchesAny(rules.keep, key) {
			add(key)
		}
	}

	for len(queue) > 0 {
		key := queue[0]
		queue = queue[1:]
		for _, rel := range s.files[key] {
			if !strings.HasSuffix(rel, ".xml") {
				continue
			}
			data, err := os.ReadFile(filepath.Join(s.dir, filepath.FromSlash(rel))) //nolint:gosec // Staged resource
			if err != nil {
				return nil, zerr.With(zerr.Wrap(domain.ErrShrinking, "failed to read resource"), "path", rel)
			}
			for _, m := range xmlResourceRef.FindAllSubmatch(data, -1) {
				add(string(m[1]) + "/" + string(m[2]))
			}
		}
	}
	return kept, nil
}

func (s *resourceSet) keys() []string {
	keys := make([]string, 0, len(s.files))
	for k := range s.files {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
