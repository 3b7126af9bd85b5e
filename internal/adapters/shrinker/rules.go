package shrinker

import (
	"bufio"
	"bytes"
	"embed"
	"errors"
	iofs "io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"go.trai.ch/apkforge/internal/core/domain"
	"go.trai.ch/zerr"
)

//go:embed defaults/*.txt
var defaultRules embed.FS

// Keep directives.
const (
	directiveKeep                       = "keep"
	directiveKeepClassesWithMembers     = "keepclasseswithmembers"
	directiveKeepNames                  = "keepnames"
	directiveKeepClassMembers           = "keepclassmembers"
	directiveKeepClassMemberNames       = "keepclassmembernames"
	directiveKeepClassesWithMemberNames = "keepclasseswithmembernames"
)

var keepDirectives = []string{
	directiveKeep,
	directiveKeepClassesWithMembers,
	directiveKeepNames,
	directiveKeepClassMembers,
	directiveKeepClassMemberNames,
	directiveKeepClassesWithMemberNames,
}

var classKinds = []string{"class", "interface", "enum", "@interface"}

// rule is a parsed keep rule.
type rule struct {
	directive      string
	allowShrinking bool
	annotation     nameList
	access         []string
	kind           string
	names          nameList
	extends        nameList
	file           string
	line           int
}

// root reports whether classes matched by the rule survive shrinking.
func (r *rule) root() bool {
	if r.allowShrinking {
		return false
	}
	return r.directive == directiveKeep || r.directive == directiveKeepClassesWithMembers
}

// matches reports whether c is selected by the rule. ancestors lists the
// known super classes and interfaces of c.
func (r *rule) matches(c *domain.ClassInfo, ancestors []string) bool {
	if !r.names.match(c.Name) {
		return false
	}
	switch r.kind {
	case "interface":
		if !c.IsInterface() {
			return false
		}
	case "enum":
		if !c.IsEnum() {
			return false
		}
	case "@interface":
		if c.Access&domain.AccessAnnotation == 0 {
			return false
		}
	}
	for _, a := range r.access {
		negate := strings.HasPrefix(a, "!")
		if hasAccess(c, strings.TrimPrefix(a, "!")) == negate {
			return false
		}
	}
	if r.annotation != nil && !slices.ContainsFunc(c.Annotations, r.annotation.match) {
		return false
	}
	if r.extends != nil && !slices.ContainsFunc(ancestors, r.extends.match) {
		return false
	}
	return true
}

func hasAccess(c *domain.ClassInfo, modifier string) bool {
	switch modifier {
	case "public":
		return c.Access&domain.AccessPublic != 0
	case "final":
		return c.Access&domain.AccessFinal != 0
	case "abstract":
		return c.Access&domain.AccessAbstract != 0
	default:
		return false
	}
}

// ruleParser reads rule files, following -include.
type ruleParser struct {
	root  string
	seen  map[string]bool
	rules []rule
}

func newRuleParser(root string) *ruleParser {
	return &ruleParser{root: root, seen: make(map[string]bool)}
}

// addFile parses a root-relative rule file or a built-in rule name.
func (p *ruleParser) addFile(name string) error {
	if name == domain.DefaultRules || name == domain.DefaultRulesOptimize {
		return p.addBuiltin(name)
	}
	abs := name
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(p.root, name)
	}
	if p.seen[abs] {
		return nil
	}
	p.seen[abs] = true
	content, err := os.ReadFile(abs) //nolint:gosec // Rule files are named by the descriptor
	if err != nil {
		return zerr.With(zerr.Wrap(domain.ErrShrinking, "cannot read rule file "+name), "file", name)
	}
	return p.parse(name, content, func(include string) error {
		if filepath.IsAbs(include) {
			return p.addFile(include)
		}
		return p.addFile(filepath.Join(filepath.Dir(abs), include))
	})
}

func (p *ruleParser) addBuiltin(name string) error {
	key := "builtin:" + name
	if p.seen[key] {
		return nil
	}
	p.seen[key] = true
	content, err := defaultRules.ReadFile(path.Join("defaults", name))
	if err != nil {
		return zerr.With(zerr.Wrap(domain.ErrShrinking, "unknown built-in rule file "+name), "file", name)
	}
	return p.parse(name, content, p.addBuiltin)
}

// addContent parses rules that do not come from a file on disk, such as
// consumer rules of a library.
func (p *ruleParser) addContent(name string, content []byte) error {
	return p.parse(name, content, func(include string) error {
		return p.ruleError(name, 0, "-include is not supported in library rules: "+include)
	})
}

func (p *ruleParser) ruleError(file string, line int, msg string) error {
	prefix := file
	if line > 0 {
		prefix += ":" + strconv.Itoa(line)
	}
	return zerr.With(zerr.With(
		zerr.Wrap(domain.ErrShrinking, prefix+": "+msg),
		"file", file),
		"line", line,
	)
}

func (p *ruleParser) parse(file string, content []byte, include func(string) error) error {
	scanner := bufio.NewScanner(bytes.NewReader(content))
	lineNo := 0
	inBlock := 0
	continuation := false
	// a keep directive whose member block may open on a following line
	awaitingBlock := false
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if idx := strings.IndexByte(line, '#'); idx >= 0 {
			line = line[:idx]
		}
		line = strings.TrimSpace(line)

		if inBlock > 0 {
			if strings.Contains(line, "}") {
				inBlock = 0
			}
			continue
		}
		if line == "" {
			continue
		}
		if continuation {
			continuation = strings.HasSuffix(line, ",")
			continue
		}
		if awaitingBlock && strings.HasPrefix(line, "{") {
			awaitingBlock = false
			if !strings.Contains(line, "}") {
				inBlock = lineNo
			}
			continue
		}
		awaitingBlock = false
		if !strings.HasPrefix(line, "-") {
			return p.ruleError(file, lineNo, "expected a rule starting with '-', got "+strconv.Quote(line))
		}

		header, block, hasBlock := strings.Cut(line, "{")
		if hasBlock && !strings.Contains(block, "}") {
			inBlock = lineNo
		}

		fields := strings.Fields(header)
		directive, modifiers, _ := strings.Cut(strings.TrimPrefix(fields[0], "-"), ",")
		args := fields[1:]

		switch {
		case directive == "include":
			if len(args) != 1 {
				return p.ruleError(file, lineNo, "-include takes exactly one file")
			}
			if err := include(args[0]); err != nil {
				return err
			}
		case slices.Contains(keepDirectives, directive):
			r, msg := parseKeep(directive, modifiers, args)
			if msg != "" {
				return p.ruleError(file, lineNo, msg)
			}
			r.file, r.line = file, lineNo
			p.rules = append(p.rules, r)
			awaitingBlock = !hasBlock
		default:
			continuation = strings.HasSuffix(header, ",")
		}
	}
	if inBlock > 0 {
		return p.ruleError(file, inBlock, "member block is not closed")
	}
	if err := scanner.Err(); err != nil {
		return zerr.With(zerr.Wrap(domain.ErrShrinking, "failed to read rule file "+file), "file", file)
	}
	return nil
}

// parseKeep parses the class specification of a keep directive. It returns
// a message describing the problem for malformed input.
func parseKeep(directive, modifiers string, args []string) (rule, string) {
	r := rule{directive: directive}
	for m := range strings.SplitSeq(modifiers, ",") {
		if strings.TrimSpace(m) == "allowshrinking" {
			r.allowShrinking = true
		}
	}

	i := 0
	if i < len(args) && strings.HasPrefix(args[i], "@") && args[i] != "@interface" {
		r.annotation = compileNameList(strings.TrimPrefix(args[i], "@"))
		i++
	}
	for i < len(args) && !slices.Contains(classKinds, strings.TrimPrefix(args[i], "!")) {
		switch strings.TrimPrefix(args[i], "!") {
		case "public", "final", "abstract":
			r.access = append(r.access, args[i])
		default:
			return r, "unexpected " + strconv.Quote(args[i]) + " in -" + directive + ", expected class, interface or enum"
		}
		i++
	}
	if i >= len(args) {
		return r, "-" + directive + " needs a class specification"
	}
	r.kind = strings.TrimPrefix(args[i], "!")
	i++

	if i >= len(args) {
		return r, "-" + directive + " " + r.kind + " needs a name pattern"
	}
	names := args[i]
	i++
	// Name lists may contain spaces after commas.
	for i < len(args) && strings.HasSuffix(names, ",") {
		names += args[i]
		i++
	}
	r.names = compileNameList(names)
	if len(r.names) == 0 {
		return r, "-" + directive + " has an empty name pattern"
	}

	if i < len(args) {
		if args[i] != "extends" && args[i] != "implements" {
			return r, "unexpected " + strconv.Quote(args[i]) + " after class name pattern"
		}
		i++
		if i < len(args) && strings.HasPrefix(args[i], "@") {
			i++
		}
		if i >= len(args) {
			return r, "missing class name after " + args[i-1]
		}
		r.extends = compileNameList(args[i])
		i++
	}
	if i < len(args) {
		return r, "unexpected " + strconv.Quote(args[i]) + " at end of rule"
	}
	return r, ""
}

// consumerRules returns the library rule files staged by the merge stage.
func consumerRules(inputDir string) (map[string][]byte, []string, error) {
	dir := filepath.Join(inputDir, domain.StagedRulesDir)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, iofs.ErrNotExist) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, zerr.With(zerr.Wrap(domain.ErrShrinking, "failed to list library rules"), "path", dir)
	}
	files := make(map[string][]byte, len(entries))
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		content, err := os.ReadFile(filepath.Join(dir, e.Name())) //nolint:gosec // Staged by the merge stage
		if err != nil {
			return nil, nil, zerr.With(zerr.Wrap(domain.ErrShrinking, "failed to read library rules"), "path", e.Name())
		}
		files[e.Name()] = content
		names = append(names, e.Name())
	}
	slices.Sort(names)
	return files, names, nil
}
