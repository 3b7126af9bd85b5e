// Package manifest renders the application manifest of a variant and
// extracts what the shrink stage needs from it.
package manifest

import (
	"bytes"
	"encoding/xml"
	"errors"
	"io"
	iofs "io/fs"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"text/template"

	"go.trai.ch/apkforge/internal/core/domain"
	"go.trai.ch/apkforge/internal/core/ports"
	"go.trai.ch/zerr"
)

var (
	placeholderPattern = regexp.MustCompile(`\$\{([A-Za-z0-9_.]+)\}`)
	resourceRefPattern = regexp.MustCompile(`^@\+?([a-z]+)/([A-Za-z0-9_.]+)$`)
)

var defaultManifest = template.Must(template.New("AndroidManifest.xml").Parse(
	`<?xml version="1.0" encoding="utf-8"?>
<manifest xmlns:android="http://schemas.android.com/apk/res/android">
    <application android:label="{{.Label}}"{{if .Debuggable}} android:debuggable="true"{{end}}/>
</manifest>
`))

var _ ports.ManifestProcessor = (*Processor)(nil)

// Processor implements ports.ManifestProcessor.
type Processor struct {
	logger ports.Logger
}

// NewProcessor creates a new manifest processor.
func NewProcessor(logger ports.Logger) *Processor {
	return &Processor{logger: logger}
}

// Render reads the manifest source of desc, or a generated default when the
// project has none, substitutes placeholders and applies the identity
// attributes of the descriptor to the manifest element.
func (p *Processor) Render(desc *domain.Descriptor, bt domain.BuildType) ([]byte, error) {
	path := filepath.Join(desc.Root, desc.Sources.Manifest)
	src, err := os.ReadFile(path) //nolint:gosec // Path comes from the descriptor
	switch {
	case errors.Is(err, iofs.ErrNotExist):
		p.logger.Info("no manifest at " + desc.Sources.Manifest + ", using a generated one")
		src, err = renderDefault(desc, bt)
		if err != nil {
			return nil, err
		}
	case err != nil:
		return nil, zerr.With(zerr.Wrap(err, "failed to read manifest"), "file", path)
	}

	out, err := substitute(src, desc.Placeholders())
	if err != nil {
		return nil, zerr.With(err, "file", path)
	}
	if err := checkWellFormed(out); err != nil {
		return nil, zerr.With(err, "file", path)
	}

	out, err = applyIdentity(out, desc, bt)
	if err != nil {
		return nil, zerr.With(err, "file", path)
	}
	return out, nil
}

func renderDefault(desc *domain.Descriptor, bt domain.BuildType) ([]byte, error) {
	var buf bytes.Buffer
	err := defaultManifest.Execute(&buf, struct {
		Label      string
		Debuggable bool
	}{Label: escapeAttr(desc.Name), Debuggable: bt.Debuggable})
	if err != nil {
		return nil, zerr.Wrap(err, "failed to render default manifest")
	}
	return buf.Bytes(), nil
}

// substitute replaces every ${name} with its value. An unknown placeholder
// is a configuration error naming the line it occurs on.
func substitute(src []byte, values map[string]string) ([]byte, error) {
	var failure error
	out := placeholderPattern.ReplaceAllFunc(src, func(match []byte) []byte {
		name := string(placeholderPattern.FindSubmatch(match)[1])
		if v, ok := values[name]; ok {
			return []byte(escapeAttr(v))
		}
		if failure == nil {
			idx := bytes.Index(src, match)
			failure = zerr.With(zerr.With(
				zerr.Wrap(domain.ErrConfiguration, "manifest placeholder ${"+name+"} has no value"),
				"placeholder", name),
				"line", bytes.Count(src[:idx], []byte("\n"))+1,
			)
		}
		return match
	})
	if failure != nil {
		return nil, zerr.With(failure, "option", "defaultConfig.manifestPlaceholders")
	}
	return out, nil
}

func checkWellFormed(doc []byte) error {
	dec := xml.NewDecoder(bytes.NewReader(doc))
	for {
		_, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			var syntax *xml.SyntaxError
			if errors.As(err, &syntax) {
				return zerr.With(
					zerr.Wrap(domain.ErrConfiguration, "manifest is not well-formed XML: "+syntax.Msg),
					"line", syntax.Line,
				)
			}
			return zerr.Wrap(domain.ErrConfiguration, "manifest is not well-formed XML: "+err.Error())
		}
	}
}

// Inspect extracts declared components and resource references.
func (p *Processor) Inspect(content []byte, namespace string) (*domain.ManifestInfo, error) {
	dec := xml.NewDecoder(bytes.NewReader(content))

	info := &domain.ManifestInfo{}
	var names []string
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, zerr.Wrap(domain.ErrConfiguration, "manifest is not well-formed XML: "+err.Error())
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		for _, attr := range start.Attr {
			if m := resourceRefPattern.FindStringSubmatch(attr.Value); m != nil {
				info.ResourceRefs = append(info.ResourceRefs, m[1]+"/"+m[2])
			}
		}

		switch start.Name.Local {
		case "manifest":
			if pkg := attrValue(start, "", "package"); pkg != "" {
				info.Package = pkg
			}
		case "application", "activity", "service", "receiver", "provider":
			if name := attrValue(start, domain.AndroidNamespace, "name"); name != "" {
				names = append(names, name)
			}
		case "activity-alias":
			if target := attrValue(start, domain.AndroidNamespace, "targetActivity"); target != "" {
				names = append(names, target)
			}
		}
	}

	base := namespace
	if base == "" {
		base = info.Package
	}
	for _, name := range names {
		info.Components = append(info.Components, qualify(base, name))
	}
	info.Components = sortedUnique(info.Components)
	info.ResourceRefs = sortedUnique(info.ResourceRefs)
	return info, nil
}

// qualify resolves a component name against the package: ".Main" and
// "Main" both become "<pkg>.Main".
func qualify(pkg, name string) string {
	switch {
	case strings.HasPrefix(name, "."):
		return pkg + name
	case !strings.Contains(name, "."):
		return pkg + "." + name
	default:
		return name
	}
}

func attrValue(el xml.StartElement, space, local string) string {
	for _, a := range el.Attr {
		if a.Name.Space == space && a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}

func sortedUnique(in []string) []string {
	slices.Sort(in)
	return slices.Compact(in)
}

func escapeAttr(s string) string {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(s))
	return buf.String()
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
