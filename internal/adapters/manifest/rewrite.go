package manifest

import (
	"bytes"
	"encoding/xml"
	"errors"
	"io"

	"go.trai.ch/apkforge/internal/core/domain"
	"go.trai.ch/zerr"
)

// tagSpan is the byte range of a start tag in a document.
type tagSpan struct {
	start, end  int
	el          xml.StartElement
	selfClosing bool
	found       bool
}

type documentTags struct {
	manifest    tagSpan
	application tagSpan
	usesSDK     bool
}

// locateTags finds the root manifest tag and the tags directly below it
// without resolving namespaces, so the original prefixes can be written back.
func locateTags(doc []byte) (documentTags, error) {
	var tags documentTags
	dec := xml.NewDecoder(bytes.NewReader(doc))
	depth := 0
	for {
		offset := int(dec.InputOffset())
		tok, err := dec.RawToken()
		if errors.Is(err, io.EOF) {
			return tags, nil
		}
		if err != nil {
			return tags, zerr.Wrap(domain.ErrConfiguration, "manifest is not well-formed XML: "+err.Error())
		}

		switch t := tok.(type) {
		case xml.StartElement:
			end := int(dec.InputOffset())
			span := tagSpan{
				start:       offset,
				end:         end,
				el:          t.Copy(),
				selfClosing: bytes.HasSuffix(doc[offset:end], []byte("/>")),
				found:       true,
			}
			switch {
			case depth == 0 && t.Name.Local == "manifest":
				tags.manifest = span
			case depth == 1 && t.Name.Local == "application":
				tags.application = span
			case depth == 1 && t.Name.Local == "uses-sdk":
				tags.usesSDK = true
			}
			depth++
		case xml.EndElement:
			depth--
		}
	}
}

// applyIdentity sets the package and version attributes of the manifest
// element, adds uses-sdk when the manifest has none and marks the
// application debuggable for debuggable variants.
func applyIdentity(doc []byte, desc *domain.Descriptor, bt domain.BuildType) ([]byte, error) {
	tags, err := locateTags(doc)
	if err != nil {
		return nil, err
	}
	if !tags.manifest.found {
		return nil, zerr.Wrap(domain.ErrConfiguration, "manifest has no <manifest> root element")
	}

	m := tags.manifest
	attrs := setAttr(m.el.Attr, "xmlns", "android", domain.AndroidNamespace, false)
	attrs = setAttr(attrs, "", "package", desc.ApplicationID, true)
	attrs = setAttr(attrs, "android", "versionCode", itoa(desc.VersionCode), true)
	attrs = setAttr(attrs, "android", "versionName", desc.VersionName, true)

	var out bytes.Buffer
	out.Write(doc[:m.start])
	writeStartTag(&out, m.el.Name, attrs, false)
	if !tags.usesSDK {
		out.WriteString("\n    <uses-sdk android:minSdkVersion=\"" + itoa(desc.SDK.MinSDK) +
			"\" android:targetSdkVersion=\"" + itoa(desc.SDK.TargetSDK) + "\"/>")
	}
	if m.selfClosing {
		out.WriteString("\n</manifest>")
		out.Write(doc[m.end:])
		return out.Bytes(), nil
	}

	app := tags.application
	if !app.found || !bt.Debuggable || hasAttr(app.el.Attr, "android", "debuggable") {
		out.Write(doc[m.end:])
		return out.Bytes(), nil
	}

	out.Write(doc[m.end:app.start])
	writeStartTag(&out, app.el.Name, setAttr(app.el.Attr, "android", "debuggable", "true", false), app.selfClosing)
	out.Write(doc[app.end:])
	return out.Bytes(), nil
}

// setAttr returns attrs with prefix:local set to value. An existing
// attribute is only overwritten when override is set.
func setAttr(attrs []xml.Attr, prefix, local, value string, override bool) []xml.Attr {
	out := make([]xml.Attr, 0, len(attrs)+1)
	found := false
	for _, a := range attrs {
		if a.Name.Space == prefix && a.Name.Local == local {
			found = true
			if override {
				a.Value = value
			}
		}
		out = append(out, a)
	}
	if !found {
		out = append(out, xml.Attr{Name: xml.Name{Space: prefix, Local: local}, Value: value})
	}
	return out
}

func hasAttr(attrs []xml.Attr, prefix, local string) bool {
	for _, a := range attrs {
		if a.Name.Space == prefix && a.Name.Local == local {
			return true
		}
	}
	return false
}

func writeStartTag(buf *bytes.Buffer, name xml.Name, attrs []xml.Attr, selfClosing bool) {
	buf.WriteString("<" + qualifiedName(name))
	for _, a := range attrs {
		buf.WriteString(" " + qualifiedName(a.Name) + "=\"" + escapeAttr(a.Value) + "\"")
	}
	if selfClosing {
		buf.WriteString("/>")
		return
	}
	buf.WriteString(">")
}

func qualifiedName(n xml.Name) string {
	if n.Space == "" {
		return n.Local
	}
	return n.Space + ":" + n.Local
}
