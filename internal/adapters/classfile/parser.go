// Package classfile decodes the parts of JVM class files the build inspects:
// version, hierarchy, annotations and constant pool references.
package classfile

import (
	"encoding/binary"
	"regexp"
	"slices"
	"strings"

	"go.trai.ch/apkforge/internal/core/domain"
	"go.trai.ch/apkforge/internal/core/ports"
	"go.trai.ch/zerr"
)

const magic = 0xCAFEBABE

// Constant pool tags.
const (
	tagUtf8               = 1
	tagInteger            = 3
	tagFloat              = 4
	tagLong               = 5
	tagDouble             = 6
	tagClass              = 7
	tagString             = 8
	tagFieldref           = 9
	tagMethodref          = 10
	tagInterfaceMethodref = 11
	tagNameAndType        = 12
	tagMethodHandle       = 15
	tagMethodType         = 16
	tagDynamic            = 17
	tagInvokeDynamic      = 18
	tagModule             = 19
	tagPackage            = 20
)

var descriptorClassPattern = regexp.MustCompile(`L([A-Za-z0-9_$/]+);`)

// ErrMalformed is returned for input that is not a valid class file.
var ErrMalformed = zerr.New("malformed class file")

var _ ports.ClassParser = (*Parser)(nil)

// Parser implements ports.ClassParser.
type Parser struct{}

// NewParser creates a new class file parser.
func NewParser() *Parser {
	return &Parser{}
}

type constant struct {
	tag   byte
	index uint16 // Class and String: Utf8 index
	utf8  string
}

// Parse decodes data.
func (p *Parser) Parse(data []byte) (*domain.ClassInfo, error) {
	r := &reader{buf: data}
	if r.u4() != magic {
		return nil, malformed(r, "bad magic number")
	}
	info := &domain.ClassInfo{}
	info.Minor = r.u2()
	info.Major = r.u2()

	pool, err := readPool(r)
	if err != nil {
		return nil, err
	}
	className := func(idx uint16) (string, error) {
		if idx == 0 {
			return "", nil
		}
		if int(idx) >= len(pool) || pool[idx].tag != tagClass {
			return "", malformed(r, "constant pool index is not a class")
		}
		return internalToBinary(pool[pool[idx].index].utf8), nil
	}

	info.Access = r.u2()
	if info.Name, err = className(r.u2()); err != nil {
		return nil, err
	}
	if info.Name == "" {
		return nil, malformed(r, "class has no name")
	}
	if info.Super, err = className(r.u2()); err != nil {
		return nil, err
	}
	for range r.u2() {
		iface, err := className(r.u2())
		if err != nil {
			return nil, err
		}
		info.Interfaces = append(info.Interfaces, iface)
	}

	// Fields and methods share their layout.
	for range 2 {
		for range r.u2() {
			r.skip(6)
			skipAttributes(r)
		}
	}

	for range r.u2() {
		name := r.u2()
		length := int(r.u4())
		body := r.bytes(length)
		if int(name) >= len(pool) {
			return nil, malformed(r, "attribute name out of range")
		}
		switch pool[name].utf8 {
		case "RuntimeVisibleAnnotations", "RuntimeInvisibleAnnotations":
			types, err := readAnnotations(body, pool)
			if err != nil {
				return nil, err
			}
			info.Annotations = append(info.Annotations, types...)
		}
	}
	if r.err {
		return nil, malformed(r, "unexpected end of data")
	}

	collectReferences(info, pool)
	return info, nil
}

func readPool(r *reader) ([]constant, error) {
	count := int(r.u2())
	pool := make([]constant, count)
	for i := 1; i < count; i++ {
		c := constant{tag: r.u1()}
		switch c.tag {
		case tagUtf8:
			c.utf8 = string(r.bytes(int(r.u2())))
		case tagClass, tagString, tagMethodType, tagModule, tagPackage:
			c.index = r.u2()
		case tagInteger, tagFloat, tagFieldref, tagMethodref, tagInterfaceMethodref,
			tagNameAndType, tagDynamic, tagInvokeDynamic:
			r.skip(4)
		case tagLong, tagDouble:
			r.skip(8)
			pool[i] = c
			i++
			continue
		case tagMethodHandle:
			r.skip(3)
		default:
			return nil, malformed(r, "unknown constant pool tag")
		}
		if r.err {
			return nil, malformed(r, "truncated constant pool")
		}
		pool[i] = c
	}
	for _, c := range pool {
		if (c.tag == tagClass || c.tag == tagString) && (int(c.index) >= count || pool[c.index].tag != tagUtf8) {
			return nil, malformed(r, "constant pool reference is not a string")
		}
	}
	return pool, nil
}

func skipAttributes(r *reader) {
	for range r.u2() {
		r.skip(2)
		r.skip(int(r.u4()))
	}
}

func readAnnotations(body []byte, pool []constant) ([]string, error) {
	r := &reader{buf: body}
	var types []string
	for range r.u2() {
		idx := r.u2()
		if int(idx) >= len(pool) || pool[idx].tag != tagUtf8 {
			return nil, malformed(r, "annotation type is not a string")
		}
		if m := descriptorClassPattern.FindStringSubmatch(pool[idx].utf8); m != nil {
			types = append(types, internalToBinary(m[1]))
		}
		for range r.u2() {
			r.skip(2)
			skipElementValue(r)
		}
	}
	if r.err {
		return nil, malformed(r, "truncated annotation")
	}
	return types, nil
}

func skipElementValue(r *reader) {
	switch r.u1() {
	case 'e':
		r.skip(4)
	case '@':
		r.skip(2)
		for range r.u2() {
			r.skip(2)
			skipElementValue(r)
		}
	case '[':
		for range r.u2() {
			skipElementValue(r)
		}
	default:
		r.skip(2)
	}
}

// collectReferences gathers class names from class constants and from
// type descriptors, and string literals.
func collectReferences(info *domain.ClassInfo, pool []constant) {
	var refs []string
	for _, c := range pool {
		switch c.tag {
		case tagClass:
			name := pool[c.index].utf8
			if strings.HasPrefix(name, "[") {
				for _, m := range descriptorClassPattern.FindAllStringSubmatch(name, -1) {
					refs = append(refs, internalToBinary(m[1]))
				}
				continue
			}
			refs = append(refs, internalToBinary(name))
		case tagUtf8:
			if strings.ContainsAny(c.utf8, "(;") {
				for _, m := range descriptorClassPattern.FindAllStringSubmatch(c.utf8, -1) {
					refs = append(refs, internalToBinary(m[1]))
				}
			}
		case tagString:
			info.Strings = append(info.Strings, pool[c.index].utf8)
		}
	}
	slices.Sort(refs)
	refs = slices.Compact(refs)
	info.References = slices.DeleteFunc(refs, func(s string) bool { return s == info.Name })
}

func internalToBinary(name string) string {
	return strings.ReplaceAll(name, "/", ".")
}

func malformed(r *reader, msg string) error {
	return zerr.With(zerr.Wrap(ErrMalformed, msg), "offset", r.pos)
}

// reader is a big-endian cursor that records reads past the end instead of
// failing each call.
type reader struct {
	buf []byte
	pos int
	err bool
}

func (r *reader) take(n int) []byte {
	if n < 0 || r.pos+n > len(r.buf) {
		r.err = true
		r.pos = len(r.buf)
		return nil
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b
}

func (r *reader) u1() byte {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) u2() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (r *reader) u4() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (r *reader) bytes(n int) []byte {
	return r.take(n)
}

func (r *reader) skip(n int) {
	r.take(n)
}
