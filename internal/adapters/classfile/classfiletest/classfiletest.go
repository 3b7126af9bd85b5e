// Package classfiletest builds minimal class files for tests.
package classfiletest

import (
	"bytes"
	"encoding/binary"
	"strings"
)

// Class describes a class file to build. Names use the dotted form.
type Class struct {
	Name        string
	Super       string
	Interfaces  []string
	Major       uint16
	Access      uint16
	Annotations []string
	// References are emitted as class constants.
	References []string
	// Strings are emitted as string constants.
	Strings []string
}

type pool struct {
	buf   bytes.Buffer
	count uint16
	utf8  map[string]uint16
	class map[string]uint16
}

func (p *pool) addUtf8(s string) uint16 {
	if idx, ok := p.utf8[s]; ok {
		return idx
	}
	p.count++
	p.buf.WriteByte(1)
	_ = binary.Write(&p.buf, binary.BigEndian, uint16(len(s)))
	p.buf.WriteString(s)
	p.utf8[s] = p.count
	return p.count
}

func (p *pool) addClass(name string) uint16 {
	internal := strings.ReplaceAll(name, ".", "/")
	if idx, ok := p.class[internal]; ok {
		return idx
	}
	nameIdx := p.addUtf8(internal)
	p.count++
	p.buf.WriteByte(7)
	_ = binary.Write(&p.buf, binary.BigEndian, nameIdx)
	p.class[internal] = p.count
	return p.count
}

func (p *pool) addString(s string) {
	idx := p.addUtf8(s)
	p.count++
	p.buf.WriteByte(8)
	_ = binary.Write(&p.buf, binary.BigEndian, idx)
}

// Build encodes c. Major defaults to 52 (Java 8), Super to java.lang.Object
// and Access to public.
func Build(c Class) []byte {
	if c.Major == 0 {
		c.Major = 52
	}
	if c.Super == "" && c.Name != "java.lang.Object" {
		c.Super = "java.lang.Object"
	}
	if c.Access == 0 {
		c.Access = 0x0021
	}

	p := &pool{utf8: map[string]uint16{}, class: map[string]uint16{}}
	this := p.addClass(c.Name)
	var super uint16
	if c.Super != "" {
		super = p.addClass(c.Super)
	}
	ifaces := make([]uint16, 0, len(c.Interfaces))
	for _, i := range c.Interfaces {
		ifaces = append(ifaces, p.addClass(i))
	}
	for _, r := range c.References {
		p.addClass(r)
	}
	for _, s := range c.Strings {
		p.addString(s)
	}
	var attrName uint16
	annTypes := make([]uint16, 0, len(c.Annotations))
	if len(c.Annotations) > 0 {
		attrName = p.addUtf8("RuntimeVisibleAnnotations")
		for _, a := range c.Annotations {
			annTypes = append(annTypes, p.addUtf8("L"+strings.ReplaceAll(a, ".", "/")+";"))
		}
	}

	var out bytes.Buffer
	w := func(v any) { _ = binary.Write(&out, binary.BigEndian, v) }
	w(uint32(0xCAFEBABE))
	w(uint16(0))
	w(c.Major)
	w(p.count + 1)
	out.Write(p.buf.Bytes())
	w(c.Access)
	w(this)
	w(super)
	w(uint16(len(ifaces)))
	for _, i := range ifaces {
		w(i)
	}
	w(uint16(0)) // fields
	w(uint16(0)) // methods
	if len(annTypes) == 0 {
		w(uint16(0))
		return out.Bytes()
	}
	w(uint16(1))
	w(attrName)
	w(uint32(2 + 4*len(annTypes)))
	w(uint16(len(annTypes)))
	for _, t := range annTypes {
		w(t)
		w(uint16(0))
	}
	return out.Bytes()
}
