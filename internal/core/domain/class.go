package domain

import "strings"

// ClassInfo is what the build needs to know about a compiled class.
// Class names use the dotted binary form, e.g. "com.example.Main$Inner".
type ClassInfo struct {
	Name       string
	Major      uint16
	Minor      uint16
	Access     uint16
	Super      string
	Interfaces []string
	// Annotations holds the class-level annotation types.
	Annotations []string
	// References holds every other class named in the constant pool,
	// sorted and deduplicated.
	References []string
	// Strings holds the string literals of the constant pool.
	Strings []string
}

// Class access flags.
const (
	AccessPublic     uint16 = 0x0001
	AccessFinal      uint16 = 0x0010
	AccessInterface  uint16 = 0x0200
	AccessAbstract   uint16 = 0x0400
	AccessAnnotation uint16 = 0x2000
	AccessEnum       uint16 = 0x4000
)

// IsInterface reports whether the class is an interface.
func (c *ClassInfo) IsInterface() bool {
	return c.Access&AccessInterface != 0
}

// IsEnum reports whether the class is an enum.
func (c *ClassInfo) IsEnum() bool {
	return c.Access&AccessEnum != 0
}

// ClassNameFromPath returns the class name of a ".class" path relative to a
// classes root, e.g. "com/example/Main.class" gives "com.example.Main".
func ClassNameFromPath(rel string) string {
	rel = strings.TrimSuffix(strings.ReplaceAll(rel, "\\", "/"), ".class")
	return strings.ReplaceAll(rel, "/", ".")
}

// ClassPath is the inverse of ClassNameFromPath.
func ClassPath(name string) string {
	return strings.ReplaceAll(name, ".", "/") + ".class"
}
