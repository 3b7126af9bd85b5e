package domain

import (
	"strconv"
	"strings"

	"go.trai.ch/zerr"
)

// JavaLevel is a Java language release number, e.g. 8 or 17.
type JavaLevel int

// Java levels accepted by the compile stage.
const (
	Java8  JavaLevel = 8
	Java11 JavaLevel = 11
	Java17 JavaLevel = 17
	Java21 JavaLevel = 21
)

var classMajors = map[JavaLevel]uint16{
	Java8:  52,
	Java11: 55,
	Java17: 61,
	Java21: 65,
}

// ParseJavaLevel accepts "8", "1.8", "17", "VERSION_17", "VERSION_1_8" and
// "JavaVersion.VERSION_17".
func ParseJavaLevel(s string) (JavaLevel, error) {
	v := strings.TrimSpace(s)
	v = strings.TrimPrefix(v, "JavaVersion.")
	v = strings.TrimPrefix(v, "VERSION_")
	v = strings.ReplaceAll(v, "_", ".")
	v = strings.TrimPrefix(v, "1.")
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, zerr.With(zerr.Wrap(ErrConfiguration, "invalid java level "+strconv.Quote(s)), "value", s)
	}
	level := JavaLevel(n)
	if _, ok := classMajors[level]; !ok {
		return 0, zerr.With(zerr.Wrap(ErrConfiguration, "unsupported java level "+strconv.Quote(s)), "value", s)
	}
	return level, nil
}

// ClassMajor returns the highest class file major version the level accepts.
func (l JavaLevel) ClassMajor() uint16 {
	return classMajors[l]
}

func (l JavaLevel) String() string {
	return strconv.Itoa(int(l))
}

// JavaLevelForMajor returns the Java release that introduced a class file major version.
func JavaLevelForMajor(major uint16) int {
	return int(major) - 44
}
