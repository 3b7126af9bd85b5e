package shell

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveEnvironment(t *testing.T) {
	got := resolveEnvironment(
		[]string{"PATH=/usr/bin", "HOME=/home/dev", "broken"},
		map[string]string{"HOME": "/tmp/home", "APKFORGE_COMPILE_SDK": "34"},
	)
	assert.Equal(t, []string{"APKFORGE_COMPILE_SDK=34", "HOME=/tmp/home", "PATH=/usr/bin"}, got)
}

func TestLineWriter(t *testing.T) {
	var lines []string
	w := &lineWriter{emit: func(s string) { lines = append(lines, s) }}

	_, _ = w.Write([]byte("part1"))
	_, _ = w.Write([]byte("part2\nsecond\r\nthi"))
	_, _ = w.Write([]byte("rd"))
	w.Flush()

	assert.Equal(t, []string{"part1part2", "second", "third"}, lines)
}

func TestTailBuffer(t *testing.T) {
	tail := &tailBuffer{limit: 4}
	_, _ = tail.Write([]byte("abc"))
	_, _ = tail.Write([]byte("defg"))
	assert.Equal(t, "defg", tail.String())
}

func TestLookPath_NoPath(t *testing.T) {
	_, err := lookPath("javac", []string{"HOME=/"})
	assert.Error(t, err)
}
