package shrinker

import (
	"regexp"
	"strings"
)

// namePattern is one entry of a comma separated class name list.
type namePattern struct {
	negate bool
	re     *regexp.Regexp
}

// nameList matches class names the way rule files do: "**" spans packages,
// "*" stays within one package segment, "?" matches one character, and the
// first matching entry decides, with "!" excluding.
type nameList []namePattern

func compileNameList(s string) nameList {
	var list nameList
	for part := range strings.SplitSeq(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		np := namePattern{}
		if strings.HasPrefix(part, "!") {
			np.negate = true
			part = part[1:]
		}
		if part == "*" {
			// A lone "*" names any class in any package.
			part = "**"
		}
		np.re = regexp.MustCompile("^" + wildcardToRegexp(part) + "$")
		list = append(list, np)
	}
	return list
}

func wildcardToRegexp(p string) string {
	var b strings.Builder
	for i := 0; i < len(p); i++ {
		switch c := p[i]; c {
		case '*':
			if i+1 < len(p) && p[i+1] == '*' {
				b.WriteString(".*")
				i++
				for i+1 < len(p) && p[i+1] == '*' {
					i++
				}
				continue
			}
			b.WriteString(`[^.]*`)
		case '?':
			b.WriteString(`[^.]`)
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	return b.String()
}

func (l nameList) match(name string) bool {
	for _, p := range l {
		if p.re.MatchString(name) {
			return !p.negate
		}
	}
	return false
}

// matchWildcard matches a resource name against a keep.xml pattern, where
// "*" spans any characters.
func matchWildcard(pattern, name string) bool {
	re := "^" + strings.ReplaceAll(regexp.QuoteMeta(pattern), `\*`, ".*") + "$"
	ok, err := regexp.MatchString(re, name)
	return err == nil && ok
}
