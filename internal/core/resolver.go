package core

import "strings"

// ResolveClass finds the class a record should be assigned to.
//
// A class is a candidate when its name contains className (case-insensitive)
// and its section equals section (case-insensitive). An exact name match is
// preferred over a substring match; otherwise the first candidate in list
// order wins. Blank className or section never match.
func ResolveClass(classes []ClassRef, className, section string) (ClassRef, bool) {
	name := strings.ToLower(strings.TrimSpace(className))
	sec := strings.TrimSpace(section)
	if name == "" || sec == "" {
		return ClassRef{}, false
	}

	var (
		first ClassRef
		found bool
	)
	for _, c := range classes {
		if !strings.EqualFold(strings.TrimSpace(c.Section), sec) {
			continue
		}
		cn := strings.ToLower(strings.TrimSpace(c.Name))
		if cn == name {
			return c, true
		}
		if !found && strings.Contains(cn, name) {
			first, found = c, true
		}
	}
	return first, found
}
