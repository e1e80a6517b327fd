// SPDX-License-Identifier: MIT

package kbuildmodel

import "strings"

// Key is a Kbuild key: either a compilation-unit path ("kernel/kcmp.o") or
// a directory path ending in "/" ("kernel/"). The trailing slash is
// semantically significant per spec.md §3 and must never be dropped or
// added by any transform.
type Key string

// IsDir reports whether k names a subdirectory-inclusion condition rather
// than an object-inclusion condition.
func (k Key) IsDir() bool {
	return strings.HasSuffix(string(k), "/")
}

// AncestorChain splits a CU's key into its ancestor directory keys, in
// root-to-leaf order: "d1/", "d1/d2/", ..., "d1/.../dn/". It never includes
// the CU's own key. Per spec.md §3, this chain is always linear.
func (k Key) AncestorChain() []Key {
	parts := strings.Split(strings.TrimSuffix(string(k), "/"), "/")
	if k.IsDir() {
		// The CU's own key was a directory; still exclude it from its own
		// ancestor chain by dropping the last path segment.
		if len(parts) > 0 {
			parts = parts[:len(parts)-1]
		}
	} else if len(parts) > 0 {
		parts = parts[:len(parts)-1]
	}

	chain := make([]Key, 0, len(parts))
	var prefix strings.Builder
	for _, p := range parts {
		prefix.WriteString(p)
		prefix.WriteString("/")
		chain = append(chain, Key(prefix.String()))
	}
	return chain
}

// CU is a compilation-unit path, always normalized to end in ".o".
type CU string

// Normalize forces p's extension to ".o", reporting whether the path was
// changed so callers can log a warning (spec.md §4.2 step 1).
func Normalize(p string) (cu CU, changed bool) {
	if strings.HasSuffix(p, ".o") {
		return CU(p), false
	}
	trimmed := p
	if idx := strings.LastIndex(p, "."); idx >= 0 && !strings.Contains(p[idx:], "/") {
		trimmed = p[:idx]
	}
	return CU(trimmed + ".o"), true
}

// String implements fmt.Stringer so CU values print as plain paths.
func (c CU) String() string { return string(c) }
