package plist

import "fmt"

// path is an immutable, cons-list-style diagnostic trail threaded through
// every recursive encode/decode frame, rendered into strings like
// /plist[0.0]/dict[Name]/array[3] when an error is reported. It exists
// solely for diagnostics: nothing in the codec branches on it.
type path struct {
	parent *path
	elem   string
}

// rootPath starts a new trail at the document root, tagging it with the
// dialect and format version (e.g. "plist[0.0]" for binary v00,
// "plist[1.5]" for binary v15).
func rootPath(tag string) *path {
	return &path{elem: "plist[" + tag + "]"}
}

// child extends the trail with a dictionary key.
func (p *path) child(kind, key string) *path {
	return &path{parent: p, elem: fmt.Sprintf("%s[%s]", kind, key)}
}

// index extends the trail with an array/set position.
func (p *path) index(kind string, i int) *path {
	return &path{parent: p, elem: fmt.Sprintf("%s[%d]", kind, i)}
}

// String renders the full trail root-to-leaf, e.g. "/plist[0.0]/dict[Name]/array[3]".
func (p *path) String() string {
	if p == nil {
		return ""
	}
	var segs []string
	for n := p; n != nil; n = n.parent {
		segs = append([]string{n.elem}, segs...)
	}
	s := ""
	for _, seg := range segs {
		s += "/" + seg
	}
	return s
}
