package model

import (
	"sort"
	"strings"
)

// Tag is one node of the compilation log tree: a named element with
// attributes and ordered children. The parent pointer is non-owning and nil
// for roots.
//
// Attributes are held in a live map so the correlation engine can rewrite
// individual entries before the tag is attached to a member.
type Tag struct {
	name     string
	attrs    map[string]string
	children []*Tag
	parent   *Tag
	line     int
}

// NewTag creates a tag and, when parent is non-nil, appends it to the
// parent's children.
func NewTag(name string, attrs map[string]string, parent *Tag) *Tag {
	if attrs == nil {
		attrs = map[string]string{}
	}
	t := &Tag{
		name:   name,
		attrs:  attrs,
		parent: parent,
	}
	if parent != nil {
		parent.children = append(parent.children, t)
	}
	return t
}

func (t *Tag) Name() string { return t.name }

// Attributes returns the live attribute map.
func (t *Tag) Attributes() map[string]string { return t.attrs }

// Attribute returns a single attribute value.
func (t *Tag) Attribute(key string) (string, bool) {
	v, ok := t.attrs[key]
	return v, ok
}

func (t *Tag) Children() []*Tag { return t.children }

func (t *Tag) Parent() *Tag { return t.parent }

// Line is the 1-based source line of the opening element, 0 when unknown.
func (t *Tag) Line() int { return t.line }

func (t *Tag) SetLine(line int) { t.line = line }

// IsTask reports whether t is a compilation task tag.
func (t *Tag) IsTask() bool { return t != nil && t.name == TagTask }

// FirstNamedChild returns the first direct child called name, or nil.
func (t *Tag) FirstNamedChild(name string) *Tag {
	for _, c := range t.children {
		if c.name == name {
			return c
		}
	}
	return nil
}

// RenameAttribute moves the value stored under from to to. It is a no-op
// when from is absent.
func (t *Tag) RenameAttribute(from, to string) {
	v, ok := t.attrs[from]
	if !ok {
		return
	}
	delete(t.attrs, from)
	t.attrs[to] = v
}

// String renders the tag header with attributes in key order.
func (t *Tag) String() string {
	var b strings.Builder
	b.WriteByte('<')
	b.WriteString(t.name)

	keys := make([]string, 0, len(t.attrs))
	for k := range t.attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteByte(' ')
		b.WriteString(k)
		b.WriteString("='")
		b.WriteString(t.attrs[k])
		b.WriteByte('\'')
	}
	if len(t.children) == 0 {
		b.WriteString("/>")
	} else {
		b.WriteByte('>')
	}
	return b.String()
}
