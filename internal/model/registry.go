package model

import "strings"

// Registry holds the modeled classes of one run, keyed by fully qualified
// name. Classes are only created through MaterializeClass.
type Registry struct {
	classes map[string]*MetaClass
	order   []*MetaClass
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{classes: make(map[string]*MetaClass)}
}

// LookupClass returns the modeled class for name, if present.
func (r *Registry) LookupClass(name string) (*MetaClass, bool) {
	c, ok := r.classes[name]
	return c, ok
}

// MaterializeClass builds a MetaClass and its member set from metadata and
// registers it. Materializing an already-known name returns the existing
// class unchanged.
func (r *Registry) MaterializeClass(meta *ClassMetadata) *MetaClass {
	if existing, ok := r.classes[meta.Name]; ok {
		return existing
	}

	c := &MetaClass{
		name:         meta.Name,
		packageName:  packageOf(meta.Name),
		superName:    meta.SuperName,
		majorVersion: meta.MajorVersion,
	}
	c.members = make([]*Member, 0, len(meta.Methods))
	for _, mm := range meta.Methods {
		c.members = append(c.members, &Member{
			class:      c,
			name:       mm.Name,
			paramTypes: append([]string(nil), mm.ParamTypes...),
			returnType: mm.ReturnType,
		})
	}

	r.classes[c.name] = c
	r.order = append(r.order, c)
	return c
}

// Classes returns every modeled class in materialization order.
func (r *Registry) Classes() []*MetaClass {
	out := make([]*MetaClass, len(r.order))
	copy(out, r.order)
	return out
}

// Len returns the number of modeled classes.
func (r *Registry) Len() int { return len(r.order) }

func packageOf(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[:i]
	}
	return ""
}
