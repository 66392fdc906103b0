package model

import (
	"sort"
	"strings"
)

// ClassMetadata is the structural description of one class as read from
// its class file. Type names are canonical Java names (int, java.lang.String[]).
type ClassMetadata struct {
	Name         string
	SuperName    string
	Interfaces   []string
	MajorVersion uint16
	Methods      []MethodMetadata
}

// MethodMetadata describes one declared method or constructor.
type MethodMetadata struct {
	Name       string
	ParamTypes []string
	ReturnType string
}

// MetaClass is the modeled form of one class of the analyzed program.
type MetaClass struct {
	name         string
	packageName  string
	superName    string
	majorVersion uint16
	members      []*Member

	compiledMethodCount int
}

func (c *MetaClass) FullyQualifiedName() string { return c.name }
func (c *MetaClass) PackageName() string        { return c.packageName }
func (c *MetaClass) SuperName() string          { return c.superName }
func (c *MetaClass) MajorVersion() uint16       { return c.majorVersion }
func (c *MetaClass) Members() []*Member         { return c.members }

// CompiledMethodCount returns how many compilation events were attributed
// to members of this class.
func (c *MetaClass) CompiledMethodCount() int { return c.compiledMethodCount }

// IncCompiledMethodCount records one more compilation of a member.
func (c *MetaClass) IncCompiledMethodCount() { c.compiledMethodCount++ }

// FindMember returns the member matching name, parameter types and return
// type exactly, or nil.
func (c *MetaClass) FindMember(name string, paramTypes []string, returnType string) *Member {
	for _, m := range c.members {
		if m.name == name && m.returnType == returnType && equalTypes(m.paramTypes, paramTypes) {
			return m
		}
	}
	return nil
}

func equalTypes(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Member is the modeled form of one method or constructor. The engine
// attaches log tags to it as compilation progresses.
type Member struct {
	class      *MetaClass
	name       string
	paramTypes []string
	returnType string

	queued   *Tag
	nmethod  *Tag
	task     *Tag
	taskDone map[string]*Tag
}

func (m *Member) MetaClass() *MetaClass   { return m.class }
func (m *Member) Name() string            { return m.name }
func (m *Member) ParamTypes() []string    { return m.paramTypes }
func (m *Member) ReturnType() string      { return m.returnType }
func (m *Member) TagTaskQueued() *Tag     { return m.queued }
func (m *Member) TagNMethod() *Tag        { return m.nmethod }
func (m *Member) TagTask() *Tag           { return m.task }
func (m *Member) SetTagTaskQueued(t *Tag) { m.queued = t }
func (m *Member) SetTagNMethod(t *Tag)    { m.nmethod = t }
func (m *Member) SetTagTask(t *Tag)       { m.task = t }

// IsCompiled reports whether an nmethod tag has been attached.
func (m *Member) IsCompiled() bool { return m.nmethod != nil }

// SetTagTaskDone attaches the completion tag of compilation attempt compileID.
func (m *Member) SetTagTaskDone(compileID string, t *Tag) {
	if m.taskDone == nil {
		m.taskDone = make(map[string]*Tag)
	}
	m.taskDone[compileID] = t
}

// TagTaskDone returns the completion tag for compileID, or nil.
func (m *Member) TagTaskDone(compileID string) *Tag {
	return m.taskDone[compileID]
}

// CompileIDs returns the compile ids with an attached completion, sorted.
func (m *Member) CompileIDs() []string {
	ids := make([]string, 0, len(m.taskDone))
	for id := range m.taskDone {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Signature renders the member as pkg.Class.name(params)return.
func (m *Member) Signature() string {
	var b strings.Builder
	if m.class != nil {
		b.WriteString(m.class.name)
		b.WriteByte('.')
	}
	b.WriteString(m.name)
	b.WriteByte('(')
	b.WriteString(strings.Join(m.paramTypes, ","))
	b.WriteByte(')')
	b.WriteString(m.returnType)
	return b.String()
}

func (m *Member) String() string { return m.Signature() }
