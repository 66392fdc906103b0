package model

// Tag names and attribute keys of the compilation log. These are a fixed
// contract with the JVM's LogCompilation writer.
const (
	TagTaskQueued    = "task_queued"
	TagNMethod       = "nmethod"
	TagTask          = "task"
	TagTaskDone      = "task_done"
	TagCodeCache     = "code_cache"
	TagCodeCacheFull = "code_cache_full"
	TagSweeper       = "sweeper"
	TagCommand       = "command"

	AttrMethod         = "method"
	AttrCompiler       = "compiler"
	AttrCompileKind    = "compile_kind"
	AttrCompileID      = "compile_id"
	AttrStamp          = "stamp"
	AttrStampCompleted = "stamp_completed"
	AttrNMSize         = "nmsize"
	AttrFreeCodeCache  = "free_code_cache"
	AttrBytes          = "bytes"
	AttrSize           = "size"
)

// Compiler identifiers carried by nmethod tags.
const (
	CompilerC1     = "C1"
	CompilerC2     = "C2"
	CompilerJ9     = "J9"
	CompileKindC2N = "c2n"
)
