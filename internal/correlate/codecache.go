package correlate

import (
	"strconv"

	"github.com/tinytelemetry/jitlens/internal/model"
)

// recordCompilationCodeCache appends a Compilation entry when the task
// carries a code_cache child. Used bytes come from the task_done nmsize.
func (e *Engine) recordCompilationCodeCache(task, done *model.Tag) {
	cc := task.FirstNamedChild(model.TagCodeCache)
	if cc == nil {
		return
	}
	stamp, _ := model.StampOf(done.Attributes())
	e.addCodeCacheEvent(model.CodeCacheEvent{
		Type:           model.CodeCacheCompilation,
		Stamp:          stamp,
		NativeCodeSize: intAttr(done, model.AttrNMSize),
		FreeCodeCache:  intAttr(cc, model.AttrFreeCodeCache),
	})
}

// recordCacheStatus appends a status marker with zeroed size fields.
func (e *Engine) recordCacheStatus(kind model.CodeCacheEventType, tag *model.Tag) {
	stamp, _ := model.StampOf(tag.Attributes())
	e.addCodeCacheEvent(model.CodeCacheEvent{Type: kind, Stamp: stamp})
}

func (e *Engine) addCodeCacheEvent(ev model.CodeCacheEvent) {
	e.model.AddCodeCacheEvent(ev)
	e.listener.HandleCodeCacheEvent(ev)
}

func intAttr(tag *model.Tag, key string) int64 {
	v, ok := tag.Attribute(key)
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
