package model

import "github.com/tinytelemetry/jitlens/internal/timestamp"

// StampOf returns the stamp of a tag in milliseconds, reading stamp and
// falling back to stamp_completed.
func StampOf(attrs map[string]string) (int64, bool) {
	for _, key := range []string{AttrStamp, AttrStampCompleted} {
		v, ok := attrs[key]
		if !ok {
			continue
		}
		if ms, err := timestamp.ParseStamp(v); err == nil {
			return ms, true
		}
	}
	return 0, false
}
