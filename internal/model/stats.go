package model

import "strconv"

// Stats aggregates compiled-method statistics across a run.
type Stats struct {
	CountC1  int
	CountC2  int
	CountC2N int
	CountJ9  int

	TotalBytecodeSize int64
	MaxBytecodeSize   int64
	MaxBytecodeMember *Member

	TotalNativeSize int64
	MaxNativeSize   int64
	MaxNativeMember *Member

	TotalCompileTime int64
	MaxCompileTime   int64
	MaxCompileMember *Member
}

// CompiledCount returns the number of compilations across all backends.
func (s Stats) CompiledCount() int {
	return s.CountC1 + s.CountC2 + s.CountC2N + s.CountJ9
}

// Update folds one compiled record for m into the statistics. attrs are the
// nmethod attributes after the completed-stamp rename.
func (s *Stats) Update(m *Member, kind EventType, attrs map[string]string) {
	switch kind {
	case EventCompiledC1:
		s.CountC1++
	case EventCompiledC2:
		s.CountC2++
	case EventCompiledC2N:
		s.CountC2N++
	case EventCompiledJ9:
		s.CountJ9++
	}

	if n, ok := parseSize(attrs[AttrBytes]); ok {
		s.TotalBytecodeSize += n
		if n > s.MaxBytecodeSize {
			s.MaxBytecodeSize = n
			s.MaxBytecodeMember = m
		}
	}

	if n, ok := parseSize(attrs[AttrSize]); ok {
		s.TotalNativeSize += n
		if n > s.MaxNativeSize {
			s.MaxNativeSize = n
			s.MaxNativeMember = m
		}
	}

	if m == nil || m.queued == nil {
		return
	}
	queuedStamp, ok := StampOf(m.queued.attrs)
	if !ok {
		return
	}
	completed, ok := StampOf(attrs)
	if !ok || completed < queuedStamp {
		return
	}
	elapsed := completed - queuedStamp
	s.TotalCompileTime += elapsed
	if elapsed > s.MaxCompileTime {
		s.MaxCompileTime = elapsed
		s.MaxCompileMember = m
	}
}

func parseSize(v string) (int64, bool) {
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
