package model

import "fmt"

// IndexState is the persisted row tracking one index's progress. The
// storage layer owns the row's lifetime; the owning engine is the only
// writer once the row has been loaded.
type IndexState struct {
	Name           string
	Kind           IndexKind
	ConfigHash     string
	Template       string
	TemplateValues map[string]string
	Level          int64
	Status         IndexStatus
}

// String renders the state for log lines, matching the teacher's
// key=value structured-logging idiom at the call site rather than here.
func (s *IndexState) String() string {
	return fmt.Sprintf("%s[%s] level=%d status=%s", s.Name, s.Kind, s.Level, s.Status)
}

// HeadRecord is the persisted per-datasource chain tip, used on startup
// to detect divergence between the last known tip and the datasource.
type HeadRecord struct {
	Name      string
	Level     int64
	Hash      string
	Timestamp int64
}

// BlockHeader is the minimal header shape the block cache stores and the
// datasource's get_block analog returns.
type BlockHeader struct {
	Level     int64
	Hash      string
	Timestamp int64
}
