// Package auxindex provides the shutdown-time auxiliary-index-flush
// hook named but not specified by the process lifecycle design (see
// original_source's index::flush_vector_index() call after the ingest
// worker drains). It is a no-op seam: implementing real vector search
// is out of scope, but the shutdown sequence still calls this so the
// lifecycle matches the documented drain-then-flush order exactly.
package auxindex

import "go.uber.org/zap"

// Flush is called once, after the ingest worker has fully drained, and
// before the process exits. It does nothing today; it exists so a
// future auxiliary index has a defined place to hook into shutdown.
func Flush(log *zap.SugaredLogger) error {
	log.Debugw("auxindex flush (no-op)", "component", "auxindex")
	return nil
}
