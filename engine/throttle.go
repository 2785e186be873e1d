package engine

// windowLog is a per-key sliding-window admission counter. Instants are
// opaque int64s, so the same implementation throttles the creation path on
// unix seconds and the assignment planner on tick counts.
//
// Each key holds an append-only log of admission instants, compacted on
// read to those still inside the window: instant t is live at now when
// now-t < window.
type windowLog struct {
	limit  int
	window int64
	logs   map[int64][]int64
}

func newWindowLog(limit int, window int64) *windowLog {
	return &windowLog{limit: limit, window: window, logs: make(map[int64][]int64)}
}

// compact drops expired instants for key and returns the live log.
func (w *windowLog) compact(key, now int64) []int64 {
	log := w.logs[key]
	i := 0
	for i < len(log) && now-log[i] >= w.window {
		i++
	}
	if i > 0 {
		log = append([]int64(nil), log[i:]...)
		if len(log) == 0 {
			delete(w.logs, key)
		} else {
			w.logs[key] = log
		}
	}
	return log
}

// Count returns the live admissions for key at now.
func (w *windowLog) Count(key, now int64) int {
	return len(w.compact(key, now))
}

// Allow reports whether one more admission for key fits the window.
func (w *windowLog) Allow(key, now int64) bool {
	return w.Count(key, now) < w.limit
}

// Record logs an admission. Callers record only after the admitted work
// commits, so a rolled-back tick leaves no trace here.
func (w *windowLog) Record(key, now int64) {
	w.logs[key] = append(w.logs[key], now)
}

// Reset clears every log.
func (w *windowLog) Reset() {
	w.logs = make(map[int64][]int64)
}
