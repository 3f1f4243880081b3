package risk

// rollingWindow keeps the timestamps of approved orders inside a sliding window.
type rollingWindow struct {
	stamps []int64
}

func (w *rollingWindow) prune(now int64, width int64) {
	cut := 0
	for cut < len(w.stamps) && now-w.stamps[cut] >= width {
		cut++
	}
	if cut > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[cut:]...)
	}
}

func (w *rollingWindow) add(ts int64) {
	w.stamps = append(w.stamps, ts)
}

func (w *rollingWindow) count() int {
	return len(w.stamps)
}
