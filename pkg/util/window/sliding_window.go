package window

import "time"

/*
 * A SlidingWindow is made of Size cells, each covering CellInterval.
 * The time axis is cut into CellInterval long segments since the epoch and every
 * segment maps onto one cell. Cells are not rotated by a ticker: a cell is reset
 * lazily when a hit lands on it and its recorded start is older than one interval.
 */

type cell struct {
	start time.Time
	// metricName => count
	stats map[string]int64
}

func (c *cell) reset() {
	c.start = time.Time{}
	c.stats = map[string]int64{}
}

type SlidingWindow struct {
	size         int64
	cellInterval time.Duration
	cells        []*cell // invariant: len(cells) == size.
}

// New creates a window spanning span, cut into size cells.
// A non-positive size is treated as 1.
func New(span time.Duration, size int64) *SlidingWindow {
	if size <= 0 {
		size = 1
	}
	interval := span / time.Duration(size)
	if interval <= 0 {
		interval = time.Millisecond
	}

	cells := make([]*cell, size)
	for i := range cells {
		cells[i] = &cell{stats: map[string]int64{}}
	}

	return &SlidingWindow{
		size:         size,
		cellInterval: interval,
		cells:        cells,
	}
}

func (sw *SlidingWindow) Span() time.Duration {
	return sw.cellInterval * time.Duration(sw.size)
}

// Hit records one occurrence of every metric at now.
func (sw *SlidingWindow) Hit(now time.Time, metricNames ...string) {
	c := sw.getCell(now)
	if now.Sub(c.start) >= sw.cellInterval { // lazily check if cell expired
		c.start = sw.cellStart(now)
		c.stats = map[string]int64{}
	}
	for _, metric := range metricNames {
		c.stats[metric]++
	}
}

// Hits sums the requested metrics over the cells still inside the window.
func (sw *SlidingWindow) Hits(now time.Time, metricNames ...string) map[string]int64 {
	windowStart := now.Add(-sw.Span())
	stats := make(map[string]int64, len(metricNames))
	for _, c := range sw.cells {
		if c.start.IsZero() || !c.start.After(windowStart) { // lazily check if cell expired
			continue
		}
		for _, metricName := range metricNames {
			stats[metricName] += c.stats[metricName]
		}
	}
	return stats
}

func (sw *SlidingWindow) Count(now time.Time, metricName string) int64 {
	return sw.Hits(now, metricName)[metricName]
}

// ActualDuration is the time actually covered by the window at now, since now
// may fall in the middle of a cell.
func (sw *SlidingWindow) ActualDuration(now time.Time) time.Duration {
	return time.Duration(sw.size-1)*sw.cellInterval + sinceCellStart(now, sw.cellInterval)
}

// Reset drops every observation.
func (sw *SlidingWindow) Reset() {
	for _, c := range sw.cells {
		c.reset()
	}
}

func (sw *SlidingWindow) getCell(now time.Time) *cell {
	idx := now.UnixNano() / int64(sw.cellInterval) % sw.size
	return sw.cells[idx]
}

func (sw *SlidingWindow) cellStart(now time.Time) time.Time {
	return now.Add(-sinceCellStart(now, sw.cellInterval))
}

func sinceCellStart(now time.Time, interval time.Duration) time.Duration {
	return time.Duration(now.UnixNano() % int64(interval))
}
