// Package timewindow holds interval arithmetic on wall-clock ranges.
//
// Windows are half-open, [Start, End). Two overlap predicates are provided:
// Overlaps is the usual strict test, OverlapsInclusive also treats windows
// that only touch at an endpoint as overlapping.
package timewindow

// Window is a half-open wall-clock range [Start, End).
type Window struct {
	Start Clock
	End   Clock
}

func New(start, end Clock) Window {
	return Window{Start: start, End: end}
}

// Valid reports whether the window is non-empty and within a single day.
func (w Window) Valid() bool {
	return w.Start.Valid() && w.End.Valid() && w.Start < w.End
}

func (w Window) Minutes() int {
	return int(w.End - w.Start)
}

// Contains reports whether inner lies entirely within w.
func (w Window) Contains(inner Window) bool {
	return inner.Start >= w.Start && inner.End <= w.End
}

// Overlaps reports whether the two half-open windows share at least one minute.
func (w Window) Overlaps(other Window) bool {
	return w.Start < other.End && other.Start < w.End
}

// OverlapsInclusive reports s1 <= e2 && s2 <= e1, so touching windows overlap.
func (w Window) OverlapsInclusive(other Window) bool {
	return w.Start <= other.End && other.Start <= w.End
}

func (w Window) String() string {
	return w.Start.String() + "-" + w.End.String()
}

// Split walks a cursor from w.Start, emitting windows of slotMinutes and
// advancing by slotMinutes+breakMinutes, until the next window would end
// after w.End. A trailing partial window is never emitted.
func Split(w Window, slotMinutes, breakMinutes int) []Window {
	if slotMinutes <= 0 || breakMinutes < 0 || !w.Valid() {
		return nil
	}

	var out []Window
	for cursor := w.Start; cursor.Add(slotMinutes) <= w.End; cursor = cursor.Add(slotMinutes + breakMinutes) {
		out = append(out, Window{Start: cursor, End: cursor.Add(slotMinutes)})
	}
	return out
}
