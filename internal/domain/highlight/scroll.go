package highlight

// Viewport is the visible window over the transcript, in content coordinates.
type Viewport struct {
	ScrollTop float64
	Height    float64
}

// Rect is the vertical extent of a unit in content coordinates.
type Rect struct {
	Top    float64
	Height float64
}

// ScrollTarget decides whether the view should follow the active unit. It
// scrolls only once the unit's centre passes into the lower half of the
// viewport, or after the unit has left the viewport above it, and then centres
// the unit vertically.
func ScrollTarget(v Viewport, r Rect) (float64, bool) {
	if v.Height <= 0 {
		return v.ScrollTop, false
	}
	centre := r.Top + r.Height/2
	above := r.Top+r.Height < v.ScrollTop
	lowerHalf := centre > v.ScrollTop+v.Height/2
	if !above && !lowerHalf {
		return v.ScrollTop, false
	}
	target := centre - v.Height/2
	if target < 0 {
		target = 0
	}
	return target, target != v.ScrollTop
}
