package vision

// HandRaised reports whether either wrist is raised above its shoulder by
// more than threshold. Coordinates are normalized with y increasing
// downward, so a raised wrist has a strictly smaller y. Either arm alone
// triggers; the decision is per-frame with no temporal smoothing.
func HandRaised(lm Landmarks, threshold float64) bool {
	return lm.LeftWrist.Y < lm.LeftShoulder.Y-threshold ||
		lm.RightWrist.Y < lm.RightShoulder.Y-threshold
}
