package eta

// DefaultSpeedKmh is the assumed average transfer speed including urban
// stretches.
const DefaultSpeedKmh = 40.0

// Minutes estimates drive time for distanceKm at speedKmh, truncated to
// whole minutes and never below floor.
func Minutes(distanceKm, speedKmh float64, floor int) int {
	if speedKmh <= 0 {
		speedKmh = DefaultSpeedKmh
	}
	m := int(distanceKm / speedKmh * 60)
	if m < floor {
		return floor
	}
	return m
}
