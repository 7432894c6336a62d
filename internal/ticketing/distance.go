package ticketing

import "math"

const earthRadiusMeters = 6371000.0

// DistanceMeters is the rounded great-circle distance between two points, or
// nil when any coordinate is missing.
func DistanceMeters(lat1, lng1, lat2, lng2 *float64) *int {
	if lat1 == nil || lng1 == nil || lat2 == nil || lng2 == nil {
		return nil
	}
	phi1 := toRadians(*lat1)
	phi2 := toRadians(*lat2)
	dPhi := toRadians(*lat2 - *lat1)
	dLambda := toRadians(*lng2 - *lng1)

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	meters := int(math.Round(earthRadiusMeters * c))
	return &meters
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
