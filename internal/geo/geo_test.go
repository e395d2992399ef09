package geo

import (
	"math"
	"testing"
)

func TestHaversineZero(t *testing.T) {
	d := Haversine(0, 0, 0, 0)
	if d != 0 {
		t.Fatalf("expected 0, got %f", d)
	}
}

func TestHaversineOneDegreeLatitude(t *testing.T) {
	d := Haversine(45, 9, 46, 9)
	if math.Abs(d-111195) > 50 {
		t.Fatalf("expected ~111.2km, got %f", d)
	}
}

func TestParsePoint(t *testing.T) {
	cases := []struct {
		in string
		ok bool
	}{
		{"45.4642,9.1900", true},
		{" 45.4642 , 9.19 ", true},
		{"MXP", false},
		{"Via Roma 1, Milano", false},
		{"95,10", false},
		{"", false},
	}
	for _, c := range cases {
		if _, ok := ParsePoint(c.in); ok != c.ok {
			t.Errorf("ParsePoint(%q) ok=%v want %v", c.in, ok, c.ok)
		}
	}
}

func TestRoadDistanceKm(t *testing.T) {
	from := Point{Lat: 45, Lng: 9}
	to := Point{Lat: 46, Lng: 9}
	// 111.195 km * 1.3 = 144.55 -> 144.6
	if got := RoadDistanceKm(from, to, 1.3); got != 144.6 {
		t.Fatalf("got %v", got)
	}
}
