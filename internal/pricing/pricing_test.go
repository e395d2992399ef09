package pricing

import (
	"reflect"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/example/ride-dispatch/internal/config"
	"github.com/example/ride-dispatch/internal/models"
)

func TestPriceStandardFiftyKm(t *testing.T) {
	tbl := Default()
	if got := tbl.MinimumFare(Standard); !got.Equal(decimal.RequireFromString("19.5")) {
		t.Fatalf("minimum fare = %s", got)
	}
	if got := tbl.Price(Standard, 50, 0); got.StringFixed(2) != "65.00" {
		t.Fatalf("price = %s", got)
	}
	// 12 km is 15.60, under the 19.50 minimum.
	if got := tbl.Price(Standard, 12, 0); got.StringFixed(2) != "19.50" {
		t.Fatalf("short standard price = %s", got)
	}
}

func TestPriceMinimumFareAndChildSeats(t *testing.T) {
	tbl := Default()
	// 5 km of economy is 5.00, below the 15.00 floor.
	if got := tbl.Price(Economy, 5, 0); got.StringFixed(2) != "15.00" {
		t.Fatalf("price = %s", got)
	}
	// luxury minimum is 52.50, plus two child seats.
	if got := tbl.Price(Luxury, 3, 2); got.StringFixed(2) != "62.50" {
		t.Fatalf("price = %s", got)
	}
	if got := tbl.Price(Business, 33.3, 0); got.StringFixed(2) != "59.94" {
		t.Fatalf("price = %s", got)
	}
}

func TestEstimateDistanceKm(t *testing.T) {
	tbl := Default()
	if got := tbl.EstimateDistanceKm("45,9", "46,9"); got != 144.6 {
		t.Fatalf("coordinates: got %v", got)
	}
	if got := tbl.EstimateDistanceKm("MXP", "45.46,9.19"); got != 30 {
		t.Fatalf("fallback: got %v", got)
	}
	if got := tbl.EstimateDurationMin(50); got != 75 {
		t.Fatalf("duration: got %v", got)
	}
}

func TestBookingComEstimate(t *testing.T) {
	tbl := Default()
	if got := tbl.BookingComEstimate(10); got.StringFixed(2) != "25.00" {
		t.Fatalf("short ride: %s", got)
	}
	if got := tbl.BookingComEstimate(42.5); got.StringFixed(2) != "76.50" {
		t.Fatalf("long ride: %s", got)
	}
}

func TestFromConfigOverrides(t *testing.T) {
	tbl, err := FromConfig(config.Pricing{Rates: map[string]float64{"standard": 2}, RoadFactor: 1.5})
	if err != nil {
		t.Fatal(err)
	}
	if r, _ := tbl.Rate(Standard); !r.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("rate = %s", r)
	}
	if tbl.RoadFactor != 1.5 || tbl.FallbackDistanceKm != 30 {
		t.Fatalf("unexpected table: %+v", tbl)
	}
	if _, err := FromConfig(config.Pricing{Rates: map[string]float64{"hovercraft": 9}}); err == nil {
		t.Fatal("expected unknown category error")
	}
}

func TestCategoriesSortedByRate(t *testing.T) {
	cs := Default().Categories()
	if len(cs) != 26 {
		t.Fatalf("expected 26 categories, got %d", len(cs))
	}
	if cs[0] != Micro || cs[len(cs)-1] != LuxuryVan {
		t.Fatalf("unexpected order: first=%s last=%s", cs[0], cs[len(cs)-1])
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name   string
		driver models.Driver
		want   []Category
	}{
		{
			name:   "compact petrol",
			driver: models.Driver{VehicleMake: "Fiat", VehicleModel: "Panda", VehicleSeats: 3, FuelType: "petrol"},
			want:   []Category{Standard, Economy, Micro},
		},
		{
			name:   "luxury sedan",
			driver: models.Driver{VehicleMake: "Mercedes-Benz", VehicleModel: "E 220", VehicleSeats: 4},
			want:   []Category{Luxury, First, Business, Standard, Economy},
		},
		{
			name:   "premium electric sedan",
			driver: models.Driver{VehicleMake: "Volvo", VehicleModel: "EX30", VehicleSeats: 4, FuelType: "Electric"},
			want:   []Category{ElectroBusiness, ElectroStandard, ElectroEconomy, Business, Standard, Economy},
		},
		{
			name:   "luxury van",
			driver: models.Driver{VehicleMake: "Mercedes", VehicleModel: "Vito Tourer", VehicleSeats: 7},
			want:   []Category{LuxuryVan, FirstVan, BusinessVan, StandardVan, EconomyVan},
		},
		{
			name:   "mpv",
			driver: models.Driver{VehicleMake: "Toyota", VehicleModel: "Proace Verso", VehicleSeats: 6},
			want:   []Category{StandardMPV, EconomyMPV},
		},
		{
			name:   "electric minibus",
			driver: models.Driver{VehicleMake: "Iveco", VehicleModel: "Daily", VehicleSeats: 19, FuelType: "bev"},
			want:   []Category{ElectroMinibus, MinibusLarge, Bus, Minibus},
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := Classify(c.driver); !reflect.DeepEqual(got, c.want) {
				t.Fatalf("got %v want %v", got, c.want)
			}
		})
	}
}
