package pricing

import (
	"strings"

	"github.com/example/ride-dispatch/internal/models"
)

var (
	electricFuels = []string{"electric", "ev", "bev", "elettrico"}
	luxuryMakes   = []string{"mercedes", "bmw", "audi", "lexus", "jaguar", "porsche", "maserati", "tesla"}
	premiumMakes  = []string{"volvo", "alfa romeo", "alfa", "ds"}
	vanModels     = []string{"van", "vito", "sprinter", "transporter", "caravelle", "v-class", "classe v"}
)

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

// Classify returns every category a driver's vehicle can be sold as. Body
// type is decided first (minibus by seats, then van by model, then MPV by
// seats) and the make decides how far up the tiers it reaches.
func Classify(d models.Driver) []Category {
	seats := d.VehicleSeats
	if seats == 0 {
		seats = 4
	}
	vehicleMake := strings.ToLower(d.VehicleMake)
	model := strings.ToLower(d.VehicleModel)
	fuel := strings.ToLower(strings.TrimSpace(d.FuelType))

	electric := false
	for _, f := range electricFuels {
		if fuel == f {
			electric = true
		}
	}
	luxury := containsAny(vehicleMake, luxuryMakes)
	premium := luxury || containsAny(vehicleMake, premiumMakes)
	van := containsAny(model, vanModels)
	mpv := seats >= 6 && !van

	var out []Category
	switch {
	case seats >= 8:
		if electric {
			out = append(out, ElectroMinibus)
		}
		if seats >= 16 {
			out = append(out, MinibusLarge, Bus)
		}
		out = append(out, Minibus)
	case van:
		if electric {
			out = append(out, ElectroBusiness)
		}
		if luxury {
			out = append(out, LuxuryVan, FirstVan)
		}
		if premium {
			out = append(out, BusinessVan)
		}
		out = append(out, StandardVan, EconomyVan)
	case mpv:
		if electric {
			out = append(out, ElectroBusiness)
		}
		if luxury {
			out = append(out, LuxuryMPV, FirstMPV)
		}
		if premium {
			out = append(out, BusinessMPV)
		}
		out = append(out, StandardMPV, EconomyMPV)
	default:
		if electric {
			if luxury {
				out = append(out, ElectroLuxury, ElectroFirst)
			}
			if premium {
				out = append(out, ElectroBusiness)
			}
			out = append(out, ElectroStandard, ElectroEconomy)
		}
		if luxury {
			out = append(out, Luxury, First)
		}
		if premium {
			out = append(out, Business)
		}
		out = append(out, Standard, Economy)
		if seats <= 3 {
			out = append(out, Micro)
		}
	}
	return out
}
