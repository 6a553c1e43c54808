// Package classifier turns merchant photographs into a business-type label.
package classifier

import (
	"context"
	"fmt"
	"strings"

	"github.com/and161185/qris-classifier/internal/model"
)

// Business types the service reports. Anything else collapses to Other.
const (
	Restaurant        = "restaurant"
	Cafe              = "cafe"
	Grocery           = "grocery"
	Retail            = "retail"
	Clothing          = "clothing"
	ShoeStore         = "shoe_store"
	Electronics       = "electronics"
	Pharmacy          = "pharmacy"
	BeautySalon       = "beauty_salon"
	Barbershop        = "barbershop"
	Bakery            = "bakery"
	Laundry           = "laundry"
	Workshop          = "workshop"
	MobilePhone       = "mobile_phone"
	Stationery        = "stationery"
	BuildingMaterials = "building_materials"
	Other             = "other"
)

// Types lists the vocabulary in prompt order.
var Types = []string{
	Restaurant, Cafe, Grocery, Retail, Clothing, ShoeStore, Electronics, Pharmacy,
	BeautySalon, Barbershop, Bakery, Laundry, Workshop, MobilePhone, Stationery,
	BuildingMaterials, Other,
}

var known = func() map[string]struct{} {
	m := make(map[string]struct{}, len(Types))
	for _, t := range Types {
		m[t] = struct{}{}
	}
	return m
}()

// aliases maps common free-text answers onto the vocabulary.
var aliases = map[string]string{
	"food_stall":        Restaurant,
	"warung":            Restaurant,
	"coffee_shop":       Cafe,
	"coffee":            Cafe,
	"minimarket":        Grocery,
	"supermarket":       Grocery,
	"convenience":       Grocery,
	"convenience_store": Grocery,
	"shop":              Retail,
	"store":             Retail,
	"fashion":           Clothing,
	"apparel":           Clothing,
	"shoes":             ShoeStore,
	"shoe":              ShoeStore,
	"footwear":          ShoeStore,
	"drugstore":         Pharmacy,
	"apotek":            Pharmacy,
	"salon":             BeautySalon,
	"beauty":            BeautySalon,
	"barber":            Barbershop,
	"bengkel":           Workshop,
	"repair_shop":       Workshop,
	"phone_store":       MobilePhone,
	"cellphone":         MobilePhone,
	"bookstore":         Stationery,
	"hardware":          BuildingMaterials,
	"hardware_store":    BuildingMaterials,
}

// Classifier labels a set of images.
type Classifier interface {
	Classify(ctx context.Context, images []model.Image) (string, error)
}

// Normalize maps a raw model answer to a known business type.
func Normalize(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.Trim(s, "\"'`.")
	s = strings.NewReplacer(" ", "_", "-", "_").Replace(s)
	if _, ok := known[s]; ok {
		return s
	}
	if a, ok := aliases[s]; ok {
		return a
	}
	return Other
}

// Static always answers with the same label.
type Static struct {
	label string
}

// NewStatic returns a classifier answering label, normalized.
func NewStatic(label string) *Static { return &Static{label: Normalize(label)} }

// Classify implements Classifier.
func (s *Static) Classify(ctx context.Context, images []model.Image) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(images) == 0 {
		return "", fmt.Errorf("classifier: no images")
	}
	return s.label, nil
}
