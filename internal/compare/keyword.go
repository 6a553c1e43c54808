package compare

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/and161185/qris-classifier/internal/classifier"
	"github.com/and161185/qris-classifier/internal/model"
)

// MethodKeyword marks comparisons produced by the local keyword table.
const MethodKeyword = "keyword"

type hint struct {
	kind   string
	weight float64
}

// keywords maps name fragments (Indonesian and English) to business types.
var keywords = map[string]hint{
	"warung makan": {classifier.Restaurant, 0.95},
	"rumah makan":  {classifier.Restaurant, 0.95},
	"restoran":     {classifier.Restaurant, 0.9},
	"restaurant":   {classifier.Restaurant, 0.9},
	"warung":       {classifier.Restaurant, 0.8},
	"makan":        {classifier.Restaurant, 0.75},
	"bakso":        {classifier.Restaurant, 0.85},
	"soto":         {classifier.Restaurant, 0.85},
	"sate":         {classifier.Restaurant, 0.85},
	"nasi":         {classifier.Restaurant, 0.8},
	"mie":          {classifier.Restaurant, 0.8},
	"padang":       {classifier.Restaurant, 0.8},
	"kedai":        {classifier.Cafe, 0.7},
	"kopi":         {classifier.Cafe, 0.9},
	"coffee":       {classifier.Cafe, 0.9},
	"cafe":         {classifier.Cafe, 0.9},
	"kafe":         {classifier.Cafe, 0.9},
	"kelontong":    {classifier.Grocery, 0.9},
	"sembako":      {classifier.Grocery, 0.9},
	"minimarket":   {classifier.Grocery, 0.9},
	"mart":         {classifier.Grocery, 0.8},
	"grocery":      {classifier.Grocery, 0.9},
	"toko":         {classifier.Retail, 0.6},
	"store":        {classifier.Retail, 0.6},
	"shop":         {classifier.Retail, 0.6},
	"baju":         {classifier.Clothing, 0.9},
	"pakaian":      {classifier.Clothing, 0.9},
	"busana":       {classifier.Clothing, 0.9},
	"fashion":      {classifier.Clothing, 0.85},
	"butik":        {classifier.Clothing, 0.85},
	"boutique":     {classifier.Clothing, 0.85},
	"sepatu":       {classifier.ShoeStore, 0.95},
	"sandal":       {classifier.ShoeStore, 0.85},
	"shoes":        {classifier.ShoeStore, 0.95},
	"elektronik":   {classifier.Electronics, 0.95},
	"electronic":   {classifier.Electronics, 0.95},
	"electronics":  {classifier.Electronics, 0.95},
	"komputer":     {classifier.Electronics, 0.85},
	"apotek":       {classifier.Pharmacy, 0.95},
	"apotik":       {classifier.Pharmacy, 0.95},
	"farma":        {classifier.Pharmacy, 0.85},
	"pharmacy":     {classifier.Pharmacy, 0.95},
	"salon":        {classifier.BeautySalon, 0.9},
	"kecantikan":   {classifier.BeautySalon, 0.9},
	"beauty":       {classifier.BeautySalon, 0.85},
	"barbershop":   {classifier.Barbershop, 0.95},
	"barber":       {classifier.Barbershop, 0.95},
	"pangkas":      {classifier.Barbershop, 0.9},
	"cukur":        {classifier.Barbershop, 0.9},
	"roti":         {classifier.Bakery, 0.9},
	"bakery":       {classifier.Bakery, 0.95},
	"kue":          {classifier.Bakery, 0.85},
	"laundry":      {classifier.Laundry, 0.95},
	"binatu":       {classifier.Laundry, 0.9},
	"bengkel":      {classifier.Workshop, 0.95},
	"service":      {classifier.Workshop, 0.6},
	"motor":        {classifier.Workshop, 0.6},
	"ponsel":       {classifier.MobilePhone, 0.9},
	"handphone":    {classifier.MobilePhone, 0.9},
	"cell":         {classifier.MobilePhone, 0.8},
	"pulsa":        {classifier.MobilePhone, 0.8},
	"hp":           {classifier.MobilePhone, 0.7},
	"phone":        {classifier.MobilePhone, 0.85},
	"atk":          {classifier.Stationery, 0.9},
	"fotokopi":     {classifier.Stationery, 0.85},
	"buku":         {classifier.Stationery, 0.8},
	"stationery":   {classifier.Stationery, 0.95},
	"bangunan":     {classifier.BuildingMaterials, 0.95},
	"material":     {classifier.BuildingMaterials, 0.85},
	"besi":         {classifier.BuildingMaterials, 0.8},
}

// Keyword scores a business name against a classified type using the keyword table.
type Keyword struct{}

// Match returns the keyword comparison of name against classifiedType.
func (Keyword) Match(name, classifiedType string) model.Comparison {
	res := model.Comparison{
		ProvidedName:   name,
		ClassifiedType: classifiedType,
		Method:         MethodKeyword,
	}

	scores := suggest(name)
	if len(scores) == 0 {
		res.MatchScore = 0.5
		res.MatchReason = "business name has no recognizable category keywords"
		return res
	}
	if w, ok := scores[classifiedType]; ok {
		res.IsMatch = true
		res.MatchScore = w
		res.MatchReason = fmt.Sprintf("business name suggests %s", classifiedType)
		return res
	}

	best := bestOf(scores)
	res.MatchScore = 0.1
	res.MatchReason = fmt.Sprintf("business name suggests %s, classified as %s", best, classifiedType)
	return res
}

// suggest returns the strongest weight per type found in name.
func suggest(name string) map[string]float64 {
	padded := " " + normalizeName(name) + " "
	out := map[string]float64{}
	for kw, h := range keywords {
		if !strings.Contains(padded, " "+kw+" ") {
			continue
		}
		if h.weight > out[h.kind] {
			out[h.kind] = h.weight
		}
	}
	// a generic shop word only counts when nothing more specific matched
	if len(out) > 1 {
		delete(out, classifier.Retail)
	}
	return out
}

func bestOf(scores map[string]float64) string {
	kinds := make([]string, 0, len(scores))
	for k := range scores {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool {
		if scores[kinds[i]] != scores[kinds[j]] {
			return scores[kinds[i]] > scores[kinds[j]]
		}
		return kinds[i] < kinds[j]
	})
	return kinds[0]
}

func normalizeName(s string) string {
	f := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return strings.Join(f, " ")
}
