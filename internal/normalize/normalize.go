package normalize

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/rental-semantic-search/internal/listing"
)

var (
	statePostcodeRe = regexp.MustCompile(`\b([A-Z]{2,3})\s(\d{4})\b`)
	numberRe        = regexp.MustCompile(`\d[\d,]*(?:\.\d+)?`)
	whitespaceRe    = regexp.MustCompile(`\s+`)
)

// Normalize resolves every configured field against raw and coerces the
// results into a canonical listing. Fields that cannot be resolved keep
// their defaults and are reported in the returned diagnostics.
func Normalize(raw Value, cfg SiteConfig) (listing.Listing, Diagnostics) {
	var diags Diagnostics

	root := DecodeNested(raw)
	if len(cfg.GlobalTags) > 0 {
		narrowed := Narrow(root, cfg.GlobalTags)
		if !narrowed.OK() {
			diags = append(diags, *narrowed.Missing)
			for _, name := range cfg.FieldNames() {
				diags = append(diags, FieldMissing{Field: name, Key: narrowed.Missing.Key, Depth: -1})
			}
			return Coerce(nil), diags
		}
		root = narrowed.Value
	}

	fields := make(map[string]Value, len(cfg.Fields))
	for _, name := range cfg.FieldNames() {
		res := Resolve(root, name, cfg.Fields[name].Keys)
		if !res.OK() {
			diags = append(diags, *res.Missing)
			continue
		}
		fields[name] = res.Value
	}
	return Coerce(fields), diags
}

// Coerce coerces already-resolved field values into a canonical listing.
// Absent or unusable values degrade to defaults.
func Coerce(fields map[string]Value) listing.Listing {
	l := listing.Listing{
		ID:           Identifier(fields[listing.FieldID]),
		Price:        Price(fields[listing.FieldPrice]),
		Description:  Description(fields[listing.FieldDescription]),
		Address:      Address(fields[listing.FieldAddress]),
		Bedrooms:     Count(fields[listing.FieldBedrooms]),
		Bathrooms:    Count(fields[listing.FieldBathrooms]),
		Carspaces:    Count(fields[listing.FieldCarspaces]),
		PropertyType: PropertyType(fields[listing.FieldPropertyType]),
	}
	l.State, l.Postcode = StatePostcode(l.Address)
	return l
}

// Identifier accepts text or a number. Integral numbers render without a
// fractional part.
func Identifier(v Value) string {
	switch v.kind {
	case KindString:
		return strings.TrimSpace(v.str)
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	default:
		return ""
	}
}

// Price reads a number, or the first numeric token of text such as
// "$650 per week". Negative or non-finite values become 0.
func Price(v Value) float64 {
	var f float64
	switch v.kind {
	case KindNumber:
		f = v.num
	case KindString:
		f = firstNumber(v.str)
	}
	if f < 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

// Count reads a non-negative integer; fractional inputs are truncated.
func Count(v Value) int {
	var f float64
	switch v.kind {
	case KindNumber:
		f = v.num
	case KindString:
		f = firstNumber(v.str)
	}
	if f <= 0 || math.IsNaN(f) || f > math.MaxInt32 {
		return 0
	}
	return int(f)
}

// Description concatenates text fragments when the source yields a list.
func Description(v Value) string {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindList:
		var b strings.Builder
		for _, item := range v.list {
			if item.kind == KindList || item.kind == KindMap {
				continue
			}
			b.WriteString(Description(item))
		}
		return b.String()
	default:
		return ""
	}
}

// Address collapses whitespace. List sources are joined with single spaces.
func Address(v Value) string {
	switch v.kind {
	case KindString:
		return collapse(v.str)
	case KindList:
		parts := make([]string, 0, len(v.list))
		for _, item := range v.list {
			if s, ok := item.AsString(); ok {
				parts = append(parts, s)
			}
		}
		return collapse(strings.Join(parts, " "))
	default:
		return ""
	}
}

// PropertyType lowercases, turns "/" into spaces and collapses whitespace.
func PropertyType(v Value) string {
	s, ok := v.AsString()
	if !ok {
		return ""
	}
	s = strings.ReplaceAll(strings.ToLower(s), "/", " ")
	return collapse(s)
}

// StatePostcode finds the first "XX 1234" or "XXX 1234" token pair.
func StatePostcode(address string) (state, postcode string) {
	m := statePostcodeRe.FindStringSubmatch(address)
	if m == nil {
		return "", ""
	}
	return m[1], m[2]
}

func firstNumber(s string) float64 {
	tok := numberRe.FindString(s)
	if tok == "" {
		return 0
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(tok, ",", ""), 64)
	if err != nil {
		return 0
	}
	return f
}

func collapse(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}
