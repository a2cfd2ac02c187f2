package listing

import "math"

// column pairs a mutable column with its value on a listing.
type column struct {
	name  string
	value any
}

func mutableColumns(l Listing) []column {
	return []column{
		{FieldPrice, l.Price},
		{FieldDescription, l.Description},
		{FieldAddress, l.Address},
		{FieldBedrooms, l.Bedrooms},
		{FieldBathrooms, l.Bathrooms},
		{FieldCarspaces, l.Carspaces},
		{FieldPropertyType, l.PropertyType},
		{FieldState, l.State},
		{FieldPostcode, l.Postcode},
	}
}

// diff returns the mutable columns whose incoming value differs from stored,
// in column order. The identifier and timestamps are never compared.
func diff(stored, incoming Listing) []column {
	var changed []column
	have := mutableColumns(stored)
	for i, c := range mutableColumns(incoming) {
		if !sameValue(have[i].value, c.value) {
			changed = append(changed, c)
		}
	}
	return changed
}

func sameValue(a, b any) bool {
	if fa, ok := a.(float64); ok {
		fb := b.(float64)
		return math.Abs(fa-fb) < 1e-9
	}
	return a == b
}

func columnNames(cols []column) []string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.name
	}
	return names
}
