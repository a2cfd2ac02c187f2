package normalize

import (
	"testing"

	"github.com/Adithya-Monish-Kumar-K/rental-semantic-search/internal/listing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func flatConfig() SiteConfig {
	fields := make(map[string]FieldConfig, len(listing.SourceFields))
	for _, f := range listing.SourceFields {
		fields[f] = FieldConfig{Keys: []string{f}}
	}
	return SiteConfig{Site: "test", Fields: fields}
}

func TestNormalize_DefaultsForMissingFields(t *testing.T) {
	raw := Map(map[string]Value{
		"id":      String("L-1"),
		"address": String("Unit 4, somewhere"),
	})

	got, diags := Normalize(raw, flatConfig())

	assert.Equal(t, "L-1", got.ID)
	assert.Equal(t, 0.0, got.Price)
	assert.Equal(t, "", got.Description)
	assert.Equal(t, 0, got.Bedrooms)
	assert.Equal(t, 0, got.Bathrooms)
	assert.Equal(t, 0, got.Carspaces)
	assert.Equal(t, "", got.State)
	assert.Equal(t, "", got.Postcode)
	assert.Equal(t, "", got.PropertyType)

	assert.ElementsMatch(t,
		[]string{"bathrooms", "bedrooms", "carspaces", "description", "price", "property_type"},
		diags.Fields())
}

func TestStatePostcode(t *testing.T) {
	tests := []struct {
		address, state, postcode string
	}{
		{"123 George Street, Sydney NSW 2000", "NSW", "2000"},
		{"10 Smith St, Melbourne VIC 3000", "VIC", "3000"},
		{"5 Lane, Darwin NT 0800", "NT", "0800"},
		{"Invalid Address", "", ""},
		{"lowercase nsw 2000", "", ""},
		{"NSW 20001", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.address, func(t *testing.T) {
			state, postcode := StatePostcode(tt.address)
			assert.Equal(t, tt.state, state)
			assert.Equal(t, tt.postcode, postcode)
		})
	}
}

func TestPropertyType(t *testing.T) {
	assert.Equal(t, "apartment unit flat", PropertyType(String("Apartment / Unit / Flat")))
	assert.Equal(t, "house", PropertyType(String("  HOUSE ")))
	assert.Equal(t, "", PropertyType(Number(3)))
}

func TestPrice(t *testing.T) {
	assert.Equal(t, 500.0, Price(String("500")))
	assert.Equal(t, 650.0, Price(String("$650 per week")))
	assert.Equal(t, 1200.5, Price(String("1,200.50")))
	assert.Equal(t, 720.0, Price(Number(720)))
	assert.Equal(t, 0.0, Price(Number(-10)))
	assert.Equal(t, 0.0, Price(String("Contact agent")))
	assert.Equal(t, 0.0, Price(Null()))
}

func TestCount(t *testing.T) {
	assert.Equal(t, 3, Count(Number(3)))
	assert.Equal(t, 2, Count(String("2 beds")))
	assert.Equal(t, 0, Count(Number(-1)))
	assert.Equal(t, 0, Count(Bool(true)))
}

func TestIdentifier(t *testing.T) {
	assert.Equal(t, "2019283746", Identifier(Number(2019283746)))
	assert.Equal(t, "abc", Identifier(String(" abc ")))
	assert.Equal(t, "", Identifier(List()))
}

func TestNormalize_EndToEnd(t *testing.T) {
	payload := []byte(`{
		"props": {
			"listing": "{\"id\": 99, \"price\": \"500\", \"description\": [\"Sunny two bed.\", \" Close to trams.\"], \"address\": \"10 Smith St, Melbourne VIC 3000\", \"features\": {\"beds\": 2, \"baths\": 1}, \"type\": \"Apartment / Unit / Flat\"}"
		}
	}`)
	raw, err := Parse(payload)
	require.NoError(t, err)

	cfg := SiteConfig{
		Site:       "domain",
		GlobalTags: []string{"props", "listing"},
		Fields: map[string]FieldConfig{
			"id":            {Keys: []string{"id"}},
			"price":         {Keys: []string{"price"}},
			"description":   {Keys: []string{"description"}},
			"address":       {Keys: []string{"address"}},
			"bedrooms":      {Keys: []string{"features", "beds"}},
			"bathrooms":     {Keys: []string{"features", "baths"}},
			"carspaces":     {Keys: []string{"features", "parking"}},
			"property_type": {Keys: []string{"type"}},
		},
	}

	got, diags := Normalize(raw, cfg)

	assert.Equal(t, "99", got.ID)
	assert.Equal(t, 500.0, got.Price)
	assert.Equal(t, "Sunny two bed. Close to trams.", got.Description)
	assert.Equal(t, "VIC", got.State)
	assert.Equal(t, "3000", got.Postcode)
	assert.Equal(t, 2, got.Bedrooms)
	assert.Equal(t, 1, got.Bathrooms)
	assert.Equal(t, 0, got.Carspaces)
	assert.Equal(t, "apartment unit flat", got.PropertyType)

	require.Len(t, diags, 1)
	assert.Equal(t, FieldMissing{Field: "carspaces", Key: "parking", Depth: 1}, diags[0])
}

func TestNormalize_MissingGlobalTag(t *testing.T) {
	cfg := flatConfig()
	cfg.GlobalTags = []string{"data"}

	got, diags := Normalize(Map(map[string]Value{"other": Null()}), cfg)

	assert.Equal(t, "", got.ID)
	require.NotEmpty(t, diags)
	assert.Equal(t, "global_tags", diags[0].Field)
	assert.Len(t, diags, len(cfg.Fields)+1)
}

func TestResolve_ListIndexAndNestedString(t *testing.T) {
	root := Map(map[string]Value{
		"media": List(
			String(`{"caption": "front"}`),
			String(`{"caption": "kitchen"}`),
		),
	})

	res := Resolve(root, "description", []string{"media", "1", "caption"})
	require.True(t, res.OK())
	s, _ := res.Value.AsString()
	assert.Equal(t, "kitchen", s)

	res = Resolve(root, "description", []string{"media", "7", "caption"})
	require.False(t, res.OK())
	assert.Equal(t, "7", res.Missing.Key)
}

func TestDescription_SkipsNestedStructures(t *testing.T) {
	v := List(String("a"), Map(map[string]Value{"x": String("y")}), Number(2), String("b"))
	assert.Equal(t, "a2b", Description(v))
}

func TestAddress_CollapsesWhitespace(t *testing.T) {
	assert.Equal(t, "1 Main St, Perth WA 6000", Address(String("  1 Main St,\n  Perth   WA 6000 ")))
	assert.Equal(t, "1 Main St Perth WA 6000", Address(List(String("1 Main St"), String("Perth WA 6000"))))
}
