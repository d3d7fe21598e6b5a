package model_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offresync/sync-service/internal/model"
)

func TestDepartements(t *testing.T) {
	parts := model.Departements()
	require.Len(t, parts, 101)

	codes := make(map[string]bool, len(parts))
	for _, p := range parts {
		assert.False(t, codes[p.Code], "duplicate %s", p.Code)
		codes[p.Code] = true
	}
	for _, c := range []string{"01", "19", "2A", "2B", "21", "95", "971", "974", "976"} {
		assert.True(t, codes[c], c)
	}
	assert.False(t, codes["20"])
	assert.False(t, codes["975"])
}

func TestRawListing_Unmarshal(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		id     string
		fields bool
	}{
		{"string id", `{"id":"189XKPL","intitule":"Cariste"}`, "189XKPL", true},
		{"numeric id", `{"id":189}`, "189", true},
		{"missing id", `{"intitule":"Cariste"}`, "", true},
		{"not an object", `[1,2,3]`, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var r model.RawListing
			require.NoError(t, json.Unmarshal([]byte(tt.body), &r))
			assert.Equal(t, tt.id, r.ID)
			assert.Equal(t, tt.fields, r.Fields != nil)
			assert.Equal(t, tt.body, string(r.Payload))
		})
	}
}

func TestRawListing_ResultsArray(t *testing.T) {
	var page struct {
		Resultats []model.RawListing `json:"resultats"`
	}
	body := `{"resultats":[{"id":"A","lieuTravail":{"latitude":43.6}},{"id":"B"}]}`
	require.NoError(t, json.Unmarshal([]byte(body), &page))

	require.Len(t, page.Resultats, 2)
	assert.Equal(t, "A", page.Resultats[0].ID)
	assert.Equal(t, json.Number("43.6"), page.Resultats[0].Fields["lieuTravail"].(map[string]any)["latitude"])

	out, err := json.Marshal(page.Resultats)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":"A","lieuTravail":{"latitude":43.6}},{"id":"B"}]`, string(out))
}
