package mapper_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offresync/sync-service/internal/mapper"
)

func TestParseMonthlySalary(t *testing.T) {
	tests := []struct {
		label    string
		min, max float64
		ok       bool
	}{
		{"Mensuel de 1800.00 Euros à 2200.00 Euros sur 12 mois", 1800, 2200, true},
		{"Mensuel de 1766,92 Euros sur 12 mois", 1766.92, 1766.92, true},
		{"Annuel de 36000.00 Euros à 42000.00 Euros", 3000, 3500, true},
		{"Annuel de 30000 Euros sur 13 mois", 2500, 2500, true},
		{"Mensuel de 2400 Euros à 2000 Euros", 2000, 2400, true},
		{"Horaire de 11.88 Euros sur 12 mois", 0, 0, false},
		{"Selon profil", 0, 0, false},
		{"Mensuel selon expérience", 0, 0, false},
		{"", 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			lo, hi := mapper.ParseMonthlySalary(tt.label)
			if !tt.ok {
				assert.Nil(t, lo)
				assert.Nil(t, hi)
				return
			}
			require.NotNil(t, lo)
			require.NotNil(t, hi)
			assert.InDelta(t, tt.min, *lo, 0.01)
			assert.InDelta(t, tt.max, *hi, 0.01)
		})
	}
}
