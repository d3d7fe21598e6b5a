package mapper

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	salaryNumber = regexp.MustCompile(`\d+(?:[.,]\d+)?`)
	// "sur 12 mois" states the payment schedule, not an amount.
	salaryMonths = regexp.MustCompile(`(?i)sur\s+\d+(?:[.,]\d+)?\s+mois`)
)

// ParseMonthlySalary extracts a monthly gross range from a free-text salary
// label such as "Mensuel de 1800.00 Euros à 2200.00 Euros sur 12 mois".
//
// It is a heuristic: only labels saying "mensuel" or "annuel" are read, the
// first two numbers are taken as bounds and annual amounts are divided by 12.
// Anything else yields nil bounds.
func ParseMonthlySalary(label string) (minMonthly, maxMonthly *float64) {
	lower := strings.ToLower(label)
	monthly := strings.Contains(lower, "mensuel")
	annual := strings.Contains(lower, "annuel")
	if !monthly && !annual {
		return nil, nil
	}

	var nums []float64
	for _, m := range salaryNumber.FindAllString(salaryMonths.ReplaceAllString(label, " "), 2) {
		f, err := strconv.ParseFloat(strings.Replace(m, ",", ".", 1), 64)
		if err == nil && f > 0 {
			nums = append(nums, f)
		}
	}
	if len(nums) == 0 {
		return nil, nil
	}

	lo, hi := nums[0], nums[0]
	if len(nums) > 1 {
		lo, hi = min(nums[0], nums[1]), max(nums[0], nums[1])
	}
	// "mensuel" wins when a label carries both words.
	if annual && !monthly {
		lo, hi = lo/12, hi/12
	}
	return &lo, &hi
}
