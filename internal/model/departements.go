package model

import "fmt"

// Departements returns the partition set used when no partitions file is
// configured: metropolitan departements 01..95 (Corsica as 2A/2B, there is no
// "20") followed by the overseas departements served by the API.
func Departements() []Partition {
	parts := make([]Partition, 0, 101)
	for i := 1; i <= 95; i++ {
		if i == 20 {
			parts = append(parts, Partition{Code: "2A"}, Partition{Code: "2B"})
			continue
		}
		parts = append(parts, Partition{Code: fmt.Sprintf("%02d", i)})
	}
	for _, code := range []string{"971", "972", "973", "974", "976"} {
		parts = append(parts, Partition{Code: code})
	}
	return parts
}
