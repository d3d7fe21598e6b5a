package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"offresync/sync-service/internal/model"
)

type partitionsFile struct {
	Partitions []model.Partition `yaml:"partitions"`
}

// LoadPartitions reads the departement list a pass visits. An empty path
// returns every departement.
//
//	partitions:
//	  - code: "31"
//	    name: Haute-Garonne
func LoadPartitions(path string) ([]model.Partition, error) {
	if path == "" {
		return model.Departements(), nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read partitions file: %w", err)
	}

	var f partitionsFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse partitions file %s: %w", path, err)
	}
	if len(f.Partitions) == 0 {
		return nil, fmt.Errorf("partitions file %s lists no partition", path)
	}

	seen := make(map[string]struct{}, len(f.Partitions))
	for i, p := range f.Partitions {
		code := strings.TrimSpace(p.Code)
		if code == "" {
			return nil, fmt.Errorf("partitions file %s: entry %d has no code", path, i)
		}
		if _, dup := seen[code]; dup {
			return nil, fmt.Errorf("partitions file %s: duplicate code %q", path, code)
		}
		seen[code] = struct{}{}
		f.Partitions[i].Code = code
	}
	return f.Partitions, nil
}
