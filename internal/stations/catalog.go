// Package stations loads the built-in station catalog, including the
// special operations recruiting battalion matrix of base and company.
package stations

import (
	"context"
	_ "embed"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"recruitd.org/internal/domain"
	"recruitd.org/internal/store"
)

//go:embed stations.yaml
var catalogYAML []byte

const maxCodeLen = 64

type catalog struct {
	Stations []domain.Station `yaml:"stations"`
	SORB     struct {
		Bases     []string `yaml:"bases"`
		Companies []string `yaml:"companies"`
	} `yaml:"sorb"`
}

// Load returns the embedded catalog.
func Load() ([]domain.Station, error) {
	return Parse(catalogYAML)
}

// Parse decodes a catalog document. Station IDs default to their code.
func Parse(raw []byte) ([]domain.Station, error) {
	var c catalog
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("stations: %w", err)
	}
	out := make([]domain.Station, 0, len(c.Stations)+len(c.SORB.Bases)*len(c.SORB.Companies))
	seen := map[string]bool{}
	add := func(s domain.Station) error {
		if s.Code == "" || s.Name == "" {
			return fmt.Errorf("stations: entry %q needs a code and a name", s.Code)
		}
		if s.ID == "" {
			s.ID = s.Code
		}
		if seen[s.ID] {
			return fmt.Errorf("stations: duplicate station %q", s.ID)
		}
		seen[s.ID] = true
		out = append(out, s)
		return nil
	}
	for _, s := range c.Stations {
		if err := add(s); err != nil {
			return nil, err
		}
	}
	bases := append([]string(nil), c.SORB.Bases...)
	sort.Strings(bases)
	for _, base := range bases {
		for _, co := range c.SORB.Companies {
			if err := add(domain.Station{Code: SORBCode(base, co), Name: base + " - " + co}); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// SORBCode builds the station code for a base and company, e.g.
// "FT BRAGG", "A Co" -> "SORB-FTBRAGG-ACO".
func SORBCode(base, company string) string {
	code := "SORB-" + alnumUpper(base) + "-" + alnumUpper(company)
	if len(code) > maxCodeLen {
		code = code[:maxCodeLen]
	}
	return code
}

// IsSORB reports whether a station code belongs to the battalion matrix.
func IsSORB(code string) bool { return strings.HasPrefix(code, "SORB-") }

func alnumUpper(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r - 'a' + 'A')
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Seed upserts the catalog into s and returns how many stations it wrote.
func Seed(ctx context.Context, s store.Store, list []domain.Station) (int, error) {
	err := s.Atomically(ctx, func(tx store.Tx) error {
		for _, st := range list {
			if err := tx.UpsertStation(ctx, st); err != nil {
				return fmt.Errorf("seed station %s: %w", st.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(list), nil
}
