package domain

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed seed.yaml
var seedYAML []byte

// Catalog is the marketplace dataset: accounts, listings and the pick lists
// the signup and marketplace pages offer.
type Catalog struct {
	Categories []string `json:"categories" yaml:"categories"`
	Areas      []string `json:"areas" yaml:"areas"`
	Users      []User   `json:"users,omitempty" yaml:"users"`
	Vendors    []Vendor `json:"vendors,omitempty" yaml:"vendors"`
}

// LoadSeed decodes the embedded seed catalog.
func LoadSeed() (Catalog, error) {
	return ParseCatalog(seedYAML)
}

// ParseCatalog decodes a YAML catalog and checks it is self-consistent:
// unique ids, known enum values and vendors owned by existing users.
func ParseCatalog(data []byte) (Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Catalog{}, fmt.Errorf("domain: decode catalog: %w", err)
	}

	users := make(map[int]bool, len(c.Users))
	for _, u := range c.Users {
		if users[u.ID] {
			return Catalog{}, fmt.Errorf("domain: duplicate user id %d", u.ID)
		}
		if !ValidUserTypes[u.Type] {
			return Catalog{}, NewValidationError("type", string(u.Type), ErrInvalidUserType)
		}
		users[u.ID] = true
	}

	vendors := make(map[int]bool, len(c.Vendors))
	for _, v := range c.Vendors {
		if vendors[v.ID] {
			return Catalog{}, fmt.Errorf("domain: duplicate vendor id %d", v.ID)
		}
		if !ValidVendorStatuses[v.Status] {
			return Catalog{}, NewValidationError("status", string(v.Status), ErrInvalidStatus)
		}
		if !users[v.UserID] {
			return Catalog{}, fmt.Errorf("domain: vendor %d: %w %d", v.ID, ErrUnknownUser, v.UserID)
		}
		vendors[v.ID] = true
	}
	return c, nil
}
