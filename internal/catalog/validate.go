package catalog

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var (
	// idRegex validates entity identifiers. They must start and end with an
	// alphanumeric character, with dashes, underscores, dots, colons and
	// slashes allowed in between.
	idRegex = regexp.MustCompile(`^[A-Za-z0-9]([-A-Za-z0-9_.:/]*[A-Za-z0-9])?$`)

	// schemaFieldRegex validates field names in an asset schema.
	schemaFieldRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.$-]*$`)
)

const (
	MaxIDLength = 253
)

func IsValidID(id string) bool {
	return len(id) > 0 && len(id) <= MaxIDLength && idRegex.MatchString(id)
}

// IsValidLocation checks that loc is an absolute URL with a scheme and a
// host or path, e.g. "s3://bucket/key" or "https://host/path".
func IsValidLocation(loc string) bool {
	u, err := url.Parse(loc)
	if err != nil {
		return false
	}
	if u.Scheme == "" {
		return false
	}
	return u.Host != "" || (u.Path != "" && u.Path != "/")
}

// IsValidRepositoryURL checks that s is an http(s) or ssh/git URL.
func IsValidRepositoryURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return false
	}
	switch u.Scheme {
	case "http", "https", "ssh", "git", "file":
		return true
	}
	return false
}

// ValidateMetastore checks the structure of a metastore header (not its assets).
// The repository URL is optional.
func ValidateMetastore(m *Metastore) error {
	if m == nil {
		return fmt.Errorf("metastore is nil")
	}
	if !IsValidID(m.ID) {
		return fmt.Errorf("invalid metastore_id %q", m.ID)
	}
	if m.Repository != "" && !IsValidRepositoryURL(m.Repository) {
		return fmt.Errorf("metastore %s: invalid repository URL %q", m.ID, m.Repository)
	}
	return nil
}

// ValidateAsset checks the structure of a single asset.
// References to other assets are checked by the repository.
func ValidateAsset(a *Asset) error {
	if a == nil {
		return fmt.Errorf("asset is nil")
	}
	if !IsValidID(a.ID) {
		return fmt.Errorf("invalid asset_id %q", a.ID)
	}
	if strings.TrimSpace(a.Type) == "" {
		return fmt.Errorf("asset %s: asset_type is empty", a.ID)
	}
	if !IsValidLocation(a.Location) {
		return fmt.Errorf("asset %s: invalid location %q", a.ID, a.Location)
	}
	for field, typ := range a.Schema {
		if !schemaFieldRegex.MatchString(field) {
			return fmt.Errorf("asset %s: invalid schema field name %q", a.ID, field)
		}
		if strings.TrimSpace(typ) == "" {
			return fmt.Errorf("asset %s: schema field %q has no type", a.ID, field)
		}
	}
	seen := make(map[string]bool, len(a.Lineage))
	for _, pred := range a.Lineage {
		if seen[pred] {
			return fmt.Errorf("asset %s: duplicate lineage entry %q", a.ID, pred)
		}
		seen[pred] = true
	}
	return nil
}

func validateConnectionDetails(c *ConnectionDetails) error {
	if strings.TrimSpace(c.Type) == "" {
		return fmt.Errorf("connection type is empty")
	}
	if strings.TrimSpace(c.Identifier) == "" {
		return fmt.Errorf("connection identifier is empty")
	}
	return nil
}

// ValidateProcess checks the structure of a process definition:
// required fields and uniqueness of section IDs.
// Dependency references between transformations are checked by the repository.
func ValidateProcess(p *Process) error {
	if p == nil {
		return fmt.Errorf("process is nil")
	}
	if p.ID != "" && !IsValidID(p.ID) {
		return fmt.Errorf("invalid process_id %q", p.ID)
	}
	sourceIDs := map[string]bool{}
	for i := range p.Sources {
		s := &p.Sources[i]
		if s.ID == "" {
			return fmt.Errorf("source #%d has no source_id", i)
		}
		if sourceIDs[s.ID] {
			return fmt.Errorf("duplicate source_id %q", s.ID)
		}
		sourceIDs[s.ID] = true
		if err := validateConnectionDetails(&s.Connection); err != nil {
			return fmt.Errorf("source %s: %v", s.ID, err)
		}
	}
	destIDs := map[string]bool{}
	for i := range p.Destinations {
		d := &p.Destinations[i]
		if d.ID == "" {
			return fmt.Errorf("destination #%d has no destination_id", i)
		}
		if destIDs[d.ID] {
			return fmt.Errorf("duplicate destination_id %q", d.ID)
		}
		destIDs[d.ID] = true
		if err := validateConnectionDetails(&d.Connection); err != nil {
			return fmt.Errorf("destination %s: %v", d.ID, err)
		}
	}
	transIDs := map[string]bool{}
	for i, t := range p.Transformations {
		if t.ID == "" {
			return fmt.Errorf("transformation #%d has no transformation_id", i)
		}
		if transIDs[t.ID] {
			return fmt.Errorf("duplicate transformation_id %q", t.ID)
		}
		transIDs[t.ID] = true
	}
	return nil
}

// ValidateConnection checks a client connection definition.
func ValidateConnection(c *ClientConnection) error {
	if c == nil {
		return fmt.Errorf("connection is nil")
	}
	if !IsValidID(c.ID) {
		return fmt.Errorf("invalid service_name %q", c.ID)
	}
	if strings.TrimSpace(c.ServiceType) == "" {
		return fmt.Errorf("connection %s: service_type is empty", c.ID)
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("connection %s: invalid port %d", c.ID, c.Port)
	}
	for _, v := range c.RequiredVars {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("connection %s: empty required variable name", c.ID)
		}
	}
	return nil
}
