package catalog

// Document is the serialized form of a whole catalog.
// Lists are ordered by ID so that snapshots are stable.
type Document struct {
	Metastores  []*Metastore        `json:"metastores" yaml:"metastores"`
	Processes   []*Process          `json:"processes" yaml:"processes"`
	Connections []*ClientConnection `json:"connections,omitempty" yaml:"connections,omitempty"`
}

// Size returns the number of entities in the document, counting assets.
func (d *Document) Size() int {
	n := len(d.Processes) + len(d.Connections)
	for _, m := range d.Metastores {
		n += 1 + len(m.Assets)
	}
	return n
}
