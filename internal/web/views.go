package web

import (
	"bytes"
	"fmt"
	"log"
	"time"

	"github.com/Cdaprod/cda.data-lake/internal/catalog"
	"github.com/Cdaprod/cda.data-lake/internal/repo"
	"github.com/yuin/goldmark"
)

func markdown(input string) (string, error) {
	if input == "" {
		return "", nil
	}
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(input), &buf); err != nil {
		return "", fmt.Errorf("failed to process markdown: %v", err)
	}
	return buf.String(), nil
}

// assetView is the API representation of an asset.
type assetView struct {
	*catalog.Asset
	DescriptionHTML string `json:"description_html,omitempty"`
}

// processView is the API representation of a process.
type processView struct {
	*catalog.Process
	// Next activation of the job control schedule, if any.
	NextRun *time.Time `json:"next_run,omitempty"`
	Stages  [][]string `json:"stages"`
}

type entityView struct {
	Kind   catalog.Kind `json:"kind"`
	Entity any          `json:"entity"`
}

type lineageView struct {
	AssetID    string   `json:"asset_id"`
	Lineage    []string `json:"lineage"`
	Dependents []string `json:"dependents"`
}

func (s *Server) newAssetView(a *catalog.Asset) *assetView {
	html, err := markdown(a.Description)
	if err != nil {
		log.Printf("Asset %s: %v", a.ID, err)
	}
	return &assetView{Asset: a, DescriptionHTML: html}
}

func (s *Server) newProcessView(p *catalog.Process) (*processView, error) {
	v := &processView{Process: p}
	next, err := p.JobControl.NextRun(s.now())
	if err != nil {
		return nil, err
	}
	if !next.IsZero() {
		v.NextRun = &next
	}
	stages, err := repo.ExecutionStages(p.Transformations)
	if err != nil {
		return nil, err
	}
	v.Stages = stages
	return v, nil
}

func (s *Server) newMetastoreView(m *catalog.Metastore) map[string]any {
	assets := make([]*assetView, 0, len(m.Assets))
	for _, a := range m.SortedAssets() {
		assets = append(assets, s.newAssetView(a))
	}
	return map[string]any{
		"metastore_id": m.ID,
		"repository":   m.Repository,
		"updated_at":   m.UpdatedAt,
		"assets":       assets,
	}
}

// newEntityView converts any entity to its API representation.
// Connection secrets are always masked.
func (s *Server) newEntityView(e catalog.Entity) (*entityView, error) {
	v := &entityView{Kind: e.GetKind()}
	switch x := e.(type) {
	case *catalog.Asset:
		v.Entity = s.newAssetView(x)
	case *catalog.Metastore:
		v.Entity = s.newMetastoreView(x)
	case *catalog.Process:
		pv, err := s.newProcessView(x)
		if err != nil {
			return nil, err
		}
		v.Entity = pv
	case *catalog.ClientConnection:
		v.Entity = x.Redacted()
	default:
		return nil, fmt.Errorf("unsupported entity type %T", e)
	}
	return v, nil
}
