// Package catalog defines the model classes that form the metadata catalog:
// metastores with their assets, ETL process definitions and client connections.
//
// The types carry their JSON and YAML field names, so the same structs are
// used for catalog snapshots and the HTTP API.
package catalog

import (
	"cmp"
	"maps"
	"slices"
	"time"

	"github.com/Cdaprod/cda.data-lake/internal/ident"
)

type Kind = ident.Kind

const (
	KindMetastore  = ident.KindMetastore
	KindAsset      = ident.KindAsset
	KindProcess    = ident.KindProcess
	KindConnection = ident.KindConnection
)

// Entity is the interface implemented by all entity kinds (Asset, Metastore, etc.).
type Entity interface {
	GetKind() Kind
	// Returns the catalog-wide unique identifier of the entity.
	GetID() string
}

// Asset

type Asset struct {
	// Unique identifier for the asset.
	// [required]
	ID string `json:"asset_id" yaml:"asset_id"`
	// Type of the asset, e.g. "table", "view", "model".
	// [required]
	Type string `json:"asset_type" yaml:"asset_type"`
	// [optional]
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	// URL of the asset location, typically in an object store.
	// [required]
	Location string `json:"location" yaml:"location"`
	// Field name to type name.
	// [optional]
	Schema map[string]string `json:"schema,omitempty" yaml:"schema,omitempty"`
	// IDs of the assets that are predecessors of this asset.
	// [optional]
	Lineage []string `json:"lineage,omitempty" yaml:"lineage,omitempty"`

	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

func (a *Asset) GetKind() Kind { return KindAsset }
func (a *Asset) GetID() string { return a.ID }

// Clone returns a deep copy of a.
func (a *Asset) Clone() *Asset {
	if a == nil {
		return nil
	}
	c := *a
	c.Schema = maps.Clone(a.Schema)
	c.Lineage = slices.Clone(a.Lineage)
	return &c
}

// Metastore

type Metastore struct {
	// Unique identifier for the metastore.
	// [required]
	ID string `json:"metastore_id" yaml:"metastore_id"`
	// URL of the repository that mirrors the metastore.
	// [optional]
	Repository string `json:"repository,omitempty" yaml:"repository,omitempty"`
	// Assets keyed by asset ID.
	Assets map[string]*Asset `json:"assets" yaml:"assets"`

	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

func (m *Metastore) GetKind() Kind { return KindMetastore }
func (m *Metastore) GetID() string { return m.ID }

// Clone returns a deep copy of m, including copies of all its assets.
func (m *Metastore) Clone() *Metastore {
	if m == nil {
		return nil
	}
	c := *m
	c.Assets = make(map[string]*Asset, len(m.Assets))
	for id, a := range m.Assets {
		c.Assets[id] = a.Clone()
	}
	return &c
}

// SortedAssets returns the metastore's assets ordered by ID.
func (m *Metastore) SortedAssets() []*Asset {
	result := slices.Collect(maps.Values(m.Assets))
	slices.SortFunc(result, func(a, b *Asset) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return result
}

// ClientConnection

// ClientConnection describes how to connect to an external service
// (database, API, object storage) used by ingestion jobs.
type ClientConnection struct {
	// Name of the service. Doubles as the catalog identifier.
	// [required]
	ID string `json:"service_name" yaml:"service_name"`
	// E.g. "database", "api", "cloud_storage", "minio".
	// [required]
	ServiceType  string `json:"service_type" yaml:"service_type"`
	Hostname     string `json:"hostname,omitempty" yaml:"hostname,omitempty"`
	Port         int    `json:"port,omitempty" yaml:"port,omitempty"`
	Username     string `json:"username,omitempty" yaml:"username,omitempty"`
	Password     Secret `json:"password,omitempty" yaml:"password,omitempty"`
	APIKey       Secret `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	DatabaseName string `json:"database_name,omitempty" yaml:"database_name,omitempty"`
	// Additional parameters required for the connection.
	AdditionalParams map[string]string `json:"additional_params,omitempty" yaml:"additional_params,omitempty"`
	// Tools associated with the service.
	Tools []string `json:"tools,omitempty" yaml:"tools,omitempty"`
	// Environment variables the service requires.
	RequiredVars []string `json:"required_vars,omitempty" yaml:"required_vars,omitempty"`
}

func (c *ClientConnection) GetKind() Kind { return KindConnection }
func (c *ClientConnection) GetID() string { return c.ID }

func (c *ClientConnection) Clone() *ClientConnection {
	if c == nil {
		return nil
	}
	x := *c
	x.AdditionalParams = maps.Clone(c.AdditionalParams)
	x.Tools = slices.Clone(c.Tools)
	x.RequiredVars = slices.Clone(c.RequiredVars)
	return &x
}

// Redacted returns a copy of c with all secrets masked.
func (c *ClientConnection) Redacted() *ClientConnection {
	x := c.Clone()
	x.Password = x.Password.Masked()
	x.APIKey = x.APIKey.Masked()
	return x
}
