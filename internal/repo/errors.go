package repo

import (
	"errors"

	"github.com/Cdaprod/cda.data-lake/internal/ident"
)

// Error kinds returned by Repository operations. Callers test for them
// with errors.Is. All of them are reported before any state is modified.
var (
	ErrDuplicateIdentifier             = ident.ErrDuplicate
	ErrUnknownMetastore                = errors.New("unknown metastore")
	ErrNotFound                        = errors.New("not found")
	ErrUnknownLineageReference         = errors.New("unknown lineage reference")
	ErrCyclicLineage                   = errors.New("cyclic lineage")
	ErrDependentAssetsExist            = errors.New("dependent assets exist")
	ErrUnknownTransformationDependency = errors.New("unknown transformation dependency")
	ErrSelfDependency                  = errors.New("transformation depends on itself")
	ErrCyclicTransformationDependency  = errors.New("cyclic transformation dependency")
	// ErrMetastoreNotEmpty is returned when removing a metastore that still holds assets.
	ErrMetastoreNotEmpty = errors.New("metastore not empty")
	// ErrInvalid signals structurally malformed input (bad IDs, URLs, types).
	ErrInvalid = errors.New("invalid entity")
)
