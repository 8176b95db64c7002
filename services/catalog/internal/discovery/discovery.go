package discovery

import (
	"context"
	"errors"
	"log"

	"catalogd/services/catalog/internal/model"
)

// ErrConfiguration marks a connector whose config cannot resolve a usable
// identity (missing or ambiguous credentials). It is fatal for the discovery
// call and never retried automatically.
var ErrConfiguration = errors.New("discovery: invalid connector configuration")

// ErrRemoteUnavailable marks a network or auth failure against the remote
// source. The scheduler retries it on the next tick.
var ErrRemoteUnavailable = errors.New("discovery: remote source unavailable")

// Adapter enumerates one kind of remote source into asset descriptors. A
// Discover call reads the remote source and nothing else: it never writes to
// the catalog or mutates the source.
type Adapter interface {
	Discover(ctx context.Context, conn model.Connector) (*Result, error)
}

// ContainerResult reports per-container success even when sibling containers
// failed during the same pass.
type ContainerResult struct {
	Name       string
	AssetCount int
}

// Result carries the flat descriptor list plus the per-container grouping and
// the container-level failures that were skipped over.
type Result struct {
	Assets     []model.AssetDescriptor
	Containers []ContainerResult
	Partial    []SkippedContainer
}

// SkippedContainer records one container whose enumeration failed mid-pass.
// Reconciliation treats its existing assets as unconfirmed rather than gone.
type SkippedContainer struct {
	Name string
	Err  error
}

func (r *Result) add(container string, assets ...model.AssetDescriptor) {
	r.Assets = append(r.Assets, assets...)
	for i := range r.Containers {
		if r.Containers[i].Name == container {
			r.Containers[i].AssetCount += len(assets)
			return
		}
	}
	r.Containers = append(r.Containers, ContainerResult{Name: container, AssetCount: len(assets)})
}

func (r *Result) skip(container string, err error) {
	r.Partial = append(r.Partial, SkippedContainer{Name: container, Err: err})
}

// Registry maps connector type strings to their adapters. Dispatch happens
// once per connector pass, keyed on the closed set of type constants.
type Registry map[string]Adapter

// NewRegistry builds the default adapter set backed by the real vendor
// clients.
func NewRegistry(logger *log.Logger) Registry {
	if logger == nil {
		logger = log.Default()
	}
	return Registry{
		model.TypeObjectStore:  NewObjectStoreAdapter(logger),
		model.TypeFileShare:    NewFileShareAdapter(logger),
		model.TypeTableService: NewTableServiceAdapter(logger),
		model.TypeQueueService: NewQueueServiceAdapter(logger),
		model.TypeFileSystem:   NewFileSystemAdapter(logger),
	}
}

// ForType returns the adapter handling the given connector type.
func (r Registry) ForType(connectorType string) (Adapter, bool) {
	a, ok := r[connectorType]
	return a, ok
}
