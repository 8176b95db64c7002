package discovery

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"

	"catalogd/services/catalog/internal/model"
)

const (
	tableServiceSource = "Azure Tables"
	queueServiceSource = "Azure Queues"
)

// nameLister enumerates the flat namespaces (tables, queues) of a storage
// account.
type nameLister interface {
	Names(ctx context.Context) ([]string, error)
}

// TableServiceAdapter discovers the tables of an Azure storage account. Table
// sources are flat: one descriptor per table, no hierarchy to walk.
type TableServiceAdapter struct {
	logger *log.Logger
	open   func(ctx context.Context, id azureIdentity) (nameLister, error)
}

func NewTableServiceAdapter(logger *log.Logger) *TableServiceAdapter {
	if logger == nil {
		logger = log.Default()
	}
	return &TableServiceAdapter{
		logger: logger,
		open: func(_ context.Context, id azureIdentity) (nameLister, error) {
			return newAztablesLister(id)
		},
	}
}

func (a *TableServiceAdapter) Discover(ctx context.Context, conn model.Connector) (*Result, error) {
	id, err := resolveAzureIdentity(conn)
	if err != nil {
		return nil, err
	}

	lister, err := a.open(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
	}

	names, err := lister.Names(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: list tables: %v", ErrRemoteUnavailable, err)
	}

	result := &Result{}
	descriptors := make([]model.AssetDescriptor, 0, len(names))
	for _, name := range names {
		descriptors = append(descriptors, model.AssetDescriptor{
			ID:           fmt.Sprintf("https://%s.table.core.windows.net/%s", id.Account, name),
			Name:         name,
			Type:         model.TypeTableAsset,
			Catalog:      id.Account,
			Schema:       "tables",
			LastModified: time.Now().UTC(),
			Source:       tableServiceSource,
		})
	}
	result.add(id.Account, descriptors...)
	return result, nil
}

// QueueServiceAdapter discovers the queues of an Azure storage account.
type QueueServiceAdapter struct {
	logger *log.Logger
	open   func(ctx context.Context, id azureIdentity) (nameLister, error)
}

func NewQueueServiceAdapter(logger *log.Logger) *QueueServiceAdapter {
	if logger == nil {
		logger = log.Default()
	}
	return &QueueServiceAdapter{
		logger: logger,
		open: func(_ context.Context, id azureIdentity) (nameLister, error) {
			return newAzqueueLister(id)
		},
	}
}

func (a *QueueServiceAdapter) Discover(ctx context.Context, conn model.Connector) (*Result, error) {
	id, err := resolveAzureIdentity(conn)
	if err != nil {
		return nil, err
	}

	lister, err := a.open(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
	}

	names, err := lister.Names(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: list queues: %v", ErrRemoteUnavailable, err)
	}

	result := &Result{}
	descriptors := make([]model.AssetDescriptor, 0, len(names))
	for _, name := range names {
		descriptors = append(descriptors, model.AssetDescriptor{
			ID:           fmt.Sprintf("https://%s.queue.core.windows.net/%s", id.Account, name),
			Name:         name,
			Type:         model.TypeQueueAsset,
			Catalog:      id.Account,
			Schema:       "queues",
			LastModified: time.Now().UTC(),
			Source:       queueServiceSource,
		})
	}
	result.add(id.Account, descriptors...)
	return result, nil
}

type aztablesLister struct {
	client *aztables.ServiceClient
}

func newAztablesLister(id azureIdentity) (*aztablesLister, error) {
	if id.ConnectionString != "" {
		client, err := aztables.NewServiceClientFromConnectionString(id.ConnectionString, nil)
		if err != nil {
			return nil, err
		}
		return &aztablesLister{client: client}, nil
	}

	cred, err := aztables.NewSharedKeyCredential(id.Account, id.Key)
	if err != nil {
		return nil, err
	}
	serviceURL := fmt.Sprintf("https://%s.table.core.windows.net/", id.Account)
	client, err := aztables.NewServiceClientWithSharedKey(serviceURL, cred, nil)
	if err != nil {
		return nil, err
	}
	return &aztablesLister{client: client}, nil
}

func (l *aztablesLister) Names(ctx context.Context) ([]string, error) {
	var names []string
	pager := l.client.NewListTablesPager(nil)
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, table := range resp.Tables {
			if table.Name != nil {
				names = append(names, *table.Name)
			}
		}
	}
	return names, nil
}

type azqueueLister struct {
	client *azqueue.ServiceClient
}

func newAzqueueLister(id azureIdentity) (*azqueueLister, error) {
	if id.ConnectionString != "" {
		client, err := azqueue.NewServiceClientFromConnectionString(id.ConnectionString, nil)
		if err != nil {
			return nil, err
		}
		return &azqueueLister{client: client}, nil
	}

	cred, err := azqueue.NewSharedKeyCredential(id.Account, id.Key)
	if err != nil {
		return nil, err
	}
	serviceURL := fmt.Sprintf("https://%s.queue.core.windows.net/", id.Account)
	client, err := azqueue.NewServiceClientWithSharedKeyCredential(serviceURL, cred, nil)
	if err != nil {
		return nil, err
	}
	return &azqueueLister{client: client}, nil
}

func (l *azqueueLister) Names(ctx context.Context) ([]string, error) {
	var names []string
	pager := l.client.NewListQueuesPager(nil)
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, queue := range resp.Queues {
			if queue.Name != nil {
				names = append(names, *queue.Name)
			}
		}
	}
	return names, nil
}
