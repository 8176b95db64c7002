package discovery

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azfile/directory"
	azservice "github.com/Azure/azure-sdk-for-go/sdk/storage/azfile/service"

	"catalogd/services/catalog/internal/model"
)

const fileShareSource = "Azure Files"

// shareEntry is one directory listing item, relative to the share root.
type shareEntry struct {
	Path      string
	Dir       bool
	SizeBytes int64
	Modified  time.Time
}

// shareService abstracts the file-share listing calls so the traversal logic
// is testable without the vendor SDK.
type shareService interface {
	Shares(ctx context.Context) ([]string, error)
	Entries(ctx context.Context, share, dir string) ([]shareEntry, error)
}

// FileShareAdapter discovers Azure file shares, walking each share's
// directory tree depth first and synthesizing a Folder descriptor per
// directory.
type FileShareAdapter struct {
	logger *log.Logger
	open   func(ctx context.Context, id azureIdentity) (shareService, error)
}

// NewFileShareAdapter builds the adapter backed by the Azure Files SDK.
func NewFileShareAdapter(logger *log.Logger) *FileShareAdapter {
	if logger == nil {
		logger = log.Default()
	}
	return &FileShareAdapter{
		logger: logger,
		open: func(_ context.Context, id azureIdentity) (shareService, error) {
			return newAzfileService(id)
		},
	}
}

func (a *FileShareAdapter) Discover(ctx context.Context, conn model.Connector) (*Result, error) {
	id, err := resolveAzureIdentity(conn)
	if err != nil {
		return nil, err
	}

	svc, err := a.open(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
	}

	var shares []string
	if scoped := conn.ConfigString("share_name", "shareName"); scoped != "" {
		shares = []string{scoped}
	} else {
		shares, err = svc.Shares(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: list shares: %v", ErrRemoteUnavailable, err)
		}
	}

	result := &Result{}
	for _, share := range shares {
		descriptors, err := a.walkShare(ctx, svc, id.Account, share)
		if err != nil {
			a.logger.Printf("WARN connector %s: skipping share %s: %v", conn.ID, share, err)
			result.skip(share, err)
			continue
		}
		result.add(share, descriptors...)
	}

	return result, nil
}

// walkShare traverses one share depth first. A directory that fails to list
// is reported through the error return only at the root; deeper failures are
// logged and pruned so one bad subtree does not discard the share.
func (a *FileShareAdapter) walkShare(ctx context.Context, svc shareService, account, share string) ([]model.AssetDescriptor, error) {
	var descriptors []model.AssetDescriptor

	var walk func(dir string) error
	walk = func(dir string) error {
		entries, err := svc.Entries(ctx, share, dir)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			if entry.Dir {
				descriptors = append(descriptors, shareDescriptor(account, share, entry))
				if err := walk(entry.Path); err != nil {
					a.logger.Printf("WARN share %s: skipping directory %s: %v", share, entry.Path, err)
				}
				continue
			}
			descriptors = append(descriptors, shareDescriptor(account, share, entry))
		}
		return nil
	}

	if err := walk(""); err != nil {
		return nil, err
	}
	return descriptors, nil
}

func shareDescriptor(account, share string, entry shareEntry) model.AssetDescriptor {
	modified := entry.Modified
	if modified.IsZero() {
		modified = time.Now().UTC()
	}
	d := model.AssetDescriptor{
		ID:           fmt.Sprintf("https://%s.file.core.windows.net/%s/%s", account, share, entry.Path),
		Name:         model.BaseName(entry.Path),
		Catalog:      share,
		Schema:       model.SchemaOf(entry.Path),
		SizeBytes:    entry.SizeBytes,
		LastModified: modified,
		Source:       fileShareSource,
	}
	if entry.Dir {
		d.Type = model.TypeFolderAsset
	} else {
		d.Type = model.Classify(entry.Path)
	}
	return d
}

// azfileService implements shareService on the Azure Files data-plane SDK.
type azfileService struct {
	client *azservice.Client
}

func newAzfileService(id azureIdentity) (*azfileService, error) {
	if id.ConnectionString != "" {
		client, err := azservice.NewClientFromConnectionString(id.ConnectionString, nil)
		if err != nil {
			return nil, err
		}
		return &azfileService{client: client}, nil
	}

	cred, err := azservice.NewSharedKeyCredential(id.Account, id.Key)
	if err != nil {
		return nil, err
	}
	serviceURL := fmt.Sprintf("https://%s.file.core.windows.net/", id.Account)
	client, err := azservice.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
	if err != nil {
		return nil, err
	}
	return &azfileService{client: client}, nil
}

func (s *azfileService) Shares(ctx context.Context) ([]string, error) {
	var names []string
	pager := s.client.NewListSharesPager(nil)
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, item := range resp.Shares {
			if item.Name != nil {
				names = append(names, *item.Name)
			}
		}
	}
	return names, nil
}

func (s *azfileService) Entries(ctx context.Context, share, dir string) ([]shareEntry, error) {
	shareClient := s.client.NewShareClient(share)
	var dirClient *directory.Client
	if dir == "" {
		dirClient = shareClient.NewRootDirectoryClient()
	} else {
		dirClient = shareClient.NewDirectoryClient(dir)
	}

	var entries []shareEntry
	pager := dirClient.NewListFilesAndDirectoriesPager(&directory.ListFilesAndDirectoriesOptions{
		Include: directory.ListFilesInclude{Timestamps: true},
	})
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, item := range resp.Segment.Directories {
			if item.Name == nil || *item.Name == "" {
				continue
			}
			entry := shareEntry{Path: joinSharePath(dir, *item.Name), Dir: true}
			if item.Properties != nil && item.Properties.LastModified != nil {
				entry.Modified = *item.Properties.LastModified
			}
			entries = append(entries, entry)
		}
		for _, item := range resp.Segment.Files {
			if item.Name == nil || *item.Name == "" {
				continue
			}
			entry := shareEntry{Path: joinSharePath(dir, *item.Name)}
			if item.Properties != nil {
				if item.Properties.ContentLength != nil {
					entry.SizeBytes = *item.Properties.ContentLength
				}
				if item.Properties.LastModified != nil {
					entry.Modified = *item.Properties.LastModified
				}
			}
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func joinSharePath(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + "/" + name
}
