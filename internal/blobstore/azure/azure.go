// Package azure implements blobstore.Store on an Azure Blob Storage container.
package azure

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/sas"
	"github.com/rs/zerolog/log"

	"github.com/superbatch-dev/superbatch/internal/blobstore"
)

// Options selects the storage account and container. ConnectionString wins
// over AccountName/AccountKey when set.
type Options struct {
	ConnectionString string
	AccountName      string
	AccountKey       string
	Container        string
}

// Store is a blobstore.Store bound to one container.
type Store struct {
	name     string
	cred     *azblob.SharedKeyCredential
	client   *container.Client
	protocol sas.Protocol
}

// New builds a container client from shared key credentials.
func New(opts Options) (*Store, error) {
	acct, err := resolveAccount(opts)
	if err != nil {
		return nil, err
	}
	cred, err := azblob.NewSharedKeyCredential(acct.Name, acct.Key)
	if err != nil {
		return nil, fmt.Errorf("storage credential: %w", err)
	}
	containerURL := strings.TrimSuffix(acct.BlobEndpoint, "/") + "/" + opts.Container
	client, err := container.NewClientWithSharedKeyCredential(containerURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("container client: %w", err)
	}
	return &Store{name: opts.Container, cred: cred, client: client, protocol: sasProtocol(acct.BlobEndpoint)}, nil
}

// sasProtocol allows plain http in signatures only for http endpoints, such
// as a local emulator.
func sasProtocol(endpoint string) sas.Protocol {
	if strings.HasPrefix(strings.ToLower(endpoint), "http://") {
		return sas.ProtocolHTTPSandHTTP
	}
	return sas.ProtocolHTTPS
}

func (s *Store) EnsureContainer(ctx context.Context) error {
	_, err := s.client.Create(ctx, nil)
	if err == nil {
		log.Debug().Str("container", s.name).Msg("Created storage container")
		return nil
	}
	if bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
		return nil
	}
	return fmt.Errorf("create container %s: %w", s.name, err)
}

func (s *Store) Upload(ctx context.Context, name string, body io.Reader, size int64) error {
	if _, err := s.client.NewBlockBlobClient(name).UploadStream(ctx, body, nil); err != nil {
		return fmt.Errorf("upload %s: %w", name, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, name string) error {
	_, err := s.client.NewBlobClient(name).Delete(ctx, nil)
	if err == nil {
		return nil
	}
	if bloberror.HasCode(err, bloberror.BlobNotFound) {
		return fmt.Errorf("delete %s: %w", name, blobstore.ErrNotFound)
	}
	return fmt.Errorf("delete %s: %w", name, err)
}

func (s *Store) List(ctx context.Context) ([]blobstore.ObjectInfo, error) {
	var out []blobstore.ObjectInfo
	pager := s.client.NewListBlobsFlatPager(nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list blobs: %w", err)
		}
		if page.Segment == nil {
			continue
		}
		for _, item := range page.Segment.BlobItems {
			if item == nil || item.Name == nil {
				continue
			}
			info := blobstore.ObjectInfo{Name: *item.Name}
			if item.Properties != nil && item.Properties.ContentLength != nil {
				info.Size = *item.Properties.ContentLength
			}
			out = append(out, info)
		}
	}
	return out, nil
}

func (s *Store) Download(ctx context.Context, name string, w io.Writer) (int64, error) {
	resp, err := s.client.NewBlobClient(name).DownloadStream(ctx, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return 0, fmt.Errorf("download %s: %w", name, blobstore.ErrNotFound)
		}
		return 0, fmt.Errorf("download %s: %w", name, err)
	}
	defer resp.Body.Close()
	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("read %s: %w", name, err)
	}
	return n, nil
}

func (s *Store) ReadURL(ctx context.Context, name string, ttl time.Duration) (string, error) {
	qp, err := sas.BlobSignatureValues{
		Protocol:      s.protocol,
		ExpiryTime:    time.Now().UTC().Add(ttl),
		Permissions:   to.Ptr(sas.BlobPermissions{Read: true}).String(),
		ContainerName: s.name,
		BlobName:      name,
	}.SignWithSharedKey(s.cred)
	if err != nil {
		return "", fmt.Errorf("sign blob %s: %w", name, err)
	}
	return s.client.NewBlobClient(name).URL() + "?" + qp.Encode(), nil
}

func (s *Store) ContainerURL(ctx context.Context, ttl time.Duration) (string, error) {
	qp, err := sas.BlobSignatureValues{
		Protocol:      s.protocol,
		ExpiryTime:    time.Now().UTC().Add(ttl),
		Permissions:   to.Ptr(sas.ContainerPermissions{Read: true, Write: true, Delete: true, List: true}).String(),
		ContainerName: s.name,
	}.SignWithSharedKey(s.cred)
	if err != nil {
		return "", fmt.Errorf("sign container %s: %w", s.name, err)
	}
	return s.client.URL() + "?" + qp.Encode(), nil
}

func (s *Store) DeleteContainer(ctx context.Context) error {
	_, err := s.client.Delete(ctx, nil)
	if err == nil {
		return nil
	}
	if bloberror.HasCode(err, bloberror.ContainerNotFound) {
		return fmt.Errorf("delete container %s: %w", s.name, blobstore.ErrNotFound)
	}
	return fmt.Errorf("delete container %s: %w", s.name, err)
}
