package azure

import (
	"fmt"
	"strings"
)

type account struct {
	Name         string
	Key          string
	BlobEndpoint string
}

func resolveAccount(opts Options) (account, error) {
	if opts.Container == "" {
		return account{}, fmt.Errorf("storage container name is required")
	}
	if opts.ConnectionString != "" {
		return parseConnectionString(opts.ConnectionString)
	}
	if opts.AccountName == "" || opts.AccountKey == "" {
		return account{}, fmt.Errorf("storage account name and key are required without a connection string")
	}
	return account{
		Name:         opts.AccountName,
		Key:          opts.AccountKey,
		BlobEndpoint: fmt.Sprintf("https://%s.blob.core.windows.net", opts.AccountName),
	}, nil
}

// parseConnectionString reads the account name, key and blob endpoint out of
// a storage connection string. An explicit BlobEndpoint wins over one built
// from DefaultEndpointsProtocol and EndpointSuffix.
func parseConnectionString(cs string) (account, error) {
	fields := map[string]string{}
	for _, part := range strings.Split(cs, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		i := strings.IndexByte(part, '=')
		if i <= 0 {
			return account{}, fmt.Errorf("malformed connection string segment %q", part)
		}
		fields[strings.ToLower(part[:i])] = part[i+1:]
	}
	acct := account{
		Name:         fields["accountname"],
		Key:          fields["accountkey"],
		BlobEndpoint: fields["blobendpoint"],
	}
	if acct.Name == "" || acct.Key == "" {
		return account{}, fmt.Errorf("connection string must carry AccountName and AccountKey")
	}
	if acct.BlobEndpoint == "" {
		protocol := fields["defaultendpointsprotocol"]
		if protocol == "" {
			protocol = "https"
		}
		suffix := fields["endpointsuffix"]
		if suffix == "" {
			suffix = "core.windows.net"
		}
		acct.BlobEndpoint = fmt.Sprintf("%s://%s.blob.%s", protocol, acct.Name, suffix)
	}
	return acct, nil
}
