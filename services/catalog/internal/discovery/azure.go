package discovery

import (
	"fmt"
	"strings"

	"catalogd/services/catalog/internal/model"
)

// azureIdentity is the resolved scope for one Azure storage account,
// derived from either an explicit account/key pair or a connection string.
type azureIdentity struct {
	Account          string
	Key              string
	ConnectionString string
}

// resolveAzureIdentity extracts the storage account identity from connector
// config. The account name embedded in a connection string wins over nothing,
// but an explicit account_name wins over both.
func resolveAzureIdentity(conn model.Connector) (azureIdentity, error) {
	id := azureIdentity{
		Account:          conn.ConfigString("account_name", "accountName"),
		Key:              conn.ConfigString("account_key", "accountKey"),
		ConnectionString: conn.ConfigString("connection_string", "connectionString"),
	}

	if id.Account == "" && id.ConnectionString != "" {
		for _, part := range strings.Split(id.ConnectionString, ";") {
			if rest, ok := strings.CutPrefix(part, "AccountName="); ok {
				id.Account = rest
				break
			}
		}
	}

	if id.Account == "" {
		return azureIdentity{}, fmt.Errorf("%w: connector %s resolves no storage account identity", ErrConfiguration, conn.ID)
	}
	if id.ConnectionString == "" && id.Key == "" {
		return azureIdentity{}, fmt.Errorf("%w: connector %s needs a connection string or an account key", ErrConfiguration, conn.ID)
	}
	return id, nil
}
