package sync

import (
	"marketplace-sync-service/internal/marketplace"
	"marketplace-sync-service/internal/store"
)

type Mode string

const (
	ModeFull Mode = "full"
	// ModeIncremental filters the listing to records modified since the
	// last completed run of the same resource type.
	ModeIncremental Mode = "incremental"
)

// Request describes one sync run. Zero values fall back to the configured
// defaults; an empty Accounts slice means both accounts. Strategy is the
// wire name (remote_priority, local_priority, manual_merge).
type Request struct {
	ResourceType marketplace.ResourceType
	Accounts     []marketplace.Account
	Mode         Mode
	MaxPages     int
	ItemsPerPage int
	Strategy     string
}

// ParseAccounts resolves the API's account list, where "both" (or an empty
// list) expands to the two seller accounts.
func ParseAccounts(names []string) ([]marketplace.Account, error) {
	if len(names) == 0 {
		return []marketplace.Account{marketplace.AccountPrimary, marketplace.AccountFulfillment}, nil
	}

	seen := make(map[marketplace.Account]bool)
	var accounts []marketplace.Account
	for _, name := range names {
		if name == "both" {
			for _, a := range []marketplace.Account{marketplace.AccountPrimary, marketplace.AccountFulfillment} {
				if !seen[a] {
					seen[a] = true
					accounts = append(accounts, a)
				}
			}
			continue
		}
		account, err := marketplace.ParseAccount(name)
		if err != nil {
			return nil, err
		}
		if !seen[account] {
			seen[account] = true
			accounts = append(accounts, account)
		}
	}
	return accounts, nil
}

// StatusReport is the payload of the status endpoint.
type StatusReport struct {
	IsRunning  bool                  `json:"is_running"`
	CurrentRun *store.SyncLog        `json:"current_run,omitempty"`
	Progress   []*store.SyncProgress `json:"progress,omitempty"`
	RecentRuns []*store.SyncLog      `json:"recent_runs"`
}
