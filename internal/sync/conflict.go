package sync

import (
	"bytes"
	"encoding/json"
	"fmt"

	"marketplace-sync-service/internal/marketplace"
	"marketplace-sync-service/internal/store"
)

// Strategy decides which side wins when a remote record meets an existing
// local entity. The set is closed; Resolve switches over it exhaustively.
type Strategy int

const (
	// RemotePriority overwrites every remote-owned field; the marketplace
	// is authoritative for listed price/stock.
	RemotePriority Strategy = iota
	// LocalPriority keeps local values and only refreshes bookkeeping.
	LocalPriority
	// ManualMerge overwrites only fields that actually differ and are not
	// locked by a manual override.
	ManualMerge
)

func ParseStrategy(s string) (Strategy, error) {
	switch s {
	case "remote_priority":
		return RemotePriority, nil
	case "local_priority":
		return LocalPriority, nil
	case "manual_merge":
		return ManualMerge, nil
	}
	return RemotePriority, fmt.Errorf("unknown conflict strategy %q", s)
}

func (s Strategy) String() string {
	switch s {
	case RemotePriority:
		return "remote_priority"
	case LocalPriority:
		return "local_priority"
	case ManualMerge:
		return "manual_merge"
	}
	return "unknown"
}

// Resolve merges an incoming remote record into an existing entity. It is
// pure: no I/O, no clock, never fails for well-formed input (records without
// a business key are rejected before they get here). The second return
// reports whether any non-bookkeeping field changed, which is what the
// updated count reflects under manual_merge.
func Resolve(existing *store.LocalEntity, incoming marketplace.RemoteRecord, strategy Strategy) (store.LocalEntity, bool) {
	candidate := entityFromRecord(incoming)
	if existing == nil {
		return candidate, true
	}

	switch strategy {
	case RemotePriority:
		merged := candidate
		merged.ID = existing.ID
		merged.CreatedAt = existing.CreatedAt
		merged.ManualOverrides = existing.ManualOverrides
		return merged, true

	case LocalPriority:
		merged := *existing
		merged.RemoteUpdatedAt = incoming.UpdatedAt
		return merged, false

	case ManualMerge:
		merged := *existing
		merged.RemoteUpdatedAt = incoming.UpdatedAt

		locked := make(map[string]bool, len(existing.ManualOverrides))
		for _, field := range existing.ManualOverrides {
			locked[field] = true
		}

		changed := false
		if !locked["price"] && merged.Price != candidate.Price {
			merged.Price = candidate.Price
			changed = true
		}
		if !locked["stock"] && merged.Stock != candidate.Stock {
			merged.Stock = candidate.Stock
			changed = true
		}
		if !locked["status"] && merged.Status != candidate.Status {
			merged.Status = candidate.Status
			changed = true
		}
		if !locked["customer"] && !bytes.Equal(merged.CustomerInfo, candidate.CustomerInfo) {
			merged.CustomerInfo = candidate.CustomerInfo
			changed = true
		}
		if !locked["line_items"] && !bytes.Equal(merged.LineItems, candidate.LineItems) {
			merged.LineItems = candidate.LineItems
			changed = true
		}
		if !locked["is_active"] && merged.IsActive != candidate.IsActive {
			merged.IsActive = candidate.IsActive
			changed = true
		}
		return merged, changed
	}

	return candidate, true
}

func entityFromRecord(rec marketplace.RemoteRecord) store.LocalEntity {
	e := store.LocalEntity{
		BusinessKey: rec.BusinessKey,
		Account:     string(rec.Account),
		Price:       rec.Price,
		Stock:       rec.Stock,
		Status:      rec.Status,
		// Remote delisting arrives as status "removed"; it deactivates the
		// entity but never deletes the row.
		IsActive:        rec.Status != "removed",
		RemoteUpdatedAt: rec.UpdatedAt,
	}
	if rec.Customer != nil {
		b, _ := json.Marshal(rec.Customer)
		e.CustomerInfo = b
	}
	if len(rec.Items) > 0 {
		b, _ := json.Marshal(rec.Items)
		e.LineItems = b
	}
	return e
}
