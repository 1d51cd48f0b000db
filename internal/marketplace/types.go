package marketplace

import (
	"fmt"
	"time"
)

// Account identifies one of the two seller contexts against the marketplace.
// Each account has its own credentials and its own rate-limit budget.
type Account string

const (
	AccountPrimary     Account = "primary"
	AccountFulfillment Account = "fulfillment"
)

func ParseAccount(s string) (Account, error) {
	switch Account(s) {
	case AccountPrimary, AccountFulfillment:
		return Account(s), nil
	}
	return "", fmt.Errorf("unknown account %q", s)
}

type ResourceType string

const (
	ResourceProducts ResourceType = "products"
	ResourceOrders   ResourceType = "orders"
)

func ParseResourceType(s string) (ResourceType, error) {
	switch ResourceType(s) {
	case ResourceProducts, ResourceOrders:
		return ResourceType(s), nil
	}
	return "", fmt.Errorf("unknown resource type %q", s)
}

type Customer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type LineItem struct {
	SKU      string  `json:"sku"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"`
}

// RemoteRecord is one catalog offer or order as returned by the marketplace.
// BusinessKey is the identifier the marketplace issued; it is stable across
// syncs and is what local entities are deduplicated on.
type RemoteRecord struct {
	BusinessKey string     `json:"id"`
	Account     Account    `json:"-"`
	Price       float64    `json:"price"`
	Stock       int        `json:"stock"`
	Status      string     `json:"status"`
	Customer    *Customer  `json:"customer,omitempty"`
	Items       []LineItem `json:"items,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// PageResult is one decoded page. HasMore is a heuristic: a full page means
// more pages likely exist, a short page means the listing is exhausted.
type PageResult struct {
	Page    int
	Records []RemoteRecord
	HasMore bool
}

// listResponse is the wire envelope of the marketplace list endpoint.
type listResponse struct {
	Results  []RemoteRecord `json:"results"`
	IsError  bool           `json:"isError"`
	Messages []string       `json:"messages"`
}
