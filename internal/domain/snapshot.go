package domain

import (
	"sort"
	"strings"
)

// Snapshot is a multi-venue pool dataset keyed by venue identifier. It is the
// JSON document produced by ingestion and consumed once per cycle.
type Snapshot map[string]VenuePools

// VenuePools holds one venue's pools and the token records they reference.
type VenuePools struct {
	Data     []PoolRecord  `json:"data"`
	Included []TokenRecord `json:"included"`
	Meta     *PageMeta     `json:"meta,omitempty"`
}

// PageMeta is informational metadata written by ingestion.
type PageMeta struct {
	Pages     int    `json:"pages,omitempty"`
	FetchedAt string `json:"fetched_at,omitempty"`
}

// PoolRecord is a single liquidity pool as reported by the indexer.
type PoolRecord struct {
	ID            string            `json:"id"`
	Type          string            `json:"type,omitempty"`
	Attributes    *PoolAttributes   `json:"attributes"`
	Relationships PoolRelationships `json:"relationships"`
}

// PoolAttributes carries the decimal-string fields of a pool.
type PoolAttributes struct {
	Name               string `json:"name"`
	Address            string `json:"address"`
	ReserveInUSD       string `json:"reserve_in_usd"`
	BaseTokenPriceUSD  string `json:"base_token_price_usd"`
	QuoteTokenPriceUSD string `json:"quote_token_price_usd"`
}

// PoolRelationships links a pool to its tokens and venue.
type PoolRelationships struct {
	BaseToken  Relationship `json:"base_token"`
	QuoteToken Relationship `json:"quote_token"`
	Dex        Relationship `json:"dex"`
}

// Relationship wraps a resource reference.
type Relationship struct {
	Data *ResourceRef `json:"data"`
}

// ResourceRef identifies a related resource.
type ResourceRef struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// RefID returns the referenced id, or "" when absent.
func (r Relationship) RefID() string {
	if r.Data == nil {
		return ""
	}
	return r.Data.ID
}

// TokenRecord is an included token resource.
type TokenRecord struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Attributes TokenAttributes `json:"attributes"`
}

// TokenAttributes holds token metadata.
type TokenAttributes struct {
	Address  string `json:"address,omitempty"`
	Name     string `json:"name,omitempty"`
	Symbol   string `json:"symbol"`
	Decimals *int   `json:"decimals,omitempty"`
}

// ChainPrefix is the chain-scope prefix on indexer token ids.
const ChainPrefix = "eth_"

// TokenAddress derives a lowercase token address from a chain-prefixed id.
func TokenAddress(tokenID string) string {
	return strings.ToLower(strings.TrimPrefix(tokenID, ChainPrefix))
}

// VenueIDs returns the snapshot's venue identifiers in lexical order.
func (s Snapshot) VenueIDs() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// PoolCount returns the total number of pool records across venues.
func (s Snapshot) PoolCount() int {
	n := 0
	for _, v := range s {
		n += len(v.Data)
	}
	return n
}

// TokenDirectory indexes every included token resource by id. Only records
// of type "token" with a non-empty id and symbol are kept.
func (s Snapshot) TokenDirectory() map[string]TokenRecord {
	dir := make(map[string]TokenRecord)
	for _, id := range s.VenueIDs() {
		for _, t := range s[id].Included {
			if t.Type != "token" || t.ID == "" || t.Attributes.Symbol == "" {
				continue
			}
			if _, ok := dir[t.ID]; !ok {
				dir[t.ID] = t
			}
		}
	}
	return dir
}
