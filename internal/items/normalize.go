// Package items normalises NFT and collection records from the tool service's
// heterogeneous JSON payloads into AggregatedItems.
package items

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// AggregatedItem is one displayable record (an NFT or a collection).
type AggregatedItem struct {
	Identifier      string `json:"identifier"`
	Name            string `json:"name"`
	ImageURL        string `json:"image_url,omitempty"`
	DisplayImageURL string `json:"display_image_url,omitempty"`
	Collection      string `json:"collection,omitempty"`
	FloorPrice      any    `json:"floor_price,omitempty"`
	Description     string `json:"description,omitempty"`
}

// Shape tags one known upstream payload variant.
type Shape int

const (
	ShapeSearchResults Shape = iota + 1
	ShapeItems
	ShapeCollections
	ShapeTrendingCollections
	ShapeItemsByQuery
	ShapeCollectionStats
)

func (s Shape) String() string {
	switch s {
	case ShapeSearchResults:
		return "results"
	case ShapeItems:
		return "items"
	case ShapeCollections:
		return "collections"
	case ShapeTrendingCollections:
		return "trendingCollections"
	case ShapeItemsByQuery:
		return "itemsByQuery"
	case ShapeCollectionStats:
		return "collectionStats"
	}
	return "unknown"
}

// record is a decoded JSON object with lenient field access.
type record map[string]any

// Payload is one parsed tool-result body.
type Payload struct {
	root record
}

// Parse decodes a tool-result text body. Non-object or invalid JSON is an error;
// callers treat that as "not structured data" and move on.
func Parse(text string) (*Payload, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(text)))
	dec.UseNumber()

	var root map[string]any
	if err := dec.Decode(&root); err != nil {
		return nil, fmt.Errorf("tool result is not a JSON object: %w", err)
	}
	return &Payload{root: root}, nil
}

// Keys lists the payload's top-level fields, for logging.
func (p *Payload) Keys() []string {
	keys := make([]string, 0, len(p.root))
	for k := range p.root {
		keys = append(keys, k)
	}
	return keys
}

// Shapes reports every chat-side variant the payload matches. A payload may
// match several; each is normalised independently.
func (p *Payload) Shapes() []Shape {
	var shapes []Shape
	if _, ok := p.root["results"].([]any); ok {
		shapes = append(shapes, ShapeSearchResults)
	}
	if p.truthy("items") || p.truthy("nfts") {
		shapes = append(shapes, ShapeItems)
	}
	if p.truthy("collections") && !p.truthy("results") {
		shapes = append(shapes, ShapeCollections)
	}
	if _, ok := p.root["trendingCollections"].([]any); ok {
		shapes = append(shapes, ShapeTrendingCollections)
	}
	if _, ok := p.root["itemsByQuery"].([]any); ok {
		shapes = append(shapes, ShapeItemsByQuery)
	}
	return shapes
}

func (p *Payload) truthy(key string) bool {
	v, ok := p.root[key]
	return ok && v != nil && v != false
}

// Aggregator accumulates items across every tool result of one request.
// It does not de-duplicate.
type Aggregator struct {
	items []AggregatedItem
}

func NewAggregator() *Aggregator {
	return &Aggregator{items: []AggregatedItem{}}
}

// Items returns everything collected so far.
func (a *Aggregator) Items() []AggregatedItem {
	return a.items
}

// Len reports the number of collected items.
func (a *Aggregator) Len() int {
	return len(a.items)
}

// Add normalises every recognised variant in p and appends the results.
func (a *Aggregator) Add(p *Payload) {
	for _, shape := range p.Shapes() {
		switch shape {
		case ShapeSearchResults:
			a.items = append(a.items, nftsFrom(p.root["results"], false)...)
		case ShapeItems:
			list := p.root["items"]
			if !p.truthy("items") {
				list = p.root["nfts"]
			}
			a.items = append(a.items, nftsFrom(list, false)...)
		case ShapeCollections:
			// Metadata for a single collection, only when nothing else was found.
			if len(a.items) == 0 {
				if cols := collectionsFrom(p.root["collections"], shape); len(cols) > 0 {
					a.items = append(a.items, cols[0])
				}
			}
		case ShapeTrendingCollections:
			a.items = append(a.items, collectionsFrom(p.root["trendingCollections"], shape)...)
		case ShapeItemsByQuery:
			a.items = append(a.items, nftsFrom(p.root["itemsByQuery"], true)...)
		}
	}
}

// CollectionStats normalises a bulk get_collections payload as returned for
// the collections lookup endpoint, keeping at most limit entries. Shapes
// never reports ShapeCollectionStats; chat results go through Add.
func CollectionStats(p *Payload, limit int) []AggregatedItem {
	out := collectionsFrom(p.root["collections"], ShapeCollectionStats)
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func nftsFrom(list any, identifierInName bool) []AggregatedItem {
	entries, _ := list.([]any)
	out := make([]AggregatedItem, 0, len(entries))
	for _, entry := range entries {
		nft, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		r := record(nft)

		fallbackID := r.str("id")
		if identifierInName && fallbackID == "" {
			fallbackID = r.str("identifier")
		}

		out = append(out, AggregatedItem{
			Identifier: r.first("id", "identifier", "tokenId"),
			Name:       orDefault(r.first("name", "metadata.name"), "#"+fallbackID),
			ImageURL:   r.first("imageUrl", "image_url", "metadata.imageUrl"),
			Collection: r.first("collection.slug", "collectionSlug", "collection"),
		})
	}
	return out
}

func collectionsFrom(list any, shape Shape) []AggregatedItem {
	entries, _ := list.([]any)
	out := make([]AggregatedItem, 0, len(entries))
	for _, entry := range entries {
		col, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		r := record(col)

		switch shape {
		case ShapeCollections:
			slug := r.str("slug")
			out = append(out, AggregatedItem{
				Identifier:  slug,
				Name:        orDefault(r.str("name"), slug),
				ImageURL:    r.str("imageUrl"),
				Collection:  slug,
				FloorPrice:  r.price("floorPrice.pricePerItem.native.unit"),
				Description: truncateRunes(r.str("description"), 100),
			})
		case ShapeTrendingCollections:
			slug := r.first("slug", "collectionSlug")
			out = append(out, AggregatedItem{
				Identifier: slug,
				Name:       orDefault(r.str("name"), r.str("slug")),
				ImageURL:   r.first("imageUrl", "image_url"),
				Collection: slug,
				FloorPrice: r.price("floorPrice.native.unit"),
			})
		case ShapeCollectionStats:
			slug := r.str("slug")
			out = append(out, AggregatedItem{
				Identifier:      slug,
				Name:            orDefault(r.str("name"), slug),
				ImageURL:        r.str("imageUrl"),
				DisplayImageURL: r.str("imageUrl"),
				Collection:      slug,
				FloorPrice:      r.price("stats.floorPrice.native.unit"),
			})
		}
	}
	return out
}

// value walks a dotted path and returns the raw leaf, or nil.
func (r record) value(path string) any {
	var cur any = map[string]any(r)
	for _, key := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur, ok = obj[key]
		if !ok {
			return nil
		}
	}
	return cur
}

// price keeps numeric leaves as numbers and passes strings through.
func (r record) price(path string) any {
	switch v := r.value(path).(type) {
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f
		}
		return v.String()
	case string:
		if v != "" {
			return v
		}
	}
	return nil
}

// str renders a scalar leaf as a string. Objects, arrays, nulls, false and
// empty strings all yield "".
func (r record) str(path string) string {
	switch v := r.value(path).(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case bool:
		if v {
			return "true"
		}
	}
	return ""
}

// first returns the first non-empty value among paths.
func (r record) first(paths ...string) string {
	for _, path := range paths {
		if s := r.str(path); s != "" {
			return s
		}
	}
	return ""
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
