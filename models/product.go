// Package models defines data structures shared by the aggregator.
package models

// Product is a sanitized listing ready to be sent to a client.
type Product struct {
	Name          string `json:"name"`
	OriginalPrice string `json:"original_price"`
	SalePrice     string `json:"sale_price"`
	Condition     string `json:"condition"`
	ProductURL    string `json:"product_url,omitempty"`
	PriceUnknown  bool   `json:"price_unknown,omitempty"`
}

// Query is a validated search request.
type Query struct {
	Text     string
	MaxPrice *float64
}

// HasPriceCeiling reports whether results should be filtered by price.
func (q Query) HasPriceCeiling() bool {
	return q.MaxPrice != nil
}
