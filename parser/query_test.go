package parser

import (
	"errors"
	"math"
	"strings"
	"testing"
)

func floatPtr(v float64) *float64 { return &v }

func TestParseQuery(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		maxPrice  *float64
		wantText  string
		wantField string
	}{
		{name: "plain", raw: "xbox", wantText: "xbox"},
		{name: "trimmed", raw: "  ps5 digital  ", wantText: "ps5 digital"},
		{name: "markup stripped", raw: `<script>"iphone";</script>`, wantText: "scriptiphone/script"},
		{name: "quotes stripped", raw: `it's "pixel"`, wantText: "its pixel"},
		{name: "with price", raw: "switch", maxPrice: floatPtr(250), wantText: "switch"},
		{name: "zero price", raw: "switch", maxPrice: floatPtr(0), wantText: "switch"},
		{name: "too long", raw: strings.Repeat("a", MaxQueryLen+1), wantField: "query"},
		{name: "no alphanumerics", raw: "<<>>;;", wantField: "query"},
		{name: "only symbols", raw: "!!!", wantField: "query"},
		{name: "too short", raw: "a", wantField: "query"},
		{name: "negative price", raw: "xbox", maxPrice: floatPtr(-1), wantField: "max_price"},
		{name: "huge price", raw: "xbox", maxPrice: floatPtr(MaxPriceCeiling + 1), wantField: "max_price"},
		{name: "nan price", raw: "xbox", maxPrice: floatPtr(math.NaN()), wantField: "max_price"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := ParseQuery(tt.raw, tt.maxPrice)
			if tt.wantField != "" {
				var verr *ValidationError
				if !errors.As(err, &verr) {
					t.Fatalf("expected ValidationError, got %v", err)
				}
				if verr.Field != tt.wantField {
					t.Fatalf("field = %q, want %q", verr.Field, tt.wantField)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if q.Text != tt.wantText {
				t.Fatalf("text = %q, want %q", q.Text, tt.wantText)
			}
			if (tt.maxPrice != nil) != q.HasPriceCeiling() {
				t.Fatalf("price ceiling presence mismatch")
			}
		})
	}
}

func TestParseQueryCopiesPrice(t *testing.T) {
	price := 100.0
	q, err := ParseQuery("xbox", &price)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	price = 5
	if *q.MaxPrice != 100 {
		t.Fatalf("max price = %v, want 100 (copied)", *q.MaxPrice)
	}
}
