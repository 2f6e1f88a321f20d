package parser

import (
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"unicode"

	"github.com/aluiziolira/openbox-deals/models"
)

// Field limits applied by Sanitize, in runes.
const (
	MaxNameLen      = 200
	MaxPriceLen     = 20
	MaxConditionLen = 50
	MaxURLLen       = 2048
)

// DefaultName replaces a missing product name.
const DefaultName = "Unknown"

// Sanitize converts a raw record into a Product with every field bounded.
// The URL survives only if it is an absolute http(s) URL with a host.
func Sanitize(raw RawRecord) models.Product {
	name := truncate(firstText(raw, "name", "title", "product_name"), MaxNameLen)
	if name == "" {
		name = DefaultName
	}
	return models.Product{
		Name:          name,
		OriginalPrice: truncate(firstText(raw, "original_price"), MaxPriceLen),
		SalePrice:     truncate(firstText(raw, "sale_price", "price"), MaxPriceLen),
		Condition:     truncate(firstText(raw, "condition"), MaxConditionLen),
		ProductURL:    ValidateURL(firstText(raw, "product_url", "url", "link")),
	}
}

// SanitizeAll sanitizes every record.
func SanitizeAll(raws []RawRecord) []models.Product {
	out := make([]models.Product, 0, len(raws))
	for _, raw := range raws {
		out = append(out, Sanitize(raw))
	}
	return out
}

// ValidateURL returns raw if it is a safe absolute link, otherwise "".
func ValidateURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || len(raw) > MaxURLLen {
		return ""
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return ""
	}
	if parsed.Host == "" || parsed.Hostname() == "" {
		return ""
	}
	return raw
}

func firstText(raw RawRecord, keys ...string) string {
	for _, key := range keys {
		if text := stringify(raw[key]); text != "" {
			return text
		}
	}
	return ""
}

// stringify renders a decoded JSON value as display text. null becomes "".
func stringify(v any) string {
	var s string
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		s = val
	case float64:
		s = strconv.FormatFloat(val, 'f', -1, 64)
	case json.Number:
		s = val.String()
	case bool:
		s = strconv.FormatBool(val)
	case int:
		s = strconv.Itoa(val)
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		s = string(data)
	}
	return strings.TrimSpace(stripControl(s))
}

func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return strings.TrimSpace(string(runes[:max]))
}
