package parser

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/aluiziolira/openbox-deals/models"
)

var (
	// priceToken is the first run of digits, commas and dots holding a digit.
	priceToken = regexp.MustCompile(`[\d.,]*\d[\d.,]*`)
	// wellFormedPrice accepts 1299, 1,299, 1,299.99 and .99.
	wellFormedPrice = regexp.MustCompile(`^(?:\d{1,3}(?:,\d{3})+|\d+)?(?:\.\d+)?$`)
)

// ParsePrice extracts the first number from free-form price text such as
// "$1,299.99" or "From 45 USD". Thousands separators are accepted; a token
// such as "1,,2" or "1.2.3" is malformed and reported as unparseable.
func ParsePrice(text string) (float64, bool) {
	token := strings.TrimRight(priceToken.FindString(text), ".,")
	if token == "" || !wellFormedPrice.MatchString(token) {
		return 0, false
	}
	value, err := strconv.ParseFloat(strings.ReplaceAll(token, ",", ""), 64)
	if err != nil {
		return 0, false
	}
	return value, true
}

// FilterByPrice keeps products priced at or below ceiling. The sale price is
// used, falling back to the original price. With strict set, products whose
// price cannot be read are dropped; otherwise they are kept and flagged.
func FilterByPrice(products []models.Product, ceiling float64, strict bool) []models.Product {
	out := make([]models.Product, 0, len(products))
	for _, p := range products {
		text := p.SalePrice
		if strings.TrimSpace(text) == "" {
			text = p.OriginalPrice
		}

		price, ok := ParsePrice(text)
		switch {
		case ok && price <= ceiling:
			out = append(out, p)
		case !ok && !strict:
			p.PriceUnknown = true
			out = append(out, p)
		}
	}
	return out
}
