package invoice

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/zlin/invoice-tracker/internal/ocr"
)

// unknownItemName replaces an empty commodity name on a reconciled line.
const unknownItemName = "unknown item"

// unsignedDecimalRe gates quantity parsing. OCR quantity fields are the
// least reliable, so anything that is not a plain unsigned decimal is
// treated as "no quantity" rather than a parse error.
var unsignedDecimalRe = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)

// parseAmount parses a money string leniently: thousands separators are
// stripped and unparseable text becomes zero.
func parseAmount(s string) decimal.Decimal {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// parseQuantity parses a quantity string, accepting only unsigned decimal
// numbers. Everything else means the quantity is unknown.
func parseQuantity(s string) decimal.Decimal {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	if !unsignedDecimalRe.MatchString(s) {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// unitPrice is the canonical pricing rule, applied both at ingestion and at
// export: a known nonzero quantity divides the tax-inclusive total, and a
// zero/unknown quantity means the unit price is the line total itself.
func unitPrice(total, quantity decimal.Decimal) decimal.Decimal {
	if !quantity.IsZero() {
		return total.Div(quantity)
	}
	return total
}

// LineColumns carries the parallel per-line value sequences of one invoice's
// commodity table. The name sequence is the authoritative line count.
type LineColumns struct {
	Names      []string
	Specs      []string
	Units      []string
	Quantities []string
	Amounts    []string
	Taxes      []string
	TaxRates   []string
}

// ColumnsFromFields pulls the commodity columns out of a recognized field
// mapping.
func ColumnsFromFields(f ocr.Fields) LineColumns {
	return LineColumns{
		Names:      f.List("CommodityName"),
		Specs:      f.List("CommodityType"),
		Units:      f.List("CommodityUnit"),
		Quantities: f.List("CommodityNum"),
		Amounts:    f.List("CommodityAmount"),
		Taxes:      f.List("CommodityTax"),
		TaxRates:   f.List("CommodityTaxRate"),
	}
}

// at indexes a column that may be shorter than the name column.
func at(col []string, i int) string {
	if i < len(col) {
		return col[i]
	}
	return ""
}

// ReconcileItems produces one canonical line record per commodity name,
// deriving the tax-inclusive amount, the unit price, and the stored quantity
// from the raw OCR text.
func ReconcileItems(cols LineColumns) []*Item {
	items := make([]*Item, 0, len(cols.Names))
	for i, name := range cols.Names {
		amount := parseAmount(at(cols.Amounts, i))
		tax := parseAmount(at(cols.Taxes, i))
		quantity := parseQuantity(at(cols.Quantities, i))

		amountWithTax := amount.Add(tax)
		price := unitPrice(amountWithTax, quantity)

		quantityStr := ""
		if !quantity.IsZero() {
			quantityStr = quantity.String()
		}
		if name == "" {
			name = unknownItemName
		}

		items = append(items, &Item{
			Row:      i + 1,
			Name:     name,
			Spec:     at(cols.Specs, i),
			Unit:     at(cols.Units, i),
			Quantity: quantityStr,
			Price:    price.StringFixed(4),
			Amount:   amountWithTax.StringFixed(2),
			TaxRate:  at(cols.TaxRates, i),
			Tax:      tax.String(),
		})
	}
	return items
}
