package mapper

import (
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-sync/internal/integration"
)

var hundred = decimal.NewFromInt(100)

func round2(value decimal.Decimal) decimal.Decimal {
	return value.Round(2)
}

func monetary(qty, unitPrice decimal.Decimal) decimal.Decimal {
	return round2(qty.Mul(unitPrice))
}

func abs(value decimal.Decimal) decimal.Decimal {
	return value.Abs()
}

// amount renders a decimal as a JSON number.
func amount(value decimal.Decimal) float64 {
	return round2(value).InexactFloat64()
}

func quantity(value decimal.Decimal) float64 {
	return value.Round(4).InexactFloat64()
}

// lineNet is the tax exclusive line amount.
func lineNet(line integration.DocumentLine) decimal.Decimal {
	return monetary(line.Quantity, line.UnitPrice)
}

// lineTax applies the percentage TaxRate to the net amount.
func lineTax(line integration.DocumentLine) decimal.Decimal {
	return round2(lineNet(line).Mul(line.TaxRate).Div(hundred))
}

type totals struct {
	Net   decimal.Decimal
	Tax   decimal.Decimal
	Gross decimal.Decimal
}

func documentTotals(doc integration.Document) totals {
	var t totals
	for _, line := range doc.Lines {
		t.Net = t.Net.Add(lineNet(line))
		t.Tax = t.Tax.Add(lineTax(line))
	}
	t.Gross = t.Net.Add(t.Tax)
	return t
}
