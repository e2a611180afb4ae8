package calculator

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/thechillpixel0/tallyra/internal/domain"
)

// UPIReference builds the upi://pay deep link a customer's UPI app scans.
// It is empty when the shop has no UPI id configured.
func UPIReference(shop domain.Shop, amount decimal.Decimal) string {
	if strings.TrimSpace(shop.UPIID) == "" {
		return ""
	}
	name := escapeComponent(shop.Name)
	currency := shop.Currency
	if currency == "" {
		currency = "INR"
	}
	return fmt.Sprintf("upi://pay?pa=%s&pn=%s&am=%s&cu=%s&tn=Payment%%20to%%20%s",
		shop.UPIID, name, amount.StringFixed(2), currency, name)
}

func escapeComponent(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
