package models

import (
	"strings"

	"github.com/shopspring/decimal"
)

// 无小数位币种（金额即主单位）
var zeroDecimalCurrencies = map[string]struct{}{
	"bif": {}, "clp": {}, "djf": {}, "gnf": {}, "jpy": {}, "kmf": {}, "krw": {}, "mga": {},
	"pyg": {}, "rwf": {}, "ugx": {}, "vnd": {}, "vuv": {}, "xaf": {}, "xof": {}, "xpf": {},
}

// CurrencyExponent 返回币种的小数位数
func CurrencyExponent(currency string) int32 {
	if _, ok := zeroDecimalCurrencies[strings.ToLower(strings.TrimSpace(currency))]; ok {
		return 0
	}
	return 2
}

// MinorToDecimal 最小货币单位转为主单位金额
func MinorToDecimal(amount int64, currency string) decimal.Decimal {
	return decimal.New(amount, -CurrencyExponent(currency))
}

// FormatMinorAmount 格式化展示金额，例如 2500 usd -> "25.00"
func FormatMinorAmount(amount int64, currency string) string {
	return MinorToDecimal(amount, currency).StringFixed(CurrencyExponent(currency))
}

// FormatMinorAmountWithCurrency 带币种代码的展示金额，例如 "25.00 USD"
func FormatMinorAmountWithCurrency(amount int64, currency string) string {
	return FormatMinorAmount(amount, currency) + " " + strings.ToUpper(strings.TrimSpace(currency))
}
