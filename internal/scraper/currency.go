package scraper

import "strings"

// Currency is one Steam store currency and the storefront country used to
// price it.
type Currency struct {
	Code    string
	Country string
	Symbol  string
	Name    string
}

var currencies = []Currency{
	{"USD", "US", "$", "U.S. Dollar"},
	{"EUR", "DE", "€", "Euro"},
	{"GBP", "GB", "£", "British Pound"},
	{"RUB", "RU", "₽", "Russian Ruble"},
	{"AUD", "AU", "A$", "Australian Dollar"},
	{"CAD", "CA", "C$", "Canadian Dollar"},
	{"BRL", "BR", "R$", "Brazilian Real"},
	{"TRY", "TR", "₺", "Turkish Lira"},
	{"PLN", "PL", "zł", "Polish Zloty"},
	{"UAH", "UA", "₴", "Ukrainian Hryvnia"},
	{"JPY", "JP", "¥", "Japanese Yen"},
	{"CNY", "CN", "¥", "Chinese Yuan"},
	{"KRW", "KR", "₩", "South Korean Won"},
	{"INR", "IN", "₹", "Indian Rupee"},
	{"MXN", "MX", "$", "Mexican Peso"},
	{"ARS", "AR", "$", "Argentine Peso"},
	{"CLP", "CL", "$", "Chilean Peso"},
	{"COP", "CO", "$", "Colombian Peso"},
	{"PEN", "PE", "S/", "Peruvian Sol"},
	{"ZAR", "ZA", "R", "South African Rand"},
	{"SGD", "SG", "S$", "Singapore Dollar"},
	{"HKD", "HK", "HK$", "Hong Kong Dollar"},
	{"TWD", "TW", "NT$", "New Taiwan Dollar"},
	{"THB", "TH", "฿", "Thai Baht"},
	{"IDR", "ID", "Rp", "Indonesian Rupiah"},
	{"MYR", "MY", "RM", "Malaysian Ringgit"},
	{"PHP", "PH", "₱", "Philippine Peso"},
	{"VND", "VN", "₫", "Vietnamese Dong"},
	{"ILS", "IL", "₪", "New Israeli Shekel"},
	{"AED", "AE", "د.إ", "UAE Dirham"},
	{"SAR", "SA", "﷼", "Saudi Riyal"},
	{"KWD", "KW", "د.ك", "Kuwaiti Dinar"},
	{"QAR", "QA", "﷼", "Qatari Riyal"},
	{"KZT", "KZ", "₸", "Kazakhstani Tenge"},
	{"UYU", "UY", "$U", "Uruguayan Peso"},
	{"CRC", "CR", "₡", "Costa Rican Colon"},
	{"NOK", "NO", "kr", "Norwegian Krone"},
	{"NZD", "NZ", "NZ$", "New Zealand Dollar"},
	{"CHF", "CH", "CHF", "Swiss Franc"},
	{"SEK", "SE", "kr", "Swedish Krona"},
	{"DKK", "DK", "kr", "Danish Krone"},
	{"CZK", "CZ", "Kč", "Czech Koruna"},
	{"HUF", "HU", "Ft", "Hungarian Forint"},
	{"RON", "RO", "lei", "Romanian Leu"},
	{"BGN", "BG", "лв", "Bulgarian Lev"},
	{"HRK", "HR", "kn", "Croatian Kuna"},
	{"BYN", "BY", "Br", "Belarusian Ruble"},
}

var currencyByCode = func() map[string]Currency {
	m := make(map[string]Currency, len(currencies))
	for _, c := range currencies {
		m[c.Code] = c
	}
	return m
}()

// Currencies returns every supported currency in a stable order.
func Currencies() []Currency {
	out := make([]Currency, len(currencies))
	copy(out, currencies)
	return out
}

// LookupCurrency falls back to the code itself for symbol and name.
func LookupCurrency(code string) (Currency, bool) {
	code = strings.ToUpper(strings.TrimSpace(code))
	c, ok := currencyByCode[code]
	if !ok {
		return Currency{Code: code, Symbol: code, Name: code}, false
	}
	return c, true
}

// CurrenciesByCode resolves codes, dropping unknown ones.
func CurrenciesByCode(codes []string) []Currency {
	out := make([]Currency, 0, len(codes))
	for _, code := range codes {
		if c, ok := LookupCurrency(code); ok {
			out = append(out, c)
		}
	}
	return out
}
