package symbol

import (
	"strings"
)

// 现货市场代码为 "{报价货币}-{币种}"，本系统只挂 KRW 报价。
const QuoteKRW = "KRW"

type Symbol struct {
	Base  string
	Quote string
}

// Market returns the exchange market code, e.g. "KRW-BTC".
func (s Symbol) Market() string {
	if s.Base == "" || s.Quote == "" {
		return ""
	}
	return s.Quote + "-" + s.Base
}

// Market builds the KRW market code for a coin.
func Market(coin string) string {
	coin = NormalizeCoin(coin)
	if coin == "" {
		return ""
	}
	return QuoteKRW + "-" + coin
}

// Parse 接受 "KRW-BTC"、"BTC/KRW" 或裸币种 "btc"。
func Parse(s string) Symbol {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return Symbol{}
	}
	if parts := strings.SplitN(s, "-", 2); len(parts) == 2 {
		return Symbol{Base: strings.TrimSpace(parts[1]), Quote: strings.TrimSpace(parts[0])}
	}
	if parts := strings.SplitN(s, "/", 2); len(parts) == 2 {
		return Symbol{Base: strings.TrimSpace(parts[0]), Quote: strings.TrimSpace(parts[1])}
	}
	return Symbol{Base: s, Quote: QuoteKRW}
}

func NormalizeCoin(s string) string {
	sym := Parse(s)
	return sym.Base
}

func NormalizeList(coins []string) []string {
	if len(coins) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(coins))
	out := make([]string, 0, len(coins))
	for _, c := range coins {
		norm := NormalizeCoin(c)
		if norm == "" {
			continue
		}
		if _, ok := seen[norm]; ok {
			continue
		}
		seen[norm] = struct{}{}
		out = append(out, norm)
	}
	return out
}

func IsValid(s string) bool {
	sym := Parse(s)
	return sym.Base != "" && sym.Quote != ""
}
