package market

import "example.com/click/backend/internal/models"

type Symbol struct {
	Symbol string            `json:"symbol"`
	Type   models.SymbolType `json:"type"`
}

var (
	stockSymbols = []string{
		"AAPL", "MSFT", "GOOGL", "AMZN", "META",
		"TSLA", "NVDA", "JPM", "V", "WMT",
		"JNJ", "PG", "MA", "HD", "BAC",
		"DIS", "NFLX", "ADBE", "CSCO", "PFE",
	}
	etfSymbols = []string{
		"SPY", "QQQ", "VTI", "VOO", "IVV",
		"VEA", "VWO", "VUG", "VYM", "VNQ",
		"GLD", "SLV", "USO", "TLT", "IEF",
		"HYG", "LQD", "MUB", "VNQI", "VGT",
	}
	bondSymbols = []string{
		"HYG", "JNK", "USHY", "SHYG", "ANGL",
		"HYEM", "HYMB", "GHYG", "HYXU", "IHY",
	}
)

// DefaultUniverse возвращает тикеры акций, ETF и облигационных фондов без повторов.
func DefaultUniverse() []Symbol {
	universe := make([]Symbol, 0, len(stockSymbols)+len(etfSymbols)+len(bondSymbols))
	seen := make(map[string]struct{})

	add := func(symbols []string, kind models.SymbolType) {
		for _, symbol := range symbols {
			if _, ok := seen[symbol]; ok {
				continue
			}
			seen[symbol] = struct{}{}
			universe = append(universe, Symbol{Symbol: symbol, Type: kind})
		}
	}

	add(stockSymbols, models.SymbolStock)
	add(etfSymbols, models.SymbolETF)
	add(bondSymbols, models.SymbolBond)

	return universe
}

// Counts считает тикеры по типам.
func Counts(universe []Symbol) map[models.SymbolType]int {
	counts := make(map[models.SymbolType]int)
	for _, symbol := range universe {
		counts[symbol.Type]++
	}

	return counts
}

func typeIndex(universe []Symbol) map[string]models.SymbolType {
	index := make(map[string]models.SymbolType, len(universe))
	for _, symbol := range universe {
		index[symbol.Symbol] = symbol.Type
	}

	return index
}
