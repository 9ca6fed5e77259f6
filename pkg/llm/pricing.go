package llm

// ModelPrice holds per-1K-token prices in USD.
type ModelPrice struct {
	InputPer1K  float64
	OutputPer1K float64
}

// PriceTable maps model identifiers to their prices. Models missing from
// the table are charged at the default entry.
type PriceTable map[string]ModelPrice

// DefaultPriceModel is the fallback entry applied to unknown models.
const DefaultPriceModel = "kimi-k2p5"

// DefaultPrices is the built-in price table.
var DefaultPrices = PriceTable{
	"kimi-k2p5":             {InputPer1K: 0.0003, OutputPer1K: 0.0012},
	"kimi-k2-instruct-0905": {InputPer1K: 0.0003, OutputPer1K: 0.0012},
}

// Cost estimates the USD cost of a call:
// inputTokens/1000 * input price + outputTokens/1000 * output price.
func (t PriceTable) Cost(model string, inputTokens, outputTokens int) float64 {
	price, ok := t[model]
	if !ok {
		price, ok = t[DefaultPriceModel]
		if !ok {
			price = DefaultPrices[DefaultPriceModel]
		}
	}
	return float64(inputTokens)/1000*price.InputPer1K + float64(outputTokens)/1000*price.OutputPer1K
}
