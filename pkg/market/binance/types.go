package market

// Ticker holds the last traded price of a symbol.
type Ticker struct {
	Symbol string
	Price  float64
	Time   int64
}

type miniTickerMessage struct {
	Event     string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	Close     string `json:"c"`
}
