package market

import "testing"

func TestParseMiniTicker(t *testing.T) {
	msg := []byte(`{"e":"24hrMiniTicker","E":1700000000000,"s":"ETHUSDT","c":"2012.55","o":"2000","h":"2050","l":"1990","v":"10","q":"20000"}`)
	tk, err := parseMiniTicker(msg)
	if err != nil {
		t.Fatalf("parseMiniTicker error: %v", err)
	}
	if tk.Symbol != "ETHUSDT" || tk.Price != 2012.55 || tk.Time != 1700000000000 {
		t.Fatalf("ticker=%+v, expected ETHUSDT 2012.55", tk)
	}

	if _, err := parseMiniTicker([]byte(`{"e":"24hrMiniTicker","s":"ETHUSDT","c":"abc"}`)); err == nil {
		t.Fatalf("expected error for malformed close price")
	}
}
