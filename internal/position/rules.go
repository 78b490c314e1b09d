package position

// PartialTPLevel is halfway to the configured take profit.
func PartialTPLevel(p *Position, tpPercent float64) float64 {
	if p.IsLong() {
		return p.EntryPrice * (1 + tpPercent/200)
	}
	return p.EntryPrice * (1 - tpPercent/200)
}

// PartialTPDue reports whether the one-time partial take profit should run.
func PartialTPDue(p *Position, price, tpPercent float64) bool {
	if p.PartialExecuted || tpPercent <= 0 {
		return false
	}
	level := PartialTPLevel(p, tpPercent)
	if p.IsLong() {
		return price >= level
	}
	return price <= level
}

// PartialQuantity is the share of the current quantity closed by a partial TP.
func PartialQuantity(p *Position, percent float64) float64 {
	return p.Quantity * percent / 100
}

// InitTrailing starts the trailing stop at the entry price and the initial
// stop.
func InitTrailing(p *Position) {
	p.Trailing = Trailing{Highest: p.EntryPrice, Lowest: p.EntryPrice, CurrentStop: p.StopPrice}
}

// UpdateTrailing tracks the running extreme and ratchets the stop toward
// the price. The stop never loosens. It reports whether the stop moved and
// whether price has crossed it.
func UpdateTrailing(p *Position, price, distancePercent float64) (moved, hit bool) {
	t := &p.Trailing
	if p.IsLong() {
		if price > t.Highest {
			t.Highest = price
			if stop := price * (1 - distancePercent/100); stop > t.CurrentStop {
				t.CurrentStop = stop
				moved = true
			}
		}
		return moved, t.CurrentStop > 0 && price <= t.CurrentStop
	}
	if price < t.Lowest {
		t.Lowest = price
		if stop := price * (1 + distancePercent/100); t.CurrentStop == 0 || stop < t.CurrentStop {
			t.CurrentStop = stop
			moved = true
		}
	}
	return moved, t.CurrentStop > 0 && price >= t.CurrentStop
}

// DCATrigger is the price at which the next averaging order fires.
func DCATrigger(p *Position, distancePercent float64) float64 {
	if p.IsLong() {
		return p.DCA.LastPrice * (1 - distancePercent/100)
	}
	return p.DCA.LastPrice * (1 + distancePercent/100)
}

// DCADue reports whether price has moved far enough against the last fill.
func DCADue(p *Position, price float64, maxSteps int, distancePercent float64) bool {
	if p.DCA.Steps >= maxSteps || distancePercent <= 0 {
		return false
	}
	trigger := DCATrigger(p, distancePercent)
	if p.IsLong() {
		return price <= trigger
	}
	return price >= trigger
}

// ApplyDCA books an averaging fill of qty at price.
func ApplyDCA(p *Position, price, qty float64) {
	total := p.Quantity + qty
	if total > 0 {
		p.AvgEntryPrice = (p.AvgEntryPrice*p.Quantity + price*qty) / total
	}
	p.Quantity = total
	p.RemainingQuantity += qty
	p.DCA.Steps++
	p.DCA.LastPrice = price
}

// ExitReason returns stop_loss or take_profit when price has reached a
// protective level. The stop is checked first.
func ExitReason(p *Position, price float64) (string, bool) {
	if p.IsLong() {
		if p.StopPrice > 0 && price <= p.StopPrice {
			return ReasonStopLoss, true
		}
		if p.TakeProfitPrice > 0 && price >= p.TakeProfitPrice {
			return ReasonTakeProfit, true
		}
		return "", false
	}
	if p.StopPrice > 0 && price >= p.StopPrice {
		return ReasonStopLoss, true
	}
	if p.TakeProfitPrice > 0 && price <= p.TakeProfitPrice {
		return ReasonTakeProfit, true
	}
	return "", false
}
