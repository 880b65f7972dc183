package bot

import "time"

// Direction of an open position.
const (
	DirectionLong  = 1
	DirectionShort = -1
)

// Position is the bot's single open market exposure. The controller is its
// only owner and mutator; at most one exists at a time.
type Position struct {
	Direction     int // +1 long, -1 short
	EntryPrice    float64
	Size          float64
	EntryTime     time.Time
	Duration      int // cycles held
	UnrealizedPnL float64
	StopLoss      float64
	TakeProfit    float64
	Confidence    float64
}

// DirectionLabel returns LONG or SHORT for logs and the trade log.
func (p *Position) DirectionLabel() string {
	if p.Direction == DirectionLong {
		return "LONG"
	}
	return "SHORT"
}

// MarkToMarket refreshes the unrealized pnl at the given price.
func (p *Position) MarkToMarket(price float64) {
	p.UnrealizedPnL = (price - p.EntryPrice) * p.Size * float64(p.Direction)
}
