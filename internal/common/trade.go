package common

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Trade is immutable once emitted. Both referenced orders existed and were
// live at the point of match (spec §3 invariant).
type Trade struct {
	TradeID          string
	InstrumentSymbol string
	BuyerOrderID     string
	SellerOrderID    string
	BuyerTeamID      string
	SellerTeamID     string
	Price            decimal.Decimal
	Quantity         uint64
	AggressorSide    Side
	Timestamp        time.Time
}

func (t Trade) String() string {
	return fmt.Sprintf(
		"Trade{id=%s symbol=%s buyer=%s/%s seller=%s/%s price=%s qty=%d aggressor=%s ts=%v}",
		t.TradeID, t.InstrumentSymbol, t.BuyerOrderID, t.BuyerTeamID, t.SellerOrderID, t.SellerTeamID,
		t.Price, t.Quantity, t.AggressorSide, t.Timestamp.Format(time.RFC3339Nano),
	)
}
