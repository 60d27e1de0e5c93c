// Package derived computes dashboard metrics from raw ledger values.
// Every function is pure: identical inputs always give identical outputs.
package derived

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

var hundred = big.NewRat(100, 1)

// TicketCount is floor(staked / cost), or 0 when cost is missing or not positive.
func TicketCount(staked, cost *big.Int) *big.Int {
	if staked == nil || cost == nil || cost.Sign() <= 0 || staked.Sign() <= 0 {
		return new(big.Int)
	}
	return new(big.Int).Quo(staked, cost)
}

// WinRatePercent is userTickets / totalTickets * 100 clamped to [0, 100],
// or 0 when there are no tickets in the round.
func WinRatePercent(userTickets, totalTickets *big.Int) float64 {
	if userTickets == nil || totalTickets == nil || totalTickets.Sign() <= 0 || userTickets.Sign() <= 0 {
		return 0
	}
	if userTickets.Cmp(totalTickets) >= 0 {
		return 100
	}

	rate := new(big.Rat).SetFrac(userTickets, totalTickets)
	percent, _ := rate.Mul(rate, hundred).Float64()
	return percent
}

// FormatUnits scales a raw token amount down by decimals.
func FormatUnits(amount *big.Int, decimals int32) decimal.Decimal {
	if amount == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(amount, -decimals)
}

// Price is the latest known asset price. A zero Price is unavailable.
type Price struct {
	USD       float64
	Available bool
}

// USD is a dollar amount that may be unavailable.
type USD struct {
	Amount    decimal.Decimal
	Available bool
}

func (u USD) String() string {
	if !u.Available {
		return "unavailable"
	}
	return "$" + u.Amount.StringFixed(2)
}

// TotalStakedUSD values total at price. A missing total or price yields an
// unavailable amount, never zero.
func TotalStakedUSD(total *big.Int, decimals int32, price Price) USD {
	if total == nil || !price.Available {
		return USD{}
	}
	amount := FormatUnits(total, decimals).Mul(decimal.NewFromFloat(price.USD)).Round(2)
	return USD{Amount: amount, Available: true}
}

// EntryCutoffSeconds is the time left before entries roll into the next
// round. The boundary instant counts as closed.
func EntryCutoffSeconds(timeUntilDraw, cutoffWindow uint64) uint64 {
	if cutoffWindow >= timeUntilDraw {
		return 0
	}
	return timeUntilDraw - cutoffWindow
}

// InterestAccrued is the yield sitting in the investment position above the
// staked principal, floored at zero.
func InterestAccrued(investmentBalance, totalStaked *big.Int) *big.Int {
	if investmentBalance == nil || totalStaked == nil {
		return nil
	}
	interest := new(big.Int).Sub(investmentBalance, totalStaked)
	if interest.Sign() < 0 {
		return new(big.Int)
	}
	return interest
}

// FormatCutoff renders cutoff seconds as "Entry Closed", "Xh Ym" or "Ym".
func FormatCutoff(seconds uint64) string {
	if seconds == 0 {
		return "Entry Closed"
	}

	hours := seconds / 3600
	minutes := (seconds % 3600) / 60
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}

type Countdown struct {
	Days    uint64 `json:"days"`
	Hours   uint64 `json:"hours"`
	Minutes uint64 `json:"minutes"`
	Seconds uint64 `json:"seconds"`
}

func SplitCountdown(seconds uint64) Countdown {
	return Countdown{
		Days:    seconds / 86400,
		Hours:   (seconds % 86400) / 3600,
		Minutes: (seconds % 3600) / 60,
		Seconds: seconds % 60,
	}
}

func (c Countdown) String() string {
	return fmt.Sprintf("%dd %02dh %02dm %02ds", c.Days, c.Hours, c.Minutes, c.Seconds)
}

type AccountMetrics struct {
	TicketCount    *big.Int
	WinRatePercent float64
}

func Account(staked, cost, userTicketsInRound, totalTicketsInRound *big.Int) AccountMetrics {
	return AccountMetrics{
		TicketCount:    TicketCount(staked, cost),
		WinRatePercent: WinRatePercent(userTicketsInRound, totalTicketsInRound),
	}
}
