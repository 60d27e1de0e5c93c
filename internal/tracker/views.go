package tracker

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"lotterydash/internal/aggregator"
	"lotterydash/internal/blockchain"
	"lotterydash/internal/derived"
	"lotterydash/internal/orchestrator"
	"lotterydash/internal/storage"
)

var ErrUnknownFlow = errors.New("unknown flow")

type FieldStatus string

const (
	StatusLoading     FieldStatus = "loading"
	StatusError       FieldStatus = "error"
	StatusReady       FieldStatus = "ready"
	StatusUnavailable FieldStatus = "unavailable"
)

// Field is a displayed value with its availability. Value is only meaningful
// when Status is ready.
type Field[T any] struct {
	Value  T           `json:"value"`
	Status FieldStatus `json:"status"`
	Error  string      `json:"error,omitempty"`
}

func ready[T any](value T) Field[T] {
	return Field[T]{Value: value, Status: StatusReady}
}

// fieldOf maps a query state to a Field, converting its data when ready.
func fieldOf[T, V any](state aggregator.State[T], convert func(T) V) Field[V] {
	switch {
	case state.Err != nil:
		return Field[V]{Status: StatusError, Error: state.Err.Error()}
	case state.HasData:
		return ready(convert(state.Data))
	case state.Disabled:
		return Field[V]{Status: StatusUnavailable}
	default:
		return Field[V]{Status: StatusLoading}
	}
}

// blocked returns the first non-ready status among inputs, if any.
func blocked(states ...Field[struct{}]) (Field[struct{}], bool) {
	for _, status := range []FieldStatus{StatusError, StatusLoading, StatusUnavailable} {
		for _, s := range states {
			if s.Status == status {
				return s, true
			}
		}
	}
	return Field[struct{}]{}, false
}

func presence[T any](state aggregator.State[T]) Field[struct{}] {
	return fieldOf(state, func(T) struct{} { return struct{}{} })
}

func carry[V any](from Field[struct{}]) Field[V] {
	return Field[V]{Status: from.Status, Error: from.Error}
}

type PoolView struct {
	TotalStaked     Field[string]  `json:"totalStaked"`
	TotalStakedUSD  Field[string]  `json:"totalStakedUsd"`
	TotalTickets    Field[string]  `json:"totalTickets"`
	YieldGenerated  Field[string]  `json:"yieldGenerated"`
	InterestAccrued Field[string]  `json:"interestAccrued"`
	PriceUSD        Field[float64] `json:"priceUsd"`
}

type AccountView struct {
	Connected      bool           `json:"connected"`
	Address        string         `json:"address,omitempty"`
	Staked         Field[string]  `json:"staked"`
	TicketCount    Field[string]  `json:"ticketCount"`
	WinRatePercent Field[float64] `json:"winRatePercent"`
}

type RoundView struct {
	Round              Field[string]            `json:"round"`
	TicketsInRound     Field[string]            `json:"ticketsInRound"`
	UserTicketsInRound Field[string]            `json:"userTicketsInRound"`
	TimeUntilDraw      Field[uint64]            `json:"timeUntilDraw"`
	EntryCutoffSeconds Field[uint64]            `json:"entryCutoffSeconds"`
	EntryCutoff        Field[string]            `json:"entryCutoff"`
	Countdown          Field[derived.Countdown] `json:"countdown"`
}

type WinnerView struct {
	Round   string `json:"round"`
	Address string `json:"address"`
	Amount  string `json:"amount"`
}

type TransactionView struct {
	ID        string    `json:"id"`
	Flow      string    `json:"flow"`
	Operation string    `json:"operation"`
	Amount    string    `json:"amount,omitempty"`
	TxHash    string    `json:"txHash,omitempty"`
	Phase     string    `json:"phase"`
	Reason    string    `json:"reason,omitempty"`
	Stale     bool      `json:"stale"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type TransitionView struct {
	From string    `json:"from"`
	To   string    `json:"to"`
	At   time.Time `json:"at"`
}

type TransactionDetail struct {
	TransactionView
	Transitions []TransitionView `json:"transitions"`
}

type QuoteView struct {
	Tickets   uint64 `json:"tickets"`
	PerTicket string `json:"perTicket"`
	Total     string `json:"total"`
	TotalRaw  string `json:"totalRaw"`
}

func (t *Tracker) units(amount *big.Int) string {
	return derived.FormatUnits(amount, t.cfg.TokenDecimals).StringFixed(DisplayDecimals)
}

func integer(value *big.Int) string {
	return value.String()
}

func (t *Tracker) Pool() PoolView {
	agg := t.aggregator
	staked := agg.TotalStaked.State()

	view := PoolView{
		TotalStaked:    fieldOf(staked, t.units),
		TotalTickets:   fieldOf(agg.TicketCount.State(), integer),
		YieldGenerated: fieldOf(agg.TotalYieldGenerated.State(), t.units),
	}

	quote := t.prices.Quote()
	if quote.Available {
		view.PriceUSD = ready(quote.USD)
	} else {
		view.PriceUSD = Field[float64]{Status: StatusUnavailable}
	}

	if blocker, ok := blocked(presence(staked)); ok {
		view.TotalStakedUSD = carry[string](blocker)
	} else if usd := derived.TotalStakedUSD(staked.Data, t.cfg.TokenDecimals, quote); usd.Available {
		view.TotalStakedUSD = ready(usd.String())
	} else {
		view.TotalStakedUSD = Field[string]{Status: StatusUnavailable}
	}

	investment := agg.InvestmentBalance.State()
	if blocker, ok := blocked(presence(investment), presence(staked)); ok {
		view.InterestAccrued = carry[string](blocker)
	} else {
		view.InterestAccrued = ready(t.units(derived.InterestAccrued(investment.Data, staked.Data)))
	}

	return view
}

func (t *Tracker) Account() AccountView {
	agg := t.aggregator
	address, connected := agg.Address()

	view := AccountView{Connected: connected}
	if !connected {
		unavailable := Field[struct{}]{Status: StatusUnavailable}
		view.Staked = carry[string](unavailable)
		view.TicketCount = carry[string](unavailable)
		view.WinRatePercent = carry[float64](unavailable)
		return view
	}
	view.Address = address.Hex()

	stakes := agg.UserStakes.State()
	cost := agg.TicketPurchaseCost.State()
	view.Staked = fieldOf(stakes, t.units)

	if blocker, ok := blocked(presence(stakes), presence(cost)); ok {
		view.TicketCount = carry[string](blocker)
	} else {
		view.TicketCount = ready(derived.TicketCount(stakes.Data, cost.Data).String())
	}

	userInRound := agg.UserTicketsInRound.State()
	totalInRound := agg.TicketsInRound.State()
	if blocker, ok := blocked(presence(userInRound), presence(totalInRound)); ok {
		view.WinRatePercent = carry[float64](blocker)
	} else {
		view.WinRatePercent = ready(derived.WinRatePercent(userInRound.Data, totalInRound.Data))
	}

	return view
}

func (t *Tracker) Round() RoundView {
	agg := t.aggregator
	view := RoundView{
		Round:              fieldOf(agg.CurrentRound.State(), integer),
		TicketsInRound:     fieldOf(agg.TicketsInRound.State(), integer),
		UserTicketsInRound: fieldOf(agg.UserTicketsInRound.State(), integer),
	}

	draw := agg.TimeUntilNextDraw.State()
	seconds := func(v *big.Int) uint64 {
		if !v.IsUint64() {
			return 0
		}
		return v.Uint64()
	}
	view.TimeUntilDraw = fieldOf(draw, seconds)

	window := uint64(t.cfg.CutoffWindow / time.Second)
	view.EntryCutoffSeconds = fieldOf(draw, func(v *big.Int) uint64 {
		return derived.EntryCutoffSeconds(seconds(v), window)
	})
	view.EntryCutoff = fieldOf(draw, func(v *big.Int) string {
		return derived.FormatCutoff(derived.EntryCutoffSeconds(seconds(v), window))
	})

	if t.countdown.Synced() {
		view.Countdown = ready(derived.SplitCountdown(t.countdown.Remaining()))
	} else {
		view.Countdown = carry[derived.Countdown](presence(draw))
	}

	return view
}

func (t *Tracker) Winners() Field[[]WinnerView] {
	return fieldOf(t.aggregator.Winners.State(), func(winners []blockchain.Winner) []WinnerView {
		views := make([]WinnerView, 0, len(winners))
		for _, w := range winners {
			views = append(views, WinnerView{
				Round:   w.Round.String(),
				Address: w.Winner.Hex(),
				Amount:  t.units(w.Amount),
			})
		}
		return views
	})
}

// flows maps the public flow names to journal flow types.
var flows = map[string]storage.FlowType{
	"purchase": storage.PurchaseFlowType,
	"withdraw": storage.WithdrawFlowType,
}

// Transactions lists recent submitted operations, newest first. An empty flow
// lists every flow.
func (t *Tracker) Transactions(flow string, limit int) ([]TransactionView, error) {
	if limit <= 0 || limit > TransactionHistoryLimit {
		limit = TransactionHistoryLimit
	}

	var (
		records []*storage.OperationRecord
		err     error
	)
	if flow == "" {
		records, err = t.deps.Storage.GetOperations(limit)
	} else {
		flowType, ok := flows[flow]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownFlow, flow)
		}
		records, err = t.deps.Storage.GetOperationsByFlow(flowType, limit)
	}
	if err != nil {
		return nil, err
	}

	views := make([]TransactionView, 0, len(records))
	for _, r := range records {
		// idle records are flows waiting for input, not transactions
		if r.Phase == orchestrator.Idle.String() {
			continue
		}
		views = append(views, t.transactionView(r))
	}
	return views, nil
}

// Transaction returns one journaled operation with its phase history.
func (t *Tracker) Transaction(id string) (TransactionDetail, error) {
	record, err := t.deps.Storage.GetOperation(id)
	if err != nil {
		return TransactionDetail{}, err
	}

	transitions, err := t.deps.Storage.GetTransitions(id)
	if err != nil {
		return TransactionDetail{}, err
	}

	detail := TransactionDetail{
		TransactionView: t.transactionView(record),
		Transitions:     make([]TransitionView, 0, len(transitions)),
	}
	for _, tr := range transitions {
		detail.Transitions = append(detail.Transitions, TransitionView{From: tr.From, To: tr.To, At: tr.At})
	}
	return detail, nil
}

func (t *Tracker) transactionView(r *storage.OperationRecord) TransactionView {
	view := TransactionView{
		ID:        r.ID,
		Flow:      r.Flow,
		Operation: r.Operation,
		TxHash:    r.TransactionHash,
		Phase:     r.Phase,
		Reason:    r.Reason,
		Stale:     r.Stale,
		UpdatedAt: r.UpdatedAt,
	}
	if amount, ok := new(big.Int).SetString(r.Amount, 10); ok {
		view.Amount = t.units(amount)
	}
	return view
}

func (t *Tracker) Quote(tickets uint64) (QuoteView, error) {
	quote, err := t.purchase.Quote(tickets)
	if err != nil {
		return QuoteView{}, err
	}

	return QuoteView{
		Tickets:   quote.Tickets,
		PerTicket: derived.FormatUnits(quote.PerTicket, t.cfg.TokenDecimals).StringFixed(QuoteDecimals),
		Total:     derived.FormatUnits(quote.Total, t.cfg.TokenDecimals).StringFixed(QuoteDecimals),
		TotalRaw:  quote.Total.String(),
	}, nil
}

func (t *Tracker) Approve(ctx context.Context, tickets uint64) error {
	return t.purchase.Approve(ctx, tickets)
}

func (t *Tracker) Stake(ctx context.Context) error {
	return t.purchase.Stake(ctx)
}

func (t *Tracker) ResetPurchase() {
	t.purchase.Reset()
}

func (t *Tracker) RecheckPurchase() error {
	return t.purchase.Recheck()
}

func (t *Tracker) PurchaseState() orchestrator.PurchaseState {
	return t.purchase.State()
}

func (t *Tracker) RequestWithdraw() error {
	return t.withdraw.Request()
}

func (t *Tracker) ConfirmWithdraw(ctx context.Context, accepted bool) error {
	return t.withdraw.Confirm(ctx, accepted)
}

func (t *Tracker) ResetWithdraw() {
	t.withdraw.Reset()
}

func (t *Tracker) RecheckWithdraw() error {
	return t.withdraw.Recheck()
}

func (t *Tracker) WithdrawState() orchestrator.WithdrawState {
	return t.withdraw.State()
}

// LinkPrice serves the server-side cached price for the price endpoint.
func (t *Tracker) LinkPrice(ctx context.Context) (float64, error) {
	return t.endpoint.Fetch(ctx)
}

func (t *Tracker) PriceAsset() string {
	return t.cfg.PriceAsset
}

func (t *Tracker) SubscribeCountdown() (<-chan uint64, func()) {
	return t.countdown.Subscribe()
}
