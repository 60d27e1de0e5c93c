package tracker

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"lotterydash/internal/aggregator"
	"lotterydash/internal/blockchain"
	"lotterydash/internal/config"
	"lotterydash/internal/countdown"
	"lotterydash/internal/logger"
	"lotterydash/internal/orchestrator"
	"lotterydash/internal/pricefeed"
	"lotterydash/internal/storage"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// Verifier checks that a contract is deployed at the pool address.
type Verifier interface {
	HasCode(ctx context.Context) (bool, error)
}

// Dependencies are the external collaborators a Tracker runs against.
type Dependencies struct {
	Reader   blockchain.Reader
	Writer   blockchain.Writer
	Watcher  blockchain.ReceiptWatcher
	Verifier Verifier
	Storage  storage.Storage
	Clock    clockwork.Clock

	// Address is the connected wallet, nil for a read-only dashboard.
	Address *common.Address

	// Upstream backs the server-side price endpoint.
	Upstream pricefeed.Fetcher
	// Prices feeds the dashboard's price cache. Defaults to the endpoint cache.
	Prices pricefeed.Fetcher

	closers []func()
}

// Tracker wires every dashboard component and assembles the views.
type Tracker struct {
	ctx    context.Context
	cancel context.CancelFunc
	cfg    *config.Config
	deps   Dependencies

	aggregator *aggregator.Aggregator
	prices     *pricefeed.Cache
	endpoint   *pricefeed.TTLCache
	countdown  *countdown.Ticker
	executor   *orchestrator.Executor
	purchase   *orchestrator.PurchaseFlow
	withdraw   *orchestrator.WithdrawFlow

	wg sync.WaitGroup
}

// NewTracker dials the configured node and builds a Tracker over it.
func NewTracker(ctx context.Context, cfg *config.Config) (*Tracker, error) {
	logger.Debug("tracker initialization: ethereum client...", zap.String("rpc", cfg.RPCURL))
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.RPCURL, err)
	}

	deps := Dependencies{
		Clock:   clockwork.NewRealClock(),
		closers: []func(){client.Close},
	}

	if cfg.WalletKey != "" {
		signer, address, err := blockchain.NewSigner(cfg.WalletKey, big.NewInt(cfg.ChainID))
		if err != nil {
			client.Close()
			return nil, err
		}
		deps.Address = &address
		ledger := blockchain.NewEthLedger(client, cfg.Pool(), cfg.Token(), signer)
		deps.Reader, deps.Writer, deps.Verifier = ledger, ledger, ledger
		logger.Debug("tracker initialization: wallet", zap.Stringer("address", address))
	} else {
		ledger := blockchain.NewEthLedger(client, cfg.Pool(), cfg.Token(), nil)
		deps.Reader, deps.Writer, deps.Verifier = ledger, ledger, ledger
		logger.Debug("tracker initialization: no wallet key, read-only")
	}
	deps.Watcher = blockchain.NewReceiptPoller(client, cfg.ReceiptPollInterval, deps.Clock)

	logger.Debug("tracker initialization: journal...")
	journal, err := storage.NewSqliteStorage(cfg.JournalDSN)
	if err != nil {
		client.Close()
		return nil, err
	}
	deps.Storage = journal

	deps.Upstream = pricefeed.NewCoinGecko(cfg.PriceUpstreamURL, cfg.PriceAsset, cfg.PriceUpstreamRPS, nil)
	if cfg.PriceEndpointURL != "" {
		deps.Prices = pricefeed.NewEndpointFetcher(cfg.PriceEndpointURL, cfg.PriceAsset, nil)
	}

	return New(ctx, cfg, deps), nil
}

// New builds a Tracker over explicit dependencies.
func New(ctx context.Context, cfg *config.Config, deps Dependencies) *Tracker {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	ctx, cancel := context.WithCancel(ctx)

	t := &Tracker{
		ctx:    ctx,
		cancel: cancel,
		cfg:    cfg,
		deps:   deps,
	}

	t.aggregator = aggregator.New(deps.Reader, aggregator.Intervals{
		Fast:     cfg.PollFast,
		Standard: cfg.PollStandard,
		Slow:     cfg.PollSlow,
	}, cfg.WinnersLookback, deps.Clock)
	t.aggregator.SetAddress(deps.Address)

	upstream := deps.Upstream
	if upstream == nil {
		upstream = pricefeed.FetcherFunc(nil)
	}
	t.endpoint = pricefeed.NewTTLCache(upstream, cfg.PriceCacheTTL, deps.Clock)
	prices := deps.Prices
	source := "endpoint"
	if prices == nil {
		prices = t.endpoint
		source = "local"
	}
	t.prices = pricefeed.NewCache(prices, cfg.PriceRefreshInterval, deps.Clock, source)

	t.countdown = countdown.NewTicker(deps.Clock)
	t.aggregator.OnChange(func(op blockchain.ReadOp) {
		if op != blockchain.ReadTimeUntilNextDraw {
			return
		}
		if seconds, ok := t.aggregator.TimeUntilNextDraw.Value(); ok && seconds.IsUint64() {
			t.countdown.Sync(seconds.Uint64())
		}
	})

	t.executor = orchestrator.NewExecutor(deps.Watcher, deps.Storage, cfg.ConfirmTimeout, deps.Clock)
	t.purchase = orchestrator.NewPurchaseFlow(t.executor, deps.Writer, cfg.Pool(), t.aggregator.TicketPurchaseCost.Value, t.aggregator)
	t.withdraw = orchestrator.NewWithdrawFlow(t.executor, deps.Writer, t.aggregator.Address, t.aggregator)

	logger.Debug("tracker initialization: initializing tracker... done")
	return t
}

// Run starts polling, price refresh and the local countdown.
func (t *Tracker) Run() {
	logger.Info("tracker: starting", zap.Stringer("pool", t.cfg.Pool()))

	t.aggregator.Start()
	t.prices.Start(t.ctx)

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.countdown.Run(t.ctx)
	}()
}

// Finalize stops every timer and watch and releases the journal.
func (t *Tracker) Finalize() {
	logger.Info("tracker: stopping...")

	t.cancel()
	t.aggregator.Close()
	t.prices.Stop()
	t.executor.Close()
	t.wg.Wait()

	if err := t.deps.Storage.Close(); err != nil {
		logger.Warn("tracker: cannot close journal", zap.Error(err))
	}
	for _, closer := range t.deps.closers {
		closer()
	}

	logger.Info("tracker: stopping... done")
}
