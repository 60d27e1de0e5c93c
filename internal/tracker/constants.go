package tracker

import "time"

const (
	// TransactionHistoryLimit caps the journal entries returned by default.
	TransactionHistoryLimit = 50

	VerifyTimeout   = 30 * time.Second
	ShutdownTimeout = 10 * time.Second

	// token amounts are displayed with two decimals, quotes with four
	DisplayDecimals = 2
	QuoteDecimals   = 4
)
