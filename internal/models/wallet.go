package models

import "github.com/shopspring/decimal"

// WalletPosition is an amount held of one asset. Symbol is the base asset ("BTC"),
// or the quote currency itself ("USDT").
type WalletPosition struct {
	Symbol string          `json:"symbol"`
	Amount decimal.Decimal `json:"amount"`
}

// WalletSummary is the wallet collaborator's response body.
type WalletSummary struct {
	Positions []WalletPosition `json:"positions"`
}
