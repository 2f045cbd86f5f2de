package ports

import (
	"context"

	"github.com/alejandrodnm/polycouncil/internal/domain"
)

// ReceiptState is what the chain knows about a broadcast transaction.
type ReceiptState int

const (
	// ReceiptConfirmed — mined with success status.
	ReceiptConfirmed ReceiptState = iota
	// ReceiptReverted — mined but reverted; the transfer did not happen.
	ReceiptReverted
	// ReceiptPending — known to the chain, not mined yet.
	ReceiptPending
	// ReceiptMissing — the chain has never seen this hash; safe to resend.
	ReceiptMissing
)

// Payer drives on-chain payout transfers. The send path is split into
// derive → persist → sign → broadcast so a crash between any two steps can
// resume from the persisted request instead of re-deriving nonce and gas.
type Payer interface {
	// DeriveTransfer builds an unsigned USDC transfer request for the
	// given amount in cents. The request carries nonce and gas fields
	// fixed at derivation time.
	DeriveTransfer(ctx context.Context, to string, amountCents int64) (*domain.TxRequest, error)

	// SignAndHash signs the request and returns the transaction hash
	// without broadcasting. The caller persists the hash first.
	SignAndHash(req *domain.TxRequest) (string, error)

	// Broadcast signs the request again (deterministic) and submits it.
	Broadcast(ctx context.Context, req *domain.TxRequest) error

	// ReceiptStatus reports what the chain knows about a tx hash.
	ReceiptStatus(ctx context.Context, txHash string) (ReceiptState, error)
}
