package onchain

// redeem.go — CTF redemption of winning conditional tokens.
//
// The CTF (Conditional Token Framework) redeemPositions() function
// converts winning tokens back into USDC collateral after a market
// resolves. Redemption is the irreversible step of trade resolution:
// the caller only records P&L once this confirms.

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

const (
	// CTF contract on Polygon — holds conditional tokens (ERC1155)
	ctfAddress = "0x4D97DCd97eC945f40cF65F87097ACe5EA0476045"

	redeemReceiptWait = 60 * time.Second
)

var ctfRedeemABI abi.ABI

func init() {
	var err error
	ctfRedeemABI, err = abi.JSON(strings.NewReader(`[{
		"name":"redeemPositions","type":"function",
		"inputs":[
			{"name":"collateralToken","type":"address"},
			{"name":"parentCollectionId","type":"bytes32"},
			{"name":"conditionId","type":"bytes32"},
			{"name":"indexSets","type":"uint256[]"}
		],
		"outputs":[]
	}]`))
	if err != nil {
		panic("ctf redeem abi: " + err.Error())
	}
}

// Redeemer executes on-chain CTF redemptions.
type Redeemer struct {
	*Client
	usdc common.Address
}

// NewRedeemer creates a redeemer for the given collateral token.
func NewRedeemer(client *Client, usdcAddress string) *Redeemer {
	return &Redeemer{
		Client: client,
		usdc:   common.HexToAddress(usdcAddress),
	}
}

// Redeem converts the pool's winning tokens for the condition back into
// USDC. Blocks until the transaction confirms or the bounded wait
// expires; any failure leaves the position untouched and the caller
// retries on a later cycle.
func (r *Redeemer) Redeem(ctx context.Context, conditionID string, tokenIDs []string) error {
	condBytes, err := hexToBytes32(conditionID)
	if err != nil {
		return fmt.Errorf("onchain.Redeem: condition id: %w", err)
	}

	// Binary market: index sets 1 (Up) y 2 (Down). Redimir ambos es
	// seguro — el lado perdedor vale cero.
	indexSets := []*big.Int{big.NewInt(1), big.NewInt(2)}

	callData, err := ctfRedeemABI.Pack("redeemPositions",
		r.usdc,
		[32]byte{},
		condBytes,
		indexSets,
	)
	if err != nil {
		return fmt.Errorf("onchain.Redeem: pack: %w", err)
	}

	nonce, err := r.rpc.PendingNonceAt(ctx, r.address)
	if err != nil {
		return fmt.Errorf("onchain.Redeem: nonce: %w", err)
	}

	gasPrice, err := r.getGasPrice(ctx)
	if err != nil {
		return fmt.Errorf("onchain.Redeem: gas price: %w", err)
	}

	ctfAddr := common.HexToAddress(ctfAddress)
	tx := types.NewTransaction(nonce, ctfAddr, big.NewInt(0), redeemGasLimit, gasPrice, callData)

	signed, err := r.signTx(tx)
	if err != nil {
		return fmt.Errorf("onchain.Redeem: sign: %w", err)
	}

	if err := r.rpc.SendTransaction(ctx, signed); err != nil {
		return fmt.Errorf("onchain.Redeem: send: %w", err)
	}

	txHash := signed.Hash().Hex()
	slog.Info("redeem: transaction sent", "condition", shortID(conditionID), "tx", txHash)

	receiptCtx, cancel := context.WithTimeout(ctx, redeemReceiptWait)
	defer cancel()

	receipt, err := r.waitForReceipt(receiptCtx, signed.Hash())
	if err != nil {
		return fmt.Errorf("onchain.Redeem: receipt not confirmed for %s: %w", txHash, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("onchain.Redeem: tx reverted: %s", txHash)
	}

	slog.Info("redeem: confirmed", "condition", shortID(conditionID), "tx", txHash, "gas_used", receipt.GasUsed)
	return nil
}

func shortID(s string) string {
	if len(s) <= 12 {
		return s
	}
	return s[:12] + "..."
}
