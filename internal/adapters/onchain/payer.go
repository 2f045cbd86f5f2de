package onchain

// payer.go — USDC payout transfers on Polygon.
//
// Implements ports.Payer. The send pipeline is split so the settlement
// engine can persist between every step: DeriveTransfer builds the
// unsigned request, SignAndHash exposes the hash before anything touches
// the chain, Broadcast submits, ReceiptStatus reconciles afterwards.

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alejandrodnm/polycouncil/internal/domain"
	"github.com/alejandrodnm/polycouncil/internal/ports"
)

var erc20TransferABI abi.ABI

func init() {
	var err error
	erc20TransferABI, err = abi.JSON(strings.NewReader(`[{
		"name":"transfer","type":"function",
		"inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],
		"outputs":[{"name":"","type":"bool"}]
	}]`))
	if err != nil {
		panic("erc20 transfer abi: " + err.Error())
	}
}

// Payer implements ports.Payer over the shared RPC client.
type Payer struct {
	*Client
	usdc common.Address
}

// NewPayer creates a payer that transfers the given USDC token.
func NewPayer(client *Client, usdcAddress string) *Payer {
	return &Payer{
		Client: client,
		usdc:   common.HexToAddress(usdcAddress),
	}
}

// DeriveTransfer builds an unsigned USDC transfer of amountCents to the
// given wallet. The returned request carries a fixed nonce and gas price;
// the caller persists it before signing so a crash resends this exact
// transaction instead of deriving a second one.
func (p *Payer) DeriveTransfer(ctx context.Context, to string, amountCents int64) (*domain.TxRequest, error) {
	if !common.IsHexAddress(to) {
		return nil, fmt.Errorf("onchain.DeriveTransfer: invalid address %q", to)
	}
	if amountCents <= 0 {
		return nil, fmt.Errorf("onchain.DeriveTransfer: non-positive amount %d", amountCents)
	}

	// USDC 6 decimales: 1 céntimo = 10^4 unidades
	amount := new(big.Int).Mul(big.NewInt(amountCents), big.NewInt(10_000))

	callData, err := erc20TransferABI.Pack("transfer", common.HexToAddress(to), amount)
	if err != nil {
		return nil, fmt.Errorf("onchain.DeriveTransfer: pack: %w", err)
	}

	nonce, err := p.rpc.PendingNonceAt(ctx, p.address)
	if err != nil {
		return nil, fmt.Errorf("onchain.DeriveTransfer: nonce: %w", err)
	}

	gasPrice, err := p.getGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("onchain.DeriveTransfer: gas price: %w", err)
	}

	gas, err := p.rpc.EstimateGas(ctx, ethereum.CallMsg{
		From: p.address,
		To:   &p.usdc,
		Data: callData,
	})
	if err != nil {
		gas = transferGasLimit
	}
	gas = gas * 12 / 10 // 20% buffer

	return domain.NewLegacyTxRequest(
		p.chainID.Int64(), nonce, p.usdc.Hex(), big.NewInt(0), gasPrice, gas, callData)
}

// SignAndHash signs the request and returns the transaction hash without
// broadcasting. Signing is deterministic: calling this twice on the same
// request yields the same hash.
func (p *Payer) SignAndHash(req *domain.TxRequest) (string, error) {
	signed, err := p.sign(req)
	if err != nil {
		return "", fmt.Errorf("onchain.SignAndHash: %w", err)
	}
	return signed.Hash().Hex(), nil
}

// Broadcast signs and submits the request. "Already known" and nonce
// races from a previous broadcast of the same transaction are not errors.
func (p *Payer) Broadcast(ctx context.Context, req *domain.TxRequest) error {
	signed, err := p.sign(req)
	if err != nil {
		return fmt.Errorf("onchain.Broadcast: %w", err)
	}

	if err := p.rpc.SendTransaction(ctx, signed); err != nil {
		msg := strings.ToLower(err.Error())
		if strings.Contains(msg, "already known") || strings.Contains(msg, "known transaction") {
			return nil
		}
		return fmt.Errorf("onchain.Broadcast: send: %w", err)
	}
	return nil
}

// ReceiptStatus reports what the chain knows about a transaction hash.
func (p *Payer) ReceiptStatus(ctx context.Context, txHash string) (ports.ReceiptState, error) {
	hash := common.HexToHash(txHash)

	receipt, err := p.rpc.TransactionReceipt(ctx, hash)
	if err == nil {
		if receipt.Status == types.ReceiptStatusSuccessful {
			return ports.ReceiptConfirmed, nil
		}
		return ports.ReceiptReverted, nil
	}
	if !errors.Is(err, ethereum.NotFound) {
		return ports.ReceiptMissing, fmt.Errorf("onchain.ReceiptStatus: %w", err)
	}

	// No receipt: distinguish "in the mempool" from "never seen"
	_, pending, err := p.rpc.TransactionByHash(ctx, hash)
	if err == nil && pending {
		return ports.ReceiptPending, nil
	}
	if err != nil && !errors.Is(err, ethereum.NotFound) {
		return ports.ReceiptMissing, fmt.Errorf("onchain.ReceiptStatus: lookup: %w", err)
	}
	return ports.ReceiptMissing, nil
}

func (p *Payer) sign(req *domain.TxRequest) (*types.Transaction, error) {
	tx, err := req.ToTransaction()
	if err != nil {
		return nil, err
	}
	return p.signTx(tx)
}
