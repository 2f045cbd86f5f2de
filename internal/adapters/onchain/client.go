package onchain

// client.go — Shared Polygon RPC client for payouts and redemption.
//
// Holds the signing key, the chain id and a cached gas price. The chain
// id is pinned in config; signing against whatever the RPC reports would
// let a misconfigured endpoint redirect value to another network.

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

const (
	// Gas price update interval
	gasPriceUpdateInterval = 5 * time.Minute

	// Conservative fallbacks when estimation fails
	transferGasLimit = uint64(80_000)
	redeemGasLimit   = uint64(200_000)
)

// Client is the low-level RPC wrapper shared by the payer and the redeemer.
type Client struct {
	rpc        *ethclient.Client
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    *big.Int

	mu           sync.RWMutex
	cachedGasWei *big.Int
	gasUpdatedAt time.Time
}

// NewClient connects to the given Polygon RPC. privateKeyHex is without
// 0x prefix. chainID 0 queries the RPC once at startup instead.
func NewClient(ctx context.Context, rpcURL, privateKeyHex string, chainID int64) (*Client, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("onchain.NewClient: invalid private key: %w", err)
	}

	rpc, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("onchain.NewClient: dial rpc: %w", err)
	}

	id := big.NewInt(chainID)
	if chainID == 0 {
		id, err = rpc.ChainID(ctx)
		if err != nil {
			return nil, fmt.Errorf("onchain.NewClient: query chain id: %w", err)
		}
	}

	return &Client{
		rpc:        rpc,
		privateKey: key,
		address:    crypto.PubkeyToAddress(key.PublicKey),
		chainID:    id,
	}, nil
}

// Address returns the signing wallet address.
func (c *Client) Address() string {
	return c.address.Hex()
}

// ChainID returns the pinned chain id.
func (c *Client) ChainID() int64 {
	return c.chainID.Int64()
}

// RPC exposes the underlying ethclient for read-only callers.
func (c *Client) RPC() *ethclient.Client {
	return c.rpc
}

// signTx signs a transaction with the wallet key. secp256k1 signing is
// deterministic, so signing the same request twice yields the same hash.
func (c *Client) signTx(tx *types.Transaction) (*types.Transaction, error) {
	return types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.privateKey)
}

// getGasPrice returns the current gas price with a 10% inclusion buffer,
// cached to avoid hammering the RPC.
func (c *Client) getGasPrice(ctx context.Context) (*big.Int, error) {
	c.mu.RLock()
	cached := c.cachedGasWei
	updatedAt := c.gasUpdatedAt
	c.mu.RUnlock()

	if cached != nil && time.Since(updatedAt) < gasPriceUpdateInterval {
		return cached, nil
	}

	price, err := c.rpc.SuggestGasPrice(ctx)
	if err != nil {
		if cached != nil {
			return cached, nil
		}
		return big.NewInt(30_000_000_000), nil // 30 gwei fallback
	}

	buffered := new(big.Int).Mul(price, big.NewInt(11))
	buffered.Div(buffered, big.NewInt(10))

	c.mu.Lock()
	c.cachedGasWei = buffered
	c.gasUpdatedAt = time.Now()
	c.mu.Unlock()

	return buffered, nil
}

// waitForReceipt polls for a transaction receipt until confirmed or timeout.
func (c *Client) waitForReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			receipt, err := c.rpc.TransactionReceipt(ctx, txHash)
			if err != nil {
				continue // not yet mined
			}
			return receipt, nil
		}
	}
}

// hexToBytes32 converts a 0x-prefixed hex string to [32]byte.
func hexToBytes32(s string) ([32]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	if len(s) != 64 {
		return [32]byte{}, fmt.Errorf("expected 64 hex chars, got %d", len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return [32]byte{}, err
	}
	var arr [32]byte
	copy(arr[:], b)
	return arr, nil
}
