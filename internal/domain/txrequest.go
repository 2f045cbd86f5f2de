package domain

// txrequest.go — Serialized unsigned-transaction request for payouts.
//
// The request is persisted before signing so a crash mid-send can resend
// the exact same transaction (same nonce, same gas fields) instead of
// re-deriving it. Re-deriving after a crash risks nonce drift: the old
// transaction may still be in the mempool and a fresh one would double-pay.
//
// Modeled as a tagged union keyed by transaction type — a legacy request
// must carry GasPrice and nothing else; a fee-market request must carry
// the EIP-1559 fee caps. Validated at construction, never an untyped bag
// of optional fields.

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// TxType distingue transacciones legacy (gas price) de fee-market (EIP-1559).
type TxType string

const (
	TxTypeLegacy    TxType = "legacy"
	TxTypeFeeMarket TxType = "fee_market"
)

// TxRequest es una transacción sin firmar lista para (re)enviar.
type TxRequest struct {
	Type    TxType `json:"type"`
	ChainID int64  `json:"chain_id"`
	Nonce   uint64 `json:"nonce"`
	To      string `json:"to"`
	Value   string `json:"value"` // wei, decimal string
	Gas     uint64 `json:"gas"`
	Data    []byte `json:"data,omitempty"`

	// Solo legacy
	GasPrice string `json:"gas_price,omitempty"`

	// Solo fee-market
	GasTipCap string `json:"gas_tip_cap,omitempty"`
	GasFeeCap string `json:"gas_fee_cap,omitempty"`
}

// NewLegacyTxRequest construye y valida un request legacy.
func NewLegacyTxRequest(chainID int64, nonce uint64, to string, value, gasPrice *big.Int, gas uint64, data []byte) (*TxRequest, error) {
	if !common.IsHexAddress(to) {
		return nil, fmt.Errorf("domain.NewLegacyTxRequest: invalid to address %q", to)
	}
	if gasPrice == nil || gasPrice.Sign() <= 0 {
		return nil, fmt.Errorf("domain.NewLegacyTxRequest: gas price required")
	}
	return &TxRequest{
		Type:     TxTypeLegacy,
		ChainID:  chainID,
		Nonce:    nonce,
		To:       to,
		Value:    bigOrZero(value),
		Gas:      gas,
		Data:     data,
		GasPrice: gasPrice.String(),
	}, nil
}

// NewFeeMarketTxRequest construye y valida un request EIP-1559.
func NewFeeMarketTxRequest(chainID int64, nonce uint64, to string, value, tipCap, feeCap *big.Int, gas uint64, data []byte) (*TxRequest, error) {
	if !common.IsHexAddress(to) {
		return nil, fmt.Errorf("domain.NewFeeMarketTxRequest: invalid to address %q", to)
	}
	if tipCap == nil || feeCap == nil || feeCap.Sign() <= 0 {
		return nil, fmt.Errorf("domain.NewFeeMarketTxRequest: fee caps required")
	}
	if feeCap.Cmp(tipCap) < 0 {
		return nil, fmt.Errorf("domain.NewFeeMarketTxRequest: fee cap %s below tip cap %s", feeCap, tipCap)
	}
	return &TxRequest{
		Type:      TxTypeFeeMarket,
		ChainID:   chainID,
		Nonce:     nonce,
		To:        to,
		Value:     bigOrZero(value),
		Gas:       gas,
		Data:      data,
		GasTipCap: tipCap.String(),
		GasFeeCap: feeCap.String(),
	}, nil
}

// Validate comprueba que los campos requeridos por el tipo están presentes.
func (r *TxRequest) Validate() error {
	if !common.IsHexAddress(r.To) {
		return fmt.Errorf("domain.TxRequest: invalid to address %q", r.To)
	}
	switch r.Type {
	case TxTypeLegacy:
		if r.GasPrice == "" {
			return fmt.Errorf("domain.TxRequest: legacy tx without gas price")
		}
		if r.GasTipCap != "" || r.GasFeeCap != "" {
			return fmt.Errorf("domain.TxRequest: legacy tx with fee-market fields")
		}
	case TxTypeFeeMarket:
		if r.GasTipCap == "" || r.GasFeeCap == "" {
			return fmt.Errorf("domain.TxRequest: fee-market tx without fee caps")
		}
		if r.GasPrice != "" {
			return fmt.Errorf("domain.TxRequest: fee-market tx with gas price")
		}
	default:
		return fmt.Errorf("domain.TxRequest: unknown type %q", r.Type)
	}
	return nil
}

// ToTransaction materializa el request como *types.Transaction de geth.
func (r *TxRequest) ToTransaction() (*types.Transaction, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	to := common.HexToAddress(r.To)
	value, ok := new(big.Int).SetString(r.Value, 10)
	if !ok {
		return nil, fmt.Errorf("domain.TxRequest: bad value %q", r.Value)
	}

	switch r.Type {
	case TxTypeLegacy:
		gasPrice, ok := new(big.Int).SetString(r.GasPrice, 10)
		if !ok {
			return nil, fmt.Errorf("domain.TxRequest: bad gas price %q", r.GasPrice)
		}
		return types.NewTx(&types.LegacyTx{
			Nonce:    r.Nonce,
			To:       &to,
			Value:    value,
			Gas:      r.Gas,
			GasPrice: gasPrice,
			Data:     r.Data,
		}), nil
	case TxTypeFeeMarket:
		tipCap, ok := new(big.Int).SetString(r.GasTipCap, 10)
		if !ok {
			return nil, fmt.Errorf("domain.TxRequest: bad tip cap %q", r.GasTipCap)
		}
		feeCap, ok := new(big.Int).SetString(r.GasFeeCap, 10)
		if !ok {
			return nil, fmt.Errorf("domain.TxRequest: bad fee cap %q", r.GasFeeCap)
		}
		return types.NewTx(&types.DynamicFeeTx{
			ChainID:   big.NewInt(r.ChainID),
			Nonce:     r.Nonce,
			To:        &to,
			Value:     value,
			Gas:       r.Gas,
			GasTipCap: tipCap,
			GasFeeCap: feeCap,
			Data:      r.Data,
		}), nil
	}
	return nil, fmt.Errorf("domain.TxRequest: unknown type %q", r.Type)
}

func bigOrZero(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
