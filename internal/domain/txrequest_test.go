package domain

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAddr = "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"

func TestNewLegacyTxRequest(t *testing.T) {
	req, err := NewLegacyTxRequest(137, 7, testAddr, nil, big.NewInt(30_000_000_000), 80_000, []byte{0x01})
	require.NoError(t, err)

	assert.Equal(t, TxTypeLegacy, req.Type)
	assert.Equal(t, "0", req.Value)
	assert.Equal(t, "30000000000", req.GasPrice)
	assert.Empty(t, req.GasFeeCap)
	require.NoError(t, req.Validate())
}

func TestNewLegacyTxRequest_Invalid(t *testing.T) {
	_, err := NewLegacyTxRequest(137, 0, "not-an-address", nil, big.NewInt(1), 21_000, nil)
	assert.Error(t, err)

	_, err = NewLegacyTxRequest(137, 0, testAddr, nil, nil, 21_000, nil)
	assert.Error(t, err)

	_, err = NewLegacyTxRequest(137, 0, testAddr, nil, big.NewInt(0), 21_000, nil)
	assert.Error(t, err)
}

func TestNewFeeMarketTxRequest(t *testing.T) {
	req, err := NewFeeMarketTxRequest(137, 3, testAddr, big.NewInt(5),
		big.NewInt(1_000_000_000), big.NewInt(40_000_000_000), 21_000, nil)
	require.NoError(t, err)

	assert.Equal(t, TxTypeFeeMarket, req.Type)
	assert.Equal(t, "5", req.Value)
	require.NoError(t, req.Validate())

	// fee cap por debajo del tip cap es inválido
	_, err = NewFeeMarketTxRequest(137, 3, testAddr, nil,
		big.NewInt(50), big.NewInt(10), 21_000, nil)
	assert.Error(t, err)
}

func TestTxRequest_Validate_MixedFields(t *testing.T) {
	// Un legacy con campos fee-market es un bug de serialización
	req := TxRequest{Type: TxTypeLegacy, To: testAddr, GasPrice: "1", GasFeeCap: "2"}
	assert.Error(t, req.Validate())

	req = TxRequest{Type: TxTypeFeeMarket, To: testAddr, GasTipCap: "1", GasFeeCap: "2", GasPrice: "3"}
	assert.Error(t, req.Validate())

	req = TxRequest{Type: "unknown", To: testAddr}
	assert.Error(t, req.Validate())
}

func TestTxRequest_ToTransaction_Roundtrip(t *testing.T) {
	req, err := NewLegacyTxRequest(137, 42, testAddr, big.NewInt(0), big.NewInt(33_000_000_000), 80_000, []byte{0xa9})
	require.NoError(t, err)

	tx, err := req.ToTransaction()
	require.NoError(t, err)

	assert.Equal(t, uint64(42), tx.Nonce())
	assert.Equal(t, uint64(80_000), tx.Gas())
	assert.Equal(t, "33000000000", tx.GasPrice().String())
	assert.Equal(t, testAddr, tx.To().Hex())

	// El mismo request produce siempre la misma transacción sin firmar —
	// base del reenvío idempotente tras un crash.
	tx2, err := req.ToTransaction()
	require.NoError(t, err)
	assert.Equal(t, tx.Hash(), tx2.Hash())
}
