package polymarket

// orders.go — Market order execution via the Polymarket CLOB API.
//
// The pool buys the voted direction with a marketable FOK limit order:
// best ask plus a slippage buffer, fill-or-kill so a thin book rejects
// the order instead of leaving a resting partial.

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/alejandrodnm/polycouncil/internal/domain"
)

const (
	// slippageBuffer is added to the best ask when pricing the FOK order.
	slippageBuffer = 0.02
	maxOrderPrice  = 0.99
	minOrderPrice  = 0.01
)

// clobOrderRequest is the JSON body sent to POST /order.
type clobOrderRequest struct {
	Order     clobOrderBody `json:"order"`
	Owner     string        `json:"owner"`
	OrderType string        `json:"orderType"`
}

type clobOrderBody struct {
	Salt          json.Number `json:"salt"`
	Maker         string      `json:"maker"`
	Signer        string      `json:"signer"`
	Taker         string      `json:"taker"`
	TokenID       string      `json:"tokenId"`
	MakerAmount   string      `json:"makerAmount"`
	TakerAmount   string      `json:"takerAmount"`
	Expiration    string      `json:"expiration"`
	Nonce         string      `json:"nonce"`
	FeeRateBps    string      `json:"feeRateBps"`
	Side          string      `json:"side"`
	SignatureType int         `json:"signatureType"`
	Signature     string      `json:"signature"`
}

type clobOrderResponse struct {
	ErrorMsg     string `json:"errorMsg"`
	OrderID      string `json:"orderID"`
	TakingAmount string `json:"takingAmount"`
	MakingAmount string `json:"makingAmount"`
	Status       string `json:"status"`
	Success      bool   `json:"success"`
}

// ExecuteOrder buys usdSize dollars of the direction token. Execution
// failures that leave no position (CLOB rejection, unmatched FOK) come
// back as OrderFill{Success: false}; only transport errors are errors.
func (g *Gateway) ExecuteOrder(ctx context.Context, market domain.Market, dir domain.Direction, usdSize float64) (domain.OrderFill, error) {
	if err := g.auth.EnsureCreds(ctx); err != nil {
		return domain.OrderFill{}, fmt.Errorf("polymarket.ExecuteOrder: creds: %w", err)
	}

	tokenID := market.TokenID(dir)

	ask, err := g.bestAsk(ctx, tokenID)
	if err != nil {
		return domain.OrderFill{}, fmt.Errorf("polymarket.ExecuteOrder: best ask: %w", err)
	}
	if ask <= 0 {
		return domain.OrderFill{Reason: "no asks in the book"}, nil
	}

	price := ask + slippageBuffer
	if price > maxOrderPrice {
		price = maxOrderPrice
	}
	if price < minOrderPrice {
		price = minOrderPrice
	}

	signed, err := g.auth.buildSignedOrder(tokenID, price, usdSize, false)
	if err != nil {
		return domain.OrderFill{}, fmt.Errorf("polymarket.ExecuteOrder: sign: %w", err)
	}

	body := clobOrderRequest{
		Order: clobOrderBody{
			Salt:          json.Number(signed.Order.Salt.String()),
			Maker:         signed.Order.Maker.Hex(),
			Signer:        signed.Order.Signer.Hex(),
			Taker:         signed.Order.Taker.Hex(),
			TokenID:       tokenID,
			MakerAmount:   signed.Order.MakerAmount.String(),
			TakerAmount:   signed.Order.TakerAmount.String(),
			Expiration:    signed.Order.Expiration.String(),
			Nonce:         signed.Order.Nonce.String(),
			FeeRateBps:    signed.Order.FeeRateBps.String(),
			Side:          "BUY",
			SignatureType: int(signed.Order.SignatureType.Int64()),
			Signature:     "0x" + hex.EncodeToString(signed.Signature),
		},
		Owner:     g.auth.creds.APIKey,
		OrderType: "FOK",
	}

	var resp clobOrderResponse
	if err := g.auth.doL2(ctx, http.MethodPost, "/order", body, &resp); err != nil {
		return domain.OrderFill{}, fmt.Errorf("polymarket.ExecuteOrder: post: %w", err)
	}

	if !resp.Success || resp.ErrorMsg != "" {
		return domain.OrderFill{Reason: resp.ErrorMsg}, nil
	}

	// En un BUY, making es el USDC entregado y taking los shares recibidos
	cost := parseUSDC(resp.MakingAmount)
	shares := parseUSDC(resp.TakingAmount)
	if shares <= 0 {
		return domain.OrderFill{Reason: "order not matched"}, nil
	}

	return domain.OrderFill{
		Success:      true,
		OrderID:      resp.OrderID,
		SharesFilled: shares,
		AvgPrice:     cost / shares,
		TotalCost:    cost,
	}, nil
}

// parseUSDC convierte un string de micro-USDC (p.ej. "1000000") a float.
func parseUSDC(s string) float64 {
	if s == "" {
		return 0
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return n / 1_000_000
}

// bestAsk consulta el mejor precio de compra del token.
func (g *Gateway) bestAsk(ctx context.Context, tokenID string) (float64, error) {
	url := fmt.Sprintf("%s/price?token_id=%s&side=BUY", g.auth.clobBase, tokenID)

	var resp clobPriceResponse
	if err := g.auth.get(ctx, g.auth.clobLimiter, url, &resp); err != nil {
		return 0, err
	}
	if resp.Price == "" {
		return 0, nil
	}
	price, err := strconv.ParseFloat(resp.Price, 64)
	if err != nil {
		return 0, fmt.Errorf("parse price %q: %w", resp.Price, err)
	}
	return price, nil
}
