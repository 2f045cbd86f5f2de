package polymarket

// gateway.go — Market gateway over the Gamma, CLOB and Data APIs.
//
// Implements ports.MarketGateway. Order placement goes through the
// authenticated CLOB client; redemption is delegated to the on-chain
// adapter; the pool balance is read straight from the USDC contract.

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alejandrodnm/polycouncil/internal/domain"
)

// Redeemer canjea tokens ganadores por colateral. Lo implementa el
// adapter on-chain; vive aquí como interfaz para no acoplar paquetes.
type Redeemer interface {
	Redeem(ctx context.Context, conditionID string, tokenIDs []string) error
}

var erc20BalanceOfABI abi.ABI

func init() {
	var err error
	erc20BalanceOfABI, err = abi.JSON(strings.NewReader(`[{
		"name":"balanceOf","type":"function",
		"inputs":[{"name":"account","type":"address"}],
		"outputs":[{"name":"","type":"uint256"}]
	}]`))
	if err != nil {
		panic("balanceOf abi: " + err.Error())
	}
}

// Gateway implementa ports.MarketGateway.
type Gateway struct {
	auth     *AuthClient
	rpc      *ethclient.Client
	redeemer Redeemer
	assets   []string
	usdc     common.Address
	loc      *time.Location
}

// NewGateway crea el gateway. loc es la timezone de los slugs de mercado
// (Polymarket nombra los mercados horarios en hora ET).
func NewGateway(auth *AuthClient, rpc *ethclient.Client, redeemer Redeemer,
	assets []string, usdcAddress string, loc *time.Location) *Gateway {
	if loc == nil {
		loc = time.UTC
	}
	return &Gateway{
		auth:     auth,
		rpc:      rpc,
		redeemer: redeemer,
		assets:   assets,
		usdc:     common.HexToAddress(usdcAddress),
		loc:      loc,
	}
}

// FindTradeableMarkets devuelve los mercados direccionales activos para
// todos los assets soportados. Los assets sin mercado abierto se omiten.
// El descubrimiento es paralelo por asset: cada uno prueba hasta tres
// slugs candidatos contra Gamma, y el rate limiter ya serializa las
// requests individuales.
func (g *Gateway) FindTradeableMarkets(ctx context.Context) ([]domain.Market, error) {
	results := make([]*domain.Market, len(g.assets))
	errs := make([]error, len(g.assets))

	var wg sync.WaitGroup
	for i, asset := range g.assets {
		wg.Add(1)
		go func(i int, asset string) {
			defer wg.Done()
			m, err := g.GetMarket(ctx, asset)
			if err != nil {
				errs[i] = fmt.Errorf("polymarket.FindTradeableMarkets: %s: %w", asset, err)
				return
			}
			results[i] = m
		}(i, asset)
	}
	wg.Wait()

	var markets []domain.Market
	for i, m := range results {
		if errs[i] != nil {
			return nil, errs[i]
		}
		if m != nil {
			markets = append(markets, *m)
		}
	}
	return markets, nil
}

// GetResolution consulta el CLOB por el estado de resolución del mercado.
func (g *Gateway) GetResolution(ctx context.Context, conditionID string) (domain.Resolution, error) {
	url := fmt.Sprintf("%s/markets/%s", g.auth.clobBase, conditionID)

	var resp clobMarketResponse
	if err := g.auth.get(ctx, g.auth.clobLimiter, url, &resp); err != nil {
		return domain.Resolution{}, fmt.Errorf("polymarket.GetResolution: %w", err)
	}

	res := domain.Resolution{ConditionID: conditionID}
	for _, tok := range resp.Tokens {
		res.TokenIDs = append(res.TokenIDs, tok.TokenID)
		if tok.Winner {
			res.Resolved = true
			if strings.EqualFold(tok.Outcome, "Up") || strings.EqualFold(tok.Outcome, "Yes") {
				res.Outcome = domain.DirectionUp
			} else {
				res.Outcome = domain.DirectionDown
			}
		}
	}
	if !resp.Closed {
		res.Resolved = false
	}
	return res, nil
}

// GetPositionPnL devuelve el P&L realizado de la posición del pool en el
// mercado dado, via Data API.
func (g *Gateway) GetPositionPnL(ctx context.Context, conditionID string) (domain.PositionPnL, error) {
	url := fmt.Sprintf("%s/positions?user=%s&market=%s",
		g.auth.dataBase, g.auth.Address(), conditionID)

	var positions []dataPosition
	if err := g.auth.get(ctx, g.auth.dataLimiter, url, &positions); err != nil {
		return domain.PositionPnL{}, fmt.Errorf("polymarket.GetPositionPnL: %w", err)
	}

	var pnl domain.PositionPnL
	for _, p := range positions {
		pnl.PnL += p.CashPnL
		pnl.PnLPercent = p.PercentPnL
	}
	return pnl, nil
}

// RedeemWinnings canjea los tokens ganadores on-chain. Es el paso
// irreversible de la resolución.
func (g *Gateway) RedeemWinnings(ctx context.Context, conditionID string, tokenIDs []string) error {
	if err := g.redeemer.Redeem(ctx, conditionID, tokenIDs); err != nil {
		return fmt.Errorf("polymarket.RedeemWinnings: %w", err)
	}
	return nil
}

// GetPoolBalance lee el balance USDC on-chain de la wallet del pool.
func (g *Gateway) GetPoolBalance(ctx context.Context) (float64, error) {
	callData, err := erc20BalanceOfABI.Pack("balanceOf", g.auth.address)
	if err != nil {
		return 0, fmt.Errorf("polymarket.GetPoolBalance: pack: %w", err)
	}

	result, err := g.rpc.CallContract(ctx, ethereum.CallMsg{
		To:   &g.usdc,
		Data: callData,
	}, nil)
	if err != nil {
		return 0, fmt.Errorf("polymarket.GetPoolBalance: rpc call: %w", err)
	}

	vals, err := erc20BalanceOfABI.Unpack("balanceOf", result)
	if err != nil || len(vals) == 0 {
		return 0, fmt.Errorf("polymarket.GetPoolBalance: unpack: %w", err)
	}

	raw := vals[0].(*big.Int)
	bal, _ := new(big.Float).Quo(new(big.Float).SetInt(raw), big.NewFloat(1e6)).Float64()
	return bal, nil
}
