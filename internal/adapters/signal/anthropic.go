package signal

// anthropic.go — AI trade proposal via the Anthropic Messages API.
//
// Implements ports.SignalSource. The model gets the open markets and a
// compact OHLCV table per asset and must answer with a single JSON
// object. The model is a black box: a bad or unparseable answer is an
// error the caller turns into abort-and-announce, never a retry loop.

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/alejandrodnm/polycouncil/internal/domain"
)

const systemPrompt = `You are the trading analyst for a community trading pool on Polymarket.
You are given the open directional markets and recent hourly OHLCV candles per asset.
Pick exactly one asset and a direction (UP or DOWN) for its price over the market horizon.
Answer with a single JSON object and nothing else:
{"asset": "<symbol>", "direction": "UP" | "DOWN", "reasoning": "<one or two sentences>"}`

// proposalJSON es la respuesta esperada del modelo.
type proposalJSON struct {
	Asset     string `json:"asset"`
	Direction string `json:"direction"`
	Reasoning string `json:"reasoning"`
}

// Source implementa ports.SignalSource con el SDK de Anthropic.
type Source struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

// New crea el signal source. model vacío usa el default del config.
func New(apiKey, model string) *Source {
	return &Source{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:     anthropic.Model(model),
		maxTokens: 1024,
	}
}

// ProposeTrade pide al modelo un trade direccional sobre los mercados
// abiertos. Devuelve error si la respuesta no es parseable o propone un
// asset sin mercado.
func (s *Source) ProposeTrade(ctx context.Context, markets map[string]domain.Market, candles map[string][]domain.Candle) (domain.TradeProposal, error) {
	if len(markets) == 0 {
		return domain.TradeProposal{}, fmt.Errorf("signal.ProposeTrade: no open markets")
	}

	prompt := buildPrompt(markets, candles)

	msg, err := s.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     s.model,
		MaxTokens: s.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return domain.TradeProposal{}, fmt.Errorf("signal.ProposeTrade: inference: %w", err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		text.WriteString(block.Text)
	}

	proposal, err := parseProposal(text.String())
	if err != nil {
		return domain.TradeProposal{}, fmt.Errorf("signal.ProposeTrade: %w", err)
	}

	asset := strings.ToUpper(proposal.Asset)
	if _, ok := markets[asset]; !ok {
		return domain.TradeProposal{}, fmt.Errorf("signal.ProposeTrade: model picked %q, no open market", proposal.Asset)
	}

	dir := domain.DirectionUp
	if strings.EqualFold(proposal.Direction, string(domain.DirectionDown)) {
		dir = domain.DirectionDown
	} else if !strings.EqualFold(proposal.Direction, string(domain.DirectionUp)) {
		return domain.TradeProposal{}, fmt.Errorf("signal.ProposeTrade: bad direction %q", proposal.Direction)
	}

	var price float64
	if cs := candles[asset]; len(cs) > 0 {
		price = cs[len(cs)-1].Close
	}

	slog.Info("signal: proposal", "asset", asset, "direction", dir)
	return domain.TradeProposal{
		Asset:        asset,
		Direction:    dir,
		Reasoning:    proposal.Reasoning,
		CurrentPrice: price,
	}, nil
}

// buildPrompt formatea mercados y velas como contexto del modelo.
func buildPrompt(markets map[string]domain.Market, candles map[string][]domain.Candle) string {
	assets := make([]string, 0, len(markets))
	for a := range markets {
		assets = append(assets, a)
	}
	sort.Strings(assets)

	var b strings.Builder
	b.WriteString("Open markets:\n")
	for _, a := range assets {
		m := markets[a]
		fmt.Fprintf(&b, "- %s: %q (closes %s)\n", a, m.Question, m.EndDate.Format("2006-01-02 15:04 MST"))
	}

	for _, a := range assets {
		cs := candles[a]
		if len(cs) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n%s hourly candles (oldest first) — time open high low close volume:\n", a)
		for _, c := range cs {
			fmt.Fprintf(&b, "%s %.2f %.2f %.2f %.2f %.1f\n",
				c.OpenTime.Format("01-02 15:04"), c.Open, c.High, c.Low, c.Close, c.Volume)
		}
	}
	return b.String()
}

// parseProposal extrae el objeto JSON de la respuesta, tolerando fences
// de markdown y texto alrededor.
func parseProposal(text string) (proposalJSON, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return proposalJSON{}, fmt.Errorf("no JSON object in response: %.200s", text)
	}

	var p proposalJSON
	if err := json.Unmarshal([]byte(text[start:end+1]), &p); err != nil {
		return proposalJSON{}, fmt.Errorf("parse response: %w", err)
	}
	if p.Asset == "" || p.Direction == "" {
		return proposalJSON{}, fmt.Errorf("incomplete proposal: %+v", p)
	}
	return p, nil
}
