package polymarket

// discovery.go — búsqueda de mercados direccionales "Up or Down" en Gamma.
//
// Polymarket nombra estos mercados con slugs deterministas en hora ET:
//   horario: bitcoin-up-or-down-august-30-3pm-et
//   diario:  bitcoin-up-or-down-august-30
// Generamos los slugs candidatos de la hora actual y la siguiente y
// preguntamos a Gamma por slug exacto.

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alejandrodnm/polycouncil/internal/domain"
)

// slugNames mapea el símbolo del asset al nombre usado en los slugs.
var slugNames = map[string]string{
	"BTC": "bitcoin",
	"ETH": "ethereum",
	"SOL": "solana",
	"XRP": "xrp",
	"DOGE": "dogecoin",
}

// GetMarket devuelve el mercado direccional activo para un asset, o nil
// si ninguno de los slugs candidatos existe y está abierto.
func (g *Gateway) GetMarket(ctx context.Context, asset string) (*domain.Market, error) {
	name, ok := slugNames[strings.ToUpper(asset)]
	if !ok {
		name = strings.ToLower(asset)
	}

	now := time.Now().In(g.loc)
	for _, slug := range candidateSlugs(name, now) {
		m, err := g.marketBySlug(ctx, slug)
		if err != nil {
			return nil, fmt.Errorf("polymarket.GetMarket: %s: %w", asset, err)
		}
		if m == nil {
			continue
		}
		m.Asset = strings.ToUpper(asset)
		slog.Debug("market found", "asset", asset, "slug", slug)
		return m, nil
	}
	return nil, nil
}

// candidateSlugs genera los slugs de los mercados horarios de esta hora y
// la siguiente, más el diario de hoy. El orden es la preferencia: el
// mercado que cierra antes da feedback más rápido a la comunidad.
func candidateSlugs(name string, now time.Time) []string {
	date := strings.ToLower(now.Format("January-2"))
	nextHour := now.Add(time.Hour)
	nextDate := strings.ToLower(nextHour.Format("January-2"))

	return []string{
		fmt.Sprintf("%s-up-or-down-%s-%s-et", name, nextDate, hourLabel(nextHour)),
		fmt.Sprintf("%s-up-or-down-%s-%s-et", name, date, hourLabel(now)),
		fmt.Sprintf("%s-up-or-down-%s", name, date),
	}
}

// hourLabel formatea la hora como en los slugs: 12am, 1am, ..., 12pm, 11pm.
func hourLabel(t time.Time) string {
	return strings.ToLower(t.Format("3pm"))
}

// marketBySlug consulta Gamma por slug exacto. Devuelve nil si no existe
// o el mercado ya cerró.
func (g *Gateway) marketBySlug(ctx context.Context, slug string) (*domain.Market, error) {
	url := fmt.Sprintf("%s/markets?slug=%s", g.auth.gammaBase, slug)

	var resp gammaMarketsResponse
	if err := g.auth.get(ctx, g.auth.gammaLimiter, url, &resp); err != nil {
		return nil, fmt.Errorf("gamma query: %w", err)
	}
	if len(resp) == 0 {
		return nil, nil
	}

	gm := resp[0]
	if !gm.Active || gm.Closed {
		return nil, nil
	}
	return mapGammaMarket(gm)
}

// mapGammaMarket convierte la metadata de Gamma en un domain.Market,
// emparejando cada outcome con su token del CLOB.
func mapGammaMarket(gm gammaMarket) (*domain.Market, error) {
	var outcomes, tokenIDs []string
	if err := json.Unmarshal([]byte(gm.Outcomes), &outcomes); err != nil {
		return nil, fmt.Errorf("parse outcomes %q: %w", gm.Outcomes, err)
	}
	if err := json.Unmarshal([]byte(gm.ClobTokenIDs), &tokenIDs); err != nil {
		return nil, fmt.Errorf("parse token ids %q: %w", gm.ClobTokenIDs, err)
	}
	if len(outcomes) != len(tokenIDs) || len(outcomes) < 2 {
		return nil, fmt.Errorf("outcomes/tokens mismatch: %d vs %d", len(outcomes), len(tokenIDs))
	}

	m := &domain.Market{
		ConditionID: gm.ConditionID,
		Question:    gm.Question,
		Slug:        gm.Slug,
		Active:      gm.Active && !gm.Closed,
	}
	for i, outcome := range outcomes {
		switch {
		case strings.EqualFold(outcome, "Up") || strings.EqualFold(outcome, "Yes"):
			m.UpTokenID = tokenIDs[i]
		case strings.EqualFold(outcome, "Down") || strings.EqualFold(outcome, "No"):
			m.DownTokenID = tokenIDs[i]
		}
	}
	if m.UpTokenID == "" || m.DownTokenID == "" {
		return nil, fmt.Errorf("market %s: not a directional market (%v)", gm.Slug, outcomes)
	}

	if gm.EndDateISO != "" {
		if t, err := time.Parse(time.RFC3339, gm.EndDateISO); err == nil {
			m.EndDate = t.UTC()
		} else if t, err := time.Parse("2006-01-02", gm.EndDateISO); err == nil {
			m.EndDate = t.UTC()
		}
	}
	return m, nil
}
