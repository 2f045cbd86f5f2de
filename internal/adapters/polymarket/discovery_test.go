package polymarket

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCandidateSlugs(t *testing.T) {
	// 30 de agosto, 14:30 ET
	now := time.Date(2026, 8, 30, 14, 30, 0, 0, time.UTC)

	slugs := candidateSlugs("bitcoin", now)
	require.Len(t, slugs, 3)

	// Preferencia: la hora siguiente cierra antes
	assert.Equal(t, "bitcoin-up-or-down-august-30-3pm-et", slugs[0])
	assert.Equal(t, "bitcoin-up-or-down-august-30-2pm-et", slugs[1])
	assert.Equal(t, "bitcoin-up-or-down-august-30", slugs[2])
}

func TestCandidateSlugs_DayRollover(t *testing.T) {
	// 23:10: la hora siguiente cae en el día siguiente
	now := time.Date(2026, 8, 30, 23, 10, 0, 0, time.UTC)

	slugs := candidateSlugs("ethereum", now)
	assert.Equal(t, "ethereum-up-or-down-august-31-12am-et", slugs[0])
	assert.Equal(t, "ethereum-up-or-down-august-30-11pm-et", slugs[1])
}

func TestHourLabel(t *testing.T) {
	cases := map[int]string{0: "12am", 1: "1am", 11: "11am", 12: "12pm", 13: "1pm", 23: "11pm"}
	for hour, want := range cases {
		ts := time.Date(2026, 8, 30, hour, 0, 0, 0, time.UTC)
		assert.Equal(t, want, hourLabel(ts), "hour %d", hour)
	}
}

func TestMapGammaMarket(t *testing.T) {
	gm := gammaMarket{
		ConditionID:  "0xcond",
		Question:     "Bitcoin Up or Down - August 30, 3PM ET",
		Slug:         "bitcoin-up-or-down-august-30-3pm-et",
		Outcomes:     `["Up", "Down"]`,
		ClobTokenIDs: `["111", "222"]`,
		EndDateISO:   "2026-08-30T19:00:00Z",
		Active:       true,
	}

	m, err := mapGammaMarket(gm)
	require.NoError(t, err)
	assert.Equal(t, "0xcond", m.ConditionID)
	assert.Equal(t, "111", m.UpTokenID)
	assert.Equal(t, "222", m.DownTokenID)
	assert.True(t, m.Active)
	assert.Equal(t, time.Date(2026, 8, 30, 19, 0, 0, 0, time.UTC), m.EndDate)
}

func TestMapGammaMarket_YesNoOutcomes(t *testing.T) {
	gm := gammaMarket{
		ConditionID:  "0xcond",
		Outcomes:     `["Yes", "No"]`,
		ClobTokenIDs: `["aaa", "bbb"]`,
		Active:       true,
	}

	m, err := mapGammaMarket(gm)
	require.NoError(t, err)
	assert.Equal(t, "aaa", m.UpTokenID)
	assert.Equal(t, "bbb", m.DownTokenID)
}

func TestMapGammaMarket_NotDirectional(t *testing.T) {
	gm := gammaMarket{
		Outcomes:     `["Trump", "Biden"]`,
		ClobTokenIDs: `["1", "2"]`,
	}
	_, err := mapGammaMarket(gm)
	assert.Error(t, err)

	// Arrays desparejados
	gm = gammaMarket{
		Outcomes:     `["Up", "Down"]`,
		ClobTokenIDs: `["1"]`,
	}
	_, err = mapGammaMarket(gm)
	assert.Error(t, err)

	// JSON roto
	gm = gammaMarket{Outcomes: `not json`, ClobTokenIDs: `["1","2"]`}
	_, err = mapGammaMarket(gm)
	assert.Error(t, err)
}
