package service

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"signal_bot/internal/exchange"
	"signal_bot/internal/models"

	"github.com/shopspring/decimal"
)

// instrumentMeta параметры контракта, кэшируются на время жизни процесса.
func (c *Client) instrumentMeta(ctx context.Context, instID string) (instMeta, error) {
	c.mu.RLock()
	m, ok := c.meta[instID]
	c.mu.RUnlock()
	if ok {
		return m, nil
	}

	const op = "instrument"
	var payload struct {
		Data []instrumentDTO `json:"data"`
	}
	q := url.Values{"instType": {"SWAP"}, "instId": {instID}}
	if err := c.do(ctx, op, http.MethodGet, "/api/v5/public/instruments", q, nil, &payload); err != nil {
		return instMeta{}, err
	}
	if len(payload.Data) == 0 {
		return instMeta{}, exchange.Permanent(op, "51001", fmt.Sprintf("instrument %s not found", instID))
	}

	inst := payload.Data[0]
	if inst.State != "" && inst.State != "live" {
		return instMeta{}, exchange.Permanent(op, "51001", fmt.Sprintf("instrument %s not live: state=%s", instID, inst.State))
	}
	if inst.CtType != "" && inst.CtType != "linear" {
		return instMeta{}, exchange.Permanent(op, "51001", fmt.Sprintf("instrument %s is %s, only linear swaps are supported", instID, inst.CtType))
	}

	parsePos := func(name, s string) (decimal.Decimal, error) {
		v, err := decimal.NewFromString(s)
		if err != nil || !v.IsPositive() {
			return decimal.Zero, exchange.Permanent(op, "parse", fmt.Sprintf("%s %q", name, s))
		}
		return v, nil
	}

	var err error
	if m.lotSz, err = parsePos("lotSz", inst.LotSz); err != nil {
		return instMeta{}, err
	}
	if m.minSz, err = parsePos("minSz", inst.MinSz); err != nil {
		return instMeta{}, err
	}
	if m.tickSz, err = parsePos("tickSz", inst.TickSz); err != nil {
		return instMeta{}, err
	}
	if m.ctVal, err = parsePos("ctVal", inst.CtVal); err != nil {
		return instMeta{}, err
	}
	if mult, err := decimal.NewFromString(inst.CtMult); err == nil && mult.IsPositive() {
		m.ctVal = m.ctVal.Mul(mult)
	}
	maxSz := inst.MaxLmtSz
	if maxSz == "" {
		maxSz = inst.MaxMktSz
	}
	m.maxSz, _ = decimal.NewFromString(maxSz)

	c.mu.Lock()
	c.meta[instID] = m
	c.mu.Unlock()
	return m, nil
}

func (c *Client) lastPrice(ctx context.Context, instID string) (decimal.Decimal, error) {
	const op = "ticker"
	var payload struct {
		Data []struct {
			Last string `json:"last"`
		} `json:"data"`
	}
	if err := c.do(ctx, op, http.MethodGet, "/api/v5/market/ticker", url.Values{"instId": {instID}}, nil, &payload); err != nil {
		return decimal.Zero, err
	}
	if len(payload.Data) == 0 {
		return decimal.Zero, exchange.Permanent(op, "51001", "no ticker for "+instID)
	}
	px, err := decimal.NewFromString(payload.Data[0].Last)
	if err != nil || !px.IsPositive() {
		return decimal.Zero, exchange.Transient(op, "parse", "last price "+payload.Data[0].Last)
	}
	return px, nil
}

// GetInstrument шаги в базовой валюте: лот OKX в контрактах умножается на ctVal.
func (c *Client) GetInstrument(ctx context.Context, symbol string) (models.Instrument, error) {
	instID := c.InstID(symbol)
	m, err := c.instrumentMeta(ctx, instID)
	if err != nil {
		return models.Instrument{}, err
	}
	last, err := c.lastPrice(ctx, instID)
	if err != nil {
		return models.Instrument{}, err
	}
	return models.Instrument{
		Symbol:    symbol,
		LotSize:   m.lotSz.Mul(m.ctVal),
		MinQty:    m.minSz.Mul(m.ctVal),
		MaxQty:    m.maxSz.Mul(m.ctVal),
		TickSize:  m.tickSz,
		LastPrice: last,
	}, nil
}

// contracts базовое количество -> контракты, вниз к лоту.
func (m instMeta) contracts(qty decimal.Decimal) decimal.Decimal {
	n := qty.Div(m.ctVal)
	return n.Div(m.lotSz).Floor().Mul(m.lotSz)
}

func (m instMeta) base(contracts decimal.Decimal) decimal.Decimal {
	return contracts.Mul(m.ctVal)
}
