package service

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"signal_bot/internal/exchange"
	"signal_bot/internal/models"

	"github.com/shopspring/decimal"
)

func upper(s string) string { return strings.ToUpper(s) }

// GetPosition позиция по инструменту. В режиме long/short берём непустую сторону.
func (c *Client) GetPosition(ctx context.Context, symbol string) (models.ExchangePosition, error) {
	instID := c.InstID(symbol)
	m, err := c.instrumentMeta(ctx, instID)
	if err != nil {
		return models.ExchangePosition{}, err
	}

	var r struct {
		Data []positionDTO `json:"data"`
	}
	q := url.Values{"instType": {"SWAP"}, "instId": {instID}}
	if err := c.do(ctx, "position", http.MethodGet, "/api/v5/account/positions", q, nil, &r); err != nil {
		return models.ExchangePosition{}, err
	}

	out := models.ExchangePosition{Symbol: symbol}
	for _, d := range r.Data {
		pos := num(d.Pos)
		if pos.IsZero() {
			continue
		}
		qty := m.base(pos.Abs())
		if qty.LessThanOrEqual(out.Qty) {
			continue
		}
		side := models.SideLong
		switch d.PosSide {
		case "short":
			side = models.SideShort
		case "net":
			if pos.IsNegative() {
				side = models.SideShort
			}
		}
		mark := num(d.MarkPx)
		if mark.IsZero() {
			mark = num(d.Last)
		}
		out.Side, out.Qty, out.EntryPrice, out.MarkPrice = side, qty, num(d.AvgPx), mark
	}
	return out, nil
}

// GetBalance доступный капитал в валюте котировки.
func (c *Client) GetBalance(ctx context.Context) (decimal.Decimal, error) {
	var r struct {
		Data []balanceDTO `json:"data"`
	}
	if err := c.do(ctx, "balance", http.MethodGet, "/api/v5/account/balance", url.Values{"ccy": {c.quote}}, nil, &r); err != nil {
		return decimal.Zero, err
	}
	for _, acc := range r.Data {
		for _, d := range acc.Details {
			if !strings.EqualFold(d.Ccy, c.quote) {
				continue
			}
			for _, v := range []string{d.AvailEq, d.AvailBal, d.Eq} {
				if v != "" {
					return num(v), nil
				}
			}
		}
	}
	return decimal.Zero, nil
}

func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	const op = "set_leverage"
	body := map[string]string{
		"instId":  c.InstID(symbol),
		"lever":   strconv.Itoa(leverage),
		"mgnMode": "cross",
	}
	if leverage < 1 {
		return exchange.Permanent(op, "51000", "leverage must be positive")
	}
	var r struct {
		Data []struct {
			Lever string `json:"lever"`
		} `json:"data"`
	}
	return c.do(ctx, op, http.MethodPost, "/api/v5/account/set-leverage", nil, body, &r)
}
