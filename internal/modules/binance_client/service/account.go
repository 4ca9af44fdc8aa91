package service

import (
	"context"
	"strings"

	"signal_bot/internal/models"

	"github.com/shopspring/decimal"
)

const quoteAsset = "USDT"

func (c *Client) GetPosition(ctx context.Context, symbol string) (models.ExchangePosition, error) {
	list, err := c.api.NewGetPositionRiskService().Symbol(symbol).Do(ctx)
	if err != nil {
		return models.ExchangePosition{}, wrap("position", err)
	}
	out := models.ExchangePosition{Symbol: symbol}
	for _, p := range list {
		amt := num(p.PositionAmt)
		if p.Symbol != symbol || amt.IsZero() {
			continue
		}
		out.Side = models.SideLong
		if amt.IsNegative() {
			out.Side = models.SideShort
		}
		out.Qty = amt.Abs()
		out.EntryPrice = num(p.EntryPrice)
		out.MarkPrice = num(p.MarkPrice)
	}
	return out, nil
}

func (c *Client) GetBalance(ctx context.Context) (decimal.Decimal, error) {
	list, err := c.api.NewGetBalanceService().Do(ctx)
	if err != nil {
		return decimal.Zero, wrap("balance", err)
	}
	for _, b := range list {
		if strings.EqualFold(b.Asset, quoteAsset) {
			return num(b.AvailableBalance), nil
		}
	}
	return decimal.Zero, nil
}

func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	_, err := c.api.NewChangeLeverageService().Symbol(symbol).Leverage(leverage).Do(ctx)
	if apiCode(err) == codeNoLeverageNeed {
		return nil
	}
	return wrap("set_leverage", err)
}
