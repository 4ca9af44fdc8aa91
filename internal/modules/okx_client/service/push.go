package service

import (
	"context"

	"signal_bot/internal/models"

	"github.com/bytedance/sonic"
)

const (
	ChannelOrders = "orders"
	ChannelAlgos  = "orders-algo"
)

// DecodePush переводит data из кадра приватного канала в ордера пайплайна.
func (c *Client) DecodePush(ctx context.Context, channel string, data []byte) ([]models.Order, error) {
	switch channel {
	case ChannelOrders:
		var list []orderDTO
		if err := sonic.Unmarshal(data, &list); err != nil {
			return nil, err
		}
		out := make([]models.Order, 0, len(list))
		for _, d := range list {
			o, err := c.toOrder(ctx, "", d)
			if err != nil {
				return nil, err
			}
			out = append(out, o)
		}
		return out, nil
	case ChannelAlgos:
		var list []algoDTO
		if err := sonic.Unmarshal(data, &list); err != nil {
			return nil, err
		}
		out := make([]models.Order, 0, len(list))
		for _, d := range list {
			o, err := c.algoToOrder(ctx, "", d)
			if err != nil {
				return nil, err
			}
			out = append(out, o)
		}
		return out, nil
	}
	return nil, nil
}

// LoginArgs аргументы op=login для приватного websocket.
func (c *Client) LoginArgs(ts string) map[string]string {
	return map[string]string{
		"apiKey":     c.apiKey,
		"passphrase": c.passph,
		"timestamp":  ts,
		"sign":       c.sign(ts, "GET", "/users/self/verify", ""),
	}
}
