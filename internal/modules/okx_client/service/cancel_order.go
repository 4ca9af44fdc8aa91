package service

import (
	"context"
	"fmt"
	"net/http"

	"signal_bot/internal/exchange"

	"go.uber.org/zap"
)

var (
	// ордер уже исполнен или отменён
	codesAlreadyFinal = []string{"51400", "51401", "51402"}
	codesNotFound     = []string{"51603"}
)

func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	instID := c.InstID(symbol)

	var (
		op  string
		err error
		r   struct {
			Data []okxItem `json:"data"`
		}
	)
	if id, ok := algoID(orderID); ok {
		op = "cancel_algo"
		body := []map[string]string{{"instId": instID, "algoId": id}}
		err = c.do(ctx, op, http.MethodPost, "/api/v5/trade/cancel-algos", nil, body, &r)
	} else {
		op = "cancel"
		body := map[string]string{"instId": instID, "ordId": orderID}
		err = c.do(ctx, op, http.MethodPost, "/api/v5/trade/cancel-order", nil, body, &r)
	}

	err = itemErr(op, r.Data, err)
	switch {
	case err == nil:
		c.log.Debug("okx order canceled", zap.String("inst_id", instID), zap.String("order_id", orderID))
		return nil
	case isCode(err, codesAlreadyFinal...):
		return nil
	case isCode(err, codesNotFound...):
		return fmt.Errorf("%w: %s", exchange.ErrOrderNotFound, orderID)
	}
	return err
}
