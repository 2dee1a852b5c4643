package backend

import (
	"context"
	"net/http"

	"github.com/htbacgiang/ecobacgiang/internal/domain"
)

type orderCreated struct {
	ID string `json:"id"`
}

// CreateOrder submits the order under idempotencyKey and returns the id the
// backend assigned. A retried key returns the original order's id.
func (c *Client) CreateOrder(ctx context.Context, idempotencyKey string, order *domain.Order) (string, error) {
	var out orderCreated
	err := c.do(ctx, request{
		method:         http.MethodPost,
		path:           "/orders",
		userID:         order.UserID,
		idempotencyKey: idempotencyKey,
		body:           order,
	}, &out)
	if err != nil {
		return "", err
	}
	if out.ID == "" {
		return order.ID, nil
	}
	return out.ID, nil
}
