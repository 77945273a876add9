package oauth

import (
	"context"

	"github.com/arcrelay/cagateway/internal/account"
)

// NewRefreshFunc adapts Client.RefreshToken into the account.RefreshFunc
// contract: it mutates acc in place on success, leaving acc untouched on
// failure so the store's failure-counting logic in RefreshSession stays in
// the store, not here.
func NewRefreshFunc(client *Client) account.RefreshFunc {
	return func(ctx context.Context, acc *account.Account) error {
		tok, err := client.RefreshToken(ctx, acc.RefreshToken)
		if err != nil {
			return err
		}
		acc.AccessToken = tok.AccessToken
		if tok.RefreshToken != "" {
			acc.RefreshToken = tok.RefreshToken
		}
		acc.ExpiresIn = tok.ExpiresIn
		acc.IssuedAtMs = tok.IssuedAtMs
		return nil
	}
}
