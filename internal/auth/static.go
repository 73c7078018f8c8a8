package auth

import (
	"log/slog"

	"inkwell/internal/domain"
	"inkwell/internal/domain/models"
)

// StaticVerifier accepts any bearer token and maps it to a fixed account.
// Dev-only: lets the editor run against a local server with no auth
// provider configured.
type StaticVerifier struct {
	accountID string
}

// NewStaticVerifier builds a dev verifier for the given account.
func NewStaticVerifier(accountID string, logger *slog.Logger) JWTVerifier {
	logger.Warn("static auth enabled; all requests map to one account", "account_id", accountID)
	return &StaticVerifier{accountID: accountID}
}

func (v *StaticVerifier) VerifyToken(tokenString string) (*models.AccountClaims, error) {
	if tokenString == "" {
		return nil, domain.ErrUnauthorized
	}
	claims := &models.AccountClaims{Role: "authenticated"}
	claims.Subject = v.accountID
	return claims, nil
}

func (v *StaticVerifier) Close() error { return nil }
