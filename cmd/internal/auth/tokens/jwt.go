package tokens

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type jwtClaims struct {
	Role string `json:"role,omitempty"`
	Type Kind   `json:"typ"`
	jwt.RegisteredClaims
}

type jwtIssuer struct {
	cfg     Config
	access  []byte
	refresh []byte
}

func newJWTIssuer(cfg Config) (*jwtIssuer, error) {
	if len(cfg.Keys.AccessSecret) < MinSecretBytes || len(cfg.Keys.RefreshSecret) < MinSecretBytes {
		return nil, fmt.Errorf("%w: jwt secrets must be at least %d bytes", ErrConfig, MinSecretBytes)
	}
	if cfg.Keys.AccessSecret == cfg.Keys.RefreshSecret {
		return nil, fmt.Errorf("%w: access and refresh secrets must differ", ErrConfig)
	}
	return &jwtIssuer{
		cfg:     cfg,
		access:  []byte(cfg.Keys.AccessSecret),
		refresh: []byte(cfg.Keys.RefreshSecret),
	}, nil
}

func (i *jwtIssuer) key(kind Kind) []byte {
	if kind == KindRefresh {
		return i.refresh
	}
	return i.access
}

func (i *jwtIssuer) IssueAccess(accountID, role string, now time.Time) (Token, error) {
	return i.issue(KindAccess, accountID, role, now)
}

func (i *jwtIssuer) IssueRefresh(accountID string, now time.Time) (Token, error) {
	return i.issue(KindRefresh, accountID, "", now)
}

func (i *jwtIssuer) issue(kind Kind, accountID, role string, now time.Time) (Token, error) {
	if accountID == "" {
		return Token{}, fmt.Errorf("%w: empty account id", ErrInvalid)
	}
	now = now.UTC().Truncate(time.Second)
	exp := now.Add(i.cfg.ttl(kind))

	claims := jwtClaims{
		Role: role,
		Type: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.cfg.Issuer,
			Subject:   accountID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key(kind))
	if err != nil {
		return Token{}, err
	}
	return Token{Value: signed, ExpiresAt: exp}, nil
}

func (i *jwtIssuer) Verify(kind Kind, token string, now time.Time) (Claims, error) {
	if token == "" {
		return Claims{}, ErrInvalid
	}

	var claims jwtClaims
	parsed, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (any, error) { return i.key(kind), nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.cfg.Issuer),
		jwt.WithLeeway(i.cfg.ClockSkew),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrExpired
		}
		return Claims{}, ErrInvalid
	}
	if !parsed.Valid || claims.Type != kind || claims.Subject == "" {
		return Claims{}, ErrInvalid
	}
	if kind == KindAccess && claims.Role == "" {
		return Claims{}, ErrInvalid
	}

	out := Claims{
		AccountID: claims.Subject,
		Role:      claims.Role,
		Kind:      claims.Type,
		ID:        claims.ID,
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time.UTC()
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time.UTC()
	}
	return out, nil
}
