package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const (
	defaultIssuer   = "mindmate-auth"
	defaultAudience = "mindmate-api"
	defaultTokenTTL = time.Hour
	defaultLeeway   = 30 * time.Second
	defaultKeyID    = "mindmate-active"
)

var (
	// ErrInvalidToken covers missing, malformed, expired, and badly signed tokens.
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenRevoked is returned for a well-formed token that was logged out.
	ErrTokenRevoked = errors.New("token revoked")
	// ErrRevocationUnavailable wraps revocation backend failures.
	ErrRevocationUnavailable = errors.New("revocation check unavailable")
)

// TokenOptions configures issued claims and validation.
type TokenOptions struct {
	Issuer   string
	Audience string
	TTL      time.Duration
	Leeway   time.Duration
}

// Claims is the verified identity carried by a bearer token.
type Claims struct {
	UserID    string
	Email     string
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type tokenClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// JWK is one entry of a JSON Web Key Set.
type JWK struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	N   string `json:"n,omitempty"`
	E   string `json:"e,omitempty"`
}

// Tokens issues and verifies signed bearer tokens. It signs with either a shared
// HS256 secret or an RS256 private key.
type Tokens struct {
	opts    TokenOptions
	revoker Revoker

	method  jwt.SigningMethod
	secret  []byte
	rsaKey  *rsa.PrivateKey
	rsaKid  string
	rsaPubs map[string]*rsa.PublicKey
}

// NewHS256Tokens builds a token service over a shared secret.
func NewHS256Tokens(secret string, revoker Revoker, opts TokenOptions) (*Tokens, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("jwt secret is required")
	}
	return &Tokens{
		opts:    normalizeTokenOptions(opts),
		revoker: revoker,
		method:  jwt.SigningMethodHS256,
		secret:  []byte(secret),
	}, nil
}

// NewRS256TokensFromPEM builds a token service from PEM key files. publicKeyPath may be
// empty, in which case the private key's public half verifies tokens.
func NewRS256TokensFromPEM(privateKeyPath, publicKeyPath, keyID string, revoker Revoker, opts TokenOptions) (*Tokens, error) {
	priv, err := loadRSAPrivateKey(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("load jwt private key: %w", err)
	}
	pub := &priv.PublicKey
	if strings.TrimSpace(publicKeyPath) != "" {
		if pub, err = loadRSAPublicKey(publicKeyPath); err != nil {
			return nil, fmt.Errorf("load jwt public key: %w", err)
		}
	}
	return newRS256Tokens(priv, pub, keyID, revoker, opts), nil
}

func newRS256Tokens(priv *rsa.PrivateKey, pub *rsa.PublicKey, keyID string, revoker Revoker, opts TokenOptions) *Tokens {
	keyID = strings.TrimSpace(keyID)
	if keyID == "" {
		keyID = defaultKeyID
	}
	return &Tokens{
		opts:    normalizeTokenOptions(opts),
		revoker: revoker,
		method:  jwt.SigningMethodRS256,
		rsaKey:  priv,
		rsaKid:  keyID,
		rsaPubs: map[string]*rsa.PublicKey{keyID: pub},
	}
}

// TTL is the lifetime of issued tokens.
func (t *Tokens) TTL() time.Duration {
	return t.opts.TTL
}

// Issue signs a token for the user.
func (t *Tokens) Issue(userID, email string) (string, Claims, error) {
	now := time.Now().UTC()
	claims := tokenClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    t.opts.Issuer,
			Audience:  jwt.ClaimStrings{t.opts.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.opts.TTL)),
			ID:        newTokenID(),
		},
	}
	token := jwt.NewWithClaims(t.method, claims)
	var (
		signed string
		err    error
	)
	if t.rsaKey != nil {
		token.Header["kid"] = t.rsaKid
		signed, err = token.SignedString(t.rsaKey)
	} else {
		signed, err = token.SignedString(t.secret)
	}
	if err != nil {
		return "", Claims{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, claims.toClaims(), nil
}

// Verify checks signature, expiry, issuer, audience, and revocation.
func (t *Tokens) Verify(ctx context.Context, raw string) (Claims, error) {
	parsed, err := t.parse(raw)
	if err != nil {
		return Claims{}, err
	}
	if t.revoker != nil {
		revoked, err := t.revoker.IsRevoked(ctx, parsed.ID)
		if err != nil {
			return Claims{}, fmt.Errorf("%w: %w", ErrRevocationUnavailable, err)
		}
		if revoked {
			return Claims{}, ErrTokenRevoked
		}
	}
	return parsed.toClaims(), nil
}

// Revoke blocks the token until it would have expired anyway.
func (t *Tokens) Revoke(ctx context.Context, raw string) error {
	if t.revoker == nil {
		return nil
	}
	parsed, err := t.parse(raw)
	if err != nil {
		return err
	}
	if parsed.ExpiresAt == nil {
		return nil
	}
	if err := t.revoker.Revoke(ctx, parsed.ID, time.Until(parsed.ExpiresAt.Time)); err != nil {
		return fmt.Errorf("%w: %w", ErrRevocationUnavailable, err)
	}
	return nil
}

// JWKS publishes the RS256 verification keys. It is empty for HS256.
func (t *Tokens) JWKS() []JWK {
	out := make([]JWK, 0, len(t.rsaPubs))
	for kid, pub := range t.rsaPubs {
		out = append(out, JWK{
			Kty: "RSA",
			Use: "sig",
			Kid: kid,
			Alg: jwt.SigningMethodRS256.Alg(),
			N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		})
	}
	return out
}

func (t *Tokens) parse(raw string) (tokenClaims, error) {
	var claims tokenClaims
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return claims, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(raw, &claims, t.keyFor,
		jwt.WithValidMethods([]string{t.method.Alg()}),
		jwt.WithIssuer(t.opts.Issuer),
		jwt.WithAudience(t.opts.Audience),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(t.opts.Leeway),
	)
	if err != nil || !parsed.Valid {
		return claims, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if strings.TrimSpace(claims.Subject) == "" || strings.TrimSpace(claims.ID) == "" {
		return claims, ErrInvalidToken
	}
	return claims, nil
}

func (t *Tokens) keyFor(token *jwt.Token) (any, error) {
	if t.rsaKey == nil {
		return t.secret, nil
	}
	kid, _ := token.Header["kid"].(string)
	pub, ok := t.rsaPubs[strings.TrimSpace(kid)]
	if !ok {
		return nil, errors.New("unknown token key")
	}
	return pub, nil
}

func (c tokenClaims) toClaims() Claims {
	out := Claims{UserID: c.Subject, Email: c.Email, TokenID: c.ID}
	if c.IssuedAt != nil {
		out.IssuedAt = c.IssuedAt.Time
	}
	if c.ExpiresAt != nil {
		out.ExpiresAt = c.ExpiresAt.Time
	}
	return out
}

func normalizeTokenOptions(opts TokenOptions) TokenOptions {
	opts.Issuer = strings.TrimSpace(opts.Issuer)
	opts.Audience = strings.TrimSpace(opts.Audience)
	if opts.Issuer == "" {
		opts.Issuer = defaultIssuer
	}
	if opts.Audience == "" {
		opts.Audience = defaultAudience
	}
	if opts.TTL <= 0 {
		opts.TTL = defaultTokenTTL
	}
	if opts.Leeway <= 0 {
		opts.Leeway = defaultLeeway
	}
	return opts
}

func newTokenID() string {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%x", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf)
}

func loadRSAPrivateKey(path string) (*rsa.PrivateKey, error) {
	block, err := readPEM(path)
	if err != nil {
		return nil, err
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("private key is not rsa")
	}
	return key, nil
}

func loadRSAPublicKey(path string) (*rsa.PublicKey, error) {
	block, err := readPEM(path)
	if err != nil {
		return nil, err
	}
	if parsed, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		if pub, ok := parsed.(*rsa.PublicKey); ok {
			return pub, nil
		}
		return nil, errors.New("public key is not rsa")
	}
	if pub, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return pub, nil
	}
	return nil, errors.New("failed to parse rsa public key")
}

func readPEM(path string) (*pem.Block, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("invalid pem")
	}
	return block, nil
}
