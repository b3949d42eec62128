package sharetoken

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

const audience = "share"

var (
	ErrInvalidToken = errors.New("invalid share token")
	ErrTokenExpired = errors.New("share token expired")
)

type Claims struct {
	ShareID string `json:"share_id"`
	jwtlib.RegisteredClaims
}

// Codec issues and checks access tokens proving that a caller already passed a
// share's password challenge. Tokens are not stored anywhere.
type Codec struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

type Option func(c *Codec)

func WithClock(now func() time.Time) Option {
	return func(c *Codec) {
		if now != nil {
			c.now = now
		}
	}
}

func NewCodec(secret []byte, ttl time.Duration, opts ...Option) *Codec {
	if ttl <= 0 {
		ttl = time.Hour
	}
	c := &Codec{secret: secret, ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Codec) TTL() time.Duration {
	return c.ttl
}

func (c *Codec) Issue(shareID string) (string, error) {
	now := c.now()
	claims := Claims{
		ShareID: shareID,
		RegisteredClaims: jwtlib.RegisteredClaims{
			ID:        newNonce(),
			Audience:  jwtlib.ClaimStrings{audience},
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(c.ttl)),
		},
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(c.secret)
}

// Verify returns nil only when token was signed by this codec, has not expired
// and names shareID.
func (c *Codec) Verify(token, shareID string) error {
	_, err := c.Parse(token, shareID)
	return err
}

// Parse is Verify that also hands back the token's claims.
func (c *Codec) Parse(token, shareID string) (*Claims, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwtlib.ParseWithClaims(token, &Claims{}, func(t *jwtlib.Token) (interface{}, error) {
		return c.secret, nil
	},
		jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}),
		jwtlib.WithAudience(audience),
		jwtlib.WithExpirationRequired(),
		jwtlib.WithTimeFunc(c.now),
	)
	if err != nil {
		if errors.Is(err, jwtlib.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.ShareID == "" || claims.ShareID != shareID {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func newNonce() string {
	buf := make([]byte, 12)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}
