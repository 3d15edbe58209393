package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"chatpulse/internal/config"
)

var (
	ErrMissingToken = errors.New("missing token")
	ErrInvalidToken = errors.New("invalid token")
	ErrNoSigningKey = errors.New("no signing key configured")
)

// Service verifies access tokens issued by the auth collaborator. It only
// signs tokens itself when it holds a private key (dev and tests).
type Service struct {
	cfg  config.Config
	priv *rsa.PrivateKey
	pub  *rsa.PublicKey
	log  *zap.Logger
}

// NewService loads the configured keys. Outside prod an unusable or missing
// key falls back to an ephemeral one; in prod it is an error.
func NewService(cfg config.Config, log *zap.Logger) (*Service, error) {
	s := &Service{cfg: cfg, log: log}
	if err := s.initKeys(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Service) initKeys() error {
	var keyErr error
	if strings.TrimSpace(s.cfg.JWTPrivatePEM) != "" {
		key, err := parsePrivateKey(s.cfg.JWTPrivatePEM)
		if err == nil {
			s.priv = key
			s.pub = &key.PublicKey
			return nil
		}
		keyErr = errors.Wrap(err, "JWT_PRIVATE_PEM")
	}
	if keyErr == nil && strings.TrimSpace(s.cfg.JWTPublicPEM) != "" {
		pub, err := parsePublicKey(s.cfg.JWTPublicPEM)
		if err == nil {
			s.pub = pub
			return nil
		}
		keyErr = errors.Wrap(err, "JWT_PUBLIC_PEM")
	}
	if s.cfg.Env == "prod" {
		if keyErr == nil {
			keyErr = ErrNoSigningKey
		}
		return keyErr
	}
	if keyErr != nil {
		s.log.Warn("ignoring unusable JWT key", zap.Error(keyErr))
	}
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return errors.Wrap(err, "generate ephemeral key")
	}
	s.priv = key
	s.pub = &key.PublicKey
	s.log.Info("using an ephemeral JWT signing key")
	return nil
}

func parsePrivateKey(raw string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(raw))
	if block == nil {
		return nil, errors.New("no PEM block")
	}
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, errors.Wrap(err, "parse PKCS1 private key")
	}
	key.Precompute()
	return key, nil
}

func parsePublicKey(raw string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(raw))
	if block == nil {
		return nil, errors.New("no PEM block")
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, errors.Wrap(err, "parse PKIX public key")
	}
	pub, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, errors.Errorf("unsupported public key type %T", key)
	}
	return pub, nil
}

// IssueToken signs a token for subject.
func (s *Service) IssueToken(subject string, ttl time.Duration) (string, error) {
	if s.priv == nil {
		return "", ErrNoSigningKey
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(s.priv)
}

// Verify returns the subject of a valid token.
func (s *Service) Verify(raw string) (string, error) {
	var claims jwt.RegisteredClaims
	tok, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodRS256 {
			return nil, errors.Errorf("unexpected alg %v", t.Header["alg"])
		}
		return s.pub, nil
	})
	if err != nil || !tok.Valid {
		return "", errors.Wrapf(ErrInvalidToken, "%v", err)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", errors.Wrap(ErrInvalidToken, "empty sub")
	}
	return claims.Subject, nil
}

// Subject authenticates r from its Bearer header, falling back to the
// token query parameter since browsers cannot set headers on websockets.
func (s *Service) Subject(r *http.Request) (string, error) {
	raw := ""
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		raw = strings.TrimPrefix(h, "Bearer ")
	} else {
		raw = r.URL.Query().Get("token")
	}
	if raw == "" {
		return "", ErrMissingToken
	}
	return s.Verify(raw)
}

func (s *Service) JWTMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sub, err := s.Subject(r)
		if errors.Is(err, ErrMissingToken) {
			http.Error(w, "missing token", http.StatusUnauthorized)
			return
		}
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), sub)))
	})
}

type ctxKey int

const ctxKeyUserID ctxKey = 1

func WithUserID(ctx context.Context, uid string) context.Context {
	return context.WithValue(ctx, ctxKeyUserID, uid)
}

func UserID(r *http.Request) string {
	v, _ := r.Context().Value(ctxKeyUserID).(string)
	return v
}
