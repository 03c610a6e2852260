package token

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"

	"github.com/authgate/authgate/internal/config"
	"github.com/authgate/authgate/internal/models"
)

// Kind discriminates the two token families. A token only verifies against
// the keys of its own kind.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

var (
	// ErrInvalidToken covers undecryptable, tampered, or malformed tokens.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken means the token verified but its lifetime has passed.
	ErrExpiredToken = errors.New("token expired")
	// ErrKindMismatch means a valid token was presented to the wrong endpoint
	// kind (e.g. a refresh token where an access token is expected).
	ErrKindMismatch = errors.New("token kind mismatch")
)

// Claims is the decoded content of a session token.
type Claims struct {
	Subject   string
	Kind      Kind
	IssuedAt  time.Time
	ExpiresAt time.Time
	Data      map[string]interface{}
}

type privateClaims struct {
	Kind string                 `json:"kind"`
	Data map[string]interface{} `json:"data,omitempty"`
}

type keySet struct {
	signer    jose.Signer
	encrypter jose.Encrypter
	cipherKey []byte
	signKey   []byte
	expiry    time.Duration
}

// Engine issues and verifies opaque session tokens. Claims are signed with
// the kind's sign key and the resulting JWS is encrypted with the kind's
// cipher key, so the token is unreadable and untamperable without both.
// The engine holds no mutable state and is safe for concurrent use.
type Engine struct {
	sets map[Kind]*keySet
}

func NewEngine(access, refresh *config.TokenConfig) (*Engine, error) {
	e := &Engine{sets: make(map[Kind]*keySet, 2)}
	for kind, cfg := range map[Kind]*config.TokenConfig{
		KindAccess:  access,
		KindRefresh: refresh,
	} {
		set, err := newKeySet(cfg)
		if err != nil {
			return nil, fmt.Errorf("building %s token keys: %w", kind, err)
		}
		e.sets[kind] = set
	}
	return e, nil
}

func newKeySet(cfg *config.TokenConfig) (*keySet, error) {
	if cfg.CipherKey == "" || cfg.SignKey == "" {
		return nil, errors.New("cipher and sign keys are required")
	}

	// Stretch both configured keys to 32 bytes: A256GCM requires exactly
	// that, and HS256 refuses anything shorter.
	cipherSum := sha256.Sum256([]byte(cfg.CipherKey))
	cipherKey := cipherSum[:]
	signSum := sha256.Sum256([]byte(cfg.SignKey))
	signKey := signSum[:]

	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.HS256, Key: signKey},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating signer: %w", err)
	}

	encrypter, err := jose.NewEncrypter(
		jose.A256GCM,
		jose.Recipient{Algorithm: jose.DIRECT, Key: cipherKey},
		(&jose.EncrypterOptions{}).WithType("JWT").WithContentType("JWT"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating encrypter: %w", err)
	}

	return &keySet{
		signer:    signer,
		encrypter: encrypter,
		cipherKey: cipherKey,
		signKey:   signKey,
		expiry:    cfg.Expiry,
	}, nil
}

// Issue mints a token of the given kind for subject. The payload travels
// inside the encrypted claims and comes back verbatim from Verify.
func (e *Engine) Issue(kind Kind, subject string, payload map[string]interface{}) (string, error) {
	set, ok := e.sets[kind]
	if !ok {
		return "", fmt.Errorf("unknown token kind %q", kind)
	}

	now := time.Now()
	registered := jwt.Claims{
		Subject:  subject,
		IssuedAt: jwt.NewNumericDate(now),
		Expiry:   jwt.NewNumericDate(now.Add(set.expiry)),
	}
	private := privateClaims{Kind: string(kind), Data: payload}

	raw, err := jwt.SignedAndEncrypted(set.signer, set.encrypter).
		Claims(registered).
		Claims(private).
		Serialize()
	if err != nil {
		return "", fmt.Errorf("serializing %s token: %w", kind, err)
	}
	return raw, nil
}

// Verify decrypts and validates a token. Checks run in order: signature and
// cipher first (tamper detection), then expiry, then kind, so callers can
// rely on the error to tell a stale session from a forged one.
func (e *Engine) Verify(kind Kind, raw string) (*Claims, error) {
	set, ok := e.sets[kind]
	if !ok {
		return nil, fmt.Errorf("unknown token kind %q", kind)
	}

	nested, err := jwt.ParseSignedAndEncrypted(raw,
		[]jose.KeyAlgorithm{jose.DIRECT},
		[]jose.ContentEncryption{jose.A256GCM},
		[]jose.SignatureAlgorithm{jose.HS256},
	)
	if err != nil {
		return nil, ErrInvalidToken
	}

	// With per-kind cipher keys a wrong-kind token already dies here as
	// ErrInvalidToken; ErrKindMismatch below only fires when key material
	// overlaps across kinds.
	signed, err := nested.Decrypt(set.cipherKey)
	if err != nil {
		return nil, ErrInvalidToken
	}

	var registered jwt.Claims
	var private privateClaims
	if err := signed.Claims(set.signKey, &registered, &private); err != nil {
		return nil, ErrInvalidToken
	}

	if err := registered.Validate(jwt.Expected{Time: time.Now()}); err != nil {
		if errors.Is(err, jwt.ErrExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	if private.Kind != string(kind) {
		return nil, ErrKindMismatch
	}

	claims := &Claims{
		Subject: registered.Subject,
		Kind:    Kind(private.Kind),
		Data:    private.Data,
	}
	if registered.IssuedAt != nil {
		claims.IssuedAt = registered.IssuedAt.Time()
	}
	if registered.Expiry != nil {
		claims.ExpiresAt = registered.Expiry.Time()
	}
	return claims, nil
}

// Pair mints the access/refresh token pair for a subject. The two tokens are
// independent artifacts; neither is derivable from the other.
func (e *Engine) Pair(subject string) (*models.TokenPair, error) {
	access, err := e.Issue(KindAccess, subject, nil)
	if err != nil {
		return nil, err
	}
	refresh, err := e.Issue(KindRefresh, subject, nil)
	if err != nil {
		return nil, err
	}
	return &models.TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    e.ExpiresIn(KindAccess),
	}, nil
}

// ExpiresIn reports the configured lifetime of a kind in whole seconds, as
// surfaced in token responses.
func (e *Engine) ExpiresIn(kind Kind) int64 {
	if set, ok := e.sets[kind]; ok {
		return int64(set.expiry.Seconds())
	}
	return 0
}
