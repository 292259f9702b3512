package session

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"mediagate/internal/domain"
)

const (
	// MinLifetime and MaxLifetime bound the session lifetime a caller may request.
	MinLifetime = 5 * time.Minute
	MaxLifetime = 7 * 24 * time.Hour
	// MinSecretLength is the shortest shared secret accepted.
	MinSecretLength = 16
)

// Sentinel errors returned (joined) by NewCredentials.
var (
	ErrInvalidPartner     = errors.New("credentials: partner id must be positive")
	ErrSecretTooShort     = fmt.Errorf("credentials: secret must be at least %d characters", MinSecretLength)
	ErrInvalidEndpoint    = errors.New("credentials: endpoint must be an absolute http(s) URL")
	ErrLifetimeOutOfRange = fmt.Errorf("credentials: lifetime must be within [%s, %s]", MinLifetime, MaxLifetime)
	ErrInvalidSessionType = errors.New("credentials: unknown session type")
)

// CredentialsInput is the raw material for NewCredentials.
type CredentialsInput struct {
	Endpoint  string
	PartnerID int
	Secret    string
	UserID    string
	Type      domain.SessionType
	Lifetime  time.Duration
}

// Credentials is the validated, immutable identity used to mint sessions.
// The zero value is unusable; build one with NewCredentials.
type Credentials struct {
	endpoint    *url.URL
	partnerID   int
	secret      string
	userID      string
	sessionType domain.SessionType
	lifetime    time.Duration
}

// NewCredentials validates in and returns Credentials. Every problem is
// reported, joined into one error.
func NewCredentials(in CredentialsInput) (Credentials, error) {
	var errs []error
	if in.PartnerID <= 0 {
		errs = append(errs, ErrInvalidPartner)
	}
	if len(in.Secret) < MinSecretLength {
		errs = append(errs, ErrSecretTooShort)
	}
	u, err := url.Parse(in.Endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("%w: %q", ErrInvalidEndpoint, in.Endpoint))
	}
	if in.Lifetime < MinLifetime || in.Lifetime > MaxLifetime {
		errs = append(errs, fmt.Errorf("%w: got %s", ErrLifetimeOutOfRange, in.Lifetime))
	}
	if in.Type != domain.SessionTypeUser && in.Type != domain.SessionTypeAdmin {
		errs = append(errs, fmt.Errorf("%w: %d", ErrInvalidSessionType, in.Type))
	}
	if len(errs) > 0 {
		return Credentials{}, errors.Join(errs...)
	}
	return Credentials{
		endpoint:    u,
		partnerID:   in.PartnerID,
		secret:      in.Secret,
		userID:      in.UserID,
		sessionType: in.Type,
		lifetime:    in.Lifetime,
	}, nil
}

func (c Credentials) Endpoint() string {
	if c.endpoint == nil {
		return ""
	}
	return c.endpoint.String()
}

func (c Credentials) PartnerID() int                  { return c.partnerID }
func (c Credentials) Secret() string                  { return c.secret }
func (c Credentials) UserID() string                  { return c.userID }
func (c Credentials) SessionType() domain.SessionType { return c.sessionType }
func (c Credentials) Lifetime() time.Duration         { return c.lifetime }

// Valid reports whether c was produced by NewCredentials.
func (c Credentials) Valid() bool { return c.endpoint != nil }

// String redacts the secret.
func (c Credentials) String() string {
	return fmt.Sprintf("Credentials{endpoint=%s partner=%d user=%q type=%d lifetime=%s secret=[redacted]}",
		c.Endpoint(), c.partnerID, c.userID, c.sessionType, c.lifetime)
}
