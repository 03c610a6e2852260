package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/authgate/authgate/internal/config"
	"github.com/authgate/authgate/internal/models"
)

// Credentials are the provider-side tokens obtained from the code exchange.
// Some providers (Salesforce shape) return the profile URL in the "id"
// field; when present it wins over the statically configured profile URL.
type Credentials struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ProfileURL   string `json:"id"`
	InstanceURL  string `json:"instance_url"`
}

// Client drives the authorization-code flow for one configured provider.
type Client struct {
	cfg    config.ProviderConfig
	client *http.Client
	logger *logrus.Logger
}

func NewClient(cfg config.ProviderConfig, logger *logrus.Logger) *Client {
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: 15 * time.Second},
		logger: logger,
	}
}

func (c *Client) Name() string {
	return c.cfg.Name
}

func (c *Client) FailureURL() string {
	return c.cfg.FailureURL
}

// AuthorizeURL builds the redirect target that starts the flow. No
// server-side state is created; the round trip is correlated only by the
// provider's own parameters.
func (c *Client) AuthorizeURL() string {
	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", c.cfg.ClientID)
	q.Set("redirect_uri", c.cfg.CallbackURL)
	if c.cfg.Scope != "" {
		q.Set("scope", c.cfg.Scope)
	}
	return c.cfg.AuthorizeURL + "?" + q.Encode()
}

// Exchange trades an authorization code for provider credentials.
func (c *Client) Exchange(ctx context.Context, code string) (*Credentials, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", c.cfg.ClientSecret)
	form.Set("redirect_uri", c.cfg.CallbackURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.WithError(err).WithField("provider", c.cfg.Name).Error("Token exchange failed")
		return nil, fmt.Errorf("token exchange failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provider token endpoint responded %d", resp.StatusCode)
	}

	var creds Credentials
	if err := json.NewDecoder(resp.Body).Decode(&creds); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}
	if creds.AccessToken == "" {
		return nil, fmt.Errorf("provider token response missing access_token")
	}
	return &creds, nil
}

// rawProfile accepts the field spellings of both configured providers;
// normalization picks whichever is populated.
type rawProfile struct {
	ID                 string `json:"id"`
	UserID             string `json:"user_id"`
	OrganizationID     string `json:"organization_id"`
	FirstName          string `json:"first_name"`
	LastName           string `json:"last_name"`
	LocalizedFirstName string `json:"localizedFirstName"`
	LocalizedLastName  string `json:"localizedLastName"`
	Email              string `json:"email"`
	EmailAddress       string `json:"emailAddress"`
	MobilePhone        string `json:"mobile_phone"`
	PhoneNumber        string `json:"phoneNumber"`
	AddrCountry        string `json:"addr_country"`
	PictureURL         string `json:"pictureUrl"`
	Photos             struct {
		Picture string `json:"picture"`
	} `json:"photos"`
}

// FetchProfile retrieves the provider profile for the given credentials and
// normalizes it into the canonical shape. The second return value is the
// provider photo URL, left to the caller to re-host (best-effort).
func (c *Client) FetchProfile(ctx context.Context, creds *Credentials) (*models.Profile, string, error) {
	profileURL := creds.ProfileURL
	if profileURL == "" {
		profileURL = c.cfg.ProfileURL
	}
	if profileURL == "" {
		return nil, "", fmt.Errorf("no profile URL for provider %s", c.cfg.Name)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, profileURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to build profile request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.WithError(err).WithField("provider", c.cfg.Name).Error("Profile fetch failed")
		return nil, "", fmt.Errorf("profile fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("provider profile endpoint responded %d", resp.StatusCode)
	}

	var raw rawProfile
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, "", fmt.Errorf("failed to decode profile: %w", err)
	}

	profile := normalizeProfile(&raw)
	if profile.SubjectID == "" {
		return nil, "", fmt.Errorf("provider profile missing subject id")
	}

	photoURL := raw.Photos.Picture
	if photoURL == "" {
		photoURL = raw.PictureURL
	}
	return profile, photoURL, nil
}

func normalizeProfile(raw *rawProfile) *models.Profile {
	phone, country := NormalizePhone(firstOf(raw.MobilePhone, raw.PhoneNumber), raw.AddrCountry)
	return &models.Profile{
		SubjectID: subjectID(raw),
		Name:      firstOf(raw.FirstName, raw.LocalizedFirstName),
		Lastname:  firstOf(raw.LastName, raw.LocalizedLastName),
		Email:     firstOf(raw.Email, raw.EmailAddress),
		Phone:     phone,
		Country:   country,
	}
}

// subjectID extracts the provider subject. Salesforce-shaped profiles carry
// an id URL whose last two path segments are org and user id; those become
// "org/user". Flat ids pass through as-is.
func subjectID(raw *rawProfile) string {
	if raw.OrganizationID != "" && raw.UserID != "" {
		return raw.OrganizationID + "/" + raw.UserID
	}
	if u, err := url.Parse(raw.ID); err == nil && u.Scheme != "" {
		parts := strings.Split(strings.Trim(u.Path, "/"), "/")
		if len(parts) >= 2 {
			return parts[len(parts)-2] + "/" + parts[len(parts)-1]
		}
	}
	return raw.ID
}

func firstOf(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
