package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/authgate/authgate/internal/config"
	"github.com/authgate/authgate/internal/middleware"
	"github.com/authgate/authgate/internal/token"
)

// pinHeader carries the one-time code on PIN-gated requests.
const pinHeader = "x-otp-pin"

// PhoneVerifier is the slice of the phone engine the proxy consumes.
type PhoneVerifier interface {
	CreatePIN(ctx context.Context, userID, phone string) (string, error)
	VerifyPhone(ctx context.Context, userID, phone, country, pin string) (bool, error)
}

// Proxy forwards whitelisted public routes and authenticated traffic to the
// private backend, translating credentials in flight: the backend never sees
// session tokens, the client never sees backend internals.
type Proxy struct {
	backendURL  string
	client      *http.Client
	tokens      *token.Engine
	phones      PhoneVerifier
	passThrough config.PassThroughConfig
	directLogin config.DirectLoginConfig
	pinGates    []config.PinEndpoint
	matcher     *DeviceMatcher
	logger      *logrus.Logger
}

func New(cfg *config.Config, tokens *token.Engine, phones PhoneVerifier, logger *logrus.Logger) *Proxy {
	return &Proxy{
		backendURL:  strings.TrimRight(cfg.Backend.BaseURL, "/"),
		client:      &http.Client{Timeout: cfg.Backend.Timeout},
		tokens:      tokens,
		phones:      phones,
		passThrough: cfg.PassThrough,
		directLogin: cfg.DirectLogin,
		pinGates:    cfg.Phone.Endpoints,
		matcher:     NewDeviceMatcher(cfg.DirectLogin.CompatibleDevices),
		logger:      logger,
	}
}

// PassThrough handles the configured public endpoint: the declared password
// field is stripped before the backend sees the payload, and the backend's
// created id comes back wrapped in a freshly minted token pair.
func (p *Proxy) PassThrough(w http.ResponseWriter, r *http.Request) {
	var body map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		p.respondError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	delete(body, p.passThrough.PasswordField)

	payload, err := json.Marshal(body)
	if err != nil {
		p.respondError(w, http.StatusInternalServerError, "internal_error", "")
		return
	}

	resp, err := p.send(r.Context(), p.passThrough.Method, p.passThrough.Path, bytes.NewReader(payload), nil)
	if err != nil {
		p.logger.WithError(err).Error("Pass-through backend call failed")
		p.respondError(w, http.StatusInternalServerError, "proxy_error", "")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		copyResponse(w, resp)
		return
	}

	id, err := decodeID(resp.Body)
	if err != nil {
		p.logger.WithError(err).Error("Backend created-resource response missing id")
		p.respondError(w, http.StatusInternalServerError, "proxy_error", "")
		return
	}

	pair, err := p.tokens.Pair(id)
	if err != nil {
		p.logger.WithError(err).Error("Failed to mint token pair")
		p.respondError(w, http.StatusInternalServerError, "internal_error", "")
		return
	}

	p.respondJSON(w, http.StatusCreated, map[string]interface{}{
		"accessToken":  pair.AccessToken,
		"refreshToken": pair.RefreshToken,
		"expiresIn":    pair.ExpiresIn,
		"id":           id,
	})
}

// DirectLogin is the GET /user/activate variant of the pass-through flow.
// Compatible devices get a deep-link redirect carrying the refresh token;
// everything else gets a plain message.
func (p *Proxy) DirectLogin(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	if r.URL.RawQuery != "" {
		path += "?" + r.URL.RawQuery
	}

	resp, err := p.send(r.Context(), http.MethodGet, path, nil, nil)
	if err != nil {
		p.logger.WithError(err).Error("Direct-login backend call failed")
		p.respondError(w, http.StatusInternalServerError, "proxy_error", "")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		copyResponse(w, resp)
		return
	}

	id, err := decodeID(resp.Body)
	if err != nil {
		p.logger.WithError(err).Error("Backend activation response missing id")
		p.respondError(w, http.StatusInternalServerError, "proxy_error", "")
		return
	}

	pair, err := p.tokens.Pair(id)
	if err != nil {
		p.logger.WithError(err).Error("Failed to mint token pair")
		p.respondError(w, http.StatusInternalServerError, "internal_error", "")
		return
	}

	if p.matcher.Matches(r.UserAgent()) {
		w.Header().Set("Location", p.directLogin.DeepLink+"/refreshToken/"+pair.RefreshToken)
		w.WriteHeader(http.StatusFound)
		return
	}
	p.respondJSON(w, http.StatusOK, map[string]string{"msg": p.directLogin.FallbackMsg})
}

// Forward relays an authenticated request to the backend with the session
// credential translated: Authorization is stripped and the resolved user id
// rides in x-user-id. PIN-gated endpoints must carry a verified code first.
func (p *Proxy) Forward(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		p.respondError(w, http.StatusUnauthorized, "unauthorized", "")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		p.respondError(w, http.StatusBadRequest, "invalid_request", "")
		return
	}

	if gate := p.pinGate(r); gate != nil {
		if !p.checkPinGate(w, r, gate, user.ID, body) {
			return
		}
	}

	path := r.URL.Path
	if r.URL.RawQuery != "" {
		path += "?" + r.URL.RawQuery
	}

	headers := r.Header.Clone()
	headers.Del("Authorization")
	headers.Del(pinHeader)
	headers.Set("x-user-id", user.ID)

	resp, err := p.send(r.Context(), r.Method, path, bytes.NewReader(body), headers)
	if err != nil {
		p.logger.WithError(err).Error("Backend forward failed")
		p.respondError(w, http.StatusInternalServerError, "proxy_error", "")
		return
	}
	defer resp.Body.Close()

	copyResponse(w, resp)
}

func (p *Proxy) pinGate(r *http.Request) *config.PinEndpoint {
	for i := range p.pinGates {
		g := &p.pinGates[i]
		if strings.EqualFold(g.Method, r.Method) && g.Path == r.URL.Path {
			return g
		}
	}
	return nil
}

// checkPinGate enforces phone ownership on a gated endpoint. A request with
// no PIN triggers creation and dispatch of one; the client retries with the
// code it received.
func (p *Proxy) checkPinGate(w http.ResponseWriter, r *http.Request, gate *config.PinEndpoint, userID string, body []byte) bool {
	var fields map[string]interface{}
	if err := json.Unmarshal(body, &fields); err != nil {
		p.respondError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return false
	}

	phone, _ := fields[gate.Fields["phone"]].(string)
	country, _ := fields[gate.Fields["country"]].(string)
	if phone == "" {
		p.respondError(w, http.StatusBadRequest, "invalid_request", "phone is required")
		return false
	}

	pin := r.Header.Get(pinHeader)
	if pin == "" {
		if _, err := p.phones.CreatePIN(r.Context(), userID, phone); err != nil {
			p.logger.WithError(err).Error("Failed to create PIN for gated endpoint")
			p.respondError(w, http.StatusInternalServerError, "internal_error", "")
			return false
		}
		p.respondError(w, http.StatusForbidden, "verify_phone_error", "PIN required")
		return false
	}

	verified, err := p.phones.VerifyPhone(r.Context(), userID, phone, country, pin)
	if err != nil || !verified {
		p.respondError(w, http.StatusUnauthorized, "verify_phone_error", "")
		return false
	}
	return true
}

func (p *Proxy) send(ctx context.Context, method, path string, body io.Reader, headers http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, p.backendURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build backend request: %w", err)
	}
	if headers != nil {
		req.Header = headers
	}
	if req.Header.Get("Content-Type") == "" && body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return p.client.Do(req)
}

func decodeID(body io.Reader) (string, error) {
	var created struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(body).Decode(&created); err != nil {
		return "", fmt.Errorf("failed to decode backend response: %w", err)
	}
	if created.ID == "" {
		return "", fmt.Errorf("backend response carries no id")
	}
	return created.ID, nil
}

func copyResponse(w http.ResponseWriter, resp *http.Response) {
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}

func (p *Proxy) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func (p *Proxy) respondError(w http.ResponseWriter, status int, code, description string) {
	body := map[string]string{"err": code}
	if description != "" {
		body["des"] = description
	}
	p.respondJSON(w, status, body)
}
