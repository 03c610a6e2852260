package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/authgate/authgate/internal/models"
	"github.com/authgate/authgate/internal/provider"
	"github.com/authgate/authgate/internal/repository"
	"github.com/authgate/authgate/internal/token"
)

// UserStore is the slice of the user store the handlers consume.
type UserStore interface {
	FindByUsername(ctx context.Context, username string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByProviderID(ctx context.Context, providerName, subjectID string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	LinkProvider(ctx context.Context, userID, providerName string, identity models.ProviderIdentity) error
	DeleteAll(ctx context.Context) error
	Count(ctx context.Context) (int, error)
}

// AvatarStore re-hosts a remote image, returning nil when it cannot.
type AvatarStore interface {
	Store(ctx context.Context, sourceURL string) *string
}

// ProviderClient is one configured identity provider.
type ProviderClient interface {
	Name() string
	FailureURL() string
	AuthorizeURL() string
	Exchange(ctx context.Context, code string) (*provider.Credentials, error)
	FetchProfile(ctx context.Context, creds *provider.Credentials) (*models.Profile, string, error)
}

type AuthHandlers struct {
	tokens    *token.Engine
	users     UserStore
	providers map[string]ProviderClient
	avatars   AvatarStore
	logger    *logrus.Logger
}

func NewAuthHandlers(
	tokens *token.Engine,
	users UserStore,
	providers map[string]ProviderClient,
	avatars AvatarStore,
	logger *logrus.Logger,
) *AuthHandlers {
	return &AuthHandlers{
		tokens:    tokens,
		users:     users,
		providers: providers,
		avatars:   avatars,
		logger:    logger,
	}
}

type loginRequest struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type createUserRequest struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Password string `json:"password"`
	SF       string `json:"sf"`
	IN       string `json:"in"`
}

type apiError struct {
	Err string `json:"err"`
	Des string `json:"des,omitempty"`
}

// Login authenticates a local account and mints a session token pair.
func (h *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}

	user, err := h.users.FindByUsername(r.Context(), strings.TrimSpace(req.Username))
	if err != nil {
		h.logger.WithError(err).Error("Failed to look up user for login")
		h.respondWithError(w, http.StatusInternalServerError, "internal_error", "")
		return
	}

	// Federated-only identities carry no password and cannot log in locally.
	if user == nil || user.Password == "" ||
		bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)) != nil {
		h.respondWithError(w, http.StatusConflict, "invalid_credentials", "")
		return
	}

	pair, err := h.tokens.Pair(user.ID)
	if err != nil {
		h.logger.WithError(err).Error("Failed to mint token pair")
		h.respondWithError(w, http.StatusInternalServerError, "internal_error", "")
		return
	}

	h.respondWithJSON(w, http.StatusOK, pair)
}

// CreateUser registers a local account. A pending-linkage token from a
// federated callback may ride along to link that identity in the same step.
func (h *AuthHandlers) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}

	username := strings.TrimSpace(req.Username)
	if username == "" {
		h.respondWithError(w, http.StatusBadRequest, "invalid_request", "username is required")
		return
	}

	existing, err := h.users.FindByUsername(r.Context(), username)
	if err != nil {
		h.logger.WithError(err).Error("Failed to look up username")
		h.respondWithError(w, http.StatusInternalServerError, "internal_error", "")
		return
	}
	if existing != nil {
		h.respondWithError(w, http.StatusConflict, "username_already_exists", "")
		return
	}

	user := &models.User{
		ID:       req.ID,
		Username: username,
	}
	if user.ID == "" {
		user.ID = uuid.New().String()
	}

	if req.Password != "" {
		hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			h.logger.WithError(err).Error("Failed to hash password")
			h.respondWithError(w, http.StatusInternalServerError, "internal_error", "")
			return
		}
		user.Password = string(hashed)
	}

	for name, pending := range map[string]string{"sf": req.SF, "in": req.IN} {
		if pending == "" {
			continue
		}
		identity, err := h.pendingIdentity(pending)
		if err != nil {
			h.respondWithError(w, http.StatusUnauthorized, "unauthorized", "")
			return
		}
		if user.Platforms == nil {
			user.Platforms = make(map[string]models.ProviderIdentity)
		}
		user.Platforms[name] = *identity
	}

	if err := h.users.Create(r.Context(), user); err != nil {
		// The store's conditional put is the authoritative uniqueness check;
		// the precheck above only shortcuts the common case.
		if errors.Is(err, repository.ErrUserExists) {
			h.respondWithError(w, http.StatusConflict, "username_already_exists", "")
			return
		}
		h.logger.WithError(err).Error("Failed to create user")
		h.respondWithError(w, http.StatusInternalServerError, "internal_error", "")
		return
	}

	h.respondWithJSON(w, http.StatusCreated, user)
}

// pendingIdentity unpacks a pending-linkage token back into the provider
// identity it was minted from.
func (h *AuthHandlers) pendingIdentity(raw string) (*models.ProviderIdentity, error) {
	claims, err := h.tokens.Verify(token.KindAccess, raw)
	if err != nil {
		return nil, err
	}

	identity := &models.ProviderIdentity{SubjectID: claims.Subject}
	if v, ok := claims.Data["accessToken"].(string); ok {
		identity.AccessToken = v
	}
	if v, ok := claims.Data["refreshToken"].(string); ok {
		identity.RefreshToken = v
	}
	return identity, nil
}

// DeleteUsers wipes the user store.
func (h *AuthHandlers) DeleteUsers(w http.ResponseWriter, r *http.Request) {
	if err := h.users.DeleteAll(r.Context()); err != nil {
		h.logger.WithError(err).Error("Failed to delete users")
		h.respondWithError(w, http.StatusInternalServerError, "internal_error", "")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandlers) respondWithJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func (h *AuthHandlers) respondWithError(w http.ResponseWriter, status int, code, description string) {
	h.respondWithJSON(w, status, apiError{Err: code, Des: description})
}
