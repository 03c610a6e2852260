package handlers

import (
	"net/http"
	"net/url"

	"github.com/gorilla/mux"

	"github.com/authgate/authgate/internal/models"
	"github.com/authgate/authgate/internal/token"
)

// callbackKind tags the three possible shapes of a provider callback so the
// status mapping stays exhaustive.
type callbackKind int

const (
	callbackProviderError callbackKind = iota
	callbackMalformed
	callbackCode
)

type callbackOutcome struct {
	kind callbackKind
	err  string
	des  string
	code string
}

func parseCallback(q url.Values) callbackOutcome {
	if e := q.Get("error"); e != "" {
		return callbackOutcome{
			kind: callbackProviderError,
			err:  e,
			des:  q.Get("error_description"),
		}
	}
	code := q.Get("code")
	if code == "" {
		return callbackOutcome{kind: callbackMalformed}
	}
	return callbackOutcome{kind: callbackCode, code: code}
}

// ProviderRedirect starts the federated flow with a plain 302; nothing is
// remembered server-side.
func (h *AuthHandlers) ProviderRedirect(w http.ResponseWriter, r *http.Request) {
	client, ok := h.providers[mux.Vars(r)["provider"]]
	if !ok {
		http.NotFound(w, r)
		return
	}
	http.Redirect(w, r, client.AuthorizeURL(), http.StatusFound)
}

// ProviderCallback finishes the federated flow. Outcomes: 401 when the
// provider declined, 302 when the callback carries no code (the user walked
// away — expected, not exceptional), 200 for a linked identity, 203 for a
// new one awaiting registration.
func (h *AuthHandlers) ProviderCallback(w http.ResponseWriter, r *http.Request) {
	client, ok := h.providers[mux.Vars(r)["provider"]]
	if !ok {
		http.NotFound(w, r)
		return
	}

	outcome := parseCallback(r.URL.Query())
	switch outcome.kind {
	case callbackProviderError:
		h.respondWithJSON(w, http.StatusUnauthorized, apiError{Err: outcome.err, Des: outcome.des})
	case callbackMalformed:
		http.Redirect(w, r, client.FailureURL(), http.StatusFound)
	case callbackCode:
		h.completeCallback(w, r, client, outcome.code)
	}
}

func (h *AuthHandlers) completeCallback(w http.ResponseWriter, r *http.Request, client ProviderClient, code string) {
	ctx := r.Context()

	creds, err := client.Exchange(ctx, code)
	if err != nil {
		h.logger.WithError(err).WithField("provider", client.Name()).Error("Code exchange failed")
		h.respondWithError(w, http.StatusInternalServerError, "internal_error", "")
		return
	}

	profile, photoURL, err := client.FetchProfile(ctx, creds)
	if err != nil {
		h.logger.WithError(err).WithField("provider", client.Name()).Error("Profile fetch failed")
		h.respondWithError(w, http.StatusInternalServerError, "internal_error", "")
		return
	}

	// Best-effort re-hosting; a nil avatar never fails the callback.
	if photoURL != "" && h.avatars != nil {
		profile.Avatar = h.avatars.Store(ctx, photoURL)
	}

	user, err := h.users.FindByProviderID(ctx, client.Name(), profile.SubjectID)
	if err != nil {
		h.logger.WithError(err).Error("Provider identity lookup failed")
		h.respondWithError(w, http.StatusInternalServerError, "internal_error", "")
		return
	}

	if user != nil {
		// Keep the stored provider credentials current; a stale copy only
		// degrades later backend calls, so failure is log-only.
		identity := models.ProviderIdentity{
			SubjectID:    profile.SubjectID,
			AccessToken:  creds.AccessToken,
			RefreshToken: creds.RefreshToken,
		}
		if err := h.users.LinkProvider(ctx, user.ID, client.Name(), identity); err != nil {
			h.logger.WithError(err).Warn("Failed to refresh provider credentials")
		}

		pair, err := h.tokens.Pair(user.ID)
		if err != nil {
			h.logger.WithError(err).Error("Failed to mint token pair")
			h.respondWithError(w, http.StatusInternalServerError, "internal_error", "")
			return
		}
		h.respondWithJSON(w, http.StatusOK, pair)
		return
	}

	h.respondPendingLinkage(w, client, profile, creds.AccessToken, creds.RefreshToken)
}

// respondPendingLinkage answers 203 with the normalized profile and a
// short-lived token whose subject is the provider subject id and whose
// payload carries the provider credentials, so registration can finish
// without re-running the flow.
func (h *AuthHandlers) respondPendingLinkage(w http.ResponseWriter, client ProviderClient, profile *models.Profile, accessToken, refreshToken string) {
	pending, err := h.tokens.Issue(token.KindAccess, profile.SubjectID, map[string]interface{}{
		"accessToken":  accessToken,
		"refreshToken": refreshToken,
	})
	if err != nil {
		h.logger.WithError(err).Error("Failed to mint pending-linkage token")
		h.respondWithError(w, http.StatusInternalServerError, "internal_error", "")
		return
	}

	body := map[string]interface{}{
		"name":        profile.Name,
		"lastname":    profile.Lastname,
		"email":       profile.Email,
		"phone":       profile.Phone,
		"country":     profile.Country,
		"avatar":      profile.Avatar,
		client.Name(): pending,
	}
	h.respondWithJSON(w, http.StatusNonAuthoritativeInfo, body)
}
