package models

// TokenPair is the session credential set handed to clients after login,
// federated callback, or pass-through account creation.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
}
