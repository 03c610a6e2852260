package models

import (
	"time"
)

type User struct {
	ID         string    `json:"id" dynamodbav:"id"`
	Username   string    `json:"username" dynamodbav:"username"`
	Password   string    `json:"-" dynamodbav:"password,omitempty"`
	AppVersion string    `json:"appVersion,omitempty" dynamodbav:"app_version,omitempty"`
	CreatedAt  time.Time `json:"createdAt" dynamodbav:"created_at"`
	UpdatedAt  time.Time `json:"updatedAt" dynamodbav:"updated_at"`

	// Platforms maps a provider name ("sf", "in") to the federated identity
	// linked to this account.
	Platforms map[string]ProviderIdentity `json:"platforms,omitempty" dynamodbav:"platforms,omitempty"`
}

// ProviderIdentity is a federated identity linked to a local user, with the
// provider credentials and the profile fields cached at link time.
type ProviderIdentity struct {
	SubjectID    string `json:"subjectId" dynamodbav:"subject_id"`
	AccessToken  string `json:"-" dynamodbav:"access_token,omitempty"`
	RefreshToken string `json:"-" dynamodbav:"refresh_token,omitempty"`
	Name         string `json:"name,omitempty" dynamodbav:"name,omitempty"`
	Lastname     string `json:"lastname,omitempty" dynamodbav:"lastname,omitempty"`
	Email        string `json:"email,omitempty" dynamodbav:"email,omitempty"`
	Phone        string `json:"phone,omitempty" dynamodbav:"phone,omitempty"`
	Country      string `json:"country,omitempty" dynamodbav:"country,omitempty"`
	Avatar       string `json:"avatar,omitempty" dynamodbav:"avatar,omitempty"`
}

func (u *User) GetPK() string {
	return "USER#" + u.ID
}

func (u *User) GetSK() string {
	return "METADATA"
}
