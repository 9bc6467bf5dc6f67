package models

import (
	"time"

	"github.com/noah-isme/mili-llama-api/internal/docstore"
)

// User is the identity record kept in the Users collection. It is separate
// from the Teacher profile so admins without a classroom can sign in.
type User struct {
	ID           string    `json:"id"`
	EmailAddress string    `json:"emailAddress"`
	PasswordHash string    `json:"-"`
	GoogleSub    string    `json:"-"`
	DisplayName  string    `json:"displayName"`
	IsAdmin      bool      `json:"isAdmin"`
	CreatedAt    time.Time `json:"createdAt"`
}

func UserFromDocument(doc docstore.Document) User {
	f := Fields(doc.Fields)
	return User{
		ID:           doc.ID,
		EmailAddress: f.String("emailAddress"),
		PasswordHash: f.String("passwordHash"),
		GoogleSub:    f.String("googleSub"),
		DisplayName:  f.String("displayName"),
		IsAdmin:      f.Bool("isAdmin"),
		CreatedAt:    f.Time("createdAt"),
	}
}

func (u User) Fields() map[string]any {
	return map[string]any{
		"emailAddress": u.EmailAddress,
		"passwordHash": u.PasswordHash,
		"googleSub":    u.GoogleSub,
		"displayName":  u.DisplayName,
		"isAdmin":      u.IsAdmin,
		"createdAt":    u.CreatedAt,
	}
}
