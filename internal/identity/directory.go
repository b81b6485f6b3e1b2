package identity

import (
	"context"

	"firebase.google.com/go/v4/auth"
)

// Directory resolves the opaque authenticated uid to contact details.
// Backed by Firebase in production; faked in tests.
type Directory interface {
	Email(ctx context.Context, uid string) (string, error)
	DisplayName(ctx context.Context, uid string) (string, error)
}

type firebaseDirectory struct {
	client *auth.Client
}

func NewFirebaseDirectory(client *auth.Client) Directory {
	return &firebaseDirectory{client: client}
}

func (d *firebaseDirectory) Email(ctx context.Context, uid string) (string, error) {
	u, err := d.client.GetUser(ctx, uid)
	if err != nil {
		return "", err
	}
	return u.Email, nil
}

func (d *firebaseDirectory) DisplayName(ctx context.Context, uid string) (string, error) {
	u, err := d.client.GetUser(ctx, uid)
	if err != nil {
		return "", err
	}
	if u.DisplayName != "" {
		return u.DisplayName, nil
	}
	return u.Email, nil
}

// NopDirectory is used when Firebase is not configured (local runs).
type NopDirectory struct{}

func (NopDirectory) Email(context.Context, string) (string, error)       { return "", nil }
func (NopDirectory) DisplayName(context.Context, string) (string, error) { return "", nil }
