// Package fcm sends push notifications through Firebase Cloud Messaging.
package fcm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/option"
)

const googleTokenURI = "https://oauth2.googleapis.com/token"

// Credentials identify the Firebase service account.
type Credentials struct {
	ProjectID   string
	PrivateKey  string
	ClientEmail string
}

// Validate reports every missing field at once.
func (c Credentials) Validate() error {
	var missing []string
	if c.ProjectID == "" {
		missing = append(missing, "project id")
	}
	if c.PrivateKey == "" {
		missing = append(missing, "private key")
	}
	if c.ClientEmail == "" {
		missing = append(missing, "client email")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing firebase credentials: %s", strings.Join(missing, ", "))
	}
	return nil
}

// NormalizePrivateKey turns escaped "\n" sequences, as found in env files, into newlines.
func NormalizePrivateKey(key string) string {
	return strings.ReplaceAll(key, `\n`, "\n")
}

// ServiceAccountJSON renders the credentials as a service-account key file.
func (c Credentials) ServiceAccountJSON() ([]byte, error) {
	return json.Marshal(map[string]string{
		"type":         "service_account",
		"project_id":   c.ProjectID,
		"private_key":  NormalizePrivateKey(c.PrivateKey),
		"client_email": c.ClientEmail,
		"token_uri":    googleTokenURI,
	})
}

// NewFirebaseMessaging is the production MessagingFactory.
func NewFirebaseMessaging(ctx context.Context, creds Credentials) (MessagingClient, error) {
	saJSON, err := creds.ServiceAccountJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to encode service account: %w", err)
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: creds.ProjectID}, option.WithCredentialsJSON(saJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase app: %w", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create fcm messaging client: %w", err)
	}
	if client == nil {
		return nil, errors.New("firebase returned no messaging client")
	}
	return client, nil
}
