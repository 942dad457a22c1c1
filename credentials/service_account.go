package credentials

import (
	"encoding/json"
	"fmt"
	"os"
)

// ServiceAccountKey is the JSON key file issued for a service account.
type ServiceAccountKey struct {
	Type         string `json:"type"`
	ProjectID    string `json:"project_id,omitempty"`
	PrivateKeyID string `json:"private_key_id"`
	PrivateKey   string `json:"private_key"`
	ClientEmail  string `json:"client_email"`
	ClientID     string `json:"client_id,omitempty"`
	TokenURI     string `json:"token_uri,omitempty"`
}

func ParseServiceAccountKey(data []byte) (*ServiceAccountKey, error) {
	var key ServiceAccountKey
	if err := json.Unmarshal(data, &key); err != nil {
		return nil, fmt.Errorf("decoding service account key: %w", err)
	}
	if key.Type != "" && key.Type != "service_account" {
		return nil, fmt.Errorf("unsupported credential type %q", key.Type)
	}
	if key.ClientEmail == "" {
		return nil, fmt.Errorf("service account key: client_email is required")
	}
	if key.PrivateKey == "" {
		return nil, fmt.Errorf("service account key: private_key is required")
	}
	return &key, nil
}

func LoadServiceAccountKey(path string) (*ServiceAccountKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading service account key: %w", err)
	}
	return ParseServiceAccountKey(data)
}
