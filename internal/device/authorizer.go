package device

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/BrandonDHaskell/Portunus/warden/internal/warden/types"
)

// HTTPAuthorizer asks the remote authorization service about a scanned
// code: POST {"code": ...} answered by {"granted", "name", "metadata"}.
type HTTPAuthorizer struct {
	url    string
	token  string
	client *http.Client
}

func NewHTTPAuthorizer(url, token string, client *http.Client) *HTTPAuthorizer {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &HTTPAuthorizer{url: url, token: token, client: client}
}

type authRequest struct {
	Code string `json:"code"`
}

type authResponse struct {
	Granted  bool              `json:"granted"`
	Name     string            `json:"name,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func (a *HTTPAuthorizer) Check(ctx context.Context, code string) (types.AuthResult, error) {
	body, err := json.Marshal(authRequest{Code: code})
	if err != nil {
		return types.AuthResult{}, fmt.Errorf("encode authorization request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		return types.AuthResult{}, fmt.Errorf("build authorization request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return types.AuthResult{}, fmt.Errorf("authorization request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return types.AuthResult{}, fmt.Errorf("authorization service status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out authResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return types.AuthResult{}, fmt.Errorf("decode authorization response: %w", err)
	}
	return types.AuthResult{Granted: out.Granted, Name: out.Name, Metadata: out.Metadata}, nil
}
