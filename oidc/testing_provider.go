// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"bytes"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/require"
)

// TestProvider is a local Keycloak-like server which supports discovery,
// its JWKS and the refresh_token grant of its token endpoint.  Its knobs make
// writing refresh tests much easier.
type TestProvider struct {
	httpServer *httptest.Server
	caCert     string
	jwks       *jose.JSONWebKeySet

	mu                   sync.Mutex
	clientID             string
	clientSecret         string
	expectedRefreshToken string
	replySubject         string
	customClaims         map[string]interface{}
	expiresIn            int
	tokenDelay           time.Duration
	tokenStatus          int
	omitAccessToken      bool
	omitIDToken          bool
	omitRefreshToken     bool
	refreshCount         int

	ecdsaPublicKey  string
	ecdsaPrivateKey string

	t *testing.T
}

// StartTestProvider creates a disposable TestProvider that is stopped during
// the test's cleanup.
func StartTestProvider(t *testing.T) *TestProvider {
	t.Helper()
	require := require.New(t)

	p := &TestProvider{
		t:            t,
		clientID:     "test-client",
		clientSecret: "test-secret",
		replySubject: "3a7c5a3e-8a5c-4e2e-9b1f-6f1d2c6f1b2a",
		expiresIn:    300,
		tokenStatus:  http.StatusOK,
	}
	p.ecdsaPublicKey, p.ecdsaPrivateKey = TestGenerateKeys(t)
	p.jwks = testJWKS(t, p.ecdsaPublicKey)

	p.httpServer = httptest.NewUnstartedServer(p)
	p.httpServer.Config.ErrorLog = log.New(io.Discard, "", 0)
	p.httpServer.StartTLS()
	t.Cleanup(p.httpServer.Close)

	var buf bytes.Buffer
	err := pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: p.httpServer.Certificate().Raw})
	require.NoError(err)
	p.caCert = buf.String()

	return p
}

// Stop stops the running TestProvider.
func (p *TestProvider) Stop() {
	p.httpServer.Close()
}

// SetClientCreds configures the client credentials the token endpoint
// requires.
func (p *TestProvider) SetClientCreds(clientID, clientSecret string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clientID = clientID
	p.clientSecret = clientSecret
}

// ClientCreds returns the configured client credentials.
func (p *TestProvider) ClientCreds() (clientID, clientSecret string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.clientID, p.clientSecret
}

// SetExpectedRefreshToken configures the only refresh token the token
// endpoint accepts.  An empty token accepts any.
func (p *TestProvider) SetExpectedRefreshToken(rt string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expectedRefreshToken = rt
}

// SetCustomClaims adds private claims to the issued access and id tokens.
func (p *TestProvider) SetCustomClaims(customClaims map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customClaims = customClaims
}

// SetExpiresIn configures the expires_in (seconds) of token responses.  Zero
// omits it from the response.
func (p *TestProvider) SetExpiresIn(secs int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expiresIn = secs
}

// SetTokenDelay delays every token endpoint response.
func (p *TestProvider) SetTokenDelay(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokenDelay = d
}

// SetTokenStatus forces the token endpoint to reply with an error status.
// http.StatusOK restores normal replies.
func (p *TestProvider) SetTokenStatus(status int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokenStatus = status
}

// OmitAccessToken removes the access_token from token responses.
func (p *TestProvider) OmitAccessToken() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitAccessToken = true
}

// OmitIDToken removes the id_token from token responses.
func (p *TestProvider) OmitIDToken() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitIDToken = true
}

// OmitRefreshToken removes the refresh_token from token responses.
func (p *TestProvider) OmitRefreshToken() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitRefreshToken = true
}

// RefreshCount returns the number of refresh_token grants received.
func (p *TestProvider) RefreshCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refreshCount
}

// Addr returns the current base URL for the test provider's running webserver,
// which can be used as an OIDC issuer for discovery and is also used for the
// iss claim when issuing JWTs.
func (p *TestProvider) Addr() string { return p.httpServer.URL }

// CACert returns the pem-encoded CA certificate used by the test provider's
// HTTPS server.
func (p *TestProvider) CACert() string { return p.caCert }

// SigningKeys returns the test provider's pem-encoded keys used to sign JWTs.
func (p *TestProvider) SigningKeys() (pub, priv string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ecdsaPublicKey, p.ecdsaPrivateKey
}

// Config returns a Config for the test provider's client.
func (p *TestProvider) Config(opt ...Option) *Config {
	p.t.Helper()
	clientID, clientSecret := p.ClientCreds()
	c, err := NewConfig(p.Addr(), clientID, ClientSecret(clientSecret), append([]Option{WithProviderCA(p.CACert())}, opt...)...)
	require.NoError(p.t, err)
	return c
}

// IssueTokens returns a TokenSet as if the test provider had just completed
// an authorization code flow for its subject.
func (p *TestProvider) IssueTokens(refreshToken string) *TokenSet {
	p.t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	at, id := p.signTokens()
	expiresIn := time.Duration(p.expiresIn) * time.Second
	return &TokenSet{
		AccessToken:  AccessToken(at),
		IdToken:      IdToken(id),
		RefreshToken: RefreshToken(refreshToken),
		Expiry:       ExpiryFrom(time.Now(), expiresIn, AccessToken(at)),
	}
}

// signTokens returns a signed access_token and id_token.  p.mu must be held.
func (p *TestProvider) signTokens() (accessToken, idToken string) {
	lifetime := time.Duration(p.expiresIn) * time.Second
	if lifetime == 0 {
		lifetime = DefaultTokenLifetime
	}
	private := map[string]interface{}{
		"aud": p.clientID,
		"azp": p.clientID,
	}
	for k, v := range p.customClaims {
		private[k] = v
	}
	accessToken = TestToken(p.t, p.ecdsaPrivateKey, p.Addr(), p.replySubject, lifetime, private)
	idToken = TestToken(p.t, p.ecdsaPrivateKey, p.Addr(), p.replySubject, lifetime, private)
	return accessToken, idToken
}

func (p *TestProvider) writeJSON(w http.ResponseWriter, out interface{}) error {
	enc := json.NewEncoder(w)
	return enc.Encode(out)
}

func (p *TestProvider) writeTokenErrorResponse(w http.ResponseWriter, statusCode int, errorCode, errorMessage string) error {
	body := struct {
		Code string `json:"error"`
		Desc string `json:"error_description,omitempty"`
	}{
		Code: errorCode,
		Desc: errorMessage,
	}
	w.WriteHeader(statusCode)
	return p.writeJSON(w, &body)
}

// ServeHTTP implements the test provider's http.Handler.
func (p *TestProvider) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	switch req.URL.Path {
	case "/.well-known/openid-configuration":
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		reply := struct {
			Issuer             string `json:"issuer"`
			AuthEndpoint       string `json:"authorization_endpoint"`
			TokenEndpoint      string `json:"token_endpoint"`
			JWKSURI            string `json:"jwks_uri"`
			EndSessionEndpoint string `json:"end_session_endpoint"`
		}{
			Issuer:             p.Addr(),
			AuthEndpoint:       p.Addr() + "/protocol/openid-connect/auth",
			TokenEndpoint:      p.Addr() + tokenPath,
			JWKSURI:            p.Addr() + "/protocol/openid-connect/certs",
			EndSessionEndpoint: p.Addr() + endSessionPath,
		}
		_ = p.writeJSON(w, &reply)

	case "/protocol/openid-connect/certs":
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		_ = p.writeJSON(w, p.jwks)

	case tokenPath:
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		p.serveToken(w, req)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (p *TestProvider) serveToken(w http.ResponseWriter, req *http.Request) {
	p.mu.Lock()
	p.refreshCount++
	delay := p.tokenDelay
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-req.Context().Done():
			return
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case req.FormValue("grant_type") != "refresh_token":
		_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "unsupported_grant_type", "bad grant_type")
		return
	case req.FormValue("client_id") != p.clientID || req.FormValue("client_secret") != p.clientSecret:
		_ = p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_client", "invalid client credentials")
		return
	case req.FormValue("refresh_token") == "":
		_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", "missing refresh_token")
		return
	case p.expectedRefreshToken != "" && req.FormValue("refresh_token") != p.expectedRefreshToken:
		_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "Token is not active")
		return
	case p.tokenStatus != http.StatusOK:
		_ = p.writeTokenErrorResponse(w, p.tokenStatus, "server_error", "forced token status")
		return
	}

	at, id := p.signTokens()
	reply := map[string]interface{}{
		"token_type": "Bearer",
	}
	if !p.omitAccessToken {
		reply["access_token"] = at
	}
	if !p.omitIDToken {
		reply["id_token"] = id
	}
	if !p.omitRefreshToken {
		reply["refresh_token"] = fmt.Sprintf("refresh-token-%d", p.refreshCount)
	}
	if p.expiresIn > 0 {
		reply["expires_in"] = p.expiresIn
	}
	_ = p.writeJSON(w, reply)
}

// testJWKS converts a pem-encoded public key into JWKS data suitable for a
// verification endpoint response
func testJWKS(t *testing.T, pubKey string) *jose.JSONWebKeySet {
	t.Helper()
	require := require.New(t)

	block, _ := pem.Decode([]byte(pubKey))
	require.NotNil(block)

	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	require.NoError(err)

	return &jose.JSONWebKeySet{
		Keys: []jose.JSONWebKey{
			{
				Key:       pub,
				KeyID:     "test-key",
				Algorithm: string(jose.ES256),
				Use:       "sig",
			},
		},
	}
}
