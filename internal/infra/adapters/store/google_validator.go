package store

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"mobile-iap-subscription/internal/config"
	"mobile-iap-subscription/internal/domain"
	"mobile-iap-subscription/internal/domain/model"
	"mobile-iap-subscription/internal/domain/ports/adapter"
)

const (
	androidPublisherBaseURL = "https://androidpublisher.googleapis.com"
	androidPublisherScope   = "https://www.googleapis.com/auth/androidpublisher"
)

// Compile-time check
var _ adapter.ReceiptValidator = (*GoogleValidator)(nil)

// GoogleValidator looks up a purchase token against the Play Developer API
// (purchases.subscriptionsv2) and reads the first line item's expiry.
type GoogleValidator struct {
	packageName string
	tokens      *googleTokenSource
	baseURL     string
	client      *http.Client
	log         *zerolog.Logger
}

func NewGoogleValidator(cfg config.GoogleConfig, logger *zerolog.Logger) (*GoogleValidator, error) {
	keyPEM, err := os.ReadFile(cfg.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read google private key: %w", err)
	}
	key, err := parseRSAPrivateKey(keyPEM)
	if err != nil {
		return nil, fmt.Errorf("parse google private key: %w", err)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	l := logger.With().Str("component", "GoogleValidator").Logger()
	return &GoogleValidator{
		packageName: cfg.PackageName,
		tokens: &googleTokenSource{
			clientEmail: cfg.ClientEmail,
			privateKey:  key,
			tokenURL:    cfg.TokenURL,
			client:      client,
		},
		baseURL: androidPublisherBaseURL,
		client:  client,
		log:     &l,
	}, nil
}

func (v *GoogleValidator) Platform() model.Platform { return model.PlatformAndroid }

// ValidateReceipt verifies the purchase token (the billing key) with the
// store. The receipt argument is accepted for contract symmetry with Apple
// but Play only needs the token.
func (v *GoogleValidator) ValidateReceipt(ctx context.Context, receipt, billingKey, productID string) (*adapter.ValidationResult, error) {
	token := billingKey
	if token == "" {
		token = receipt
	}
	if token == "" {
		return nil, domain.ErrInvalidReceipt
	}

	purchase, err := v.fetchSubscriptionPurchase(ctx, token)
	if err != nil {
		v.log.Debug().Err(err).Msg("subscription purchase lookup failed")
		return nil, domain.ErrInvalidReceipt
	}
	if len(purchase.LineItems) == 0 {
		return nil, domain.ErrInvalidReceipt
	}
	expiresAt, err := time.Parse(time.RFC3339, purchase.LineItems[0].ExpiryTime)
	if err != nil {
		v.log.Debug().Err(err).Msg("unparseable expiry time")
		return nil, domain.ErrInvalidReceipt
	}

	return &adapter.ValidationResult{BillingKey: token, ExpiresAt: expiresAt}, nil
}

// subscriptionPurchaseV2 is the subset of the purchases.subscriptionsv2
// resource this service reads.
type subscriptionPurchaseV2 struct {
	SubscriptionState string `json:"subscriptionState"`
	LineItems         []struct {
		ProductID  string `json:"productId"`
		ExpiryTime string `json:"expiryTime"`
	} `json:"lineItems"`
}

func (v *GoogleValidator) fetchSubscriptionPurchase(ctx context.Context, purchaseToken string) (*subscriptionPurchaseV2, error) {
	accessToken, err := v.tokens.token(ctx)
	if err != nil {
		return nil, err
	}

	u := fmt.Sprintf("%s/androidpublisher/v3/applications/%s/purchases/subscriptionsv2/tokens/%s",
		v.baseURL, url.PathEscape(v.packageName), url.PathEscape(purchaseToken))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("play api status %d: %s", resp.StatusCode, body)
	}

	purchase := &subscriptionPurchaseV2{}
	if err := json.Unmarshal(body, purchase); err != nil {
		return nil, err
	}
	return purchase, nil
}

// googleTokenSource exchanges a signed service-account assertion for a
// short-lived access token and caches it until close to expiry.
type googleTokenSource struct {
	clientEmail string
	privateKey  *rsa.PrivateKey
	tokenURL    string
	client      *http.Client

	mu      sync.Mutex
	cached  string
	expires time.Time
}

func (ts *googleTokenSource) token(ctx context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.cached != "" && time.Now().Before(ts.expires.Add(-time.Minute)) {
		return ts.cached, nil
	}

	assertion, err := ts.assertion()
	if err != nil {
		return "", err
	}

	form := url.Values{}
	form.Set("grant_type", "urn:ietf:params:oauth:grant-type:jwt-bearer")
	form.Set("assertion", assertion)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := ts.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint status %d: %s", resp.StatusCode, body)
	}

	var out struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", err
	}
	if out.AccessToken == "" {
		return "", fmt.Errorf("token endpoint returned no access token")
	}

	ts.cached = out.AccessToken
	ts.expires = time.Now().Add(time.Duration(out.ExpiresIn) * time.Second)
	return ts.cached, nil
}

func (ts *googleTokenSource) assertion() (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"iss":   ts.clientEmail,
		"scope": androidPublisherScope,
		"aud":   ts.tokenURL,
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(ts.privateKey)
}

// parseRSAPrivateKey accepts PKCS8 (service-account JSON key material) and
// PKCS1 PEM blocks.
func parseRSAPrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("not an RSA key: %T", key)
		}
		return rsaKey, nil
	}
	return x509.ParsePKCS1PrivateKey(block.Bytes)
}
