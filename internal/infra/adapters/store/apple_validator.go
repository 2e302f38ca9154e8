package store

import (
	"context"
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"mobile-iap-subscription/internal/config"
	"mobile-iap-subscription/internal/domain"
	"mobile-iap-subscription/internal/domain/model"
	"mobile-iap-subscription/internal/domain/ports/adapter"
)

const (
	appleProductionBaseURL = "https://api.storekit.itunes.apple.com"
	appleSandboxBaseURL    = "https://api.storekit-sandbox.itunes.apple.com"
)

// Compile-time check
var _ adapter.ReceiptValidator = (*AppleValidator)(nil)

// AppleValidator verifies transactions against the App Store Server API.
// The receipt is the transaction id; the API returns a signed transaction
// (JWS) whose x5c chain is checked before the expiry is trusted.
type AppleValidator struct {
	issuerID   string
	keyID      string
	bundleID   string
	privateKey *ecdsa.PrivateKey
	roots      *x509.CertPool
	baseURL    string
	client     *http.Client
	log        *zerolog.Logger
}

func NewAppleValidator(cfg config.AppleConfig, logger *zerolog.Logger) (*AppleValidator, error) {
	keyPEM, err := os.ReadFile(cfg.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read apple private key: %w", err)
	}
	key, err := parseECPrivateKey(keyPEM)
	if err != nil {
		return nil, fmt.Errorf("parse apple private key: %w", err)
	}

	var roots *x509.CertPool
	if cfg.RootCAPath != "" {
		caPEM, err := os.ReadFile(cfg.RootCAPath)
		if err != nil {
			return nil, fmt.Errorf("read apple root ca: %w", err)
		}
		roots, err = loadCertPool(caPEM)
		if err != nil {
			return nil, fmt.Errorf("load apple root ca: %w", err)
		}
	} else {
		logger.Warn().Msg("apple.root_ca_path not set; JWS chain pinning disabled")
	}

	baseURL := appleProductionBaseURL
	if cfg.Sandbox {
		baseURL = appleSandboxBaseURL
	}

	l := logger.With().Str("component", "AppleValidator").Logger()
	return &AppleValidator{
		issuerID:   cfg.IssuerID,
		keyID:      cfg.KeyID,
		bundleID:   cfg.BundleID,
		privateKey: key,
		roots:      roots,
		baseURL:    baseURL,
		client:     &http.Client{Timeout: 30 * time.Second},
		log:        &l,
	}, nil
}

func (v *AppleValidator) Platform() model.Platform { return model.PlatformIOS }

// ValidateReceipt fetches the transaction named by receipt (falling back to
// the billing key) and extracts its expiry. Every internal failure collapses
// to ErrInvalidReceipt.
func (v *AppleValidator) ValidateReceipt(ctx context.Context, receipt, billingKey, productID string) (*adapter.ValidationResult, error) {
	transactionID := receipt
	if transactionID == "" {
		transactionID = billingKey
	}
	if transactionID == "" {
		return nil, domain.ErrInvalidReceipt
	}

	tx, err := v.fetchTransaction(ctx, transactionID)
	if err != nil {
		v.log.Debug().Err(err).Str("transaction_id", transactionID).Msg("transaction lookup failed")
		return nil, domain.ErrInvalidReceipt
	}
	if tx.ExpiresDate.IsZero() {
		v.log.Debug().Str("transaction_id", transactionID).Msg("transaction carries no expiry")
		return nil, domain.ErrInvalidReceipt
	}
	if productID != "" && tx.ProductID != productID {
		v.log.Debug().
			Str("want_product", productID).
			Str("got_product", tx.ProductID).
			Msg("product id mismatch")
		return nil, domain.ErrInvalidReceipt
	}

	key := tx.OriginalTransactionID
	if key == "" {
		key = billingKey
	}
	return &adapter.ValidationResult{
		BillingKey: key,
		ExpiresAt:  time.Unix(0, int64(tx.ExpiresDate)*int64(time.Millisecond)),
	}, nil
}

func (v *AppleValidator) fetchTransaction(ctx context.Context, transactionID string) (*appStoreTransaction, error) {
	token, err := v.clientToken()
	if err != nil {
		return nil, err
	}

	url := v.baseURL + "/inApps/v1/transactions/" + transactionID
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

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
		return nil, fmt.Errorf("app store api status %d: %s", resp.StatusCode, body)
	}

	var envelope struct {
		SignedTransactionInfo string `json:"signedTransactionInfo"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, err
	}
	if envelope.SignedTransactionInfo == "" {
		return nil, fmt.Errorf("response carries no signed transaction")
	}

	tx := &appStoreTransaction{}
	if err := decodeJWS(envelope.SignedTransactionInfo, v.roots, tx); err != nil {
		return nil, fmt.Errorf("verify signed transaction: %w", err)
	}
	return tx, nil
}

// clientToken builds the short-lived ES256 token the App Store Server API
// expects from this server.
func (v *AppleValidator) clientToken() (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"iss": v.issuerID,
		"iat": now.Unix(),
		"exp": now.Add(30 * time.Minute).Unix(),
		"aud": "appstoreconnect-v1",
		"bid": v.bundleID,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["kid"] = v.keyID
	return token.SignedString(v.privateKey)
}

// parseECPrivateKey accepts the .p8 (PKCS8) format App Store Connect issues
// as well as a raw EC key.
func parseECPrivateKey(pemBytes []byte) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		ec, ok := key.(*ecdsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("not an EC key: %T", key)
		}
		return ec, nil
	}
	return x509.ParseECPrivateKey(block.Bytes)
}
