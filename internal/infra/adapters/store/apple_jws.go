package store

import (
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// decodeJWS verifies an App Store JWS against the certificate chain embedded
// in its x5c header and unmarshals the payload into out. When roots is nil
// the chain is not pinned to the Apple root, but the signature is still
// checked against the x5c leaf certificate.
func decodeJWS(signed string, roots *x509.CertPool, out jwt.Claims) error {
	token, err := jwt.ParseWithClaims(signed, out, func(t *jwt.Token) (interface{}, error) {
		leaf, intermediates, err := parseX5c(t)
		if err != nil {
			return nil, err
		}
		if roots != nil {
			opts := x509.VerifyOptions{
				Roots:         roots,
				Intermediates: intermediates,
				// signing certificates do not carry the ServerAuth usage the
				// zero-value options would demand
				KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
			}
			if _, err := leaf.Verify(opts); err != nil {
				return nil, fmt.Errorf("x5c chain verification: %w", err)
			}
		}
		return leaf.PublicKey, nil
	}, jwt.WithValidMethods([]string{"ES256"}))
	if err != nil {
		return err
	}
	if !token.Valid {
		return jwt.ErrTokenSignatureInvalid
	}
	return nil
}

// parseX5c extracts the leaf certificate and intermediate pool from a JWS
// x5c header (base64 DER, leaf first).
func parseX5c(t *jwt.Token) (*x509.Certificate, *x509.CertPool, error) {
	raw, ok := t.Header["x5c"]
	if !ok {
		return nil, nil, fmt.Errorf("jws header has no x5c chain")
	}
	entries, ok := raw.([]interface{})
	if !ok || len(entries) == 0 {
		return nil, nil, fmt.Errorf("malformed x5c header")
	}

	certs := make([]*x509.Certificate, 0, len(entries))
	for _, e := range entries {
		s, ok := e.(string)
		if !ok {
			return nil, nil, fmt.Errorf("malformed x5c entry")
		}
		der, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, nil, fmt.Errorf("decode x5c entry: %w", err)
		}
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, nil, fmt.Errorf("parse x5c certificate: %w", err)
		}
		certs = append(certs, cert)
	}

	intermediates := x509.NewCertPool()
	for _, c := range certs[1:] {
		intermediates.AddCert(c)
	}
	return certs[0], intermediates, nil
}

// unixMillis is a millisecond timestamp as Apple encodes them.
type unixMillis int64

func (m unixMillis) IsZero() bool { return m == 0 }

// appStoreTransaction is the claim set of a signedTransactionInfo JWS.
type appStoreTransaction struct {
	TransactionID         string     `json:"transactionId"`
	OriginalTransactionID string     `json:"originalTransactionId"`
	BundleID              string     `json:"bundleId"`
	ProductID             string     `json:"productId"`
	PurchaseDate          unixMillis `json:"purchaseDate"`
	ExpiresDate           unixMillis `json:"expiresDate"`
	Environment           string     `json:"environment"`
	RevocationDate        unixMillis `json:"revocationDate"`

	jwt.RegisteredClaims
}

// appStoreNotification is the claim set of an App Store Server Notification
// V2 signedPayload.
type appStoreNotification struct {
	NotificationType string `json:"notificationType"`
	Subtype          string `json:"subtype"`
	NotificationUUID string `json:"notificationUUID"`
	Version          string `json:"version"`
	SignedDate       int64  `json:"signedDate"`
	Data             struct {
		AppAppleID            int64  `json:"appAppleId"`
		BundleID              string `json:"bundleId"`
		Environment           string `json:"environment"`
		SignedTransactionInfo string `json:"signedTransactionInfo"`
		SignedRenewalInfo     string `json:"signedRenewalInfo"`
	} `json:"data"`

	jwt.RegisteredClaims
}

// loadCertPool reads a PEM bundle into a fresh pool.
func loadCertPool(pemBytes []byte) (*x509.CertPool, error) {
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pemBytes) {
		return nil, fmt.Errorf("no certificates found in PEM bundle")
	}
	return pool, nil
}

// compactJSON re-encodes v for verbatim storage in the webhook ledger.
func compactJSON(v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return b
}
