package ca

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/Cody005/shadowguard/internal/guard/common/errs"
	"github.com/Cody005/shadowguard/internal/guard/domain"
)

const rootValidity = 10 * 365 * 24 * time.Hour

// retryOnce runs fn, and if it fails, runs it exactly once more before
// propagating the final error. Key generation and signing are the only
// operations this is applied to: a failure there is almost always
// transient (entropy starvation, a momentary scheduling hiccup), and a
// second attempt is cheap next to the cost of tearing down the caller.
func retryOnce[T any](fn func() (T, error)) (T, error) {
	v, err := fn()
	if err == nil {
		return v, nil
	}
	return fn()
}

// LoadOrCreateRoot loads a previously-persisted root CA from store, or
// provisions a fresh one (ECDSA P-256, self-signed, 10 year validity) and
// persists it when none exists yet. subjectCN names the root in its
// Subject/Issuer, surfaced to users installing the cert in a system trust
// store.
func LoadOrCreateRoot(ctx context.Context, store KeyStore, subjectCN string) (*domain.RootCA, error) {
	keyDER, certDER, err := store.LoadRoot(ctx)
	switch {
	case err == nil:
		return parseRoot(keyDER, certDER)
	case errors.Is(err, os.ErrNotExist):
		root, err := generateRoot(subjectCN)
		if err != nil {
			return nil, err
		}
		keyDER, err := x509.MarshalECPrivateKey(root.PrivateKey.(*ecdsa.PrivateKey))
		if err != nil {
			return nil, fmt.Errorf("%w: marshal root key: %v", errs.ErrCrypto, err)
		}
		if err := store.SaveRoot(ctx, keyDER, root.CertDER); err != nil {
			return nil, fmt.Errorf("%w: persist root: %v", errs.ErrKeystore, err)
		}
		return root, nil
	default:
		return nil, fmt.Errorf("%w: load root: %v", errs.ErrKeystore, err)
	}
}

func generateRoot(subjectCN string) (*domain.RootCA, error) {
	priv, err := retryOnce(func() (*ecdsa.PrivateKey, error) {
		return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: generate root key: %v", errs.ErrCrypto, err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("%w: generate root serial: %v", errs.ErrCrypto, err)
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: subjectCN, Organization: []string{"ShadowGuard"}},
		NotBefore:             now.Add(-5 * time.Minute),
		NotAfter:              now.Add(rootValidity),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLenZero:        true,
	}

	certDER, err := retryOnce(func() ([]byte, error) {
		return x509.CreateCertificate(rand.Reader, template, template, priv.Public(), priv)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create root cert: %v", errs.ErrCrypto, err)
	}

	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, fmt.Errorf("%w: parse root cert: %v", errs.ErrCrypto, err)
	}

	return &domain.RootCA{
		Cert:       cert,
		CertDER:    certDER,
		PrivateKey: priv,
		Serial:     serial.Bytes(),
		SubjectCN:  subjectCN,
	}, nil
}

func parseRoot(keyDER, certDER []byte) (*domain.RootCA, error) {
	priv, err := x509.ParseECPrivateKey(keyDER)
	if err != nil {
		return nil, fmt.Errorf("%w: parse root key: %v", errs.ErrCrypto, err)
	}
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, fmt.Errorf("%w: parse root cert: %v", errs.ErrCrypto, err)
	}
	return &domain.RootCA{
		Cert:       cert,
		CertDER:    certDER,
		PrivateKey: priv,
		Serial:     cert.SerialNumber.Bytes(),
		SubjectCN:  cert.Subject.CommonName,
	}, nil
}
