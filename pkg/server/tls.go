package server

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"mercator-hq/warden/pkg/config"
)

// expiryWarning is how close to expiry a certificate is logged at warn level.
const expiryWarning = 30 * 24 * time.Hour

// certReloader holds the serving certificate and re-reads it when either
// file's modification time changes. A failed reload keeps the previous pair.
type certReloader struct {
	certFile string
	keyFile  string
	interval time.Duration

	mu      sync.RWMutex
	cert    *tls.Certificate
	certMod time.Time
	keyMod  time.Time

	logger *slog.Logger
}

func newCertReloader(cfg *config.TLSConfig, logger *slog.Logger) (*certReloader, error) {
	r := &certReloader{
		certFile: cfg.CertFile,
		keyFile:  cfg.KeyFile,
		interval: cfg.ReloadInterval,
		logger:   logger,
	}
	if err := r.load(); err != nil {
		return nil, err
	}
	return r, nil
}

// run checks the files every interval until ctx is done.
func (r *certReloader) run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !r.changed() {
				continue
			}
			if err := r.load(); err != nil {
				r.logger.Error("failed to reload certificate, keeping previous",
					"cert_file", r.certFile,
					"error", err,
				)
			}
		}
	}
}

func (r *certReloader) changed() bool {
	certInfo, err := os.Stat(r.certFile)
	if err != nil {
		return false
	}
	keyInfo, err := os.Stat(r.keyFile)
	if err != nil {
		return false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	return certInfo.ModTime().After(r.certMod) || keyInfo.ModTime().After(r.keyMod)
}

func (r *certReloader) load() error {
	certInfo, err := os.Stat(r.certFile)
	if err != nil {
		return fmt.Errorf("certificate file: %w", err)
	}
	keyInfo, err := os.Stat(r.keyFile)
	if err != nil {
		return fmt.Errorf("key file: %w", err)
	}

	cert, err := tls.LoadX509KeyPair(r.certFile, r.keyFile)
	if err != nil {
		return fmt.Errorf("failed to load certificate: %w", err)
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return fmt.Errorf("failed to parse certificate: %w", err)
	}
	now := time.Now()
	if now.Before(leaf.NotBefore) {
		return fmt.Errorf("certificate is not valid until %s", leaf.NotBefore.Format(time.RFC3339))
	}
	if now.After(leaf.NotAfter) {
		return fmt.Errorf("certificate expired on %s", leaf.NotAfter.Format(time.RFC3339))
	}
	cert.Leaf = leaf

	r.mu.Lock()
	r.cert = &cert
	r.certMod = certInfo.ModTime()
	r.keyMod = keyInfo.ModTime()
	r.mu.Unlock()

	attrs := []any{
		"subject", leaf.Subject.CommonName,
		"expires_at", leaf.NotAfter.Format(time.RFC3339),
	}
	if leaf.NotAfter.Sub(now) < expiryWarning {
		r.logger.Warn("certificate expiring soon", attrs...)
	} else {
		r.logger.Info("certificate loaded", attrs...)
	}
	return nil
}

func (r *certReloader) getCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cert, nil
}

func minTLSVersion(v string) uint16 {
	if v == "1.2" {
		return tls.VersionTLS12
	}
	return tls.VersionTLS13
}

// tlsConfig builds the listener config. Certificates come from r on every
// handshake.
func tlsConfig(cfg *config.TLSConfig, r *certReloader) *tls.Config {
	return &tls.Config{
		MinVersion:     minTLSVersion(cfg.MinVersion),
		GetCertificate: r.getCertificate,
	}
}
