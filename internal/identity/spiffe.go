// Package identity verifies SPIFFE/SPIRE workload identities for socket
// clients that connect over mTLS, and turns a verified identity into the
// sessionID and metadata the bridge can pre-seed into its Auth Cache —
// skipping the bus round trip the Auth Coordinator would otherwise need
// for service-to-service connections that already proved who they are at
// the transport layer.
package identity

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"time"

	"github.com/spiffe/go-spiffe/v2/spiffeid"
	"github.com/spiffe/go-spiffe/v2/spiffetls/tlsconfig"
	"github.com/spiffe/go-spiffe/v2/workloadapi"
)

// Verifier authenticates peer certificates against a SPIRE-issued X.509
// source and a single allowed trust domain.
type Verifier struct {
	source      *workloadapi.X509Source
	trustDomain spiffeid.TrustDomain
}

// NewVerifier connects to the SPIRE agent at socketPath and restricts
// accepted peers to trustDomain.
func NewVerifier(ctx context.Context, socketPath, trustDomain string) (*Verifier, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	source, err := workloadapi.NewX509Source(
		dialCtx,
		workloadapi.WithClientOptions(workloadapi.WithAddr(socketPath)),
	)
	if err != nil {
		return nil, fmt.Errorf("identity: connect to SPIRE agent at %s: %w", socketPath, err)
	}

	td, err := spiffeid.TrustDomainFromString(trustDomain)
	if err != nil {
		source.Close()
		return nil, fmt.Errorf("identity: invalid trust domain %q: %w", trustDomain, err)
	}

	slog.Info("identity: connected to SPIRE agent", "socket_path", socketPath, "trust_domain", trustDomain)
	return &Verifier{source: source, trustDomain: td}, nil
}

// VerifyPeer checks that peerCert carries a SPIFFE URI SAN within the
// verifier's trust domain and returns the sessionID/metadata pair the
// bridge should pre-seed for a connection authenticated this way.
// sessionID is the SPIFFE ID itself, so it never collides with
// application-issued sessionIDs (those never contain "spiffe://").
func (v *Verifier) VerifyPeer(peerCert *x509.Certificate) (sessionID string, metadata map[string]any, err error) {
	id, err := spiffeid.FromCert(peerCert)
	if err != nil {
		return "", nil, fmt.Errorf("identity: peer certificate carries no SPIFFE ID: %w", err)
	}
	if id.TrustDomain() != v.trustDomain {
		return "", nil, fmt.Errorf("identity: peer trust domain %q not allowed (want %q)", id.TrustDomain(), v.trustDomain)
	}

	metadata = map[string]any{
		"spiffeID":    id.String(),
		"trustDomain": id.TrustDomain().String(),
		"preAuthBy":   "spiffe",
	}
	slog.Info("identity: pre-authorised peer", "spiffe_id", id.String())
	return id.String(), metadata, nil
}

// GetTLSConfig returns a server-side mTLS config that accepts any peer
// bearing a valid SVID; authorization of the trust domain happens in
// VerifyPeer against the negotiated connection state, not here, so
// short-lived agents from other trust domains can still complete the
// handshake and receive a clear denial rather than a TLS-level reset.
func (v *Verifier) GetTLSConfig() *tls.Config {
	return tlsconfig.MTLSServerConfig(v.source, v.source, tlsconfig.AuthorizeAny())
}

// GenerateSPIFFEID builds the canonical SPIFFE ID for an agent in
// trustDomain, for use by test doubles and local tooling.
func GenerateSPIFFEID(trustDomain, agentID string) string {
	return fmt.Sprintf("spiffe://%s/agent/%s", trustDomain, agentID)
}

// Close releases the underlying SPIRE workload API connection.
func (v *Verifier) Close() error {
	return v.source.Close()
}
