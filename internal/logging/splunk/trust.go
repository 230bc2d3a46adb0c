package splunk

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net"

	"github.com/cockroachdb/errors"
)

// StormSubject is the wildcard certificate subject presented by the hosted
// ingestion service under host names it does not list.
const StormSubject = "*.splunkstorm.com"

var ErrUntrustedCertificate = errors.New("untrusted server certificate")

// TrustPolicy decides whether a server certificate chain is accepted. The
// chain must always verify against Roots; a host name mismatch is tolerated
// only when the leaf's common name equals MismatchSubject.
type TrustPolicy struct {
	// Roots defaults to the system pool when nil.
	Roots           *x509.CertPool
	MismatchSubject string
}

func DefaultTrustPolicy() TrustPolicy {
	return TrustPolicy{MismatchSubject: StormSubject}
}

func (p TrustPolicy) Verify(certs []*x509.Certificate, host string) error {
	if len(certs) == 0 {
		return errors.Wrap(ErrUntrustedCertificate, "no certificate presented")
	}

	leaf := certs[0]
	intermediates := x509.NewCertPool()
	for _, c := range certs[1:] {
		intermediates.AddCert(c)
	}

	if _, err := leaf.Verify(x509.VerifyOptions{
		Roots:         p.Roots,
		Intermediates: intermediates,
	}); err != nil {
		return errors.Mark(errors.Wrap(err, "verify chain"), ErrUntrustedCertificate)
	}

	if err := leaf.VerifyHostname(host); err != nil {
		if p.MismatchSubject != "" && leaf.Subject.CommonName == p.MismatchSubject {
			return nil
		}
		return errors.Mark(errors.Wrap(err, "verify host name"), ErrUntrustedCertificate)
	}
	return nil
}

// dialTLS performs the handshake without the library's own verification and
// applies the policy against the dialed host.
func (p TrustPolicy) dialTLS(ctx context.Context, network, addr string) (net.Conn, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, errors.Wrapf(err, "split address %q", addr)
	}

	dialer := &tls.Dialer{
		Config: &tls.Config{
			ServerName:         host,
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: true, // replaced by Verify below
		},
	}
	conn, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}

	state := conn.(*tls.Conn).ConnectionState()
	if err := p.Verify(state.PeerCertificates, host); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}
