package broker

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"time"

	"golang.org/x/crypto/argon2"
)

// tlsServerName is the name every broker identity is issued for. All parties
// sharing a secret share the same identity, so there's no per-host naming.
const tlsServerName = "topod"

// tlsSalt domain separates the identity key derivation from other secret uses.
var tlsSalt = []byte("topod broker identity")

// makeTLSCert deterministically derives a self signed certificate and its private
// key from a shared secret, both PEM encoded. Everyone knowing the secret ends
// up with the same identity and can authenticate with everyone else.
func makeTLSCert(secret string) ([]byte, []byte) {
	seed := argon2.IDKey([]byte(secret), tlsSalt, 1, 64*1024, 4, ed25519.SeedSize)
	key := ed25519.NewKeyFromSeed(seed)

	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: tlsServerName},
		DNSNames:              []string{tlsServerName},
		NotBefore:             time.Unix(0, 0).UTC(),
		NotAfter:              time.Date(9999, time.December, 31, 23, 59, 59, 0, time.UTC),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, key.Public(), key)
	if err != nil {
		panic(err) // Can't fail with a valid template, panic during development
	}
	pkcs8, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		panic(err) // Can't fail for ed25519 keys
	}
	cert := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	priv := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: pkcs8})
	return cert, priv
}

// makeTLSConfig creates a client side TLS configuration authenticating with the
// given identity and only trusting peers holding the same one.
func makeTLSConfig(cert, key []byte) *tls.Config {
	pair, err := tls.X509KeyPair(cert, key)
	if err != nil {
		panic(err) // Can't fail, material is generated by makeTLSCert
	}
	roots := x509.NewCertPool()
	roots.AppendCertsFromPEM(cert)

	return &tls.Config{
		Certificates: []tls.Certificate{pair},
		RootCAs:      roots,
		ServerName:   tlsServerName,
		MinVersion:   tls.VersionTLS12,
	}
}
