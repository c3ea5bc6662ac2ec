package icloud

import (
	"crypto/sha256"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDerivePasswordKeyProtocolsDiffer(t *testing.T) {
	salt := []byte("0123456789abcdef")

	s2k, err := derivePasswordKey("s2k", "hunter2", salt, 1000)
	require.NoError(t, err)
	require.Len(t, s2k, 32)

	s2kFO, err := derivePasswordKey("s2k_fo", "hunter2", salt, 1000)
	require.NoError(t, err)
	require.Len(t, s2kFO, 32)

	assert.NotEqual(t, s2k, s2kFO)
}

func TestDerivePasswordKeyUnknownProtocol(t *testing.T) {
	_, err := derivePasswordKey("scrypt", "hunter2", []byte("salt"), 1000)
	assert.Error(t, err)
}

func TestDerivePasswordKeyDeterministic(t *testing.T) {
	salt := []byte("0123456789abcdef")

	a, err := derivePasswordKey("s2k", "hunter2", salt, 1000)
	require.NoError(t, err)

	b, err := derivePasswordKey("s2k", "hunter2", salt, 1000)
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestSRPClientPublicKey(t *testing.T) {
	c := newSRPClientFromSecret(big.NewInt(12345))

	want := new(big.Int).Exp(c.g, big.NewInt(12345), c.n)
	assert.Equal(t, want.Bytes(), c.PublicKey())
}

func TestSRPRejectsZeroServerEphemeral(t *testing.T) {
	c := newSRPClientFromSecret(big.NewInt(12345))

	_, _, err := c.ComputeProofs("user@example.com", []byte("key"), []byte("salt"), c.n.Bytes())
	assert.Error(t, err)
}

// Simulates the server half of the exchange and checks that both sides
// arrive at the same shared secret and proofs.
func TestSRPMutualProofVerification(t *testing.T) {
	const (
		username = "user@example.com"
		password = "hunter2"
	)

	salt := []byte("fixed-salt-16byt")

	key, err := derivePasswordKey("s2k", password, salt, 1000)
	require.NoError(t, err)

	client := newSRPClientFromSecret(big.NewInt(0).SetBytes([]byte("client-ephemeral-secret")))
	n, g := client.n, client.g

	// Verifier from the same x the client derives.
	inner := sha256.New()
	inner.Write([]byte(":"))
	inner.Write(key)

	outer := sha256.New()
	outer.Write(salt)
	outer.Write(inner.Sum(nil))
	x := new(big.Int).SetBytes(outer.Sum(nil))
	v := new(big.Int).Exp(g, x, n)

	kh := sha256.New()
	kh.Write(n.Bytes())
	kh.Write(client.pad(g))
	k := new(big.Int).SetBytes(kh.Sum(nil))

	// Server ephemeral: B = k*v + g^b mod N.
	b := big.NewInt(0).SetBytes([]byte("server-ephemeral-secret"))
	serverB := new(big.Int).Add(new(big.Int).Mul(k, v), new(big.Int).Exp(g, b, n))
	serverB.Mod(serverB, n)

	m1, m2, err := client.ComputeProofs(username, key, salt, serverB.Bytes())
	require.NoError(t, err)

	// Server-side shared secret: S = (A * v^u)^b mod N.
	bigA := new(big.Int).SetBytes(client.PublicKey())

	uh := sha256.New()
	uh.Write(client.pad(bigA))
	uh.Write(client.pad(serverB))
	u := new(big.Int).SetBytes(uh.Sum(nil))

	s := new(big.Int).Exp(new(big.Int).Mul(bigA, new(big.Int).Exp(v, u, n)), b, n)
	sessionKey := sha256.Sum256(s.Bytes())

	hn := sha256.Sum256(n.Bytes())
	hg := sha256.Sum256(client.pad(g))

	xor := make([]byte, sha256.Size)
	for i := range xor {
		xor[i] = hn[i] ^ hg[i]
	}

	hu := sha256.Sum256([]byte(username))

	m1h := sha256.New()
	m1h.Write(xor)
	m1h.Write(hu[:])
	m1h.Write(salt)
	m1h.Write(bigA.Bytes())
	m1h.Write(serverB.Bytes())
	m1h.Write(sessionKey[:])

	assert.Equal(t, m1h.Sum(nil), m1, "client proof must match server computation")

	m2h := sha256.New()
	m2h.Write(bigA.Bytes())
	m2h.Write(m1)
	m2h.Write(sessionKey[:])

	assert.Equal(t, m2h.Sum(nil), m2, "server proof must match")
}
