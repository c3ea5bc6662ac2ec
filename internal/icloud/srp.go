package icloud

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"

	"golang.org/x/crypto/pbkdf2"
)

// 2048-bit group from RFC 5054 appendix A, generator 2. The auth endpoints
// speak SRP-6a over this group with SHA-256 throughout.
const srpGroupHex = "AC6BDB41324A9A9BF166DE5E1389582FAF72B6651987EE07FC3192943DB56050" +
	"A37329CBB4A099ED8193E0757767A13DD52312AB4B03310DCD7F48A9DA04FD50" +
	"E8083969EDB767B0CF6095179A163AB3661A05FBD5FAAAE82918A9962F0B93B8" +
	"55F97993EC975EEAA80D740ADBF4FF747359D041D5C33EA71D281E446B14773B" +
	"CA97B43A23FB801676BD207A436C6481F1D2B9078717461A5B9D32E688F87748" +
	"544523B524B0D57D5EA77A2775D2ECFA032CFBDBF52FB3786160279004E57AE6" +
	"AF874E7303CE53299CCC041C7BC308D82A5698F3A8D0C38271AE35F8E9DBFBB6" +
	"94B5C803D89F7AE435DE236D525F54759B65E372FCD68EF20FA7111F9E4AFF73"

// srpClient holds one login attempt's ephemeral key pair. A fresh client is
// required per signin/init call; ephemerals must never be reused.
type srpClient struct {
	n, g    *big.Int
	secret  *big.Int // a
	public  *big.Int // A = g^a mod N
	padding int      // byte length of N
}

// newSRPClient generates a random 256-bit ephemeral secret.
func newSRPClient() (*srpClient, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("icloud: generating srp ephemeral: %w", err)
	}

	return newSRPClientFromSecret(new(big.Int).SetBytes(buf)), nil
}

// newSRPClientFromSecret builds a client around a fixed ephemeral secret.
// Exists so tests can drive both sides of the exchange deterministically.
func newSRPClientFromSecret(secret *big.Int) *srpClient {
	n, _ := new(big.Int).SetString(srpGroupHex, 16)
	g := big.NewInt(2)

	return &srpClient{
		n:       n,
		g:       g,
		secret:  secret,
		public:  new(big.Int).Exp(g, secret, n),
		padding: len(n.Bytes()),
	}
}

// PublicKey returns A as big-endian bytes for the signin/init payload.
func (c *srpClient) PublicKey() []byte {
	return c.public.Bytes()
}

// derivePasswordKey produces the 32-byte PBKDF2 key for the negotiated
// protocol. Both variants hash the password with SHA-256 first; s2k feeds
// the digest bytes into PBKDF2, s2k_fo the lowercase hex rendering.
func derivePasswordKey(protocol, password string, salt []byte, iterations int) ([]byte, error) {
	digest := sha256.Sum256([]byte(password))

	var input []byte

	switch protocol {
	case "s2k":
		input = digest[:]
	case "s2k_fo":
		input = []byte(hex.EncodeToString(digest[:]))
	default:
		return nil, fmt.Errorf("icloud: unsupported key derivation protocol %q", protocol)
	}

	return pbkdf2.Key(input, salt, iterations, sha256.Size, sha256.New), nil
}

// ComputeProofs finishes the exchange against the server ephemeral B and
// returns the client proof M1 and the expected server proof M2. The private
// exponent x is derived without the username; the account name still enters
// M1 per the standard proof formula.
func (c *srpClient) ComputeProofs(username string, key, salt, serverB []byte) (m1, m2 []byte, err error) {
	b := new(big.Int).SetBytes(serverB)
	if new(big.Int).Mod(b, c.n).Sign() == 0 {
		return nil, nil, errors.New("icloud: server sent invalid srp ephemeral")
	}

	// x = H(salt || H(":" || key))
	inner := sha256.New()
	inner.Write([]byte(":"))
	inner.Write(key)

	outer := sha256.New()
	outer.Write(salt)
	outer.Write(inner.Sum(nil))
	x := new(big.Int).SetBytes(outer.Sum(nil))

	// k = H(N || pad(g))
	kh := sha256.New()
	kh.Write(c.n.Bytes())
	kh.Write(c.pad(c.g))
	k := new(big.Int).SetBytes(kh.Sum(nil))

	// u = H(pad(A) || pad(B))
	uh := sha256.New()
	uh.Write(c.pad(c.public))
	uh.Write(c.pad(b))
	u := new(big.Int).SetBytes(uh.Sum(nil))

	if u.Sign() == 0 {
		return nil, nil, errors.New("icloud: srp scrambling parameter is zero")
	}

	// S = (B - k*g^x) ^ (a + u*x) mod N
	gx := new(big.Int).Exp(c.g, x, c.n)
	base := new(big.Int).Sub(b, new(big.Int).Mul(k, gx))
	base.Mod(base, c.n)

	exp := new(big.Int).Add(c.secret, new(big.Int).Mul(u, x))
	s := new(big.Int).Exp(base, exp, c.n)

	sessionKey := sha256.Sum256(s.Bytes())

	hn := sha256.Sum256(c.n.Bytes())
	hg := sha256.Sum256(c.pad(c.g))

	xor := make([]byte, sha256.Size)
	for i := range xor {
		xor[i] = hn[i] ^ hg[i]
	}

	hu := sha256.Sum256([]byte(username))

	// M1 = H((H(N) xor H(g)) || H(username) || salt || A || B || K)
	m1h := sha256.New()
	m1h.Write(xor)
	m1h.Write(hu[:])
	m1h.Write(salt)
	m1h.Write(c.public.Bytes())
	m1h.Write(b.Bytes())
	m1h.Write(sessionKey[:])
	m1 = m1h.Sum(nil)

	// M2 = H(A || M1 || K)
	m2h := sha256.New()
	m2h.Write(c.public.Bytes())
	m2h.Write(m1)
	m2h.Write(sessionKey[:])
	m2 = m2h.Sum(nil)

	return m1, m2, nil
}

// pad left-pads v to the byte length of N.
func (c *srpClient) pad(v *big.Int) []byte {
	return v.FillBytes(make([]byte, c.padding))
}
