// Package ledger holds the vocabulary shared by every hosting runtime:
// derived record addresses, the capability that lets the program act as a
// record it owns, and the fungible-token records with their mint rules.
package ledger

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
)

// DefaultNamespace is the fixed tag mixed into every puzzle-state derivation.
const DefaultNamespace = "seed_state"

var (
	ErrRecordExists   = errors.New("record already exists")
	ErrRecordNotFound = errors.New("record not found")
)

// Address identifies a record hosted by the runtime.
type Address string

func (a Address) String() string { return string(a) }

// Capability authorizes an action as the owner of the record at Address.
// Only code holding the program secret can produce a Proof that verifies.
type Capability struct {
	Address Address `json:"address"`
	Proof   []byte  `json:"proof"`
}

// Deriver maps a seed identifier to the record address and signing capability.
type Deriver interface {
	Address(seedID uint64) Address
	Derive(seedID uint64) (Address, Capability)
	Verify(c Capability) bool
}

// HMACDeriver derives addresses and capabilities with HMAC-SHA256 keyed by a
// program secret.
type HMACDeriver struct {
	namespace string
	secret    []byte
}

// NewHMACDeriver returns a deriver for the given namespace.
// An empty namespace falls back to DefaultNamespace; an empty secret is rejected.
func NewHMACDeriver(namespace string, secret []byte) (*HMACDeriver, error) {
	if len(secret) == 0 {
		return nil, errors.New("derivation secret is required")
	}
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &HMACDeriver{
		namespace: namespace,
		secret:    append([]byte{}, secret...),
	}, nil
}

// Address returns the storage address for a seed without producing a capability.
func (d *HMACDeriver) Address(seedID uint64) Address {
	var seed [8]byte
	binary.LittleEndian.PutUint64(seed[:], seedID)

	mac := hmac.New(sha256.New, d.secret)
	mac.Write([]byte(d.namespace))
	mac.Write(seed[:])
	return Address(hex.EncodeToString(mac.Sum(nil)))
}

// Derive returns the address for seedID together with a capability over it.
func (d *HMACDeriver) Derive(seedID uint64) (Address, Capability) {
	addr := d.Address(seedID)
	return addr, Capability{Address: addr, Proof: d.proof(addr)}
}

// Verify reports whether c was produced by this deriver.
func (d *HMACDeriver) Verify(c Capability) bool {
	if c.Address == "" || len(c.Proof) == 0 {
		return false
	}
	return hmac.Equal(c.Proof, d.proof(c.Address))
}

func (d *HMACDeriver) proof(addr Address) []byte {
	mac := hmac.New(sha256.New, d.secret)
	mac.Write([]byte("authority:"))
	mac.Write([]byte(addr))
	return mac.Sum(nil)
}
