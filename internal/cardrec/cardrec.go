// Package cardrec implements the compact on-card profile record: a small
// CBOR map written to the tag alongside the identifier, so a terminal can
// show the holder's name even when the ledger is unreachable.
package cardrec

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// MIMEType for profile NDEF records.
const MIMEType = "application/vnd.tapdesk.profile"

// MaxProfileSize bounds the encoded record so it fits the smallest supported
// tag (NTAG213, 144 bytes of user memory) together with the text record.
const MaxProfileSize = 96

// Profile is the card-holder profile stored on the tag. Integer keys keep
// the CBOR encoding small.
type Profile struct {
	Name    string `cbor:"0,keyasint,omitempty"`
	Surname string `cbor:"1,keyasint,omitempty"`
	Address string `cbor:"2,keyasint,omitempty"`
}

// Encode serializes the profile to canonical CBOR.
func (p *Profile) Encode() ([]byte, error) {
	opts := cbor.CanonicalEncOptions()
	mode, err := opts.EncMode()
	if err != nil {
		return nil, fmt.Errorf("failed to create encoder: %w", err)
	}

	data, err := mode.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode profile: %w", err)
	}
	if len(data) > MaxProfileSize {
		return nil, fmt.Errorf("encoded profile is %d bytes, max %d", len(data), MaxProfileSize)
	}
	return data, nil
}

// Decode parses a CBOR profile payload read from a tag.
func Decode(data []byte) (*Profile, error) {
	var p Profile
	if err := cbor.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to decode profile: %w", err)
	}
	return &p, nil
}
