package core

import (
	"encoding/hex"
	"fmt"
)

// NDEF user memory on Type 2 tags starts at page 4; each page is 4 bytes.
const (
	ndefStartPage = 4
	maxNDEFPages  = 222 // NTAG216 upper bound, smaller tags NAK earlier
)

// readUID requests the tag's hardware UID with the PC/SC pseudo-APDU
// FF CA 00 00 00.
func readUID(card SmartCard) ([]byte, error) {
	rsp, err := card.Transmit([]byte{0xFF, 0xCA, 0x00, 0x00, 0x00})
	if err != nil {
		return nil, fmt.Errorf("%w: get UID: %v", ErrTimeout, err)
	}
	if len(rsp) < 2 {
		return nil, fmt.Errorf("%w: invalid UID response length %d", ErrMalformedPayload, len(rsp))
	}
	sw1, sw2 := rsp[len(rsp)-2], rsp[len(rsp)-1]
	if sw1 != 0x90 || sw2 != 0x00 {
		return nil, fmt.Errorf("%w: get UID failed with status %02X %02X", ErrNoTagPresent, sw1, sw2)
	}
	return rsp[:len(rsp)-2], nil
}

// readPage reads one 4-byte page with the standard READ BINARY command.
func readPage(card SmartCard, page int) ([]byte, error) {
	rsp, err := card.Transmit([]byte{0xFF, 0xB0, 0x00, byte(page), 0x04})
	if err != nil {
		return nil, fmt.Errorf("%w: read page %d: %v", ErrTimeout, page, err)
	}
	if len(rsp) < 6 || rsp[len(rsp)-2] != 0x90 || rsp[len(rsp)-1] != 0x00 {
		return nil, fmt.Errorf("read page %d failed with status", page)
	}
	return rsp[:len(rsp)-2], nil
}

// readNDEFArea reads the tag's user memory from page 4 until the NDEF
// terminator byte appears or the declared message length is satisfied.
func readNDEFArea(card SmartCard) ([]byte, error) {
	var data []byte

	for page := ndefStartPage; page < ndefStartPage+maxNDEFPages; page++ {
		pageData, err := readPage(card, page)
		if err != nil {
			// Out-of-range reads NAK on smaller tags; stop with what we have.
			if len(data) > 0 {
				break
			}
			return nil, err
		}
		data = append(data, pageData...)

		for _, b := range pageData {
			if b == 0xFE {
				return data, nil
			}
		}

		// Stop once the declared TLV length is fully read.
		if len(data) > 2 && data[0] == 0x03 {
			var msgLen, msgStart int
			if data[1] == 0xFF && len(data) >= 4 {
				msgLen = int(data[2])<<8 | int(data[3])
				msgStart = 4
			} else if data[1] != 0xFF {
				msgLen = int(data[1])
				msgStart = 2
			}
			if msgStart > 0 && len(data) >= msgStart+msgLen+1 {
				return data, nil
			}
		}
	}

	return data, nil
}

// writePages writes data to consecutive 4-byte pages starting at startPage,
// padding the final page with zeros. A hardware NACK maps to
// ErrWriteRejected, a transport failure to ErrTimeout (tag left the field).
func writePages(card SmartCard, startPage int, data []byte) error {
	for len(data)%4 != 0 {
		data = append(data, 0x00)
	}

	for i := 0; i < len(data); i += 4 {
		page := startPage + i/4
		cmd := []byte{0xFF, 0xD6, 0x00, byte(page), 0x04}
		cmd = append(cmd, data[i:i+4]...)

		rsp, err := card.Transmit(cmd)
		if err != nil {
			return fmt.Errorf("%w: write page %d: %v", ErrTimeout, page, err)
		}
		if len(rsp) < 2 || rsp[len(rsp)-2] != 0x90 || rsp[len(rsp)-1] != 0x00 {
			return fmt.Errorf("%w: page %d, status %s", ErrWriteRejected, page, hex.EncodeToString(rsp))
		}
	}
	return nil
}

// eraseNDEF writes an empty NDEF message over the start of user memory.
// Some media reject the erase; callers doing a defensive pre-write erase
// treat that as non-fatal.
func eraseNDEF(card SmartCard) error {
	empty := []byte{0x03, 0x00, 0xFE, 0x00}
	return writePages(card, ndefStartPage, empty)
}
