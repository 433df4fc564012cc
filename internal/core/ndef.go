package core

import "fmt"

// NDEF record header bits.
const (
	ndefMB  = 0x80 // Message Begin
	ndefME  = 0x40 // Message End
	ndefSR  = 0x10 // Short Record
	ndefTNF = 0x07 // Type Name Format mask

	tnfWellKnown = 0x01
	tnfMIME      = 0x02
)

// EncodeTextRecord builds a single well-known "T" record carrying text with
// an "en" language code, without TLV wrapping.
func EncodeTextRecord(text string) []byte {
	return encodeRecord(tnfWellKnown, []byte("T"), textPayload(text), true, true)
}

// EncodeTextWithMIME builds a two-record message: the text record first,
// then a MIME-typed record.
func EncodeTextWithMIME(text, mimeType string, data []byte) []byte {
	message := encodeRecord(tnfWellKnown, []byte("T"), textPayload(text), true, false)
	return append(message, encodeRecord(tnfMIME, []byte(mimeType), data, false, true)...)
}

func textPayload(text string) []byte {
	payload := []byte{0x02} // Language code length (2 for "en")
	payload = append(payload, []byte("en")...)
	payload = append(payload, []byte(text)...)
	return payload
}

// EncodeMIMERecord builds a single MIME-typed record, without TLV wrapping.
func EncodeMIMERecord(mimeType string, data []byte) []byte {
	return encodeRecord(tnfMIME, []byte(mimeType), data, true, true)
}

func encodeRecord(tnf byte, recordType []byte, payload []byte, mb, me bool) []byte {
	header := tnf & ndefTNF
	if mb {
		header |= ndefMB
	}
	if me {
		header |= ndefME
	}
	if len(payload) < 256 {
		header |= ndefSR
	}

	record := []byte{header, byte(len(recordType))}
	if len(payload) < 256 {
		record = append(record, byte(len(payload)))
	} else {
		record = append(record, byte(len(payload)>>24))
		record = append(record, byte(len(payload)>>16))
		record = append(record, byte(len(payload)>>8))
		record = append(record, byte(len(payload)))
	}
	record = append(record, recordType...)
	record = append(record, payload...)
	return record
}

// WrapTLV wraps an NDEF message in the tag TLV format:
// 0x03 (NDEF Message TLV), length, value, 0xFE (Terminator TLV).
func WrapTLV(message []byte) []byte {
	tlv := []byte{0x03}
	if len(message) < 255 {
		tlv = append(tlv, byte(len(message)))
	} else {
		tlv = append(tlv, 0xFF, byte(len(message)>>8), byte(len(message)))
	}
	tlv = append(tlv, message...)
	tlv = append(tlv, 0xFE)
	return tlv
}

// ExtractMessage unwraps the NDEF message from raw tag memory in TLV format.
// Returns ErrNoPayload when no NDEF TLV is present or the message is empty,
// ErrMalformedPayload when the declared length exceeds the data.
func ExtractMessage(data []byte) ([]byte, error) {
	if len(data) < 2 || data[0] != 0x03 {
		return nil, ErrNoPayload
	}

	var msgLen, msgStart int
	if data[1] == 0xFF {
		if len(data) < 4 {
			return nil, fmt.Errorf("%w: truncated 3-byte length", ErrMalformedPayload)
		}
		msgLen = int(data[2])<<8 | int(data[3])
		msgStart = 4
	} else {
		msgLen = int(data[1])
		msgStart = 2
	}

	if msgLen == 0 {
		return nil, ErrNoPayload
	}
	if msgStart+msgLen > len(data) {
		return nil, fmt.Errorf("%w: declared length %d exceeds data", ErrMalformedPayload, msgLen)
	}

	return data[msgStart : msgStart+msgLen], nil
}

// Record is one parsed NDEF record.
type Record struct {
	TNF     byte
	Type    []byte
	Payload []byte
}

// ParseMessage splits an NDEF message into its records.
func ParseMessage(message []byte) ([]Record, error) {
	var records []Record
	offset := 0
	for offset < len(message) {
		if len(message)-offset < 3 {
			return nil, fmt.Errorf("%w: truncated record header", ErrMalformedPayload)
		}

		header := message[offset]
		tnf := header & ndefTNF
		sr := header&ndefSR != 0
		me := header&ndefME != 0

		typeLength := int(message[offset+1])
		var payloadLength, headerSize int
		if sr {
			payloadLength = int(message[offset+2])
			headerSize = 3
		} else {
			if len(message)-offset < 6 {
				return nil, fmt.Errorf("%w: truncated long record header", ErrMalformedPayload)
			}
			payloadLength = int(message[offset+2])<<24 | int(message[offset+3])<<16 |
				int(message[offset+4])<<8 | int(message[offset+5])
			headerSize = 6
		}

		recordStart := offset + headerSize
		if recordStart+typeLength+payloadLength > len(message) {
			return nil, fmt.Errorf("%w: record exceeds message bounds", ErrMalformedPayload)
		}

		records = append(records, Record{
			TNF:     tnf,
			Type:    message[recordStart : recordStart+typeLength],
			Payload: message[recordStart+typeLength : recordStart+typeLength+payloadLength],
		})

		offset = recordStart + typeLength + payloadLength
		if me {
			break
		}
	}

	if len(records) == 0 {
		return nil, ErrNoPayload
	}
	return records, nil
}

// DecodeTextRecord extracts the text from a well-known "T" record payload.
// The first payload byte carries the language-code length in its low six
// bits; the text starts after the language code, never at payload[1].
func DecodeTextRecord(rec Record) (string, error) {
	if rec.TNF != tnfWellKnown || len(rec.Type) != 1 || rec.Type[0] != 'T' {
		return "", fmt.Errorf("%w: not a text record", ErrMalformedPayload)
	}
	if len(rec.Payload) < 1 {
		return "", fmt.Errorf("%w: empty text payload", ErrMalformedPayload)
	}

	langCodeLen := int(rec.Payload[0] & 0x3F)
	if 1+langCodeLen > len(rec.Payload) {
		return "", fmt.Errorf("%w: language code exceeds payload", ErrMalformedPayload)
	}

	return string(rec.Payload[1+langCodeLen:]), nil
}

// FindTextRecord returns the decoded text of the first "T" record in the
// message.
func FindTextRecord(message []byte) (string, error) {
	records, err := ParseMessage(message)
	if err != nil {
		return "", err
	}
	for _, rec := range records {
		if rec.TNF == tnfWellKnown && len(rec.Type) == 1 && rec.Type[0] == 'T' {
			return DecodeTextRecord(rec)
		}
	}
	return "", ErrNoPayload
}

// FindMIMERecord returns the payload of the first record with the given MIME
// type, or nil when absent.
func FindMIMERecord(message []byte, mimeType string) []byte {
	records, err := ParseMessage(message)
	if err != nil {
		return nil
	}
	for _, rec := range records {
		if rec.TNF == tnfMIME && string(rec.Type) == mimeType {
			return rec.Payload
		}
	}
	return nil
}
