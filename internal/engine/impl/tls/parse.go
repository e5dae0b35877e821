package tls

import (
	"errors"

	"golang.org/x/crypto/cryptobyte"
)

var (
	// ErrShortRecord is returned when a payload is too short to hold the
	// structure being parsed.
	ErrShortRecord = errors.New("tls: short record")
	// ErrNotTLS is returned when a payload does not start with a TLS record.
	ErrNotTLS = errors.New("tls: not a tls record")
)

const (
	recordHeaderLen = 5

	contentChangeCipherSpec uint8 = 20
	contentApplicationData  uint8 = 23
	contentHandshake        uint8 = 22

	typeClientHello uint8 = 1
	typeServerHello uint8 = 2

	extServerName        uint16 = 0
	extSessionTicket     uint16 = 35
	extSupportedVersions uint16 = 43
)

// record is one TLS record. Body may be shorter than the declared length
// when the record continues in a later segment.
type record struct {
	contentType uint8
	version     uint16
	length      int
	body        []byte
}

// parseRecords splits payload into records. The last record may be
// truncated; a payload that does not start with a record header is rejected.
func parseRecords(payload []byte) ([]record, error) {
	if len(payload) < recordHeaderLen {
		return nil, ErrShortRecord
	}
	var records []record
	s := cryptobyte.String(payload)
	for len(s) >= recordHeaderLen {
		var r record
		var length uint16
		if !s.ReadUint8(&r.contentType) || !s.ReadUint16(&r.version) || !s.ReadUint16(&length) {
			break
		}
		if r.contentType < contentChangeCipherSpec || r.contentType > contentApplicationData || r.version>>8 != 3 {
			if len(records) == 0 {
				return nil, ErrNotTLS
			}
			break
		}
		r.length = int(length)
		n := min(r.length, len(s))
		var body []byte
		s.ReadBytes(&body, n)
		r.body = body
		records = append(records, r)
	}
	return records, nil
}

// handshakeType returns the type of the first handshake message in r.
func (r record) handshakeType() (uint8, bool) {
	if r.contentType != contentHandshake || len(r.body) == 0 {
		return 0, false
	}
	return r.body[0], true
}

// handshakeBody returns the body of the first handshake message in r,
// truncated to what was captured.
func (r record) handshakeBody() (cryptobyte.String, error) {
	s := cryptobyte.String(r.body)
	var typ uint8
	var length uint32
	if !s.ReadUint8(&typ) || !s.ReadUint24(&length) {
		return nil, ErrShortRecord
	}
	if int(length) < len(s) {
		s = s[:length]
	}
	return s, nil
}

// hello holds the parts of a ClientHello or ServerHello the collector uses.
type hello struct {
	sni     string
	ticket  bool
	version uint16
}

// parseClientHello extracts the server name, session ticket presence and
// highest offered version.
func parseClientHello(r record) (hello, error) {
	var h hello
	s, err := r.handshakeBody()
	if err != nil {
		return h, err
	}
	var sessionID, suites, compression cryptobyte.String
	if !s.ReadUint16(&h.version) ||
		!s.Skip(32) ||
		!s.ReadUint8LengthPrefixed(&sessionID) ||
		!s.ReadUint16LengthPrefixed(&suites) ||
		!s.ReadUint8LengthPrefixed(&compression) {
		return h, ErrShortRecord
	}
	if s.Empty() {
		return h, nil
	}
	err = readExtensions(s, func(typ uint16, data cryptobyte.String) bool {
		switch typ {
		case extServerName:
			var list cryptobyte.String
			if !data.ReadUint16LengthPrefixed(&list) {
				return false
			}
			for !list.Empty() {
				var nameType uint8
				var name cryptobyte.String
				if !list.ReadUint8(&nameType) || !list.ReadUint16LengthPrefixed(&name) {
					return false
				}
				if nameType == 0 && h.sni == "" {
					h.sni = string(name)
				}
			}
		case extSessionTicket:
			h.ticket = true
		case extSupportedVersions:
			var versions cryptobyte.String
			if !data.ReadUint8LengthPrefixed(&versions) {
				return false
			}
			for !versions.Empty() {
				var v uint16
				if !versions.ReadUint16(&v) {
					return false
				}
				if !isGREASE(v) && v > h.version {
					h.version = v
				}
			}
		}
		return true
	})
	return h, err
}

// parseServerHello extracts the negotiated version.
func parseServerHello(r record) (hello, error) {
	var h hello
	s, err := r.handshakeBody()
	if err != nil {
		return h, err
	}
	var sessionID cryptobyte.String
	var suite uint16
	var compression uint8
	if !s.ReadUint16(&h.version) ||
		!s.Skip(32) ||
		!s.ReadUint8LengthPrefixed(&sessionID) ||
		!s.ReadUint16(&suite) ||
		!s.ReadUint8(&compression) {
		return h, ErrShortRecord
	}
	if s.Empty() {
		return h, nil
	}
	err = readExtensions(s, func(typ uint16, data cryptobyte.String) bool {
		if typ == extSupportedVersions {
			return data.ReadUint16(&h.version)
		}
		return true
	})
	return h, err
}

func readExtensions(s cryptobyte.String, fn func(typ uint16, data cryptobyte.String) bool) error {
	var exts cryptobyte.String
	if !s.ReadUint16LengthPrefixed(&exts) {
		return ErrShortRecord
	}
	for !exts.Empty() {
		var typ uint16
		var data cryptobyte.String
		if !exts.ReadUint16(&typ) || !exts.ReadUint16LengthPrefixed(&data) {
			return ErrShortRecord
		}
		if !fn(typ, data) {
			return ErrShortRecord
		}
	}
	return nil
}

// isGREASE reports whether v is a reserved GREASE value (RFC 8701).
func isGREASE(v uint16) bool {
	return v&0x0f0f == 0x0a0a && v>>8 == v&0xff
}
