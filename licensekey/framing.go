package licensekey

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/CloudNativeWorks/cnw-licensekey/licensekey/base32"
)

// Serialize renders r as "<prefix>-<body>" where prefix is the decimal id or
// the Base32 GUID and body is the Base32 binary record.
func Serialize(r *Record) (string, error) {
	return SerializeGrouped(r, 0)
}

// SerializeGrouped is Serialize with the body split into dash-separated groups
// of groupSize characters.
func SerializeGrouped(r *Record, groupSize int) (string, error) {
	prefix, err := keyPrefix(r)
	if err != nil {
		return "", err
	}
	if !r.HasField(FieldSignature) {
		r = stampCompatibility(r)
	}
	body, err := r.MarshalBinary()
	if err != nil {
		return "", err
	}
	return prefix + string(base32.Separator) + base32.Encode(body, groupSize), nil
}

func keyPrefix(r *Record) (string, error) {
	if g, ok := r.GUID(); ok {
		if r.id != 0 {
			return "", fmt.Errorf("%w: GUID license carries numeric id %d", ErrMissingIdentity, r.id)
		}
		return base32.Encode(g[:], 0), nil
	}
	if r.id <= 0 {
		return "", fmt.Errorf("%w: numeric id %d", ErrMissingIdentity, r.id)
	}
	return strconv.FormatInt(int64(r.id), 10), nil
}

// Deserialize parses a license key. Characters other than ASCII letters, digits
// and dashes are ignored and letters are case-insensitive, so keys survive
// being pasted from mail or wrapped across lines.
func Deserialize(key string) (*Record, error) {
	clean := normalizeKey(key)
	prefix, body, ok := strings.Cut(clean, string(base32.Separator))
	if !ok || prefix == "" {
		return nil, &FormatError{Msg: "missing license id prefix"}
	}
	if strings.Trim(body, string(base32.Separator)) == "" {
		return nil, &FormatError{Msg: "missing license body"}
	}

	var (
		numericID int64
		guid      uuid.UUID
		isGUID    bool
	)
	if n, err := strconv.ParseInt(prefix, 10, 32); err == nil {
		if n <= 0 {
			return nil, &FormatError{Msg: fmt.Sprintf("license id %d is not positive", n)}
		}
		numericID = n
	} else {
		raw, err := base32.Decode(prefix)
		if err != nil {
			return nil, &FormatError{Msg: "license id prefix", Err: err}
		}
		if guid, err = uuid.FromBytes(raw); err != nil {
			return nil, &FormatError{Msg: fmt.Sprintf("license GUID prefix is %d bytes", len(raw))}
		}
		isGUID = true
	}

	raw, err := base32.Decode(body)
	if err != nil {
		return nil, &FormatError{Msg: "license body", Err: err}
	}
	r, err := ParseBinary(raw)
	if err != nil {
		return nil, err
	}

	bodyGUID, hasGUID := r.GUID()
	switch {
	case isGUID && (!hasGUID || bodyGUID != guid):
		return nil, invalidf("license GUID %s does not match its body", guid)
	case isGUID && r.id != 0:
		return nil, invalidf("GUID license carries numeric id %d", r.id)
	case !isGUID && hasGUID:
		return nil, invalidf("numbered license %d carries a GUID", numericID)
	case !isGUID && int64(r.id) != numericID:
		return nil, invalidf("license id %d does not match its body id %d", numericID, r.id)
	}
	return r, nil
}

func normalizeKey(key string) string {
	var sb strings.Builder
	sb.Grow(len(key))
	for i := 0; i < len(key); i++ {
		c := key[i]
		switch {
		case c >= 'a' && c <= 'z':
			sb.WriteByte(c - 'a' + 'A')
		case c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == base32.Separator:
			sb.WriteByte(c)
		}
	}
	return sb.String()
}
