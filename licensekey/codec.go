package licensekey

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sort"
	"unicode/utf8"
)

// headerSize is version, id, type and product.
const headerSize = 1 + 4 + 1 + 1

// MarshalBinary returns the record bytes including the signature.
func (r *Record) MarshalBinary() ([]byte, error) {
	return r.appendBinary(nil, true)
}

// WriteTo writes the record bytes including the signature.
func (r *Record) WriteTo(w io.Writer) (int64, error) {
	b, err := r.MarshalBinary()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(b)
	return int64(n), err
}

// signedBytes is the buffer the signature covers: the record without its Signature field.
func (r *Record) signedBytes() ([]byte, error) {
	return r.appendBinary(nil, false)
}

func (r *Record) appendBinary(buf []byte, includeSignature bool) ([]byte, error) {
	buf = append(buf, r.version)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(r.id))
	buf = append(buf, uint8(r.licenseType), uint8(r.product))

	var payload []byte
	for _, f := range r.fields {
		if f.ID == FieldSignature && !includeSignature {
			continue
		}
		if err := checkValue(f.ID, f.Value); err != nil {
			return nil, err
		}
		buf = append(buf, uint8(f.ID))
		if !f.ID.IsPrefixedByLength() {
			buf = appendValue(buf, f.Value)
			continue
		}
		payload = appendValue(payload[:0], f.Value)
		if len(payload) > maxPrefixedLength {
			return nil, fmt.Errorf("%w: %s payload is %d bytes, limit %d", ErrFieldRange, f.ID, len(payload), maxPrefixedLength)
		}
		buf = append(buf, uint8(len(payload)))
		buf = append(buf, payload...)
	}
	return append(buf, uint8(FieldEnd)), nil
}

func appendValue(buf []byte, v FieldValue) []byte {
	switch v := v.(type) {
	case ByteValue:
		return append(buf, uint8(v))
	case BoolValue:
		if v {
			return append(buf, 1)
		}
		return append(buf, 0)
	case Int16Value:
		return binary.LittleEndian.AppendUint16(buf, uint16(v))
	case Int32Value:
		return binary.LittleEndian.AppendUint32(buf, uint32(v))
	case Int64Value:
		return binary.LittleEndian.AppendUint64(buf, uint64(v))
	case DateValue:
		return binary.LittleEndian.AppendUint16(buf, uint16(v.days))
	case DateTimeValue:
		return binary.LittleEndian.AppendUint64(buf, uint64(v.unix))
	case BytesValue:
		buf = binary.AppendUvarint(buf, uint64(len(v)))
		return append(buf, v...)
	case StringValue:
		buf = binary.AppendUvarint(buf, uint64(len(v)))
		return append(buf, v...)
	case RawValue:
		return append(buf, v...)
	default:
		panic(fmt.Sprintf("licensekey: unhandled field value %T", v))
	}
}

// ReadRecord reads one binary record. The stream must end right after the terminator.
func ReadRecord(r io.Reader) (*Record, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read license: %w", err)
	}
	return ParseBinary(b)
}

// ParseBinary decodes a binary record produced by MarshalBinary.
func ParseBinary(b []byte) (*Record, error) {
	fr := &fieldReader{buf: b}

	var header [headerSize]byte
	if err := fr.readFull(header[:]); err != nil {
		return nil, invalidf("license header is truncated")
	}
	r := &Record{
		version:     header[0],
		id:          int32(binary.LittleEndian.Uint32(header[1:5])),
		licenseType: LicenseType(header[5]),
		product:     Product(header[6]),
	}
	if r.version != CurrentVersion {
		return nil, invalidf("unsupported license format version %d", r.version)
	}

	prev := -1
	for {
		tag, err := fr.readByte()
		if err != nil {
			return nil, invalidf("license has no end-of-fields marker")
		}
		id := FieldID(tag)
		if id == FieldEnd {
			break
		}
		if int(id) <= prev {
			return nil, invalidf("field %s is duplicated or out of order", id)
		}
		prev = int(id)

		v, err := readField(fr, id)
		if err != nil {
			return nil, err
		}
		r.fields = append(r.fields, Field{ID: id, Value: v})
	}
	if fr.remaining() != 0 {
		return nil, invalidf("license is too long")
	}
	if b, ok := r.bytesField(FieldLicenseGUID); ok && len(b) != 16 {
		return nil, invalidf("license GUID is %d bytes", len(b))
	}
	return r, nil
}

func readField(fr *fieldReader, id FieldID) (FieldValue, error) {
	kind := id.Kind()
	if !id.IsPrefixedByLength() {
		if !id.IsKnown() {
			return nil, invalidf("unknown field %s cannot be skipped", id)
		}
		v, err := readValue(fr, kind)
		if err != nil {
			return nil, invalidf("field %s: %v", id, err)
		}
		return v, nil
	}

	n, err := fr.readByte()
	if err != nil {
		return nil, invalidf("field %s: missing length", id)
	}
	payload, err := fr.readN(int(n))
	if err != nil {
		return nil, invalidf("field %s: length %d exceeds the license", id, n)
	}
	if !id.IsKnown() {
		return RawValue(clone(payload)), nil
	}
	sub := &fieldReader{buf: payload}
	v, err := readValue(sub, kind)
	if err != nil {
		return nil, invalidf("field %s: %v", id, err)
	}
	if sub.remaining() != 0 {
		return nil, invalidf("field %s: %d bytes left over", id, sub.remaining())
	}
	return v, nil
}

func readValue(fr *fieldReader, kind Kind) (FieldValue, error) {
	switch kind {
	case KindByte:
		b, err := fr.readByte()
		return ByteValue(b), err
	case KindBool:
		b, err := fr.readByte()
		if err != nil {
			return nil, err
		}
		if b > 1 {
			return nil, fmt.Errorf("boolean byte %d", b)
		}
		return BoolValue(b == 1), nil
	case KindInt16:
		p, err := fr.readN(2)
		if err != nil {
			return nil, err
		}
		return Int16Value(binary.LittleEndian.Uint16(p)), nil
	case KindInt32:
		p, err := fr.readN(4)
		if err != nil {
			return nil, err
		}
		return Int32Value(binary.LittleEndian.Uint32(p)), nil
	case KindInt64:
		p, err := fr.readN(8)
		if err != nil {
			return nil, err
		}
		return Int64Value(binary.LittleEndian.Uint64(p)), nil
	case KindDate:
		p, err := fr.readN(2)
		if err != nil {
			return nil, err
		}
		return DateValue{days: int64(binary.LittleEndian.Uint16(p))}, nil
	case KindDateTime:
		p, err := fr.readN(8)
		if err != nil {
			return nil, err
		}
		return DateTimeValue{unix: int64(binary.LittleEndian.Uint64(p))}, nil
	case KindBytes:
		p, err := fr.readCounted()
		if err != nil {
			return nil, err
		}
		return BytesValue(clone(p)), nil
	case KindString:
		p, err := fr.readCounted()
		if err != nil {
			return nil, err
		}
		if !utf8.Valid(p) {
			return nil, errors.New("string is not valid UTF-8")
		}
		return StringValue(p), nil
	default:
		panic(fmt.Sprintf("licensekey: unhandled field kind %s", kind))
	}
}

// fieldReader is a cursor over an in-memory record.
type fieldReader struct {
	buf []byte
	pos int
}

func (r *fieldReader) remaining() int { return len(r.buf) - r.pos }

func (r *fieldReader) ReadByte() (byte, error) { return r.readByte() }

func (r *fieldReader) readByte() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, io.ErrUnexpectedEOF
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *fieldReader) readN(n int) ([]byte, error) {
	if n < 0 || n > r.remaining() {
		return nil, io.ErrUnexpectedEOF
	}
	p := r.buf[r.pos : r.pos+n]
	r.pos += n
	return p, nil
}

func (r *fieldReader) readFull(dst []byte) error {
	p, err := r.readN(len(dst))
	if err != nil {
		return err
	}
	copy(dst, p)
	return nil
}

// readCounted reads a uvarint length followed by that many bytes.
func (r *fieldReader) readCounted() ([]byte, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, io.ErrUnexpectedEOF
	}
	if n > uint64(r.remaining()) {
		return nil, io.ErrUnexpectedEOF
	}
	return r.readN(int(n))
}

func clone(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return append([]byte(nil), b...)
}

func sortFields(fields []Field) {
	sort.Slice(fields, func(i, j int) bool { return fields[i].ID < fields[j].ID })
}
