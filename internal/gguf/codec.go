package gguf

import (
	"encoding/binary"
	"math"
)

// The codec reads the GGUF metadata value encoding: little-endian
// fixed-width scalars, one-byte bools, 64-bit-length-prefixed strings,
// and arrays of a single tagged element type. Every value supports two
// operations with identical byte accounting: decode it, or skip it.

func readUint32(src DataSource) (uint32, error) {
	var b [4]byte
	if err := src.ReadFull(b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func readUint64(src DataSource) (uint64, error) {
	var b [8]byte
	if err := src.ReadFull(b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

func readString(src DataSource) (string, error) {
	n, err := readUint64(src)
	if err != nil {
		return "", err
	}
	if n > maxStringLen {
		return "", ErrStringTooLong{Length: n}
	}
	if n == 0 {
		return "", nil
	}
	b := make([]byte, n)
	if err := src.ReadFull(b); err != nil {
		return "", err
	}
	return string(b), nil
}

// fixedWidth reports the encoded byte width of typ when it is a
// fixed-width scalar.
func fixedWidth(typ ValueType) (uint64, bool) {
	switch typ {
	case TypeUint8, TypeInt8, TypeBool:
		return 1, true
	case TypeUint16, TypeInt16:
		return 2, true
	case TypeUint32, TypeInt32, TypeFloat32:
		return 4, true
	case TypeUint64, TypeInt64, TypeFloat64:
		return 8, true
	default:
		return 0, false
	}
}

// readValue decodes one tagged value into its native Go representation.
func readValue(src DataSource, typ ValueType) (interface{}, error) {
	switch typ {
	case TypeUint8, TypeInt8, TypeBool:
		var b [1]byte
		if err := src.ReadFull(b[:]); err != nil {
			return nil, err
		}
		switch typ {
		case TypeInt8:
			return int8(b[0]), nil
		case TypeBool:
			return b[0] != 0, nil
		default:
			return b[0], nil
		}
	case TypeUint16, TypeInt16:
		var b [2]byte
		if err := src.ReadFull(b[:]); err != nil {
			return nil, err
		}
		v := binary.LittleEndian.Uint16(b[:])
		if typ == TypeInt16 {
			return int16(v), nil
		}
		return v, nil
	case TypeUint32, TypeInt32, TypeFloat32:
		v, err := readUint32(src)
		if err != nil {
			return nil, err
		}
		switch typ {
		case TypeInt32:
			return int32(v), nil
		case TypeFloat32:
			return math.Float32frombits(v), nil
		default:
			return v, nil
		}
	case TypeUint64, TypeInt64, TypeFloat64:
		v, err := readUint64(src)
		if err != nil {
			return nil, err
		}
		switch typ {
		case TypeInt64:
			return int64(v), nil
		case TypeFloat64:
			return math.Float64frombits(v), nil
		default:
			return v, nil
		}
	case TypeString:
		return readString(src)
	case TypeArray:
		return readArray(src)
	default:
		return nil, ErrTypeOutOfRange{Type: uint32(typ)}
	}
}

func readArray(src DataSource) ([]interface{}, error) {
	raw, err := readUint32(src)
	if err != nil {
		return nil, err
	}
	elemType := ValueType(raw)
	if elemType >= typeCount {
		return nil, ErrTypeOutOfRange{Type: raw}
	}
	count, err := readUint64(src)
	if err != nil {
		return nil, err
	}
	if count > maxArrayLen {
		return nil, ErrArrayTooLong{Count: count}
	}
	out := make([]interface{}, 0, sizeHint(count))
	for i := uint64(0); i < count; i++ {
		v, err := readValue(src, elemType)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// skipValue advances past one tagged value without materializing it.
// It must account for exactly the bytes readValue would consume, or
// the scan desynchronizes.
func skipValue(src DataSource, typ ValueType) error {
	if w, ok := fixedWidth(typ); ok {
		return src.Seek(src.Tell() + w)
	}
	switch typ {
	case TypeString:
		n, err := readUint64(src)
		if err != nil {
			return err
		}
		if n > maxStringLen {
			return ErrStringTooLong{Length: n}
		}
		return src.Seek(src.Tell() + n)
	case TypeArray:
		return skipArray(src)
	default:
		return ErrTypeOutOfRange{Type: uint32(typ)}
	}
}

func skipArray(src DataSource) error {
	raw, err := readUint32(src)
	if err != nil {
		return err
	}
	elemType := ValueType(raw)
	if elemType >= typeCount {
		return ErrTypeOutOfRange{Type: raw}
	}
	count, err := readUint64(src)
	if err != nil {
		return err
	}
	if count > maxArrayLen {
		return ErrArrayTooLong{Count: count}
	}
	if w, ok := fixedWidth(elemType); ok {
		return src.Seek(src.Tell() + w*count)
	}
	for i := uint64(0); i < count; i++ {
		if err := skipValue(src, elemType); err != nil {
			return err
		}
	}
	return nil
}
