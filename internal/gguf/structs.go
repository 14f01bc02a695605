package gguf

import (
	"fmt"
	"strings"
)

const (
	GGUFMagic           = 0x46554747 // "GGUF"
	MaxSupportedVersion = 3
)

const (
	// maxStringLen bounds any length-prefixed string in the metadata
	// section. Longer lengths are treated as corruption.
	maxStringLen = 1 << 20
	// maxArrayLen bounds the element count of any metadata array.
	maxArrayLen = 1_000_000
)

// ValueType tags every metadata value with its wire encoding.
type ValueType uint32

const (
	TypeUint8   ValueType = 0
	TypeInt8    ValueType = 1
	TypeUint16  ValueType = 2
	TypeInt16   ValueType = 3
	TypeUint32  ValueType = 4
	TypeInt32   ValueType = 5
	TypeFloat32 ValueType = 6
	TypeBool    ValueType = 7
	TypeString  ValueType = 8
	TypeArray   ValueType = 9
	TypeUint64  ValueType = 10
	TypeInt64   ValueType = 11
	TypeFloat64 ValueType = 12

	// typeCount is one past the last defined ordinal. Tags at or
	// above it are a decode error, never silently skipped.
	typeCount ValueType = 13
)

func (t ValueType) String() string {
	switch t {
	case TypeUint8:
		return "uint8"
	case TypeInt8:
		return "int8"
	case TypeUint16:
		return "uint16"
	case TypeInt16:
		return "int16"
	case TypeUint32:
		return "uint32"
	case TypeInt32:
		return "int32"
	case TypeFloat32:
		return "float32"
	case TypeBool:
		return "bool"
	case TypeString:
		return "string"
	case TypeArray:
		return "array"
	case TypeUint64:
		return "uint64"
	case TypeInt64:
		return "int64"
	case TypeFloat64:
		return "float64"
	default:
		return fmt.Sprintf("UNKNOWN_TYPE_%d", uint32(t))
	}
}

// Header is the fixed prologue of a GGUF file.
type Header struct {
	Magic       uint32
	Version     uint32
	TensorCount uint64
	KVCount     uint64
}

// Entry is one decoded metadata key/value pair.
type Entry struct {
	Key   string
	Type  ValueType
	Value interface{}
}

// ModelParams carries the architecture fields needed to size a model
// before its tensor data is ever fetched.
type ModelParams struct {
	AttentionHeads uint32
	KVHeads        uint32
	HiddenLayers   uint32
	HiddenSize     uint64
}

// Error types
type ErrInvalidMagic struct{ Magic uint32 }

func (e ErrInvalidMagic) Error() string {
	return fmt.Sprintf("invalid GGUF magic: %x", e.Magic)
}

type ErrUnsupportedVersion struct{ Version uint32 }

func (e ErrUnsupportedVersion) Error() string {
	return fmt.Sprintf("unsupported GGUF version: %d", e.Version)
}

type ErrTypeOutOfRange struct{ Type uint32 }

func (e ErrTypeOutOfRange) Error() string {
	return fmt.Sprintf("metadata value type out of range: %d", e.Type)
}

type ErrStringTooLong struct{ Length uint64 }

func (e ErrStringTooLong) Error() string {
	return fmt.Sprintf("metadata string length %d exceeds limit %d", e.Length, maxStringLen)
}

type ErrArrayTooLong struct{ Count uint64 }

func (e ErrArrayTooLong) Error() string {
	return fmt.Sprintf("metadata array count %d exceeds limit %d", e.Count, maxArrayLen)
}

// ErrIncompleteParams reports a scan that walked the whole metadata
// section without finding every required field. Keys holds every key
// observed, in order, for diagnosing unrecognized model families.
type ErrIncompleteParams struct {
	Missing []string
	Keys    []string
}

func (e ErrIncompleteParams) Error() string {
	return fmt.Sprintf("metadata missing required fields: %s", strings.Join(e.Missing, ", "))
}
