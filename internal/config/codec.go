package config

import (
	"bytes"
	"fmt"
	"math"

	"github.com/fxamacker/cbor/v2"

	"github.com/calvinalkan/mcu-app/internal/logging"
)

// SelfDescribeTag is the CBOR tag that opens every config file.
const SelfDescribeTag = 55799

// selfDescribe is SelfDescribeTag as encoded on the wire.
var selfDescribe = []byte{0xd9, 0xd9, 0xf7}

// CBOR major types.
const (
	majorUint = 0
	majorNint = 1
	majorText = 3
	majorMap  = 5
)

// indefinite is the additional-info value of an indefinite-length header.
const indefinite = 31

// CBOR simple values.
const (
	cborFalse = 0xf4
	cborTrue  = 0xf5
)

var (
	encMode = mustEncMode()
	decMode = mustDecMode()
)

func mustEncMode() cbor.EncMode {
	em, err := cbor.EncOptions{Sort: cbor.SortCoreDeterministic}.EncMode()
	if err != nil {
		panic(err)
	}

	return em
}

func mustDecMode() cbor.DecMode {
	dm, err := cbor.DecOptions{IndefLength: cbor.IndefLengthAllowed}.DecMode()
	if err != nil {
		panic(err)
	}

	return dm
}

// Encode serialises s: the self-describe tag followed by a definite map
// holding every field in [Fields].
func Encode(s Settings) ([]byte, error) {
	m := make(map[string]any, len(Fields))

	for _, f := range Fields {
		switch f.Kind {
		case KindString:
			m[f.Name] = *f.str(&s)
		case KindUint:
			m[f.Name] = uint64(*f.unsigned(&s))
		case KindEnum:
			m[f.Name] = int64(*f.enum(&s))
		case KindBool:
			m[f.Name] = *f.boolean(&s)
		}
	}

	body, err := encMode.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}

	out := make([]byte, 0, len(selfDescribe)+len(body))
	out = append(out, selfDescribe...)

	return append(out, body...), nil
}

// Decode parses data on top of base and returns the result.
//
// Keys missing from data keep their value from base. Unknown keys are
// skipped if their value is well-formed, whatever its shape. The map itself
// and text values of known keys must have a definite length. Anything after the map is ignored. On error base is returned
// unchanged: a document is applied completely or not at all.
func Decode(data []byte, base Settings) (Settings, error) {
	if !bytes.HasPrefix(data, selfDescribe) {
		return base, fmt.Errorf("%w: missing self-describe tag", ErrNotConfig)
	}

	body := data[len(selfDescribe):]
	if len(body) == 0 || body[0]>>5 != majorMap {
		return base, fmt.Errorf("%w: body is not a map", ErrNotConfig)
	}

	if body[0]&0x1f == indefinite {
		return base, fmt.Errorf("%w: map has no definite length", ErrNotConfig)
	}

	var raw map[string]cbor.RawMessage

	_, err := decMode.UnmarshalFirst(body, &raw)
	if err != nil {
		return base, fmt.Errorf("%w: %w", ErrNotConfig, err)
	}

	out := base

	for _, f := range Fields {
		value, ok := raw[f.Name]
		if !ok {
			continue
		}

		err := decodeField(f, value, &out)
		if err != nil {
			return base, err
		}
	}

	return out, nil
}

func decodeField(f Field, raw cbor.RawMessage, s *Settings) error {
	major := raw[0] >> 5

	switch f.Kind {
	case KindString:
		if major != majorText {
			return fieldTypeError(f, raw)
		}

		if raw[0]&0x1f == indefinite {
			return fmt.Errorf("%w: %s: text has no definite length", ErrFieldType, f.Name)
		}

		var v string

		err := decMode.Unmarshal(raw, &v)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrFieldType, f.Name, err)
		}

		f.setString(s, v)
	case KindUint:
		if major != majorUint {
			return fieldTypeError(f, raw)
		}

		var v uint64

		err := decMode.Unmarshal(raw, &v)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrFieldType, f.Name, err)
		}

		if v > math.MaxUint32 {
			return fmt.Errorf("%w: %s: %d does not fit 32 bits", ErrFieldType, f.Name, v)
		}

		*f.unsigned(s) = uint32(v)
	case KindEnum:
		if major != majorUint && major != majorNint {
			return fieldTypeError(f, raw)
		}

		var v int64

		err := decMode.Unmarshal(raw, &v)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrFieldType, f.Name, err)
		}

		if v < int64(logging.LevelOff) || v > int64(logging.LevelAll) {
			return fmt.Errorf("%w: %s: ordinal %d out of range", ErrFieldType, f.Name, v)
		}

		*f.enum(s) = logging.Level(v)
	case KindBool:
		if len(raw) != 1 || (raw[0] != cborFalse && raw[0] != cborTrue) {
			return fieldTypeError(f, raw)
		}

		*f.boolean(s) = raw[0] == cborTrue
	}

	return nil
}

func fieldTypeError(f Field, raw cbor.RawMessage) error {
	return fmt.Errorf("%w: %s wants %s, got major type %d", ErrFieldType, f.Name, f.Kind, raw[0]>>5)
}

// Verify reports whether data is a config document that decodes cleanly.
func Verify(data []byte) error {
	_, err := Decode(data, Defaults())

	return err
}

// Diagnose renders data in CBOR diagnostic notation, for inspecting config
// files by hand. Trailing bytes after the first item are reported.
func Diagnose(data []byte) (string, error) {
	notation, rest, err := cbor.DiagnoseFirst(data)
	if err != nil {
		return "", fmt.Errorf("diagnose: %w", err)
	}

	if len(rest) > 0 {
		notation += fmt.Sprintf("\n-- %d trailing bytes", len(rest))
	}

	return notation, nil
}
