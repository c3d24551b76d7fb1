package eshmdata

import (
	"errors"
	"fmt"
)

// ItemType is the protocol type descriptor of an item. The numeric values
// are part of the wire format.
type ItemType int64

const (
	TypeInteger ItemType = 0
	TypeBoolean ItemType = 1
	TypeReal    ItemType = 2
	TypeString  ItemType = 3
	TypeBinary  ItemType = 4
)

func (t ItemType) String() string {
	switch t {
	case TypeInteger:
		return "integer"
	case TypeBoolean:
		return "boolean"
	case TypeReal:
		return "real"
	case TypeString:
		return "string"
	case TypeBinary:
		return "binary"
	}
	return "unknown"
}

// Item is one keyed value in an exchange buffer.
type Item struct {
	Type ItemType
	Key  string
	// Value holds bool, int64, float64, string, or []byte according to Type.
	Value any
}

// Integer builds an integer item.
func Integer(key string, v int64) Item { return Item{Type: TypeInteger, Key: key, Value: v} }

// Boolean builds a boolean item.
func Boolean(key string, v bool) Item { return Item{Type: TypeBoolean, Key: key, Value: v} }

// Real builds a floating-point item.
func Real(key string, v float64) Item { return Item{Type: TypeReal, Key: key, Value: v} }

// String builds a string item.
func String(key string, v string) Item { return Item{Type: TypeString, Key: key, Value: v} }

// Binary builds an opaque byte item.
func Binary(key string, v []byte) Item { return Item{Type: TypeBinary, Key: key, Value: v} }

// ErrItemMismatch reports an item whose Value does not match its Type.
var ErrItemMismatch = errors.New("eshmdata: item value does not match its type")

// Encode serializes items as the three-sequence exchange buffer: one main
// sequence wrapping a type sequence, a key sequence, and a data sequence.
func Encode(items []Item) ([]byte, error) {
	enc := NewEncoder()
	defer enc.Release()

	main := enc.BeginSequence()

	typeSeq := enc.BeginSequence()
	for _, it := range items {
		enc.Integer(int64(it.Type))
	}
	enc.EndSequence(typeSeq)

	keySeq := enc.BeginSequence()
	for _, it := range items {
		enc.UTF8String(it.Key)
	}
	enc.EndSequence(keySeq)

	dataSeq := enc.BeginSequence()
	for _, it := range items {
		if err := encodeValue(enc, it); err != nil {
			return nil, err
		}
	}
	enc.EndSequence(dataSeq)

	enc.EndSequence(main)
	return enc.Bytes(), nil
}

func encodeValue(enc *Encoder, it Item) error {
	switch it.Type {
	case TypeInteger:
		v, ok := it.Value.(int64)
		if !ok {
			return fmt.Errorf("%w: %q", ErrItemMismatch, it.Key)
		}
		enc.Integer(v)
	case TypeBoolean:
		v, ok := it.Value.(bool)
		if !ok {
			return fmt.Errorf("%w: %q", ErrItemMismatch, it.Key)
		}
		enc.Boolean(v)
	case TypeReal:
		v, ok := it.Value.(float64)
		if !ok {
			return fmt.Errorf("%w: %q", ErrItemMismatch, it.Key)
		}
		enc.Real(v)
	case TypeString:
		v, ok := it.Value.(string)
		if !ok {
			return fmt.Errorf("%w: %q", ErrItemMismatch, it.Key)
		}
		enc.UTF8String(v)
	case TypeBinary:
		v, ok := it.Value.([]byte)
		if !ok {
			return fmt.Errorf("%w: %q", ErrItemMismatch, it.Key)
		}
		enc.OctetString(v)
	default:
		return fmt.Errorf("%w: type %d", ErrItemMismatch, it.Type)
	}
	return nil
}

// Decode parses a three-sequence exchange buffer back into items.
func Decode(p []byte) ([]Item, error) {
	main, err := NewDecoder(p).Sequence()
	if err != nil {
		return nil, err
	}

	typeSeq, err := main.Sequence()
	if err != nil {
		return nil, err
	}
	var types []ItemType
	for typeSeq.Remaining() > 0 {
		v, err := typeSeq.Integer()
		if err != nil {
			return nil, err
		}
		types = append(types, ItemType(v))
	}

	keySeq, err := main.Sequence()
	if err != nil {
		return nil, err
	}
	var keys []string
	for keySeq.Remaining() > 0 {
		k, err := keySeq.UTF8String()
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	if len(keys) != len(types) {
		return nil, fmt.Errorf("eshmdata: %d types but %d keys", len(types), len(keys))
	}

	dataSeq, err := main.Sequence()
	if err != nil {
		return nil, err
	}
	items := make([]Item, 0, len(types))
	for i, t := range types {
		it := Item{Type: t, Key: keys[i]}
		switch t {
		case TypeInteger:
			it.Value, err = dataSeq.Integer()
		case TypeBoolean:
			it.Value, err = dataSeq.Boolean()
		case TypeReal:
			it.Value, err = dataSeq.Real()
		case TypeString:
			it.Value, err = dataSeq.UTF8String()
		case TypeBinary:
			it.Value, err = dataSeq.OctetString()
		default:
			err = fmt.Errorf("eshmdata: unknown item type %d", t)
		}
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, nil
}
