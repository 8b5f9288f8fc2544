package badger

import (
	"bytes"
	"fmt"
	"time"

	"github.com/marmos91/dittoloaders/pkg/vfs"
	xdr "github.com/rasky/go-xdr/xdr2"
)

// Attribute value kinds as written to disk. Values are part of the on-disk
// format: append only.
const (
	kindString uint32 = iota + 1
	kindBool
	kindInt
	kindList
	kindTable
	kindTime
)

// wireValue is the XDR record stored for every attribute.
type wireValue struct {
	Kind  uint32
	Str   string
	Bool  bool
	Int   int64
	List  []string
	Table [][]string
}

func encodeValue(v any) ([]byte, error) {
	var w wireValue
	switch x := v.(type) {
	case string:
		w.Kind, w.Str = kindString, x
	case bool:
		w.Kind, w.Bool = kindBool, x
	case int64:
		w.Kind, w.Int = kindInt, x
	case []string:
		w.Kind, w.List = kindList, x
	case [][]string:
		w.Kind, w.Table = kindTable, x
	case time.Time:
		w.Kind, w.Int = kindTime, x.UnixNano()
	default:
		return nil, fmt.Errorf("cannot encode attribute of type %T", v)
	}

	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, &w); err != nil {
		return nil, fmt.Errorf("failed to encode attribute: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeValue(data []byte) (any, error) {
	var w wireValue
	if _, err := xdr.Unmarshal(bytes.NewReader(data), &w); err != nil {
		return nil, fmt.Errorf("failed to decode attribute: %w", err)
	}

	switch w.Kind {
	case kindString:
		return w.Str, nil
	case kindBool:
		return w.Bool, nil
	case kindInt:
		return w.Int, nil
	case kindList:
		if w.List == nil {
			return []string{}, nil
		}
		return w.List, nil
	case kindTable:
		if w.Table == nil {
			return [][]string{}, nil
		}
		return w.Table, nil
	case kindTime:
		return time.Unix(0, w.Int).UTC(), nil
	default:
		return nil, fmt.Errorf("unknown attribute kind %d", w.Kind)
	}
}

// normalize validates and widens a value before encoding.
func normalize(v any) (any, error) {
	return vfs.NormalizeValue(v)
}
