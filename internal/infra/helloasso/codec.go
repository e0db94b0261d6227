package helloasso

import (
	"slices"

	"github.com/go-faster/jx"
	"github.com/samber/lo"
)

// decodeID reads an identifier sent either as a JSON number or a string.
func decodeID(d *jx.Decoder) (string, error) {
	switch d.Next() {
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return "", err
		}
		return n.String(), nil
	case jx.String:
		return d.Str()
	default:
		return "", d.Skip()
	}
}

// decodeMetadata reads a flat object. Non-string values are kept as raw JSON.
func decodeMetadata(d *jx.Decoder) (map[string]string, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}

	m := map[string]string{}
	err := d.Obj(func(d *jx.Decoder, key string) error {
		if d.Next() == jx.String {
			v, err := d.Str()
			m[key] = v
			return err
		}
		raw, err := d.Raw()
		if err != nil {
			return err
		}
		m[key] = raw.String()
		return nil
	})
	return m, err
}

func sortedKeys(m map[string]string) []string {
	keys := lo.Keys(m)
	slices.Sort(keys)
	return keys
}
