package fields

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/json"
	"fmt"
	"hash"
	"strings"
)

// HashOpts selects the algorithm and serialization used by HashItem.
type HashOpts struct {
	// Algorithm is one of MD5, SHA1, SHA256, SHA512 (case-insensitive).
	Algorithm string
	// FieldList is a comma-separated list of dotted paths ("_" hashes the
	// whole item). Fields are hashed in list order.
	FieldList string
	// UseRepr serializes with Go value syntax instead of JSON. JSON is
	// stable for map-shaped items; repr covers values JSON cannot encode.
	UseRepr       bool
	FailOnMissing bool
	Default       any
}

func newHasher(algorithm string) (hash.Hash, error) {
	switch strings.ToUpper(algorithm) {
	case "", "MD5":
		return md5.New(), nil
	case "SHA1":
		return sha1.New(), nil
	case "SHA256":
		return sha256.New(), nil
	case "SHA512":
		return sha512.New(), nil
	default:
		return nil, fmt.Errorf("unknown hash algorithm %q", algorithm)
	}
}

// HashItem hashes the named fields of an item and returns the hex digest.
func HashItem(item any, opts HashOpts) (string, error) {
	h, err := newHasher(opts.Algorithm)
	if err != nil {
		return "", err
	}
	fieldList := opts.FieldList
	if fieldList == "" {
		fieldList = WholeItem
	}
	for _, field := range strings.Split(fieldList, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		v, err := ExtractWith(item, field, ExtractOpts{
			FailOnMissing: opts.FailOnMissing,
			Default:       opts.Default,
		})
		if err != nil {
			return "", err
		}
		data, err := serialize(v, opts.UseRepr)
		if err != nil {
			return "", err
		}
		h.Write(data)
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

func serialize(v any, useRepr bool) ([]byte, error) {
	if useRepr {
		return []byte(fmt.Sprintf("%#v", v)), nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("hash serialize: %w", err)
	}
	return data, nil
}
