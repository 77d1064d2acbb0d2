package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"math"
	"math/big"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// KeyPrefix is the namespace of every cache key.
const KeyPrefix = "cache:"

// ErrInvalidIdentity is returned when the identity fields cannot produce a
// key: empty category, no identifying field, a missing required field or a
// non-scalar value. It is a caller bug and must not be retried.
var ErrInvalidIdentity = errors.New("cache: invalid identity")

// DefaultVolatileFields never contribute to a key. Names are compared after
// lowercasing and removing '_' and '-'.
var DefaultVolatileFields = []string{
	"ts",
	"timestamp",
	"time",
	"now",
	"requestedAt",
	"createdAt",
	"updatedAt",
	"userId",
	"sessionId",
	"requestId",
	"traceId",
	"nonce",
}

// IdentityExtractor selects the fields that identify an analyzable subject.
type IdentityExtractor interface {
	Extract(category string, fields map[string]any) (map[string]any, error)
}

// VolatileFilter keeps every field except the volatile ones.
type VolatileFilter struct {
	volatile map[string]struct{}
}

// NewVolatileFilter returns a filter dropping DefaultVolatileFields plus extra.
func NewVolatileFilter(extra ...string) VolatileFilter {
	v := make(map[string]struct{}, len(DefaultVolatileFields)+len(extra))
	for _, name := range DefaultVolatileFields {
		v[foldFieldName(name)] = struct{}{}
	}
	for _, name := range extra {
		v[foldFieldName(name)] = struct{}{}
	}
	return VolatileFilter{volatile: v}
}

// Extract implements IdentityExtractor.
func (f VolatileFilter) Extract(_ string, fields map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(fields))
	for name, val := range fields {
		if _, skip := f.volatile[foldFieldName(name)]; skip {
			continue
		}
		out[name] = val
	}
	return out, nil
}

// AllowList keeps only the configured identity fields of a category and
// requires all of them. Categories without an entry use Fallback.
type AllowList struct {
	Fields   map[string][]string
	Fallback IdentityExtractor
}

// Extract implements IdentityExtractor.
func (a AllowList) Extract(category string, fields map[string]any) (map[string]any, error) {
	names, ok := a.Fields[category]
	if !ok {
		return a.Fallback.Extract(category, fields)
	}
	out := make(map[string]any, len(names))
	for _, name := range names {
		val, present := fields[name]
		if !present || val == nil {
			return nil, errors.Wrapf(ErrInvalidIdentity, "category %q requires field %q", category, name)
		}
		out[name] = val
	}
	return out, nil
}

// KeyDeriver turns a category and its identity fields into a cache key.
type KeyDeriver struct {
	extractor IdentityExtractor
}

// NewKeyDeriver picks the extraction strategy once: per-category allow
// lists when identityFields is non-empty, the volatile filter otherwise.
func NewKeyDeriver(identityFields map[string][]string, extraVolatile ...string) KeyDeriver {
	filter := NewVolatileFilter(extraVolatile...)
	if len(identityFields) == 0 {
		return KeyDeriver{extractor: filter}
	}
	return KeyDeriver{extractor: AllowList{Fields: identityFields, Fallback: filter}}
}

// Key derives the cache key.
func (d KeyDeriver) Key(category string, fields map[string]any) (string, error) {
	category, err := normalizeCategory(category)
	if err != nil {
		return "", err
	}
	identity, err := d.extractor.Extract(category, fields)
	if err != nil {
		return "", err
	}
	return digest(category, identity)
}

// ComputeKey derives a key using the default volatile filter.
func ComputeKey(category string, fields map[string]any) (string, error) {
	return defaultDeriver.Key(category, fields)
}

var defaultDeriver = NewKeyDeriver(nil)

// CategoryPrefix returns the key prefix shared by all entries of category.
func CategoryPrefix(category string) (string, error) {
	category, err := normalizeCategory(category)
	if err != nil {
		return "", err
	}
	return KeyPrefix + category + ":", nil
}

// categoryOf extracts the category from a key produced by Key.
func categoryOf(key string) string {
	rest, ok := strings.CutPrefix(key, KeyPrefix)
	if !ok {
		return ""
	}
	category, _, ok := strings.Cut(rest, ":")
	if !ok {
		return ""
	}
	return category
}

func normalizeCategory(category string) (string, error) {
	category = strings.ToLower(strings.TrimSpace(category))
	if category == "" {
		return "", errors.Wrap(ErrInvalidIdentity, "category is empty")
	}
	if strings.ContainsAny(category, ":*?[]\\ \t\n") {
		return "", errors.Wrapf(ErrInvalidIdentity, "category %q contains reserved characters", category)
	}
	return category, nil
}

// digest hashes the canonical form: category, then name/value pairs sorted
// by name, each component length-prefixed so no value can forge a boundary.
func digest(category string, fields map[string]any) (string, error) {
	names := make([]string, 0, len(fields))
	values := make(map[string]string, len(fields))
	for name, val := range fields {
		canonical, ok, err := canonicalValue(val)
		if err != nil {
			return "", errors.Wrapf(err, "field %q", name)
		}
		if !ok {
			continue
		}
		names = append(names, name)
		values[name] = canonical
	}
	if len(names) == 0 {
		return "", errors.Wrapf(ErrInvalidIdentity, "no identity fields for category %q", category)
	}
	sort.Strings(names)

	h := sha256.New()
	writeField(h, category)
	for _, name := range names {
		writeField(h, name)
		writeField(h, values[name])
	}
	return KeyPrefix + category + ":" + hex.EncodeToString(h.Sum(nil)), nil
}

func writeField(h hash.Hash, s string) {
	h.Write([]byte(strconv.Itoa(len(s))))
	h.Write([]byte{':'})
	h.Write([]byte(s))
}

// canonicalValue renders a scalar in its normalized form. ok is false for
// values that carry no identity (nil, blank strings).
func canonicalValue(v any) (string, bool, error) {
	switch t := v.(type) {
	case nil:
		return "", false, nil
	case string:
		s := strings.TrimSpace(t)
		return s, s != "", nil
	case []byte:
		s := strings.TrimSpace(string(t))
		return s, s != "", nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return strconv.FormatInt(i, 10), true, nil
		}
		f, err := t.Float64()
		if err != nil {
			return "", false, errors.Wrapf(ErrInvalidIdentity, "malformed number %q", t.String())
		}
		return formatFloat(f, 64)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		s := strings.TrimSpace(rv.String())
		return s, s != "", nil
	case reflect.Bool:
		return strconv.FormatBool(rv.Bool()), true, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10), true, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(rv.Uint(), 10), true, nil
	case reflect.Float32:
		return formatFloat(rv.Float(), 32)
	case reflect.Float64:
		return formatFloat(rv.Float(), 64)
	case reflect.Pointer:
		if rv.IsNil() {
			return "", false, nil
		}
		return canonicalValue(rv.Elem().Interface())
	}

	if s, ok := v.(fmt.Stringer); ok {
		str := strings.TrimSpace(s.String())
		return str, str != "", nil
	}
	return "", false, errors.Wrapf(ErrInvalidIdentity, "unsupported value type %T", v)
}

func formatFloat(f float64, bitSize int) (string, bool, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", false, errors.Wrapf(ErrInvalidIdentity, "non-finite number %v", f)
	}
	if f == 0 {
		return "0", true, nil
	}
	if f == math.Trunc(f) {
		// Exact digits; shortest-repr formatting rounds above 2^53.
		return big.NewFloat(f).Text('f', 0), true, nil
	}
	return strconv.FormatFloat(f, 'g', -1, bitSize), true, nil
}

var fieldNameFolder = strings.NewReplacer("_", "", "-", "")

func foldFieldName(name string) string {
	return fieldNameFolder.Replace(strings.ToLower(strings.TrimSpace(name)))
}
