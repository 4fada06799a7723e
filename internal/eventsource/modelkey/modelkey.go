// Package modelkey addresses one aggregate instance in the event log.
//
// A key is a (namespace, id) pair. Its string form is used both as the log
// stream name and as the snapshot cache key, so it must stay stable across
// releases.
package modelkey

import (
	"errors"
	"strings"
)

// Delimiter separates the namespace from the instance id in the string form.
const Delimiter = "."

// ErrInvalidKey indicates a key string that cannot be split into its parts.
var ErrInvalidKey = errors.New("invalid model key")

// Key is the (type-namespace, instance-id) address of one aggregate.
type Key struct {
	Namespace string `json:"namespace"`
	ID        string `json:"id"`
}

// New builds a key for an aggregate instance.
func New(namespace, id string) Key {
	return Key{Namespace: namespace, ID: id}
}

// String returns the stream name for the key.
//
// Delimiters inside the namespace are replaced so Parse can always split on
// the first delimiter.
func (k Key) String() string {
	return strings.ReplaceAll(k.Namespace, Delimiter, "_") + Delimiter + k.ID
}

// IsZero reports whether the key addresses nothing.
func (k Key) IsZero() bool {
	return k.Namespace == "" && k.ID == ""
}

// Validate reports whether both parts are present.
func (k Key) Validate() error {
	if strings.TrimSpace(k.Namespace) == "" {
		return errors.Join(ErrInvalidKey, errors.New("namespace is required"))
	}
	if strings.TrimSpace(k.ID) == "" {
		return errors.Join(ErrInvalidKey, errors.New("id is required"))
	}
	return nil
}

// Parse splits a stream name on its first delimiter.
func Parse(value string) (Key, error) {
	namespace, id, ok := strings.Cut(value, Delimiter)
	if !ok {
		return Key{}, ErrInvalidKey
	}
	key := Key{Namespace: namespace, ID: id}
	if err := key.Validate(); err != nil {
		return Key{}, err
	}
	return key, nil
}
