// Package storage holds helpers shared by the artifact store backends in its
// subpackages (local filesystem, Google Cloud Storage and in-memory).
package storage

import (
	"fmt"
	"strings"
)

// ObjectKey joins prefix and key with a single slash. Leading and trailing
// slashes on either part are dropped.
func ObjectKey(prefix, key string) (string, error) {
	key = strings.Trim(strings.TrimSpace(key), "/")
	if key == "" {
		return "", fmt.Errorf("key is required")
	}
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return key, nil
	}
	return prefix + "/" + key, nil
}
