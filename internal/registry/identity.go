package registry

import (
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// LoadOrCreateIdentity returns the bridge's own persistent gateway
// identity, generating and saving a fresh UUID on first run and reusing
// it on every subsequent start, so the identity in the retained broker
// status message is stable across restarts. It is stored alongside the
// registry snapshot file rather than mixed into it, since it isn't
// itself a device record.
func LoadOrCreateIdentity(fs afero.Fs, path string) (string, error) {
	exists, err := afero.Exists(fs, path)
	if err != nil {
		return "", errors.Wrap(err, "registry: check gateway identity file")
	}
	if exists {
		data, err := afero.ReadFile(fs, path)
		if err != nil {
			return "", errors.Wrap(err, "registry: read gateway identity file")
		}
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	}

	id := uuid.New().String()
	if err := afero.WriteFile(fs, path, []byte(id), 0o644); err != nil {
		return "", errors.Wrap(err, "registry: write gateway identity file")
	}
	return id, nil
}

// IdentityPath derives the gateway-identity file path from the registry
// snapshot path, keeping both under the same directory without requiring
// a second configuration key.
func IdentityPath(registryStoragePath string) string {
	return registryStoragePath + ".gateway_id"
}
