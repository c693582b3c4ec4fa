package lifecycle

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	log "github.com/charmbracelet/log"

	"github.com/quotio/quotio-cli/internal/auth/store"
	"github.com/quotio/quotio-cli/internal/auth/types"
)

// currentTokenFile is the well-known SSO cache file that may point at the
// device-registration record via a client id hash.
const currentTokenFile = "kiro-auth-token.json"

type ssoCacheRecord struct {
	ClientIDHash string `json:"clientIdHash"`
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
}

// backfillClientCredentials fills in missing client id/secret on an
// identity-center credential from the external SSO cache and persists the
// merged document immediately, so later runs skip the scan. A cache miss is
// not an error; the credential simply stays non-refreshable.
func (m *Manager) backfillClientCredentials(sc *store.StoredCredential) {
	if sc.AuthMethod != types.AuthMethodIdC || sc.HasClientCredentials() {
		return
	}

	clientID, clientSecret, ok := m.loadDeviceRegistration()
	if !ok {
		log.Debug("No device registration found in SSO cache", "credential", sc.Identifier())
		return
	}

	log.Info("Backfilled client credentials from SSO cache", "credential", sc.Identifier())
	sc.ClientID = clientID
	sc.ClientSecret = clientSecret

	if err := m.store.SaveKey(sc.Key, sc.Credential); err != nil {
		log.Warn("Failed to persist backfilled credentials", "credential", sc.Identifier(), "error", err)
	}
}

// loadDeviceRegistration finds a client id/secret pair in the SSO cache
// directory. Two tiers: the current-token file's hash pointer to a specific
// registration record, then a scan of every other cache file.
func (m *Manager) loadDeviceRegistration() (clientID, clientSecret string, ok bool) {
	if m.ssoCacheDir == "" {
		return "", "", false
	}
	if _, err := os.Stat(m.ssoCacheDir); err != nil {
		return "", "", false
	}

	if id, secret, ok := m.registrationFromPointer(); ok {
		return id, secret, true
	}
	return m.registrationFromScan()
}

func (m *Manager) registrationFromPointer() (string, string, bool) {
	record, err := readCacheRecord(filepath.Join(m.ssoCacheDir, currentTokenFile))
	if err != nil || record.ClientIDHash == "" {
		return "", "", false
	}

	reg, err := readCacheRecord(filepath.Join(m.ssoCacheDir, record.ClientIDHash+".json"))
	if err != nil || reg.ClientID == "" || reg.ClientSecret == "" {
		return "", "", false
	}
	return reg.ClientID, reg.ClientSecret, true
}

func (m *Manager) registrationFromScan() (string, string, bool) {
	entries, err := os.ReadDir(m.ssoCacheDir)
	if err != nil {
		return "", "", false
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") || entry.Name() == currentTokenFile {
			continue
		}

		record, err := readCacheRecord(filepath.Join(m.ssoCacheDir, entry.Name()))
		if err != nil {
			continue
		}
		if record.ClientID != "" && record.ClientSecret != "" {
			return record.ClientID, record.ClientSecret, true
		}
	}
	return "", "", false
}

func readCacheRecord(path string) (*ssoCacheRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var record ssoCacheRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, err
	}
	return &record, nil
}
