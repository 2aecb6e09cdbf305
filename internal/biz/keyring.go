package biz

import (
	"fmt"

	"GradeLane/internal/conf"
	"GradeLane/pkg/crypto"
	"GradeLane/pkg/provider"

	"github.com/go-kratos/kratos/v2/log"
)

// Keyring holds the credential pools per provider. Health tracking and
// selection work on stable key IDs; the secret itself only leaves the
// keyring at call time.
type Keyring struct {
	pools map[string]*keyPool
	log   *log.Helper
}

type keyPool struct {
	ids     []string
	secrets map[string]string
}

// NewKeyring builds the pools from configuration, decrypting any "enc:"
// prefixed credential with the configured AES key.
func NewKeyring(c *conf.Providers, auth *conf.Auth, logger log.Logger) (*Keyring, error) {
	var cipher *crypto.Cipher
	if auth != nil && auth.Encryption != nil && auth.Encryption.Key != "" {
		var err error
		cipher, err = crypto.NewCipherFromString(auth.Encryption.Key)
		if err != nil {
			return nil, fmt.Errorf("invalid encryption key: %w", err)
		}
	}

	kr := &Keyring{
		pools: make(map[string]*keyPool),
		log:   log.NewHelper(logger),
	}

	if c != nil && c.Gemini != nil {
		if err := kr.addPool(provider.NameGemini, c.Gemini.ApiKeys, cipher); err != nil {
			return nil, err
		}
	}
	if c != nil && c.Openai != nil {
		if err := kr.addPool(provider.NameOpenAI, c.Openai.ApiKeys, cipher); err != nil {
			return nil, err
		}
	}
	if c != nil && c.Ollama != nil && c.Ollama.Enabled {
		// The local daemon has no credential; a single pseudo-key keeps it
		// in the same health-tracking loop as the hosted providers.
		kr.pools[provider.NameOllama] = &keyPool{
			ids:     []string{"ollama-1"},
			secrets: map[string]string{"ollama-1": ""},
		}
	}

	return kr, nil
}

// addPool assigns stable IDs ("gemini-1", "gemini-2", ...) in config order.
func (kr *Keyring) addPool(name string, rawKeys []string, cipher *crypto.Cipher) error {
	pool := &keyPool{secrets: make(map[string]string, len(rawKeys))}
	for i, raw := range rawKeys {
		if raw == "" {
			continue
		}
		secret, err := cipher.ResolveCredential(raw)
		if err != nil {
			return fmt.Errorf("%s key #%d: %w", name, i+1, err)
		}
		id := fmt.Sprintf("%s-%d", name, i+1)
		pool.ids = append(pool.ids, id)
		pool.secrets[id] = secret
	}

	kr.pools[name] = pool
	kr.log.Infof("loaded %d %s credentials", len(pool.ids), name)
	return nil
}

// CandidateIDs returns the stable key IDs for one provider, in config order.
func (kr *Keyring) CandidateIDs(providerName string) []string {
	pool, ok := kr.pools[providerName]
	if !ok {
		return nil
	}
	return pool.ids
}

// Secret resolves a key ID back to its credential.
func (kr *Keyring) Secret(providerName, keyID string) (string, error) {
	pool, ok := kr.pools[providerName]
	if !ok {
		return "", fmt.Errorf("unknown provider %q", providerName)
	}
	secret, ok := pool.secrets[keyID]
	if !ok {
		return "", fmt.Errorf("unknown key id %q for provider %s", keyID, providerName)
	}
	return secret, nil
}
