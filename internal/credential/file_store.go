package credential

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/hkdf"

	"offsync-go/internal/apierr"
)

const fileStoreKeyInfo = "offsync/credential-store/v1"

// FileStore persists the credential as a single AES-256-GCM encrypted
// file. The key is derived from a device secret via HKDF so the on-disk
// record is useless without the secret held by the app shell.
type FileStore struct {
	path string
	key  []byte
	mu   sync.Mutex
}

// NewFileStore builds a FileStore writing to path, deriving the
// encryption key from deviceSecret.
func NewFileStore(path string, deviceSecret []byte) (*FileStore, error) {
	key := make([]byte, 32)
	kdf := hkdf.New(sha256.New, deviceSecret, nil, []byte(fileStoreKeyInfo))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, apierr.Storage("derive credential key", err)
	}
	return &FileStore{path: path, key: key}, nil
}

func (f *FileStore) Get(context.Context) (*Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apierr.Storage("read credential file", err)
	}

	plain, err := f.decrypt(data)
	if err != nil {
		return nil, apierr.Storage("decrypt credential file", err)
	}

	var cred Credential
	if err := json.Unmarshal(plain, &cred); err != nil {
		return nil, apierr.Storage("decode credential record", err)
	}
	return &cred, nil
}

func (f *FileStore) Save(_ context.Context, cred *Credential) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	plain, err := json.Marshal(cred)
	if err != nil {
		return apierr.Storage("encode credential record", err)
	}
	sealed, err := f.encrypt(plain)
	if err != nil {
		return apierr.Storage("encrypt credential record", err)
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return apierr.Storage("create credential directory", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, sealed, 0o600); err != nil {
		return apierr.Storage("write credential file", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return apierr.Storage("replace credential file", err)
	}
	return nil
}

func (f *FileStore) Clear(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return apierr.Storage("remove credential file", err)
	}
	return nil
}

func (f *FileStore) encrypt(plain []byte) ([]byte, error) {
	block, err := aes.NewCipher(f.key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plain, nil), nil
}

func (f *FileStore) decrypt(sealed []byte) ([]byte, error) {
	block, err := aes.NewCipher(f.key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(sealed) < gcm.NonceSize() {
		return nil, io.ErrUnexpectedEOF
	}
	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ciphertext, nil)
}
