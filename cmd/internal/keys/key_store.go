package keys

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"github.com/OctopusSolutionsEngineering/OctopusFleet/cmd/internal/faults"
	"github.com/otiai10/copy"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"os"
	"path/filepath"
)

const (
	DirMode        os.FileMode = 0700
	PrivateKeyMode os.FileMode = 0600
	PublicKeyMode  os.FileMode = 0644
)

// KeyPair is an ed25519 key pair stored in OpenSSH format.
type KeyPair struct {
	Name           string
	PrivateKeyPath string
	PublicKeyPath  string
	// PublicKey is the authorized_keys line, without the trailing newline.
	PublicKey  string
	PrivateKey []byte
}

// Fingerprint returns the SHA256 fingerprint of the public key.
func (k KeyPair) Fingerprint() (string, error) {
	return Fingerprint(k.PublicKey)
}

// Fingerprint parses an authorized_keys line and returns its SHA256 fingerprint.
func Fingerprint(authorizedKey string) (string, error) {
	publicKey, _, _, _, err := ssh.ParseAuthorizedKey([]byte(authorizedKey))
	if err != nil {
		return "", err
	}
	return ssh.FingerprintSHA256(publicKey), nil
}

// KeyStore is the directory holding one key pair per repository. Existing key files are
// reused and never overwritten.
type KeyStore struct {
	Dir string
}

// DefaultKeyStore is ~/.octofleet/keys.
func DefaultKeyStore() (KeyStore, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return KeyStore{}, fmt.Errorf("failed to find the home directory: %w", err)
	}
	return KeyStore{Dir: filepath.Join(home, ".octofleet", "keys")}, nil
}

func (k KeyStore) paths(name string) (string, string) {
	private := filepath.Join(k.Dir, name)
	return private, private + ".pub"
}

// Exists is true when both halves of the named key pair are present.
func (k KeyStore) Exists(name string) bool {
	private, public := k.paths(name)
	return fileExists(private) && fileExists(public)
}

// Ensure loads the named key pair, generating it first if it does not exist. The returned
// bool is true when a new key pair was generated.
func (k KeyStore) Ensure(name string) (KeyPair, bool, error) {
	private, public := k.paths(name)

	switch {
	case fileExists(private) && fileExists(public):
		keyPair, err := k.Load(name)
		return keyPair, false, err
	case fileExists(private):
		keyPair, err := k.restorePublicKey(name)
		return keyPair, false, err
	case fileExists(public):
		return KeyPair{}, false, &faults.ResourceStateError{
			Resource: "key pair " + name,
			Reason:   "the public key " + public + " exists without its private key, move it away to generate a new pair",
		}
	}

	keyPair, err := k.generate(name)
	return keyPair, err == nil, err
}

// restorePublicKey rebuilds a missing public key from the private key next to it.
func (k KeyStore) restorePublicKey(name string) (KeyPair, error) {
	private, public := k.paths(name)

	privateKey, err := os.ReadFile(private)
	if err != nil {
		return KeyPair{}, fmt.Errorf("failed to read the private key %s: %w", private, err)
	}

	signer, err := ssh.ParsePrivateKey(privateKey)
	if err != nil {
		return KeyPair{}, &faults.ResourceStateError{
			Resource: "private key " + private,
			Reason:   "it could not be parsed: " + err.Error(),
		}
	}

	if err := writeFile(public, ssh.MarshalAuthorizedKey(signer.PublicKey()), PublicKeyMode); err != nil {
		return KeyPair{}, err
	}

	zap.L().Warn("Restored the missing public key", zap.String("name", name), zap.String("path", public))
	return k.Load(name)
}

// Load reads an existing key pair.
func (k KeyStore) Load(name string) (KeyPair, error) {
	private, public := k.paths(name)

	privateKey, err := os.ReadFile(private)
	if err != nil {
		return KeyPair{}, fmt.Errorf("failed to read the private key %s: %w", private, err)
	}

	publicKey, err := os.ReadFile(public)
	if err != nil {
		return KeyPair{}, fmt.Errorf("failed to read the public key %s: %w", public, err)
	}

	return KeyPair{
		Name:           name,
		PrivateKeyPath: private,
		PublicKeyPath:  public,
		PublicKey:      string(trimNewline(publicKey)),
		PrivateKey:     privateKey,
	}, nil
}

func (k KeyStore) generate(name string) (KeyPair, error) {
	if err := os.MkdirAll(k.Dir, DirMode); err != nil {
		return KeyPair{}, fmt.Errorf("failed to create %s: %w", k.Dir, err)
	}

	publicKey, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, err
	}

	privateBlock, err := ssh.MarshalPrivateKey(privateKey, name)
	if err != nil {
		return KeyPair{}, err
	}
	privatePem := pem.EncodeToMemory(privateBlock)

	sshPublicKey, err := ssh.NewPublicKey(publicKey)
	if err != nil {
		return KeyPair{}, err
	}
	authorizedKey := trimNewline(ssh.MarshalAuthorizedKey(sshPublicKey))

	private, public := k.paths(name)

	if err := writeFile(private, privatePem, PrivateKeyMode); err != nil {
		return KeyPair{}, err
	}

	if err := writeFile(public, append(append([]byte{}, authorizedKey...), '\n'), PublicKeyMode); err != nil {
		return KeyPair{}, err
	}

	zap.L().Info("Generated key pair", zap.String("name", name), zap.String("path", private))

	return KeyPair{
		Name:           name,
		PrivateKeyPath: private,
		PublicKeyPath:  public,
		PublicKey:      string(authorizedKey),
		PrivateKey:     privatePem,
	}, nil
}

// Backup copies the key directory to dest. A missing key directory is not an error.
func (k KeyStore) Backup(dest string) error {
	if !fileExists(k.Dir) {
		return nil
	}

	// The default options keep the file modes of the private keys
	return copy.Copy(k.Dir, dest)
}

// Remove deletes every key pair.
func (k KeyStore) Remove() error {
	return os.RemoveAll(k.Dir)
}

// writeFile creates a new file. An existing key file is never overwritten.
func writeFile(path string, content []byte, mode os.FileMode) error {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, mode)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}

	if _, err := file.Write(content); err != nil {
		_ = file.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	// OpenFile is subject to the umask
	if err := os.Chmod(path, mode); err != nil {
		return fmt.Errorf("failed to set the permissions of %s: %w", path, err)
	}

	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return !errors.Is(err, os.ErrNotExist)
}

func trimNewline(value []byte) []byte {
	for len(value) > 0 && (value[len(value)-1] == '\n' || value[len(value)-1] == '\r') {
		value = value[:len(value)-1]
	}
	return value
}
