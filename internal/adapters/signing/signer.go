// Package signing writes detached OpenPGP signatures next to packages.
package signing

import (
	"context"
	"errors"
	"io"
	iofs "io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/ProtonMail/go-crypto/openpgp/packet"
	"go.trai.ch/apkforge/internal/core/domain"
	"go.trai.ch/apkforge/internal/core/ports"
	"go.trai.ch/zerr"
)

var _ ports.Signer = (*Signer)(nil)

// Signer implements ports.Signer.
type Signer struct {
	logger ports.Logger
	getenv func(string) string

	// mu serializes debug key generation between parallel sign tasks.
	mu sync.Mutex
}

// NewSigner creates a new Signer reading passphrases from the environment.
func NewSigner(logger ports.Logger) *Signer {
	return &Signer{logger: logger, getenv: os.Getenv}
}

// Sign implements ports.Signer.
func (s *Signer) Sign(ctx context.Context, cfg domain.SigningConfig, root, path string) (string, error) {
	entity, err := s.loadKey(cfg, root)
	if err != nil {
		return "", domain.Classify(domain.ErrPackaging, zerr.With(err, "signing_config", cfg.Name))
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	sigPath := path + domain.SignatureSuffix
	if err := signFile(entity, path, sigPath); err != nil {
		return "", zerr.With(zerr.Wrap(domain.Classify(domain.ErrPackaging, err), "failed to sign package"), "path", path)
	}
	return sigPath, nil
}

func (s *Signer) loadKey(cfg domain.SigningConfig, root string) (*openpgp.Entity, error) {
	keyFile := cfg.KeyPath()
	if cfg.KeyFile == "" && cfg.Name == domain.SigningDebug {
		if err := s.ensureDebugKey(filepath.Join(root, keyFile)); err != nil {
			return nil, err
		}
	}
	if !filepath.IsAbs(keyFile) {
		keyFile = filepath.Join(root, keyFile)
	}

	f, err := os.Open(keyFile) //nolint:gosec // Key path comes from the descriptor
	if err != nil {
		return nil, zerr.With(zerr.Wrap(domain.ErrSigningKeyInvalid, "cannot open signing key"), "key_file", keyFile)
	}
	defer f.Close() //nolint:errcheck // Read only

	keyring, err := openpgp.ReadArmoredKeyRing(f)
	if err != nil {
		return nil, zerr.With(zerr.Wrap(domain.ErrSigningKeyInvalid, "signing key is not an armored OpenPGP key"), "key_file", keyFile)
	}
	for _, entity := range keyring {
		if entity.PrivateKey == nil {
			continue
		}
		if err := s.unlock(entity, cfg); err != nil {
			return nil, zerr.With(err, "key_file", keyFile)
		}
		return entity, nil
	}
	return nil, zerr.With(zerr.Wrap(domain.ErrSigningKeyInvalid, "signing key has no private key"), "key_file", keyFile)
}

func (s *Signer) unlock(entity *openpgp.Entity, cfg domain.SigningConfig) error {
	keys := []*packet.PrivateKey{entity.PrivateKey}
	for _, sub := range entity.Subkeys {
		if sub.PrivateKey != nil {
			keys = append(keys, sub.PrivateKey)
		}
	}

	var passphrase []byte
	for _, key := range keys {
		if !key.Encrypted {
			continue
		}
		if passphrase == nil {
			if cfg.PassphraseEnv == "" || s.getenv(cfg.PassphraseEnv) == "" {
				return zerr.Wrap(domain.ErrSigningKeyInvalid, "signing key is encrypted but no passphrase is set")
			}
			passphrase = []byte(s.getenv(cfg.PassphraseEnv))
		}
		if err := key.Decrypt(passphrase); err != nil {
			return zerr.With(zerr.Wrap(domain.ErrSigningKeyInvalid, "wrong passphrase for signing key"), "passphrase_env", cfg.PassphraseEnv)
		}
	}
	return nil
}

// ensureDebugKey generates the project's debug key on first use.
func (s *Signer) ensureDebugKey(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, iofs.ErrNotExist) {
		return zerr.With(zerr.Wrap(domain.ErrSigningKeyInvalid, "cannot read debug key"), "key_file", path)
	}

	entity, err := openpgp.NewEntity("apkforge debug", "debug signing key", "debug@apkforge.invalid",
		&packet.Config{Algorithm: packet.PubKeyAlgoEdDSA})
	if err != nil {
		return zerr.Wrap(domain.Classify(domain.ErrSigningKeyInvalid, err), "failed to generate debug key")
	}
	err = writeAtomic(path, domain.PrivateFilePerm, func(w io.Writer) error {
		aw, err := armor.Encode(w, openpgp.PrivateKeyType, nil)
		if err != nil {
			return err
		}
		if err := entity.SerializePrivate(aw, nil); err != nil {
			return err
		}
		return aw.Close()
	})
	if err != nil {
		return zerr.With(zerr.Wrap(domain.Classify(domain.ErrSigningKeyInvalid, err), "failed to write debug key"), "key_file", path)
	}
	s.logger.Info("generated debug signing key " + domain.DefaultDebugKeyPath())
	return nil
}

func signFile(entity *openpgp.Entity, path, sigPath string) error {
	in, err := os.Open(path) //nolint:gosec // Package written by this build
	if err != nil {
		return err
	}
	defer in.Close() //nolint:errcheck // Read only

	return writeAtomic(sigPath, domain.FilePerm, func(w io.Writer) error {
		return openpgp.ArmoredDetachSign(w, entity, in, nil)
	})
}

func writeAtomic(path string, perm os.FileMode, write func(io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, domain.DirPerm); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}()

	if err := write(tmp); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}
