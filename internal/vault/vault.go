// Copyright (c) 2026 Netvault Team
// Netvault - credential vault and session engine for network equipment
// This source code is licensed under the MIT license found in the LICENSE file.

package vault

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rvail/netvault/internal/db"
	"github.com/rvail/netvault/internal/logging"
	"github.com/rvail/netvault/internal/model"
	"github.com/rvail/netvault/internal/security"
)

// Vault is the credential store. It owns the lock state and the in-memory
// derived key, and is the only component that ever sees decrypted secret
// fields. A Vault is constructed explicitly around a db.Store and passed by
// reference; multiple independent vaults may coexist (tests rely on this).
//
// Concurrency: credential reads and writes share the lock in read mode;
// lifecycle changes and master-password rotation take it exclusively, so no
// credential operation can interleave with a rotation.
type Vault struct {
	store      db.Store
	iterations int

	mu   sync.RWMutex
	meta *db.VaultMeta
	key  *security.KeyBuffer
}

// Option configures a Vault at construction time.
type Option func(*Vault)

// WithKDFIterations overrides the PBKDF2 iteration count used when
// initializing or rotating the vault. Unlock always honors the persisted
// count. Intended for tests; production uses the default.
func WithKDFIterations(n int) Option {
	return func(v *Vault) {
		if n > 0 {
			v.iterations = n
		}
	}
}

// Open wraps a store in a Vault. The vault starts locked; no I/O happens
// until the first operation.
func Open(store db.Store, opts ...Option) *Vault {
	v := &Vault{store: store, iterations: DefaultKDFIterations}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// loadMeta fetches and caches the metadata row. Callers hold v.mu.
func (v *Vault) loadMeta() (*db.VaultMeta, error) {
	if v.meta != nil {
		return v.meta, nil
	}
	meta, err := v.store.GetMeta()
	if err != nil {
		return nil, err
	}
	v.meta = meta
	return meta, nil
}

// Initialized reports whether vault storage exists.
func (v *Vault) Initialized() (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	meta, err := v.loadMeta()
	if err != nil {
		return false, err
	}
	return meta != nil, nil
}

// Unlocked reports whether key material is currently held in memory.
func (v *Vault) Unlocked() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.key != nil
}

// Init creates a new vault: generates a salt, derives the key, and persists
// the verification token with an empty credential set. The vault remains
// locked afterwards; call Unlock to populate key material.
func (v *Vault) Init(master security.Secret) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	meta, err := v.loadMeta()
	if err != nil {
		return err
	}
	if meta != nil {
		return ErrAlreadyInitialized
	}

	salt, err := NewSalt()
	if err != nil {
		return err
	}
	key := security.Secret(DeriveKey(master, salt, v.iterations))
	defer key.Zero()

	verifier, err := MakeVerifier(key)
	if err != nil {
		return err
	}
	newMeta := &db.VaultMeta{
		Salt:          salt,
		Verifier:      verifier,
		KDFIterations: v.iterations,
		Version:       1,
	}
	if err := v.store.SaveMeta(newMeta); err != nil {
		return err
	}
	v.meta = newMeta
	logging.Infof("vault initialized (%d KDF iterations)", v.iterations)
	return nil
}

// Unlock derives the key from the stored salt and checks the verification
// token. On mismatch it returns false and leaves state unchanged; there is
// no partial unlock.
func (v *Vault) Unlock(master security.Secret) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	meta, err := v.loadMeta()
	if err != nil {
		return false, err
	}
	if meta == nil {
		return false, ErrNotInitialized
	}

	key := security.Secret(DeriveKey(master, meta.Salt, meta.KDFIterations))
	defer key.Zero()

	if !CheckVerifier(key, meta.Verifier) {
		return false, nil
	}
	if v.key != nil {
		v.key.Destroy()
	}
	v.key = security.NewKeyBuffer(key)
	logging.Debugf("vault unlocked")
	return true, nil
}

// Lock discards the in-memory key. Credential operations fail with
// ErrVaultLocked until the next successful Unlock.
func (v *Vault) Lock() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.key != nil {
		v.key.Destroy()
		v.key = nil
		logging.Debugf("vault locked")
	}
}

// withKey runs fn with the derived key while holding the vault read lock.
func (v *Vault) withKey(fn func(key []byte) error) error {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.key == nil {
		return ErrVaultLocked
	}
	return v.key.Use(fn)
}

// AddCredential encrypts the secret fields of c and persists a new record.
// Fails if the name exists or the vault is locked.
func (v *Vault) AddCredential(c *model.Credential) (int64, error) {
	if c.Name == "" {
		return 0, fmt.Errorf("credential name is required")
	}
	var id int64
	err := v.withKey(func(key []byte) error {
		rec, err := credentialToRecord(c, key)
		if err != nil {
			return err
		}
		id, err = v.store.InsertCredential(rec)
		if err == db.ErrDuplicate {
			return fmt.Errorf("%w: %s", ErrCredentialExists, c.Name)
		}
		return err
	})
	if err != nil {
		return 0, err
	}
	if c.IsDefault {
		if err := v.SetDefault(c.Name); err != nil {
			return id, err
		}
	}
	return id, nil
}

// GetCredential returns the decrypted record for name.
func (v *Vault) GetCredential(name string) (*model.Credential, error) {
	var cred *model.Credential
	err := v.withKey(func(key []byte) error {
		rec, err := v.store.GetCredentialByName(name)
		if err == db.ErrNotFound {
			return fmt.Errorf("%w: %s", ErrCredentialNotFound, name)
		}
		if err != nil {
			return err
		}
		cred, err = recordToCredential(rec, key)
		return err
	})
	return cred, err
}

// ListCredentials returns metadata for every credential. Secret fields are
// never decrypted; the listing carries presence booleans only.
func (v *Vault) ListCredentials() ([]model.CredentialInfo, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.key == nil {
		return nil, ErrVaultLocked
	}
	recs, err := v.store.ListCredentials()
	if err != nil {
		return nil, err
	}
	infos := make([]model.CredentialInfo, 0, len(recs))
	for i := range recs {
		info, err := recordToInfo(&recs[i])
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// UpdateCredential applies a partial update. Only changed secret fields are
// re-encrypted; unspecified fields are preserved as stored.
func (v *Vault) UpdateCredential(name string, patch model.CredentialPatch) error {
	if patch.IsEmpty() {
		return nil
	}
	return v.withKey(func(key []byte) error {
		rec, err := v.store.GetCredentialByName(name)
		if err == db.ErrNotFound {
			return fmt.Errorf("%w: %s", ErrCredentialNotFound, name)
		}
		if err != nil {
			return err
		}
		if err := applyPatch(rec, patch, key); err != nil {
			return err
		}
		return v.store.UpdateCredential(rec)
	})
}

// RemoveCredential deletes the named credential, reporting whether a record
// was removed.
func (v *Vault) RemoveCredential(name string) (bool, error) {
	var removed bool
	err := v.withKey(func([]byte) error {
		var err error
		removed, err = v.store.DeleteCredential(name)
		return err
	})
	return removed, err
}

// SetDefault marks name as the default credential, clearing any previous
// default. At most one record carries the flag.
func (v *Vault) SetDefault(name string) error {
	return v.withKey(func([]byte) error {
		err := v.store.SetDefault(name)
		if err == db.ErrNotFound {
			return fmt.Errorf("%w: %s", ErrCredentialNotFound, name)
		}
		return err
	})
}

// GetDefault returns the decrypted default credential, or
// ErrCredentialNotFound when none is flagged.
func (v *Vault) GetDefault() (*model.Credential, error) {
	var cred *model.Credential
	err := v.withKey(func(key []byte) error {
		rec, err := v.store.GetDefault()
		if err == db.ErrNotFound {
			return ErrCredentialNotFound
		}
		if err != nil {
			return err
		}
		cred, err = recordToCredential(rec, key)
		return err
	})
	return cred, err
}

// ChangeMasterPassword re-derives key material under a fresh salt and
// re-encrypts every credential record as one atomic unit. On any failure the
// store remains fully readable under the old password and the error wraps
// ErrRotationFailed. On success the vault is left unlocked under new.
func (v *Vault) ChangeMasterPassword(oldPw, newPw security.Secret) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	meta, err := v.loadMeta()
	if err != nil {
		return err
	}
	if meta == nil {
		return ErrNotInitialized
	}

	oldKey := security.Secret(DeriveKey(oldPw, meta.Salt, meta.KDFIterations))
	defer oldKey.Zero()
	if !CheckVerifier(oldKey, meta.Verifier) {
		return ErrWrongMasterPassword
	}

	newSalt, err := NewSalt()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRotationFailed, err)
	}
	newKey := security.Secret(DeriveKey(newPw, newSalt, v.iterations))
	defer newKey.Zero()
	newVerifier, err := MakeVerifier(newKey)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRotationFailed, err)
	}

	recs, err := v.store.ListCredentials()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRotationFailed, err)
	}
	for i := range recs {
		if err := reencryptRecord(&recs[i], oldKey, newKey); err != nil {
			return fmt.Errorf("%w: %w", ErrRotationFailed, err)
		}
	}

	newMeta := &db.VaultMeta{
		ID:            meta.ID,
		Salt:          newSalt,
		Verifier:      newVerifier,
		KDFIterations: v.iterations,
		Version:       meta.Version,
		CreatedAt:     meta.CreatedAt,
	}
	// Single transaction: either every record plus the metadata row swap to
	// the new key, or nothing does.
	if err := v.store.ReplaceAll(newMeta, recs); err != nil {
		v.meta = nil // force reload; the store decides what actually persisted
		return fmt.Errorf("%w: %w", ErrRotationFailed, err)
	}

	v.meta = newMeta
	if v.key != nil {
		v.key.Destroy()
	}
	v.key = security.NewKeyBuffer(newKey)
	logging.Infof("master password rotated (%d credentials re-encrypted)", len(recs))
	return nil
}

// --- record conversion -----------------------------------------------------

func encryptField(key []byte, s security.Secret) ([]byte, error) {
	if s.IsZero() {
		return nil, nil
	}
	return Encrypt(key, s)
}

func decryptField(key, blob []byte) (security.Secret, error) {
	if len(blob) == 0 {
		return nil, nil
	}
	plain, err := Decrypt(key, blob)
	if err != nil {
		return nil, err
	}
	return security.Secret(plain), nil
}

func marshalList(list []string) string {
	if list == nil {
		list = []string{}
	}
	data, _ := json.Marshal(list)
	return string(data)
}

func unmarshalList(data string) ([]string, error) {
	if data == "" {
		return nil, nil
	}
	var list []string
	if err := json.Unmarshal([]byte(data), &list); err != nil {
		return nil, fmt.Errorf("corrupt match rule list: %w", err)
	}
	return list, nil
}

func credentialToRecord(c *model.Credential, key []byte) (*db.CredentialRecord, error) {
	rec := &db.CredentialRecord{
		ID:         c.ID,
		Name:       c.Name,
		Username:   c.Username,
		MatchHosts: marshalList(c.MatchHosts),
		MatchTags:  marshalList(c.MatchTags),
		IsDefault:  c.IsDefault,
	}
	var err error
	if rec.EncPassword, err = encryptField(key, c.Password); err != nil {
		return nil, err
	}
	if rec.EncPrivateKey, err = encryptField(key, c.PrivateKey); err != nil {
		return nil, err
	}
	if rec.EncKeyPassphrase, err = encryptField(key, c.KeyPassphrase); err != nil {
		return nil, err
	}
	if c.JumpHost != nil {
		data, err := json.Marshal(c.JumpHost)
		if err != nil {
			return nil, err
		}
		rec.JumpHost = sql.NullString{String: string(data), Valid: true}
	}
	return rec, nil
}

func recordToCredential(rec *db.CredentialRecord, key []byte) (*model.Credential, error) {
	hosts, err := unmarshalList(rec.MatchHosts)
	if err != nil {
		return nil, err
	}
	tags, err := unmarshalList(rec.MatchTags)
	if err != nil {
		return nil, err
	}
	c := &model.Credential{
		ID:         rec.ID,
		Name:       rec.Name,
		Username:   rec.Username,
		MatchHosts: hosts,
		MatchTags:  tags,
		IsDefault:  rec.IsDefault,
	}
	if c.Password, err = decryptField(key, rec.EncPassword); err != nil {
		return nil, err
	}
	if c.PrivateKey, err = decryptField(key, rec.EncPrivateKey); err != nil {
		return nil, err
	}
	if c.KeyPassphrase, err = decryptField(key, rec.EncKeyPassphrase); err != nil {
		return nil, err
	}
	if rec.JumpHost.Valid {
		var ref model.JumpHostRef
		if err := json.Unmarshal([]byte(rec.JumpHost.String), &ref); err != nil {
			return nil, fmt.Errorf("corrupt jump host reference: %w", err)
		}
		c.JumpHost = &ref
	}
	return c, nil
}

func recordToInfo(rec *db.CredentialRecord) (model.CredentialInfo, error) {
	hosts, err := unmarshalList(rec.MatchHosts)
	if err != nil {
		return model.CredentialInfo{}, err
	}
	tags, err := unmarshalList(rec.MatchTags)
	if err != nil {
		return model.CredentialInfo{}, err
	}
	info := model.CredentialInfo{
		Name:        rec.Name,
		Username:    rec.Username,
		HasPassword: len(rec.EncPassword) > 0,
		HasKey:      len(rec.EncPrivateKey) > 0,
		MatchHosts:  hosts,
		MatchTags:   tags,
		IsDefault:   rec.IsDefault,
	}
	if rec.JumpHost.Valid {
		var ref model.JumpHostRef
		if err := json.Unmarshal([]byte(rec.JumpHost.String), &ref); err == nil {
			info.JumpHost = ref.Hostname
		}
	}
	return info, nil
}

func applyPatch(rec *db.CredentialRecord, patch model.CredentialPatch, key []byte) error {
	if patch.Username != nil {
		rec.Username = *patch.Username
	}
	var err error
	if patch.Password != nil {
		if rec.EncPassword, err = encryptField(key, *patch.Password); err != nil {
			return err
		}
	}
	if patch.PrivateKey != nil {
		if rec.EncPrivateKey, err = encryptField(key, *patch.PrivateKey); err != nil {
			return err
		}
	}
	if patch.KeyPassphrase != nil {
		if rec.EncKeyPassphrase, err = encryptField(key, *patch.KeyPassphrase); err != nil {
			return err
		}
	}
	if patch.MatchHosts != nil {
		rec.MatchHosts = marshalList(*patch.MatchHosts)
	}
	if patch.MatchTags != nil {
		rec.MatchTags = marshalList(*patch.MatchTags)
	}
	if patch.ClearJumpHost {
		rec.JumpHost = sql.NullString{}
	} else if patch.JumpHost != nil {
		data, err := json.Marshal(patch.JumpHost)
		if err != nil {
			return err
		}
		rec.JumpHost = sql.NullString{String: string(data), Valid: true}
	}
	return nil
}

func reencryptRecord(rec *db.CredentialRecord, oldKey, newKey []byte) error {
	reenc := func(blob []byte) ([]byte, error) {
		if len(blob) == 0 {
			return nil, nil
		}
		plain, err := Decrypt(oldKey, blob)
		if err != nil {
			return nil, err
		}
		defer func() {
			for i := range plain {
				plain[i] = 0
			}
		}()
		return Encrypt(newKey, plain)
	}
	var err error
	if rec.EncPassword, err = reenc(rec.EncPassword); err != nil {
		return err
	}
	if rec.EncPrivateKey, err = reenc(rec.EncPrivateKey); err != nil {
		return err
	}
	if rec.EncKeyPassphrase, err = reenc(rec.EncKeyPassphrase); err != nil {
		return err
	}
	return nil
}
