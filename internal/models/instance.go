// Copyright (c) 2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/autobrr/qrules/internal/crypto"
	"github.com/autobrr/qrules/internal/dbinterface"
)

var ErrInstanceNameConflict = errors.New("an instance with this name already exists")

// Instance is a managed qBittorrent endpoint. Passwords are stored
// encrypted and never serialized back out.
type Instance struct {
	ID                     int        `json:"id"`
	Name                   string     `json:"name"`
	Host                   string     `json:"host"`
	Username               string     `json:"username"`
	PasswordEncrypted      string     `json:"-"`
	BasicUsername          *string    `json:"basicUsername,omitempty"`
	BasicPasswordEncrypted *string    `json:"-"`
	TLSSkipVerify          bool       `json:"tlsSkipVerify"`
	LocalFilesystemAccess  bool       `json:"localFilesystemAccess"`
	IsActive               bool       `json:"isActive"`
	LastConnectedAt        *time.Time `json:"lastConnectedAt,omitempty"`
	CreatedAt              time.Time  `json:"createdAt"`
	UpdatedAt              time.Time  `json:"updatedAt"`
}

type InstanceStore struct {
	db        dbinterface.Querier
	encryptor *crypto.AESEncryptor
}

func NewInstanceStore(db dbinterface.Querier, encryptionKey []byte) (*InstanceStore, error) {
	encryptor, err := crypto.NewAESEncryptor(encryptionKey)
	if err != nil {
		return nil, err
	}
	return &InstanceStore{db: db, encryptor: encryptor}, nil
}

// normalizeHost validates the instance URL, defaulting the scheme to http.
func normalizeHost(rawHost string) (string, error) {
	rawHost = strings.TrimSpace(rawHost)
	if rawHost == "" {
		return "", errors.New("host cannot be empty")
	}

	if !strings.Contains(rawHost, "://") {
		rawHost = "http://" + rawHost
	}

	u, err := url.Parse(rawHost)
	if err != nil {
		return "", fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q: must be http or https", u.Scheme)
	}
	if u.Host == "" {
		return "", errors.New("URL must include a host")
	}

	return u.String(), nil
}

const instanceColumns = `id, name, host, username, password_encrypted, basic_username, basic_password_encrypted,
	tls_skip_verify, local_filesystem_access, is_active, last_connected_at, created_at, updated_at`

func scanInstance(row interface{ Scan(dest ...any) error }) (*Instance, error) {
	var instance Instance
	var basicUsername, basicPassword sql.NullString
	var lastConnected sql.NullTime

	if err := row.Scan(
		&instance.ID,
		&instance.Name,
		&instance.Host,
		&instance.Username,
		&instance.PasswordEncrypted,
		&basicUsername,
		&basicPassword,
		&instance.TLSSkipVerify,
		&instance.LocalFilesystemAccess,
		&instance.IsActive,
		&lastConnected,
		&instance.CreatedAt,
		&instance.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if basicUsername.Valid {
		instance.BasicUsername = &basicUsername.String
	}
	if basicPassword.Valid {
		instance.BasicPasswordEncrypted = &basicPassword.String
	}
	if lastConnected.Valid {
		instance.LastConnectedAt = &lastConnected.Time
	}

	return &instance, nil
}

func (s *InstanceStore) Create(ctx context.Context, instance *Instance, password string, basicPassword *string) (*Instance, error) {
	if instance == nil {
		return nil, errors.New("instance is nil")
	}

	host, err := normalizeHost(instance.Host)
	if err != nil {
		return nil, err
	}

	encryptedPassword, err := s.encryptor.Encrypt(password)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt password: %w", err)
	}

	var encryptedBasic any
	if basicPassword != nil && *basicPassword != "" {
		encrypted, err := s.encryptor.Encrypt(*basicPassword)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt basic auth password: %w", err)
		}
		encryptedBasic = encrypted
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO instances
			(name, host, username, password_encrypted, basic_username, basic_password_encrypted, tls_skip_verify, local_filesystem_access)
		VALUES
			(?, ?, ?, ?, ?, ?, ?, ?)
	`, instance.Name, host, instance.Username, encryptedPassword,
		nullableString(instance.BasicUsername), encryptedBasic,
		boolToInt(instance.TLSSkipVerify), boolToInt(instance.LocalFilesystemAccess))
	if err != nil {
		if isUniqueConstraintError(err) {
			return nil, ErrInstanceNameConflict
		}
		return nil, err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	return s.Get(ctx, int(id))
}

func (s *InstanceStore) Get(ctx context.Context, id int) (*Instance, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+instanceColumns+` FROM instances WHERE id = ?`, id)
	return scanInstance(row)
}

func (s *InstanceStore) List(ctx context.Context) ([]*Instance, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+instanceColumns+` FROM instances ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var instances []*Instance
	for rows.Next() {
		instance, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		instances = append(instances, instance)
	}

	return instances, rows.Err()
}

func (s *InstanceStore) Update(ctx context.Context, instance *Instance, password, basicPassword *string) (*Instance, error) {
	if instance == nil {
		return nil, errors.New("instance is nil")
	}

	host, err := normalizeHost(instance.Host)
	if err != nil {
		return nil, err
	}

	passwordEncrypted := instance.PasswordEncrypted
	if password != nil && *password != "" {
		passwordEncrypted, err = s.encryptor.Encrypt(*password)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt password: %w", err)
		}
	}

	var basicEncrypted any
	switch {
	case basicPassword != nil && *basicPassword != "":
		encrypted, encErr := s.encryptor.Encrypt(*basicPassword)
		if encErr != nil {
			return nil, fmt.Errorf("failed to encrypt basic auth password: %w", encErr)
		}
		basicEncrypted = encrypted
	case instance.BasicPasswordEncrypted != nil:
		basicEncrypted = *instance.BasicPasswordEncrypted
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE instances
		SET name = ?, host = ?, username = ?, password_encrypted = ?, basic_username = ?, basic_password_encrypted = ?,
		    tls_skip_verify = ?, local_filesystem_access = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, instance.Name, host, instance.Username, passwordEncrypted,
		nullableString(instance.BasicUsername), basicEncrypted,
		boolToInt(instance.TLSSkipVerify), boolToInt(instance.LocalFilesystemAccess), instance.ID)
	if err != nil {
		if isUniqueConstraintError(err) {
			return nil, ErrInstanceNameConflict
		}
		return nil, err
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return nil, sql.ErrNoRows
	}

	return s.Get(ctx, instance.ID)
}

func (s *InstanceStore) Delete(ctx context.Context, id int) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM instances WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Credentials returns the decrypted login credentials for an instance.
func (s *InstanceStore) Credentials(instance *Instance) (password string, basicPassword *string, err error) {
	if instance == nil {
		return "", nil, errors.New("instance is nil")
	}

	if instance.PasswordEncrypted != "" {
		password, err = s.encryptor.Decrypt(instance.PasswordEncrypted)
		if err != nil {
			return "", nil, fmt.Errorf("failed to decrypt password: %w", err)
		}
	}

	if instance.BasicPasswordEncrypted != nil && *instance.BasicPasswordEncrypted != "" {
		decrypted, decErr := s.encryptor.Decrypt(*instance.BasicPasswordEncrypted)
		if decErr != nil {
			return "", nil, fmt.Errorf("failed to decrypt basic auth password: %w", decErr)
		}
		basicPassword = &decrypted
	}

	return password, basicPassword, nil
}

// MarkConnected records a successful connection.
func (s *InstanceStore) MarkConnected(ctx context.Context, id int, connected bool) error {
	if connected {
		_, err := s.db.ExecContext(ctx, `
			UPDATE instances SET is_active = 1, last_connected_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
			WHERE id = ?
		`, id)
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE instances SET is_active = 0, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, id)
	return err
}
