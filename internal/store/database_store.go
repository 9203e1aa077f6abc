package store

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	sqliteDialector "github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

const sqliteBusyTimeoutPragma = "busy_timeout(5000)"

var (
	errEmptyDatabaseURL    = errors.New("store.empty_database_url")
	errSQLiteEmptyPath     = errors.New("store.sqlite.empty_path")
	errUnsupportedNoScheme = errors.New("store.unsupported_no_scheme")
)

// DatabaseStore persists credentials, connections, and sync state using GORM.
type DatabaseStore struct {
	db          *gorm.DB
	driverLabel string
}

type credentialRecord struct {
	UserID       string `gorm:"column:user_id;primaryKey"`
	ProviderID   string `gorm:"column:provider_id;primaryKey"`
	AccessToken  string `gorm:"column:access_token;type:text;not null"`
	RefreshToken string `gorm:"column:refresh_token;type:text;not null;default:''"`
	ExpiresAtMs  int64  `gorm:"column:expires_at_ms;not null"`
	Scope        string `gorm:"column:scope;not null;default:''"`
	Status       string `gorm:"column:status;not null;default:'active'"`
	UpdatedAtMs  int64  `gorm:"column:updated_at_ms;not null;default:0"`
}

func (credentialRecord) TableName() string {
	return "provider_credentials"
}

type connectionRecord struct {
	UserID          string `gorm:"column:user_id;primaryKey"`
	ProviderID      string `gorm:"column:provider_id;primaryKey"`
	ConnectedAtUnix int64  `gorm:"column:connected_at_unix;not null"`
	NeedsReconnect  bool   `gorm:"column:needs_reconnect;not null;default:false"`
}

func (connectionRecord) TableName() string {
	return "provider_connections"
}

type syncStateRecord struct {
	UserID         string `gorm:"column:user_id;primaryKey"`
	ProviderID     string `gorm:"column:provider_id;primaryKey"`
	EndpointID     string `gorm:"column:endpoint_id;primaryKey"`
	LastCalledAtMs int64  `gorm:"column:last_called_at_ms;not null"`
}

func (syncStateRecord) TableName() string {
	return "provider_sync_state"
}

// OpenDatabase opens a GORM handle for a postgres:// or sqlite:// URL and returns its driver label.
func OpenDatabase(databaseURL string) (*gorm.DB, string, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, "", fmt.Errorf("store.open: %w", errEmptyDatabaseURL)
	}
	dialector, driverLabel, err := resolveDialector(databaseURL)
	if err != nil {
		return nil, "", err
	}
	gormDB, openErr := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if openErr != nil {
		return nil, "", fmt.Errorf("store.open.%s: %w", driverLabel, openErr)
	}
	return gormDB, driverLabel, nil
}

// NewDatabaseStore opens the database and migrates the store tables.
func NewDatabaseStore(ctx context.Context, databaseURL string) (*DatabaseStore, error) {
	gormDB, driverLabel, err := OpenDatabase(databaseURL)
	if err != nil {
		return nil, err
	}
	return NewDatabaseStoreWithDB(ctx, gormDB, driverLabel)
}

// NewDatabaseStoreWithDB migrates the store tables on an existing handle.
func NewDatabaseStoreWithDB(ctx context.Context, gormDB *gorm.DB, driverLabel string) (*DatabaseStore, error) {
	if migrateErr := gormDB.WithContext(ctx).AutoMigrate(&credentialRecord{}, &connectionRecord{}, &syncStateRecord{}); migrateErr != nil {
		return nil, fmt.Errorf("store.migrate.%s: %w", driverLabel, migrateErr)
	}
	return &DatabaseStore{
		db:          gormDB,
		driverLabel: driverLabel,
	}, nil
}

// Driver exposes the selected database driver label.
func (store *DatabaseStore) Driver() string {
	return store.driverLabel
}

// DB exposes the underlying handle so collaborators can share the connection.
func (store *DatabaseStore) DB() *gorm.DB {
	return store.db
}

// Close releases the underlying connection pool. Collaborators sharing DB() lose it too.
func (store *DatabaseStore) Close() error {
	sqlDB, err := store.db.DB()
	if err != nil {
		return fmt.Errorf("store.close.%s: %w", store.driverLabel, err)
	}
	return sqlDB.Close()
}

// Get loads a credential by (user, provider).
func (store *DatabaseStore) Get(ctx context.Context, userID string, providerID string) (OAuthCredential, error) {
	var record credentialRecord
	err := store.db.WithContext(ctx).Where("user_id = ? AND provider_id = ?", userID, providerID).Take(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return OAuthCredential{}, fmt.Errorf("credential_store.get.%s: %w", store.driverLabel, ErrCredentialNotFound)
		}
		return OAuthCredential{}, store.storageError("credential_store.get", err)
	}
	return record.toCredential(), nil
}

// Put upserts a credential, preserving stored values for zero-valued fields.
func (store *DatabaseStore) Put(ctx context.Context, credential OAuthCredential) error {
	if err := validateCredentialKey(credential.UserID, credential.ProviderID); err != nil {
		return fmt.Errorf("credential_store.put.%s: %w", store.driverLabel, err)
	}
	txErr := store.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing credentialRecord
		findErr := tx.Where("user_id = ? AND provider_id = ?", credential.UserID, credential.ProviderID).Take(&existing).Error
		if errors.Is(findErr, gorm.ErrRecordNotFound) {
			if credential.AccessToken == "" {
				return errMissingAccessToken
			}
			if credential.Status == "" {
				credential.Status = CredentialActive
			}
			record := newCredentialRecord(credential)
			return tx.Create(&record).Error
		}
		if findErr != nil {
			return findErr
		}
		merged := newCredentialRecord(mergeCredential(existing.toCredential(), credential))
		return tx.Save(&merged).Error
	})
	if txErr != nil {
		if errors.Is(txErr, ErrMissingField) {
			return fmt.Errorf("credential_store.put.%s: %w", store.driverLabel, txErr)
		}
		return store.storageError("credential_store.put", txErr)
	}
	return nil
}

// Delete removes a credential.
func (store *DatabaseStore) Delete(ctx context.Context, userID string, providerID string) error {
	err := store.db.WithContext(ctx).Where("user_id = ? AND provider_id = ?", userID, providerID).Delete(&credentialRecord{}).Error
	if err != nil {
		return store.storageError("credential_store.delete", err)
	}
	return nil
}

// ListConnections returns the user's connections ordered by provider id.
func (store *DatabaseStore) ListConnections(ctx context.Context, userID string) ([]ProviderConnection, error) {
	var rows []connectionRecord
	err := store.db.WithContext(ctx).Where("user_id = ?", userID).Order("provider_id").Find(&rows).Error
	if err != nil {
		return nil, store.storageError("connection_store.list", err)
	}
	connections := make([]ProviderConnection, 0, len(rows))
	for _, row := range rows {
		connections = append(connections, ProviderConnection{
			UserID:         row.UserID,
			ProviderID:     row.ProviderID,
			ConnectedAt:    time.Unix(row.ConnectedAtUnix, 0).UTC(),
			NeedsReconnect: row.NeedsReconnect,
		})
	}
	return connections, nil
}

// UpsertConnection replaces any existing connection for the same pair.
func (store *DatabaseStore) UpsertConnection(ctx context.Context, connection ProviderConnection) error {
	if err := validateCredentialKey(connection.UserID, connection.ProviderID); err != nil {
		return fmt.Errorf("connection_store.upsert.%s: %w", store.driverLabel, err)
	}
	record := connectionRecord{
		UserID:          connection.UserID,
		ProviderID:      connection.ProviderID,
		ConnectedAtUnix: connection.ConnectedAt.UTC().Unix(),
		NeedsReconnect:  connection.NeedsReconnect,
	}
	err := store.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "provider_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"connected_at_unix", "needs_reconnect"}),
	}).Create(&record).Error
	if err != nil {
		return store.storageError("connection_store.upsert", err)
	}
	return nil
}

// MarkNeedsReconnect flags or clears the reconnect state of an existing connection.
func (store *DatabaseStore) MarkNeedsReconnect(ctx context.Context, userID string, providerID string, needsReconnect bool) error {
	result := store.db.WithContext(ctx).Model(&connectionRecord{}).
		Where("user_id = ? AND provider_id = ?", userID, providerID).
		Update("needs_reconnect", needsReconnect)
	if result.Error != nil {
		return store.storageError("connection_store.mark_reconnect", result.Error)
	}
	if result.RowsAffected == 0 {
		var count int64
		if countErr := store.db.WithContext(ctx).Model(&connectionRecord{}).
			Where("user_id = ? AND provider_id = ?", userID, providerID).Count(&count).Error; countErr != nil {
			return store.storageError("connection_store.mark_reconnect", countErr)
		}
		if count == 0 {
			return fmt.Errorf("connection_store.mark_reconnect.%s: %w", store.driverLabel, ErrConnectionNotFound)
		}
	}
	return nil
}

// RemoveConnection deletes the connection record.
func (store *DatabaseStore) RemoveConnection(ctx context.Context, userID string, providerID string) error {
	err := store.db.WithContext(ctx).Where("user_id = ? AND provider_id = ?", userID, providerID).Delete(&connectionRecord{}).Error
	if err != nil {
		return store.storageError("connection_store.remove", err)
	}
	return nil
}

// LastCalledAt reports when the endpoint was last called, if ever.
func (store *DatabaseStore) LastCalledAt(ctx context.Context, userID string, providerID string, endpointID string) (time.Time, bool, error) {
	var record syncStateRecord
	err := store.db.WithContext(ctx).
		Where("user_id = ? AND provider_id = ? AND endpoint_id = ?", userID, providerID, endpointID).
		Take(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, store.storageError("sync_state.last_called", err)
	}
	return time.UnixMilli(record.LastCalledAtMs).UTC(), true, nil
}

// MarkCalled records the call time for an endpoint.
func (store *DatabaseStore) MarkCalled(ctx context.Context, userID string, providerID string, endpointID string, calledAt time.Time) error {
	if err := validateCredentialKey(userID, providerID); err != nil {
		return fmt.Errorf("sync_state.mark_called.%s: %w", store.driverLabel, err)
	}
	if endpointID == "" {
		return fmt.Errorf("sync_state.mark_called.%s: %w", store.driverLabel, errMissingEndpointID)
	}
	record := syncStateRecord{
		UserID:         userID,
		ProviderID:     providerID,
		EndpointID:     endpointID,
		LastCalledAtMs: calledAt.UTC().UnixMilli(),
	}
	err := store.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "provider_id"}, {Name: "endpoint_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_called_at_ms"}),
	}).Create(&record).Error
	if err != nil {
		return store.storageError("sync_state.mark_called", err)
	}
	return nil
}

// ClearSyncState forgets every endpoint timestamp for the pair.
func (store *DatabaseStore) ClearSyncState(ctx context.Context, userID string, providerID string) error {
	err := store.db.WithContext(ctx).Where("user_id = ? AND provider_id = ?", userID, providerID).Delete(&syncStateRecord{}).Error
	if err != nil {
		return store.storageError("sync_state.clear", err)
	}
	return nil
}

func (store *DatabaseStore) storageError(operation string, err error) error {
	return fmt.Errorf("%s.%s: %w: %w", operation, store.driverLabel, ErrStorage, err)
}

func newCredentialRecord(credential OAuthCredential) credentialRecord {
	return credentialRecord{
		UserID:       credential.UserID,
		ProviderID:   credential.ProviderID,
		AccessToken:  credential.AccessToken,
		RefreshToken: credential.RefreshToken,
		ExpiresAtMs:  credential.ExpiresAtMs,
		Scope:        credential.Scope,
		Status:       string(credential.Status),
		UpdatedAtMs:  credential.UpdatedAtMs,
	}
}

func (record credentialRecord) toCredential() OAuthCredential {
	return OAuthCredential{
		UserID:       record.UserID,
		ProviderID:   record.ProviderID,
		AccessToken:  record.AccessToken,
		RefreshToken: record.RefreshToken,
		ExpiresAtMs:  record.ExpiresAtMs,
		Scope:        record.Scope,
		Status:       CredentialStatus(record.Status),
		UpdatedAtMs:  record.UpdatedAtMs,
	}
}

func resolveDialector(databaseURL string) (gorm.Dialector, string, error) {
	parsed, err := url.Parse(databaseURL)
	if err != nil {
		return nil, "", fmt.Errorf("store.parse_url: %w", err)
	}
	switch scheme := strings.ToLower(parsed.Scheme); scheme {
	case "":
		return nil, "", fmt.Errorf("store.dialect: %w", errUnsupportedNoScheme)
	case "postgres", "postgresql":
		return postgres.Open(databaseURL), "postgres", nil
	case "sqlite", "sqlite3":
		dsn, dsnErr := sqliteDSN(parsed)
		if dsnErr != nil {
			return nil, "", fmt.Errorf("store.sqlite: %w", dsnErr)
		}
		return sqliteDialector.Open(dsn), "sqlite", nil
	default:
		return nil, "", fmt.Errorf("store.dialect.%s: %w", scheme, ErrUnsupportedDialect)
	}
}

// sqliteDSN maps sqlite://<path>?<params> onto a driver DSN. Concurrent sync pipelines write
// sync state at once, so a busy timeout is added unless the URL already sets one.
func sqliteDSN(parsed *url.URL) (string, error) {
	location := parsed.Opaque
	if location == "" {
		location = parsed.Host + parsed.Path
	}
	if location == "" {
		return "", errSQLiteEmptyPath
	}
	query := parsed.Query()
	hasBusyTimeout := slices.ContainsFunc(query["_pragma"], func(pragma string) bool {
		return strings.HasPrefix(strings.ToLower(strings.TrimSpace(pragma)), "busy_timeout")
	})
	if !hasBusyTimeout {
		query.Add("_pragma", sqliteBusyTimeoutPragma)
	}
	return location + "?" + query.Encode(), nil
}
