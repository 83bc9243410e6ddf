package edgequake

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

var bucketWorkspaces = []byte("workspaces")

// catalogTTL — срок жизни закешированного remote workspace id.
// После истечения id перепроверяется через API плагина.
const catalogTTL = 30 * time.Minute

// catalogEntry представляет закешированное сопоставление slug -> remote id
type catalogEntry struct {
	RemoteID  string `json:"remote_id"`
	ExpiresAt int64  `json:"expires_at"`
}

// Catalog — персистентный TTL-кеш каталога workspace'ов плагина.
// Ключ включает хеш credentials: смена API ключа инвалидирует кеш.
// Кеш инжектируется явно; скрытого глобального состояния нет.
type Catalog struct {
	db             *bbolt.DB
	credentialHash string
	now            func() int64
}

// NewCatalog открывает bbolt-файл кеша каталога
func NewCatalog(path, apiKey, tenantID string) (*Catalog, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog cache: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketWorkspaces)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize catalog bucket: %w", err)
	}

	hash := sha256.Sum256([]byte(apiKey + "\x00" + tenantID))

	return &Catalog{
		db:             db,
		credentialHash: hex.EncodeToString(hash[:8]),
		now:            func() int64 { return time.Now().Unix() },
	}, nil
}

// Close closes the underlying cache file
func (c *Catalog) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

// SetNowFunc подменяет источник времени (для тестов)
func (c *Catalog) SetNowFunc(now func() int64) {
	c.now = now
}

// Get возвращает закешированный remote id workspace'а.
// Второй результат false для промаха или истекшей записи.
func (c *Catalog) Get(slug string) (string, bool) {
	var entry catalogEntry
	found := false

	_ = c.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketWorkspaces).Get(c.key(slug))
		if data == nil {
			return nil
		}
		if err := json.Unmarshal(data, &entry); err != nil {
			return nil
		}
		found = true
		return nil
	})

	if !found || entry.ExpiresAt <= c.now() {
		return "", false
	}

	return entry.RemoteID, true
}

// Put кеширует remote id workspace'а с TTL
func (c *Catalog) Put(slug, remoteID string) error {
	entry := catalogEntry{
		RemoteID:  remoteID,
		ExpiresAt: c.now() + int64(catalogTTL.Seconds()),
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal catalog entry: %w", err)
	}

	return c.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketWorkspaces).Put(c.key(slug), data); err != nil {
			return fmt.Errorf("failed to put catalog entry: %w", err)
		}
		return nil
	})
}

// Clear сбрасывает кеш каталога (для тестов и смены credentials)
func (c *Catalog) Clear() error {
	return c.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(bucketWorkspaces); err != nil {
			return fmt.Errorf("failed to drop catalog bucket: %w", err)
		}
		_, err := tx.CreateBucketIfNotExists(bucketWorkspaces)
		return err
	})
}

// key строит ключ записи: credential hash входит в ключ, чтобы кеш
// не пережил смену API credentials
func (c *Catalog) key(slug string) []byte {
	return []byte(c.credentialHash + "/" + slug)
}
