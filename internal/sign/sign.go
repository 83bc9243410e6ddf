package sign

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// Параметры Argon2id для деривации ключа подписи из секрета кластера
const (
	// Argon2Time - количество итераций (time cost)
	Argon2Time = 1
	// Argon2Memory - объем памяти в KB (64MB = 64*1024 KB)
	Argon2Memory = 64 * 1024
	// Argon2Threads - количество параллельных потоков
	Argon2Threads = 4
	// Argon2KeyLen - длина выходного ключа в байтах
	Argon2KeyLen = 32
)

// Signer подписывает и проверяет события ключом, производным от секрета
// кластера. Все узлы одного кластера выводят одинаковый ключ, поэтому
// подпись проверяема на любой реплике.
type Signer struct {
	key []byte
}

// New создает Signer из секрета кластера.
// ClusterID используется как соль: разные кластеры с одинаковым секретом
// получают независимые ключи.
func New(clusterSecret, clusterID string) (*Signer, error) {
	if clusterSecret == "" {
		return nil, fmt.Errorf("cluster secret cannot be empty")
	}
	if clusterID == "" {
		return nil, fmt.Errorf("cluster id cannot be empty")
	}

	salt := sha256.Sum256([]byte("datacore-sign/" + clusterID))
	key := argon2.IDKey([]byte(clusterSecret), salt[:], Argon2Time, Argon2Memory, Argon2Threads, Argon2KeyLen)

	return &Signer{key: key}, nil
}

// PayloadHash вычисляет детерминированный SHA256 хеш канонического payload
// события. Хеш не зависит от того, на каком узле событие возникло.
func PayloadHash(domain, canonicalPath, operation, content string) string {
	h := sha256.New()
	// Длино-префиксованная конкатенация исключает склейку полей
	for _, field := range []string{domain, canonicalPath, operation, content} {
		fmt.Fprintf(h, "%d:", len(field))
		h.Write([]byte(field))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Sign возвращает HMAC-SHA256 подпись payload hash от имени writer
func (s *Signer) Sign(writerID, payloadHash string) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(writerID))
	mac.Write([]byte{0})
	mac.Write([]byte(payloadHash))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify проверяет подпись события.
// Возвращает ошибку при несовпадении.
func (s *Signer) Verify(writerID, payloadHash, signature string) error {
	expected := s.Sign(writerID, payloadHash)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return fmt.Errorf("invalid event signature for writer %q", writerID)
	}
	return nil
}
