package sign

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RequiresSecretAndClusterID(t *testing.T) {
	_, err := New("", "fleet-7")
	assert.Error(t, err)

	_, err = New("secret", "")
	assert.Error(t, err)

	signer, err := New("secret", "fleet-7")
	require.NoError(t, err)
	assert.NotNil(t, signer)
}

func TestPayloadHash_Deterministic(t *testing.T) {
	h1 := PayloadHash("ops", "guide.md", "upsert", "body")
	h2 := PayloadHash("ops", "guide.md", "upsert", "body")
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestPayloadHash_FieldBoundariesMatter(t *testing.T) {
	// Склейка соседних полей не должна давать одинаковый хеш
	h1 := PayloadHash("ops", "guide.md", "upsert", "body")
	h2 := PayloadHash("opsguide.md", "", "upsert", "body")
	assert.NotEqual(t, h1, h2)

	h3 := PayloadHash("ops", "guide.md", "upsert", "body ")
	assert.NotEqual(t, h1, h3)
}

func TestSignVerify_RoundTrip(t *testing.T) {
	signer, err := New("cluster-secret", "fleet-7")
	require.NoError(t, err)

	hash := PayloadHash("ops", "guide.md", "upsert", "body")
	sig := signer.Sign("writer-1", hash)
	require.NotEmpty(t, sig)

	assert.NoError(t, signer.Verify("writer-1", hash, sig))
}

func TestVerify_RejectsTampering(t *testing.T) {
	signer, err := New("cluster-secret", "fleet-7")
	require.NoError(t, err)

	hash := PayloadHash("ops", "guide.md", "upsert", "body")
	sig := signer.Sign("writer-1", hash)

	// Чужой writer
	assert.Error(t, signer.Verify("writer-2", hash, sig))
	// Подмененный payload
	otherHash := PayloadHash("ops", "guide.md", "upsert", "tampered")
	assert.Error(t, signer.Verify("writer-1", otherHash, sig))
	// Испорченная подпись
	assert.Error(t, signer.Verify("writer-1", hash, sig[:len(sig)-2]+"00"))
}

func TestVerify_AcrossNodesSameCluster(t *testing.T) {
	// Узлы одного кластера выводят одинаковый ключ
	a, err := New("cluster-secret", "fleet-7")
	require.NoError(t, err)
	b, err := New("cluster-secret", "fleet-7")
	require.NoError(t, err)

	hash := PayloadHash("ops", "guide.md", "upsert", "body")
	assert.NoError(t, b.Verify("writer-1", hash, a.Sign("writer-1", hash)))
}

func TestVerify_DifferentClusterRejects(t *testing.T) {
	a, err := New("cluster-secret", "fleet-7")
	require.NoError(t, err)
	b, err := New("cluster-secret", "fleet-8")
	require.NoError(t, err)

	hash := PayloadHash("ops", "guide.md", "upsert", "body")
	assert.Error(t, b.Verify("writer-1", hash, a.Sign("writer-1", hash)))
}
