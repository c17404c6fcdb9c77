package artifact

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStoreRoundtrip(t *testing.T) {
	store := NewLocalStore(t.TempDir())
	ctx := context.Background()

	data := []byte("H|01|20240410|DIRECT_DEBIT|RUMBO\n")
	require.NoError(t, store.Put(ctx, "bank/outbound/file.txt", data, "text/plain"))

	got, err := store.Get(ctx, "bank/outbound/file.txt")
	require.NoError(t, err)
	assert.Equal(t, data, got)

	// Overwriting the same key is allowed; content-addressed keys make it
	// a no-op in practice.
	require.NoError(t, store.Put(ctx, "bank/outbound/file.txt", data, "text/plain"))
}

func TestLocalStoreMissingKey(t *testing.T) {
	store := NewLocalStore(t.TempDir())

	_, err := store.Get(context.Background(), "bank/outbound/missing.txt")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNormalizeKey(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
		err  error
	}{
		{name: "plain", in: "bank/outbound/file.txt", want: "bank/outbound/file.txt"},
		{name: "leading slash", in: "/bank/file.txt", want: "bank/file.txt"},
		{name: "redundant segments", in: "bank//./file.txt", want: "bank/file.txt"},
		{name: "backslashes", in: "bank\\file.txt", want: "bank/file.txt"},
		{name: "empty", in: "  ", err: ErrInvalidKey},
		{name: "escapes root", in: "../secrets.txt", err: ErrInvalidKey},
		{name: "nested escape", in: "bank/../../secrets.txt", err: ErrInvalidKey},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NormalizeKey(tc.in)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestLocalStoreRejectsTraversal(t *testing.T) {
	store := NewLocalStore(t.TempDir())

	err := store.Put(context.Background(), "../../outside.txt", []byte("x"), "")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestDigestIsStable(t *testing.T) {
	a := Digest([]byte("rumbo"))
	b := Digest([]byte("rumbo"))
	c := Digest([]byte("rumbo!"))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}
