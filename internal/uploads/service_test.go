package uploads

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Winger29/FSDP-Assignment2/internal/apierr"
	"github.com/Winger29/FSDP-Assignment2/internal/storage"
	"github.com/Winger29/FSDP-Assignment2/internal/testutil"
)

func newService(t *testing.T, maxBytes int64) (*Service, *storage.LocalStorage) {
	t.Helper()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	return NewService(testutil.NewDB(t), store, maxBytes), store
}

func TestIsTextLike(t *testing.T) {
	tests := []struct {
		contentType, name string
		want              bool
	}{
		{"text/plain; charset=utf-8", "a.txt", true},
		{"application/json", "data", true},
		{"", "README.md", true},
		{"application/octet-stream", "notes.csv", true},
		{"image/png", "logo.png", false},
		{"application/pdf", "paper.pdf", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTextLike(tt.contentType, tt.name))
		})
	}
}

func TestCreateKeepsTextExcerpt(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t, 0)
	user := testutil.CreateUser(t, svc.db, "alice")

	body := strings.Repeat("a", MaxTextBytes+100)
	upload, err := svc.Create(ctx, user.ID, "big.txt", "text/plain", int64(len(body)), strings.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, int64(len(body)), upload.Size)
	assert.Len(t, upload.TextContent, MaxTextBytes)

	ok, err := store.Exists(ctx, upload.StorageKey)
	require.NoError(t, err)
	assert.True(t, ok)

	_, rc, err := svc.Open(ctx, user.ID, upload.ID)
	require.NoError(t, err)
	stored, err := io.ReadAll(rc)
	rc.Close()
	require.NoError(t, err)
	assert.Equal(t, body, string(stored), "the whole file is stored")

	image, err := svc.Create(ctx, user.ID, "logo.png", "image/png", 4, strings.NewReader("\x89PNG"))
	require.NoError(t, err)
	assert.Empty(t, image.TextContent)
}

func TestCreateRejectsOversizedFiles(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t, 8)
	user := testutil.CreateUser(t, svc.db, "alice")

	_, err := svc.Create(ctx, user.ID, "a.txt", "text/plain", 20, strings.NewReader(strings.Repeat("x", 20)))
	assert.ErrorIs(t, err, ErrTooLarge)

	// a lying size header is caught while streaming
	_, err = svc.Create(ctx, user.ID, "a.txt", "text/plain", 4, strings.NewReader(strings.Repeat("x", 20)))
	assert.ErrorIs(t, err, ErrTooLarge)

	list, err := svc.List(ctx, user.ID)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestAttachmentsAreOwnerScoped(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t, 0)
	alice := testutil.CreateUser(t, svc.db, "alice")
	bob := testutil.CreateUser(t, svc.db, "bob")

	upload, err := svc.Create(ctx, alice.ID, "notes.md", "", 5, strings.NewReader("# hi\n"))
	require.NoError(t, err)
	assert.Equal(t, "# hi\n", upload.TextContent)

	got, err := svc.Attachments(ctx, alice.ID, []uint{upload.ID})
	require.NoError(t, err)
	require.Len(t, got, 1)

	_, err = svc.Attachments(ctx, bob.ID, []uint{upload.ID})
	assert.ErrorIs(t, err, apierr.ErrNotFound)
	_, err = svc.Get(ctx, bob.ID, upload.ID)
	assert.ErrorIs(t, err, apierr.ErrNotFound)

	require.NoError(t, svc.Delete(ctx, alice.ID, upload.ID))
	ok, err := store.Exists(ctx, upload.StorageKey)
	require.NoError(t, err)
	assert.False(t, ok)
}
