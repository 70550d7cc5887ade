package repoutil

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/require"

	"github.com/getsentry/craft/pkg/craft"
)

func testSignature() *object.Signature {
	return &object.Signature{Name: "craft-test", Email: "craft-test@example.com", When: time.Unix(0, 0)}
}

// newLocalOriginRepo creates a local bare-ish repo with one commit, so
// CloneAtRevision can be exercised without network access.
func newLocalOriginRepo(t *testing.T) (dir string, revision craft.Revision) {
	t.Helper()
	dir = t.TempDir()

	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello"), 0o644))

	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add("README.md")
	require.NoError(t, err)

	hash, err := wt.Commit("initial", &git.CommitOptions{
		Author: testSignature(),
	})
	require.NoError(t, err)

	return dir, craft.Revision(hash.String())
}

func TestCloneAtRevision_ChecksOutGivenCommit(t *testing.T) {
	origin, revision := newLocalOriginRepo(t)

	dst := filepath.Join(t.TempDir(), "clone")
	err := CloneAtRevision(context.Background(), "file://"+origin, revision, dst)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dst, "README.md"))
	require.NoError(t, err)
	require.Equal(t, "hello", string(data))
}
