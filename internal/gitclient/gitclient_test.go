package gitclient

import (
	"os"
	"path/filepath"
	"slices"
	"sort"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/google/go-cmp/cmp"
)

// createTestRepo initializes a git repo in a temp dir with some dummy content
// and returns the path to that directory.
// Structure:
// v1.0.0 (tag)
//   - catalog.json ("v1 content")
//
// v2.0.0 (tag)
//   - catalog.json ("v2 content")
//   - metastores/raw.yaml ("raw content")
//
// feature/test-branch (branch)
//   - branch-file.txt ("branch content")
func createTestRepo(t *testing.T) string {
	t.Helper()

	// Create Temp Directory
	dir := t.TempDir()

	// Initialize Git Repo
	repo, err := git.PlainInit(dir, false)
	if err != nil {
		t.Fatalf("Failed to init git repo: %v", err)
	}

	w, err := repo.Worktree()
	if err != nil {
		t.Fatalf("Failed to get worktree: %v", err)
	}

	// Helper to commit
	commit := func(msg string) {
		_, err := w.Add(".")
		if err != nil {
			t.Fatalf("Failed to add files: %v", err)
		}
		_, err = w.Commit(msg, &git.CommitOptions{
			Author: &object.Signature{
				Name:  "Test User",
				Email: "test@example.com",
				When:  time.Now(),
			},
		})
		if err != nil {
			t.Fatalf("Failed to commit: %v", err)
		}
	}

	// Create v1.0.0 state
	if err := os.WriteFile(filepath.Join(dir, "catalog.json"), []byte("v1 content"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}
	commit("Initial commit")

	head, err := repo.Head()
	if err != nil {
		t.Fatalf("Failed to get HEAD: %v", err)
	}
	if _, err := repo.CreateTag("v1.0.0", head.Hash(), nil); err != nil {
		t.Fatalf("Failed to create tag v1.0.0: %v", err)
	}

	// Create v2.0.0 state
	if err := os.WriteFile(filepath.Join(dir, "catalog.json"), []byte("v2 content"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}
	if err := os.Mkdir(filepath.Join(dir, "metastores"), 0755); err != nil {
		t.Fatalf("Failed to create subdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "metastores", "raw.yaml"), []byte("raw content"), 0644); err != nil {
		t.Fatalf("Failed to write metastore file: %v", err)
	}
	commit("Second commit")

	head, err = repo.Head()
	if err != nil {
		t.Fatalf("Failed to get HEAD: %v", err)
	}
	if _, err := repo.CreateTag("v2.0.0", head.Hash(), nil); err != nil {
		t.Fatalf("Failed to create tag v2.0.0: %v", err)
	}

	// Create a branch
	err = w.Checkout(&git.CheckoutOptions{
		Branch: plumbing.NewBranchReferenceName("feature/test-branch"),
		Create: true,
	})
	if err != nil {
		t.Fatalf("Failed to checkout branch: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "branch-file.txt"), []byte("branch content"), 0644); err != nil {
		t.Fatalf("Failed to write branch file: %v", err)
	}
	commit("Branch commit")

	// Switch back to master so it's the HEAD when cloned
	err = w.Checkout(&git.CheckoutOptions{
		Branch: plumbing.NewBranchReferenceName("master"),
	})
	if err != nil {
		t.Fatalf("Failed to checkout master: %v", err)
	}

	return dir
}

func TestClient(t *testing.T) {
	repoPath := createTestRepo(t)

	loader, err := New(repoPath, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	t.Run("URL", func(t *testing.T) {
		if loader.URL() != repoPath {
			t.Errorf("URL() = %q, want %q", loader.URL(), repoPath)
		}
	})

	t.Run("Update", func(t *testing.T) {
		if err := loader.Update(); err != nil {
			t.Errorf("Update() on unchanged remote failed: %v", err)
		}
	})

	t.Run("Commit", func(t *testing.T) {
		v1, err := loader.Commit("v1.0.0")
		if err != nil {
			t.Fatalf("Commit(v1.0.0) failed: %v", err)
		}
		v2, err := loader.Commit("v2.0.0")
		if err != nil {
			t.Fatalf("Commit(v2.0.0) failed: %v", err)
		}
		if len(v1) != 40 || v1 == v2 {
			t.Errorf("Commit() = %q, %q; want two distinct SHA-1 hashes", v1, v2)
		}
		if _, err := loader.Commit("no-such-branch"); err == nil {
			t.Error("Commit(no-such-branch) error = nil, want error")
		}
	})

	t.Run("ReadFile missing", func(t *testing.T) {
		if _, err := loader.ReadFile("v1.0.0", "metastores/raw.yaml"); err == nil {
			t.Error("ReadFile of file added in v2.0.0 at v1.0.0 error = nil, want error")
		}
	})

	t.Run("ListReferences", func(t *testing.T) {
		refs, err := loader.ListReferences()
		if err != nil {
			t.Fatalf("ListReferences failed: %v", err)
		}

		slices.Sort(refs)

		// ListReferences returns branches (master, feature/test-branch) and tags.
		expected := []string{"feature/test-branch", "master", "v1.0.0", "v2.0.0"}
		if diff := cmp.Diff(expected, refs); diff != "" {
			t.Errorf("ListReferences mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("ReadFile v1.0.0", func(t *testing.T) {
		content, err := loader.ReadFile("v1.0.0", "catalog.json")
		if err != nil {
			t.Fatalf("ReadFile failed: %v", err)
		}
		if string(content) != "v1 content" {
			t.Errorf("Expected 'v1 content', got %q", string(content))
		}
	})

	t.Run("ReadFile Branch", func(t *testing.T) {
		content, err := loader.ReadFile("feature/test-branch", "branch-file.txt")
		if err != nil {
			t.Fatalf("ReadFile failed: %v", err)
		}
		if string(content) != "branch content" {
			t.Errorf("Expected 'branch content', got %q", string(content))
		}
	})

	t.Run("ReadFile v2.0.0", func(t *testing.T) {
		content, err := loader.ReadFile("v2.0.0", "catalog.json")
		if err != nil {
			t.Fatalf("ReadFile failed: %v", err)
		}
		if string(content) != "v2 content" {
			t.Errorf("Expected 'v2 content', got %q", string(content))
		}
	})

	t.Run("ReadFile Nested", func(t *testing.T) {
		content, err := loader.ReadFile("v2.0.0", "metastores/raw.yaml")
		if err != nil {
			t.Fatalf("ReadFile failed: %v", err)
		}
		if string(content) != "raw content" {
			t.Errorf("Expected 'raw content', got %q", string(content))
		}
	})

	t.Run("ListFilesRecursive", func(t *testing.T) {
		files, err := loader.ListFilesRecursive("v2.0.0", "")
		if err != nil {
			t.Fatalf("ListFilesRecursive failed: %v", err)
		}
		sort.Strings(files)

		expected := []string{"catalog.json", "metastores/raw.yaml"}
		sort.Strings(expected)

		if diff := cmp.Diff(expected, files); diff != "" {
			t.Errorf("ListFilesRecursive mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("ListFilesRecursive Subdir", func(t *testing.T) {
		files, err := loader.ListFilesRecursive("v2.0.0", "metastores")
		if err != nil {
			t.Fatalf("ListFilesRecursive failed: %v", err)
		}

		expected := []string{"raw.yaml"}

		if diff := cmp.Diff(expected, files); diff != "" {
			t.Errorf("ListFilesRecursive (subdir) mismatch (-want +got):\n%s", diff)
		}
	})
}
