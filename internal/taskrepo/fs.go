// Package taskrepo implements the read-only Task Repository capability (§4.2)
// over a directory of exercise tasks on disk.
package taskrepo

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/exercisejudge/judge/internal/domain"
)

// FS reads tasks from a directory laid out as:
//
//	{root}/{task_id}/meta.json
//	{root}/{task_id}/statement.md
//	{root}/{task_id}/tests/*.in paired with *.out
type FS struct {
	root string
}

// New returns a Task Repository rooted at dir.
func New(dir string) *FS {
	return &FS{root: dir}
}

// LoadMeta implements domain.TaskRepository.
func (f *FS) LoadMeta(_ domain.Context, taskID string) (domain.TaskMeta, error) {
	path := filepath.Join(f.root, taskID, "meta.json")
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.TaskMeta{}, fmt.Errorf("%w: task %q", domain.ErrNotFound, taskID)
		}
		return domain.TaskMeta{}, fmt.Errorf("taskrepo: read meta for %q: %w", taskID, err)
	}
	var meta domain.TaskMeta
	if err := json.Unmarshal(b, &meta); err != nil {
		return domain.TaskMeta{}, fmt.Errorf("taskrepo: parse meta for %q: %w", taskID, err)
	}
	if meta.ID == "" {
		meta.ID = taskID
	}
	if meta.Type == "" {
		meta.Type = "io"
	}
	if meta.TimeLimitMs == 0 {
		meta.TimeLimitMs = 3000
	}
	return meta, nil
}

// LoadTests implements domain.TaskRepository. Test ordering is lexicographic
// by input filename; an .in file with no matching .out is skipped.
func (f *FS) LoadTests(_ domain.Context, taskID string) ([]domain.TestCase, error) {
	dir := filepath.Join(f.root, taskID, "tests")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("taskrepo: read tests dir for %q: %w", taskID, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".in") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	tests := make([]domain.TestCase, 0, len(names))
	for _, name := range names {
		outName := strings.TrimSuffix(name, ".in") + ".out"
		outPath := filepath.Join(dir, outName)
		if _, err := os.Stat(outPath); err != nil {
			continue
		}
		in, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("taskrepo: read %s: %w", name, err)
		}
		out, err := os.ReadFile(outPath)
		if err != nil {
			return nil, fmt.Errorf("taskrepo: read %s: %w", outName, err)
		}
		tests = append(tests, domain.TestCase{Input: string(in), Expected: string(out)})
	}
	return tests, nil
}

// ListTasks implements domain.TaskRepository, skipping malformed task
// directories rather than failing the whole listing.
func (f *FS) ListTasks(ctx domain.Context) ([]domain.TaskMeta, error) {
	entries, err := os.ReadDir(f.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("taskrepo: read tasks dir: %w", err)
	}
	var metas []domain.TaskMeta
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		meta, err := f.LoadMeta(ctx, e.Name())
		if err != nil {
			continue
		}
		metas = append(metas, meta)
	}
	return metas, nil
}

// Statement implements domain.TaskRepository.
func (f *FS) Statement(_ domain.Context, taskID string) (string, error) {
	path := filepath.Join(f.root, taskID, "statement.md")
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: statement for task %q", domain.ErrNotFound, taskID)
		}
		return "", fmt.Errorf("taskrepo: read statement for %q: %w", taskID, err)
	}
	return string(b), nil
}
