package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hubenschmidt/voice-relay/internal/store"
)

// roleFile is one prompt file to be seeded as a default role.
type roleFile struct {
	name   string
	prompt string
}

func main() {
	dir := flag.String("dir", "", "directory containing .txt role prompt files")
	dsn := flag.String("dsn", envOr("DATABASE_URL", "file:voice-relay.db?_busy_timeout=5000"), "database URL")
	flag.Parse()

	if *dir == "" {
		fmt.Fprintln(os.Stderr, "usage: roleseed -dir ./roles/")
		os.Exit(1)
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	files, err := readRoleFiles(*dir)
	if err != nil {
		slog.Error("read role files", "error", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no .txt files found in", *dir)
		os.Exit(1)
	}

	st, err := store.Open(ctx, *dsn)
	if err != nil {
		slog.Error("open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	added, err := seedRoles(ctx, st, files)
	if err != nil {
		slog.Error("seed roles", "error", err)
		os.Exit(1)
	}
	slog.Info("done", "added", added, "files", len(files))
}

func readRoleFiles(dir string) ([]roleFile, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.txt"))
	if err != nil {
		return nil, err
	}
	files := make([]roleFile, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		prompt := strings.TrimSpace(string(data))
		if prompt == "" {
			slog.Warn("empty prompt file skipped", "file", p)
			continue
		}
		files = append(files, roleFile{
			name:   strings.TrimSuffix(filepath.Base(p), filepath.Ext(p)),
			prompt: prompt,
		})
	}
	return files, nil
}

// seedRoles inserts every file as a default role unless a default role with
// that name already exists.
func seedRoles(ctx context.Context, st store.RoleStore, files []roleFile) (int, error) {
	existing, err := st.ListRoles(ctx, "")
	if err != nil {
		return 0, err
	}
	names := make(map[string]bool, len(existing))
	for _, r := range existing {
		if r.IsDefault {
			names[r.Name] = true
		}
	}

	added := 0
	for _, f := range files {
		if names[f.name] {
			slog.Info("role exists, skipping", "name", f.name)
			continue
		}
		if err := st.InsertRole(ctx, &store.Role{Name: f.name, Prompt: f.prompt, IsDefault: true}); err != nil {
			return added, fmt.Errorf("insert %s: %w", f.name, err)
		}
		names[f.name] = true
		added++
		slog.Info("seeded", "name", f.name)
	}
	return added, nil
}

func envOr(key, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}
