package main

import (
	"archive/tar"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/mtzanidakis/webextract/internal/config"
	"github.com/mtzanidakis/webextract/internal/store"
)

const (
	manifestEntry = "manifest.json"
	databaseEntry = "webextract.db"
)

type manifest struct {
	Version   string    `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	Size      int64     `json:"size"`
}

func runBackup(args []string) error {
	opts, err := parseFlags(args)
	if err != nil {
		return err
	}
	outputPath := opts["f"]
	if outputPath == "" {
		fmt.Fprintf(os.Stderr, "Usage: webextract backup -f <output.tar.zst>\n")
		return fmt.Errorf("missing -f flag")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	db, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	size, err := backup(db, outputPath)
	if err != nil {
		return err
	}
	fmt.Printf("Backup complete: %s\n", formatSize(size))
	return nil
}

// backup snapshots db into a zstd-compressed tar at outputPath and returns the
// archive size.
func backup(db *store.Store, outputPath string) (int64, error) {
	tmp, err := os.MkdirTemp("", "webextract-backup-")
	if err != nil {
		return 0, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	snapshot := filepath.Join(tmp, databaseEntry)
	if err := db.Snapshot(snapshot); err != nil {
		return 0, err
	}

	f, err := os.Create(outputPath)
	if err != nil {
		return 0, fmt.Errorf("create output file: %w", err)
	}
	defer f.Close()

	zw, err := zstd.NewWriter(f)
	if err != nil {
		return 0, fmt.Errorf("create zstd writer: %w", err)
	}
	defer zw.Close()

	tw := tar.NewWriter(zw)
	defer tw.Close()

	info, err := os.Stat(snapshot)
	if err != nil {
		return 0, fmt.Errorf("stat snapshot: %w", err)
	}
	m, err := json.Marshal(manifest{Version: version, CreatedAt: time.Now().UTC(), Size: info.Size()})
	if err != nil {
		return 0, fmt.Errorf("marshal manifest: %w", err)
	}
	if err := writeEntry(tw, manifestEntry, int64(len(m)), bytes.NewReader(m)); err != nil {
		return 0, err
	}

	src, err := os.Open(snapshot)
	if err != nil {
		return 0, fmt.Errorf("open snapshot: %w", err)
	}
	defer src.Close()
	if err := writeEntry(tw, databaseEntry, info.Size(), src); err != nil {
		return 0, err
	}

	// Close everything explicitly to catch write errors
	if err := tw.Close(); err != nil {
		return 0, fmt.Errorf("close tar: %w", err)
	}
	if err := zw.Close(); err != nil {
		return 0, fmt.Errorf("close zstd: %w", err)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("close file: %w", err)
	}

	out, err := os.Stat(outputPath)
	if err != nil {
		return 0, fmt.Errorf("stat archive: %w", err)
	}
	return out.Size(), nil
}

func writeEntry(tw *tar.Writer, name string, size int64, r io.Reader) error {
	hdr := &tar.Header{
		Name:    name,
		Mode:    0o644,
		Size:    size,
		ModTime: time.Now(),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("write header %s: %w", name, err)
	}
	if _, err := io.Copy(tw, r); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

func runRestore(args []string) error {
	opts, err := parseFlags(args, "overwrite")
	if err != nil {
		return err
	}
	inputPath := opts["f"]
	if inputPath == "" {
		fmt.Fprintf(os.Stderr, "Usage: webextract restore -f <input.tar.zst> [-overwrite]\n")
		return fmt.Errorf("missing -f flag")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	m, err := restore(inputPath, cfg.Store.Path, opts["overwrite"] != "")
	if err != nil {
		return err
	}
	slog.Info("restored snapshot", "path", cfg.Store.Path, "version", m.Version, "created_at", m.CreatedAt)
	fmt.Printf("Restore complete: %s\n", formatSize(m.Size))
	return nil
}

// restore extracts the database from an archive written by backup into dest.
// The service must not be running against dest.
func restore(inputPath, dest string, overwrite bool) (manifest, error) {
	var m manifest
	if _, err := os.Stat(dest); err == nil && !overwrite {
		return m, fmt.Errorf("%s exists, pass -overwrite to replace it", dest)
	}

	f, err := os.Open(inputPath)
	if err != nil {
		return m, fmt.Errorf("open input file: %w", err)
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return m, fmt.Errorf("create zstd reader: %w", err)
	}
	defer zr.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return m, fmt.Errorf("create data dir: %w", err)
	}

	tr := tar.NewReader(zr)
	var restored bool
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return m, fmt.Errorf("read tar entry: %w", err)
		}

		switch hdr.Name {
		case manifestEntry:
			if err := json.NewDecoder(tr).Decode(&m); err != nil {
				return m, fmt.Errorf("decode manifest: %w", err)
			}
		case databaseEntry:
			if err := writeDatabase(tr, dest); err != nil {
				return m, err
			}
			restored = true
		default:
			slog.Warn("skipping unknown archive entry", "name", hdr.Name)
		}
	}
	if !restored {
		return m, errors.New("archive contains no database")
	}
	return m, nil
}

// writeDatabase replaces dest atomically and drops stale WAL files.
func writeDatabase(r io.Reader, dest string) error {
	tmp := dest + ".restore"
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("write database: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close database: %w", err)
	}

	for _, suffix := range []string{"-wal", "-shm"} {
		if err := os.Remove(dest + suffix); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove %s: %w", dest+suffix, err)
		}
	}
	if err := os.Rename(tmp, dest); err != nil {
		return fmt.Errorf("replace database: %w", err)
	}
	return nil
}

// parseFlags reads "-name value" pairs; names listed in boolFlags take no
// value.
func parseFlags(args []string, boolFlags ...string) (map[string]string, error) {
	isBool := make(map[string]bool, len(boolFlags))
	for _, b := range boolFlags {
		isBool[b] = true
	}

	opts := make(map[string]string)
	for i := 0; i < len(args); i++ {
		if len(args[i]) < 2 || args[i][0] != '-' {
			return nil, fmt.Errorf("unexpected argument %q", args[i])
		}
		name := args[i][1:]
		if isBool[name] {
			opts[name] = "true"
			continue
		}
		if i+1 >= len(args) {
			return nil, fmt.Errorf("missing value for -%s", name)
		}
		i++
		opts[name] = args[i]
	}
	return opts, nil
}

func formatSize(n int64) string {
	const (
		kb = 1024
		mb = kb * 1024
		gb = mb * 1024
	)
	switch {
	case n >= gb:
		return fmt.Sprintf("%.1f GB", float64(n)/float64(gb))
	case n >= mb:
		return fmt.Sprintf("%.1f MB", float64(n)/float64(mb))
	case n >= kb:
		return fmt.Sprintf("%.1f KB", float64(n)/float64(kb))
	default:
		return fmt.Sprintf("%d bytes", n)
	}
}
