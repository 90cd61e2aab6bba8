package main

import (
	"database/sql"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

func runDBCommand(args []string) error {
	sub := ""
	if len(args) > 0 {
		sub = strings.TrimSpace(args[0])
	}
	switch sub {
	case "migrate":
		return runDBMigrate(args[1:])
	case "path":
		return runDBPath(args[1:])
	case "backup":
		return runDBBackup(args[1:])
	case "restore":
		return runDBRestore(args[1:])
	default:
		return fmt.Errorf("usage: steward db <migrate|path|backup|restore> [flags]")
	}
}

// runDBMigrate opens the store, which applies any pending migrations, and
// reports the resulting schema version.
func runDBMigrate(args []string) error {
	fs := flag.NewFlagSet("db migrate", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to a config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	version, err := store.GetSchemaVersion()
	if err != nil {
		return err
	}
	fmt.Printf("Database %s at schema version %d\n", cfg.Storage.Path, version)
	return nil
}

func runDBPath(args []string) error {
	fs := flag.NewFlagSet("db path", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to a config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	fmt.Println(cfg.Storage.Path)
	return nil
}

func runDBBackup(args []string) error {
	fs := flag.NewFlagSet("db backup", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to a config file")
	out := fs.String("out", "", "output path for the backup .db file (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*out) == "" {
		return fmt.Errorf("usage: steward db backup -out <path>")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	outPath, err := filepath.Abs(*out)
	if err != nil {
		return err
	}
	if _, err := os.Stat(outPath); err == nil {
		return fmt.Errorf("backup destination already exists: %s", outPath)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat backup destination: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("create backup directory: %w", err)
	}

	tmpPath := outPath + ".tmp"
	_ = os.Remove(tmpPath)
	if err := vacuumInto(cfg.Storage.Path, tmpPath); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, outPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("finalize backup: %w", err)
	}

	fmt.Printf("Backed up %s -> %s\n", cfg.Storage.Path, outPath)
	return nil
}

func runDBRestore(args []string) error {
	fs := flag.NewFlagSet("db restore", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to a config file")
	in := fs.String("in", "", "input path to a .db backup file (required)")
	force := fs.Bool("force", false, "overwrite an existing database (required when destination exists)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*in) == "" {
		return fmt.Errorf("usage: steward db restore -in <path> [-force]")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	dbPath, err := filepath.Abs(cfg.Storage.Path)
	if err != nil {
		return err
	}

	inPath, err := filepath.Abs(*in)
	if err != nil {
		return err
	}
	if info, err := os.Stat(inPath); err != nil {
		return fmt.Errorf("stat input: %w", err)
	} else if info.IsDir() {
		return fmt.Errorf("input must be a file: %s", inPath)
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return fmt.Errorf("create db directory: %w", err)
	}

	if _, err := os.Stat(dbPath); err == nil {
		if !*force {
			return fmt.Errorf("destination exists: %s (re-run with -force after stopping steward)", dbPath)
		}
		backupPath := fmt.Sprintf("%s.bak.%s", dbPath, time.Now().UTC().Format("20060102T150405Z"))
		if err := os.Rename(dbPath, backupPath); err != nil {
			return fmt.Errorf("backup existing db: %w", err)
		}
		fmt.Printf("Moved existing database to %s\n", backupPath)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat destination: %w", err)
	}

	tmpPath := dbPath + ".restore.tmp"
	_ = os.Remove(tmpPath)
	if err := copyFile(inPath, tmpPath, 0o600); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, dbPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("finalize restore: %w", err)
	}

	// Stale WAL files from a previous instance would shadow the restored data.
	_ = os.Remove(dbPath + "-wal")
	_ = os.Remove(dbPath + "-shm")

	fmt.Printf("Restored %s -> %s\n", inPath, dbPath)
	return nil
}

func vacuumInto(dbPath, outPath string) error {
	dbPath = strings.TrimSpace(dbPath)
	outPath = strings.TrimSpace(outPath)
	if dbPath == "" {
		return fmt.Errorf("db path cannot be empty")
	}
	if outPath == "" {
		return fmt.Errorf("output path cannot be empty")
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}

	stmt := fmt.Sprintf("VACUUM INTO '%s'", strings.ReplaceAll(outPath, "'", "''"))
	if _, err := db.Exec(stmt); err != nil {
		return fmt.Errorf("VACUUM INTO failed: %w", err)
	}
	return nil
}

func copyFile(src, dst string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("open destination: %w", err)
	}
	defer func() {
		_ = out.Close()
	}()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copy: %w", err)
	}
	if err := out.Sync(); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	return out.Close()
}
