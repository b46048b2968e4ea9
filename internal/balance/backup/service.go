package backup

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Service periodically archives the balance core's sqlite snapshot store and
// ships it to a Client's bucket, rotating old archives per a retention
// policy (spec §9's warm-restart durability note). Grounded on
// internal/reliability/r2_backup_service.go.
type Service struct {
	client     *Client
	dbPath     string
	prefix     string
	staging    string
	instanceID string
	log        zerolog.Logger
}

// NewService builds a Service that archives the sqlite file at dbPath.
// stagingDir holds the transient gzip archive before upload; it is created
// and cleaned up per run. instanceID tags archive names so that multiple
// balancecore instances backing up to the same bucket/prefix never collide
// on a same-second archive name.
func NewService(client *Client, dbPath, stagingDir, archivePrefix string, log zerolog.Logger) *Service {
	return &Service{
		client:     client,
		dbPath:     dbPath,
		prefix:     archivePrefix,
		staging:    stagingDir,
		instanceID: uuid.NewString()[:8],
		log:        log.With().Str("component", "balance_backup_service").Logger(),
	}
}

// Info describes one archive already stored in the bucket.
type Info struct {
	Key       string
	Timestamp time.Time
	SizeBytes int64
}

// Run creates a gzip archive of the current sqlite store and uploads it.
func (s *Service) Run(ctx context.Context) error {
	start := time.Now()

	if err := os.MkdirAll(s.staging, 0755); err != nil {
		return fmt.Errorf("create backup staging directory: %w", err)
	}
	defer os.RemoveAll(s.staging)

	timestamp := time.Now().Format("2006-01-02-150405")
	archiveName := fmt.Sprintf("%s-%s-%s.tar.gz", s.prefix, timestamp, s.instanceID)
	archivePath := filepath.Join(s.staging, archiveName)

	checksum, err := s.createArchive(archivePath)
	if err != nil {
		return fmt.Errorf("create balance backup archive: %w", err)
	}

	info, err := os.Stat(archivePath)
	if err != nil {
		return fmt.Errorf("stat balance backup archive: %w", err)
	}

	file, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("open balance backup archive: %w", err)
	}
	defer file.Close()

	if err := s.client.Upload(ctx, archiveName, file, info.Size()); err != nil {
		return fmt.Errorf("upload balance backup archive: %w", err)
	}

	s.log.Info().
		Dur("duration_ms", time.Since(start)).
		Str("archive", archiveName).
		Str("checksum", checksum).
		Int64("size_bytes", info.Size()).
		Msg("balance backup completed")
	return nil
}

// List returns every archive in the bucket under this service's prefix,
// newest first.
func (s *Service) List(ctx context.Context) ([]Info, error) {
	objects, err := s.client.List(ctx, s.prefix+"-")
	if err != nil {
		return nil, fmt.Errorf("list balance backups: %w", err)
	}

	out := make([]Info, 0, len(objects))
	for _, obj := range objects {
		ts, ok := s.parseTimestamp(obj.Key)
		if !ok {
			continue
		}
		out = append(out, Info{Key: obj.Key, Timestamp: ts, SizeBytes: obj.Size})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

// Rotate deletes archives older than retention, always keeping at least
// minKeep of the most recent ones regardless of age.
func (s *Service) Rotate(ctx context.Context, retention time.Duration, minKeep int) error {
	backups, err := s.List(ctx)
	if err != nil {
		return err
	}
	if len(backups) <= minKeep {
		return nil
	}

	cutoff := time.Now().Add(-retention)
	deleted := 0
	for i, b := range backups {
		if i < minKeep {
			continue
		}
		if retention <= 0 || !b.Timestamp.Before(cutoff) {
			continue
		}
		if err := s.client.Delete(ctx, b.Key); err != nil {
			s.log.Error().Err(err).Str("key", b.Key).Msg("failed to delete old balance backup")
			continue
		}
		deleted++
	}

	s.log.Info().Int("deleted", deleted).Int("remaining", len(backups)-deleted).Msg("balance backup rotation completed")
	return nil
}

func (s *Service) parseTimestamp(key string) (time.Time, bool) {
	name := strings.TrimSuffix(key, ".tar.gz")
	name = strings.TrimPrefix(name, s.prefix+"-")
	// name is now "2006-01-02-150405-xxxxxxxx"; drop the 8-char instance suffix.
	if idx := strings.LastIndex(name, "-"); idx != -1 {
		name = name[:idx]
	}
	ts, err := time.Parse("2006-01-02-150405", name)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

func (s *Service) createArchive(archivePath string) (string, error) {
	archiveFile, err := os.Create(archivePath)
	if err != nil {
		return "", fmt.Errorf("create archive file: %w", err)
	}
	defer archiveFile.Close()

	hasher := sha256.New()
	gzipWriter := gzip.NewWriter(io.MultiWriter(archiveFile, hasher))
	tarWriter := tar.NewWriter(gzipWriter)

	if err := s.addFileToArchive(tarWriter, s.dbPath, filepath.Base(s.dbPath)); err != nil {
		tarWriter.Close()
		gzipWriter.Close()
		return "", err
	}

	if err := tarWriter.Close(); err != nil {
		return "", fmt.Errorf("close tar writer: %w", err)
	}
	if err := gzipWriter.Close(); err != nil {
		return "", fmt.Errorf("close gzip writer: %w", err)
	}

	return fmt.Sprintf("sha256:%x", hasher.Sum(nil)), nil
}

func (s *Service) addFileToArchive(tw *tar.Writer, sourcePath, archiveName string) error {
	f, err := os.Open(sourcePath)
	if err != nil {
		return fmt.Errorf("open %s for archiving: %w", sourcePath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s for archiving: %w", sourcePath, err)
	}

	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return fmt.Errorf("build tar header for %s: %w", sourcePath, err)
	}
	header.Name = archiveName

	if err := tw.WriteHeader(header); err != nil {
		return fmt.Errorf("write tar header for %s: %w", sourcePath, err)
	}
	if _, err := io.Copy(tw, f); err != nil {
		return fmt.Errorf("copy %s into archive: %w", sourcePath, err)
	}
	return nil
}
