package knowledge

import (
	"context"
	"crypto/sha256"
	"database/sql"
	_ "embed"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"lessonforge/pkg/persistence"
)

// BuiltinSource names the embedded default corpus.
const BuiltinSource = "builtin"

//go:embed default_corpus.yaml
var defaultCorpus []byte

// Document is one corpus entry.
type Document struct {
	Title  string   `yaml:"title"`
	Body   string   `yaml:"body"`
	Tags   []string `yaml:"tags"`
	Source string   `yaml:"-"`
}

// corpusFile is the YAML layout of a corpus file.
type corpusFile struct {
	Documents []Document `yaml:"documents"`
}

// LoadStats reports what a corpus load did.
type LoadStats struct {
	Sources   int
	Skipped   int
	Documents int
}

// Corpus is the full-text documentation store.
type Corpus struct {
	db *persistence.DB
}

// NewCorpus wraps db.
func NewCorpus(db *persistence.DB) *Corpus {
	return &Corpus{db: db}
}

// LoadDefault indexes the embedded corpus.
func (c *Corpus) LoadDefault(ctx context.Context) (LoadStats, error) {
	return c.load(ctx, map[string][]byte{BuiltinSource: defaultCorpus})
}

// LoadPath indexes a YAML file, or every *.yaml / *.yml file under a
// directory. Sources whose checksum is unchanged are skipped.
func (c *Corpus) LoadPath(ctx context.Context, path string) (LoadStats, error) {
	info, err := os.Stat(path)
	if err != nil {
		return LoadStats{}, fmt.Errorf("failed to stat corpus: %w", err)
	}

	var files []string
	if info.IsDir() {
		err = filepath.WalkDir(path, func(p string, d os.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			ext := strings.ToLower(filepath.Ext(p))
			if !d.IsDir() && (ext == ".yaml" || ext == ".yml") {
				files = append(files, p)
			}
			return nil
		})
		if err != nil {
			return LoadStats{}, fmt.Errorf("failed to walk corpus: %w", err)
		}
	} else {
		files = []string{path}
	}
	sort.Strings(files)

	contents := make(map[string][]byte, len(files))
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return LoadStats{}, fmt.Errorf("failed to read %s: %w", f, err)
		}
		contents[f] = data
	}
	return c.load(ctx, contents)
}

func (c *Corpus) load(ctx context.Context, contents map[string][]byte) (LoadStats, error) {
	var stats LoadStats
	sources := make([]string, 0, len(contents))
	for s := range contents {
		sources = append(sources, s)
	}
	sort.Strings(sources)

	for _, source := range sources {
		data := contents[source]
		sum := sha256.Sum256(data)
		checksum := hex.EncodeToString(sum[:])

		var stored string
		err := c.db.QueryRowContext(ctx, `SELECT checksum FROM knowledge_sources WHERE source = ?`, source).Scan(&stored)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return stats, fmt.Errorf("failed to read source metadata: %w", err)
		}
		if stored == checksum {
			stats.Skipped++
			continue
		}

		var file corpusFile
		if err := yaml.Unmarshal(data, &file); err != nil {
			return stats, fmt.Errorf("failed to parse %s: %w", source, err)
		}
		n, err := c.index(ctx, source, checksum, file.Documents)
		if err != nil {
			return stats, err
		}
		stats.Sources++
		stats.Documents += n
	}
	return stats, nil
}

func (c *Corpus) index(ctx context.Context, source, checksum string, docs []Document) (int, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is safe after commit

	if _, err := tx.ExecContext(ctx, `DELETE FROM knowledge_docs WHERE source = ?`, source); err != nil {
		return 0, fmt.Errorf("failed to clear %s: %w", source, err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO knowledge_docs (title, body, tags, source) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close() //nolint:errcheck // Close in defer is safe

	n := 0
	for i := range docs {
		d := &docs[i]
		if strings.TrimSpace(d.Body) == "" {
			continue
		}
		if _, err := stmt.ExecContext(ctx, d.Title, d.Body, strings.Join(d.Tags, " "), source); err != nil {
			return 0, fmt.Errorf("failed to insert %q: %w", d.Title, err)
		}
		n++
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO knowledge_sources (source, checksum, loaded_at)
		VALUES (?, ?, strftime('%Y-%m-%dT%H:%M:%fZ','now'))
	`, source, checksum); err != nil {
		return 0, fmt.Errorf("failed to record source: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return n, nil
}

// Search runs an FTS5 query built from the key terms of text, best match first.
func (c *Corpus) Search(ctx context.Context, text string, limit int) ([]Document, error) {
	match := ftsQuery(text)
	if match == "" {
		return []Document{}, nil
	}
	if limit <= 0 {
		limit = 3
	}

	rows, err := c.db.QueryContext(ctx, `
		SELECT title, body, tags, source
		FROM knowledge_docs
		WHERE knowledge_docs MATCH ?
		ORDER BY bm25(knowledge_docs)
		LIMIT ?
	`, match, limit)
	if err != nil {
		return nil, fmt.Errorf("FTS query failed: %w", err)
	}
	defer rows.Close() //nolint:errcheck // Close in defer is safe

	var docs []Document
	for rows.Next() {
		var d Document
		var tags string
		if err := rows.Scan(&d.Title, &d.Body, &tags, &d.Source); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		d.Tags = strings.Fields(tags)
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return docs, nil
}

// Count returns the number of indexed documents.
func (c *Corpus) Count(ctx context.Context) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM knowledge_docs`).Scan(&n)
	return n, err
}
