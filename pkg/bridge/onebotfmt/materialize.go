// Copyright 2024-2026 Aiku AI

package onebotfmt

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Materializer writes in-memory attachment buffers to a location the OneBot
// implementation can read. It prefers the configured shared directory and
// falls back to a private temp directory, logging the fallback once.
type Materializer struct {
	sharedDir string
	log       zerolog.Logger

	mu           sync.Mutex
	tempDir      string
	warnedShared bool
}

// NewMaterializer creates a materializer. sharedDir may be empty, in which
// case every buffer lands in the temp directory.
func NewMaterializer(sharedDir string, log zerolog.Logger) *Materializer {
	return &Materializer{
		sharedDir: sharedDir,
		log:       log.With().Str("component", "media_materializer").Logger(),
	}
}

// Materialize writes data to disk and returns the absolute path. The
// filename hint only contributes its extension; names are always unique.
func (m *Materializer) Materialize(data []byte, filename string) (string, error) {
	dir, err := m.targetDir()
	if err != nil {
		return "", err
	}
	name := uuid.New().String() + filepath.Ext(filename)
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing media buffer: %w", err)
	}
	return path, nil
}

func (m *Materializer) targetDir() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sharedDir != "" {
		if err := os.MkdirAll(m.sharedDir, 0o755); err == nil {
			return m.sharedDir, nil
		} else if !m.warnedShared {
			m.warnedShared = true
			m.log.Warn().
				Err(err).
				Str("shared_dir", m.sharedDir).
				Msg("Shared media dir unusable, falling back to temp dir")
		}
	}

	if m.tempDir == "" {
		dir, err := os.MkdirTemp("", "onebot-telegram-media-")
		if err != nil {
			return "", fmt.Errorf("creating media temp dir: %w", err)
		}
		m.tempDir = dir
	}
	return m.tempDir, nil
}
