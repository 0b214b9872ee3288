// Package scratch manages the per-invocation working directory that holds the
// downloaded archive and its decompressed sibling.
//
// Every run gets its own directory named after the invocation token, so two
// concurrent runs for objects with the same key stem never share a file.
// Cleanup removes the directory and everything in it.
package scratch

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fpang/cloudtrail-notifier/internal/stageerr"
)

// ArchiveSuffix is the suffix every CloudTrail delivery object carries.
const ArchiveSuffix = ".json.gz"

// KeyStem returns the final path segment of key without ArchiveSuffix:
// "AWSLogs/123/CloudTrail/us-east-1/2015/01/01/abc.json.gz" yields "abc".
// Keys that do not end in ArchiveSuffix fail with InvalidKeyFormat.
func KeyStem(key string) (string, error) {
	base := path.Base(key)
	if !strings.HasSuffix(key, ArchiveSuffix) || !strings.HasSuffix(base, ArchiveSuffix) {
		return "", stageerr.Newf(stageerr.InvalidKeyFormat, "key %q does not end in %s", key, ArchiveSuffix)
	}
	stem := strings.TrimSuffix(base, ArchiveSuffix)
	if stem == "" {
		return "", stageerr.Newf(stageerr.InvalidKeyFormat, "key %q has an empty name", key)
	}
	return stem, nil
}

// Workspace is a scratch directory owned by exactly one pipeline run.
type Workspace struct {
	Dir   string
	Token string
}

// New creates a workspace under root (os.TempDir() when empty). An empty
// token is replaced with a random UUID.
func New(root, token string) (*Workspace, error) {
	if root == "" {
		root = os.TempDir()
	}
	if token == "" {
		token = uuid.NewString()
	}
	dir, err := os.MkdirTemp(root, "trail-"+sanitize(token)+"-")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	log.Debug().Str("dir", dir).Str("token", token).Msg("Scratch workspace created")
	return &Workspace{Dir: dir, Token: token}, nil
}

// ArchivePath is where the fetched object for stem is written.
func (w *Workspace) ArchivePath(stem string) string {
	return filepath.Join(w.Dir, stem+ArchiveSuffix)
}

// Cleanup removes the workspace. Safe to call more than once.
func (w *Workspace) Cleanup() {
	if w == nil || w.Dir == "" {
		return
	}
	if err := os.RemoveAll(w.Dir); err != nil {
		log.Warn().Err(err).Str("dir", w.Dir).Msg("Failed to remove scratch workspace")
		return
	}
	log.Debug().Str("dir", w.Dir).Msg("Scratch workspace removed")
}

func sanitize(token string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, token)
}
