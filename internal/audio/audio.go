// Package audio locates and opens the audio files that get compared.
package audio

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/snarg/stt-compare/internal/transcribe"
)

var (
	// ErrNotAudio is returned for paths that are not regular audio files.
	ErrNotAudio = errors.New("not an audio file")
	// ErrOutsideDir is returned when a requested name escapes the audio directory.
	ErrOutsideDir = errors.New("path outside audio directory")
)

var extensions = map[string]bool{
	".mp3":  true,
	".wav":  true,
	".m4a":  true,
	".flac": true,
	".ogg":  true,
}

// IsAudio reports whether path has a supported audio extension.
func IsAudio(path string) bool {
	return extensions[strings.ToLower(filepath.Ext(path))]
}

// Open stats the file at path and returns its description with a sniffed
// content type. The file itself is read again by each provider.
func Open(path string) (transcribe.Audio, error) {
	info, err := os.Stat(path)
	if err != nil {
		return transcribe.Audio{}, fmt.Errorf("stat audio: %w", err)
	}
	if !info.Mode().IsRegular() {
		return transcribe.Audio{}, fmt.Errorf("%w: %s is not a regular file", ErrNotAudio, path)
	}
	if info.Size() == 0 {
		return transcribe.Audio{}, fmt.Errorf("%w: %s is empty", ErrNotAudio, path)
	}

	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return transcribe.Audio{}, fmt.Errorf("detect content type: %w", err)
	}
	ct := mt.String()
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}

	return transcribe.Audio{
		Path:        path,
		Name:        filepath.Base(path),
		Size:        info.Size(),
		ContentType: ct,
	}, nil
}

// Discover lists the audio files directly inside dir, sorted by name.
func Discover(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read audio dir: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || !IsAudio(e.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

// ResolveFile maps name, taken relative to audioDir, to a regular file inside
// audioDir. Absolute names and names that climb out of audioDir, directly or
// through a symlink, fail with ErrOutsideDir.
func ResolveFile(audioDir, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("resolve audio: empty name: %w", fs.ErrNotExist)
	}
	if audioDir == "" {
		return "", fmt.Errorf("%w: no audio directory configured", ErrOutsideDir)
	}
	if filepath.IsAbs(name) || filepath.VolumeName(name) != "" {
		return "", fmt.Errorf("%w: %s is absolute", ErrOutsideDir, name)
	}

	root, err := filepath.Abs(audioDir)
	if err != nil {
		return "", fmt.Errorf("resolve audio dir: %w", err)
	}
	full := filepath.Join(root, name)
	if !within(root, full) {
		return "", fmt.Errorf("%w: %s", ErrOutsideDir, name)
	}

	info, err := os.Stat(full)
	if err != nil {
		return "", fmt.Errorf("resolve audio: %w", err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("resolve audio: %s is not a regular file: %w", name, fs.ErrNotExist)
	}

	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return "", fmt.Errorf("resolve audio dir: %w", err)
	}
	realFull, err := filepath.EvalSymlinks(full)
	if err != nil {
		return "", fmt.Errorf("resolve audio: %w", err)
	}
	if !within(realRoot, realFull) {
		return "", fmt.Errorf("%w: %s links outside", ErrOutsideDir, name)
	}
	return full, nil
}

// within reports whether p is root or below it. Both must be clean.
func within(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
