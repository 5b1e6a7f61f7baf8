package probes

import (
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

// DefaultEntropyThreshold is the Shannon entropy (bits per byte) above which
// a document is considered encrypted. Plain text sits around 4 to 5,
// compressed media around 7, ciphertext just under 8.
const DefaultEntropyThreshold = 7.5

// DefaultMaxReadBytes caps how much of each file the entropy scan reads.
// Encryption is uniform, so the first megabyte is as telling as the whole.
const DefaultMaxReadBytes = 1 << 20

// FileScan sweeps a directory tree for the two file-level indicators:
// ransom-style extensions and high-entropy documents.
type FileScan struct {
	// Root is the tree to sweep.
	Root string
	// SuspiciousExts are extensions that mark a file as already encrypted.
	SuspiciousExts []string
	// EntropyExts are the document types whose content gets entropy-checked.
	EntropyExts []string
	// EntropyThreshold overrides DefaultEntropyThreshold when positive.
	EntropyThreshold float64
	// MaxReadBytes overrides DefaultMaxReadBytes when positive.
	MaxReadBytes int64
}

// SuspiciousExtensionCount counts files under Root carrying a suspicious
// extension. Unreadable entries are skipped, a missing root counts zero.
func (f *FileScan) SuspiciousExtensionCount() (float64, error) {
	count := 0
	err := filepath.WalkDir(f.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if f.hasExt(path, f.SuspiciousExts) {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return float64(count), nil
}

// EntropyAlertCount counts documents under Root whose content entropy
// exceeds the threshold. Only files with a configured document extension are
// read; everything else is too noisy to judge (archives and media are high
// entropy by nature).
func (f *FileScan) EntropyAlertCount() (float64, error) {
	threshold := f.EntropyThreshold
	if threshold <= 0 {
		threshold = DefaultEntropyThreshold
	}

	count := 0
	err := filepath.WalkDir(f.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if !f.hasExt(path, f.EntropyExts) {
			return nil
		}
		entropy, err := f.fileEntropy(path)
		if err != nil {
			log.Debug().Err(err).Str("file", path).Msg("Entropy check skipped unreadable file")
			return nil
		}
		if entropy > threshold {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return float64(count), nil
}

func (f *FileScan) hasExt(path string, exts []string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, want := range exts {
		if ext == strings.ToLower(want) {
			return true
		}
	}
	return false
}

func (f *FileScan) fileEntropy(path string) (float64, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	limit := f.MaxReadBytes
	if limit <= 0 {
		limit = DefaultMaxReadBytes
	}
	data, err := io.ReadAll(io.LimitReader(file, limit))
	if err != nil {
		return 0, err
	}
	return shannonEntropy(data), nil
}

// shannonEntropy returns the byte-level entropy of data in bits per byte.
// Empty input scores zero.
func shannonEntropy(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}

	var freq [256]int
	for _, b := range data {
		freq[b]++
	}

	total := float64(len(data))
	entropy := 0.0
	for _, n := range freq {
		if n == 0 {
			continue
		}
		p := float64(n) / total
		entropy -= p * math.Log2(p)
	}
	return entropy
}
