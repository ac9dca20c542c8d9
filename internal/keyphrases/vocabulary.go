package keyphrases

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"medreport-backend/internal/shared/telemetry"
)

// DefaultTerms is the built-in keyword list used when no vocabulary file is configured.
var DefaultTerms = []string{
	"blood pressure", "heart rate", "temperature", "oxygen",
	"glucose", "cholesterol", "hemoglobin", "diagnosis",
	"prescription", "medication", "treatment", "test results",
	"x-ray", "mri", "ct scan", "ultrasound", "ecg", "ekg",
	"diabetes", "hypertension", "fever", "infection",
	"normal", "abnormal", "elevated", "low", "high",
}

// Vocabulary is a concurrency-safe, ordered keyword list. Order matters: the
// first matching term decides whether a segment becomes a phrase.
type Vocabulary struct {
	mu    sync.RWMutex
	terms []string
}

// NewVocabulary lowercases and dedupes terms. An empty list falls back to DefaultTerms.
func NewVocabulary(terms []string) *Vocabulary {
	v := &Vocabulary{}
	v.set(terms)
	return v
}

// Terms returns a copy of the current terms.
func (v *Vocabulary) Terms() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]string, len(v.terms))
	copy(out, v.terms)
	return out
}

func (v *Vocabulary) set(terms []string) {
	clean := cleanTerms(terms)
	if len(clean) == 0 {
		clean = cleanTerms(DefaultTerms)
	}
	v.mu.Lock()
	v.terms = clean
	v.mu.Unlock()
}

func cleanTerms(terms []string) []string {
	seen := make(map[string]struct{}, len(terms))
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

type vocabularyFile struct {
	Terms []string `yaml:"terms"`
}

// LoadVocabularyFile reads a YAML file of the form `terms: [...]`.
func LoadVocabularyFile(path string) (*Vocabulary, error) {
	terms, err := readTerms(path)
	if err != nil {
		return nil, err
	}
	return NewVocabulary(terms), nil
}

func readTerms(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read vocabulary %s: %w", path, err)
	}
	var parsed vocabularyFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parse vocabulary %s: %w", path, err)
	}
	if len(cleanTerms(parsed.Terms)) == 0 {
		return nil, fmt.Errorf("vocabulary %s has no terms", path)
	}
	return parsed.Terms, nil
}

// Watch reloads the vocabulary whenever path is written or replaced, until ctx is done.
// A file that fails to parse leaves the current terms untouched.
func (v *Vocabulary) Watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	target := filepath.Clean(path)
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(evt.Name) != target {
					continue
				}
				if evt.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				terms, err := readTerms(target)
				if err != nil {
					telemetry.Warn("keyphrases.vocabulary.reload_failed", map[string]any{"path": target, "error": err.Error()})
					continue
				}
				v.set(terms)
				telemetry.Info("keyphrases.vocabulary.reloaded", map[string]any{"path": target, "terms": len(v.Terms())})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				telemetry.Warn("keyphrases.vocabulary.watch_error", map[string]any{"error": err.Error()})
			}
		}
	}()
	// Watch the directory so editors that replace the file are still seen.
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		watcher.Close()
		return err
	}
	return nil
}
