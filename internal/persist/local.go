package persist

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rservant/speech-evaluator-sub004/internal/session"
)

// LocalStore writes session artifacts under a directory on disk. Used for
// development runs without a storage bucket.
type LocalStore struct {
	Dir string
}

func NewLocalStore(dir string) *LocalStore { return &LocalStore{Dir: dir} }

func (s *LocalStore) SaveSession(_ context.Context, snap session.Snapshot) (session.SavedPaths, error) {
	var paths session.SavedPaths
	dir := filepath.Join(s.Dir, snap.SessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return paths, fmt.Errorf("create session dir: %w", err)
	}

	transcript, err := json.MarshalIndent(snap.Segments, "", "  ")
	if err != nil {
		return paths, fmt.Errorf("marshal transcript: %w", err)
	}
	paths.Transcript = filepath.Join(dir, "transcript.json")
	if err := os.WriteFile(paths.Transcript, transcript, 0o644); err != nil {
		return paths, err
	}

	evaluation, err := json.MarshalIndent(struct {
		Metrics    session.Metrics    `json:"metrics"`
		Evaluation session.Evaluation `json:"evaluation"`
		Script     string             `json:"script"`
	}{snap.Metrics, snap.Evaluation, snap.Script}, "", "  ")
	if err != nil {
		return paths, fmt.Errorf("marshal evaluation: %w", err)
	}
	paths.Evaluation = filepath.Join(dir, "evaluation.json")
	if err := os.WriteFile(paths.Evaluation, evaluation, 0o644); err != nil {
		return paths, err
	}

	if len(snap.Audio) > 0 {
		paths.Audio = filepath.Join(dir, "evaluation.pcm")
		if err := os.WriteFile(paths.Audio, snap.Audio, 0o644); err != nil {
			return paths, err
		}
	}
	return paths, nil
}
