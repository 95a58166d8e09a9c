// Package persist saves finished session artifacts. Saving is opt-in and
// best-effort; a failed save never surfaces to the operator.
package persist

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"

	"github.com/supabase-community/supabase-go"

	"github.com/rservant/speech-evaluator-sub004/internal/session"
)

type Config struct {
	URL            string
	ServiceRoleKey string
	Bucket         string
}

// SupabaseStore uploads transcript, evaluation, and audio objects under a
// per-session prefix in a Supabase storage bucket.
type SupabaseStore struct {
	client *supabase.Client
	bucket string
}

func NewSupabaseStore(config Config) (*SupabaseStore, error) {
	client, err := supabase.NewClient(config.URL, config.ServiceRoleKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("create supabase client: %w", err)
	}
	return &SupabaseStore{client: client, bucket: config.Bucket}, nil
}

func (s *SupabaseStore) SaveSession(_ context.Context, snap session.Snapshot) (session.SavedPaths, error) {
	var paths session.SavedPaths

	transcript, err := json.MarshalIndent(snap.Segments, "", "  ")
	if err != nil {
		return paths, fmt.Errorf("marshal transcript: %w", err)
	}
	paths.Transcript = path.Join(snap.SessionID, "transcript.json")
	if err := s.upload(paths.Transcript, transcript); err != nil {
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
	paths.Evaluation = path.Join(snap.SessionID, "evaluation.json")
	if err := s.upload(paths.Evaluation, evaluation); err != nil {
		return paths, err
	}

	if len(snap.Audio) > 0 {
		paths.Audio = path.Join(snap.SessionID, "evaluation.pcm")
		if err := s.upload(paths.Audio, snap.Audio); err != nil {
			return paths, err
		}
	}
	return paths, nil
}

func (s *SupabaseStore) upload(key string, data []byte) error {
	if _, err := s.client.Storage.UploadFile(s.bucket, key, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}
