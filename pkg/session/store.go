package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Config configures a Store.
type Config struct {
	// Dataset is the backing table. Required.
	Dataset Dataset

	// Codec serializes attributes. Defaults to GobCodec.
	Codec Codec

	// Token produces identifier candidates. Defaults to HexToken.
	Token TokenFunc

	// MaxIDAttempts bounds identifier generation. Defaults to
	// DefaultMaxIDAttempts.
	MaxIDAttempts int

	// Logger receives diagnostics. Defaults to slog.Default().
	Logger *slog.Logger

	// Verbose logs requested sessions that were not found.
	Verbose bool

	// Debug logs the keys dropped and updated on every save.
	Debug bool
}

// Store loads and saves sessions in a Dataset. It holds no locks; concurrent
// requests on the same session are reconciled by merging on save.
type Store struct {
	dataset Dataset
	codec   Codec
	ids     IDGenerator
	merger  Merger
	logger  *slog.Logger
	verbose bool
}

// New creates a Store.
func New(cfg Config) (*Store, error) {
	if cfg.Dataset == nil {
		return nil, ErrNoDataset
	}
	if cfg.Codec == nil {
		cfg.Codec = GobCodec{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Store{
		dataset: cfg.Dataset,
		codec:   cfg.Codec,
		merger:  Merger{Logger: cfg.Logger, Debug: cfg.Debug},
		logger:  cfg.Logger,
		verbose: cfg.Verbose,
	}
	s.ids = IDGenerator{
		Token:       cfg.Token,
		Exists:      s.exists,
		MaxAttempts: cfg.MaxIDAttempts,
	}
	return s, nil
}

// GenerateID mints an identifier not used by any current record.
func (s *Store) GenerateID(ctx context.Context) (string, error) {
	return s.ids.Generate(ctx)
}

// Load returns the session stored under sid. An empty, unknown or
// undecodable sid starts a new empty session under a fresh identifier, so the
// returned State always carries a usable ID. Only dataset failures are
// returned as errors.
func (s *Store) Load(ctx context.Context, sid string) (*State, error) {
	var attrs Attributes
	if sid != "" {
		var err error
		attrs, err = s.read(ctx, sid)
		if err != nil {
			return nil, err
		}
	}

	if attrs == nil {
		if s.verbose && sid != "" {
			s.logger.Info("session not found, initializing", "session_id", sid)
		}
		var err error
		sid, err = s.create(ctx)
		if err != nil {
			return nil, err
		}
		attrs = Attributes{}
	}

	return &State{
		ID:         sid,
		Attributes: attrs,
		baseline:   attrs.Clone(),
	}, nil
}

// Save merges the changes st made since it was loaded into the record for
// sid and returns the identifier the session now lives under. With
// opts.Renew the record is replaced under a fresh identifier; stored keys
// this request did not touch are carried over to it.
func (s *Store) Save(ctx context.Context, sid string, st *State, opts SaveOptions) (string, error) {
	current, err := s.read(ctx, sid)
	if err != nil {
		return "", err
	}

	if opts.Renew {
		if err := s.dataset.Delete(ctx, sid); err != nil {
			return "", fmt.Errorf("deleting session: %w", err)
		}
		sid, err = s.create(ctx)
		if err != nil {
			return "", err
		}
	}

	var baseline, incoming any = Attributes{}, nil
	if st != nil {
		if st.baseline != nil {
			baseline = st.baseline
		}
		if st.Attributes != nil {
			incoming = st.Attributes
		}
	}
	merged := s.merger.Merge(sid, baseline, incoming, current)

	payload, err := s.codec.Encode(merged)
	if err != nil {
		return "", err
	}
	if err := s.dataset.Update(ctx, sid, payload); err != nil {
		return "", fmt.Errorf("updating session: %w", err)
	}
	return sid, nil
}

// Destroy removes the record for sid.
func (s *Store) Destroy(ctx context.Context, sid string) error {
	if err := s.dataset.Delete(ctx, sid); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// Count returns the number of stored sessions.
func (s *Store) Count(ctx context.Context) (int, error) {
	n, err := s.dataset.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("counting sessions: %w", err)
	}
	return n, nil
}

// read returns the decoded attributes for sid, or nil when the record is
// absent or its payload cannot be decoded.
func (s *Store) read(ctx context.Context, sid string) (Attributes, error) {
	payload, found, err := s.dataset.Lookup(ctx, sid)
	if err != nil {
		return nil, fmt.Errorf("looking up session: %w", err)
	}
	if !found {
		return nil, nil
	}

	attrs, err := s.codec.Decode(payload)
	switch {
	case err == nil:
		return attrs, nil
	case errors.Is(err, ErrNoSession), errors.Is(err, ErrCorruptPayload):
		if errors.Is(err, ErrCorruptPayload) {
			s.logger.Warn("session payload unreadable", "session_id", sid, "error", err)
		}
		return nil, nil
	default:
		return nil, err
	}
}

// create inserts an empty record under a fresh identifier.
func (s *Store) create(ctx context.Context) (string, error) {
	sid, err := s.ids.Generate(ctx)
	if err != nil {
		return "", err
	}
	payload, err := s.codec.Encode(Attributes{})
	if err != nil {
		return "", err
	}
	if err := s.dataset.Insert(ctx, sid, payload); err != nil {
		return "", fmt.Errorf("inserting session: %w", err)
	}
	return sid, nil
}

func (s *Store) exists(ctx context.Context, sid string) (bool, error) {
	_, found, err := s.dataset.Lookup(ctx, sid)
	if err != nil {
		return false, err
	}
	return found, nil
}
