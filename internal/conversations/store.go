// Package conversations persists chat history as a single JSON array stored
// under one key of a storage.KV.
//
// Every mutating call reads the whole array, changes it and writes it back.
// There is no locking between calls, so concurrent writers race and the last
// write wins.
package conversations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"chatmux/internal/metrics"
	"chatmux/internal/storage"
)

var (
	ErrNothingToSave = errors.New("nothing to save: conversation has no messages")
	ErrEmptyTitle    = errors.New("title must not be empty")
	ErrNotFound      = errors.New("conversation not found")
)

type Config struct {
	KV      storage.KV
	Key     string
	Clock   func() time.Time
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
}

type Store struct {
	kv      storage.KV
	key     string
	now     func() time.Time
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

func New(cfg Config) *Store {
	if cfg.Key == "" {
		cfg.Key = storage.KeyConversations
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Global()
	}
	return &Store{
		kv:      cfg.KV,
		key:     cfg.Key,
		now:     cfg.Clock,
		logger:  cfg.Logger.With().Str("component", "conversations").Logger(),
		metrics: cfg.Metrics,
	}
}

// Now exposes the store clock so callers stamp messages consistently.
func (s *Store) Now() time.Time {
	return s.now()
}

// Upsert saves rec, replacing any record with the same id. An empty title is
// derived from the first message. A record without messages is rejected with
// ErrNothingToSave unless autosave is set, in which case it gets a date title.
func (s *Store) Upsert(ctx context.Context, rec Record, autosave bool) (Record, error) {
	if len(rec.Messages) == 0 && !autosave {
		return Record{}, ErrNothingToSave
	}
	now := s.now()
	if strings.TrimSpace(rec.Title) == "" {
		if len(rec.Messages) > 0 {
			rec.Title = AutoTitle(rec.Messages[0].Content)
		} else {
			rec.Title = DefaultTitle(now)
		}
	}
	rec.Messages = slices.Clone(rec.Messages)
	if rec.Messages == nil {
		rec.Messages = []Message{}
	}

	records, err := s.load(ctx)
	if err != nil {
		return Record{}, err
	}
	if rec.ID == "" {
		rec.ID = freshID(records, now)
	}
	idx := indexOf(records, rec.ID)
	rec.LastModified = now
	if idx >= 0 {
		if prev := records[idx].LastModified; prev.After(now) {
			rec.LastModified = prev
		}
		records[idx] = rec
	} else {
		records = append(records, rec)
	}

	if err := s.save(ctx, records); err != nil {
		return Record{}, err
	}
	s.metrics.ConversationWrites.WithLabelValues("upsert").Inc()
	s.logger.Debug().Str("id", rec.ID).Int("messages", len(rec.Messages)).Bool("autosave", autosave).Msg("conversation saved")
	return rec, nil
}

// List returns all records, most recently modified first.
func (s *Store) List(ctx context.Context) ([]Record, error) {
	records, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].LastModified.After(records[j].LastModified)
	})
	return records, nil
}

func (s *Store) Get(ctx context.Context, id string) (Record, bool, error) {
	records, err := s.load(ctx)
	if err != nil {
		return Record{}, false, err
	}
	if idx := indexOf(records, id); idx >= 0 {
		return records[idx], true, nil
	}
	return Record{}, false, nil
}

// Rename sets a new title. When id has no stored record yet, one is created
// from pending so a conversation whose first save was deferred is not lost.
func (s *Store) Rename(ctx context.Context, id, title string, pending []Message) (Record, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return Record{}, ErrEmptyTitle
	}
	now := s.now()

	records, err := s.load(ctx)
	if err != nil {
		return Record{}, err
	}
	if id == "" {
		id = freshID(records, now)
	}
	var rec Record
	if idx := indexOf(records, id); idx >= 0 {
		rec = records[idx]
		rec.Title = title
		if rec.LastModified.Before(now) {
			rec.LastModified = now
		}
		records[idx] = rec
	} else {
		msgs := slices.Clone(pending)
		if msgs == nil {
			msgs = []Message{}
		}
		rec = Record{ID: id, Title: title, LastModified: now, Messages: msgs}
		records = append(records, rec)
	}

	if err := s.save(ctx, records); err != nil {
		return Record{}, err
	}
	s.metrics.ConversationWrites.WithLabelValues("rename").Inc()
	return rec, nil
}

// Remove deletes the record with id and reports whether it existed.
func (s *Store) Remove(ctx context.Context, id string) (bool, error) {
	records, err := s.load(ctx)
	if err != nil {
		return false, err
	}
	kept := slices.DeleteFunc(records, func(r Record) bool { return r.ID == id })
	removed := len(kept) != len(records)
	if !removed {
		return false, nil
	}
	if err := s.save(ctx, kept); err != nil {
		return false, err
	}
	s.metrics.ConversationWrites.WithLabelValues("remove").Inc()
	return true, nil
}

// Search lists the records whose title contains term, ignoring case.
func (s *Store) Search(ctx context.Context, term string) ([]Record, error) {
	records, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	return Filter(records, term), nil
}

// Filter keeps the order of records and drops those whose title does not
// contain term. An empty term matches everything.
func Filter(records []Record, term string) []Record {
	term = strings.ToLower(term)
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if strings.Contains(strings.ToLower(r.Title), term) {
			out = append(out, r)
		}
	}
	return out
}

func (s *Store) load(ctx context.Context) ([]Record, error) {
	raw, ok, err := s.kv.Get(ctx, s.key)
	if err != nil {
		return nil, fmt.Errorf("load conversations: %w", err)
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return []Record{}, nil
	}
	var records []Record
	if err := json.Unmarshal([]byte(raw), &records); err != nil {
		return nil, fmt.Errorf("decode conversations: %w", err)
	}
	return records, nil
}

func (s *Store) save(ctx context.Context, records []Record) error {
	b, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encode conversations: %w", err)
	}
	if err := s.kv.Put(ctx, s.key, string(b)); err != nil {
		return fmt.Errorf("save conversations: %w", err)
	}
	return nil
}

// freshID is NewID(now), moved forward a millisecond at a time until no
// stored record uses it.
func freshID(records []Record, now time.Time) string {
	for ms := now.UnixMilli(); ; ms++ {
		id := strconv.FormatInt(ms, 10)
		if indexOf(records, id) < 0 {
			return id
		}
	}
}

func indexOf(records []Record, id string) int {
	return slices.IndexFunc(records, func(r Record) bool { return r.ID == id })
}
