package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/pelusa-v/pelusa-sync/internal/storage"
)

const (
	draftKeyPrefix = "draft/"
	settingsKey    = "settings"
)

// DraftStore keeps per-chat unsent text. Writes go to memory; a chat close
// or shutdown flushes to storage, not every keystroke.
type DraftStore struct {
	mu     sync.RWMutex
	drafts map[string]string
	dirty  map[string]struct{}
	kv     storage.KV
}

func NewDraftStore(kv storage.KV) *DraftStore {
	return &DraftStore{
		drafts: map[string]string{},
		dirty:  map[string]struct{}{},
		kv:     kv,
	}
}

// LoadAll restores the full draft set from storage at startup.
func (d *DraftStore) LoadAll(ctx context.Context) error {
	pairs, err := d.kv.List(ctx, draftKeyPrefix)
	if err != nil {
		return fmt.Errorf("load drafts: %w", err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for key, text := range pairs {
		chatID := strings.TrimPrefix(key, draftKeyPrefix)
		if chatID == "" || text == "" {
			continue
		}
		d.drafts[chatID] = text
	}
	return nil
}

// Save overwrites the chat's draft in memory.
func (d *DraftStore) Save(chatID, text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if text == "" {
		delete(d.drafts, chatID)
	} else {
		d.drafts[chatID] = text
	}
	d.dirty[chatID] = struct{}{}
}

// Clear removes the chat's draft; called after a successful send.
func (d *DraftStore) Clear(chatID string) {
	d.Save(chatID, "")
}

// Get returns the chat's draft text.
func (d *DraftStore) Get(chatID string) string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.drafts[chatID]
}

// FlushChat persists one chat's draft.
func (d *DraftStore) FlushChat(ctx context.Context, chatID string) error {
	d.mu.Lock()
	text, ok := d.drafts[chatID]
	delete(d.dirty, chatID)
	d.mu.Unlock()

	key := draftKeyPrefix + chatID
	if !ok || text == "" {
		err := d.kv.Delete(ctx, key)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("clear draft %s: %w", chatID, err)
		}
		return nil
	}
	if err := d.kv.Set(ctx, key, text); err != nil {
		return fmt.Errorf("persist draft %s: %w", chatID, err)
	}
	return nil
}

// Flush persists every draft touched since the last flush.
func (d *DraftStore) Flush(ctx context.Context) error {
	d.mu.RLock()
	dirty := make([]string, 0, len(d.dirty))
	for chatID := range d.dirty {
		dirty = append(dirty, chatID)
	}
	d.mu.RUnlock()

	for _, chatID := range dirty {
		if err := d.FlushChat(ctx, chatID); err != nil {
			return err
		}
	}
	return nil
}

// SettingsStore persists the small preferences object.
type SettingsStore struct {
	kv storage.KV
}

func NewSettingsStore(kv storage.KV) *SettingsStore {
	return &SettingsStore{kv: kv}
}

// Load reads the persisted settings, falling back to defaults.
func (s *SettingsStore) Load(ctx context.Context) (Settings, error) {
	raw, err := s.kv.Get(ctx, settingsKey)
	if errors.Is(err, storage.ErrNotFound) {
		return DefaultSettings(), nil
	}
	if err != nil {
		return DefaultSettings(), fmt.Errorf("load settings: %w", err)
	}
	var settings Settings
	if err := json.Unmarshal([]byte(raw), &settings); err != nil {
		return DefaultSettings(), fmt.Errorf("decode settings: %w", err)
	}
	return settings, nil
}

// Save persists the settings object.
func (s *SettingsStore) Save(ctx context.Context, settings Settings) error {
	raw, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := s.kv.Set(ctx, settingsKey, string(raw)); err != nil {
		return fmt.Errorf("persist settings: %w", err)
	}
	return nil
}
