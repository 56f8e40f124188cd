// Copyright 2024-2026 Aiku AI

// Package pairs holds the directed pair-binding directory: which OneBot
// room relays to which Telegram chat (and optional forum thread), with
// per-pair behavior flags and filters.
package pairs

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"

	"github.com/rs/zerolog"

	"github.com/aiku/onebot-telegram/pkg/store"
)

// ErrBindConflict is returned by Bind when the requested binding collides
// with an existing one; the existing record is returned alongside it and no
// state is mutated.
var ErrBindConflict = errors.New("binding conflicts with an existing pair")

// Store is the persistence surface the directory needs. *store.Database
// satisfies it.
type Store interface {
	ListPairs(ctx context.Context, instanceID string) ([]store.PairRecord, error)
	InsertPair(ctx context.Context, rec store.PairRecord) (int64, error)
	UpdatePairModes(ctx context.Context, id int64, forwardMode, nicknameMode string) error
	UpdatePairFilters(ctx context.Context, id int64, ignoreSenders []string, ignoreRegex string) error
}

// Pair is one live room↔chat binding. The id fields are immutable; the
// mode flags and filters are mutated by directory operations while both
// platform handlers read them, so they are guarded by the pair's own lock.
type Pair struct {
	ID       int64
	RoomID   int64
	ChatID   int64
	ThreadID int64

	mu           sync.RWMutex
	forwardMode  Mode
	nicknameMode Mode

	ignoreSenders map[string]struct{}
	ignoreRegex   *regexp.Regexp
	rawRegex      string
	regexInvalid  bool
	regexWarned   bool
}

// ForwardEnabled reports whether relaying is enabled for the direction.
func (p *Pair) ForwardEnabled(d Direction) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.forwardMode.Enabled(d)
}

// NicknameEnabled reports whether the sender-name prefix is enabled for the
// direction.
func (p *Pair) NicknameEnabled(d Direction) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.nicknameMode.Enabled(d)
}

func (p *Pair) modes() (forward, nickname Mode) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.forwardMode, p.nicknameMode
}

// IgnoresSender reports whether the sender id is blocklisted for this pair.
func (p *Pair) IgnoresSender(senderID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.ignoreSenders[senderID]
	return ok
}

// MatchesFilter reports whether the pair's ignore regex matches text. An
// invalid pattern is logged once per pair and treated as non-matching.
func (p *Pair) MatchesFilter(text string, log zerolog.Logger) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.regexInvalid {
		if !p.regexWarned {
			p.regexWarned = true
			log.Warn().
				Int64("pair_id", p.ID).
				Str("pattern", p.rawRegex).
				Msg("Invalid ignore regex, treating as non-matching")
		}
		return false
	}
	if p.ignoreRegex == nil {
		return false
	}
	return p.ignoreRegex.MatchString(text)
}

type chatKey struct {
	chatID   int64
	threadID int64
}

// Directory is the in-memory view of all bindings of one instance, backed
// by the store. Reads take the read lock; mutators persist first and then
// update the maps so routing decisions never observe unpersisted state.
type Directory struct {
	log        zerolog.Logger
	store      Store
	instanceID string

	mu     sync.RWMutex
	byRoom map[int64]*Pair
	byChat map[chatKey]*Pair
}

// NewDirectory loads all pairs of the instance from the store.
func NewDirectory(ctx context.Context, st Store, instanceID string, log zerolog.Logger) (*Directory, error) {
	d := &Directory{
		log:        log.With().Str("component", "pair_directory").Logger(),
		store:      st,
		instanceID: instanceID,
		byRoom:     make(map[int64]*Pair),
		byChat:     make(map[chatKey]*Pair),
	}

	records, err := st.ListPairs(ctx, instanceID)
	if err != nil {
		return nil, fmt.Errorf("loading pairs: %w", err)
	}
	for _, rec := range records {
		d.index(pairFromRecord(rec))
	}
	d.log.Info().Int("pairs", len(records)).Msg("Pair directory loaded")
	return d, nil
}

func pairFromRecord(rec store.PairRecord) *Pair {
	p := &Pair{
		ID:           rec.ID,
		RoomID:       rec.RoomID,
		ChatID:       rec.ChatID,
		ThreadID:     rec.ThreadID,
		forwardMode:  ParseMode(rec.ForwardMode),
		nicknameMode: ParseMode(rec.NicknameMode),
		rawRegex:     rec.IgnoreRegex,

		ignoreSenders: make(map[string]struct{}, len(rec.IgnoreSenders)),
	}
	for _, s := range rec.IgnoreSenders {
		p.ignoreSenders[s] = struct{}{}
	}
	if rec.IgnoreRegex != "" {
		re, err := regexp.Compile(rec.IgnoreRegex)
		if err != nil {
			p.regexInvalid = true
		} else {
			p.ignoreRegex = re
		}
	}
	return p
}

func (d *Directory) index(p *Pair) {
	d.byRoom[p.RoomID] = p
	d.byChat[chatKey{p.ChatID, p.ThreadID}] = p
}

// FindByRoom returns the pair bound to a OneBot room, or nil.
func (d *Directory) FindByRoom(roomID int64) *Pair {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.byRoom[roomID]
}

// FindByChat returns the pair bound to a Telegram chat. With threadID zero
// it matches the chat-level ("general") binding. With a thread id and
// allowFallback false an exact thread match is required, so a message
// inside a sub-thread never routes through the chat's default binding.
func (d *Directory) FindByChat(chatID, threadID int64, allowFallback bool) *Pair {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if p := d.byChat[chatKey{chatID, threadID}]; p != nil {
		return p
	}
	if threadID != 0 && allowFallback {
		return d.byChat[chatKey{chatID, 0}]
	}
	return nil
}

// Bind creates a binding between a room and a (chat, thread). If either
// side is already bound elsewhere the existing conflicting record is
// returned with ErrBindConflict and nothing is modified. Binding the same
// room to the same destination is idempotent.
func (d *Directory) Bind(ctx context.Context, roomID, chatID, threadID int64) (*Pair, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if existing := d.byChat[chatKey{chatID, threadID}]; existing != nil {
		if existing.RoomID == roomID {
			return existing, nil
		}
		return existing, ErrBindConflict
	}
	if existing := d.byRoom[roomID]; existing != nil {
		return existing, ErrBindConflict
	}

	rec := store.PairRecord{
		InstanceID:   d.instanceID,
		RoomID:       roomID,
		ChatID:       chatID,
		ThreadID:     threadID,
		ForwardMode:  ModeBoth.String(),
		NicknameMode: ModeBoth.String(),
	}
	id, err := d.store.InsertPair(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("persisting binding: %w", err)
	}
	rec.ID = id
	p := pairFromRecord(rec)
	d.index(p)
	d.log.Info().
		Int64("room_id", roomID).
		Int64("chat_id", chatID).
		Int64("thread_id", threadID).
		Msg("Bound pair")
	return p, nil
}

// SetForwardMode flips one direction of a pair's forward mode. The change
// is persisted and takes effect for the next routing decision.
func (d *Directory) SetForwardMode(ctx context.Context, p *Pair, dir Direction, enabled bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	forward, nickname := p.modes()
	next := forward.With(dir, enabled)
	if err := d.store.UpdatePairModes(ctx, p.ID, next.String(), nickname.String()); err != nil {
		return fmt.Errorf("persisting forward mode: %w", err)
	}
	p.mu.Lock()
	p.forwardMode = next
	p.mu.Unlock()
	return nil
}

// SetNicknameMode flips one direction of a pair's nickname-prefix mode.
func (d *Directory) SetNicknameMode(ctx context.Context, p *Pair, dir Direction, enabled bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	forward, nickname := p.modes()
	next := nickname.With(dir, enabled)
	if err := d.store.UpdatePairModes(ctx, p.ID, forward.String(), next.String()); err != nil {
		return fmt.Errorf("persisting nickname mode: %w", err)
	}
	p.mu.Lock()
	p.nicknameMode = next
	p.mu.Unlock()
	return nil
}

// SetIgnoreRegex validates and installs a per-pair content filter. Invalid
// patterns are rejected here, at update time, rather than surfacing later
// per message.
func (d *Directory) SetIgnoreRegex(ctx context.Context, p *Pair, pattern string) error {
	var re *regexp.Regexp
	if pattern != "" {
		var err error
		re, err = regexp.Compile(pattern)
		if err != nil {
			return fmt.Errorf("invalid ignore regex %q: %w", pattern, err)
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.store.UpdatePairFilters(ctx, p.ID, p.ignoreSenderList(), pattern); err != nil {
		return fmt.Errorf("persisting ignore regex: %w", err)
	}
	p.mu.Lock()
	p.rawRegex = pattern
	p.ignoreRegex = re
	p.regexInvalid = false
	p.regexWarned = false
	p.mu.Unlock()
	return nil
}

// AddIgnoredSender blocklists a sender id on the pair.
func (d *Directory) AddIgnoredSender(ctx context.Context, p *Pair, senderID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p.IgnoresSender(senderID) {
		return nil
	}
	senders := append(p.ignoreSenderList(), senderID)
	if err := d.store.UpdatePairFilters(ctx, p.ID, senders, p.rawPattern()); err != nil {
		return fmt.Errorf("persisting sender blocklist: %w", err)
	}
	p.mu.Lock()
	p.ignoreSenders[senderID] = struct{}{}
	p.mu.Unlock()
	return nil
}

// RemoveIgnoredSender removes a sender id from the pair's blocklist.
func (d *Directory) RemoveIgnoredSender(ctx context.Context, p *Pair, senderID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !p.IgnoresSender(senderID) {
		return nil
	}
	var senders []string
	for _, s := range p.ignoreSenderList() {
		if s != senderID {
			senders = append(senders, s)
		}
	}
	if err := d.store.UpdatePairFilters(ctx, p.ID, senders, p.rawPattern()); err != nil {
		return fmt.Errorf("persisting sender blocklist: %w", err)
	}
	p.mu.Lock()
	delete(p.ignoreSenders, senderID)
	p.mu.Unlock()
	return nil
}

// Len returns the number of bindings.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.byRoom)
}

func (p *Pair) ignoreSenderList() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.ignoreSenders))
	for s := range p.ignoreSenders {
		out = append(out, s)
	}
	return out
}

func (p *Pair) rawPattern() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.rawRegex
}
