package pool

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/antigravity-gateway/gateway/internal/model"
	"github.com/antigravity-gateway/gateway/internal/pkg/gemini"
)

const (
	// refreshWindow is the "expiry_timestamp - now < 300s" trigger (spec.md §4.1).
	refreshWindow = 300 * time.Second
	// sessionTTL is the sticky-session binding lifetime (spec.md §3).
	sessionTTL = 10 * time.Minute
	// rateLimitCooldown / forbiddenCooldown are the two cooldown durations
	// the orchestrator applies via MarkRateLimited/MarkForbidden (spec.md §4.1).
	rateLimitCooldown = 5 * time.Minute
	forbiddenCooldown = 30 * time.Minute
)

// entry is the pool's in-memory view of one account.
type entry struct {
	account  *model.Account
	token    model.Token
	priority int
}

type binding struct {
	accountID string
	expiresAt time.Time
}

// SelectOptions parameterizes SelectNext (spec.md §4.1).
type SelectOptions struct {
	SessionKey        string
	ExcludeAccountIDs []string

	// forcedAccountID short-circuits round-robin when a cross-process
	// SessionCache already bound this session key (set internally by
	// SelectNext, not by callers).
	forcedAccountID string
}

// TokenPool is C3: a process-wide, explicitly-threaded struct (spec.md §9
// "Global mutable state") — never a package-level singleton.
type TokenPool struct {
	store        AccountStore
	refresher    TokenRefresher
	sessionCache SessionCache

	mu              sync.Mutex
	tokens          map[string]*entry
	cooldowns       map[string]time.Time // accountID -> until
	sessionBindings map[string]binding   // sessionKey -> binding
	currentIndex    uint64
	groupIndex      map[int]uint64 // priority -> round-robin cursor within that priority group

	refreshGroup singleflight.Group
}

func New(store AccountStore, refresher TokenRefresher) *TokenPool {
	return &TokenPool{
		store:           store,
		refresher:       refresher,
		tokens:          make(map[string]*entry),
		cooldowns:       make(map[string]time.Time),
		sessionBindings: make(map[string]binding),
		groupIndex:      make(map[int]uint64),
	}
}

// Reload re-reads the store into the in-memory index, preserving cooldowns
// and session bindings keyed by account id (spec.md §4.1 "Reload").
func (p *TokenPool) Reload(ctx context.Context) error {
	accounts, err := p.store.ListSchedulable(ctx)
	if err != nil {
		return fmt.Errorf("reload accounts: %w", err)
	}

	next := make(map[string]*entry, len(accounts))
	for _, a := range accounts {
		tok, err := a.DecodeToken()
		if err != nil {
			log.Printf("pool: skipping account %s: decode token: %v", a.Email, err)
			continue
		}
		next[a.ID] = &entry{account: a, token: tok, priority: a.Priority}
	}

	p.mu.Lock()
	p.tokens = next
	p.mu.Unlock()
	return nil
}

// GetAccountCount reports the current in-memory pool size.
func (p *TokenPool) GetAccountCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.tokens)
}

// MarkRateLimited sets a 5-minute cooldown on idOrEmail.
func (p *TokenPool) MarkRateLimited(idOrEmail string) {
	p.markCooldown(idOrEmail, rateLimitCooldown, "rate_limited")
}

// MarkForbidden sets a 30-minute cooldown on idOrEmail.
func (p *TokenPool) MarkForbidden(idOrEmail string) {
	p.markCooldown(idOrEmail, forbiddenCooldown, "forbidden")
}

func (p *TokenPool) markCooldown(idOrEmail string, d time.Duration, reason string) {
	id := p.resolveID(idOrEmail)
	if id == "" {
		return
	}
	until := time.Now().Add(d)
	p.mu.Lock()
	p.cooldowns[id] = until
	p.mu.Unlock()
	log.Printf("pool: WARN account %s %s, cooldown until %s", idOrEmail, reason, until.Format(time.RFC3339))
}

func (p *TokenPool) resolveID(idOrEmail string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.tokens[idOrEmail]; ok {
		return idOrEmail
	}
	for id, e := range p.tokens {
		if e.account.Email == idOrEmail {
			return id
		}
	}
	return ""
}

// SelectNext implements the seven-step selection algorithm of spec.md §4.1.
func (p *TokenPool) SelectNext(ctx context.Context, opts SelectOptions) (*model.Account, error) {
	if p.GetAccountCount() == 0 {
		if err := p.Reload(ctx); err != nil {
			log.Printf("pool: WARN reload failed: %v", err)
		}
		if p.GetAccountCount() == 0 {
			return nil, nil
		}
	}

	if opts.SessionKey != "" && p.sessionCache != nil && opts.forcedAccountID == "" {
		p.mu.Lock()
		b, bound := p.sessionBindings[opts.SessionKey]
		p.mu.Unlock()
		if !bound || !b.expiresAt.After(time.Now()) {
			if id, ok := p.sessionCache.Get(ctx, opts.SessionKey); ok {
				opts.forcedAccountID = id
			}
		}
	}

	selectedEntry, boundBySession := p.computeSelection(opts)
	if selectedEntry == nil {
		return nil, nil
	}

	account, err := p.finalize(ctx, selectedEntry, opts.SessionKey, boundBySession)
	if err == nil && opts.SessionKey != "" && !boundBySession && p.sessionCache != nil {
		if serr := p.sessionCache.Set(ctx, opts.SessionKey, selectedEntry.account.ID); serr != nil {
			log.Printf("pool: WARN session cache write failed: %v", serr)
		}
	}
	return account, err
}

// computeSelection covers steps 2-6 under a single lock (spec.md §5:
// "compute the candidate set and the selection under lock").
func (p *TokenPool) computeSelection(opts SelectOptions) (*entry, bool) {
	now := time.Now()
	excluded := make(map[string]struct{}, len(opts.ExcludeAccountIDs))
	for _, id := range opts.ExcludeAccountIDs {
		excluded[id] = struct{}{}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	candidates0 := make([]*entry, 0, len(p.tokens))
	for id, e := range p.tokens {
		if _, ok := excluded[id]; ok {
			continue
		}
		candidates0 = append(candidates0, e)
	}
	if len(candidates0) == 0 && len(excluded) > 0 {
		log.Printf("pool: WARN exclusion emptied candidate set, falling back to full pool")
		for _, e := range p.tokens {
			candidates0 = append(candidates0, e)
		}
	}
	if len(candidates0) == 0 {
		return nil, false
	}

	for key, b := range p.sessionBindings {
		if !b.expiresAt.After(now) {
			delete(p.sessionBindings, key)
		}
	}

	candidates := make([]*entry, 0, len(candidates0))
	for _, e := range candidates0 {
		until, cooled := p.cooldowns[e.account.ID]
		if cooled && until.After(now) {
			continue
		}
		candidates = append(candidates, e)
	}
	if len(candidates) == 0 {
		log.Printf("pool: WARN bypassing cooldown to keep service available")
		candidates = candidates0
	}

	if opts.SessionKey != "" {
		if b, ok := p.sessionBindings[opts.SessionKey]; ok && b.expiresAt.After(now) {
			for _, e := range candidates {
				if e.account.ID == b.accountID {
					return e, true
				}
			}
		}
		if opts.forcedAccountID != "" {
			for _, e := range candidates {
				if e.account.ID == opts.forcedAccountID {
					p.sessionBindings[opts.SessionKey] = binding{accountID: e.account.ID, expiresAt: now.Add(sessionTTL)}
					return e, true
				}
			}
		}
	}

	return p.pickRoundRobin(candidates), false
}

// pickRoundRobin selects within the lowest-priority non-empty group first
// (priority groups, SPEC_FULL.md §3.4), round-robining inside that group —
// an additive refinement over flat round-robin that reduces to it when every
// account shares one priority value.
func (p *TokenPool) pickRoundRobin(candidates []*entry) *entry {
	groups := make(map[int][]*entry)
	for _, e := range candidates {
		groups[e.priority] = append(groups[e.priority], e)
	}
	priorities := make([]int, 0, len(groups))
	for pr := range groups {
		priorities = append(priorities, pr)
	}
	sort.Ints(priorities)

	top := priorities[0]
	group := groups[top]
	sort.Slice(group, func(i, j int) bool { return group[i].account.ID < group[j].account.ID })

	idx := p.groupIndex[top] % uint64(len(group))
	p.groupIndex[top]++
	p.currentIndex++
	return group[idx]
}

// finalize performs step 7: refresh if needed, sanitize project_id, bind the
// session. Network I/O (the refresh call) happens with the pool lock
// released, per spec.md §5.
func (p *TokenPool) finalize(ctx context.Context, e *entry, sessionKey string, boundBySession bool) (*model.Account, error) {
	token := e.token
	if p.refresher != nil && token.ExpiresWithin(refreshWindow, time.Now()) {
		token = p.refreshToken(ctx, e.account.ID, e.account.Email, token)
	}

	sanitized := token
	sanitized.ProjectID = token.SanitizedProjectID()

	p.mu.Lock()
	if live, ok := p.tokens[e.account.ID]; ok {
		live.token = sanitized
	}
	if sessionKey != "" && !boundBySession {
		p.sessionBindings[sessionKey] = binding{accountID: e.account.ID, expiresAt: time.Now().Add(sessionTTL)}
	}
	p.mu.Unlock()

	out := *e.account
	if err := out.EncodeToken(sanitized); err != nil {
		return nil, fmt.Errorf("encode token: %w", err)
	}
	return &out, nil
}

// refreshToken collapses concurrent refreshes of the same account via
// singleflight so two simultaneous selectors never both hit the OAuth
// endpoint for the same refresh_token (SPEC_FULL.md §2).
func (p *TokenPool) refreshToken(ctx context.Context, accountID, accountEmail string, stale model.Token) model.Token {
	v, err, _ := p.refreshGroup.Do(accountID, func() (any, error) {
		resp, err := p.refresher.Refresh(ctx, stale.RefreshToken)
		if err != nil {
			return nil, err
		}
		if email, ierr := gemini.EmailFromIDToken(resp.IDToken); ierr == nil && email != "" && !strings.EqualFold(email, accountEmail) {
			log.Printf("pool: WARN refreshed token for %s claims email %q, account registered as %q", accountID, email, accountEmail)
		}
		updated := stale
		updated.AccessToken = resp.AccessToken
		if resp.RefreshToken != "" {
			updated.RefreshToken = resp.RefreshToken
		}
		updated.TokenType = resp.TokenType
		updated.ExpiresIn = resp.ExpiresIn
		updated.ExpiryTimestamp = gemini.ExpiryFromNow(resp, time.Now())
		if p.store != nil {
			if err := p.store.UpdateToken(ctx, accountID, updated); err != nil {
				log.Printf("pool: WARN persist refreshed token for %s: %v", accountID, err)
			}
		}
		return updated, nil
	})
	if err != nil {
		log.Printf("pool: WARN refresh failed for %s, proceeding with stale token: %v", accountID, err)
		return stale
	}
	return v.(model.Token)
}
