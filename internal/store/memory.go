package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/punchamoorthee/refledger/internal/domain"
)

const DefaultLockTimeout = 2 * time.Second

type edgeKey struct {
	ancestor, member string
}

type entryPatch struct {
	status domain.EntryStatus
	at     time.Time
}

// MemoryStore keeps all state in process. Each transaction takes per-row
// locks on first touch and holds them until it ends; its writes stay private
// until commit. A lock that cannot be taken within the lock timeout fails the
// transaction with ErrConflict.
type MemoryStore struct {
	mu          sync.RWMutex
	members     map[string]domain.Member
	codes       map[string]string
	edges       map[edgeKey]domain.AncestorEdge
	wallets     map[string]domain.Wallet
	entries     []domain.LedgerEntry
	entryIndex  map[int64]int
	withdrawals map[string]domain.Withdrawal
	investments map[string]domain.Investment
	invKeys     map[string]string

	locksMu     sync.Mutex
	locks       map[string]chan struct{}
	lockTimeout time.Duration
	nextEntryID atomic.Int64
}

func NewMemoryStore(lockTimeout time.Duration) *MemoryStore {
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	return &MemoryStore{
		members:     map[string]domain.Member{},
		codes:       map[string]string{},
		edges:       map[edgeKey]domain.AncestorEdge{},
		wallets:     map[string]domain.Wallet{},
		entryIndex:  map[int64]int{},
		withdrawals: map[string]domain.Withdrawal{},
		investments: map[string]domain.Investment{},
		invKeys:     map[string]string{},
		locks:       map[string]chan struct{}{},
		lockTimeout: lockTimeout,
	}
}

func (s *MemoryStore) Close() {}

func (s *MemoryStore) InTx(ctx context.Context, fn func(Tx) error) error {
	tx := &memTx{
		s:           s,
		held:        map[string]chan struct{}{},
		members:     map[string]domain.Member{},
		edges:       map[edgeKey]domain.AncestorEdge{},
		wallets:     map[string]domain.Wallet{},
		patches:     map[int64]entryPatch{},
		withdrawals: map[string]domain.Withdrawal{},
		investments: map[string]domain.Investment{},
	}
	defer tx.releaseAll()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		return err
	}
	s.commit(tx)
	return nil
}

func (s *MemoryStore) rowLock(key string) chan struct{} {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = make(chan struct{}, 1)
		s.locks[key] = l
	}
	return l
}

func (s *MemoryStore) commit(tx *memTx) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, m := range tx.members {
		s.members[id] = m
		s.codes[m.ReferralCode] = id
	}
	for k, e := range tx.edges {
		s.edges[k] = e
	}
	for id, w := range tx.wallets {
		s.wallets[id] = w
	}
	for id, p := range tx.patches {
		if i, ok := s.entryIndex[id]; ok {
			s.entries[i].Status = p.status
			s.entries[i].UpdatedAt = p.at
		}
	}
	for _, e := range tx.entries {
		s.entryIndex[e.ID] = len(s.entries)
		s.entries = append(s.entries, e)
	}
	for id, w := range tx.withdrawals {
		s.withdrawals[id] = w
	}
	for id, inv := range tx.investments {
		s.investments[id] = inv
		if inv.IdempotencyKey != "" {
			s.invKeys[inv.IdempotencyKey] = id
		}
	}
}

type memTx struct {
	s    *MemoryStore
	held map[string]chan struct{}

	members     map[string]domain.Member
	edges       map[edgeKey]domain.AncestorEdge
	wallets     map[string]domain.Wallet
	entries     []domain.LedgerEntry
	patches     map[int64]entryPatch
	withdrawals map[string]domain.Withdrawal
	investments map[string]domain.Investment
}

func (t *memTx) lock(ctx context.Context, key string) error {
	if _, ok := t.held[key]; ok {
		return nil
	}
	l := t.s.rowLock(key)
	select {
	case l <- struct{}{}:
		t.held[key] = l
		return nil
	default:
	}

	timer := time.NewTimer(t.s.lockTimeout)
	defer timer.Stop()
	select {
	case l <- struct{}{}:
		t.held[key] = l
		return nil
	case <-timer.C:
		return fmt.Errorf("%w: lock %s timed out", ErrConflict, key)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *memTx) mustHold(key string) error {
	if _, ok := t.held[key]; !ok {
		return fmt.Errorf("write to %s without holding its lock", key)
	}
	return nil
}

func (t *memTx) releaseAll() {
	for key, l := range t.held {
		<-l
		delete(t.held, key)
	}
}

func memberKey(id string) string     { return "member:" + id }
func walletKey(id string) string     { return "wallet:" + id }
func withdrawalKey(id string) string { return "withdrawal:" + id }

func (t *memTx) member(id string) (domain.Member, bool) {
	if m, ok := t.members[id]; ok {
		return m, true
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	m, ok := t.s.members[id]
	return m, ok
}

func (t *memTx) InsertMember(ctx context.Context, m *domain.Member) error {
	if err := t.lock(ctx, memberKey(m.ID)); err != nil {
		return err
	}
	if err := t.lock(ctx, "code:"+m.ReferralCode); err != nil {
		return err
	}
	if _, ok := t.member(m.ID); ok {
		return fmt.Errorf("%w: member %s", ErrDuplicate, m.ID)
	}
	if _, err := t.MemberByReferralCode(ctx, m.ReferralCode); err == nil {
		return fmt.Errorf("%w: referral code %s", ErrDuplicate, m.ReferralCode)
	}
	if m.SponsorID != "" {
		if _, ok := t.member(m.SponsorID); !ok {
			return fmt.Errorf("sponsor %s does not exist", m.SponsorID)
		}
	}
	m.UpdatedAt = m.JoinedAt
	t.members[m.ID] = *m
	return nil
}

func (t *memTx) GetMember(_ context.Context, id string) (*domain.Member, error) {
	m, ok := t.member(id)
	if !ok {
		return nil, ErrNotFound
	}
	return &m, nil
}

func (t *memTx) LockMember(ctx context.Context, id string) (*domain.Member, error) {
	if err := t.lock(ctx, memberKey(id)); err != nil {
		return nil, err
	}
	return t.GetMember(ctx, id)
}

func (t *memTx) MemberByReferralCode(_ context.Context, code string) (*domain.Member, error) {
	for _, m := range t.members {
		if m.ReferralCode == code {
			return &m, nil
		}
	}
	t.s.mu.RLock()
	id, ok := t.s.codes[code]
	t.s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	m, ok := t.member(id)
	if !ok {
		return nil, ErrNotFound
	}
	return &m, nil
}

func (t *memTx) UpdateMember(_ context.Context, m *domain.Member) error {
	if err := t.mustHold(memberKey(m.ID)); err != nil {
		return err
	}
	cur, ok := t.member(m.ID)
	if !ok {
		return ErrNotFound
	}
	// Identity fields are fixed at insert.
	next := *m
	next.ReferralCode, next.SponsorID, next.JoinedAt = cur.ReferralCode, cur.SponsorID, cur.JoinedAt
	t.members[m.ID] = next
	return nil
}

func (t *memTx) edge(k edgeKey) (domain.AncestorEdge, bool) {
	if e, ok := t.edges[k]; ok {
		return e, true
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	e, ok := t.s.edges[k]
	return e, ok
}

// edgeView merges committed edges with this transaction's writes.
func (t *memTx) edgeView(keep func(*domain.AncestorEdge) bool) []domain.AncestorEdge {
	var out []domain.AncestorEdge
	t.s.mu.RLock()
	for k, e := range t.s.edges {
		if _, staged := t.edges[k]; !staged && keep(&e) {
			out = append(out, e)
		}
	}
	t.s.mu.RUnlock()
	for _, e := range t.edges {
		if keep(&e) {
			out = append(out, e)
		}
	}
	return out
}

func (t *memTx) InsertEdge(ctx context.Context, e *domain.AncestorEdge) error {
	k := edgeKey{e.AncestorID, e.MemberID}
	if err := t.lock(ctx, "edge:"+k.ancestor+":"+k.member); err != nil {
		return err
	}
	if _, ok := t.edge(k); ok {
		return fmt.Errorf("%w: edge %s -> %s", ErrDuplicate, e.AncestorID, e.MemberID)
	}
	t.edges[k] = *e
	return nil
}

func (t *memTx) Ancestors(_ context.Context, memberID string) ([]domain.AncestorEdge, error) {
	edges := t.edgeView(func(e *domain.AncestorEdge) bool { return e.MemberID == memberID })
	sort.Slice(edges, func(i, j int) bool { return edges[i].Level < edges[j].Level })
	return edges, nil
}

func (t *memTx) AddEdgeBusiness(ctx context.Context, ancestorID, memberID string, direct, team int64) error {
	k := edgeKey{ancestorID, memberID}
	if err := t.lock(ctx, "edge:"+ancestorID+":"+memberID); err != nil {
		return err
	}
	e, ok := t.edge(k)
	if !ok {
		return nil
	}
	e.DirectBusiness += direct
	e.TeamBusiness += team
	t.edges[k] = e
	return nil
}

func (t *memTx) ListTeam(_ context.Context, ancestorID string, q TeamQuery) ([]TeamMember, int, error) {
	edges := t.edgeView(func(e *domain.AncestorEdge) bool {
		return e.AncestorID == ancestorID && q.match(e)
	})
	team := make([]TeamMember, 0, len(edges))
	for _, e := range edges {
		m, ok := t.member(e.MemberID)
		if !ok {
			continue
		}
		team = append(team, TeamMember{Edge: e, Member: m})
	}
	sort.Slice(team, func(i, j int) bool {
		a, b := team[i], team[j]
		if a.Edge.Level != b.Edge.Level {
			return a.Edge.Level < b.Edge.Level
		}
		if !a.Member.JoinedAt.Equal(b.Member.JoinedAt) {
			return a.Member.JoinedAt.Before(b.Member.JoinedAt)
		}
		return a.Member.ID < b.Member.ID
	})
	return paginate(team, q.Limit, q.Offset), len(team), nil
}

func (t *memTx) wallet(id string) (domain.Wallet, bool) {
	if w, ok := t.wallets[id]; ok {
		return w, true
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	w, ok := t.s.wallets[id]
	return w, ok
}

func (t *memTx) InsertWallet(ctx context.Context, w *domain.Wallet) error {
	if err := t.lock(ctx, walletKey(w.MemberID)); err != nil {
		return err
	}
	if _, ok := t.wallet(w.MemberID); ok {
		return fmt.Errorf("%w: wallet %s", ErrDuplicate, w.MemberID)
	}
	if _, ok := t.member(w.MemberID); !ok {
		return fmt.Errorf("wallet for unknown member %s", w.MemberID)
	}
	t.wallets[w.MemberID] = *w
	return nil
}

func (t *memTx) GetWallet(_ context.Context, memberID string) (*domain.Wallet, error) {
	w, ok := t.wallet(memberID)
	if !ok {
		return nil, ErrNotFound
	}
	return &w, nil
}

func (t *memTx) LockWallet(ctx context.Context, memberID string) (*domain.Wallet, error) {
	if err := t.lock(ctx, walletKey(memberID)); err != nil {
		return nil, err
	}
	return t.GetWallet(ctx, memberID)
}

func (t *memTx) UpdateWallet(_ context.Context, w *domain.Wallet) error {
	if err := t.mustHold(walletKey(w.MemberID)); err != nil {
		return err
	}
	if _, ok := t.wallet(w.MemberID); !ok {
		return ErrNotFound
	}
	if err := w.Validate(); err != nil {
		return err
	}
	t.wallets[w.MemberID] = *w
	return nil
}

// entryView merges committed entries, pending status patches and this
// transaction's inserts.
func (t *memTx) entryView(q EntryQuery) []domain.LedgerEntry {
	var out []domain.LedgerEntry
	t.s.mu.RLock()
	for _, e := range t.s.entries {
		if p, ok := t.patches[e.ID]; ok {
			e.Status, e.UpdatedAt = p.status, p.at
		}
		if q.match(&e) {
			out = append(out, e)
		}
	}
	t.s.mu.RUnlock()
	for _, e := range t.entries {
		if q.match(&e) {
			out = append(out, e)
		}
	}
	return out
}

func (t *memTx) InsertEntry(_ context.Context, e *domain.LedgerEntry) error {
	if _, ok := t.member(e.MemberID); !ok {
		return fmt.Errorf("entry for unknown member %s", e.MemberID)
	}
	e.ID = t.s.nextEntryID.Add(1)
	e.UpdatedAt = e.CreatedAt
	t.entries = append(t.entries, *e)
	return nil
}

func (t *memTx) SetEntryStatus(_ context.Context, memberID, reference string, category domain.Category, status domain.EntryStatus) (int, error) {
	now := time.Now().UTC()
	n := 0
	for i := range t.entries {
		e := &t.entries[i]
		if e.MemberID == memberID && e.Reference == reference && e.Category == category {
			e.Status, e.UpdatedAt = status, now
			n++
		}
	}
	t.s.mu.RLock()
	for _, e := range t.s.entries {
		if e.MemberID == memberID && e.Reference == reference && e.Category == category {
			t.patches[e.ID] = entryPatch{status: status, at: now}
			n++
		}
	}
	t.s.mu.RUnlock()
	return n, nil
}

func (t *memTx) HasEntry(_ context.Context, memberID string, category domain.Category) (bool, error) {
	return len(t.entryView(EntryQuery{MemberID: memberID, Category: category})) > 0, nil
}

func (t *memTx) ListEntries(_ context.Context, q EntryQuery) ([]domain.LedgerEntry, int, error) {
	entries := t.entryView(q)
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})
	return paginate(entries, q.Limit, q.Offset), len(entries), nil
}

func (t *memTx) SumEntries(_ context.Context, memberID string, from, to time.Time) ([]CategorySum, error) {
	type key struct {
		c     domain.Category
		level int
	}
	acc := map[key]*CategorySum{}
	for _, e := range t.entryView(EntryQuery{MemberID: memberID, From: from, To: to}) {
		if e.Status != domain.EntryCompleted {
			continue
		}
		k := key{e.Category, e.Level}
		s, ok := acc[k]
		if !ok {
			s = &CategorySum{Category: e.Category, Level: e.Level}
			acc[k] = s
		}
		s.Count++
		s.Total += e.Amount
	}
	sums := make([]CategorySum, 0, len(acc))
	for _, s := range acc {
		sums = append(sums, *s)
	}
	sort.Slice(sums, func(i, j int) bool {
		if sums[i].Category != sums[j].Category {
			return sums[i].Category < sums[j].Category
		}
		return sums[i].Level < sums[j].Level
	})
	return sums, nil
}

func (t *memTx) withdrawal(id string) (domain.Withdrawal, bool) {
	if w, ok := t.withdrawals[id]; ok {
		return w, true
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	w, ok := t.s.withdrawals[id]
	return w, ok
}

func (t *memTx) withdrawalView(q WithdrawalQuery) []domain.Withdrawal {
	var out []domain.Withdrawal
	t.s.mu.RLock()
	for id, w := range t.s.withdrawals {
		if _, staged := t.withdrawals[id]; !staged && q.match(&w) {
			out = append(out, w)
		}
	}
	t.s.mu.RUnlock()
	for _, w := range t.withdrawals {
		if q.match(&w) {
			out = append(out, w)
		}
	}
	return out
}

func (t *memTx) InsertWithdrawal(ctx context.Context, w *domain.Withdrawal) error {
	if err := t.lock(ctx, withdrawalKey(w.ID)); err != nil {
		return err
	}
	if _, ok := t.withdrawal(w.ID); ok {
		return fmt.Errorf("%w: withdrawal %s", ErrDuplicate, w.ID)
	}
	w.UpdatedAt = w.RequestedAt
	t.withdrawals[w.ID] = *w
	return nil
}

func (t *memTx) GetWithdrawal(_ context.Context, id string) (*domain.Withdrawal, error) {
	w, ok := t.withdrawal(id)
	if !ok {
		return nil, ErrNotFound
	}
	return &w, nil
}

func (t *memTx) LockWithdrawal(ctx context.Context, id string) (*domain.Withdrawal, error) {
	if err := t.lock(ctx, withdrawalKey(id)); err != nil {
		return nil, err
	}
	return t.GetWithdrawal(ctx, id)
}

func (t *memTx) UpdateWithdrawal(_ context.Context, w *domain.Withdrawal) error {
	if err := t.mustHold(withdrawalKey(w.ID)); err != nil {
		return err
	}
	if _, ok := t.withdrawal(w.ID); !ok {
		return ErrNotFound
	}
	t.withdrawals[w.ID] = *w
	return nil
}

func (t *memTx) ListWithdrawals(_ context.Context, q WithdrawalQuery) ([]domain.Withdrawal, int, error) {
	list := t.withdrawalView(q)
	sort.Slice(list, func(i, j int) bool {
		if !list[i].RequestedAt.Equal(list[j].RequestedAt) {
			return list[i].RequestedAt.After(list[j].RequestedAt)
		}
		return list[i].ID < list[j].ID
	})
	return paginate(list, q.Limit, q.Offset), len(list), nil
}

func (t *memTx) WithdrawalStats(_ context.Context, memberID string) ([]domain.WithdrawalStats, error) {
	acc := map[domain.WithdrawalStatus]*domain.WithdrawalStats{}
	for _, w := range t.withdrawalView(WithdrawalQuery{MemberID: memberID}) {
		s, ok := acc[w.Status]
		if !ok {
			s = &domain.WithdrawalStats{Status: w.Status}
			acc[w.Status] = s
		}
		s.Count++
		s.TotalAmount += w.Amount
		s.TotalNetAmount += w.NetAmount
	}
	stats := make([]domain.WithdrawalStats, 0, len(acc))
	for _, s := range acc {
		stats = append(stats, *s)
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Status < stats[j].Status })
	return stats, nil
}

func (t *memTx) InsertInvestment(ctx context.Context, inv *domain.Investment) error {
	if err := t.lock(ctx, "investment:"+inv.ID); err != nil {
		return err
	}
	if inv.IdempotencyKey != "" {
		if err := t.lock(ctx, "invkey:"+inv.IdempotencyKey); err != nil {
			return err
		}
		if _, err := t.InvestmentByKey(ctx, inv.IdempotencyKey); err == nil {
			return fmt.Errorf("%w: idempotency key %s", ErrDuplicate, inv.IdempotencyKey)
		}
	}
	t.s.mu.RLock()
	_, exists := t.s.investments[inv.ID]
	t.s.mu.RUnlock()
	if _, staged := t.investments[inv.ID]; exists || staged {
		return fmt.Errorf("%w: investment %s", ErrDuplicate, inv.ID)
	}
	t.investments[inv.ID] = *inv
	return nil
}

func (t *memTx) InvestmentByKey(_ context.Context, key string) (*domain.Investment, error) {
	for _, inv := range t.investments {
		if inv.IdempotencyKey == key {
			return &inv, nil
		}
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	id, ok := t.s.invKeys[key]
	if !ok {
		return nil, ErrNotFound
	}
	inv := t.s.investments[id]
	return &inv, nil
}
