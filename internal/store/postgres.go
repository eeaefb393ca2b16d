package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/punchamoorthee/refledger/internal/domain"
	"github.com/shopspring/decimal"
)

// PostgresStore runs every transaction at one isolation level and locks rows
// with SELECT ... FOR UPDATE.
type PostgresStore struct {
	Db       *pgxpool.Pool
	isoLevel pgx.TxIsoLevel
}

// ParseIsolation maps a config value to a pgx isolation level.
func ParseIsolation(s string) (pgx.TxIsoLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "repeatable_read":
		return pgx.RepeatableRead, nil
	case "serializable":
		return pgx.Serializable, nil
	case "read_committed":
		return pgx.ReadCommitted, nil
	}
	return "", fmt.Errorf("unknown isolation level %q", s)
}

func NewPostgresStore(ctx context.Context, connString string, iso pgx.TxIsoLevel) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	if iso == "" {
		iso = pgx.RepeatableRead
	}
	return &PostgresStore{Db: pool, isoLevel: iso}, nil
}

func (s *PostgresStore) Close() {
	s.Db.Close()
}

func (s *PostgresStore) InTx(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.Db.BeginTx(ctx, pgx.TxOptions{IsoLevel: s.isoLevel})
	if err != nil {
		return classify(fmt.Errorf("tx begin failed: %w", err))
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{tx: tx}); err != nil {
		return classify(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return classify(fmt.Errorf("tx commit failed: %w", err))
	}
	return nil
}

// classify tags serialization failures, deadlocks and retry-safe connection
// errors with ErrConflict and unique violations with ErrDuplicate.
func classify(err error) error {
	if err == nil || errors.Is(err, ErrConflict) || errors.Is(err, ErrDuplicate) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03":
			return fmt.Errorf("%w: %w", ErrConflict, err)
		case "23505":
			return fmt.Errorf("%w: %w", ErrDuplicate, err)
		}
		return err
	}
	if pgconn.SafeToRetry(err) {
		return fmt.Errorf("%w: %w", ErrConflict, err)
	}
	return err
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return classify(err)
}

type pgTx struct {
	tx pgx.Tx
}

type scanner interface {
	Scan(dest ...any) error
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableInt(n int) any {
	if n == 0 {
		return nil
	}
	return n
}

const memberColumns = `id, referral_code, sponsor_id, status, direct_referrals, team_size, team_business,
	total_investment, total_earnings, total_withdrawals, joined_at, updated_at`

func scanMember(row scanner) (*domain.Member, error) {
	var m domain.Member
	var sponsor *string
	err := row.Scan(&m.ID, &m.ReferralCode, &sponsor, &m.Status, &m.DirectReferrals, &m.TeamSize,
		&m.TeamBusiness, &m.TotalInvestment, &m.TotalEarnings, &m.TotalWithdrawals, &m.JoinedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if sponsor != nil {
		m.SponsorID = *sponsor
	}
	return &m, nil
}

func (t *pgTx) InsertMember(ctx context.Context, m *domain.Member) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO members (id, referral_code, sponsor_id, status, joined_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $5)`,
		m.ID, m.ReferralCode, nullable(m.SponsorID), m.Status, m.JoinedAt,
	)
	if err != nil {
		return fmt.Errorf("member insert failed: %w", classify(err))
	}
	m.UpdatedAt = m.JoinedAt
	return nil
}

func (t *pgTx) GetMember(ctx context.Context, id string) (*domain.Member, error) {
	m, err := scanMember(t.tx.QueryRow(ctx, "SELECT "+memberColumns+" FROM members WHERE id = $1", id))
	if err != nil {
		return nil, notFound(err)
	}
	return m, nil
}

func (t *pgTx) LockMember(ctx context.Context, id string) (*domain.Member, error) {
	m, err := scanMember(t.tx.QueryRow(ctx, "SELECT "+memberColumns+" FROM members WHERE id = $1 FOR UPDATE", id))
	if err != nil {
		return nil, notFound(err)
	}
	return m, nil
}

func (t *pgTx) MemberByReferralCode(ctx context.Context, code string) (*domain.Member, error) {
	m, err := scanMember(t.tx.QueryRow(ctx, "SELECT "+memberColumns+" FROM members WHERE referral_code = $1", code))
	if err != nil {
		return nil, notFound(err)
	}
	return m, nil
}

func (t *pgTx) UpdateMember(ctx context.Context, m *domain.Member) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE members SET status = $2, direct_referrals = $3, team_size = $4, team_business = $5,
		 total_investment = $6, total_earnings = $7, total_withdrawals = $8, updated_at = $9
		 WHERE id = $1`,
		m.ID, m.Status, m.DirectReferrals, m.TeamSize, m.TeamBusiness,
		m.TotalInvestment, m.TotalEarnings, m.TotalWithdrawals, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("member update failed: %w", classify(err))
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const edgeColumns = "ancestor_id, member_id, level, direct_business, team_business, created_at"

func scanEdge(row scanner, e *domain.AncestorEdge) error {
	return row.Scan(&e.AncestorID, &e.MemberID, &e.Level, &e.DirectBusiness, &e.TeamBusiness, &e.CreatedAt)
}

func (t *pgTx) InsertEdge(ctx context.Context, e *domain.AncestorEdge) error {
	_, err := t.tx.Exec(ctx,
		"INSERT INTO ancestor_edges (ancestor_id, member_id, level, created_at) VALUES ($1, $2, $3, $4)",
		e.AncestorID, e.MemberID, e.Level, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("edge insert failed: %w", classify(err))
	}
	return nil
}

func (t *pgTx) Ancestors(ctx context.Context, memberID string) ([]domain.AncestorEdge, error) {
	rows, err := t.tx.Query(ctx,
		"SELECT "+edgeColumns+" FROM ancestor_edges WHERE member_id = $1 ORDER BY level", memberID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var edges []domain.AncestorEdge
	for rows.Next() {
		var e domain.AncestorEdge
		if err := scanEdge(rows, &e); err != nil {
			return nil, err
		}
		edges = append(edges, e)
	}
	return edges, classify(rows.Err())
}

func (t *pgTx) AddEdgeBusiness(ctx context.Context, ancestorID, memberID string, direct, team int64) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE ancestor_edges SET direct_business = direct_business + $3, team_business = team_business + $4
		 WHERE ancestor_id = $1 AND member_id = $2`,
		ancestorID, memberID, direct, team,
	)
	if err != nil {
		return fmt.Errorf("edge business update failed: %w", classify(err))
	}
	return nil
}

func (t *pgTx) ListTeam(ctx context.Context, ancestorID string, q TeamQuery) ([]TeamMember, int, error) {
	maxLevel := q.MaxLevel
	if maxLevel <= 0 {
		maxLevel = domain.MaxLevel
	}
	where := "e.ancestor_id = $1 AND e.level <= $2"
	args := []any{ancestorID, maxLevel}
	if q.Level > 0 {
		args = append(args, q.Level)
		where += fmt.Sprintf(" AND e.level = $%d", len(args))
	}

	var total int
	if err := t.tx.QueryRow(ctx, "SELECT count(*) FROM ancestor_edges e WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, classify(err)
	}

	query := `SELECT e.ancestor_id, e.member_id, e.level, e.direct_business, e.team_business, e.created_at,
		m.id, m.referral_code, m.sponsor_id, m.status, m.direct_referrals, m.team_size, m.team_business,
		m.total_investment, m.total_earnings, m.total_withdrawals, m.joined_at, m.updated_at
		FROM ancestor_edges e JOIN members m ON m.id = e.member_id
		WHERE ` + where + " ORDER BY e.level, m.joined_at, m.id" + limitClause(&args, q.Limit, q.Offset)

	rows, err := t.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, classify(err)
	}
	defer rows.Close()

	team := []TeamMember{}
	for rows.Next() {
		var tm TeamMember
		var sponsor *string
		m := &tm.Member
		err := rows.Scan(&tm.Edge.AncestorID, &tm.Edge.MemberID, &tm.Edge.Level, &tm.Edge.DirectBusiness,
			&tm.Edge.TeamBusiness, &tm.Edge.CreatedAt,
			&m.ID, &m.ReferralCode, &sponsor, &m.Status, &m.DirectReferrals, &m.TeamSize, &m.TeamBusiness,
			&m.TotalInvestment, &m.TotalEarnings, &m.TotalWithdrawals, &m.JoinedAt, &m.UpdatedAt)
		if err != nil {
			return nil, 0, err
		}
		if sponsor != nil {
			m.SponsorID = *sponsor
		}
		team = append(team, tm)
	}
	return team, total, classify(rows.Err())
}

func limitClause(args *[]any, limit, offset int) string {
	var sb strings.Builder
	if limit > 0 {
		*args = append(*args, limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(*args))
	}
	if offset > 0 {
		*args = append(*args, offset)
		fmt.Fprintf(&sb, " OFFSET $%d", len(*args))
	}
	return sb.String()
}

const walletColumns = `member_id, signup_bonus, direct_referral, level2, level3, level4, reward,
	total_withdrawals, locked_balance, pending_withdrawals, updated_at`

func scanWallet(row scanner) (*domain.Wallet, error) {
	var w domain.Wallet
	b := &w.Buckets
	err := row.Scan(&w.MemberID, &b.SignupBonus, &b.DirectReferral, &b.Level2, &b.Level3, &b.Level4, &b.Reward,
		&w.TotalWithdrawals, &w.LockedBalance, &w.PendingWithdrawals, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (t *pgTx) InsertWallet(ctx context.Context, w *domain.Wallet) error {
	b := w.Buckets
	_, err := t.tx.Exec(ctx,
		`INSERT INTO wallets (member_id, signup_bonus, direct_referral, level2, level3, level4, reward,
		 total_withdrawals, locked_balance, pending_withdrawals, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		w.MemberID, b.SignupBonus, b.DirectReferral, b.Level2, b.Level3, b.Level4, b.Reward,
		w.TotalWithdrawals, w.LockedBalance, w.PendingWithdrawals, w.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("wallet insert failed: %w", classify(err))
	}
	return nil
}

func (t *pgTx) GetWallet(ctx context.Context, memberID string) (*domain.Wallet, error) {
	w, err := scanWallet(t.tx.QueryRow(ctx, "SELECT "+walletColumns+" FROM wallets WHERE member_id = $1", memberID))
	if err != nil {
		return nil, notFound(err)
	}
	return w, nil
}

func (t *pgTx) LockWallet(ctx context.Context, memberID string) (*domain.Wallet, error) {
	w, err := scanWallet(t.tx.QueryRow(ctx, "SELECT "+walletColumns+" FROM wallets WHERE member_id = $1 FOR UPDATE", memberID))
	if err != nil {
		return nil, notFound(err)
	}
	return w, nil
}

func (t *pgTx) UpdateWallet(ctx context.Context, w *domain.Wallet) error {
	b := w.Buckets
	tag, err := t.tx.Exec(ctx,
		`UPDATE wallets SET signup_bonus = $2, direct_referral = $3, level2 = $4, level3 = $5, level4 = $6,
		 reward = $7, total_withdrawals = $8, locked_balance = $9, pending_withdrawals = $10, updated_at = $11
		 WHERE member_id = $1`,
		w.MemberID, b.SignupBonus, b.DirectReferral, b.Level2, b.Level3, b.Level4, b.Reward,
		w.TotalWithdrawals, w.LockedBalance, w.PendingWithdrawals, w.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("wallet update failed: %w", classify(err))
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const entryColumns = `id, member_id, source_member_id, category, amount, level, rate::text, status,
	reference, description, created_at, updated_at`

func scanEntry(row scanner, e *domain.LedgerEntry) error {
	var source, rate, reference *string
	var level *int
	err := row.Scan(&e.ID, &e.MemberID, &source, &e.Category, &e.Amount, &level, &rate, &e.Status,
		&reference, &e.Description, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return err
	}
	if source != nil {
		e.SourceMemberID = *source
	}
	if reference != nil {
		e.Reference = *reference
	}
	if level != nil {
		e.Level = *level
	}
	if rate != nil {
		d, err := decimal.NewFromString(*rate)
		if err != nil {
			return fmt.Errorf("entry %d rate: %w", e.ID, err)
		}
		e.Rate = &d
	}
	return nil
}

func (t *pgTx) InsertEntry(ctx context.Context, e *domain.LedgerEntry) error {
	var rate any
	if e.Rate != nil {
		rate = e.Rate.String()
	}
	err := t.tx.QueryRow(ctx,
		`INSERT INTO ledger_entries (member_id, source_member_id, category, amount, level, rate, status,
		 reference, description, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, $9, $10, $10) RETURNING id`,
		e.MemberID, nullable(e.SourceMemberID), e.Category, e.Amount, nullableInt(e.Level), rate, e.Status,
		nullable(e.Reference), e.Description, e.CreatedAt,
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("ledger entry failed: %w", classify(err))
	}
	e.UpdatedAt = e.CreatedAt
	return nil
}

func (t *pgTx) SetEntryStatus(ctx context.Context, memberID, reference string, category domain.Category, status domain.EntryStatus) (int, error) {
	tag, err := t.tx.Exec(ctx,
		`UPDATE ledger_entries SET status = $4, updated_at = now()
		 WHERE member_id = $1 AND reference = $2 AND category = $3`,
		memberID, reference, category, status,
	)
	if err != nil {
		return 0, fmt.Errorf("entry status update failed: %w", classify(err))
	}
	return int(tag.RowsAffected()), nil
}

func (t *pgTx) HasEntry(ctx context.Context, memberID string, category domain.Category) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM ledger_entries WHERE member_id = $1 AND category = $2)",
		memberID, category,
	).Scan(&exists)
	return exists, classify(err)
}

func entryFilter(q EntryQuery) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if q.MemberID != "" {
		add("member_id = $%d", q.MemberID)
	}
	if q.Category != "" {
		add("category = $%d", q.Category)
	}
	if q.Reference != "" {
		add("reference = $%d", q.Reference)
	}
	if !q.From.IsZero() {
		add("created_at >= $%d", q.From)
	}
	if !q.To.IsZero() {
		add("created_at < $%d", q.To)
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (t *pgTx) ListEntries(ctx context.Context, q EntryQuery) ([]domain.LedgerEntry, int, error) {
	where, args := entryFilter(q)

	var total int
	if err := t.tx.QueryRow(ctx, "SELECT count(*) FROM ledger_entries"+where, args...).Scan(&total); err != nil {
		return nil, 0, classify(err)
	}

	query := "SELECT " + entryColumns + " FROM ledger_entries" + where +
		" ORDER BY created_at DESC, id DESC" + limitClause(&args, q.Limit, q.Offset)
	rows, err := t.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, classify(err)
	}
	defer rows.Close()

	entries := []domain.LedgerEntry{}
	for rows.Next() {
		var e domain.LedgerEntry
		if err := scanEntry(rows, &e); err != nil {
			return nil, 0, err
		}
		entries = append(entries, e)
	}
	return entries, total, classify(rows.Err())
}

func (t *pgTx) SumEntries(ctx context.Context, memberID string, from, to time.Time) ([]CategorySum, error) {
	where, args := entryFilter(EntryQuery{MemberID: memberID, From: from, To: to})
	args = append(args, domain.EntryCompleted)
	if where == "" {
		where = fmt.Sprintf(" WHERE status = $%d", len(args))
	} else {
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}

	rows, err := t.tx.Query(ctx,
		`SELECT category, COALESCE(level, 0), count(*), COALESCE(sum(amount), 0)::bigint
		 FROM ledger_entries`+where+` GROUP BY category, COALESCE(level, 0) ORDER BY category, 2`,
		args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var sums []CategorySum
	for rows.Next() {
		var s CategorySum
		if err := rows.Scan(&s.Category, &s.Level, &s.Count, &s.Total); err != nil {
			return nil, err
		}
		sums = append(sums, s)
	}
	return sums, classify(rows.Err())
}

const withdrawalColumns = `id, member_id, amount, fee, net_amount, method, details, status, moderator_id,
	rejection_reason, payment_reference, admin_notes, requested_at, processed_at, completed_at, rejected_at, updated_at`

func scanWithdrawal(row scanner) (*domain.Withdrawal, error) {
	var w domain.Withdrawal
	err := row.Scan(&w.ID, &w.MemberID, &w.Amount, &w.Fee, &w.NetAmount, &w.Method, &w.Details, &w.Status,
		&w.ModeratorID, &w.RejectionReason, &w.PaymentReference, &w.AdminNotes,
		&w.RequestedAt, &w.ProcessedAt, &w.CompletedAt, &w.RejectedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (t *pgTx) InsertWithdrawal(ctx context.Context, w *domain.Withdrawal) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO withdrawals (id, member_id, amount, fee, net_amount, method, details, status,
		 requested_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)`,
		w.ID, w.MemberID, w.Amount, w.Fee, w.NetAmount, w.Method, w.Details, w.Status, w.RequestedAt,
	)
	if err != nil {
		return fmt.Errorf("withdrawal insert failed: %w", classify(err))
	}
	w.UpdatedAt = w.RequestedAt
	return nil
}

func (t *pgTx) GetWithdrawal(ctx context.Context, id string) (*domain.Withdrawal, error) {
	w, err := scanWithdrawal(t.tx.QueryRow(ctx, "SELECT "+withdrawalColumns+" FROM withdrawals WHERE id = $1", id))
	if err != nil {
		return nil, notFound(err)
	}
	return w, nil
}

func (t *pgTx) LockWithdrawal(ctx context.Context, id string) (*domain.Withdrawal, error) {
	w, err := scanWithdrawal(t.tx.QueryRow(ctx, "SELECT "+withdrawalColumns+" FROM withdrawals WHERE id = $1 FOR UPDATE", id))
	if err != nil {
		return nil, notFound(err)
	}
	return w, nil
}

func (t *pgTx) UpdateWithdrawal(ctx context.Context, w *domain.Withdrawal) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE withdrawals SET status = $2, moderator_id = $3, rejection_reason = $4, payment_reference = $5,
		 admin_notes = $6, processed_at = $7, completed_at = $8, rejected_at = $9, updated_at = $10
		 WHERE id = $1`,
		w.ID, w.Status, w.ModeratorID, w.RejectionReason, w.PaymentReference, w.AdminNotes,
		w.ProcessedAt, w.CompletedAt, w.RejectedAt, w.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("withdrawal update failed: %w", classify(err))
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) ListWithdrawals(ctx context.Context, q WithdrawalQuery) ([]domain.Withdrawal, int, error) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if q.MemberID != "" {
		add("member_id = $%d", q.MemberID)
	}
	if q.Status != "" {
		add("status = $%d", q.Status)
	}
	if q.Method != "" {
		add("method = $%d", q.Method)
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := t.tx.QueryRow(ctx, "SELECT count(*) FROM withdrawals"+where, args...).Scan(&total); err != nil {
		return nil, 0, classify(err)
	}

	query := "SELECT " + withdrawalColumns + " FROM withdrawals" + where +
		" ORDER BY requested_at DESC, id" + limitClause(&args, q.Limit, q.Offset)
	rows, err := t.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, classify(err)
	}
	defer rows.Close()

	list := []domain.Withdrawal{}
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, 0, err
		}
		list = append(list, *w)
	}
	return list, total, classify(rows.Err())
}

func (t *pgTx) WithdrawalStats(ctx context.Context, memberID string) ([]domain.WithdrawalStats, error) {
	query := `SELECT status, count(*), COALESCE(sum(amount), 0)::bigint, COALESCE(sum(net_amount), 0)::bigint
		FROM withdrawals`
	var args []any
	if memberID != "" {
		query += " WHERE member_id = $1"
		args = append(args, memberID)
	}
	rows, err := t.tx.Query(ctx, query+" GROUP BY status ORDER BY status", args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var stats []domain.WithdrawalStats
	for rows.Next() {
		var s domain.WithdrawalStats
		if err := rows.Scan(&s.Status, &s.Count, &s.TotalAmount, &s.TotalNetAmount); err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}
	return stats, classify(rows.Err())
}

func (t *pgTx) InsertInvestment(ctx context.Context, inv *domain.Investment) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO investments (id, member_id, amount, idempotency_key, request_hash, commission_total, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		inv.ID, inv.MemberID, inv.Amount, nullable(inv.IdempotencyKey), inv.RequestHash, inv.CommissionTotal, inv.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("investment insert failed: %w", classify(err))
	}
	return nil
}

func (t *pgTx) InvestmentByKey(ctx context.Context, key string) (*domain.Investment, error) {
	var inv domain.Investment
	var k *string
	err := t.tx.QueryRow(ctx,
		`SELECT id, member_id, amount, idempotency_key, request_hash, commission_total, created_at
		 FROM investments WHERE idempotency_key = $1`, key,
	).Scan(&inv.ID, &inv.MemberID, &inv.Amount, &k, &inv.RequestHash, &inv.CommissionTotal, &inv.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	if k != nil {
		inv.IdempotencyKey = *k
	}
	return &inv, nil
}
