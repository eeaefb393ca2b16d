package service

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/punchamoorthee/refledger/internal/domain"
	"github.com/punchamoorthee/refledger/internal/store"
	"github.com/shopspring/decimal"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
	// maxPage keeps (page-1)*limit from overflowing.
	maxPage = math.MaxInt / maxPageLimit
)

// Reports serves read models. Every query first checks that the member exists.
type Reports struct {
	*base
	rates domain.RateTable
}

// Page is one page of a paginated listing. Page numbers start at 1.
type Page[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
	Page  int `json:"page"`
	Limit int `json:"limit"`
}

// PageRequest normalizes page and limit and returns the store offset.
func PageRequest(page, limit int) (int, int, int) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	if page > maxPage {
		page = maxPage
	}
	return page, limit, (page - 1) * limit
}

type EntryFilter struct {
	Category domain.Category
	From     time.Time
	To       time.Time
	Page     int
	Limit    int
}

type IncomeSummary struct {
	MemberID   string              `json:"member_id"`
	From       *time.Time          `json:"from,omitempty"`
	To         *time.Time          `json:"to,omitempty"`
	Categories []store.CategorySum `json:"categories"`
	Total      int64               `json:"total"`
	Count      int                 `json:"count"`
}

// TeamNode is one member of a genealogy tree.
type TeamNode struct {
	Member   domain.Member `json:"member"`
	Level    int           `json:"level"`
	Children []*TeamNode   `json:"children"`
}

type LevelStats struct {
	Level        int   `json:"level"`
	Members      int   `json:"members"`
	Active       int   `json:"active"`
	Investment   int64 `json:"investment"`
	TeamBusiness int64 `json:"team_business"`
}

type TeamTree struct {
	Root   TeamNode     `json:"root"`
	Depth  int          `json:"depth"`
	Size   int          `json:"size"`
	Levels []LevelStats `json:"levels"`
}

type LevelProjection struct {
	Level          int             `json:"level"`
	Rate           decimal.Decimal `json:"rate"`
	TeamInvestment int64           `json:"team_investment"`
	Projected      int64           `json:"projected"`
}

// Projection estimates the commission a member would have earned if every
// downline member's investment to date had been paid at the current rates.
type Projection struct {
	MemberID string            `json:"member_id"`
	Levels   []LevelProjection `json:"levels"`
	Total    int64             `json:"total"`
}

type WithdrawalFilter struct {
	Status domain.WithdrawalStatus
	Method domain.Method
	Page   int
	Limit  int
}

func (r *Reports) Member(ctx context.Context, memberID string) (*domain.Member, error) {
	var m *domain.Member
	err := r.tx.Run(ctx, "report_member", func(tx store.Tx) error {
		var err error
		m, err = r.member(ctx, tx, memberID)
		return err
	})
	return m, err
}

func (r *Reports) Wallet(ctx context.Context, memberID string) (*domain.WalletSnapshot, error) {
	var snap domain.WalletSnapshot
	err := r.tx.Run(ctx, "report_wallet", func(tx store.Tx) error {
		if _, err := r.member(ctx, tx, memberID); err != nil {
			return err
		}
		w, err := tx.GetWallet(ctx, memberID)
		if err != nil {
			return mapNotFound(err, domain.ErrWalletNotFound)
		}
		snap = w.Snapshot()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

func (r *Reports) Entries(ctx context.Context, memberID string, f EntryFilter) (*Page[domain.LedgerEntry], error) {
	if f.Category != "" && !f.Category.Valid() {
		return nil, &domain.LedgerError{Code: domain.InvalidCategory, MemberID: memberID}
	}
	page, limit, offset := PageRequest(f.Page, f.Limit)
	res := &Page[domain.LedgerEntry]{Page: page, Limit: limit}
	err := r.tx.Run(ctx, "report_entries", func(tx store.Tx) error {
		if _, err := r.member(ctx, tx, memberID); err != nil {
			return err
		}
		var err error
		res.Items, res.Total, err = tx.ListEntries(ctx, store.EntryQuery{
			MemberID: memberID,
			Category: f.Category,
			From:     f.From,
			To:       f.To,
			Limit:    limit,
			Offset:   offset,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// IncomeSummary totals completed income entries per category and level.
func (r *Reports) IncomeSummary(ctx context.Context, memberID string, from, to time.Time) (*IncomeSummary, error) {
	sum := &IncomeSummary{MemberID: memberID, Categories: []store.CategorySum{}}
	if !from.IsZero() {
		sum.From = &from
	}
	if !to.IsZero() {
		sum.To = &to
	}
	err := r.tx.Run(ctx, "report_income", func(tx store.Tx) error {
		if _, err := r.member(ctx, tx, memberID); err != nil {
			return err
		}
		rows, err := tx.SumEntries(ctx, memberID, from, to)
		if err != nil {
			return err
		}
		sum.Categories, sum.Total, sum.Count = sum.Categories[:0], 0, 0
		for _, row := range rows {
			if !row.Category.IsIncome() {
				continue
			}
			sum.Categories = append(sum.Categories, row)
			sum.Total += row.Total
			sum.Count += row.Count
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sum, nil
}

// Team returns the genealogy tree below memberID down to depth levels.
func (r *Reports) Team(ctx context.Context, memberID string, depth int) (*TeamTree, error) {
	if depth <= 0 || depth > domain.MaxLevel {
		depth = domain.MaxLevel
	}
	var tree *TeamTree
	err := r.tx.Run(ctx, "report_team", func(tx store.Tx) error {
		root, err := r.member(ctx, tx, memberID)
		if err != nil {
			return err
		}
		team, _, err := tx.ListTeam(ctx, memberID, store.TeamQuery{MaxLevel: depth})
		if err != nil {
			return err
		}
		tree = buildTree(*root, team, depth)
		return nil
	})
	return tree, err
}

func buildTree(root domain.Member, team []store.TeamMember, depth int) *TeamTree {
	tree := &TeamTree{
		Root:   TeamNode{Member: root, Children: []*TeamNode{}},
		Depth:  depth,
		Size:   len(team),
		Levels: make([]LevelStats, depth),
	}
	for i := range tree.Levels {
		tree.Levels[i].Level = i + 1
	}
	nodes := map[string]*TeamNode{root.ID: &tree.Root}
	// team is ordered by level, so every parent is placed before its children.
	for _, tm := range team {
		node := &TeamNode{Member: tm.Member, Level: tm.Edge.Level, Children: []*TeamNode{}}
		nodes[tm.Member.ID] = node
		if parent, ok := nodes[tm.Member.SponsorID]; ok {
			parent.Children = append(parent.Children, node)
		}

		st := &tree.Levels[tm.Edge.Level-1]
		st.Members++
		if tm.Member.Status == domain.StatusActive {
			st.Active++
		}
		st.Investment += tm.Member.TotalInvestment
		st.TeamBusiness += tm.Edge.DirectBusiness + tm.Edge.TeamBusiness
	}
	return tree
}

// Edges lists the ancestor edges below memberID, optionally at one level.
func (r *Reports) Edges(ctx context.Context, memberID string, level, page, limit int) (*Page[store.TeamMember], error) {
	if level < 0 || level > domain.MaxLevel {
		return nil, domain.ValidationError("level must be between 1 and %d", domain.MaxLevel)
	}
	page, limit, offset := PageRequest(page, limit)
	res := &Page[store.TeamMember]{Page: page, Limit: limit}
	err := r.tx.Run(ctx, "report_edges", func(tx store.Tx) error {
		if _, err := r.member(ctx, tx, memberID); err != nil {
			return err
		}
		var err error
		res.Items, res.Total, err = tx.ListTeam(ctx, memberID, store.TeamQuery{Level: level, Limit: limit, Offset: offset})
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Withdrawals lists withdrawal requests. An empty memberID lists every member's.
func (r *Reports) Withdrawals(ctx context.Context, memberID string, f WithdrawalFilter) (*Page[domain.Withdrawal], error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, domain.ValidationError("unknown status %q", f.Status)
	}
	if f.Method != "" && !f.Method.Valid() {
		return nil, domain.ValidationError("unknown method %q", f.Method)
	}
	page, limit, offset := PageRequest(f.Page, f.Limit)
	res := &Page[domain.Withdrawal]{Page: page, Limit: limit}
	err := r.tx.Run(ctx, "report_withdrawals", func(tx store.Tx) error {
		if memberID != "" {
			if _, err := r.member(ctx, tx, memberID); err != nil {
				return err
			}
		}
		var err error
		res.Items, res.Total, err = tx.ListWithdrawals(ctx, store.WithdrawalQuery{
			MemberID: memberID,
			Status:   f.Status,
			Method:   f.Method,
			Limit:    limit,
			Offset:   offset,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (r *Reports) WithdrawalStats(ctx context.Context, memberID string) ([]domain.WithdrawalStats, error) {
	var stats []domain.WithdrawalStats
	err := r.tx.Run(ctx, "report_withdrawal_stats", func(tx store.Tx) error {
		if _, err := r.member(ctx, tx, memberID); err != nil {
			return err
		}
		var err error
		stats, err = tx.WithdrawalStats(ctx, memberID)
		return err
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Status < stats[j].Status })
	return stats, nil
}

func (r *Reports) Projection(ctx context.Context, memberID string) (*Projection, error) {
	p := &Projection{MemberID: memberID}
	err := r.tx.Run(ctx, "report_projection", func(tx store.Tx) error {
		if _, err := r.member(ctx, tx, memberID); err != nil {
			return err
		}
		team, _, err := tx.ListTeam(ctx, memberID, store.TeamQuery{})
		if err != nil {
			return err
		}
		invested := make([]int64, domain.MaxLevel+1)
		for _, tm := range team {
			invested[tm.Edge.Level] += tm.Member.TotalInvestment
		}
		p.Levels, p.Total = make([]LevelProjection, 0, domain.MaxLevel), 0
		for level := 1; level <= domain.MaxLevel; level++ {
			rate := r.rates.Rate(level)
			lp := LevelProjection{
				Level:          level,
				Rate:           rate,
				TeamInvestment: invested[level],
				Projected:      domain.PercentOf(invested[level], rate),
			}
			p.Levels = append(p.Levels, lp)
			p.Total += lp.Projected
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (r *Reports) member(ctx context.Context, tx store.Tx, memberID string) (*domain.Member, error) {
	m, err := tx.GetMember(ctx, memberID)
	if err != nil {
		return nil, mapNotFound(err, domain.ErrMemberNotFound)
	}
	return m, nil
}
