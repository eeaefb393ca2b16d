package service

import (
	"context"
	"errors"

	"github.com/punchamoorthee/refledger/internal/domain"
	"github.com/punchamoorthee/refledger/internal/store"
	"go.uber.org/zap"
)

// maxChainHops bounds the unbounded upline walk.
const maxChainHops = 1000

// Graph maintains ancestor edges and the team counters of the referral tree.
type Graph struct {
	*base
	maxHops int
}

// BuildAncestry links a newly registered member to its first domain.MaxLevel sponsors.
func (g *Graph) BuildAncestry(ctx context.Context, memberID, sponsorID string) ([]domain.AncestorEdge, error) {
	var edges []domain.AncestorEdge
	err := g.tx.Run(ctx, "build_ancestry", func(tx store.Tx) error {
		var err error
		edges, err = g.buildAncestry(ctx, tx, memberID, sponsorID)
		return err
	})
	return edges, err
}

func (g *Graph) buildAncestry(ctx context.Context, tx store.Tx, memberID, sponsorID string) ([]domain.AncestorEdge, error) {
	m, err := tx.LockMember(ctx, memberID)
	if err != nil {
		return nil, mapNotFound(err, domain.ErrMemberNotFound)
	}
	if m.SponsorID != sponsorID {
		return nil, &domain.GraphError{Code: domain.SponsorMismatch, MemberID: memberID}
	}
	existing, err := tx.Ancestors(ctx, memberID)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return nil, &domain.GraphError{Code: domain.AlreadyLinked, MemberID: memberID}
	}

	now := g.now()
	visited := map[string]bool{memberID: true}
	edges := make([]domain.AncestorEdge, 0, domain.MaxLevel)
	current := sponsorID
	for level := 1; level <= domain.MaxLevel && current != ""; level++ {
		if visited[current] {
			return nil, &domain.GraphError{Code: domain.CycleDetected, MemberID: current}
		}
		visited[current] = true

		ancestor, err := tx.LockMember(ctx, current)
		if errors.Is(err, store.ErrNotFound) {
			if level == 1 {
				return nil, domain.ErrSponsorNotFound
			}
			g.logger.Warn("sponsor chain ends at missing member", zap.String("member", current))
			break
		}
		if err != nil {
			return nil, err
		}

		edge := domain.AncestorEdge{AncestorID: current, MemberID: memberID, Level: level, CreatedAt: now}
		if err := tx.InsertEdge(ctx, &edge); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return nil, &domain.GraphError{Code: domain.AlreadyLinked, MemberID: memberID}
			}
			return nil, err
		}

		next := ancestor.SponsorID
		ancestor.TeamSize++
		if level == 1 {
			ancestor.DirectReferrals++
		}
		ancestor.UpdatedAt = now
		if err := tx.UpdateMember(ctx, ancestor); err != nil {
			return nil, err
		}
		edges = append(edges, edge)
		current = next
	}

	g.logger.Debug("ancestry built", zap.String("member", memberID), zap.Int("edges", len(edges)))
	return edges, nil
}

// RecordBusinessVolume adds an investment to the team business of every
// ancestor of memberID and to the edges it flows through. It returns the
// ancestors touched, nearest first.
func (g *Graph) RecordBusinessVolume(ctx context.Context, memberID string, amount int64) ([]string, error) {
	var touched []string
	err := g.tx.Run(ctx, "record_business_volume", func(tx store.Tx) error {
		var err error
		touched, err = g.recordBusinessVolume(ctx, tx, memberID, amount)
		return err
	})
	return touched, err
}

func (g *Graph) recordBusinessVolume(ctx context.Context, tx store.Tx, memberID string, amount int64) ([]string, error) {
	if amount <= 0 {
		return nil, &domain.LedgerError{Code: domain.InvalidAmount, MemberID: memberID, Amount: amount}
	}
	investor, err := tx.LockMember(ctx, memberID)
	if err != nil {
		return nil, mapNotFound(err, domain.ErrMemberNotFound)
	}

	now := g.now()
	// chain[0] is the investor, chain[d] its ancestor at depth d.
	chain := []string{memberID}
	visited := map[string]bool{memberID: true}
	var touched []string
	for current := investor.SponsorID; current != ""; {
		depth := len(chain)
		if depth > g.maxHops {
			return nil, &domain.GraphError{Code: domain.ChainTooDeep, MemberID: memberID}
		}
		if visited[current] {
			return nil, &domain.GraphError{Code: domain.CycleDetected, MemberID: current}
		}
		visited[current] = true

		ancestor, err := tx.LockMember(ctx, current)
		if errors.Is(err, store.ErrNotFound) {
			g.logger.Warn("sponsor chain ends at missing member", zap.String("member", current))
			break
		}
		if err != nil {
			return nil, err
		}
		next := ancestor.SponsorID
		ancestor.TeamBusiness += amount
		ancestor.UpdatedAt = now
		if err := tx.UpdateMember(ctx, ancestor); err != nil {
			return nil, err
		}

		for j := max(0, depth-domain.MaxLevel); j < depth; j++ {
			direct, team := int64(0), amount
			if j == 0 {
				direct, team = amount, 0
			}
			if err := tx.AddEdgeBusiness(ctx, current, chain[j], direct, team); err != nil {
				return nil, err
			}
		}

		touched = append(touched, current)
		chain = append(chain, current)
		current = next
	}
	return touched, nil
}

func mapNotFound(err, target error) error {
	if errors.Is(err, store.ErrNotFound) {
		return target
	}
	return err
}
