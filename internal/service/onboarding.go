package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/punchamoorthee/refledger/internal/domain"
	"github.com/punchamoorthee/refledger/internal/store"
	"go.uber.org/zap"
)

const (
	referralCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	referralCodeLength   = 8
	referralCodeAttempts = 10
)

// Onboarding registers members and administers their status.
type Onboarding struct {
	*base
	graph       *Graph
	ledger      *Ledger
	signupBonus int64
}

// RegisterRequest names the sponsor by id or by referral code. Both empty
// registers a root member. An empty MemberID gets a generated one.
type RegisterRequest struct {
	MemberID    string
	SponsorID   string
	SponsorCode string
}

type Registration struct {
	Member  domain.Member         `json:"member"`
	Wallet  domain.WalletSnapshot `json:"wallet"`
	Edges   []domain.AncestorEdge `json:"edges"`
	Bonuses []domain.LedgerEntry  `json:"bonuses"`
}

// Register creates the member and its wallet, pays the signup bonus to the
// member and its sponsor, and builds the ancestry, all in one transaction.
func (o *Onboarding) Register(ctx context.Context, req RegisterRequest) (*Registration, error) {
	memberID := strings.TrimSpace(req.MemberID)
	if memberID == "" {
		memberID = o.newID()
	}

	var reg *Registration
	err := o.tx.Run(ctx, "register", func(tx store.Tx) error {
		sponsorID, err := o.resolveSponsor(ctx, tx, req)
		if err != nil {
			return err
		}
		if _, err := tx.GetMember(ctx, memberID); err == nil {
			return domain.ErrMemberExists
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		code, err := o.referralCode(ctx, tx)
		if err != nil {
			return err
		}

		now := o.now()
		m := &domain.Member{
			ID:           memberID,
			ReferralCode: code,
			SponsorID:    sponsorID,
			Status:       domain.StatusActive,
			JoinedAt:     now,
		}
		if err := tx.InsertMember(ctx, m); err != nil {
			return conflictOnDuplicate(err)
		}
		w := domain.NewWallet(memberID)
		w.UpdatedAt = now
		if err := tx.InsertWallet(ctx, w); err != nil {
			return conflictOnDuplicate(err)
		}

		reg = &Registration{Edges: []domain.AncestorEdge{}, Bonuses: []domain.LedgerEntry{}}
		if o.signupBonus > 0 {
			e, err := o.ledger.credit(ctx, tx, CreditRequest{
				MemberID:    memberID,
				Category:    domain.CategorySignupBonus,
				Amount:      o.signupBonus,
				Description: "Signup bonus",
			})
			if err != nil {
				return err
			}
			reg.Bonuses = append(reg.Bonuses, *e)
		}

		if sponsorID != "" {
			if o.signupBonus > 0 {
				e, err := o.ledger.credit(ctx, tx, CreditRequest{
					MemberID:       sponsorID,
					Category:       domain.CategorySignupBonus,
					Amount:         o.signupBonus,
					SourceMemberID: memberID,
					Description:    fmt.Sprintf("Referral signup bonus for %s", memberID),
				})
				if err != nil {
					return err
				}
				reg.Bonuses = append(reg.Bonuses, *e)
			}
			reg.Edges, err = o.graph.buildAncestry(ctx, tx, memberID, sponsorID)
			if err != nil {
				return err
			}
		}

		member, err := tx.GetMember(ctx, memberID)
		if err != nil {
			return err
		}
		wallet, err := tx.GetWallet(ctx, memberID)
		if err != nil {
			return err
		}
		reg.Member, reg.Wallet = *member, wallet.Snapshot()
		return nil
	})
	if err != nil {
		return nil, err
	}
	o.logger.Info("member registered",
		zap.String("member", reg.Member.ID),
		zap.String("sponsor", reg.Member.SponsorID),
		zap.Int("edges", len(reg.Edges)),
	)
	return reg, nil
}

func (o *Onboarding) resolveSponsor(ctx context.Context, tx store.Tx, req RegisterRequest) (string, error) {
	sponsorID := strings.TrimSpace(req.SponsorID)
	if code := strings.ToUpper(strings.TrimSpace(req.SponsorCode)); code != "" {
		s, err := tx.MemberByReferralCode(ctx, code)
		if err != nil {
			return "", mapNotFound(err, domain.ErrSponsorNotFound)
		}
		if sponsorID != "" && sponsorID != s.ID {
			return "", &domain.GraphError{Code: domain.SponsorMismatch, MemberID: sponsorID}
		}
		return s.ID, nil
	}
	if sponsorID == "" {
		return "", nil
	}
	if _, err := tx.GetMember(ctx, sponsorID); err != nil {
		return "", mapNotFound(err, domain.ErrSponsorNotFound)
	}
	return sponsorID, nil
}

func (o *Onboarding) referralCode(ctx context.Context, tx store.Tx) (string, error) {
	for i := 0; i < referralCodeAttempts; i++ {
		code, err := generateReferralCode()
		if err != nil {
			return "", err
		}
		_, err = tx.MemberByReferralCode(ctx, code)
		if errors.Is(err, store.ErrNotFound) {
			return code, nil
		}
		if err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("no free referral code after %d attempts", referralCodeAttempts)
}

func generateReferralCode() (string, error) {
	var sb strings.Builder
	n := big.NewInt(int64(len(referralCodeAlphabet)))
	for i := 0; i < referralCodeLength; i++ {
		idx, err := rand.Int(rand.Reader, n)
		if err != nil {
			return "", err
		}
		sb.WriteByte(referralCodeAlphabet[idx.Int64()])
	}
	return sb.String(), nil
}

// SetStatus changes a member's status. Only ACTIVE members earn commission.
func (o *Onboarding) SetStatus(ctx context.Context, memberID string, status domain.MemberStatus) (*domain.Member, error) {
	if !status.Valid() {
		return nil, domain.ErrInvalidStatus
	}
	var m *domain.Member
	err := o.tx.Run(ctx, "set_status", func(tx store.Tx) error {
		var err error
		m, err = tx.LockMember(ctx, memberID)
		if err != nil {
			return mapNotFound(err, domain.ErrMemberNotFound)
		}
		if m.Status == status {
			return nil
		}
		m.Status = status
		m.UpdatedAt = o.now()
		return tx.UpdateMember(ctx, m)
	})
	if err != nil {
		return nil, err
	}
	o.logger.Info("member status changed", zap.String("member", memberID), zap.String("status", string(status)))
	return m, nil
}

// conflictOnDuplicate turns a unique violation raised by a concurrent
// registration into a retryable conflict.
func conflictOnDuplicate(err error) error {
	if errors.Is(err, store.ErrDuplicate) {
		return fmt.Errorf("%w: %w", store.ErrConflict, err)
	}
	return err
}
