package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/punchamoorthee/refledger/internal/config"
	"github.com/punchamoorthee/refledger/internal/domain"
	"github.com/punchamoorthee/refledger/internal/logging"
	"github.com/punchamoorthee/refledger/internal/store"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configFile string
	fanout     int
	depth      int
	prefix     string
	truncate   bool
	migrate    bool
)

type seedMember struct {
	id       string
	code     string
	sponsor  *seedMember
	direct   int
	teamSize int
}

type seedEdge struct {
	ancestorID string
	memberID   string
	level      int
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "seeder",
		Short: "Bulk-load a synthetic referral tree",
		RunE:  run,
	}
	flags := rootCmd.Flags()
	flags.StringVar(&configFile, "config", "", "path to YAML config file")
	flags.IntVar(&fanout, "fanout", 3, "direct referrals per member")
	flags.IntVar(&depth, "depth", 6, "levels below the root")
	flags.StringVar(&prefix, "prefix", "M", "member id prefix")
	flags.BoolVar(&truncate, "truncate", false, "wipe ledger tables before seeding")
	flags.BoolVar(&migrate, "migrate", false, "apply migrations before seeding")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	if fanout < 1 || depth < 0 {
		return fmt.Errorf("fanout must be positive and depth non-negative")
	}
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	if cfg.DBSource == "" {
		return fmt.Errorf("DB_SOURCE is required")
	}
	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if migrate {
		if err := store.MigrateUp(cfg.DBSource, logger); err != nil {
			return err
		}
	}

	ctx := cmd.Context()
	conn, err := pgx.Connect(ctx, cfg.DBSource)
	if err != nil {
		logger.Error("unable to connect to database", zap.Error(err))
		return err
	}
	defer conn.Close(ctx)

	logger.Info("seeding database", zap.Int("fanout", fanout), zap.Int("depth", depth))

	if truncate {
		if _, err := conn.Exec(ctx,
			"TRUNCATE TABLE investments, withdrawals, ledger_entries, wallets, ancestor_edges, members CASCADE"); err != nil {
			return err
		}
	}

	var count int
	if err := conn.QueryRow(ctx, "SELECT COUNT(*) FROM members").Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		logger.Info("members already present, skipping", zap.Int("count", count))
		return nil
	}

	members, edges := buildTree(prefix, fanout, depth)
	started := time.Now()
	if err := load(ctx, conn, members, edges, started); err != nil {
		logger.Error("bulk insert failed", zap.Error(err))
		return err
	}

	logger.Info("seeded referral tree",
		zap.Int("members", len(members)),
		zap.Int("edges", len(edges)),
		zap.Duration("elapsed", time.Since(started)),
	)
	return nil
}

// buildTree lays out a complete tree breadth first and computes the
// closure edges and team counters the engine would have maintained.
func buildTree(prefix string, fanout, depth int) ([]*seedMember, []seedEdge) {
	root := &seedMember{id: fmt.Sprintf("%s%06d", prefix, 0), code: seedCode(0)}
	members := []*seedMember{root}
	var edges []seedEdge

	frontier := []*seedMember{root}
	for d := 0; d < depth; d++ {
		var next []*seedMember
		for _, sponsor := range frontier {
			for i := 0; i < fanout; i++ {
				n := len(members)
				m := &seedMember{id: fmt.Sprintf("%s%06d", prefix, n), code: seedCode(n), sponsor: sponsor}
				sponsor.direct++
				level := 1
				for a := sponsor; a != nil && level <= domain.MaxLevel; a = a.sponsor {
					a.teamSize++
					edges = append(edges, seedEdge{ancestorID: a.id, memberID: m.id, level: level})
					level++
				}
				members = append(members, m)
				next = append(next, m)
			}
		}
		frontier = next
	}
	return members, edges
}

// seedCode is deterministic so reruns against a truncated database yield the same codes.
func seedCode(n int) string {
	return fmt.Sprintf("S%07d", n)
}

func load(ctx context.Context, conn *pgx.Conn, members []*seedMember, edges []seedEdge, now time.Time) error {
	tx, err := conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	memberRows := make([][]interface{}, 0, len(members))
	walletRows := make([][]interface{}, 0, len(members))
	for _, m := range members {
		var sponsorID interface{}
		if m.sponsor != nil {
			sponsorID = m.sponsor.id
		}
		memberRows = append(memberRows, []interface{}{
			m.id, m.code, sponsorID, string(domain.StatusActive), m.direct, m.teamSize, now, now,
		})
		walletRows = append(walletRows, []interface{}{m.id, now})
	}
	if _, err := tx.CopyFrom(ctx,
		pgx.Identifier{"members"},
		[]string{"id", "referral_code", "sponsor_id", "status", "direct_referrals", "team_size", "joined_at", "updated_at"},
		pgx.CopyFromRows(memberRows),
	); err != nil {
		return fmt.Errorf("copy members: %w", err)
	}
	if _, err := tx.CopyFrom(ctx,
		pgx.Identifier{"wallets"},
		[]string{"member_id", "updated_at"},
		pgx.CopyFromRows(walletRows),
	); err != nil {
		return fmt.Errorf("copy wallets: %w", err)
	}

	if _, err := tx.CopyFrom(ctx,
		pgx.Identifier{"ancestor_edges"},
		[]string{"ancestor_id", "member_id", "level", "created_at"},
		pgx.CopyFromSlice(len(edges), func(i int) ([]interface{}, error) {
			e := edges[i]
			return []interface{}{e.ancestorID, e.memberID, int16(e.level), now}, nil
		}),
	); err != nil {
		return fmt.Errorf("copy edges: %w", err)
	}
	return tx.Commit(ctx)
}
