package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_over_release",
			SQL: `SELECT job_id, released_amount, total_amount FROM escrow_accounts
                  WHERE released_amount > total_amount`,
		},
		{
			Name: "O2_outflow_exceeds_deposit",
			SQL: `SELECT a.job_id, a.total_amount, SUM(t.amount) AS outflow
                  FROM escrow_accounts a
                  JOIN escrow_transactions t ON t.job_id = a.job_id
                  WHERE t.kind IN ('milestone_release','platform_fee','refund')
                  GROUP BY a.job_id, a.total_amount
                  HAVING SUM(t.amount) > a.total_amount`,
		},
		{
			Name: "O3_milestone_total_mismatch",
			SQL: `SELECT j.id, j.total_amount, SUM(m.amount) AS milestone_sum
                  FROM jobs j
                  JOIN milestones m ON m.job_id = j.id
                  GROUP BY j.id, j.total_amount
                  HAVING SUM(m.amount) <> j.total_amount`,
		},
		{
			Name: "O4_completed_job_unreleased_milestone",
			SQL: `SELECT j.id, m.position, m.status FROM jobs j
                  JOIN milestones m ON m.job_id = j.id
                  WHERE j.status = 'completed' AND m.status <> 'released'`,
		},
		{
			Name: "O5_released_without_settlement",
			SQL: `SELECT m.job_id, m.position FROM milestones m
                  WHERE m.status = 'released'
                    AND NOT EXISTS (
                      SELECT 1 FROM escrow_transactions t
                      WHERE t.job_id = m.job_id
                        AND t.milestone_id = m.position
                        AND t.kind = 'milestone_release')`,
		},
		{
			Name: "O6_duplicate_milestone_release",
			SQL: `SELECT job_id, milestone_id, COUNT(*) FROM escrow_transactions
                  WHERE kind = 'milestone_release'
                  GROUP BY job_id, milestone_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O7_missing_escrow_account",
			SQL: `SELECT j.id FROM jobs j
                  WHERE j.status NOT IN ('draft', 'cancelled')
                    AND NOT EXISTS (SELECT 1 FROM escrow_accounts a WHERE a.job_id = j.id)`,
		},
		{
			Name: "O8_resolved_dispute_without_decision",
			SQL: `SELECT id FROM disputes
                  WHERE status = 'resolved' AND (resolution_kind IS NULL OR resolved_at IS NULL)`,
		},
		{
			Name: "O9_in_progress_job_without_deposit",
			SQL: `SELECT j.id FROM jobs j
                  WHERE j.status IN ('in_progress','completed')
                    AND NOT EXISTS (
                      SELECT 1 FROM escrow_transactions t
                      WHERE t.job_id = j.id AND t.kind = 'deposit')`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
