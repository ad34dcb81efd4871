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
			Name: "O1_single_accepted_bid",
			SQL: `SELECT job_id, COUNT(*) FROM bids
                  WHERE bid_status = 'accepted_by_customer'
                  GROUP BY job_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O2_accepted_provider_matches_bid",
			SQL: `SELECT j.id FROM jobs j
                  JOIN bids b ON b.id = j.accepted_bid_id
                  WHERE j.provider_id IS DISTINCT FROM b.provider_id`,
		},
		{
			Name: "O3_accepted_job_has_bid_ref",
			SQL: `SELECT id FROM jobs
                  WHERE status NOT IN ('unclaimed','open','bidding','cancelled')
                    AND accepted_bid_id IS NULL`,
		},
		{
			Name: "O4_claim_exclusivity",
			SQL: `SELECT id FROM jobs
                  WHERE customer_uid IS NOT NULL AND claim_token_hash IS NOT NULL`,
		},
		{
			Name: "O5_timestamp_monotonic",
			SQL: `SELECT id FROM jobs
                  WHERE (enroute_at IS NOT NULL AND assigned_at IS NOT NULL AND enroute_at < assigned_at)
                     OR (on_site_at IS NOT NULL AND enroute_at IS NOT NULL AND on_site_at < enroute_at)
                     OR (in_progress_at IS NOT NULL AND on_site_at IS NOT NULL AND in_progress_at < on_site_at)
                     OR (completed_at IS NOT NULL AND in_progress_at IS NOT NULL AND completed_at < in_progress_at)`,
		},
		{
			Name: "O6_counter_fold_consistency",
			SQL: `SELECT id FROM bids
                  WHERE counter_status = 'counter_accepted_by_provider'
                    AND amount IS DISTINCT FROM counter_amount`,
		},
		{
			Name: "O7_progressed_job_has_assignee",
			SQL: `SELECT id FROM jobs
                  WHERE status IN ('enroute','on_site','in_progress','completed')
                    AND COALESCE(assigned_technician_id, assigned_to, assigned_to_uid, assigned_employee_uid) IS NULL`,
		},
		{
			Name: "O8_assignee_columns_mirrored",
			SQL: `SELECT id FROM jobs
                  WHERE assigned_technician_id IS NOT NULL
                    AND (assigned_to IS DISTINCT FROM assigned_technician_id
                      OR assigned_to_uid IS DISTINCT FROM assigned_technician_id
                      OR assigned_employee_uid IS DISTINCT FROM assigned_technician_id)`,
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
