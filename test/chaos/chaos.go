package chaos

import (
	"context"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// TerminateRandomBackend occasionally kills one of the database's server
// backends so the actors exercise their reconnect and retry paths while
// mid-transaction. A non-empty appLike narrows the victims to sessions whose
// application_name matches the pattern.
func TerminateRandomBackend(ctx context.Context, pool *pgxpool.Pool, appLike string, stop <-chan struct{}) {
	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if rand.Intn(4) != 0 {
				continue
			}
			q := `SELECT pg_terminate_backend(pid) FROM pg_stat_activity
				WHERE datname = current_database() AND pid <> pg_backend_pid()`
			args := []any{}
			if appLike != "" {
				q += ` AND application_name LIKE $1`
				args = append(args, appLike)
			}
			q += ` ORDER BY random() LIMIT 1`
			_, _ = pool.Exec(ctx, q, args...)
		}
	}
}
