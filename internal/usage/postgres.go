package usage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

// LoadDataset reads every usage record from the given table and returns an
// immutable snapshot grouped by date key. The snapshot is taken once at
// startup; the query tools never touch the database afterwards.
func LoadDataset(ctx context.Context, pool *pgxpool.Pool, table string, logger *slog.Logger) (*Dataset, error) {
	query := fmt.Sprintf(`
		SELECT date, time, usage
		FROM %s
		ORDER BY date, time
	`, table)

	rows, err := pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("load usage records: %w", err)
	}
	defer rows.Close()

	var days []Day
	byDate := make(map[string]int)
	for rows.Next() {
		var date string
		var sample Sample
		if err := rows.Scan(&date, &sample.Time, &sample.Usage); err != nil {
			return nil, fmt.Errorf("scan usage record: %w", err)
		}

		i, ok := byDate[date]
		if !ok {
			i = len(days)
			byDate[date] = i
			days = append(days, Day{Date: date})
		}
		days[i].Samples = append(days[i].Samples, sample)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read usage records: %w", err)
	}

	return NewDataset(days, logger), nil
}
