package database

import (
	"context"
	"fmt"
	"sort"
	"time"

	"reserva/internal/models"

	"github.com/shopspring/decimal"
)

// Receivables lists past or current appointments that still carry a balance, bucketed by age.
func (db *DB) Receivables(ctx context.Context, tenantID string, asOf time.Time) (*models.ReceivablesReport, error) {
	query := `SELECT a.id, COALESCE(c.name, ''), a.start_at, a.total_amount, a.paid_amount
              FROM appointments a
              LEFT JOIN customers c ON c.id = a.customer_id AND c.tenant_id = a.tenant_id
              WHERE a.tenant_id = ? AND a.is_block = 0 AND a.status NOT IN (?, ?)
                AND a.payment_status <> ? AND a.start_at <= ?
              ORDER BY a.start_at`
	rows, err := db.sqlDB.QueryContext(ctx, query, tenantID,
		models.StatusCancelled, models.StatusNoShow, models.PaymentRefunded, unix(asOf))
	if err != nil {
		return nil, fmt.Errorf("failed to load receivables: %w", err)
	}
	defer rows.Close()

	report := &models.ReceivablesReport{
		Buckets: map[string]decimal.Decimal{},
		Total:   decimal.Zero,
	}
	for rows.Next() {
		var (
			r       models.Receivable
			startAt int64
		)
		if err := rows.Scan(&r.AppointmentID, &r.CustomerName, &startAt, &r.Total, &r.Paid); err != nil {
			return nil, fmt.Errorf("failed to scan receivable: %w", err)
		}
		r.Balance = r.Total.Sub(r.Paid)
		if !r.Balance.IsPositive() {
			continue
		}
		r.StartTime = fromUnix(startAt)
		r.AgeDays = int(asOf.Sub(r.StartTime).Hours() / 24)
		r.Bucket = models.AgingBucket(r.AgeDays)

		report.Items = append(report.Items, r)
		report.Buckets[r.Bucket] = report.Buckets[r.Bucket].Add(r.Balance)
		report.Total = report.Total.Add(r.Balance)
	}
	return report, rows.Err()
}

// RevenueReport sums confirmed deposits per UTC confirmation day and currency.
func (db *DB) RevenueReport(ctx context.Context, tenantID string, from, to time.Time) ([]models.RevenueRow, error) {
	deposits, err := db.ConfirmedPayments(ctx, tenantID, from, to)
	if err != nil {
		return nil, err
	}

	type key struct{ day, currency string }
	sums := map[key]*models.RevenueRow{}
	for i := range deposits {
		d := &deposits[i]
		if d.ConfirmedAt == nil {
			continue
		}
		k := key{day: d.ConfirmedAt.UTC().Format(models.DateLayout), currency: d.Currency}
		row, ok := sums[k]
		if !ok {
			row = &models.RevenueRow{Day: k.day, Currency: k.currency, Amount: decimal.Zero}
			sums[k] = row
		}
		row.Amount = row.Amount.Add(d.EffectiveAmount())
		row.Count++
	}

	out := make([]models.RevenueRow, 0, len(sums))
	for _, row := range sums {
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Day != out[j].Day {
			return out[i].Day < out[j].Day
		}
		return out[i].Currency < out[j].Currency
	})
	return out, nil
}

// Stats aggregates appointments starting in [from, to). Blocks are not counted.
func (db *DB) Stats(ctx context.Context, tenantID string, from, to time.Time, top int) (*models.Stats, error) {
	stats := &models.Stats{
		From:     from,
		To:       to,
		ByStatus: map[string]int{},
		Revenue:  map[string]decimal.Decimal{},
	}

	rows, err := db.sqlDB.QueryContext(ctx,
		`SELECT status, paid_amount, currency FROM appointments
         WHERE tenant_id = ? AND is_block = 0 AND start_at >= ? AND start_at < ?`,
		tenantID, unix(from), unix(to))
	if err != nil {
		return nil, fmt.Errorf("failed to load stats: %w", err)
	}
	for rows.Next() {
		var (
			status, currency string
			paid             decimal.Decimal
		)
		if err := rows.Scan(&status, &paid, &currency); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan stats row: %w", err)
		}
		stats.Total++
		stats.ByStatus[status]++
		if paid.IsPositive() {
			stats.Revenue[currency] = stats.Revenue[currency].Add(paid)
		}
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if top <= 0 {
		top = 5
	}
	topRows, err := db.sqlDB.QueryContext(ctx,
		`SELECT a.service_id, COALESCE(s.name, ''), COUNT(*) AS n FROM appointments a
         LEFT JOIN services s ON s.id = a.service_id AND s.tenant_id = a.tenant_id
         WHERE a.tenant_id = ? AND a.is_block = 0 AND a.service_id <> ''
           AND a.start_at >= ? AND a.start_at < ? AND a.status <> ?
         GROUP BY a.service_id ORDER BY n DESC, a.service_id LIMIT ?`,
		tenantID, unix(from), unix(to), models.StatusCancelled, top)
	if err != nil {
		return nil, fmt.Errorf("failed to load top services: %w", err)
	}
	defer topRows.Close()
	for topRows.Next() {
		var sc models.ServiceCount
		if err := topRows.Scan(&sc.ServiceID, &sc.ServiceName, &sc.Count); err != nil {
			return nil, fmt.Errorf("failed to scan top service: %w", err)
		}
		stats.TopServices = append(stats.TopServices, sc)
	}
	return stats, topRows.Err()
}
