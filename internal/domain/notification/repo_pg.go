package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinic/scheduler/internal/platform/db"
)

var pg = goqu.Dialect("postgres")

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) Create(ctx context.Context, n *Notification) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO notifications (id, recipient_id, appointment_id, action_type, payload)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`,
		n.ID, n.RecipientID, n.AppointmentID, string(n.Action), []byte(n.Payload)).Scan(&n.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, f ListFilter) ([]*Notification, int, error) {
	where := []goqu.Expression{goqu.C("recipient_id").Eq(f.RecipientID)}
	if f.UnreadOnly {
		where = append(where, goqu.C("read_at").IsNull())
	}
	base := pg.From("notifications").Where(where...)

	countSQL, countArgs, err := base.Select(goqu.COUNT(goqu.Star())).Prepared(true).ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("build count query: %w", err)
	}
	var total int
	if err := db.Conn(ctx, r.pool).QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count notifications: %w", err)
	}

	ds := base.Select("id", "recipient_id", "appointment_id", "action_type", "payload", "read_at", "created_at").
		Order(goqu.C("created_at").Desc(), goqu.C("id").Asc())
	if f.Limit > 0 {
		ds = ds.Limit(uint(f.Limit))
	}
	if f.Offset > 0 {
		ds = ds.Offset(uint(f.Offset))
	}
	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("build list query: %w", err)
	}
	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var items []*Notification
	for rows.Next() {
		var n Notification
		var action string
		var payload []byte
		if err := rows.Scan(&n.ID, &n.RecipientID, &n.AppointmentID, &action, &payload, &n.ReadAt, &n.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan notification: %w", err)
		}
		n.Action = Action(action)
		n.Payload = payload
		items = append(items, &n)
	}
	return items, total, rows.Err()
}

func (r *repoPG) MarkRead(ctx context.Context, id, recipientID uuid.UUID, at time.Time) (*Notification, error) {
	var n Notification
	var action string
	var payload []byte
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE notifications SET read_at = COALESCE(read_at, $3)
		WHERE id = $1 AND recipient_id = $2
		RETURNING id, recipient_id, appointment_id, action_type, payload, read_at, created_at`,
		id, recipientID, at).
		Scan(&n.ID, &n.RecipientID, &n.AppointmentID, &action, &payload, &n.ReadAt, &n.CreatedAt)
	if db.IsNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mark notification read: %w", err)
	}
	n.Action = Action(action)
	n.Payload = payload
	return &n, nil
}
