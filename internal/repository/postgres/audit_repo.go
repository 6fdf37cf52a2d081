package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/xela07ax/knowledge-mesh/internal/audit"
)

// WriteBatch — пакетная вставка событий аудита. Таблица append-only:
// никаких UPDATE/DELETE по ней в кодовой базе не существует.
func (s *Store) WriteBatch(ctx context.Context, events []audit.Event) error {
	if len(events) == 0 {
		return nil
	}

	// Количество колонок в таблице audit_events
	numFields := 8
	placeholderStr := ""
	vals := make([]interface{}, 0, len(events)*numFields)

	// Динамически строим запрос для пакетной вставки
	for i, e := range events {
		p := i * numFields
		placeholderStr += fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d),",
			p+1, p+2, p+3, p+4, p+5, p+6, p+7, p+8)

		detail, _ := json.Marshal(e.Detail)
		vals = append(vals,
			e.ID, e.TraceID, e.Actor, string(e.Action), e.Resource, detail, string(e.Origin), e.Timestamp,
		)
	}

	// Убираем лишнюю запятую в конце
	query := fmt.Sprintf(
		"INSERT INTO audit_events (id, trace_id, actor, action, resource, detail, origin, timestamp) VALUES %s ON CONFLICT (id) DO NOTHING",
		strings.TrimSuffix(placeholderStr, ","),
	)

	_, err := s.pool.Exec(ctx, query, vals...)
	return err
}

// AuditQuery — фильтры постраничного запроса журнала (админский API).
type AuditQuery struct {
	Actor    string
	Resource string
	From     time.Time
	To       time.Time
	Limit    int
	Offset   int
}

// FetchEvents возвращает события с фильтрацией и пагинацией.
// Пустые фильтры означают «все» — условия собираются динамически.
func (s *Store) FetchEvents(ctx context.Context, q AuditQuery) ([]audit.Event, error) {
	conds := []string{"TRUE"}
	args := []interface{}{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if q.Actor != "" {
		conds = append(conds, "actor = "+arg(q.Actor))
	}
	if q.Resource != "" {
		conds = append(conds, "resource = "+arg(q.Resource))
	}
	if !q.From.IsZero() {
		conds = append(conds, "timestamp >= "+arg(q.From))
	}
	if !q.To.IsZero() {
		conds = append(conds, "timestamp < "+arg(q.To))
	}
	if q.Limit <= 0 || q.Limit > 1000 {
		q.Limit = 100
	}

	query := fmt.Sprintf(`
		SELECT id, trace_id, actor, action, resource, detail, origin, timestamp
		FROM audit_events
		WHERE %s
		ORDER BY timestamp DESC
		LIMIT %s OFFSET %s`,
		strings.Join(conds, " AND "), arg(q.Limit), arg(q.Offset))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: fetch audit events: %w", err)
	}
	defer rows.Close()

	var result []audit.Event
	for rows.Next() {
		var e audit.Event
		var action, origin string
		var detail []byte
		if err := rows.Scan(&e.ID, &e.TraceID, &e.Actor, &action, &e.Resource, &detail, &origin, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("postgres: scan audit event: %w", err)
		}
		e.Action = audit.Action(action)
		e.Origin = audit.Origin(origin)
		if len(detail) > 0 {
			_ = json.Unmarshal(detail, &e.Detail)
		}
		result = append(result, e)
	}
	return result, rows.Err()
}
