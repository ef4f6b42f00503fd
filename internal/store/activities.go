// ABOUTME: AgentActivity append-only log store methods
// ABOUTME: ULID identifiers keep entries time-sortable without a sequence

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// AppendActivity appends an entry to the agent activity log. Generates a ULID
// and timestamp if not set. Entries are never updated or deleted by normal flow.
func (s *SQLiteStore) AppendActivity(ctx context.Context, activity *AgentActivity) error {
	if activity.Timestamp.IsZero() {
		activity.Timestamp = time.Now().UTC()
	}
	if activity.ID == "" {
		activity.ID = ulid.MustNew(ulid.Timestamp(activity.Timestamp), ulid.DefaultEntropy()).String()
	}

	data, err := marshalJSON(activity.ActivityData)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO agent_activities (id, agent_ref, activity_type, activity_data, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		activity.ID,
		activity.AgentRef,
		string(activity.ActivityType),
		data,
		formatTime(activity.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("inserting activity: %w", err)
	}
	return nil
}

// ListActivities returns activity entries matching the filter, newest first.
func (s *SQLiteStore) ListActivities(ctx context.Context, filter ActivityFilter) ([]*AgentActivity, error) {
	query := `
		SELECT id, agent_ref, activity_type, activity_data, timestamp
		FROM agent_activities
		WHERE 1=1
	`
	args := []any{}
	if filter.AgentRef != "" {
		query += " AND agent_ref = ?"
		args = append(args, filter.AgentRef)
	}
	if filter.ActivityType != "" {
		query += " AND activity_type = ?"
		args = append(args, string(filter.ActivityType))
	}
	query += " ORDER BY timestamp DESC"
	query += limitClause(&args, filter.Limit, 0)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying activities: %w", err)
	}
	defer rows.Close()

	var activities []*AgentActivity
	for rows.Next() {
		var a AgentActivity
		var actType, ts string
		var data sql.NullString

		if err := rows.Scan(&a.ID, &a.AgentRef, &actType, &data, &ts); err != nil {
			return nil, fmt.Errorf("scanning activity: %w", err)
		}
		a.ActivityType = ActivityType(actType)
		if a.ActivityData, err = unmarshalJSON(data); err != nil {
			return nil, err
		}
		if a.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		activities = append(activities, &a)
	}
	return activities, rows.Err()
}
