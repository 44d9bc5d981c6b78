package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/ishantswami13-crypto/pesa-ledger/internal/storage"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

type Entry struct {
	ID         int64           `json:"id"`
	UserID     *int64          `json:"user_id"`
	Action     string          `json:"action"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	IP         string          `json:"ip"`
	UserAgent  string          `json:"user_agent"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Recorder writes audit entries. A nil Recorder drops them.
type Recorder struct {
	DB  *storage.DB
	Log *zap.Logger
	Now func() time.Time
}

func NewRecorder(db *storage.DB, log *zap.Logger) *Recorder {
	return &Recorder{DB: db, Log: log, Now: time.Now}
}

// Write records an audit entry; failures are returned so callers can ignore if needed.
func (r *Recorder) Write(ctx context.Context, e Entry) error {
	if r == nil || r.DB == nil {
		return nil
	}

	var metadata any
	if len(e.Metadata) > 0 {
		metadata = string(e.Metadata)
	}
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}

	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO audit_logs (user_id, action, entity_type, entity_id, ip, user_agent, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, storage.NullInt64(e.UserID), e.Action, e.EntityType, nullable(e.EntityID), nullable(e.IP), nullable(e.UserAgent), metadata, storage.ToMillis(now()))
	if err != nil {
		return fmt.Errorf("write audit entry: %w", err)
	}
	return nil
}

// Record writes an entry for the request in c, logging instead of failing.
func (r *Recorder) Record(c *fiber.Ctx, action, entityType, entityID string, metadata any) {
	if r == nil {
		return
	}
	e := Entry{
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		IP:         c.IP(),
		UserAgent:  c.Get(fiber.HeaderUserAgent),
	}
	if uid, ok := c.Locals("user_id").(int64); ok && uid > 0 {
		e.UserID = &uid
	}
	if metadata != nil {
		if b, err := json.Marshal(metadata); err == nil {
			e.Metadata = b
		}
	}
	if err := r.Write(c.UserContext(), e); err != nil && r.Log != nil {
		r.Log.Warn("audit write failed", zap.String("action", action), zap.Error(err))
	}
}

// List returns recent entries newest first, optionally for one entity type.
func (r *Recorder) List(ctx context.Context, entityType string, limit int) ([]Entry, error) {
	if limit <= 0 || limit > MaxListLimit {
		limit = DefaultListLimit
	}
	query := `
		SELECT id, user_id, action, entity_type, entity_id, ip, user_agent, metadata, created_at
		FROM audit_logs`
	var args []any
	if entityType != "" {
		query += ` WHERE entity_type = ?`
		args = append(args, entityType)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	items := make([]Entry, 0)
	for rows.Next() {
		var (
			e                          Entry
			userID                     sql.NullInt64
			entityID, ip, ua, metadata sql.NullString
			createdAt                  int64
		)
		if err := rows.Scan(&e.ID, &userID, &e.Action, &e.EntityType, &entityID, &ip, &ua, &metadata, &createdAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		if userID.Valid {
			e.UserID = &userID.Int64
		}
		e.EntityID = entityID.String
		e.IP = ip.String
		e.UserAgent = ua.String
		if metadata.Valid && metadata.String != "" {
			e.Metadata = json.RawMessage(metadata.String)
		}
		e.CreatedAt = storage.FromMillis(createdAt)
		items = append(items, e)
	}
	return items, rows.Err()
}

// ListHandler answers GET /api/audit?entity_type=&limit=.
func (r *Recorder) ListHandler(c *fiber.Ctx) error {
	limit := DefaultListLimit
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > MaxListLimit {
			return fiber.NewError(fiber.StatusBadRequest, "limit must be between 1 and 500")
		}
		limit = n
	}

	items, err := r.List(c.UserContext(), strings.TrimSpace(c.Query("entity_type")), limit)
	if err != nil {
		r.Log.Error("Error fetching audit log", zap.Error(err))
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to fetch audit log")
	}
	return c.JSON(fiber.Map{"success": true, "entries": items})
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
