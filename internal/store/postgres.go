package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"contentflow/internal/util"

	"github.com/jackc/pgx/v5/pgconn"
)

// SitePath is the repository path of a site's default document library.
func SitePath(siteID string) string {
	return "/Sites/" + siteID + "/documentLibrary"
}

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET display_name=EXCLUDED.display_name, email=EXCLUDED.email, password_hash=EXCLUDED.password_hash
	`, user.ID, user.DisplayName, user.Email, user.PasswordHash)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUser(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, created_at FROM users WHERE id=$1
	`, userID).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return User{}, fmt.Errorf("read user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) CreateSite(ctx context.Context, site Site) error {
	visibility := strings.ToUpper(strings.TrimSpace(site.Visibility))
	if visibility == "" {
		visibility = "PUBLIC"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sites (id, title, visibility)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING
	`, site.ID, site.Title, visibility)
	if err != nil {
		return fmt.Errorf("insert site: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSite(ctx context.Context, siteID string) (Site, error) {
	var site Site
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, visibility, created_at FROM sites WHERE id=$1
	`, siteID).Scan(&site.ID, &site.Title, &site.Visibility, &site.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Site{}, fmt.Errorf("site %s: %w", siteID, ErrNotFound)
	}
	if err != nil {
		return Site{}, fmt.Errorf("read site: %w", err)
	}
	return site, nil
}

func (s *PostgresStore) SetSiteRole(ctx context.Context, siteID, userID, role string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO site_memberships (site_id, user_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (site_id, user_id) DO UPDATE SET role=EXCLUDED.role
	`, siteID, userID, role)
	if err != nil {
		return fmt.Errorf("upsert site membership: %w", err)
	}
	return nil
}

// SiteRole returns the member's role, or "" when the user is not a member.
func (s *PostgresStore) SiteRole(ctx context.Context, siteID, userID string) (string, error) {
	var role string
	err := s.db.QueryRowContext(ctx, `
		SELECT role FROM site_memberships WHERE site_id=$1 AND user_id=$2
	`, siteID, userID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read site role: %w", err)
	}
	return role, nil
}

func (s *PostgresStore) CreateGroup(ctx context.Context, group Group) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin group tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO groups (name, display_name)
		VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET display_name=EXCLUDED.display_name
	`, group.Name, group.DisplayName); err != nil {
		return fmt.Errorf("insert group: %w", err)
	}
	for _, member := range group.Members {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO group_memberships (group_name, user_id)
			VALUES ($1, $2)
			ON CONFLICT (group_name, user_id) DO NOTHING
		`, group.Name, member); err != nil {
			return fmt.Errorf("insert group member %s: %w", member, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit group: %w", err)
	}
	return nil
}

// GetGroup returns the group with its members in join order.
func (s *PostgresStore) GetGroup(ctx context.Context, name string) (Group, error) {
	var group Group
	err := s.db.QueryRowContext(ctx, `SELECT name, display_name FROM groups WHERE name=$1`, name).Scan(&group.Name, &group.DisplayName)
	if errors.Is(err, sql.ErrNoRows) {
		return Group{}, fmt.Errorf("group %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return Group{}, fmt.Errorf("read group: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id FROM group_memberships WHERE group_name=$1 ORDER BY joined_at ASC, user_id ASC
	`, name)
	if err != nil {
		return Group{}, fmt.Errorf("list group members: %w", err)
	}
	defer rows.Close()

	group.Members = make([]string, 0)
	for rows.Next() {
		var member string
		if err := rows.Scan(&member); err != nil {
			return Group{}, fmt.Errorf("scan group member: %w", err)
		}
		group.Members = append(group.Members, member)
	}
	if err := rows.Err(); err != nil {
		return Group{}, fmt.Errorf("iterate group members: %w", err)
	}
	return group, nil
}

// CreateNode inserts a node under its site's document library when SiteID is
// set, or at Path otherwise. A second node at the same path is rejected.
func (s *PostgresStore) CreateNode(ctx context.Context, node Node) (Node, error) {
	if node.ID == "" {
		node.ID = util.NewID("node")
	}
	if node.Kind == "" {
		node.Kind = NodeDocument
	}
	if node.SiteID != "" {
		node.Path = SitePath(node.SiteID) + "/" + node.Name
	}
	if node.Name == "" {
		node.Name = node.Path[strings.LastIndex(node.Path, "/")+1:]
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO nodes (id, site_id, name, path, kind, created_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, node.ID, nilIfEmpty(node.SiteID), node.Name, node.Path, node.Kind, node.CreatedBy).Scan(&node.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Node{}, fmt.Errorf("node %s already exists: %w", node.Path, ErrRejected)
		}
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return Node{}, fmt.Errorf("site %s: %w", node.SiteID, ErrNotFound)
		}
		return Node{}, fmt.Errorf("insert node: %w", err)
	}
	return node, nil
}

func (s *PostgresStore) GetNodeByPath(ctx context.Context, nodePath string) (Node, error) {
	var node Node
	var siteID sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, site_id, name, path, kind, created_by, created_at FROM nodes WHERE path=$1
	`, nodePath).Scan(&node.ID, &siteID, &node.Name, &node.Path, &node.Kind, &node.CreatedBy, &node.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Node{}, fmt.Errorf("node %s: %w", nodePath, ErrNotFound)
	}
	if err != nil {
		return Node{}, fmt.Errorf("read node: %w", err)
	}
	node.SiteID = siteID.String
	return node, nil
}

// CreateWorkItem persists the item, its ordered nodes and its slots in one
// transaction. Slot assignees must be known users, except for pooled reviews
// whose single slot belongs to the group.
func (s *PostgresStore) CreateWorkItem(ctx context.Context, item WorkItem) (WorkItem, error) {
	if item.ID == "" {
		item.ID = util.NewID("wi")
	}
	if item.Priority == 0 {
		item.Priority = PriorityNormal
	}
	item.Status = StatusPending

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return WorkItem{}, fmt.Errorf("begin work item tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, slot := range item.Slots {
		if item.Kind == KindPooledReview {
			continue
		}
		var known bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id=$1)`, slot.Assignee).Scan(&known); err != nil {
			return WorkItem{}, fmt.Errorf("check participant: %w", err)
		}
		if !known {
			return WorkItem{}, fmt.Errorf("unknown workflow participant %s: %w", slot.Assignee, ErrRejected)
		}
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO work_items (id, kind, message, due_at, priority, initiator, group_name, required_percent, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at
	`, item.ID, item.Kind, item.Message, item.DueAt, int(item.Priority), item.Initiator, nilIfEmpty(item.Group), item.RequiredPercent, item.Status).Scan(&item.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return WorkItem{}, fmt.Errorf("work item references unknown initiator or group: %w", ErrRejected)
		}
		return WorkItem{}, fmt.Errorf("insert work item: %w", err)
	}

	for position, node := range item.Nodes {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO work_item_nodes (work_item_id, position, node_id) VALUES ($1, $2, $3)
		`, item.ID, position, node.ID); err != nil {
			return WorkItem{}, fmt.Errorf("insert work item node: %w", err)
		}
	}
	for position := range item.Slots {
		item.Slots[position].Status = StatusPending
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO work_item_slots (work_item_id, position, assignee) VALUES ($1, $2, $3)
		`, item.ID, position, item.Slots[position].Assignee); err != nil {
			return WorkItem{}, fmt.Errorf("insert work item slot: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return WorkItem{}, fmt.Errorf("commit work item: %w", err)
	}
	return item, nil
}

// CompleteWorkItemStep completes the slot held by assignee and promotes the
// item to COMPLETED once enough slots are done. Completing an already
// completed slot is a no-op.
func (s *PostgresStore) CompleteWorkItemStep(ctx context.Context, workItemID, assignee, completedBy string) (WorkItem, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE work_item_slots
		SET status='COMPLETED', completed_by=$3, completed_at=NOW()
		WHERE work_item_id=$1 AND assignee=$2 AND status='PENDING'
	`, workItemID, assignee, completedBy)
	if err != nil {
		return WorkItem{}, fmt.Errorf("complete work item slot: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return WorkItem{}, fmt.Errorf("complete work item slot rows: %w", err)
	}

	item, err := s.GetWorkItem(ctx, workItemID)
	if err != nil {
		return WorkItem{}, err
	}
	if affected == 0 && !hasSlot(item, assignee) {
		return WorkItem{}, fmt.Errorf("slot %s on work item %s: %w", assignee, workItemID, ErrNotFound)
	}
	if item.Done() && item.Status != StatusCompleted {
		if _, err := s.db.ExecContext(ctx, `UPDATE work_items SET status='COMPLETED' WHERE id=$1`, workItemID); err != nil {
			return WorkItem{}, fmt.Errorf("complete work item: %w", err)
		}
		item.Status = StatusCompleted
	}
	return item, nil
}

func (s *PostgresStore) GetWorkItem(ctx context.Context, workItemID string) (WorkItem, error) {
	var item WorkItem
	var dueAt sql.NullTime
	var group sql.NullString
	var priority int
	err := s.db.QueryRowContext(ctx, `
		SELECT id, kind, message, due_at, priority, initiator, group_name, required_percent, status, created_at
		FROM work_items WHERE id=$1
	`, workItemID).Scan(&item.ID, &item.Kind, &item.Message, &dueAt, &priority, &item.Initiator, &group, &item.RequiredPercent, &item.Status, &item.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return WorkItem{}, fmt.Errorf("work item %s: %w", workItemID, ErrNotFound)
	}
	if err != nil {
		return WorkItem{}, fmt.Errorf("read work item: %w", err)
	}
	if dueAt.Valid {
		due := dueAt.Time
		item.DueAt = &due
	}
	item.Group = group.String
	item.Priority = Priority(priority)

	nodes, err := s.listWorkItemNodes(ctx, workItemID)
	if err != nil {
		return WorkItem{}, err
	}
	item.Nodes = nodes
	slots, err := s.listWorkItemSlots(ctx, workItemID)
	if err != nil {
		return WorkItem{}, err
	}
	item.Slots = slots
	return item, nil
}

func (s *PostgresStore) listWorkItemNodes(ctx context.Context, workItemID string) ([]Node, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT n.id, n.site_id, n.name, n.path, n.kind, n.created_by, n.created_at
		FROM work_item_nodes win
		JOIN nodes n ON n.id = win.node_id
		WHERE win.work_item_id=$1
		ORDER BY win.position ASC
	`, workItemID)
	if err != nil {
		return nil, fmt.Errorf("list work item nodes: %w", err)
	}
	defer rows.Close()

	nodes := make([]Node, 0)
	for rows.Next() {
		var node Node
		var siteID sql.NullString
		if err := rows.Scan(&node.ID, &siteID, &node.Name, &node.Path, &node.Kind, &node.CreatedBy, &node.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan work item node: %w", err)
		}
		node.SiteID = siteID.String
		nodes = append(nodes, node)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate work item nodes: %w", err)
	}
	return nodes, nil
}

func (s *PostgresStore) listWorkItemSlots(ctx context.Context, workItemID string) ([]Slot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT assignee, status, completed_by, completed_at
		FROM work_item_slots
		WHERE work_item_id=$1
		ORDER BY position ASC
	`, workItemID)
	if err != nil {
		return nil, fmt.Errorf("list work item slots: %w", err)
	}
	defer rows.Close()

	slots := make([]Slot, 0)
	for rows.Next() {
		var slot Slot
		var completedBy sql.NullString
		var completedAt sql.NullTime
		if err := rows.Scan(&slot.Assignee, &slot.Status, &completedBy, &completedAt); err != nil {
			return nil, fmt.Errorf("scan work item slot: %w", err)
		}
		slot.CompletedBy = completedBy.String
		if completedAt.Valid {
			at := completedAt.Time
			slot.CompletedAt = &at
		}
		slots = append(slots, slot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate work item slots: %w", err)
	}
	return slots, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.db.PingContext(ctx)
}

func hasSlot(item WorkItem, assignee string) bool {
	for _, slot := range item.Slots {
		if slot.Assignee == assignee {
			return true
		}
	}
	return false
}

func nilIfEmpty(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}
