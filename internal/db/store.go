package db

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hamzaKhattat/pbx-call-control/internal/models"
	"github.com/hamzaKhattat/pbx-call-control/internal/store"
	"github.com/hamzaKhattat/pbx-call-control/pkg/errors"
)

// Cache lifetimes for configuration reads. Call history is never cached.
const (
	menuCacheTTL    = 5 * time.Minute
	routingCacheTTL = time.Minute
	trunkCacheTTL   = time.Minute
)

// Store implements store.Store on MySQL. Configuration lookups go through
// cache when one is set.
type Store struct {
	db    *DB
	cache *Cache
}

var _ store.Store = (*Store)(nil)

// NewStore builds the store. cache may be nil.
func NewStore(db *DB, cache *Cache) *Store {
	return &Store{db: db, cache: cache}
}

// Call logs

func (s *Store) CreateCallLog(ctx context.Context, log *models.CallLog) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO call_logs (
			call_id, direction, channel, caller_number, caller_name, dialed_number,
			campaign_id, contact_id, menu_id, disposition, destination, started_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		log.CallID, log.Direction, log.Channel, log.CallerNumber, log.CallerName, log.DialedNumber,
		log.CampaignID, log.ContactID, log.MenuID, log.Disposition, log.Destination, log.StartedAt,
	)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrDatabase, "failed to create call log")
	}
	return res.LastInsertId()
}

var callLogColumns = map[string]bool{
	models.FieldDisposition:   true,
	models.FieldDestination:   true,
	models.FieldPressedDigits: true,
	models.FieldDuration:      true,
	models.FieldMenuID:        true,
	models.FieldEndedAt:       true,
}

func (s *Store) UpdateCallLog(ctx context.Context, id int64, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		if !callLogColumns[k] {
			return errors.New(errors.ErrInternal, "unknown call log field").WithContext("field", k)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	sets := make([]string, len(keys))
	args := make([]interface{}, 0, len(keys)+1)
	for i, k := range keys {
		sets[i] = k + " = ?"
		args = append(args, fields[k])
	}
	args = append(args, id)

	query := fmt.Sprintf("UPDATE call_logs SET %s WHERE id = ?", strings.Join(sets, ", "))
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return errors.Wrap(err, errors.ErrDatabase, "failed to update call log").WithContext("id", id)
	}
	return nil
}

// RecentCallLogs lists the newest call logs first.
func (s *Store) RecentCallLogs(ctx context.Context, limit int) ([]*models.CallLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, call_id, direction, channel, caller_number, caller_name, dialed_number,
		       campaign_id, contact_id, menu_id, disposition, destination, pressed_digits,
		       duration_seconds, started_at, ended_at
		FROM call_logs
		ORDER BY started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrDatabase, "failed to query call logs")
	}
	defer rows.Close()

	var logs []*models.CallLog
	for rows.Next() {
		var (
			l     models.CallLog
			ended sql.NullTime
		)
		if err := rows.Scan(
			&l.ID, &l.CallID, &l.Direction, &l.Channel, &l.CallerNumber, &l.CallerName, &l.DialedNumber,
			&l.CampaignID, &l.ContactID, &l.MenuID, &l.Disposition, &l.Destination, &l.PressedDigits,
			&l.DurationSeconds, &l.StartedAt, &ended,
		); err != nil {
			return nil, errors.Wrap(err, errors.ErrDatabase, "failed to scan call log")
		}
		if ended.Valid {
			l.EndedAt = &ended.Time
		}
		logs = append(logs, &l)
	}
	return logs, rows.Err()
}

// Recordings

func (s *Store) CreateRecording(ctx context.Context, callLogID int64, filePath string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO recordings (call_log_id, file_path) VALUES (?, ?)`, callLogID, filePath)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrDatabase, "failed to create recording")
	}
	return res.LastInsertId()
}

func (s *Store) FindRecordingByCallLogID(ctx context.Context, callLogID int64) (*models.Recording, error) {
	var r models.Recording
	err := s.db.QueryRowContext(ctx, `
		SELECT id, call_log_id, file_path, duration_seconds, file_size, completed, created_at
		FROM recordings
		WHERE call_log_id = ?
		ORDER BY id DESC
		LIMIT 1`, callLogID).Scan(
		&r.ID, &r.CallLogID, &r.FilePath, &r.DurationSeconds, &r.FileSize, &r.Completed, &r.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrDatabase, "failed to query recording")
	}
	return &r, nil
}

func (s *Store) CompleteRecording(ctx context.Context, id int64, durationSeconds int, fileSize int64) error {
	if _, err := s.db.ExecContext(ctx, `
		UPDATE recordings SET duration_seconds = ?, file_size = ?, completed = TRUE
		WHERE id = ?`, durationSeconds, fileSize, id); err != nil {
		return errors.Wrap(err, errors.ErrDatabase, "failed to complete recording").WithContext("id", id)
	}
	return nil
}

// Menus

const menuColumns = `id, name, welcome_prompt, invalid_prompt, timeout_prompt, timeout_seconds, max_retries`

func (s *Store) FindMenuWithOptions(ctx context.Context, id int64) (*models.IVRMenu, error) {
	cacheKey := fmt.Sprintf("ivr_menu:%d", id)
	var cached models.IVRMenu
	if s.cache.Get(ctx, cacheKey, &cached) {
		return &cached, nil
	}

	var m models.IVRMenu
	err := s.db.Transaction(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `SELECT `+menuColumns+` FROM ivr_menus WHERE id = ?`, id).Scan(
			&m.ID, &m.Name, &m.WelcomePrompt, &m.InvalidPrompt, &m.TimeoutPrompt, &m.TimeoutSeconds, &m.MaxRetries,
		)
		if err != nil {
			return err
		}

		m.Options, err = menuOptions(ctx, tx, id)
		return err
	})
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrDatabase, "failed to load menu").WithContext("menu_id", id)
	}

	s.cache.Set(ctx, cacheKey, m, menuCacheTTL)
	return &m, nil
}

func menuOptions(ctx context.Context, tx *sql.Tx, menuID int64) ([]models.IVROption, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, menu_id, key_press, action, destination, trunk_id, trunk_number,
		       pre_connect_prompt, post_call_prompt
		FROM ivr_options
		WHERE menu_id = ?
		ORDER BY key_press`, menuID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var opts []models.IVROption
	for rows.Next() {
		var (
			o       models.IVROption
			trunkID sql.NullInt64
		)
		if err := rows.Scan(&o.ID, &o.MenuID, &o.Key, &o.Action, &o.Destination, &trunkID, &o.TrunkNumber,
			&o.PreConnectPrompt, &o.PostCallPrompt); err != nil {
			return nil, err
		}
		if trunkID.Valid {
			id := trunkID.Int64
			o.TrunkID = &id
		}
		opts = append(opts, o)
	}
	return opts, rows.Err()
}

// FindAllMenus lists menus in id order without their options.
func (s *Store) FindAllMenus(ctx context.Context) ([]*models.IVRMenu, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+menuColumns+` FROM ivr_menus ORDER BY id`)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrDatabase, "failed to query menus")
	}
	defer rows.Close()

	var menus []*models.IVRMenu
	for rows.Next() {
		var m models.IVRMenu
		if err := rows.Scan(&m.ID, &m.Name, &m.WelcomePrompt, &m.InvalidPrompt, &m.TimeoutPrompt,
			&m.TimeoutSeconds, &m.MaxRetries); err != nil {
			return nil, errors.Wrap(err, errors.ErrDatabase, "failed to scan menu")
		}
		menus = append(menus, &m)
	}
	return menus, rows.Err()
}

// Routing

func (s *Store) FindEnabledRule(ctx context.Context, dialedNumber string) (*models.RoutingRule, error) {
	cacheKey := "routing_rule:" + dialedNumber
	var cached models.RoutingRule
	if s.cache.Get(ctx, cacheKey, &cached) {
		return &cached, nil
	}

	var r models.RoutingRule
	err := s.db.QueryRowContext(ctx, `
		SELECT id, dialed_number, target_type, target_id, enabled
		FROM routing_rules
		WHERE dialed_number = ? AND enabled = TRUE
		ORDER BY id
		LIMIT 1`, dialedNumber).Scan(&r.ID, &r.DialedNumber, &r.TargetType, &r.TargetID, &r.Enabled)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrDatabase, "failed to query routing rule")
	}

	s.cache.Set(ctx, cacheKey, r, routingCacheTTL)
	return &r, nil
}

// ListRoutingRules lists every rule, enabled or not.
func (s *Store) ListRoutingRules(ctx context.Context) ([]*models.RoutingRule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, dialed_number, target_type, target_id, enabled
		FROM routing_rules
		ORDER BY dialed_number, id`)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrDatabase, "failed to query routing rules")
	}
	defer rows.Close()

	var rules []*models.RoutingRule
	for rows.Next() {
		var r models.RoutingRule
		if err := rows.Scan(&r.ID, &r.DialedNumber, &r.TargetType, &r.TargetID, &r.Enabled); err != nil {
			return nil, errors.Wrap(err, errors.ErrDatabase, "failed to scan routing rule")
		}
		rules = append(rules, &r)
	}
	return rules, rows.Err()
}

// Trunks

func (s *Store) FindTrunkByID(ctx context.Context, id int64) (*models.Trunk, error) {
	cacheKey := fmt.Sprintf("trunk:%d", id)
	var cached models.Trunk
	if s.cache.Get(ctx, cacheKey, &cached) {
		return &cached, nil
	}

	var t models.Trunk
	err := s.db.QueryRowContext(ctx, `SELECT id, name, host, enabled FROM trunks WHERE id = ?`, id).
		Scan(&t.ID, &t.Name, &t.Host, &t.Enabled)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrDatabase, "failed to query trunk")
	}

	s.cache.Set(ctx, cacheKey, t, trunkCacheTTL)
	return &t, nil
}

func (s *Store) FindEnabledTrunks(ctx context.Context) ([]*models.Trunk, error) {
	return s.trunks(ctx, `SELECT id, name, host, enabled FROM trunks WHERE enabled = TRUE ORDER BY id`)
}

// ListTrunks lists every trunk, enabled or not.
func (s *Store) ListTrunks(ctx context.Context) ([]*models.Trunk, error) {
	return s.trunks(ctx, `SELECT id, name, host, enabled FROM trunks ORDER BY id`)
}

func (s *Store) trunks(ctx context.Context, query string) ([]*models.Trunk, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrDatabase, "failed to query trunks")
	}
	defer rows.Close()

	var trunks []*models.Trunk
	for rows.Next() {
		var t models.Trunk
		if err := rows.Scan(&t.ID, &t.Name, &t.Host, &t.Enabled); err != nil {
			return nil, errors.Wrap(err, errors.ErrDatabase, "failed to scan trunk")
		}
		trunks = append(trunks, &t)
	}
	return trunks, rows.Err()
}

// Extensions and ring groups

func (s *Store) FindExtensionByNumber(ctx context.Context, number string) (*models.Extension, error) {
	var e models.Extension
	err := s.db.QueryRowContext(ctx,
		`SELECT id, number, name, forward_number FROM extensions WHERE number = ?`, number).
		Scan(&e.ID, &e.Number, &e.Name, &e.ForwardNumber)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrDatabase, "failed to query extension")
	}
	return &e, nil
}

func (s *Store) FindRingGroupByID(ctx context.Context, id int64) (*models.RingGroup, error) {
	var (
		g       models.RingGroup
		members string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, members, ring_seconds FROM ring_groups WHERE id = ?`, id).
		Scan(&g.ID, &g.Name, &members, &g.RingSeconds)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrDatabase, "failed to query ring group")
	}
	g.Members = models.SplitList(members)
	return &g, nil
}

// Settings

func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT setting_value FROM settings WHERE setting_key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrap(err, errors.ErrDatabase, "failed to query setting").WithContext("key", key)
	}
	return value, nil
}

// IsCampaignActive reads the campaign_active setting. An unset value is
// active.
func (s *Store) IsCampaignActive(ctx context.Context) (bool, error) {
	v, err := s.GetSetting(ctx, store.SettingCampaignActive)
	if err != nil {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "1", "true", "yes", "on":
		return true, nil
	}
	return false, nil
}

// Campaigns and contacts

func (s *Store) FindCampaignByID(ctx context.Context, id int64) (*models.Campaign, error) {
	var c models.Campaign
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, handler_type, agent_id, ring_group_id, extensions, menu_id,
		       default_extensions, hold_music_class, amd_enabled
		FROM campaigns
		WHERE id = ?`, id).Scan(
		&c.ID, &c.Name, &c.HandlerType, &c.AgentID, &c.RingGroupID, &c.Extensions, &c.MenuID,
		&c.DefaultExtensions, &c.HoldMusicClass, &c.AMDEnabled,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrDatabase, "failed to query campaign")
	}
	return &c, nil
}

func (s *Store) FindContactByID(ctx context.Context, id int64) (*models.Contact, error) {
	var (
		c     models.Contact
		logID sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, campaign_id, phone, status, call_log_id, updated_at
		FROM contacts
		WHERE id = ?`, id).Scan(&c.ID, &c.CampaignID, &c.Phone, &c.Status, &logID, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrDatabase, "failed to query contact")
	}
	if logID.Valid {
		c.CallLogID = &logID.Int64
	}
	return &c, nil
}

func (s *Store) UpdateContactStatus(ctx context.Context, id int64, status models.ContactStatus, callLogID int64) error {
	var logID interface{}
	if callLogID > 0 {
		logID = callLogID
	}

	if _, err := s.db.ExecContext(ctx, `
		UPDATE contacts SET status = ?, call_log_id = COALESCE(?, call_log_id)
		WHERE id = ?`, status, logID, id); err != nil {
		return errors.Wrap(err, errors.ErrDatabase, "failed to update contact").WithContext("id", id)
	}
	return nil
}
