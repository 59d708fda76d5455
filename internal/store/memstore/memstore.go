// Package memstore is an in-memory store.Store used by tests and local runs
// without MySQL.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hamzaKhattat/pbx-call-control/internal/models"
	"github.com/hamzaKhattat/pbx-call-control/internal/store"
	"github.com/hamzaKhattat/pbx-call-control/pkg/errors"
)

type Store struct {
	mu sync.RWMutex

	menus      map[int64]*models.IVRMenu
	rules      map[string]*models.RoutingRule
	trunks     map[int64]*models.Trunk
	extensions map[string]*models.Extension
	ringGroups map[int64]*models.RingGroup
	settings   map[string]string
	campaigns  map[int64]*models.Campaign
	contacts   map[int64]*models.Contact

	nextLogID  int64
	callLogs   map[int64]*models.CallLog
	nextRecID  int64
	recordings map[int64]*models.Recording
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		menus:      make(map[int64]*models.IVRMenu),
		rules:      make(map[string]*models.RoutingRule),
		trunks:     make(map[int64]*models.Trunk),
		extensions: make(map[string]*models.Extension),
		ringGroups: make(map[int64]*models.RingGroup),
		settings:   map[string]string{store.SettingCampaignActive: "true"},
		campaigns:  make(map[int64]*models.Campaign),
		contacts:   make(map[int64]*models.Contact),
		callLogs:   make(map[int64]*models.CallLog),
		recordings: make(map[int64]*models.Recording),
	}
}

// Seeding

func (s *Store) AddMenu(m *models.IVRMenu) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.menus[m.ID] = m
}

func (s *Store) AddRule(r *models.RoutingRule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[r.DialedNumber] = r
}

func (s *Store) AddTrunk(t *models.Trunk) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trunks[t.ID] = t
}

func (s *Store) AddExtension(e *models.Extension) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.extensions[e.Number] = e
}

func (s *Store) AddRingGroup(g *models.RingGroup) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ringGroups[g.ID] = g
}

func (s *Store) SetSetting(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[key] = value
}

func (s *Store) AddCampaign(c *models.Campaign) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.campaigns[c.ID] = c
}

func (s *Store) AddContact(c *models.Contact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contacts[c.ID] = c
}

// Inspection

// CallLog returns a copy of the call log with id.
func (s *Store) CallLog(id int64) (models.CallLog, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.callLogs[id]
	if !ok {
		return models.CallLog{}, false
	}
	return *l, true
}

// CallLogs returns copies of every call log ordered by id.
func (s *Store) CallLogs() []models.CallLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.CallLog, 0, len(s.callLogs))
	for _, l := range s.callLogs {
		out = append(out, *l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Recordings returns copies of every recording ordered by id.
func (s *Store) Recordings() []models.Recording {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Recording, 0, len(s.recordings))
	for _, r := range s.recordings {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Contact returns a copy of the contact with id.
func (s *Store) Contact(id int64) (models.Contact, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contacts[id]
	if !ok {
		return models.Contact{}, false
	}
	return *c, true
}

// store.CallLogStore

func (s *Store) CreateCallLog(_ context.Context, log *models.CallLog) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextLogID++
	cp := *log
	cp.ID = s.nextLogID
	if cp.StartedAt.IsZero() {
		cp.StartedAt = time.Now()
	}
	s.callLogs[cp.ID] = &cp
	return cp.ID, nil
}

func (s *Store) UpdateCallLog(_ context.Context, id int64, fields map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.callLogs[id]
	if !ok {
		return errors.New(errors.ErrNotFound, "call log not found").WithContext("id", id)
	}
	for key, value := range fields {
		switch key {
		case models.FieldDisposition:
			l.Disposition = toDisposition(value)
		case models.FieldDestination:
			l.Destination, _ = value.(string)
		case models.FieldPressedDigits:
			l.PressedDigits, _ = value.(string)
		case models.FieldDuration:
			l.DurationSeconds, _ = value.(int)
		case models.FieldMenuID:
			l.MenuID, _ = value.(int64)
		case models.FieldEndedAt:
			if t, ok := value.(time.Time); ok {
				l.EndedAt = &t
			}
		default:
			return errors.New(errors.ErrInternal, "unknown call log field").WithContext("field", key)
		}
	}
	return nil
}

func toDisposition(v interface{}) models.Disposition {
	switch d := v.(type) {
	case models.Disposition:
		return d
	case string:
		return models.Disposition(d)
	}
	return ""
}

// store.RecordingStore

func (s *Store) CreateRecording(_ context.Context, callLogID int64, filePath string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextRecID++
	s.recordings[s.nextRecID] = &models.Recording{
		ID:        s.nextRecID,
		CallLogID: callLogID,
		FilePath:  filePath,
		CreatedAt: time.Now(),
	}
	return s.nextRecID, nil
}

func (s *Store) FindRecordingByCallLogID(_ context.Context, callLogID int64) (*models.Recording, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.recordings {
		if r.CallLogID == callLogID {
			cp := *r
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *Store) CompleteRecording(_ context.Context, id int64, durationSeconds int, fileSize int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recordings[id]
	if !ok {
		return errors.New(errors.ErrNotFound, "recording not found").WithContext("id", id)
	}
	r.DurationSeconds = durationSeconds
	r.FileSize = fileSize
	r.Completed = true
	return nil
}

// store.MenuStore

func (s *Store) FindMenuWithOptions(_ context.Context, id int64) (*models.IVRMenu, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.menus[id]
	if !ok {
		return nil, nil
	}
	cp := *m
	cp.Options = append([]models.IVROption(nil), m.Options...)
	return &cp, nil
}

func (s *Store) FindAllMenus(_ context.Context) ([]*models.IVRMenu, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.IVRMenu, 0, len(s.menus))
	for _, m := range s.menus {
		cp := *m
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// store.RoutingStore

func (s *Store) FindEnabledRule(_ context.Context, dialedNumber string) (*models.RoutingRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rules[dialedNumber]
	if !ok || !r.Enabled {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

// store.TrunkStore

func (s *Store) FindTrunkByID(_ context.Context, id int64) (*models.Trunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.trunks[id]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (s *Store) FindEnabledTrunks(_ context.Context) ([]*models.Trunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Trunk
	for _, t := range s.trunks {
		if t.Enabled {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// store.ExtensionStore

func (s *Store) FindExtensionByNumber(_ context.Context, number string) (*models.Extension, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.extensions[number]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

// store.RingGroupStore

func (s *Store) FindRingGroupByID(_ context.Context, id int64) (*models.RingGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.ringGroups[id]
	if !ok {
		return nil, nil
	}
	cp := *g
	cp.Members = append([]string(nil), g.Members...)
	return &cp, nil
}

// store.SettingsStore

func (s *Store) GetSetting(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings[key], nil
}

func (s *Store) IsCampaignActive(ctx context.Context) (bool, error) {
	v, _ := s.GetSetting(ctx, store.SettingCampaignActive)
	return isTrue(v), nil
}

func isTrue(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// store.CampaignStore

func (s *Store) FindCampaignByID(_ context.Context, id int64) (*models.Campaign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.campaigns[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (s *Store) FindContactByID(_ context.Context, id int64) (*models.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contacts[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (s *Store) UpdateContactStatus(_ context.Context, id int64, status models.ContactStatus, callLogID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[id]
	if !ok {
		return errors.New(errors.ErrNotFound, "contact not found").WithContext("id", id)
	}
	c.Status = status
	if callLogID > 0 {
		logID := callLogID
		c.CallLogID = &logID
	}
	c.UpdatedAt = time.Now()
	return nil
}
