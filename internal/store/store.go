// Package store declares the collaborators the call flows read configuration
// from and write call history to. Lookups return (nil, nil) when nothing matches.
package store

import (
	"context"

	"github.com/hamzaKhattat/pbx-call-control/internal/models"
)

type CallLogStore interface {
	CreateCallLog(ctx context.Context, log *models.CallLog) (int64, error)
	UpdateCallLog(ctx context.Context, id int64, fields map[string]interface{}) error
}

type RecordingStore interface {
	CreateRecording(ctx context.Context, callLogID int64, filePath string) (int64, error)
	FindRecordingByCallLogID(ctx context.Context, callLogID int64) (*models.Recording, error)
	CompleteRecording(ctx context.Context, id int64, durationSeconds int, fileSize int64) error
}

type MenuStore interface {
	FindMenuWithOptions(ctx context.Context, id int64) (*models.IVRMenu, error)
	FindAllMenus(ctx context.Context) ([]*models.IVRMenu, error)
}

type RoutingStore interface {
	FindEnabledRule(ctx context.Context, dialedNumber string) (*models.RoutingRule, error)
}

type TrunkStore interface {
	FindTrunkByID(ctx context.Context, id int64) (*models.Trunk, error)
	FindEnabledTrunks(ctx context.Context) ([]*models.Trunk, error)
}

type ExtensionStore interface {
	FindExtensionByNumber(ctx context.Context, number string) (*models.Extension, error)
}

type RingGroupStore interface {
	FindRingGroupByID(ctx context.Context, id int64) (*models.RingGroup, error)
}

type SettingsStore interface {
	GetSetting(ctx context.Context, key string) (string, error)
	IsCampaignActive(ctx context.Context) (bool, error)
}

type CampaignStore interface {
	FindCampaignByID(ctx context.Context, id int64) (*models.Campaign, error)
	FindContactByID(ctx context.Context, id int64) (*models.Contact, error)
	UpdateContactStatus(ctx context.Context, id int64, status models.ContactStatus, callLogID int64) error
}

// Directory is the read side shared by dial target resolution.
type Directory interface {
	TrunkStore
	ExtensionStore
	RingGroupStore
}

// Store is everything the call-control core consumes.
type Store interface {
	CallLogStore
	RecordingStore
	MenuStore
	RoutingStore
	Directory
	SettingsStore
	CampaignStore
}

// Setting keys
const (
	SettingRecordingEnabled = "recording_enabled"
	SettingCampaignActive   = "campaign_active"
)
