package ivr

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hamzaKhattat/pbx-call-control/internal/agi"
	"github.com/hamzaKhattat/pbx-call-control/internal/store"
	"github.com/hamzaKhattat/pbx-call-control/pkg/logger"
)

const (
	DefaultRecordingDir    = "/var/spool/asterisk/monitor"
	DefaultRecordingPrefix = "call"

	varRecordingFile = "RECORDING_FILE"
)

type RecordingConfig struct {
	Dir    string
	Prefix string
}

type recordingStore interface {
	store.SettingsStore
	store.RecordingStore
}

// Recorder starts and finalizes call recordings. Failures are logged and
// leave the call unrecorded.
type Recorder struct {
	store recordingStore
	cfg   RecordingConfig
	now   func() time.Time
}

// ActiveRecording is a recording attached to a call in progress.
type ActiveRecording struct {
	ID   int64
	Path string
}

func NewRecorder(st recordingStore, cfg RecordingConfig) *Recorder {
	if cfg.Dir == "" {
		cfg.Dir = DefaultRecordingDir
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultRecordingPrefix
	}
	return &Recorder{store: st, cfg: cfg, now: time.Now}
}

// Filename builds <dir>/<YYYY>/<MM>/<DD>/<prefix>-<YYYYmmdd-HHMMSS>-<uniqueid>.wav.
func (r *Recorder) Filename(uniqueID string, at time.Time) string {
	name := fmt.Sprintf("%s-%s-%s.wav", r.cfg.Prefix, at.Format("20060102-150405"), uniqueID)
	return filepath.Join(r.cfg.Dir, at.Format("2006"), at.Format("01"), at.Format("02"), name)
}

// Start adopts a recording the dialplan already started, or starts one when
// recording is enabled. It returns nil when the call is not recorded.
func (r *Recorder) Start(ctx context.Context, ch agi.Channel, uniqueID string, logID int64) *ActiveRecording {
	log := logger.WithContext(ctx)

	path, err := ch.GetVariable(ctx, varRecordingFile)
	if err != nil {
		log.Warn("Failed to read recording variable", "error", err)
		return nil
	}

	if path == "" {
		enabled, err := r.store.GetSetting(ctx, store.SettingRecordingEnabled)
		if err != nil {
			log.Warn("Failed to read recording setting", "error", err)
			return nil
		}
		if !isEnabled(enabled) {
			return nil
		}

		path = r.Filename(uniqueID, r.now())
		if err := ch.StartRecording(ctx, path); err != nil {
			log.Warn("Failed to start recording", "path", path, "error", err)
			return nil
		}
		log.Info("Recording started", "path", path)
	} else {
		log.Debug("Using dialplan recording", "path", path)
	}

	rec := &ActiveRecording{Path: path}
	if logID == 0 {
		return rec
	}

	id, err := r.store.CreateRecording(ctx, logID, path)
	if err != nil {
		log.Warn("Failed to create recording record", "path", path, "error", err)
		return rec
	}
	rec.ID = id
	return rec
}

// Finish stores the final duration and the file size found on disk.
func (r *Recorder) Finish(ctx context.Context, rec *ActiveRecording, durationSeconds int) {
	if rec == nil || rec.ID == 0 {
		return
	}

	var size int64
	if info, err := os.Stat(rec.Path); err == nil {
		size = info.Size()
	}

	if err := r.store.CompleteRecording(ctx, rec.ID, durationSeconds, size); err != nil {
		logger.WithContext(ctx).Warn("Failed to complete recording",
			"recording_id", rec.ID,
			"error", err)
	}
}

func isEnabled(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true":
		return true
	}
	return false
}
