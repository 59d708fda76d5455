// Package dialtarget turns extensions, ring groups, trunks and external
// numbers into Dial strings.
package dialtarget

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/hamzaKhattat/pbx-call-control/internal/models"
	"github.com/hamzaKhattat/pbx-call-control/internal/store"
	"github.com/hamzaKhattat/pbx-call-control/pkg/errors"
)

// DefaultOutboundContext is the dialplan context external numbers leave through.
const DefaultOutboundContext = "outbound-trunks"

// Target is a resolved Dial destination.
type Target struct {
	// Dial is the endpoint list, members joined with "&".
	Dial string
	// Destination is the logical destination stored on the call log.
	Destination string
	// ViaTrunk is set when any member rings through a trunk.
	ViaTrunk bool
	// RingSeconds overrides the dial timeout when positive.
	RingSeconds int
}

// Empty reports whether nothing dialable was resolved.
func (t Target) Empty() bool {
	return t.Dial == ""
}

type Resolver struct {
	dir             store.Directory
	outboundContext string
}

func NewResolver(dir store.Directory, outboundContext string) *Resolver {
	if outboundContext == "" {
		outboundContext = DefaultOutboundContext
	}
	return &Resolver{dir: dir, outboundContext: outboundContext}
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// Sanitize turns a trunk name into its endpoint name: "Provider A" becomes
// "provider_a".
func Sanitize(name string) string {
	return strings.Trim(nonAlnum.ReplaceAllString(strings.ToLower(name), "_"), "_")
}

// Trunk dials number through the trunk with id. The trunk must exist and be
// enabled.
func (r *Resolver) Trunk(ctx context.Context, trunkID int64, number string) (Target, error) {
	trunk, err := r.dir.FindTrunkByID(ctx, trunkID)
	if err != nil {
		return Target{}, errors.Wrap(err, errors.ErrDatabase, "failed to load trunk")
	}
	if trunk == nil || !trunk.Enabled {
		return Target{}, errors.New(errors.ErrConfigGap, "trunk unavailable").
			WithContext("trunk_id", trunkID)
	}
	name := Sanitize(trunk.Name)
	return Target{
		Dial:        fmt.Sprintf("PJSIP/%s@%s", number, name),
		Destination: fmt.Sprintf("trunk:%s:%s", name, number),
		ViaTrunk:    true,
	}, nil
}

// External dials number through the outbound context.
func (r *Resolver) External(number string) Target {
	return Target{
		Dial:        fmt.Sprintf("Local/%s@%s", number, r.outboundContext),
		Destination: "external:" + number,
	}
}

// Extension dials one extension, substituting its forwarding number through
// the first enabled trunk when one is configured.
func (r *Resolver) Extension(ctx context.Context, number string) (Target, error) {
	t, err := r.Extensions(ctx, []string{number})
	if err != nil {
		return Target{}, err
	}
	t.Destination = "ext:" + number
	return t, nil
}

// Extensions dials every number in parallel.
func (r *Resolver) Extensions(ctx context.Context, numbers []string) (Target, error) {
	var (
		t        Target
		members  []string
		trunk    *models.Trunk
		searched bool
	)

	for _, number := range numbers {
		ext, err := r.dir.FindExtensionByNumber(ctx, number)
		if err != nil {
			return Target{}, errors.Wrap(err, errors.ErrDatabase, "failed to load extension").
				WithContext("extension", number)
		}

		if ext != nil && ext.ForwardNumber != "" {
			if !searched {
				trunk, err = r.firstEnabledTrunk(ctx)
				if err != nil {
					return Target{}, err
				}
				searched = true
			}
			if trunk != nil {
				members = append(members, fmt.Sprintf("PJSIP/%s@%s", ext.ForwardNumber, Sanitize(trunk.Name)))
				t.ViaTrunk = true
				continue
			}
		}
		members = append(members, "PJSIP/"+number)
	}

	t.Dial = strings.Join(members, "&")
	t.Destination = "ext:" + strings.Join(numbers, ",")
	return t, nil
}

// RingGroup dials every member of group id. A missing or empty group yields
// an empty target.
func (r *Resolver) RingGroup(ctx context.Context, id int64) (Target, error) {
	group, err := r.dir.FindRingGroupByID(ctx, id)
	if err != nil {
		return Target{}, errors.Wrap(err, errors.ErrDatabase, "failed to load ring group").
			WithContext("ring_group_id", id)
	}
	if group == nil || len(group.Members) == 0 {
		return Target{}, nil
	}

	t, err := r.Extensions(ctx, group.Members)
	if err != nil {
		return Target{}, err
	}
	t.Destination = "ring_group:" + strconv.FormatInt(id, 10)
	t.RingSeconds = group.RingSeconds
	return t, nil
}

func (r *Resolver) firstEnabledTrunk(ctx context.Context) (*models.Trunk, error) {
	trunks, err := r.dir.FindEnabledTrunks(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrDatabase, "failed to load trunks")
	}
	for _, t := range trunks {
		if t.Enabled {
			return t, nil
		}
	}
	return nil, nil
}

// DialArgs renders the Dial application arguments: targets, timeout and
// options such as hold music.
func DialArgs(t Target, timeoutSeconds int, options string) []string {
	args := []string{t.Dial, strconv.Itoa(timeoutSeconds)}
	if options != "" {
		args = append(args, options)
	}
	return args
}

// HoldMusic is the Dial option playing class to the caller while ringing.
func HoldMusic(class string) string {
	if class == "" {
		return ""
	}
	return fmt.Sprintf("m(%s)", class)
}
