package bot

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/keepmind9/chatlink/internal/logger"
	"github.com/keepmind9/chatlink/internal/longpoll"
	"github.com/keepmind9/chatlink/pkg/constants"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// VKUpdate is one Bots Long Poll update.
type VKUpdate struct {
	Type    string
	EventID string
	GroupID int64
	Object  gjson.Result
}

// VKLongPoll is the Bots Long Poll session protocol. The cursor is
// (server, key, ts). failed=1 only moves ts; failed=2 and failed=3 are
// recovered here by renewing the session and are not reported as errors.
type VKLongPoll struct {
	client  *VKClient
	groupID int64
	wait    int
	onReady func(*VKGroup)
	log     *logrus.Entry

	server string
	key    string
	ts     string
	// stale is set when a renewal failed; the next poll renews first.
	stale bool
}

var _ longpoll.Source[VKUpdate] = (*VKLongPoll)(nil)

// NewVKLongPoll creates the source. A zero groupID is resolved during
// Initialize from the token's community. onReady, if set, receives the
// community.
func NewVKLongPoll(client *VKClient, groupID int64, onReady func(*VKGroup)) *VKLongPoll {
	return &VKLongPoll{
		client:  client,
		groupID: groupID,
		wait:    constants.VKPollWait,
		onReady: onReady,
		log:     logger.ForPlatform("vk"),
	}
}

// Initialize resolves the community and opens the first session.
func (s *VKLongPoll) Initialize(ctx context.Context) error {
	group, err := s.client.GroupsGetByID(ctx, s.groupID)
	if err != nil {
		return fmt.Errorf("get group identity: %w", err)
	}
	s.groupID = group.ID

	s.log.WithFields(logrus.Fields{
		"group_id":   group.ID,
		"group_name": group.Name,
	}).Info("vk-group-identity-resolved")

	if s.onReady != nil {
		s.onReady(group)
	}
	return s.renew(ctx)
}

// renew replaces the whole cursor with a fresh session.
func (s *VKLongPoll) renew(ctx context.Context) error {
	session, err := s.client.GroupsGetLongPollServer(ctx, s.groupID)
	if err != nil {
		s.stale = true
		return fmt.Errorf("renew long-poll session: %w", err)
	}

	s.server, s.key, s.ts = session.Server, session.Key, session.TS
	s.stale = false

	s.log.WithField("server", session.Server).Info("vk-long-poll-session-renewed")
	return nil
}

func (s *VKLongPoll) pollURL() string {
	return fmt.Sprintf("%s?act=a_check&key=%s&ts=%s&wait=%d",
		s.server, url.QueryEscape(s.key), url.QueryEscape(s.ts), s.wait)
}

// PollOnce performs one a_check round trip.
func (s *VKLongPoll) PollOnce(ctx context.Context, emit func(VKUpdate)) error {
	if s.stale {
		if err := s.renew(ctx); err != nil {
			return err
		}
	}

	pollCtx, cancel := context.WithTimeout(ctx, time.Duration(s.wait)*time.Second+constants.PollRequestGrace)
	defer cancel()

	resp, err := s.client.http.Get(pollCtx, s.pollURL()).Await(pollCtx)
	if err != nil {
		return fmt.Errorf("long-poll request: %w", err)
	}
	data, err := resp.ReadSuccess()
	if err != nil {
		return fmt.Errorf("long-poll request: %w", err)
	}
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("long-poll response is not valid JSON")
	}
	result := gjson.ParseBytes(data)

	failed := result.Get("failed").Int()
	switch failed {
	case 0:
		ts := result.Get("ts")
		if !ts.Exists() {
			return fmt.Errorf("long-poll response without ts")
		}
		s.ts = ts.String()

		updates := result.Get("updates").Array()
		if len(updates) > 0 {
			s.log.WithField("count", len(updates)).Debug("vk-updates-received")
		}
		for _, u := range updates {
			emit(VKUpdate{
				Type:    u.Get("type").String(),
				EventID: u.Get("event_id").String(),
				GroupID: u.Get("group_id").Int(),
				Object:  u.Get("object"),
			})
		}
		return nil

	case 1:
		// History is partially lost; continue from the new ts.
		if ts := result.Get("ts"); ts.Exists() {
			s.ts = ts.String()
		}
		s.log.WithField("ts", s.ts).Warn("vk-long-poll-history-outdated")
		return nil

	case 2, 3:
		s.log.WithField("failed", failed).Info("vk-long-poll-session-expired")
		return s.renew(ctx)

	default:
		return fmt.Errorf("unknown long-poll failure code %d", failed)
	}
}

// Cursor returns the current (server, key, ts).
func (s *VKLongPoll) Cursor() VKSession {
	return VKSession{Server: s.server, Key: s.key, TS: s.ts}
}
