package service

import (
	"context"
	"fmt"
	"time"

	"github.com/relaywire/messaging-relay/internal/domain"
	"github.com/relaywire/messaging-relay/pkg/gateway"
	"github.com/relaywire/messaging-relay/pkg/logger"
)

type healthChannelStore interface {
	GetCheckable(ctx context.Context) ([]domain.Channel, error)
	UpdateStatus(ctx context.Context, id string, status domain.ChannelStatus, snapshot domain.HealthSnapshot) error
}

type settingsGateway interface {
	GetSettings(ctx context.Context, token string) (*gateway.Settings, error)
}

type pausedEntryResumer interface {
	ResumeChannelEntries(ctx context.Context, channelID string) (int64, error)
}

// HealthService probes every non-stopped channel against the provider's
// settings endpoint and advances the channel state machine.
type HealthService struct {
	channels healthChannelStore
	gateway  settingsGateway
	outbox   pausedEntryResumer
	cipher   tokenCipher
}

func NewHealthService(
	channels healthChannelStore,
	gw settingsGateway,
	outbox pausedEntryResumer,
	cipher tokenCipher,
) *HealthService {
	return &HealthService{
		channels: channels,
		gateway:  gw,
		outbox:   outbox,
		cipher:   cipher,
	}
}

func (s *HealthService) RunCheck(ctx context.Context) (*domain.HealthReport, error) {
	channels, err := s.channels.GetCheckable(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list channels: %w", err)
	}

	report := &domain.HealthReport{Errors: []string{}}

	for _, channel := range channels {
		report.Checked++

		status, detail := s.probe(ctx, &channel)

		snapshot := domain.HealthSnapshot{
			Status:    status,
			Detail:    detail,
			CheckedAt: time.Now(),
		}

		if err := s.channels.UpdateStatus(ctx, channel.ID, status, snapshot); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("channel %s: %v", channel.ID, err))
			continue
		}

		if status != channel.Status {
			report.Updated++
			logger.Infof("Channel %s: %s -> %s (%s)", channel.ID, channel.Status, status, detail)

			// A recovered channel gets its rate-limit-parked entries back.
			if status == domain.ChannelActive && channel.Status == domain.ChannelDegraded {
				resumed, err := s.outbox.ResumeChannelEntries(ctx, channel.ID)
				if err != nil {
					report.Errors = append(report.Errors, fmt.Sprintf("channel %s resume: %v", channel.ID, err))
				} else if resumed > 0 {
					logger.Infof("Channel %s recovered: resumed %d paused entries", channel.ID, resumed)
				}
			}
		}
	}

	return report, nil
}

func (s *HealthService) probe(ctx context.Context, channel *domain.Channel) (domain.ChannelStatus, string) {
	token, err := s.cipher.Decrypt(channel.APITokenEnc)
	if err != nil {
		return domain.ChannelNeedsReauth, "channel token unreadable"
	}

	settings, err := s.gateway.GetSettings(ctx, token)
	if err != nil {
		switch gateway.KindOf(err) {
		case gateway.KindUnauthorized:
			return domain.ChannelNeedsReauth, err.Error()
		case gateway.KindRateLimited, gateway.KindRetryable:
			return domain.ChannelDegraded, err.Error()
		default:
			return domain.ChannelSyncError, err.Error()
		}
	}

	if settings.QRRequired || !settings.Authenticated {
		return domain.ChannelNeedsReauth, "provider requires re-authentication"
	}

	return domain.ChannelActive, settings.Status
}
