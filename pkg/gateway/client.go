package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/relaywire/messaging-relay/environments"
	"github.com/relaywire/messaging-relay/internal/domain"
	"github.com/relaywire/messaging-relay/pkg/logger"
)

// Client is a typed wrapper over the provider's HTTP API. The bearer token
// belongs to a channel, not the client, so every call takes it explicitly.
type Client struct {
	httpClient     *resty.Client
	downloadClient *resty.Client
	baseURL        string
}

func NewClient(cfg environments.GatewayConfig) *Client {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.RequestTimeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	// Raw media downloads get a looser deadline than API calls.
	downloadClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.DownloadTimeout)

	return &Client{
		httpClient:     client,
		downloadClient: downloadClient,
		baseURL:        cfg.BaseURL,
	}
}

type sendRequest struct {
	To       string `json:"to"`
	Body     string `json:"body,omitempty"`
	Media    string `json:"media,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// SendResponse is the provider's acknowledgement of an accepted message.
type SendResponse struct {
	Sent    bool   `json:"sent"`
	Message struct {
		ID string `json:"id"`
	} `json:"message"`
}

// Settings is the provider's per-account settings/health payload.
type Settings struct {
	Status        string `json:"status"`
	Authenticated bool   `json:"authenticated"`
	QRRequired    bool   `json:"qr_required"`
	Phone         string `json:"phone,omitempty"`
}

// MediaInfo is the provider's media-metadata payload.
type MediaInfo struct {
	ID       string `json:"id"`
	URL      string `json:"url,omitempty"`
	Link     string `json:"link,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	FileSize int64  `json:"file_size,omitempty"`
}

// DirectURL returns whichever URL field the provider populated.
func (m *MediaInfo) DirectURL() string {
	if m.URL != "" {
		return m.URL
	}
	return m.Link
}

// ProviderMessage is the provider's message-lookup payload. Media
// sub-objects are keyed by message type.
type ProviderMessage struct {
	ID       string     `json:"id"`
	Type     string     `json:"type"`
	Image    *MediaInfo `json:"image,omitempty"`
	Video    *MediaInfo `json:"video,omitempty"`
	Audio    *MediaInfo `json:"audio,omitempty"`
	Document *MediaInfo `json:"document,omitempty"`
}

// MediaOfType extracts the media sub-object matching the given message type.
func (m *ProviderMessage) MediaOfType(t domain.MessageType) *MediaInfo {
	switch t {
	case domain.TypeImage:
		return m.Image
	case domain.TypeVideo:
		return m.Video
	case domain.TypeAudio:
		return m.Audio
	case domain.TypeDocument:
		return m.Document
	}
	return nil
}

var sendEndpoints = map[domain.MessageType]string{
	domain.TypeText:     "/messages/text",
	domain.TypeImage:    "/messages/image",
	domain.TypeVideo:    "/messages/video",
	domain.TypeAudio:    "/messages/audio",
	domain.TypeDocument: "/messages/document",
}

// Send delivers one outbound payload through the provider's type-specific
// endpoint and returns the provider message id.
func (c *Client) Send(
	ctx context.Context,
	token string,
	msgType domain.MessageType,
	payload domain.SendPayload,
) (string, error) {
	endpoint, ok := sendEndpoints[msgType]
	if !ok {
		return "", &Error{Kind: KindTerminal, Message: fmt.Sprintf("unsupported message type %q", msgType)}
	}

	body := sendRequest{
		To:       payload.To,
		Body:     payload.Body,
		Media:    payload.MediaURL,
		Caption:  payload.Caption,
		Filename: payload.Filename,
	}

	var sendResp SendResponse

	start := time.Now()

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetBody(body).
		SetResult(&sendResp).
		Post(endpoint)
	if err != nil {
		return "", &Error{Kind: KindRetryable, Message: "send request failed", Err: err}
	}

	logger.Debugf("Gateway %s completed in %v (status: %d)", endpoint, time.Since(start), resp.StatusCode())

	if err := classifyStatus(resp.StatusCode(), resp.String()); err != nil {
		return "", err
	}

	if sendResp.Message.ID == "" {
		return "", &Error{Kind: KindRetryable, Message: "provider returned no message id"}
	}

	return sendResp.Message.ID, nil
}

// GetSettings probes the provider's settings endpoint for channel health.
func (c *Client) GetSettings(ctx context.Context, token string) (*Settings, error) {
	var settings Settings

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetResult(&settings).
		Get("/settings")
	if err != nil {
		return nil, &Error{Kind: KindRetryable, Message: "settings request failed", Err: err}
	}

	if err := classifyStatus(resp.StatusCode(), resp.String()); err != nil {
		return nil, err
	}

	return &settings, nil
}

// GetMedia fetches media metadata by provider media id.
func (c *Client) GetMedia(ctx context.Context, token, mediaID string) (*MediaInfo, error) {
	var info MediaInfo

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetResult(&info).
		Get("/media/" + mediaID)
	if err != nil {
		return nil, &Error{Kind: KindRetryable, Message: "media metadata request failed", Err: err}
	}

	if err := classifyStatus(resp.StatusCode(), resp.String()); err != nil {
		return nil, err
	}

	return &info, nil
}

// GetMessage looks up a full message by provider message id.
func (c *Client) GetMessage(ctx context.Context, token, messageID string) (*ProviderMessage, error) {
	var msg ProviderMessage

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetResult(&msg).
		Get("/messages/" + messageID)
	if err != nil {
		return nil, &Error{Kind: KindRetryable, Message: "message lookup failed", Err: err}
	}

	if err := classifyStatus(resp.StatusCode(), resp.String()); err != nil {
		return nil, err
	}

	return &msg, nil
}

// DownloadMedia fetches the raw bytes of a media object. Uses the longer
// download deadline.
func (c *Client) DownloadMedia(ctx context.Context, token, mediaID string) ([]byte, string, error) {
	resp, err := c.downloadClient.R().
		SetContext(ctx).
		SetAuthToken(token).
		Get("/media/" + mediaID + "/download")
	if err != nil {
		return nil, "", &Error{Kind: KindRetryable, Message: "media download failed", Err: err}
	}

	if err := classifyStatus(resp.StatusCode(), ""); err != nil {
		return nil, "", err
	}

	return resp.Body(), resp.Header().Get("Content-Type"), nil
}

// BaseURL reports the configured provider endpoint, for startup logging.
func (c *Client) BaseURL() string {
	return c.baseURL
}

func classifyStatus(status int, body string) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests:
		return &Error{Kind: KindRateLimited, Message: "provider rate limit"}
	case status == http.StatusUnauthorized:
		return &Error{Kind: KindUnauthorized, Message: "provider rejected token"}
	case status >= 500:
		return &Error{Kind: KindRetryable, Message: fmt.Sprintf("provider error %d", status)}
	default:
		detail := body
		if len(detail) > 200 {
			detail = detail[:200]
		}
		// Try to surface the provider's own error text when it sent JSON.
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal([]byte(body), &e) == nil && e.Error != "" {
			detail = e.Error
		}
		return &Error{Kind: KindTerminal, Message: fmt.Sprintf("provider error %d: %s", status, detail)}
	}
}
