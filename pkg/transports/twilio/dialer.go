package twilio

import (
	"context"
	"errors"
	"strings"

	"github.com/harunnryd/telvox/pkg/errorsx"
	"github.com/harunnryd/telvox/pkg/transports"
	"github.com/twilio/twilio-go"
	api "github.com/twilio/twilio-go/rest/api/v2010"
)

type callAPI interface {
	CreateCall(params *api.CreateCallParams) (*api.ApiV2010Call, error)
	UpdateCall(sid string, params *api.UpdateCallParams) (*api.ApiV2010Call, error)
}

// Dialer places and ends calls via the Twilio REST API.
type Dialer struct {
	cfg    Config
	client callAPI
}

func NewDialer(cfg Config) *Dialer {
	return &Dialer{cfg: cfg.withDefaults()}
}

// Dial places an outbound call whose answer webhook is url, or the
// transport's voice webhook when url is empty.
func (d *Dialer) Dial(ctx context.Context, to, from, url string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", errorsx.NewProviderError("twilio", "dial", err, errorsx.ReasonCallDial)
	}
	if strings.TrimSpace(to) == "" || strings.TrimSpace(from) == "" {
		return "", errorsx.NewProviderError("twilio", "dial", errors.New("to/from required"), errorsx.ReasonCallDial)
	}
	client, err := d.api()
	if err != nil {
		return "", errorsx.NewProviderError("twilio", "dial", err, errorsx.ReasonCallDial)
	}
	if url == "" {
		url = d.url(d.cfg.VoicePath)
	}
	params := &api.CreateCallParams{}
	params.SetTo(to)
	params.SetFrom(from)
	params.SetUrl(url)
	params.SetStatusCallback(d.url(d.cfg.StatusCallbackPath))
	params.SetStatusCallbackEvent([]string{"completed"})
	resp, err := client.CreateCall(params)
	if err != nil {
		return "", errorsx.NewProviderError("twilio", "dial", err, errorsx.ReasonCallDial)
	}
	if resp == nil || resp.Sid == nil {
		return "", errorsx.NewProviderError("twilio", "dial", errors.New("missing call sid"), errorsx.ReasonCallDial)
	}
	return *resp.Sid, nil
}

// Hangup completes an in-progress call.
func (d *Dialer) Hangup(ctx context.Context, callSID string) error {
	if err := ctx.Err(); err != nil {
		return errorsx.NewProviderError("twilio", "hangup", err, errorsx.ReasonCallHangup)
	}
	if strings.TrimSpace(callSID) == "" {
		return errorsx.NewProviderError("twilio", "hangup", errors.New("call sid required"), errorsx.ReasonCallHangup)
	}
	client, err := d.api()
	if err != nil {
		return errorsx.NewProviderError("twilio", "hangup", err, errorsx.ReasonCallHangup)
	}
	params := &api.UpdateCallParams{}
	params.SetStatus("completed")
	if _, err := client.UpdateCall(callSID, params); err != nil {
		return errorsx.NewProviderError("twilio", "hangup", err, errorsx.ReasonCallHangup)
	}
	return nil
}

func (d *Dialer) api() (callAPI, error) {
	if d.client != nil {
		return d.client, nil
	}
	if d.cfg.AccountSID == "" || d.cfg.AuthToken == "" {
		return nil, errors.New("missing twilio credentials")
	}
	rest := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: d.cfg.AccountSID,
		Password: d.cfg.AuthToken,
	})
	d.client = rest.Api
	return d.client, nil
}

func (d *Dialer) url(path string) string {
	if d.cfg.PublicURL != "" {
		return "https://" + normalizePublicURL(d.cfg.PublicURL) + path
	}
	addr := d.cfg.ServerAddr
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr + path
}

var _ transports.CallController = (*Dialer)(nil)
