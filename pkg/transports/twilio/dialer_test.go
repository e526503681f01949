package twilio

import (
	"context"
	"errors"
	"testing"

	"github.com/harunnryd/telvox/pkg/errorsx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	api "github.com/twilio/twilio-go/rest/api/v2010"
)

type stubCallAPI struct {
	created *api.CreateCallParams
	updated *api.UpdateCallParams
	updSID  string
	sid     string
	err     error
}

func (s *stubCallAPI) CreateCall(params *api.CreateCallParams) (*api.ApiV2010Call, error) {
	s.created = params
	if s.err != nil {
		return nil, s.err
	}
	return &api.ApiV2010Call{Sid: &s.sid}, nil
}

func (s *stubCallAPI) UpdateCall(sid string, params *api.UpdateCallParams) (*api.ApiV2010Call, error) {
	s.updSID = sid
	s.updated = params
	if s.err != nil {
		return nil, s.err
	}
	return &api.ApiV2010Call{Sid: &sid}, nil
}

func TestDialerDialUsesDefaults(t *testing.T) {
	stub := &stubCallAPI{sid: "CA123"}
	d := NewDialer(Config{AccountSID: "AC1", AuthToken: "token", PublicURL: "https://example.com"})
	d.client = stub

	sid, err := d.Dial(context.Background(), "+100", "+200", "")
	require.NoError(t, err)
	assert.Equal(t, "CA123", sid)
	require.NotNil(t, stub.created)
	assert.Equal(t, "+100", *stub.created.To)
	assert.Equal(t, "+200", *stub.created.From)
	assert.Equal(t, "https://example.com/voice", *stub.created.Url)
	assert.Equal(t, "https://example.com/status", *stub.created.StatusCallback)
}

func TestDialerDialOverrideAndValidation(t *testing.T) {
	stub := &stubCallAPI{sid: "CA999"}
	d := NewDialer(Config{})
	d.client = stub

	override := "https://override.example.com/voice"
	_, err := d.Dial(context.Background(), "+100", "+200", override)
	require.NoError(t, err)
	assert.Equal(t, override, *stub.created.Url)

	_, err = d.Dial(context.Background(), "", "+200", "")
	assert.True(t, errorsx.HasReason(err, errorsx.ReasonCallDial))

	stub.err = errors.New("boom")
	_, err = d.Dial(context.Background(), "+100", "+200", "")
	var perr errorsx.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "twilio", perr.Provider)
}

func TestDialerMissingCredentials(t *testing.T) {
	_, err := NewDialer(Config{}).Dial(context.Background(), "+1", "+2", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing twilio credentials")
}

func TestDialerHangup(t *testing.T) {
	stub := &stubCallAPI{}
	d := NewDialer(Config{})
	d.client = stub

	require.NoError(t, d.Hangup(context.Background(), "CA123"))
	assert.Equal(t, "CA123", stub.updSID)
	assert.Equal(t, "completed", *stub.updated.Status)

	err := d.Hangup(context.Background(), " ")
	assert.True(t, errorsx.HasReason(err, errorsx.ReasonCallHangup))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, d.Hangup(ctx, "CA123"))
}
