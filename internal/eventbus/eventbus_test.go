package eventbus

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rbw-core/internal/models"
)

func TestLocalOnlyMode(t *testing.T) {
	eb, err := Connect(Config{SubjectPrefix: "rbw"}, zerolog.Nop())
	require.NoError(t, err)
	defer eb.Close()

	assert.False(t, eb.Connected())
	assert.NoError(t, eb.Publish(eb.Subject("notice"), map[string]string{"a": "b"}))
	assert.NoError(t, eb.Subscribe(eb.Subject("voice", "state"), func([]byte) {}))

	err = eb.Request(context.Background(), eb.Subject("channels", "create"), nil, nil)
	assert.ErrorIs(t, err, models.ErrNotConfigured)
}

func TestSubject(t *testing.T) {
	eb, err := Connect(Config{SubjectPrefix: "rbw"}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "rbw.host.voice.move", eb.Subject("host", "voice", "move"))
}

func TestEncode_CarriesOrigin(t *testing.T) {
	eb, err := Connect(Config{SubjectPrefix: "rbw"}, zerolog.Nop())
	require.NoError(t, err)

	raw, err := eb.encode(map[string]int{"n": 1})
	require.NoError(t, err)

	var ev Event
	require.NoError(t, json.Unmarshal(raw, &ev))
	assert.Equal(t, eb.MachineID(), ev.Origin)
	assert.JSONEq(t, `{"n":1}`, string(ev.Data))
}

func TestReplyKind(t *testing.T) {
	assert.ErrorIs(t, replyKind("not_found"), models.ErrNotFound)
	assert.ErrorIs(t, replyKind("permission_denied"), models.ErrPermissionDenied)
	assert.ErrorIs(t, replyKind("whatever"), models.ErrTransient)
}
