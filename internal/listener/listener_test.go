package listener

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingInvalidator struct {
	users []string
	err   error
}

func (r *recordingInvalidator) Invalidate(_ context.Context, userIDs ...string) error {
	r.users = append(r.users, userIDs...)
	return r.err
}

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestParsePayload(t *testing.T) {
	ev, err := parsePayload(`{"user_id":"u42"}`)
	require.NoError(t, err)
	assert.Equal(t, "u42", ev.UserID)

	_, err = parsePayload(`{"user_id":""}`)
	assert.Error(t, err)

	_, err = parsePayload(`not json`)
	assert.Error(t, err)
}

func TestHandleInvalidatesUser(t *testing.T) {
	inv := &recordingInvalidator{}

	handle(context.Background(), `{"user_id":"u42"}`, inv, discard)
	handle(context.Background(), `garbage`, inv, discard)

	assert.Equal(t, []string{"u42"}, inv.users)
}

func TestHandleSurvivesInvalidateError(t *testing.T) {
	inv := &recordingInvalidator{err: errors.New("redis down")}

	assert.NotPanics(t, func() {
		handle(context.Background(), `{"user_id":"u1"}`, inv, discard)
	})
	assert.Equal(t, []string{"u1"}, inv.users)
}
