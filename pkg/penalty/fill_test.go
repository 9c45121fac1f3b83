package penalty

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFillOnlyKeepAlive(t *testing.T) {
	launcher := &fakeLauncher{newSession: func(int) *fakeSession { return &fakeSession{} }}
	q, _ := newTestQuerier(t, launcher, fixedRecognizer(""))

	result, err := q.FillOnly(context.Background(), "A123456789", "75年3月15日", FillOptions{KeepAlive: true})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.True(t, result.Data.PageReady)
	assert.True(t, result.Data.FormFilled)
	assert.True(t, result.Data.WaitingForCaptcha)
	assert.Equal(t, "0750315", result.Data.BirthDateFormatted)
	assert.Equal(t, "75年3月15日", result.Data.BirthDate)
	assert.Empty(t, result.Errors)

	require.Len(t, launcher.sessions, 1)
	s := launcher.sessions[0]
	assert.Equal(t, 0, s.closeCount(), "keep-alive leaves the browser open")
	assert.Same(t, s, result.Session)
	assert.Equal(t, "0750315", s.fills[DefaultSelectors.BirthDate])
	assert.Empty(t, s.clicks, "the form is never submitted")
}

func TestFillOnlyClosesAfterGrace(t *testing.T) {
	launcher := &fakeLauncher{newSession: func(int) *fakeSession { return &fakeSession{} }}
	q, _ := newTestQuerier(t, launcher, fixedRecognizer(""))

	result, err := q.FillOnly(context.Background(), "A123456789", "0750315", FillOptions{Grace: 10 * time.Millisecond})
	require.NoError(t, err)
	require.True(t, result.Success)

	s := launcher.sessions[0]
	assert.Eventually(t, func() bool { return s.closeCount() == 1 }, time.Second, 5*time.Millisecond)
}

func TestFillOnlyFailures(t *testing.T) {
	t.Run("invalid input", func(t *testing.T) {
		launcher := &fakeLauncher{newSession: func(int) *fakeSession { return &fakeSession{} }}
		q, _ := newTestQuerier(t, launcher, fixedRecognizer(""))

		result, err := q.FillOnly(context.Background(), "", "0750315", FillOptions{})
		require.ErrorIs(t, err, ErrInvalidInput)
		require.NotNil(t, result)
		assert.False(t, result.Success)
		assert.Equal(t, "身分證字號不可為空", result.Message)
		assert.Len(t, result.Errors, 1)
		assert.Empty(t, launcher.sessions)
	})

	t.Run("navigation fails", func(t *testing.T) {
		launcher := &fakeLauncher{newSession: func(int) *fakeSession {
			return &fakeSession{navErr: errors.New("net::ERR_NAME_NOT_RESOLVED")}
		}}
		q, _ := newTestQuerier(t, launcher, fixedRecognizer(""))

		result, err := q.FillOnly(context.Background(), "A123456789", "0750315", FillOptions{KeepAlive: true})
		require.Error(t, err)
		assert.False(t, result.Success)
		assert.False(t, result.Data.PageReady)
		assert.Nil(t, result.Session)
		assert.Equal(t, 1, launcher.sessions[0].closeCount(), "a failed fill closes its browser")
	})
}
