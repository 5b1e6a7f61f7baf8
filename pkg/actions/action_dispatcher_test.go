package actions

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAction struct {
	name  string
	err   error
	calls int
	data  map[string]interface{}
}

func (f *fakeAction) Name() string { return f.name }

func (f *fakeAction) Execute(ctx context.Context, data map[string]interface{}) error {
	f.calls++
	f.data = data
	return f.err
}

func TestDispatcher_DisabledSkipsExecution(t *testing.T) {
	ad := NewActionDispatcher(false)
	fake := &fakeAction{name: "freeze_everything"}
	ad.RegisterAction(fake)

	err := ad.Execute(context.Background(), "freeze_everything", nil)

	require.NoError(t, err)
	assert.Zero(t, fake.calls, "disabled dispatcher must not run actions")
}

func TestDispatcher_ExecutesRegisteredAction(t *testing.T) {
	ad := NewActionDispatcher(true)
	fake := &fakeAction{name: "freeze_everything"}
	ad.RegisterAction(fake)

	data := map[string]interface{}{"path": "/srv/data"}
	err := ad.Execute(context.Background(), "freeze_everything", data)

	require.NoError(t, err)
	assert.Equal(t, 1, fake.calls)
	assert.Equal(t, data, fake.data)
}

func TestDispatcher_UnknownActionErrors(t *testing.T) {
	ad := NewActionDispatcher(true)

	err := ad.Execute(context.Background(), "no_such_action", nil)

	assert.Error(t, err)
}

func TestDispatcher_ActionFailurePropagates(t *testing.T) {
	ad := NewActionDispatcher(true)
	fake := &fakeAction{name: "broken", err: errors.New("chattr missing")}
	ad.RegisterAction(fake)

	err := ad.Execute(context.Background(), "broken", nil)

	assert.ErrorContains(t, err, "chattr missing")
}

func TestDispatcher_ExecuteActionsContinuesPastFailures(t *testing.T) {
	ad := NewActionDispatcher(true)
	broken := &fakeAction{name: "broken", err: errors.New("boom")}
	working := &fakeAction{name: "working"}
	ad.RegisterAction(broken)
	ad.RegisterAction(working)

	ad.ExecuteActions(context.Background(), []string{"broken", "working"}, nil)

	assert.Equal(t, 1, broken.calls)
	assert.Equal(t, 1, working.calls, "later actions still run after a failure")
}

func TestDispatcher_SetEnabled(t *testing.T) {
	ad := NewActionDispatcher(false)
	assert.False(t, ad.IsEnabled())

	ad.SetEnabled(true)
	assert.True(t, ad.IsEnabled())

	fake := &fakeAction{name: "freeze_everything"}
	ad.RegisterAction(fake)
	require.NoError(t, ad.Execute(context.Background(), "freeze_everything", nil))
	assert.Equal(t, 1, fake.calls)
}

func TestDispatcher_BuiltinsRegistered(t *testing.T) {
	ad := NewActionDispatcher(true)

	for _, name := range []string{"block_write", "block_ip", "kill_process"} {
		_, ok := ad.actions[name]
		assert.True(t, ok, "built-in %s should be registered", name)
	}
}
