package ws

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	qerrors "github.com/tokmz/qiws/pkg/errors"
)

func TestAccessDecision(t *testing.T) {
	var zero AccessDecision
	assert.False(t, zero.Allowed())
	assert.Equal(t, DecisionDeny, zero.Kind())

	assert.True(t, Allow().Allowed())
	assert.Equal(t, http.StatusForbidden, Deny().StatusCode())

	d := DenyWithError(qerrors.ErrUnauthorized)
	assert.False(t, d.Allowed())
	assert.Equal(t, DecisionDenyWithError, d.Kind())
	assert.Equal(t, http.StatusUnauthorized, d.StatusCode())
	assert.Equal(t, http.StatusForbidden, DenyWithError(errors.New("plain")).StatusCode())
	assert.Equal(t, "error", d.Kind().String())
}

// TestAccessManager_Evaluate 测试访问控制的三种结果
func TestAccessManager_Evaluate(t *testing.T) {
	c := newPendingContext(t, "/chat?token=1")

	var nilManager AccessManager
	assert.True(t, nilManager.evaluate(c, nil).Allowed())

	var gotRoles []Role
	am := AccessManager(func(c *Context, roles []Role) AccessDecision {
		gotRoles = roles
		if _, ok := c.QueryParam("token"); ok {
			return Allow()
		}
		return Deny()
	})
	assert.True(t, am.evaluate(c, []Role{"admin"}).Allowed())
	assert.Equal(t, []Role{"admin"}, gotRoles)
	assert.False(t, am.evaluate(newPendingContext(t, "/chat"), nil).Allowed())

	panicking := AccessManager(func(*Context, []Role) AccessDecision {
		panic(qerrors.ErrUnauthorized)
	})
	d := panicking.evaluate(c, nil)
	assert.Equal(t, DecisionDenyWithError, d.Kind())
	assert.ErrorIs(t, d.Err(), qerrors.ErrUnauthorized)
	assert.Equal(t, http.StatusUnauthorized, d.StatusCode())

	d = AccessManager(func(*Context, []Role) AccessDecision { panic("boom") }).evaluate(c, nil)
	assert.Equal(t, DecisionDenyWithError, d.Kind())
	assert.Equal(t, http.StatusForbidden, d.StatusCode())
	var perr *PanicError
	require.ErrorAs(t, d.Err(), &perr)
	assert.Equal(t, "boom", perr.Value)
	assert.NotEmpty(t, perr.Stack)
}

func TestPendingContextCannotSend(t *testing.T) {
	c := newPendingContext(t, "/")
	assert.ErrorIs(t, c.Send("hi"), ErrNotConnected)
	assert.ErrorIs(t, c.SendBytes([]byte{1}), ErrNotConnected)
	assert.ErrorIs(t, c.SendObject(map[string]int{"a": 1}), ErrNotConnected)
	assert.ErrorIs(t, c.Close(), ErrNotConnected)
}
