package xconn

import (
	"testing"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/randr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stub builds an X whose connection is a channel of events. Closing the
// channel is what xgb does when the socket read fails.
func stub(events chan xgb.Event) (*X, *int) {
	closes := 0
	return &X{
		wait: func() (xgb.Event, xgb.Error) {
			ev, ok := <-events
			if !ok {
				return nil, nil
			}
			return ev, nil
		},
		closeConn: func() { closes++ },
	}, &closes
}

func TestCloseIsIdempotent(t *testing.T) {
	x, closes := stub(make(chan xgb.Event))
	x.Close()
	x.Close()
	assert.Equal(t, 1, *closes)
}

func TestCloseAfterLossLeavesConnectionAlone(t *testing.T) {
	events := make(chan xgb.Event, 1)
	x, closes := stub(events)

	events <- randr.ScreenChangeNotifyEvent{}
	ev, err := x.WaitForEvent()
	require.NoError(t, err)
	require.NotNil(t, ev)

	close(events)
	ev, err = x.WaitForEvent()
	assert.Nil(t, ev)
	assert.Nil(t, err)

	x.Close()
	assert.Equal(t, 0, *closes, "xgb already closed the connection")
}

func TestWrapNilReply(t *testing.T) {
	cookie := wrap(func() (*randr.GetScreenInfoReply, error) { return nil, nil })
	_, err := cookie()
	assert.ErrorIs(t, err, ErrNoReply)
}
