package events

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/luxfi/log"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/perps/pkg/lx"
)

type fakeConn struct {
	subjects []string
	payloads [][]byte
	err      error
}

func (c *fakeConn) Publish(subject string, data []byte) error {
	if c.err != nil {
		return c.err
	}
	c.subjects = append(c.subjects, subject)
	c.payloads = append(c.payloads, data)
	return nil
}

func sample() []Envelope {
	env := lx.Env{Height: 7, Time: time.Unix(1_700_000_000, 0)}
	return Wrap(env, "open_trade", []lx.Event{
		{Type: "fees_distributed", Attributes: map[string]string{"trader": "alice"}},
		{Type: "trade_opened", Attributes: map[string]string{"trader": "alice", "index": "0"}},
	})
}

func TestWrap(t *testing.T) {
	require := require.New(t)
	envs := sample()
	require.Len(envs, 2)
	require.NotEqual(envs[0].ID, envs[1].ID)
	require.Equal(uint64(7), envs[1].Height)
	require.Equal("open_trade", envs[1].Command)
	require.Equal("alice", envs[1].Trader())
}

func TestNATSPublisher(t *testing.T) {
	require := require.New(t)
	conn := &fakeConn{}
	level, _ := log.ToLevel("info")
	p := NewNATSPublisher(conn, "", log.NewTestLogger(level))

	require.NoError(p.Publish(sample()))
	require.Equal([]string{"perps.events.fees_distributed", "perps.events.trade_opened"}, conn.subjects)

	var decoded Envelope
	require.NoError(json.Unmarshal(conn.payloads[1], &decoded))
	require.Equal("trade_opened", decoded.Type)
	require.Equal("0", decoded.Attributes["index"])

	conn.err = errors.New("connection closed")
	require.Error(p.Publish(sample()))
}

func TestMulti(t *testing.T) {
	require := require.New(t)
	a, b := &Recorder{}, &Recorder{}
	failing := NewNATSPublisher(&fakeConn{err: errors.New("down")}, "x", log.Root().New("module", "events"))

	err := Multi{a, failing, b}.Publish(sample())
	require.Error(err)
	require.Equal([]string{"fees_distributed", "trade_opened"}, a.Types())
	require.Len(b.Events(), 2, "a failing publisher does not starve the others")
}

func TestSubject(t *testing.T) {
	require.Equal(t, "a.b.trade_closed", Subject("a.b.", "trade_closed"))
}
