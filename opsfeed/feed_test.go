package opsfeed

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldsafe/riskreactor/reactor"
	"github.com/fieldsafe/riskreactor/reactorqueue"
	"github.com/fieldsafe/riskreactor/riskmodel"
)

func testAlert(kind reactor.AlertKind, detail string) reactor.Alert {
	return reactor.Alert{
		Kind: kind,
		Job: reactorqueue.NewJob(riskmodel.LocationTotalTaskRiskScore,
			riskmodel.DatedKey(uuid.New(), uuid.New(), riskmodel.Today())),
		Detail: detail,
		At:     time.Now(),
	}
}

func dial(t *testing.T, feed *Feed) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(feed.Handler())
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return feed.Clients() == 1 },
		2*time.Second, 10*time.Millisecond)
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env Envelope
	require.NoError(t, conn.ReadJSON(&env))
	return env
}

func TestPublishReachesSubscriber(t *testing.T) {
	feed := NewFeed(nil, nil)
	defer feed.Close()
	conn := dial(t, feed)

	alert := testAlert(reactor.AlertJobDropped, "retry budget exhausted")
	feed.Publish(context.Background(), alert)

	env := readEnvelope(t, conn)
	assert.Equal(t, envelopeAlert, env.Type)
	assert.NotZero(t, env.ID)

	var got reactor.Alert
	require.NoError(t, json.Unmarshal(env.Payload, &got))
	assert.Equal(t, alert.Kind, got.Kind)
	assert.Equal(t, alert.Detail, got.Detail)
	assert.Equal(t, alert.Job.Key, got.Job.Key)
}

func TestSnapshotReplaysDropHistory(t *testing.T) {
	drops := reactor.NewDropLog(16)
	drops.Record(testAlert(reactor.AlertJobDropped, "first"))
	drops.Record(testAlert(reactor.AlertInvariantViolation, "second"))

	feed := NewFeed(nil, drops)
	defer feed.Close()
	conn := dial(t, feed)

	env := readEnvelope(t, conn)
	require.Equal(t, envelopeSnapshot, env.Type)

	var history []reactor.Alert
	require.NoError(t, json.Unmarshal(env.Payload, &history))
	require.Len(t, history, 2)
	assert.Equal(t, "first", history[0].Detail)
	assert.Equal(t, "second", history[1].Detail)
}

func TestCloseDisconnectsClients(t *testing.T) {
	feed := NewFeed(nil, nil)
	conn := dial(t, feed)

	feed.Close()
	assert.Equal(t, 0, feed.Clients())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err, "server side closed the connection")
}

func TestPublishWithoutClientsIsNoop(t *testing.T) {
	feed := NewFeed(nil, nil)
	feed.Publish(context.Background(), testAlert(reactor.AlertMissingConfig, "none listening"))
	assert.Equal(t, 0, feed.Clients())
	assert.EqualValues(t, 0, feed.Sent())
}
