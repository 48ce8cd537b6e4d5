package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"shieldpool/internal/shielded"
)

type fakeStream struct {
	args []*redis.XAddArgs
	err  error
}

func (f *fakeStream) XAdd(_ context.Context, a *redis.XAddArgs) *redis.StringCmd {
	f.args = append(f.args, a)
	return redis.NewStringResult("1-0", f.err)
}

type fakeProducer struct {
	records []*kgo.Record
	err     error
}

func (f *fakeProducer) ProduceSync(_ context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	f.records = append(f.records, rs...)
	out := make(kgo.ProduceResults, 0, len(rs))
	for _, r := range rs {
		out = append(out, kgo.ProduceResult{Record: r, Err: f.err})
	}
	return out
}

func sampleEnvelope(t *testing.T) Envelope {
	t.Helper()
	pool := shielded.Digest{1}
	env, err := New(pool, TypeUnshield, Unshield{
		Pool:        pool,
		Amount:      950_000,
		Fee:         47_500,
		Net:         902_500,
		TotalLocked: 190_000,
	}, time.Unix(100, 0))
	require.NoError(t, err)
	return env
}

func TestEnvelopeDecode(t *testing.T) {
	env := sampleEnvelope(t)
	var u Unshield
	require.NoError(t, env.Decode(&u))
	assert.Equal(t, uint64(902_500), u.Net)
	assert.Equal(t, uint64(190_000), u.TotalLocked)
	assert.Equal(t, TypeUnshield, env.Type)
}

func TestRedisPublisher(t *testing.T) {
	stream := &fakeStream{}
	p := NewRedisPublisher(stream, "shieldpool:events", WithMaxLen(10))
	env := sampleEnvelope(t)

	require.NoError(t, p.Publish(context.Background(), env))
	require.Len(t, stream.args, 1)
	assert.Equal(t, "shieldpool:events", stream.args[0].Stream)
	assert.Equal(t, int64(10), stream.args[0].MaxLen)
	assert.Equal(t, "unshield", stream.args[0].Values.(map[string]any)["type"])

	stream.err = errors.New("down")
	assert.Error(t, p.Publish(context.Background(), env))
}

func TestKafkaPublisher(t *testing.T) {
	prod := &fakeProducer{}
	p := NewKafkaPublisher(prod, "pool-events")
	env := sampleEnvelope(t)

	require.NoError(t, p.Publish(context.Background(), env))
	require.Len(t, prod.records, 1)
	assert.Equal(t, "pool-events", prod.records[0].Topic)
	assert.Equal(t, []byte(env.PoolID.String()), prod.records[0].Key)

	var back Envelope
	require.NoError(t, json.Unmarshal(prod.records[0].Value, &back))
	assert.Equal(t, env.ID, back.ID)

	prod.err = errors.New("no leader")
	assert.Error(t, p.Publish(context.Background(), env))
}

func TestMultiJoinsErrors(t *testing.T) {
	rec := &Recorder{}
	failing := &RedisPublisher{client: &fakeStream{err: errors.New("down")}, stream: "s"}
	m := Multi{rec, failing, Nop{}}

	err := m.Publish(context.Background(), sampleEnvelope(t))
	assert.Error(t, err)
	assert.Len(t, rec.Events(), 1)
	assert.Len(t, rec.OfType(TypeUnshield), 1)
	assert.Empty(t, rec.OfType(TypeShield))
}

func TestLogPublisher(t *testing.T) {
	var buf bytes.Buffer
	p := NewLogPublisher(zerolog.New(&buf))
	require.NoError(t, p.Publish(context.Background(), sampleEnvelope(t)))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "unshield", line["type"])
	assert.Equal(t, "events", line["component"])
}
