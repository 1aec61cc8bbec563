package protocol_test

import (
	"bytes"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LLIEPJIOK/mutexo-client/pkg/mutexo/protocol"
)

func testRef(b byte, idx uint32) protocol.TxOutRef {
	var ref protocol.TxOutRef
	copy(ref.TxHash[:], bytes.Repeat([]byte{b}, protocol.TxHashSize))
	ref.Index = idx

	return ref
}

func TestCodec_RoundTrip(t *testing.T) {
	ref := testRef(0xab, 3)

	tests := []struct {
		name string
		msg  protocol.Message
	}{
		{"free", &protocol.Free{Ref: ref, Address: "addr_test1"}},
		{"lock", &protocol.Lock{Ref: ref, Address: "addr_test1"}},
		{"input", &protocol.Input{Ref: ref, Address: "addr_test2"}},
		{"output", &protocol.Output{Ref: ref, Address: ""}},
		{"mutex success", &protocol.MutexSuccess{ID: 42, Op: protocol.MutexOpLock, Refs: []protocol.TxOutRef{ref}}},
		{"mutex failure", &protocol.MutexFailure{ID: 43, Op: protocol.MutexOpFree, Refs: []protocol.TxOutRef{}}},
		{"close", &protocol.Close{}},
		{"error", &protocol.Error{Code: protocol.CodeTokenExpired}},
		{"sub success", &protocol.SubSuccess{ID: 7}},
		{"sub failure", &protocol.SubFailure{ID: 8, Code: protocol.CodeAddressNotFollowed}},
		{"client sub", &protocol.ClientSub{
			ID:        7,
			EventType: protocol.KindLock,
			Filters:   []protocol.Filter{},
		}},
		{"client sub with filters", &protocol.ClientSub{
			ID:        9,
			EventType: protocol.KindInput,
			Filters: []protocol.Filter{
				protocol.FilterAddress("addr_test1"),
				protocol.FilterRef(ref),
			},
		}},
		{"client unsub", &protocol.ClientUnsub{
			ID:        10,
			EventType: protocol.KindFree,
			Filters:   []protocol.Filter{protocol.FilterAddress("addr_test3")},
		}},
		{"lock request", &protocol.ClientReqLock{ID: 11, Refs: []protocol.TxOutRef{ref, testRef(1, 0)}, Required: 2}},
		{"free request", &protocol.ClientReqFree{ID: 12, Refs: []protocol.TxOutRef{ref}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := protocol.Encode(tt.msg)
			require.NoError(t, err)

			got, err := protocol.Decode(data)
			require.NoError(t, err)
			assert.Equal(t, tt.msg, got)
		})
	}
}

func TestCodec_SubscribeAckSameID(t *testing.T) {
	data, err := protocol.Encode(&protocol.ClientSub{ID: 7, EventType: protocol.KindLock})
	require.NoError(t, err)

	req, err := protocol.Decode(data)
	require.NoError(t, err)

	sub, ok := req.(*protocol.ClientSub)
	require.True(t, ok)
	assert.Equal(t, uint32(7), sub.ID)
	assert.Equal(t, protocol.KindLock, sub.EventType)
	assert.Empty(t, sub.Filters)

	data, err = protocol.Encode(&protocol.SubSuccess{ID: sub.ID})
	require.NoError(t, err)

	ack, err := protocol.Decode(data)
	require.NoError(t, err)

	reply, ok := ack.(protocol.SubAck)
	require.True(t, ok)
	assert.Equal(t, uint32(7), reply.RequestID())
}

func TestCodec_WireLayout(t *testing.T) {
	data, err := protocol.Encode(&protocol.SubSuccess{ID: 7})
	require.NoError(t, err)

	// [8, 7]
	assert.Equal(t, []byte{0x82, 0x08, 0x07}, data)

	data, err = protocol.Encode(&protocol.Close{})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x81, 0x06}, data)
}

func TestCodec_DecodeErrors(t *testing.T) {
	shortHash, err := cbor.Marshal([]any{0, []any{[]byte{1, 2, 3}, 0}, "addr"})
	require.NoError(t, err)

	badKind, err := cbor.Marshal([]any{10, 1, 99, []any{}})
	require.NoError(t, err)

	badFilter, err := cbor.Marshal([]any{10, 1, 0, []any{[]any{5, "x"}}})
	require.NoError(t, err)

	tests := []struct {
		name string
		data []byte
		err  error
	}{
		{"empty", nil, protocol.ErrInvalidWireMessage},
		{"garbage", []byte{0xff, 0x00, 0x13}, protocol.ErrInvalidWireMessage},
		{"not an array", []byte{0x05}, protocol.ErrInvalidWireMessage},
		{"empty array", []byte{0x80}, protocol.ErrInvalidWireMessage},
		{"unknown tag", []byte{0x81, 0x18, 0xc8}, protocol.ErrUnknownTag},
		{"missing fields", []byte{0x81, 0x08}, protocol.ErrInvalidWireMessage},
		{"short tx hash", shortHash, protocol.ErrInvalidTxOutRef},
		{"bad event index", badKind, protocol.ErrUnknownEventName},
		{"bad filter type", badFilter, protocol.ErrInvalidWireMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := protocol.Decode(tt.data)
			require.ErrorIs(t, err, tt.err)
			assert.Nil(t, msg)
		})
	}
}

func TestCodec_EncodeErrors(t *testing.T) {
	_, err := protocol.Encode(nil)
	require.ErrorIs(t, err, protocol.ErrUnknownTag)

	_, err = protocol.Encode(&protocol.ClientSub{ID: 1, EventType: protocol.EventKind(42)})
	require.ErrorIs(t, err, protocol.ErrUnknownEventName)

	_, err = protocol.Encode(&protocol.ClientSub{
		ID:        1,
		EventType: protocol.KindFree,
		Filters:   []protocol.Filter{{Type: protocol.FilterUTxORef}},
	})
	require.ErrorIs(t, err, protocol.ErrInvalidWireMessage)
}

func TestParseTxOutRef(t *testing.T) {
	ref := testRef(0x0f, 12)

	got, err := protocol.ParseTxOutRef(ref.String())
	require.NoError(t, err)
	assert.Equal(t, ref, got)

	for _, s := range []string{
		"",
		"0f0f",
		"zz#1",
		ref.String()[:64] + "#-1",
		ref.String()[:64],
	} {
		_, err := protocol.ParseTxOutRef(s)
		assert.ErrorIs(t, err, protocol.ErrInvalidTxOutRef, s)
	}
}

func TestFiltersKey(t *testing.T) {
	addr := protocol.FilterAddress("addr_test1")
	ref := protocol.FilterRef(testRef(0x01, 2))

	assert.Equal(t, protocol.FiltersKey([]protocol.Filter{addr, ref}), protocol.FiltersKey([]protocol.Filter{ref, addr}))
	assert.NotEqual(t, protocol.FiltersKey([]protocol.Filter{addr}), protocol.FiltersKey([]protocol.Filter{ref}))
	assert.NotEqual(t,
		protocol.FiltersKey([]protocol.Filter{protocol.FilterAddress("addr_a")}),
		protocol.FiltersKey([]protocol.Filter{protocol.FilterAddress("addr_b")}),
	)
	assert.Equal(t, protocol.FiltersKey(nil), protocol.FiltersKey([]protocol.Filter{}))
}
