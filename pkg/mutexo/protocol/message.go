package protocol

import (
	"encoding/hex"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

const TxHashSize = 32

// Message - любое сообщение протокола mutexo (входящее или исходящее).
type Message interface {
	tag() uint8
}

type TxOutRef struct {
	TxHash [TxHashSize]byte
	Index  uint32
}

// ParseTxOutRef разбирает ссылку вида "<hex хеш транзакции>#<индекс>".
func ParseTxOutRef(s string) (TxOutRef, error) {
	hash, idx, ok := strings.Cut(s, "#")
	if !ok {
		return TxOutRef{}, fmt.Errorf("%w: missing '#' in %q", ErrInvalidTxOutRef, s)
	}

	raw, err := hex.DecodeString(hash)
	if err != nil || len(raw) != TxHashSize {
		return TxOutRef{}, fmt.Errorf("%w: bad tx hash in %q", ErrInvalidTxOutRef, s)
	}

	index, err := strconv.ParseUint(idx, 10, 32)
	if err != nil {
		return TxOutRef{}, fmt.Errorf("%w: bad index in %q", ErrInvalidTxOutRef, s)
	}

	var ref TxOutRef
	copy(ref.TxHash[:], raw)
	ref.Index = uint32(index)

	return ref, nil
}

func (r TxOutRef) String() string {
	return hex.EncodeToString(r.TxHash[:]) + "#" + strconv.FormatUint(uint64(r.Index), 10)
}

type FilterType uint8

const (
	FilterAddr FilterType = iota
	FilterUTxORef
)

type Filter struct {
	Type    FilterType
	Address string
	Ref     *TxOutRef
}

func FilterAddress(addr string) Filter {
	return Filter{Type: FilterAddr, Address: addr}
}

func FilterRef(ref TxOutRef) Filter {
	return Filter{Type: FilterUTxORef, Ref: &ref}
}

// FiltersKey - канонический вид набора фильтров: порядок фильтров не важен.
func FiltersKey(filters []Filter) string {
	parts := make([]string, 0, len(filters))

	for _, f := range filters {
		switch {
		case f.Type == FilterAddr:
			parts = append(parts, "addr:"+f.Address)
		case f.Type == FilterUTxORef && f.Ref != nil:
			parts = append(parts, "utxo:"+f.Ref.String())
		default:
			parts = append(parts, "type:"+strconv.FormatUint(uint64(f.Type), 10))
		}
	}

	slices.Sort(parts)

	return strings.Join(parts, ",")
}

type MutexOp uint8

const (
	MutexOpLock MutexOp = iota
	MutexOpFree
)

func (op MutexOp) String() string {
	switch op {
	case MutexOpLock:
		return "lock"
	case MutexOpFree:
		return "free"
	default:
		return "unknown"
	}
}

type ErrorCode uint32

const (
	CodeUnknown ErrorCode = iota
	CodeMalformedMessage
	CodeUnauthorized
	CodeTokenExpired
	CodeUnknownEvent
	CodeAddressNotFollowed
	CodeUTxONotFound
	CodeRateLimited
	CodeInternal
)

func (c ErrorCode) String() string {
	switch c {
	case CodeUnknown:
		return "unknown"
	case CodeMalformedMessage:
		return "malformed message"
	case CodeUnauthorized:
		return "unauthorized"
	case CodeTokenExpired:
		return "token expired"
	case CodeUnknownEvent:
		return "unknown event"
	case CodeAddressNotFollowed:
		return "address not followed"
	case CodeUTxONotFound:
		return "utxo not found"
	case CodeRateLimited:
		return "rate limited"
	case CodeInternal:
		return "internal error"
	default:
		return "code " + strconv.FormatUint(uint64(c), 10)
	}
}

// Серверные события по UTxO.

type Free struct {
	Ref     TxOutRef
	Address string
}

type Lock struct {
	Ref     TxOutRef
	Address string
}

type Input struct {
	Ref     TxOutRef
	Address string
}

type Output struct {
	Ref     TxOutRef
	Address string
}

// Ответы на lock/free.

type MutexSuccess struct {
	ID   uint32
	Op   MutexOp
	Refs []TxOutRef
}

type MutexFailure struct {
	ID   uint32
	Op   MutexOp
	Refs []TxOutRef
}

type Close struct{}

type Error struct {
	Code ErrorCode
}

// Ответы на sub/unsub.

type SubSuccess struct {
	ID uint32
}

type SubFailure struct {
	ID   uint32
	Code ErrorCode
}

// Запросы клиента.

type ClientSub struct {
	ID        uint32
	EventType EventKind
	Filters   []Filter
}

type ClientUnsub struct {
	ID        uint32
	EventType EventKind
	Filters   []Filter
}

type ClientReqLock struct {
	ID       uint32
	Refs     []TxOutRef
	Required uint32
}

type ClientReqFree struct {
	ID   uint32
	Refs []TxOutRef
}

const (
	tagFree         uint8 = uint8(KindFree)
	tagLock         uint8 = uint8(KindLock)
	tagInput        uint8 = uint8(KindInput)
	tagOutput       uint8 = uint8(KindOutput)
	tagMutexSuccess uint8 = uint8(KindMutexSuccess)
	tagMutexFailure uint8 = uint8(KindMutexFailure)
	tagClose        uint8 = uint8(KindClose)
	tagError        uint8 = uint8(KindError)
	tagSubSuccess   uint8 = uint8(KindSubSuccess)
	tagSubFailure   uint8 = uint8(KindSubFailure)
	tagClientSub    uint8 = 10
	tagClientUnsub  uint8 = 11
	tagClientLock   uint8 = 12
	tagClientFree   uint8 = 13
)

func (*Free) tag() uint8          { return tagFree }
func (*Lock) tag() uint8          { return tagLock }
func (*Input) tag() uint8         { return tagInput }
func (*Output) tag() uint8        { return tagOutput }
func (*MutexSuccess) tag() uint8  { return tagMutexSuccess }
func (*MutexFailure) tag() uint8  { return tagMutexFailure }
func (*Close) tag() uint8         { return tagClose }
func (*Error) tag() uint8         { return tagError }
func (*SubSuccess) tag() uint8    { return tagSubSuccess }
func (*SubFailure) tag() uint8    { return tagSubFailure }
func (*ClientSub) tag() uint8     { return tagClientSub }
func (*ClientUnsub) tag() uint8   { return tagClientUnsub }
func (*ClientReqLock) tag() uint8 { return tagClientLock }
func (*ClientReqFree) tag() uint8 { return tagClientFree }

// Reply - ответ сервера, привязанный к идентификатору запроса.
type Reply interface {
	Message
	RequestID() uint32
}

// SubAck - *SubSuccess или *SubFailure.
type SubAck interface {
	Reply
	subAck()
}

// LockAck - *MutexSuccess или *MutexFailure.
type LockAck interface {
	Reply
	lockAck()
}

func (m *MutexSuccess) RequestID() uint32 { return m.ID }
func (m *MutexFailure) RequestID() uint32 { return m.ID }
func (m *SubSuccess) RequestID() uint32   { return m.ID }
func (m *SubFailure) RequestID() uint32   { return m.ID }

func (*SubSuccess) subAck()    {}
func (*SubFailure) subAck()    {}
func (*MutexSuccess) lockAck() {}
func (*MutexFailure) lockAck() {}
