package protocol

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Каждое сообщение кодируется CBOR-массивом [tag, поля...].

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}

	decMode, err = cbor.DecOptions{
		MaxNestedLevels:  16,
		MaxArrayElements: 65536,
	}.DecMode()
	if err != nil {
		panic(err)
	}
}

type refWire struct {
	_      struct{} `cbor:",toarray"`
	TxHash []byte
	Index  uint32
}

type filterWire struct {
	_     struct{} `cbor:",toarray"`
	Type  uint8
	Value cbor.RawMessage
}

type utxoEventWire struct {
	_       struct{} `cbor:",toarray"`
	Tag     uint8
	Ref     refWire
	Address string
}

type mutexReplyWire struct {
	_    struct{} `cbor:",toarray"`
	Tag  uint8
	ID   uint32
	Op   uint8
	Refs []refWire
}

type closeWire struct {
	_   struct{} `cbor:",toarray"`
	Tag uint8
}

type errorWire struct {
	_    struct{} `cbor:",toarray"`
	Tag  uint8
	Code uint32
}

type subSuccessWire struct {
	_   struct{} `cbor:",toarray"`
	Tag uint8
	ID  uint32
}

type subFailureWire struct {
	_    struct{} `cbor:",toarray"`
	Tag  uint8
	ID   uint32
	Code uint32
}

type subRequestWire struct {
	_         struct{} `cbor:",toarray"`
	Tag       uint8
	ID        uint32
	EventType uint8
	Filters   []filterWire
}

type lockRequestWire struct {
	_        struct{} `cbor:",toarray"`
	Tag      uint8
	ID       uint32
	Refs     []refWire
	Required uint32
}

type freeRequestWire struct {
	_    struct{} `cbor:",toarray"`
	Tag  uint8
	ID   uint32
	Refs []refWire
}

func Encode(msg Message) ([]byte, error) {
	var v any

	switch m := msg.(type) {
	case *Free:
		v = utxoEventWire{Tag: tagFree, Ref: toRefWire(m.Ref), Address: m.Address}
	case *Lock:
		v = utxoEventWire{Tag: tagLock, Ref: toRefWire(m.Ref), Address: m.Address}
	case *Input:
		v = utxoEventWire{Tag: tagInput, Ref: toRefWire(m.Ref), Address: m.Address}
	case *Output:
		v = utxoEventWire{Tag: tagOutput, Ref: toRefWire(m.Ref), Address: m.Address}
	case *MutexSuccess:
		v = mutexReplyWire{Tag: tagMutexSuccess, ID: m.ID, Op: uint8(m.Op), Refs: toRefsWire(m.Refs)}
	case *MutexFailure:
		v = mutexReplyWire{Tag: tagMutexFailure, ID: m.ID, Op: uint8(m.Op), Refs: toRefsWire(m.Refs)}
	case *Close:
		v = closeWire{Tag: tagClose}
	case *Error:
		v = errorWire{Tag: tagError, Code: uint32(m.Code)}
	case *SubSuccess:
		v = subSuccessWire{Tag: tagSubSuccess, ID: m.ID}
	case *SubFailure:
		v = subFailureWire{Tag: tagSubFailure, ID: m.ID, Code: uint32(m.Code)}
	case *ClientSub:
		w, err := toSubRequestWire(tagClientSub, m.ID, m.EventType, m.Filters)
		if err != nil {
			return nil, err
		}
		v = w
	case *ClientUnsub:
		w, err := toSubRequestWire(tagClientUnsub, m.ID, m.EventType, m.Filters)
		if err != nil {
			return nil, err
		}
		v = w
	case *ClientReqLock:
		v = lockRequestWire{Tag: tagClientLock, ID: m.ID, Refs: toRefsWire(m.Refs), Required: m.Required}
	case *ClientReqFree:
		v = freeRequestWire{Tag: tagClientFree, ID: m.ID, Refs: toRefsWire(m.Refs)}
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownTag, msg)
	}

	data, err := encMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", msg, err)
	}

	return data, nil
}

func Decode(data []byte) (Message, error) {
	if len(data) == 0 {
		return nil, ErrInvalidWireMessage
	}

	var head []cbor.RawMessage
	if err := decMode.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidWireMessage, err)
	}

	if len(head) == 0 {
		return nil, fmt.Errorf("%w: empty array", ErrInvalidWireMessage)
	}

	var tag uint8
	if err := decMode.Unmarshal(head[0], &tag); err != nil {
		return nil, fmt.Errorf("%w: bad tag: %w", ErrInvalidWireMessage, err)
	}

	switch tag {
	case tagFree, tagLock, tagInput, tagOutput:
		return decodeUTxOEvent(tag, data)

	case tagMutexSuccess, tagMutexFailure:
		var w mutexReplyWire
		if err := unmarshalWire(data, &w); err != nil {
			return nil, err
		}

		refs, err := fromRefsWire(w.Refs)
		if err != nil {
			return nil, err
		}

		if tag == tagMutexSuccess {
			return &MutexSuccess{ID: w.ID, Op: MutexOp(w.Op), Refs: refs}, nil
		}

		return &MutexFailure{ID: w.ID, Op: MutexOp(w.Op), Refs: refs}, nil

	case tagClose:
		var w closeWire
		if err := unmarshalWire(data, &w); err != nil {
			return nil, err
		}

		return &Close{}, nil

	case tagError:
		var w errorWire
		if err := unmarshalWire(data, &w); err != nil {
			return nil, err
		}

		return &Error{Code: ErrorCode(w.Code)}, nil

	case tagSubSuccess:
		var w subSuccessWire
		if err := unmarshalWire(data, &w); err != nil {
			return nil, err
		}

		return &SubSuccess{ID: w.ID}, nil

	case tagSubFailure:
		var w subFailureWire
		if err := unmarshalWire(data, &w); err != nil {
			return nil, err
		}

		return &SubFailure{ID: w.ID, Code: ErrorCode(w.Code)}, nil

	case tagClientSub, tagClientUnsub:
		return decodeSubRequest(tag, data)

	case tagClientLock:
		var w lockRequestWire
		if err := unmarshalWire(data, &w); err != nil {
			return nil, err
		}

		refs, err := fromRefsWire(w.Refs)
		if err != nil {
			return nil, err
		}

		return &ClientReqLock{ID: w.ID, Refs: refs, Required: w.Required}, nil

	case tagClientFree:
		var w freeRequestWire
		if err := unmarshalWire(data, &w); err != nil {
			return nil, err
		}

		refs, err := fromRefsWire(w.Refs)
		if err != nil {
			return nil, err
		}

		return &ClientReqFree{ID: w.ID, Refs: refs}, nil

	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownTag, tag)
	}
}

func decodeUTxOEvent(tag uint8, data []byte) (Message, error) {
	var w utxoEventWire
	if err := unmarshalWire(data, &w); err != nil {
		return nil, err
	}

	ref, err := fromRefWire(w.Ref)
	if err != nil {
		return nil, err
	}

	switch tag {
	case tagFree:
		return &Free{Ref: ref, Address: w.Address}, nil
	case tagLock:
		return &Lock{Ref: ref, Address: w.Address}, nil
	case tagInput:
		return &Input{Ref: ref, Address: w.Address}, nil
	default:
		return &Output{Ref: ref, Address: w.Address}, nil
	}
}

func decodeSubRequest(tag uint8, data []byte) (Message, error) {
	var w subRequestWire
	if err := unmarshalWire(data, &w); err != nil {
		return nil, err
	}

	kind := EventKind(w.EventType)
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: event index %d", ErrUnknownEventName, w.EventType)
	}

	filters := make([]Filter, 0, len(w.Filters))
	for _, fw := range w.Filters {
		f, err := fromFilterWire(fw)
		if err != nil {
			return nil, err
		}
		filters = append(filters, f)
	}

	if tag == tagClientSub {
		return &ClientSub{ID: w.ID, EventType: kind, Filters: filters}, nil
	}

	return &ClientUnsub{ID: w.ID, EventType: kind, Filters: filters}, nil
}

func unmarshalWire(data []byte, v any) error {
	if err := decMode.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidWireMessage, err)
	}

	return nil
}

func toRefWire(ref TxOutRef) refWire {
	return refWire{TxHash: ref.TxHash[:], Index: ref.Index}
}

func toRefsWire(refs []TxOutRef) []refWire {
	out := make([]refWire, 0, len(refs))
	for _, r := range refs {
		out = append(out, toRefWire(r))
	}

	return out
}

func fromRefWire(w refWire) (TxOutRef, error) {
	if len(w.TxHash) != TxHashSize {
		return TxOutRef{}, fmt.Errorf("%w: tx hash of %d bytes", ErrInvalidTxOutRef, len(w.TxHash))
	}

	var ref TxOutRef
	copy(ref.TxHash[:], w.TxHash)
	ref.Index = w.Index

	return ref, nil
}

func fromRefsWire(ws []refWire) ([]TxOutRef, error) {
	refs := make([]TxOutRef, 0, len(ws))
	for _, w := range ws {
		ref, err := fromRefWire(w)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}

	return refs, nil
}

func toSubRequestWire(tag uint8, id uint32, kind EventKind, filters []Filter) (subRequestWire, error) {
	if !kind.Valid() {
		return subRequestWire{}, fmt.Errorf("%w: %s", ErrUnknownEventName, kind)
	}

	fws := make([]filterWire, 0, len(filters))
	for _, f := range filters {
		fw, err := toFilterWire(f)
		if err != nil {
			return subRequestWire{}, err
		}
		fws = append(fws, fw)
	}

	return subRequestWire{Tag: tag, ID: id, EventType: uint8(kind), Filters: fws}, nil
}

func toFilterWire(f Filter) (filterWire, error) {
	var (
		value []byte
		err   error
	)

	switch f.Type {
	case FilterAddr:
		value, err = encMode.Marshal(f.Address)
	case FilterUTxORef:
		if f.Ref == nil {
			return filterWire{}, fmt.Errorf("%w: utxo filter without reference", ErrInvalidWireMessage)
		}
		value, err = encMode.Marshal(toRefWire(*f.Ref))
	default:
		return filterWire{}, fmt.Errorf("%w: filter type %d", ErrInvalidWireMessage, f.Type)
	}

	if err != nil {
		return filterWire{}, fmt.Errorf("encode filter: %w", err)
	}

	return filterWire{Type: uint8(f.Type), Value: value}, nil
}

func fromFilterWire(fw filterWire) (Filter, error) {
	switch FilterType(fw.Type) {
	case FilterAddr:
		var addr string
		if err := unmarshalWire(fw.Value, &addr); err != nil {
			return Filter{}, err
		}

		return FilterAddress(addr), nil

	case FilterUTxORef:
		var w refWire
		if err := unmarshalWire(fw.Value, &w); err != nil {
			return Filter{}, err
		}

		ref, err := fromRefWire(w)
		if err != nil {
			return Filter{}, err
		}

		return FilterRef(ref), nil

	default:
		return Filter{}, fmt.Errorf("%w: filter type %d", ErrInvalidWireMessage, fw.Type)
	}
}
