package protocol

import (
	"encoding/hex"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
	"lukechampine.com/blake3"
)

// ============================================================================
//                              数据变更请求
// ============================================================================

// DataKind 数据变更请求类型
type DataKind uint32

const (
	DataAddAuthenticated DataKind = iota + 1
	DataRemoveAuthenticated
	DataAddMailbox
	DataRemoveMailbox
	DataAddAppendOnly
)

// String 返回类型名称
func (k DataKind) String() string {
	switch k {
	case DataAddAuthenticated:
		return "AddAuthenticatedDataRequest"
	case DataRemoveAuthenticated:
		return "RemoveAuthenticatedDataRequest"
	case DataAddMailbox:
		return "AddMailboxRequest"
	case DataRemoveMailbox:
		return "RemoveMailboxRequest"
	case DataAddAppendOnly:
		return "AddAppendOnlyDataRequest"
	default:
		return fmt.Sprintf("DataKind(%d)", uint32(k))
	}
}

// HashSize 数据哈希长度
const HashSize = 32

// DataRequest Inventory 中的一条自描述数据变更
type DataRequest interface {
	// DataKind 返回变更类型
	DataKind() DataKind

	// Hash 返回被操作数据的标识
	Hash() []byte

	// SequenceNumber 返回序号，用于判断新旧
	SequenceNumber() int32

	appendWire(b []byte) []byte
}

// AddDataRequest 新增数据类请求
type AddDataRequest interface {
	DataRequest
	isAdd()
}

// RemoveDataRequest 删除数据类请求
type RemoveDataRequest interface {
	DataRequest
	isRemove()
}

// DataHash 计算数据哈希
func DataHash(payload []byte) []byte {
	sum := blake3.Sum256(payload)
	return sum[:]
}

// HashString 以十六进制输出哈希前缀
func HashString(hash []byte) string {
	s := hex.EncodeToString(hash)
	if len(s) > 16 {
		return s[:16]
	}
	return s
}

// AddAuthenticatedDataRequest 新增带签名的数据
type AddAuthenticatedDataRequest struct {
	Payload     []byte
	Sequence    int32
	OwnerPubKey []byte
	Signature   []byte
	// Created 创建时间（Unix 毫秒）
	Created int64
}

func (*AddAuthenticatedDataRequest) DataKind() DataKind      { return DataAddAuthenticated }
func (r *AddAuthenticatedDataRequest) Hash() []byte          { return DataHash(r.Payload) }
func (r *AddAuthenticatedDataRequest) SequenceNumber() int32 { return r.Sequence }
func (*AddAuthenticatedDataRequest) isAdd()                  {}

func (r *AddAuthenticatedDataRequest) appendWire(b []byte) []byte {
	b = appendBytesField(b, 1, r.Payload)
	b = appendVarintField(b, 2, int32ToVarint(r.Sequence))
	b = appendBytesField(b, 3, r.OwnerPubKey)
	b = appendBytesField(b, 4, r.Signature)
	return appendVarintField(b, 5, uint64(r.Created))
}

// RemoveAuthenticatedDataRequest 删除带签名的数据
type RemoveAuthenticatedDataRequest struct {
	DataHash    []byte
	Sequence    int32
	OwnerPubKey []byte
	Signature   []byte
}

func (*RemoveAuthenticatedDataRequest) DataKind() DataKind      { return DataRemoveAuthenticated }
func (r *RemoveAuthenticatedDataRequest) Hash() []byte          { return r.DataHash }
func (r *RemoveAuthenticatedDataRequest) SequenceNumber() int32 { return r.Sequence }
func (*RemoveAuthenticatedDataRequest) isRemove()               {}

func (r *RemoveAuthenticatedDataRequest) appendWire(b []byte) []byte {
	b = appendBytesField(b, 1, r.DataHash)
	b = appendVarintField(b, 2, int32ToVarint(r.Sequence))
	b = appendBytesField(b, 3, r.OwnerPubKey)
	return appendBytesField(b, 4, r.Signature)
}

// AddMailboxRequest 投递给指定接收方的邮箱数据
type AddMailboxRequest struct {
	ReceiverKeyID string
	Payload       []byte
	Sequence      int32
}

func (*AddMailboxRequest) DataKind() DataKind      { return DataAddMailbox }
func (r *AddMailboxRequest) Hash() []byte          { return DataHash(r.Payload) }
func (r *AddMailboxRequest) SequenceNumber() int32 { return r.Sequence }
func (*AddMailboxRequest) isAdd()                  {}

func (r *AddMailboxRequest) appendWire(b []byte) []byte {
	b = appendStringField(b, 1, r.ReceiverKeyID)
	b = appendBytesField(b, 2, r.Payload)
	return appendVarintField(b, 3, int32ToVarint(r.Sequence))
}

// RemoveMailboxRequest 删除邮箱数据
type RemoveMailboxRequest struct {
	DataHash []byte
	Sequence int32
}

func (*RemoveMailboxRequest) DataKind() DataKind      { return DataRemoveMailbox }
func (r *RemoveMailboxRequest) Hash() []byte          { return r.DataHash }
func (r *RemoveMailboxRequest) SequenceNumber() int32 { return r.Sequence }
func (*RemoveMailboxRequest) isRemove()               {}

func (r *RemoveMailboxRequest) appendWire(b []byte) []byte {
	b = appendBytesField(b, 1, r.DataHash)
	return appendVarintField(b, 2, int32ToVarint(r.Sequence))
}

// AddAppendOnlyDataRequest 只追加数据，不可删除
type AddAppendOnlyDataRequest struct {
	Payload []byte
}

func (*AddAppendOnlyDataRequest) DataKind() DataKind    { return DataAddAppendOnly }
func (r *AddAppendOnlyDataRequest) Hash() []byte        { return DataHash(r.Payload) }
func (*AddAppendOnlyDataRequest) SequenceNumber() int32 { return 0 }
func (*AddAppendOnlyDataRequest) isAdd()                {}

func (r *AddAppendOnlyDataRequest) appendWire(b []byte) []byte {
	return appendBytesField(b, 1, r.Payload)
}

// ============================================================================
//                              编解码
// ============================================================================

// appendDataRequest 写入 {kind(1), body(2)}
func appendDataRequest(b []byte, r DataRequest) []byte {
	b = appendVarintField(b, 1, uint64(r.DataKind()))
	return appendMessageField(b, 2, r.appendWire(nil))
}

// EncodedSize 返回数据请求编码后的字节数
func EncodedSize(r DataRequest) int {
	n := len(appendDataRequest(nil, r))
	return protowire.SizeTag(1) + protowire.SizeBytes(n)
}

// MarshalDataRequest 编码单个数据请求，供持久化使用
func MarshalDataRequest(r DataRequest) []byte {
	return appendDataRequest(nil, r)
}

// UnmarshalDataRequest 解码单个数据请求
func UnmarshalDataRequest(b []byte) (DataRequest, error) {
	var (
		kind DataKind
		body []byte
	)
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeVarint(num, typ, b)
			kind = DataKind(v)
			return n, err
		case 2:
			v, n, err := consumeBytes(num, typ, b)
			body = v
			return n, err
		}
		return 0, nil
	})
	if err != nil {
		return nil, err
	}
	return decodeDataRequest(kind, body)
}

func decodeDataRequest(kind DataKind, b []byte) (DataRequest, error) {
	switch kind {
	case DataAddAuthenticated:
		r := &AddAuthenticatedDataRequest{}
		err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
			switch num {
			case 1:
				v, n, err := consumeBytes(num, typ, b)
				r.Payload = v
				return n, err
			case 2:
				v, n, err := consumeVarint(num, typ, b)
				r.Sequence = varintToInt32(v)
				return n, err
			case 3:
				v, n, err := consumeBytes(num, typ, b)
				r.OwnerPubKey = v
				return n, err
			case 4:
				v, n, err := consumeBytes(num, typ, b)
				r.Signature = v
				return n, err
			case 5:
				v, n, err := consumeVarint(num, typ, b)
				r.Created = int64(v)
				return n, err
			}
			return 0, nil
		})
		return r, err
	case DataRemoveAuthenticated:
		r := &RemoveAuthenticatedDataRequest{}
		err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
			switch num {
			case 1:
				v, n, err := consumeBytes(num, typ, b)
				r.DataHash = v
				return n, err
			case 2:
				v, n, err := consumeVarint(num, typ, b)
				r.Sequence = varintToInt32(v)
				return n, err
			case 3:
				v, n, err := consumeBytes(num, typ, b)
				r.OwnerPubKey = v
				return n, err
			case 4:
				v, n, err := consumeBytes(num, typ, b)
				r.Signature = v
				return n, err
			}
			return 0, nil
		})
		return r, err
	case DataAddMailbox:
		r := &AddMailboxRequest{}
		err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
			switch num {
			case 1:
				v, n, err := consumeString(num, typ, b)
				r.ReceiverKeyID = v
				return n, err
			case 2:
				v, n, err := consumeBytes(num, typ, b)
				r.Payload = v
				return n, err
			case 3:
				v, n, err := consumeVarint(num, typ, b)
				r.Sequence = varintToInt32(v)
				return n, err
			}
			return 0, nil
		})
		return r, err
	case DataRemoveMailbox:
		r := &RemoveMailboxRequest{}
		err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
			switch num {
			case 1:
				v, n, err := consumeBytes(num, typ, b)
				r.DataHash = v
				return n, err
			case 2:
				v, n, err := consumeVarint(num, typ, b)
				r.Sequence = varintToInt32(v)
				return n, err
			}
			return 0, nil
		})
		return r, err
	case DataAddAppendOnly:
		r := &AddAppendOnlyDataRequest{}
		err := consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
			if num == 1 {
				v, n, err := consumeBytes(num, typ, b)
				r.Payload = v
				return n, err
			}
			return 0, nil
		})
		return r, err
	default:
		return nil, fmt.Errorf("%w: data kind %d", ErrMalformed, uint32(kind))
	}
}
