// Package authz 实现基于 hashcash 工作量证明的 AuthorizationService
//
// 令牌摘要 = blake3(kind || message || challenge || counter)，其中 challenge
// 为接收方的完整地址，令牌不能转发给其它节点。摘要必须至少具有接收方
// 要求的前导零比特数。
package authz

import (
	"encoding/binary"
	"errors"
	"math/bits"

	"google.golang.org/protobuf/encoding/protowire"
	"lukechampine.com/blake3"

	pkgif "github.com/dep2p/go-netsync/pkg/interfaces"
	"github.com/dep2p/go-netsync/pkg/lib/log"
	"github.com/dep2p/go-netsync/pkg/protocol"
	"github.com/dep2p/go-netsync/pkg/types"
)

var logger = log.Logger("core/authz")

// MaxDifficulty 支持的最大难度
const MaxDifficulty = 32

var (
	// ErrInvalidDifficulty 难度超出范围
	ErrInvalidDifficulty = errors.New("invalid hashcash difficulty")
	// ErrMalformedToken 令牌格式错误
	ErrMalformedToken = errors.New("malformed hashcash token")
)

// tokenSize counter(8) + difficulty(1)
const tokenSize = 9

// HashCashService hashcash 授权服务
type HashCashService struct {
	difficulty int
}

var _ pkgif.AuthorizationService = (*HashCashService)(nil)

// NewHashCashService 创建服务，difficulty 同时用于生成与校验
func NewHashCashService(difficulty int) (*HashCashService, error) {
	if difficulty < 0 || difficulty > MaxDifficulty {
		return nil, ErrInvalidDifficulty
	}
	return &HashCashService{difficulty: difficulty}, nil
}

// Difficulty 返回难度
func (s *HashCashService) Difficulty() int {
	return s.difficulty
}

// CreateToken 实现 AuthorizationService
func (s *HashCashService) CreateToken(msg protocol.NetworkMessage, peer types.Address) (protocol.AuthorizationToken, error) {
	prefix := digestPrefix(msg, peer)
	var counter uint64
	for {
		if leadingZeroBits(digest(prefix, counter)) >= s.difficulty {
			break
		}
		counter++
	}
	payload := make([]byte, tokenSize)
	binary.BigEndian.PutUint64(payload, counter)
	payload[8] = byte(s.difficulty)
	return protocol.AuthorizationToken{Type: protocol.TokenHashCash, Payload: payload}, nil
}

// IsAuthorized 实现 AuthorizationService
func (s *HashCashService) IsAuthorized(msg protocol.NetworkMessage, token protocol.AuthorizationToken, me types.Address) bool {
	counter, err := parseToken(token)
	if err != nil {
		logger.Debug("无效令牌", "error", err)
		return false
	}
	zeros := leadingZeroBits(digest(digestPrefix(msg, me), counter))
	if zeros < s.difficulty {
		logger.Debug("工作量不足", "kind", msg.Kind().String(), "zeros", zeros, "required", s.difficulty)
		return false
	}
	return true
}

func parseToken(token protocol.AuthorizationToken) (uint64, error) {
	if token.Type != protocol.TokenHashCash || len(token.Payload) != tokenSize {
		return 0, ErrMalformedToken
	}
	return binary.BigEndian.Uint64(token.Payload), nil
}

func digestPrefix(msg protocol.NetworkMessage, challenge types.Address) []byte {
	b := protowire.AppendVarint(nil, uint64(msg.Kind()))
	b = msg.AppendWire(b)
	return append(b, challenge.FullAddress()...)
}

func digest(prefix []byte, counter uint64) [32]byte {
	h := blake3.New(32, nil)
	_, _ = h.Write(prefix)
	var c [8]byte
	binary.BigEndian.PutUint64(c[:], counter)
	_, _ = h.Write(c[:])
	var out [32]byte
	h.Sum(out[:0])
	return out
}

func leadingZeroBits(d [32]byte) int {
	n := 0
	for _, b := range d {
		if b == 0 {
			n += 8
			continue
		}
		return n + bits.LeadingZeros8(b)
	}
	return n
}
