// Package handshake 实现连接建立时的能力交换
//
// 发起方发送 HandshakeRequest{capability, load}，响应方校验版本、
// 黑名单与授权令牌后回复 HandshakeResponse。握手在连接对象创建之前
// 完成，阻塞式 socket 与非阻塞通道共用同一套校验逻辑。
package handshake

import (
	"errors"
	"fmt"
	"time"

	"github.com/dep2p/go-netsync/internal/core/envelope"
	pkgif "github.com/dep2p/go-netsync/pkg/interfaces"
	"github.com/dep2p/go-netsync/pkg/lib/log"
	"github.com/dep2p/go-netsync/pkg/protocol"
	"github.com/dep2p/go-netsync/pkg/types"
)

var logger = log.Logger("core/handshake")

var (
	// ErrVersionMismatch 握手 envelope 版本不一致
	ErrVersionMismatch = errors.New("handshake version mismatch")
	// ErrUnexpectedMessage 收到的不是握手消息
	ErrUnexpectedMessage = errors.New("unexpected handshake message")
	// ErrBanned 对端在黑名单中
	ErrBanned = errors.New("peer is banned")
	// ErrUnauthorized 授权令牌校验失败
	ErrUnauthorized = errors.New("handshake authorization failed")
)

// Config 握手依赖
type Config struct {
	// Capability 返回本节点当前的能力（监听后地址才确定）
	Capability func() types.Capability
	// Load 返回本节点当前负载
	Load          func() types.NetworkLoad
	Authorization pkgif.AuthorizationService
	// BanList 可选
	BanList pkgif.BanList
}

// Result 握手得到的对端信息
type Result struct {
	PeerCapability types.Capability
	PeerLoad       types.NetworkLoad
}

// Handshaker 执行握手
type Handshaker struct {
	cfg Config
}

// New 创建 Handshaker
func New(cfg Config) *Handshaker {
	if cfg.Load == nil {
		cfg.Load = func() types.NetworkLoad { return types.InitialNetworkLoad }
	}
	return &Handshaker{cfg: cfg}
}

// BuildRequest 构造发往 peer 的握手请求
func (h *Handshaker) BuildRequest(peer types.Address) (*protocol.NetworkEnvelope, error) {
	req := &protocol.HandshakeRequest{Capability: h.cfg.Capability(), Load: h.cfg.Load()}
	token, err := h.cfg.Authorization.CreateToken(req, peer)
	if err != nil {
		return nil, fmt.Errorf("create handshake token: %w", err)
	}
	return protocol.NewEnvelope(token, req), nil
}

// VerifyResponse 校验响应方的回复
func (h *Handshaker) VerifyResponse(env *protocol.NetworkEnvelope) (Result, error) {
	if env.Version != protocol.Version {
		return Result{}, fmt.Errorf("%w: got %d", ErrVersionMismatch, env.Version)
	}
	resp, ok := env.Message.(*protocol.HandshakeResponse)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnexpectedMessage, env.Message.Kind())
	}
	if err := h.verifyPeer(resp, env.AuthorizationToken, resp.Capability.Address); err != nil {
		return Result{}, err
	}
	return Result{PeerCapability: resp.Capability, PeerLoad: resp.Load}, nil
}

// Respond 校验发起方的请求并构造回复
func (h *Handshaker) Respond(env *protocol.NetworkEnvelope) (*protocol.NetworkEnvelope, Result, error) {
	if env.Version != protocol.Version {
		return nil, Result{}, fmt.Errorf("%w: got %d", ErrVersionMismatch, env.Version)
	}
	req, ok := env.Message.(*protocol.HandshakeRequest)
	if !ok {
		return nil, Result{}, fmt.Errorf("%w: %s", ErrUnexpectedMessage, env.Message.Kind())
	}
	if err := h.verifyPeer(req, env.AuthorizationToken, req.Capability.Address); err != nil {
		return nil, Result{}, err
	}

	resp := &protocol.HandshakeResponse{Capability: h.cfg.Capability(), Load: h.cfg.Load()}
	token, err := h.cfg.Authorization.CreateToken(resp, req.Capability.Address)
	if err != nil {
		return nil, Result{}, fmt.Errorf("create handshake token: %w", err)
	}
	logger.Debug("握手请求通过校验", "peer", req.Capability.Address.String(), "features", fmt.Sprint(req.Capability.Features))
	return protocol.NewEnvelope(token, resp), Result{PeerCapability: req.Capability, PeerLoad: req.Load}, nil
}

func (h *Handshaker) verifyPeer(msg protocol.NetworkMessage, token protocol.AuthorizationToken, peer types.Address) error {
	if h.cfg.BanList != nil && h.cfg.BanList.IsBanned(peer) {
		return fmt.Errorf("%w: %s", ErrBanned, peer)
	}
	me := h.cfg.Capability().Address
	if !h.cfg.Authorization.IsAuthorized(msg, token, me) {
		return fmt.Errorf("%w: peer %s", ErrUnauthorized, peer)
	}
	return nil
}

// ============================================================================
//                              阻塞式握手
// ============================================================================

// Initiate 在 socket 上作为发起方完成握手
func (h *Handshaker) Initiate(sock *envelope.Socket, peer types.Address, timeout time.Duration) (Result, error) {
	req, err := h.BuildRequest(peer)
	if err != nil {
		return Result{}, err
	}
	if _, err := sock.Send(req, timeout); err != nil {
		return Result{}, fmt.Errorf("send handshake request: %w", err)
	}
	env, err := receive(sock, timeout)
	if err != nil {
		return Result{}, fmt.Errorf("receive handshake response: %w", err)
	}
	return h.VerifyResponse(env)
}

// Accept 在 socket 上作为响应方完成握手
func (h *Handshaker) Accept(sock *envelope.Socket, timeout time.Duration) (Result, error) {
	env, err := receive(sock, timeout)
	if err != nil {
		return Result{}, fmt.Errorf("receive handshake request: %w", err)
	}
	resp, result, err := h.Respond(env)
	if err != nil {
		return Result{}, err
	}
	if _, err := sock.Send(resp, timeout); err != nil {
		return Result{}, fmt.Errorf("send handshake response: %w", err)
	}
	return result, nil
}

func receive(sock *envelope.Socket, timeout time.Duration) (*protocol.NetworkEnvelope, error) {
	if timeout > 0 {
		if err := sock.Conn().SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return nil, err
		}
		defer sock.Conn().SetReadDeadline(time.Time{})
	}
	env, _, err := sock.Receive()
	return env, err
}
