// Package client is the client end of the connection protocol: Handshake, Login with
// encryption and optional compression, then typed Play packets. The load bot and the
// integration tests drive the server through it.
package client

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"voxelgate.ai/internal/auth"
	"voxelgate.ai/internal/codec"
	"voxelgate.ai/internal/protocol"
)

var ErrUnexpectedPacket = errors.New("client: unexpected packet")

// DisconnectError is returned when the server ends the connection with a reason.
type DisconnectError struct {
	Reason string // JSON chat component as sent
}

func (e *DisconnectError) Error() string {
	return "client: disconnected: " + protocol.ParseChat(e.Reason)
}

// Text is the plain reason text.
func (e *DisconnectError) Text() string { return protocol.ParseChat(e.Reason) }

type Options struct {
	Username        string
	ProtocolVersion int32 // 0 means protocol.Version
	MaxFrame        int

	// Response, when set, is sent as-is instead of a freshly sealed EncryptionResponse. The
	// client does not know the secret inside it, so the session stays unencrypted.
	Response *protocol.EncryptionResponse
}

// Conn is a logged-in session in Play.
type Conn struct {
	nc     net.Conn
	br     *bufio.Reader
	params codec.Params
	wmu    sync.Mutex

	ID       uuid.UUID
	Username string
	// Response is the EncryptionResponse this session sent during Login.
	Response *protocol.EncryptionResponse
	// ServerHash is the session digest both sides derived.
	ServerHash string
}

// Dial connects to addr and completes Login.
func Dial(ctx context.Context, addr string, opts Options) (*Conn, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("client: dial: %w", err)
	}
	c, err := Login(ctx, nc, opts)
	if err != nil {
		_ = nc.Close()
		return nil, err
	}
	return c, nil
}

// Login runs Handshake and Login over an open connection.
func Login(ctx context.Context, nc net.Conn, opts Options) (*Conn, error) {
	if opts.ProtocolVersion == 0 {
		opts.ProtocolVersion = protocol.Version
	}
	c := &Conn{
		nc:       nc,
		br:       bufio.NewReaderSize(nc, 32<<10),
		params:   codec.Params{MaxFrame: opts.MaxFrame},
		Username: opts.Username,
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = nc.SetDeadline(dl)
		defer nc.SetDeadline(time.Time{})
	}
	stop := context.AfterFunc(ctx, func() { _ = nc.SetDeadline(time.Now()) })
	defer stop()

	host, port := splitHostPort(nc.RemoteAddr())
	if err := c.write(&protocol.Handshake{
		ProtocolVersion: opts.ProtocolVersion,
		ServerAddress:   host,
		ServerPort:      port,
		NextState:       int32(protocol.StateLogin),
	}); err != nil {
		return nil, err
	}
	if err := c.write(&protocol.LoginStart{Username: opts.Username}); err != nil {
		return nil, err
	}

	pkt, err := c.read(protocol.StateLogin)
	if err != nil {
		return nil, err
	}
	req, ok := pkt.(*protocol.EncryptionRequest)
	if !ok {
		return nil, unexpected(pkt)
	}

	var secret []byte
	resp := opts.Response
	if resp == nil {
		secret = make([]byte, codec.SecretLen)
		if _, err := rand.Read(secret); err != nil {
			return nil, err
		}
		encSecret, err := auth.EncryptFor(req.PublicKey, secret)
		if err != nil {
			return nil, fmt.Errorf("client: %w", err)
		}
		encToken, err := auth.EncryptFor(req.PublicKey, req.VerifyToken)
		if err != nil {
			return nil, fmt.Errorf("client: %w", err)
		}
		resp = &protocol.EncryptionResponse{SharedSecret: encSecret, VerifyToken: encToken}
	}
	if err := c.write(resp); err != nil {
		return nil, err
	}
	c.Response = resp
	if secret != nil {
		cip, err := codec.NewClientCipher(secret)
		if err != nil {
			return nil, fmt.Errorf("client: %w", err)
		}
		c.params.Cipher = cip
		c.ServerHash = auth.ServerHash(req.ServerID, secret, req.PublicKey)
	}

	for {
		pkt, err := c.read(protocol.StateLogin)
		if err != nil {
			return nil, err
		}
		switch p := pkt.(type) {
		case *protocol.SetCompression:
			c.params.Compress = p.Threshold >= 0
			c.params.Threshold = int(p.Threshold)
		case *protocol.LoginSuccess:
			c.ID = p.UUID
			c.Username = p.Username
			return c, nil
		default:
			return nil, unexpected(pkt)
		}
	}
}

// Status queries the server list entry of addr and measures one ping round trip.
func Status(ctx context.Context, addr string) (json.RawMessage, time.Duration, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, 0, fmt.Errorf("client: dial: %w", err)
	}
	defer nc.Close()
	if dl, ok := ctx.Deadline(); ok {
		_ = nc.SetDeadline(dl)
	}
	c := &Conn{nc: nc, br: bufio.NewReader(nc)}
	host, port := splitHostPort(nc.RemoteAddr())
	if err := c.write(&protocol.Handshake{
		ProtocolVersion: protocol.Version,
		ServerAddress:   host,
		ServerPort:      port,
		NextState:       int32(protocol.StateStatus),
	}); err != nil {
		return nil, 0, err
	}
	if err := c.write(&protocol.StatusRequest{}); err != nil {
		return nil, 0, err
	}
	pkt, err := c.read(protocol.StateStatus)
	if err != nil {
		return nil, 0, err
	}
	st, ok := pkt.(*protocol.StatusResponse)
	if !ok {
		return nil, 0, unexpected(pkt)
	}
	start := time.Now()
	payload := start.UnixNano()
	if err := c.write(&protocol.Ping{Payload: payload}); err != nil {
		return nil, 0, err
	}
	pkt, err = c.read(protocol.StateStatus)
	if err != nil {
		return nil, 0, err
	}
	pong, ok := pkt.(*protocol.Pong)
	if !ok || pong.Payload != payload {
		return nil, 0, unexpected(pkt)
	}
	return json.RawMessage(st.JSON), time.Since(start), nil
}

// Send writes one Play packet. It is safe to call from several goroutines.
func (c *Conn) Send(pkt protocol.Packet) error {
	return c.write(pkt)
}

// SendRaw writes payload (packet id + fields) as one frame without checking it.
func (c *Conn) SendRaw(payload []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return codec.WriteFrame(c.nc, payload, &c.params)
}

// Recv reads the next Play packet. A Disconnect is returned as a *DisconnectError.
func (c *Conn) Recv() (protocol.Packet, error) {
	pkt, err := c.read(protocol.StatePlay)
	if err != nil {
		return nil, err
	}
	if d, ok := pkt.(*protocol.Disconnect); ok {
		return nil, &DisconnectError{Reason: d.Reason}
	}
	return pkt, nil
}

// SetReadDeadline bounds the next Recv.
func (c *Conn) SetReadDeadline(t time.Time) error { return c.nc.SetReadDeadline(t) }

func (c *Conn) LocalAddr() net.Addr { return c.nc.LocalAddr() }

func (c *Conn) Close() error { return c.nc.Close() }

func (c *Conn) write(pkt protocol.Packet) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := codec.WriteFrame(c.nc, codec.Encode(pkt), &c.params); err != nil {
		return fmt.Errorf("client: write %T: %w", pkt, err)
	}
	return nil
}

func (c *Conn) read(state protocol.State) (protocol.Packet, error) {
	payload, err := codec.ReadFrame(c.br, &c.params)
	if err != nil {
		return nil, fmt.Errorf("client: read: %w", err)
	}
	pkt, err := codec.Decode(state, protocol.Clientbound, payload)
	if err != nil {
		return nil, fmt.Errorf("client: %w", err)
	}
	if d, ok := pkt.(*protocol.LoginDisconnect); ok {
		return nil, &DisconnectError{Reason: d.Reason}
	}
	return pkt, nil
}

func unexpected(pkt protocol.Packet) error {
	return fmt.Errorf("%w: %T", ErrUnexpectedPacket, pkt)
}

func splitHostPort(a net.Addr) (string, uint16) {
	host, portStr, err := net.SplitHostPort(a.String())
	if err != nil {
		return a.String(), 0
	}
	port, _ := strconv.ParseUint(portStr, 10, 16)
	return host, uint16(port)
}
