package tcp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"voxelgate.ai/internal/auth"
	"voxelgate.ai/internal/bridge"
	"voxelgate.ai/internal/codec"
	"voxelgate.ai/internal/logging"
	"voxelgate.ai/internal/protocol"
	"voxelgate.ai/internal/session"
)

const (
	closeGrace    = time.Second
	maxWriteBatch = 64
)

// Actor is one connection. Its goroutine reads and handles every inbound frame; from Play on a
// second goroutine drains the handle's outbound queue. All socket writes hold wmu, which keeps
// the frame cipher's sequence in socket order.
type Actor struct {
	srv  *Server
	conn net.Conn
	br   *bufio.Reader
	h    *session.Handle
	log  *zap.Logger

	wmu    sync.Mutex
	params codec.Params // Cipher/Compress change only under wmu

	closeOnce   sync.Once
	down        chan struct{} // closed once the socket is closed
	reason      atomic.Pointer[string]
	releaseOnce sync.Once
	played      bool
}

type pendingLogin struct {
	username string
	token    []byte
}

func (p *pendingLogin) clear() {
	for i := range p.token {
		p.token[i] = 0
	}
	p.token = nil
	p.username = ""
}

func newActor(s *Server, c net.Conn) *Actor {
	id := s.opts.Sessions.NextID()
	a := &Actor{
		srv:  s,
		conn: c,
		br:   bufio.NewReaderSize(c, 32<<10),
		h:    session.NewHandle(id, c.RemoteAddr().String(), s.opts.OutboundCapacity),
		log:  s.log.With(zap.Uint64("conn", uint64(id)), zap.Stringer("remote", c.RemoteAddr())),
		params: codec.Params{
			MaxFrame:        s.opts.Net.MaxFrameBytes,
			MaxUncompressed: s.opts.Net.MaxUncompressedBytes,
		},
		down: make(chan struct{}),
	}
	a.h.OnKick(a.Close)
	return a
}

func (a *Actor) Handle() *session.Handle { return a.h }

// Close starts closing the connection with a reason code ("" sends nothing). Only the first
// call has any effect. It never blocks on the socket, so the tick goroutine may call it.
func (a *Actor) Close(reason string) { a.close(reason) }

func (a *Actor) close(reason string) bool {
	first := false
	a.closeOnce.Do(func() {
		first = true
		a.reason.Store(&reason)
		prev := a.h.Finish()
		a.h.MarkClosed()
		a.srv.opts.Sessions.Remove(a.h.ID())
		a.releasePending()
		go a.shutdown(reason, prev)
	})
	return first
}

// Done is closed once the socket is closed.
func (a *Actor) Done() <-chan struct{} { return a.down }

// shutdown sends the disconnect reason, if the state has a packet for it, and closes the
// socket. The write deadline bounds how long a stuck writer can hold wmu.
func (a *Actor) shutdown(reason string, prev protocol.State) {
	defer close(a.down)
	_ = a.conn.SetWriteDeadline(time.Now().Add(closeGrace))
	a.wmu.Lock()
	defer a.wmu.Unlock()
	if reason != "" {
		var pkt protocol.Packet
		switch prev {
		case protocol.StateLogin:
			pkt = &protocol.LoginDisconnect{Reason: protocol.ReasonJSON(reason)}
		case protocol.StatePlay:
			pkt = &protocol.Disconnect{Reason: protocol.ReasonJSON(reason)}
		}
		if pkt != nil {
			if frame, err := codec.AppendFrame(nil, codec.Encode(pkt), &a.params); err == nil {
				_, _ = a.conn.Write(frame)
			}
			if prev != protocol.StatePlay {
				a.linger()
			}
		}
	}
	_ = a.conn.Close()
}

// linger half-closes the socket and discards what the client still sends until it hangs up.
// Closing with unread input would reset the connection and lose the reason just written.
func (a *Actor) linger() {
	tc, ok := a.conn.(*net.TCPConn)
	if !ok || tc.CloseWrite() != nil {
		return
	}
	_ = a.conn.SetReadDeadline(time.Now().Add(closeGrace / 2))
	_, _ = io.Copy(io.Discard, a.conn)
}

func (a *Actor) releasePending() {
	a.releaseOnce.Do(func() { a.srv.pending.Release(1) })
}

func (a *Actor) closing() bool {
	select {
	case <-a.h.Done():
		return true
	default:
		return false
	}
}

func (a *Actor) run(ctx context.Context) {
	stop := context.AfterFunc(ctx, func() { a.Close(protocol.ReasonServerClosing) })
	defer stop()

	err := a.serve(ctx)
	reason, lvl := classify(err)
	if reason == protocol.ReasonTimedOut && !a.played {
		reason, lvl = protocol.ReasonLoginTimeout, zapcore.InfoLevel
	}
	if a.close(reason) {
		a.logClose(lvl, reason, err)
	} else if r := a.reason.Load(); r != nil {
		a.log.Debug("connection closed", zap.String("reason", *r), zap.NamedError("read_err", err))
	}
	<-a.down

	// Leave follows every message this connection sent, so removal is ordered after them.
	if a.played {
		if err := a.srv.opts.Inbound.Send(ctx, bridge.Message{Conn: a.h.ID(), Kind: bridge.KindLeave}); err != nil {
			a.log.Debug("leave not delivered", zap.Error(err))
		}
	}
}

func (a *Actor) logClose(lvl zapcore.Level, reason string, err error) {
	fields := []zap.Field{zap.String("reason", reason), zap.Error(err)}
	switch lvl {
	case zapcore.WarnLevel:
		a.srv.violations.Add(1)
		a.log.Warn("security: protocol violation", append(fields, logging.Security("protocol_violation"))...)
	case zapcore.InfoLevel:
		a.log.Info("login refused", fields...)
	default:
		a.log.Debug("connection closed", fields...)
	}
}

func (a *Actor) serve(ctx context.Context) error {
	_ = a.conn.SetDeadline(time.Now().Add(a.srv.opts.Net.LoginTimeout()))

	pkt, err := a.readPacket(protocol.StateHandshake)
	if err != nil {
		return err
	}
	hs := pkt.(*protocol.Handshake)
	switch protocol.State(hs.NextState) {
	case protocol.StateStatus:
		if !a.h.Advance(protocol.StateStatus) {
			return errClosing
		}
		return a.status()
	case protocol.StateLogin:
		if !a.h.Advance(protocol.StateLogin) {
			return errClosing
		}
	default:
		return violation("handshake intent %d", hs.NextState)
	}
	if hs.ProtocolVersion != protocol.Version {
		return refuse(protocol.ReasonOutdated, fmt.Errorf("client protocol %d", hs.ProtocolVersion))
	}

	prof, err := a.login(ctx)
	if err != nil {
		return err
	}
	return a.play(ctx, prof)
}

func (a *Actor) status() error {
	answered := false
	for {
		pkt, err := a.readPacket(protocol.StateStatus)
		if err != nil {
			return err
		}
		switch p := pkt.(type) {
		case *protocol.StatusRequest:
			if answered {
				return violation("second status request")
			}
			answered = true
			if err := a.write(&protocol.StatusResponse{JSON: a.srv.statusJSON()}); err != nil {
				return err
			}
		case *protocol.Ping:
			if err := a.write(&protocol.Pong{Payload: p.Payload}); err != nil {
				return err
			}
			return errStatusDone
		}
	}
}

func (a *Actor) login(ctx context.Context) (auth.Profile, error) {
	pkt, err := a.readPacket(protocol.StateLogin)
	if err != nil {
		return auth.Profile{}, err
	}
	start, ok := pkt.(*protocol.LoginStart)
	if !ok {
		return auth.Profile{}, violation("expected login start, got %T", pkt)
	}
	if !auth.ValidUsername(start.Username) {
		return auth.Profile{}, &closeError{reason: protocol.ReasonBadUsername, level: zapcore.WarnLevel,
			err: fmt.Errorf("username %q", start.Username)}
	}
	token, err := auth.NewVerifyToken()
	if err != nil {
		return auth.Profile{}, err
	}
	pending := &pendingLogin{username: start.Username, token: token}
	defer pending.clear()

	keys := a.srv.opts.Keys
	if err := a.write(&protocol.EncryptionRequest{PublicKey: keys.PublicDER(), VerifyToken: token}); err != nil {
		return auth.Profile{}, err
	}

	pkt, err = a.readPacket(protocol.StateLogin)
	if err != nil {
		return auth.Profile{}, err
	}
	resp, ok := pkt.(*protocol.EncryptionResponse)
	if !ok {
		return auth.Profile{}, violation("expected encryption response, got %T", pkt)
	}
	secret, errSecret := keys.Decrypt(resp.SharedSecret)
	echoed, errToken := keys.Decrypt(resp.VerifyToken)
	switch {
	case errSecret != nil || errToken != nil:
		return auth.Profile{}, refuse(protocol.ReasonInvalidSession, auth.ErrBadCiphertext)
	case !auth.TokensEqual(pending.token, echoed):
		return auth.Profile{}, refuse(protocol.ReasonInvalidSession, errors.New("verify token mismatch"))
	case len(secret) != codec.SecretLen:
		return auth.Profile{}, refuse(protocol.ReasonInvalidSession, codec.ErrSecretLength)
	}
	cip, err := codec.NewServerCipher(secret)
	if err != nil {
		return auth.Profile{}, refuse(protocol.ReasonInvalidSession, err)
	}
	a.wmu.Lock()
	a.params.Cipher = cip
	a.wmu.Unlock()

	hash := auth.ServerHash("", secret, keys.PublicDER())
	actx, cancel := context.WithTimeout(ctx, a.srv.opts.AuthWait)
	prof, err := a.srv.opts.Auth.Verify(actx, pending.username, hash)
	cancel()
	if err != nil {
		if errors.Is(err, auth.ErrRejected) {
			return auth.Profile{}, refuse(protocol.ReasonAuthRejected, err)
		}
		return auth.Profile{}, refuse(protocol.ReasonAuthFailed, err)
	}

	snap := a.srv.opts.Sessions.Snapshot()
	if a.srv.opts.MaxPlayers > 0 && snap.Playing() >= a.srv.opts.MaxPlayers {
		return auth.Profile{}, refuse(protocol.ReasonServerFull, nil)
	}
	// The newer login wins: a connection still holding this profile is kicked.
	snap.Range(func(h *session.Handle) bool {
		if p, ok := h.Profile(); ok && p.ID == prof.ID {
			a.log.Info("duplicate login", zap.Uint64("previous", uint64(h.ID())), zap.String("name", prof.Name))
			h.Kick(protocol.ReasonDuplicateLogin)
		}
		return true
	})

	if th := a.srv.opts.Net.CompressionThreshold; th >= 0 {
		if err := a.write(&protocol.SetCompression{Threshold: int32(th)}); err != nil {
			return auth.Profile{}, err
		}
		a.wmu.Lock()
		a.params.Compress = true
		a.params.Threshold = th
		a.wmu.Unlock()
	}
	if err := a.write(&protocol.LoginSuccess{UUID: prof.ID, Username: prof.Name}); err != nil {
		return auth.Profile{}, err
	}
	return prof, nil
}

func (a *Actor) play(ctx context.Context, prof auth.Profile) error {
	a.h.SetProfile(prof)
	if !a.h.Advance(protocol.StatePlay) {
		return errClosing
	}
	a.releasePending()
	_ = a.conn.SetDeadline(time.Time{})

	reg := a.srv.opts.Sessions
	if !reg.Insert(a.h) {
		return fmt.Errorf("tcp: connection %d already registered", a.h.ID())
	}
	if a.closing() {
		// Close ran before the insert and could not remove it.
		reg.Remove(a.h.ID())
		return errClosing
	}
	a.played = true
	a.srv.loggedIn.Add(1)
	a.log = a.log.With(zap.String("name", prof.Name))
	a.log.Info("login", zap.Stringer("uuid", prof.ID))

	in := a.srv.opts.Inbound
	if err := in.Send(ctx, bridge.Message{Conn: a.h.ID(), Kind: bridge.KindJoin, Handle: a.h, Profile: prof}); err != nil {
		return err
	}
	go a.writeLoop()

	readTimeout := a.srv.opts.Net.ReadTimeout()
	for {
		_ = a.conn.SetReadDeadline(time.Now().Add(readTimeout))
		payload, err := codec.ReadFrame(a.br, &a.params)
		if err != nil {
			return err
		}
		pkt, err := codec.Decode(protocol.StatePlay, protocol.Serverbound, payload)
		if err != nil {
			var unk *codec.UnknownPacketError
			if errors.As(err, &unk) && a.srv.opts.Play.Ignored(unk.ID) {
				a.log.Debug("ignored packet", zap.Int32("id", unk.ID))
				continue
			}
			return err
		}
		if _, ok := pkt.(*protocol.ClientQuit); ok {
			return errQuit
		}
		if err := in.Send(ctx, bridge.Message{Conn: a.h.ID(), Kind: bridge.KindPacket, Packet: pkt}); err != nil {
			return err
		}
	}
}

// writeLoop drains the outbound queue, framing whatever batches are queued into one socket
// write.
func (a *Actor) writeLoop() {
	out := a.h.Outbound()
	writeTimeout := a.srv.opts.Net.WriteTimeout()
	var buf []byte
	for {
		var batch []protocol.Packet
		select {
		case <-a.h.Done():
			return
		case batch = <-out:
		}

		a.wmu.Lock()
		if a.closing() {
			a.wmu.Unlock()
			return
		}
		buf = buf[:0]
		var err error
		for n := 0; ; n++ {
			for _, pkt := range batch {
				if buf, err = a.appendPacket(buf, pkt); err != nil {
					break
				}
			}
			if err != nil || n+1 >= maxWriteBatch {
				break
			}
			select {
			case batch = <-out:
				continue
			default:
			}
			break
		}
		if err == nil {
			_ = a.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			_, err = a.conn.Write(buf)
		}
		a.wmu.Unlock()
		if err != nil {
			a.log.Debug("write failed", zap.Error(err))
			a.Close("")
			return
		}
	}
}

func (a *Actor) appendPacket(dst []byte, pkt protocol.Packet) ([]byte, error) {
	return codec.AppendFrame(dst, codec.Encode(pkt), &a.params)
}

// write sends one packet from the actor goroutine.
func (a *Actor) write(pkt protocol.Packet) error {
	a.wmu.Lock()
	defer a.wmu.Unlock()
	frame, err := a.appendPacket(nil, pkt)
	if err != nil {
		return err
	}
	_, err = a.conn.Write(frame)
	return err
}

func (a *Actor) readPacket(state protocol.State) (protocol.Packet, error) {
	payload, err := codec.ReadFrame(a.br, &a.params)
	if err != nil {
		return nil, err
	}
	return codec.Decode(state, protocol.Serverbound, payload)
}

var (
	errClosing    = errors.New("connection closing")
	errQuit       = errors.New("client quit")
	errStatusDone = errors.New("status exchange done")
)

// closeError carries the reason code sent to the client and the log level of the close.
type closeError struct {
	reason string
	level  zapcore.Level
	err    error
}

func (e *closeError) Error() string {
	if e.err == nil {
		return e.reason
	}
	return e.reason + ": " + e.err.Error()
}

func (e *closeError) Unwrap() error { return e.err }

func violation(format string, args ...any) error {
	return &closeError{reason: protocol.ReasonProtocolViolation, level: zapcore.WarnLevel, err: fmt.Errorf(format, args...)}
}

func refuse(reason string, err error) error {
	return &closeError{reason: reason, level: zapcore.InfoLevel, err: err}
}

// classify maps the error that ended a connection to the reason sent and the log level.
func classify(err error) (string, zapcore.Level) {
	var ce *closeError
	switch {
	case err == nil, errors.Is(err, errStatusDone), errors.Is(err, errClosing):
		return "", zapcore.DebugLevel
	case errors.As(err, &ce):
		return ce.reason, ce.level
	case errors.Is(err, errQuit):
		return protocol.ReasonQuit, zapcore.DebugLevel
	case errors.Is(err, codec.ErrTruncatedFrame),
		errors.Is(err, codec.ErrFrameTooLarge),
		errors.Is(err, codec.ErrBadFrameLength),
		errors.Is(err, codec.ErrDecompress),
		errors.Is(err, codec.ErrDecrypt),
		errors.Is(err, codec.ErrUnknownPacket),
		errors.Is(err, codec.ErrMalformedPacket):
		return protocol.ReasonProtocolViolation, zapcore.WarnLevel
	case errors.Is(err, os.ErrDeadlineExceeded):
		return protocol.ReasonTimedOut, zapcore.DebugLevel
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed), errors.Is(err, context.Canceled):
		return "", zapcore.DebugLevel
	default:
		return "", zapcore.DebugLevel
	}
}
