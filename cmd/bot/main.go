package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"voxelgate.ai/internal/client"
	"voxelgate.ai/internal/config"
	"voxelgate.ai/internal/logging"
	"voxelgate.ai/internal/protocol"
)

type stats struct {
	logins   atomic.Int64
	failures atomic.Int64
	chats    atomic.Int64
	chunks   atomic.Int64
	syncs    atomic.Int64
	kicks    atomic.Int64
}

func main() {
	var (
		addr      = flag.String("addr", "localhost:25565", "server address")
		name      = flag.String("name", "bot", "username prefix")
		n         = flag.Int("n", 1, "concurrent bots")
		loginRate = flag.Float64("login_rate", 20, "logins per second")
		chatEvery = flag.Duration("chat_every", 5*time.Second, "chat interval per bot (0 disables)")
		moveEvery = flag.Duration("move_every", 200*time.Millisecond, "movement interval per bot (0 disables)")
		duration  = flag.Duration("duration", 0, "stop after this long (0: until interrupted)")
		logLevel  = flag.String("log_level", "info", "debug|info|warn|error")
	)
	flag.Parse()

	logger, err := logging.New(config.Log{Level: *logLevel, Development: true})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	var st stats
	lim := rate.NewLimiter(rate.Limit(*loginRate), 1)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < *n; i++ {
		username := fmt.Sprintf("%s%d", *name, i)
		if *n == 1 {
			username = *name
		}
		if err := lim.Wait(gctx); err != nil {
			break
		}
		b := &bot{
			addr:      *addr,
			username:  username,
			chatEvery: *chatEvery,
			moveEvery: *moveEvery,
			log:       logger.With(zap.String("bot", username)),
			st:        &st,
			rng:       rand.New(rand.NewSource(int64(i) + 1)),
		}
		g.Go(func() error {
			b.run(gctx)
			return nil
		})
	}
	_ = g.Wait()

	logger.Info("done",
		zap.Int64("logins", st.logins.Load()),
		zap.Int64("failures", st.failures.Load()),
		zap.Int64("chats_received", st.chats.Load()),
		zap.Int64("chunks_received", st.chunks.Load()),
		zap.Int64("position_syncs", st.syncs.Load()),
		zap.Int64("kicked", st.kicks.Load()),
	)
}

type bot struct {
	addr      string
	username  string
	chatEvery time.Duration
	moveEvery time.Duration
	log       *zap.Logger
	st        *stats
	rng       *rand.Rand

	// position as last confirmed by the server, stored as float64 bits
	x, y, z atomic.Uint64
}

func (b *bot) run(ctx context.Context) {
	dctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	c, err := client.Dial(dctx, b.addr, client.Options{Username: b.username})
	cancel()
	if err != nil {
		b.st.failures.Add(1)
		b.log.Warn("login failed", zap.Error(err))
		return
	}
	defer c.Close()
	b.st.logins.Add(1)
	b.log.Debug("logged in", zap.Stringer("uuid", c.ID))

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		b.read(c)
	}()
	stop := context.AfterFunc(ctx, func() { _ = c.Send(&protocol.ClientQuit{}) })
	defer stop()

	var chatC, moveC <-chan time.Time
	if b.chatEvery > 0 {
		t := time.NewTicker(b.chatEvery)
		defer t.Stop()
		chatC = t.C
	}
	if b.moveEvery > 0 {
		t := time.NewTicker(b.moveEvery)
		defer t.Stop()
		moveC = t.C
	}
	seq := 0
	for {
		select {
		case <-readDone:
			return
		case <-chatC:
			seq++
			if err := c.Send(&protocol.ChatMessage{Text: fmt.Sprintf("hello #%d from %s", seq, b.username)}); err != nil {
				return
			}
		case <-moveC:
			if err := c.Send(b.step()); err != nil {
				return
			}
		}
	}
}

// read answers keep-alives and counts what arrives until the connection ends.
func (b *bot) read(c *client.Conn) {
	for {
		_ = c.SetReadDeadline(time.Now().Add(time.Minute))
		pkt, err := c.Recv()
		if err != nil {
			var de *client.DisconnectError
			if errors.As(err, &de) {
				b.st.kicks.Add(1)
				b.log.Info("disconnected", zap.String("reason", de.Text()))
			}
			return
		}
		switch p := pkt.(type) {
		case *protocol.KeepAlive:
			if err := c.Send(&protocol.KeepAliveResponse{KeepAliveID: p.KeepAliveID}); err != nil {
				return
			}
		case *protocol.SyncPosition:
			b.st.syncs.Add(1)
			b.x.Store(math.Float64bits(p.X))
			b.y.Store(math.Float64bits(p.Y))
			b.z.Store(math.Float64bits(p.Z))
		case *protocol.ChatBroadcast:
			b.st.chats.Add(1)
		case *protocol.ChunkData:
			b.st.chunks.Add(1)
		}
	}
}

// step is a small random walk from the last confirmed position.
func (b *bot) step() *protocol.PlayerPosition {
	x := math.Float64frombits(b.x.Load()) + (b.rng.Float64()-0.5)*0.6
	z := math.Float64frombits(b.z.Load()) + (b.rng.Float64()-0.5)*0.6
	y := math.Float64frombits(b.y.Load())
	b.x.Store(math.Float64bits(x))
	b.z.Store(math.Float64bits(z))
	return &protocol.PlayerPosition{X: x, Y: y, Z: z, Yaw: float32(b.rng.Float64() * 360), OnGround: true}
}
