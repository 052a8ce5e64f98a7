package gdbremote

import (
	"context"
	"encoding/hex"
	"errors"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/moffa90/go-flashalgo/probe"
	"github.com/moffa90/go-flashalgo/target"
	"github.com/retroenv/retrogolib/assert"
)

const (
	errorRegister  = 99
	silentRegister = 100
	slowRegister   = 101

	slowReplyDelay = 60 * time.Millisecond
)

// stub is a minimal GDB server holding registers and memory.
type stub struct {
	conn net.Conn

	mu        sync.Mutex
	regs      map[uint32]uint32
	mem       map[uint64]byte
	cmds      []string
	autoStop  bool
	nackFirst bool
	console   string
}

func newStub(t *testing.T, opts ...Option) (*Client, *stub) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	assert.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	s := &stub{
		regs: make(map[uint32]uint32),
		mem:  make(map[uint64]byte),
	}
	accepted := make(chan struct{})
	go func() {
		defer close(accepted)
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		s.conn = conn
	}()

	c, err := DialTCP(context.Background(), ln.Addr().String(), opts...)
	assert.NoError(t, err)
	<-accepted
	assert.NotNil(t, s.conn)
	go s.serve()

	t.Cleanup(func() {
		_ = c.Close()
		_ = s.conn.Close()
	})
	return c, s
}

func (s *stub) set(fn func(*stub)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}

func (s *stub) commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.cmds...)
}

func (s *stub) serve() {
	var dec decoder
	buf := make([]byte, 256)
	for {
		n, err := s.conn.Read(buf)
		if err != nil {
			return
		}
		for _, b := range buf[:n] {
			if b == Interrupt {
				s.write(BuildPacket([]byte("T02thread:1;")))
				continue
			}
			f, ok := dec.feed(b)
			if !ok || f.ack != 0 {
				continue
			}
			if f.err != nil {
				s.write([]byte{Nack})
				continue
			}

			s.mu.Lock()
			nack := s.nackFirst
			s.nackFirst = false
			s.mu.Unlock()
			if nack {
				s.write([]byte{Nack})
				continue
			}
			s.handle(string(f.payload))
		}
	}
}

func (s *stub) write(b []byte) {
	_, _ = s.conn.Write(b)
}

func (s *stub) reply(payload string) {
	out := []byte{Ack}
	s.mu.Lock()
	if s.console != "" {
		out = append(out, BuildPacket([]byte("O"+hex.EncodeToString([]byte(s.console))))...)
		s.console = ""
	}
	s.mu.Unlock()
	s.write(append(out, BuildPacket([]byte(payload))...))
}

func (s *stub) handle(cmd string) {
	s.mu.Lock()
	s.cmds = append(s.cmds, cmd)
	s.mu.Unlock()

	switch {
	case cmd == "?":
		s.reply("S05")
	case strings.HasPrefix(cmd, "Hg"):
		s.reply("OK")
	case cmd == "c":
		s.mu.Lock()
		auto := s.autoStop
		s.mu.Unlock()
		if auto {
			s.reply("S05")
		} else {
			s.write([]byte{Ack})
		}
	case cmd[0] == 'p':
		reg, _ := strconv.ParseUint(cmd[1:], 16, 32)
		switch reg {
		case errorRegister:
			s.reply("E0e")
		case silentRegister:
			s.write([]byte{Ack})
		case slowRegister:
			s.write([]byte{Ack})
			time.Sleep(slowReplyDelay)
			s.write(BuildPacket([]byte("efbeadde")))
		default:
			s.mu.Lock()
			v := s.regs[uint32(reg)]
			s.mu.Unlock()
			s.reply(hex.EncodeToString([]byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}))
		}
	case cmd[0] == 'P':
		name, value, _ := strings.Cut(cmd[1:], "=")
		reg, _ := strconv.ParseUint(name, 16, 32)
		raw, _ := hex.DecodeString(value)
		var v uint32
		for i, b := range raw {
			v |= uint32(b) << (8 * i)
		}
		s.mu.Lock()
		s.regs[uint32(reg)] = v
		s.mu.Unlock()
		s.reply("OK")
	case cmd[0] == 'm':
		a, l, _ := strings.Cut(cmd[1:], ",")
		addr, _ := strconv.ParseUint(a, 16, 64)
		length, _ := strconv.ParseUint(l, 16, 32)
		out := make([]byte, length)
		s.mu.Lock()
		for i := range out {
			out[i] = s.mem[addr+uint64(i)]
		}
		s.mu.Unlock()
		s.reply(hex.EncodeToString(out))
	case cmd[0] == 'M':
		head, data, _ := strings.Cut(cmd[1:], ":")
		a, _, _ := strings.Cut(head, ",")
		addr, _ := strconv.ParseUint(a, 16, 64)
		raw, _ := hex.DecodeString(data)
		s.mu.Lock()
		for i, b := range raw {
			s.mem[addr+uint64(i)] = b
		}
		s.mu.Unlock()
		s.reply("OK")
	default:
		s.reply("")
	}
}

var core0 = target.CoreAccessOptions{AP: 0}

func TestClientRegisters(t *testing.T) {
	c, s := newStub(t)
	ctx := context.Background()

	assert.NoError(t, c.WriteCoreRegister(ctx, core0, probe.ArmPC, 0x20000021))
	pc, err := c.ReadCoreRegister(ctx, core0, probe.ArmPC)
	assert.NoError(t, err)
	assert.Equal(t, uint32(0x20000021), pc)

	assert.Equal(t, []string{"Hg1", "Pf=21000020", "pf"}, s.commands())
}

func TestClientSelectsThreadPerCore(t *testing.T) {
	c, s := newStub(t)
	ctx := context.Background()
	core1 := target.CoreAccessOptions{AP: 1}

	_, err := c.ReadCoreRegister(ctx, core0, probe.ArmR0)
	assert.NoError(t, err)
	_, err = c.ReadCoreRegister(ctx, core0, probe.ArmR1)
	assert.NoError(t, err)
	_, err = c.ReadCoreRegister(ctx, core1, probe.ArmR0)
	assert.NoError(t, err)

	assert.Equal(t, []string{"Hg1", "p0", "p1", "Hg2", "p0"}, s.commands())
}

func TestClientThreadMapper(t *testing.T) {
	c, s := newStub(t, WithThreadMapper(func(core target.CoreAccessOptions) int {
		return int(core.AP) + 10
	}))

	_, err := c.ReadCoreRegister(context.Background(), target.CoreAccessOptions{AP: 2}, probe.ArmSP)
	assert.NoError(t, err)
	assert.Equal(t, []string{"Hgc", "pd"}, s.commands())
}

func TestClientChunkedMemory(t *testing.T) {
	c, s := newStub(t, WithMaxPacketSize(64))
	ctx := context.Background()

	data := make([]byte, 100)
	for i := range data {
		data[i] = byte(i * 7)
	}
	assert.NoError(t, c.WriteMemory(ctx, core0, 0x20000000, data))

	got := make([]byte, len(data))
	assert.NoError(t, c.ReadMemory(ctx, core0, 0x20000000, got))
	assert.Equal(t, data, got)

	var writes, reads int
	for _, cmd := range s.commands() {
		switch cmd[0] {
		case 'M':
			writes++
			assert.True(t, len(BuildPacket([]byte(cmd))) <= 64, "packet %q too large", cmd)
		case 'm':
			reads++
		}
	}
	assert.Equal(t, 7, writes)
	assert.Equal(t, 4, reads)
}

func TestClientRemoteError(t *testing.T) {
	c, _ := newStub(t)

	_, err := c.ReadCoreRegister(context.Background(), core0, errorRegister)
	assert.Error(t, err)
	assert.True(t, IsRemoteError(err))
}

func TestClientReplyTimeout(t *testing.T) {
	c, _ := newStub(t, WithReplyTimeout(50*time.Millisecond))

	_, err := c.ReadCoreRegister(context.Background(), core0, silentRegister)
	var te *ReplyTimeoutError
	assert.True(t, errors.As(err, &te), "got %v", err)
	assert.Equal(t, "read register", te.Command)
}

func TestClientContextCancelled(t *testing.T) {
	c, _ := newStub(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.ReadCoreRegister(ctx, core0, silentRegister)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
}

func TestClientDiscardsLateReply(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
		wait time.Duration
	}{
		{
			name: "cancelled",
			wait: 20 * time.Millisecond,
		},
		{
			name: "reply timeout",
			opts: []Option{WithReplyTimeout(40 * time.Millisecond)},
			wait: time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, s := newStub(t, tt.opts...)

			ctx, cancel := context.WithTimeout(context.Background(), tt.wait)
			_, err := c.ReadCoreRegister(ctx, core0, slowRegister)
			cancel()
			assert.Error(t, err)

			// the late reply to the abandoned read must not answer these
			assert.NoError(t, c.WriteCoreRegister(context.Background(), core0, probe.ArmR0, 5))
			v, err := c.ReadCoreRegister(context.Background(), core0, probe.ArmR0)
			assert.NoError(t, err)
			assert.Equal(t, uint32(5), v)

			assert.Equal(t, []string{"Hg1", "p65", "P0=05000000", "p0"}, s.commands())
		})
	}
}

func TestClientRunUntilBreakpoint(t *testing.T) {
	c, s := newStub(t)
	s.set(func(s *stub) { s.autoStop = true })
	ctx := context.Background()

	assert.NoError(t, c.Run(ctx, core0))
	waitHalted(t, c)

	_, err := c.ReadCoreRegister(ctx, core0, probe.ArmR0)
	assert.NoError(t, err)
}

func TestClientHaltRunningTarget(t *testing.T) {
	c, _ := newStub(t)
	ctx := context.Background()

	assert.NoError(t, c.Run(ctx, core0))
	halted, err := c.IsHalted(ctx, core0)
	assert.NoError(t, err)
	assert.False(t, halted)

	_, err = c.ReadCoreRegister(ctx, core0, probe.ArmR0)
	assert.ErrorContains(t, err, "running")

	assert.NoError(t, c.Halt(ctx, core0))
	halted, err = c.IsHalted(ctx, core0)
	assert.NoError(t, err)
	assert.True(t, halted)

	// halting a halted target is a no-op
	assert.NoError(t, c.Halt(ctx, core0))
}

func TestClientRetransmitsOnNack(t *testing.T) {
	c, s := newStub(t)
	s.set(func(s *stub) { s.nackFirst = true })

	reason, err := c.HaltReason(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, byte(5), reason.Signal)
	assert.Equal(t, []string{"?"}, s.commands())
}

func TestClientIgnoresConsoleOutput(t *testing.T) {
	c, s := newStub(t)
	s.set(func(s *stub) { s.console = "flash algorithm loaded\n" })
	ctx := context.Background()

	assert.NoError(t, c.WriteCoreRegister(ctx, core0, probe.ArmR2, 7))
	v, err := c.ReadCoreRegister(ctx, core0, probe.ArmR2)
	assert.NoError(t, err)
	assert.Equal(t, uint32(7), v)
}

func TestClientClosed(t *testing.T) {
	c, _ := newStub(t)
	assert.NoError(t, c.Close())

	_, err := c.IsHalted(context.Background(), core0)
	assert.True(t, errors.Is(err, ErrClosed), "got %v", err)

	err = c.WriteMemory(context.Background(), core0, 0, []byte{1})
	assert.Error(t, err)
}

func waitHalted(t *testing.T, c *Client) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		halted, err := c.IsHalted(context.Background(), core0)
		assert.NoError(t, err)
		if halted {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("target did not halt")
}
