package gdbremote

import (
	"context"
	"encoding/hex"
	"io"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/juju/errors"
	"github.com/moffa90/go-flashalgo/probe"
	"github.com/moffa90/go-flashalgo/target"
)

// ThreadMapper maps a core to the GDB thread ID the stub exposes it as.
type ThreadMapper func(core target.CoreAccessOptions) int

// DefaultThreadMapper maps access port n to thread n+1, as multi-core
// OpenOCD and pyOCD configurations do.
func DefaultThreadMapper(core target.CoreAccessOptions) int {
	return int(core.AP) + 1
}

type config struct {
	replyTimeout  time.Duration
	maxPacketSize int
	threadMapper  ThreadMapper
}

// Option is a functional option for configuring the Client.
type Option func(*config)

// WithReplyTimeout bounds the wait for the reply to a single command.
// Default is 5s.
func WithReplyTimeout(timeout time.Duration) Option {
	return func(c *config) {
		if timeout > 0 {
			c.replyTimeout = timeout
		}
	}
}

// WithMaxPacketSize sets the largest packet the stub accepts.
// Memory transfers are split to fit. Default is 1024.
func WithMaxPacketSize(size int) Option {
	return func(c *config) {
		if size >= 64 {
			c.maxPacketSize = size
		}
	}
}

// WithThreadMapper sets how cores map to GDB threads.
func WithThreadMapper(mapper ThreadMapper) Option {
	return func(c *config) {
		if mapper != nil {
			c.threadMapper = mapper
		}
	}
}

// Client speaks the GDB remote serial protocol to a stub such as OpenOCD,
// pyOCD or a probe with a built-in GDB server. It implements
// probe.DebugAccess.
//
// The stub runs in all-stop mode: resuming one core resumes the target and
// a stop reply halts all of it. Client is safe for concurrent use; commands
// are serialized.
type Client struct {
	conn io.ReadWriteCloser
	cfg  config

	cmdMu   sync.Mutex
	writeMu sync.Mutex
	last    []byte
	thread  int
	pending int

	replies chan string
	stops   chan StopReply

	stateMu sync.Mutex
	running bool
	exited  *StopReply

	done chan struct{}
}

var _ probe.DebugAccess = (*Client)(nil)

// New creates a client on an established connection and starts reading from it.
//
// Example:
//
//	conn, _ := net.Dial("tcp", "localhost:3333")
//	client := gdbremote.New(conn, gdbremote.WithReplyTimeout(2*time.Second))
//	defer client.Close()
func New(conn io.ReadWriteCloser, opts ...Option) *Client {
	if conn == nil {
		panic("connection cannot be nil")
	}

	cfg := config{
		replyTimeout:  DefaultReplyTimeout,
		maxPacketSize: DefaultMaxPacketSize,
		threadMapper:  DefaultThreadMapper,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	c := &Client{
		conn:    conn,
		cfg:     cfg,
		replies: make(chan string, 1),
		stops:   make(chan StopReply, 1),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Close closes the connection and waits for the reader to stop.
func (c *Client) Close() error {
	err := c.conn.Close()
	<-c.done
	return errors.Trace(err)
}

// readLoop decodes the incoming stream until the connection fails.
func (c *Client) readLoop() {
	defer close(c.done)

	var dec decoder
	buf := make([]byte, 512)
	for {
		n, err := c.conn.Read(buf)
		for _, b := range buf[:n] {
			f, ok := dec.feed(b)
			if !ok {
				continue
			}
			c.handleFrame(f)
		}
		if err != nil {
			glog.V(3).Infof("gdb reader stopped: %v", err)
			return
		}
	}
}

func (c *Client) handleFrame(f frame) {
	switch {
	case f.ack == Nack:
		glog.V(4).Infof("<- nack, retransmitting")
		c.writeMu.Lock()
		last := c.last
		c.writeMu.Unlock()
		if last != nil {
			_ = c.writeRaw(last)
		}
		return
	case f.ack == Ack:
		return
	case f.err != nil:
		glog.V(3).Infof("<- bad packet: %v", f.err)
		_ = c.writeRaw([]byte{Nack})
		return
	}

	_ = c.writeRaw([]byte{Ack})
	payload := string(f.payload)
	glog.V(4).Infof("<- %q", payload)

	if len(payload) > 1 && payload[0] == 'O' && payload != ReplyOK {
		if text, err := hex.DecodeString(payload[1:]); err == nil {
			glog.V(3).Infof("stub console: %s", text)
			return
		}
	}

	c.stateMu.Lock()
	running := c.running
	if running && IsStopReply(payload) {
		c.running = false
		stop, _ := ParseStopReply(payload)
		if stop.Exited {
			c.exited = &stop
		}
		c.stateMu.Unlock()
		select {
		case c.stops <- stop:
		default:
		}
		return
	}
	c.stateMu.Unlock()

	select {
	case c.replies <- payload:
	default:
		glog.V(3).Infof("dropping unsolicited reply %q", payload)
	}
}

func (c *Client) writeRaw(b []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.conn.Write(b)
	return err
}

func (c *Client) send(payload string) error {
	pkt := BuildPacket([]byte(payload))
	glog.V(4).Infof("-> %q", payload)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.last = pkt
	if _, err := c.conn.Write(pkt); err != nil {
		return errors.Annotatef(err, "send %q", payload)
	}
	return nil
}

// exchange sends a command and waits for its reply. A command given up on
// by cancellation or timeout leaves its reply pending; it is awaited and
// discarded before the next command is sent.
func (c *Client) exchange(ctx context.Context, cmd string) (string, error) {
	c.discardPending()
	if err := ctx.Err(); err != nil {
		return "", errors.Trace(err)
	}
	select {
	case <-c.replies:
	default:
	}

	if err := c.send(cmd); err != nil {
		return "", err
	}

	timer := time.NewTimer(c.cfg.replyTimeout)
	defer timer.Stop()

	select {
	case reply := <-c.replies:
		return reply, nil
	case <-ctx.Done():
		c.pending++
		return "", errors.Trace(ctx.Err())
	case <-timer.C:
		c.pending++
		return "", &ReplyTimeoutError{Command: commandName(cmd)}
	case <-c.done:
		return "", errors.Annotatef(ErrClosed, "%s", commandName(cmd))
	}
}

// discardPending waits up to the reply timeout for the replies of abandoned
// commands and drops them. Replies still missing after that are given up.
func (c *Client) discardPending() {
	if c.pending == 0 {
		return
	}

	timer := time.NewTimer(c.cfg.replyTimeout)
	defer timer.Stop()
	for c.pending > 0 {
		select {
		case reply := <-c.replies:
			glog.V(3).Infof("discarding late reply %q", reply)
			c.pending--
		case <-timer.C:
			glog.V(3).Infof("giving up on %d late replies", c.pending)
			c.pending = 0
		case <-c.done:
			c.pending = 0
		}
	}
}

// selectCore makes the core's thread current for register and memory commands.
func (c *Client) selectCore(ctx context.Context, core target.CoreAccessOptions) error {
	thread := c.cfg.threadMapper(core)
	if thread == c.thread {
		return nil
	}
	cmd, err := BuildSelectThreadCmd(thread)
	if err != nil {
		return errors.Trace(err)
	}
	reply, err := c.exchange(ctx, cmd)
	if err != nil {
		return errors.Trace(err)
	}
	if err := ParseOKResponse(cmd, reply); err != nil {
		return errors.Annotatef(err, "select thread %d", thread)
	}
	c.thread = thread
	return nil
}

func (c *Client) checkHalted() error {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if c.exited != nil {
		return &TargetExitedError{Status: c.exited.Signal}
	}
	if c.running {
		return errors.New("target is running")
	}
	return nil
}

// ReadCoreRegister implements probe.DebugAccess.
func (c *Client) ReadCoreRegister(ctx context.Context, core target.CoreAccessOptions, reg probe.Register) (uint32, error) {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	if err := c.checkHalted(); err != nil {
		return 0, errors.Annotatef(err, "read register %d", reg)
	}
	if err := c.selectCore(ctx, core); err != nil {
		return 0, err
	}
	cmd := BuildReadRegisterCmd(uint32(reg))
	reply, err := c.exchange(ctx, cmd)
	if err != nil {
		return 0, errors.Annotatef(err, "read register %d", reg)
	}
	value, err := ParseRegisterResponse(cmd, reply)
	if err != nil {
		return 0, errors.Trace(err)
	}
	glog.V(3).Infof("GetReg(%d) == 0x%x", reg, value)
	return value, nil
}

// WriteCoreRegister implements probe.DebugAccess.
func (c *Client) WriteCoreRegister(ctx context.Context, core target.CoreAccessOptions, reg probe.Register, value uint32) error {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	glog.V(3).Infof("SetReg(%d, 0x%x)", reg, value)
	if err := c.checkHalted(); err != nil {
		return errors.Annotatef(err, "write register %d", reg)
	}
	if err := c.selectCore(ctx, core); err != nil {
		return err
	}
	cmd := BuildWriteRegisterCmd(uint32(reg), value)
	reply, err := c.exchange(ctx, cmd)
	if err != nil {
		return errors.Annotatef(err, "write register %d", reg)
	}
	return errors.Trace(ParseOKResponse(cmd, reply))
}

// ReadMemory implements probe.DebugAccess. Large reads are split so that
// every reply fits the maximum packet size.
func (c *Client) ReadMemory(ctx context.Context, core target.CoreAccessOptions, address uint64, buf []byte) error {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	glog.V(3).Infof("ReadMemory(0x%08x, %d)", address, len(buf))
	if err := c.checkHalted(); err != nil {
		return errors.Annotatef(err, "read memory at 0x%08x", address)
	}
	if err := c.selectCore(ctx, core); err != nil {
		return err
	}

	chunk := (c.cfg.maxPacketSize - 4) / 2
	for off := 0; off < len(buf); off += chunk {
		n := min(chunk, len(buf)-off)
		cmd, err := BuildReadMemoryCmd(address+uint64(off), n)
		if err != nil {
			return errors.Trace(err)
		}
		reply, err := c.exchange(ctx, cmd)
		if err != nil {
			return errors.Annotatef(err, "read memory at 0x%08x", address+uint64(off))
		}
		data, err := ParseMemoryResponse(cmd, reply, n)
		if err != nil {
			return errors.Trace(err)
		}
		copy(buf[off:], data)
	}
	return nil
}

// WriteMemory implements probe.DebugAccess. Large writes are split so that
// every packet fits the maximum packet size.
func (c *Client) WriteMemory(ctx context.Context, core target.CoreAccessOptions, address uint64, data []byte) error {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	glog.V(3).Infof("WriteMemory(0x%08x, %d)", address, len(data))
	if err := c.checkHalted(); err != nil {
		return errors.Annotatef(err, "write memory at 0x%08x", address)
	}
	if err := c.selectCore(ctx, core); err != nil {
		return err
	}

	chunk := (c.cfg.maxPacketSize - writeMemoryOverhead - 4) / 2
	for off := 0; off < len(data); off += chunk {
		n := min(chunk, len(data)-off)
		cmd, err := BuildWriteMemoryCmd(address+uint64(off), data[off:off+n])
		if err != nil {
			return errors.Trace(err)
		}
		reply, err := c.exchange(ctx, cmd)
		if err != nil {
			return errors.Annotatef(err, "write memory at 0x%08x", address+uint64(off))
		}
		if err := ParseOKResponse(cmd, reply); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// Halt implements probe.DebugAccess. A running target is interrupted and
// the stop reply awaited; a halted one is left alone.
func (c *Client) Halt(ctx context.Context, core target.CoreAccessOptions) error {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	c.stateMu.Lock()
	running := c.running
	c.stateMu.Unlock()
	if !running {
		return nil
	}

	glog.V(3).Infof("Halt(ap=%d)", core.AP)
	if err := c.writeRaw([]byte{Interrupt}); err != nil {
		return errors.Annotatef(err, "send interrupt")
	}

	timer := time.NewTimer(c.cfg.replyTimeout)
	defer timer.Stop()
	select {
	case <-c.stops:
		return nil
	case <-ctx.Done():
		return errors.Trace(ctx.Err())
	case <-timer.C:
		return &ReplyTimeoutError{Command: "interrupt"}
	case <-c.done:
		return errors.Annotatef(ErrClosed, "interrupt")
	}
}

// Run implements probe.DebugAccess. It returns once the continue command is
// sent; the stop reply arrives asynchronously and is reported by IsHalted.
func (c *Client) Run(ctx context.Context, core target.CoreAccessOptions) error {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	glog.V(3).Infof("Run(ap=%d)", core.AP)
	if err := c.checkHalted(); err != nil {
		return errors.Annotatef(err, "run")
	}
	if err := c.selectCore(ctx, core); err != nil {
		return err
	}

	select {
	case <-c.stops:
	default:
	}
	c.stateMu.Lock()
	c.running = true
	c.stateMu.Unlock()

	if err := c.send(BuildContinueCmd()); err != nil {
		c.stateMu.Lock()
		c.running = false
		c.stateMu.Unlock()
		return err
	}
	return nil
}

// IsHalted implements probe.DebugAccess.
func (c *Client) IsHalted(_ context.Context, _ target.CoreAccessOptions) (bool, error) {
	select {
	case <-c.done:
		return false, errors.Annotatef(ErrClosed, "poll halt state")
	default:
	}

	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if c.exited != nil {
		return false, &TargetExitedError{Status: c.exited.Signal}
	}
	return !c.running, nil
}

// HaltReason asks the stub why the target last stopped.
func (c *Client) HaltReason(ctx context.Context) (StopReply, error) {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	cmd := BuildHaltReasonCmd()
	reply, err := c.exchange(ctx, cmd)
	if err != nil {
		return StopReply{}, errors.Trace(err)
	}
	if _, err := ParseResponse(cmd, reply); err != nil {
		return StopReply{}, err
	}
	return ParseStopReply(reply)
}

func commandName(cmd string) string {
	switch {
	case cmd == CmdHaltReason:
		return "halt reason"
	case len(cmd) >= 2 && cmd[:2] == CmdSelectThread:
		return "select thread"
	case len(cmd) > 0 && cmd[:1] == CmdReadRegister:
		return "read register"
	case len(cmd) > 0 && cmd[:1] == CmdWriteRegister:
		return "write register"
	case len(cmd) > 0 && cmd[:1] == CmdReadMemory:
		return "read memory"
	case len(cmd) > 0 && cmd[:1] == CmdWriteMemory:
		return "write memory"
	case cmd == CmdContinue:
		return "continue"
	default:
		return cmd
	}
}
