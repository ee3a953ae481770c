package mcptransport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/mcpctl/mcpctl/internal/jsonrpc"
	"github.com/mcpctl/mcpctl/internal/log"
	"github.com/mcpctl/mcpctl/internal/mcperrors"
)

// StdioTransportConfig configures a child-process MCP server.
type StdioTransportConfig struct {
	Command string
	Args    []string
	Env     []string
	Logger  *log.Logger // stderr lines are logged here (spec §4.3.2)
}

// StdioTransport terminates the stdio variant from spec §4.3.2: spawns the
// configured child, frames one JSON object per line over stdin/stdout, and
// logs stderr as diagnostic output. Grounded on the teacher's
// pkg/gateway/clientpool.go child-process construction (command/env/args
// assembly ahead of exec.CommandContext).
type StdioTransport struct {
	cfg StdioTransportConfig

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser

	writeMu sync.Mutex
	frames  chan InboundFrame

	closeOnce sync.Once
}

// NewStdioTransport constructs a stdio transport. Call Start to spawn the child.
func NewStdioTransport(cfg StdioTransportConfig) *StdioTransport {
	return &StdioTransport{
		cfg:    cfg,
		frames: make(chan InboundFrame, 32),
	}
}

func (t *StdioTransport) SetSessionID(string)      {}
func (t *StdioTransport) SetProtocolVersion(string) {}

func (t *StdioTransport) Frames() <-chan InboundFrame { return t.frames }

// Start spawns the child process and begins reading its stdout.
func (t *StdioTransport) Start(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, t.cfg.Command, t.cfg.Args...)
	if len(t.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), t.cfg.Env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("opening child stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("opening child stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("opening child stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting child process %s: %w", t.cfg.Command, err)
	}

	t.cmd = cmd
	t.stdin = stdin
	t.stdout = stdout

	go t.logStderr(stderr)
	go t.readLoop(stdout)

	return nil
}

func (t *StdioTransport) logStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if t.cfg.Logger != nil {
			t.cfg.Logger.Printf("child stderr: %s", scanner.Text())
		}
	}
}

func (t *StdioTransport) readLoop(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var frame jsonrpc.Frame
		if err := json.Unmarshal(line, &frame); err != nil {
			if t.cfg.Logger != nil {
				t.cfg.Logger.Printf("discarding unparseable child line: %v", err)
			}
			continue
		}
		t.emit(InboundFrame{Frame: frame})
	}

	// Child exit (or stdout close) closes the inbound channel semantics:
	// propagate TransportClosed to all outstanding requests (spec §4.3.2).
	t.emit(InboundFrame{Err: mcperrors.Wrap(mcperrors.KindNetwork, fmt.Errorf("child process exited"), "stdio transport closed")})
}

func (t *StdioTransport) emit(f InboundFrame) {
	select {
	case t.frames <- f:
	default:
	}
}

func (t *StdioTransport) Send(_ context.Context, req jsonrpc.Request) error {
	req.JSONRPC = jsonrpc.Version
	return t.writeLine(req)
}

func (t *StdioTransport) SendNotification(_ context.Context, n jsonrpc.Notification) error {
	n.JSONRPC = jsonrpc.Version
	return t.writeLine(n)
}

func (t *StdioTransport) writeLine(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling stdio frame: %w", err)
	}
	data = append(data, '\n')

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if t.stdin == nil {
		return fmt.Errorf("transport not started")
	}
	_, err = t.stdin.Write(data)
	return err
}

// Stop closes stdin (signaling EOF to a well-behaved server) and waits
// for the child to exit; the wait has no time limit.
func (t *StdioTransport) Stop(_ context.Context) error {
	var err error
	t.closeOnce.Do(func() {
		if t.stdin != nil {
			err = t.stdin.Close()
		}
		if t.cmd != nil && t.cmd.Process != nil {
			_ = t.cmd.Wait()
		}
	})
	return err
}
