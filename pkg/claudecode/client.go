package claudecode

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/trydex/claude-code-viewer/internal/common/logger"
)

// RequestHandler handles control requests coming from the CLI, such as
// can_use_tool permission requests. The handler answers by calling
// SendControlResponse with the given request id.
type RequestHandler func(requestID string, req *ControlRequest)

// MessageHandler handles streaming messages from the CLI (system, assistant,
// result lines).
type MessageHandler func(msg *CLIMessage)

type pendingControl struct {
	ch chan *IncomingControlResponse
}

// Client drives one CLI process's stdin/stdout streams. It parses each stdout
// line, routes control traffic, and forwards everything else to the message
// handler.
type Client struct {
	stdin  io.Writer
	stdout io.Reader
	logger *logger.Logger

	mu             sync.RWMutex
	requestHandler RequestHandler
	messageHandler MessageHandler
	done           chan struct{}

	pendingMu sync.Mutex
	pending   map[string]*pendingControl
}

// NewClient creates a client over the given streams.
func NewClient(stdin io.Writer, stdout io.Reader, log *logger.Logger) *Client {
	if log == nil {
		log = logger.Default()
	}
	return &Client{
		stdin:   stdin,
		stdout:  stdout,
		logger:  log.WithFields(zap.String("component", "claudecode_client")),
		done:    make(chan struct{}),
		pending: make(map[string]*pendingControl),
	}
}

// SetRequestHandler registers the handler for incoming control requests.
func (c *Client) SetRequestHandler(handler RequestHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requestHandler = handler
}

// SetMessageHandler registers the handler for streaming messages.
func (c *Client) SetMessageHandler(handler MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messageHandler = handler
}

// Run reads stdout until EOF, the context is cancelled, or Stop is called.
// It blocks; callers run it on its own goroutine.
func (c *Client) Run(ctx context.Context) error {
	scanner := bufio.NewScanner(c.stdout)
	// Assistant messages can be large; allow lines up to 10MB.
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return nil
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		c.handleLine(line)
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("stdout read failed: %w", err)
	}
	return nil
}

// Stop stops the read loop. Safe to call more than once.
func (c *Client) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.done:
	default:
		close(c.done)
	}
}

// SendUserMessage writes the prompt for a turn to the CLI's stdin.
func (c *Client) SendUserMessage(content string) error {
	return c.send(&UserMessage{
		Type: MessageTypeUser,
		Message: UserMessageBody{
			Role:    "user",
			Content: content,
		},
	})
}

// SendControlResponse answers a control request from the CLI.
func (c *Client) SendControlResponse(resp *ControlResponseMessage) error {
	return c.send(resp)
}

// RespondCanUseTool answers a can_use_tool control request with the given
// permission result.
func (c *Client) RespondCanUseTool(requestID string, result *PermissionResult) error {
	return c.SendControlResponse(&ControlResponseMessage{
		Type:      MessageTypeControlResponse,
		RequestID: requestID,
		Response: &ControlResponse{
			Subtype: "success",
			Result:  result,
		},
	})
}

// Interrupt asks the CLI to stop the current operation and waits for its
// acknowledgement, bounded by the timeout.
func (c *Client) Interrupt(ctx context.Context, timeout time.Duration) error {
	requestID := uuid.New().String()

	pending := &pendingControl{ch: make(chan *IncomingControlResponse, 1)}
	c.pendingMu.Lock()
	c.pending[requestID] = pending
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, requestID)
		c.pendingMu.Unlock()
	}()

	req := &SDKControlRequest{
		Type:      MessageTypeControlRequest,
		RequestID: requestID,
		Request:   SDKControlRequestBody{Subtype: SubtypeInterrupt},
	}
	if err := c.send(req); err != nil {
		return fmt.Errorf("failed to send interrupt request: %w", err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(timeout):
		return fmt.Errorf("interrupt request timed out after %v", timeout)
	case resp := <-pending.ch:
		if resp.Subtype == "error" {
			return fmt.Errorf("interrupt failed: %s", resp.Error)
		}
		return nil
	}
}

func (c *Client) send(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	data = append(data, '\n')
	if _, err := c.stdin.Write(data); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

func (c *Client) handleLine(line []byte) {
	var msg CLIMessage
	if err := json.Unmarshal(line, &msg); err != nil {
		c.logger.Warn("failed to parse stdout line", zap.Error(err))
		return
	}

	if msg.Type == MessageTypeControlRequest && msg.Request != nil {
		c.handleControlRequest(msg.RequestID, msg.Request)
		return
	}
	if msg.Type == MessageTypeControlResponse && msg.Response != nil {
		c.handleControlResponse(msg.Response)
		return
	}

	c.mu.RLock()
	handler := c.messageHandler
	c.mu.RUnlock()
	if handler != nil {
		handler(&msg)
	}
}

func (c *Client) handleControlRequest(requestID string, req *ControlRequest) {
	c.mu.RLock()
	handler := c.requestHandler
	c.mu.RUnlock()

	if handler != nil {
		handler(requestID, req)
		return
	}

	c.logger.Warn("control request without a registered handler",
		zap.String("request_id", requestID),
		zap.String("subtype", req.Subtype))
	if err := c.SendControlResponse(&ControlResponseMessage{
		Type:      MessageTypeControlResponse,
		RequestID: requestID,
		Response: &ControlResponse{
			Subtype: "error",
			Error:   "no handler registered",
		},
	}); err != nil {
		c.logger.Warn("failed to send error response", zap.Error(err))
	}
}

func (c *Client) handleControlResponse(resp *IncomingControlResponse) {
	c.pendingMu.Lock()
	pending, ok := c.pending[resp.RequestID]
	c.pendingMu.Unlock()

	if !ok {
		c.logger.Warn("control response for unknown request",
			zap.String("request_id", resp.RequestID))
		return
	}

	select {
	case pending.ch <- resp:
	default:
	}
}
