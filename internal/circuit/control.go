package circuit

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// controlClient is the slice of the control protocol the pool needs.
// Injected so pool tests run without live circuit processes.
type controlClient interface {
	BootstrapProgress(ctx context.Context) (int, error)
	Newnym(ctx context.Context) error
}

// Controller speaks the line-oriented control protocol over a local TCP
// port. Every call opens a fresh connection, authenticates, runs one
// command, and closes; failures mean "circuit currently unreachable",
// never fatal.
type Controller struct {
	Addr     string
	Password string
	Timeout  time.Duration
}

// NewController creates a Controller for the given control endpoint.
func NewController(addr, password string, timeout time.Duration) *Controller {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Controller{Addr: addr, Password: password, Timeout: timeout}
}

var progressPattern = regexp.MustCompile(`PROGRESS=(\d+)`)

// BootstrapProgress queries the bootstrap phase and returns the
// percentage complete.
func (c *Controller) BootstrapProgress(ctx context.Context) (int, error) {
	reply, err := c.roundTrip(ctx, "GETINFO status/bootstrap-phase")
	if err != nil {
		return 0, err
	}
	m := progressPattern.FindStringSubmatch(reply)
	if m == nil {
		return 0, fmt.Errorf("no PROGRESS token in bootstrap reply %q", reply)
	}
	pct, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, fmt.Errorf("parse bootstrap progress: %w", err)
	}
	return pct, nil
}

// Newnym requests a fresh circuit/exit.
func (c *Controller) Newnym(ctx context.Context) error {
	_, err := c.roundTrip(ctx, "SIGNAL NEWNYM")
	return err
}

// roundTrip dials, authenticates, and runs one command, returning the
// raw reply lines.
func (c *Controller) roundTrip(ctx context.Context, command string) (string, error) {
	dialer := net.Dialer{Timeout: c.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.Addr)
	if err != nil {
		return "", fmt.Errorf("dial control port %s: %w", c.Addr, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(c.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return "", fmt.Errorf("set control deadline: %w", err)
	}

	reader := bufio.NewReader(conn)

	auth := "AUTHENTICATE"
	if c.Password != "" {
		auth = fmt.Sprintf("AUTHENTICATE %q", c.Password)
	}
	if _, err := sendCommand(conn, reader, auth); err != nil {
		return "", fmt.Errorf("authenticate: %w", err)
	}

	reply, err := sendCommand(conn, reader, command)
	if err != nil {
		return "", fmt.Errorf("%s: %w", command, err)
	}
	return reply, nil
}

// sendCommand writes one command and reads reply lines until the final
// status line. A reply is successful when its status line starts "250".
func sendCommand(conn net.Conn, reader *bufio.Reader, command string) (string, error) {
	if _, err := fmt.Fprintf(conn, "%s\r\n", command); err != nil {
		return "", fmt.Errorf("write: %w", err)
	}
	var b strings.Builder
	inData := false
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("read reply: %w", err)
		}
		b.WriteString(line)
		trimmed := strings.TrimRight(line, "\r\n")

		// "250+" opens a data block terminated by a lone dot; "250-"
		// lines continue the reply; "250" or "250 ..." ends it.
		if inData {
			if trimmed == "." {
				inData = false
			}
			continue
		}
		switch {
		case strings.HasPrefix(trimmed, "250+"):
			inData = true
		case strings.HasPrefix(trimmed, "250-"):
		case strings.HasPrefix(trimmed, "250"):
			return b.String(), nil
		default:
			return "", fmt.Errorf("control error reply %q", trimmed)
		}
	}
}
