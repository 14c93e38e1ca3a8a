package cache

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"
)

// ValkeyConfig holds connection parameters for a Valkey/Redis-compatible server.
type ValkeyConfig struct {
	Addr         string
	Username     string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	TLS          bool
}

// ValkeyProvider implements Provider over a plain RESP connection per call.
// The agent's cache traffic is low-volume, so no pool is kept.
type ValkeyProvider struct {
	cfg ValkeyConfig
}

// NewValkeyProvider validates the configuration and pings the server so bad
// credentials or connectivity fail at startup rather than on first use.
func NewValkeyProvider(cfg ValkeyConfig) (*ValkeyProvider, error) {
	if cfg.Addr == "" {
		return nil, errors.New("valkey addr is required")
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 2 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 500 * time.Millisecond
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 500 * time.Millisecond
	}

	p := &ValkeyProvider{cfg: cfg}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := p.ping(ctx); err != nil {
		return nil, fmt.Errorf("valkey ping: %w", err)
	}
	return p, nil
}

// Get fetches bytes by key, returning ErrCacheMiss when the key is absent.
func (p *ValkeyProvider) Get(ctx context.Context, key string) ([]byte, error) {
	var payload []byte
	err := p.exec(ctx, func(c *respConn) error {
		if err := c.send("GET", key); err != nil {
			return err
		}
		data, isNil, err := c.recvBulk()
		if err != nil {
			return err
		}
		if isNil {
			return ErrCacheMiss
		}
		payload = data
		return nil
	})
	return payload, err
}

// Set stores bytes with the provided TTL (0 means no expiry).
func (p *ValkeyProvider) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := p.set(ctx, key, value, ttl, false)
	return err
}

// SetNX stores the value only if the key does not exist yet.
func (p *ValkeyProvider) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	return p.set(ctx, key, value, ttl, true)
}

func (p *ValkeyProvider) set(ctx context.Context, key string, value []byte, ttl time.Duration, onlyIfAbsent bool) (bool, error) {
	var stored bool
	err := p.exec(ctx, func(c *respConn) error {
		args := []string{key, string(value)}
		if ttl > 0 {
			args = append(args, "PX", strconv.FormatInt(ttl.Milliseconds(), 10))
		}
		if onlyIfAbsent {
			args = append(args, "NX")
		}
		if err := c.send("SET", args...); err != nil {
			return err
		}
		status, isNil, err := c.recvStatus()
		if err != nil {
			return err
		}
		if isNil {
			// NX refused; the key already exists.
			stored = false
			return nil
		}
		if !strings.EqualFold(status, "OK") {
			return fmt.Errorf("unexpected SET reply %q", status)
		}
		stored = true
		return nil
	})
	return stored, err
}

// Del removes a key.
func (p *ValkeyProvider) Del(ctx context.Context, key string) error {
	return p.exec(ctx, func(c *respConn) error {
		if err := c.send("DEL", key); err != nil {
			return err
		}
		_, _, err := c.recvStatus()
		return err
	})
}

// Close is a no-op; connections are per-call.
func (p *ValkeyProvider) Close() error { return nil }

func (p *ValkeyProvider) ping(ctx context.Context) error {
	return p.exec(ctx, func(c *respConn) error {
		if err := c.send("PING"); err != nil {
			return err
		}
		status, _, err := c.recvStatus()
		if err != nil {
			return err
		}
		if !strings.EqualFold(status, "PONG") {
			return fmt.Errorf("unexpected PING reply %q", status)
		}
		return nil
	})
}

// exec dials, authenticates, runs fn, and closes the connection.
func (p *ValkeyProvider) exec(ctx context.Context, fn func(*respConn) error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	conn, err := p.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.close()

	if err := p.handshake(conn); err != nil {
		return err
	}
	return fn(conn)
}

func (p *ValkeyProvider) dial(ctx context.Context) (*respConn, error) {
	dialer := net.Dialer{Timeout: p.cfg.DialTimeout}
	var (
		conn net.Conn
		err  error
	)
	if p.cfg.TLS {
		host := p.cfg.Addr
		if h, _, splitErr := net.SplitHostPort(p.cfg.Addr); splitErr == nil {
			host = h
		}
		conn, err = tls.DialWithDialer(&dialer, "tcp", p.cfg.Addr, &tls.Config{
			MinVersion: tls.VersionTLS12,
			ServerName: host,
		})
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", p.cfg.Addr)
	}
	if err != nil {
		return nil, err
	}
	return &respConn{
		conn:         conn,
		reader:       bufio.NewReader(conn),
		writer:       bufio.NewWriter(conn),
		readTimeout:  p.cfg.ReadTimeout,
		writeTimeout: p.cfg.WriteTimeout,
	}, nil
}

func (p *ValkeyProvider) handshake(c *respConn) error {
	if p.cfg.Password != "" {
		args := []string{p.cfg.Password}
		if p.cfg.Username != "" {
			args = []string{p.cfg.Username, p.cfg.Password}
		}
		if err := c.send("AUTH", args...); err != nil {
			return err
		}
		status, _, err := c.recvStatus()
		if err != nil {
			return err
		}
		if !strings.EqualFold(status, "OK") {
			return fmt.Errorf("auth failed: %s", status)
		}
	}
	if p.cfg.DB > 0 {
		if err := c.send("SELECT", strconv.Itoa(p.cfg.DB)); err != nil {
			return err
		}
		status, _, err := c.recvStatus()
		if err != nil {
			return err
		}
		if !strings.EqualFold(status, "OK") {
			return fmt.Errorf("select failed: %s", status)
		}
	}
	return nil
}

// respConn speaks the subset of RESP the provider needs: array-of-bulk-string
// commands out, simple strings, integers, and bulk strings back.
type respConn struct {
	conn         net.Conn
	reader       *bufio.Reader
	writer       *bufio.Writer
	readTimeout  time.Duration
	writeTimeout time.Duration
}

func (c *respConn) close() {
	_ = c.conn.Close()
}

func (c *respConn) send(command string, args ...string) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	fmt.Fprintf(c.writer, "*%d\r\n", len(args)+1)
	for _, part := range append([]string{command}, args...) {
		fmt.Fprintf(c.writer, "$%d\r\n%s\r\n", len(part), part)
	}
	return c.writer.Flush()
}

// recvStatus reads a simple-string, integer, or nil reply.
func (c *respConn) recvStatus() (string, bool, error) {
	prefix, line, err := c.recvLine()
	if err != nil {
		return "", false, err
	}
	switch prefix {
	case '+', ':':
		return line, false, nil
	case '$':
		size, err := strconv.Atoi(line)
		if err != nil {
			return "", false, err
		}
		if size == -1 {
			return "", true, nil
		}
		data, err := c.readBulkBody(size)
		return string(data), false, err
	default:
		return "", false, fmt.Errorf("unexpected RESP prefix %q", prefix)
	}
}

// recvBulk reads a bulk-string reply; isNil reports a missing key.
func (c *respConn) recvBulk() (data []byte, isNil bool, err error) {
	prefix, line, err := c.recvLine()
	if err != nil {
		return nil, false, err
	}
	if prefix != '$' {
		return nil, false, fmt.Errorf("unexpected RESP prefix %q for bulk reply", prefix)
	}
	size, err := strconv.Atoi(line)
	if err != nil {
		return nil, false, err
	}
	if size == -1 {
		return nil, true, nil
	}
	data, err = c.readBulkBody(size)
	return data, false, err
}

func (c *respConn) recvLine() (byte, string, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
		return 0, "", err
	}
	line, err := c.reader.ReadString('\n')
	if err != nil {
		return 0, "", err
	}
	line = strings.TrimRight(line, "\r\n")
	if len(line) == 0 {
		return 0, "", errors.New("empty RESP line")
	}
	if line[0] == '-' {
		return 0, "", errors.New(line[1:])
	}
	return line[0], line[1:], nil
}

func (c *respConn) readBulkBody(size int) ([]byte, error) {
	buf := make([]byte, size+2)
	if _, err := io.ReadFull(c.reader, buf); err != nil {
		return nil, err
	}
	if buf[size] != '\r' || buf[size+1] != '\n' {
		return nil, errors.New("malformed bulk string terminator")
	}
	return buf[:size], nil
}
