package sdr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// SSHConfig describes the remote host running the capture tool.
type SSHConfig struct {
	Host     string
	User     string
	Password string
	KeyPath  string
	Port     int
	// Command is the rtl_sdr compatible capture tool on the remote host.
	Command string
}

// SSHSource runs rtl_sdr on a remote host and streams its stdout. The tool
// cannot change gain while running, so SetGain and ResetBuffer restart it.
type SSHSource struct {
	mu      sync.Mutex
	cfg     Config
	client  *ssh.Client
	session *ssh.Session
	stdout  io.Reader
	gain    int
	gainSet bool
	restart bool
}

func NewSSH() *SSHSource { return &SSHSource{} }

func (s *SSHSource) Init(ctx context.Context, cfg Config) error {
	if cfg.SSH.Host == "" {
		return errors.New("ssh host is required")
	}
	if cfg.SSH.User == "" {
		cfg.SSH.User = "root"
	}
	if cfg.SSH.Port == 0 {
		cfg.SSH.Port = 22
	}
	if cfg.SSH.Command == "" {
		cfg.SSH.Command = "rtl_sdr"
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	_, err := s.dial(ctx)
	return err
}

func (s *SSHSource) Format() Format { return CU8 }

// Gains assumes the common R820T tuner.
func (s *SSHSource) Gains() []int { return append([]int(nil), tunerGains[tunerR820T]...) }

func (s *SSHSource) SetGain(gain int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gain, s.gainSet = gain, true
	s.restart = true
	return nil
}

func (s *SSHSource) ResetBuffer() error {
	s.mu.Lock()
	s.restart = true
	s.mu.Unlock()
	return nil
}

func (s *SSHSource) Stream(ctx context.Context, fn Handler) error {
	s.mu.Lock()
	size := bufferSize(s.cfg)
	s.mu.Unlock()
	defer s.stop()
	stop := context.AfterFunc(ctx, func() { s.stop() })
	defer stop()

	buf := make([]byte, size)
	for ctx.Err() == nil {
		r, err := s.reader(ctx)
		if err != nil {
			return err
		}
		n, err := io.ReadFull(r, buf)
		if n > 0 && !s.restartPending() {
			if herr := fn(buf[:n]); herr != nil {
				return herr
			}
		}
		if err != nil {
			if ctx.Err() != nil || s.restartPending() {
				continue
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return fmt.Errorf("read remote capture: %w", err)
		}
	}
	return nil
}

func (s *SSHSource) restartPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restart
}

// reader returns the running command's stdout, starting or restarting the
// command as needed.
func (s *SSHSource) reader(ctx context.Context) (io.Reader, error) {
	s.mu.Lock()
	running := s.session != nil && !s.restart
	stdout := s.stdout
	s.mu.Unlock()
	if running {
		return stdout, nil
	}
	s.stop()

	client, err := s.dial(ctx)
	if err != nil {
		return nil, err
	}
	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("create ssh session: %w", err)
	}
	out, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("ssh stdout: %w", err)
	}

	s.mu.Lock()
	cmd := s.command()
	s.mu.Unlock()
	if err := session.Start(cmd); err != nil {
		session.Close()
		return nil, fmt.Errorf("start remote capture: %w", err)
	}

	s.mu.Lock()
	s.session, s.stdout, s.restart = session, out, false
	s.mu.Unlock()
	return out, nil
}

// command builds the remote invocation. Callers hold s.mu.
func (s *SSHSource) command() string {
	args := []string{
		shellQuote(s.cfg.SSH.Command),
		"-d", fmt.Sprint(s.cfg.DeviceIndex),
		"-f", fmt.Sprintf("%.0f", s.cfg.Frequency),
		"-s", fmt.Sprintf("%.0f", s.cfg.SampleRate),
	}
	if s.cfg.PPM != 0 {
		args = append(args, "-p", fmt.Sprint(s.cfg.PPM))
	}
	if s.gainSet {
		args = append(args, "-g", fmt.Sprintf("%.1f", float64(s.gain)/10))
	}
	return strings.Join(append(args, "-"), " ")
}

func (s *SSHSource) stop() {
	s.mu.Lock()
	session := s.session
	s.session, s.stdout = nil, nil
	s.mu.Unlock()
	if session != nil {
		session.Signal(ssh.SIGTERM)
		session.Close()
	}
}

func (s *SSHSource) dial(ctx context.Context) (*ssh.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		return s.client, nil
	}
	cfg := s.cfg.SSH

	auth := []ssh.AuthMethod{}
	if cfg.Password != "" {
		auth = append(auth, ssh.Password(cfg.Password))
	}
	if cfg.KeyPath != "" {
		key, err := os.ReadFile(cfg.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("read ssh key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("parse ssh key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if len(auth) == 0 {
		return nil, fmt.Errorf("no ssh password or key configured")
	}

	config := &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         5 * time.Second,
	}

	addr := net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.Port))
	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial ssh: %w", err)
	}

	clientConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		return nil, fmt.Errorf("create ssh client: %w", err)
	}

	s.client = ssh.NewClient(clientConn, chans, reqs)
	return s.client, nil
}

func (s *SSHSource) Close() error {
	s.stop()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}

// shellQuote returns a value wrapped in single quotes with embedded quotes escaped
// for safe shell usage.
func shellQuote(value string) string {
	escaped := strings.ReplaceAll(value, "'", "'\\''")
	return fmt.Sprintf("'%s'", escaped)
}
