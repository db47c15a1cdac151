package bridge

import (
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"sync"

	"golang.org/x/crypto/ssh"
	"golang.org/x/term"

	"github.com/newtron-network/newtflow/pkg/util"
)

// SSHTunnel forwards a local TCP port to an address reachable from the
// agent host. Used when the relay Redis listens only on the agent's loopback.
type SSHTunnel struct {
	localAddr  string
	remoteAddr string
	sshClient  *ssh.Client
	listener   net.Listener
	done       chan struct{}
	closeOnce  sync.Once
	wg         sync.WaitGroup
}

// NewSSHTunnel dials SSH on host:port and opens a local listener on a random
// port. Connections to the local port are forwarded to remoteAddr as seen
// from the SSH host.
func NewSSHTunnel(host string, port int, user, pass, remoteAddr string) (*SSHTunnel, error) {
	config := &ssh.ClientConfig{
		User: user,
		Auth: []ssh.AuthMethod{
			ssh.Password(pass),
		},
		// Agent hosts are lab machines without managed host keys.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	sshClient, err := ssh.Dial("tcp", addr, config)
	if err != nil {
		return nil, fmt.Errorf("SSH dial %s: %w", addr, err)
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		sshClient.Close()
		return nil, fmt.Errorf("local listen: %w", err)
	}

	t := &SSHTunnel{
		localAddr:  listener.Addr().String(),
		remoteAddr: remoteAddr,
		sshClient:  sshClient,
		listener:   listener,
		done:       make(chan struct{}),
	}

	t.wg.Add(1)
	go t.acceptLoop()

	return t, nil
}

// LocalAddr returns the local address that forwards to the remote Redis.
func (t *SSHTunnel) LocalAddr() string {
	return t.localAddr
}

// Close stops accepting, closes the SSH connection and waits for open
// forwards to drain. Calling it again returns nil.
func (t *SSHTunnel) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		t.listener.Close()
		err = t.sshClient.Close()
		t.wg.Wait()
	})
	return err
}

func (t *SSHTunnel) acceptLoop() {
	defer t.wg.Done()
	log := util.WithComponent("tunnel")
	for {
		local, err := t.listener.Accept()
		if err != nil {
			select {
			case <-t.done:
				return
			default:
				log.Debugf("accept: %v", err)
				continue
			}
		}
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			if err := t.forward(local); err != nil {
				log.Warnf("forward to %s: %v", t.remoteAddr, err)
			}
		}()
	}
}

// forward pipes one local connection to remoteAddr until either side closes.
func (t *SSHTunnel) forward(local net.Conn) error {
	defer local.Close()
	remote, err := t.sshClient.Dial("tcp", t.remoteAddr)
	if err != nil {
		return err
	}
	defer remote.Close()

	done := make(chan struct{}, 2)
	pipe := func(dst, src net.Conn) {
		io.Copy(dst, src)
		done <- struct{}{}
	}
	go pipe(remote, local)
	go pipe(local, remote)
	<-done
	return nil
}

// PromptPassword reads a password from the terminal without echo.
func PromptPassword(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("no SSH password configured and stdin is not a terminal")
	}
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(b), nil
}
