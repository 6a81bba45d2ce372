package canvas

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// silentRedis 是一个只会应答握手和 SUBSCRIBE 的 RESP 服务，订阅成功后不再推送任何消息
type silentRedis struct {
	ln    net.Listener
	mu    sync.Mutex
	conns []net.Conn
}

func newSilentRedis(t *testing.T) *silentRedis {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &silentRedis{ln: ln}
	go s.serve()
	t.Cleanup(s.close)
	return s
}

func (s *silentRedis) Addr() string { return s.ln.Addr().String() }

func (s *silentRedis) close() {
	_ = s.ln.Close()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		_ = c.Close()
	}
}

func (s *silentRedis) serve() {
	for {
		c, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, c)
		s.mu.Unlock()
		go s.handle(c)
	}
}

func (s *silentRedis) handle(c net.Conn) {
	r := bufio.NewReader(c)
	for {
		args, err := readCommand(r)
		if err != nil {
			return
		}
		if len(args) == 0 {
			continue
		}
		var reply strings.Builder
		switch strings.ToUpper(args[0]) {
		case "HELLO":
			// 让客户端退回 RESP2
			reply.WriteString("-ERR unknown command 'HELLO'\r\n")
		case "PING":
			reply.WriteString("+PONG\r\n")
		case "SUBSCRIBE":
			for i, ch := range args[1:] {
				fmt.Fprintf(&reply, "*3\r\n$9\r\nsubscribe\r\n$%d\r\n%s\r\n:%d\r\n", len(ch), ch, i+1)
			}
		default:
			reply.WriteString("+OK\r\n")
		}
		if _, err := io.WriteString(c, reply.String()); err != nil {
			return
		}
	}
}

// readCommand 读取一条 RESP 数组形式的命令
func readCommand(r *bufio.Reader) ([]string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return nil, err
	}
	line = strings.TrimRight(line, "\r\n")
	if !strings.HasPrefix(line, "*") {
		return nil, nil
	}
	n, err := strconv.Atoi(line[1:])
	if err != nil {
		return nil, err
	}
	args := make([]string, 0, n)
	for i := 0; i < n; i++ {
		head, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		size, err := strconv.Atoi(strings.TrimRight(head, "\r\n")[1:])
		if err != nil {
			return nil, err
		}
		buf := make([]byte, size+2)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		args = append(args, string(buf[:size]))
	}
	return args, nil
}
