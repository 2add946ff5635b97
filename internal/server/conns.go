package server

import (
	"context"
	"net"
	"sync"
)

type connKey struct{}

// connRegistry maps remote addresses to the accepted TCP connections so
// handlers can reach the socket through listener wrappers.
type connRegistry struct {
	mu    sync.Mutex
	conns map[string]*net.TCPConn
}

func newConnRegistry() *connRegistry {
	return &connRegistry{conns: make(map[string]*net.TCPConn)}
}

func (r *connRegistry) add(c *net.TCPConn) string {
	key := c.RemoteAddr().String()
	r.mu.Lock()
	r.conns[key] = c
	r.mu.Unlock()
	return key
}

func (r *connRegistry) remove(key string) {
	r.mu.Lock()
	delete(r.conns, key)
	r.mu.Unlock()
}

func (r *connRegistry) connContext(ctx context.Context, c net.Conn) context.Context {
	r.mu.Lock()
	tcp := r.conns[c.RemoteAddr().String()]
	r.mu.Unlock()
	if tcp == nil {
		return ctx
	}
	return context.WithValue(ctx, connKey{}, tcp)
}

func tcpConnFromContext(ctx context.Context) *net.TCPConn {
	tcp, _ := ctx.Value(connKey{}).(*net.TCPConn)
	return tcp
}

type trackingListener struct {
	net.Listener
	conns *connRegistry
}

func (l *trackingListener) Accept() (net.Conn, error) {
	c, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	tcp, ok := c.(*net.TCPConn)
	if !ok {
		return c, nil
	}
	return &trackedConn{Conn: c, key: l.conns.add(tcp), conns: l.conns}, nil
}

type trackedConn struct {
	net.Conn
	key       string
	conns     *connRegistry
	closeOnce sync.Once
}

func (c *trackedConn) Close() error {
	c.closeOnce.Do(func() { c.conns.remove(c.key) })
	return c.Conn.Close()
}
