package radio

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// UDP carries frames as datagrams, one frame per datagram. Every Transmit is
// sent to each configured peer; a broadcast peer reaches the whole segment.
type UDP struct {
	cfg   Config
	conn  *net.UDPConn
	peers []*net.UDPAddr
	self  map[string]struct{}

	in *inbox
	c  counters

	txMu sync.Mutex
	rng  *rand.Rand
	wg   sync.WaitGroup
}

func ListenUDP(cfg Config) (*UDP, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	laddr, err := net.ResolveUDPAddr("udp", cfg.Listen)
	if err != nil {
		return nil, fmt.Errorf("radio: resolve listen %q: %w", cfg.Listen, err)
	}
	peers := make([]*net.UDPAddr, 0, len(cfg.Peers))
	for _, p := range cfg.Peers {
		a, err := net.ResolveUDPAddr("udp", p)
		if err != nil {
			return nil, fmt.Errorf("radio: resolve peer %q: %w", p, err)
		}
		peers = append(peers, a)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("radio: listen %q: %w", cfg.Listen, err)
	}
	u := &UDP{
		cfg:   cfg,
		conn:  conn,
		peers: peers,
		self:  map[string]struct{}{conn.LocalAddr().String(): {}},
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	u.in = newInbox(cfg.RXQueue, &u.c)
	u.wg.Add(1)
	go u.readLoop()
	log.Info().Str("listen", conn.LocalAddr().String()).Int("peers", len(peers)).Int("mtu", cfg.MTU).Msg("radio.ListenUDP")
	return u, nil
}

func (u *UDP) LocalAddr() *net.UDPAddr { return u.conn.LocalAddr().(*net.UDPAddr) }
func (u *UDP) MTU() int                { return u.cfg.MTU }
func (u *UDP) Stats() Stats            { return u.c.stats() }

func (u *UDP) readLoop() {
	defer u.wg.Done()
	// one spare byte detects datagrams longer than the mtu
	buf := make([]byte, u.cfg.MTU+1)
	for {
		n, addr, err := u.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) || u.in.closed.Load() {
				return
			}
			log.Warn().Err(err).Msg("radio.UDP read")
			continue
		}
		// only catches loopback when bound to a concrete address
		if _, own := u.self[addr.String()]; own {
			continue
		}
		if n > u.cfg.MTU {
			u.c.oversize.Add(1)
			continue
		}
		frame := make([]byte, n)
		copy(frame, buf[:n])
		u.in.offer(frame)
	}
}

func (u *UDP) Receive(ctx context.Context) ([]byte, error) {
	return u.in.receive(ctx)
}

// Transmit sends frame to every peer, retrying transient write errors with
// backoff. It fails only if no peer could be reached.
func (u *UDP) Transmit(ctx context.Context, frame []byte) error {
	if u.in.closed.Load() {
		return ErrClosed
	}
	if len(frame) > u.cfg.MTU {
		return fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, len(frame), u.cfg.MTU)
	}
	u.txMu.Lock()
	defer u.txMu.Unlock()

	var lastErr error
	delivered := 0
	for _, peer := range u.peers {
		attempts, err := retry(ctx, u.cfg.TxRetries, u.cfg.Backoff, u.rng, func() error {
			if err := u.conn.SetWriteDeadline(time.Now().Add(u.cfg.WriteTimeout)); err != nil {
				return err
			}
			_, err := u.conn.WriteToUDP(frame, peer)
			return err
		})
		if attempts > 1 {
			u.c.retries.Add(uint64(attempts - 1))
		}
		if err != nil {
			u.c.txErrors.Add(1)
			lastErr = err
			log.Warn().Err(err).Str("peer", peer.String()).Int("attempts", attempts).Msg("radio.UDP transmit")
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		delivered++
	}
	if delivered == 0 && lastErr != nil {
		return fmt.Errorf("radio: transmit: %w", lastErr)
	}
	u.c.sent.Add(1)
	return nil
}

func (u *UDP) Close() error {
	if !u.in.close() {
		return nil
	}
	err := u.conn.Close()
	u.wg.Wait()
	return err
}
