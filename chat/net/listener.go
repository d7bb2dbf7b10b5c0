package net

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"

	"github.com/sage-x-project/p2pchat/internal/logger"
	"github.com/sage-x-project/p2pchat/internal/metrics"
	"github.com/sage-x-project/p2pchat/peer"
)

// RunListener accepts TCP connections until the context is cancelled.
// Each connection is read in its own goroutine.
func (s *Services) RunListener(ctx context.Context) error {
	lc := net.ListenConfig{}
	listener, err := lc.Listen(ctx, "tcp", fmt.Sprintf("0.0.0.0:%d", s.cfg.Port))
	if err != nil {
		return logger.NewChatError(logger.ErrCodeNetwork, "tcp listen failed", err)
	}
	defer listener.Close()

	s.listenerUp.Store(true)
	defer s.listenerUp.Store(false)
	s.logger.Info("tcp listener started",
		logger.Int("port", int(s.cfg.Port)),
		logger.String("protocol", peer.ProtocolVersion))

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return logger.NewChatError(logger.ErrCodeNetwork, "accept failed", err)
		}
		go s.handleConnection(ctx, conn)
	}
}

// handleConnection applies messages from one connection in arrival
// order. Undecodable lines are dropped without closing the connection;
// EOF ends it cleanly.
func (s *Services) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 4096), maxWireLine)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var msg peer.NetworkMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			metrics.DecodeFailures.Inc()
			s.logger.Debug("dropping undecodable payload",
				logger.String("remote", conn.RemoteAddr().String()),
				logger.Error(err))
			continue
		}
		s.dispatch(&msg, conn.RemoteAddr())
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		s.logger.Debug("connection read error",
			logger.String("remote", conn.RemoteAddr().String()),
			logger.Error(err))
	}
}
