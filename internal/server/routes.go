package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/wotlink/internal/auth"
	"github.com/danmuck/wotlink/internal/dispatch"
	"github.com/danmuck/wotlink/internal/journal"
	"github.com/danmuck/wotlink/internal/observability"
	"github.com/danmuck/wotlink/internal/protocol"
	"github.com/danmuck/wotlink/internal/protocol/frame"
	"github.com/danmuck/wotlink/internal/protocol/scalar"
	"github.com/gin-gonic/gin"
)

const (
	defaultJournalLimit = 50
	maxJournalLimit     = 1000
)

type scalarRequest struct {
	Width scalar.Width `json:"width"`
	Value uint64       `json:"value"`
}

type receiveRequest struct {
	Size int    `json:"size"`
	Send []byte `json:"send,omitempty"`
	Port uint16 `json:"port,omitempty"`
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.started).String(),
			"node":    s.cfg.Node,
			"version": "0.0.1",
		})
	})

	s.router.GET("/metrics", gin.WrapH(observability.Handler()))

	s.router.GET("/status", func(c *gin.Context) {
		snap := Snapshot{Node: s.cfg.Node}
		if s.status != nil {
			snap = s.status()
		}
		c.JSON(http.StatusOK, snap)
	})

	s.router.GET("/journal", s.handleJournal)

	msgs := s.router.Group("/messages")
	if s.cfg.Token != "" {
		msgs.Use(requireToken(auth.StaticToken{Token: s.cfg.Token}))
	}
	msgs.POST("/scalar", s.handleScalar)
	msgs.POST("/image", s.handleImage)
	msgs.POST("/receive", s.handleReceive)
}

func (s *Server) handleJournal(c *gin.Context) {
	limit := defaultJournalLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxJournalLimit)
	}
	entries := []journal.Entry{}
	if s.journal != nil {
		got, err := s.journal.Recent(limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		entries = append(entries, got...)
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (s *Server) handleScalar(c *gin.Context) {
	var req scalarRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if _, err := scalar.Encode(req.Width, req.Value); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	done, notify := resultChan()
	var msg dispatch.Message
	switch req.Width {
	case scalar.Width1:
		msg = dispatch.OneByte{Value: uint8(req.Value), Done: notify}
	case scalar.Width2:
		msg = dispatch.TwoBytes{Value: uint16(req.Value), Done: notify}
	default:
		msg = dispatch.FourBytes{Value: uint32(req.Value), Done: notify}
	}
	s.submit(c, msg, done, c.Query("wait") == "true")
}

func (s *Server) handleImage(c *gin.Context) {
	port, err := parsePort(c.Query("port"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	mode, err := parseMode(c.Query("mode"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	limit := int64(frame.DefaultLimits().MaxPayloadBytes)
	data, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, limit))
	if err != nil {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
		return
	}
	if len(data) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty image body"})
		return
	}

	done, notify := resultChan()
	var msg dispatch.Message
	switch strings.ToLower(c.DefaultQuery("transport", "tcp")) {
	case "tcp":
		msg = dispatch.TCPImage{Data: data, Mode: mode, Port: port, Done: notify}
	case "stream":
		msg = dispatch.TCPImage{Data: data, Port: port, Stream: true, Done: notify}
	case "udp":
		msg = dispatch.UDPImage{Data: data, Port: port, Done: notify}
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "transport must be tcp, udp or stream"})
		return
	}
	s.submit(c, msg, done, c.Query("wait") == "true")
}

// handleReceive always waits: the reply bytes are the point of the request.
func (s *Server) handleReceive(c *gin.Context) {
	var req receiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Size <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "size must be positive"})
		return
	}
	if err := dispatch.CheckReceiveSize(req.Size); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	done, notify := resultChan()
	var msg dispatch.Message = dispatch.ReceiveRequest{Size: req.Size, Port: req.Port, Done: notify}
	if len(req.Send) > 0 {
		msg = dispatch.SendReceive{Data: req.Send, ReceiveSize: req.Size, Port: req.Port, Done: notify}
	}
	s.submit(c, msg, done, true)
}

func resultChan() (<-chan dispatch.Result, func(dispatch.Result)) {
	ch := make(chan dispatch.Result, 1)
	return ch, func(r dispatch.Result) { ch <- r }
}

func (s *Server) submit(c *gin.Context, msg dispatch.Message, done <-chan dispatch.Result, wait bool) {
	kind := msg.Type().String()
	if err := s.queue.Submit(c.Request.Context(), msg, s.cfg.SubmitWait); err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, dispatch.ErrQueueFull):
			status = http.StatusServiceUnavailable
		case errors.Is(err, dispatch.ErrInvalidMessage):
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error(), "kind": kind})
		return
	}
	if !wait {
		c.JSON(http.StatusAccepted, gin.H{"status": "queued", "kind": kind})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.cfg.ResultTimeout)
	defer cancel()
	select {
	case res := <-done:
		body := gin.H{
			"kind":     kind,
			"status":   protocol.StatusOf(res.Err).String(),
			"bytes":    res.Bytes,
			"attempts": res.Attempts,
		}
		if res.Data != nil {
			body["data"] = res.Data
		}
		if res.Err != nil {
			body["error"] = res.Err.Error()
			c.JSON(http.StatusBadGateway, body)
			return
		}
		c.JSON(http.StatusOK, body)
	case <-ctx.Done():
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "timed out waiting for result", "kind": kind})
	}
}

func parsePort(raw string) (uint16, error) {
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(raw, 10, 16)
	if err != nil {
		return 0, errors.New("port must be 0-65535")
	}
	return uint16(v), nil
}

func parseMode(raw string) (protocol.ConnectionMode, error) {
	switch strings.ToLower(raw) {
	case "", "close", "close_after_send":
		return protocol.CloseAfterSend, nil
	case "keep", "keep_alive":
		return protocol.KeepAlive, nil
	default:
		return 0, errors.New("mode must be keep_alive or close_after_send")
	}
}
