// Package ws carries caller sessions: a HELLO/WELCOME handshake, CMD frames
// in, MSG/OBS frames out. Commands are scheduled onto the world loop; this
// package never touches world state directly.
package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"cavecraft.ai/internal/caves/dispatch"
	"cavecraft.ai/internal/protocol"
	"cavecraft.ai/internal/sim/world"
)

type Server struct {
	world      *world.World
	dispatcher *dispatch.Dispatcher
	log        *log.Logger

	// Presenting this token in HELLO grants the reload capability.
	// Empty disables admin joins entirely.
	adminToken string

	upgrader websocket.Upgrader
}

func NewServer(w *world.World, d *dispatch.Dispatcher, logger *log.Logger, adminToken string) *Server {
	return &Server{
		world:      w,
		dispatcher: d,
		log:        logger,
		adminToken: adminToken,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		agentID, out := s.handshake(conn)
		if agentID == "" {
			return
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b, ok := <-out:
					if !ok {
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(5 * time.Minute))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				break
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil || base.Type != protocol.TypeCmd {
				continue
			}
			var cmd protocol.CmdMsg
			if err := json.Unmarshal(msg, &cmd); err != nil {
				continue
			}
			id, op := agentID, cmd.Op
			s.world.Schedule(func() { s.dispatcher.HandleCmd(id, op) })
		}

		// Cleanup.
		s.world.Leave() <- agentID
	}
}

func (s *Server) handshake(conn *websocket.Conn) (agentID string, out chan []byte) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return "", nil
	}

	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return "", nil
	}
	if hello.ProtocolVersion != protocol.Version {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return "", nil
	}
	if hello.Name == "" {
		hello.Name = "caller"
	}

	out = make(chan []byte, 16)
	respCh := make(chan world.JoinResponse, 1)
	s.world.Join() <- world.JoinRequest{
		Name:     hello.Name,
		Observer: hello.Observer,
		Admin:    s.adminToken != "" && hello.AdminToken == s.adminToken,
		Out:      out,
		Resp:     respCh,
	}
	resp := <-respCh

	cfg := s.world.Config()
	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		AgentID:         resp.AgentID,
		WorldParams: protocol.WorldParams{
			TickRateHz: cfg.TickRateHz,
			MinHeight:  cfg.MinY,
			MaxHeight:  cfg.MaxY,
			ObsRadius:  cfg.ObsRadius,
			Seed:       cfg.Seed,
		},
		Spawn: [3]int{resp.Spawn.X, resp.Spawn.Y, resp.Spawn.Z},
		Terrain: protocol.TerrainPatch{
			Center:    [3]int{resp.Spawn.X, resp.Spawn.Y, resp.Spawn.Z},
			Radius:    cfg.ObsRadius,
			VoxelsRLE: resp.TerrainRLE,
		},
	}
	if err := writeJSON(conn, welcome); err != nil {
		s.world.Leave() <- resp.AgentID
		return "", nil
	}

	return resp.AgentID, out
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
