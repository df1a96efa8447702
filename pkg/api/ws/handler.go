package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/teamtally/tally/pkg/auth"
	domerr "github.com/teamtally/tally/pkg/domain/errors"
	"github.com/teamtally/tally/pkg/livesync/registry"
	"github.com/teamtally/tally/pkg/livesync/session"
	"github.com/teamtally/tally/pkg/livesync/wire"
)

const writeTimeout = 10 * time.Second

var errUnauthenticated = domerr.WithCategory(
	domerr.CategoryAuth, errors.New("authenticate first"),
)

// wsConn adapts a gorilla connection to session.Conn. The session's own
// mutex serializes writers.
type wsConn struct {
	base *websocket.Conn
}

func (c *wsConn) WriteText(data []byte) error {
	if err := c.base.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.base.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close() error { return c.base.Close() }

// permissionFor maps a subscription kind to the capability it demands.
// Subscribing is a read; Update additionally demands write on editors.
func permissionFor(kind registry.Kind, mutating bool) auth.Permission {
	if kind == registry.KindEditor && mutating {
		return auth.PermHoursEdit
	}
	return auth.PermHoursView
}

// New returns the live-sync endpoint handler.
//
// Lifecycle per connection: upgrade, register a session, serve messages
// until the peer goes away, then pull the session out of every pool and
// release its id. Sends race the removal harmlessly; writing to a closed
// socket only yields a logged error.
func New(
	sessions *session.Registry,
	pools *registry.Registry,
	issuer *auth.Issuer,
	logger *log.Logger,
) echo.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
	}

	return func(c echo.Context) error {
		raw, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			return fmt.Errorf("upgrade: %w", err)
		}

		s, err := sessions.Register(&wsConn{base: raw})
		if err != nil {
			raw.Close()
			return err
		}
		defer func() {
			pools.RemoveSession(s.ID())
			sessions.Release(s.ID())
			raw.Close()
		}()

		// token of the last successful Authenticate. Re-verified on
		// every privileged message so expiry cuts long connections off.
		token := ""

		for {
			_, data, err := raw.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(
					err, websocket.CloseNormalClosure, websocket.CloseGoingAway,
				) {
					logger.Printf("ws: session %d: %s", s.ID(), err)
				}
				return nil
			}

			var msg ClientMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				sendError(s, logger, domerr.WithCategory(domerr.CategoryData, err))
				continue
			}
			if err := serve(c, s, msg, pools, issuer, &token); err != nil {
				sendError(s, logger, err)
			}
		}
	}
}

func serve(
	c echo.Context,
	s *session.Session,
	msg ClientMessage,
	pools *registry.Registry,
	issuer *auth.Issuer,
	token *string,
) error {
	switch msg.Type {
	case MessageAuthenticate:
		var payload AuthenticatePayload
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			return domerr.WithCategory(domerr.CategoryData, err)
		}
		if _, err := issuer.Verify(payload.Token); err != nil {
			return err
		}
		*token = payload.Token
		return s.Send(wire.Envelope{Type: "AuthenticateOk"})

	case MessageSubscribe:
		var payload SubscribePayload
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			return domerr.WithCategory(domerr.CategoryData, err)
		}
		if err := assert(issuer, *token, permissionFor(payload.Kind, false)); err != nil {
			return err
		}
		pool, err := pools.Get(c.Request().Context(), payload.Kind)
		if err != nil {
			return domerr.WithCategory(domerr.CategoryData, err)
		}
		pool.Add.Push(s)
		return nil

	case MessageUpdate:
		var payload UpdatePayload
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			return domerr.WithCategory(domerr.CategoryData, err)
		}
		if err := assert(issuer, *token, permissionFor(payload.Kind, true)); err != nil {
			return err
		}
		pool, err := pools.Get(c.Request().Context(), payload.Kind)
		if err != nil {
			return domerr.WithCategory(domerr.CategoryData, err)
		}
		pool.Update.Push(registry.Mutation{SessionID: s.ID(), Payload: payload.Value})
		return nil

	default:
		return domerr.WithCategory(
			domerr.CategoryData, fmt.Errorf("unknown message type: %q", msg.Type),
		)
	}
}

func assert(issuer *auth.Issuer, token string, want auth.Permission) error {
	if token == "" {
		return errUnauthenticated
	}
	_, err := issuer.Assert(token, want)
	return err
}

func sendError(s *session.Session, logger *log.Logger, err error) {
	if serr := s.Send(wire.Error(err)); serr != nil {
		logger.Printf("ws: error reply to session %d: %s", s.ID(), serr)
	}
}
