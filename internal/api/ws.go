package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zoravur/livesql/internal/protocol"
	"github.com/zoravur/livesql/internal/reactive"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WSHandler streams live queries over websockets.
type WSHandler struct {
	Engine *reactive.Engine
}

// HandleWS upgrades the connection and serves subscribe/unsubscribe
// messages until the client goes away. Every subscription of the
// connection is cancelled on disconnect.
func (h *WSHandler) HandleWS(w http.ResponseWriter, r *http.Request) {
	log := L(r.Context())
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("upgrade error", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wmu sync.Mutex
	send := func(o protocol.Outbound) error {
		wmu.Lock()
		defer wmu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(o)
	}

	sess := &session{
		engine: h.Engine,
		subs:   protocol.NewRegistry(),
		send:   send,
		log:    log,
	}
	defer func() {
		sess.subs.CancelAll()
		sess.wg.Wait()
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn("ws read error", zap.Error(err))
			}
			return
		}
		if err := protocol.HandleMessage(ctx, msg, sess, send); err != nil {
			log.Warn("ws write error", zap.Error(err))
			return
		}
	}
}

// session implements protocol.Handler for one connection.
type session struct {
	engine *reactive.Engine
	subs   *protocol.Registry
	send   protocol.Sender
	log    *zap.Logger
	wg     sync.WaitGroup
}

func (s *session) Subscribe(ctx context.Context, req protocol.Subscribe) (string, protocol.Subscribed, func(), error) {
	sub, err := s.engine.Subscribe(ctx, req.SQL)
	if err != nil {
		return "", protocol.Subscribed{}, nil, err
	}
	id := req.ID
	if id == "" {
		id = sub.ID
	}
	entry := &protocol.Subscription{ID: id, SQL: req.SQL, Cancel: sub.Cancel}
	if err := s.subs.Add(entry); err != nil {
		sub.Cancel()
		return "", protocol.Subscribed{}, nil, err
	}

	queries := make([]string, len(sub.Plan.Queries))
	for i, q := range sub.Plan.Queries {
		queries[i] = q.String()
	}

	cl := &reactive.Client{Send: func(msgType string, payload any) error {
		return s.send(protocol.Outbound{Type: msgType, ID: id, Data: payload})
	}}
	start := func() {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := cl.Stream(sub, req.Editable); err != nil {
				s.log.Warn("stream ended", zap.String("id", id), zap.Error(err))
			}
			s.subs.Forget(entry)
		}()
	}
	return id, protocol.Subscribed{SQL: req.SQL, Queries: queries}, start, nil
}

func (s *session) Unsubscribe(id string) bool { return s.subs.Remove(id) }

func (s *session) Classify(err error) string {
	_, kind := classify(err)
	return kind
}
