package sink

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/juju/errors"
	"github.com/temoto/solarmate/internal/types"
	"github.com/temoto/solarmate/log2"
)

const (
	liveWriteWait  = 10 * time.Second
	livePongWait   = 60 * time.Second
	livePingPeriod = (livePongWait * 9) / 10
	liveSendBuffer = 64
)

// Live broadcasts collections as JSON to websocket clients.
// Handle never blocks: slow clients are disconnected.
type Live struct {
	log      *log2.Log
	upgrader websocket.Upgrader
	mu       sync.Mutex
	clients  map[*liveClient]struct{}
}

type liveClient struct {
	conn *websocket.Conn
	send chan []byte
}

func NewLive(log *log2.Log) *Live {
	return &Live{
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[*liveClient]struct{}),
	}
}

func (self *Live) Name() string { return "live" }

func (self *Live) Clients() int {
	self.mu.Lock()
	defer self.mu.Unlock()
	return len(self.clients)
}

func (self *Live) Handle(c *types.Collection) error {
	b, err := json.Marshal(c)
	if err != nil {
		return errors.Annotatef(err, "live marshal collection=%s", c.ID)
	}
	self.mu.Lock()
	defer self.mu.Unlock()
	for client := range self.clients {
		select {
		case client.send <- b:
		default:
			self.log.Errorf("live client=%s send buffer full, removing", client.conn.RemoteAddr())
			self.removeLocked(client)
		}
	}
	return nil
}

func (self *Live) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := self.upgrader.Upgrade(w, r, nil)
	if err != nil {
		self.log.Errorf("live upgrade err=%v", err)
		return
	}
	client := &liveClient{conn: conn, send: make(chan []byte, liveSendBuffer)}
	self.mu.Lock()
	self.clients[client] = struct{}{}
	self.mu.Unlock()
	self.log.Debugf("live client=%s connected", conn.RemoteAddr())
	go self.writePump(client)
	go self.readPump(client)
}

// Close disconnects all clients.
func (self *Live) Close() {
	self.mu.Lock()
	defer self.mu.Unlock()
	for client := range self.clients {
		self.removeLocked(client)
	}
}

func (self *Live) removeLocked(client *liveClient) {
	if _, ok := self.clients[client]; ok {
		delete(self.clients, client)
		close(client.send)
	}
}

func (self *Live) remove(client *liveClient) {
	self.mu.Lock()
	self.removeLocked(client)
	self.mu.Unlock()
}

// readPump only handles control frames, client messages are ignored.
func (self *Live) readPump(client *liveClient) {
	defer func() {
		self.remove(client)
		client.conn.Close()
	}()
	client.conn.SetReadLimit(512)
	_ = client.conn.SetReadDeadline(time.Now().Add(livePongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(livePongWait))
	})
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				self.log.Errorf("live client=%s read err=%v", client.conn.RemoteAddr(), err)
			}
			return
		}
	}
}

func (self *Live) writePump(client *liveClient) {
	ticker := time.NewTicker(livePingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()
	for {
		select {
		case b, ok := <-client.send:
			_ = client.conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
			if !ok {
				_ = client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				self.log.Debugf("live client=%s write err=%v", client.conn.RemoteAddr(), err)
				return
			}
		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
