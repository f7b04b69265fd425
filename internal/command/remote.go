package command

import (
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/juju/errors"
	"github.com/temoto/solarmate/hardware/mate"
	"github.com/temoto/solarmate/helpers"
	"github.com/temoto/solarmate/log2"
)

type RemoteConfig struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	Topic          string
	KeepaliveSec   int
	PingTimeoutSec int
	QueueLimit     int
}

// Remote receives command names over MQTT into SyncQueue.
// Network runs on paho goroutines, pipeline only polls the queue.
type Remote struct {
	*SyncQueue
	log   *log2.Log
	topic string
	m     mqtt.Client
}

func NewRemote(config RemoteConfig, log *log2.Log) *Remote {
	self := &Remote{
		SyncQueue: &SyncQueue{Limit: config.QueueLimit},
		log:       log,
		topic:     config.Topic,
	}
	if self.topic == "" {
		self.topic = config.ClientID + "/command"
	}
	keepAlive := helpers.IntSecondDefault(config.KeepaliveSec, 60*time.Second)
	pingTimeout := helpers.IntSecondDefault(config.PingTimeoutSec, 30*time.Second)
	mopt := mqtt.NewClientOptions().
		AddBroker(config.Broker).
		SetClientID(config.ClientID).
		SetUsername(config.Username).
		SetPassword(config.Password).
		SetCleanSession(true).
		SetKeepAlive(keepAlive).
		SetPingTimeout(pingTimeout).
		SetConnectRetry(true).
		SetConnectRetryInterval(keepAlive / 2).
		SetAutoReconnect(true).
		SetOnConnectHandler(self.onConnectHandler).
		SetConnectionLostHandler(self.connectLostHandler)
	self.m = mqtt.NewClient(mopt)
	return self
}

// Start does not wait for connection, network issues are only logged.
func (self *Remote) Start() error {
	if token := self.m.Connect(); token.Error() != nil {
		return errors.Annotate(token.Error(), "remote command mqtt connect")
	}
	return nil
}

func (self *Remote) Close() {
	if token := self.m.Unsubscribe(self.topic); token.WaitTimeout(time.Second) && token.Error() != nil {
		self.log.Errorf("remote command mqtt unsubscribe err=%v", token.Error())
	}
	self.m.Disconnect(250)
}

func (self *Remote) onConnectHandler(c mqtt.Client) {
	self.log.Infof("remote command mqtt connect")
	if token := c.Subscribe(self.topic, 1, self.messageHandler); token.Wait() && token.Error() != nil {
		self.log.Errorf("remote command mqtt subscribe topic=%s err=%v", self.topic, token.Error())
	}
}

func (self *Remote) connectLostHandler(c mqtt.Client, err error) {
	self.log.Infof("remote command mqtt disconnect err=%v", err)
}

func (self *Remote) messageHandler(c mqtt.Client, msg mqtt.Message) {
	self.handlePayload(msg.Payload())
}

func (self *Remote) handlePayload(payload []byte) {
	name := strings.TrimSpace(string(payload))
	cmd, err := mate.ParseCommand(name)
	if err != nil {
		self.log.Errorf("remote command payload=%q err=%v", name, err)
		return
	}
	if !self.Push(SourcedCommand{Command: cmd, Source: SourceRemote}) {
		self.log.Errorf("remote command queue full, dropped %s", cmd)
		return
	}
	self.log.Infof("remote command queued %s", cmd)
}
